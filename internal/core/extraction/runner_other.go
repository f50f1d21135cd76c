//go:build !unix

package extraction

import "os/exec"

func configureProcess(*exec.Cmd) {}
