//go:build unix

package extraction

import (
	"os/exec"
	"syscall"
)

// configureProcess puts the child in its own process group so cancellation
// also kills helpers it spawned (tesseract forks, pdftoppm workers).
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
