package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/markdave123-py/textbook-index/internal/core"
)

// Unlocker strips encryption and permission flags with qpdf. It only helps for
// owner-password restrictions; user-password protected files stay locked.
type Unlocker struct {
	runner  core.CommandRunner
	qpdf    string
	timeout time.Duration
}

func NewUnlocker(runner core.CommandRunner, qpdfPath string) *Unlocker {
	if qpdfPath == "" {
		qpdfPath = "qpdf"
	}
	return &Unlocker{runner: runner, qpdf: qpdfPath, timeout: 30 * time.Second}
}

// looksEncrypted is a cheap check for an /Encrypt entry in the trailer.
func looksEncrypted(data []byte) bool {
	return bytes.Contains(data, []byte("/Encrypt"))
}

// Unlock returns decrypted bytes.
func (u *Unlocker) Unlock(ctx context.Context, data []byte) ([]byte, error) {
	ws, err := newWorkspace("unlock-*")
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	in, err := ws.write("in.pdf", data)
	if err != nil {
		return nil, err
	}
	out := ws.path("out.pdf")

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	// qpdf exits 3 when it succeeded with warnings, so trust the output file.
	_, runErr := u.runner.Run(ctx, u.qpdf, "--decrypt", "--warning-exit-0", in, out)
	unlocked, readErr := os.ReadFile(out)
	if readErr == nil && len(unlocked) > 0 {
		return unlocked, nil
	}
	if runErr != nil {
		return nil, fmt.Errorf("qpdf decrypt: %w", runErr)
	}
	if readErr != nil {
		return nil, fmt.Errorf("read decrypted output: %w", readErr)
	}
	return nil, errors.New("qpdf produced an empty file")
}
