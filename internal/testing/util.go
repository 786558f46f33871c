package testing

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/scamshield/scamshield/internal/core"
)

// CapturedOutput redirects the process's stdout and stderr into pipes so a
// test can assert on what was written, including output from the global zap
// logger when it is built while the capture is active.
type CapturedOutput struct {
	origStdout *os.File
	origStderr *os.File
	stdoutR    *os.File
	stdoutW    *os.File
	stderrR    *os.File
	stderrW    *os.File
}

// NewCapturedOutput starts capturing stdout and stderr.
func NewCapturedOutput() (*CapturedOutput, error) {
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		core.LogDeferredError(stdoutR.Close)
		core.LogDeferredError(stdoutW.Close)
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	c := &CapturedOutput{
		origStdout: os.Stdout,
		origStderr: os.Stderr,
		stdoutR:    stdoutR,
		stdoutW:    stdoutW,
		stderrR:    stderrR,
		stderrW:    stderrW,
	}
	os.Stdout = stdoutW
	os.Stderr = stderrW
	return c, nil
}

// Stop restores the original streams and returns what was captured on stdout
// and stderr.
func (c *CapturedOutput) Stop() (string, string, error) {
	// Restore the originals first so any goroutine still logging writes to
	// the real streams instead of a closed pipe.
	os.Stdout = c.origStdout
	os.Stderr = c.origStderr

	// Closing the write ends signals EOF to the reads below.
	core.LogDeferredError(c.stdoutW.Close)
	core.LogDeferredError(c.stderrW.Close)
	time.Sleep(10 * time.Millisecond)

	defer core.LogDeferredError(c.stdoutR.Close)
	defer core.LogDeferredError(c.stderrR.Close)

	stdout, err := io.ReadAll(c.stdoutR)
	if err != nil {
		return "", "", fmt.Errorf("failed to read captured stdout: %w", err)
	}
	stderr, err := io.ReadAll(c.stderrR)
	if err != nil {
		return "", "", fmt.Errorf("failed to read captured stderr: %w", err)
	}
	return string(stdout), string(stderr), nil
}
