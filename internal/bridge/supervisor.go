package bridge

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/scamshield/scamshield/internal/config"
)

// forceKillGrace is how long Terminate waits after the forceful kill before
// reporting failure.
const forceKillGrace = 2 * time.Second

// lineBufferSize is the channel buffer between the pipe readers and the
// logging sink, so a bursty analyzer does not block on its own output.
const lineBufferSize = 64

// ProcessHandle owns one running analyzer process. It is created by Spawn and
// must not be shared outside the bridge that owns it.
type ProcessHandle struct {
	cmd       *exec.Cmd
	startTime time.Time
	done      chan struct{}
	exitErr   error // set before done is closed
}

// Done returns a channel closed when the process has exited and its output
// has been drained.
func (h *ProcessHandle) Done() <-chan struct{} {
	return h.done
}

// Alive reports whether the process is still running.
func (h *ProcessHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Pid returns the process id of the child.
func (h *ProcessHandle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// StartTime returns when the process was spawned.
func (h *ProcessHandle) StartTime() time.Time {
	return h.startTime
}

// ExitStatus classifies the exit after Done is closed. Intentional covers a
// clean exit (code 0) and termination by a stop/interrupt signal; everything
// else is an unexpected crash.
func (h *ProcessHandle) ExitStatus() (exitCode int, signal string, intentional bool) {
	return classifyExit(h.exitErr)
}

// classifyExit maps a Wait error to (exit code, signal name, intentional).
func classifyExit(err error) (int, string, bool) {
	if err == nil {
		return 0, "", true
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if sig, ok := exitSignal(exitErr); ok {
			return code, sig, isTerminationSignal(sig)
		}
		return code, "", code == 0
	}

	// Wait itself failed; treat as a crash with no usable code.
	return -1, "", false
}

// ProcessSupervisor spawns analyzer processes, attaches the output observers,
// and terminates them with SIGTERM-then-SIGKILL escalation.
type ProcessSupervisor struct {
	clock        clockwork.Clock
	ring         *RingBuffer
	onDiagnostic func(*ErrorRecord)
}

// NewProcessSupervisor creates a supervisor with a real clock.
func NewProcessSupervisor(ring *RingBuffer, onDiagnostic func(*ErrorRecord)) *ProcessSupervisor {
	return NewProcessSupervisorWithClock(ring, onDiagnostic, clockwork.NewRealClock())
}

// NewProcessSupervisorWithClock creates a supervisor with a custom clock.
// This is useful for testing with a fake clock.
func NewProcessSupervisorWithClock(ring *RingBuffer, onDiagnostic func(*ErrorRecord), clock clockwork.Clock) *ProcessSupervisor {
	return &ProcessSupervisor{clock: clock, ring: ring, onDiagnostic: onDiagnostic}
}

// Spawn launches the analyzer with the resolved interpreter. Configuration is
// passed both as command-line flags and as environment variables so the child
// may read either channel. The working directory is the script's directory and
// stdin is closed.
func (s *ProcessSupervisor) Spawn(runtimeCmd *RuntimeCommand, svc *config.ServiceConfig) (*ProcessHandle, error) {
	args := []string{svc.Script, "--port", strconv.Itoa(svc.Port), "--host", svc.Host}
	if svc.Development {
		args = append(args, "--debug")
	}

	// #nosec G204 -- interpreter path comes from exec.LookPath, script from validated config
	cmd := exec.Command(runtimeCmd.Path, args...)
	cmd.Dir = filepath.Dir(svc.Script)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("ANALYZER_PORT=%d", svc.Port),
		fmt.Sprintf("ANALYZER_HOST=%s", svc.Host),
		fmt.Sprintf("ANALYZER_DEBUG=%t", svc.Development),
	)
	setSysProcAttr(cmd)

	stdout, stdoutErr := cmd.StdoutPipe()
	if stdoutErr != nil {
		return nil, NewSpawnFailedError(stdoutErr)
	}
	stderr, stderrErr := cmd.StderrPipe()
	if stderrErr != nil {
		return nil, NewSpawnFailedError(stderrErr)
	}

	if err := cmd.Start(); err != nil {
		return nil, NewSpawnFailedError(err)
	}

	handle := &ProcessHandle{
		cmd:       cmd,
		startTime: s.clock.Now(),
		done:      make(chan struct{}),
	}

	zap.L().Info("Analyzer process started",
		zap.String("service", svc.Name),
		zap.Int("pid", handle.Pid()),
		zap.String("interpreter", runtimeCmd.Path),
		zap.Int("port", svc.Port))

	s.attachObservers(handle, stdout, stderr, svc)
	return handle, nil
}

// attachObservers starts the line readers on stdout/stderr, the single logging
// sink consuming them, and the Wait goroutine that closes the handle once the
// output is drained.
func (s *ProcessSupervisor) attachObservers(h *ProcessHandle, stdout, stderr io.ReadCloser, svc *config.ServiceConfig) {
	lines := make(chan LogLine, lineBufferSize)
	sinkDone := make(chan struct{})
	go func() {
		defer close(sinkDone)
		consumeLogLines(lines, svc.Development, s.ring, svc.Port, s.onDiagnostic)
	}()

	var readers sync.WaitGroup
	readers.Add(2)
	go s.readLines(&readers, lines, stdout, svc.Name, "stdout")
	go s.readLines(&readers, lines, stderr, svc.Name, "stderr")

	go func() {
		// Drain the pipes before Wait so no output is lost, and let the sink
		// finish so the ring and diagnostics are complete when done closes.
		readers.Wait()
		close(lines)
		<-sinkDone
		h.exitErr = h.cmd.Wait()
		close(h.done)
	}()
}

// readLines scans one pipe line by line into the sink channel.
func (s *ProcessSupervisor) readLines(wg *sync.WaitGroup, lines chan<- LogLine, pipe io.ReadCloser, service, stream string) {
	defer wg.Done()

	scanner := bufio.NewScanner(pipe)
	// Increase buffer size for long lines (tracebacks)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		lines <- LogLine{Service: service, Stream: stream, Text: scanner.Text()}
	}
}

// Terminate sends the graceful stop signal, waits up to timeout, escalates to
// a forceful kill, and waits a short grace period more. It returns only after
// the process has exited or both escalation steps have been exhausted.
func (s *ProcessSupervisor) Terminate(h *ProcessHandle, timeout time.Duration) error {
	if h == nil {
		return nil
	}

	select {
	case <-h.done:
		return nil
	default:
	}

	terminateProcess(h.cmd)

	select {
	case <-h.done:
		return nil
	case <-s.clock.After(timeout):
	}

	zap.L().Warn("Analyzer did not stop in time, force killing",
		zap.Int("pid", h.Pid()),
		zap.Duration("timeout", timeout))
	forceKillProcess(h.cmd)

	select {
	case <-h.done:
		return nil
	case <-s.clock.After(forceKillGrace):
		return fmt.Errorf("analyzer process %d did not exit after force kill", h.Pid())
	}
}
