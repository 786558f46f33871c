package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/scamshield/scamshield/internal/config"
)

// State is the lifecycle state of a bridge.
type State string

const (
	StateStopped        State = "STOPPED"
	StateValidating     State = "VALIDATING"
	StateSpawning       State = "SPAWNING"
	StateHealthChecking State = "HEALTH_CHECKING"
	StateReady          State = "READY"
	StateRestarting     State = "RESTARTING"
	StateFailed         State = "FAILED"
)

// Status is a read-only snapshot of a bridge, safe to serialize.
type Status struct {
	Service         string       `json:"service"`
	State           State        `json:"state"`
	RestartAttempts int          `json:"restart_attempts"`
	LastError       *ErrorRecord `json:"last_error,omitempty"`
	UptimeSeconds   float64      `json:"uptime_seconds"`
	LastHealthCheck time.Time    `json:"last_health_check,omitempty"`
	PID             int          `json:"pid,omitempty"`
}

// environmentValidator is the validation dependency, allowing for testing with mocks
type environmentValidator interface {
	Validate(ctx context.Context, svc *config.ServiceConfig) (*RuntimeCommand, error)
}

// processSupervisor is the spawn/terminate dependency, allowing for testing with mocks
type processSupervisor interface {
	Spawn(runtimeCmd *RuntimeCommand, svc *config.ServiceConfig) (*ProcessHandle, error)
	Terminate(h *ProcessHandle, timeout time.Duration) error
}

// healthWaiter is the readiness-polling dependency, allowing for testing with mocks
type healthWaiter interface {
	WaitUntilReady(ctx context.Context, baseURL string, svc *config.ServiceConfig, handle *ProcessHandle) (*HealthResult, error)
}

// Interface guards for the production implementations
var (
	_ environmentValidator = &EnvironmentValidator{}
	_ processSupervisor    = &ProcessSupervisor{}
	_ healthWaiter         = &HealthChecker{}
)

// errStopRequested aborts an in-flight start pipeline when Stop intervenes.
// It is never surfaced to callers and never recorded as a failure.
var errStopRequested = errors.New("stop requested")

// Bridge supervises one analyzer service: it validates the environment,
// spawns the child process, polls it to readiness, restarts it within the
// configured budget when it crashes, and shuts it down gracefully. All
// mutable state is owned by the bridge and guarded by one mutex; the child
// process handle is never handed out.
type Bridge struct {
	svc   *config.ServiceConfig
	clock clockwork.Clock

	validator  environmentValidator
	supervisor processSupervisor
	health     healthWaiter
	policy     RestartPolicy
	ring       *RingBuffer

	mu              sync.RWMutex
	state           State
	process         *ProcessHandle
	startTime       time.Time
	lastHealthCheck time.Time
	restartAttempts int
	restarting      bool
	stopping        bool
	wasReady        bool
	lastError       *ErrorRecord
	diagnostic      *ErrorRecord // stderr-derived, preferred over a bare crash record
	runCtx          context.Context
	runCancel       context.CancelFunc
}

// New creates a bridge for one analyzer service with a real clock.
func New(svc *config.ServiceConfig) *Bridge {
	return NewWithClock(svc, clockwork.NewRealClock())
}

// NewWithClock creates a bridge with a custom clock.
// This is useful for testing with a fake clock.
func NewWithClock(svc *config.ServiceConfig, clock clockwork.Clock) *Bridge {
	ring := NewRingBuffer(StderrRingCapacity)
	b := &Bridge{
		svc:    svc,
		clock:  clock,
		policy: NewRestartPolicy(svc),
		ring:   ring,
		state:  StateStopped,
	}
	b.validator = NewEnvironmentValidatorWithClock(NewCommandResolver(), clock)
	b.supervisor = NewProcessSupervisorWithClock(ring, b.recordDiagnostic, clock)
	b.health = NewHealthCheckerWithClock(ring, clock)
	return b
}

// Service returns the name of the supervised service.
func (b *Bridge) Service() string {
	return b.svc.Name
}

// BaseURL returns the analyzer's base URL: the configured external URL if one
// is set, otherwise the local host:port the child is spawned on.
func (b *Bridge) BaseURL() string {
	if b.svc.ExternalURL != "" {
		return b.svc.ExternalURL
	}
	return fmt.Sprintf("http://%s:%d", b.svc.Host, b.svc.Port)
}

// Start drives the bridge from Stopped (or Failed) to Ready. Failures do not
// propagate as panics and leave the bridge in Failed with an ErrorRecord so
// the host server can keep serving unrelated requests. When an external URL
// is configured, the local pipeline is skipped entirely.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.state != StateStopped && b.state != StateFailed {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("cannot start bridge in state %s", state)
	}

	b.stopping = false
	b.restarting = false
	b.wasReady = false
	b.restartAttempts = 0
	b.lastError = nil
	b.diagnostic = nil
	b.runCtx, b.runCancel = context.WithCancel(context.Background())

	if b.svc.ExternalURL != "" {
		b.startTime = b.clock.Now()
		b.setStateLocked(StateReady)
		b.mu.Unlock()
		zap.L().Info("Using external analyzer service",
			zap.String("service", b.svc.Name),
			zap.String("url", b.svc.ExternalURL))
		return nil
	}
	b.mu.Unlock()

	if err := b.startOnce(ctx); err != nil {
		if errors.Is(err, errStopRequested) || b.stopRequested() {
			// Stop won the race; it already put the bridge in Stopped.
			return nil
		}
		b.fail(err)
		return err
	}
	return nil
}

// startOnce runs one Validating -> Spawning -> HealthChecking -> Ready pass.
// Every phase transition re-checks whether Stop has intervened, so a bridge
// stopped mid-pipeline stays Stopped and never leaks a child process.
func (b *Bridge) startOnce(ctx context.Context) error {
	b.ring.Clear()
	b.clearDiagnostic()

	if !b.advance(StateValidating) {
		return errStopRequested
	}
	runtimeCmd, err := b.validator.Validate(ctx, b.svc)
	if err != nil {
		return err
	}

	if !b.advance(StateSpawning) {
		return errStopRequested
	}
	handle, err := b.supervisor.Spawn(runtimeCmd, b.svc)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.stopping {
		b.mu.Unlock()
		// Stop ran while the child was spawning and never saw the handle;
		// reap it here so no orphan survives the shutdown.
		if termErr := b.supervisor.Terminate(handle, b.shutdownTimeout()); termErr != nil {
			zap.L().Error("Failed to terminate analyzer spawned during stop",
				zap.String("service", b.svc.Name), zap.Error(termErr))
		}
		return errStopRequested
	}
	b.process = handle
	b.startTime = handle.StartTime()
	b.setStateLocked(StateHealthChecking)
	b.mu.Unlock()

	result, err := b.health.WaitUntilReady(ctx, b.BaseURL(), b.svc, handle)
	if err != nil {
		// The child may still be running (e.g. serving errors); reap it so no
		// orphan lingers, then surface the stderr-derived diagnosis if any.
		if termErr := b.supervisor.Terminate(handle, b.shutdownTimeout()); termErr != nil {
			zap.L().Error("Failed to terminate analyzer after health-check failure",
				zap.String("service", b.svc.Name), zap.Error(termErr))
		}
		b.mu.Lock()
		b.process = nil
		diag := b.diagnostic
		b.mu.Unlock()
		if diag != nil {
			return diag
		}
		return err
	}

	b.mu.Lock()
	if b.stopping {
		// Stop owns the published handle and is terminating it.
		b.mu.Unlock()
		return errStopRequested
	}
	b.lastHealthCheck = result.CheckedAt
	b.restartAttempts = 0
	b.restarting = false
	b.wasReady = true
	b.setStateLocked(StateReady)
	b.mu.Unlock()

	go b.monitor(handle)
	return nil
}

// advance moves the pipeline to its next state, refusing when Stop has
// already intervened for the current run.
func (b *Bridge) advance(newState State) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopping || (b.runCtx != nil && b.runCtx.Err() != nil) {
		return false
	}
	b.setStateLocked(newState)
	return true
}

// stopRequested reports whether Stop has been called for the current run.
func (b *Bridge) stopRequested() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stopping || (b.runCtx != nil && b.runCtx.Err() != nil)
}

// monitor watches one spawned process and feeds unexpected exits into the
// restart policy.
func (b *Bridge) monitor(handle *ProcessHandle) {
	b.mu.RLock()
	runCtx := b.runCtx
	b.mu.RUnlock()

	select {
	case <-handle.Done():
	case <-runCtx.Done():
		return
	}

	b.mu.Lock()
	if b.stopping || b.process != handle {
		b.mu.Unlock()
		return
	}
	b.process = nil

	code, signal, intentional := handle.ExitStatus()
	if intentional {
		b.setStateLocked(StateStopped)
		b.mu.Unlock()
		zap.L().Info("Analyzer exited cleanly",
			zap.String("service", b.svc.Name),
			zap.Int("exit_code", code),
			zap.String("signal", signal))
		return
	}

	rec := b.diagnostic
	if rec == nil {
		rec = NewUnexpectedCrashError(code, b.ring.Snapshot())
	}
	b.lastError = rec

	decision := b.policy.Decide(b.restartAttempts+1, b.wasReady, b.restarting)
	if !decision.Restart {
		attempts := b.restartAttempts
		b.setStateLocked(StateFailed)
		b.mu.Unlock()
		zap.L().Error("Analyzer crashed and will not be restarted; manual intervention required",
			zap.String("service", b.svc.Name),
			zap.Int("exit_code", code),
			zap.Int("restart_attempts", attempts),
			zap.Error(rec))
		return
	}

	b.restartAttempts++
	b.restarting = true
	b.setStateLocked(StateRestarting)
	attempt := b.restartAttempts
	b.mu.Unlock()

	zap.L().Warn("Analyzer crashed, scheduling restart",
		zap.String("service", b.svc.Name),
		zap.Int("exit_code", code),
		zap.Int("attempt", attempt),
		zap.Duration("delay", decision.Delay),
		zap.Error(rec))

	go b.restartLoop(decision.Delay)
}

// restartLoop retries the start pipeline with linear backoff until it
// succeeds, the policy gives up, or the bridge is stopped.
func (b *Bridge) restartLoop(delay time.Duration) {
	b.mu.RLock()
	runCtx := b.runCtx
	b.mu.RUnlock()

	for {
		select {
		case <-runCtx.Done():
			return
		case <-b.clock.After(delay):
		}

		err := b.startOnce(runCtx)
		if err == nil {
			zap.L().Info("Analyzer restarted successfully", zap.String("service", b.svc.Name))
			return
		}
		if errors.Is(err, errStopRequested) {
			return
		}

		// The restart attempt itself failed; consult the policy again with
		// the guard lifted (this loop is the in-flight restart).
		b.mu.Lock()
		if b.stopping {
			b.mu.Unlock()
			return
		}
		b.lastError = asRecord(err)
		decision := b.policy.Decide(b.restartAttempts+1, b.wasReady, false)
		if !decision.Restart {
			b.restarting = false
			b.setStateLocked(StateFailed)
			attempts := b.restartAttempts
			b.mu.Unlock()
			zap.L().Error("Giving up on analyzer after repeated restart failures; manual intervention required",
				zap.String("service", b.svc.Name),
				zap.Int("restart_attempts", attempts),
				zap.Error(err))
			return
		}
		b.restartAttempts++
		b.setStateLocked(StateRestarting)
		attempt := b.restartAttempts
		b.mu.Unlock()

		zap.L().Warn("Restart attempt failed, trying again",
			zap.String("service", b.svc.Name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", decision.Delay),
			zap.Error(err))
		delay = decision.Delay
	}
}

// Stop terminates the child (graceful signal, then forced kill after the
// shutdown timeout) and moves the bridge to Stopped. It is idempotent:
// stopping an already stopped or never-started bridge is a no-op. Internal
// errors are logged, never returned; shutdown is best-effort and always
// completes.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if b.state == StateStopped {
		b.mu.Unlock()
		return
	}
	b.stopping = true
	if b.runCancel != nil {
		b.runCancel()
	}
	handle := b.process
	b.process = nil
	b.mu.Unlock()

	if handle != nil {
		if err := b.supervisor.Terminate(handle, b.shutdownTimeout()); err != nil {
			zap.L().Error("Failed to terminate analyzer during stop",
				zap.String("service", b.svc.Name), zap.Error(err))
		}
	}

	b.mu.Lock()
	b.restarting = false
	b.setStateLocked(StateStopped)
	b.mu.Unlock()

	zap.L().Info("Bridge stopped", zap.String("service", b.svc.Name))
}

// IsReady reports whether the analyzer can receive traffic: the bridge is in
// Ready state and the owned process (if local) is still alive.
func (b *Bridge) IsReady() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state != StateReady {
		return false
	}
	if b.svc.ExternalURL != "" {
		return true
	}
	return b.process != nil && b.process.Alive()
}

// Status returns a read-only snapshot. It has no side effects.
func (b *Bridge) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	status := Status{
		Service:         b.svc.Name,
		State:           b.state,
		RestartAttempts: b.restartAttempts,
		LastError:       b.lastError,
		LastHealthCheck: b.lastHealthCheck,
	}
	if b.state == StateReady && !b.startTime.IsZero() {
		status.UptimeSeconds = b.clock.Now().Sub(b.startTime).Seconds()
	}
	if b.process != nil {
		status.PID = b.process.Pid()
	}
	return status
}

// LastError returns the most recent ErrorRecord, or nil.
func (b *Bridge) LastError() *ErrorRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastError
}

// fail records the error and moves the bridge to the terminal Failed state.
func (b *Bridge) fail(err error) {
	rec := asRecord(err)
	b.mu.Lock()
	b.lastError = rec
	b.setStateLocked(StateFailed)
	b.mu.Unlock()
	zap.L().Error("Bridge failed to start",
		zap.String("service", b.svc.Name),
		zap.String("kind", string(rec.Kind)),
		zap.Error(rec))
}

// recordDiagnostic stores a stderr-derived error so exit handling can report
// the root cause instead of a bare exit code.
func (b *Bridge) recordDiagnostic(rec *ErrorRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.diagnostic = rec
}

func (b *Bridge) clearDiagnostic() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.diagnostic = nil
}

func (b *Bridge) shutdownTimeout() time.Duration {
	return time.Duration(b.svc.ShutdownTimeoutMs) * time.Millisecond
}

// setState sets the bridge state (assumes lock is NOT held)
func (b *Bridge) setState(newState State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setStateLocked(newState)
}

// setStateLocked sets the bridge state (assumes lock IS held)
func (b *Bridge) setStateLocked(newState State) {
	oldState := b.state
	b.state = newState
	if oldState != newState {
		zap.L().Debug("Bridge state changed",
			zap.String("service", b.svc.Name),
			zap.String("old_state", string(oldState)),
			zap.String("new_state", string(newState)))
	}
}

// asRecord converts any error to an ErrorRecord, preserving one that already is.
func asRecord(err error) *ErrorRecord {
	var rec *ErrorRecord
	if errors.As(err, &rec) {
		return rec
	}
	return NewUnknownError(err)
}
