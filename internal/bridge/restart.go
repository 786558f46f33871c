package bridge

import (
	"time"

	"github.com/scamshield/scamshield/internal/config"
)

// RestartDecision is the outcome of consulting the restart policy after an
// unexpected exit: either try again after Delay, or give up.
type RestartDecision struct {
	Restart bool
	Delay   time.Duration
}

// RestartPolicy decides whether an unexpected exit warrants another spawn
// attempt. It is a pure value: the attempt counter lives in the bridge state,
// and the delay schedule is linear across restart attempts (unlike the
// health checker's per-attempt exponential backoff).
type RestartPolicy struct {
	Enabled     bool
	MaxAttempts int
	DelayBase   time.Duration
}

// NewRestartPolicy builds the policy from a service configuration.
func NewRestartPolicy(svc *config.ServiceConfig) RestartPolicy {
	return RestartPolicy{
		Enabled:     svc.AutoRestart,
		MaxAttempts: svc.MaxRestartAttempts,
		DelayBase:   time.Duration(svc.RestartDelayMs) * time.Millisecond,
	}
}

// Decide returns the decision for restart attempt number attempt (1-based).
// A restart only happens when auto-restart is enabled, the bridge had
// previously reached ready state, no restart is already in flight, and the
// attempt budget is not exhausted.
func (p RestartPolicy) Decide(attempt int, wasReady, restartInFlight bool) RestartDecision {
	if !p.Enabled || !wasReady || restartInFlight {
		return RestartDecision{Restart: false}
	}
	if attempt > p.MaxAttempts {
		return RestartDecision{Restart: false}
	}
	return RestartDecision{
		Restart: true,
		Delay:   RestartDelay(p.DelayBase, attempt),
	}
}
