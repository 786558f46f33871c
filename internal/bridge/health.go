package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/scamshield/scamshield/internal/config"
)

// healthCheckPath is the readiness endpoint every analyzer exposes.
const healthCheckPath = "/health"

// HealthResult reports a successful readiness probe.
type HealthResult struct {
	Attempts  int       // probes used, including the successful one
	CheckedAt time.Time // when the successful probe returned
}

// HealthChecker polls the analyzer's readiness endpoint with bounded
// exponential backoff until it responds healthy, the process dies, or the
// attempt budget runs out.
type HealthChecker struct {
	client *http.Client
	clock  clockwork.Clock
	ring   *RingBuffer
}

// NewHealthChecker creates a health checker with a real clock.
func NewHealthChecker(ring *RingBuffer) *HealthChecker {
	return NewHealthCheckerWithClock(ring, clockwork.NewRealClock())
}

// NewHealthCheckerWithClock creates a health checker with a custom clock.
// This is useful for testing with a fake clock.
func NewHealthCheckerWithClock(ring *RingBuffer, clock clockwork.Clock) *HealthChecker {
	return &HealthChecker{
		client: &http.Client{},
		clock:  clock,
		ring:   ring,
	}
}

// WaitUntilReady polls baseURL/health until it returns a successful structured
// response. Each probe is bounded by the service's per-request timeout,
// independent of the overall attempt budget. It fails immediately if the
// supervised process exits, and with HealthCheckTimedOut after the configured
// maximum attempts.
func (hc *HealthChecker) WaitUntilReady(ctx context.Context, baseURL string, svc *config.ServiceConfig, handle *ProcessHandle) (*HealthResult, error) {
	probeTimeout := time.Duration(svc.HealthTimeoutMs) * time.Millisecond
	baseInterval := time.Duration(svc.HealthIntervalMs) * time.Millisecond

	for attempt := 1; attempt <= svc.HealthMaxRetries; attempt++ {
		if handle != nil && !handle.Alive() {
			code, _, _ := handle.ExitStatus()
			return nil, NewUnexpectedCrashError(code, hc.ring.Snapshot())
		}

		if err := hc.probe(ctx, baseURL, probeTimeout); err == nil {
			zap.L().Info("Analyzer is healthy",
				zap.String("service", svc.Name),
				zap.Int("attempts", attempt))
			return &HealthResult{Attempts: attempt, CheckedAt: hc.clock.Now()}, nil
		} else {
			zap.L().Debug("Health probe failed",
				zap.String("service", svc.Name),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}

		if attempt == svc.HealthMaxRetries {
			break
		}

		var processDone <-chan struct{}
		if handle != nil {
			processDone = handle.Done()
		}

		select {
		case <-ctx.Done():
			return nil, NewNetworkError(ctx.Err())
		case <-processDone:
			// Loop re-checks Alive and fails with the exit diagnostics.
		case <-hc.clock.After(HealthCheckDelay(baseInterval, attempt)):
		}
	}

	return nil, NewHealthCheckTimedOutError(svc.HealthMaxRetries, hc.ring.Snapshot())
}

// probe performs a single readiness request. Healthy means a 2xx status and a
// body that parses as a JSON object.
func (hc *HealthChecker) probe(ctx context.Context, baseURL string, timeout time.Duration) error {
	reqCtx, cancel := clockwork.WithTimeout(ctx, hc.clock, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, baseURL+healthCheckPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := hc.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close() // Ignore close errors - body is fully consumed or abandoned
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unhealthy status: %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("health response is not a JSON object: %w", err)
	}
	if body == nil {
		// A literal "null" decodes without error but is not an object.
		return fmt.Errorf("health response is not a JSON object: null")
	}

	return nil
}
