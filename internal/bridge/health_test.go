package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scamshield/scamshield/internal/config"
	scamshieldTesting "github.com/scamshield/scamshield/internal/testing"
)

// fastHealthService returns a service config with a schedule quick enough for
// real-clock polling in tests.
func fastHealthService(maxRetries int) *config.ServiceConfig {
	svc := scamshieldTesting.NewTestServiceConfig("fraud-detector", 8000)
	svc.HealthIntervalMs = 1
	svc.HealthTimeoutMs = 1000
	svc.HealthMaxRetries = maxRetries
	return svc
}

func TestHealthChecker_ImmediateSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","service":"fraud-detection-api"}`))
	}))
	defer server.Close()

	hc := NewHealthChecker(NewRingBuffer(StderrRingCapacity))
	result, err := hc.WaitUntilReady(context.Background(), server.URL, fastHealthService(5), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempts)
	assert.False(t, result.CheckedAt.IsZero())
}

func TestHealthChecker_SucceedsAfterFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 4 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer server.Close()

	hc := NewHealthChecker(NewRingBuffer(StderrRingCapacity))
	result, err := hc.WaitUntilReady(context.Background(), server.URL, fastHealthService(30), nil)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Attempts, "the attempt count must include the successful probe")
}

func TestHealthChecker_ExhaustsAttemptBudget(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ring := NewRingBuffer(StderrRingCapacity)
	ring.Append("Traceback (most recent call last):")

	hc := NewHealthChecker(ring)
	result, err := hc.WaitUntilReady(context.Background(), server.URL, fastHealthService(3), nil)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, int32(3), calls.Load(), "exactly max_retries probes must be sent")

	var rec *ErrorRecord
	require.ErrorAs(t, err, &rec)
	assert.Equal(t, ErrorKindHealthCheckTimedOut, rec.Kind)
	assert.Equal(t, 3, rec.Context["attempts"])
	assert.Contains(t, rec.Context, "stderr")
}

func TestHealthChecker_RejectsNonJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	}))
	defer server.Close()

	hc := NewHealthChecker(NewRingBuffer(StderrRingCapacity))
	_, err := hc.WaitUntilReady(context.Background(), server.URL, fastHealthService(2), nil)
	require.Error(t, err)

	var rec *ErrorRecord
	require.ErrorAs(t, err, &rec)
	assert.Equal(t, ErrorKindHealthCheckTimedOut, rec.Kind)
}

func TestHealthChecker_RejectsNullBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("null"))
	}))
	defer server.Close()

	hc := NewHealthChecker(NewRingBuffer(StderrRingCapacity))
	_, err := hc.WaitUntilReady(context.Background(), server.URL, fastHealthService(2), nil)
	require.Error(t, err)

	var rec *ErrorRecord
	require.ErrorAs(t, err, &rec)
	assert.Equal(t, ErrorKindHealthCheckTimedOut, rec.Kind)
}

func TestHealthChecker_ConnectionRefused(t *testing.T) {
	hc := NewHealthChecker(NewRingBuffer(StderrRingCapacity))
	_, err := hc.WaitUntilReady(context.Background(), "http://127.0.0.1:42424", fastHealthService(2), nil)
	require.Error(t, err)

	var rec *ErrorRecord
	require.ErrorAs(t, err, &rec)
	assert.Equal(t, ErrorKindHealthCheckTimedOut, rec.Kind)
}

func TestHealthChecker_DeadProcessFailsFast(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no probe should be sent for a dead process")
	}))
	defer server.Close()

	handle := &ProcessHandle{done: make(chan struct{})}
	close(handle.done)

	hc := NewHealthChecker(NewRingBuffer(StderrRingCapacity))
	_, err := hc.WaitUntilReady(context.Background(), server.URL, fastHealthService(5), handle)
	require.Error(t, err)

	var rec *ErrorRecord
	require.ErrorAs(t, err, &rec)
	assert.Equal(t, ErrorKindUnexpectedCrash, rec.Kind)
}

func TestHealthChecker_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hc := NewHealthChecker(NewRingBuffer(StderrRingCapacity))
	_, err := hc.WaitUntilReady(ctx, server.URL, fastHealthService(30), nil)
	require.Error(t, err)
}
