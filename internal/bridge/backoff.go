package bridge

import (
	"math"
	"time"
)

const (
	// healthBackoffFactor is the growth factor between health-check attempts.
	healthBackoffFactor = 1.2
	// HealthBackoffCeiling caps the delay between health-check attempts.
	HealthBackoffCeiling = 2 * time.Second
)

// HealthCheckDelay returns the delay before health-check attempt number
// attempt (1-based), growing the base by 1.2x per attempt up to the ceiling.
func HealthCheckDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(float64(base) * math.Pow(healthBackoffFactor, float64(attempt-1)))
	if delay > HealthBackoffCeiling {
		return HealthBackoffCeiling
	}
	return delay
}

// RestartDelay returns the delay before restart attempt number attempt
// (1-based): linear in the attempt count, unlike the health-check schedule.
func RestartDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(attempt)
}
