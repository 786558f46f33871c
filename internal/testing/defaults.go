// Package testing provides default values and utilities for testing scamshield.
package testing

import (
	"os"
	"path/filepath"

	"github.com/scamshield/scamshield/internal/config"
)

// NewTestServiceConfig returns a fully populated service configuration with
// short timeouts suitable for tests. Callers mutate it as needed.
func NewTestServiceConfig(name string, port int) *config.ServiceConfig {
	return &config.ServiceConfig{
		Name:               name,
		Script:             "analyzer.py",
		Host:               "127.0.0.1",
		Port:               port,
		HealthTimeoutMs:    200,
		HealthIntervalMs:   50,
		HealthMaxRetries:   5,
		ShutdownTimeoutMs:  500,
		AutoRestart:        true,
		MaxRestartAttempts: 3,
		RestartDelayMs:     100,
	}
}

// WriteScript writes an executable script into dir and returns its path.
func WriteScript(dir, name, content string) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o700); err != nil { //nolint:gosec // test scripts must be executable
		return "", err
	}
	return path, nil
}
