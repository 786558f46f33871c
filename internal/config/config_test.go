package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scamshield.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfigFile(t, "port: 4000\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)

	require.Contains(t, cfg.Services, "fraud-detector")
	require.Contains(t, cfg.Services, "deepfake-detector")

	fraud := cfg.Services["fraud-detector"]
	assert.Equal(t, "fraud-detector", fraud.Name)
	assert.Equal(t, 8000, fraud.Port)
	assert.Equal(t, DefaultHost, fraud.Host)
	assert.Equal(t, DefaultHealthTimeoutMs, fraud.HealthTimeoutMs)
	assert.Equal(t, DefaultHealthIntervalMs, fraud.HealthIntervalMs)
	assert.Equal(t, DefaultHealthMaxRetries, fraud.HealthMaxRetries)
	assert.Equal(t, DefaultShutdownTimeoutMs, fraud.ShutdownTimeoutMs)
	assert.True(t, fraud.AutoRestart)
	assert.Equal(t, DefaultMaxRestartAttempts, fraud.MaxRestartAttempts)
	assert.Equal(t, DefaultRestartDelayMs, fraud.RestartDelayMs)

	assert.Equal(t, 8001, cfg.Services["deepfake-detector"].Port)
}

func TestLoadConfig_ServiceOverrides(t *testing.T) {
	path := writeConfigFile(t, `
services:
  fraud-detector:
    port: 9100
    health_max_retries: 5
    auto_restart: false
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	fraud := cfg.Services["fraud-detector"]
	assert.Equal(t, 9100, fraud.Port)
	assert.Equal(t, 5, fraud.HealthMaxRetries)
	assert.False(t, fraud.AutoRestart)

	// Untouched fields keep their defaults.
	assert.Equal(t, DefaultHealthTimeoutMs, fraud.HealthTimeoutMs)
}

func TestLoadConfig_ResolvesRelativeScriptPath(t *testing.T) {
	path := writeConfigFile(t, "port: 3000\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	fraud := cfg.Services["fraud-detector"]
	assert.True(t, filepath.IsAbs(fraud.Script))
	assert.Equal(t, filepath.Join(filepath.Dir(path), "analyzers", "fraud_detector.py"), fraud.Script)
}

func TestLoadConfig_KeepsAbsoluteScriptPath(t *testing.T) {
	path := writeConfigFile(t, `
services:
  fraud-detector:
    script: /srv/analyzers/fraud_detector.py
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/analyzers/fraud_detector.py", cfg.Services["fraud-detector"].Script)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadConfig_InvalidLogFormatFallsBack(t *testing.T) {
	path := writeConfigFile(t, "log_format: xml\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err, "invalid values must not abort startup")
	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
}

func TestLoadConfig_InvalidLogLevelFallsBack(t *testing.T) {
	path := writeConfigFile(t, "log_level: verbose\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_InvalidServerPortFallsBack(t *testing.T) {
	path := writeConfigFile(t, "port: 99999\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
}

func TestLoadConfig_InvalidServiceValuesFallBack(t *testing.T) {
	path := writeConfigFile(t, `
services:
  fraud-detector:
    health_timeout_ms: -5
    restart_delay_ms: 0
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	fraud := cfg.Services["fraud-detector"]
	assert.Equal(t, DefaultHealthTimeoutMs, fraud.HealthTimeoutMs)
	assert.Equal(t, DefaultRestartDelayMs, fraud.RestartDelayMs)
}

func TestLoadConfig_OutOfRangeServicePortDisablesService(t *testing.T) {
	path := writeConfigFile(t, `
services:
  fraud-detector:
    port: 99999
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.NotContains(t, cfg.Services, "fraud-detector",
		"a service with an unusable port is disabled, not spawned on port 0")
	assert.Contains(t, cfg.Services, "deepfake-detector")
}

func TestLoadConfig_InvalidExternalURLDisablesService(t *testing.T) {
	path := writeConfigFile(t, `
services:
  fraud-detector:
    external_url: "not a url"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.NotContains(t, cfg.Services, "fraud-detector",
		"a structurally invalid service is disabled, not fatal")
	assert.Contains(t, cfg.Services, "deepfake-detector")
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("SCAMSHIELD_PORT", "5123")
	path := writeConfigFile(t, "log_level: debug\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5123, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestIsValidLogLevel(t *testing.T) {
	assert.True(t, IsValidLogLevel(LogLevelDebug))
	assert.True(t, IsValidLogLevel(LogLevelFatal))
	assert.False(t, IsValidLogLevel(LogLevel("verbose")))
}

func TestIsValidLogFormat(t *testing.T) {
	assert.True(t, IsValidLogFormat(LogFormatPretty))
	assert.True(t, IsValidLogFormat(LogFormatJSON))
	assert.False(t, IsValidLogFormat(LogFormat("xml")))
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scamshield.yaml")

	require.NoError(t, WriteDefault(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Contains(t, cfg.Services, "fraud-detector")
	assert.Contains(t, cfg.Services, "deepfake-detector")
}

func TestWriteDefault_RefusesOverwrite(t *testing.T) {
	path := writeConfigFile(t, "port: 3000\n")

	err := WriteDefault(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestGetUserConfigPath(t *testing.T) {
	path, err := GetUserConfigPath()
	require.NoError(t, err)
	assert.Contains(t, path, ".scamshield")
	assert.True(t, filepath.IsAbs(path))
}

func TestGetProjectConfigPath(t *testing.T) {
	path, err := GetProjectConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "scamshield.yaml", filepath.Base(path))
}
