// Package config provides configuration management for scamshield, including
// loading configuration with precedence, environment variable overrides, and
// per-analyzer service settings. Invalid values never abort startup: each one
// is logged as a warning and replaced by its documented default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/scamshield/scamshield/internal/core"
)

const (
	DefaultPort = 3000
	DefaultHost = "127.0.0.1"

	DefaultHealthTimeoutMs   = 2000
	DefaultHealthIntervalMs  = 250
	DefaultHealthMaxRetries  = 30
	DefaultShutdownTimeoutMs = 10000

	DefaultMaxRestartAttempts = 3
	DefaultRestartDelayMs     = 1000
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

func ValidLogLevels() map[LogLevel]struct{} {
	return map[LogLevel]struct{}{
		LogLevelDebug: {},
		LogLevelInfo:  {},
		LogLevelWarn:  {},
		LogLevelError: {},
		LogLevelFatal: {},
	}
}

func IsValidLogLevel(level LogLevel) bool {
	_, ok := ValidLogLevels()[level]
	return ok
}

type LogFormat string

const (
	LogFormatPretty LogFormat = "pretty"
	LogFormatJSON   LogFormat = "json"
)

func ValidLogFormats() map[LogFormat]struct{} {
	return map[LogFormat]struct{}{
		LogFormatPretty: {},
		LogFormatJSON:   {},
	}
}

func IsValidLogFormat(format LogFormat) bool {
	_, ok := ValidLogFormats()[format]
	return ok
}

// ServiceConfig holds the settings for one supervised analyzer service.
// All durations are in milliseconds to match the config file surface.
type ServiceConfig struct {
	Name               string `yaml:"-" mapstructure:"-" validate:"required"`
	Script             string `yaml:"script,omitempty" mapstructure:"script"`                             // path to the analyzer entry script
	Host               string `yaml:"host,omitempty" mapstructure:"host"`                                 // host the analyzer binds to
	Port               int    `yaml:"port,omitempty" mapstructure:"port" validate:"min=0,max=65535"`      // port the analyzer binds to
	ExternalURL        string `yaml:"external_url,omitempty" mapstructure:"external_url" validate:"omitempty,url"` // bypasses the local spawn entirely
	Development        bool   `yaml:"development,omitempty" mapstructure:"development"`                   // pass --debug and forward all stdout
	HealthTimeoutMs    int    `yaml:"health_timeout_ms,omitempty" mapstructure:"health_timeout_ms"`       // per-probe request timeout
	HealthIntervalMs   int    `yaml:"health_interval_ms,omitempty" mapstructure:"health_interval_ms"`     // base delay between probes
	HealthMaxRetries   int    `yaml:"health_max_retries,omitempty" mapstructure:"health_max_retries"`     // probe attempts before giving up
	ShutdownTimeoutMs  int    `yaml:"shutdown_timeout_ms,omitempty" mapstructure:"shutdown_timeout_ms"`   // graceful termination budget
	AutoRestart        bool   `yaml:"auto_restart" mapstructure:"auto_restart"`                           // restart on unexpected exit
	MaxRestartAttempts int    `yaml:"max_restart_attempts,omitempty" mapstructure:"max_restart_attempts"` // restarts before Failed
	RestartDelayMs     int    `yaml:"restart_delay_ms,omitempty" mapstructure:"restart_delay_ms"`         // linear backoff base between restarts
}

// Config represents the scamshield configuration: the host server settings and
// one entry per supervised analyzer service.
type Config struct {
	Port      int                       `yaml:"port,omitempty" mapstructure:"port"`
	LogFormat LogFormat                 `yaml:"log_format,omitempty" mapstructure:"log_format"`
	LogLevel  string                    `yaml:"log_level,omitempty" mapstructure:"log_level"`
	Services  map[string]*ServiceConfig `yaml:"services,omitempty" mapstructure:"services"`
}

// GetUserConfigPath returns the path to the user-specific config file (~/.scamshield/config.yaml)
func GetUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".scamshield", "config.yaml"), nil
}

// GetProjectConfigPath returns the path to the project-specific config file
// (./scamshield.yaml) relative to the current working directory
func GetProjectConfigPath() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}
	return filepath.Join(cwd, "scamshield.yaml"), nil
}

// setupViper configures Viper with defaults, config file locations, and environment variables
// If configPath is provided (non-empty), loads from that specific path instead of using precedence
func setupViper(configPath string) error {
	viper.Reset()
	setViperDefaults()
	viper.SetEnvPrefix("SCAMSHIELD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// If specific path provided, load only that file
	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		return nil
	}

	// Otherwise use precedence: user config first, then project config
	userPath, userErr := GetUserConfigPath()
	if userErr == nil {
		if _, userStatErr := os.Stat(userPath); userStatErr == nil {
			viper.SetConfigFile(userPath)
			if userReadErr := viper.ReadInConfig(); userReadErr != nil {
				zap.L().Debug("Failed to read user config file", zap.String("path", userPath), zap.Error(userReadErr))
			}
		}
	}

	projectPath, projectErr := GetProjectConfigPath()
	if projectErr == nil {
		if _, projectStatErr := os.Stat(projectPath); projectStatErr == nil {
			viper.SetConfigFile(projectPath)
			if projectReadErr := viper.MergeInConfig(); projectReadErr != nil {
				zap.L().Debug("Failed to merge project config file", zap.String("path", projectPath), zap.Error(projectReadErr))
			}
		}
	}

	return nil
}

// setViperDefaults sets default values in Viper
func setViperDefaults() {
	viper.SetDefault("port", DefaultPort)
	viper.SetDefault("log_format", "json")
	viper.SetDefault("log_level", "info")

	// The two analyzers shipped with the platform. Additional services can be
	// declared in the config file with the same keys.
	viper.SetDefault("services.fraud-detector.script", "analyzers/fraud_detector.py")
	viper.SetDefault("services.fraud-detector.port", 8000)
	viper.SetDefault("services.deepfake-detector.script", "analyzers/deepfake_detector.py")
	viper.SetDefault("services.deepfake-detector.port", 8001)

	for _, name := range []string{"fraud-detector", "deepfake-detector"} {
		viper.SetDefault("services."+name+".host", DefaultHost)
		viper.SetDefault("services."+name+".health_timeout_ms", DefaultHealthTimeoutMs)
		viper.SetDefault("services."+name+".health_interval_ms", DefaultHealthIntervalMs)
		viper.SetDefault("services."+name+".health_max_retries", DefaultHealthMaxRetries)
		viper.SetDefault("services."+name+".shutdown_timeout_ms", DefaultShutdownTimeoutMs)
		viper.SetDefault("services."+name+".auto_restart", true)
		viper.SetDefault("services."+name+".max_restart_attempts", DefaultMaxRestartAttempts)
		viper.SetDefault("services."+name+".restart_delay_ms", DefaultRestartDelayMs)
	}
}

// LoadConfig loads configuration with precedence: project config > user config > defaults
// Environment variables override config file values
// If configPath is provided, loads from that specific path instead
func LoadConfig(configPath string) (*Config, error) {
	if err := setupViper(configPath); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var configFileDir string
	if configPath != "" {
		configFileDir = filepath.Dir(configPath)
	} else {
		projectPath, err := GetProjectConfigPath()
		if err == nil {
			if _, err := os.Stat(projectPath); err == nil {
				configFileDir = filepath.Dir(projectPath)
			}
		}
	}

	postProcessConfig(cfg, configFileDir)
	sanitizeConfig(cfg)

	return cfg, nil
}

// postProcessConfig fills in service names from their map keys and resolves
// relative script paths against the config file's directory (or the current
// working directory when no config file exists).
func postProcessConfig(cfg *Config, configFileDir string) {
	for name, svc := range cfg.Services {
		if svc == nil {
			svc = &ServiceConfig{}
			cfg.Services[name] = svc
		}
		svc.Name = name

		if svc.Script != "" && !filepath.IsAbs(svc.Script) {
			base := configFileDir
			if base == "" {
				if cwd, err := os.Getwd(); err == nil {
					base = cwd
				}
			}
			svc.Script = filepath.Clean(filepath.Join(base, svc.Script))
		}
	}
}

var validate = validator.New()

// sanitizeConfig applies the warning-and-fallback policy: every invalid value
// is logged and replaced by its default rather than failing the load. A service
// entry that fails structural validation is disabled, not fatal.
func sanitizeConfig(cfg *Config) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		zap.L().Warn("Invalid server port, falling back to default",
			zap.Int("port", cfg.Port), zap.Int("default", DefaultPort))
		cfg.Port = DefaultPort
	}

	if cfg.LogFormat != "" && !IsValidLogFormat(cfg.LogFormat) {
		zap.L().Warn("Invalid log_format, falling back to json",
			zap.String("log_format", string(cfg.LogFormat)),
			zap.String("valid", core.JoinMapKeys(ValidLogFormats())))
		cfg.LogFormat = LogFormatJSON
	}
	if cfg.LogLevel != "" && !IsValidLogLevel(LogLevel(cfg.LogLevel)) {
		zap.L().Warn("Invalid log_level, falling back to info",
			zap.String("log_level", cfg.LogLevel),
			zap.String("valid", core.JoinMapKeys(ValidLogLevels())))
		cfg.LogLevel = string(LogLevelInfo)
	}

	for name, svc := range cfg.Services {
		if !sanitizeService(name, svc) {
			delete(cfg.Services, name)
			continue
		}

		if err := validate.Struct(svc); err != nil {
			zap.L().Warn("Service configuration failed validation, disabling service",
				zap.String("service", name), zap.Error(err))
			delete(cfg.Services, name)
		}
	}
}

// sanitizeService applies per-field fallbacks for one service entry. It
// reports false when the entry cannot be salvaged and must be disabled:
// there is no sensible fallback for a bad port, and spawning on port 0
// would leave the analyzer unreachable.
func sanitizeService(name string, svc *ServiceConfig) bool {
	warnAndFallback := func(field string, got, def int) int {
		zap.L().Warn("Invalid service setting, falling back to default",
			zap.String("service", name), zap.String("field", field),
			zap.Int("got", got), zap.Int("default", def))
		return def
	}

	if svc.Host == "" {
		svc.Host = DefaultHost
	}
	if svc.Port < 0 || svc.Port > 65535 || (svc.Port == 0 && svc.ExternalURL == "") {
		zap.L().Warn("Service port unusable, disabling service",
			zap.String("service", name), zap.Int("port", svc.Port))
		return false
	}
	if svc.HealthTimeoutMs <= 0 {
		svc.HealthTimeoutMs = warnAndFallback("health_timeout_ms", svc.HealthTimeoutMs, DefaultHealthTimeoutMs)
	}
	if svc.HealthIntervalMs <= 0 {
		svc.HealthIntervalMs = warnAndFallback("health_interval_ms", svc.HealthIntervalMs, DefaultHealthIntervalMs)
	}
	if svc.HealthMaxRetries <= 0 {
		svc.HealthMaxRetries = warnAndFallback("health_max_retries", svc.HealthMaxRetries, DefaultHealthMaxRetries)
	}
	if svc.ShutdownTimeoutMs <= 0 {
		svc.ShutdownTimeoutMs = warnAndFallback("shutdown_timeout_ms", svc.ShutdownTimeoutMs, DefaultShutdownTimeoutMs)
	}
	if svc.MaxRestartAttempts < 0 {
		svc.MaxRestartAttempts = warnAndFallback("max_restart_attempts", svc.MaxRestartAttempts, DefaultMaxRestartAttempts)
	}
	if svc.RestartDelayMs <= 0 {
		svc.RestartDelayMs = warnAndFallback("restart_delay_ms", svc.RestartDelayMs, DefaultRestartDelayMs)
	}
	return true
}

// WriteDefault writes a starter config file with the default settings to path.
// It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	if err := setupViper(""); err != nil {
		return err
	}
	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal defaults: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	configDir := filepath.Dir(path)
	// #nosec G301 -- config directory permissions 0755 are acceptable for user config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// #nosec G306 -- config file permissions 0644 are acceptable for user config files
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
