package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scamshield/scamshield/internal/config"
	"github.com/scamshield/scamshield/internal/core"
	"github.com/scamshield/scamshield/internal/server"
)

// newServeCmd creates the serve command
func newServeCmd() *cobra.Command {
	var (
		configPath string
		prettyLog  bool
		portFlag   int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ScamShield server",
		Long: `Start the ScamShield server. This is the default command when no subcommand
is specified.

The server starts the configured analyzer services, waits for them to become
healthy, and serves the public API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, prettyLog, portFlag)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to scamshield.yaml config file")
	cmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config file)")
	cmd.Flags().BoolVar(&prettyLog, "pretty", false, "Use pretty-printed logs instead of JSON")

	return cmd
}

// runServe runs the server with the given flags
func runServe(configPath string, prettyLog bool, portFlag int) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v", err)
		return err
	}

	// Resolve logging format: CLI flag wins; otherwise config
	prettyLog = resolveLogFormat(cfg, prettyLog)

	// Initialize global logger
	if err := core.Init(prettyLog); err != nil {
		fmt.Printf("Failed to initialize logger: %v", err)
		return err
	}
	defer zap.L().Sync() //nolint:errcheck // Ignore sync errors on stdout/stderr, they're not critical and common in test environments

	if err := validateAndApplyPort(cfg, portFlag); err != nil {
		fmt.Printf("%s\n", err)
		return err
	}

	// Create server (after all config overrides are applied)
	srv := server.NewScamShieldServer(cfg, configPath)

	// Set up signal handling for hot reload and graceful shutdown
	ctx, cancel := setupSignalHandling(context.Background(), srv)
	defer cancel()

	// Start analyzer services; failures degrade gracefully and are logged
	srv.StartBridges(ctx)
	defer srv.StopBridges()

	addr := fmt.Sprintf(":%d", cfg.Port)
	zap.L().Info("Starting scamshield server", zap.String("address", addr))
	if err := srv.Serve(ctx, addr); err != nil {
		if errors.Is(err, context.Canceled) {
			zap.L().Info("Server context canceled, exiting gracefully")
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// resolveLogFormat determines the log format based on CLI flag and config
func resolveLogFormat(cfg *config.Config, prettyLog bool) bool {
	if !prettyLog && cfg.LogFormat == config.LogFormatPretty {
		return true
	}
	return prettyLog
}

// validateAndApplyPort validates the port flag and applies port logic to config
func validateAndApplyPort(cfg *config.Config, portFlag int) error {
	if portFlag < 0 {
		return fmt.Errorf("port must be a positive integer (or 0 to remain unset), got %d", portFlag)
	}

	// Command line flag overrides config file
	if portFlag != 0 {
		cfg.Port = portFlag
	}

	if cfg.Port == 0 {
		cfg.Port = config.DefaultPort
	}

	return nil
}

// setupSignalHandling sets up signal handling for hot reload and graceful shutdown
func setupSignalHandling(ctx context.Context, srv *server.ScamShieldServer) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for {
			sig := <-sigChan
			switch sig {
			case syscall.SIGHUP:
				zap.L().Info("Received SIGHUP, reloading configuration and analyzers")
				if err := srv.Reload(ctx); err != nil {
					zap.L().Error("Failed to reload", zap.Error(err))
				} else {
					zap.L().Info("Successfully reloaded configuration and analyzers")
				}
			case syscall.SIGINT, syscall.SIGTERM:
				zap.L().Info("Received shutdown signal")
				cancel()
				return
			}
		}
	}()

	return ctx, cancel
}
