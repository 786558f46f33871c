package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	// build time date
	buildDate = "unknown"
)

func main() {
	var (
		configPath string
		prettyLog  bool
		portFlag   int
	)

	rootCmd := &cobra.Command{
		Use:   "scamshield",
		Short: "ScamShield scam-reporting server",
		Long: `ScamShield is a scam-reporting web platform that supervises its AI analyzer
services as child processes: it spawns them, waits for them to become healthy,
restarts them when they crash, and proxies analysis requests to them.`,
		Version: fmt.Sprintf("%s (built: %s)", version, buildDate),
		// Default to serve command when no subcommand is provided
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, prettyLog, portFlag)
		},
	}

	// Serve flags are also available on the "serve" subcommand
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to scamshield.yaml config file")
	rootCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config file)")
	rootCmd.Flags().BoolVar(&prettyLog, "pretty", false, "Use pretty-printed logs instead of JSON")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
