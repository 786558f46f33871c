package main

import (
	"github.com/spf13/cobra"

	"github.com/scamshield/scamshield/internal/config"
	"github.com/scamshield/scamshield/internal/core"
)

// newConfigCmd creates the config command group
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage ScamShield configuration",
	}

	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

// newConfigInitCmd creates the config init command
func newConfigInitCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default scamshield.yaml",
		Long: `Write a default configuration file with the standard analyzer services.
Refuses to overwrite an existing file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := outputPath
			if path == "" {
				projectPath, err := config.GetProjectConfigPath()
				if err != nil {
					return err
				}
				path = projectPath
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			core.MustFprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&outputPath, "output", "", "Destination path (defaults to ./scamshield.yaml)")

	return cmd
}
