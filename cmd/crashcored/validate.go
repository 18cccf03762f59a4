package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tripwire/crashcore/internal/config"
)

func newValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file without enabling the reporter",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("configuration is valid (application: %s %s, exception_handling: %s, output_path: %s)\n",
				cfg.ApplicationIdentifier, cfg.ApplicationVersion, cfg.ExceptionHandling, cfg.OutputPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "/etc/crashcore/config.yaml", "path to the YAML configuration file")
	return cmd
}
