package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tripwire/crashcore/internal/audit"
	"github.com/tripwire/crashcore/internal/config"
	"github.com/tripwire/crashcore/internal/debugprint"
	"github.com/tripwire/crashcore/internal/signaldriver"
)

func newRunCmd() *cobra.Command {
	var configPath, auditLogPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load configuration and enable the crash reporter until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configPath, auditLogPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "/etc/crashcore/config.yaml", "path to the YAML configuration file")
	cmd.Flags().StringVar(&auditLogPath, "audit-log", "", "path to a tamper-evident audit log of crash events (disabled if empty)")
	return cmd
}

func runDaemon(configPath, auditLogPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if auditLogPath != "" {
		auditLog, err := audit.Open(auditLogPath)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer auditLog.Close()
		cfg.PostCrashCallback = func(outputPath string) {
			if _, err := auditLog.AppendCrash(audit.CrashEvent{OutputPath: outputPath}); err != nil {
				debugprint.Printf("crashcored: append audit entry failed\n")
			}
		}
	}

	driver, err := signaldriver.Enable(cfg)
	if err != nil {
		return fmt.Errorf("enable crash reporter: %w", err)
	}
	defer driver.Disable()

	fmt.Printf("crashcored: reporting crashes for %s %s to %s\n",
		cfg.ApplicationIdentifier, cfg.ApplicationVersion, cfg.OutputPath)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	debugprint.Printf("crashcored: shutting down\n")
	return nil
}
