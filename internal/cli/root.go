// Package cli provides the secretctl command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yungbote/postsecret-pipeline/internal/app"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	logMode string

	application *app.App
)

var rootCmd = &cobra.Command{
	Use:   "secretctl",
	Short: "Classify and search scanned PostSecret secrets",
	Long: `secretctl runs the classification pipeline in-process against the configured
database: create and drive bulk jobs, classify or pair single subjects, and
query similar secrets.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		cfg, err := app.LoadConfig()
		if err != nil {
			return err
		}
		if logMode != "" {
			cfg.LogMode = logMode
		}
		// commands step jobs themselves
		cfg.Driver.Enabled = false
		application, err = app.New(cfg)
		if err != nil {
			return fmt.Errorf("init app: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if application != nil {
			application.Close()
		}
	},
}

// Execute runs the root command; SIGINT/SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logMode, "log-mode", "test", "logger mode: development, production or test")
}

func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}
