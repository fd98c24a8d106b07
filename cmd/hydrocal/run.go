package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/hydrocal/internal/calib"
	"github.com/cwbudde/hydrocal/internal/config"
)

var configPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a calibration",
	Long: `Runs the configured calibration until the iteration budget is exhausted
or the convergence criterion is met. Interrupt with SIGINT/SIGTERM; the last
completed iteration is checkpointed and a later run resumes from it.`,
	RunE: runCalibration,
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "Calibration configuration file (required)")
	runCmd.MarkFlagRequired("config")
	rootCmd.AddCommand(runCmd)
}

func runCalibration(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	run, err := calib.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up calibration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := run.Execute(ctx); err != nil {
		return err
	}

	slog.Info("Calibration run finished", "elapsed", time.Since(start))
	return nil
}
