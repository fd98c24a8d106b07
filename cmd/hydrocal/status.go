package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/hydrocal/internal/store"
)

var stateDir string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show checkpointed calibration progress",
	Long:  `Display every persisted unit checkpoint with its algorithm, iteration, best score, and record count.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&stateDir, "state-dir", "./state", "State directory holding unit checkpoints")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	checkpointStore, err := store.NewFSStore(stateDir)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	infos, err := checkpointStore.List()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No checkpoints found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UNIT\tALGORITHM\tSCOPE\tITERATION\tBEST SCORE\tRECORDS\tUPDATED")
	fmt.Fprintln(w, "----\t---------\t-----\t---------\t----------\t-------\t-------")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.6f\t%d\t%s\n",
			info.Unit,
			info.Algorithm,
			info.Scope,
			info.Iteration,
			info.BestScore,
			info.Records,
			info.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}
	w.Flush()

	fmt.Printf("\nTotal units: %d\n", len(infos))
	return nil
}
