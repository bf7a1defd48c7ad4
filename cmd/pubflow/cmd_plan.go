package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pubflow/internal/scheduler"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Schedule pending drafts once and print the run summary",
	Long: `Run a single planning pass over pending drafts.

The window starts on the first working day after today. Drafts the pass does not
reach within the execution budget stay pending for the next pass.`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.service.PlanPending(ctx, time.Now())
	if errors.Is(err, scheduler.ErrNothingToPlan) {
		logger.Info().Msg("no pending drafts")
		return nil
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
