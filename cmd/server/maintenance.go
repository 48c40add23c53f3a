package main

import (
	"context"

	"github.com/spf13/cobra"
)

var thresholdDays int

var resolveStaleCmd = &cobra.Command{
	Use:   "resolve-stale",
	Short: "Retire active listings not seen within the threshold",
	RunE:  runResolveStale,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE:  runMigrate,
}

func init() {
	resolveStaleCmd.Flags().IntVar(&thresholdDays, "threshold-days", -1, "Days a listing may go unseen (default STALE_THRESHOLD_DAYS)")
	rootCmd.AddCommand(resolveStaleCmd)
	rootCmd.AddCommand(migrateCmd)
}

func runResolveStale(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	days := a.cfg.Tracker.StaleThresholdDays
	if cmd.Flags().Changed("threshold-days") {
		days = thresholdDays
	}

	retired, err := a.pipeline.ResolveStale(context.Background(), days)
	if err != nil {
		return err
	}
	a.logger.WithField("retired", retired).WithField("threshold_days", days).Info("Resolved stale listings")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	_, logger, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("Database schema is up to date")
	return nil
}
