package main

import (
	"github.com/spf13/cobra"
)

var ingestTimeout int

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|url>",
	Short: "Reconcile a JSON-lines observation archive",
	Long:  "Reads one observation per line from a local file or an http(s) URL (.gz archives are decompressed), reconciles them as one sweep and retires stale listings",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().IntVar(&ingestTimeout, "timeout", 30, "Abort the run after this many minutes (0 disables)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := withTimeout(ingestTimeout)
	defer cancel()

	result, err := a.pipeline.Ingest(ctx, args[0])
	if err != nil {
		return err
	}
	logRun(a.logger, result)
	return nil
}
