package main

import (
	"github.com/spf13/cobra"
)

var (
	scrapeZones   []string
	scrapeTimeout int
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run one spider cycle in the foreground",
	RunE:  runScrape,
}

func init() {
	scrapeCmd.Flags().StringSliceVar(&scrapeZones, "zones", nil, "Distritos or distrito/barrio slugs to crawl (default all)")
	scrapeCmd.Flags().IntVar(&scrapeTimeout, "timeout", 180, "Abort the run after this many minutes (0 disables)")
	rootCmd.AddCommand(scrapeCmd)
}

func runScrape(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := withTimeout(scrapeTimeout)
	defer cancel()

	result, err := a.pipeline.Scrape(ctx, scrapeZones)
	if err != nil {
		return err
	}
	logRun(a.logger, result)
	a.logger.WithField("requests", result.Requests).Info("Request stats")
	return nil
}
