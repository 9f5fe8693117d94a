package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the newest stored reading",
	RunE:  runLatest,
}

func init() {
	rootCmd.AddCommand(latestCmd)
}

func runLatest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := newQuietLogger(cfg)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	r := openLedger(cfg, logger).Latest()
	if !r.Known() {
		fmt.Printf("No data found in %s\n", cfg.GetHistoryPath())
		return nil
	}

	fmt.Printf("Time:         %s (%s)\n", r.Timestamp.Format("2006-01-02 15:04:05 MST"), humanize.Time(r.Timestamp))
	fmt.Printf("Power:        %.0f W\n", r.Power)
	fmt.Printf("Energy today: %.2f kWh\n", r.EnergyDaily)
	fmt.Printf("Energy total: %.2f MWh\n", r.EnergyTotal)
	return nil
}
