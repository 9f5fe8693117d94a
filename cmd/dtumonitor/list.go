package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored readings",
	Long:  `Displays the readings kept in the history file, oldest first.`,
	RunE:  runList,
}

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Only show the newest N readings (0 = all)")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := newQuietLogger(cfg)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	history := openLedger(cfg, logger).History()
	if len(history) == 0 {
		fmt.Printf("No data found in %s\n", cfg.GetHistoryPath())
		return nil
	}
	if listLimit > 0 && len(history) > listLimit {
		history = history[len(history)-listLimit:]
	}

	fmt.Println("------------------------------------------------------------------")
	fmt.Printf("%-17s  %-16s  %8s  %10s  %10s\n", "Time", "Age", "W", "kWh today", "MWh total")
	fmt.Println("------------------------------------------------------------------")

	var peak float64
	for _, r := range history {
		fmt.Printf("%-17s  %-16s  %8.0f  %10.2f  %10.2f\n",
			r.Timestamp.Format("2006-01-02 15:04"), humanize.Time(r.Timestamp), r.Power, r.EnergyDaily, r.EnergyTotal)
		if r.Power > peak {
			peak = r.Power
		}
	}

	fmt.Println("------------------------------------------------------------------")
	fmt.Printf("Peak: %.0f W (%s records)\n", peak, humanize.Comma(int64(len(history))))
	return nil
}
