package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jgoulah/dtumonitor/internal/gauge"
)

var gaugeSVG string

var gaugeCmd = &cobra.Command{
	Use:   "gauge",
	Short: "Render the gauge for the newest reading",
	Long: `Prints the gauge figures for the newest stored reading. With --svg the
gauge is written as an SVG image instead ("-" for stdout).`,
	RunE: runGauge,
}

func init() {
	gaugeCmd.Flags().StringVar(&gaugeSVG, "svg", "", "Write the gauge as SVG to this file (- for stdout)")
	rootCmd.AddCommand(gaugeCmd)
}

func runGauge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := newQuietLogger(cfg)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	view := gauge.Project(openLedger(cfg, logger).Latest(), gaugeOptions(cfg))

	switch gaugeSVG {
	case "":
	case "-":
		_, err := os.Stdout.Write(gauge.SVG(view))
		return err
	default:
		if err := os.WriteFile(gaugeSVG, gauge.SVG(view), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", gaugeSVG, err)
		}
		fmt.Printf("Gauge written to %s\n", gaugeSVG)
		return nil
	}

	if !view.Known {
		fmt.Printf("No data found in %s\n", cfg.GetHistoryPath())
	} else {
		fmt.Printf("Reading from %s\n", view.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Printf("Scale:  %.0f%% (%.1f° active, %.1f° inactive, %.0f° gap)\n",
		view.Fraction*100, view.ActiveDeg, view.InactiveDeg, view.GapDeg)
	fmt.Printf("Power:  %s\n", view.PowerText)
	fmt.Printf("Today:  %s\n", view.DailyText)
	fmt.Printf("Total:  %s\n", view.TotalText)
	return nil
}
