package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/dtumonitor/internal/database"
	"github.com/jgoulah/dtumonitor/internal/publisher"
)

var (
	publishSince string
	publishAll   bool
	publishLimit int
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish stored readings to Home Assistant",
	Long: `Reads recorded readings from the outbox database and publishes them to Home
Assistant via MQTT and/or the HTTP API.`,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringVar(&publishSince, "since", "", "Only publish readings since this time (YYYY-MM-DD, or relative like 6h or 1d)")
	publishCmd.Flags().BoolVar(&publishAll, "all", false, "Force republish all records (ignore published flag)")
	publishCmd.Flags().IntVar(&publishLimit, "limit", 0, "Limit number of records to publish (0 = no limit)")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Publish started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if !cfg.MQTT.Enabled && !cfg.HomeAssistant.Enabled {
		return fmt.Errorf("neither mqtt nor home_assistant is enabled in config")
	}

	logger, err := newQuietLogger(cfg)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	pub, err := publisher.New(cfg.MQTT, cfg.HomeAssistant, logger)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	defer pub.Close()

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	// Get records based on --all flag
	var records []database.Record
	if publishAll {
		records, err = db.ListReadings()
		reverse(records)
	} else {
		records, err = db.ListUnpublishedReadings()
	}
	if err != nil {
		return fmt.Errorf("listing readings: %w", err)
	}

	if publishSince != "" {
		since, err := parseSince(publishSince, time.Now())
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}
		filtered := records[:0]
		for _, rec := range records {
			if !rec.Reading.Timestamp.Before(since) {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	if len(records) == 0 {
		fmt.Println("No readings to publish")
		return nil
	}

	if publishLimit > 0 && len(records) > publishLimit {
		records = records[:publishLimit]
		fmt.Printf("Limiting to %d records (--limit flag)\n", publishLimit)
	}

	fmt.Printf("Publishing %d records...\n", len(records))
	published := 0
	for i, rec := range records {
		fmt.Printf("[%d/%d] Publishing %s (%.0f W)... ", i+1, len(records), rec.Reading.Timestamp.Format("2006-01-02 15:04"), rec.Reading.Power)
		if err := pub.Publish(cmd.Context(), rec.Reading); err != nil {
			fmt.Printf("FAILED: %v\n", err)
			continue
		}

		// Mark record as published in database
		if err := db.MarkPublished(rec.ID); err != nil {
			fmt.Printf("✓ (warning: failed to mark as published: %v)\n", err)
		} else {
			fmt.Printf("✓\n")
		}
		published++
	}

	fmt.Printf("\nSuccessfully published %d/%d records\n", published, len(records))
	return nil
}

// reverse puts newest-first records into publishing order
func reverse(records []database.Record) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}

// parseSince parses an absolute date (YYYY-MM-DD) or a relative age such as
// "6h", "90m" or "1d" counted back from now
func parseSince(s string, now time.Time) (time.Time, error) {
	// Try absolute date format first
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}

	// Relative days (e.g., "1d")
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s[:len(s)-1], "%d", &days); err == nil && days >= 0 {
			return now.AddDate(0, 0, -days), nil
		}
	}

	// Anything time.ParseDuration understands (e.g., "6h", "90m")
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return now.Add(-d), nil
	}

	return time.Time{}, fmt.Errorf("invalid time format: %s (use YYYY-MM-DD, Nd, or a duration like 6h)", s)
}
