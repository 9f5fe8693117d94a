package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/dtumonitor/internal/ledger"
	"github.com/jgoulah/dtumonitor/internal/poller"
	"github.com/jgoulah/dtumonitor/internal/publisher"
	"github.com/jgoulah/dtumonitor/internal/source"
)

var (
	fetchIP  string
	fetchMax int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch one reading from the DTU",
	Long: `Reads the DTU once and appends the reading to the history file, the same
way a single poll cycle of "run" does. The reading is also recorded in the
outbox so "publish" can send it later.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchIP, "ip", "", "DTU address (overrides dtu.address)")
	fetchCmd.Flags().IntVar(&fetchMax, "max", 0, "Peak system power in W (overrides dtu.max_power)")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Fetch started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if fetchIP != "" {
		cfg.DTU.Address = fetchIP
	}
	if fetchMax > 0 {
		cfg.DTU.MaxPower = fetchMax
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", getConfigPath(), err)
	}

	logger, err := newQuietLogger(cfg)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	src, err := source.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating source: %w", err)
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	l := openLedger(cfg, logger)
	p := poller.New(src, l, poller.Options{
		Request:       source.Request{Address: cfg.DTU.Address, MaxPower: cfg.DTU.MaxPower},
		Location:      cfg.GetLocation(),
		NightFallback: cfg.GetNightFallback(),
		Logger:        logger,
	}, publisher.NewOutbox(db, nil, logger))

	fmt.Printf("Reading DTU at %s (%s source)...\n", cfg.DTU.Address, cfg.GetSource())
	err = p.Cycle(cmd.Context())
	switch {
	case errors.Is(err, source.ErrUnreachable):
		fmt.Printf("DTU unreachable, nothing recorded\n")
		return err
	case errors.Is(err, ledger.ErrWrite):
		fmt.Printf("Warning: reading could not be saved to %s\n", l.Path())
		fmt.Printf("Reading: %s\n", p.Latest())
		return err
	case err != nil:
		return err
	}

	fmt.Printf("✓ %s\n", p.Latest())
	fmt.Printf("Saved to %s\n", l.Path())
	return nil
}
