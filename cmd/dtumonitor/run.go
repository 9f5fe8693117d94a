package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jgoulah/dtumonitor/internal/poller"
	"github.com/jgoulah/dtumonitor/internal/publisher"
	"github.com/jgoulah/dtumonitor/internal/scheduler"
	"github.com/jgoulah/dtumonitor/internal/source"
	"github.com/jgoulah/dtumonitor/internal/web"
)

var (
	runListen string
	runNoWeb  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the DTU and serve the gauge widget",
	Long: `Polls the DTU every dtu.poll_interval_ms, appends each reading to the
history file and serves the gauge widget. Readings are published to Home
Assistant when mqtt or home_assistant is enabled. Stops on SIGINT or SIGTERM.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runListen, "listen", "", "widget server address (overrides web.listen)")
	runCmd.Flags().BoolVar(&runNoWeb, "no-web", false, "Do not start the widget server")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", getConfigPath(), err)
	}
	if runListen != "" {
		cfg.Web.Listen = runListen
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	src, err := source.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating source: %w", err)
	}

	p := poller.New(src, openLedger(cfg, logger), poller.Options{
		Request:       source.Request{Address: cfg.DTU.Address, MaxPower: cfg.DTU.MaxPower},
		Location:      cfg.GetLocation(),
		NightFallback: cfg.GetNightFallback(),
		Logger:        logger,
	})

	// Outbox: every reading is recorded, and published when a target is enabled
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	var target publisher.Target
	if cfg.MQTT.Enabled || cfg.HomeAssistant.Enabled {
		pub, err := publisher.New(cfg.MQTT, cfg.HomeAssistant, logger)
		if err != nil {
			return fmt.Errorf("creating publisher: %w", err)
		}
		defer pub.Close()
		target = pub
	}
	p.AddNotifier(publisher.NewOutbox(db, target, logger))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if !runNoWeb {
		hub := web.NewHub(logger)
		p.AddNotifier(hub)
		srv := web.NewServer(cfg.GetListenAddr(), p, gaugeOptions(cfg), hub, logger)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	g.Go(func() error {
		err := scheduler.New(cfg.GetPollInterval(), nil, logger).Run(ctx, p.Cycle)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	logger.Info("dtumonitor started",
		zap.String("dtu", cfg.DTU.Address),
		zap.String("source", cfg.GetSource()),
		zap.String("history", cfg.GetHistoryPath()),
	)
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("dtumonitor stopped")
	return nil
}
