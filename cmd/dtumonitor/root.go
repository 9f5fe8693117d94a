package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jgoulah/dtumonitor/internal/config"
	"github.com/jgoulah/dtumonitor/internal/database"
	"github.com/jgoulah/dtumonitor/internal/gauge"
	"github.com/jgoulah/dtumonitor/internal/ledger"
	"github.com/jgoulah/dtumonitor/internal/logging"
)

var (
	cfgFile     string
	dbPath      string
	historyPath string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "dtumonitor",
	Short: "Monitor a balcony PV system through its DTU",
	Long: `dtumonitor polls a photovoltaic data-logger (DTU) at a fixed interval,
keeps a rolling 24 hour history of power and energy readings in a JSON file
and serves a small gauge widget for dashboards. Readings can also be published
to Home Assistant over MQTT or its REST API.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "outbox database file (default is ./data.db)")
	rootCmd.PersistentFlags().StringVar(&historyPath, "history", "", "history file (overrides history.path)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides log_level)")
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// getDBPath returns the database file path (local directory)
func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return "data.db"
}

// loadConfig loads the configuration file and applies flag overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, err
	}
	if historyPath != "" {
		cfg.History.Path = historyPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

// saveConfig saves the configuration file
func saveConfig(cfg *config.Config) error {
	return config.Save(getConfigPath(), cfg)
}

// openDB opens the database connection
func openDB() (*database.DB, error) {
	path := getDBPath()

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	return database.New(path)
}

// newLogger builds the logger for long running commands
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.GetLogLevel())
}

// newQuietLogger builds the logger for one-shot commands, whose output is
// meant for a terminal: only warnings unless a level is set explicitly
func newQuietLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.LogLevel == "" {
		return logging.NewLogger("warn")
	}
	return logging.NewLogger(cfg.LogLevel)
}

// openLedger returns the history ledger named by cfg
func openLedger(cfg *config.Config, logger *zap.Logger) *ledger.Ledger {
	return ledger.New(cfg.GetHistoryPath(), ledger.Options{
		Location: cfg.GetLocation(),
		Logger:   logger,
	})
}

// gaugeOptions returns the static gauge settings from cfg
func gaugeOptions(cfg *config.Config) gauge.Options {
	return gauge.Options{
		MaxPower: float64(cfg.DTU.MaxPower),
		Icons: gauge.Icons{
			Power: cfg.Web.Icons.Power,
			Daily: cfg.Web.Icons.Daily,
			Total: cfg.Web.Icons.Total,
		},
	}
}
