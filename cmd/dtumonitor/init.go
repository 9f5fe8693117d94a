package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jgoulah/dtumonitor/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an example config file",
	Long:  `Writes a config file with every setting at its default. Edit dtu.address and dtu.max_power before running.`,
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := saveConfig(config.Example()); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("✓ Config written to %s\n", path)
	return nil
}
