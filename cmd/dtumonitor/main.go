package main

import (
	"os"

	// Embedded zone database so history.timezone works on minimal hosts
	_ "time/tzdata"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
