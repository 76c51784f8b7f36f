package main

import (
	"os"

	"github.com/FACorreiaa/payroll-ingest/internal/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
