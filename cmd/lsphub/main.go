// Package main provides the entry point for the lsphub CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/opencode-ai/lsphub/cmd/lsphub/commands"
)

func main() {
	// A missing .env file is fine; explicit environment still applies.
	_ = godotenv.Load()

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
