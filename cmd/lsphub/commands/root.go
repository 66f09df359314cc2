// Package commands provides the CLI commands for lsphub.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/lsphub/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	prettyLogs bool
	logLevel   string
	workDir    string
)

var rootCmd = &cobra.Command{
	Use:   "lsphub",
	Short: "lsphub - language server orchestration for a workspace",
	Long: `lsphub manages language servers for a workspace: it resolves which
server handles a file, spawns and initializes it over stdio, and collects
diagnostics through the full document lifecycle.

Run 'lsphub check' to diagnose files once, or 'lsphub watch' to re-check
files as they change.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logging.Config{
			Level:  logging.ParseLevel(logLevel),
			Pretty: prettyLogs,
		})
	},
	Run: func(cmd *cobra.Command, args []string) {
		// If no subcommand, show help
		cmd.Help()
	},
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().BoolVar(&prettyLogs, "pretty-logs", false, "Human-readable log output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVarP(&workDir, "directory", "d", "", "Workspace directory (defaults to cwd)")

	// Version template
	rootCmd.SetVersionTemplate(fmt.Sprintf("lsphub %s (%s)\n", Version, BuildTime))

	// Add subcommands
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serversCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
