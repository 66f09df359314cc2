package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/lsphub/internal/config"
	"github.com/opencode-ai/lsphub/internal/registry"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List known language servers and their availability",
	RunE:  runServers,
}

func runServers(cmd *cobra.Command, args []string) error {
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}

	disabled := make(map[string]bool)
	for _, id := range cfg.DisableServers {
		disabled[id] = true
	}

	for _, def := range registry.New().Servers() {
		status := "not installed"
		if command, ok := def.Command(cfg.Root); ok {
			status = command
		}
		if disabled[def.ID] {
			status = "disabled"
		}
		fmt.Printf("%-14s %-28s %s\n", def.ID, strings.Join(def.Languages, ","), status)
	}
	return nil
}
