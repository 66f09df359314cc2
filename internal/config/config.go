// Package config loads lsphub configuration from the workspace and the
// environment.
//
// Sources are merged in priority order: built-in defaults, then
// lsphub.json / lsphub.jsonc in the workspace root, then LSPHUB_* environment
// variables. JSONC files may carry comments and trailing commas; they are
// normalized with tidwall/jsonc before parsing.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/opencode-ai/lsphub/pkg/types"
)

// fileConfig mirrors types.Config with durations expressed in milliseconds,
// matching how editors configure LSP timeouts.
type fileConfig struct {
	Root                string   `json:"root"`
	DiagnosticTimeoutMS int      `json:"diagnosticTimeout"`
	InitTimeoutMS       int      `json:"initTimeout"`
	PollIntervalMS      int      `json:"pollInterval"`
	SettleWindowMS      int      `json:"settleWindow"`
	DisableServers      []string `json:"disableServers"`
}

// Load builds the effective configuration for a workspace directory.
// A missing config file is not an error; malformed JSON is.
func Load(directory string) (types.Config, error) {
	cfg := types.Config{Root: directory}

	for _, name := range []string{"lsphub.json", "lsphub.jsonc"} {
		path := filepath.Join(directory, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var fc fileConfig
		if err := json.Unmarshal(jsonc.ToJSON(data), &fc); err != nil {
			return types.Config{}, err
		}
		applyFile(&cfg, fc, directory)
	}

	applyEnv(&cfg)

	return cfg.WithDefaults(), nil
}

func applyFile(cfg *types.Config, fc fileConfig, directory string) {
	if fc.Root != "" {
		root := fc.Root
		if !filepath.IsAbs(root) {
			root = filepath.Join(directory, root)
		}
		cfg.Root = root
	}
	if fc.DiagnosticTimeoutMS > 0 {
		cfg.DiagnosticTimeout = time.Duration(fc.DiagnosticTimeoutMS) * time.Millisecond
	}
	if fc.InitTimeoutMS > 0 {
		cfg.InitTimeout = time.Duration(fc.InitTimeoutMS) * time.Millisecond
	}
	if fc.PollIntervalMS > 0 {
		cfg.PollInterval = time.Duration(fc.PollIntervalMS) * time.Millisecond
	}
	if fc.SettleWindowMS > 0 {
		cfg.SettleWindow = time.Duration(fc.SettleWindowMS) * time.Millisecond
	}
	if len(fc.DisableServers) > 0 {
		cfg.DisableServers = append(cfg.DisableServers, fc.DisableServers...)
	}
}

// applyEnv overlays LSPHUB_* environment variables, which win over files.
func applyEnv(cfg *types.Config) {
	if v := os.Getenv("LSPHUB_ROOT"); v != "" {
		cfg.Root = v
	}
	if d, ok := envMillis("LSPHUB_DIAGNOSTIC_TIMEOUT"); ok {
		cfg.DiagnosticTimeout = d
	}
	if d, ok := envMillis("LSPHUB_INIT_TIMEOUT"); ok {
		cfg.InitTimeout = d
	}
	if v := os.Getenv("LSPHUB_DISABLE_SERVERS"); v != "" {
		cfg.DisableServers = nil
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.DisableServers = append(cfg.DisableServers, id)
			}
		}
	}
}

func envMillis(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}
