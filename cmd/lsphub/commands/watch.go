package commands

import (
	"context"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/lsphub/internal/config"
	"github.com/opencode-ai/lsphub/internal/event"
	"github.com/opencode-ai/lsphub/internal/logging"
	"github.com/opencode-ai/lsphub/internal/registry"
	"github.com/opencode-ai/lsphub/internal/workspace"
)

// watchDebounce coalesces the burst of events editors emit per save.
const watchDebounce = 200 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-check files as they change",
	Long: `Watch monitors the workspace for file changes and re-runs language
server diagnostics for each changed file, keeping servers warm between
checks. Press Ctrl-C to stop.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}

	log := logging.Component("watch")

	mgr := workspace.NewManager(cfg)
	defer mgr.ShutdownAll(context.Background())

	unsubscribe := mgr.Bus().SubscribeAll(func(e event.Event) {
		log.Info().
			Str("event", string(e.Type)).
			Str("server", e.ServerID).
			Str("root", e.Root).
			Msg("server lifecycle")
	})
	defer unsubscribe()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watchTree(watcher, dir); err != nil {
		return err
	}

	log.Info().Str("dir", dir).Msg("watching")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Debounce per path so one save triggers one check.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(watchDebounce)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if !skipDir(filepath.Base(ev.Name)) {
						_ = watcher.Add(ev.Name)
					}
					continue
				}
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			if registry.LanguageID(ev.Name) == "" {
				continue
			}
			pending[ev.Name] = time.Now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("watch error")

		case now := <-ticker.C:
			for path, at := range pending {
				if now.Sub(at) < watchDebounce {
					continue
				}
				delete(pending, path)
				checkFile(cmd.Context(), mgr, path)
			}

		case <-quit:
			log.Info().Msg("stopping")
			return nil
		}
	}
}

// watchTree registers the directory and every subdirectory, skipping the
// usual dependency and VCS trees.
func watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

func skipDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	switch name {
	case "node_modules", "vendor", "target", "dist", "build":
		return true
	}
	return false
}

func checkFile(ctx context.Context, mgr *workspace.Manager, path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, d := range mgr.GetDiagnostics(ctx, path, string(content)) {
		printDiagnostic(path, d)
	}
}
