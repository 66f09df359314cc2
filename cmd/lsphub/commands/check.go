package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/lsphub/internal/config"
	"github.com/opencode-ai/lsphub/internal/workspace"
	"github.com/opencode-ai/lsphub/pkg/types"
)

var checkAllServers bool

var checkCmd = &cobra.Command{
	Use:   "check <glob>...",
	Short: "Run language server diagnostics over files",
	Long: `Check runs the full document lifecycle for each matched file against
the best language server for it and prints the diagnostics.

Globs support ** for recursive matching, for example:

  lsphub check 'src/**/*.ts' 'internal/**/*.go'

The exit code is non-zero when any error-severity diagnostic is found.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkAllServers, "all-servers", false, "Query every matching server, not just the best one")
}

func runCheck(cmd *cobra.Command, args []string) error {
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}

	paths, err := expandGlobs(dir, args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Println("no files matched")
		return nil
	}

	mgr := workspace.NewManager(cfg)
	defer mgr.ShutdownAll(context.Background())

	errorCount := 0
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		var diags []types.Diagnostic
		if checkAllServers {
			diags = mgr.GetDiagnosticsMulti(cmd.Context(), path, string(content))
		} else {
			diags = mgr.GetDiagnostics(cmd.Context(), path, string(content))
		}

		for _, d := range diags {
			printDiagnostic(path, d)
			if d.Severity == types.SeverityError {
				errorCount++
			}
		}
	}

	if errorCount > 0 {
		return fmt.Errorf("%d error(s) found", errorCount)
	}
	return nil
}

// expandGlobs resolves patterns relative to the workspace directory and
// returns unique absolute paths in stable order. A pattern with no glob
// metacharacters is treated as a literal path.
func expandGlobs(dir string, patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	add := func(path string) {
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		if !seen[path] {
			seen[path] = true
			out = append(out, path)
		}
	}

	for _, pattern := range patterns {
		if !hasGlobMeta(pattern) {
			add(pattern)
			continue
		}
		matches, err := doublestar.FilepathGlob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			add(m)
		}
	}

	sort.Strings(out)
	return out, nil
}

func hasGlobMeta(pattern string) bool {
	for _, r := range pattern {
		if r == '*' || r == '?' || r == '[' || r == '{' {
			return true
		}
	}
	return false
}

func printDiagnostic(path string, d types.Diagnostic) {
	source := ""
	if d.Source != "" {
		source = " [" + d.Source + "]"
	}
	fmt.Printf("%s:%d:%d: %s: %s%s\n", path, d.Line, d.Character, d.Severity, d.Message, source)
}
