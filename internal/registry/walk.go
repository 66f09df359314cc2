package registry

import (
	"context"
	"os"
	"path/filepath"
)

// ExistsFunc answers whether a path exists, possibly against a remote or
// virtual filesystem.
type ExistsFunc func(ctx context.Context, path string) (bool, error)

// WalkUp walks from startDir toward the filesystem root and returns the first
// directory containing any of the marker files. ok is false when no level has
// a marker.
func WalkUp(startDir string, markers []string) (root string, ok bool) {
	root, ok, _ = WalkUpContext(context.Background(), startDir, markers, statExists)
	return root, ok
}

// WalkUpContext is WalkUp with marker existence checked through an injected
// predicate. For any filesystem answering the same existence questions it
// behaves identically to WalkUp.
func WalkUpContext(ctx context.Context, startDir string, markers []string, exists ExistsFunc) (string, bool, error) {
	dir := filepath.Clean(startDir)
	for {
		for _, marker := range markers {
			found, err := exists(ctx, filepath.Join(dir, marker))
			if err != nil {
				return "", false, err
			}
			if found {
				return dir, true, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false, nil
		}
		dir = parent
	}
}

func statExists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	return err == nil, nil
}
