package module

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"Auditum/pkg/logger"
)

// writeModule creates root/dir with the given manifest (package.json unless
// manifestName says otherwise) and, when entryName is not empty, an entry file.
func writeModule(t *testing.T, root, dir, manifestName, manifest, entryName, entry string) string {
	t.Helper()
	path := filepath.Join(root, dir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if manifestName == "" {
		manifestName = "package.json"
	}
	if manifest != "" {
		if err := os.WriteFile(filepath.Join(path, manifestName), []byte(manifest), 0o644); err != nil {
			t.Fatalf("write manifest: %v", err)
		}
	}
	if entryName != "" {
		if err := os.WriteFile(filepath.Join(path, entryName), []byte(entry), 0o644); err != nil {
			t.Fatalf("write entry: %v", err)
		}
	}
	return path
}

func noop(context.Context, ...any) (any, error) { return nil, nil }

func quietLoader(opts ...LoaderOption) *Loader {
	return NewLoader(append([]LoaderOption{WithLoaderLogger(logger.Discard())}, opts...)...)
}

func quietDiscoverer(opts ...DiscoveryOption) *Discoverer {
	return NewDiscoverer(append([]DiscoveryOption{WithDiscoveryLogger(logger.Discard())}, opts...)...)
}
