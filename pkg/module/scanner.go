package module

import (
	"fmt"
	"os"
	"path/filepath"

	xerrors "Auditum/internal/errors"
)

// DefaultRootName is the directory, relative to the working directory, that
// holds modules when no override is configured.
const DefaultRootName = "modules"

// ResolveRoot returns override when set, otherwise DefaultRootName under the
// current working directory. The result is always absolute.
func ResolveRoot(override string) (string, error) {
	root := override
	if root == "" {
		root = DefaultRootName
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeDirectoryUnreadable, err, "resolve module root",
			xerrors.WithMetadata(MetaPath, root))
	}
	return abs, nil
}

// ListCandidates returns the absolute path of every immediate child of
// rootDir. Files are not filtered out here; they fail later when no manifest
// can be read from them.
func ListCandidates(rootDir string) ([]string, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDirectoryUnreadable, err, "resolve module root",
			xerrors.WithMetadata(MetaPath, rootDir))
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDirectoryUnreadable, err, fmt.Sprintf("list modules in %s", abs),
			xerrors.WithMetadata(MetaPath, abs))
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		paths = append(paths, filepath.Join(abs, entry.Name()))
	}
	return paths, nil
}
