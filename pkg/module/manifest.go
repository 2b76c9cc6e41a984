package module

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	xerrors "Auditum/internal/errors"
	"gopkg.in/yaml.v3"
)

// Manifest layout keys.
const (
	BlockKey = "auditum"
	RoleKey  = "type"
	NameKey  = "name"
	EntryKey = "main"
)

// ManifestFiles lists the manifest file names looked up at a candidate root,
// in order. The first one present wins.
var ManifestFiles = []string{"package.json", "auditum.yaml", "auditum.yml"}

// ManifestInfo is the validated description of one module directory.
type ManifestInfo struct {
	// Name is the declared module identity.
	Name string `json:"name"`
	// Role decides which capabilities the module must expose.
	Role Role `json:"role"`
	// EntryPath is the absolute path of the module's code.
	EntryPath string `json:"entry_path"`
	// Dir is the absolute candidate directory the manifest was read from.
	Dir string `json:"dir"`
	// ManifestPath is the absolute path of the manifest file itself.
	ManifestPath string `json:"manifest_path"`
	// Extra holds the unrecognized fields of the description block verbatim.
	Extra map[string]any `json:"extra,omitempty"`
}

// ReadManifest locates and validates the manifest at the root of candidateDir.
// It neither executes code nor checks that the entry point exists.
func ReadManifest(candidateDir string) (ManifestInfo, error) {
	dir, err := filepath.Abs(candidateDir)
	if err != nil {
		return ManifestInfo{}, xerrors.Wrap(xerrors.CodeManifestMissing, err, "resolve candidate directory",
			xerrors.WithMetadata(MetaPath, candidateDir))
	}

	manifestPath, doc, err := loadManifestDocument(dir)
	if err != nil {
		return ManifestInfo{}, err
	}

	incomplete := func(field string) error {
		return xerrors.New(xerrors.CodeManifestIncomplete,
			fmt.Sprintf("no %q entry found in %s", field, filepath.Base(manifestPath)),
			xerrors.WithMetadata(MetaPath, dir), xerrors.WithMetadata(MetaField, field))
	}

	block, ok := doc[BlockKey].(map[string]any)
	if !ok {
		return ManifestInfo{}, incomplete(BlockKey)
	}
	rawRole, ok := block[RoleKey]
	if !ok || isBlank(rawRole) {
		return ManifestInfo{}, incomplete(BlockKey + "." + RoleKey)
	}
	name, ok := block[NameKey].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return ManifestInfo{}, incomplete(BlockKey + "." + NameKey)
	}
	roleValue, _ := rawRole.(string)
	if roleValue == "" {
		roleValue = fmt.Sprint(rawRole)
	}
	role, err := ParseRole(roleValue)
	if err != nil {
		if e, ok := xerrors.From(err); ok {
			return ManifestInfo{}, xerrors.New(e.Code(), e.Message(),
				xerrors.WithMetadata(MetaPath, dir), xerrors.WithMetadata(MetaRole, roleValue))
		}
		return ManifestInfo{}, err
	}
	entry, ok := doc[EntryKey].(string)
	if !ok || strings.TrimSpace(entry) == "" {
		return ManifestInfo{}, incomplete(EntryKey)
	}

	return ManifestInfo{
		Name:         name,
		Role:         role,
		EntryPath:    resolveEntry(dir, entry),
		Dir:          dir,
		ManifestPath: manifestPath,
		Extra:        residual(block),
	}, nil
}

func loadManifestDocument(dir string) (string, map[string]any, error) {
	for _, name := range ManifestFiles {
		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || isNotDir(err) {
				continue
			}
			return "", nil, xerrors.Wrap(xerrors.CodeManifestMissing, err, fmt.Sprintf("read %s", name),
				xerrors.WithMetadata(MetaPath, dir))
		}
		doc, err := decodeManifest(name, raw)
		if err != nil {
			return "", nil, xerrors.Wrap(xerrors.CodeManifestMissing, err, fmt.Sprintf("parse %s", name),
				xerrors.WithMetadata(MetaPath, dir))
		}
		return path, doc, nil
	}
	return "", nil, xerrors.New(xerrors.CodeManifestMissing,
		fmt.Sprintf("no manifest (%s) found", strings.Join(ManifestFiles, ", ")),
		xerrors.WithMetadata(MetaPath, dir))
}

func decodeManifest(name string, raw []byte) (map[string]any, error) {
	var doc map[string]any
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("manifest is not an object")
	}
	return doc, nil
}

func resolveEntry(dir, entry string) string {
	if filepath.IsAbs(entry) {
		return filepath.Clean(entry)
	}
	return filepath.Join(dir, entry)
}

func residual(block map[string]any) map[string]any {
	extra := make(map[string]any, len(block))
	for k, v := range block {
		if k == RoleKey || k == NameKey {
			continue
		}
		extra[k] = v
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// isNotDir reports the error returned when the candidate is a plain file.
func isNotDir(err error) bool {
	return errors.Is(err, syscall.ENOTDIR)
}
