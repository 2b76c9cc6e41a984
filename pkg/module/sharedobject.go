package module

import (
	"context"
	"fmt"
	goplugin "plugin"

	xerrors "Auditum/internal/errors"
)

// SymbolName is the symbol a Go plugin must export to be loaded.
const SymbolName = "Capabilities"

// SharedObjectLoader opens Go plugins built with -buildmode=plugin and reads
// their Capabilities symbol. The symbol may be a Surface or map variable, or a
// func() Surface / func(ManifestInfo) (Surface, error) factory.
type SharedObjectLoader struct{}

// Load implements CodeLoader.
func (SharedObjectLoader) Load(_ context.Context, m ManifestInfo) (Surface, error) {
	loadErr := func(cause error, msg string) error {
		return xerrors.Wrap(xerrors.CodeCodeLoad, cause, msg,
			xerrors.WithMetadata(MetaModule, m.Name), xerrors.WithMetadata(MetaPath, m.EntryPath))
	}
	so, err := goplugin.Open(m.EntryPath)
	if err != nil {
		return nil, loadErr(err, fmt.Sprintf("open plugin %s", m.EntryPath))
	}
	symbol, err := so.Lookup(SymbolName)
	if err != nil {
		return nil, loadErr(err, fmt.Sprintf("lookup %s", SymbolName))
	}
	switch s := symbol.(type) {
	case *Surface:
		if s == nil {
			return nil, loadErr(nil, "capabilities symbol is nil")
		}
		return *s, nil
	case *map[string]any:
		if s == nil {
			return nil, loadErr(nil, "capabilities symbol is nil")
		}
		return Surface(*s), nil
	case func() Surface:
		return s(), nil
	case func(ManifestInfo) (Surface, error):
		surface, err := s(m)
		if err != nil {
			return nil, loadErr(err, "build plugin surface")
		}
		return surface, nil
	default:
		return nil, loadErr(nil, fmt.Sprintf("symbol %s has unsupported type %T", SymbolName, symbol))
	}
}
