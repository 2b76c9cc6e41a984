package module

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	xerrors "Auditum/internal/errors"
)

// CodeLoader turns a module's entry point into its capability surface.
type CodeLoader interface {
	Load(ctx context.Context, m ManifestInfo) (Surface, error)
}

// CodeLoaderFunc adapts a function to CodeLoader.
type CodeLoaderFunc func(ctx context.Context, m ManifestInfo) (Surface, error)

// Load implements CodeLoader.
func (f CodeLoaderFunc) Load(ctx context.Context, m ManifestInfo) (Surface, error) {
	return f(ctx, m)
}

// ExtensionLoader dispatches to a CodeLoader by entry-point file extension.
type ExtensionLoader struct {
	byExt    map[string]CodeLoader
	fallback CodeLoader
}

// NewExtensionLoader returns a dispatcher that uses fallback for extensions
// without a dedicated loader.
func NewExtensionLoader(fallback CodeLoader) *ExtensionLoader {
	return &ExtensionLoader{byExt: make(map[string]CodeLoader), fallback: fallback}
}

// Handle registers loader for ext (for example ".js"). It returns e for chaining.
func (e *ExtensionLoader) Handle(ext string, loader CodeLoader) *ExtensionLoader {
	e.byExt[strings.ToLower(ext)] = loader
	return e
}

// Load implements CodeLoader.
func (e *ExtensionLoader) Load(ctx context.Context, m ManifestInfo) (Surface, error) {
	if loader, ok := e.byExt[strings.ToLower(filepath.Ext(m.EntryPath))]; ok {
		return loader.Load(ctx, m)
	}
	if e.fallback == nil {
		return nil, xerrors.New(xerrors.CodeCodeLoad,
			fmt.Sprintf("no loader for entry point %s", filepath.Base(m.EntryPath)),
			xerrors.WithMetadata(MetaModule, m.Name))
	}
	return e.fallback.Load(ctx, m)
}

// DefaultCodeLoader runs .js/.cjs entry points with the script engine, opens
// .so entry points as Go plugins and resolves everything else against the
// default registry.
func DefaultCodeLoader(lg *slog.Logger) CodeLoader {
	script := &ScriptLoader{Logger: lg}
	return NewExtensionLoader(&RegistryLoader{}).
		Handle(".js", script).
		Handle(".cjs", script).
		Handle(".so", SharedObjectLoader{})
}

// Factory builds the surface of a module compiled into the host binary.
type Factory func(m ManifestInfo) (Surface, error)

// Registry maps module names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the registry used by Register and RegistryLoader.
func DefaultRegistry() *Registry { return defaultRegistry }

// Register adds a factory to the default registry.
func Register(name string, factory Factory) error {
	return defaultRegistry.Register(name, factory)
}

// MustRegister is Register for use in init functions.
func MustRegister(name string, factory Factory) {
	if err := Register(name, factory); err != nil {
		panic(err)
	}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "module name cannot be empty")
	}
	if factory == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("factory for module %s is nil", name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("module %s already registered", name))
	}
	r.factories[name] = factory
	return nil
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns the registered module names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegistryLoader loads modules compiled into the host. The entry point must
// still be readable; the factory is chosen by the manifest's declared name.
type RegistryLoader struct {
	Registry *Registry
}

// Load implements CodeLoader.
func (l *RegistryLoader) Load(_ context.Context, m ManifestInfo) (Surface, error) {
	if err := checkReadable(m); err != nil {
		return nil, err
	}
	reg := l.Registry
	if reg == nil {
		reg = defaultRegistry
	}
	factory, ok := reg.Lookup(m.Name)
	if !ok {
		return nil, xerrors.New(xerrors.CodeCodeLoad, fmt.Sprintf("no registered factory for module %s", m.Name),
			xerrors.WithMetadata(MetaModule, m.Name))
	}
	surface, err := factory(m)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCodeLoad, err, fmt.Sprintf("build module %s", m.Name),
			xerrors.WithMetadata(MetaModule, m.Name))
	}
	return surface, nil
}

func checkReadable(m ManifestInfo) error {
	file, err := os.Open(m.EntryPath)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeCodeLoad, err, fmt.Sprintf("open entry point %s", m.EntryPath),
			xerrors.WithMetadata(MetaModule, m.Name), xerrors.WithMetadata(MetaPath, m.EntryPath))
	}
	return file.Close()
}
