package module

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "Auditum/internal/errors"
	"Auditum/pkg/logger"
	"github.com/google/uuid"
)

// Environment is handed to a module's init capability.
type Environment struct {
	// Manifest is the module's own manifest.
	Manifest ManifestInfo `json:"manifest"`
	// Resources exposes shared services supplied by the host application.
	Resources map[string]any `json:"resources"`
}

// Handle is a loaded, validated and initialized module. The host owns it;
// the Loader keeps no reference after returning it.
type Handle struct {
	ID       string
	Manifest ManifestInfo
	Surface  Surface
	LoadedAt time.Time
}

// Name returns the declared module name.
func (h *Handle) Name() string { return h.Manifest.Name }

// Role returns the declared module role.
func (h *Handle) Role() Role { return h.Manifest.Role }

// Invoke calls the named capability of the module.
func (h *Handle) Invoke(ctx context.Context, name string, args ...any) (any, error) {
	fn, ok := h.Surface.Lookup(name)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("module %s has no capability %q", h.Manifest.Name, name),
			xerrors.WithMetadata(MetaModule, h.Manifest.Name))
	}
	return fn(ctx, args...)
}

// Loader brings validated manifests into initialized Handles.
type Loader struct {
	code      CodeLoader
	resources map[string]any
	logger    *slog.Logger
	observer  Observer
}

// LoaderOption modifies a Loader.
type LoaderOption func(*Loader)

// WithCodeLoader overrides how entry points are turned into surfaces.
func WithCodeLoader(code CodeLoader) LoaderOption {
	return func(l *Loader) {
		if code != nil {
			l.code = code
		}
	}
}

// WithResource registers a shared resource passed to every module's init.
func WithResource(key string, value any) LoaderOption {
	return func(l *Loader) {
		if key == "" || value == nil {
			return
		}
		l.resources[key] = value
	}
}

// WithLoaderLogger overrides the loader logger.
func WithLoaderLogger(lg *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// WithLoaderObserver reports load outcomes to o.
func WithLoaderObserver(o Observer) LoaderOption {
	return func(l *Loader) {
		if o != nil {
			l.observer = o
		}
	}
}

// NewLoader constructs a Loader. Without options it dispatches entry points
// by extension as DefaultCodeLoader does.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		resources: make(map[string]any),
		observer:  noopObserver{},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logger.Named("loader")
	}
	if l.code == nil {
		l.code = DefaultCodeLoader(l.logger)
	}
	return l
}

// LoadModule loads m with a default Loader.
func LoadModule(ctx context.Context, m ManifestInfo) (*Handle, error) {
	return NewLoader().Load(ctx, m)
}

// Load brings the code at m.EntryPath into a surface, validates it against the
// role contract and runs its init capability once. Every failure is reported
// as a single ErrModuleLoad error naming the module. Calling Load twice for
// the same manifest loads and initializes the module twice.
func (l *Loader) Load(ctx context.Context, m ManifestInfo) (*Handle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	handle, err := l.load(ctx, m)
	if err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeModuleLoad, err, fmt.Sprintf("load module %s", m.Name),
			xerrors.WithMetadata(MetaModule, m.Name), xerrors.WithMetadata(MetaPath, m.EntryPath))
		l.logger.ErrorContext(ctx, "failed to load module",
			slog.String("module", m.Name),
			slog.String("entry", m.EntryPath),
			slog.Any("error", err))
		l.observer.Observe(ctx, Event{
			Kind:     EventLoadFailed,
			Module:   m.Name,
			Role:     m.Role,
			Path:     m.EntryPath,
			Err:      wrapped,
			Duration: time.Since(start),
			At:       time.Now(),
		})
		return nil, wrapped
	}
	l.logger.InfoContext(ctx, "loaded module",
		slog.String("module", m.Name),
		slog.String("role", m.Role.String()),
		slog.String("load_id", handle.ID))
	l.observer.Observe(ctx, Event{
		Kind:     EventLoaded,
		Module:   m.Name,
		Role:     m.Role,
		Path:     m.EntryPath,
		LoadID:   handle.ID,
		Duration: time.Since(start),
		At:       handle.LoadedAt,
	})
	return handle, nil
}

func (l *Loader) load(ctx context.Context, m ManifestInfo) (*Handle, error) {
	surface, err := loadCode(ctx, l.code, m)
	if err != nil {
		if _, ok := xerrors.From(err); ok {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeCodeLoad, err, fmt.Sprintf("load code from %s", m.EntryPath),
			xerrors.WithMetadata(MetaModule, m.Name))
	}

	missing, err := MissingCapabilities(m.Role, surface)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStructureInvalid, err, fmt.Sprintf("module %s has an invalid structure", m.Name),
			xerrors.WithMetadata(MetaModule, m.Name))
	}
	if len(missing) > 0 {
		return nil, xerrors.New(xerrors.CodeStructureInvalid,
			fmt.Sprintf("module %s (%s) is missing capabilities: %s", m.Name, m.Role, strings.Join(missing, ", ")),
			xerrors.WithMetadata(MetaModule, m.Name))
	}

	initFn, _ := surface.Lookup(InitCapability)
	env := Environment{Manifest: m, Resources: cloneResources(l.resources)}
	if err := invokeInit(ctx, initFn, env); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitialization, err, fmt.Sprintf("initialize module %s", m.Name),
			xerrors.WithMetadata(MetaModule, m.Name))
	}

	return &Handle{
		ID:       uuid.NewString(),
		Manifest: m,
		Surface:  surface,
		LoadedAt: time.Now(),
	}, nil
}

// loadCode runs the code loader and reports a panic as a CODE_LOAD error.
func loadCode(ctx context.Context, code CodeLoader, m ManifestInfo) (surface Surface, err error) {
	defer func() {
		if r := recover(); r != nil {
			surface = nil
			err = xerrors.New(xerrors.CodeCodeLoad, fmt.Sprintf("panic while loading %s: %v", m.EntryPath, r),
				xerrors.WithMetadata(MetaModule, m.Name), xerrors.WithMetadata(MetaPath, m.EntryPath))
		}
	}()
	return code.Load(ctx, m)
}

func invokeInit(ctx context.Context, initFn Capability, env Environment) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	_, err = initFn(ctx, env)
	return err
}

func cloneResources(resources map[string]any) map[string]any {
	cp := make(map[string]any, len(resources))
	for k, v := range resources {
		cp[k] = v
	}
	return cp
}
