package module

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingObserver) Observe(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingObserver) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func ioManifest(t *testing.T, name string) ManifestInfo {
	t.Helper()
	dir := t.TempDir()
	entry := filepath.Join(dir, "index.go")
	if err := os.WriteFile(entry, []byte("package main"), 0o644); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	return ManifestInfo{Name: name, Role: RoleIO, EntryPath: entry, Dir: dir}
}

func countingIO(calls *atomic.Int32) Factory {
	return func(ManifestInfo) (Surface, error) {
		return Surface{
			"init": Capability(func(ctx context.Context, args ...any) (any, error) {
				calls.Add(1)
				return nil, nil
			}),
			"onRequest":  Capability(noop),
			"onResponse": Capability(noop),
		}, nil
	}
}

func TestLoaderInvokesInitOncePerLoad(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	reg := NewRegistry()
	if err := reg.Register("echo", countingIO(&calls)); err != nil {
		t.Fatalf("register: %v", err)
	}
	loader := quietLoader(WithCodeLoader(&RegistryLoader{Registry: reg}))
	m := ioManifest(t, "echo")

	h, err := loader.Load(context.Background(), m)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected init once, got %d", calls.Load())
	}
	if h.ID == "" || h.Name() != "echo" || h.Role() != RoleIO || h.LoadedAt.IsZero() {
		t.Fatalf("unexpected handle: %+v", h)
	}

	// Loading again is a fresh load; init runs again.
	h2, err := loader.Load(context.Background(), m)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected init twice after two loads, got %d", calls.Load())
	}
	if h2.ID == h.ID {
		t.Fatalf("each load must produce a distinct handle id")
	}
}

func TestLoaderStructureInvalid(t *testing.T) {
	t.Parallel()

	var initCalls atomic.Int32
	code := CodeLoaderFunc(func(context.Context, ManifestInfo) (Surface, error) {
		return Surface{
			"init": Capability(func(context.Context, ...any) (any, error) {
				initCalls.Add(1)
				return nil, nil
			}),
			"onRequest": Capability(noop),
		}, nil
	})
	obs := &recordingObserver{}
	loader := quietLoader(WithCodeLoader(code), WithLoaderObserver(obs))

	_, err := loader.Load(context.Background(), ioManifest(t, "half"))
	if !errors.Is(err, ErrModuleLoad) || !errors.Is(err, ErrStructureInvalid) {
		t.Fatalf("expected ErrModuleLoad wrapping ErrStructureInvalid, got %v", err)
	}
	if !strings.Contains(err.Error(), "half") || !strings.Contains(err.Error(), "onResponse") {
		t.Fatalf("error must name the module and the missing capability: %v", err)
	}
	if initCalls.Load() != 0 {
		t.Fatalf("init must not run for invalid modules")
	}
	if kinds := obs.kinds(); len(kinds) != 1 || kinds[0] != EventLoadFailed {
		t.Fatalf("unexpected events: %v", kinds)
	}
}

func TestLoaderInitializationFailure(t *testing.T) {
	t.Parallel()

	surface := func(initFn Capability) CodeLoader {
		return CodeLoaderFunc(func(context.Context, ManifestInfo) (Surface, error) {
			return Surface{"init": initFn, "onRequest": Capability(noop), "onResponse": Capability(noop)}, nil
		})
	}

	failing := quietLoader(WithCodeLoader(surface(func(context.Context, ...any) (any, error) {
		return nil, errors.New("database unreachable")
	})))
	_, err := failing.Load(context.Background(), ioManifest(t, "db"))
	if !errors.Is(err, ErrModuleLoad) || !errors.Is(err, ErrInitialization) {
		t.Fatalf("expected ErrModuleLoad wrapping ErrInitialization, got %v", err)
	}
	if !strings.Contains(err.Error(), "db") || !strings.Contains(err.Error(), "database unreachable") {
		t.Fatalf("error must carry the module name and cause: %v", err)
	}

	panicking := quietLoader(WithCodeLoader(surface(func(context.Context, ...any) (any, error) {
		panic("boom")
	})))
	_, err = panicking.Load(context.Background(), ioManifest(t, "panicky"))
	if !errors.Is(err, ErrInitialization) || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected panic converted to ErrInitialization, got %v", err)
	}
}

func TestLoaderRecoversFactoryPanic(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if err := reg.Register("exploding", func(ManifestInfo) (Surface, error) {
		panic("factory exploded")
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	obs := &recordingObserver{}
	loader := quietLoader(WithCodeLoader(&RegistryLoader{Registry: reg}), WithLoaderObserver(obs))

	h, err := loader.Load(context.Background(), ioManifest(t, "exploding"))
	if h != nil {
		t.Fatalf("expected no handle, got %+v", h)
	}
	if !errors.Is(err, ErrModuleLoad) || !errors.Is(err, ErrCodeLoad) {
		t.Fatalf("expected ErrModuleLoad wrapping ErrCodeLoad, got %v", err)
	}
	if !strings.Contains(err.Error(), "exploding") || !strings.Contains(err.Error(), "factory exploded") {
		t.Fatalf("error must carry the module name and panic value: %v", err)
	}
	if kinds := obs.kinds(); len(kinds) != 1 || kinds[0] != EventLoadFailed {
		t.Fatalf("unexpected events: %v", kinds)
	}
}

func TestLoaderEntryPointDeletedAfterDiscovery(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	reg := NewRegistry()
	if err := reg.Register("gone", countingIO(&calls)); err != nil {
		t.Fatalf("register: %v", err)
	}
	m := ioManifest(t, "gone")
	if _, err := ProbeEntryPoint(m); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if err := os.Remove(m.EntryPath); err != nil {
		t.Fatalf("remove entry: %v", err)
	}

	h, err := quietLoader(WithCodeLoader(&RegistryLoader{Registry: reg})).Load(context.Background(), m)
	if h != nil {
		t.Fatalf("expected no handle, got %+v", h)
	}
	if !errors.Is(err, ErrModuleLoad) || !errors.Is(err, ErrCodeLoad) {
		t.Fatalf("expected ErrModuleLoad wrapping ErrCodeLoad, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("init must not run")
	}
}

func TestLoaderPassesResourcesAndManifest(t *testing.T) {
	t.Parallel()

	var got Environment
	code := CodeLoaderFunc(func(context.Context, ManifestInfo) (Surface, error) {
		return Surface{
			"init": Capability(func(_ context.Context, args ...any) (any, error) {
				got = args[0].(Environment)
				got.Resources["mutated"] = true
				return nil, nil
			}),
			"search": Capability(noop),
		}, nil
	})
	obs := &recordingObserver{}
	loader := quietLoader(WithCodeLoader(code), WithResource("storage", "dsn"), WithResource("", "ignored"),
		WithLoaderObserver(obs))

	m := ioManifest(t, "finder")
	m.Role = RoleScraper
	h, err := loader.Load(context.Background(), m)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Manifest.Name != "finder" || got.Resources["storage"] != "dsn" {
		t.Fatalf("unexpected environment: %+v", got)
	}
	if _, leaked := loader.resources["mutated"]; leaked {
		t.Fatalf("resources must be copied per load")
	}
	if kinds := obs.kinds(); len(kinds) != 1 || kinds[0] != EventLoaded || obs.events[0].LoadID != h.ID {
		t.Fatalf("unexpected events: %+v", obs.events)
	}

	if _, err := h.Invoke(context.Background(), "search", "q"); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if _, err := h.Invoke(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error invoking a missing capability")
	}
}

func TestRegistryLoaderUnknownModule(t *testing.T) {
	t.Parallel()

	_, err := quietLoader(WithCodeLoader(&RegistryLoader{Registry: NewRegistry()})).
		Load(context.Background(), ioManifest(t, "nobody"))
	if !errors.Is(err, ErrCodeLoad) {
		t.Fatalf("expected ErrCodeLoad, got %v", err)
	}
}

func TestRegistryRegister(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	f := func(ManifestInfo) (Surface, error) { return Surface{}, nil }
	if err := reg.Register("", f); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if err := reg.Register("a", nil); err == nil {
		t.Fatalf("expected error for nil factory")
	}
	if err := reg.Register("b", f); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("a", f); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("a", f); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if names := reg.Names(); len(names) != 2 || names[0] != "a" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestExtensionLoaderDispatch(t *testing.T) {
	t.Parallel()

	var hit string
	mk := func(tag string) CodeLoader {
		return CodeLoaderFunc(func(context.Context, ManifestInfo) (Surface, error) {
			hit = tag
			return Surface{}, nil
		})
	}
	ext := NewExtensionLoader(mk("fallback")).Handle(".JS", mk("script"))

	if _, err := ext.Load(context.Background(), ManifestInfo{EntryPath: "/m/index.js"}); err != nil || hit != "script" {
		t.Fatalf("expected script loader, got %q %v", hit, err)
	}
	if _, err := ext.Load(context.Background(), ManifestInfo{EntryPath: "/m/module.bin"}); err != nil || hit != "fallback" {
		t.Fatalf("expected fallback loader, got %q %v", hit, err)
	}

	bare := NewExtensionLoader(nil)
	if _, err := bare.Load(context.Background(), ManifestInfo{EntryPath: "/m/x.bin"}); !errors.Is(err, ErrCodeLoad) {
		t.Fatalf("expected ErrCodeLoad without fallback, got %v", err)
	}
}
