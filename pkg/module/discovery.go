package module

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"Auditum/pkg/logger"
)

// Discoverer finds and validates module manifests under a root directory.
type Discoverer struct {
	logger      *slog.Logger
	observer    Observer
	concurrency int
}

// DiscoveryOption modifies a Discoverer.
type DiscoveryOption func(*Discoverer)

// WithDiscoveryLogger overrides the logger used for per-candidate outcomes.
func WithDiscoveryLogger(l *slog.Logger) DiscoveryOption {
	return func(d *Discoverer) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDiscoveryObserver reports every candidate outcome to o.
func WithDiscoveryObserver(o Observer) DiscoveryOption {
	return func(d *Discoverer) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithConcurrency bounds the number of candidates probed at once. Zero or a
// negative value means one goroutine per candidate.
func WithConcurrency(n int) DiscoveryOption {
	return func(d *Discoverer) {
		d.concurrency = n
	}
}

// NewDiscoverer constructs a Discoverer.
func NewDiscoverer(opts ...DiscoveryOption) *Discoverer {
	d := &Discoverer{observer: noopObserver{}}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logger.Named("discovery")
	}
	return d
}

// DiscoverAll discovers modules under rootDir with a default Discoverer.
func DiscoverAll(ctx context.Context, rootDir string) ([]ManifestInfo, error) {
	return NewDiscoverer().DiscoverAll(ctx, rootDir)
}

// DiscoverAll reads and probes every candidate under rootDir concurrently and
// returns the manifests that passed, in scan order. A failing candidate is
// logged and skipped; only an unreadable root fails the call. An empty rootDir
// resolves to DefaultRootName under the working directory.
func (d *Discoverer) DiscoverAll(ctx context.Context, rootDir string) ([]ManifestInfo, error) {
	if rootDir == "" {
		resolved, err := ResolveRoot("")
		if err != nil {
			return nil, err
		}
		rootDir = resolved
	}
	candidates, err := ListCandidates(rootDir)
	if err != nil {
		return nil, err
	}

	results := make([]*ManifestInfo, len(candidates))
	var sem chan struct{}
	if d.concurrency > 0 {
		sem = make(chan struct{}, d.concurrency)
	}

	var wg sync.WaitGroup
	for i, candidate := range candidates {
		wg.Add(1)
		go func(i int, candidate string) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			if m, ok := d.discoverOne(ctx, candidate); ok {
				results[i] = &m
			}
		}(i, candidate)
	}
	wg.Wait()

	manifests := make([]ManifestInfo, 0, len(results))
	for _, m := range results {
		if m != nil {
			manifests = append(manifests, *m)
		}
	}
	d.logger.InfoContext(ctx, "module discovery finished",
		slog.String("root", rootDir),
		slog.Int("candidates", len(candidates)),
		slog.Int("discovered", len(manifests)))
	return manifests, nil
}

func (d *Discoverer) discoverOne(ctx context.Context, candidate string) (ManifestInfo, bool) {
	start := time.Now()
	m, err := ReadManifest(candidate)
	if err == nil {
		m, err = ProbeEntryPoint(m)
	}
	if err != nil {
		d.logger.WarnContext(ctx, "failed to discover module",
			slog.String("path", candidate),
			slog.Any("error", err))
		d.observer.Observe(ctx, Event{
			Kind:     EventDiscoveryFailed,
			Path:     candidate,
			Err:      err,
			Duration: time.Since(start),
			At:       time.Now(),
		})
		return ManifestInfo{}, false
	}
	d.logger.InfoContext(ctx, "discovered module",
		slog.String("module", m.Name),
		slog.String("role", m.Role.String()),
		slog.String("path", candidate))
	d.observer.Observe(ctx, Event{
		Kind:     EventDiscovered,
		Module:   m.Name,
		Role:     m.Role,
		Path:     candidate,
		Duration: time.Since(start),
		At:       time.Now(),
	})
	return m, true
}
