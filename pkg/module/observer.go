package module

import (
	"context"
	"log/slog"
	"time"
)

// EventKind names a lifecycle transition reported to observers.
type EventKind string

const (
	EventDiscovered      EventKind = "discovered"
	EventDiscoveryFailed EventKind = "discovery_failed"
	EventLoaded          EventKind = "loaded"
	EventLoadFailed      EventKind = "load_failed"
)

// Event describes one discovery or load outcome.
type Event struct {
	Kind     EventKind
	Module   string
	Role     Role
	Path     string
	LoadID   string
	Err      error
	Duration time.Duration
	At       time.Time
}

// Observer receives lifecycle events. Discovery calls Observe from many
// goroutines at once, so implementations must be safe for concurrent use.
type Observer interface {
	Observe(ctx context.Context, event Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, event Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, event Event) { f(ctx, event) }

type fanout []Observer

func (f fanout) Observe(ctx context.Context, event Event) {
	for _, o := range f {
		o.Observe(ctx, event)
	}
}

// Observers combines several observers into one, skipping nil entries.
func Observers(observers ...Observer) Observer {
	set := make(fanout, 0, len(observers))
	for _, o := range observers {
		if o == nil {
			continue
		}
		set = append(set, o)
	}
	return set
}

type noopObserver struct{}

func (noopObserver) Observe(context.Context, Event) {}

// LogObserver writes one structured record per event, typically to the
// lifecycle log returned by logger.Lifecycle.
type LogObserver struct {
	Logger *slog.Logger
}

// Observe implements Observer.
func (o LogObserver) Observe(ctx context.Context, event Event) {
	if o.Logger == nil {
		return
	}
	attrs := []slog.Attr{
		slog.String("event", string(event.Kind)),
		slog.String("path", event.Path),
		slog.Int64("duration_ms", event.Duration.Milliseconds()),
	}
	if event.Module != "" {
		attrs = append(attrs, slog.String("module", event.Module), slog.String("role", event.Role.String()))
	}
	if event.LoadID != "" {
		attrs = append(attrs, slog.String("load_id", event.LoadID))
	}
	level := slog.LevelInfo
	if event.Err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", event.Err.Error()))
	}
	o.Logger.LogAttrs(ctx, level, "module lifecycle", attrs...)
}
