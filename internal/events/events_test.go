package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"Auditum/internal/config"
	xerrors "Auditum/internal/errors"
	"Auditum/pkg/logger"
	"Auditum/pkg/module"
)

func TestFromEventCarriesRootCode(t *testing.T) {
	t.Parallel()

	cause := xerrors.New(xerrors.CodeStructureInvalid, "missing search")
	event := module.Event{
		Kind:     module.EventLoadFailed,
		Module:   "finder",
		Role:     module.RoleScraper,
		Path:     "/m/finder/index.js",
		Err:      xerrors.Wrap(xerrors.CodeModuleLoad, cause, "load module finder"),
		Duration: 1500 * time.Microsecond,
	}
	msg := FromEvent(event)
	if msg.ID == "" || msg.At.IsZero() {
		t.Fatalf("expected id and timestamp: %+v", msg)
	}
	if msg.ErrorCode != xerrors.CodeStructureInvalid || msg.DurationMS != 1 {
		t.Fatalf("unexpected message: %+v", msg)
	}

	payload, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != msg.ID || decoded.Kind != module.EventLoadFailed || decoded.Role != module.RoleScraper {
		t.Fatalf("decoded message differs: %+v", decoded)
	}
	if _, err := Decode([]byte("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestMemoryPublisherRecentAndDrop(t *testing.T) {
	t.Parallel()

	pub := NewMemoryPublisher(2)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		if err := pub.Publish(ctx, Message{Module: name}); err != nil {
			t.Fatalf("publish %s: %v", name, err)
		}
	}
	recent := pub.Recent(0)
	if len(recent) != 2 || recent[0].Module != "c" || recent[1].Module != "b" {
		t.Fatalf("unexpected recent events: %+v", recent)
	}
	if pub.Dropped() != 1 {
		t.Fatalf("expected one dropped delivery, got %d", pub.Dropped())
	}
	var history History = pub
	latest, err := history.History(ctx, 1)
	if err != nil || len(latest) != 1 || latest[0].Module != "c" {
		t.Fatalf("unexpected history: %+v, %v", latest, err)
	}

	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := pub.Publish(ctx, Message{}); err == nil {
		t.Fatalf("expected error after close")
	}
}

func TestMemoryPublisherConsume(t *testing.T) {
	t.Parallel()

	pub := NewMemoryPublisher(8)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		_ = pub.Publish(ctx, Message{Module: name})
	}
	pub.Close()

	var (
		mu   sync.Mutex
		seen []string
	)
	err := pub.Consume(ctx, 2, func(_ context.Context, msg Message) error {
		mu.Lock()
		seen = append(seen, msg.Module)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 consumed events, got %v", seen)
	}
}

func TestObserverPublishesEvents(t *testing.T) {
	t.Parallel()

	pub := NewMemoryPublisher(8)
	obs := NewObserver(pub, logger.Discard())
	obs.Observe(context.Background(), module.Event{Kind: module.EventDiscovered, Module: "echo", Path: "/m/echo"})
	obs.Observe(context.Background(), module.Event{Kind: module.EventLoaded, Module: "echo", LoadID: "id-1"})

	recent := pub.Recent(0)
	if len(recent) != 2 {
		t.Fatalf("expected 2 events, got %d", len(recent))
	}
	if recent[0].Kind != module.EventLoaded || recent[0].LoadID != "id-1" {
		t.Fatalf("unexpected latest event: %+v", recent[0])
	}
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, Message) error {
	f.calls++
	return errors.New("broker down")
}

func (f *failingPublisher) Close() error { return nil }

func TestObserverSurvivesPublishFailureAndCancelledContext(t *testing.T) {
	t.Parallel()

	pub := &failingPublisher{}
	obs := NewObserver(pub, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	obs.Observe(ctx, module.Event{Kind: module.EventLoadFailed, Module: "echo"})
	if pub.calls != 1 {
		t.Fatalf("expected publish attempt, got %d", pub.calls)
	}

	var nilObserver *Observer
	nilObserver.Observe(context.Background(), module.Event{})
}

func TestOpen(t *testing.T) {
	t.Parallel()

	pub, err := Open(config.EventsConfig{Driver: "none"})
	if err != nil || pub != nil {
		t.Fatalf("expected nil publisher for none, got %v %v", pub, err)
	}
	pub, err = Open(config.EventsConfig{Driver: "memory"})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := pub.(*MemoryPublisher); !ok {
		t.Fatalf("expected memory publisher, got %T", pub)
	}
	if _, err := Open(config.EventsConfig{Driver: "kafka"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(config.EventsConfig{Driver: "redis"}); err == nil {
		t.Fatalf("expected error for redis without address")
	}
	if _, err := Open(config.EventsConfig{Driver: "rabbitmq"}); err == nil {
		t.Fatalf("expected error for rabbitmq without url")
	}
}
