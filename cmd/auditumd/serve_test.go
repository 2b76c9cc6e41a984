package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"Auditum/internal/events"
)

func newTestRuntime(t *testing.T, configYAML string) *hostRuntime {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "auditum.yaml")
	writeFile(t, configPath, configYAML)
	opts := &options{configPath: configPath, modulesDir: dir}
	cfg, err := opts.loadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	rt, err := newHostRuntime(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestServerEventsRouteFollowsDriver(t *testing.T) {
	cases := []struct {
		name   string
		driver string
		want   int
	}{
		{name: "disabled", driver: "none", want: http.StatusServiceUnavailable},
		{name: "memory", driver: "memory", want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rt := newTestRuntime(t, "log:\n  level: error\n  outputs: [stderr]\nevents:\n  driver: "+tc.driver+"\n")
			req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
			rec := httptest.NewRecorder()
			rt.newServer(":0").Handler().ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestResolveMetricsAddr(t *testing.T) {
	t.Parallel()

	if got := resolveMetricsAddr(":9200", ":9100"); got != ":9200" {
		t.Fatalf("flag should win, got %q", got)
	}
	if got := resolveMetricsAddr("", ":9100"); got != ":9100" {
		t.Fatalf("expected configured address, got %q", got)
	}
	if got := resolveMetricsAddr("", ""); got != "" {
		t.Fatalf("expected no metrics address, got %q", got)
	}
}

func TestDrainEventsFreesBuffer(t *testing.T) {
	t.Parallel()

	pub := events.NewMemoryPublisher(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = pub.Publish(ctx, events.Message{Module: "first"})

	done := make(chan struct{})
	go func() {
		drainEvents(ctx, pub)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		before := pub.Dropped()
		_ = pub.Publish(ctx, events.Message{Module: "next"})
		if pub.Dropped() == before {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("buffered events were never consumed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("drainEvents did not stop after cancellation")
	}
}

func TestServeMetricsStopsOnCancel(t *testing.T) {
	rt := newTestRuntime(t, "log:\n  level: error\n  outputs: [stderr]\n")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		serveMetrics(ctx, rt, "127.0.0.1:0")
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("metrics server did not stop after cancellation")
	}
}
