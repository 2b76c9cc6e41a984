package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"Auditum/internal/api"
	"Auditum/pkg/module"
)

const testConfig = `log:
  level: error
  outputs: [stderr]
storage:
  driver: memory
  record_loads: true
events:
  driver: memory
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// moduleTree 构造一个包含合法、结构不完整与无清单目录的模块根。
func moduleTree(t *testing.T) (root, configPath string) {
	t.Helper()
	dir := t.TempDir()
	root = filepath.Join(dir, "modules")
	writeFile(t, filepath.Join(root, "good", "package.json"),
		`{"main":"index.js","auditum":{"type":"io","name":"good"}}`)
	writeFile(t, filepath.Join(root, "good", "index.js"),
		`exports.init = function () {}; exports.onRequest = function (r) { return r; }; exports.onResponse = function (r) { return r; };`)
	writeFile(t, filepath.Join(root, "partial", "package.json"),
		`{"main":"index.js","auditum":{"type":"io","name":"partial"}}`)
	writeFile(t, filepath.Join(root, "partial", "index.js"),
		`exports.init = function () {}; exports.onRequest = function (r) { return r; };`)
	writeFile(t, filepath.Join(root, "notes", "README.md"), "not a module")

	configPath = filepath.Join(dir, "auditum.yaml")
	writeFile(t, configPath, testConfig)
	return root, configPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDiscoverJSON(t *testing.T) {
	root, cfg := moduleTree(t)

	out, err := execute(t, "discover", "--json", "--config", cfg, "--modules", root)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	var manifests []module.ManifestInfo
	if err := json.Unmarshal([]byte(out), &manifests); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if len(manifests) != 2 {
		t.Fatalf("expected 2 valid manifests, got %+v", manifests)
	}
	if manifests[0].Name != "good" || manifests[1].Name != "partial" {
		t.Fatalf("unexpected discovery order: %s, %s", manifests[0].Name, manifests[1].Name)
	}
}

func TestDiscoverTable(t *testing.T) {
	root, cfg := moduleTree(t)

	out, err := execute(t, "discover", "--config", cfg, "--modules", root)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if !strings.HasPrefix(out, "NAME") || !strings.Contains(out, "good") || strings.Contains(out, "notes") {
		t.Fatalf("unexpected table output:\n%s", out)
	}
}

func TestLoadReportsFailures(t *testing.T) {
	root, cfg := moduleTree(t)

	out, err := execute(t, "load", "--json", "--config", cfg, "--modules", root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var report loadReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report %q: %v", out, err)
	}
	if report.Discovered != 2 || len(report.Loaded) != 1 || report.Loaded[0].Name != "good" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Failures) != 1 || report.Failures[0].Module != "partial" || report.Failures[0].Code != "STRUCTURE_INVALID" {
		t.Fatalf("unexpected failures: %+v", report.Failures)
	}

	if _, err := execute(t, "load", "--strict", "--config", cfg, "--modules", root); err == nil {
		t.Fatalf("expected --strict to fail when a module does not load")
	}
}

func TestLoadMissingRoot(t *testing.T) {
	_, cfg := moduleTree(t)

	if _, err := execute(t, "load", "--config", cfg, "--modules", filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatalf("expected error for a missing module root")
	}
}

func TestSearchExampleModules(t *testing.T) {
	_, cfg := moduleTree(t)
	examples, err := filepath.Abs(filepath.Join("..", "..", "examples", "modules"))
	if err != nil {
		t.Fatalf("abs: %v", err)
	}

	out, err := execute(t, "search", "go", "--json", "--config", cfg, "--modules", examples)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var results []api.SearchResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode results %q: %v", out, err)
	}
	byModule := make(map[string]api.SearchResult, len(results))
	for _, res := range results {
		byModule[res.Module] = res
	}
	if len(byModule) != 2 {
		t.Fatalf("expected the two scraper modules to answer, got %+v", results)
	}

	topics, ok := byModule["topic-search"].Result.([]any)
	if !ok || len(topics) != 2 || topics[0] != "golang" || topics[1] != "goja" {
		t.Fatalf("unexpected topic-search result: %#v", byModule["topic-search"])
	}
	records, ok := byModule["records"].Result.([]any)
	if !ok || len(records) != 2 {
		t.Fatalf("unexpected records result: %#v", byModule["records"])
	}
}

func TestUnknownConfigFile(t *testing.T) {
	if _, err := execute(t, "discover", "--config", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for a missing explicit config file")
	}
}
