package module

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"Auditum/pkg/logger"
)

const echoScript = `
var state = { inits: 0, name: "" };

module.exports = {
  version: "1.0.0",
  init: function (env) {
    state.inits++;
    state.name = env.manifest.name;
    console.log("init", env.manifest.name);
  },
  onRequest: function (req) {
    return { echoed: req, by: state.name, inits: state.inits };
  },
  onResponse: function (res) {
    return Promise.resolve("seen:" + res);
  },
  fail: function () {
    throw new Error("nope");
  }
};
`

func scriptManifest(t *testing.T, role Role, src string) ManifestInfo {
	t.Helper()
	root := t.TempDir()
	dir := writeModule(t, root, "mod", "",
		`{"main": "index.js", "auditum": {"type": "`+string(role)+`", "name": "scripted"}}`, "index.js", src)
	m, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	return m
}

func TestScriptLoaderEndToEnd(t *testing.T) {
	t.Parallel()

	m := scriptManifest(t, RoleIO, echoScript)
	loader := quietLoader(WithCodeLoader(DefaultCodeLoader(logger.Discard())))

	h, err := loader.Load(context.Background(), m)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if h.Surface["version"] != "1.0.0" {
		t.Fatalf("plain exports must be kept as data: %#v", h.Surface["version"])
	}

	out, err := h.Invoke(context.Background(), "onRequest", "ping")
	if err != nil {
		t.Fatalf("onRequest: %v", err)
	}
	reply, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("unexpected reply type %T", out)
	}
	if reply["echoed"] != "ping" || reply["by"] != "scripted" || reply["inits"] != int64(1) {
		t.Fatalf("unexpected reply: %#v", reply)
	}

	res, err := h.Invoke(context.Background(), "onResponse", "pong")
	if err != nil || res != "seen:pong" {
		t.Fatalf("promise capability: %v %v", res, err)
	}

	if _, err := h.Invoke(context.Background(), "fail"); err == nil || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("expected script exception, got %v", err)
	}
}

func TestScriptLoaderStructureInvalid(t *testing.T) {
	t.Parallel()

	m := scriptManifest(t, RoleScraper, `module.exports = { init: function () {}, search: "not callable" };`)
	_, err := quietLoader(WithCodeLoader(&ScriptLoader{Logger: logger.Discard()})).Load(context.Background(), m)
	if !errors.Is(err, ErrStructureInvalid) {
		t.Fatalf("expected ErrStructureInvalid, got %v", err)
	}
}

func TestScriptLoaderInitThrows(t *testing.T) {
	t.Parallel()

	m := scriptManifest(t, RoleScraper, `
exports.init = function () { throw new Error("no credentials"); };
exports.search = function (q) { return []; };
`)
	_, err := quietLoader(WithCodeLoader(&ScriptLoader{Logger: logger.Discard()})).Load(context.Background(), m)
	if !errors.Is(err, ErrInitialization) || !strings.Contains(err.Error(), "no credentials") {
		t.Fatalf("expected ErrInitialization with cause, got %v", err)
	}
}

func TestScriptLoaderEvaluationErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"syntax":  `module.exports = {`,
		"require": `var fs = require("fs"); module.exports = {};`,
		"nothing": `module.exports = undefined;`,
	}
	for name, src := range cases {
		m := scriptManifest(t, RoleIO, src)
		_, err := quietLoader(WithCodeLoader(&ScriptLoader{Logger: logger.Discard()})).Load(context.Background(), m)
		if !errors.Is(err, ErrModuleLoad) || !errors.Is(err, ErrCodeLoad) {
			t.Fatalf("%s: expected ErrCodeLoad, got %v", name, err)
		}
	}
}

func TestScriptLoaderSizeLimit(t *testing.T) {
	t.Parallel()

	m := scriptManifest(t, RoleIO, echoScript)
	_, err := (&ScriptLoader{Logger: logger.Discard(), MaxSourceBytes: 16}).Load(context.Background(), m)
	if !errors.Is(err, ErrCodeLoad) {
		t.Fatalf("expected ErrCodeLoad for oversized script, got %v", err)
	}
}

func TestScriptCapabilityHonoursContext(t *testing.T) {
	t.Parallel()

	m := scriptManifest(t, RoleScraper, `
module.exports = {
  init: function () {},
  search: function () { while (true) {} }
};
`)
	h, err := quietLoader(WithCodeLoader(&ScriptLoader{Logger: logger.Discard()})).Load(context.Background(), m)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := h.Invoke(ctx, "search", "q"); err == nil {
		t.Fatalf("expected interrupted search")
	}
}

func TestScriptLoaderMissingFile(t *testing.T) {
	t.Parallel()

	m := ManifestInfo{Name: "gone", Role: RoleIO, EntryPath: filepath.Join(t.TempDir(), "index.js")}
	_, err := LoadModule(context.Background(), m)
	if !errors.Is(err, ErrModuleLoad) || !errors.Is(err, ErrCodeLoad) {
		t.Fatalf("expected ErrModuleLoad wrapping ErrCodeLoad, got %v", err)
	}
}
