package module

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	xerrors "Auditum/internal/errors"
	"Auditum/pkg/logger"
	"github.com/dop251/goja"
)

// ScriptLoader evaluates JavaScript entry points in a CommonJS-style runtime.
// Whatever the script assigns to module.exports becomes the surface; exported
// functions are invocable, other values are exported as plain data.
type ScriptLoader struct {
	// Logger receives console output of the script.
	Logger *slog.Logger
	// MaxSourceBytes rejects larger entry points when positive.
	MaxSourceBytes int64
}

// scriptRuntime serializes calls into one goja runtime, which is not safe for
// concurrent use.
type scriptRuntime struct {
	mu sync.Mutex
	vm *goja.Runtime
}

// Load implements CodeLoader.
func (s *ScriptLoader) Load(ctx context.Context, m ManifestInfo) (Surface, error) {
	loadErr := func(cause error, msg string) error {
		return xerrors.Wrap(xerrors.CodeCodeLoad, cause, msg,
			xerrors.WithMetadata(MetaModule, m.Name), xerrors.WithMetadata(MetaPath, m.EntryPath))
	}
	src, err := os.ReadFile(m.EntryPath)
	if err != nil {
		return nil, loadErr(err, fmt.Sprintf("read script %s", m.EntryPath))
	}
	if s.MaxSourceBytes > 0 && int64(len(src)) > s.MaxSourceBytes {
		return nil, loadErr(nil, fmt.Sprintf("script %s exceeds %d bytes", m.EntryPath, s.MaxSourceBytes))
	}

	lg := s.Logger
	if lg == nil {
		lg = logger.Named("script")
	}
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	exports := vm.NewObject()
	mod := vm.NewObject()
	if err := mod.Set("exports", exports); err != nil {
		return nil, loadErr(err, "prepare module object")
	}
	globals := map[string]any{
		"module":  mod,
		"exports": exports,
		"console": newConsole(vm, lg.With(slog.String("module", m.Name))),
		"require": func(call goja.FunctionCall) goja.Value {
			panic(vm.NewTypeError("require(%s) is not supported", call.Argument(0).String()))
		},
	}
	for name, value := range globals {
		if err := vm.Set(name, value); err != nil {
			return nil, loadErr(err, fmt.Sprintf("define %s", name))
		}
	}

	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	_, err = vm.RunScript(m.EntryPath, string(src))
	stop()
	vm.ClearInterrupt()
	if err != nil {
		return nil, loadErr(err, fmt.Sprintf("evaluate script %s", m.EntryPath))
	}

	exported := mod.Get("exports")
	if exported == nil || goja.IsUndefined(exported) || goja.IsNull(exported) {
		return nil, loadErr(nil, fmt.Sprintf("script %s exports nothing", m.EntryPath))
	}
	rt := &scriptRuntime{vm: vm}
	return rt.surface(exported.ToObject(vm)), nil
}

func (r *scriptRuntime) surface(obj *goja.Object) Surface {
	surface := make(Surface)
	for _, key := range obj.Keys() {
		value := obj.Get(key)
		if fn, ok := goja.AssertFunction(value); ok {
			surface[key] = r.capability(obj, fn)
			continue
		}
		surface[key] = exportValue(value)
	}
	return surface
}

func (r *scriptRuntime) capability(this *goja.Object, fn goja.Callable) Capability {
	return func(ctx context.Context, args ...any) (any, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		stop := context.AfterFunc(ctx, func() { r.vm.Interrupt(ctx.Err()) })
		defer func() {
			stop()
			r.vm.ClearInterrupt()
		}()

		values := make([]goja.Value, len(args))
		for i, arg := range args {
			values[i] = r.vm.ToValue(arg)
		}
		result, err := fn(this, values...)
		if err != nil {
			return nil, err
		}
		return settle(result)
	}
}

// settle unwraps promises returned by async functions. The runtime drains its
// job queue before returning from a call, so only already-settled promises
// can be observed.
func settle(value goja.Value) (any, error) {
	promise, ok := exportValue(value).(*goja.Promise)
	if !ok {
		return exportValue(value), nil
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return exportValue(promise.Result()), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("promise rejected: %v", exportValue(promise.Result()))
	default:
		return nil, fmt.Errorf("capability returned a pending promise")
	}
}

func exportValue(value goja.Value) any {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil
	}
	return value.Export()
}

func newConsole(vm *goja.Runtime, lg *slog.Logger) *goja.Object {
	console := vm.NewObject()
	bind := func(name string, level slog.Level) {
		_ = console.Set(name, func(call goja.FunctionCall) goja.Value {
			args := make([]any, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = exportValue(arg)
			}
			lg.Log(context.Background(), level, fmt.Sprint(args...))
			return goja.Undefined()
		})
	}
	bind("log", slog.LevelInfo)
	bind("info", slog.LevelInfo)
	bind("debug", slog.LevelDebug)
	bind("warn", slog.LevelWarn)
	bind("error", slog.LevelError)
	return console
}
