package skills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// compile parses skill code into a reusable program. Programs are immutable
// and shared across the fresh runtime created for every execution.
func compile(name, code string) (*goja.Program, error) {
	return goja.Compile(name+".js", code, true)
}

// checkExportShape loads the program into a throwaway runtime and verifies it
// defines a global `run` function. The throwaway runtime binds inert host
// stubs so top-level host calls do not fail the shape check.
func checkExportShape(prog *goja.Program) error {
	rt := goja.New()
	bindStubs(rt)
	if _, err := rt.RunProgram(prog); err != nil {
		return fmt.Errorf("skill failed to load: %w", err)
	}
	if _, ok := goja.AssertFunction(rt.Get("run")); !ok {
		return errors.New("skill must define a global run(params) function")
	}
	return nil
}

// run executes the program in a fresh runtime with real host bindings, calls
// run(params) and stringifies the result. The runtime is interrupted when ctx
// expires; callers pass a context already bounded by ExecTimeout.
func run(ctx context.Context, prog *goja.Program, host Host, params map[string]any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ExecTimeout)
	defer cancel()

	rt := goja.New()
	bindHost(ctx, rt, host)

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			rt.Interrupt(ctx.Err().Error())
		case <-watchDone:
		}
	}()

	if _, err := rt.RunProgram(prog); err != nil {
		return "", skillError(err)
	}
	fn, ok := goja.AssertFunction(rt.Get("run"))
	if !ok {
		return "", errors.New("skill no longer defines run(params)")
	}
	if params == nil {
		params = map[string]any{}
	}
	res, err := fn(goja.Undefined(), rt.ToValue(params))
	if err != nil {
		return "", skillError(err)
	}
	return stringify(res), nil
}

// bindHost exposes the privileged host functions to the runtime. Errors
// returned by the Go side are thrown as JS exceptions.
func bindHost(ctx context.Context, rt *goja.Runtime, host Host) {
	rt.Set("shell", func(command string) (string, error) {
		return host.Shell(ctx, command)
	})
	rt.Set("read_file", func(path string) (string, error) {
		return host.ReadFile(path)
	})
	rt.Set("write_file", func(path, content string) error {
		return host.WriteFile(path, content)
	})
}

func bindStubs(rt *goja.Runtime) {
	rt.Set("shell", func(string) (string, error) { return "", nil })
	rt.Set("read_file", func(string) (string, error) { return "", nil })
	rt.Set("write_file", func(string, string) error { return nil })
}

func skillError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("skill interrupted: %v", interrupted.Value())
	}
	return fmt.Errorf("skill threw: %w", err)
}

// stringify renders a skill's return value as a tool result. Strings pass
// through, undefined and null collapse to a fixed marker, everything else is
// JSON-encoded.
func stringify(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "(skill returned no output)"
	}
	exported := v.Export()
	if s, ok := exported.(string); ok {
		return s
	}
	raw, err := json.Marshal(exported)
	if err != nil {
		return fmt.Sprint(exported)
	}
	return string(raw)
}
