package supervisor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
)

// exitRequest is the interrupt value raised by the script's exit().
type exitRequest struct{ code int }

// ScriptLoader runs JavaScript apps in an embedded goja VM. Each app gets
// its own VM on a dedicated goroutine; the VM is never touched from any
// other goroutine except through Interrupt.
//
// Scripts see these globals:
//
//	postMessage(envelope)  send a protocol envelope to the host
//	onMessage(fn)          register the handler for host envelopes
//	console.log/info/warn/error/debug
//	exit(code)             end the app
type ScriptLoader struct{}

// NewScriptLoader creates a script loader.
func NewScriptLoader() *ScriptLoader {
	return &ScriptLoader{}
}

// Spawn compiles the entry script and starts its VM.
func (l *ScriptLoader) Spawn(ctx context.Context, spec LaunchSpec, hooks Hooks) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := os.ReadFile(spec.Entry)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", spec.Entry, err)
	}
	return l.spawnSource(spec, string(src), hooks)
}

func (l *ScriptLoader) spawnSource(spec LaunchSpec, src string, hooks Hooks) (Process, error) {
	prog, err := goja.Compile(spec.Entry, src, false)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", spec.Entry, err)
	}

	p := &scriptProcess{
		vm:    goja.New(),
		inbox: newMailbox(),
		hooks: hooks,
		done:  make(chan struct{}),
	}
	go p.run(spec, prog)
	return p, nil
}

type scriptProcess struct {
	vm      *goja.Runtime
	inbox   *mailbox
	hooks   Hooks
	handler goja.Callable
	done    chan struct{}

	killOnce sync.Once
}

func (p *scriptProcess) Post(line []byte) error {
	if !p.inbox.push(line) {
		return fmt.Errorf("script has exited")
	}
	return nil
}

func (p *scriptProcess) Kill() error {
	p.killOnce.Do(func() {
		p.inbox.close()
		p.vm.Interrupt("killed")
	})
	return nil
}

func (p *scriptProcess) run(spec LaunchSpec, prog *goja.Program) {
	defer close(p.done)

	code, err := p.execute(spec, prog)
	p.inbox.close()
	if p.hooks.OnExit != nil {
		p.hooks.OnExit(code, err)
	}
}

func (p *scriptProcess) execute(spec LaunchSpec, prog *goja.Program) (int, error) {
	if err := p.install(spec); err != nil {
		return 1, err
	}

	if _, err := p.vm.RunProgram(prog); err != nil {
		return exitStatus(err)
	}
	if p.hooks.OnOnline != nil {
		p.hooks.OnOnline()
	}

	for {
		line, ok := p.inbox.pop()
		if !ok {
			return -1, fmt.Errorf("killed")
		}
		if p.handler == nil {
			continue
		}

		var msg any
		if err := sonic.ConfigStd.Unmarshal(line, &msg); err != nil {
			p.output(Stderr, "host sent malformed message: "+err.Error())
			continue
		}
		if _, err := p.handler(goja.Undefined(), p.vm.ToValue(msg)); err != nil {
			return exitStatus(err)
		}
	}
}

// exitStatus turns a VM error into an exit code. exit(n) yields n with no
// error; anything else is an uncaught failure.
func exitStatus(err error) (int, error) {
	if ie, ok := err.(*goja.InterruptedError); ok {
		if req, ok := ie.Value().(exitRequest); ok {
			return req.code, nil
		}
		return -1, fmt.Errorf("interrupted: %v", ie.Value())
	}
	return 1, err
}

func (p *scriptProcess) install(spec LaunchSpec) error {
	vm := p.vm
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "debug"} {
		if err := console.Set(level, p.consoleFunc(Stdout)); err != nil {
			return err
		}
	}
	for _, level := range []string{"warn", "error"} {
		if err := console.Set(level, p.consoleFunc(Stderr)); err != nil {
			return err
		}
	}

	env := vm.NewObject()
	if err := env.Set("app", spec.App); err != nil {
		return err
	}
	if err := env.Set("dataDir", spec.DataDir); err != nil {
		return err
	}

	globals := map[string]any{
		"console": console,
		"host":    env,
		"postMessage": func(call goja.FunctionCall) goja.Value {
			data, err := sonic.ConfigStd.Marshal(call.Argument(0).Export())
			if err != nil {
				panic(vm.NewTypeError("postMessage: %v", err))
			}
			if p.hooks.OnLine != nil {
				p.hooks.OnLine(data)
			}
			return goja.Undefined()
		},
		"onMessage": func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				panic(vm.NewTypeError("onMessage expects a function"))
			}
			p.handler = fn
			return goja.Undefined()
		},
		"exit": func(call goja.FunctionCall) goja.Value {
			vm.Interrupt(exitRequest{code: int(call.Argument(0).ToInteger())})
			return goja.Undefined()
		},
	}
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (p *scriptProcess) consoleFunc(stream Stream) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		p.output(stream, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func (p *scriptProcess) output(stream Stream, line string) {
	if p.hooks.OnOutput != nil {
		p.hooks.OnOutput(stream, line)
	}
}
