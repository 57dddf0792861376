package supervisor

import (
	"context"
)

// Stream identifies one of a context's standard output streams.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Runtimes understood by the default loaders.
const (
	RuntimeExec   = "exec"
	RuntimeScript = "script"
)

// LaunchSpec is a resolved, runnable entry point.
type LaunchSpec struct {
	App     string
	Dir     string
	Entry   string
	Runtime string
	DataDir string
	Env     []string
}

// Hooks receive signals from a running context. Implementations call them
// from their own goroutines; OnExit is called at most once and last.
type Hooks struct {
	OnLine   func(line []byte)
	OnOnline func()
	OnOutput func(stream Stream, line string)
	OnExit   func(code int, err error)
}

// Process is a live execution context.
type Process interface {
	// Post queues one protocol line for delivery. Lines are delivered in
	// the order posted.
	Post(line []byte) error

	// Kill stops the context. Killing a finished context is not an error.
	Kill() error
}

// Loader creates execution contexts.
type Loader interface {
	Spawn(ctx context.Context, spec LaunchSpec, hooks Hooks) (Process, error)
}

// Resolver turns an app name into a runnable entry point.
type Resolver interface {
	Resolve(app string, entry, runtime string) (LaunchSpec, error)
}
