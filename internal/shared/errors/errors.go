// Package errors defines the sentinel errors shared by the runtime's
// components. Callers wrap them with fmt.Errorf("...: %w", err) and test
// them with Is.
package errors

import (
	stderrors "errors"
)

var (
	// ErrNotFound is returned when an app, client or platform name is unknown.
	ErrNotFound = stderrors.New("not found")

	// ErrAlreadyRunning is returned when a process handle already exists for an app.
	ErrAlreadyRunning = stderrors.New("process already running")

	// ErrNoEntryPoint is returned when no runnable entry point can be located for an app.
	ErrNoEntryPoint = stderrors.New("no runnable entry point")

	// ErrSpawnFailed is returned when an execution context could not be created.
	ErrSpawnFailed = stderrors.New("spawn failed")

	// ErrDuplicatePlatform is returned when a platform id is registered twice.
	// It indicates a programming error at the call site.
	ErrDuplicatePlatform = stderrors.New("platform already registered")

	// ErrNoProvider is returned when no active provider can reach a client.
	// Callers should treat it as retryable.
	ErrNoProvider = stderrors.New("no provider for client")

	// ErrDependencyUnmet is returned when an app's required apps are not running.
	ErrDependencyUnmet = stderrors.New("dependency unmet")

	// ErrProtocol is returned for unparseable or unrecognized protocol messages.
	ErrProtocol = stderrors.New("protocol mismatch")

	// ErrClosed is returned when operating on a context or transport that has shut down.
	ErrClosed = stderrors.New("closed")
)

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// New returns an error that formats as the given text.
func New(text string) error { return stderrors.New(text) }

// Join returns an error that wraps the given errors.
func Join(errs ...error) error { return stderrors.Join(errs...) }
