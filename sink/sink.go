// Package sink delivers source code to the target application for
// execution and reports completion of the injected run.
//
// The relay depends only on the Sink contract; the concrete MaxSink
// drives an Autodesk 3ds Max instance by writing a temp file, issuing a
// MAXScript execute command to the listener control, and polling for a
// marker file the injected code touches when it finishes.
package sink

import (
	"errors"
	"fmt"
)

// Sink is the execution sink contract the relay depends on.
type Sink interface {
	// Inject delivers code to the target for execution. It guarantees
	// the invocation command was dispatched, not that execution
	// succeeded.
	Inject(code string) error

	// Completion returns a channel closed exactly once, when the
	// previously injected code reports it finished running. The
	// completion marker is consumed on observation so a stale marker
	// from a prior run can never be misread.
	Completion() <-chan struct{}

	// Stop terminates the completion watcher. Idempotent.
	Stop()
}

// Locator finds the running target application. The Win32 window walk
// lives behind this interface so everything above it stays portable and
// testable.
type Locator interface {
	// Locate finds the target's top-level window by title substring.
	// Returns ErrTargetNotFound when no matching window exists.
	Locate(title string) (Window, error)
}

// Window is a handle to a target-application window.
type Window interface {
	// FindChild finds a direct or indirect child window by class name.
	// Returns ErrNoChild when absent, ErrStale when the handle no
	// longer refers to a live window.
	FindChild(class string) (Window, error)

	// Exec types a command into this window and submits it. Only
	// meaningful on listener controls.
	Exec(command string) error
}

// Sentinel errors for window lookup.
var (
	ErrNoChild = errors.New("child window not found")
	ErrStale   = errors.New("window handle is stale")
)

// TargetNotFoundError indicates the target application is not running.
// Session-fatal; the remediation text is surfaced to the user verbatim.
type TargetNotFoundError struct {
	Title string
}

func (e *TargetNotFoundError) Error() string {
	return fmt.Sprintf(
		"an %s instance could not be found; please make sure it is open and running, then try again",
		e.Title,
	)
}

// IsTargetNotFound reports whether err is a TargetNotFoundError.
func IsTargetNotFound(err error) bool {
	var te *TargetNotFoundError
	return errors.As(err, &te)
}

// ListenerNotFoundError indicates neither the primary nor the legacy
// listener control exists in the target window. Session-fatal.
type ListenerNotFoundError struct{}

func (e *ListenerNotFoundError) Error() string {
	return "could not find the MAXScript listener in the target window"
}

// IsListenerNotFound reports whether err is a ListenerNotFoundError.
func IsListenerNotFound(err error) bool {
	var le *ListenerNotFoundError
	return errors.As(err, &le)
}

// InjectionError indicates code delivery to the target failed.
// Session-fatal: nothing can run without it.
type InjectionError struct {
	Err error
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("could not send code to the target: %v", e.Err)
}

func (e *InjectionError) Unwrap() error {
	return e.Err
}

// IsInjectionError reports whether err is an InjectionError.
func IsInjectionError(err error) bool {
	var ie *InjectionError
	return errors.As(err, &ie)
}
