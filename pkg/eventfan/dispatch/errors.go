package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/randalmurphal/eventfan/pkg/eventfan/event"
	"github.com/randalmurphal/eventfan/pkg/eventfan/listener"
)

// ErrMaxDepth indicates an event chain exceeded Config.MaxDepth.
var ErrMaxDepth = errors.New("max event depth exceeded")

// ListenerError reports a listener that failed (or could not be scheduled)
// for an event.
type ListenerError struct {
	Event    event.Event
	Listener string
	Mode     listener.Mode
	Err      error
	// Panic holds the recovered value when the listener panicked.
	Panic any
}

// Error implements the error interface.
func (e *ListenerError) Error() string {
	return fmt.Sprintf("%s listener %q failed for %s event %s: %v",
		e.Mode, e.Listener, e.Event.Kind(), e.Event.ID(), e.Err)
}

// Unwrap returns the underlying error.
func (e *ListenerError) Unwrap() error {
	return e.Err
}

// SubmitError collects async listeners that could not be handed to the pool.
// Listeners submitted successfully are unaffected.
type SubmitError struct {
	Event  event.Event
	Failed []*ListenerError
}

// Error implements the error interface.
func (e *SubmitError) Error() string {
	parts := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		parts[i] = fmt.Sprintf("%s: %v", f.Listener, f.Err)
	}
	return fmt.Sprintf("%d async listener(s) not submitted for %s event %s: %s",
		len(e.Failed), e.Event.Kind(), e.Event.ID(), strings.Join(parts, "; "))
}

// Unwrap exposes each per-listener error.
func (e *SubmitError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f
	}
	return errs
}
