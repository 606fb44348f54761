// Package listener provides the registration table that maps event kinds to
// the ordered listeners the dispatcher invokes.
//
// The table is built explicitly at process start and sealed before the first
// publish; there is no runtime scanning and no hot reload.
package listener

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/randalmurphal/eventfan/pkg/eventfan/event"
)

// Mode selects where a listener runs.
type Mode int

const (
	// Sync listeners run inline on the publishing goroutine.
	Sync Mode = iota
	// Async listeners run on the worker pool.
	Async
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case Sync:
		return "sync"
	case Async:
		return "async"
	default:
		return "unknown"
	}
}

// Listener reacts to an event. A returned error is a listener failure.
type Listener interface {
	Handle(ctx context.Context, evt event.Event) error
}

// Func adapts a function to the Listener interface.
type Func func(ctx context.Context, evt event.Event) error

// Handle implements Listener.
func (f Func) Handle(ctx context.Context, evt event.Event) error {
	return f(ctx, evt)
}

// Registration is one listener subscribed to one kind.
type Registration struct {
	Kind     event.Kind
	Name     string
	Listener Listener
	Mode     Mode
	// Rank orders peers of the same mode; lower runs (or is submitted) first.
	Rank int

	seq int
}

// Sentinel errors for registration.
var (
	// ErrSealed indicates Register was called after Seal.
	ErrSealed = errors.New("listener registry sealed")

	// ErrInvalidRegistration indicates a registration is missing required fields.
	ErrInvalidRegistration = errors.New("invalid listener registration")
)

// Option configures a single registration.
type Option func(*Registration)

// WithName sets the diagnostic identity used in logs and metrics.
func WithName(name string) Option {
	return func(r *Registration) {
		r.Name = name
	}
}

// Registry maps event kinds to rank-ordered registrations.
type Registry struct {
	mu      sync.RWMutex
	entries map[event.Kind][]Registration
	sealed  bool
	nextSeq int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[event.Kind][]Registration),
	}
}

// Register adds a listener for kind.
//
// Entries stay sorted by rank; equal ranks keep registration order.
func (r *Registry) Register(kind event.Kind, l Listener, mode Mode, rank int, opts ...Option) error {
	if kind == "" {
		return fmt.Errorf("%w: empty event kind", ErrInvalidRegistration)
	}
	if l == nil {
		return fmt.Errorf("%w: nil listener for %s", ErrInvalidRegistration, kind)
	}
	if mode != Sync && mode != Async {
		return fmt.Errorf("%w: unknown mode %d for %s", ErrInvalidRegistration, mode, kind)
	}

	reg := Registration{
		Kind:     kind,
		Listener: l,
		Mode:     mode,
		Rank:     rank,
	}
	for _, opt := range opts {
		opt(&reg)
	}
	if reg.Name == "" {
		reg.Name = Name(l)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot register %q for %s", ErrSealed, reg.Name, kind)
	}

	reg.seq = r.nextSeq
	r.nextSeq++

	list := append(r.entries[kind], reg)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Rank != list[j].Rank {
			return list[i].Rank < list[j].Rank
		}
		return list[i].seq < list[j].seq
	})
	r.entries[kind] = list

	return nil
}

// MustRegister is Register that panics on error. Intended for startup wiring.
func (r *Registry) MustRegister(kind event.Kind, l Listener, mode Mode, rank int, opts ...Option) {
	if err := r.Register(kind, l, mode, rank, opts...); err != nil {
		panic(fmt.Sprintf("listener: %v", err))
	}
}

// Seal ends startup wiring. Later Register calls return ErrSealed.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Resolve returns the registrations for kind in rank order.
// The result is a copy; an unknown kind yields an empty slice.
func (r *Registry) Resolve(kind event.Kind) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.entries[kind]
	out := make([]Registration, len(list))
	copy(out, list)
	return out
}

// Kinds returns every kind with at least one registration, sorted.
func (r *Registry) Kinds() []event.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]event.Kind, 0, len(r.entries))
	for k := range r.entries {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Len returns the total number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, list := range r.entries {
		n += len(list)
	}
	return n
}

// Partition splits registrations by mode, preserving order.
func Partition(regs []Registration) (syncRegs, asyncRegs []Registration) {
	for _, reg := range regs {
		if reg.Mode == Sync {
			syncRegs = append(syncRegs, reg)
		} else {
			asyncRegs = append(asyncRegs, reg)
		}
	}
	return syncRegs, asyncRegs
}

// Name derives a diagnostic name for a listener: the function name for Func
// values, the type name otherwise.
func Name(l Listener) string {
	if f, ok := l.(Func); ok {
		if fn := runtime.FuncForPC(reflect.ValueOf(f).Pointer()); fn != nil {
			name := fn.Name()
			if i := strings.LastIndex(name, "/"); i >= 0 {
				name = name[i+1:]
			}
			return name
		}
	}
	return fmt.Sprintf("%T", l)
}
