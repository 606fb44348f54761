package shop

import (
	"context"
	"sync"
	"time"

	"github.com/randalmurphal/eventfan/pkg/eventfan/event"
	"github.com/randalmurphal/eventfan/pkg/eventfan/pool"
)

// PublisherThread labels entries recorded on the publishing goroutine.
const PublisherThread = "publisher"

// Activity is one listener side effect.
type Activity struct {
	Listener      string     `json:"listener"`
	Kind          event.Kind `json:"kind"`
	EventID       string     `json:"eventId"`
	CorrelationID string     `json:"correlationId"`
	Worker        string     `json:"worker"`
	Detail        string     `json:"detail,omitempty"`
	At            time.Time  `json:"at"`
}

// ActivityLog records listener side effects. Safe for concurrent use.
type ActivityLog struct {
	mu      sync.Mutex
	entries []Activity
	limit   int
}

// NewActivityLog creates a log keeping at most limit entries, oldest dropped
// first. limit <= 0 keeps everything.
func NewActivityLog(limit int) *ActivityLog {
	return &ActivityLog{limit: limit}
}

// Record appends an entry for evt, taking the worker name from ctx.
func (l *ActivityLog) Record(ctx context.Context, listenerName string, evt event.Event, detail string) {
	worker := pool.WorkerName(ctx)
	if worker == "" {
		worker = PublisherThread
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, Activity{
		Listener:      listenerName,
		Kind:          evt.Kind(),
		EventID:       evt.ID(),
		CorrelationID: evt.CorrelationID(),
		Worker:        worker,
		Detail:        detail,
		At:            time.Now(),
	})
	if l.limit > 0 && len(l.entries) > l.limit {
		l.entries = append([]Activity(nil), l.entries[len(l.entries)-l.limit:]...)
	}
}

// Entries returns a copy of every entry in record order.
func (l *ActivityLog) Entries() []Activity {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Activity(nil), l.entries...)
}

// Find returns the first entry for listenerName and eventID.
func (l *ActivityLog) Find(listenerName, eventID string) (Activity, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range l.entries {
		if a.Listener == listenerName && a.EventID == eventID {
			return a, true
		}
	}
	return Activity{}, false
}

// ByCorrelation returns the entries of one event chain.
func (l *ActivityLog) ByCorrelation(correlationID string) []Activity {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Activity
	for _, a := range l.entries {
		if a.CorrelationID == correlationID {
			out = append(out, a)
		}
	}
	return out
}

// Len returns the number of entries.
func (l *ActivityLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
