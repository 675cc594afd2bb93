// Package events carries refresh, invalidation and prefetch notifications to
// in-process subscribers such as the admin event stream.
package events

import (
	"sync"
	"time"
)

// Type represents the kind of event.
type Type int

const (
	FactsCommitted Type = iota
	TableRebuilt
	TableFailed
	ScopeInvalidated
	PrefetchCompleted
)

// String returns the wire name of the type.
func (t Type) String() string {
	switch t {
	case FactsCommitted:
		return "facts_committed"
	case TableRebuilt:
		return "table_rebuilt"
	case TableFailed:
		return "table_failed"
	case ScopeInvalidated:
		return "scope_invalidated"
	case PrefetchCompleted:
		return "prefetch_completed"
	default:
		return "unknown"
	}
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

type Event struct {
	Type       Type      `json:"type"`
	TenantID   string    `json:"tenant_id"`
	Table      string    `json:"table,omitempty"`
	Generation uint64    `json:"generation,omitempty"`
	Count      int       `json:"count,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

type Handler func(Event)

type subscription struct {
	id    uint64
	types map[Type]bool
	h     Handler
}

// Bus delivers events synchronously to every matching subscriber. Handlers
// must not block.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

func NewBus() *Bus { return &Bus{} }

// Publish stamps e if needed and hands it to subscribers. A nil bus drops it.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, s := range subs {
		if len(s.types) == 0 || s.types[e.Type] {
			s.h(e)
		}
	}
}

// Subscribe registers h for the given types, or for every type when none are
// given. The returned func removes the subscription.
func (b *Bus) Subscribe(h Handler, types ...Type) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := subscription{id: b.nextID, h: h, types: map[Type]bool{}}
	for _, t := range types {
		s.types[t] = true
	}
	// copy on write so Publish can iterate without the lock
	subs := make([]subscription, len(b.subs), len(b.subs)+1)
	copy(subs, b.subs)
	b.subs = append(subs, s)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		kept := make([]subscription, 0, len(b.subs))
		for _, x := range b.subs {
			if x.id != s.id {
				kept = append(kept, x)
			}
		}
		b.subs = kept
	}
}
