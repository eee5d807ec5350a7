package engine

import (
	"sync"

	"github.com/agentguard/agentguard/pkg/schema"
)

// auditLog is the engine's only long-lived mutable state beyond the
// policy bundle reference. It is append-only, deduplicated by event id,
// and FIFO-bounded to maxSize (0 ⇒ unbounded).
type auditLog struct {
	mu      sync.Mutex
	events  []schema.Event
	ids     map[string]struct{}
	maxSize int
}

func newAuditLog(maxSize int) *auditLog {
	return &auditLog{ids: make(map[string]struct{}), maxSize: maxSize}
}

// append records ev unless its event id was already present. It returns
// whether the event was accepted and how many older entries were evicted
// to stay within maxSize.
func (a *auditLog) append(ev schema.Event) (accepted bool, evicted int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dup := a.ids[ev.EventID]; dup {
		return false, 0
	}
	a.events = append(a.events, ev)
	a.ids[ev.EventID] = struct{}{}

	if a.maxSize > 0 {
		for len(a.events) > a.maxSize {
			oldest := a.events[0]
			a.events = a.events[1:]
			delete(a.ids, oldest.EventID)
			evicted++
		}
	}
	return true, evicted
}

// snapshot returns a shallow copy of the current log.
func (a *auditLog) snapshot() []schema.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]schema.Event, len(a.events))
	copy(out, a.events)
	return out
}
