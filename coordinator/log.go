package coordinator

import (
	"sync"

	"github.com/onionlab/relaysim/protocol"
)

// EventLog is the append-only record of hop events, ordered by arrival at the
// coordinator. Arrival order may differ from causal hop order across
// circuits; that models real network jitter and is intentional. Within one
// circuit the hub's routing discipline guarantees non-decreasing hop order.
//
// The hub's record path is the only writer. Readers always get copies.
type EventLog struct {
	mu     sync.RWMutex
	events []protocol.HopEvent
}

// NewEventLog creates an empty log.
func NewEventLog() *EventLog {
	return &EventLog{}
}

// Append adds an event in arrival order.
func (l *EventLog) Append(ev protocol.HopEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

// Snapshot returns a copy of the full log for readers such as the
// correlation engine and status endpoints.
func (l *EventLog) Snapshot() []protocol.HopEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]protocol.HopEvent(nil), l.events...)
}

// Circuit returns the events recorded for one circuit, in arrival order.
func (l *EventLog) Circuit(circuitID string) []protocol.HopEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []protocol.HopEvent
	for _, ev := range l.events {
		if ev.CircuitID == circuitID {
			out = append(out, ev)
		}
	}
	return out
}

// Recent returns up to n of the latest events.
func (l *EventLog) Recent(n int) []protocol.HopEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > len(l.events) {
		n = len(l.events)
	}
	return append([]protocol.HopEvent(nil), l.events[len(l.events)-n:]...)
}

// Len reports the number of recorded events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
