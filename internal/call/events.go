package call

import (
	"sync"
	"time"
)

// EventType names a negotiation event.
type EventType string

const (
	EventState             EventType = "state"
	EventMedia             EventType = "media"
	EventSignalSent        EventType = "signal-sent"
	EventSignalReceived    EventType = "signal-received"
	EventSignalIgnored     EventType = "signal-ignored"
	EventCandidateBuffered EventType = "candidate-buffered"
	EventCandidateApplied  EventType = "candidate-applied"
	EventCandidateFailed   EventType = "candidate-failed"
	EventRemoteTrack       EventType = "remote-track"
	EventPeerRebuilt       EventType = "peer-rebuilt"
	EventError             EventType = "error"
)

// Event is one entry of the negotiation trace.
type Event struct {
	At     time.Time
	Type   EventType
	Detail string
	Err    error
}

// EventHook observes negotiation events. It is called outside the
// negotiator's lock, one event at a time per callback path.
type EventHook func(Event)

// Hooks fans an event out to every non-nil hook.
func Hooks(hooks ...EventHook) EventHook {
	return func(ev Event) {
		for _, h := range hooks {
			if h != nil {
				h(ev)
			}
		}
	}
}

const defaultEventLogSize = 10

// EventLog keeps the most recent events for a debug panel. When full the
// oldest entry is overwritten.
type EventLog struct {
	mu    sync.RWMutex
	buf   []Event
	head  int
	count int
}

// NewEventLog creates a log holding up to size events.
func NewEventLog(size int) *EventLog {
	if size <= 0 {
		size = defaultEventLogSize
	}
	return &EventLog{buf: make([]Event, size)}
}

// Record appends ev.
func (l *EventLog) Record(ev Event) {
	l.mu.Lock()
	idx := (l.head + l.count) % len(l.buf)
	l.buf[idx] = ev
	if l.count == len(l.buf) {
		l.head = (l.head + 1) % len(l.buf)
	} else {
		l.count++
	}
	l.mu.Unlock()
}

// Entries returns a copy of the stored events, oldest first.
func (l *EventLog) Entries() []Event {
	l.mu.RLock()
	out := make([]Event, l.count)
	for i := 0; i < l.count; i++ {
		out[i] = l.buf[(l.head+i)%len(l.buf)]
	}
	l.mu.RUnlock()
	return out
}
