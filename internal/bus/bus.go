// Package bus carries run lifecycle and approval events between the
// execution core and its subscribers.
package bus

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType identifies one stage of a run or approval lifecycle.
type EventType string

const (
	EventRunStart EventType = "run.start"
	EventRunOut   EventType = "run.out"
	EventRunErr   EventType = "run.err"
	EventRunEnd   EventType = "run.end"

	EventApprovalCreated  EventType = "approval.created"
	EventApprovalApproved EventType = "approval.approved"
	EventApprovalRejected EventType = "approval.rejected"
	EventApprovalApplied  EventType = "approval.applied"
	EventApprovalFailed   EventType = "approval.failed"
)

// RunStatus is the terminal outcome carried by run.end.
type RunStatus string

const (
	RunStatusOK    RunStatus = "ok"
	RunStatusError RunStatus = "error"
)

// Event is one bus message. Correlation fields (project, session, run,
// approval) are echoed on every event so subscribers can demultiplex
// concurrent lifecycles.
type Event struct {
	Type       EventType `json:"type"`
	ProjectID  string    `json:"project_id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	ApprovalID string    `json:"approval_id,omitempty"`
	Command    []string  `json:"command,omitempty"`
	Data       string    `json:"data,omitempty"`
	Status     RunStatus `json:"status,omitempty"`
	ExitCode   int       `json:"exit_code,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Time       time.Time `json:"time"`
}

const subscriberBuffer = 256

// Bus is a process-wide typed publish/subscribe channel. Delivery to each
// subscriber preserves publish order; a publisher that emits a run's events
// sequentially therefore never sees them reordered downstream.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: map[int]chan Event{}}
}

// Subscribe registers a new subscriber. The returned cancel func detaches
// it and closes its channel; always call it when done.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every current subscriber in order. A zero
// Time is stamped at publish. Sends block when a subscriber's buffer is
// full rather than dropping or reordering events.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		ch <- ev
	}
}

// Close detaches all subscribers and drops further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// NewRunID creates a correlation id for one run lifecycle.
func NewRunID() string {
	return uuid.NewString()
}

// IsRunEvent reports whether the event belongs to a run lifecycle.
func (e Event) IsRunEvent() bool {
	return strings.HasPrefix(string(e.Type), "run.")
}
