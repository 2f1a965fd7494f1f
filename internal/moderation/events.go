package moderation

import (
	"context"
	"errors"
	"sync"
	"time"
)

// EventType names a change in the moderation ledger
type EventType string

const (
	EventReportSubmitted    EventType = "report_submitted"
	EventReportFlagged      EventType = "report_flagged"
	EventReportDismissed    EventType = "report_dismissed"
	EventActionTaken        EventType = "action_taken"
	EventActionReversed     EventType = "action_reversed"
	EventRestrictionExpired EventType = "restriction_expired"
)

// Event is published after a mutation commits.
type Event struct {
	Type     EventType `json:"type"`
	ReportID string    `json:"report_id,omitempty"`
	ActionID string    `json:"action_id,omitempty"`
	UserID   string    `json:"user_id,omitempty"`
	At       time.Time `json:"at"`
}

// Broker delivers events to explicit subscribers. Slow subscribers lose
// events rather than block the publisher.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
}

// NewBroker creates a broker whose subscriber channels hold buffer events
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Subscribe returns a channel of events and a function that cancels the
// subscription and closes the channel.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish sends e to every subscriber without blocking.
// It returns the number of subscribers that missed the event.
func (b *Broker) Publish(e Event) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	dropped := 0
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			dropped++
		}
	}
	return dropped
}

// Subscribers returns the current subscriber count
func (b *Broker) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// ErrNoBroker is returned by SubscribeEvents when the engine publishes no events.
var ErrNoBroker = errors.New("moderation: event stream not enabled")

// SubscribeEvents attaches a staff member to the event stream.
func (e *Engine) SubscribeEvents(ctx context.Context, actorID string) (<-chan Event, func(), error) {
	if _, err := e.requireStaff(ctx, "subscribe_events", actorID, ""); err != nil {
		return nil, nil, err
	}
	if e.broker == nil {
		return nil, nil, ErrNoBroker
	}
	ch, cancel := e.broker.Subscribe()
	return ch, cancel, nil
}
