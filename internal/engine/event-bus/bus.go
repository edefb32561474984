// internal/engine/event-bus/bus.go
package eventbus

import (
	"sync"
	"time"

	"enrollment-sync/internal/common/logger"

	"github.com/google/uuid"
)

// Kind identifies an event topic.
type Kind string

const (
	SectionChanged       Kind = "section.changed"
	SavingStatusChanged  Kind = "saving.status"
	NoticeRaised         Kind = "notice"
	StepChanged          Kind = "step.changed"
	RecordHydrated       Kind = "record.hydrated"
	SessionReset         Kind = "session.reset"
	ApplicationSubmitted Kind = "application.submitted"
)

// Event is a single change notification. Payload is kind specific:
// section name for SectionChanged, models.SavingStatus for SavingStatusChanged,
// Notice for NoticeRaised, models.StepState for StepChanged and the
// application id for ApplicationSubmitted.
type Event struct {
	ID         string
	Kind       Kind
	Payload    interface{}
	OccurredAt time.Time
}

// Notice is a user-visible, non-blocking message.
type Notice struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Recovery string `json:"recovery"`
}

// Handler receives events synchronously on the publisher's goroutine.
type Handler func(Event)

type subscription struct {
	id    uint64
	kinds map[Kind]struct{}
	fn    Handler
}

// Bus is an in-process publish/subscribe channel.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
	logger logger.Logger
}

func New(log logger.Logger) *Bus {
	return &Bus{logger: logger.ForComponent(log, "event-bus")}
}

// Subscribe registers fn for the given kinds, or for every kind when none are given.
// The returned function removes the subscription.
func (b *Bus) Subscribe(fn Handler, kinds ...Kind) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := subscription{id: b.nextID, fn: fn}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}
	b.subs = append(b.subs, sub)

	id := sub.id
	return func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to every matching subscriber. Handlers may publish or
// subscribe themselves; they see a snapshot of the subscriber list.
func (b *Bus) Publish(kind Kind, payload interface{}) {
	if b == nil {
		return
	}
	evt := Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}

	b.mu.RLock()
	snapshot := make([]subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.RUnlock()

	for _, s := range snapshot {
		if s.kinds != nil {
			if _, ok := s.kinds[kind]; !ok {
				continue
			}
		}
		b.deliver(s, evt)
	}
}

func (b *Bus) deliver(s subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", map[string]interface{}{
				"kind":    string(evt.Kind),
				"eventId": evt.ID,
				"panic":   r,
			})
		}
	}()
	s.fn(evt)
}
