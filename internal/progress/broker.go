// Package progress fans out document parsing progress to stream subscribers.
// Every exam keeps its most recent event so late subscribers start from the
// current state instead of an empty screen.
package progress

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qquiz/qquiz/internal/models"
	"github.com/rs/zerolog/log"
)

const subscriberBuffer = 32

// Subscription receives the events of a single exam. C is closed after a
// terminal event has been delivered, on Unsubscribe, or when the subscriber
// falls too far behind.
type Subscription struct {
	ID     string
	ExamID int64
	C      <-chan models.ProgressEvent

	ch     chan models.ProgressEvent
	closed bool
}

type snapshot struct {
	event     models.ProgressEvent
	updatedAt time.Time
}

// Broker is safe for concurrent use.
type Broker struct {
	mu        sync.Mutex
	latest    map[int64]snapshot
	subs      map[int64]map[string]*Subscription
	observers []func(models.ProgressEvent)
	now       func() time.Time
}

func NewBroker() *Broker {
	return &Broker{
		latest: make(map[int64]snapshot),
		subs:   make(map[int64]map[string]*Subscription),
		now:    time.Now,
	}
}

// Observe registers fn to be called with every published event. Observers
// run synchronously on the publishing goroutine and must not block.
func (b *Broker) Observe(fn func(models.ProgressEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, fn)
}

// Publish records ev as the exam's latest state and delivers it to every
// subscriber of that exam.
func (b *Broker) Publish(ev models.ProgressEvent) {
	ev.Progress = math.Round(ev.Progress*10) / 10
	if ev.Timestamp == "" {
		ev.Timestamp = b.now().Format(time.RFC3339Nano)
	}

	b.mu.Lock()
	b.latest[ev.ExamID] = snapshot{event: ev, updatedAt: b.now()}
	for id, sub := range b.subs[ev.ExamID] {
		select {
		case sub.ch <- ev:
			if ev.Status.Terminal() {
				b.removeLocked(sub)
			}
		default:
			log.Warn().Int64("exam_id", ev.ExamID).Str("subscriber", id).Msg("Dropping slow progress subscriber")
			b.removeLocked(sub)
		}
	}
	observers := append([]func(models.ProgressEvent){}, b.observers...)
	b.mu.Unlock()

	for _, fn := range observers {
		fn(ev)
	}
}

// Latest returns the most recent event published for an exam.
func (b *Broker) Latest(examID int64) (models.ProgressEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.latest[examID]
	return s.event, ok
}

// Subscribe registers a new subscriber for examID. If the exam has a latest
// event it is queued first; a terminal latest event closes the subscription
// right after it is read.
func (b *Broker) Subscribe(examID int64) *Subscription {
	return b.SubscribeSince(examID, time.Time{})
}

// SubscribeSince is like Subscribe but does not replay a terminal event
// recorded before since. Such an event belongs to an earlier parse of an
// exam that has been claimed again.
func (b *Broker) SubscribeSince(examID int64, since time.Time) *Subscription {
	ch := make(chan models.ProgressEvent, subscriberBuffer)
	sub := &Subscription{
		ID:     uuid.NewString(),
		ExamID: examID,
		C:      ch,
		ch:     ch,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.latest[examID]; ok && !(s.event.Status.Terminal() && s.updatedAt.Before(since)) {
		ch <- s.event
		if s.event.Status.Terminal() {
			sub.closed = true
			close(ch)
			return sub
		}
	}

	if b.subs[examID] == nil {
		b.subs[examID] = make(map[string]*Subscription)
	}
	b.subs[examID][sub.ID] = sub
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call more than once.
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

// SubscriberCount returns the number of live subscribers for an exam.
func (b *Broker) SubscriberCount(examID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[examID])
}

// Clear forgets the latest event of an exam and closes its subscriptions.
func (b *Broker) Clear(examID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.latest, examID)
	for _, sub := range b.subs[examID] {
		b.removeLocked(sub)
	}
}

// Prune drops terminal snapshots last updated before cutoff and returns how
// many were removed. Snapshots of running parses are kept.
func (b *Broker) Prune(cutoff time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for id, s := range b.latest {
		if s.event.Status.Terminal() && s.updatedAt.Before(cutoff) {
			delete(b.latest, id)
			removed++
		}
	}
	return removed
}

func (b *Broker) removeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	if m, ok := b.subs[sub.ExamID]; ok {
		delete(m, sub.ID)
		if len(m) == 0 {
			delete(b.subs, sub.ExamID)
		}
	}
}
