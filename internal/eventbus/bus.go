// Package eventbus is an in-memory fan-out of small domain signals
// (reminder created, delivered, storage degraded) between components that
// should not import each other.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by remindbot components.
const (
	TypeReminderCreated   = "reminder.created"
	TypeReminderRemoved   = "reminder.removed"
	TypeReminderDelivered = "reminder.delivered"
	TypeDeliveryFailed    = "reminder.delivery_failed"
	TypeStorageDegraded   = "storage.degraded"
	TypeStorageRecovered  = "storage.recovered"
	TypeConfigReloaded    = "config.reloaded"
)

// Event is a small in-memory signal. Publish never blocks; a slow
// subscriber loses events once its buffer is full.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// ReminderEvent is the Data payload of reminder.* events.
type ReminderEvent struct {
	ID      int64
	OwnerID int64
	DueAt   time.Time
	Channel string
	Err     string
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Counted is implemented by buses that track dropped deliveries.
type Counted interface {
	Dropped() uint64
}

// New returns an in-memory fan-out bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			// removing under the write lock means no Publish is mid-send
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
