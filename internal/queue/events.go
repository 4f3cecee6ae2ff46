package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names the notifications the queue publishes.
type EventType string

const (
	EventJobQueued       EventType = "job:queued"
	EventJobProgress     EventType = "job:progress"
	EventJobStatus       EventType = "job:status"
	EventJobWarning      EventType = "job:warning"
	EventJobCompleted    EventType = "job:completed"
	EventJobFailed       EventType = "job:failed"
	EventJobRetry        EventType = "job:retry"
	EventJobCancelled    EventType = "job:cancelled"
	EventJobDeadLettered EventType = "job:dlq"
	EventBackpressure    EventType = "queue:backpressure"
	EventShutdown        EventType = "queue:shutdown"
	EventDLQAlert        EventType = "dlq:alert"
)

// Event is one typed notification. Payload shape depends on Type: Progress
// for job:progress, RetryInfo for job:retry, BackpressureInfo for
// queue:backpressure, and so on.
type Event struct {
	Type    EventType
	JobID   uuid.UUID
	At      time.Time
	Payload any
}

// RetryInfo is the payload of job:retry events.
type RetryInfo struct {
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	Delay       time.Duration `json:"delay"`
	Error       string        `json:"error"`
}

// BackpressureInfo is the payload of queue:backpressure events.
type BackpressureInfo struct {
	Queued int `json:"queued"`
	Active int `json:"active"`
	Max    int `json:"max"`
}

// DLQAlertInfo is the payload of dlq:alert events.
type DLQAlertInfo struct {
	Count   int    `json:"count"`
	Message string `json:"message"`
}

// ShutdownInfo is the payload of queue:shutdown events.
type ShutdownInfo struct {
	RemainingJobs int `json:"remaining_jobs"`
	ActiveJobs    int `json:"active_jobs"`
	DLQSize       int `json:"dlq_size"`
}

// broadcaster fans events out to subscriber channels. Publishing never
// blocks: a subscriber that falls behind loses events rather than stalling
// the dispatch path.
type broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: map[int]chan Event{}}
}

// Subscribe returns a channel of events and a cancel func that closes it.
func (b *broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
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

func (b *broadcaster) publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
