package capture

import (
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Queue is the bounded ingestion queue between one frame source and the
// broadcaster. The producer side never blocks: when the queue is full the
// incoming event is dropped, since capture has to keep real time pace.
// Single producer, single consumer.
type Queue struct {
	kind    Kind
	events  chan Event
	dropped atomic.Uint64

	log zerolog.Logger
}

// NewQueue creates an ingestion queue for one media kind with a fixed
// capacity.
func NewQueue(kind Kind, capacity int) *Queue {
	return &Queue{
		kind:   kind,
		events: make(chan Event, capacity),
		log:    log.With().Str("queue", kind.String()).Logger(),
	}
}

// Push offers an event to the queue without blocking. It reports whether the
// event was accepted; false means the queue was full and the event dropped.
// The caller should not retry.
func (queue *Queue) Push(event Event) bool {
	select {
	case queue.events <- event:
		return true
	default:
		queue.dropped.Add(1)
		queue.log.Warn().Msg("ingestion queue full, dropping event")
		return false
	}
}

// Poll removes the oldest queued event without blocking. The second return is
// false when the queue is empty.
func (queue *Queue) Poll() (Event, bool) {
	select {
	case event := <-queue.events:
		return event, true
	default:
		return Event{}, false
	}
}

// Kind returns the media kind this queue carries.
func (queue *Queue) Kind() Kind {
	return queue.kind
}

// Len returns the current queue depth.
func (queue *Queue) Len() int {
	return len(queue.events)
}

// Cap returns the queue capacity.
func (queue *Queue) Cap() int {
	return cap(queue.events)
}

// Dropped returns how many events have been dropped on the producer side
// since the queue was created.
func (queue *Queue) Dropped() uint64 {
	return queue.dropped.Load()
}
