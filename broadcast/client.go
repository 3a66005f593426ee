package broadcast

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// client pairs one peer with its bounded output queue. The broadcaster is the
// only producer, the sender goroutine the only consumer, so the queue needs
// no lock of its own.
type client struct {
	id   uuid.UUID
	peer Peer
	hub  *Hub

	queue chan []byte
	// done is closed when the sender goroutine exits
	done chan struct{}

	log zerolog.Logger
}

func newClient(id uuid.UUID, peer Peer, hub *Hub, queueSize int) *client {
	attached := &client{
		id:    id,
		peer:  peer,
		hub:   hub,
		queue: make(chan []byte, queueSize),
		done:  make(chan struct{}),
		log:   log.With().Str("client", id.String()).Str("addr", peer.Addr()).Logger(),
	}

	go attached.send()

	return attached
}

// push enqueues a message without ever blocking the broadcaster. On overflow
// it evicts the oldest queued message and retries once, so a slow client sees
// gaps instead of stalling everyone else. Called only by the broadcaster,
// only while the client is registered.
func (attached *client) push(message []byte) {
	select {
	case attached.queue <- message:
		return
	default:
	}

	select {
	case <-attached.queue:
	default:
	}

	select {
	case attached.queue <- message:
		attached.log.Trace().Msg("output queue full, evicted oldest message")
	default:
		// lost the eviction race against the sender, drop the new message
		attached.log.Trace().Msg("output queue full, message dropped")
	}
}

// send drains the output queue in order and forwards each message to the
// peer. It exits when the queue is closed or the peer fails; an empty queue
// just blocks it. On peer failure it detaches itself so the broadcaster stops
// targeting it.
func (attached *client) send() {
	defer close(attached.done)

	for message := range attached.queue {
		if err := attached.peer.Send(message); err != nil {
			attached.log.Error().Err(err).Msg("send failed, detaching client")
			attached.hub.Detach(attached.id)
			attached.peer.Close()
			return
		}
	}

	attached.log.Debug().Msg("sender stopped")
}
