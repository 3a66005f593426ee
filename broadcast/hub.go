// Package broadcast fans captured media out to every connected client. The
// hub owns the client registry, one bounded output queue per client drained
// by its own sender goroutine, and the broadcaster loop that moves events
// from the ingestion queues onto the output queues.
package broadcast

import (
	"sync"
	"time"

	"github.com/buchio/rpi-camera-streamer/capture"
	"github.com/buchio/rpi-camera-streamer/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DEFAULT_CLIENT_QUEUE_SIZE = 64
	DEFAULT_REPORT_INTERVAL   = 10 * time.Second
)

// Peer delivers encoded messages to one connected network client. Send may
// block but must eventually return; an error means the peer is gone for good.
type Peer interface {
	Send(message []byte) error
	Close() error
	Addr() string
}

type Config struct {
	// ClientQueueSize is the output queue capacity per client.
	ClientQueueSize int
	// ReportInterval is how often the broadcaster logs throughput.
	ReportInterval time.Duration
}

// Hub multiplexes the ingestion queues onto the output queue of every
// attached client.
type Hub struct {
	audio *capture.Queue
	video *capture.Queue

	clients *common.SyncMap[uuid.UUID, *client]
	config  Config

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// interval counters, touched only by the broadcaster goroutine
	messages     int
	payloadBytes int

	log zerolog.Logger
}

// New creates a hub draining the given ingestion queues and starts the
// broadcaster goroutine. Zero config fields fall back to defaults.
func New(audio, video *capture.Queue, config Config) *Hub {
	hub := newHub(audio, video, config)
	go hub.run()
	return hub
}

func newHub(audio, video *capture.Queue, config Config) *Hub {
	if config.ClientQueueSize <= 0 {
		config.ClientQueueSize = DEFAULT_CLIENT_QUEUE_SIZE
	}
	if config.ReportInterval <= 0 {
		config.ReportInterval = DEFAULT_REPORT_INTERVAL
	}

	return &Hub{
		audio:   audio,
		video:   video,
		clients: common.NewSyncMap[uuid.UUID, *client](),
		config:  config,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     log.With().Str("component", "hub").Logger(),
	}
}

// Attach registers a peer and starts its sender. Once Attach returns the
// client receives every following broadcast iteration.
func (hub *Hub) Attach(peer Peer) uuid.UUID {
	id := uuid.New()
	hub.clients.Set(id, newClient(id, peer, hub, hub.config.ClientQueueSize))

	hub.log.Info().Str("id", id.String()).Str("addr", peer.Addr()).Int("clients", hub.clients.Len()).Msg("client attached")
	return id
}

// Detach removes a client and terminates its sender. Detaching an unknown or
// already detached id is a no-op.
func (hub *Hub) Detach(id uuid.UUID) {
	removed, ok := hub.clients.Pop(id)
	if !ok {
		return
	}

	// The broadcaster only pushes inside the registry lock, and Pop went
	// through that same lock, so nothing can push after this close. The
	// close is the sender's termination sentinel.
	close(removed.queue)

	hub.log.Info().Str("id", id.String()).Int("clients", hub.clients.Len()).Msg("client detached")
}

// Close stops the broadcaster and detaches every client.
func (hub *Hub) Close() {
	hub.closeOnce.Do(func() {
		hub.log.Warn().Msg("closing hub")
		close(hub.stop)
		<-hub.done

		ids := make([]uuid.UUID, 0, hub.clients.Len())
		hub.clients.ForEach(func(id uuid.UUID, _ *client) {
			ids = append(ids, id)
		})
		for _, id := range ids {
			hub.Detach(id)
		}
	})
}
