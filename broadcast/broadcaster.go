package broadcast

import (
	"time"

	"github.com/buchio/rpi-camera-streamer/wire"
	"github.com/google/uuid"
)

// IDLE_SLEEP is how long the broadcaster yields when both ingestion queues
// are empty, instead of spinning.
const IDLE_SLEEP = 500 * time.Microsecond

// run is the broadcaster loop: poll audio first, then video, encode, fan out.
// Audio goes first because a glitch there is perceptually worse than a
// dropped frame and its payloads are small.
func (hub *Hub) run() {
	hub.log.Debug().Msg("broadcaster started")
	defer close(hub.done)

	ticker := time.NewTicker(hub.config.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hub.stop:
			hub.log.Debug().Msg("broadcaster stopped")
			return
		case <-ticker.C:
			hub.report()
		default:
		}

		if !hub.serveOnce() {
			time.Sleep(IDLE_SLEEP)
		}
	}
}

// serveOnce drains at most one event per ingestion queue, audio first, and
// fans each out to every client. It reports whether any event was served.
func (hub *Hub) serveOnce() bool {
	busy := false
	if event, ok := hub.audio.Poll(); ok {
		hub.broadcast(wire.EncodeAudio(event.Timestamp, event.Payload), len(event.Payload))
		busy = true
	}
	if event, ok := hub.video.Poll(); ok {
		hub.broadcast(wire.EncodeVideo(event.Timestamp, event.Width, event.Height, event.Payload), len(event.Payload))
		busy = true
	}
	return busy
}

// broadcast pushes one encoded message onto every registered client's output
// queue. The message is freshly allocated by the encoder and only read after
// this point, so all clients share the same slice.
func (hub *Hub) broadcast(message []byte, payloadSize int) {
	hub.messages++
	hub.payloadBytes += payloadSize

	hub.clients.ForEach(func(_ uuid.UUID, attached *client) {
		attached.push(message)
	})
}

// report logs one throughput line and resets the interval counters.
func (hub *Hub) report() {
	meanPayload := 0
	if hub.messages > 0 {
		meanPayload = hub.payloadBytes / hub.messages
	}

	hub.log.Info().
		Int("clients", hub.clients.Len()).
		Int("audioDepth", hub.audio.Len()).
		Int("videoDepth", hub.video.Len()).
		Uint64("audioDropped", hub.audio.Dropped()).
		Uint64("videoDropped", hub.video.Dropped()).
		Int("messages", hub.messages).
		Int("meanPayloadBytes", meanPayload).
		Msg("throughput")

	hub.messages = 0
	hub.payloadBytes = 0
}
