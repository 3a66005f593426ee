// Package capture defines the media events produced by the frame sources and
// the bounded ingestion queues that feed them to the broadcaster.
package capture

import "time"

// Kind identifies the media type of an event.
type Kind uint8

const (
	Video Kind = iota
	Audio
)

func (kind Kind) String() string {
	switch kind {
	case Video:
		return "video"
	case Audio:
		return "audio"
	default:
		return "unknown"
	}
}

// Event is one unit of captured media: a JPEG still for video or a block of
// s16le PCM for audio. Timestamp is unix seconds at capture time and is only
// used for client side presentation, never for server side sequencing. Width
// and Height are set for video only and carry the output resolution after any
// resize, so clients decode without renegotiation.
type Event struct {
	Kind      Kind
	Timestamp float64
	Width     int
	Height    int
	Payload   []byte
}

// Now returns the current time as unix seconds with fractional precision.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
