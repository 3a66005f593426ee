// Package wire implements the binary message format sent to stream clients.
//
// Every message starts with a one byte kind tag followed by a fixed
// little-endian header, so a client can decode from the first byte with no
// schema exchange:
//
//	video: 'V' | timestamp f64 | width u16 | height u16 | jpeg bytes
//	audio: 'A' | timestamp f64 | pcm bytes (s16le)
package wire

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

const (
	TagVideo byte = 'V'
	TagAudio byte = 'A'

	VideoHeaderSize = 1 + 8 + 2 + 2
	AudioHeaderSize = 1 + 8
)

// EncodeVideo builds a video message. The timestamp is unix seconds, width and
// height are the output resolution of the encoded frame.
func EncodeVideo(timestamp float64, width, height int, payload []byte) []byte {
	message := make([]byte, VideoHeaderSize+len(payload))
	message[0] = TagVideo
	binary.LittleEndian.PutUint64(message[1:], math.Float64bits(timestamp))
	binary.LittleEndian.PutUint16(message[9:], uint16(width))
	binary.LittleEndian.PutUint16(message[11:], uint16(height))
	copy(message[VideoHeaderSize:], payload)
	return message
}

// EncodeAudio builds an audio message.
func EncodeAudio(timestamp float64, payload []byte) []byte {
	message := make([]byte, AudioHeaderSize+len(payload))
	message[0] = TagAudio
	binary.LittleEndian.PutUint64(message[1:], math.Float64bits(timestamp))
	copy(message[AudioHeaderSize:], payload)
	return message
}

// Message is a decoded wire message. Width and Height are zero for audio.
type Message struct {
	Tag       byte
	Timestamp float64
	Width     int
	Height    int
	Payload   []byte
}

// Decode parses a message produced by EncodeVideo or EncodeAudio. The payload
// is a subslice of msg, not a copy.
func Decode(msg []byte) (Message, error) {
	if len(msg) == 0 {
		return Message{}, errors.New("Decode: empty message")
	}

	switch msg[0] {
	case TagVideo:
		if len(msg) < VideoHeaderSize {
			return Message{}, errors.Errorf("Decode: video header truncated: %d bytes", len(msg))
		}
		return Message{
			Tag:       TagVideo,
			Timestamp: math.Float64frombits(binary.LittleEndian.Uint64(msg[1:])),
			Width:     int(binary.LittleEndian.Uint16(msg[9:])),
			Height:    int(binary.LittleEndian.Uint16(msg[11:])),
			Payload:   msg[VideoHeaderSize:],
		}, nil
	case TagAudio:
		if len(msg) < AudioHeaderSize {
			return Message{}, errors.Errorf("Decode: audio header truncated: %d bytes", len(msg))
		}
		return Message{
			Tag:       TagAudio,
			Timestamp: math.Float64frombits(binary.LittleEndian.Uint64(msg[1:])),
			Payload:   msg[AudioHeaderSize:],
		}, nil
	default:
		return Message{}, errors.Errorf("Decode: unknown tag 0x%02x", msg[0])
	}
}
