package capture

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Pattern is a synthetic frame source for machines without capture devices:
// a moving gradient for video and a sine tone for audio. Pass a nil queue to
// disable either kind.
type Pattern struct {
	video *Queue
	audio *Queue

	width   int
	height  int
	fps     int
	quality int

	channels   int
	sampleRate int

	stop chan struct{}
	log  zerolog.Logger
}

// NewPattern starts the generator goroutines, one per enabled kind.
func NewPattern(video, audio *Queue, width, height, fps, quality, channels, sampleRate int) *Pattern {
	pattern := &Pattern{
		video:      video,
		audio:      audio,
		width:      width,
		height:     height,
		fps:        fps,
		quality:    quality,
		channels:   channels,
		sampleRate: sampleRate,
		stop:       make(chan struct{}),
		log:        log.With().Str("source", "pattern").Logger(),
	}

	if video != nil {
		go pattern.runVideo()
	}
	if audio != nil {
		go pattern.runAudio()
	}

	return pattern
}

// runVideo emits one JPEG frame per tick at the configured rate.
func (pattern *Pattern) runVideo() {
	pattern.log.Info().Int("fps", pattern.fps).Msg("pattern video started")

	ticker := time.NewTicker(time.Second / time.Duration(pattern.fps))
	defer ticker.Stop()

	frame := 0
	for {
		select {
		case <-ticker.C:
			pattern.video.Push(Event{
				Kind:      Video,
				Timestamp: Now(),
				Width:     pattern.width,
				Height:    pattern.height,
				Payload:   pattern.renderFrame(frame),
			})
			frame++
		case <-pattern.stop:
			pattern.log.Debug().Msg("pattern video stopped")
			return
		}
	}
}

// renderFrame draws a gradient shifted by the frame counter and encodes it as
// JPEG.
func (pattern *Pattern) renderFrame(frame int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, pattern.width, pattern.height))
	for y := 0; y < pattern.height; y++ {
		for x := 0; x < pattern.width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x + frame),
				G: uint8(y + frame),
				B: uint8(x + y),
				A: 0xFF,
			})
		}
	}

	var encoded bytes.Buffer
	if err := jpeg.Encode(&encoded, img, &jpeg.Options{Quality: pattern.quality}); err != nil {
		pattern.log.Error().Err(err).Msg("jpeg encode")
		return nil
	}
	return encoded.Bytes()
}

// runAudio emits 440Hz sine blocks of AUDIO_BLOCK_SIZE samples at the cadence
// a real device would produce them.
func (pattern *Pattern) runAudio() {
	pattern.log.Info().Int("sampleRate", pattern.sampleRate).Msg("pattern audio started")

	interval := time.Duration(AUDIO_BLOCK_SIZE) * time.Second / time.Duration(pattern.sampleRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	phase := 0.0
	step := 2 * math.Pi * 440 / float64(pattern.sampleRate)
	for {
		select {
		case <-ticker.C:
			block := make([]byte, AUDIO_BLOCK_SIZE*pattern.channels*2)
			for sample := 0; sample < AUDIO_BLOCK_SIZE; sample++ {
				value := int16(math.Sin(phase) * 0.2 * math.MaxInt16)
				phase += step
				for channel := 0; channel < pattern.channels; channel++ {
					offset := (sample*pattern.channels + channel) * 2
					binary.LittleEndian.PutUint16(block[offset:], uint16(value))
				}
			}

			pattern.audio.Push(Event{
				Kind:      Audio,
				Timestamp: Now(),
				Payload:   block,
			})
		case <-pattern.stop:
			pattern.log.Debug().Msg("pattern audio stopped")
			return
		}
	}
}

// Close stops the generator goroutines.
func (pattern *Pattern) Close() error {
	pattern.log.Warn().Msg("closing pattern source")
	close(pattern.stop)
	return nil
}
