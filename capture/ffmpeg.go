package capture

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// audio capture block, in samples per channel
const AUDIO_BLOCK_SIZE = 2048

// FFmpegVideo captures JPEG frames from a V4L2 device through an ffmpeg
// pipe and pushes one event per frame into its ingestion queue.
type FFmpegVideo struct {
	queue  *Queue
	cmd    *exec.Cmd
	width  int
	height int

	closing atomic.Bool
	log     zerolog.Logger
}

// NewFFmpegVideo spawns ffmpeg reading the given device and starts the frame
// scanner. Quality is the JPEG quality from 1 to 100 as the CLI exposes it.
func NewFFmpegVideo(queue *Queue, device string, width, height, fps, quality int) (*FFmpegVideo, error) {
	cmd := exec.Command("ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2",
		"-framerate", fmt.Sprint(fps),
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-i", device,
		"-c:v", "mjpeg",
		"-q:v", fmt.Sprint(qscale(quality)),
		"-f", "mjpeg", "-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "NewFFmpegVideo")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "NewFFmpegVideo")
	}

	source := &FFmpegVideo{
		queue:  queue,
		cmd:    cmd,
		width:  width,
		height: height,
		log:    log.With().Str("source", "ffmpeg-video").Str("device", device).Logger(),
	}

	source.log.Info().Int("width", width).Int("height", height).Int("fps", fps).Msg("video capture started")
	go source.scan(stdout)

	return source, nil
}

// qscale maps a 1-100 JPEG quality to the 2-31 ffmpeg qscale range, where
// lower means better.
func qscale(quality int) int {
	if quality < 1 {
		quality = 1
	} else if quality > 100 {
		quality = 100
	}
	return 2 + (100-quality)*29/99
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// scan splits the concatenated MJPEG stream on SOI/EOI markers and pushes one
// event per complete frame. It returns when the pipe closes.
func (source *FFmpegVideo) scan(reader io.Reader) {
	defer source.reap()

	pending := make([]byte, 0, 1<<17)
	chunk := make([]byte, 32*1024)
	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			pending = append(pending, chunk[:n]...)
			pending = source.emitFrames(pending)
		}
		if err != nil {
			if !source.closing.Load() {
				source.log.Error().Err(err).Msg("video pipe closed")
			}
			return
		}
	}
}

// emitFrames pushes every complete JPEG found in pending and returns the
// remaining incomplete tail.
func (source *FFmpegVideo) emitFrames(pending []byte) []byte {
	for {
		start := bytes.Index(pending, jpegSOI)
		if start < 0 {
			// keep the last byte in case a marker is split across reads
			if len(pending) > 1 {
				pending = append(pending[:0], pending[len(pending)-1:]...)
			}
			return pending
		}

		end := bytes.Index(pending[start+2:], jpegEOI)
		if end < 0 {
			return append(pending[:0], pending[start:]...)
		}
		stop := start + 2 + end + 2

		frame := make([]byte, stop-start)
		copy(frame, pending[start:stop])
		source.queue.Push(Event{
			Kind:      Video,
			Timestamp: Now(),
			Width:     source.width,
			Height:    source.height,
			Payload:   frame,
		})

		pending = append(pending[:0], pending[stop:]...)
	}
}

// Close stops the capture process. The scanner goroutine exits once the pipe
// drains.
func (source *FFmpegVideo) Close() error {
	source.closing.Store(true)
	source.log.Warn().Msg("closing video capture")
	return source.cmd.Process.Kill()
}

func (source *FFmpegVideo) reap() {
	if err := source.cmd.Wait(); err != nil && !source.closing.Load() {
		source.log.Error().Err(err).Msg("ffmpeg exited")
	}
}

// FFmpegAudio captures fixed size s16le PCM blocks from an ALSA device
// through an ffmpeg pipe.
type FFmpegAudio struct {
	queue      *Queue
	cmd        *exec.Cmd
	channels   int
	sampleRate int

	closing atomic.Bool
	log     zerolog.Logger
}

// NewFFmpegAudio spawns ffmpeg reading the given ALSA device and starts the
// block reader. One event is pushed per block of AUDIO_BLOCK_SIZE samples.
func NewFFmpegAudio(queue *Queue, device string, channels, sampleRate int) (*FFmpegAudio, error) {
	cmd := exec.Command("ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-f", "alsa",
		"-ac", fmt.Sprint(channels),
		"-ar", fmt.Sprint(sampleRate),
		"-i", device,
		"-c:a", "pcm_s16le",
		"-f", "s16le", "-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "NewFFmpegAudio")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "NewFFmpegAudio")
	}

	source := &FFmpegAudio{
		queue:      queue,
		cmd:        cmd,
		channels:   channels,
		sampleRate: sampleRate,
		log:        log.With().Str("source", "ffmpeg-audio").Str("device", device).Logger(),
	}

	source.log.Info().Int("channels", channels).Int("sampleRate", sampleRate).Msg("audio capture started")
	go source.read(stdout)

	return source, nil
}

// read pushes one event per full PCM block. It returns when the pipe closes.
func (source *FFmpegAudio) read(reader io.Reader) {
	defer source.reap()

	blockBytes := AUDIO_BLOCK_SIZE * source.channels * 2
	for {
		block := make([]byte, blockBytes)
		if _, err := io.ReadFull(reader, block); err != nil {
			if !source.closing.Load() {
				source.log.Error().Err(err).Msg("audio pipe closed")
			}
			return
		}

		source.queue.Push(Event{
			Kind:      Audio,
			Timestamp: Now(),
			Payload:   block,
		})
	}
}

// Close stops the capture process.
func (source *FFmpegAudio) Close() error {
	source.closing.Store(true)
	source.log.Warn().Msg("closing audio capture")
	return source.cmd.Process.Kill()
}

func (source *FFmpegAudio) reap() {
	if err := source.cmd.Wait(); err != nil && !source.closing.Load() {
		source.log.Error().Err(err).Msg("ffmpeg exited")
	}
}
