package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/buchio/rpi-camera-streamer/broadcast"
	"github.com/buchio/rpi-camera-streamer/capture"
	websocket_handle "github.com/buchio/rpi-camera-streamer/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

var host = pflag.String("host", "0.0.0.0", "Address to listen on")
var port = pflag.Int("port", 8080, "Port to listen on")
var source = pflag.String("source", "ffmpeg", "Capture backend: ffmpeg or pattern")
var videoDevice = pflag.String("video-device", "/dev/video0", "V4L2 device to capture from")
var width = pflag.Int("width", 640, "Output frame width")
var height = pflag.Int("height", 480, "Output frame height")
var fps = pflag.Int("fps", 15, "Capture frame rate")
var quality = pflag.Int("quality", 70, "JPEG quality, 1-100")
var enableAudio = pflag.Bool("enable-audio", false, "Capture and stream audio")
var audioDevice = pflag.String("audio-device", "default", "ALSA device to capture from")
var audioChannels = pflag.Int("audio-channels", 1, "Number of audio channels (1=mono)")
var audioSamplerate = pflag.Int("audio-samplerate", 44100, "Audio sample rate in Hz")
var videoQueue = pflag.Int("video-queue", 100, "Video ingestion queue capacity")
var audioQueue = pflag.Int("audio-queue", 256, "Audio ingestion queue capacity")
var clientQueue = pflag.Int("client-queue", 64, "Output queue capacity per client")
var reportInterval = pflag.Duration("report-interval", 10*time.Second, "Throughput report interval")
var staticDir = pflag.String("static", "./static", "Directory with the browser client")
var logLevel = pflag.String("log-level", "info", "Log level: trace, debug, info, warn, error")

func main() {
	pflag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("parse log level")
	}
	zerolog.SetGlobalLevel(level)

	videoIngest := capture.NewQueue(capture.Video, *videoQueue)
	audioIngest := capture.NewQueue(capture.Audio, *audioQueue)

	// A capture backend that fails to start only starves its own media kind,
	// the server keeps running for whatever still produces.
	switch *source {
	case "pattern":
		audioOut := audioIngest
		if !*enableAudio {
			audioOut = nil
		}
		capture.NewPattern(videoIngest, audioOut, *width, *height, *fps, *quality, *audioChannels, *audioSamplerate)
	case "ffmpeg":
		if _, err := capture.NewFFmpegVideo(videoIngest, *videoDevice, *width, *height, *fps, *quality); err != nil {
			log.Error().Err(err).Msg("video capture unavailable")
		}
		if *enableAudio {
			if _, err := capture.NewFFmpegAudio(audioIngest, *audioDevice, *audioChannels, *audioSamplerate); err != nil {
				log.Error().Err(err).Msg("audio capture unavailable")
			}
		}
	default:
		log.Fatal().Str("source", *source).Msg("unknown capture source")
	}

	hub := broadcast.New(audioIngest, videoIngest, broadcast.Config{
		ClientQueueSize: *clientQueue,
		ReportInterval:  *reportInterval,
	})

	http.Handle("/stream", websocket_handle.NewHandle(hub))
	http.Handle("/", http.FileServer(http.Dir(*staticDir)))

	addr := fmt.Sprintf("%s:%d", *host, *port)
	log.Info().Msgf("Streaming on ws://%s/stream", addr)
	log.Fatal().Err(http.ListenAndServe(addr, nil)).Msg("server stopped")
}
