package broadcast

import (
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/buchio/rpi-camera-streamer/capture"
	"github.com/buchio/rpi-camera-streamer/wire"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

// fakePeer records every delivered message on a buffered channel.
type fakePeer struct {
	messages chan []byte
	closed   atomic.Bool
}

func newFakePeer(buffer int) *fakePeer {
	return &fakePeer{messages: make(chan []byte, buffer)}
}

func (peer *fakePeer) Send(message []byte) error {
	peer.messages <- message
	return nil
}

func (peer *fakePeer) Close() error {
	peer.closed.Store(true)
	return nil
}

func (peer *fakePeer) Addr() string { return "fake" }

// stalledPeer blocks every Send until released, simulating a consumer that
// never drains.
type stalledPeer struct {
	release chan struct{}
}

func (peer *stalledPeer) Send([]byte) error {
	<-peer.release
	return nil
}

func (peer *stalledPeer) Close() error { return nil }
func (peer *stalledPeer) Addr() string { return "stalled" }

// failingPeer rejects every Send, simulating a closed connection.
type failingPeer struct {
	closed atomic.Bool
}

func (peer *failingPeer) Send([]byte) error {
	return errors.New("peer gone")
}

func (peer *failingPeer) Close() error {
	peer.closed.Store(true)
	return nil
}

func (peer *failingPeer) Addr() string { return "failing" }

// discardPeer accepts and counts every Send without blocking.
type discardPeer struct {
	sent atomic.Uint64
}

func (peer *discardPeer) Send([]byte) error {
	peer.sent.Add(1)
	return nil
}

func (peer *discardPeer) Close() error { return nil }
func (peer *discardPeer) Addr() string { return "discard" }

func recv(t *testing.T, peer *fakePeer) wire.Message {
	t.Helper()
	select {
	case raw := <-peer.messages:
		decoded, err := wire.Decode(raw)
		require.NoError(t, err)
		return decoded
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return wire.Message{}
	}
}

func testQueues(videoCap, audioCap int) (audio, video *capture.Queue) {
	return capture.NewQueue(capture.Audio, audioCap), capture.NewQueue(capture.Video, videoCap)
}

func TestSingleClientOrdering(t *testing.T) {
	audio, video := testQueues(16, 16)
	hub := New(audio, video, Config{})
	defer hub.Close()

	peer := newFakePeer(16)
	hub.Attach(peer)

	for ts := 1; ts <= 3; ts++ {
		require.True(t, video.Push(capture.Event{Kind: capture.Video, Timestamp: float64(ts), Width: 640, Height: 480}))
	}

	for ts := 1; ts <= 3; ts++ {
		message := recv(t, peer)
		assert.Equal(t, wire.TagVideo, message.Tag)
		assert.Equal(t, float64(ts), message.Timestamp)
		assert.Equal(t, 640, message.Width)
		assert.Equal(t, 480, message.Height)
	}
}

func TestAudioServedBeforeVideo(t *testing.T) {
	audioQueue, videoQueue := testQueues(16, 16)
	hub := newHub(audioQueue, videoQueue, Config{})

	peer := newFakePeer(16)
	id := hub.Attach(peer)
	defer hub.Detach(id)

	// video arrives first, audio still goes out first within the iteration
	videoQueue.Push(capture.Event{Kind: capture.Video, Timestamp: 1})
	audioQueue.Push(capture.Event{Kind: capture.Audio, Timestamp: 2})

	require.True(t, hub.serveOnce())

	assert.Equal(t, wire.TagAudio, recv(t, peer).Tag)
	assert.Equal(t, wire.TagVideo, recv(t, peer).Tag)
}

func TestStalledClientDoesNotBlockOthers(t *testing.T) {
	audio, video := testQueues(2048, 16)
	hub := New(audio, video, Config{ClientQueueSize: 8})
	defer hub.Close()

	stalled := &stalledPeer{release: make(chan struct{})}
	defer close(stalled.release)
	stalledID := hub.Attach(stalled)

	healthy := newFakePeer(2048)
	hub.Attach(healthy)

	for ts := 1; ts <= 1000; ts++ {
		video.Push(capture.Event{Kind: capture.Video, Timestamp: float64(ts)})
	}

	// the healthy client keeps receiving an in-order stream
	previous := 0.0
	for count := 0; count < 100; count++ {
		message := recv(t, healthy)
		assert.Greater(t, message.Timestamp, previous)
		previous = message.Timestamp
	}

	// the stalled client's queue stays bounded
	attached, ok := hub.clients.Get(stalledID)
	require.True(t, ok)
	assert.LessOrEqual(t, len(attached.queue), 8)
}

func TestPushEvictsOldestOnOverflow(t *testing.T) {
	// no sender running, the queue fills and eviction kicks in
	attached := &client{
		queue: make(chan []byte, 4),
		done:  make(chan struct{}),
		log:   zerolog.Nop(),
	}

	for sequence := byte(1); sequence <= 5; sequence++ {
		attached.push([]byte{sequence})
	}

	drained := []byte{}
	for len(attached.queue) > 0 {
		drained = append(drained, (<-attached.queue)[0])
	}
	assert.Equal(t, []byte{2, 3, 4, 5}, drained)
}

func TestSenderStopsOnDetach(t *testing.T) {
	audio, video := testQueues(16, 16)
	hub := newHub(audio, video, Config{})

	peer := newFakePeer(16)
	id := hub.Attach(peer)
	attached, ok := hub.clients.Get(id)
	require.True(t, ok)

	hub.Detach(id)

	select {
	case <-attached.done:
	case <-time.After(2 * time.Second):
		t.Fatal("sender did not terminate after detach")
	}
}

func TestSenderDetachesOnTransportFailure(t *testing.T) {
	audio, video := testQueues(16, 16)
	hub := newHub(audio, video, Config{})

	peer := &failingPeer{}
	id := hub.Attach(peer)
	attached, ok := hub.clients.Get(id)
	require.True(t, ok)

	video.Push(capture.Event{Kind: capture.Video, Timestamp: 1})
	hub.serveOnce()

	select {
	case <-attached.done:
	case <-time.After(2 * time.Second):
		t.Fatal("sender did not terminate after send failure")
	}

	assert.Equal(t, 0, hub.clients.Len())
	assert.True(t, peer.closed.Load())
}

func TestDetachIsIdempotent(t *testing.T) {
	audio, video := testQueues(16, 16)
	hub := newHub(audio, video, Config{})

	id := hub.Attach(newFakePeer(1))
	hub.Detach(id)
	hub.Detach(id)
	hub.Detach(uuid.New())

	assert.Equal(t, 0, hub.clients.Len())
}

func TestStarvationIndependence(t *testing.T) {
	audio, video := testQueues(16, 64)
	hub := New(audio, video, Config{})
	defer hub.Close()

	peer := newFakePeer(64)
	hub.Attach(peer)

	// the video source never emits, audio still flows
	for ts := 1; ts <= 20; ts++ {
		audio.Push(capture.Event{Kind: capture.Audio, Timestamp: float64(ts)})
	}

	for ts := 1; ts <= 20; ts++ {
		message := recv(t, peer)
		assert.Equal(t, wire.TagAudio, message.Tag)
		assert.Equal(t, float64(ts), message.Timestamp)
	}
}

func TestRegistryChurn(t *testing.T) {
	audio, video := testQueues(16, 4096)
	hub := New(audio, video, Config{ClientQueueSize: 16})
	defer hub.Close()

	stopFeed := make(chan struct{})
	var feed sync.WaitGroup
	feed.Add(1)
	go func() {
		defer feed.Done()
		ts := 0.0
		for {
			select {
			case <-stopFeed:
				return
			default:
				ts++
				video.Push(capture.Event{Kind: capture.Video, Timestamp: ts})
				time.Sleep(50 * time.Microsecond)
			}
		}
	}()

	doneMx := sync.Mutex{}
	senders := []chan struct{}{}

	var churn sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		churn.Add(1)
		go func() {
			defer churn.Done()
			for round := 0; round < 50; round++ {
				id := hub.Attach(&discardPeer{})
				attached, ok := hub.clients.Get(id)
				time.Sleep(100 * time.Microsecond)
				hub.Detach(id)
				if ok {
					doneMx.Lock()
					senders = append(senders, attached.done)
					doneMx.Unlock()
				}
			}
		}()
	}

	churn.Wait()
	close(stopFeed)
	feed.Wait()

	// every detached client's sender observably terminates
	for _, done := range senders {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("leaked sender after churn")
		}
	}
}
