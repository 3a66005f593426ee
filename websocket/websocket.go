// Package websocket is the transport collaborator: it upgrades HTTP requests
// to websocket connections, attaches each one to the hub, and detaches it
// when the peer goes away.
package websocket

import (
	"net/http"
	"sync"

	"github.com/buchio/rpi-camera-streamer/broadcast"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Handle struct {
	upgrader *websocket.Upgrader
	hub      *broadcast.Hub
}

func NewHandle(hub *broadcast.Hub) *Handle {
	return &Handle{
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		hub: hub,
	}
}

func (handle *Handle) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	defer request.Body.Close()

	conn, err := handle.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		log.Error().Err(err).Msg("Handle: ServeHTTP: Upgrade")
		return
	}

	peer := NewPeer(conn)
	id := handle.hub.Attach(peer)

	// Clients send nothing on the stream channel; the read loop only exists
	// to notice the peer going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				log.Debug().Err(err).Str("addr", peer.Addr()).Msg("peer gone")
				handle.hub.Detach(id)
				peer.Close()
				return
			}
		}
	}()
}

// Peer wraps one websocket connection behind the hub's Peer interface.
// Writes are serialized since the hub's sender and the close path may touch
// the connection concurrently.
type Peer struct {
	connMx sync.Mutex
	conn   *websocket.Conn
}

func NewPeer(conn *websocket.Conn) *Peer {
	return &Peer{conn: conn}
}

// Send delivers one encoded message as a binary websocket frame.
func (peer *Peer) Send(message []byte) error {
	peer.connMx.Lock()
	defer peer.connMx.Unlock()
	return peer.conn.WriteMessage(websocket.BinaryMessage, message)
}

func (peer *Peer) Close() error {
	return peer.conn.Close()
}

func (peer *Peer) Addr() string {
	return peer.conn.RemoteAddr().String()
}
