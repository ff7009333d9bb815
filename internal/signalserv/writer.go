package signalserv

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/driftroom/driftroom/pkg/protocol"
)

// connWriter serializes writes to one WebSocket connection. gorilla permits
// a single concurrent writer, and the hub's delivery goroutine races the
// ping loop without it.
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newConnWriter(conn *websocket.Conn) *connWriter {
	return &connWriter{conn: conn}
}

func (w *connWriter) sendJSON(env protocol.Envelope) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteJSON(env)
}

func (w *connWriter) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.mu.Lock()
			err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
