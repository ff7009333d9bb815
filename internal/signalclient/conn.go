// Package signalclient is the peer-side connection to the rendezvous relay.
package signalclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/driftroom/driftroom/pkg/protocol"
)

var dialer = websocket.Dialer{
	HandshakeTimeout: 5 * time.Second,
}

// Conn is a WebSocket connection to the signaling relay.
type Conn struct {
	conn     *websocket.Conn
	logger   *slog.Logger
	localID  string
	sendChan chan protocol.Envelope
	done     chan struct{}
	writeMu  sync.Mutex
}

// Dial connects to the relay and registers with a room. serverURL accepts
// http(s) or ws(s) schemes; the /ws path is appended when missing.
func Dial(ctx context.Context, serverURL string, join protocol.SignalJoin, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	wsURL, err := toWebSocketURL(serverURL)
	if err != nil {
		return nil, err
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket upgrade failed (%d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket upgrade failed (%d)", resp.StatusCode)
		}
		return nil, err
	}

	c := &Conn{
		conn:     conn,
		logger:   logger,
		localID:  join.PeerID,
		sendChan: make(chan protocol.Envelope, 256),
		done:     make(chan struct{}),
	}

	go c.writeLoop()

	env, err := protocol.NewEnvelope(protocol.TypeSignalJoin, join.PeerID, join)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("build join envelope: %w", err)
	}
	if err := c.Send(env); err != nil {
		c.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	return c, nil
}

// toWebSocketURL normalizes a relay URL to its ws(s)://.../ws form.
func toWebSocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	}
	return u.String(), nil
}

// ReadLoop reads relay messages and calls onEnv for each envelope. Returns
// when the connection drops or the context is cancelled.
func (c *Conn) ReadLoop(ctx context.Context, onEnv func(env protocol.Envelope)) error {
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.writeMu.Lock()
				c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				err := c.conn.WriteMessage(websocket.PingMessage, nil)
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		// Closing the connection forces ReadMessage to unblock instantly.
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", "error", err)
			}
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Warn("invalid JSON envelope", "error", err)
			continue
		}
		onEnv(env)
	}
}

// Relay sends an offer or answer blob to a specific peer through the relay.
func (c *Conn) Relay(to, kind, blob string) error {
	env, err := protocol.NewEnvelope(protocol.TypeSignalRelay, c.localID, protocol.SignalRelay{
		To:   to,
		Kind: kind,
		Blob: blob,
	})
	if err != nil {
		return fmt.Errorf("build relay envelope: %w", err)
	}
	return c.Send(env)
}

// Send queues an envelope for writing. Writes are serialized on a single
// goroutine to satisfy the websocket single-writer requirement.
func (c *Conn) Send(env protocol.Envelope) error {
	select {
	case c.sendChan <- env:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	}
}

func (c *Conn) writeLoop() {
	defer close(c.done)
	for env := range c.sendChan {
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err := c.conn.WriteJSON(env)
		c.writeMu.Unlock()
		if err != nil {
			c.logger.Error("websocket write error", "error", err)
			return
		}
	}
}

// Close closes the connection.
func (c *Conn) Close() error {
	close(c.sendChan)
	<-c.done
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Close()
}
