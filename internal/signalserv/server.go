// Package signalserv implements the rendezvous relay. It never sees room
// traffic: peers register under a room code, learn who is present, and
// exchange opaque offer/answer blobs to bring up their direct links.
package signalserv

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/driftroom/driftroom/internal/peers"
	"github.com/driftroom/driftroom/pkg/protocol"
)

const (
	// maxMessageBytes bounds a single signaling message. SDP blobs with
	// gathered candidates fit comfortably.
	maxMessageBytes = 256 * 1024

	// joinTimeout bounds how long a connection may idle before sending
	// its join message.
	joinTimeout = 10 * time.Second

	// idleTimeout disconnects sockets that stop answering pings.
	idleTimeout = 10 * time.Minute

	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server relays signaling traffic between room members.
type Server struct {
	hub *peers.Hub
	log *slog.Logger
}

// New creates a relay server.
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub: peers.NewHub(),
		log: logger,
	}
}

// Handler returns the HTTP handler exposing /health and /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Members returns the current membership of a room.
func (s *Server) Members(roomCode string) []protocol.SignalPeer {
	return s.hub.List(roomCode)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageBytes)

	// The first message must register the peer with a room.
	conn.SetReadDeadline(time.Now().Add(joinTimeout))
	join, err := readJoin(conn)
	if err != nil {
		s.log.Warn("join failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	if join.RoomCode == "" || join.PeerID == "" {
		s.log.Warn("join rejected", "room", join.RoomCode, "peer_id", join.PeerID)
		return
	}

	writer := newConnWriter(conn)
	conn.SetReadDeadline(time.Now().Add(idleTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		return nil
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go writer.pingLoop(stopPing)

	connID := protocol.NewMsgID()
	m := peers.Member{
		Peer: protocol.SignalPeer{
			PeerID:   join.PeerID,
			Nickname: join.Nickname,
			Priority: join.Priority,
		},
		ConnID: connID,
	}

	// Snapshot existing members before registering so the newcomer's own
	// entry is excluded from the roster it receives.
	existing := s.hub.List(join.RoomCode)

	removeMember := s.hub.Add(join.RoomCode, m, writer.sendJSON)
	defer removeMember()

	s.log.Info("peer joined room", "room", join.RoomCode, "peer_id", join.PeerID, "nickname", join.Nickname)

	if err := s.sendServerEnvelope(writer, protocol.TypeSignalMembers, protocol.SignalMembers{Peers: existing}); err != nil {
		s.log.Error("send members failed", "error", err)
		return
	}

	joinedEnv, err := serverEnvelope(protocol.TypeSignalJoined, protocol.SignalJoined{Peer: m.Peer})
	if err != nil {
		s.log.Error("build joined envelope failed", "error", err)
		return
	}
	s.hub.BroadcastExcept(join.RoomCode, join.PeerID, joinedEnv)

	defer func() {
		leftEnv, err := serverEnvelope(protocol.TypeSignalLeft, protocol.SignalLeft{PeerID: join.PeerID})
		if err != nil {
			return
		}
		s.hub.BroadcastExcept(join.RoomCode, join.PeerID, leftEnv)
		s.log.Info("peer left room", "room", join.RoomCode, "peer_id", join.PeerID)
	}()

	s.readLoop(conn, join.RoomCode, join.PeerID)
}

func (s *Server) readLoop(conn *websocket.Conn, roomCode, peerID string) {
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Error("websocket read error", "error", err, "peer_id", peerID)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(idleTimeout))

		if messageType != websocket.TextMessage {
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			s.log.Warn("invalid JSON envelope", "error", err, "peer_id", peerID)
			continue
		}
		if err := env.ValidateBasic(); err != nil {
			s.log.Warn("invalid envelope", "error", err, "peer_id", peerID)
			continue
		}

		// The sender's identity comes from its registration, never from
		// the envelope it wrote.
		env.From = peerID

		switch env.Type {
		case protocol.TypeSignalRelay:
			var relay protocol.SignalRelay
			if err := env.DecodePayload(&relay); err != nil {
				s.log.Warn("malformed relay dropped", "error", err, "peer_id", peerID)
				continue
			}
			if !s.hub.SendTo(roomCode, relay.To, env) {
				s.log.Warn("relay target not found", "from", peerID, "to", relay.To)
			}
		default:
			s.log.Debug("unexpected signaling message dropped", "type", env.Type, "peer_id", peerID)
		}
	}
}

func readJoin(conn *websocket.Conn) (protocol.SignalJoin, error) {
	var join protocol.SignalJoin
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return join, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			return join, err
		}
		if env.Type != protocol.TypeSignalJoin {
			continue
		}
		if err := env.DecodePayload(&join); err != nil {
			return join, err
		}
		return join, nil
	}
}

func serverEnvelope(msgType string, payload any) (protocol.Envelope, error) {
	return protocol.NewEnvelope(msgType, "server", payload)
}

func (s *Server) sendServerEnvelope(w *connWriter, msgType string, payload any) error {
	env, err := serverEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	return w.sendJSON(env)
}
