// Package rtclink carries mesh traffic between two peers over a WebRTC data
// channel. The signaling relay only brokers the SDP exchange; once the
// channel opens, all room traffic flows peer to peer.
package rtclink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/driftroom/driftroom/internal/link"
)

// channelLabel names the single data channel a link runs on.
const channelLabel = "driftroom"

// openTimeout bounds how long a data channel may take to open.
const openTimeout = 30 * time.Second

// Config holds the ICE setup for new links.
type Config struct {
	StunServers []string
	TurnServers []string
	Logger      *slog.Logger
}

func peerConnectionConfig(cfg Config) webrtc.Configuration {
	var iceServers []webrtc.ICEServer
	if len(cfg.StunServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: cfg.StunServers})
	}
	for _, turn := range cfg.TurnServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{turn}})
	}
	return webrtc.Configuration{ICEServers: iceServers}
}

// Link is a mesh PeerLink backed by one WebRTC data channel.
type Link struct {
	pc  *webrtc.PeerConnection
	log *slog.Logger

	openCh   chan struct{}
	openOnce sync.Once

	mu        sync.Mutex
	dc        *webrtc.DataChannel
	handlers  link.Handlers
	bound     bool
	pending   [][]byte
	closed    bool
	closeOnce sync.Once
}

var _ link.PeerLink = (*Link)(nil)

// New creates an unconnected link. The offering side calls Offer and feeds
// the remote's answer to AcceptAnswer; the answering side calls Answer.
// Either way, WaitOpen gates the first Send.
func New(cfg Config) (*Link, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pc, err := webrtc.NewPeerConnection(peerConnectionConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	l := &Link{
		pc:     pc,
		log:    logger,
		openCh: make(chan struct{}),
	}

	// Answerer path: the offerer creates the channel, we adopt it.
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != channelLabel {
			logger.Warn("unexpected data channel refused", "label", dc.Label())
			dc.Close()
			return
		}
		l.adoptChannel(dc)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			l.down()
		}
	})

	return l, nil
}

// Offer creates the data channel and produces the local SDP offer blob to
// relay to the remote peer.
func (l *Link) Offer(ctx context.Context) (string, error) {
	ordered := true
	dc, err := l.pc.CreateDataChannel(channelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return "", fmt.Errorf("create data channel: %w", err)
	}
	l.adoptChannel(dc)

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	return l.finishLocalDescription(ctx, offer)
}

// Answer consumes a remote offer blob and produces the answer blob.
func (l *Link) Answer(ctx context.Context, offerBlob string) (string, error) {
	offer, err := DecodeDescription(offerBlob)
	if err != nil {
		return "", err
	}
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	return l.finishLocalDescription(ctx, answer)
}

// AcceptAnswer consumes the remote's answer blob on the offering side.
func (l *Link) AcceptAnswer(answerBlob string) error {
	answer, err := DecodeDescription(answerBlob)
	if err != nil {
		return err
	}
	if err := l.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

// finishLocalDescription applies the description, waits for ICE gathering
// to complete, and encodes the final description with candidates inlined.
// Non-trickle keeps the relay exchange to one blob per direction.
func (l *Link) finishLocalDescription(ctx context.Context, desc webrtc.SessionDescription) (string, error) {
	gathered := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	local := l.pc.LocalDescription()
	if local == nil {
		return "", errors.New("no local description after gathering")
	}
	return EncodeDescription(*local)
}

func (l *Link) adoptChannel(dc *webrtc.DataChannel) {
	l.mu.Lock()
	l.dc = dc
	l.mu.Unlock()

	dc.OnOpen(func() {
		l.openOnce.Do(func() { close(l.openCh) })
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		l.deliver(msg.Data)
	})
	dc.OnError(func(err error) {
		l.mu.Lock()
		h := l.handlers
		l.mu.Unlock()
		if h.Error != nil {
			h.Error(err)
		}
	})
	dc.OnClose(func() {
		l.down()
	})
}

// deliver hands data to the bound handler, buffering anything that arrives
// before Bind so no message is lost in the attach window.
func (l *Link) deliver(data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	l.mu.Lock()
	if !l.bound {
		l.pending = append(l.pending, cp)
		l.mu.Unlock()
		return
	}
	h := l.handlers
	l.mu.Unlock()

	if h.Data != nil {
		h.Data(cp)
	}
}

// WaitOpen blocks until the data channel is open and the link can Send.
func (l *Link) WaitOpen(ctx context.Context) error {
	select {
	case <-l.openCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(openTimeout):
		return errors.New("timeout waiting for data channel to open")
	}
}

// Bind installs the mesh handlers and flushes any buffered messages.
func (l *Link) Bind(h link.Handlers) {
	l.mu.Lock()
	l.handlers = h
	l.bound = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	if h.Data != nil {
		for _, data := range pending {
			h.Data(data)
		}
	}
}

// Send writes one message to the remote peer.
func (l *Link) Send(data []byte) error {
	l.mu.Lock()
	dc := l.dc
	closed := l.closed
	l.mu.Unlock()

	if closed {
		return link.ErrClosed
	}
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return errors.New("data channel not open")
	}
	if err := dc.Send(data); err != nil {
		return fmt.Errorf("data channel send: %w", err)
	}
	return nil
}

// down marks the link dead and fires the Close handler exactly once.
func (l *Link) down() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		h := l.handlers
		l.mu.Unlock()
		if h.Close != nil {
			h.Close()
		}
	})
}

// Destroy tears the link down without firing the Close handler.
func (l *Link) Destroy() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
	})
	return l.pc.Close()
}
