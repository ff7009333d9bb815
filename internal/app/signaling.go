package app

import (
	"context"
	"time"

	"github.com/driftroom/driftroom/internal/rtclink"
	"github.com/driftroom/driftroom/pkg/protocol"
)

// linkSetupTimeout bounds SDP gathering plus channel open for one link.
const linkSetupTimeout = 45 * time.Second

// handleSignal processes one envelope from the relay. Members present at
// join time get an offer from us; later arrivals offer to us, so exactly
// one side of every pair initiates.
func (r *Room) handleSignal(ctx context.Context, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeSignalMembers:
		var members protocol.SignalMembers
		if err := env.DecodePayload(&members); err != nil {
			r.log.Warn("malformed members roster", "error", err)
			return
		}
		for _, p := range members.Peers {
			if p.PeerID == r.cfg.PeerID {
				continue
			}
			go r.offerTo(ctx, p.PeerID)
		}
	case protocol.TypeSignalJoined:
		var joined protocol.SignalJoined
		if err := env.DecodePayload(&joined); err != nil {
			r.log.Warn("malformed join notice", "error", err)
			return
		}
		// The newcomer offers to everyone it found in the roster.
		r.log.Debug("peer arrived, awaiting its offer", "peer", joined.Peer.PeerID)
	case protocol.TypeSignalRelay:
		var relay protocol.SignalRelay
		if err := env.DecodePayload(&relay); err != nil {
			r.log.Warn("malformed relay", "error", err)
			return
		}
		switch relay.Kind {
		case "offer":
			go r.answerOffer(ctx, env.From, relay.Blob)
		case "answer":
			go r.completeOffer(ctx, env.From, relay.Blob)
		default:
			r.log.Warn("unknown relay kind dropped", "kind", relay.Kind, "from", env.From)
		}
	case protocol.TypeSignalLeft:
		// Membership is owned by the mesh: a dropped link starts the grace
		// window there, whether or not the relay noticed first.
	}
}

func (r *Room) linkConfig() rtclink.Config {
	return rtclink.Config{
		StunServers: r.cfg.StunServers,
		Logger:      r.log,
	}
}

// offerTo initiates a link to a peer already in the room.
func (r *Room) offerTo(ctx context.Context, peerID string) {
	ctx, cancel := context.WithTimeout(ctx, linkSetupTimeout)
	defer cancel()

	l, err := rtclink.New(r.linkConfig())
	if err != nil {
		r.log.Error("create link failed", "peer", peerID, "error", err)
		return
	}
	blob, err := l.Offer(ctx)
	if err != nil {
		r.log.Error("offer failed", "peer", peerID, "error", err)
		l.Destroy()
		return
	}

	r.mu.Lock()
	if old, ok := r.offers[peerID]; ok {
		old.Destroy()
	}
	r.offers[peerID] = l
	r.mu.Unlock()

	if err := r.signal.Relay(peerID, "offer", blob); err != nil {
		r.log.Error("relay offer failed", "peer", peerID, "error", err)
		r.dropOffer(peerID, l)
	}
}

// answerOffer accepts a link initiated by a remote peer.
func (r *Room) answerOffer(ctx context.Context, from, blob string) {
	ctx, cancel := context.WithTimeout(ctx, linkSetupTimeout)
	defer cancel()

	l, err := rtclink.New(r.linkConfig())
	if err != nil {
		r.log.Error("create link failed", "peer", from, "error", err)
		return
	}
	answer, err := l.Answer(ctx, blob)
	if err != nil {
		r.log.Error("answer failed", "peer", from, "error", err)
		l.Destroy()
		return
	}
	if err := r.signal.Relay(from, "answer", answer); err != nil {
		r.log.Error("relay answer failed", "peer", from, "error", err)
		l.Destroy()
		return
	}
	r.attachWhenOpen(ctx, from, l)
}

// completeOffer finishes a link we initiated once the answer arrives.
func (r *Room) completeOffer(ctx context.Context, from, blob string) {
	r.mu.Lock()
	l, ok := r.offers[from]
	delete(r.offers, from)
	r.mu.Unlock()
	if !ok {
		r.log.Warn("answer with no outstanding offer", "peer", from)
		return
	}
	if err := l.AcceptAnswer(blob); err != nil {
		r.log.Error("accept answer failed", "peer", from, "error", err)
		l.Destroy()
		return
	}
	ctx, cancel := context.WithTimeout(ctx, linkSetupTimeout)
	defer cancel()
	r.attachWhenOpen(ctx, from, l)
}

// attachWhenOpen hands the link to the mesh once its channel opens. The
// mesh handshake takes over from there.
func (r *Room) attachWhenOpen(ctx context.Context, peerID string, l *rtclink.Link) {
	if err := l.WaitOpen(ctx); err != nil {
		r.log.Error("link never opened", "peer", peerID, "error", err)
		l.Destroy()
		return
	}
	r.log.Info("link established", "peer", peerID)
	r.mesh.AttachLink(l)
}

func (r *Room) dropOffer(peerID string, l *rtclink.Link) {
	r.mu.Lock()
	if r.offers[peerID] == l {
		delete(r.offers, peerID)
	}
	r.mu.Unlock()
	l.Destroy()
}
