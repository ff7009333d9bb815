package mediacoord

import (
	"github.com/google/uuid"

	"github.com/driftroom/driftroom/internal/sched"
	"github.com/driftroom/driftroom/pkg/protocol"
)

type voteState struct {
	id          string
	proposed    protocol.MediaInfo
	requestedBy string
	votes       map[string]bool
	timer       *sched.Task
}

func (v *voteState) view() VoteView {
	yes, no := 0, 0
	for _, accept := range v.votes {
		if accept {
			yes++
		} else {
			no++
		}
	}
	return VoteView{
		RequestID:   v.id,
		Proposed:    v.proposed,
		RequestedBy: v.requestedBy,
		Yes:         yes,
		No:          no,
	}
}

// ActiveVote returns a snapshot of the outstanding proposal, if any.
func (c *Coordinator) ActiveVote() (VoteView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vote == nil {
		return VoteView{}, false
	}
	return c.vote.view(), true
}

// propose opens a change vote for the given media. The proposer auto-votes
// yes; everyone else gets a UI decision.
func (c *Coordinator) propose(media protocol.MediaInfo) error {
	c.mu.Lock()
	if c.vote != nil {
		c.mu.Unlock()
		return ErrVoteInProgress
	}
	v := &voteState{
		id:          uuid.NewString(),
		proposed:    media,
		requestedBy: c.bus.LocalID(),
		votes:       map[string]bool{c.bus.LocalID(): true},
	}
	v.timer = c.timers.After(c.cfg.VoteTimeout, func() { c.finalizeVote(v.id) })
	c.vote = v
	view := v.view()
	c.mu.Unlock()

	if err := c.bus.Broadcast(protocol.TypeChangeRequest, protocol.ChangeRequest{
		RequestID: v.id,
		Media:     media,
	}); err != nil {
		c.log.Warn("broadcast change request", "error", err)
	}
	// The auto-yes travels as a regular ballot so every tally converges.
	if err := c.bus.Broadcast(protocol.TypeVote, protocol.Vote{RequestID: v.id, Accept: true}); err != nil {
		c.log.Warn("broadcast vote", "error", err)
	}

	c.log.Info("change vote opened", "request", v.id, "filename", media.Filename)
	c.events.VoteRequested(view)
	c.maybeFinalizeEarly()
	return nil
}

// CastVote records the local ballot on the outstanding proposal and
// broadcasts it.
func (c *Coordinator) CastVote(accept bool) error {
	c.mu.Lock()
	v := c.vote
	if v == nil {
		c.mu.Unlock()
		return ErrNoActiveVote
	}
	v.votes[c.bus.LocalID()] = accept
	view := v.view()
	requestID := v.id
	c.mu.Unlock()

	if err := c.bus.Broadcast(protocol.TypeVote, protocol.Vote{RequestID: requestID, Accept: accept}); err != nil {
		c.log.Warn("broadcast vote", "error", err)
	}
	c.events.VoteUpdated(view)
	c.maybeFinalizeEarly()
	return nil
}

// handleChangeRequest mirrors a remote proposal locally. First proposal
// wins: anything arriving while a vote is outstanding is ignored.
func (c *Coordinator) handleChangeRequest(from string, msg protocol.ChangeRequest) {
	c.mu.Lock()
	if c.vote != nil {
		c.mu.Unlock()
		c.log.Debug("change request ignored, vote outstanding", "request", msg.RequestID, "from", from)
		return
	}
	if c.current == nil {
		// A proposal only exists relative to a current media; without one
		// there is nothing to vote against.
		c.mu.Unlock()
		c.log.Warn("change request with no current media ignored", "request", msg.RequestID, "from", from)
		return
	}
	v := &voteState{
		id:          msg.RequestID,
		proposed:    msg.Media,
		requestedBy: from,
		votes:       map[string]bool{from: true},
	}
	v.timer = c.timers.After(c.cfg.VoteTimeout, func() { c.finalizeVote(v.id) })
	c.vote = v
	view := v.view()
	c.mu.Unlock()

	c.log.Info("change vote received", "request", msg.RequestID, "from", from, "filename", msg.Media.Filename)
	c.events.VoteRequested(view)
}

// handleVote folds a remote ballot into the tally. Map-keyed overwrite
// makes duplicate delivery harmless.
func (c *Coordinator) handleVote(from string, msg protocol.Vote) {
	c.mu.Lock()
	v := c.vote
	if v == nil || v.id != msg.RequestID {
		c.mu.Unlock()
		return
	}
	v.votes[from] = msg.Accept
	view := v.view()
	c.mu.Unlock()

	c.events.VoteUpdated(view)
	c.maybeFinalizeEarly()
}

// maybeFinalizeEarly closes the vote once every currently-connected peer
// has a recorded ballot; nobody is left to wait for.
func (c *Coordinator) maybeFinalizeEarly() {
	c.mu.Lock()
	v := c.vote
	if v == nil {
		c.mu.Unlock()
		return
	}
	room := len(c.bus.ConnectedPeerIDs()) + 1 // remotes plus self
	id := v.id
	done := len(v.votes) >= room
	c.mu.Unlock()

	if done {
		c.finalizeVote(id)
	}
}

// finalizeVote tallies the ballots cast so far and applies the decision:
// strictly more yes than no accepts, anything else rejects. The tally is a
// pure function of votes received, so peers finalizing independently
// converge once ballots have propagated.
func (c *Coordinator) finalizeVote(requestID string) {
	c.mu.Lock()
	v := c.vote
	if v == nil || v.id != requestID {
		c.mu.Unlock()
		return
	}
	c.vote = nil
	v.timer.Stop()
	view := v.view()
	accepted := view.Yes > view.No

	var old, applied protocol.MediaInfo
	if accepted {
		old = *c.current
		media := v.proposed
		media.LoadedBy = v.requestedBy
		c.current = &media
		applied = media
		c.startReadinessLocked(media)
	}
	c.mu.Unlock()

	c.log.Info("change vote finalized", "request", requestID, "yes", view.Yes, "no", view.No, "accepted", accepted)
	c.events.VoteResult(view, accepted)
	if accepted {
		c.events.MediaChanged(old, applied)
		c.events.MediaSource(applied)
		c.afterReadinessChange()
	}
}
