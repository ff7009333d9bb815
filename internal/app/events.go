package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/driftroom/driftroom/internal/mediacoord"
	"github.com/driftroom/driftroom/internal/mesh"
	"github.com/driftroom/driftroom/internal/progress"
	"github.com/driftroom/driftroom/internal/seeder"
	"github.com/driftroom/driftroom/internal/termio"
	"github.com/driftroom/driftroom/pkg/protocol"
)

// meshEvents surfaces room membership to the terminal and feeds the engine
// and coordinator.
type meshEvents struct {
	room *Room
}

func (e *meshEvents) PeerJoined(p mesh.Peer) {
	fmt.Fprintf(termio.Stdout(), "* %s joined\n", p.Nickname)
	e.room.coord.PeerJoined(p.ID)
}

func (e *meshEvents) PeerLeft(p mesh.Peer) {
	fmt.Fprintf(termio.Stdout(), "* %s left\n", p.Nickname)
	e.room.engine.PeerGone(p.ID)
	e.room.coord.PeerLeft(p.ID)
}

func (e *meshEvents) PeerStatus(p mesh.Peer) {
	switch p.Status {
	case mesh.StatusReconnecting:
		fmt.Fprintf(termio.Stdout(), "* %s lost connection, waiting for them\n", p.Nickname)
	case mesh.StatusConnected:
		fmt.Fprintf(termio.Stdout(), "* %s is back\n", p.Nickname)
	}
}

func (e *meshEvents) LeaderChanged(leaderID string) {
	r := e.room
	// Fired synchronously from mesh.New before the engine exists.
	if r.engine != nil {
		r.engine.OnLeaderChanged(leaderID)
	}
	if leaderID == r.cfg.PeerID {
		fmt.Fprintln(termio.Stdout(), "* you are now the room leader")
	} else {
		fmt.Fprintf(termio.Stdout(), "* leader is now %s\n", r.peerName(leaderID))
	}
}

func (e *meshEvents) ChatMessage(peerID, nickname, text string) {
	fmt.Fprintf(termio.Stdout(), "<%s> %s\n", nickname, text)
}

func (e *meshEvents) Disconnected() {
	fmt.Fprintln(termio.Stdout(), "* left the room")
}

var _ mesh.Events = (*meshEvents)(nil)

// peerName resolves a peer id to its nickname where known.
func (r *Room) peerName(peerID string) string {
	if peerID == r.cfg.PeerID {
		return r.cfg.Nickname
	}
	for _, p := range r.mesh.Peers() {
		if p.ID == peerID {
			return p.Nickname
		}
	}
	return peerID
}

// coordEvents surfaces media coordination to the terminal and reacts to a
// new source by acquiring the file.
type coordEvents struct {
	room *Room
}

func (e *coordEvents) MediaSource(media protocol.MediaInfo) {
	r := e.room
	fmt.Fprintf(termio.Stdout(), "* media set: %s\n", describeMedia(media))
	if media.Kind == protocol.MediaKindLocal && media.LoadedBy != r.cfg.PeerID {
		go r.acquireFile(media)
	}
}

func (e *coordEvents) MediaReady(media protocol.MediaInfo) {
	fmt.Fprintf(termio.Stdout(), "* everyone has %s, playback enabled\n", media.Filename)
}

func (e *coordEvents) WaitingForFiles(status []mediacoord.PeerFileStatus) {
	r := e.room
	pending := make([]string, 0, len(status))
	for _, st := range status {
		if !st.HasFile {
			pending = append(pending, r.peerName(st.PeerID))
		}
	}
	if len(pending) > 0 {
		fmt.Fprintf(termio.Stdout(), "* waiting for file on: %v\n", pending)
	}
}

func (e *coordEvents) VoteRequested(v mediacoord.VoteView) {
	fmt.Fprintf(termio.Stdout(), "* %s proposes switching to %s; answer with /vote yes|no\n",
		e.room.peerName(v.RequestedBy), describeMedia(v.Proposed))
}

func (e *coordEvents) VoteUpdated(v mediacoord.VoteView) {
	fmt.Fprintf(termio.Stdout(), "* vote: %d yes, %d no\n", v.Yes, v.No)
}

func (e *coordEvents) VoteResult(v mediacoord.VoteView, accepted bool) {
	if accepted {
		fmt.Fprintf(termio.Stdout(), "* vote passed (%d-%d)\n", v.Yes, v.No)
	} else {
		fmt.Fprintf(termio.Stdout(), "* vote failed (%d-%d), keeping current media\n", v.Yes, v.No)
	}
}

func (e *coordEvents) MediaChanged(old, new protocol.MediaInfo) {
	fmt.Fprintf(termio.Stdout(), "* switching %s -> %s\n", old.Filename, new.Filename)
}

var _ mediacoord.Events = (*coordEvents)(nil)

// acquireFile makes the current local-kind media available on this peer:
// use a matching copy already in the media directory, fetch from the
// loader's seed endpoint, or ask the user to place the file.
func (r *Room) acquireFile(media protocol.MediaInfo) {
	path := filepath.Join(r.cfg.MediaDir, media.Filename)
	if info, err := os.Stat(path); err == nil && info.Size() == media.SizeBytes {
		if err := r.coord.ConfirmLocalFile(media.Filename, info.Size()); err != nil {
			r.log.Warn("confirm existing file failed", "error", err)
		}
		return
	}

	loc, err := seeder.ParseLocator(media.Locator)
	if err != nil {
		fmt.Fprintf(termio.Stdout(), "* place %s (%d bytes) in %s, then run /have %s\n",
			media.Filename, media.SizeBytes, r.cfg.MediaDir, media.Filename)
		return
	}

	fmt.Fprintf(termio.Stdout(), "* fetching %s from %s\n", media.Filename, r.peerName(media.LoadedBy))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	meter := progress.NewMeter(media.SizeBytes)
	stopReport := make(chan struct{})
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stopReport:
				return
			case <-ticker.C:
				s := meter.Snapshot()
				fmt.Fprintf(termio.Stdout(), "* fetching %s: %.0f%% (%s)\n",
					media.Filename, s.Percent, progress.FormatRate(s.RateBps))
			}
		}
	}()

	_, err = seeder.FetchWithProgress(ctx, loc, r.cfg.MediaDir, meter.Add, r.log)
	close(stopReport)
	if err != nil {
		r.log.Error("fetch failed", "file", media.Filename, "error", err)
		fmt.Fprintf(termio.Stdout(), "* fetch failed; place %s in %s and run /have %s\n",
			media.Filename, r.cfg.MediaDir, media.Filename)
		return
	}
	if err := r.coord.ConfirmLocalFile(media.Filename, media.SizeBytes); err != nil {
		r.log.Warn("confirm fetched file failed", "error", err)
	}
}

func describeMedia(media protocol.MediaInfo) string {
	if media.Kind == protocol.MediaKindStreamed {
		return media.Locator + " (stream)"
	}
	return fmt.Sprintf("%s (%d bytes)", media.Filename, media.SizeBytes)
}
