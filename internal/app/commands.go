package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/driftroom/driftroom/internal/medialib"
	"github.com/driftroom/driftroom/internal/mediacoord"
	"github.com/driftroom/driftroom/internal/termio"
	"github.com/driftroom/driftroom/pkg/protocol"
)

// runCommand executes one slash command. Returns true when the user quits.
func (r *Room) runCommand(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		printHelp()
	case "/play":
		r.engine.Play()
	case "/pause":
		r.engine.Pause()
	case "/seek":
		if len(args) != 1 {
			fmt.Fprintln(termio.Stderr(), "usage: /seek <seconds>")
			break
		}
		pos, err := strconv.ParseFloat(args[0], 64)
		if err != nil || pos < 0 {
			fmt.Fprintln(termio.Stderr(), "usage: /seek <seconds>")
			break
		}
		r.engine.Seek(pos)
	case "/load":
		if len(args) != 1 {
			fmt.Fprintln(termio.Stderr(), "usage: /load <filename in media dir>")
			break
		}
		r.loadLocal(args[0])
	case "/stream":
		if len(args) != 1 {
			fmt.Fprintln(termio.Stderr(), "usage: /stream <url>")
			break
		}
		r.loadStream(args[0])
	case "/have":
		if len(args) != 1 {
			fmt.Fprintln(termio.Stderr(), "usage: /have <filename in media dir>")
			break
		}
		r.confirmHave(args[0])
	case "/vote":
		if len(args) != 1 || (args[0] != "yes" && args[0] != "no") {
			fmt.Fprintln(termio.Stderr(), "usage: /vote yes|no")
			break
		}
		if err := r.coord.CastVote(args[0] == "yes"); err != nil {
			fmt.Fprintf(termio.Stderr(), "vote failed: %v\n", err)
		}
	case "/buffering":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			fmt.Fprintln(termio.Stderr(), "usage: /buffering on|off")
			break
		}
		r.engine.SetBuffering(args[0] == "on")
	case "/library":
		r.printLibrary()
	case "/peers":
		r.printPeers()
	case "/status":
		r.printStatus()
	default:
		fmt.Fprintf(termio.Stderr(), "unknown command %s; try /help\n", cmd)
	}
	return false
}

// loadLocal introduces a file from the media directory as the room's media,
// seeding it for peers that lack a copy.
func (r *Room) loadLocal(filename string) {
	f, err := medialib.Lookup(r.cfg.MediaDir, filename)
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "cannot load %s: %v\n", filename, err)
		return
	}
	loc := r.seed.Locator("", f.Name, f.SizeBytes)
	err = r.coord.Load(protocol.MediaInfo{
		Kind:      protocol.MediaKindLocal,
		Filename:  f.Name,
		SizeBytes: f.SizeBytes,
		Locator:   loc.String(),
	})
	r.reportLoad(err)
}

// loadStream introduces a shared stream URL as the room's media.
func (r *Room) loadStream(raw string) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		fmt.Fprintf(termio.Stderr(), "invalid stream url %q\n", raw)
		return
	}
	err = r.coord.Load(protocol.MediaInfo{
		Kind:     protocol.MediaKindStreamed,
		Filename: filepath.Base(u.Path),
		Locator:  raw,
	})
	r.reportLoad(err)
}

func (r *Room) reportLoad(err error) {
	switch {
	case errors.Is(err, mediacoord.ErrVoteInProgress):
		fmt.Fprintln(termio.Stderr(), "a change vote is already running; wait for it to finish")
	case err != nil:
		fmt.Fprintf(termio.Stderr(), "load failed: %v\n", err)
	}
}

// confirmHave reports a manually placed copy of the current media.
func (r *Room) confirmHave(filename string) {
	f, err := medialib.Lookup(r.cfg.MediaDir, filename)
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "cannot find %s: %v\n", filename, err)
		return
	}
	if err := r.coord.ConfirmLocalFile(f.Name, f.SizeBytes); err != nil {
		fmt.Fprintf(termio.Stderr(), "file rejected: %v\n", err)
	}
}

func (r *Room) printLibrary() {
	files, err := medialib.Scan(r.cfg.MediaDir)
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "cannot read media dir: %v\n", err)
		return
	}
	if len(files) == 0 {
		fmt.Fprintf(termio.Stdout(), "no files in %s\n", r.cfg.MediaDir)
		return
	}
	for _, f := range files {
		fmt.Fprintf(termio.Stdout(), "  %s  %d bytes  [%s]\n", f.Name, f.SizeBytes, f.ID)
	}
}

func (r *Room) printPeers() {
	peers := r.mesh.Peers()
	leader := r.mesh.LeaderID()
	fmt.Fprintf(termio.Stdout(), "you: %s (%s)", r.cfg.Nickname, r.cfg.PeerID)
	if leader == r.cfg.PeerID {
		fmt.Fprint(termio.Stdout(), " [leader]")
	}
	fmt.Fprintln(termio.Stdout())
	for _, p := range peers {
		mark := ""
		if p.ID == leader {
			mark = " [leader]"
		}
		fmt.Fprintf(termio.Stdout(), "  %s (%s) %s%s\n", p.Nickname, p.ID, p.Status, mark)
	}
}

func (r *Room) printStatus() {
	playing := "paused"
	if r.player.Playing() {
		playing = "playing"
	}
	fmt.Fprintf(termio.Stdout(), "playback: %s at %.1fs (rate %.2f)\n",
		playing, r.player.Position(), r.player.Rate())

	if media, ok := r.coord.Current(); ok {
		fmt.Fprintf(termio.Stdout(), "media: %s\n", describeMedia(media))
	} else {
		fmt.Fprintln(termio.Stdout(), "media: none loaded")
	}
	if v, ok := r.coord.ActiveVote(); ok {
		fmt.Fprintf(termio.Stdout(), "vote in progress for %s: %d yes, %d no\n",
			v.Proposed.Filename, v.Yes, v.No)
	}
	if buffering := r.engine.BufferingPeers(); len(buffering) > 0 {
		fmt.Fprintf(termio.Stdout(), "buffering: %s\n", strings.Join(buffering, ", "))
	}
}

func printHelp() {
	fmt.Fprintln(termio.Stdout(), "commands:")
	fmt.Fprintln(termio.Stdout(), "  /play | /pause | /seek <seconds>   control shared playback")
	fmt.Fprintln(termio.Stdout(), "  /library                           list files in the media dir")
	fmt.Fprintln(termio.Stdout(), "  /load <filename>                   share a file from the media dir")
	fmt.Fprintln(termio.Stdout(), "  /stream <url>                      share a stream URL")
	fmt.Fprintln(termio.Stdout(), "  /have <filename>                   confirm a manually placed copy")
	fmt.Fprintln(termio.Stdout(), "  /vote yes|no                       answer a media change proposal")
	fmt.Fprintln(termio.Stdout(), "  /buffering on|off                  simulate a buffering stall")
	fmt.Fprintln(termio.Stdout(), "  /peers | /status                   inspect the room")
	fmt.Fprintln(termio.Stdout(), "  /quit                              leave")
	fmt.Fprintln(termio.Stdout(), "anything not starting with / is sent as chat")
}
