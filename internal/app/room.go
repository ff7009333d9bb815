// Package app wires the peer binary together: signaling, link
// establishment, the mesh, playback sync, media coordination and the
// interactive command loop.
package app

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/driftroom/driftroom/internal/config"
	"github.com/driftroom/driftroom/internal/logging"
	"github.com/driftroom/driftroom/internal/mediacoord"
	"github.com/driftroom/driftroom/internal/mesh"
	"github.com/driftroom/driftroom/internal/rtclink"
	"github.com/driftroom/driftroom/internal/seeder"
	"github.com/driftroom/driftroom/internal/signalclient"
	"github.com/driftroom/driftroom/internal/syncengine"
	"github.com/driftroom/driftroom/internal/termio"
	"github.com/driftroom/driftroom/pkg/protocol"
)

// Room is one peer's participation in a watch party.
type Room struct {
	cfg config.ClientConfig
	log *slog.Logger

	player *syncengine.SimPlayer
	mesh   *mesh.Mesh
	engine *syncengine.Engine
	coord  *mediacoord.Coordinator
	seed   *seeder.Server
	signal *signalclient.Conn

	mu     sync.Mutex
	offers map[string]*rtclink.Link // peer id -> link we offered, awaiting answer
}

// NewRoom builds the full peer stack for one room. Nothing connects until
// Run is called.
func NewRoom(cfg config.ClientConfig, logger *slog.Logger) *Room {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Room{
		cfg:    cfg,
		log:    logger,
		player: syncengine.NewSimPlayer(),
		offers: make(map[string]*rtclink.Link),
	}

	r.mesh = mesh.New(mesh.Config{
		RoomCode: cfg.RoomCode,
		LocalID:  cfg.PeerID,
		Nickname: cfg.Nickname,
		Priority: cfg.Priority,
		Logger:   logging.Component(logger, "mesh"),
	}, &meshEvents{room: r})

	r.engine = syncengine.New(r.mesh, r.player, syncengine.Config{
		Logger: logging.Component(logger, "sync"),
		OnBufferingChange: func(active []string) {
			if len(active) == 0 {
				fmt.Fprintln(termio.Stdout(), "* everyone caught up, resuming")
				return
			}
			fmt.Fprintf(termio.Stdout(), "* waiting on %s (buffering)\n", strings.Join(active, ", "))
		},
	})

	r.coord = mediacoord.New(r.mesh, &coordEvents{room: r}, mediacoord.Config{
		Logger: logging.Component(logger, "media"),
	})

	r.seed = seeder.NewServer(cfg.MediaDir, logging.Component(logger, "seed"))

	r.mesh.Subscribe(r.routeEnvelope)
	return r
}

// routeEnvelope fans application envelopes out of the mesh to the engine
// and the coordinator.
func (r *Room) routeEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeSync, protocol.TypePlay, protocol.TypePause,
		protocol.TypeSeek, protocol.TypeReady, protocol.TypeBuffering:
		r.engine.HandleEnvelope(env)
	case protocol.TypeMediaLoaded, protocol.TypeFileUploaded,
		protocol.TypeChangeRequest, protocol.TypeVote:
		r.coord.HandleEnvelope(env)
	}
}

// Run connects to the relay, brings up peer links, and serves the command
// loop until the context ends or the user quits.
func (r *Room) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := r.seed.Start(r.cfg.SeedAddr); err != nil {
		return fmt.Errorf("start seeder: %w", err)
	}
	defer r.seed.Close()

	conn, err := signalclient.Dial(ctx, r.cfg.ServerURL, protocol.SignalJoin{
		RoomCode: r.cfg.RoomCode,
		PeerID:   r.cfg.PeerID,
		Nickname: r.cfg.Nickname,
		Priority: r.cfg.Priority,
	}, logging.Component(r.log, "signal"))
	if err != nil {
		return fmt.Errorf("connect to relay: %w", err)
	}
	r.signal = conn

	r.engine.Start()

	fmt.Fprintf(termio.Stdout(), "joined room %s as %s (%s)\n", r.cfg.RoomCode, r.cfg.Nickname, r.cfg.PeerID)
	fmt.Fprintln(termio.Stdout(), "type /help for commands; anything else is chat")

	readDone := make(chan error, 1)
	go func() {
		readDone <- conn.ReadLoop(ctx, func(env protocol.Envelope) {
			r.handleSignal(ctx, env)
		})
	}()

	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		r.commandLoop(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-readDone:
		if err != nil && ctx.Err() == nil {
			runErr = fmt.Errorf("relay connection lost: %w", err)
		}
	case <-inputDone:
	}

	cancel()
	r.shutdown()
	return runErr
}

func (r *Room) shutdown() {
	r.mu.Lock()
	offers := r.offers
	r.offers = make(map[string]*rtclink.Link)
	r.mu.Unlock()
	for _, l := range offers {
		l.Destroy()
	}

	r.engine.Close()
	r.coord.Close()
	r.mesh.Close()
}

// commandLoop reads stdin until EOF or /quit.
func (r *Room) commandLoop(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if err := r.mesh.SendChat(line); err != nil {
				fmt.Fprintf(termio.Stderr(), "chat failed: %v\n", err)
			}
			continue
		}
		if quit := r.runCommand(ctx, line); quit {
			return
		}
	}
}
