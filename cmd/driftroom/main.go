package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/driftroom/driftroom/internal/app"
	"github.com/driftroom/driftroom/internal/config"
	"github.com/driftroom/driftroom/internal/logging"
	"github.com/driftroom/driftroom/internal/termio"
)

const version = "v0.1.0"

func main() {
	termio.Init()
	if hasHelpFlag(os.Args[1:]) {
		printUsage()
		return
	}
	if hasVersionFlag(os.Args[1:]) {
		fmt.Fprintln(termio.Stdout(), version)
		return
	}

	cfg := config.ParseClientConfig()
	if cfg.RoomCode == "" {
		fmt.Fprintln(termio.Stderr(), "a room code is required (--room or DRIFTROOM_ROOM_CODE)")
		os.Exit(2)
	}
	logger := logging.New("driftroom", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	room := app.NewRoom(cfg, logger)
	if err := room.Run(ctx); err != nil {
		logger.Error("room exited", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(termio.Stderr(), "usage: driftroom --room CODE [options]")
	fmt.Fprintln(termio.Stderr(), "  --room CODE          room code to join or create")
	fmt.Fprintln(termio.Stderr(), "  --server-url URL     signaling relay URL (default http://localhost:8080)")
	fmt.Fprintln(termio.Stderr(), "  --nickname NAME      display name (default anon)")
	fmt.Fprintln(termio.Stderr(), "  --peer-id ID         stable peer identity (default random)")
	fmt.Fprintln(termio.Stderr(), "  --priority N         leader election priority, higher wins (default random)")
	fmt.Fprintln(termio.Stderr(), "  --stun URL           STUN server, repeatable")
	fmt.Fprintln(termio.Stderr(), "  --media-dir DIR      directory shared files live in (default .)")
	fmt.Fprintln(termio.Stderr(), "  --seed-addr ADDR     seeder listen address (default 0.0.0.0:0)")
	fmt.Fprintln(termio.Stderr(), "  --log-level LEVEL    debug, info, warn or error (default info)")
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return true
		}
	}
	return false
}
