package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/driftroom/driftroom/internal/config"
	"github.com/driftroom/driftroom/internal/logging"
	"github.com/driftroom/driftroom/internal/signalserv"
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

	cfg := config.ParseServerConfig()
	logger := logging.New("driftroomd", cfg.LogLevel)

	srv := signalserv.New(logger)
	fmt.Fprintf(termio.Stdout(), "signaling relay listening addr=%s\n", cfg.Addr)

	if err := http.ListenAndServe(cfg.Addr, srv.Handler()); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(termio.Stderr(), "usage: driftroomd [--addr :8080] [--log-level info]")
	fmt.Fprintln(termio.Stderr(), "  --addr ADDR          listen address (default :8080)")
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
