package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"os"
	"strconv"
)

// ServerConfig holds configuration for the signaling relay binary.
type ServerConfig struct {
	Addr     string
	LogLevel string
}

// ClientConfig holds configuration for the peer binary.
type ClientConfig struct {
	ServerURL   string   // signaling relay URL
	LogLevel    string   //
	PeerID      string   // stable identity for this run (default: random)
	Nickname    string   // display name shown to other peers
	RoomCode    string   // room to join or create
	Priority    int      // leader election ordinal (higher wins)
	StunServers []string // STUN servers for link establishment
	MediaDir    string   // directory streamed media is fetched into
	SeedAddr    string   // address the local seeder listens on
}

// ParseServerConfig parses server configuration from flags and environment variables.
// Flags take precedence over environment variables.
// Defaults: addr=":8080", logLevel="info"
func ParseServerConfig() ServerConfig {
	return parseServerConfigWithFlagSet(flag.CommandLine, os.Args[1:])
}

// parseServerConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseServerConfigWithFlagSet(fs *flag.FlagSet, args []string) ServerConfig {
	cfg := ServerConfig{
		Addr:     ":8080",
		LogLevel: "info",
	}

	// Read from environment first
	if addr := os.Getenv("DRIFTROOM_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if logLevel := os.Getenv("DRIFTROOM_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	// Flags override environment
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "relay listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.Parse(args)

	return cfg
}

// ParseClientConfig parses client configuration from flags and environment variables.
// Flags take precedence over environment variables.
func ParseClientConfig() ClientConfig {
	return parseClientConfigWithFlagSet(flag.CommandLine, os.Args[1:])
}

// parseClientConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseClientConfigWithFlagSet(fs *flag.FlagSet, args []string) ClientConfig {
	cfg := ClientConfig{
		ServerURL:   "http://localhost:8080",
		LogLevel:    "info",
		PeerID:      generatePeerID(),
		Nickname:    "anon",
		Priority:    defaultPriority(),
		StunServers: []string{"stun:stun.l.google.com:19302"},
		MediaDir:    ".",
		SeedAddr:    "0.0.0.0:0",
	}

	// Read from environment first
	if serverURL := os.Getenv("DRIFTROOM_SERVER_URL"); serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if logLevel := os.Getenv("DRIFTROOM_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if peerID := os.Getenv("DRIFTROOM_PEER_ID"); peerID != "" {
		cfg.PeerID = peerID
	}
	if nickname := os.Getenv("DRIFTROOM_NICKNAME"); nickname != "" {
		cfg.Nickname = nickname
	}
	if roomCode := os.Getenv("DRIFTROOM_ROOM_CODE"); roomCode != "" {
		cfg.RoomCode = roomCode
	}
	if prio := os.Getenv("DRIFTROOM_PRIORITY"); prio != "" {
		if n, err := strconv.Atoi(prio); err == nil {
			cfg.Priority = n
		}
	}

	// Flags override environment
	fs.StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "signaling relay URL")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.PeerID, "peer-id", cfg.PeerID, "peer identifier")
	fs.StringVar(&cfg.Nickname, "nickname", cfg.Nickname, "display name")
	fs.StringVar(&cfg.RoomCode, "room", cfg.RoomCode, "room code to join or create")
	fs.IntVar(&cfg.Priority, "priority", cfg.Priority, "leader election priority (higher wins)")
	fs.StringVar(&cfg.MediaDir, "media-dir", cfg.MediaDir, "directory streamed media is fetched into")
	fs.StringVar(&cfg.SeedAddr, "seed-addr", cfg.SeedAddr, "seeder listen address")

	stuns := make([]string, 0)
	fs.Var((*stringSlice)(&stuns), "stun", "STUN server URL (repeatable)")

	fs.Parse(args)

	if len(stuns) > 0 {
		cfg.StunServers = stuns
	}

	return cfg
}

// generatePeerID generates a random 10-character hex string for peer identification.
func generatePeerID() string {
	b := make([]byte, 5) // 5 bytes = 10 hex characters
	if _, err := rand.Read(b); err != nil {
		// Fallback if rand fails (should be extremely rare)
		return "0000000000"
	}
	return hex.EncodeToString(b)
}

// defaultPriority derives a random priority so two peers joining with
// defaults still order deterministically once exchanged.
func defaultPriority() int {
	b := make([]byte, 2)
	if _, err := rand.Read(b); err != nil {
		return 1
	}
	return int(b[0])<<8 | int(b[1])
}

// stringSlice implements flag.Value for repeatable string flags.
type stringSlice []string

func (s *stringSlice) String() string {
	out := ""
	for i, v := range *s {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

var _ flag.Value = (*stringSlice)(nil)
