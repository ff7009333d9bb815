package config

import (
	"flag"
	"os"
	"testing"
)

func TestParseServerConfig_Defaults(t *testing.T) {
	os.Clearenv()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg := parseServerConfigWithFlagSet(fs, []string{})

	if cfg.Addr != ":8080" {
		t.Errorf("expected Addr to be :8080, got %s", cfg.Addr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel to be info, got %s", cfg.LogLevel)
	}
}

func TestParseServerConfig_FlagsOverrideEnv(t *testing.T) {
	os.Clearenv()

	os.Setenv("DRIFTROOM_ADDR", ":7070")
	os.Setenv("DRIFTROOM_LOG_LEVEL", "warn")
	defer os.Unsetenv("DRIFTROOM_ADDR")
	defer os.Unsetenv("DRIFTROOM_LOG_LEVEL")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg := parseServerConfigWithFlagSet(fs, []string{"-addr", ":9090"})

	if cfg.Addr != ":9090" {
		t.Errorf("expected Addr to be :9090, got %s", cfg.Addr)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected LogLevel to be warn, got %s", cfg.LogLevel)
	}
}

func TestParseClientConfig_Defaults(t *testing.T) {
	os.Clearenv()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg := parseClientConfigWithFlagSet(fs, []string{})

	if cfg.ServerURL != "http://localhost:8080" {
		t.Errorf("expected ServerURL to be http://localhost:8080, got %s", cfg.ServerURL)
	}
	if len(cfg.PeerID) != 10 {
		t.Errorf("expected random 10-char PeerID, got %q", cfg.PeerID)
	}
	if cfg.Nickname != "anon" {
		t.Errorf("expected Nickname to be anon, got %s", cfg.Nickname)
	}
	if len(cfg.StunServers) != 1 {
		t.Errorf("expected 1 default STUN server, got %d", len(cfg.StunServers))
	}
}

func TestParseClientConfig_Flags(t *testing.T) {
	os.Clearenv()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg := parseClientConfigWithFlagSet(fs, []string{
		"-room", "MOVIE42",
		"-nickname", "ann",
		"-priority", "9",
		"-stun", "stun:a.example:3478",
		"-stun", "stun:b.example:3478",
	})

	if cfg.RoomCode != "MOVIE42" {
		t.Errorf("expected RoomCode to be MOVIE42, got %s", cfg.RoomCode)
	}
	if cfg.Nickname != "ann" {
		t.Errorf("expected Nickname to be ann, got %s", cfg.Nickname)
	}
	if cfg.Priority != 9 {
		t.Errorf("expected Priority to be 9, got %d", cfg.Priority)
	}
	if len(cfg.StunServers) != 2 {
		t.Errorf("expected 2 STUN servers, got %d", len(cfg.StunServers))
	}
}

func TestParseClientConfig_Env(t *testing.T) {
	os.Clearenv()

	os.Setenv("DRIFTROOM_PEER_ID", "fixedpeer1")
	os.Setenv("DRIFTROOM_ROOM_CODE", "ENVROOM")
	os.Setenv("DRIFTROOM_PRIORITY", "5")
	defer os.Unsetenv("DRIFTROOM_PEER_ID")
	defer os.Unsetenv("DRIFTROOM_ROOM_CODE")
	defer os.Unsetenv("DRIFTROOM_PRIORITY")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg := parseClientConfigWithFlagSet(fs, []string{})

	if cfg.PeerID != "fixedpeer1" {
		t.Errorf("expected PeerID to be fixedpeer1, got %s", cfg.PeerID)
	}
	if cfg.RoomCode != "ENVROOM" {
		t.Errorf("expected RoomCode to be ENVROOM, got %s", cfg.RoomCode)
	}
	if cfg.Priority != 5 {
		t.Errorf("expected Priority to be 5, got %d", cfg.Priority)
	}
}
