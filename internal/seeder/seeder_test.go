package seeder

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLocator_RoundTrip(t *testing.T) {
	loc := Locator{Host: "203.0.113.7:41000", Filename: "movie.mp4", SizeBytes: 1_000_000}

	raw := loc.String()
	if want := "seed://203.0.113.7:41000/movie.mp4?size=1000000"; raw != want {
		t.Errorf("String() = %q, want %q", raw, want)
	}

	got, err := ParseLocator(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got != loc {
		t.Errorf("ParseLocator(String()) = %+v, want %+v", got, loc)
	}
}

func TestParseLocator_Rejects(t *testing.T) {
	bad := []string{
		"http://host:1/movie.mp4?size=1",
		"seed:///movie.mp4?size=1",
		"seed://host:1/?size=1",
		"seed://host:1/a/b.mp4?size=1",
		"seed://host:1/movie.mp4",
		"seed://host:1/movie.mp4?size=-5",
		"seed://host:1/movie.mp4?size=big",
	}
	for _, raw := range bad {
		if _, err := ParseLocator(raw); err == nil {
			t.Errorf("ParseLocator(%q) accepted, want error", raw)
		}
	}
}

func TestServeAndFetch(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()

	content := make([]byte, 300_000)
	if _, err := rand.Read(content); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "movie.mp4"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	srv := NewServer(srcDir, nil)
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	loc := srv.Locator("", "movie.mp4", int64(len(content)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	dest, err := Fetch(ctx, loc, destDir, nil)
	if err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("fetched %d bytes differ from source %d bytes", len(got), len(content))
	}
}

func TestFetch_SizeMismatchRemovesPartial(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(srcDir, "movie.mp4"), []byte("short"), 0o644); err != nil {
		t.Fatal(err)
	}

	srv := NewServer(srcDir, nil)
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	// The locator claims more bytes than the seeder holds.
	loc := srv.Locator("", "movie.mp4", 1_000_000)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := Fetch(ctx, loc, destDir, nil); err == nil {
		t.Fatal("size mismatch accepted, want error")
	}
	if _, err := os.Stat(filepath.Join(destDir, "movie.mp4")); !os.IsNotExist(err) {
		t.Error("partial file left behind after failed fetch")
	}
}

func TestFetch_UnknownFile(t *testing.T) {
	srv := NewServer(t.TempDir(), nil)
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	loc := srv.Locator("", "nope.mp4", 10)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := Fetch(ctx, loc, t.TempDir(), nil); err == nil {
		t.Fatal("fetch of a file the seeder does not hold succeeded")
	}
}

func TestFetch_RefusesPathEscape(t *testing.T) {
	ctx := context.Background()
	loc := Locator{Host: "127.0.0.1:1", Filename: "../etc/passwd", SizeBytes: 1}
	if _, err := Fetch(ctx, loc, t.TempDir(), nil); err == nil {
		t.Fatal("path-escaping filename accepted")
	}
}
