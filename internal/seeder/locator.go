package seeder

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// Locator addresses a single file offered by a peer's seed endpoint, in the
// form seed://host:port/filename?size=N. The size travels in the locator so
// receivers can verify the transfer without a second round trip.
type Locator struct {
	Host      string // host:port of the seed endpoint
	Filename  string
	SizeBytes int64
}

// ParseLocator parses a seed:// URL.
func ParseLocator(raw string) (Locator, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Locator{}, fmt.Errorf("parse locator: %w", err)
	}
	if u.Scheme != "seed" {
		return Locator{}, fmt.Errorf("locator scheme %q, want seed", u.Scheme)
	}
	if u.Host == "" {
		return Locator{}, fmt.Errorf("locator %q has no host", raw)
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" || name != path.Base(name) {
		return Locator{}, fmt.Errorf("locator %q has no usable filename", raw)
	}
	size, err := strconv.ParseInt(u.Query().Get("size"), 10, 64)
	if err != nil || size < 0 {
		return Locator{}, fmt.Errorf("locator %q has an invalid size", raw)
	}
	return Locator{Host: u.Host, Filename: name, SizeBytes: size}, nil
}

// String renders the locator back to its seed:// form.
func (l Locator) String() string {
	u := url.URL{
		Scheme:   "seed",
		Host:     l.Host,
		Path:     "/" + l.Filename,
		RawQuery: "size=" + strconv.FormatInt(l.SizeBytes, 10),
	}
	return u.String()
}
