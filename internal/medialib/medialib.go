// Package medialib lists the media files a peer can load into a room.
package medialib

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
)

// File is one loadable file in the media directory.
type File struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	ModTime   int64  `json:"mod_time"`
	ID        string `json:"id"`
}

// Scan lists the regular files directly under dir, sorted by name.
// Subdirectories and dotfiles are skipped; rooms share single flat files.
func Scan(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read media dir %s: %w", dir, err)
	}

	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		f := File{
			Name:      entry.Name(),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime().Unix(),
		}
		f.ID = fingerprint(f)
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})
	return files, nil
}

// Lookup finds name in dir and returns its entry.
func Lookup(dir, name string) (File, error) {
	if name != filepath.Base(name) {
		return File{}, fmt.Errorf("media name %q must be a bare filename", name)
	}
	info, err := os.Stat(filepath.Join(dir, name))
	if err != nil {
		return File{}, fmt.Errorf("media file %s: %w", name, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("media file %s is a directory", name)
	}
	f := File{Name: name, SizeBytes: info.Size(), ModTime: info.ModTime().Unix()}
	f.ID = fingerprint(f)
	return f, nil
}

// fingerprint derives a stable 16-hex-char ID from a file's identity fields.
func fingerprint(f File) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%d", f.Name, f.SizeBytes, f.ModTime)
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, h.Sum64())
	return hex.EncodeToString(buf)
}
