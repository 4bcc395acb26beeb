// Package manifest records which measurement files a run actually read:
// resolved path, sha256 content hash, and byte size. The hash is
// content-based so a re-run over moved-but-identical files is recognizably
// the same input set.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
)

// Entry describes one file read during a run.
type Entry struct {
	ResolvedPath string `json:"resolved_path"`
	ContentHash  string `json:"content_hash"`
	ByteSize     int64  `json:"byte_size"`
}

// slot is one claimed manifest position. done flips only after the hash
// lands, so half-recorded files never surface through Entries.
type slot struct {
	entry Entry
	done  bool
}

// Manifest accumulates entries, deduplicated by resolved path and ordered by
// first use. Safe for concurrent Record calls from row workers.
type Manifest struct {
	mu    sync.Mutex
	slots []slot
	seen  map[string]bool
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{seen: make(map[string]bool)}
}

// Record hashes the file at path and adds its entry. Recording the same path
// again is a no-op; hashing happens outside the lock only on first use. A
// failed hash releases the claim, so the file is absent from Entries and a
// later Record may try again.
func (m *Manifest) Record(path string) error {
	m.mu.Lock()
	if m.seen[path] {
		m.mu.Unlock()
		return nil
	}
	// Claim the slot before hashing so concurrent workers reading the same
	// file hash it once.
	m.seen[path] = true
	idx := len(m.slots)
	m.slots = append(m.slots, slot{entry: Entry{ResolvedPath: path}})
	m.mu.Unlock()

	hash, size, err := hashFile(path)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		delete(m.seen, path)
		return fmt.Errorf("hash %q: %w", path, err)
	}
	m.slots[idx].entry.ContentHash = hash
	m.slots[idx].entry.ByteSize = size
	m.slots[idx].done = true
	return nil
}

// Entries returns the recorded entries in first-use order.
func (m *Manifest) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.slots))
	for _, s := range m.slots {
		if s.done {
			out = append(out, s.entry)
		}
	}
	return out
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	hasher := sha256.New()
	size, err := io.Copy(hasher, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}
