// Package manifest persists per-document image analyses so reruns never pay
// for the same image twice.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/joseph-ayodele/doc-digitizer/constants"
)

const currentVersion = 1

// Entry is the stored analysis for one asset.
type Entry struct {
	Category    constants.Category `json:"category"`
	Description string             `json:"description"`
	Entities    []string           `json:"entities"`
	MD5         string             `json:"md5,omitempty"`
	Model       string             `json:"model,omitempty"`
	Fallback    bool               `json:"fallback,omitempty"`
	AnalyzedAt  time.Time          `json:"analyzed_at,omitempty"`
}

// Keyed pairs an entry with its asset filename.
type Keyed struct {
	Filename string
	Entry
}

type fileFormat struct {
	Version   int              `json:"version"`
	Document  string           `json:"document"`
	UpdatedAt time.Time        `json:"updated_at"`
	Entries   map[string]Entry `json:"entries"`
}

// Store hands out manifests and owns one write lock per asset directory.
type Store struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore() *Store {
	return &Store{locks: map[string]*sync.Mutex{}}
}

func (s *Store) lockFor(dir string) *sync.Mutex {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[abs]
	if !ok {
		l = &sync.Mutex{}
		s.locks[abs] = l
	}
	return l
}

// Manifest is the in-memory view of one document's _manifest.json.
// It is safe for concurrent use; every Put is persisted before returning.
type Manifest struct {
	path     string
	document string
	lock     *sync.Mutex
	entries  map[string]Entry
}

// Load reads dir/_manifest.json, or starts empty when it does not exist.
func (s *Store) Load(dir, document string) (*Manifest, error) {
	m := &Manifest{
		path:     filepath.Join(dir, constants.ManifestFile),
		document: document,
		lock:     s.lockFor(dir),
		entries:  map[string]Entry{},
	}
	m.lock.Lock()
	defer m.lock.Unlock()

	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	entries, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", m.path, err)
	}
	m.entries = entries
	return m, nil
}

// decode accepts the versioned layout and the legacy flat filename map.
func decode(data []byte) (map[string]Entry, error) {
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, err
	}
	if _, ok := shape["entries"]; ok {
		var f fileFormat
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		if f.Entries == nil {
			f.Entries = map[string]Entry{}
		}
		return f.Entries, nil
	}
	flat := map[string]Entry{}
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, err
	}
	return flat, nil
}

// Get returns the entry for filename. When md5 is non-empty and the stored
// entry carries a different hash, the image changed and the entry is ignored.
func (m *Manifest) Get(filename, md5 string) (Entry, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	e, ok := m.entries[filename]
	if !ok {
		return Entry{}, false
	}
	if md5 != "" && e.MD5 != "" && e.MD5 != md5 {
		return Entry{}, false
	}
	return e, true
}

// Put records one analysis and rewrites the file atomically. The file is
// re-read under the directory lock first so entries written through another
// Manifest for the same directory survive.
func (m *Manifest) Put(filename string, e Entry) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	merged := m.onDiskLocked()
	merged[filename] = e
	if err := m.persistLocked(merged); err != nil {
		return err
	}
	m.entries = merged
	return nil
}

// onDiskLocked returns the current file contents layered over the in-memory
// entries. An unreadable or corrupt file leaves the in-memory view as the base.
func (m *Manifest) onDiskLocked() map[string]Entry {
	merged := make(map[string]Entry, len(m.entries)+1)
	for k, v := range m.entries {
		merged[k] = v
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		return merged
	}
	disk, err := decode(data)
	if err != nil {
		return merged
	}
	for k, v := range disk {
		merged[k] = v
	}
	return merged
}

// Entries returns all entries sorted by filename.
func (m *Manifest) Entries() []Keyed {
	m.lock.Lock()
	defer m.lock.Unlock()
	out := make([]Keyed, 0, len(m.entries))
	for k, v := range m.entries {
		out = append(out, Keyed{Filename: k, Entry: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}

func (m *Manifest) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.entries)
}

func (m *Manifest) Path() string { return m.path }

func (m *Manifest) persistLocked(entries map[string]Entry) error {
	body, err := json.MarshalIndent(fileFormat{
		Version:   currentVersion,
		Document:  m.document,
		UpdatedAt: time.Now().UTC(),
		Entries:   entries,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return WriteFileAtomic(m.path, body)
}

// WriteFileAtomic writes to a temp file in the same directory and renames it
// over path, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
