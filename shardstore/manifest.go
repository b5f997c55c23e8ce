package shardstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	manifestPrefix  = "MANIFEST"
	currentFileName = "CURRENT"
	manifestVersion = 1
)

// Manifest pins a consistent, immutable view of all shard logs: the durable
// high-water mark of every shard at snapshot time. A reader that never reads
// past the recorded sizes observes exactly the committed state of that
// moment, no matter how far the live logs have grown since.
type Manifest struct {
	Version    int         `json:"version"`
	ID         uint64      `json:"id"`
	SnapshotID string      `json:"snapshot_id"`
	NumShards  int         `json:"num_shards"`
	Shards     []ShardInfo `json:"shards"`
}

// ShardInfo records one shard's committed boundaries: the entry log and the
// provenance side-log.
type ShardInfo struct {
	ID       int    `json:"id"`
	Path     string `json:"path"` // relative to the store dir
	Size     int64  `json:"size"`
	ProvPath string `json:"prov_path,omitempty"`
	ProvSize int64  `json:"prov_size"`
}

// manifestStore persists manifests with an atomic CURRENT pointer:
// write temp, fsync, rename, fsync dir — the rename is the commit point.
type manifestStore struct {
	dir string
	mu  sync.Mutex
}

func newManifestStore(dir string) *manifestStore {
	return &manifestStore{dir: dir}
}

// loadCurrent returns the latest saved manifest, or nil if none exists yet.
func (s *manifestStore) loadCurrent() (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(filepath.Join(s.dir, currentFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("read", currentFileName, err)
	}
	return s.loadFile(strings.TrimSpace(string(content)))
}

// loadBySnapshotID finds the manifest for a snapshot id among all saved
// manifests.
func (s *manifestStore) loadBySnapshotID(id string) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := filepath.Glob(filepath.Join(s.dir, manifestPrefix+"-*.json"))
	if err != nil {
		return nil, storageErr("glob", s.dir, err)
	}
	sort.Strings(names)
	// Newest first: snapshot lookups are almost always for the latest build.
	for i := len(names) - 1; i >= 0; i-- {
		m, err := s.loadFile(filepath.Base(names[i]))
		if err != nil {
			return nil, err
		}
		if m.SnapshotID == id {
			return m, nil
		}
	}
	return nil, ErrSnapshotNotFound
}

func (s *manifestStore) loadFile(name string) (*Manifest, error) {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, storageErr("read", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, storageErr("decode", path, err)
	}
	if m.Version != manifestVersion {
		return nil, storageErr("decode", path, fmt.Errorf("unsupported manifest version %d", m.Version))
	}
	return &m, nil
}

// save writes m as the next manifest generation and repoints CURRENT.
func (s *manifestStore) save(m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Version = manifestVersion
	m.ID++

	name := fmt.Sprintf("%s-%06d.json", manifestPrefix, m.ID)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return storageErr("encode", name, err)
	}

	if err := s.writeAtomic(name, data); err != nil {
		return err
	}
	return s.writeAtomic(currentFileName, []byte(name))
}

func (s *manifestStore) writeAtomic(name string, data []byte) error {
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return storageErr("create", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return storageErr("write", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return storageErr("sync", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return storageErr("close", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return storageErr("rename", path, err)
	}
	return s.syncDir()
}

func (s *manifestStore) syncDir() error {
	d, err := os.Open(s.dir)
	if err != nil {
		return storageErr("open", s.dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return storageErr("sync", s.dir, err)
	}
	return nil
}
