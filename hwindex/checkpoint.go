package hwindex

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
)

const checkpointVersion = 1

type checkpoint struct {
	Version   int                 `json:"version"`
	NumShards int                 `json:"num_shards"`
	Entries   map[string]Location `json:"entries"`
}

// SaveCheckpoint writes a zstd-compressed copy of the index to path so the
// next startup can skip the full store scan. The checkpoint is a cache file:
// losing or corrupting it only costs a rebuild.
func (ix *Index) SaveCheckpoint(path string) error {
	ix.mu.RLock()
	cp := checkpoint{
		Version:   checkpointVersion,
		NumShards: ix.numShards,
		Entries:   make(map[string]Location, len(ix.m)),
	}
	for k, v := range ix.m {
		cp.Entries[k] = v
	}
	ix.mu.RUnlock()

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("checkpoint create: %w", err)
	}

	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("checkpoint compress: %w", err)
	}
	if err := json.NewEncoder(zw).Encode(&cp); err != nil {
		zw.Close()
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("checkpoint encode: %w", err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("checkpoint flush: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("checkpoint close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("checkpoint rename: %w", err)
	}
	return nil
}

// LoadCheckpoint replaces the index contents from a checkpoint file. Returns
// an error for any mismatch; callers fall back to RebuildFrom.
func (ix *Index) LoadCheckpoint(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("checkpoint open: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("checkpoint decompress: %w", err)
	}
	defer zr.Close()

	var cp checkpoint
	if err := json.NewDecoder(zr).Decode(&cp); err != nil {
		return fmt.Errorf("checkpoint decode: %w", err)
	}
	if cp.Version != checkpointVersion {
		return fmt.Errorf("checkpoint version %d unsupported", cp.Version)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if cp.NumShards != ix.numShards {
		return fmt.Errorf("checkpoint shard count %d != store %d", cp.NumShards, ix.numShards)
	}
	if cp.Entries == nil {
		cp.Entries = make(map[string]Location)
	}
	ix.m = cp.Entries
	return nil
}
