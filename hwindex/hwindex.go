// Package hwindex provides the in-memory headword index: a rebuildable
// mapping from normalized headword to its current canonical location.
//
// The index is an optimization for O(1) existence checks, never the source
// of truth. It may lag the shard store by one commit; every write path
// re-validates against the store before committing, so staleness is safe.
package hwindex

import (
	"sync"

	"github.com/opendict/lexicore/entry"
	"github.com/opendict/lexicore/headword"
)

// Location identifies the canonical entry for a headword.
type Location struct {
	Shard   int         `json:"shard"`
	Version int         `json:"version"`
	Status  entry.Status `json:"status"`
}

// Index maps normalized headwords to locations. Reads take a shared lock;
// writes come from one lease holder per key at a time.
type Index struct {
	mu        sync.RWMutex
	numShards int
	m         map[string]Location
}

// New creates an empty index for a store with the given shard count.
func New(numShards int) *Index {
	return &Index{
		numShards: numShards,
		m:         make(map[string]Location),
	}
}

// Lookup returns the location of a headword's canonical entry.
func (ix *Index) Lookup(hw string) (Location, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	loc, ok := ix.m[hw]
	return loc, ok
}

// Upsert records hw's canonical location after a commit.
func (ix *Index) Upsert(hw string, loc Location) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.m[hw] = loc
}

// Len returns the number of indexed headwords.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.m)
}

// EntrySource is the part of the shard store the index rebuilds from.
type EntrySource interface {
	ForEachActive(fn func(*entry.Entry) error) error
	NumShards() int
}

// RebuildFrom discards the current mapping and reconstructs it by scanning
// the store. Used at startup and for self-healing after detected divergence.
func (ix *Index) RebuildFrom(src EntrySource) error {
	fresh := make(map[string]Location)
	err := src.ForEachActive(func(e *entry.Entry) error {
		fresh[e.Headword] = Location{
			Shard:   headword.ShardID(e.Headword, src.NumShards()),
			Version: e.Version,
			Status:  e.Status,
		}
		return nil
	})
	if err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.numShards = src.NumShards()
	ix.m = fresh
	return nil
}
