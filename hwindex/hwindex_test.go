package hwindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/opendict/lexicore/entry"
	"github.com/opendict/lexicore/shardstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupUpsert(t *testing.T) {
	ix := New(4)

	_, ok := ix.Lookup("run")
	assert.False(t, ok)

	ix.Upsert("run", Location{Shard: 2, Version: 1, Status: entry.StatusActive})
	loc, ok := ix.Lookup("run")
	require.True(t, ok)
	assert.Equal(t, 2, loc.Shard)
	assert.Equal(t, 1, loc.Version)
	assert.Equal(t, 1, ix.Len())

	ix.Upsert("run", Location{Shard: 2, Version: 2, Status: entry.StatusActive})
	loc, _ = ix.Lookup("run")
	assert.Equal(t, 2, loc.Version)
	assert.Equal(t, 1, ix.Len())
}

func newStoreWith(t *testing.T, headwords ...string) *shardstore.Store {
	t.Helper()
	s, err := shardstore.Open(t.TempDir(), shardstore.WithNumShards(4))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	for _, hw := range headwords {
		l, err := s.AcquireLease(hw)
		require.NoError(t, err)
		_, err = s.Append(context.Background(), l, &entry.Draft{
			Headword: hw,
			Kind:     entry.KindWord,
			Senses:   []entry.Sense{{Definition: "d"}},
		})
		require.NoError(t, err)
		s.ReleaseLease(l)
	}
	return s
}

func TestRebuildFrom(t *testing.T) {
	s := newStoreWith(t, "run", "walk", "bank")

	ix := New(s.NumShards())
	require.NoError(t, ix.RebuildFrom(s))

	assert.Equal(t, 3, ix.Len())
	for _, hw := range []string{"run", "walk", "bank"} {
		loc, ok := ix.Lookup(hw)
		require.True(t, ok, hw)
		assert.Equal(t, 1, loc.Version)
		assert.Equal(t, entry.StatusActive, loc.Status)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := newStoreWith(t, "run", "café")

	ix := New(s.NumShards())
	require.NoError(t, ix.RebuildFrom(s))

	path := filepath.Join(t.TempDir(), "hwindex.cache")
	require.NoError(t, ix.SaveCheckpoint(path))

	ix2 := New(s.NumShards())
	require.NoError(t, ix2.LoadCheckpoint(path))
	assert.Equal(t, ix.Len(), ix2.Len())
	loc, ok := ix2.Lookup("café")
	require.True(t, ok)
	assert.Equal(t, 1, loc.Version)
}

func TestCheckpointShardMismatch(t *testing.T) {
	ix := New(4)
	ix.Upsert("run", Location{Shard: 1, Version: 1})

	path := filepath.Join(t.TempDir(), "hwindex.cache")
	require.NoError(t, ix.SaveCheckpoint(path))

	ix2 := New(8)
	assert.Error(t, ix2.LoadCheckpoint(path))
}

func TestLoadCheckpointMissingFile(t *testing.T) {
	ix := New(4)
	assert.Error(t, ix.LoadCheckpoint(filepath.Join(t.TempDir(), "nope.cache")))
}
