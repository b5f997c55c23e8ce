package shardstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opendict/lexicore/entry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draft(hw string) *entry.Draft {
	kind := entry.KindWord
	if len(hw) > 0 {
		for _, r := range hw {
			if r == ' ' {
				kind = entry.KindPhrase
				break
			}
		}
	}
	return &entry.Draft{
		Headword: hw,
		Kind:     kind,
		Senses:   []entry.Sense{{Definition: "definition of " + hw}},
	}
}

func mustAppend(t *testing.T, s *Store, hw string) *entry.Entry {
	t.Helper()
	l, err := s.AcquireLease(hw)
	require.NoError(t, err)
	defer s.ReleaseLease(l)
	e, err := s.Append(context.Background(), l, draft(hw))
	require.NoError(t, err)
	return e
}

func TestAppendAndReadActive(t *testing.T) {
	s, err := Open(t.TempDir(), WithNumShards(4))
	require.NoError(t, err)
	defer s.Close()

	e := mustAppend(t, s, "run")
	assert.Equal(t, 1, e.Version)
	assert.Equal(t, entry.StatusActive, e.Status)

	got, err := s.ReadActive("run")
	require.NoError(t, err)
	assert.Equal(t, "run", got.Headword)
	assert.Equal(t, 1, got.Version)

	_, err = s.ReadActive("walk")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVersionsIncrementAndHistoryPreserved(t *testing.T) {
	s, err := Open(t.TempDir(), WithNumShards(4))
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 3; i++ {
		mustAppend(t, s, "bank")
	}

	head, err := s.ReadActive("bank")
	require.NoError(t, err)
	assert.Equal(t, 3, head.Version)

	hist, err := s.ReadHistory("bank")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	for i, e := range hist {
		assert.Equal(t, i+1, e.Version)
	}
	assert.Equal(t, entry.StatusSuperseded, hist[0].Status)
	assert.Equal(t, entry.StatusSuperseded, hist[1].Status)
	assert.Equal(t, entry.StatusActive, hist[2].Status)
}

func TestLeaseExclusion(t *testing.T) {
	s, err := Open(t.TempDir(), WithNumShards(4))
	require.NoError(t, err)
	defer s.Close()

	l1, err := s.AcquireLease("run")
	require.NoError(t, err)

	_, err = s.AcquireLease("run")
	assert.ErrorIs(t, err, ErrLeaseHeld)

	// Other headwords are unaffected.
	l2, err := s.AcquireLease("walk")
	require.NoError(t, err)
	s.ReleaseLease(l2)

	s.ReleaseLease(l1)
	l3, err := s.AcquireLease("run")
	require.NoError(t, err)
	s.ReleaseLease(l3)
}

func TestLeaseExpiryReclaim(t *testing.T) {
	s, err := Open(t.TempDir(), WithNumShards(1), WithLeaseTTL(10*time.Millisecond))
	require.NoError(t, err)
	defer s.Close()

	l1, err := s.AcquireLease("run")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	// Crashed holder: the lease expired and the headword is reclaimable.
	l2, err := s.AcquireLease("run")
	require.NoError(t, err)

	// The expired lease can no longer commit.
	_, err = s.Append(context.Background(), l1, draft("run"))
	assert.ErrorIs(t, err, ErrLeaseInvalid)

	_, err = s.Append(context.Background(), l2, draft("run"))
	require.NoError(t, err)
	s.ReleaseLease(l2)
}

func TestAppendRequiresMatchingLease(t *testing.T) {
	s, err := Open(t.TempDir(), WithNumShards(4))
	require.NoError(t, err)
	defer s.Close()

	l, err := s.AcquireLease("run")
	require.NoError(t, err)
	defer s.ReleaseLease(l)

	_, err = s.Append(context.Background(), l, draft("walk"))
	assert.ErrorIs(t, err, ErrLeaseInvalid)

	_, err = s.Append(context.Background(), nil, draft("run"))
	assert.ErrorIs(t, err, ErrLeaseInvalid)
}

func TestUniquenessUnderConcurrentRacers(t *testing.T) {
	s, err := Open(t.TempDir(), WithNumShards(8))
	require.NoError(t, err)
	defer s.Close()

	const racers = 16
	var wg sync.WaitGroup
	committed := make([]bool, racers)

	// All racers fight over the same brand-new headword. Exactly those who
	// win the lease and still see no active version may create version 1.
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l, err := s.AcquireLease("kick the bucket")
			if err != nil {
				return
			}
			defer s.ReleaseLease(l)
			if _, err := s.ReadActive("kick the bucket"); err == nil {
				return // someone already committed
			}
			if _, err := s.Append(context.Background(), l, draft("kick the bucket")); err == nil {
				committed[i] = true
			}
		}(i)
	}
	wg.Wait()

	n := 0
	for _, c := range committed {
		if c {
			n++
		}
	}
	assert.LessOrEqual(t, n, 1)

	hist, err := s.ReadHistory("kick the bucket")
	if err == nil {
		// If anyone won, there is exactly one version 1 and one active head.
		require.Len(t, hist, n)
	}
}

func TestRecoveryAfterReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, WithNumShards(4))
	require.NoError(t, err)
	mustAppend(t, s, "run")
	mustAppend(t, s, "run")
	mustAppend(t, s, "café")
	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	// Shard count is taken from disk even if the option disagrees.
	assert.Equal(t, 4, s2.NumShards())

	head, err := s2.ReadActive("run")
	require.NoError(t, err)
	assert.Equal(t, 2, head.Version)

	hist, err := s2.ReadHistory("run")
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestTornTailTruncatedOnOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, WithNumShards(1))
	require.NoError(t, err)
	mustAppend(t, s, "run")
	size := s.shards[0].committedSize()
	require.NoError(t, s.Close())

	// Simulate a crash mid-append: garbage past the last committed record.
	f, err := os.OpenFile(filepath.Join(dir, shardFileName(0)), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xFF, 0x01, 0x02})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	assert.Equal(t, size, s2.shards[0].committedSize())
	head, err := s2.ReadActive("run")
	require.NoError(t, err)
	assert.Equal(t, 1, head.Version)
}

func TestAttachProvenance(t *testing.T) {
	s, err := Open(t.TempDir(), WithNumShards(2))
	require.NoError(t, err)
	defer s.Close()

	mustAppend(t, s, "run")

	err = s.AttachProvenance("run", entry.Provenance{SourceID: "crawl-7", URL: "https://example.com/a"})
	require.NoError(t, err)

	// No version bump, provenance visible on reads.
	head, err := s.ReadActive("run")
	require.NoError(t, err)
	assert.Equal(t, 1, head.Version)
	require.Len(t, head.Provenance, 1)
	assert.Equal(t, "crawl-7", head.Provenance[0].SourceID)

	assert.ErrorIs(t, s.AttachProvenance("nope", entry.Provenance{}), ErrNotFound)
}

func TestFlag(t *testing.T) {
	s, err := Open(t.TempDir(), WithNumShards(2))
	require.NoError(t, err)
	defer s.Close()

	mustAppend(t, s, "run")

	l, err := s.AcquireLease("run")
	require.NoError(t, err)
	flagged, err := s.Flag(context.Background(), l)
	require.NoError(t, err)
	s.ReleaseLease(l)

	assert.Equal(t, 2, flagged.Version)
	assert.Equal(t, entry.StatusFlagged, flagged.Status)

	// The flagged head stays canonical so duplicate ingestion is blocked.
	head, err := s.ReadActive("run")
	require.NoError(t, err)
	assert.Equal(t, entry.StatusFlagged, head.Status)
}
