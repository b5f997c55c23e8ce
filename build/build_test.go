package build

import (
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/opendict/lexicore/artifactstore"
	"github.com/opendict/lexicore/entry"
	"github.com/opendict/lexicore/shardstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T) (*shardstore.Store, string) {
	t.Helper()

	store, err := shardstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	commit := func(hw string, kind entry.Kind, forms ...string) {
		lease, err := store.AcquireLease(hw)
		require.NoError(t, err)
		defer store.ReleaseLease(lease)
		_, err = store.Append(context.Background(), lease, &entry.Draft{
			Headword:     hw,
			Kind:         kind,
			SurfaceForms: forms,
			Senses: []entry.Sense{{
				Definition:   "definition of " + hw,
				PartOfSpeech: "noun",
				Translation:  "译文",
				Example:      "an example with " + hw,
			}},
			Provenance: []entry.Provenance{{
				SourceID:  "crawl-1",
				FetchedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			}},
		})
		require.NoError(t, err)
	}

	commit("zebra", entry.KindWord, "zebras")
	commit("aardvark", entry.KindWord)
	commit("kick the bucket", entry.KindPhrase)

	// A flagged head must never reach an artifact.
	commit("dubious", entry.KindWord)
	lease, err := store.AcquireLease("dubious")
	require.NoError(t, err)
	_, err = store.Flag(context.Background(), lease)
	require.NoError(t, err)
	store.ReleaseLease(lease)

	snapID, err := store.Snapshot()
	require.NoError(t, err)
	return store, snapID
}

func TestBuildRelational(t *testing.T) {
	store, snapID := seedStore(t)
	eng := NewEngine(store, t.TempDir())

	a, err := eng.Build(context.Background(), KindRelational, snapID)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Entries)
	assert.NotEmpty(t, a.Checksum)

	db, err := sql.Open("sqlite3", a.Path)
	require.NoError(t, err)
	defer db.Close()

	var words []string
	rows, err := db.Query(`SELECT headword FROM entries ORDER BY headword`)
	require.NoError(t, err)
	for rows.Next() {
		var w string
		require.NoError(t, rows.Scan(&w))
		words = append(words, w)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"aardvark", "kick the bucket", "zebra"}, words)

	var html string
	require.NoError(t, db.QueryRow(
		`SELECT html FROM entries WHERE headword = ?`, "zebra").Scan(&html))
	assert.Contains(t, html, "definition of zebra")
	assert.Contains(t, html, "译文")

	var n int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM surface_forms WHERE form = ?`, "zebras").Scan(&n))
	assert.Equal(t, 1, n)

	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM provenance`).Scan(&n))
	assert.Equal(t, 3, n)
}

func TestBuildRelationalDeterministic(t *testing.T) {
	store, snapID := seedStore(t)

	a1, err := NewEngine(store, t.TempDir()).Build(context.Background(), KindRelational, snapID)
	require.NoError(t, err)
	a2, err := NewEngine(store, t.TempDir()).Build(context.Background(), KindRelational, snapID)
	require.NoError(t, err)

	assert.Equal(t, a1.Checksum, a2.Checksum)
}

func TestBuildStarDict(t *testing.T) {
	store, snapID := seedStore(t)
	eng := NewEngine(store, t.TempDir(), WithBookname("Test Dictionary"))

	a, err := eng.Build(context.Background(), KindStarDict, snapID)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Entries)

	ifo, err := os.ReadFile(filepath.Join(a.Path, "lexicore.ifo"))
	require.NoError(t, err)
	text := string(ifo)
	assert.True(t, strings.HasPrefix(text, ifoMagic+"\n"))
	assert.Contains(t, text, "bookname=Test Dictionary\n")
	assert.Contains(t, text, "wordcount=3\n")
	assert.Contains(t, text, "synwordcount=1\n")
	assert.Contains(t, text, "sametypesequence=h\n")

	idx, err := os.ReadFile(filepath.Join(a.Path, "lexicore.idx"))
	require.NoError(t, err)
	words, offsets, sizes := parseIdx(t, idx)
	assert.Equal(t, []string{"aardvark", "kick the bucket", "zebra"}, words)
	assert.Contains(t, text, "idxfilesize="+strconv.Itoa(len(idx))+"\n")

	// The dz file is gzip-compatible; offsets address the decompressed body.
	f, err := os.Open(filepath.Join(a.Path, "lexicore.dict.dz"))
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	dict, err := io.ReadAll(zr)
	require.NoError(t, err)

	for i, w := range words {
		body := string(dict[offsets[i] : offsets[i]+sizes[i]])
		assert.Contains(t, body, "definition of "+w)
	}
	assert.NotContains(t, string(dict), "dubious")

	syn, err := os.ReadFile(filepath.Join(a.Path, "lexicore.syn"))
	require.NoError(t, err)
	i := 0
	for i < len(syn) {
		j := i + indexOf(syn[i:], 0)
		word := string(syn[i:j])
		ref := binary.BigEndian.Uint32(syn[j+1 : j+5])
		assert.Equal(t, "zebras", word)
		assert.Equal(t, "zebra", words[ref])
		i = j + 5
	}
}

func TestBuildStarDictDeterministic(t *testing.T) {
	store, snapID := seedStore(t)

	a1, err := NewEngine(store, t.TempDir()).Build(context.Background(), KindStarDict, snapID)
	require.NoError(t, err)
	a2, err := NewEngine(store, t.TempDir()).Build(context.Background(), KindStarDict, snapID)
	require.NoError(t, err)

	for _, name := range []string{"lexicore.ifo", "lexicore.idx", "lexicore.syn"} {
		b1, err := os.ReadFile(filepath.Join(a1.Path, name))
		require.NoError(t, err)
		b2, err := os.ReadFile(filepath.Join(a2.Path, name))
		require.NoError(t, err)
		assert.Equal(t, b1, b2, name)
	}
}

func TestBuildPublishesToArtifactStore(t *testing.T) {
	store, snapID := seedStore(t)
	pub := artifactstore.NewMemoryStore()
	eng := NewEngine(store, t.TempDir(), WithArtifactStore(pub))

	a, err := eng.Build(context.Background(), KindRelational, snapID)
	require.NoError(t, err)

	names, err := pub.List(context.Background(), snapID+"/")
	require.NoError(t, err)
	require.Len(t, names, 1)

	rc, err := pub.Open(context.Background(), names[0])
	require.NoError(t, err)
	published, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()

	local, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	assert.Equal(t, local, published)
}

func TestBuildUnknownKindAndSnapshot(t *testing.T) {
	store, snapID := seedStore(t)
	eng := NewEngine(store, t.TempDir())

	_, err := eng.Build(context.Background(), Kind("mdx"), snapID)
	assert.Error(t, err)

	_, err = eng.Build(context.Background(), KindRelational, "no-such-snapshot")
	assert.ErrorIs(t, err, shardstore.ErrSnapshotNotFound)
}

func TestRenderHTMLEscapes(t *testing.T) {
	e := &entry.Entry{
		Headword: "a<b",
		Kind:     entry.KindWord,
		Senses:   []entry.Sense{{Definition: `say "hi" & leave`}},
	}
	out := RenderHTML(e)
	assert.Contains(t, out, "a&lt;b")
	assert.Contains(t, out, "&amp; leave")
	assert.NotContains(t, out, "a<b")
}

func parseIdx(t *testing.T, idx []byte) (words []string, offsets, sizes []uint32) {
	t.Helper()
	i := 0
	for i < len(idx) {
		j := i + indexOf(idx[i:], 0)
		words = append(words, string(idx[i:j]))
		offsets = append(offsets, binary.BigEndian.Uint32(idx[j+1:j+5]))
		sizes = append(sizes, binary.BigEndian.Uint32(idx[j+5:j+9]))
		i = j + 9
	}
	return words, offsets, sizes
}

func indexOf(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

