package artifactstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "builds/a.sqlite", strings.NewReader("alpha")))
	require.NoError(t, s.Put(ctx, "builds/b.sqlite", strings.NewReader("beta")))

	rc, err := s.Open(ctx, "builds/a.sqlite")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "alpha", string(data))

	// Overwrite replaces content.
	require.NoError(t, s.Put(ctx, "builds/a.sqlite", strings.NewReader("alpha2")))
	rc, err = s.Open(ctx, "builds/a.sqlite")
	require.NoError(t, err)
	data, _ = io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "alpha2", string(data))

	names, err := s.List(ctx, "builds/")
	require.NoError(t, err)
	assert.Equal(t, []string{"builds/a.sqlite", "builds/b.sqlite"}, names)

	_, err = s.Open(ctx, "builds/missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Delete(ctx, "builds/a.sqlite"))
	require.NoError(t, s.Delete(ctx, "builds/a.sqlite")) // idempotent
	_, err = s.Open(ctx, "builds/a.sqlite")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalStore(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	testStore(t, s)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}
