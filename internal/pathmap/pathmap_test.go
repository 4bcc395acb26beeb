package pathmap

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refold/refold/internal/resolve"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "pathmap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	s := openTemp(t)

	require.NoError(t, s.Put(`C:\lab\run42.csv`, "/data/run42.csv"))

	got, ok, err := s.Get(`C:\lab\run42.csv`)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/data/run42.csv", got)

	_, ok, err = s.Get("unknown.csv")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutReplaces(t *testing.T) {
	s := openTemp(t)

	require.NoError(t, s.Put("run.csv", "/old/run.csv"))
	require.NoError(t, s.Put("run.csv", "/new/run.csv"))

	got, ok, err := s.Get("run.csv")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/new/run.csv", got)

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPutAllAndAll(t *testing.T) {
	s := openTemp(t)

	pairs := map[string]string{
		"a.csv": "/data/a.csv",
		"b.csv": "/data/b.csv",
	}
	require.NoError(t, s.PutAll(pairs))
	require.NoError(t, s.PutAll(nil)) // no-op

	all, err := s.All()
	require.NoError(t, err)
	assert.Equal(t, pairs, all)
}

func TestOpenIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pathmap.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Put("a.csv", "/data/a.csv"))
	require.NoError(t, s1.Close())

	// Reopening an existing database applies schema and pragmas again
	// without disturbing the data.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, ok, err := s2.Get("a.csv")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/data/a.csv", got)
}

func TestStoreSatisfiesResolverLookup(t *testing.T) {
	var _ resolve.PathMap = openTemp(t)
}
