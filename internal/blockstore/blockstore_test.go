package blockstore

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/synnefo-io/core/internal/hashmap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	backend, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	return NewStore(Config{Backend: backend})
}

func TestPutBlockIdempotent(t *testing.T) {
	s := newTestStore(t)
	data := []byte("hello world")

	h1, err := s.PutBlock(data)
	require.NoError(t, err)

	h2, err := s.PutBlock(data)
	require.NoError(t, err)

	require.Equal(t, h1, h2)

	got, err := s.GetBlock(h1)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestGetBlockNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetBlock("deadbeef")
	require.Error(t, err)
}

func TestUpdateBlockTailWrite(t *testing.T) {
	s := newTestStore(t)
	h1, err := s.PutBlock([]byte("aaaaaaaaaa"))
	require.NoError(t, err)

	h2, err := s.UpdateBlock(h1, 5, []byte("bbbbb"))
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)

	data, err := s.GetBlock(h2)
	require.NoError(t, err)
	require.Equal(t, []byte("aaaaabbbbb"), data)
}

func TestUpdateBlockExternallyManagedFails(t *testing.T) {
	backend, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	archipelago := NewArchipelagoBackend(backend)
	s := NewStore(Config{Backend: archipelago})

	_, err = s.UpdateBlock("deadbeef", 0, []byte("x"))
	require.Error(t, err)
}

func TestBlockSearchReportsMissing(t *testing.T) {
	s := newTestStore(t)
	present, err := s.PutBlock([]byte("present"))
	require.NoError(t, err)

	hm := hashmap.New(s.HashFunc(), []string{present, "0000000000000000000000000000000000000000000000000000000000000000"})
	missing, err := s.BlockSearch(hm)
	require.NoError(t, err)
	require.Len(t, missing, 1)
}

func TestMapPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	b1, _ := s.PutBlock([]byte("one"))
	b2, _ := s.PutBlock([]byte("two"))
	hm := hashmap.New(s.HashFunc(), []string{b1, b2})
	root, err := hm.RootHash()
	require.NoError(t, err)

	require.NoError(t, s.MapPut(root, hm))

	got, err := s.MapGet(root)
	require.NoError(t, err)
	require.Equal(t, hm.Blocks, got.Blocks)
}

func TestMapGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.MapGet("does-not-exist")
	require.Error(t, err)
}

func TestZeroByteObjectHasOneBlock(t *testing.T) {
	s := newTestStore(t)
	h, err := s.PutBlock([]byte{})
	require.NoError(t, err)

	hm := hashmap.New(s.HashFunc(), []string{h})
	root, err := hm.RootHash()
	require.NoError(t, err)
	require.Equal(t, h, root)
}
