package blocksweep

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synnefo-io/core/internal/blockstore"
	"github.com/synnefo-io/core/internal/hashmap"
)

type fakeLive struct {
	roots []string
}

func (f *fakeLive) LiveRootHashes() ([]string, error) { return f.roots, nil }

type fakeMaps struct {
	maps map[string][]string
}

func (f *fakeMaps) MapGet(root string) (*hashmap.Hashmap, error) {
	blocks, ok := f.maps[root]
	if !ok {
		return nil, errors.New("map not found")
	}
	return hashmap.New(blockstore.SHA256, blocks), nil
}

func newLocalBackend(t *testing.T) *blockstore.LocalBackend {
	b, err := blockstore.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	return b
}

func TestSweepRemovesUnreferencedBlocks(t *testing.T) {
	backend := newLocalBackend(t)
	require.NoError(t, backend.Put("live1", []byte("a")))
	require.NoError(t, backend.Put("orphan1", []byte("b")))

	live := &fakeLive{roots: []string{"live1"}}
	maps := &fakeMaps{maps: map[string][]string{}}

	s := New(live, backend, maps, 0)
	swept, err := s.Sweep()
	require.NoError(t, err)
	require.Equal(t, 1, swept)

	exists, err := backend.Exists("orphan1")
	require.NoError(t, err)
	require.False(t, exists)

	exists, err = backend.Exists("live1")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestSweepKeepsBlocksReferencedByMap(t *testing.T) {
	backend := newLocalBackend(t)
	require.NoError(t, backend.Put("root1", []byte("r")))
	require.NoError(t, backend.Put("child1", []byte("c1")))
	require.NoError(t, backend.Put("child2", []byte("c2")))
	require.NoError(t, backend.Put("orphan", []byte("o")))

	live := &fakeLive{roots: []string{"root1"}}
	maps := &fakeMaps{maps: map[string][]string{
		"root1": {"child1", "child2"},
	}}

	s := New(live, backend, maps, 0)
	swept, err := s.Sweep()
	require.NoError(t, err)
	require.Equal(t, 1, swept)

	for _, h := range []string{"root1", "child1", "child2"} {
		exists, err := backend.Exists(h)
		require.NoError(t, err)
		require.True(t, exists, "expected %s to survive sweep", h)
	}
	exists, err := backend.Exists("orphan")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestSweepNoopWhenNothingUnreferenced(t *testing.T) {
	backend := newLocalBackend(t)
	require.NoError(t, backend.Put("live1", []byte("a")))

	live := &fakeLive{roots: []string{"live1"}}
	maps := &fakeMaps{maps: map[string][]string{}}

	s := New(live, backend, maps, 0)
	swept, err := s.Sweep()
	require.NoError(t, err)
	require.Equal(t, 0, swept)
}

func TestStartStopDoesNotPanic(t *testing.T) {
	backend := newLocalBackend(t)
	live := &fakeLive{}
	maps := &fakeMaps{maps: map[string][]string{}}

	s := New(live, backend, maps, 0)
	s.Start()
	s.Stop()
}
