package nodestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/synnefo-io/core/pkg/types"
)

func createObject(t *testing.T, s *Store, path string, size int64, at time.Time) *types.Node {
	t.Helper()
	n, err := s.NodeCreate(0, path)
	require.NoError(t, err)
	withFixedVersionTimestamp(t, at)
	_, _, err = s.VersionCreate(VersionCreateArgs{Node: n.ID, Hash: "h", Size: size, Cluster: types.ClusterNormal})
	require.NoError(t, err)
	return n
}

func TestLatestVersionListBasic(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	createObject(t, s, "acct/container/a", 10, t0)
	createObject(t, s, "acct/container/b", 20, t0)

	objects, subdirs, err := s.LatestVersionList(ListingArgs{PathPrefix: "acct/container/"})
	require.NoError(t, err)
	require.Empty(t, subdirs)
	require.Len(t, objects, 2)
	require.Equal(t, "acct/container/a", objects[0].Path)
	require.Equal(t, "acct/container/b", objects[1].Path)
}

func TestLatestVersionListDelimiterRollsUpSubdirs(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	createObject(t, s, "acct/container/dir/a", 10, t0)
	createObject(t, s, "acct/container/dir/b", 20, t0)
	createObject(t, s, "acct/container/top", 5, t0)

	objects, subdirs, err := s.LatestVersionList(ListingArgs{PathPrefix: "acct/container/", Delimiter: "/"})
	require.NoError(t, err)
	require.Len(t, objects, 1)
	require.Equal(t, "acct/container/top", objects[0].Path)
	require.Equal(t, []string{"acct/container/dir/"}, subdirs)
}

func TestLatestVersionListMarkerExcludesUpToAndIncluding(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	createObject(t, s, "acct/container/a", 10, t0)
	createObject(t, s, "acct/container/b", 20, t0)
	createObject(t, s, "acct/container/c", 30, t0)

	objects, _, err := s.LatestVersionList(ListingArgs{PathPrefix: "acct/container/", Marker: "acct/container/a"})
	require.NoError(t, err)
	require.Len(t, objects, 2)
	require.Equal(t, "acct/container/b", objects[0].Path)
}

func TestLatestVersionListBeforeExcludesDeleted(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n := createObject(t, s, "acct/container/a", 10, t0)

	t1 := t0.Add(time.Hour)
	withFixedVersionTimestamp(t, t1)
	_, _, err := s.VersionCreate(VersionCreateArgs{Node: n.ID, Hash: "tombstone", Size: 0, Cluster: types.ClusterDeleted})
	require.NoError(t, err)

	objects, _, err := s.LatestVersionList(ListingArgs{PathPrefix: "acct/container/", Before: t0.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, objects, 1)

	objects, _, err = s.LatestVersionList(ListingArgs{PathPrefix: "acct/container/", Before: t1.Add(time.Minute)})
	require.NoError(t, err)
	require.Empty(t, objects)
}

func TestLatestVersionListRespectsAllowedPaths(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	createObject(t, s, "acct/container/a", 10, t0)
	createObject(t, s, "acct/container/b", 20, t0)

	objects, _, err := s.LatestVersionList(ListingArgs{
		PathPrefix:   "acct/container/",
		AllowedPaths: []string{"acct/container/b"},
	})
	require.NoError(t, err)
	require.Len(t, objects, 1)
	require.Equal(t, "acct/container/b", objects[0].Path)
}

func TestLatestVersionListSizeFilter(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	createObject(t, s, "acct/container/small", 5, t0)
	createObject(t, s, "acct/container/big", 500, t0)

	objects, _, err := s.LatestVersionList(ListingArgs{PathPrefix: "acct/container/", SizeMin: 100})
	require.NoError(t, err)
	require.Len(t, objects, 1)
	require.Equal(t, "acct/container/big", objects[0].Path)
}
