package nodestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/synnefo-io/core/pkg/types"
)

func withFixedVersionTimestamp(t *testing.T, when time.Time) {
	t.Helper()
	orig := versionTimestamp
	versionTimestamp = func() time.Time { return when }
	t.Cleanup(func() { versionTimestamp = orig })
}

func TestVersionCreateDemotesPriorNormal(t *testing.T) {
	s := newTestStore(t)
	n, err := s.NodeCreate(0, "acct/container/obj")
	require.NoError(t, err)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	withFixedVersionTimestamp(t, t0)
	serial1, _, err := s.VersionCreate(VersionCreateArgs{
		Node: n.ID, Hash: "h1", Size: 100, Cluster: types.ClusterNormal,
	})
	require.NoError(t, err)

	t1 := t0.Add(time.Hour)
	withFixedVersionTimestamp(t, t1)
	serial2, _, err := s.VersionCreate(VersionCreateArgs{
		Node: n.ID, Hash: "h2", Size: 50, Cluster: types.ClusterNormal,
	})
	require.NoError(t, err)

	v1, err := s.VersionGetProperties(serial1, n.ID)
	require.NoError(t, err)
	require.Equal(t, types.ClusterHistory, v1.Cluster)

	v2, err := s.VersionGetProperties(serial2, n.ID)
	require.NoError(t, err)
	require.Equal(t, types.ClusterNormal, v2.Cluster)

	stats, err := s.StatisticsGet(n.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Count)
	require.Equal(t, int64(50), stats.Bytes)
}

func TestVersionCreatePropagatesStatisticsToParent(t *testing.T) {
	s := newTestStore(t)
	acct, err := s.NodeCreate(0, "acct")
	require.NoError(t, err)
	container, err := s.NodeCreate(acct.ID, "acct/container")
	require.NoError(t, err)
	obj, err := s.NodeCreate(container.ID, "acct/container/obj")
	require.NoError(t, err)

	_, _, err = s.VersionCreate(VersionCreateArgs{
		Node: obj.ID, Hash: "h1", Size: 200, Cluster: types.ClusterNormal, AncestorsDepth: 1,
	})
	require.NoError(t, err)

	objStats, err := s.StatisticsGet(obj.ID)
	require.NoError(t, err)
	require.Equal(t, int64(200), objStats.Bytes)

	containerStats, err := s.StatisticsGet(container.ID)
	require.NoError(t, err)
	require.Equal(t, int64(200), containerStats.Bytes)
	require.Equal(t, int64(1), containerStats.Count)
}

func TestVersionLookupRespectsBeforeTime(t *testing.T) {
	s := newTestStore(t)
	n, err := s.NodeCreate(0, "acct/container/obj")
	require.NoError(t, err)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	withFixedVersionTimestamp(t, t0)
	_, _, err = s.VersionCreate(VersionCreateArgs{Node: n.ID, Hash: "h1", Size: 10, Cluster: types.ClusterNormal})
	require.NoError(t, err)

	got, err := s.VersionLookup(n.ID, t0.Add(-time.Minute), types.ClusterNormal)
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = s.VersionLookup(n.ID, t0.Add(time.Minute), types.ClusterNormal)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestVersionRemoveRefundsStatistics(t *testing.T) {
	s := newTestStore(t)
	n, err := s.NodeCreate(0, "acct/container/obj")
	require.NoError(t, err)
	serial, _, err := s.VersionCreate(VersionCreateArgs{
		Node: n.ID, Hash: "h1", Size: 500, Cluster: types.ClusterNormal,
	})
	require.NoError(t, err)

	freed, err := s.VersionRemove(serial)
	require.NoError(t, err)
	require.Equal(t, int64(500), freed)

	stats, err := s.StatisticsGet(n.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.Count)
	require.Equal(t, int64(0), stats.Bytes)
}

func TestVersionGetPropertiesWrongNodeFails(t *testing.T) {
	s := newTestStore(t)
	n, err := s.NodeCreate(0, "acct/container/obj")
	require.NoError(t, err)
	other, err := s.NodeCreate(0, "acct/container/other")
	require.NoError(t, err)
	serial, _, err := s.VersionCreate(VersionCreateArgs{Node: n.ID, Hash: "h1", Size: 1, Cluster: types.ClusterNormal})
	require.NoError(t, err)

	_, err = s.VersionGetProperties(serial, other.ID)
	require.Error(t, err)
}
