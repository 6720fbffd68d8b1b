package facade

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/pkg/types"
)

func TestPutContainerCreatesWithDefaultPolicy(t *testing.T) {
	f := newTestFacade(t)

	policy, err := f.PutContainer("acct", "pics", nil)
	require.NoError(t, err)
	require.Equal(t, f.cfg.DefaultVersioning, policy.Versioning)
	require.Equal(t, f.cfg.DefaultContainerQuota, policy.Quota)
}

func TestPutContainerRejectsDuplicate(t *testing.T) {
	f := newTestFacade(t)

	_, err := f.PutContainer("acct", "pics", nil)
	require.NoError(t, err)

	_, err = f.PutContainer("acct", "pics", nil)
	require.Error(t, err)
	require.Equal(t, types.ErrConflict, apierr.Kind(err))
}

func TestPutContainerHonorsExplicitPolicy(t *testing.T) {
	f := newTestFacade(t)

	policy, err := f.PutContainer("acct", "pics", &types.Policy{Quota: 1024, Versioning: types.VersioningNone, Project: "proj-1"})
	require.NoError(t, err)
	require.Equal(t, int64(1024), policy.Quota)
	require.Equal(t, types.VersioningNone, policy.Versioning)
	require.Equal(t, "proj-1", policy.Project)
}

func TestDeleteContainerFailsWhenNotEmpty(t *testing.T) {
	f := newTestFacade(t)
	_, err := f.PutContainer("acct", "pics", nil)
	require.NoError(t, err)

	blocks := putBlocks(t, f, []byte("hello"))
	_, err = f.UpdateObjectHashmap(UpdateObjectHashmapArgs{
		Account: "acct", Container: "pics", Name: "a.txt",
		Blocks: blocks, Size: 5, User: "u1",
	})
	require.NoError(t, err)

	err = f.DeleteContainer(DeleteContainerArgs{Account: "acct", Container: "pics"})
	require.Error(t, err)
	require.Equal(t, types.ErrIllegalOperation, apierr.Kind(err))
}

func TestDeleteContainerSucceedsWhenEmpty(t *testing.T) {
	f := newTestFacade(t)
	_, err := f.PutContainer("acct", "pics", nil)
	require.NoError(t, err)

	require.NoError(t, f.DeleteContainer(DeleteContainerArgs{Account: "acct", Container: "pics"}))

	_, err = f.ListContainer(ListContainerArgs{Account: "acct", Container: "pics"})
	require.Error(t, err)
	require.Equal(t, types.ErrNotFound, apierr.Kind(err))
}

func TestDeleteContainerUntilPurgesHistoryAndRefunds(t *testing.T) {
	f := newTestFacade(t)
	_, err := f.PutContainer("acct", "pics", nil)
	require.NoError(t, err)

	blocks := putBlocks(t, f, []byte("v1"))
	_, err = f.UpdateObjectHashmap(UpdateObjectHashmapArgs{
		Account: "acct", Container: "pics", Name: "a.txt",
		Blocks: blocks, Size: 2, User: "u1",
	})
	require.NoError(t, err)

	blocks = putBlocks(t, f, []byte("v2v2"))
	_, err = f.UpdateObjectHashmap(UpdateObjectHashmapArgs{
		Account: "acct", Container: "pics", Name: "a.txt",
		Blocks: blocks, Size: 4, User: "u1",
	})
	require.NoError(t, err)

	require.NoError(t, f.DeleteContainer(DeleteContainerArgs{
		Account: "acct", Container: "pics", Until: farFutureForLocking(),
	}))

	objNode, err := f.nodes.NodeLookup("acct/pics/a.txt")
	require.NoError(t, err)
	require.NotNil(t, objNode)
	versions, err := f.nodes.VersionList(objNode.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.Equal(t, types.ClusterNormal, versions[0].Cluster)
}

func TestDeleteContainerUntilSkipsRefundUnderFreeVersioning(t *testing.T) {
	f := newTestFacade(t)
	f.cfg.FreeVersioning = true
	_, err := f.PutContainer("acct", "pics", nil)
	require.NoError(t, err)

	blocks := putBlocks(t, f, []byte("v1"))
	_, err = f.UpdateObjectHashmap(UpdateObjectHashmapArgs{
		Account: "acct", Container: "pics", Name: "a.txt",
		Blocks: blocks, Size: 2, User: "u1",
	})
	require.NoError(t, err)

	blocks = putBlocks(t, f, []byte("v2v2"))
	_, err = f.UpdateObjectHashmap(UpdateObjectHashmapArgs{
		Account: "acct", Container: "pics", Name: "a.txt",
		Blocks: blocks, Size: 4, User: "u1",
	})
	require.NoError(t, err)

	require.NoError(t, f.DeleteContainer(DeleteContainerArgs{
		Account: "acct", Container: "pics", Until: farFutureForLocking(),
	}))

	objNode, err := f.nodes.NodeLookup("acct/pics/a.txt")
	require.NoError(t, err)
	versions, err := f.nodes.VersionList(objNode.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
}

func TestDeleteContainerDelimiterDeletesContentsKeepsContainer(t *testing.T) {
	f := newTestFacade(t)
	_, err := f.PutContainer("acct", "pics", nil)
	require.NoError(t, err)

	blocks := putBlocks(t, f, []byte("hello"))
	_, err = f.UpdateObjectHashmap(UpdateObjectHashmapArgs{
		Account: "acct", Container: "pics", Name: "a.txt",
		Blocks: blocks, Size: 5, User: "u1",
	})
	require.NoError(t, err)

	require.NoError(t, f.DeleteContainer(DeleteContainerArgs{
		Account: "acct", Container: "pics", Delimiter: "/",
	}))

	result, err := f.ListContainer(ListContainerArgs{Account: "acct", Container: "pics"})
	require.NoError(t, err)
	require.Empty(t, result.Objects)

	containerNode, err := f.nodes.NodeLookup("acct/pics")
	require.NoError(t, err)
	require.NotNil(t, containerNode)
}

func TestUpdateContainerPolicyWithoutReassignment(t *testing.T) {
	f := newTestFacade(t)
	_, err := f.PutContainer("acct", "pics", nil)
	require.NoError(t, err)

	updated, err := f.UpdateContainerPolicy("acct", "pics", types.Policy{Quota: 2048, Versioning: types.VersioningAuto}, false, "")
	require.NoError(t, err)
	require.Equal(t, int64(2048), updated.Quota)
}

func TestUpdateContainerPolicyReassignsProjectAndLogsIt(t *testing.T) {
	f := newTestFacade(t)
	_, err := f.PutContainer("acct", "pics", &types.Policy{Project: "proj-a"})
	require.NoError(t, err)

	blocks := putBlocks(t, f, []byte("payload"))
	_, err = f.UpdateObjectHashmap(UpdateObjectHashmapArgs{
		Account: "acct", Container: "pics", Name: "a.txt",
		Blocks: blocks, Size: 7, User: "u1",
	})
	require.NoError(t, err)

	updated, err := f.UpdateContainerPolicy("acct", "pics", types.Policy{Project: "proj-b"}, false, "")
	require.NoError(t, err)
	require.Equal(t, "proj-b", updated.Project)

	entries, err := f.nodes.ReassignmentLogList("acct/pics")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "proj-a", entries[0].FromProj)
	require.Equal(t, "proj-b", entries[0].ToProj)
	require.True(t, entries[0].Accepted)
	require.Equal(t, int64(7), entries[0].Bytes)
}
