package facade

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/pkg/types"
)

func TestListContainerOnMissingContainer(t *testing.T) {
	f := newTestFacade(t)
	_, err := f.ListContainer(ListContainerArgs{Account: "acct", Container: "nope"})
	require.Error(t, err)
	require.Equal(t, types.ErrNotFound, apierr.Kind(err))
}

func TestListContainerReturnsObjects(t *testing.T) {
	f := newTestFacade(t)
	_, err := f.PutContainer("acct", "pics", nil)
	require.NoError(t, err)

	for _, name := range []string{"a.txt", "b.txt"} {
		blocks := putBlocks(t, f, []byte(name))
		_, err := f.UpdateObjectHashmap(UpdateObjectHashmapArgs{
			Account: "acct", Container: "pics", Name: name,
			Blocks: blocks, Size: int64(len(name)), User: "u1",
		})
		require.NoError(t, err)
	}

	result, err := f.ListContainer(ListContainerArgs{Account: "acct", Container: "pics"})
	require.NoError(t, err)
	require.Len(t, result.Objects, 2)
}

func TestListContainerExcludesDeletedTombstones(t *testing.T) {
	f := newTestFacade(t)
	_, err := f.PutContainer("acct", "pics", nil)
	require.NoError(t, err)

	blocks := putBlocks(t, f, []byte("gone"))
	_, err = f.UpdateObjectHashmap(UpdateObjectHashmapArgs{
		Account: "acct", Container: "pics", Name: "a.txt", Blocks: blocks, Size: 4, User: "u1",
	})
	require.NoError(t, err)
	require.NoError(t, f.DeleteObject("acct", "pics", "a.txt", "u1", ""))

	result, err := f.ListContainer(ListContainerArgs{Account: "acct", Container: "pics"})
	require.NoError(t, err)
	require.Empty(t, result.Objects)
}

func TestListAccountShowsEmptyContainers(t *testing.T) {
	f := newTestFacade(t)
	_, err := f.PutContainer("acct", "empty", nil)
	require.NoError(t, err)
	_, err = f.PutContainer("acct", "nonempty", nil)
	require.NoError(t, err)

	blocks := putBlocks(t, f, []byte("x"))
	_, err = f.UpdateObjectHashmap(UpdateObjectHashmapArgs{
		Account: "acct", Container: "nonempty", Name: "a.txt", Blocks: blocks, Size: 1, User: "u1",
	})
	require.NoError(t, err)

	infos, err := f.ListAccount(ListAccountArgs{Account: "acct"})
	require.NoError(t, err)
	require.Len(t, infos, 2)

	names := map[string]bool{}
	for _, info := range infos {
		names[info.Name] = true
	}
	require.True(t, names["empty"])
	require.True(t, names["nonempty"])
}

func TestListAccountOnMissingAccount(t *testing.T) {
	f := newTestFacade(t)
	_, err := f.ListAccount(ListAccountArgs{Account: "nope"})
	require.Error(t, err)
	require.Equal(t, types.ErrNotFound, apierr.Kind(err))
}
