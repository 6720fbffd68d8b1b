package facade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/pkg/types"
)

func TestEnsureAvailableSkipsAlreadyAvailableVersion(t *testing.T) {
	f := newTestFacade(t)
	_, err := f.PutContainer("acct", "pics", nil)
	require.NoError(t, err)

	blocks := putBlocks(t, f, []byte("here"))
	_, err = f.UpdateObjectHashmap(UpdateObjectHashmapArgs{
		Account: "acct", Container: "pics", Name: "a.txt", Blocks: blocks, Size: 4, User: "u1",
	})
	require.NoError(t, err)

	v, err := f.EnsureAvailable(CheckAvailabilityArgs{Account: "acct", Container: "pics", Name: "a.txt"})
	require.NoError(t, err)
	require.True(t, v.Available)
}

func TestEnsureAvailableRechecksPendingVersion(t *testing.T) {
	f := newTestFacade(t)
	_, err := f.PutContainer("acct", "pics", nil)
	require.NoError(t, err)

	hash, err := f.blocks.PutBlock([]byte("payload"))
	require.NoError(t, err)

	registered, err := f.RegisterObjectMap(RegisterObjectMapArgs{
		Account: "acct", Container: "pics", Name: "pending.bin",
		Blocks: []string{hash}, Size: 7, User: "u1",
	})
	require.NoError(t, err)
	require.False(t, registered.Available)

	v, err := f.EnsureAvailable(CheckAvailabilityArgs{Account: "acct", Container: "pics", Name: "pending.bin"})
	require.NoError(t, err)
	require.True(t, v.Available)
	require.False(t, v.MapCheckTimestamp.IsZero())
}

func TestEnsureAvailableThrottlesRecheckWithinInterval(t *testing.T) {
	f := newTestFacade(t)
	_, err := f.PutContainer("acct", "pics", nil)
	require.NoError(t, err)
	f.cfg.MapCheckIntervalSeconds = 3600

	registered, err := f.RegisterObjectMap(RegisterObjectMapArgs{
		Account: "acct", Container: "pics", Name: "pending.bin",
		Blocks: []string{"stillmissing"}, Size: 7, User: "u1",
	})
	require.NoError(t, err)
	require.False(t, registered.Available)

	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	old := availabilityNow
	availabilityNow = func() time.Time { return fixed }
	t.Cleanup(func() { availabilityNow = old })

	v, err := f.EnsureAvailable(CheckAvailabilityArgs{Account: "acct", Container: "pics", Name: "pending.bin"})
	require.NoError(t, err)
	require.False(t, v.Available)

	availabilityNow = func() time.Time { return fixed.Add(time.Second) }
	v2, err := f.EnsureAvailable(CheckAvailabilityArgs{Account: "acct", Container: "pics", Name: "pending.bin"})
	require.NoError(t, err)
	require.False(t, v2.Available)
	require.Equal(t, v.MapCheckTimestamp, v2.MapCheckTimestamp)
}

func TestEnsureAvailableOnMissingObject(t *testing.T) {
	f := newTestFacade(t)
	_, err := f.PutContainer("acct", "pics", nil)
	require.NoError(t, err)

	_, err = f.EnsureAvailable(CheckAvailabilityArgs{Account: "acct", Container: "pics", Name: "nope.txt"})
	require.Error(t, err)
	require.Equal(t, types.ErrNotFound, apierr.Kind(err))
}
