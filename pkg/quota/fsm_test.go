package quota

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"

	"github.com/synnefo-io/core/pkg/types"
)

func newTestFSM(t *testing.T) *FSM {
	t.Helper()
	store := newTestStore(t)
	return NewFSM(store)
}

func applyCommand(t *testing.T, f *FSM, op string, args interface{}) interface{} {
	t.Helper()
	data, err := json.Marshal(args)
	require.NoError(t, err)
	cmd := Command{Op: op, Data: data}
	raw, err := json.Marshal(cmd)
	require.NoError(t, err)
	return f.Apply(&raft.Log{Data: raw})
}

func TestFSMApplySetQuota(t *testing.T) {
	f := newTestFSM(t)
	k := key("u1", "p1", types.ResourceDiskSpace)
	resp := applyCommand(t, f, opSetQuota, setQuotaArgs{Updates: []QuotaLimitUpdate{{Key: k, Limit: 2048}}})
	if resp != nil {
		require.NoError(t, resp.(error))
	}

	holdings, err := f.store.GetQuota(QuotaFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(2048), holdings[k].Limit)
}

func TestFSMApplyIssueAndResolveCommission(t *testing.T) {
	f := newTestFSM(t)
	k := key("u1", "p1", types.ResourceDiskSpace)

	resp := applyCommand(t, f, opIssueCommission, issueCommissionArgs{
		Client: "pithos", Name: "upload", Provisions: []types.Provision{{HoldingKey: k, Quantity: 128}},
	})
	issueResult, ok := resp.(issueCommissionResult)
	require.True(t, ok)
	require.NoError(t, issueResult.Err)
	require.Equal(t, int64(1), issueResult.Serial)

	resp = applyCommand(t, f, opResolvePendingCommission, resolvePendingCommissionsArgs{
		Client: "pithos", Accept: []int64{issueResult.Serial},
	})
	resolveResult, ok := resp.(resolvePendingCommissionsResult)
	require.True(t, ok)
	require.NoError(t, resolveResult.Err)
	require.Equal(t, []int64{issueResult.Serial}, resolveResult.Outcome.Accepted)
}

func TestFSMApplyUnknownOp(t *testing.T) {
	f := newTestFSM(t)
	resp := applyCommand(t, f, "bogus", map[string]string{})
	require.Error(t, resp.(error))
}

func TestFSMSnapshotRestore(t *testing.T) {
	f := newTestFSM(t)
	k := key("u1", "p1", types.ResourceDiskSpace)
	require.NoError(t, f.store.SetQuota([]QuotaLimitUpdate{{Key: k, Limit: 500}}))

	snap, err := f.Snapshot()
	require.NoError(t, err)

	fsmSnap := snap.(*fsmSnapshot)
	require.Len(t, fsmSnap.holdings, 1)
	snap.Release()

	target := newTestFSM(t)
	data, err := json.Marshal(fsmSnapshotData{Holdings: holdingsSlice(fsmSnap.holdings)})
	require.NoError(t, err)
	require.NoError(t, target.Restore(io.NopCloser(bytes.NewReader(data))))

	holdings, err := target.store.GetQuota(QuotaFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(500), holdings[k].Limit)
}

func holdingsSlice(m map[types.HoldingKey]types.Holding) []types.Holding {
	out := make([]types.Holding, 0, len(m))
	for _, h := range m {
		out = append(out, h)
	}
	return out
}
