package quota

import (
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func key(holder, source string, resource types.Resource) types.HoldingKey {
	return types.HoldingKey{Holder: holder, Source: source, Resource: resource}
}

func TestIssueCommissionImportWithinLimit(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetQuota([]QuotaLimitUpdate{{Key: key("u1", "p1", types.ResourceDiskSpace), Limit: 1000}}))

	serial, err := s.IssueCommission("pithos", "upload", []types.Provision{
		{HoldingKey: key("u1", "p1", types.ResourceDiskSpace), Quantity: 600},
	}, false)
	require.NoError(t, err)
	require.Equal(t, int64(1), serial)

	holdings, err := s.GetQuota(QuotaFilter{})
	require.NoError(t, err)
	h := holdings[key("u1", "p1", types.ResourceDiskSpace)]
	require.Equal(t, int64(600), h.UsageMax)
	require.Equal(t, int64(0), h.UsageMin)
}

func TestIssueCommissionExceedsLimitFails(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetQuota([]QuotaLimitUpdate{{Key: key("u1", "p1", types.ResourceDiskSpace), Limit: 1024}}))

	_, err := s.IssueCommission("pithos", "upload", []types.Provision{
		{HoldingKey: key("u1", "p1", types.ResourceDiskSpace), Quantity: 2048},
	}, false)
	require.Error(t, err)
	require.Equal(t, types.ErrQuotaExceeded, apierr.Kind(err))

	holdings, err := s.GetQuota(QuotaFilter{})
	require.NoError(t, err)
	h := holdings[key("u1", "p1", types.ResourceDiskSpace)]
	require.Equal(t, int64(0), h.UsageMax, "failed commission must not leave a partial prepare")
}

func TestIssueCommissionForceOverridesLimit(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetQuota([]QuotaLimitUpdate{{Key: key("u1", "p1", types.ResourceDiskSpace), Limit: 100}}))

	_, err := s.IssueCommission("admin", "reassign", []types.Provision{
		{HoldingKey: key("u1", "p1", types.ResourceDiskSpace), Quantity: 500},
	}, true)
	require.NoError(t, err)
}

func TestIssueCommissionMergesDuplicateProvisions(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetQuota([]QuotaLimitUpdate{{Key: key("u1", "p1", types.ResourceDiskSpace), Limit: 1000}}))

	serial, err := s.IssueCommission("pithos", "upload", []types.Provision{
		{HoldingKey: key("u1", "p1", types.ResourceDiskSpace), Quantity: 300},
		{HoldingKey: key("u1", "p1", types.ResourceDiskSpace), Quantity: 300},
	}, false)
	require.NoError(t, err)

	c, err := s.GetCommission("pithos", serial)
	require.NoError(t, err)
	require.Len(t, c.Provisions, 1)
	require.Equal(t, int64(600), c.Provisions[0].Quantity)
}

func TestIssueCommissionEmptyIsNoOp(t *testing.T) {
	s := newTestStore(t)
	s1, err := s.IssueCommission("pithos", "noop", nil, false)
	require.NoError(t, err)
	s2, err := s.IssueCommission("pithos", "noop", nil, false)
	require.NoError(t, err)
	require.NotEqual(t, s1, s2)
}

func TestResolveAcceptImport(t *testing.T) {
	s := newTestStore(t)
	serial, err := s.IssueCommission("pithos", "upload", []types.Provision{
		{HoldingKey: key("u1", "p1", types.ResourceDiskSpace), Quantity: 600},
	}, false)
	require.NoError(t, err)

	outcome, err := s.ResolvePendingCommissions("pithos", []int64{serial}, nil, "accepted")
	require.NoError(t, err)
	require.Equal(t, []int64{serial}, outcome.Accepted)

	holdings, _ := s.GetQuota(QuotaFilter{})
	h := holdings[key("u1", "p1", types.ResourceDiskSpace)]
	require.Equal(t, int64(600), h.UsageMin)
	require.Equal(t, int64(600), h.UsageMax)
}

func TestResolveRejectImportUndoesReserve(t *testing.T) {
	s := newTestStore(t)
	serial, err := s.IssueCommission("pithos", "upload", []types.Provision{
		{HoldingKey: key("u1", "p1", types.ResourceDiskSpace), Quantity: 600},
	}, false)
	require.NoError(t, err)

	outcome, err := s.ResolvePendingCommissions("pithos", nil, []int64{serial}, "rejected")
	require.NoError(t, err)
	require.Equal(t, []int64{serial}, outcome.Rejected)

	holdings, _ := s.GetQuota(QuotaFilter{})
	h := holdings[key("u1", "p1", types.ResourceDiskSpace)]
	require.Equal(t, int64(0), h.UsageMax)
}

func TestResolveReleaseAcceptAndReject(t *testing.T) {
	s := newTestStore(t)
	k := key("u1", "p1", types.ResourceDiskSpace)
	s1, err := s.IssueCommission("pithos", "upload", []types.Provision{{HoldingKey: k, Quantity: 1000}}, false)
	require.NoError(t, err)
	_, err = s.ResolvePendingCommissions("pithos", []int64{s1}, nil, "")
	require.NoError(t, err)

	release, err := s.IssueCommission("pithos", "overwrite", []types.Provision{{HoldingKey: k, Quantity: -400}}, false)
	require.NoError(t, err)

	holdings, _ := s.GetQuota(QuotaFilter{})
	h := holdings[k]
	require.Equal(t, int64(600), h.UsageMin, "optimistic release lowers usage_min immediately at issue")
	require.Equal(t, int64(1000), h.UsageMax, "usage_max unchanged until resolution")

	outcome, err := s.ResolvePendingCommissions("pithos", []int64{release}, nil, "")
	require.NoError(t, err)
	require.Equal(t, []int64{release}, outcome.Accepted)

	holdings, _ = s.GetQuota(QuotaFilter{})
	h = holdings[k]
	require.Equal(t, int64(600), h.UsageMin)
	require.Equal(t, int64(600), h.UsageMax, "accept+release completes by lowering usage_max")
}

func TestResolveConflictingSerialLeavesHoldingUnchanged(t *testing.T) {
	s := newTestStore(t)
	k := key("u1", "p1", types.ResourceDiskSpace)
	serial, err := s.IssueCommission("pithos", "upload", []types.Provision{{HoldingKey: k, Quantity: 500}}, false)
	require.NoError(t, err)

	outcome, err := s.ResolvePendingCommissions("pithos", []int64{serial}, []int64{serial}, "")
	require.NoError(t, err)
	require.Equal(t, []int64{serial}, outcome.Conflicting)
	require.Empty(t, outcome.Accepted)
	require.Empty(t, outcome.Rejected)

	holdings, _ := s.GetQuota(QuotaFilter{})
	h := holdings[k]
	require.Equal(t, int64(500), h.UsageMax, "conflicting resolution must not touch the holding")
}

func TestResolveUnknownSerialIsNotFoundNotFailure(t *testing.T) {
	s := newTestStore(t)
	outcome, err := s.ResolvePendingCommissions("pithos", []int64{9999}, nil, "")
	require.NoError(t, err)
	require.Equal(t, []int64{9999}, outcome.NotFound)
}

func TestResolveExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	k := key("u1", "p1", types.ResourceDiskSpace)
	serial, err := s.IssueCommission("pithos", "upload", []types.Provision{{HoldingKey: k, Quantity: 500}}, false)
	require.NoError(t, err)

	_, err = s.ResolvePendingCommissions("pithos", []int64{serial}, nil, "")
	require.NoError(t, err)

	outcome, err := s.ResolvePendingCommissions("pithos", []int64{serial}, nil, "")
	require.NoError(t, err)
	require.Equal(t, []int64{serial}, outcome.NotFound, "a resolved serial must not resolve twice")
}

func TestGetPendingCommissions(t *testing.T) {
	s := newTestStore(t)
	k := key("u1", "p1", types.ResourceDiskSpace)
	s1, _ := s.IssueCommission("pithos", "a", []types.Provision{{HoldingKey: k, Quantity: 1}}, false)
	s2, _ := s.IssueCommission("pithos", "b", []types.Provision{{HoldingKey: k, Quantity: 1}}, false)
	_, _ = s.ResolvePendingCommissions("pithos", []int64{s1}, nil, "")

	pending, err := s.GetPendingCommissions("pithos")
	require.NoError(t, err)
	require.Equal(t, []int64{s2}, pending)
}

func TestQuotaReconcileDetectsDrift(t *testing.T) {
	s := newTestStore(t)
	k := key("u1", "p1", types.ResourceDiskSpace)
	serial, err := s.IssueCommission("pithos", "upload", []types.Provision{{HoldingKey: k, Quantity: 500}}, false)
	require.NoError(t, err)
	_, err = s.ResolvePendingCommissions("pithos", []int64{serial}, nil, "")
	require.NoError(t, err)

	holdings, _ := s.GetQuota(QuotaFilter{})
	h := holdings[k]
	h.UsageMin = 999
	require.NoError(t, s.db.Update(func(tx *bolt.Tx) error {
		return s.putHolding(tx, h)
	}))

	diffs, err := s.QuotaReconcile(true)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	require.Equal(t, int64(999), diffs[0].RecordedMin)
	require.Equal(t, int64(500), diffs[0].ComputedMin)

	diffs, err = s.QuotaReconcile(false)
	require.NoError(t, err)
	require.Len(t, diffs, 1)

	holdings, _ = s.GetQuota(QuotaFilter{})
	require.Equal(t, int64(500), holdings[k].UsageMin)
}
