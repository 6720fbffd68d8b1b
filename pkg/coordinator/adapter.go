package coordinator

import (
	"github.com/synnefo-io/core/pkg/quota"
	"github.com/synnefo-io/core/pkg/types"
)

// ManagerBackend adapts a local *quota.Manager to QuotaBackend, for a
// Storage Façade co-located with the Quotaholder leader.
type ManagerBackend struct{ Manager *quota.Manager }

func (b ManagerBackend) IssueCommission(client, name string, provisions []types.Provision, force bool) (int64, error) {
	return b.Manager.IssueCommission(client, name, provisions, force)
}

func (b ManagerBackend) ResolvePendingCommissions(client string, accept, reject []int64, reason string) (ResolveOutcome, error) {
	out, err := b.Manager.ResolvePendingCommissions(client, accept, reject, reason)
	return ResolveOutcome(out), err
}

func (b ManagerBackend) GetPendingCommissions(client string) ([]int64, error) {
	return b.Manager.GetPendingCommissions(client)
}

func (b ManagerBackend) GetCommission(client string, serial int64) (*types.Commission, error) {
	return b.Manager.GetCommission(client, serial)
}

// ClientBackend adapts a remote *quota.Client to QuotaBackend, for a
// Storage Façade deployed separately from the Quotaholder cluster.
type ClientBackend struct{ Client *quota.Client }

func (b ClientBackend) IssueCommission(client, name string, provisions []types.Provision, force bool) (int64, error) {
	return b.Client.IssueCommission(client, name, provisions, force)
}

func (b ClientBackend) ResolvePendingCommissions(client string, accept, reject []int64, reason string) (ResolveOutcome, error) {
	out, err := b.Client.ResolvePendingCommissions(client, accept, reject, reason)
	return ResolveOutcome(out), err
}

func (b ClientBackend) GetPendingCommissions(client string) ([]int64, error) {
	return b.Client.GetPendingCommissions(client)
}

func (b ClientBackend) GetCommission(client string, serial int64) (*types.Commission, error) {
	return b.Client.GetCommission(client, serial)
}
