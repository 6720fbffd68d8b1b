package quota

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/pkg/log"
	"github.com/synnefo-io/core/pkg/metrics"
	"github.com/synnefo-io/core/pkg/types"
)

// Manager is a single node of the Quotaholder's replicated cluster,
// grounded on the teacher's Manager/Bootstrap/Join (pkg/manager/manager.go)
// — narrowed to the holdings/commissions FSM instead of cluster state.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft  *raft.Raft
	fsm   *FSM
	store *Store
}

// Config configures a Manager.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewManager creates a Manager backed by a fresh or existing bbolt store.
func NewManager(cfg Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := NewStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create quota store: %w", err)
	}
	return &Manager{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		fsm:      NewFSM(store),
		store:    store,
	}, nil
}

func (m *Manager) raftConfig() *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

func (m *Manager) newRaft() (*raft.Raft, *raft.NetworkTransport, error) {
	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create raft transport: %w", err)
	}
	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create raft stable store: %w", err)
	}
	r, err := raft.NewRaft(m.raftConfig(), m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create raft: %w", err)
	}
	return r, transport, nil
}

// Bootstrap initializes a new single-node quotaholder cluster.
func (m *Manager) Bootstrap() error {
	r, transport, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{{ID: raft.ServerID(m.nodeID), Address: transport.LocalAddr()}},
	}
	if err := m.raft.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("failed to bootstrap quotaholder raft cluster: %w", err)
	}

	log.WithComponent("quotaholder").Info().Str("node_id", m.nodeID).Msg("quotaholder cluster bootstrapped")
	metrics.RaftPeers.Set(1)
	return nil
}

// Join starts this node's Raft instance without bootstrapping; the leader
// must separately call AddVoter for it to become part of the cluster.
func (m *Manager) Join() error {
	r, _, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r
	return nil
}

// AddVoter adds a new voting member to the cluster. Must be called on the
// current leader.
func (m *Manager) AddVoter(nodeID, addr string) error {
	if m.raft.State() != raft.Leader {
		return apierr.New(types.ErrConflict, "not the quotaholder raft leader")
	}
	return m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second).Error()
}

func (m *Manager) IsLeader() bool {
	return m.raft != nil && m.raft.State() == raft.Leader
}

func (m *Manager) Leader() string {
	if m.raft == nil {
		return ""
	}
	addr, _ := m.raft.LeaderWithID()
	return string(addr)
}

// Shutdown stops raft and closes the underlying store.
func (m *Manager) Shutdown() error {
	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			return err
		}
	}
	return m.store.Close()
}

func (m *Manager) apply(op string, data interface{}) (interface{}, error) {
	if !m.IsLeader() {
		return nil, apierr.New(types.ErrConflict, "not the quotaholder raft leader")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	cmd := Command{Op: op, Data: raw}
	cmdBytes, err := json.Marshal(cmd)
	if err != nil {
		return nil, apierr.Internal(err)
	}

	timer := metrics.NewTimer()
	future := m.raft.Apply(cmdBytes, 10*time.Second)
	if err := future.Error(); err != nil {
		return nil, apierr.Internal(err)
	}
	timer.ObserveDuration(metrics.RaftApplyDuration)
	return future.Response(), nil
}

// GetQuota is a read served directly from the local store (spec §4.6);
// reads do not need to go through raft.Apply.
func (m *Manager) GetQuota(filter QuotaFilter) (map[types.HoldingKey]types.Holding, error) {
	return m.store.GetQuota(filter)
}

// SetQuota replicates a limit update across the cluster.
func (m *Manager) SetQuota(updates []QuotaLimitUpdate) error {
	_, err := m.apply(opSetQuota, setQuotaArgs{Updates: updates})
	return err
}

// IssueCommission replicates a commission issue and returns the assigned
// serial (spec §4.6).
func (m *Manager) IssueCommission(client, name string, provisions []types.Provision, force bool) (int64, error) {
	resp, err := m.apply(opIssueCommission, issueCommissionArgs{
		Client: client, Name: name, Provisions: provisions, Force: force,
	})
	if err != nil {
		return 0, err
	}
	result, ok := resp.(issueCommissionResult)
	if !ok {
		return 0, apierr.Internal(fmt.Errorf("unexpected apply response type %T", resp))
	}
	if result.Err != nil {
		return 0, result.Err
	}
	metrics.CommissionsIssuedTotal.WithLabelValues(client).Inc()
	return result.Serial, nil
}

// ResolvePendingCommissions replicates accept/reject resolution.
func (m *Manager) ResolvePendingCommissions(client string, accept, reject []int64, reason string) (ResolveOutcome, error) {
	resp, err := m.apply(opResolvePendingCommission, resolvePendingCommissionsArgs{
		Client: client, Accept: accept, Reject: reject, Reason: reason,
	})
	if err != nil {
		return ResolveOutcome{}, err
	}
	result, ok := resp.(resolvePendingCommissionsResult)
	if !ok {
		return ResolveOutcome{}, apierr.Internal(fmt.Errorf("unexpected apply response type %T", resp))
	}
	if result.Err != nil {
		return ResolveOutcome{}, result.Err
	}
	metrics.CommissionsAcceptedTotal.WithLabelValues(client).Add(float64(len(result.Outcome.Accepted)))
	metrics.CommissionsRejectedTotal.WithLabelValues(client).Add(float64(len(result.Outcome.Rejected)))
	return result.Outcome, nil
}

// GetPendingCommissions and GetCommission are reads served locally.
func (m *Manager) GetPendingCommissions(client string) ([]int64, error) {
	return m.store.GetPendingCommissions(client)
}

func (m *Manager) GetCommission(client string, serial int64) (*types.Commission, error) {
	return m.store.GetCommission(client, serial)
}

// QuotaReconcile is a local maintenance operation; it is not raft-replicated
// since it corrects a local derived field (usage_min) from the already
// replicated ProvisionLog and is safe to run independently on any replica
// that has caught up, similar to the teacher's per-node metrics collector.
func (m *Manager) QuotaReconcile(dryRun bool) ([]Discrepancy, error) {
	return m.store.QuotaReconcile(dryRun)
}
