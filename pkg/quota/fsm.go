package quota

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/raft"

	"github.com/synnefo-io/core/pkg/types"
)

// FSM implements the Raft Finite State Machine replicating the
// Quotaholder's holdings and commissions, grounded on the teacher's
// WarrenFSM tagged-Command Apply switch (pkg/manager/fsm.go).
type FSM struct {
	store *Store
}

func NewFSM(store *Store) *FSM {
	return &FSM{store: store}
}

// Command is one replicated Quotaholder mutation.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	opSetQuota               = "set_quota"
	opIssueCommission        = "issue_commission"
	opResolvePendingCommission = "resolve_pending_commissions"
)

type setQuotaArgs struct {
	Updates []QuotaLimitUpdate `json:"updates"`
}

type issueCommissionArgs struct {
	Client     string            `json:"client"`
	Name       string            `json:"name"`
	Provisions []types.Provision `json:"provisions"`
	Force      bool              `json:"force"`
}

// issueCommissionResult is returned from Apply through raft's future so the
// caller learns the assigned serial (or the QuotaExceeded failure) without
// a second round trip.
type issueCommissionResult struct {
	Serial int64
	Err    error
}

type resolvePendingCommissionsArgs struct {
	Client string  `json:"client"`
	Accept []int64 `json:"accept"`
	Reject []int64 `json:"reject"`
	Reason string  `json:"reason"`
}

type resolvePendingCommissionsResult struct {
	Outcome ResolveOutcome
	Err     error
}

// Apply applies one committed Raft log entry to the Quotaholder state.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	switch cmd.Op {
	case opSetQuota:
		var args setQuotaArgs
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		return f.store.SetQuota(args.Updates)

	case opIssueCommission:
		var args issueCommissionArgs
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		serial, err := f.store.IssueCommission(args.Client, args.Name, args.Provisions, args.Force)
		return issueCommissionResult{Serial: serial, Err: err}

	case opResolvePendingCommission:
		var args resolvePendingCommissionsArgs
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		outcome, err := f.store.ResolvePendingCommissions(args.Client, args.Accept, args.Reject, args.Reason)
		return resolvePendingCommissionsResult{Outcome: outcome, Err: err}

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot takes a point-in-time copy of all holdings and commissions.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	holdings, err := f.store.GetQuota(QuotaFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	return &fsmSnapshot{holdings: holdings}, nil
}

// Restore replaces current state with the contents of a snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap fsmSnapshotData
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	var updates []QuotaLimitUpdate
	for _, h := range snap.Holdings {
		updates = append(updates, QuotaLimitUpdate{Key: h.HoldingKey, Limit: h.Limit})
	}
	return f.store.SetQuota(updates)
}

type fsmSnapshotData struct {
	Holdings []types.Holding `json:"holdings"`
}

type fsmSnapshot struct {
	holdings map[types.HoldingKey]types.Holding
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	data := fsmSnapshotData{}
	for _, h := range s.holdings {
		data.Holdings = append(data.Holdings, h)
	}
	err := func() error {
		if err := json.NewEncoder(sink).Encode(data); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshot) Release() {}
