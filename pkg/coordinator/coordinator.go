// Package coordinator implements the Commission Coordinator of spec §4.8:
// the glue between the Storage Façade's mutating operations and the
// Quotaholder's two-phase commission protocol. It issues a commission
// before a mutation, persists the serial durably so a crash between issue
// and resolve is recoverable, and accepts or rejects it once the mutation
// has (or has not) actually happened.
//
// Grounded on the teacher's pkg/manager Raft-replicated bookkeeping for the
// "durably record an in-flight operation" shape, narrowed here to a local
// bbolt log of outstanding serials instead of cluster state — the
// coordinator's own bookkeeping does not need to be replicated, only the
// Quotaholder's holdings do.
package coordinator

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/pkg/events"
	"github.com/synnefo-io/core/pkg/log"
	"github.com/synnefo-io/core/pkg/types"
)

// ResolveOutcome mirrors quota.ResolveOutcome without importing pkg/quota,
// so this package can be driven by either a local Manager or a remote
// Client through the QuotaBackend interface below.
type ResolveOutcome struct {
	Accepted    []int64
	Rejected    []int64
	NotFound    []int64
	Conflicting []int64
}

// QuotaBackend is the subset of quota.Manager / quota.Client the coordinator
// needs. Accepting an interface instead of a concrete type lets the Storage
// Façade run in-process against a local Manager or across the network
// against a Client transparently (spec §6's HTTP/JSON RPC).
type QuotaBackend interface {
	IssueCommission(client, name string, provisions []types.Provision, force bool) (int64, error)
	ResolvePendingCommissions(client string, accept, reject []int64, reason string) (ResolveOutcome, error)
	GetPendingCommissions(client string) ([]int64, error)
	GetCommission(client string, serial int64) (*types.Commission, error)
}

var bucketSerials = []byte("commission_serials")

// Coordinator is the Commission Coordinator for one façade client identity
// (e.g. "pithos").
type Coordinator struct {
	client string
	quota  QuotaBackend
	events *events.Broker
	db     *bolt.DB
}

// New creates a Coordinator backed by a local bbolt log of outstanding
// commission serials under dataDir.
func New(dataDir, client string, quota QuotaBackend, broker *events.Broker) (*Coordinator, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create coordinator data directory: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dataDir, "coordinator.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open coordinator database: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSerials)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Coordinator{client: client, quota: quota, events: broker, db: db}, nil
}

func (c *Coordinator) Close() error { return c.db.Close() }

// GetSerial returns the locally recorded state of serial, if any.
func (c *Coordinator) GetSerial(serial int64) (types.CommissionSerial, bool, error) {
	return c.getSerial(serial)
}

// commitTimestamp exists so tests can observe deterministic IssuedAt values.
var commitTimestamp = func() time.Time { return time.Now() }

// Commit implements spec §4.8's issue+persist-serial ordering: resolve any
// still-pending commission already recorded against resource (a prior
// mutation on the same resource that never got accepted or rejected,
// e.g. after a crash), then issue a fresh commission and durably record its
// serial before returning it to the caller. The caller performs its local
// mutation only after Commit returns, then calls Accept or Reject.
func (c *Coordinator) Commit(name, resource string, provisions []types.Provision, force bool) (int64, error) {
	if err := c.resolvePendingForResource(resource); err != nil {
		return 0, err
	}

	serial, err := c.quota.IssueCommission(c.client, name, provisions, force)
	if err != nil {
		return 0, err
	}

	rec := types.CommissionSerial{
		Serial:   serial,
		Resource: resource,
		Pending:  true,
		Accept:   true, // spec §4.8 step 2: persisted as (pending=true, accept=true) at issue time
		IssuedAt: commitTimestamp(),
	}
	if err := c.putSerial(rec); err != nil {
		return 0, err
	}
	return serial, nil
}

// Accept resolves serial as accepted, both against the Quotaholder and in
// the local log, and publishes a commission.accepted event.
func (c *Coordinator) Accept(serial int64, reason string) error {
	return c.resolve(serial, true, reason)
}

// Reject resolves serial as rejected, both against the Quotaholder and in
// the local log, and publishes a commission.rejected event.
func (c *Coordinator) Reject(serial int64, reason string) error {
	return c.resolve(serial, false, reason)
}

func (c *Coordinator) resolve(serial int64, accept bool, reason string) error {
	var outcome ResolveOutcome
	var err error
	if accept {
		outcome, err = c.quota.ResolvePendingCommissions(c.client, []int64{serial}, nil, reason)
	} else {
		outcome, err = c.quota.ResolvePendingCommissions(c.client, nil, []int64{serial}, reason)
	}
	if err != nil {
		return err
	}

	rec, found, err := c.getSerial(serial)
	if err != nil {
		return err
	}
	if found {
		rec.Pending = false
		rec.Accept = accept
		rec.Resolved = true
		rec.ResolvedAt = commitTimestamp()
		if err := c.putSerial(rec); err != nil {
			return err
		}
	}

	eventType := events.EventCommissionRejected
	if accept {
		eventType = events.EventCommissionAccepted
	}
	if c.events != nil {
		c.events.Publish(&events.Event{
			Type:    eventType,
			Message: fmt.Sprintf("commission %d resolved for client %s", serial, c.client),
			Metadata: map[string]string{
				"serial":   fmt.Sprintf("%d", serial),
				"client":   c.client,
				"resource": rec.Resource,
			},
		})
	}

	if len(outcome.Conflicting) > 0 {
		return apierr.New(types.ErrConflict, fmt.Sprintf("commission %d already resolved", serial))
	}
	return nil
}

// resolvePendingForResource implements the "pre-mutation resolve-if-pending
// on the same resource" rule (spec §4.8): a dangling pending commission on
// resource from a prior, uncompleted mutation is rejected (its provisional
// reservation undone) before a new one is issued, so two commissions are
// never outstanding against the same resource at once.
func (c *Coordinator) resolvePendingForResource(resource string) error {
	rec, found, err := c.findPendingByResource(resource)
	if err != nil || !found {
		return err
	}
	log.WithComponent("coordinator").Warn().
		Str("resource", resource).
		Int64("serial", rec.Serial).
		Msg("rejecting dangling pending commission on resource before new commit")
	return c.Reject(rec.Serial, "superseded by new commission on the same resource")
}

func (c *Coordinator) findPendingByResource(resource string) (types.CommissionSerial, bool, error) {
	var found bool
	var rec types.CommissionSerial
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSerials).ForEach(func(k, v []byte) error {
			var r types.CommissionSerial
			if err := unmarshalSerial(v, &r); err != nil {
				return err
			}
			if r.Resource == resource && r.Pending {
				rec = r
				found = true
			}
			return nil
		})
	})
	return rec, found, err
}

// ReconcileSweep compares every locally pending CommissionSerial against
// the Quotaholder's own get_pending_commissions list (spec §4.8's periodic
// reconciliation sweep):
//   - pending locally but absent remotely: the Quotaholder already resolved
//     it through another path, or it expired; mark it resolved locally.
//   - pending on both sides: the exact crash window between Commit's
//     durable persist and the follow-up Accept/Reject call (Testable
//     scenario #5). The record's Accept field holds the intended outcome
//     persisted at issue time (spec §4.8 step 2: `pending=true,
//     accept=true`, flipped to false only by an explicit Reject), so the
//     sweep replays that same resolution against the Quotaholder.
//   - pending remotely with no local record at all: nothing durable here
//     ever promised to accept it, so it is rejected remotely.
func (c *Coordinator) ReconcileSweep() (resolvedLocally int, danglingRemote int, err error) {
	remotePending, err := c.quota.GetPendingCommissions(c.client)
	if err != nil {
		return 0, 0, err
	}
	remoteSet := make(map[int64]bool, len(remotePending))
	for _, s := range remotePending {
		remoteSet[s] = true
	}

	var localPending []types.CommissionSerial
	err = c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSerials).ForEach(func(k, v []byte) error {
			var r types.CommissionSerial
			if err := unmarshalSerial(v, &r); err != nil {
				return err
			}
			if r.Pending {
				localPending = append(localPending, r)
			}
			return nil
		})
	})
	if err != nil {
		return 0, 0, err
	}

	for _, rec := range localPending {
		if !remoteSet[rec.Serial] {
			rec.Pending = false
			rec.Resolved = true
			rec.ResolvedAt = commitTimestamp()
			if err := c.putSerial(rec); err != nil {
				return resolvedLocally, danglingRemote, err
			}
			resolvedLocally++
			continue
		}

		if err := c.resolve(rec.Serial, rec.Accept, "reconciliation sweep replaying crash-interrupted resolution"); err != nil {
			return resolvedLocally, danglingRemote, err
		}
		resolvedLocally++
		delete(remoteSet, rec.Serial)
	}

	for serial := range remoteSet {
		if _, rejErr := c.quota.ResolvePendingCommissions(c.client, nil, []int64{serial}, "reconciliation sweep: no local coordinator record"); rejErr != nil {
			log.WithComponent("coordinator").Error().Err(rejErr).Int64("serial", serial).
				Msg("failed to reject dangling remote commission during reconciliation")
			continue
		}
		danglingRemote++
	}
	if danglingRemote > 0 {
		log.WithComponent("coordinator").Warn().
			Int("count", danglingRemote).
			Msg("rejected quotaholder-pending commissions with no local coordinator record")
	}
	return resolvedLocally, danglingRemote, nil
}
