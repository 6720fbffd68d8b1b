package quota

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/pkg/types"
)

var (
	bucketHoldings    = []byte("holdings")
	bucketCommissions = []byte("commissions")
	bucketProvisionLog = []byte("provision_log")
	bucketMeta        = []byte("meta")
)

var keySerial = []byte("next_serial")

// Store is the Quotaholder's persistence layer: holdings, commissions, and
// the provision log (spec §4.6, §6 "Persisted state layout"). Every
// business operation runs inside a single bbolt transaction, mirroring the
// teacher's bucket-per-entity BoltStore — but unlike the teacher's simple
// upsert methods, these are composite read-check-write operations since
// issue_commission and resolve_pending_commissions must be all-or-nothing.
type Store struct {
	db *bolt.DB
}

// NewStore opens (creating if absent) a bbolt-backed Quotaholder store.
func NewStore(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "quota.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open quota database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketHoldings, bucketCommissions, bucketProvisionLog, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func holdingKeyBytes(k types.HoldingKey) []byte {
	return []byte(fmt.Sprintf("%s\x00%s\x00%s", k.Holder, k.Source, k.Resource))
}

func serialKeyBytes(serial int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(serial))
	return b
}

func (s *Store) getHolding(tx *bolt.Tx, key types.HoldingKey) (types.Holding, bool, error) {
	b := tx.Bucket(bucketHoldings)
	data := b.Get(holdingKeyBytes(key))
	if data == nil {
		return types.Holding{}, false, nil
	}
	var h types.Holding
	if err := json.Unmarshal(data, &h); err != nil {
		return types.Holding{}, false, err
	}
	return h, true, nil
}

func (s *Store) putHolding(tx *bolt.Tx, h types.Holding) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketHoldings).Put(holdingKeyBytes(h.HoldingKey), data)
}

// QuotaFilter narrows GetQuota to specific holders/sources/resources;
// an empty slice means "no filter on this dimension".
type QuotaFilter struct {
	Holders   []string
	Sources   []string
	Resources []types.Resource
}

func (f QuotaFilter) matches(k types.HoldingKey) bool {
	if len(f.Holders) > 0 && !containsStr(f.Holders, k.Holder) {
		return false
	}
	if len(f.Sources) > 0 && !containsStr(f.Sources, k.Source) {
		return false
	}
	if len(f.Resources) > 0 && !containsResource(f.Resources, k.Resource) {
		return false
	}
	return true
}

func containsStr(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsResource(list []types.Resource, v types.Resource) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// GetQuota returns the holdings matching filter (spec §4.6).
func (s *Store) GetQuota(filter QuotaFilter) (map[types.HoldingKey]types.Holding, error) {
	result := make(map[types.HoldingKey]types.Holding)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHoldings).ForEach(func(k, v []byte) error {
			var h types.Holding
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			if filter.matches(h.HoldingKey) {
				result[h.HoldingKey] = h
			}
			return nil
		})
	})
	return result, err
}

// QuotaLimitUpdate is one entry of a set_quota batch.
type QuotaLimitUpdate struct {
	Key   types.HoldingKey
	Limit int64
}

// SetQuota replaces limits atomically, preserving usage_min/usage_max
// across the replace (spec §4.6).
func (s *Store) SetQuota(updates []QuotaLimitUpdate) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, u := range updates {
			h, found, err := s.getHolding(tx, u.Key)
			if err != nil {
				return err
			}
			if !found {
				h = types.Holding{HoldingKey: u.Key}
			}
			h.Limit = u.Limit
			if err := s.putHolding(tx, h); err != nil {
				return err
			}
		}
		return nil
	})
}

// IssueCommission implements the Quotaholder's prepare phase (spec §4.6).
// Provisions with identical keys are merged by summing delta quantities
// before any check runs. On any check failure every prior prepare within
// this commission is undone and the commission is not persisted.
func (s *Store) IssueCommission(client, name string, provisions []types.Provision, force bool) (int64, error) {
	merged := mergeProvisions(provisions)

	var serial int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		applied := make([]types.Provision, 0, len(merged))
		for _, p := range merged {
			h, found, err := s.getHolding(tx, p.HoldingKey)
			if err != nil {
				return apierr.Internal(err)
			}
			if !found {
				h = types.Holding{HoldingKey: p.HoldingKey, Limit: types.Unlimited}
			}

			if p.Quantity >= 0 {
				newMax := h.UsageMax + p.Quantity
				if h.Limit != types.Unlimited && newMax > h.Limit && !force {
					rollback(tx, s, applied)
					return apierr.QuotaExceeded(h.Limit, h.UsageMax, p.Quantity, p.Resource, p.Holder)
				}
				h.UsageMax = newMax
			} else {
				newMin := h.UsageMin + p.Quantity
				if newMin < 0 {
					rollback(tx, s, applied)
					return apierr.QuotaExceeded(h.Limit, h.UsageMin, p.Quantity, p.Resource, p.Holder)
				}
				h.UsageMin = newMin
			}

			if err := s.putHolding(tx, h); err != nil {
				return apierr.Internal(err)
			}
			applied = append(applied, p)
		}

		next, err := nextSerial(tx)
		if err != nil {
			return apierr.Internal(err)
		}
		serial = next

		c := types.Commission{
			Serial:     serial,
			Client:     client,
			Name:       name,
			IssueTime:  commissionTimestamp(),
			Provisions: merged,
			State:      types.CommissionPending,
			Force:      force,
		}
		data, err := json.Marshal(c)
		if err != nil {
			return apierr.Internal(err)
		}
		return tx.Bucket(bucketCommissions).Put(serialKeyBytes(serial), data)
	})
	if err != nil {
		return 0, err
	}
	return serial, nil
}

// commissionTimestamp exists so tests can observe issue_time is set without
// the package depending on time.Now at the call site being untestable;
// production callers always get the real clock.
var commissionTimestamp = func() time.Time { return time.Now() }

func rollback(tx *bolt.Tx, s *Store, applied []types.Provision) {
	for i := len(applied) - 1; i >= 0; i-- {
		p := applied[i]
		h, found, err := s.getHolding(tx, p.HoldingKey)
		if err != nil || !found {
			continue
		}
		if p.Quantity >= 0 {
			h.UsageMax -= p.Quantity
		} else {
			h.UsageMin -= p.Quantity
		}
		_ = s.putHolding(tx, h)
	}
}

func mergeProvisions(provisions []types.Provision) []types.Provision {
	order := make([]types.HoldingKey, 0, len(provisions))
	sums := make(map[types.HoldingKey]types.Provision)
	for _, p := range provisions {
		if existing, ok := sums[p.HoldingKey]; ok {
			existing.Quantity += p.Quantity
			sums[p.HoldingKey] = existing
		} else {
			sums[p.HoldingKey] = p
			order = append(order, p.HoldingKey)
		}
	}
	merged := make([]types.Provision, 0, len(order))
	for _, k := range order {
		merged = append(merged, sums[k])
	}
	return merged
}

func nextSerial(tx *bolt.Tx) (int64, error) {
	b := tx.Bucket(bucketMeta)
	data := b.Get(keySerial)
	var n int64
	if data != nil {
		n = int64(binary.BigEndian.Uint64(data))
	}
	n++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	if err := b.Put(keySerial, buf); err != nil {
		return 0, err
	}
	return n, nil
}

// ResolveOutcome is the per-serial disposition returned by
// ResolvePendingCommissions.
type ResolveOutcome struct {
	Accepted    []int64
	Rejected    []int64
	NotFound    []int64
	Conflicting []int64
}

// ResolvePendingCommissions implements the Quotaholder's commit phase
// (spec §4.6). Resolution is exactly-once per serial.
func (s *Store) ResolvePendingCommissions(client string, accept, reject []int64, reason string) (ResolveOutcome, error) {
	var out ResolveOutcome

	acceptSet := make(map[int64]bool, len(accept))
	for _, s := range accept {
		acceptSet[s] = true
	}
	rejectSet := make(map[int64]bool, len(reject))
	for _, s := range reject {
		rejectSet[s] = true
	}

	all := make([]int64, 0, len(accept)+len(reject))
	seen := map[int64]bool{}
	for _, s := range append(append([]int64{}, accept...), reject...) {
		if !seen[s] {
			seen[s] = true
			all = append(all, s)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, serial := range all {
			if acceptSet[serial] && rejectSet[serial] {
				out.Conflicting = append(out.Conflicting, serial)
				continue
			}

			cb := tx.Bucket(bucketCommissions)
			data := cb.Get(serialKeyBytes(serial))
			if data == nil {
				out.NotFound = append(out.NotFound, serial)
				continue
			}
			var c types.Commission
			if err := json.Unmarshal(data, &c); err != nil {
				return apierr.Internal(err)
			}
			if c.Client != client || c.State != types.CommissionPending {
				out.NotFound = append(out.NotFound, serial)
				continue
			}

			accepting := acceptSet[serial]
			for _, p := range c.Provisions {
				h, found, err := s.getHolding(tx, p.HoldingKey)
				if err != nil {
					return apierr.Internal(err)
				}
				if !found {
					h = types.Holding{HoldingKey: p.HoldingKey, Limit: types.Unlimited}
				}
				before := h

				if accepting {
					if p.Quantity >= 0 {
						h.UsageMin += p.Quantity
					} else {
						h.UsageMax += p.Quantity
					}
				} else {
					if p.Quantity >= 0 {
						h.UsageMax -= p.Quantity
					} else {
						h.UsageMin -= p.Quantity
					}
				}
				if err := s.putHolding(tx, h); err != nil {
					return apierr.Internal(err)
				}

				entry := types.ProvisionLogEntry{
					Serial:       serial,
					HoldingKey:   p.HoldingKey,
					Quantity:     p.Quantity,
					Accepted:     accepting,
					BeforeMin:    before.UsageMin,
					BeforeMax:    before.UsageMax,
					AfterMin:     h.UsageMin,
					AfterMax:     h.UsageMax,
					Reason:       reason,
					ResolvedTime: commissionTimestamp(),
				}
				entryData, err := json.Marshal(entry)
				if err != nil {
					return apierr.Internal(err)
				}
				logKey := append(serialKeyBytes(serial), []byte(fmt.Sprintf(":%s", holdingKeyBytes(p.HoldingKey)))...)
				if err := tx.Bucket(bucketProvisionLog).Put(logKey, entryData); err != nil {
					return apierr.Internal(err)
				}
			}

			if accepting {
				c.State = types.CommissionAccepted
				out.Accepted = append(out.Accepted, serial)
			} else {
				c.State = types.CommissionRejected
				out.Rejected = append(out.Rejected, serial)
			}
			cData, err := json.Marshal(c)
			if err != nil {
				return apierr.Internal(err)
			}
			if err := cb.Put(serialKeyBytes(serial), cData); err != nil {
				return apierr.Internal(err)
			}
		}
		return nil
	})
	return out, err
}

// GetPendingCommissions lists pending serials issued by client, ascending.
func (s *Store) GetPendingCommissions(client string) ([]int64, error) {
	var serials []int64
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCommissions).ForEach(func(k, v []byte) error {
			var c types.Commission
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.Client == client && c.State == types.CommissionPending {
				serials = append(serials, c.Serial)
			}
			return nil
		})
	})
	sort.Slice(serials, func(i, j int) bool { return serials[i] < serials[j] })
	return serials, err
}

// GetCommission fetches one commission by client and serial.
func (s *Store) GetCommission(client string, serial int64) (*types.Commission, error) {
	var c types.Commission
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCommissions).Get(serialKeyBytes(serial))
		if data == nil {
			return apierr.NotFound(fmt.Sprintf("commission %d not found", serial))
		}
		if err := json.Unmarshal(data, &c); err != nil {
			return apierr.Internal(err)
		}
		if c.Client != client {
			return apierr.NotFound(fmt.Sprintf("commission %d not found", serial))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}
