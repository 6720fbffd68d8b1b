package nodestore

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/pkg/types"
)

func listNodeVersions(tx *bolt.Tx, nodeID int64) ([]int64, error) {
	var serials []int64
	_, err := getJSON(tx.Bucket(bucketNodeVersions), int64Key(nodeID), &serials)
	return serials, err
}

func putNodeVersions(tx *bolt.Tx, nodeID int64, serials []int64) error {
	return putJSON(tx.Bucket(bucketNodeVersions), int64Key(nodeID), serials)
}

func getVersion(tx *bolt.Tx, serial int64) (types.Version, bool, error) {
	var v types.Version
	found, err := getJSON(tx.Bucket(bucketVersions), int64Key(serial), &v)
	return v, found, err
}

func putVersion(tx *bolt.Tx, v types.Version) error {
	return putJSON(tx.Bucket(bucketVersions), int64Key(v.Serial), v)
}

// VersionCreateArgs are the inputs to VersionCreate (spec §4.3).
type VersionCreateArgs struct {
	Node           int64
	Hash           string
	Size           int64
	Type           types.NodeType
	SourceVersion  int64 // 0 if none; used only for attribute/permission copy by the caller
	User           string
	UUID           string
	Checksum       string
	Cluster        types.Cluster

	// Available marks whether the version's blocks are confirmed present
	// (spec §4.7 register_object_map can register a map whose blocks are
	// not locally available yet, pending a future sync).
	Available bool

	// AncestorsDepth bounds how many ParentID hops statistics propagate up
	// (spec §6 update_statistics_ancestors_depth); 0 means node-only.
	AncestorsDepth int
}

// VersionCreate atomically inserts a new version, demotes any prior NORMAL
// version of the node to HISTORY, and updates statistics up to
// AncestorsDepth ancestors (spec §4.3).
func (s *Store) VersionCreate(args VersionCreateArgs) (int64, time.Time, error) {
	now := versionTimestamp()
	var serial int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		if _, found, err := getNodeByID(tx, args.Node); err != nil {
			return err
		} else if !found {
			return apierr.NotFound(fmt.Sprintf("node %d not found", args.Node))
		}

		serials, err := listNodeVersions(tx, args.Node)
		if err != nil {
			return err
		}

		var countDelta, sizeDelta int64
		for _, prevSerial := range serials {
			prev, found, err := getVersion(tx, prevSerial)
			if err != nil {
				return err
			}
			if found && prev.Cluster == types.ClusterNormal {
				prev.Cluster = types.ClusterHistory
				if err := putVersion(tx, prev); err != nil {
					return err
				}
				if err := attributeUnsetIsLatestTx(tx, args.Node, prev.Serial); err != nil {
					return err
				}
				// The demoted version stops counting toward statistics
				// regardless of what cluster the new version lands in —
				// only new-version-is-Normal adds it back below.
				countDelta--
				sizeDelta -= prev.Size
			}
		}

		next, err := nextID(tx, keyNextSerial)
		if err != nil {
			return apierr.Internal(err)
		}
		serial = next

		v := types.Version{
			Serial:           serial,
			Node:             args.Node,
			Hash:             args.Hash,
			Size:             args.Size,
			Type:             args.Type,
			ModificationTime: now,
			Modifier:         args.User,
			UUID:             args.UUID,
			Checksum:         args.Checksum,
			Cluster:          args.Cluster,
			Available:        args.Available,
		}
		if err := putVersion(tx, v); err != nil {
			return err
		}

		serials = append(serials, serial)
		if err := putNodeVersions(tx, args.Node, serials); err != nil {
			return err
		}

		if args.Cluster == types.ClusterNormal {
			countDelta++
			sizeDelta += args.Size
		}
		if countDelta != 0 || sizeDelta != 0 {
			return propagateStatistics(tx, args.Node, countDelta, sizeDelta, now, args.AncestorsDepth)
		}
		return nil
	})
	if err != nil {
		return 0, time.Time{}, err
	}
	return serial, now, nil
}

// versionTimestamp exists so tests can observe deterministic mtimes.
var versionTimestamp = func() time.Time { return time.Now() }

// VersionLookup returns the latest version of node in cluster with
// mtime <= beforeTime, or nil if none (spec §4.3).
func (s *Store) VersionLookup(node int64, beforeTime time.Time, cluster types.Cluster) (*types.Version, error) {
	var result *types.Version
	err := s.db.View(func(tx *bolt.Tx) error {
		serials, err := listNodeVersions(tx, node)
		if err != nil {
			return err
		}
		for i := len(serials) - 1; i >= 0; i-- {
			v, found, err := getVersion(tx, serials[i])
			if err != nil {
				return err
			}
			if !found || v.Cluster != cluster {
				continue
			}
			if v.ModificationTime.After(beforeTime) {
				continue
			}
			if result == nil || v.ModificationTime.After(result.ModificationTime) ||
				(v.ModificationTime.Equal(result.ModificationTime) && v.Serial > result.Serial) {
				vCopy := v
				result = &vCopy
			}
		}
		return nil
	})
	return result, err
}

// VersionGetProperties fetches a version by serial; if node is non-zero and
// does not match, fails VersionNotExists (spec §4.3).
func (s *Store) VersionGetProperties(serial, node int64) (*types.Version, error) {
	var v types.Version
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		v, found, err = getVersion(tx, serial)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apierr.VersionNotExists(fmt.Sprintf("version %d not found", serial))
	}
	if node != 0 && v.Node != node {
		return nil, apierr.VersionNotExists(fmt.Sprintf("version %d does not belong to node %d", serial, node))
	}
	return &v, nil
}

// VersionRemove physically removes one version and returns the size freed
// (spec §4.3). Only meaningful for a version not relied on for point-in-time
// listings by callers that already checked that invariant (the Storage
// Façade, for versioning=none overwrite/delete).
func (s *Store) VersionRemove(serial int64) (int64, error) {
	var freed int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		v, found, err := getVersion(tx, serial)
		if err != nil {
			return err
		}
		if !found {
			return apierr.VersionNotExists(fmt.Sprintf("version %d not found", serial))
		}
		freed = v.Size

		serials, err := listNodeVersions(tx, v.Node)
		if err != nil {
			return err
		}
		filtered := serials[:0]
		for _, sv := range serials {
			if sv != serial {
				filtered = append(filtered, sv)
			}
		}
		if err := putNodeVersions(tx, v.Node, filtered); err != nil {
			return err
		}
		if err := tx.Bucket(bucketVersions).Delete(int64Key(serial)); err != nil {
			return apierr.Internal(err)
		}

		if v.Cluster == types.ClusterNormal {
			return propagateStatistics(tx, v.Node, -1, -v.Size, versionTimestamp(), defaultAncestorsDepth)
		}
		return nil
	})
	return freed, err
}

// VersionList returns every version ever created for node, oldest serial
// first, across all clusters (spec §4.3). Used by callers that need to
// evaluate a node's full history rather than just its current point-in-time
// version, e.g. delete_container's until-purge (spec §4.7).
func (s *Store) VersionList(node int64) ([]types.Version, error) {
	var versions []types.Version
	err := s.db.View(func(tx *bolt.Tx) error {
		serials, err := listNodeVersions(tx, node)
		if err != nil {
			return err
		}
		for _, serial := range serials {
			v, found, err := getVersion(tx, serial)
			if err != nil {
				return err
			}
			if found {
				versions = append(versions, v)
			}
		}
		return nil
	})
	return versions, err
}

// LiveRootHashes returns the distinct hashmap root hashes referenced by
// every NORMAL or HISTORY version (DELETED tombstones carry no referenced
// blocks worth keeping). Satisfies pkg/blocksweep.LiveHashSource — the
// offline block sweep's mark phase.
func (s *Store) LiveRootHashes() ([]string, error) {
	seen := map[string]bool{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVersions).ForEach(func(k, v []byte) error {
			var ver types.Version
			if err := json.Unmarshal(v, &ver); err != nil {
				return apierr.Internal(err)
			}
			if ver.Hash != "" && ver.Cluster != types.ClusterDeleted {
				seen[ver.Hash] = true
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	hashes := make([]string, 0, len(seen))
	for h := range seen {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return hashes, nil
}

// VersionSetAvailability records the outcome of a block-presence recheck for
// a version registered by register_object_map with Available=false (spec
// §4.7, §6 map_check_interval). It never touches statistics — availability
// does not change whether a version counts toward quota, only whether a
// client reading it should expect its bytes to actually be fetchable.
func (s *Store) VersionSetAvailability(serial int64, available bool, checkedAt time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		v, found, err := getVersion(tx, serial)
		if err != nil {
			return err
		}
		if !found {
			return apierr.VersionNotExists(fmt.Sprintf("version %d not found", serial))
		}
		v.Available = available
		v.MapCheckTimestamp = checkedAt
		return putVersion(tx, v)
	})
}

// defaultAncestorsDepth is used by operations (like VersionRemove) that
// don't take an explicit depth parameter from the caller; overridden via
// SetDefaultAncestorsDepth (NewStore does not set it).
var defaultAncestorsDepth = 1

// SetDefaultAncestorsDepth overrides the statistics propagation depth used
// by operations that don't take an explicit depth argument.
func SetDefaultAncestorsDepth(depth int) { defaultAncestorsDepth = depth }

func propagateStatistics(tx *bolt.Tx, nodeID int64, countDelta, bytesDelta int64, mtime time.Time, depth int) error {
	current := nodeID
	for hop := 0; hop <= depth; hop++ {
		n, found, err := getNodeByID(tx, current)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}

		var stats types.Statistics
		if _, err := getJSON(tx.Bucket(bucketStatistics), int64Key(current), &stats); err != nil {
			return err
		}
		stats.Node = current
		stats.Count += countDelta
		stats.Bytes += bytesDelta
		if mtime.After(stats.MTime) {
			stats.MTime = mtime
		}
		if err := putJSON(tx.Bucket(bucketStatistics), int64Key(current), stats); err != nil {
			return err
		}

		if n.ParentID == 0 || n.ParentID == current {
			break
		}
		current = n.ParentID
	}
	return nil
}

// sortSerials is used by callers assembling serials from multiple sources
// (e.g. listing) that need deterministic ascending order.
func sortSerials(serials []int64) {
	sort.Slice(serials, func(i, j int) bool { return serials[i] < serials[j] })
}
