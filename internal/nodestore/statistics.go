package nodestore

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/synnefo-io/core/pkg/types"
)

// StatisticsGet returns the precomputed aggregate for node (spec §4.3).
func (s *Store) StatisticsGet(node int64) (types.Statistics, error) {
	var stats types.Statistics
	err := s.db.View(func(tx *bolt.Tx) error {
		_, err := getJSON(tx.Bucket(bucketStatistics), int64Key(node), &stats)
		return err
	})
	stats.Node = node
	return stats, err
}

// StatisticsLatest recomputes node's aggregate on the fly from its
// descendants' NORMAL versions with mtime <= until, optionally excluding one
// cluster from the count (spec §4.3). Unlike StatisticsGet it always walks
// the live tree instead of trusting the incrementally maintained cache —
// used by the reconciler and by callers that distrust a possibly stale
// cache after a crash mid-update.
func (s *Store) StatisticsLatest(node int64, until time.Time, exceptCluster types.Cluster) (types.Statistics, error) {
	stats := types.Statistics{Node: node}
	err := s.db.View(func(tx *bolt.Tx) error {
		descendants, err := collectDescendants(tx, node)
		if err != nil {
			return err
		}
		for _, descendantID := range descendants {
			serials, err := listNodeVersions(tx, descendantID)
			if err != nil {
				return err
			}
			var best *types.Version
			for _, serial := range serials {
				v, found, err := getVersion(tx, serial)
				if err != nil {
					return err
				}
				if !found || v.Cluster == exceptCluster {
					continue
				}
				if v.ModificationTime.After(until) {
					continue
				}
				if best == nil || v.ModificationTime.After(best.ModificationTime) {
					vCopy := v
					best = &vCopy
				}
			}
			if best != nil && best.Cluster == types.ClusterNormal {
				stats.Count++
				stats.Bytes += best.Size
				if best.ModificationTime.After(stats.MTime) {
					stats.MTime = best.ModificationTime
				}
			}
		}
		return nil
	})
	return stats, err
}

func collectDescendants(tx *bolt.Tx, root int64) ([]int64, error) {
	children := map[int64][]int64{}
	err := tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
		if len(k) > 0 && k[0] == idIndexPrefix[0] {
			return nil
		}
		var n types.Node
		if err := json.Unmarshal(v, &n); err != nil {
			return err
		}
		children[n.ParentID] = append(children[n.ParentID], n.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var result []int64
	queue := []int64{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, id)
		queue = append(queue, children[id]...)
	}
	return result, nil
}
