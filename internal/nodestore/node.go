package nodestore

import (
	"encoding/json"
	"fmt"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/pkg/types"
)

// idIndexPrefix namespaces node-id reverse-lookup entries inside the same
// bucket as the path-keyed records, avoiding a second bucket for a 1:1
// index that nothing but node_remove/statistics consults by id.
var idIndexPrefix = []byte{0x01}

func nodeIDIndexKey(id int64) []byte {
	return append(append([]byte{}, idIndexPrefix...), int64Key(id)...)
}

func getNode(tx *bolt.Tx, path string) (types.Node, bool, error) {
	var n types.Node
	found, err := getJSON(tx.Bucket(bucketNodes), []byte(path), &n)
	return n, found, err
}

func getNodeByID(tx *bolt.Tx, id int64) (types.Node, bool, error) {
	data := tx.Bucket(bucketNodes).Get(nodeIDIndexKey(id))
	if data == nil {
		return types.Node{}, false, nil
	}
	var path string
	if err := json.Unmarshal(data, &path); err != nil {
		return types.Node{}, false, apierr.Internal(err)
	}
	return getNode(tx, path)
}

// NodeLookup returns the node at path, or nil if absent (spec §4.3
// node_lookup). Every write operation below performs its own lookups inside
// a single db.Update transaction, which bbolt serializes against all other
// writers — this gives node_lookup(for_update=true) its row-level-write-lock
// semantics for free, without a separate locking API.
func (s *Store) NodeLookup(path string) (*types.Node, error) {
	var n types.Node
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		n, found, err = getNode(tx, path)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &n, nil
}

// NodeLookupByID returns the node with the given id, or nil if absent.
func (s *Store) NodeLookupByID(id int64) (*types.Node, error) {
	var n types.Node
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		n, found, err = getNodeByID(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &n, nil
}

// NodeChildren returns every node directly parented under parentID, sorted
// by path. Unlike LatestVersionList (which only surfaces nodes with a
// visible version), this includes nodes with no version at all — the
// Storage Façade's container listing needs to see an empty container that
// has never had an object written to it.
func (s *Store) NodeChildren(parentID int64) ([]types.Node, error) {
	var children []types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			if len(k) > 0 && k[0] == idIndexPrefix[0] {
				return nil
			}
			var n types.Node
			if err := json.Unmarshal(v, &n); err != nil {
				return apierr.Internal(err)
			}
			if n.ParentID == parentID {
				children = append(children, n)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Path < children[j].Path })
	return children, nil
}

// NodeCreate creates a node at path under parentID, or returns the existing
// node if one is already there (idempotent, spec §4.3).
func (s *Store) NodeCreate(parentID int64, path string) (*types.Node, error) {
	var result types.Node
	err := s.db.Update(func(tx *bolt.Tx) error {
		if existing, found, err := getNode(tx, path); err != nil {
			return err
		} else if found {
			result = existing
			return nil
		}
		id, err := nextID(tx, keyNextNodeID)
		if err != nil {
			return apierr.Internal(err)
		}
		n := types.Node{ID: id, ParentID: parentID, Path: path}
		b := tx.Bucket(bucketNodes)
		if err := putJSON(b, []byte(path), n); err != nil {
			return err
		}
		pathData, err := json.Marshal(path)
		if err != nil {
			return apierr.Internal(err)
		}
		if err := b.Put(nodeIDIndexKey(id), pathData); err != nil {
			return apierr.Internal(err)
		}
		result = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// NodeRemove deletes a node. Fails IllegalOperation if it has descendants or
// live (non-deleted-cluster) versions (spec §4.3).
func (s *Store) NodeRemove(nodeID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		n, found, err := getNodeByID(tx, nodeID)
		if err != nil {
			return err
		}
		if !found {
			return apierr.NotFound(fmt.Sprintf("node %d not found", nodeID))
		}

		hasChild := false
		err = tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			if len(k) > 0 && k[0] == idIndexPrefix[0] {
				return nil
			}
			var child types.Node
			if err := json.Unmarshal(v, &child); err != nil {
				return err
			}
			if child.ParentID == nodeID {
				hasChild = true
			}
			return nil
		})
		if err != nil {
			return apierr.Internal(err)
		}
		if hasChild {
			return apierr.IllegalOperation("node has descendants")
		}

		serials, err := listNodeVersions(tx, nodeID)
		if err != nil {
			return err
		}
		for _, serial := range serials {
			v, found, err := getVersion(tx, serial)
			if err != nil {
				return err
			}
			if found && v.Cluster != types.ClusterDeleted {
				return apierr.IllegalOperation("node has live versions")
			}
		}

		if err := tx.Bucket(bucketNodes).Delete([]byte(n.Path)); err != nil {
			return apierr.Internal(err)
		}
		if err := tx.Bucket(bucketNodes).Delete(nodeIDIndexKey(nodeID)); err != nil {
			return apierr.Internal(err)
		}
		return tx.Bucket(bucketStatistics).Delete(int64Key(nodeID))
	})
}
