// Package nodestore implements the Node Tree, Permission Index, and Policy
// Store of spec §4.3–§4.5: the path hierarchy, its versions/attributes/
// statistics, per-path ACLs and public tokens, and per-node policy. Grounded
// on the teacher's pkg/storage store.go/boltdb.go bucket-per-entity pattern
// (JSON-marshaled values in per-entity bbolt buckets, ForEach scans for
// listing), generalized from the teacher's simple-upsert methods to the
// composite read-check-write transactions the node tree's invariants need.
package nodestore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/pkg/types"
)

var (
	bucketNodes        = []byte("nodes")         // path -> Node
	bucketNodeVersions = []byte("node_versions")  // node id -> []int64 serials, ascending
	bucketVersions     = []byte("versions")       // serial -> Version
	bucketAttributes   = []byte("attributes")     // "node:domain:key" -> Attribute
	bucketStatistics   = []byte("statistics")     // node id -> Statistics
	bucketPermissions  = []byte("permissions")    // path -> PermissionSet
	bucketPublicTokens = []byte("public_tokens")  // token -> PublicToken
	bucketPublicPaths  = []byte("public_paths")   // path -> token
	bucketGroups       = []byte("groups")         // "account:group" -> []string principals
	bucketPolicies     = []byte("policies")       // node id -> Policy
	bucketProjects     = []byte("projects")       // project name -> ProjectState
	bucketMeta         = []byte("meta")
	bucketReassignments = []byte("reassignments") // serial -> ReassignmentLogEntry
)

var (
	keyNextNodeID = []byte("next_node_id")
	keyNextSerial = []byte("next_serial")
)

// Store is the bbolt-backed persistence layer behind the Node Tree,
// Permission Index, and Policy Store.
type Store struct {
	db *bolt.DB

	// permCache is the per-process (principal, action) -> path -> allowed
	// cache from spec §4.4, cleared on any permission mutation.
	cacheMu   sync.RWMutex
	permCache map[cacheKey]map[string]bool
}

// NewStore opens (creating if absent) the node tree database.
func NewStore(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "nodes.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open node store database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{
			bucketNodes, bucketNodeVersions, bucketVersions, bucketAttributes,
			bucketStatistics, bucketPermissions, bucketPublicTokens, bucketPublicPaths,
			bucketGroups, bucketPolicies, bucketProjects, bucketMeta, bucketReassignments,
		} {
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

func int64Key(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func parseInt64Key(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func nextID(tx *bolt.Tx, key []byte) (int64, error) {
	b := tx.Bucket(bucketMeta)
	data := b.Get(key)
	var n int64
	if data != nil {
		n = parseInt64Key(data)
	}
	n++
	if err := b.Put(key, int64Key(n)); err != nil {
		return 0, err
	}
	return n, nil
}

func getJSON(b *bolt.Bucket, key []byte, v interface{}) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, apierr.Internal(err)
	}
	return true, nil
}

func putJSON(b *bolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apierr.Internal(err)
	}
	return b.Put(key, data)
}

// attrKey builds a serial-scoped composite key. The attributes bucket itself
// is keyed by node (see attributeKey in attribute.go), not by this key.
func attrKey(serial int64, domain types.AttributeDomain, key string) []byte {
	return []byte(fmt.Sprintf("%d\x00%s\x00%s", serial, domain, key))
}
