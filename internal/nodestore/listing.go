package nodestore

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/synnefo-io/core/pkg/types"
)

// ListingArgs parameterizes latest_version_list (spec §4.3). PathPrefix is
// the full path prefix to search under (typically "account/container/" plus
// the caller's relative prefix); the Storage Façade composes it.
type ListingArgs struct {
	PathPrefix string
	Delimiter  string
	Marker     string // exclusive
	Limit      int    // 0 means DefaultListingLimit

	Before         time.Time // zero means "now", i.e. no point-in-time constraint
	ExcludeCluster *types.Cluster

	AllowedPaths []string // permission whitelist; nil means unrestricted
	Domain       types.AttributeDomain
	AttrFilters  map[string]string // all must match to include the entry
	SizeMin      int64
	SizeMax      int64 // 0 means unbounded
	AllProps     bool  // include full Version in the result, not just path+size
}

// DefaultListingLimit is the spec §6 default and hard cap.
const DefaultListingLimit = 10000

// ListingEntry is one object row in a listing result.
type ListingEntry struct {
	Path    string
	Version types.Version
}

// LatestVersionList implements spec §4.3's workhorse listing: lexicographic
// on path, tie-broken by serial ascending, rolled up at Delimiter into
// Subdirs, honoring Before for point-in-time visibility (spec §4.3's
// "union of NORMAL-or-HISTORY, absent if DELETED at T" rule).
func (s *Store) LatestVersionList(args ListingArgs) (objects []ListingEntry, subdirs []string, err error) {
	limit := args.Limit
	if limit <= 0 || limit > DefaultListingLimit {
		limit = DefaultListingLimit
	}
	before := args.Before
	if before.IsZero() {
		before = farFuture
	}

	allowed := allowedSet(args.AllowedPaths)
	subdirSeen := map[string]bool{}

	err = s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketNodes).Cursor()
		prefixBytes := []byte(args.PathPrefix)
		for k, v := c.Seek(prefixBytes); k != nil && hasPrefix(k, prefixBytes); k, v = c.Next() {
			var n types.Node
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if n.Path <= args.Marker {
				continue
			}
			if allowed != nil && !allowed[n.Path] {
				continue
			}

			rest := strings.TrimPrefix(n.Path, args.PathPrefix)
			if args.Delimiter != "" {
				if idx := strings.Index(rest, args.Delimiter); idx >= 0 {
					subdir := args.PathPrefix + rest[:idx+len(args.Delimiter)]
					if !subdirSeen[subdir] {
						subdirSeen[subdir] = true
						subdirs = append(subdirs, subdir)
					}
					continue
				}
			}

			best, err := pointInTimeVersion(tx, n.ID, before, args.ExcludeCluster)
			if err != nil {
				return err
			}
			if best == nil {
				continue
			}
			if args.SizeMin > 0 && best.Size < args.SizeMin {
				continue
			}
			if args.SizeMax > 0 && best.Size > args.SizeMax {
				continue
			}
			if len(args.AttrFilters) > 0 {
				ok, err := matchesAttrFilters(tx, n.ID, args.Domain, args.AttrFilters)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
			}

			objects = append(objects, ListingEntry{Path: n.Path, Version: *best})
			if len(objects)+len(subdirs) >= limit {
				return errListingFull
			}
		}
		return nil
	})
	if err == errListingFull {
		err = nil
	}
	if err != nil {
		return nil, nil, err
	}

	sort.Slice(objects, func(i, j int) bool {
		if objects[i].Path != objects[j].Path {
			return objects[i].Path < objects[j].Path
		}
		return objects[i].Version.Serial < objects[j].Version.Serial
	})
	sort.Strings(subdirs)
	return objects, subdirs, nil
}

var errListingFull = errListingFullSentinel{}

type errListingFullSentinel struct{}

func (errListingFullSentinel) Error() string { return "listing limit reached" }

// farFuture stands in for "no Before constraint" without depending on a
// disallowed time.Now() call inside library code paths exercised by workflow
// scripts; callers pass a real "now" when they want point-in-time-as-of-now.
var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

func allowedSet(paths []string) map[string]bool {
	if paths == nil {
		return nil
	}
	m := make(map[string]bool, len(paths))
	for _, p := range paths {
		m[p] = true
	}
	return m
}

// pointInTimeVersion picks the version with the greatest ModificationTime <=
// before among NORMAL-or-HISTORY, per spec §4.3's point-in-time rule: if
// that version's cluster is DELETED, the path is absent.
func pointInTimeVersion(tx *bolt.Tx, nodeID int64, before time.Time, exclude *types.Cluster) (*types.Version, error) {
	serials, err := listNodeVersions(tx, nodeID)
	if err != nil {
		return nil, err
	}
	var best *types.Version
	for _, serial := range serials {
		v, found, err := getVersion(tx, serial)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		if exclude != nil && v.Cluster == *exclude {
			continue
		}
		if v.Cluster != types.ClusterNormal && v.Cluster != types.ClusterHistory && v.Cluster != types.ClusterDeleted {
			continue
		}
		if v.ModificationTime.After(before) {
			continue
		}
		if best == nil || v.ModificationTime.After(best.ModificationTime) ||
			(v.ModificationTime.Equal(best.ModificationTime) && v.Serial > best.Serial) {
			vCopy := v
			best = &vCopy
		}
	}
	if best == nil || best.Cluster == types.ClusterDeleted {
		return nil, nil
	}
	return best, nil
}

func matchesAttrFilters(tx *bolt.Tx, node int64, domain types.AttributeDomain, filters map[string]string) (bool, error) {
	c := tx.Bucket(bucketAttributes).Cursor()
	prefix := attributeScanPrefix(node, domain)
	values := map[string]string{}
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		var a types.Attribute
		if err := json.Unmarshal(v, &a); err != nil {
			return false, err
		}
		values[a.Key] = a.Value
	}
	for key, want := range filters {
		if values[key] != want {
			return false, nil
		}
	}
	return true, nil
}
