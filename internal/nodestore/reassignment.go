package nodestore

import (
	bolt "go.etcd.io/bbolt"

	"github.com/synnefo-io/core/pkg/types"
)

// ReassignmentLogAppend records one project-reassignment commission outcome
// (supplemented feature grounded on synnefo/quotas/__init__.py's reassign
// logging, SPEC_FULL.md §3), keyed by its commission serial so the log is
// naturally ordered and at-most-once per commission.
func (s *Store) ReassignmentLogAppend(entry types.ReassignmentLogEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketReassignments), int64Key(entry.Serial), entry)
	})
}

// ReassignmentLogList returns every recorded reassignment for container,
// oldest first.
func (s *Store) ReassignmentLogList(container string) ([]types.ReassignmentLogEntry, error) {
	var entries []types.ReassignmentLogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReassignments).ForEach(func(k, v []byte) error {
			var e types.ReassignmentLogEntry
			found, err := getJSON(tx.Bucket(bucketReassignments), k, &e)
			if err != nil || !found {
				return err
			}
			if container == "" || e.Container == container {
				entries = append(entries, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortReassignments(entries)
	return entries, nil
}

func sortReassignments(entries []types.ReassignmentLogEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Serial < entries[j-1].Serial; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}
