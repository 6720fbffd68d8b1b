package nodestore

import (
	bolt "go.etcd.io/bbolt"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/pkg/types"
)

// PolicyGet returns node's policy, or (zero, false) if none is set — callers
// fall back to the deployment's defaults (spec §4.5).
func (s *Store) PolicyGet(node int64) (types.Policy, bool, error) {
	var p types.Policy
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket(bucketPolicies), int64Key(node), &p)
		return err
	})
	return p, found, err
}

// ProjectStateFunc resolves a project's admin lifecycle state (supplemented
// feature, SPEC_FULL.md §3); PolicySet rejects assigning a terminated
// project. A nil func skips the check (used before any project admin
// commands have registered one).
type ProjectStateFunc func(project string) (types.ProjectState, bool)

// PolicySet validates and stores node's policy (spec §4.5).
func (s *Store) PolicySet(node int64, p types.Policy, projectState ProjectStateFunc) error {
	if p.Quota < 0 {
		return apierr.BadRequest("quota must be a non-negative integer")
	}
	if p.Versioning != types.VersioningAuto && p.Versioning != types.VersioningNone {
		return apierr.BadRequest("versioning must be 'auto' or 'none'")
	}
	if projectState != nil && p.Project != "" {
		if state, found := projectState(p.Project); found && state == types.ProjectTerminated {
			return apierr.NotAllowed("cannot assign a terminated project")
		}
	}
	p.Node = node
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketPolicies), int64Key(node), p)
	})
}
