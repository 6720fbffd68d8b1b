package nodestore

import (
	bolt "go.etcd.io/bbolt"

	"github.com/synnefo-io/core/pkg/types"
)

// ProjectSetState records a project's admin lifecycle state (supplemented
// feature grounded on project-control.py/project-show.py, SPEC_FULL.md §3).
func (s *Store) ProjectSetState(project string, state types.ProjectState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketProjects), []byte(project), state)
	})
}

// ProjectGetState returns project's state, defaulting to active if never
// set — matching the behavior of a project nobody has suspended or
// terminated yet.
func (s *Store) ProjectGetState(project string) (types.ProjectState, bool, error) {
	var state types.ProjectState
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket(bucketProjects), []byte(project), &state)
		return err
	})
	if !found {
		return types.ProjectActive, false, err
	}
	return state, true, err
}

// ProjectStateFuncFor adapts a Store into the ProjectStateFunc policy.go's
// PolicySet expects.
func (s *Store) ProjectStateFuncFor() ProjectStateFunc {
	return func(project string) (types.ProjectState, bool) {
		state, found, err := s.ProjectGetState(project)
		if err != nil {
			return types.ProjectActive, false
		}
		return state, found
	}
}
