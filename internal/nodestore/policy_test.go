package nodestore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/pkg/types"
)

func TestPolicySetGet(t *testing.T) {
	s := newTestStore(t)
	n, err := s.NodeCreate(0, "acct/container")
	require.NoError(t, err)

	require.NoError(t, s.PolicySet(n.ID, types.Policy{Quota: 1000, Versioning: types.VersioningAuto, Project: "proj1"}, nil))

	p, found, err := s.PolicyGet(n.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(1000), p.Quota)
	require.Equal(t, "proj1", p.Project)
}

func TestPolicyGetMissingReturnsFalse(t *testing.T) {
	s := newTestStore(t)
	_, found, err := s.PolicyGet(999)
	require.NoError(t, err)
	require.False(t, found)
}

func TestPolicySetRejectsNegativeQuota(t *testing.T) {
	s := newTestStore(t)
	n, err := s.NodeCreate(0, "acct/container")
	require.NoError(t, err)

	err = s.PolicySet(n.ID, types.Policy{Quota: -1, Versioning: types.VersioningAuto}, nil)
	require.Error(t, err)
	require.Equal(t, types.ErrBadRequest, apierr.Kind(err))
}

func TestPolicySetRejectsInvalidVersioning(t *testing.T) {
	s := newTestStore(t)
	n, err := s.NodeCreate(0, "acct/container")
	require.NoError(t, err)

	err = s.PolicySet(n.ID, types.Policy{Quota: 0, Versioning: "weekly"}, nil)
	require.Error(t, err)
	require.Equal(t, types.ErrBadRequest, apierr.Kind(err))
}

func TestPolicySetRejectsTerminatedProject(t *testing.T) {
	s := newTestStore(t)
	n, err := s.NodeCreate(0, "acct/container")
	require.NoError(t, err)

	require.NoError(t, s.ProjectSetState("proj1", types.ProjectTerminated))

	err = s.PolicySet(n.ID, types.Policy{Quota: 0, Versioning: types.VersioningAuto, Project: "proj1"}, s.ProjectStateFuncFor())
	require.Error(t, err)
	require.Equal(t, types.ErrNotAllowed, apierr.Kind(err))
}

func TestPolicySetAllowsActiveProject(t *testing.T) {
	s := newTestStore(t)
	n, err := s.NodeCreate(0, "acct/container")
	require.NoError(t, err)

	require.NoError(t, s.ProjectSetState("proj1", types.ProjectActive))
	require.NoError(t, s.PolicySet(n.ID, types.Policy{Quota: 0, Versioning: types.VersioningAuto, Project: "proj1"}, s.ProjectStateFuncFor()))
}
