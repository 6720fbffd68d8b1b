package facade

import (
	"fmt"
	"strings"
	"time"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/pkg/events"
	"github.com/synnefo-io/core/pkg/log"
	"github.com/synnefo-io/core/pkg/metrics"
	"github.com/synnefo-io/core/pkg/types"
)

// PutContainer creates container under account with the deployment's
// default policy, or policy if non-nil, an empty Versioning in policy taking
// the deployment default (spec §4.5, §4.7). Re-creating an
// already-policied container is a Conflict — NodeCreate's own idempotency
// is for the node tree's internal bookkeeping, not for this operation's
// client-visible contract.
func (f *Facade) PutContainer(account, container string, policy *types.Policy) (*types.Policy, error) {
	cPath := containerPath(account, container)
	var result types.Policy
	err := f.withContainerLock(cPath, func() error {
		accountNode, err := f.nodes.NodeCreate(0, accountPath(account))
		if err != nil {
			return err
		}
		node, err := f.nodes.NodeCreate(accountNode.ID, cPath)
		if err != nil {
			return err
		}
		if _, found, err := f.nodes.PolicyGet(node.ID); err != nil {
			return err
		} else if found {
			return apierr.Conflict(fmt.Sprintf("container %s already exists", cPath))
		}

		p := f.cfg.DefaultContainerPolicy()
		if policy != nil {
			p = *policy
			if p.Versioning == "" {
				p.Versioning = f.cfg.DefaultVersioning
			}
		}
		if err := f.nodes.PolicySet(node.ID, p, f.nodes.ProjectStateFuncFor()); err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.ContainersTotal.Inc()
	f.publish(events.EventContainerCreated, cPath, nil)
	return &result, nil
}

// UpdateContainerPolicy changes container's quota/versioning/project
// (spec §4.5), replacing the whole policy; an empty Versioning takes the
// deployment default. A project reassignment runs through the Commission
// Coordinator as a two-provision commission (release from FromProj, reserve
// into ToProj for the container's current byte usage) before the policy
// change is committed, and is logged to the reassignment log regardless of
// outcome. force is accepted only for this admin-triggered path — ordinary
// object writes never set it (see DESIGN.md's Open Question resolution).
func (f *Facade) UpdateContainerPolicy(account, container string, newPolicy types.Policy, force bool, principal string) (*types.Policy, error) {
	cPath := containerPath(account, container)

	if err := f.authorize(cPath, account, types.ActionWrite, principal); err != nil {
		return nil, err
	}
	if newPolicy.Versioning == "" {
		newPolicy.Versioning = f.cfg.DefaultVersioning
	}

	var result types.Policy
	err := f.withContainerLock(cPath, func() error {
		node, err := f.nodes.NodeLookup(cPath)
		if err != nil {
			return err
		}
		if node == nil {
			return apierr.NotFound(fmt.Sprintf("container %s not found", cPath))
		}

		oldPolicy, found, err := f.nodes.PolicyGet(node.ID)
		if err != nil {
			return err
		}
		if !found {
			oldPolicy = f.cfg.DefaultContainerPolicy()
		}

		reassigning := newPolicy.Project != "" && newPolicy.Project != oldPolicy.Project
		if !reassigning {
			if err := f.nodes.PolicySet(node.ID, newPolicy, f.nodes.ProjectStateFuncFor()); err != nil {
				return err
			}
			result = newPolicy
			return nil
		}

		stats, err := f.nodes.StatisticsGet(node.ID)
		if err != nil {
			return err
		}

		provisions := []types.Provision{
			{HoldingKey: types.HoldingKey{Holder: resourceForProject(oldPolicy.Project), Source: "container:" + cPath, Resource: types.ResourceDiskSpace}, Quantity: -stats.Bytes},
			{HoldingKey: types.HoldingKey{Holder: newPolicy.Project, Source: "container:" + cPath, Resource: types.ResourceDiskSpace}, Quantity: stats.Bytes},
		}
		serial, err := f.coord.Commit("update_container_policy", "container:"+cPath, provisions, force)
		if err != nil {
			return err
		}

		setErr := f.nodes.PolicySet(node.ID, newPolicy, f.nodes.ProjectStateFuncFor())
		entry := types.ReassignmentLogEntry{
			Serial:     serial,
			Container:  cPath,
			FromProj:   oldPolicy.Project,
			ToProj:     newPolicy.Project,
			Bytes:      stats.Bytes,
			Accepted:   setErr == nil,
			ResolvedAt: reassignmentTimestamp(),
		}
		if setErr != nil {
			if rejErr := f.coord.Reject(serial, setErr.Error()); rejErr != nil {
				log.WithComponent("facade").Error().Err(rejErr).Int64("serial", serial).
					Msg("failed to reject commission after policy set failure")
			}
			if logErr := f.nodes.ReassignmentLogAppend(entry); logErr != nil {
				log.WithComponent("facade").Error().Err(logErr).Msg("failed to record rejected reassignment")
			}
			return setErr
		}
		if err := f.coord.Accept(serial, ""); err != nil {
			return err
		}
		if err := f.nodes.ReassignmentLogAppend(entry); err != nil {
			return err
		}
		result = newPolicy
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.publish(events.EventContainerCreated, cPath, map[string]string{"op": "policy_update"})
	return &result, nil
}

// reassignmentTimestamp exists so tests can observe deterministic values.
var reassignmentTimestamp = func() time.Time { return time.Now() }

// DeleteContainerArgs parameterizes DeleteContainer's three variants (spec
// §4.7).
type DeleteContainerArgs struct {
	Account, Container string

	// Until, when non-zero, switches to the purge variant: every
	// HISTORY/DELETED version older than Until is removed across the
	// container's objects and its bytes refunded, instead of requiring the
	// container to already be empty. Takes precedence over Delimiter.
	Until time.Time

	// Delimiter, set without Until, switches to the contents variant: every
	// child object is deleted individually (as delete_object would) but the
	// container itself is kept.
	Delimiter string

	// Principal is the authenticated caller to permission-check against;
	// see UpdateObjectHashmapArgs.Principal.
	Principal string
}

// DeleteContainer implements delete_container's three variants (spec §4.7):
// plain removal of an already-empty container, an until-bounded purge of
// HISTORY/DELETED versions with a quota refund, and a delimiter-bounded
// deletion of contents that leaves the container behind.
func (f *Facade) DeleteContainer(args DeleteContainerArgs) error {
	cPath := containerPath(args.Account, args.Container)

	if err := f.authorize(cPath, args.Account, types.ActionWrite, args.Principal); err != nil {
		return err
	}

	if !args.Until.IsZero() {
		return f.purgeContainerHistory(cPath, args.Until)
	}
	if args.Delimiter != "" {
		return f.deleteContainerContents(args.Account, args.Container, args.Principal)
	}

	err := f.withContainerLock(cPath, func() error {
		node, err := f.nodes.NodeLookup(cPath)
		if err != nil {
			return err
		}
		if node == nil {
			return apierr.NotFound(fmt.Sprintf("container %s not found", cPath))
		}

		children, err := f.nodes.NodeChildren(node.ID)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return apierr.IllegalOperation(fmt.Sprintf("container %s is not empty", cPath))
		}

		return f.nodes.NodeRemove(node.ID)
	})
	if err != nil {
		return err
	}
	metrics.ContainersTotal.Dec()
	f.publish(events.EventContainerDeleted, cPath, nil)
	return nil
}

// purgeContainerHistory removes every HISTORY/DELETED version modified at or
// before until across cPath's objects (spec §4.7's until variant), refunding
// their bytes against the container's project unless the deployment runs
// free_versioning — under free_versioning those bytes were never counted
// against quota in the first place (spec §6), so there is nothing to refund.
func (f *Facade) purgeContainerHistory(cPath string, until time.Time) error {
	return f.withContainerLock(cPath, func() error {
		node, err := f.nodes.NodeLookup(cPath)
		if err != nil {
			return err
		}
		if node == nil {
			return apierr.NotFound(fmt.Sprintf("container %s not found", cPath))
		}
		policy, found, err := f.nodes.PolicyGet(node.ID)
		if err != nil {
			return err
		}
		if !found {
			policy = f.cfg.DefaultContainerPolicy()
		}

		children, err := f.nodes.NodeChildren(node.ID)
		if err != nil {
			return err
		}

		var toPurge []int64
		var freed int64
		for _, child := range children {
			versions, err := f.nodes.VersionList(child.ID)
			if err != nil {
				return err
			}
			for _, v := range versions {
				if v.Cluster == types.ClusterNormal {
					continue
				}
				if v.ModificationTime.After(until) {
					continue
				}
				toPurge = append(toPurge, v.Serial)
				freed += v.Size
			}
		}
		if len(toPurge) == 0 {
			return nil
		}

		refund := freed
		if f.cfg.FreeVersioning {
			refund = 0
		}

		var serial int64
		if refund != 0 {
			provisions := []types.Provision{
				{HoldingKey: types.HoldingKey{Holder: resourceForProject(policy.Project), Source: "container:" + cPath, Resource: types.ResourceDiskSpace}, Quantity: -refund},
			}
			serial, err = f.coord.Commit("delete_container_until", cPath, provisions, false)
			if err != nil {
				return err
			}
		}

		for _, s := range toPurge {
			if _, removeErr := f.nodes.VersionRemove(s); removeErr != nil {
				if serial != 0 {
					if rejErr := f.coord.Reject(serial, removeErr.Error()); rejErr != nil {
						log.WithComponent("facade").Error().Err(rejErr).Int64("serial", serial).
							Msg("failed to reject commission after history purge failure")
					}
				}
				return removeErr
			}
		}

		if serial != 0 {
			if err := f.coord.Accept(serial, ""); err != nil {
				return err
			}
		}
		f.publish(events.EventContainerDeleted, cPath, map[string]string{"op": "purge_history", "freed_bytes": fmt.Sprintf("%d", freed)})
		return nil
	})
}

// deleteContainerContents deletes every child object of account/container
// individually, as delete_object would, leaving the (now empty) container in
// place (spec §4.7's delimiter variant). Children with no live NORMAL
// version — already tombstoned, or never written to — are skipped rather
// than treated as an error.
func (f *Facade) deleteContainerContents(account, container, principal string) error {
	cPath := containerPath(account, container)
	node, err := f.nodes.NodeLookup(cPath)
	if err != nil {
		return err
	}
	if node == nil {
		return apierr.NotFound(fmt.Sprintf("container %s not found", cPath))
	}

	children, err := f.nodes.NodeChildren(node.ID)
	if err != nil {
		return err
	}
	for _, child := range children {
		name := strings.TrimPrefix(child.Path, cPath+"/")
		if name == "" || name == child.Path {
			continue
		}
		if err := f.DeleteObject(account, container, name, "system", principal); err != nil {
			if apierr.Kind(err) == types.ErrNotFound {
				continue
			}
			return err
		}
	}
	return nil
}

func (f *Facade) publish(t events.EventType, path string, extra map[string]string) {
	if f.events == nil {
		return
	}
	meta := map[string]string{"path": path}
	for k, v := range extra {
		meta[k] = v
	}
	f.events.Publish(&events.Event{Type: t, Message: string(t) + " " + path, Metadata: meta})
}
