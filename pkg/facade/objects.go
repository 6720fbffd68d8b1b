package facade

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/internal/hashmap"
	"github.com/synnefo-io/core/pkg/events"
	"github.com/synnefo-io/core/pkg/metrics"
	"github.com/synnefo-io/core/pkg/types"
)

// UpdateObjectHashmapArgs are the inputs to UpdateObjectHashmap.
type UpdateObjectHashmapArgs struct {
	Account, Container, Name string
	Blocks                   []string // ordered block hashes, already put_block'd by the caller
	Size                     int64
	User                     string
	UUID                     string
	Checksum                 string
	Force                    bool

	// Principal is the authenticated caller to permission-check against
	// (spec §4.7). Empty means a trusted in-process caller (e.g. a test, or
	// cmd/pithosd's own migration tooling) that skips the check entirely;
	// the HTTP surface always supplies one, even "anonymous".
	Principal string
}

// UpdateObjectHashmapResult is either a committed Version, or a list of
// MissingBlocks the caller must put_block before retrying (spec §4.7's
// update_object_hashmap: the façade never accepts a map it can't yet serve).
type UpdateObjectHashmapResult struct {
	Version       *types.Version
	MissingBlocks []string
}

// UpdateObjectHashmap implements spec §4.7's seven-step workflow: locate
// the missing blocks, compute the root hash, persist the hashmap, commit a
// diskspace commission for the size delta against the container's project,
// create the new version (auto-demoting any prior NORMAL version), carry
// forward the node's attributes onto the new version's stamp, purge the
// demoted version immediately under versioning=none, then accept or reject
// the commission depending on whether the version create succeeded.
func (f *Facade) UpdateObjectHashmap(args UpdateObjectHashmapArgs) (*UpdateObjectHashmapResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.UpdateObjectHashmapDuration)

	cPath := containerPath(args.Account, args.Container)
	oPath := objectPath(args.Account, args.Container, args.Name)

	if err := f.authorize(oPath, args.Account, types.ActionWrite, args.Principal); err != nil {
		return nil, err
	}

	hm := hashmap.New(f.blocks.HashFunc(), args.Blocks)
	missing, err := f.blocks.BlockSearch(hm)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return &UpdateObjectHashmapResult{MissingBlocks: missing}, nil
	}

	rootHash, err := hm.RootHash()
	if err != nil {
		return nil, apierr.InvalidHash(err.Error())
	}
	if err := f.blocks.MapPut(rootHash, hm); err != nil {
		return nil, err
	}

	var result UpdateObjectHashmapResult
	err = f.withContainerThenObject(cPath, oPath, func() error {
		containerNode, err := f.nodes.NodeLookup(cPath)
		if err != nil {
			return err
		}
		if containerNode == nil {
			return apierr.NotFound(fmt.Sprintf("container %s not found", cPath))
		}
		policy, found, err := f.nodes.PolicyGet(containerNode.ID)
		if err != nil {
			return err
		}
		if !found {
			policy = f.cfg.DefaultContainerPolicy()
		}

		objNode, err := f.nodes.NodeCreate(containerNode.ID, oPath)
		if err != nil {
			return err
		}

		var oldVersion *types.Version
		if v, err := f.nodes.VersionLookup(objNode.ID, farFutureForLocking(), types.ClusterNormal); err != nil {
			return err
		} else {
			oldVersion = v
		}
		// Quota only credits the old version's bytes back when it's actually
		// purged: under versioning=none the demoted version is removed below,
		// and under free_versioning=true a demoted-to-HISTORY version stops
		// counting immediately (spec §6: "HISTORY bytes never counted in the
		// first place"). Otherwise the old version survives as HISTORY,
		// still occupying its bytes, so the commission must cover the new
		// version's full size on top of it — mirrors pithos/backends/
		// modular.py's _apply_versioning, which returns 0 (not the old size)
		// in exactly that retained-HISTORY case.
		refundOldVersion := oldVersion != nil && (policy.Versioning == types.VersioningNone || f.cfg.FreeVersioning)
		sizeDelta := args.Size
		if refundOldVersion {
			sizeDelta -= oldVersion.Size
		}

		provisions := []types.Provision{
			{HoldingKey: types.HoldingKey{Holder: resourceForProject(policy.Project), Source: "container:" + cPath, Resource: types.ResourceDiskSpace}, Quantity: sizeDelta},
		}
		serial, err := f.coord.Commit("update_object_hashmap", oPath, provisions, args.Force)
		if err != nil {
			return err
		}

		newSerial, _, createErr := f.nodes.VersionCreate(nodestoreVersionArgs(objNode.ID, rootHash, args.Size, args.User, args.UUID, args.Checksum, f.cfg.UpdateStatisticsAncestorsDepth, true))
		if createErr != nil {
			if rejErr := f.coord.Reject(serial, createErr.Error()); rejErr != nil {
				return rejErr
			}
			return createErr
		}

		if err := f.nodes.AttributeCopy(objNode.ID, objNode.ID, newSerial); err != nil {
			return err
		}

		if policy.Versioning == types.VersioningNone && oldVersion != nil {
			if _, err := f.nodes.VersionRemove(oldVersion.Serial); err != nil {
				return err
			}
		}

		if err := f.coord.Accept(serial, ""); err != nil {
			return err
		}

		v, err := f.nodes.VersionGetProperties(newSerial, objNode.ID)
		if err != nil {
			return err
		}
		result.Version = v

		evt := events.EventObjectUpdated
		if oldVersion == nil {
			evt = events.EventObjectCreated
			metrics.ObjectsTotal.WithLabelValues("normal").Inc()
		}
		f.publish(evt, oPath, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// RegisterObjectMapArgs are the inputs to RegisterObjectMap.
type RegisterObjectMapArgs struct {
	Account, Container, Name string
	Blocks                   []string
	Size                     int64
	User                     string
	UUID                     string
	Principal                string // see UpdateObjectHashmapArgs.Principal
}

// RegisterObjectMap registers a hashmap whose blocks are not required to be
// locally present yet (spec §4.1, §4.7: the Archipelago-backed collaborator
// case). The resulting version is created with Available=false.
func (f *Facade) RegisterObjectMap(args RegisterObjectMapArgs) (*types.Version, error) {
	cPath := containerPath(args.Account, args.Container)
	oPath := objectPath(args.Account, args.Container, args.Name)

	if err := f.authorize(oPath, args.Account, types.ActionWrite, args.Principal); err != nil {
		return nil, err
	}

	hm := hashmap.New(f.blocks.HashFunc(), args.Blocks)
	rootHash, err := hm.RootHash()
	if err != nil {
		return nil, apierr.InvalidHash(err.Error())
	}
	if err := f.blocks.MapPut(rootHash, hm); err != nil {
		return nil, err
	}

	var version *types.Version
	err = f.withContainerThenObject(cPath, oPath, func() error {
		containerNode, err := f.nodes.NodeLookup(cPath)
		if err != nil {
			return err
		}
		if containerNode == nil {
			return apierr.NotFound(fmt.Sprintf("container %s not found", cPath))
		}
		objNode, err := f.nodes.NodeCreate(containerNode.ID, oPath)
		if err != nil {
			return err
		}
		serial, _, err := f.nodes.VersionCreate(nodestoreVersionArgs(objNode.ID, rootHash, args.Size, args.User, args.UUID, "", f.cfg.UpdateStatisticsAncestorsDepth, false))
		if err != nil {
			return err
		}
		if err := f.nodes.AttributeCopy(objNode.ID, objNode.ID, serial); err != nil {
			return err
		}
		v, err := f.nodes.VersionGetProperties(serial, objNode.ID)
		if err != nil {
			return err
		}
		version = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.publish(events.EventObjectUpdated, oPath, map[string]string{"available": "false"})
	return version, nil
}

// CopyObject creates a new version at destination referencing the same root
// hash as source's current version (spec §4.7 copy_object). A cross-project
// copy issues a reassignment-style commission crediting the destination
// project for the copied bytes (spec §9's resolved Open Question: the
// destination is credited). Cross-container copies lock both containers in
// lexicographic order.
func (f *Facade) CopyObject(srcAccount, srcContainer, srcName, dstAccount, dstContainer, dstName, user, principal string) (*types.Version, error) {
	srcCPath := containerPath(srcAccount, srcContainer)
	dstCPath := containerPath(dstAccount, dstContainer)
	srcOPath := objectPath(srcAccount, srcContainer, srcName)
	dstOPath := objectPath(dstAccount, dstContainer, dstName)

	if err := f.authorize(srcOPath, srcAccount, types.ActionRead, principal); err != nil {
		return nil, err
	}
	if err := f.authorize(dstOPath, dstAccount, types.ActionWrite, principal); err != nil {
		return nil, err
	}

	var result *types.Version
	err := f.withCrossContainerLocks(srcCPath, dstCPath, func() error {
		srcNode, err := f.nodes.NodeLookup(srcOPath)
		if err != nil {
			return err
		}
		if srcNode == nil {
			return apierr.NotFound(fmt.Sprintf("object %s not found", srcOPath))
		}
		srcVersion, err := f.nodes.VersionLookup(srcNode.ID, farFutureForLocking(), types.ClusterNormal)
		if err != nil {
			return err
		}
		if srcVersion == nil {
			return apierr.NotFound(fmt.Sprintf("object %s has no live version", srcOPath))
		}

		dstContainerNode, err := f.nodes.NodeLookup(dstCPath)
		if err != nil {
			return err
		}
		if dstContainerNode == nil {
			return apierr.NotFound(fmt.Sprintf("container %s not found", dstCPath))
		}
		dstPolicy, found, err := f.nodes.PolicyGet(dstContainerNode.ID)
		if err != nil {
			return err
		}
		if !found {
			dstPolicy = f.cfg.DefaultContainerPolicy()
		}

		dstNode, err := f.nodes.NodeCreate(dstContainerNode.ID, dstOPath)
		if err != nil {
			return err
		}

		provisions := []types.Provision{
			{HoldingKey: types.HoldingKey{Holder: resourceForProject(dstPolicy.Project), Source: "container:" + dstCPath, Resource: types.ResourceDiskSpace}, Quantity: srcVersion.Size},
		}
		serial, err := f.coord.Commit("copy_object", dstOPath, provisions, false)
		if err != nil {
			return err
		}

		newSerial, _, createErr := f.nodes.VersionCreate(nodestoreVersionArgs(dstNode.ID, srcVersion.Hash, srcVersion.Size, user, newUUID(), srcVersion.Checksum, f.cfg.UpdateStatisticsAncestorsDepth, true))
		if createErr != nil {
			if rejErr := f.coord.Reject(serial, createErr.Error()); rejErr != nil {
				return rejErr
			}
			return createErr
		}
		if err := f.nodes.AttributeCopy(srcNode.ID, dstNode.ID, newSerial); err != nil {
			return err
		}
		if err := f.coord.Accept(serial, ""); err != nil {
			return err
		}

		v, err := f.nodes.VersionGetProperties(newSerial, dstNode.ID)
		if err != nil {
			return err
		}
		result = v
		metrics.ObjectsTotal.WithLabelValues("normal").Inc()
		f.publish(events.EventObjectCreated, dstOPath, map[string]string{"op": "copy", "source": srcOPath})
		return nil
	})
	return result, err
}

// MoveObject copies source to destination and then deletes source (spec
// §4.7 move_object). Implemented as CopyObject followed by DeleteObject
// rather than a rename, since a rename would need to migrate the source
// node's version history too and the spec only requires the latest content
// to move.
func (f *Facade) MoveObject(srcAccount, srcContainer, srcName, dstAccount, dstContainer, dstName, user, principal string) (*types.Version, error) {
	v, err := f.CopyObject(srcAccount, srcContainer, srcName, dstAccount, dstContainer, dstName, user, principal)
	if err != nil {
		return nil, err
	}
	if err := f.DeleteObject(srcAccount, srcContainer, srcName, user, principal); err != nil {
		return nil, err
	}
	return v, nil
}

// DeleteObject creates a DELETED-cluster tombstone version (spec §4.7
// delete_object). Under versioning=none the prior NORMAL version is purged
// immediately and its bytes refunded against the container's project; under
// versioning=auto it is retained as HISTORY and stays charged until a
// delete_container until-purge removes it (free_versioning refunds at once,
// since HISTORY bytes are not counted there).
func (f *Facade) DeleteObject(account, container, name, user, principal string) error {
	cPath := containerPath(account, container)
	oPath := objectPath(account, container, name)

	if err := f.authorize(oPath, account, types.ActionWrite, principal); err != nil {
		return err
	}

	return f.withContainerThenObject(cPath, oPath, func() error {
		containerNode, err := f.nodes.NodeLookup(cPath)
		if err != nil {
			return err
		}
		if containerNode == nil {
			return apierr.NotFound(fmt.Sprintf("container %s not found", cPath))
		}
		policy, found, err := f.nodes.PolicyGet(containerNode.ID)
		if err != nil {
			return err
		}
		if !found {
			policy = f.cfg.DefaultContainerPolicy()
		}

		objNode, err := f.nodes.NodeLookup(oPath)
		if err != nil {
			return err
		}
		if objNode == nil {
			return apierr.NotFound(fmt.Sprintf("object %s not found", oPath))
		}
		liveVersion, err := f.nodes.VersionLookup(objNode.ID, farFutureForLocking(), types.ClusterNormal)
		if err != nil {
			return err
		}
		if liveVersion == nil {
			return apierr.NotFound(fmt.Sprintf("object %s has no live version", oPath))
		}

		var refund int64
		if policy.Versioning == types.VersioningNone || f.cfg.FreeVersioning {
			refund = liveVersion.Size
		}
		provisions := []types.Provision{
			{HoldingKey: types.HoldingKey{Holder: resourceForProject(policy.Project), Source: "container:" + cPath, Resource: types.ResourceDiskSpace}, Quantity: -refund},
		}
		serial, err := f.coord.Commit("delete_object", oPath, provisions, false)
		if err != nil {
			return err
		}

		args := nodestoreVersionArgs(objNode.ID, liveVersion.Hash, 0, user, newUUID(), "", f.cfg.UpdateStatisticsAncestorsDepth, true)
		args.Cluster = types.ClusterDeleted
		_, _, createErr := f.nodes.VersionCreate(args)
		if createErr != nil {
			if rejErr := f.coord.Reject(serial, createErr.Error()); rejErr != nil {
				return rejErr
			}
			return createErr
		}

		if policy.Versioning == types.VersioningNone {
			if _, err := f.nodes.VersionRemove(liveVersion.Serial); err != nil {
				return err
			}
		}

		if err := f.coord.Accept(serial, ""); err != nil {
			return err
		}
		metrics.ObjectsTotal.WithLabelValues("normal").Dec()
		f.publish(events.EventObjectDeleted, oPath, nil)
		return nil
	})
}

// UpdateObjectPublicArgs parameterizes UpdateObjectPublic.
type UpdateObjectPublicArgs struct {
	Account, Container, Name string
	Public                   bool
	Principal                string
}

// UpdateObjectPublic binds or revokes a public URL token for an object (spec
// §4.4's public_set/public_unset, surfaced on the object action endpoint per
// §6). Returns the current token, empty when Public is false.
func (f *Facade) UpdateObjectPublic(args UpdateObjectPublicArgs) (string, error) {
	oPath := objectPath(args.Account, args.Container, args.Name)

	if err := f.authorize(oPath, args.Account, types.ActionWrite, args.Principal); err != nil {
		return "", err
	}

	node, err := f.nodes.NodeLookup(oPath)
	if err != nil {
		return "", err
	}
	if node == nil {
		return "", apierr.NotFound(fmt.Sprintf("object %s not found", oPath))
	}

	if !args.Public {
		return "", f.nodes.PublicUnset(oPath)
	}
	return f.nodes.PublicSet(oPath, f.cfg.PublicURLSecurity, f.cfg.PublicURLAlphabet)
}

// ResolvePublicToken resolves a public URL token to the account/container/name
// path it was bound to (spec §4.4 public_path), for serving unauthenticated
// reads through the token.
func (f *Facade) ResolvePublicToken(token string) (string, error) {
	return f.nodes.PublicPath(token)
}

// farFutureForLocking mirrors nodestore's own sentinel for "no time bound"
// without depending on time.Now() inside library code paths a workflow
// script could otherwise make non-deterministic.
func farFutureForLocking() time.Time {
	return time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
}

// newUUID generates a client-visible object version identifier, the same
// way the teacher stamps task/service identifiers throughout cuemby-warren
// (pkg/scheduler, pkg/api).
func newUUID() string {
	return uuid.NewString()
}
