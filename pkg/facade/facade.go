// Package facade implements the Storage Façade of spec §4.7: the component
// that glues the Node Tree (internal/nodestore), the block store
// (internal/blockstore), the block-hash-list algorithm (internal/hashmap),
// and the Commission Coordinator (pkg/coordinator) into the account/
// container/object operations a Pithos-like client actually calls, wiring
// every mutation through a commission before it touches the node tree.
//
// Grounded on the teacher's pkg/manager.Manager, which plays the same
// "glue a handful of lower-level stores behind one API, one lock discipline"
// role for cluster state that this package plays for object storage.
package facade

import (
	"fmt"
	"strings"
	"sync"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/internal/blockstore"
	"github.com/synnefo-io/core/internal/nodestore"
	"github.com/synnefo-io/core/pkg/config"
	"github.com/synnefo-io/core/pkg/coordinator"
	"github.com/synnefo-io/core/pkg/events"
	"github.com/synnefo-io/core/pkg/types"
)

// Facade is the Storage Façade for one deployment.
type Facade struct {
	nodes  *nodestore.Store
	blocks *blockstore.Store
	coord  *coordinator.Coordinator
	events *events.Broker
	cfg    config.Config

	locksMu sync.Mutex
	locks   map[string]*sync.RWMutex
}

// New assembles a Facade from its already-constructed collaborators. The
// caller owns their lifecycle (coordinator/events Start/Stop, store Close).
func New(nodes *nodestore.Store, blocks *blockstore.Store, coord *coordinator.Coordinator, broker *events.Broker, cfg config.Config) *Facade {
	return &Facade{
		nodes:  nodes,
		blocks: blocks,
		coord:  coord,
		events: broker,
		cfg:    cfg,
		locks:  make(map[string]*sync.RWMutex),
	}
}

// lockFor returns the per-path mutex, creating it on first use. Paths are
// never removed from the map — a long-lived low-cardinality set (one entry
// per account/container/object ever touched) that trades a little memory
// for never having to worry about a lock disappearing out from under a
// concurrent holder.
func (f *Facade) lockFor(path string) *sync.RWMutex {
	f.locksMu.Lock()
	defer f.locksMu.Unlock()
	l, ok := f.locks[path]
	if !ok {
		l = &sync.RWMutex{}
		f.locks[path] = l
	}
	return l
}

// withContainerThenObject acquires containerPath's lock before objectPath's,
// the fixed ordering spec §5 requires for every object write to avoid the
// ABBA deadlock a request locking them in the opposite order could cause
// against a concurrent container-level operation (e.g. delete_container)
// that only ever takes the container lock.
func (f *Facade) withContainerThenObject(containerPath, objectPath string, fn func() error) error {
	cl := f.lockFor(containerPath)
	cl.RLock()
	defer cl.RUnlock()

	ol := f.lockFor(objectPath)
	ol.Lock()
	defer ol.Unlock()

	return fn()
}

// withContainerLock runs fn while holding containerPath's exclusive lock,
// used by container-level mutations (put/update policy/delete) that must
// exclude any concurrent object write under it.
func (f *Facade) withContainerLock(containerPath string, fn func() error) error {
	l := f.lockFor(containerPath)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// withCrossContainerLocks acquires both container paths' locks in
// lexicographic order on the full "account/container" path (spec §5), so a
// cross-container copy/move racing the opposite direction can never
// deadlock.
func (f *Facade) withCrossContainerLocks(pathA, pathB string, fn func() error) error {
	if pathA == pathB {
		return f.withContainerLock(pathA, fn)
	}
	first, second := pathA, pathB
	if second < first {
		first, second = second, first
	}
	l1 := f.lockFor(first)
	l2 := f.lockFor(second)
	l1.Lock()
	defer l1.Unlock()
	l2.Lock()
	defer l2.Unlock()
	return fn()
}

// --- path helpers ---

func accountPath(account string) string { return account }

func containerPath(account, container string) string {
	return account + "/" + container
}

func objectPath(account, container, name string) string {
	return account + "/" + container + "/" + name
}

func splitContainerPath(path string) (account, container string, ok bool) {
	idx := strings.Index(path, "/")
	if idx < 0 {
		return "", "", false
	}
	return path[:idx], path[idx+1:], true
}

func resourceForProject(project string) string {
	if project == "" {
		return "unassigned"
	}
	return project
}

// nodeTypeOf resolves path's NodeType for AccessCheck's directory-ancestor
// inheritance walk (spec §4.4, §9): account and container paths are always
// directory-like since the node tree has no Type field of its own for them,
// while an object path's type is whatever its latest version carries.
func (f *Facade) nodeTypeOf(path string) (types.NodeType, bool) {
	if strings.Count(path, "/") < 2 {
		return types.NodeTypeDirectory, true
	}
	node, err := f.nodes.NodeLookup(path)
	if err != nil || node == nil {
		return 0, false
	}
	v, err := f.nodes.VersionLookup(node.ID, farFutureForLocking(), types.ClusterNormal)
	if err != nil || v == nil {
		return 0, false
	}
	return v.Type, true
}

// authorize consults the Permission Index before a façade operation touches
// path (spec §4.7: "Permission/policy checks are performed before any data
// mutation... For reads, the permission index is consulted and the result
// cached for the transaction"). An empty principal means a trusted
// in-process caller (tests, internal tooling) and bypasses the check
// entirely; the HTTP surface always supplies a non-empty principal, even
// "anonymous". The account owner always passes without an explicit ACL
// entry.
func (f *Facade) authorize(path, account string, action types.AccessAction, principal string) error {
	if principal == "" || principal == account {
		return nil
	}
	ok, err := f.nodes.AccessCheck(path, action, principal, f.nodeTypeOf)
	if err != nil {
		return err
	}
	if !ok {
		verb := "read"
		if action == types.ActionWrite {
			verb = "write"
		}
		return apierr.NotAllowed(fmt.Sprintf("%s may not %s %s", principal, verb, path))
	}
	return nil
}

// nodestoreVersionArgs builds a nodestore.VersionCreateArgs for a new
// NORMAL version (the common case across UpdateObjectHashmap,
// RegisterObjectMap, and CopyObject); DeleteObject overrides Cluster on the
// returned value to target DELETED instead.
func nodestoreVersionArgs(node int64, hash string, size int64, user, uuid, checksum string, ancestorsDepth int, available bool) nodestore.VersionCreateArgs {
	return nodestore.VersionCreateArgs{
		Node:           node,
		Hash:           hash,
		Size:           size,
		Type:           types.NodeTypeFile,
		User:           user,
		UUID:           uuid,
		Checksum:       checksum,
		Cluster:        types.ClusterNormal,
		Available:      available,
		AncestorsDepth: ancestorsDepth,
	}
}
