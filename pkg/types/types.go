package types

import "time"

// Cluster in a version's lifecycle.
type Cluster int

const (
	ClusterNormal Cluster = iota
	ClusterHistory
	ClusterDeleted
)

func (c Cluster) String() string {
	switch c {
	case ClusterNormal:
		return "normal"
	case ClusterHistory:
		return "history"
	case ClusterDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// NodeType distinguishes path nodes that behave like a directory (and thus
// propagate permission inheritance, see IsDirectoryLike) from leaf objects.
type NodeType int

const (
	NodeTypeFile NodeType = iota
	NodeTypeDirectory
	NodeTypeFolder // pithos "applications/folder" marker object
)

// IsDirectoryLike reports whether permissions set at a node of this type
// are inherited by its descendants (spec §4.4, design note in §9).
func (t NodeType) IsDirectoryLike() bool {
	return t == NodeTypeDirectory || t == NodeTypeFolder
}

// Node is a path in the account/container/object hierarchy.
// Invariant: Path uniquely determines Node and vice versa among non-deleted nodes.
type Node struct {
	ID       int64
	ParentID int64
	Path     string // "account", "account/container", or "account/container/name"
}

// Version is one immutable revision of a Node's content.
type Version struct {
	Serial             int64
	Node               int64
	Hash               string // root hashmap hash; empty for prefix nodes
	Size               int64
	Type               NodeType
	ModificationTime   time.Time
	Modifier           string
	UUID               string
	Checksum           string
	Cluster            Cluster
	Available          bool
	MapCheckTimestamp  time.Time
}

// AttributeDomain partitions metadata key namespaces.
type AttributeDomain string

const (
	DomainUser   AttributeDomain = "user"
	DomainSystem AttributeDomain = "system"
)

// Attribute is one (domain, key) -> value pair scoped to a version.
// Node is a denormalized lookup key (weak reference, not an ownership edge —
// see design note in §9): it lets attribute_get be queried by node directly
// without joining through Version when only the latest version is wanted.
type Attribute struct {
	VersionSerial int64
	Domain        AttributeDomain
	Key           string
	Value         string
	Node          int64
	// IsLatest caches whether VersionSerial is still the node's latest NORMAL
	// version, so attribute_get(node) can skip joining through Version; it is
	// cleared by unset_is_latest when a version is demoted to HISTORY.
	IsLatest bool
}

// Statistics is the aggregate (count, bytes, mtime) over a node's NORMAL
// descendants, maintained incrementally up to UpdateStatisticsAncestorsDepth
// ancestors on every version create/delete/recluster.
type Statistics struct {
	Node  int64
	Count int64
	Bytes int64
	MTime time.Time
}

// Versioning mode controls whether a superseded NORMAL version is retained
// as HISTORY or immediately purged and refunded.
type Versioning string

const (
	VersioningAuto Versioning = "auto"
	VersioningNone Versioning = "none"
)

// Policy is the per-node quota/versioning/project mapping (§4.5).
type Policy struct {
	Node       int64
	Quota      int64 // bytes; 0 = unbounded
	Versioning Versioning
	Project    string
}

// PermissionSet is the per-path read/write ACL (§4.4). "*" in Read means public.
type PermissionSet struct {
	Path  string
	Read  []string // principals, "*", or "owner:groupname"
	Write []string
}

// IsPublic reports whether "*" is present in Read.
func (p *PermissionSet) IsPublic() bool {
	for _, r := range p.Read {
		if r == "*" {
			return true
		}
	}
	return false
}

// PublicToken binds a short random token to a path for unauthenticated reads.
type PublicToken struct {
	Token     string
	Path      string
	CreatedAt time.Time
}

// AccessAction distinguishes read-class from write-class operations for
// access_check (spec §4.4: read permits HEAD/GET, write permits PUT/POST/DELETE).
type AccessAction int

const (
	ActionRead AccessAction = iota
	ActionWrite
)

// --- Quotaholder ---

// Resource is a named, quantified accounting dimension (e.g. "diskspace").
type Resource string

const (
	ResourceDiskSpace Resource = "diskspace"
	ResourceCPU       Resource = "cpu"
	ResourceRAM       Resource = "ram"
	ResourceVM        Resource = "vm"
)

// HoldingKey identifies one accounted balance.
type HoldingKey struct {
	Holder   string
	Source   string
	Resource Resource
}

// Holding is the quota limit and current usage window for one HoldingKey.
// Invariant: 0 <= UsageMin <= UsageMax <= Limit (or Limit < 0 meaning unlimited).
type Holding struct {
	HoldingKey
	Limit    int64 // -1 == unlimited
	UsageMin int64 // committed usage
	UsageMax int64 // usage including pending reservations
}

// Unlimited is the sentinel Limit value meaning "no cap".
const Unlimited int64 = -1

// Provision is one signed delta against a holding, inside a Commission.
type Provision struct {
	HoldingKey
	Quantity int64 // positive = import/reserve, negative = release
}

// CommissionState is the lifecycle state of a Commission.
type CommissionState string

const (
	CommissionPending  CommissionState = "pending"
	CommissionAccepted CommissionState = "accepted"
	CommissionRejected CommissionState = "rejected"
)

// Commission is a proposed atomic change to one or more holdings.
type Commission struct {
	Serial     int64
	Client     string // name of the issuing service, e.g. "pithos"
	Name       string // human label, e.g. "object upload a/c/o"
	IssueTime  time.Time
	Provisions []Provision
	State      CommissionState
	Force      bool
}

// ProvisionLogEntry is an immutable record of one resolved provision.
type ProvisionLogEntry struct {
	Serial       int64
	HoldingKey   HoldingKey
	Quantity     int64
	Accepted     bool
	BeforeMin    int64
	BeforeMax    int64
	AfterMin     int64
	AfterMax     int64
	Reason       string
	ResolvedTime time.Time
}

// ReassignmentLogEntry records a project reassignment commission outcome
// (supplemented feature, grounded on synnefo/quotas/__init__.py's reassign
// logging — see SPEC_FULL.md §3).
type ReassignmentLogEntry struct {
	Serial     int64
	Container  string
	FromProj   string
	ToProj     string
	Bytes      int64
	Accepted   bool
	ResolvedAt time.Time
}

// ProjectState is the admin-visible lifecycle state of a project, consulted
// by policy_set (supplemented feature, SPEC_FULL.md §3).
type ProjectState string

const (
	ProjectActive     ProjectState = "active"
	ProjectSuspended  ProjectState = "suspended"
	ProjectTerminated ProjectState = "terminated"
)

// CommissionSerial is the Commission Coordinator's local record of a serial
// it issued, tracked until it has been durably accepted or rejected (§4.8).
type CommissionSerial struct {
	Serial     int64
	Resource   string // opaque resource identifier, e.g. "a/c/o" or "container:a/c"
	Pending    bool
	Accept     bool
	Resolved   bool
	IssuedAt   time.Time
	ResolvedAt time.Time
}

// ErrorKind is the wire-transparent error discriminator from spec §7.
type ErrorKind string

const (
	ErrNotAllowed        ErrorKind = "NotAllowed"
	ErrNotFound          ErrorKind = "NotFound"
	ErrVersionNotExists  ErrorKind = "VersionNotExists"
	ErrConflict          ErrorKind = "Conflict"
	ErrQuotaExceeded     ErrorKind = "QuotaExceeded"
	ErrBadRequest        ErrorKind = "BadRequest"
	ErrIllegalOperation  ErrorKind = "IllegalOperation"
	ErrInvalidHash       ErrorKind = "InvalidHash"
	ErrInternal          ErrorKind = "InternalError"
)
