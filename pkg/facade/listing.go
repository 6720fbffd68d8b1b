package facade

import (
	"time"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/internal/nodestore"
	"github.com/synnefo-io/core/pkg/types"
)

// ListContainerArgs parameterizes ListContainer.
type ListContainerArgs struct {
	Account, Container string
	Prefix              string // relative to the container
	Delimiter           string
	Marker              string
	Limit               int
	Before              time.Time
	AllowedPaths        []string // nil means unrestricted (the façade's caller has already authorized the principal)

	// Principal is the authenticated caller. When non-empty and not the
	// account owner, and AllowedPaths wasn't already supplied, it's resolved
	// against the Permission Index into the set of paths the principal may
	// read (spec §4.7's cached read checks), rather than checked per-entry.
	Principal string
}

// ListContainerResult is the paged listing of one container.
type ListContainerResult struct {
	Objects []nodestore.ListingEntry
	Subdirs []string
}

// ListContainer implements the container-level listing surface over
// LatestVersionList (spec §4.3, §4.7), composing the absolute path prefix
// from account/container/relative-prefix so callers only ever think in
// container-relative terms.
func (f *Facade) ListContainer(args ListContainerArgs) (*ListContainerResult, error) {
	cPath := containerPath(args.Account, args.Container)
	node, err := f.nodes.NodeLookup(cPath)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, apierr.NotFound("container " + cPath + " not found")
	}

	allowed := args.AllowedPaths
	if allowed == nil && args.Principal != "" && args.Principal != args.Account {
		paths, err := f.nodes.AccessListPaths(args.Principal, types.ActionRead, cPath+"/"+args.Prefix)
		if err != nil {
			return nil, err
		}
		allowed = paths
	}

	objects, subdirs, err := f.nodes.LatestVersionList(nodestore.ListingArgs{
		PathPrefix:     cPath + "/" + args.Prefix,
		Delimiter:      args.Delimiter,
		Marker:         args.Marker,
		Limit:          args.Limit,
		Before:         args.Before,
		ExcludeCluster: clusterPtr(types.ClusterDeleted),
		AllowedPaths:   allowed,
	})
	if err != nil {
		return nil, err
	}
	return &ListContainerResult{Objects: objects, Subdirs: subdirs}, nil
}

// ListAccountArgs parameterizes ListAccount.
type ListAccountArgs struct {
	Account      string
	Marker       string
	Limit        int
	AllowedPaths []string

	// Principal is the authenticated caller; see ListContainerArgs.Principal.
	Principal string
}

// ListAccount lists the containers under account (the top-level children of
// the account node, with their policies for quota/usage display).
func (f *Facade) ListAccount(args ListAccountArgs) ([]ContainerInfo, error) {
	aPath := accountPath(args.Account)
	node, err := f.nodes.NodeLookup(aPath)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, apierr.NotFound("account " + aPath + " not found")
	}

	children, err := f.nodes.NodeChildren(node.ID)
	if err != nil {
		return nil, err
	}

	limit := args.Limit
	if limit <= 0 {
		limit = f.cfg.ListingLimit
	}

	allowed := args.AllowedPaths
	if allowed == nil && args.Principal != "" && args.Principal != args.Account {
		paths, err := f.nodes.AccessListPaths(args.Principal, types.ActionRead, aPath)
		if err != nil {
			return nil, err
		}
		allowed = paths
	}

	infos := make([]ContainerInfo, 0, len(children))
	for _, child := range children {
		if args.Marker != "" && child.Path <= accountPath(args.Account)+"/"+args.Marker {
			continue
		}
		if allowed != nil && !containsPath(allowed, child.Path) {
			continue
		}
		policy, found, err := f.nodes.PolicyGet(child.ID)
		if err != nil {
			return nil, err
		}
		if !found {
			policy = f.cfg.DefaultContainerPolicy()
		}
		stats, err := f.nodes.StatisticsGet(child.ID)
		if err != nil {
			return nil, err
		}
		_, container, _ := splitContainerPath(child.Path)
		infos = append(infos, ContainerInfo{Name: container, Policy: policy, Statistics: stats})
		if len(infos) >= limit {
			break
		}
	}
	return infos, nil
}

func containsPath(paths []string, path string) bool {
	for _, p := range paths {
		if p == path {
			return true
		}
	}
	return false
}

// ContainerInfo is one row of an account listing.
type ContainerInfo struct {
	Name       string
	Policy     types.Policy
	Statistics types.Statistics
}

func clusterPtr(c types.Cluster) *types.Cluster { return &c }
