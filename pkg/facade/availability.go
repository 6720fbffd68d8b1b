package facade

import (
	"time"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/pkg/types"
)

// CheckAvailabilityArgs identifies the object version to recheck.
type CheckAvailabilityArgs struct {
	Account, Container, Name string

	// Principal is the authenticated caller to permission-check against;
	// see UpdateObjectHashmapArgs.Principal.
	Principal string
}

// EnsureAvailable re-verifies an object's latest version against the block
// store if it was registered Available=false (spec §4.1/§4.7: a
// register_object_map'd version whose blocks hadn't arrived yet) and its
// last check is older than cfg.MapCheckIntervalSeconds — so a client
// repeatedly HEADing the same pending object doesn't re-walk every block on
// every request.
func (f *Facade) EnsureAvailable(args CheckAvailabilityArgs) (*types.Version, error) {
	cPath := containerPath(args.Account, args.Container)
	oPath := objectPath(args.Account, args.Container, args.Name)

	if err := f.authorize(oPath, args.Account, types.ActionRead, args.Principal); err != nil {
		return nil, err
	}

	node, err := f.nodes.NodeLookup(oPath)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, apierr.NotFound("object " + oPath + " not found")
	}
	v, err := f.nodes.VersionLookup(node.ID, farFutureForLocking(), types.ClusterNormal)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, apierr.NotFound("object " + oPath + " has no live version")
	}
	if v.Available {
		return v, nil
	}

	interval := time.Duration(f.cfg.MapCheckIntervalSeconds) * time.Second
	if interval > 0 && !v.MapCheckTimestamp.IsZero() && availabilityNow().Sub(v.MapCheckTimestamp) < interval {
		return v, nil
	}

	err = f.withContainerThenObject(cPath, oPath, func() error {
		hm, err := f.blocks.MapGet(v.Hash)
		if err != nil {
			return err
		}
		missing, err := f.blocks.BlockSearch(hm)
		if err != nil {
			return err
		}
		return f.nodes.VersionSetAvailability(v.Serial, len(missing) == 0, availabilityNow())
	})
	if err != nil {
		return nil, err
	}
	return f.nodes.VersionGetProperties(v.Serial, node.ID)
}

// availabilityNow exists so tests can observe deterministic recheck timing.
var availabilityNow = func() time.Time { return time.Now() }
