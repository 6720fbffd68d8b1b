package facade

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synnefo-io/core/internal/blockstore"
	"github.com/synnefo-io/core/internal/nodestore"
	"github.com/synnefo-io/core/pkg/config"
	"github.com/synnefo-io/core/pkg/coordinator"
	"github.com/synnefo-io/core/pkg/events"
	"github.com/synnefo-io/core/pkg/types"
)

// fakeQuotaBackend stands in for the Quotaholder, grounded on
// pkg/coordinator's own fakeBackend test double — a commission is simply
// tracked as pending until accepted or rejected, with no quota-limit
// enforcement, since these tests exercise the façade's wiring and not the
// Quotaholder's accounting.
type fakeQuotaBackend struct {
	nextSerial int64
	pending    map[int64]bool
}

func newFakeQuotaBackend() *fakeQuotaBackend {
	return &fakeQuotaBackend{pending: map[int64]bool{}}
}

func (f *fakeQuotaBackend) IssueCommission(client, name string, provisions []types.Provision, force bool) (int64, error) {
	f.nextSerial++
	f.pending[f.nextSerial] = true
	return f.nextSerial, nil
}

func (f *fakeQuotaBackend) ResolvePendingCommissions(client string, accept, reject []int64, reason string) (coordinator.ResolveOutcome, error) {
	var out coordinator.ResolveOutcome
	for _, s := range accept {
		if !f.pending[s] {
			out.NotFound = append(out.NotFound, s)
			continue
		}
		delete(f.pending, s)
		out.Accepted = append(out.Accepted, s)
	}
	for _, s := range reject {
		if !f.pending[s] {
			out.NotFound = append(out.NotFound, s)
			continue
		}
		delete(f.pending, s)
		out.Rejected = append(out.Rejected, s)
	}
	return out, nil
}

func (f *fakeQuotaBackend) GetPendingCommissions(client string) ([]int64, error) {
	var serials []int64
	for s := range f.pending {
		serials = append(serials, s)
	}
	return serials, nil
}

func (f *fakeQuotaBackend) GetCommission(client string, serial int64) (*types.Commission, error) {
	return nil, nil
}

func newTestFacade(t *testing.T) *Facade {
	t.Helper()

	nodes, err := nodestore.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { nodes.Close() })

	backend, err := blockstore.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	blocks := blockstore.NewStore(blockstore.Config{Backend: backend})

	broker := events.NewBroker()

	coord, err := coordinator.New(t.TempDir(), "pithos", newFakeQuotaBackend(), broker)
	require.NoError(t, err)
	t.Cleanup(func() { coord.Close() })

	return New(nodes, blocks, coord, broker, config.Default())
}

// putBlocks stores data in blocks of at most f.blocks.BlockSize() bytes and
// returns their hashes in order, mirroring what a real client does before
// calling UpdateObjectHashmap.
func putBlocks(t *testing.T, f *Facade, data []byte) []string {
	t.Helper()
	size := f.blocks.BlockSize()
	var hashes []string
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		h, err := f.blocks.PutBlock(data[:n])
		require.NoError(t, err)
		hashes = append(hashes, h)
		data = data[n:]
	}
	if len(hashes) == 0 {
		h, err := f.blocks.PutBlock(nil)
		require.NoError(t, err)
		hashes = append(hashes, h)
	}
	return hashes
}
