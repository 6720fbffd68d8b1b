// Package blockstore implements the fixed-size, content-addressed block
// store of spec §4.1. The Backend interface and its local, sharded-directory
// implementation are grounded on the teacher's pkg/volume VolumeDriver /
// LocalDriver (Create/Delete/Mount/GetPath become Put/Get/Update/Search on a
// content-addressed layout instead of a named mount point).
package blockstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/internal/hashmap"
)

// DefaultBlockSize is 4 MiB, per spec §6 configuration defaults.
const DefaultBlockSize = 4 * 1024 * 1024

// Backend is the pluggable storage for raw block bytes. LocalBackend is the
// default; ArchipelagoBackend models the externally-managed collaborator
// referenced by update_block's IllegalOperation case (spec §4.1).
type Backend interface {
	// Put stores data under hash if not already present. Idempotent.
	Put(hash string, data []byte) error
	// Get returns the bytes stored under hash, or NotFound.
	Get(hash string) ([]byte, error)
	// Exists reports whether hash is already stored.
	Exists(hash string) (bool, error)
	// Managed reports whether blocks in this backend may be rewritten
	// locally (false for externally-managed backends like Archipelago).
	Managed() bool
}

// Store implements put_block/get_block/update_block/block_search and
// map_put/map_get (spec §4.1).
type Store struct {
	backend   Backend
	hash      hashmap.HashFunc
	blockSize int
	maps      Backend // persisted hashmaps, stored under "map-"+root hash; may be == backend
}

// Config configures a Store.
type Config struct {
	Backend   Backend
	MapStore  Backend // defaults to Backend if nil
	HashFunc  hashmap.HashFunc // defaults to sha256
	BlockSize int              // defaults to DefaultBlockSize
}

func NewStore(cfg Config) *Store {
	h := cfg.HashFunc
	if h == nil {
		h = SHA256
	}
	bs := cfg.BlockSize
	if bs == 0 {
		bs = DefaultBlockSize
	}
	maps := cfg.MapStore
	if maps == nil {
		maps = cfg.Backend
	}
	return &Store{backend: cfg.Backend, hash: h, blockSize: bs, maps: maps}
}

// SHA256 is the default configurable hash algorithm (spec §6).
func SHA256(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// PutBlock stores data if not already present and returns its hash.
// Idempotent: calling it twice for the same data yields the same hash and
// one stored block (spec §8).
func (s *Store) PutBlock(data []byte) (string, error) {
	h := s.hash(data)
	exists, err := s.backend.Exists(h)
	if err != nil {
		return "", apierr.Internal(err)
	}
	if exists {
		return h, nil
	}
	if err := s.backend.Put(h, data); err != nil {
		return "", apierr.Internal(err)
	}
	return h, nil
}

// GetBlock returns the block identified by hash.
func (s *Store) GetBlock(hash string) ([]byte, error) {
	exists, err := s.backend.Exists(hash)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	if !exists {
		return nil, apierr.NotFound(fmt.Sprintf("block %s not found", hash))
	}
	return s.backend.Get(hash)
}

// UpdateBlock writes data at offset within the block identified by hash and
// returns the hash of the resulting block. Used for partial-block tail
// writes. Fails IllegalOperation if the backend does not allow local
// rewrites (spec §4.1, the Archipelago case).
func (s *Store) UpdateBlock(hash string, offset int, data []byte) (string, error) {
	if !s.backend.Managed() {
		return "", apierr.IllegalOperation("block is externally managed; update_block not permitted")
	}
	existing, err := s.GetBlock(hash)
	if err != nil {
		return "", err
	}
	end := offset + len(data)
	buf := make([]byte, max(len(existing), end))
	copy(buf, existing)
	copy(buf[offset:end], data)
	return s.PutBlock(buf)
}

// BlockSearch returns which hashes referenced by hm are not yet present.
func (s *Store) BlockSearch(hm *hashmap.Hashmap) ([]string, error) {
	var missing []string
	for _, h := range hm.Blocks {
		exists, err := s.backend.Exists(h)
		if err != nil {
			return nil, apierr.Internal(err)
		}
		if !exists {
			missing = append(missing, h)
		}
	}
	return missing, nil
}

// MapPut persists the ordered block-hash list under its root hash. The
// stored key is prefixed "map-": a single-block hashmap's root hash equals
// that block's hash, so without the prefix a map kept in the block backend
// would overwrite the block and make it look present.
func (s *Store) MapPut(rootHash string, hm *hashmap.Hashmap) error {
	data, err := json.Marshal(hm.Blocks)
	if err != nil {
		return apierr.Internal(err)
	}
	return s.maps.Put("map-"+rootHash, data)
}

// MapGet retrieves a previously persisted hashmap by root hash.
func (s *Store) MapGet(rootHash string) (*hashmap.Hashmap, error) {
	exists, err := s.maps.Exists("map-" + rootHash)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	if !exists {
		return nil, apierr.NotFound(fmt.Sprintf("hashmap %s not found", rootHash))
	}
	data, err := s.maps.Get("map-" + rootHash)
	if err != nil {
		return nil, err
	}
	var blocks []string
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil, apierr.Internal(err)
	}
	return hashmap.New(s.hash, blocks), nil
}

// HashFunc exposes the store's configured hash function so callers can
// build Hashmap values with the same algorithm.
func (s *Store) HashFunc() hashmap.HashFunc { return s.hash }

// BlockSize returns the configured fixed block size in bytes.
func (s *Store) BlockSize() int { return s.blockSize }

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// --- LocalBackend ---

// DefaultBlocksPath mirrors the teacher's DefaultVolumesPath convention.
const DefaultBlocksPath = "/var/lib/synnefo/blocks"

// LocalBackend stores blocks as files under basePath, sharded two levels
// deep by hash prefix (ab/cd/abcdef...) to keep directories small, the way
// LocalDriver shards volumes by ID under a single base path.
type LocalBackend struct {
	basePath string
}

// NewLocalBackend creates a filesystem-backed block backend rooted at
// basePath (DefaultBlocksPath if empty). The directory is created if absent,
// mirroring NewLocalDriver.
func NewLocalBackend(basePath string) (*LocalBackend, error) {
	if basePath == "" {
		basePath = DefaultBlocksPath
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blocks directory: %w", err)
	}
	return &LocalBackend{basePath: basePath}, nil
}

func (b *LocalBackend) pathFor(hash string) string {
	if len(hash) < 4 {
		return filepath.Join(b.basePath, hash)
	}
	return filepath.Join(b.basePath, hash[0:2], hash[2:4], hash)
}

func (b *LocalBackend) Put(hash string, data []byte) error {
	p := b.pathFor(hash)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create block shard directory: %w", err)
	}
	// Block content is immutable once written (content-addressed); a
	// restart between PutBlock and MapPut is tolerated (spec §4.1) since
	// this write is the only one that ever happens for a given hash.
	if err := os.WriteFile(p, data, 0644); err != nil {
		return fmt.Errorf("failed to write block %s: %w", hash, err)
	}
	return nil
}

func (b *LocalBackend) Get(hash string) ([]byte, error) {
	data, err := os.ReadFile(b.pathFor(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to read block %s: %w", hash, err)
	}
	return data, nil
}

func (b *LocalBackend) Exists(hash string) (bool, error) {
	_, err := os.Stat(b.pathFor(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (b *LocalBackend) Managed() bool { return true }

// Delete removes a block. Used only by the offline GC sweep (pkg/blocksweep),
// never by the request path (spec §4.1: blocks are reference-counted
// implicitly and swept out-of-band).
func (b *LocalBackend) Delete(hash string) error {
	err := os.Remove(b.pathFor(hash))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete block %s: %w", hash, err)
	}
	return nil
}

// List walks the sharded directory layout and returns every stored block's
// hash. Used only by the offline GC sweep (pkg/blocksweep); the request path
// never needs a full enumeration.
func (b *LocalBackend) List() ([]string, error) {
	var hashes []string
	err := filepath.Walk(b.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		hashes = append(hashes, info.Name())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list blocks: %w", err)
	}
	return hashes, nil
}

// ArchipelagoBackend models the externally-managed block collaborator
// referenced in spec §4.1: reads are served from the underlying mapped
// device, but update_block is never permitted locally. Only Get/Exists are
// implemented; Put is an error since Archipelago blocks are written through
// a separate out-of-band path (register_object_map), not put_block.
type ArchipelagoBackend struct {
	inner Backend // read-through to wherever Archipelago has mapped content
}

func NewArchipelagoBackend(inner Backend) *ArchipelagoBackend {
	return &ArchipelagoBackend{inner: inner}
}

func (a *ArchipelagoBackend) Put(hash string, data []byte) error {
	return apierr.IllegalOperation("Archipelago-backed blocks cannot be written via put_block")
}

func (a *ArchipelagoBackend) Get(hash string) ([]byte, error)    { return a.inner.Get(hash) }
func (a *ArchipelagoBackend) Exists(hash string) (bool, error)   { return a.inner.Exists(hash) }
func (a *ArchipelagoBackend) Managed() bool                      { return false }
