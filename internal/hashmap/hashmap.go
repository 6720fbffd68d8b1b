// Package hashmap implements the Merkle-style block-hash list that
// represents an object's data (spec §4.2). It has no teacher analogue —
// cuemby-warren has no content-addressing concern — so the fold algorithm
// is built directly from the spec text against the standard library's
// crypto/sha256 (the default hash algorithm, see internal/blockstore).
package hashmap

import "encoding/hex"

// HashFunc hashes arbitrary bytes to a hex digest. Block stores configure
// this; tests and the default deployment use sha256.
type HashFunc func(parts ...[]byte) string

// Hashmap is the ordered list of block hashes composing one object.
type Hashmap struct {
	Hash   HashFunc
	Blocks []string // hex-encoded block hashes, in order
}

// New creates a Hashmap bound to the given hash function.
func New(h HashFunc, blocks []string) *Hashmap {
	return &Hashmap{Hash: h, Blocks: append([]string(nil), blocks...)}
}

// RootHash computes the object's content address per spec §4.2:
//   - empty hashmap: H("")
//   - single block: that block's hash
//   - otherwise: pad to the next power of two with a zero-hash of the same
//     length, then fold pairs via H(left || right) until one hash remains.
func (m *Hashmap) RootHash() (string, error) {
	if len(m.Blocks) == 0 {
		return m.Hash([]byte{}), nil
	}
	if len(m.Blocks) == 1 {
		return m.Blocks[0], nil
	}

	layer := make([][]byte, len(m.Blocks))
	hashLen := -1
	for i, h := range m.Blocks {
		raw, err := hex.DecodeString(h)
		if err != nil {
			return "", err
		}
		if hashLen == -1 {
			hashLen = len(raw)
		}
		layer[i] = raw
	}

	zero := make([]byte, hashLen)
	n := nextPowerOfTwo(len(layer))
	for len(layer) < n {
		layer = append(layer, zero)
	}

	for len(layer) > 1 {
		next := make([][]byte, 0, len(layer)/2)
		for i := 0; i < len(layer); i += 2 {
			combined := append(append([]byte{}, layer[i]...), layer[i+1]...)
			digest := m.Hash(combined)
			raw, err := hex.DecodeString(digest)
			if err != nil {
				return "", err
			}
			next = append(next, raw)
		}
		layer = next
	}

	return hex.EncodeToString(layer[0]), nil
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
