package nodestore

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/pkg/types"
)

// AccessSet replaces the read/write ACL at path (spec §4.4 access_set).
func (s *Store) AccessSet(path string, read, write []string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		ps := types.PermissionSet{Path: path, Read: read, Write: write}
		return putJSON(tx.Bucket(bucketPermissions), []byte(path), ps)
	})
	if err == nil {
		s.clearPermissionCache()
	}
	return err
}

// AccessGet returns the ACL set directly at path (no inheritance applied).
func (s *Store) AccessGet(path string) (*types.PermissionSet, error) {
	var ps types.PermissionSet
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket(bucketPermissions), []byte(path), &ps)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &ps, nil
}

// pathAncestors returns path, its parent, grandparent, ... up to the account
// root, used both by access_check's inheritance walk and access_inherit.
func pathAncestors(path string) []string {
	var ancestors []string
	for p := path; p != ""; {
		ancestors = append(ancestors, p)
		idx := strings.LastIndex(p, "/")
		if idx < 0 {
			break
		}
		p = p[:idx]
	}
	return ancestors
}

// AccessInherit returns path's ancestor chain, root-most last, the search
// order access_check walks (spec §4.4 access_inherit).
func (s *Store) AccessInherit(path string) []string {
	return pathAncestors(path)
}

// AccessCheck reports whether principal may perform action at path: true if
// principal (or a "*" public grant, or a resolved owner:group membership) is
// in the matching list at path or at any directory-like ancestor (spec
// §4.4, §9 design note on IsDirectoryLike). nodeTypeOf resolves a path's
// NodeType for the inheritance check; the Storage Façade supplies it since
// nodestore's own Node has no Type field (that lives on Version).
func (s *Store) AccessCheck(path string, action types.AccessAction, principal string, nodeTypeOf func(path string) (types.NodeType, bool)) (bool, error) {
	if cached, ok := s.cacheLookup(principal, action, path); ok {
		return cached, nil
	}

	allowed := false
	ancestors := pathAncestors(path)
	for i, p := range ancestors {
		if i > 0 {
			t, found := nodeTypeOf(p)
			if !found || !t.IsDirectoryLike() {
				continue
			}
		}
		ps, err := s.AccessGet(p)
		if err != nil {
			return false, err
		}
		if ps == nil {
			continue
		}
		list := ps.Read
		if action == types.ActionWrite {
			list = ps.Write
		}
		ok, err := s.principalMatches(list, principal)
		if err != nil {
			return false, err
		}
		if ok {
			allowed = true
			break
		}
	}
	s.cacheStore(principal, action, path, allowed)
	return allowed, nil
}

func (s *Store) principalMatches(list []string, principal string) (bool, error) {
	for _, entry := range list {
		if entry == "*" || entry == principal {
			return true, nil
		}
		if account, group, ok := strings.Cut(entry, ":"); ok {
			members, err := s.GroupGet(account, group)
			if err != nil {
				return false, err
			}
			for _, m := range members {
				if m == principal {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

// AccessListPaths returns every path principal can perform action on,
// scoped to prefix if non-empty (spec §4.4 access_list_paths). A path is
// included if principal matches its own ACL directly; inherited grants from
// a directory-like ancestor are resolved by the caller walking AccessCheck
// per listed candidate, since that requires NodeType information this
// package does not own.
func (s *Store) AccessListPaths(principal string, action types.AccessAction, prefix string) ([]string, error) {
	var paths []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPermissions).ForEach(func(k, v []byte) error {
			path := string(k)
			if prefix != "" && !strings.HasPrefix(path, prefix) {
				return nil
			}
			var ps types.PermissionSet
			if err := json.Unmarshal(v, &ps); err != nil {
				return err
			}
			list := ps.Read
			if action == types.ActionWrite {
				list = ps.Write
			}
			ok, err := s.principalMatches(list, principal)
			if err != nil {
				return err
			}
			if ok {
				paths = append(paths, path)
			}
			return nil
		})
	})
	return paths, err
}

// --- permission cache: per-process (principal, action) -> set<path>,
// cleared on any permission mutation (spec §4.4 "Permission cache"). ---

type cacheKey struct {
	principal string
	action    types.AccessAction
}

func (s *Store) cacheLookup(principal string, action types.AccessAction, path string) (bool, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	if s.permCache == nil {
		return false, false
	}
	paths, ok := s.permCache[cacheKey{principal, action}]
	if !ok {
		return false, false
	}
	allowed, ok := paths[path]
	return allowed, ok
}

func (s *Store) cacheStore(principal string, action types.AccessAction, path string, allowed bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.permCache == nil {
		s.permCache = map[cacheKey]map[string]bool{}
	}
	key := cacheKey{principal, action}
	if s.permCache[key] == nil {
		s.permCache[key] = map[string]bool{}
	}
	s.permCache[key][path] = allowed
}

func (s *Store) clearPermissionCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.permCache = nil
}

// --- public tokens ---

// PublicSet allocates a short random token with security bytes of entropy
// drawn from alphabet and binds it to path (spec §4.4 public_set).
func (s *Store) PublicSet(path string, securityBytes int, alphabet string) (string, error) {
	token, err := randomToken(securityBytes, alphabet)
	if err != nil {
		return "", apierr.Internal(err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		pt := types.PublicToken{Token: token, Path: path, CreatedAt: publicTokenTimestamp()}
		if err := putJSON(tx.Bucket(bucketPublicTokens), []byte(token), pt); err != nil {
			return err
		}
		return tx.Bucket(bucketPublicPaths).Put([]byte(path), []byte(token))
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

var publicTokenTimestamp = func() time.Time { return time.Now() }

func randomToken(securityBytes int, alphabet string) (string, error) {
	if securityBytes <= 0 {
		securityBytes = 16
	}
	if alphabet == "" {
		alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	}
	length := int(math.Ceil(float64(securityBytes*8) / math.Log2(float64(len(alphabet)))))
	size := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, length)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		buf[i] = alphabet[idx.Int64()]
	}
	return string(buf), nil
}

// PublicUnset revokes path's public token, if any.
func (s *Store) PublicUnset(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		token := tx.Bucket(bucketPublicPaths).Get([]byte(path))
		if token == nil {
			return nil
		}
		if err := tx.Bucket(bucketPublicTokens).Delete(token); err != nil {
			return apierr.Internal(err)
		}
		return tx.Bucket(bucketPublicPaths).Delete([]byte(path))
	})
}

// PublicGet returns the token bound to path, if any.
func (s *Store) PublicGet(path string) (string, error) {
	var token string
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketPublicPaths).Get([]byte(path)); b != nil {
			token = string(b)
		}
		return nil
	})
	return token, err
}

// PublicPath resolves a public token back to its bound path (spec §4.4
// public_path), used to serve unauthenticated reads.
func (s *Store) PublicPath(token string) (string, error) {
	var pt types.PublicToken
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket(bucketPublicTokens), []byte(token), &pt)
		return err
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", apierr.NotFound(fmt.Sprintf("public token %s not found", token))
	}
	return pt.Path, nil
}

// --- group index (supplemented feature, SPEC_FULL.md §3) ---

// GroupSet replaces the membership list of account's group (astakos-style
// owner:groupname expansion, spec §4.4 + SPEC_FULL.md §3).
func (s *Store) GroupSet(account, group string, principals []string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketGroups), groupKey(account, group), principals)
	})
	if err == nil {
		s.clearPermissionCache()
	}
	return err
}

// GroupGet returns the members of account's group.
func (s *Store) GroupGet(account, group string) ([]string, error) {
	var principals []string
	err := s.db.View(func(tx *bolt.Tx) error {
		_, err := getJSON(tx.Bucket(bucketGroups), groupKey(account, group), &principals)
		return err
	})
	return principals, err
}

func groupKey(account, group string) []byte {
	return []byte(account + ":" + group)
}
