package nodestore

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/pkg/types"
)

// attributeKey is keyed by node (the denormalized lookup key, spec §4.3 design
// note) rather than version serial, so attribute_get(node, domain) never
// needs to join through Version to find the latest version's attributes.
func attributeKey(node int64, domain types.AttributeDomain, key string) []byte {
	return []byte(fmt.Sprintf("%d\x00%s\x00%s", node, domain, key))
}

func attributeScanPrefix(node int64, domain types.AttributeDomain) []byte {
	return []byte(fmt.Sprintf("%d\x00%s\x00", node, domain))
}

// AttributeGet returns every attribute set on node in domain.
func (s *Store) AttributeGet(node int64, domain types.AttributeDomain) ([]types.Attribute, error) {
	var attrs []types.Attribute
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAttributes).Cursor()
		prefix := attributeScanPrefix(node, domain)
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var a types.Attribute
			if err := unmarshalAttribute(v, &a); err != nil {
				return err
			}
			attrs = append(attrs, a)
		}
		return nil
	})
	return attrs, err
}

// AttributeSet upserts one attribute (spec §4.3 attribute_set).
func (s *Store) AttributeSet(node, versionSerial int64, domain types.AttributeDomain, key, value string) error {
	a := types.Attribute{VersionSerial: versionSerial, Domain: domain, Key: key, Value: value, Node: node, IsLatest: true}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketAttributes), attributeKey(node, domain, key), a)
	})
}

// AttributeDel removes one attribute (spec §4.3 attribute_del).
func (s *Store) AttributeDel(node int64, domain types.AttributeDomain, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketAttributes).Delete(attributeKey(node, domain, key)); err != nil {
			return apierr.Internal(err)
		}
		return nil
	})
}

// AttributeCopy copies every attribute of fromNode onto toNode, stamping the
// copies with toVersionSerial (spec §4.7's "attribute-copy" step of
// update_object_hashmap, and copy_object).
func (s *Store) AttributeCopy(fromNode, toNode, toVersionSerial int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAttributes).Cursor()
		prefix := []byte(fmt.Sprintf("%d\x00", fromNode))
		var toCopy []types.Attribute
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var a types.Attribute
			if err := unmarshalAttribute(v, &a); err != nil {
				return err
			}
			toCopy = append(toCopy, a)
		}
		for _, a := range toCopy {
			a.Node = toNode
			a.VersionSerial = toVersionSerial
			a.IsLatest = true
			if err := putJSON(tx.Bucket(bucketAttributes), attributeKey(toNode, a.Domain, a.Key), a); err != nil {
				return err
			}
		}
		return nil
	})
}

// AttributeUnsetIsLatest clears the IsLatest cache bit on node's attributes
// that are still stamped with versionSerial, called when VersionCreate
// demotes versionSerial from NORMAL to HISTORY (spec §4.3 unset_is_latest).
func (s *Store) AttributeUnsetIsLatest(node, versionSerial int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return attributeUnsetIsLatestTx(tx, node, versionSerial)
	})
}

// attributeUnsetIsLatestTx is the tx-scoped core of AttributeUnsetIsLatest,
// callable from within VersionCreate's own transaction (bbolt does not
// support nested writer transactions on the same db).
func attributeUnsetIsLatestTx(tx *bolt.Tx, node, versionSerial int64) error {
	b := tx.Bucket(bucketAttributes)
	c := b.Cursor()
	prefix := []byte(fmt.Sprintf("%d\x00", node))
	var toUpdate []types.Attribute
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		var a types.Attribute
		if err := unmarshalAttribute(v, &a); err != nil {
			return err
		}
		if a.VersionSerial == versionSerial {
			a.IsLatest = false
			toUpdate = append(toUpdate, a)
		}
	}
	for _, a := range toUpdate {
		if err := putJSON(b, attributeKey(a.Node, a.Domain, a.Key), a); err != nil {
			return err
		}
	}
	return nil
}

func unmarshalAttribute(data []byte, a *types.Attribute) error {
	if err := json.Unmarshal(data, a); err != nil {
		return apierr.Internal(err)
	}
	return nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
