package coordinator

import (
	"encoding/binary"
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/pkg/types"
)

func serialKey(serial int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(serial))
	return b
}

func unmarshalSerial(data []byte, r *types.CommissionSerial) error {
	if err := json.Unmarshal(data, r); err != nil {
		return apierr.Internal(err)
	}
	return nil
}

func (c *Coordinator) putSerial(rec types.CommissionSerial) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return apierr.Internal(err)
		}
		return tx.Bucket(bucketSerials).Put(serialKey(rec.Serial), data)
	})
}

func (c *Coordinator) getSerial(serial int64) (types.CommissionSerial, bool, error) {
	var rec types.CommissionSerial
	var found bool
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSerials).Get(serialKey(serial))
		if data == nil {
			return nil
		}
		found = true
		return unmarshalSerial(data, &rec)
	})
	return rec, found, err
}
