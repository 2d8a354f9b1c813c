package cachedb

import (
	"context"

	"go.etcd.io/bbolt"
)

// Settings are durable scalar values (player volume and the like) that live
// outside the TTL'd entry space and survive cache sweeps.

// GetSetting retrieves a setting value, or ErrNotFound if absent.
func (d *DB) GetSetting(_ context.Context, key string) (string, error) {
	var value string
	err := d.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketSettings).Get([]byte(key))
		if val == nil {
			return ErrNotFound
		}
		value = string(val)
		return nil
	})
	return value, err
}

// PutSetting stores a setting value, overwriting any prior value.
func (d *DB) PutSetting(_ context.Context, key, value string) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSettings).Put([]byte(key), []byte(value))
	})
}
