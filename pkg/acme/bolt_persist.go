package acme

import (
	"fmt"
	"slices"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltPersist stores values in a bbolt database, using one bucket per realm.
type BoltPersist struct {
	db *bolt.DB
}

func NewBoltPersist(dbPath string) (*BoltPersist, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{
		FreelistType: bolt.FreelistArrayType,
		Timeout:      5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot open database %q: %w", dbPath, err)
	}

	return &BoltPersist{db: db}, nil
}

func (p *BoltPersist) Close() error {
	return p.db.Close()
}

func (p *BoltPersist) Get(key PersistKey) ([]byte, error) {
	var value []byte

	err := p.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(key.Realm))
		if bucket == nil {
			return ErrNotFound
		}

		data := bucket.Get(boltEntryKey(key))
		if data == nil {
			return ErrNotFound
		}

		// Values are only valid for the lifetime of the transaction.
		value = slices.Clone(data)
		return nil
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, err
		}

		return nil, fmt.Errorf("cannot read %q: %w", key, err)
	}

	return value, nil
}

func (p *BoltPersist) Put(key PersistKey, value []byte) error {
	err := p.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(key.Realm))
		if err != nil {
			return fmt.Errorf("cannot create bucket: %w", err)
		}

		return bucket.Put(boltEntryKey(key), value)
	})
	if err != nil {
		return fmt.Errorf("cannot write %q: %w", key, err)
	}

	return nil
}

func boltEntryKey(key PersistKey) []byte {
	return []byte(string(key.Kind) + "_" + key.Name)
}
