package localstate

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// Namespace is the bucket every local entry lives under
const Namespace = "vouchervault"

// KV defines the interface for namespaced local persistence
type KV interface {
	// Get returns the value stored under key, or nil if the key is absent
	Get(key string) ([]byte, error)

	// Put stores data under key, replacing any previous value
	Put(key string, data []byte) error

	// Delete removes key; deleting an absent key is not an error
	Delete(key string) error
}

// BoltDB implements the KV interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// Open creates a new BoltDB instance and its namespace bucket
func Open(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(Namespace))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// Get retrieves a copy of the value stored under key
func (b *BoltDB) Get(key string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(Namespace)).Get([]byte(key))
		if v != nil {
			// bbolt values are only valid for the life of the transaction
			data = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, nil
}

// Put stores data under key
func (b *BoltDB) Put(key string, data []byte) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(Namespace)).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Delete removes key from the namespace
func (b *BoltDB) Delete(key string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(Namespace)).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
