package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var recordBucket = []byte("records")

// BoltBackend stores cache records in a bbolt database, one entry per record
// inside a single bucket, written in short transactions.
type BoltBackend struct {
	db *bolt.DB
}

// NewBoltBackend opens (or creates) the cache database under dir.
func NewBoltBackend(dir string) (*BoltBackend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dbPath := filepath.Join(dir, "mailcache.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create records bucket: %w", err)
	}

	return &BoltBackend{db: db}, nil
}

// Load reads every record from the bucket into memory.
func (b *BoltBackend) Load() (Records, error) {
	records := make(Records)

	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(recordBucket)
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(k, v []byte) error {
			// Values are only valid for the life of the transaction.
			records[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read cache records: %w", err)
	}

	return records, nil
}

// SaveAll replaces the persisted snapshot in a single transaction, so a crash
// mid-write leaves the previous snapshot intact.
func (b *BoltBackend) SaveAll(records Records) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(recordBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		bkt, err := tx.CreateBucket(recordBucket)
		if err != nil {
			return err
		}
		for name, data := range records {
			if err := bkt.Put([]byte(name), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltBackend) Name() string {
	return "bolt"
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}
