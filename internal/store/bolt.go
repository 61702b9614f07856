package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var documentsBucket = []byte("documents")

// Bolt keeps documents in a single bbolt file, one JSON encoded revision per
// document.
type Bolt struct {
	db *bolt.DB
}

func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

func boltKey(ref Ref) []byte {
	return []byte(ref.Doc + "\x00" + ref.Locale)
}

func (b *Bolt) Save(ctx context.Context, ref Ref, content, author, baseVersion string) (Revision, error) {
	var rev Revision
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(documentsBucket)

		var stored *Revision
		if data := bucket.Get(boltKey(ref)); data != nil {
			stored = &Revision{}
			if err := json.Unmarshal(data, stored); err != nil {
				return fmt.Errorf("%v: %w", ref, err)
			}
		}
		if err := check(stored, ref, baseVersion); err != nil {
			return err
		}

		rev = next(stored, ref, content, author)
		data, err := json.Marshal(rev)
		if err != nil {
			return err
		}
		return bucket.Put(boltKey(ref), data)
	})
	return rev, err
}

func (b *Bolt) Reload(ctx context.Context, ref Ref) (Revision, error) {
	var rev Revision
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(documentsBucket).Get(boltKey(ref))
		if data == nil {
			return fmt.Errorf("%v: %w", ref, ErrNotFound)
		}
		return json.Unmarshal(data, &rev)
	})
	return rev, err
}

func (b *Bolt) Close(ctx context.Context) error {
	return b.db.Close()
}
