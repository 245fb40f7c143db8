package store

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

var persistentBucket = []byte("persistent_states")

type Options struct {
	// Path is the file path to the BoltDB to use
	Path string

	// BoltOptions contains any specific BoltDB options you might
	// want to specify [e.g. open timeout]
	BoltOptions *bolt.Options

	// NoSync causes the database to skip fsync calls after each
	// write to the log. This is unsafe, so it should be used
	// with caution.
	NoSync bool
}

// BoltStore saves each persistent key as a JSON document in a single bucket.
type BoltStore struct {
	conn    *bolt.DB
	options Options
	mutex   sync.Mutex
}

// Close is used to gracefully close the DB connection.
func (b *BoltStore) Close() error {
	return b.conn.Close()
}

func New(options Options) (*BoltStore, error) {
	// Try to connect
	handle, err := bolt.Open(options.Path, dbFileMode, options.BoltOptions)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open bolt database")
	}
	handle.NoSync = options.NoSync

	// Create the new store
	store := &BoltStore{
		conn:    handle,
		options: options,
	}

	return store, store.initStore()
}

func (b *BoltStore) initStore() error {
	tx, err := b.conn.Begin(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.CreateBucketIfNotExists(persistentBucket)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (b *BoltStore) Load(_ context.Context) (map[string]interface{}, bool, error) {
	tx, err := b.conn.Begin(false)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()
	bucket := tx.Bucket(persistentBucket)
	if bucket == nil {
		return nil, false, ErrBucketNotFound
	}
	out := map[string]interface{}{}
	err = bucket.ForEach(func(k, v []byte) error {
		var value interface{}
		err := json.Unmarshal(v, &value)
		if err != nil {
			return errors.Wrapf(err, "failed to decode persistent state %q", string(k))
		}
		out[string(k)] = value
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if len(out) == 0 {
		return nil, false, nil
	}
	return out, true, nil
}

// Save rewrites the whole bucket in one transaction.
func (b *BoltStore) Save(_ context.Context, snapshot map[string]interface{}) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	tx, err := b.conn.Begin(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	err = tx.DeleteBucket(persistentBucket)
	if err != nil && err != bolt.ErrBucketNotFound {
		return err
	}
	bucket, err := tx.CreateBucket(persistentBucket)
	if err != nil {
		return err
	}
	for key, value := range snapshot {
		payload, err := json.Marshal(value)
		if err != nil {
			return errors.Wrapf(err, "failed to encode persistent state %q", key)
		}
		err = bucket.Put([]byte(key), payload)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *BoltStore) WriteTo(out io.Writer) error {
	return b.conn.View(func(tx *bolt.Tx) error {
		_, err := tx.WriteTo(out)
		return err
	})
}
