// Package store persists the session lifecycle across process restarts and
// reboots. The file is tiny and write-through; every transition hits disk
// before the caller proceeds.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ruckmetrics/ruckd/pkg"
	"github.com/ruckmetrics/ruckd/pkg/logx"
)

var (
	bucketLifecycle = []byte("lifecycle")
	keyState        = []byte("state")
	keyMeta         = []byte("meta")
)

// StateStore is the durable lifecycle record backed by bbolt.
type StateStore struct {
	db     *bolt.DB
	logger *logx.Logger
}

// Open opens or creates the lifecycle database at path.
func Open(path string, logger *logx.Logger) (*StateStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open lifecycle db %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLifecycle)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create lifecycle bucket: %w", err)
	}

	return &StateStore{db: db, logger: logger}, nil
}

// ReadState returns the persisted lifecycle state and metadata. A fresh or
// cleared store reads as idle.
func (s *StateStore) ReadState() (pkg.LifecycleState, pkg.SessionMeta, error) {
	state := pkg.StateIdle
	var meta pkg.SessionMeta

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLifecycle)
		if b == nil {
			return nil
		}
		if v := b.Get(keyState); v != nil {
			state = pkg.LifecycleState(v)
		}
		if v := b.Get(keyMeta); v != nil {
			if err := json.Unmarshal(v, &meta); err != nil {
				return fmt.Errorf("decode session meta: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return pkg.StateIdle, pkg.SessionMeta{}, err
	}

	return state, meta, nil
}

// WriteState persists a lifecycle transition together with its metadata.
func (s *StateStore) WriteState(state pkg.LifecycleState, meta pkg.SessionMeta) error {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode session meta: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLifecycle)
		if err := b.Put(keyState, []byte(state)); err != nil {
			return err
		}
		return b.Put(keyMeta, encoded)
	})
	if err != nil {
		return fmt.Errorf("write lifecycle state: %w", err)
	}

	s.logger.Debug("lifecycle state persisted", "state", state, "session_id", meta.SessionID)
	return nil
}

// Clear removes the persisted record, returning the store to idle.
func (s *StateStore) Clear() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLifecycle)
		if err := b.Delete(keyState); err != nil {
			return err
		}
		return b.Delete(keyMeta)
	})
	if err != nil {
		return fmt.Errorf("clear lifecycle state: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *StateStore) Close() error {
	return s.db.Close()
}
