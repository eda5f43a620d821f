package repo

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/tbourn/go-paywall-counter/internal/domain"
)

const (
	boltRecordsBucket = "payments"
	boltIndexBucket   = "payments_by_id"
)

// BoltStore keeps records in a BoltDB file. Records are stored under an
// 8-byte big-endian sequence key, so a cursor walk yields insertion order; a
// second bucket maps token -> sequence key for lookups.
type BoltStore struct {
	db *bolt.DB
	mu sync.RWMutex
}

// OpenBolt opens (or creates) the BoltDB file at path and ensures both buckets
// exist.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(boltRecordsBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(boltIndexBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Append implements Store.
func (s *BoltStore) Append(_ context.Context, rec domain.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltRecordsBucket))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := seqKey(seq)
		if err := b.Put(key, data); err != nil {
			return err
		}
		idx := tx.Bucket([]byte(boltIndexBucket))
		if idx.Get([]byte(rec.ID)) != nil {
			// First record with an id wins lookups.
			return nil
		}
		return idx.Put([]byte(rec.ID), key)
	})
}

// Find implements Store.
func (s *BoltStore) Find(_ context.Context, id string) (domain.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec domain.PaymentRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		_, v := lookup(tx, id)
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &rec)
	})
	return rec, err
}

// MarkVisited implements Store.
func (s *BoltStore) MarkVisited(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flipped := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		key, v := lookup(tx, id)
		if v == nil {
			return ErrNotFound
		}
		var rec domain.PaymentRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		if !rec.FirstVisit {
			return nil
		}
		rec.FirstVisit = false
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte(boltRecordsBucket)).Put(key, data); err != nil {
			return err
		}
		flipped = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return flipped, nil
}

// Count implements Store.
func (s *BoltStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltRecordsBucket)).ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

// All implements Store.
func (s *BoltStore) All(_ context.Context) ([]domain.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := []domain.PaymentRecord{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltRecordsBucket)).ForEach(func(_, v []byte) error {
			var rec domain.PaymentRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			items = append(items, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// lookup resolves id to its sequence key and stored value. Both are nil when
// the id is unknown. The returned slices are only valid inside tx.
func lookup(tx *bolt.Tx, id string) (key, value []byte) {
	key = tx.Bucket([]byte(boltIndexBucket)).Get([]byte(id))
	if key == nil {
		return nil, nil
	}
	return key, tx.Bucket([]byte(boltRecordsBucket)).Get(key)
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
