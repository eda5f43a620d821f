package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/tbourn/go-paywall-counter/internal/config"
	"github.com/tbourn/go-paywall-counter/internal/domain"
)

// RedisStore keeps records as JSON strings in a Redis list (insertion order)
// and maps each token to its list position in a hash. Append writes both keys
// in one MULTI/EXEC under WATCH, so the list and the index never disagree.
//
// Keys: "<prefix>:payments" (list) and "<prefix>:payments:index" (hash).
type RedisStore struct {
	rdb      *redis.Client
	listKey  string
	indexKey string

	mu sync.RWMutex
}

// OpenRedis connects to cfg.Addr and verifies the connection with PING.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	return NewRedisStore(rdb, cfg.KeyPrefix), nil
}

// NewRedisStore wraps an existing client. An empty prefix defaults to "paywall".
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "paywall"
	}
	return &RedisStore{
		rdb:      rdb,
		listKey:  prefix + ":payments",
		indexKey: prefix + ":payments:index",
	}
}

// Append implements Store.
func (s *RedisStore) Append(ctx context.Context, rec domain.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		// Both reads fail on a malformed key before anything is written.
		exists, err := tx.HExists(ctx, s.indexKey, rec.ID).Result()
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicate
		}
		pos, err := tx.LLen(ctx, s.listKey).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, s.listKey, data)
			pipe.HSet(ctx, s.indexKey, rec.ID, pos)
			return nil
		})
		return err
	}, s.listKey, s.indexKey)
}

// Find implements Store.
func (s *RedisStore) Find(ctx context.Context, id string) (domain.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, _, err := s.find(ctx, id)
	return rec, err
}

func (s *RedisStore) find(ctx context.Context, id string) (domain.PaymentRecord, int64, error) {
	pos, err := s.rdb.HGet(ctx, s.indexKey, id).Int64()
	if errors.Is(err, redis.Nil) {
		return domain.PaymentRecord{}, 0, ErrNotFound
	}
	if err != nil {
		return domain.PaymentRecord{}, 0, err
	}
	raw, err := s.rdb.LIndex(ctx, s.listKey, pos).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PaymentRecord{}, 0, ErrNotFound
	}
	if err != nil {
		return domain.PaymentRecord{}, 0, err
	}
	var rec domain.PaymentRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.PaymentRecord{}, 0, fmt.Errorf("decode record %s: %w", id, err)
	}
	return rec, pos, nil
}

// MarkVisited implements Store.
func (s *RedisStore) MarkVisited(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, pos, err := s.find(ctx, id)
	if err != nil {
		return false, err
	}
	if !rec.FirstVisit {
		return false, nil
	}
	rec.FirstVisit = false
	data, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	if err := s.rdb.LSet(ctx, s.listKey, pos, data).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Count implements Store.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.rdb.LLen(ctx, s.listKey).Result()
	return int(n), err
}

// All implements Store.
func (s *RedisStore) All(ctx context.Context) ([]domain.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raws, err := s.rdb.LRange(ctx, s.listKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.PaymentRecord, 0, len(raws))
	for _, raw := range raws {
		var rec domain.PaymentRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
