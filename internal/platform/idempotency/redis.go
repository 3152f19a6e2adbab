package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "checkout:idempotency:"

// RedisStore shares idempotency records between checkout instances. Expiry is delegated to Redis key TTLs.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisOption customises the RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the namespace used for record keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStore wraps an existing go-redis client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	store := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Reserve implements the Store interface using SET NX so only one request wins the key.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := s.recordKey(key)
	record := pendingRecord(key, fingerprint, now, ttl)
	data, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: marshal record: %w", err)
	}

	// A second round covers the key expiring between SETNX and GET.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, id, data, ttl).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: redis setnx failed: %w", err)
		}
		if ok {
			return Reservation{State: ReservationStateNew, Record: record}, nil
		}

		existing, err := loadRecord(ctx, s.client, id)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Reservation{}, err
		}
		return reservationFor(existing, fingerprint)
	}
	return Reservation{State: ReservationStatePending, Record: record}, nil
}

// SaveResponse implements the Store interface.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := s.recordKey(key)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		record, err := loadRecord(ctx, tx, id)
		switch {
		case errors.Is(err, redis.Nil):
			record = Record{Key: key, Fingerprint: fingerprint}
		case err != nil:
			return err
		case record.Fingerprint != fingerprint:
			return ErrFingerprintMismatch
		}

		data, err := json.Marshal(record.complete(resp, now, ttl))
		if err != nil {
			return fmt.Errorf("idempotency: marshal record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, id, data, ttl)
			return nil
		})
		return err
	}, id)
}

// Release deletes the reservation when it still belongs to fingerprint.
func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	id := s.recordKey(key)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		record, err := loadRecord(ctx, tx, id)
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if record.Fingerprint != fingerprint {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, id)
			return nil
		})
		return err
	}, id)
}

// CleanupExpired is a no-op; Redis evicts expired keys itself.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) recordKey(key string) string {
	return s.prefix + recordID(key)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func loadRecord(ctx context.Context, client stringGetter, id string) (Record, error) {
	data, err := client.Get(ctx, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, err
	}
	if err != nil {
		return Record{}, fmt.Errorf("idempotency: redis get failed: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("idempotency: unmarshal record: %w", err)
	}
	return record, nil
}
