package activation

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Hash fields of the Redis representation.
const (
	redisFieldActive      = "is_activated"
	redisFieldActivatedAt = "activation_time"
	redisFieldExpiresAt   = "expiration_time"
	redisFieldDeviceID    = "device_id"
	redisFieldUUID        = "token_uuid"
)

// DefaultRedisKey is the hash key used when none is configured.
const DefaultRedisKey = "notiflogger:activation"

// RedisStore keeps the record in one Redis hash, written with a single
// HSET so readers never observe a partially updated record.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (Record, error) {
	vals, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return Record{}, storeError("redis hgetall", err)
	}
	if len(vals) == 0 {
		return Record{}, nil
	}

	var rec Record
	if v, ok := vals[redisFieldActive]; ok && v != "" {
		if rec.IsActive, err = strconv.ParseBool(v); err != nil {
			return Record{}, storeError("decode "+redisFieldActive, err)
		}
	}
	if rec.ActivatedAt, err = parseMillis(vals, redisFieldActivatedAt); err != nil {
		return Record{}, err
	}
	if rec.ExpiresAt, err = parseMillis(vals, redisFieldExpiresAt); err != nil {
		return Record{}, err
	}
	rec.BoundDeviceID = vals[redisFieldDeviceID]
	rec.ActivationUUID = vals[redisFieldUUID]
	return rec, nil
}

func parseMillis(vals map[string]string, field string) (int64, error) {
	v, ok := vals[field]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, storeError("decode "+field, err)
	}
	return n, nil
}

func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	err := s.client.HSet(ctx, s.key, map[string]interface{}{
		redisFieldActive:      strconv.FormatBool(rec.IsActive),
		redisFieldActivatedAt: strconv.FormatInt(rec.ActivatedAt, 10),
		redisFieldExpiresAt:   strconv.FormatInt(rec.ExpiresAt, 10),
		redisFieldDeviceID:    rec.BoundDeviceID,
		redisFieldUUID:        rec.ActivationUUID,
	}).Err()
	if err != nil {
		return storeError("redis hset", err)
	}
	return nil
}

// Ping checks connectivity, for readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
