package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stemsplit/api/internal/model"
)

const defaultKeyPrefix = "job:"

// maxTxRetries bounds the optimistic-lock retry loop in SetIfNewer.
const maxTxRetries = 5

var errStaleWrite = errors.New("stale write")

// RedisStore keeps one JSON-serialized snapshot per job under job:{id}.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, keyPrefix: defaultKeyPrefix}
}

func (s *RedisStore) key(jobID string) string {
	return s.keyPrefix + jobID
}

func (s *RedisStore) Get(ctx context.Context, jobID string) (*model.JobSnapshot, error) {
	data, err := s.client.Get(ctx, s.key(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var snap model.JobSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("corrupt snapshot for %s: %w", jobID, err)
	}
	return &snap, nil
}

func (s *RedisStore) Set(ctx context.Context, jobID string, snap *model.JobSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(jobID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// SetIfNewer performs the version check and the write inside a WATCH-guarded
// transaction, so two racing writers for the same job cannot both win. The
// transaction is retried a bounded number of times when another writer
// touches the key between WATCH and EXEC.
func (s *RedisStore) SetIfNewer(ctx context.Context, jobID string, snap *model.JobSnapshot, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return false, err
	}
	key := s.key(jobID)

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			var cur model.JobSnapshot
			if jsonErr := json.Unmarshal(raw, &cur); jsonErr == nil && snap.Version <= cur.Version {
				return errStaleWrite
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, errStaleWrite):
			return false, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return false, fmt.Errorf("redis conditional set: %w", err)
		}
	}
	return false, fmt.Errorf("redis conditional set: contention on %s", key)
}
