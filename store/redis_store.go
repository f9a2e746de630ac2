package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gagentflow/gagent"
	"github.com/redis/go-redis/v9"
)

// RedisStoreConfig configures the Redis-backed stores, mirroring the shape the
// teacher's cache manager and task store both use.
type RedisStoreConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	KeyPrefix    string
}

// NewRedisClient builds a *redis.Client from a RedisStoreConfig. KeyPrefix is
// not used here; the store constructors apply it, defaulting an empty one to
// "gagent:".
func NewRedisClient(cfg RedisStoreConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
}

func keyPrefix(cfg RedisStoreConfig) string {
	if cfg.KeyPrefix == "" {
		return "gagent:"
	}
	return cfg.KeyPrefix
}

// RedisStateStore is a versioned StateStore backed by Redis hashes: one hash per
// agent id holding "state" (JSON) and "version" (int) fields, mutated atomically
// via WATCH/MULTI so concurrent SaveVersion calls race correctly.
type RedisStateStore[S any] struct {
	client *redis.Client
	prefix string
}

// NewRedisStateStore wraps an existing client. The caller owns the client's
// lifecycle (Close).
func NewRedisStateStore[S any](client *redis.Client, cfg RedisStoreConfig) *RedisStateStore[S] {
	return &RedisStateStore[S]{client: client, prefix: keyPrefix(cfg) + "state:"}
}

func (r *RedisStateStore[S]) key(id gagent.AgentId) string {
	return r.prefix + id.String()
}

func (r *RedisStateStore[S]) Load(ctx context.Context, id gagent.AgentId) (S, bool, error) {
	var zero S
	res, err := r.client.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return zero, false, fmt.Errorf("redis state load: %w", err)
	}
	raw, ok := res["state"]
	if !ok {
		return zero, false, nil
	}
	var s S
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return zero, false, fmt.Errorf("redis state unmarshal: %w", err)
	}
	return s, true, nil
}

func (r *RedisStateStore[S]) Save(ctx context.Context, id gagent.AgentId, state S) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("redis state marshal: %w", err)
	}
	key := r.key(id)
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		version, err := tx.HGet(ctx, key, "version").Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, "state", data, "version", version+1)
			return nil
		})
		return err
	}, key)
}

func (r *RedisStateStore[S]) Delete(ctx context.Context, id gagent.AgentId) error {
	return r.client.Del(ctx, r.key(id)).Err()
}

func (r *RedisStateStore[S]) Exists(ctx context.Context, id gagent.AgentId) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(id)).Result()
	return n > 0, err
}

func (r *RedisStateStore[S]) SaveVersion(ctx context.Context, id gagent.AgentId, state S, expectedVersion int) (int, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("redis state marshal: %w", err)
	}
	key := r.key(id)
	var newVersion int
	txErr := r.client.Watch(ctx, func(tx *redis.Tx) error {
		actual, err := tx.HGet(ctx, key, "version").Int()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				actual = 0
			} else {
				return err
			}
		}
		if actual != expectedVersion {
			return &gagent.VersionConflict{Expected: expectedVersion, Actual: actual}
		}
		newVersion = actual + 1
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, "state", data, "version", newVersion)
			return nil
		})
		return err
	}, key)
	if txErr != nil {
		return 0, txErr
	}
	return newVersion, nil
}

func (r *RedisStateStore[S]) CurrentVersion(ctx context.Context, id gagent.AgentId) (int, error) {
	v, err := r.client.HGet(ctx, r.key(id), "version").Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

var (
	_ StateStore[int]          = (*RedisStateStore[int])(nil)
	_ VersionedStateStore[int] = (*RedisStateStore[int])(nil)
)

// RedisConfigStore persists (agent_type, agent_id) -> config as a single JSON
// value under a composite key, so uniqueness of the pair is enforced by Redis key
// uniqueness itself.
type RedisConfigStore[C any] struct {
	client *redis.Client
	prefix string
}

func NewRedisConfigStore[C any](client *redis.Client, cfg RedisStoreConfig) *RedisConfigStore[C] {
	return &RedisConfigStore[C]{client: client, prefix: keyPrefix(cfg) + "config:"}
}

func (r *RedisConfigStore[C]) key(agentType gagent.AgentType, id gagent.AgentId) string {
	return fmt.Sprintf("%s%s:%s", r.prefix, agentType, id)
}

func (r *RedisConfigStore[C]) Load(ctx context.Context, agentType gagent.AgentType, id gagent.AgentId) (C, bool, error) {
	var zero C
	raw, err := r.client.Get(ctx, r.key(agentType, id)).Result()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("redis config load: %w", err)
	}
	var c C
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return zero, false, fmt.Errorf("redis config unmarshal: %w", err)
	}
	return c, true, nil
}

func (r *RedisConfigStore[C]) Save(ctx context.Context, agentType gagent.AgentType, id gagent.AgentId, cfg C) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("redis config marshal: %w", err)
	}
	return r.client.Set(ctx, r.key(agentType, id), data, 0).Err()
}

func (r *RedisConfigStore[C]) Delete(ctx context.Context, agentType gagent.AgentType, id gagent.AgentId) error {
	return r.client.Del(ctx, r.key(agentType, id)).Err()
}

func (r *RedisConfigStore[C]) Exists(ctx context.Context, agentType gagent.AgentType, id gagent.AgentId) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(agentType, id)).Result()
	return n > 0, err
}

var _ ConfigStore[int] = (*RedisConfigStore[int])(nil)

// RedisEventStore appends StateLogEvents to a Redis list per agent id, using a
// Lua-free optimistic pattern: WATCH the list length as the expected next version.
type RedisEventStore struct {
	client *redis.Client
	prefix string
}

func NewRedisEventStore(client *redis.Client, cfg RedisStoreConfig) *RedisEventStore {
	return &RedisEventStore{client: client, prefix: keyPrefix(cfg) + "events:"}
}

func (r *RedisEventStore) key(agentID gagent.AgentId) string {
	return r.prefix + agentID.String()
}

func (r *RedisEventStore) Append(ctx context.Context, agentID gagent.AgentId, event StateLogEvent) error {
	return r.AppendBatch(ctx, agentID, []StateLogEvent{event})
}

func (r *RedisEventStore) AppendBatch(ctx context.Context, agentID gagent.AgentId, events []StateLogEvent) error {
	key := r.key(agentID)
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		length, err := tx.LLen(ctx, key).Result()
		if err != nil {
			return err
		}
		for i, e := range events {
			if int64(e.Version) != length+int64(i)+1 {
				return fmt.Errorf("%w: non-dense append", ErrInvalidInput)
			}
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for _, e := range events {
				data, merr := json.Marshal(e)
				if merr != nil {
					return merr
				}
				p.RPush(ctx, key, data)
			}
			return nil
		})
		return err
	}, key)
}

func (r *RedisEventStore) Read(ctx context.Context, agentID gagent.AgentId, fromVersion, toVersion int) ([]StateLogEvent, error) {
	raw, err := r.client.LRange(ctx, r.key(agentID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis event read: %w", err)
	}
	out := make([]StateLogEvent, 0, len(raw))
	for _, item := range raw {
		var e StateLogEvent
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("redis event unmarshal: %w", err)
		}
		if fromVersion > 0 && e.Version < fromVersion {
			continue
		}
		if toVersion > 0 && e.Version > toVersion {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *RedisEventStore) LatestVersion(ctx context.Context, agentID gagent.AgentId) (int, error) {
	n, err := r.client.LLen(ctx, r.key(agentID)).Result()
	return int(n), err
}

func (r *RedisEventStore) Clear(ctx context.Context, agentID gagent.AgentId) error {
	return r.client.Del(ctx, r.key(agentID)).Err()
}

var _ EventStore = (*RedisEventStore)(nil)
