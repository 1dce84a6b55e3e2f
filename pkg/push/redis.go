package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/agentup/agentup/pkg/a2a"
	"github.com/agentup/agentup/pkg/config"
)

const redisPushPrefix = "agentup:push:"

// RedisConfigStore replicates push configs to a shared keyspace so every
// process in a multi-process deployment can deliver notifications. Each task
// maps to one hash keyed by config id.
type RedisConfigStore struct {
	client *redis.Client
}

func NewRedisConfigStore(cfg config.PushConfig) (*RedisConfigStore, error) {
	url := cfg.RedisURL
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisConfigStore{client: redis.NewClient(opts)}, nil
}

func (r *RedisConfigStore) key(taskID string) string {
	return redisPushPrefix + taskID
}

func (r *RedisConfigStore) Set(ctx context.Context, taskID string, cfg a2a.PushNotificationConfig) (a2a.PushNotificationConfig, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg, fmt.Errorf("encode push config: %w", err)
	}
	if err := r.client.HSet(ctx, r.key(taskID), cfg.ID, data).Err(); err != nil {
		return cfg, fmt.Errorf("store push config for %s: %w", taskID, err)
	}
	return cfg, nil
}

func (r *RedisConfigStore) Get(ctx context.Context, taskID, configID string) (*a2a.PushNotificationConfig, error) {
	data, err := r.client.HGet(ctx, r.key(taskID), configID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load push config for %s: %w", taskID, err)
	}
	var cfg a2a.PushNotificationConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode push config for %s: %w", taskID, err)
	}
	return &cfg, nil
}

func (r *RedisConfigStore) List(ctx context.Context, taskID string) ([]a2a.PushNotificationConfig, error) {
	values, err := r.client.HGetAll(ctx, r.key(taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list push configs for %s: %w", taskID, err)
	}
	out := make([]a2a.PushNotificationConfig, 0, len(values))
	for _, raw := range values {
		var cfg a2a.PushNotificationConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			continue
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (r *RedisConfigStore) Delete(ctx context.Context, taskID, configID string) error {
	if err := r.client.HDel(ctx, r.key(taskID), configID).Err(); err != nil {
		return fmt.Errorf("delete push config for %s: %w", taskID, err)
	}
	return nil
}

func (r *RedisConfigStore) Close() error {
	return r.client.Close()
}
