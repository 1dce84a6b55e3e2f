package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentup/agentup/pkg/config"
)

const redisStatePrefix = "agentup:state:"

// RedisStore keeps conversation state in a redis-compatible keyspace, one
// JSON value per contextId, for multi-process deployments.
type RedisStore struct {
	client *redis.Client
	cfg    config.StateConfig
}

func NewRedisStore(cfg config.StateConfig) (*RedisStore, error) {
	url := cfg.RedisURL
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts), cfg: cfg}, nil
}

func (r *RedisStore) autoSummarize() bool {
	return r.cfg.AutoSummarize == nil || *r.cfg.AutoSummarize
}

func (r *RedisStore) key(contextID string) string {
	return redisStatePrefix + contextID
}

func (r *RedisStore) load(ctx context.Context, contextID string) (*ConversationState, error) {
	data, err := r.client.Get(ctx, r.key(contextID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state for %s: %w", contextID, err)
	}
	var st ConversationState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode state for %s: %w", contextID, err)
	}
	return &st, nil
}

func (r *RedisStore) save(ctx context.Context, st *ConversationState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state for %s: %w", st.ContextID, err)
	}
	if err := r.client.Set(ctx, r.key(st.ContextID), data, 0).Err(); err != nil {
		return fmt.Errorf("save state for %s: %w", st.ContextID, err)
	}
	return nil
}

func (r *RedisStore) loadOrCreate(ctx context.Context, contextID, userID string) (*ConversationState, error) {
	st, err := r.load(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = newConversationState(contextID, userID, r.cfg.MaxHistorySize, r.autoSummarize())
	}
	return st, nil
}

func (r *RedisStore) GetOrCreate(ctx context.Context, contextID, userID string) (*ConversationState, error) {
	st, err := r.loadOrCreate(ctx, contextID, userID)
	if err != nil {
		return nil, err
	}
	if st.collectExpired() > 0 {
		if err := r.save(ctx, st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (r *RedisStore) SetVariable(ctx context.Context, contextID, key string, value any, ttl time.Duration) error {
	st, err := r.loadOrCreate(ctx, contextID, "")
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = r.cfg.DefaultTTL
	}
	st.setVariable(key, value, ttl)
	return r.save(ctx, st)
}

func (r *RedisStore) GetVariable(ctx context.Context, contextID, key string, def any) (any, error) {
	st, err := r.load(ctx, contextID)
	if err != nil || st == nil {
		return def, err
	}
	value, mutated := st.getVariable(key, def)
	if mutated {
		if err := r.save(ctx, st); err != nil {
			return def, err
		}
	}
	return value, nil
}

func (r *RedisStore) AddToHistory(ctx context.Context, contextID, role, content string, metadata map[string]any) error {
	st, err := r.loadOrCreate(ctx, contextID, "")
	if err != nil {
		return err
	}
	st.addToHistory(role, content, metadata)
	return r.save(ctx, st)
}

func (r *RedisStore) GetHistory(ctx context.Context, contextID string, limit int) ([]ConversationMessage, error) {
	st, err := r.load(ctx, contextID)
	if err != nil || st == nil {
		return nil, err
	}
	return st.recentHistory(limit), nil
}

func (r *RedisStore) CleanupOldContexts(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0

	iter := r.client.Scan(ctx, 0, redisStatePrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var st ConversationState
		if err := json.Unmarshal(data, &st); err != nil {
			continue
		}
		if st.UpdatedAt.Before(cutoff) {
			if err := r.client.Del(ctx, key).Err(); err == nil {
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan state keys: %w", err)
	}
	return removed, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
