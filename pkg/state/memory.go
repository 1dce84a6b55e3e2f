package state

import (
	"context"
	"sync"
	"time"

	"github.com/agentup/agentup/pkg/config"
)

// MemoryStore keeps all conversation state process-local.
type MemoryStore struct {
	mu       sync.Mutex
	contexts map[string]*ConversationState
	cfg      config.StateConfig
}

func NewMemoryStore(cfg config.StateConfig) *MemoryStore {
	return &MemoryStore{
		contexts: make(map[string]*ConversationState),
		cfg:      cfg,
	}
}

func (m *MemoryStore) autoSummarize() bool {
	return m.cfg.AutoSummarize == nil || *m.cfg.AutoSummarize
}

func (m *MemoryStore) getOrCreateLocked(contextID, userID string) *ConversationState {
	st, ok := m.contexts[contextID]
	if !ok {
		st = newConversationState(contextID, userID, m.cfg.MaxHistorySize, m.autoSummarize())
		m.contexts[contextID] = st
	}
	return st
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, contextID, userID string) (*ConversationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.getOrCreateLocked(contextID, userID)
	st.collectExpired()
	return snapshotState(st), nil
}

func (m *MemoryStore) SetVariable(ctx context.Context, contextID, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl == 0 {
		ttl = m.cfg.DefaultTTL
	}
	m.getOrCreateLocked(contextID, "").setVariable(key, value, ttl)
	return nil
}

func (m *MemoryStore) GetVariable(ctx context.Context, contextID, key string, def any) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.contexts[contextID]
	if !ok {
		return def, nil
	}
	value, _ := st.getVariable(key, def)
	return value, nil
}

func (m *MemoryStore) AddToHistory(ctx context.Context, contextID, role, content string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getOrCreateLocked(contextID, "").addToHistory(role, content, metadata)
	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, contextID string, limit int) ([]ConversationMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.contexts[contextID]
	if !ok {
		return nil, nil
	}
	return st.recentHistory(limit), nil
}

func (m *MemoryStore) CleanupOldContexts(ctx context.Context, maxAge time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0
	for id, st := range m.contexts {
		if st.UpdatedAt.Before(cutoff) {
			delete(m.contexts, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Close() error { return nil }

// snapshotState copies the state so callers cannot mutate store internals.
func snapshotState(st *ConversationState) *ConversationState {
	out := *st
	out.Variables = make(map[string]*Variable, len(st.Variables))
	for k, v := range st.Variables {
		vCopy := *v
		out.Variables[k] = &vCopy
	}
	out.History = make([]ConversationMessage, len(st.History))
	copy(out.History, st.History)
	return &out
}
