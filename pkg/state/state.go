// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AgentUp Authors

// Package state persists per-context conversation state: typed variables
// with TTL and optimistic versioning, plus bounded message history.
package state

import (
	"context"
	"fmt"
	"time"

	"github.com/agentup/agentup/pkg/config"
)

const defaultMaxHistorySize = 100

// Variable is one typed state value. Expired variables are invisible to
// readers and collected lazily.
type Variable struct {
	Value     any           `json:"value"`
	Type      string        `json:"type"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	TTL       time.Duration `json:"ttl,omitempty"`
	Version   int           `json:"version"`
}

func (v *Variable) expired(now time.Time) bool {
	return v.TTL > 0 && now.After(v.UpdatedAt.Add(v.TTL))
}

// ConversationMessage is one history entry.
type ConversationMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ConversationState is the full state for one contextId.
type ConversationState struct {
	ContextID        string                `json:"context_id"`
	UserID           string                `json:"user_id,omitempty"`
	Variables        map[string]*Variable  `json:"variables"`
	History          []ConversationMessage `json:"history"`
	MaxHistorySize   int                   `json:"max_history_size"`
	AutoSummarize    bool                  `json:"auto_summarize"`
	ArchivedMessages int                   `json:"archived_messages"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

func newConversationState(contextID, userID string, maxHistory int, autoSummarize bool) *ConversationState {
	now := time.Now().UTC()
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistorySize
	}
	return &ConversationState{
		ContextID:      contextID,
		UserID:         userID,
		Variables:      make(map[string]*Variable),
		MaxHistorySize: maxHistory,
		AutoSummarize:  autoSummarize,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (s *ConversationState) setVariable(key string, value any, ttl time.Duration) {
	now := time.Now().UTC()
	if existing, ok := s.Variables[key]; ok {
		existing.Value = value
		existing.Type = fmt.Sprintf("%T", value)
		existing.UpdatedAt = now
		existing.TTL = ttl
		existing.Version++
	} else {
		s.Variables[key] = &Variable{
			Value:     value,
			Type:      fmt.Sprintf("%T", value),
			CreatedAt: now,
			UpdatedAt: now,
			TTL:       ttl,
			Version:   1,
		}
	}
	s.UpdatedAt = now
}

// getVariable reads a variable, collecting it if expired. The second return
// reports whether the read mutated state.
func (s *ConversationState) getVariable(key string, def any) (any, bool) {
	v, ok := s.Variables[key]
	if !ok {
		return def, false
	}
	if v.expired(time.Now().UTC()) {
		delete(s.Variables, key)
		return def, true
	}
	return v.Value, false
}

// collectExpired removes all expired variables, returning the count removed.
func (s *ConversationState) collectExpired() int {
	now := time.Now().UTC()
	removed := 0
	for key, v := range s.Variables {
		if v.expired(now) {
			delete(s.Variables, key)
			removed++
		}
	}
	return removed
}

// addToHistory appends a message, enforcing the history bound. With
// auto-summarize on, overflow archives the oldest half and bumps the
// archived counter; otherwise oldest entries are dropped.
func (s *ConversationState) addToHistory(role, content string, metadata map[string]any) {
	now := time.Now().UTC()
	s.History = append(s.History, ConversationMessage{
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		Timestamp: now,
	})
	s.UpdatedAt = now

	if len(s.History) <= s.MaxHistorySize {
		return
	}

	if s.AutoSummarize {
		drop := len(s.History) / 2
		s.ArchivedMessages += drop
		s.History = append([]ConversationMessage(nil), s.History[drop:]...)
		return
	}

	overflow := len(s.History) - s.MaxHistorySize
	s.History = append([]ConversationMessage(nil), s.History[overflow:]...)
}

func (s *ConversationState) recentHistory(limit int) []ConversationMessage {
	if limit <= 0 || limit >= len(s.History) {
		out := make([]ConversationMessage, len(s.History))
		copy(out, s.History)
		return out
	}
	out := make([]ConversationMessage, limit)
	copy(out, s.History[len(s.History)-limit:])
	return out
}

// Store is the backend-neutral state interface.
type Store interface {
	GetOrCreate(ctx context.Context, contextID, userID string) (*ConversationState, error)
	SetVariable(ctx context.Context, contextID, key string, value any, ttl time.Duration) error
	GetVariable(ctx context.Context, contextID, key string, def any) (any, error)
	AddToHistory(ctx context.Context, contextID, role, content string, metadata map[string]any) error
	GetHistory(ctx context.Context, contextID string, limit int) ([]ConversationMessage, error)
	CleanupOldContexts(ctx context.Context, maxAge time.Duration) (int, error)
	Close() error
}

// New builds the configured state backend.
func New(cfg config.StateConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg), nil
	case "file":
		return NewFileStore(cfg)
	case "redis", "valkey":
		return NewRedisStore(cfg)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}
