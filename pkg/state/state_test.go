package state

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentup/agentup/pkg/config"
)

func TestVariableVersioning(t *testing.T) {
	s := NewMemoryStore(config.StateConfig{})
	ctx := context.Background()

	require.NoError(t, s.SetVariable(ctx, "c1", "name", "alice", 0))
	require.NoError(t, s.SetVariable(ctx, "c1", "name", "bob", 0))

	st, err := s.GetOrCreate(ctx, "c1", "")
	require.NoError(t, err)
	require.Contains(t, st.Variables, "name")
	assert.Equal(t, "bob", st.Variables["name"].Value)
	assert.Equal(t, 2, st.Variables["name"].Version)
	assert.Equal(t, "string", st.Variables["name"].Type)
}

func TestVariableTTLExpiry(t *testing.T) {
	s := NewMemoryStore(config.StateConfig{})
	ctx := context.Background()

	require.NoError(t, s.SetVariable(ctx, "c1", "session", "abc", 10*time.Millisecond))
	require.NoError(t, s.SetVariable(ctx, "c1", "stable", "xyz", 0))

	got, err := s.GetVariable(ctx, "c1", "session", nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	time.Sleep(20 * time.Millisecond)

	got, err = s.GetVariable(ctx, "c1", "session", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)

	got, err = s.GetVariable(ctx, "c1", "stable", nil)
	require.NoError(t, err)
	assert.Equal(t, "xyz", got)
}

func TestGetVariableDefault(t *testing.T) {
	s := NewMemoryStore(config.StateConfig{})
	got, err := s.GetVariable(context.Background(), "unknown", "key", 42)
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestHistoryBound(t *testing.T) {
	off := false

	t.Run("overflow drops oldest without auto-summarize", func(t *testing.T) {
		s := NewMemoryStore(config.StateConfig{MaxHistorySize: 4, AutoSummarize: &off})
		ctx := context.Background()
		for i := 0; i < 6; i++ {
			require.NoError(t, s.AddToHistory(ctx, "c1", "user", fmt.Sprintf("m%d", i), nil))
		}

		history, err := s.GetHistory(ctx, "c1", 0)
		require.NoError(t, err)
		require.Len(t, history, 4)
		assert.Equal(t, "m2", history[0].Content)
		assert.Equal(t, "m5", history[3].Content)
	})

	t.Run("overflow archives oldest half with auto-summarize", func(t *testing.T) {
		s := NewMemoryStore(config.StateConfig{MaxHistorySize: 4})
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			require.NoError(t, s.AddToHistory(ctx, "c1", "user", fmt.Sprintf("m%d", i), nil))
		}

		history, err := s.GetHistory(ctx, "c1", 0)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, "m2", history[0].Content)

		st, err := s.GetOrCreate(ctx, "c1", "")
		require.NoError(t, err)
		assert.Equal(t, 2, st.ArchivedMessages)
	})
}

func TestGetHistoryLimit(t *testing.T) {
	s := NewMemoryStore(config.StateConfig{})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AddToHistory(ctx, "c1", "user", fmt.Sprintf("m%d", i), nil))
	}

	history, err := s.GetHistory(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "m3", history[0].Content)
	assert.Equal(t, "m4", history[1].Content)
}

func TestCleanupOldContexts(t *testing.T) {
	s := NewMemoryStore(config.StateConfig{})
	ctx := context.Background()

	require.NoError(t, s.AddToHistory(ctx, "old", "user", "hi", nil))
	s.mu.Lock()
	s.contexts["old"].UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	s.mu.Unlock()
	require.NoError(t, s.AddToHistory(ctx, "fresh", "user", "hi", nil))

	removed, err := s.CleanupOldContexts(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	history, err := s.GetHistory(ctx, "fresh", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := config.StateConfig{Backend: "file", StorageDir: dir}
	ctx := context.Background()

	s, err := NewFileStore(cfg)
	require.NoError(t, err)

	require.NoError(t, s.SetVariable(ctx, "c1", "name", "alice", 0))
	require.NoError(t, s.AddToHistory(ctx, "c1", "user", "hello", map[string]any{"capability": "echo"}))
	require.NoError(t, s.Close())

	// A fresh store over the same directory sees the persisted state.
	s2, err := NewFileStore(cfg)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetVariable(ctx, "c1", "name", nil)
	require.NoError(t, err)
	assert.Equal(t, "alice", got)

	history, err := s2.GetHistory(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, "echo", history[0].Metadata["capability"])
}

func TestFileStoreSanitizesContextID(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(config.StateConfig{Backend: "file", StorageDir: dir})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.AddToHistory(ctx, "../escape/attempt", "user", "hi", nil))

	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
