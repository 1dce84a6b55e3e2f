package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentup/agentup/pkg/config"
)

// FileStore persists one JSON document per contextId under a storage
// directory. Writes go through a temp file and rename.
type FileStore struct {
	mu  sync.Mutex
	dir string
	cfg config.StateConfig
}

func NewFileStore(cfg config.StateConfig) (*FileStore, error) {
	dir := cfg.StorageDir
	if dir == "" {
		dir = "./state"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &FileStore{dir: dir, cfg: cfg}, nil
}

func (f *FileStore) autoSummarize() bool {
	return f.cfg.AutoSummarize == nil || *f.cfg.AutoSummarize
}

func (f *FileStore) path(contextID string) string {
	// contextIds are uuids in practice; sanitize anyway.
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, contextID)
	return filepath.Join(f.dir, safe+".json")
}

func (f *FileStore) load(contextID string) (*ConversationState, error) {
	data, err := os.ReadFile(f.path(contextID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state for %s: %w", contextID, err)
	}
	var st ConversationState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode state for %s: %w", contextID, err)
	}
	return &st, nil
}

func (f *FileStore) save(st *ConversationState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state for %s: %w", st.ContextID, err)
	}
	path := f.path(st.ContextID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state for %s: %w", st.ContextID, err)
	}
	return os.Rename(tmp, path)
}

// loadOrCreate returns the state plus whether it needs saving.
func (f *FileStore) loadOrCreate(contextID, userID string) (*ConversationState, bool, error) {
	st, err := f.load(contextID)
	if err != nil {
		return nil, false, err
	}
	if st == nil {
		return newConversationState(contextID, userID, f.cfg.MaxHistorySize, f.autoSummarize()), true, nil
	}
	return st, false, nil
}

func (f *FileStore) GetOrCreate(ctx context.Context, contextID, userID string) (*ConversationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, created, err := f.loadOrCreate(contextID, userID)
	if err != nil {
		return nil, err
	}
	if st.collectExpired() > 0 || created {
		if err := f.save(st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (f *FileStore) SetVariable(ctx context.Context, contextID, key string, value any, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, _, err := f.loadOrCreate(contextID, "")
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = f.cfg.DefaultTTL
	}
	st.setVariable(key, value, ttl)
	return f.save(st)
}

func (f *FileStore) GetVariable(ctx context.Context, contextID, key string, def any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.load(contextID)
	if err != nil || st == nil {
		return def, err
	}
	value, mutated := st.getVariable(key, def)
	if mutated {
		if err := f.save(st); err != nil {
			return def, err
		}
	}
	return value, nil
}

func (f *FileStore) AddToHistory(ctx context.Context, contextID, role, content string, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, _, err := f.loadOrCreate(contextID, "")
	if err != nil {
		return err
	}
	st.addToHistory(role, content, metadata)
	return f.save(st)
}

func (f *FileStore) GetHistory(ctx context.Context, contextID string, limit int) ([]ConversationMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.load(contextID)
	if err != nil || st == nil {
		return nil, err
	}
	return st.recentHistory(limit), nil
}

func (f *FileStore) CleanupOldContexts(ctx context.Context, maxAge time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, fmt.Errorf("scan state directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(f.dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func (f *FileStore) Close() error { return nil }
