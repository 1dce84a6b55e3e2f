// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AgentUp Authors

// Package push delivers signed webhook notifications for task events and
// stores per-task push configs.
package push

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentup/agentup/pkg/a2a"
	"github.com/agentup/agentup/pkg/config"
	"github.com/agentup/agentup/pkg/httpclient"
	"github.com/agentup/agentup/pkg/logger"
)

const signatureHeader = "X-AgentUp-Signature"

// ConfigStore holds push registrations per task.
type ConfigStore interface {
	Set(ctx context.Context, taskID string, cfg a2a.PushNotificationConfig) (a2a.PushNotificationConfig, error)
	Get(ctx context.Context, taskID, configID string) (*a2a.PushNotificationConfig, error)
	List(ctx context.Context, taskID string) ([]a2a.PushNotificationConfig, error)
	Delete(ctx context.Context, taskID, configID string) error
	Close() error
}

// MemoryConfigStore is the process-local config store.
type MemoryConfigStore struct {
	mu      sync.RWMutex
	configs map[string]map[string]a2a.PushNotificationConfig
}

func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{configs: make(map[string]map[string]a2a.PushNotificationConfig)}
}

func (m *MemoryConfigStore) Set(ctx context.Context, taskID string, cfg a2a.PushNotificationConfig) (a2a.PushNotificationConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if m.configs[taskID] == nil {
		m.configs[taskID] = make(map[string]a2a.PushNotificationConfig)
	}
	m.configs[taskID][cfg.ID] = cfg
	return cfg, nil
}

func (m *MemoryConfigStore) Get(ctx context.Context, taskID, configID string) (*a2a.PushNotificationConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[taskID][configID]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (m *MemoryConfigStore) List(ctx context.Context, taskID string) ([]a2a.PushNotificationConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]a2a.PushNotificationConfig, 0, len(m.configs[taskID]))
	for _, cfg := range m.configs[taskID] {
		out = append(out, cfg)
	}
	return out, nil
}

func (m *MemoryConfigStore) Delete(ctx context.Context, taskID, configID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.configs[taskID], configID)
	if len(m.configs[taskID]) == 0 {
		delete(m.configs, taskID)
	}
	return nil
}

func (m *MemoryConfigStore) Close() error { return nil }

// envelope is the webhook payload.
type envelope struct {
	TaskID    string    `json:"taskId"`
	Timestamp time.Time `json:"timestamp"`
	Event     a2a.Event `json:"event"`
}

// Notifier delivers task events to registered webhooks. Delivery runs off
// the task path; failures are logged, never propagated.
type Notifier struct {
	store        ConfigStore
	client       *httpclient.Client
	validateURLs bool
}

func NewNotifier(cfg config.PushConfig, store ConfigStore) *Notifier {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		store: store,
		client: httpclient.New(
			httpclient.WithMaxRetries(maxRetries),
			httpclient.WithBaseDelay(time.Second),
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		),
		validateURLs: cfg.ValidateURLs,
	}
}

func (n *Notifier) Store() ConfigStore { return n.store }

// ValidateURL enforces an http(s) scheme and host. With validate_urls on,
// the host must also resolve.
func (n *Notifier) ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook url must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("webhook url missing host")
	}
	if n.validateURLs {
		if _, err := net.LookupHost(u.Hostname()); err != nil {
			return fmt.Errorf("webhook host %q does not resolve: %w", u.Hostname(), err)
		}
	}
	return nil
}

// NotifyAsync fans the event out to every webhook registered for the task
// without blocking the caller.
func (n *Notifier) NotifyAsync(taskID string, event a2a.Event) {
	go n.Notify(context.Background(), taskID, event)
}

func (n *Notifier) Notify(ctx context.Context, taskID string, event a2a.Event) {
	log := logger.WithComponent("push")

	configs, err := n.store.List(ctx, taskID)
	if err != nil {
		log.Error("failed to list push configs", "task_id", taskID, "error", err)
		return
	}
	if len(configs) == 0 {
		return
	}

	body, err := json.Marshal(envelope{
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
		Event:     event,
	})
	if err != nil {
		log.Error("failed to encode push envelope", "task_id", taskID, "error", err)
		return
	}

	for _, cfg := range configs {
		if err := n.deliver(ctx, cfg, body); err != nil {
			log.Warn("push delivery failed", "task_id", taskID, "url", cfg.URL,
				"retryable", httpclient.IsRetryable(err), "error", err)
		} else {
			log.Debug("push delivered", "task_id", taskID, "url", cfg.URL)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, cfg a2a.PushNotificationConfig, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if cfg.Token != "" {
		req.Header.Set(signatureHeader, "sha256="+Sign(cfg.Token, body))
	}
	if auth := cfg.Authentication; auth != nil && auth.Credentials != "" {
		for _, scheme := range auth.Schemes {
			if scheme == "bearer" {
				req.Header.Set("Authorization", "Bearer "+auth.Credentials)
			}
		}
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of the payload under the config token.
func Sign(token string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// NewConfigStore builds the configured backend.
func NewConfigStore(cfg config.PushConfig) (ConfigStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryConfigStore(), nil
	case "redis", "valkey":
		return NewRedisConfigStore(cfg)
	default:
		return nil, fmt.Errorf("unknown push backend %q", cfg.Backend)
	}
}
