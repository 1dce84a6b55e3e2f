package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentup/agentup/pkg/a2a"
	"github.com/agentup/agentup/pkg/auth"
	"github.com/agentup/agentup/pkg/capabilities"
	"github.com/agentup/agentup/pkg/config"
	"github.com/agentup/agentup/pkg/task"
)

// scopedPlugin is a capability gated on files:read.
type scopedPlugin struct {
	calls int
}

func (p *scopedPlugin) RegisterCapability() capabilities.CapabilityInfo {
	return capabilities.CapabilityInfo{
		ID:             "files",
		Name:           "Files",
		Version:        "1.0.0",
		RequiredScopes: []string{"files:read"},
	}
}

func (p *scopedPlugin) CanHandleTask(ctx context.Context, cc *capabilities.CapabilityContext) float64 {
	return 1
}

func (p *scopedPlugin) ExecuteCapability(ctx context.Context, cc *capabilities.CapabilityContext) (*capabilities.CapabilityResult, error) {
	p.calls++
	return &capabilities.CapabilityResult{Content: "done", Success: true}, nil
}

func newScopedExecutor(t *testing.T) (*Executor, task.Store, *scopedPlugin) {
	t.Helper()

	plugin := &scopedPlugin{}
	reg := capabilities.NewRegistry()
	reg.LoadPlugins([]capabilities.Plugin{plugin})

	adapter := capabilities.NewAdapter(reg, auth.NewManager(true, nil), nil, nil, nil)
	pluginCfg := config.PluginConfig{CapabilityID: "files", Keywords: []string{"files"}}
	require.NoError(t, adapter.Activate(pluginCfg))

	store := task.NewInMemoryStore()
	router := NewRouter([]config.PluginConfig{pluginCfg}, config.RoutingConfig{
		FallbackCapability: "files",
		DefaultMode:        "direct",
	})
	return NewExecutor(store, reg, router, nil, nil, "test-agent", true), store, plugin
}

func TestExecuteCarriesAuthToHandler(t *testing.T) {
	exec, store, plugin := newScopedExecutor(t)

	msg := a2a.NewTextMessage(a2a.RoleUser, "files please")
	created, err := store.Create(context.Background(), "", msg)
	require.NoError(t, err)

	ctx := auth.ContextWithAuth(context.Background(), &auth.AuthContext{
		UserID: "u1",
		Scopes: map[string]struct{}{"files:read": {}},
	})
	exec.Execute(ctx, created, msg)

	got, err := store.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, got.Status.State)
	assert.Equal(t, 1, plugin.calls)
}

func TestExecuteDeniesMissingScopes(t *testing.T) {
	exec, store, plugin := newScopedExecutor(t)

	msg := a2a.NewTextMessage(a2a.RoleUser, "files please")
	created, err := store.Create(context.Background(), "", msg)
	require.NoError(t, err)

	exec.Execute(context.Background(), created, msg)

	got, err := store.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateFailed, got.Status.State)
	assert.Equal(t, 0, plugin.calls)
}

func TestExecutePausesOnEmptyInput(t *testing.T) {
	exec, store, plugin := newScopedExecutor(t)
	ctx := auth.ContextWithAuth(context.Background(), &auth.AuthContext{
		Scopes: map[string]struct{}{"files:read": {}},
	})

	msg := a2a.NewTextMessage(a2a.RoleUser, "   ")
	created, err := store.Create(ctx, "", msg)
	require.NoError(t, err)

	exec.Execute(ctx, created, msg)

	paused, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateInputRequired, paused.Status.State)
	assert.Equal(t, 0, plugin.calls)

	// A follow-up message resumes the paused task to completion.
	followUp := a2a.NewTextMessage(a2a.RoleUser, "files now")
	require.NoError(t, store.AppendHistory(ctx, created.ID, followUp))
	exec.Execute(ctx, paused, followUp)

	resumed, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, resumed.Status.State)
	assert.Equal(t, 1, plugin.calls)
}
