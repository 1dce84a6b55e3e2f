package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentup/agentup/pkg/a2a"
	"github.com/agentup/agentup/pkg/auth"
	"github.com/agentup/agentup/pkg/capabilities"
	"github.com/agentup/agentup/pkg/config"
	"github.com/agentup/agentup/pkg/dispatch"
	"github.com/agentup/agentup/pkg/middleware"
	"github.com/agentup/agentup/pkg/push"
	"github.com/agentup/agentup/pkg/state"
	"github.com/agentup/agentup/pkg/task"
)

func newTestHandler(t *testing.T) (*Handler, task.Store) {
	t.Helper()

	reg := capabilities.NewRegistry()
	reg.LoadPlugins(capabilities.Inventory())

	adapter := capabilities.NewAdapter(reg, auth.NewManager(false, nil),
		middleware.Build, nil, state.Wrapper(nil))
	pc := config.PluginConfig{CapabilityID: "echo", RoutingMode: "direct", Keywords: []string{"echo"}}
	require.NoError(t, adapter.Activate(pc))

	store := task.NewInMemoryStore()
	router := dispatch.NewRouter([]config.PluginConfig{pc},
		config.RoutingConfig{FallbackCapability: "echo", DefaultMode: "direct"})
	executor := dispatch.NewExecutor(store, reg, router, nil, nil, "test-agent", true)
	notifier := push.NewNotifier(config.PushConfig{Enabled: true}, push.NewMemoryConfigStore())

	return NewHandler(store, executor, notifier), store
}

func doRPC(t *testing.T, h *Handler, body string) (*httptest.ResponseRecorder, rpcResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	h.ServeHTTP(rec, req)

	var resp rpcResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec, resp
}

func call(t *testing.T, h *Handler, method string, params any) rpcResponse {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)
	_, resp := doRPC(t, h, string(raw))
	return resp
}

func decodeTask(t *testing.T, result any) a2a.Task {
	t.Helper()
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	var got a2a.Task
	require.NoError(t, json.Unmarshal(raw, &got))
	return got
}

func sendParams(text string) map[string]any {
	return map[string]any{
		"message": map[string]any{
			"role":  "user",
			"parts": []map[string]any{{"type": "text", "text": text}},
		},
	}
}

func TestServeHTTPProtocolErrors(t *testing.T) {
	h, _ := newTestHandler(t)

	t.Run("parse error", func(t *testing.T) {
		_, resp := doRPC(t, h, "{not json")
		require.NotNil(t, resp.Error)
		assert.Equal(t, -32700, resp.Error.Code)
	})

	t.Run("wrong jsonrpc version", func(t *testing.T) {
		_, resp := doRPC(t, h, `{"jsonrpc":"1.0","id":1,"method":"message/send"}`)
		require.NotNil(t, resp.Error)
		assert.Equal(t, -32600, resp.Error.Code)
	})

	t.Run("method not found", func(t *testing.T) {
		_, resp := doRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"tasks/unknown"}`)
		require.NotNil(t, resp.Error)
		assert.Equal(t, -32601, resp.Error.Code)
	})
}

func TestMessageSend(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := call(t, h, "message/send", sendParams("echo hello world"))
	require.Nil(t, resp.Error)

	got := decodeTask(t, resp.Result)
	assert.Equal(t, a2a.TaskStateCompleted, got.Status.State)
	require.Len(t, got.Artifacts, 1)
	assert.Equal(t, "test-agent-result", got.Artifacts[0].Name)
	require.NotEmpty(t, got.Artifacts[0].Parts)
	assert.Equal(t, "hello world", got.Artifacts[0].Parts[0].Text)
}

func TestMessageSendRequiresParts(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := call(t, h, "message/send", map[string]any{
		"message": map[string]any{"role": "user", "parts": []any{}},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)
}

func TestMessageSendContinuesTask(t *testing.T) {
	h, store := newTestHandler(t)

	created, err := store.Create(context.Background(), "ctx-1",
		a2a.NewTextMessage(a2a.RoleUser, "first"))
	require.NoError(t, err)

	params := sendParams("echo again")
	params["message"].(map[string]any)["taskId"] = created.ID
	resp := call(t, h, "message/send", params)
	require.Nil(t, resp.Error)

	got := decodeTask(t, resp.Result)
	assert.Equal(t, created.ID, got.ID)
	assert.GreaterOrEqual(t, len(got.History), 2)
}

func TestMessageSendPausesWithoutInput(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := call(t, h, "message/send", sendParams("   "))
	require.Nil(t, resp.Error)
	got := decodeTask(t, resp.Result)
	assert.Equal(t, a2a.TaskStateInputRequired, got.Status.State)

	// A follow-up message on the same task resumes it.
	params := sendParams("echo resumed")
	params["message"].(map[string]any)["taskId"] = got.ID
	resp = call(t, h, "message/send", params)
	require.Nil(t, resp.Error)

	resumed := decodeTask(t, resp.Result)
	assert.Equal(t, got.ID, resumed.ID)
	assert.Equal(t, a2a.TaskStateCompleted, resumed.Status.State)
}

func TestMessageSendRejectsTerminalTask(t *testing.T) {
	h, store := newTestHandler(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "ctx-1", a2a.NewTextMessage(a2a.RoleUser, "first"))
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, created.ID, a2a.TaskStateCompleted, nil))

	params := sendParams("echo again")
	params["message"].(map[string]any)["taskId"] = created.ID
	resp := call(t, h, "message/send", params)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)
}

func TestTasksGet(t *testing.T) {
	h, _ := newTestHandler(t)

	t.Run("unknown task", func(t *testing.T) {
		resp := call(t, h, "tasks/get", map[string]any{"id": "missing"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, -32001, resp.Error.Code)
	})

	t.Run("history trimming", func(t *testing.T) {
		sent := call(t, h, "message/send", sendParams("echo one"))
		require.Nil(t, sent.Error)
		taskID := decodeTask(t, sent.Result).ID

		resp := call(t, h, "tasks/get", map[string]any{"id": taskID, "historyLength": 1})
		require.Nil(t, resp.Error)
		got := decodeTask(t, resp.Result)
		assert.Len(t, got.History, 1)

		resp = call(t, h, "tasks/get", map[string]any{"id": taskID, "historyLength": 0})
		require.Nil(t, resp.Error)
		got = decodeTask(t, resp.Result)
		assert.Empty(t, got.History)
	})
}

func TestTasksCancel(t *testing.T) {
	h, store := newTestHandler(t)
	ctx := context.Background()

	t.Run("unknown task", func(t *testing.T) {
		resp := call(t, h, "tasks/cancel", map[string]any{"id": "missing"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, -32001, resp.Error.Code)
	})

	t.Run("cancels a pending task", func(t *testing.T) {
		created, err := store.Create(ctx, "ctx-1", a2a.NewTextMessage(a2a.RoleUser, "hi"))
		require.NoError(t, err)

		resp := call(t, h, "tasks/cancel", map[string]any{"id": created.ID})
		require.Nil(t, resp.Error)
		got := decodeTask(t, resp.Result)
		assert.Equal(t, a2a.TaskStateCanceled, got.Status.State)
	})

	t.Run("terminal task is not cancelable", func(t *testing.T) {
		sent := call(t, h, "message/send", sendParams("echo done"))
		require.Nil(t, sent.Error)
		taskID := decodeTask(t, sent.Result).ID

		resp := call(t, h, "tasks/cancel", map[string]any{"id": taskID})
		require.NotNil(t, resp.Error)
		assert.Equal(t, -32002, resp.Error.Code)
	})
}

func TestPushNotificationConfigMethods(t *testing.T) {
	h, _ := newTestHandler(t)

	sent := call(t, h, "message/send", sendParams("echo task"))
	require.Nil(t, sent.Error)
	taskID := decodeTask(t, sent.Result).ID

	t.Run("set requires a known task", func(t *testing.T) {
		resp := call(t, h, "tasks/pushNotificationConfig/set", map[string]any{
			"taskId":                 "missing",
			"pushNotificationConfig": map[string]any{"url": "https://example.com/hook"},
		})
		require.NotNil(t, resp.Error)
		assert.Equal(t, -32001, resp.Error.Code)
	})

	t.Run("set rejects invalid url", func(t *testing.T) {
		resp := call(t, h, "tasks/pushNotificationConfig/set", map[string]any{
			"taskId":                 taskID,
			"pushNotificationConfig": map[string]any{"url": "ftp://example.com/hook"},
		})
		require.NotNil(t, resp.Error)
		assert.Equal(t, -32602, resp.Error.Code)
	})

	var configID string
	t.Run("set stores and assigns an id", func(t *testing.T) {
		resp := call(t, h, "tasks/pushNotificationConfig/set", map[string]any{
			"taskId":                 taskID,
			"pushNotificationConfig": map[string]any{"url": "https://example.com/hook", "token": "secret"},
		})
		require.Nil(t, resp.Error)

		raw, err := json.Marshal(resp.Result)
		require.NoError(t, err)
		var stored a2a.TaskPushNotificationConfig
		require.NoError(t, json.Unmarshal(raw, &stored))
		assert.Equal(t, taskID, stored.TaskID)
		assert.NotEmpty(t, stored.PushNotificationConfig.ID)
		configID = stored.PushNotificationConfig.ID
	})

	t.Run("get without config id returns the first config", func(t *testing.T) {
		resp := call(t, h, "tasks/pushNotificationConfig/get", map[string]any{"id": taskID})
		require.Nil(t, resp.Error)

		raw, err := json.Marshal(resp.Result)
		require.NoError(t, err)
		var got a2a.TaskPushNotificationConfig
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, "https://example.com/hook", got.PushNotificationConfig.URL)
	})

	t.Run("list", func(t *testing.T) {
		resp := call(t, h, "tasks/pushNotificationConfig/list", map[string]any{"id": taskID})
		require.Nil(t, resp.Error)

		raw, err := json.Marshal(resp.Result)
		require.NoError(t, err)
		var got []a2a.TaskPushNotificationConfig
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Len(t, got, 1)
	})

	t.Run("delete requires both ids", func(t *testing.T) {
		resp := call(t, h, "tasks/pushNotificationConfig/delete", map[string]any{"id": taskID})
		require.NotNil(t, resp.Error)
		assert.Equal(t, -32602, resp.Error.Code)
	})

	t.Run("delete removes the config", func(t *testing.T) {
		resp := call(t, h, "tasks/pushNotificationConfig/delete", map[string]any{
			"id":                       taskID,
			"pushNotificationConfigId": configID,
		})
		require.Nil(t, resp.Error)

		listResp := call(t, h, "tasks/pushNotificationConfig/list", map[string]any{"id": taskID})
		require.Nil(t, listResp.Error)
		raw, err := json.Marshal(listResp.Result)
		require.NoError(t, err)
		var got []a2a.TaskPushNotificationConfig
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Empty(t, got)
	})
}

// sseFrames decodes every data: frame of an SSE body into JSON-RPC envelopes.
func sseFrames(t *testing.T, body string) []rpcResponse {
	t.Helper()
	var frames []rpcResponse
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var resp rpcResponse
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &resp))
		frames = append(frames, resp)
	}
	return frames
}

func eventKind(t *testing.T, result any) string {
	t.Helper()
	m, ok := result.(map[string]any)
	require.True(t, ok, "expected object result, got %T", result)
	kind, _ := m["kind"].(string)
	return kind
}

func TestMessageStream(t *testing.T) {
	h, _ := newTestHandler(t)

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      7,
		"method":  "message/stream",
		"params":  sendParams("echo streamed"),
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	h.ServeHTTP(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	frames := sseFrames(t, rec.Body.String())
	require.GreaterOrEqual(t, len(frames), 3)

	// Snapshot first, then status and artifact events, terminal status last.
	assert.Equal(t, "task", eventKind(t, frames[0].Result))
	last := frames[len(frames)-1].Result.(map[string]any)
	assert.Equal(t, "status-update", last["kind"])
	assert.Equal(t, true, last["final"])

	status := last["status"].(map[string]any)
	assert.Equal(t, "completed", status["state"])

	sawArtifact := false
	for _, frame := range frames[1:] {
		if eventKind(t, frame.Result) == "artifact-update" {
			sawArtifact = true
		}
	}
	assert.True(t, sawArtifact)
}

func TestTasksResubscribe(t *testing.T) {
	h, _ := newTestHandler(t)

	sent := call(t, h, "message/send", sendParams("echo finished"))
	require.Nil(t, sent.Error)
	taskID := decodeTask(t, sent.Result).ID

	body := fmt.Sprintf(`{"jsonrpc":"2.0","id":8,"method":"tasks/resubscribe","params":{"id":%q}}`, taskID)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	h.ServeHTTP(rec, req)

	frames := sseFrames(t, rec.Body.String())
	require.Len(t, frames, 2)
	assert.Equal(t, "task", eventKind(t, frames[0].Result))

	// A terminal task replays exactly one final status event.
	last := frames[1].Result.(map[string]any)
	assert.Equal(t, "status-update", last["kind"])
	assert.Equal(t, true, last["final"])
}
