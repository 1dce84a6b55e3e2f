// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AgentUp Authors

// Package transport implements the JSON-RPC 2.0 surface at POST / plus SSE
// streaming for message/stream and tasks/resubscribe.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/agentup/agentup/pkg/a2a"
	"github.com/agentup/agentup/pkg/dispatch"
	"github.com/agentup/agentup/pkg/logger"
	"github.com/agentup/agentup/pkg/metrics"
	"github.com/agentup/agentup/pkg/push"
	"github.com/agentup/agentup/pkg/task"
)

// JSON-RPC 2.0 error codes, plus the A2A task error extensions.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603

	codeTaskNotFound      = -32001
	codeTaskNotCancelable = -32002
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Handler serves the agent's JSON-RPC methods.
type Handler struct {
	store     task.Store
	executor  *dispatch.Executor
	pushStore push.ConfigStore
	notifier  *push.Notifier
}

func NewHandler(store task.Store, executor *dispatch.Executor, notifier *push.Notifier) *Handler {
	h := &Handler{
		store:    store,
		executor: executor,
		notifier: notifier,
	}
	if notifier != nil {
		h.pushStore = notifier.Store()
	}
	return h
}

// ServeHTTP handles POST / with a single JSON-RPC request. Streaming
// methods switch the connection to SSE.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, nil, codeParseError, "parse error", nil)
		metrics.ObserveRequest("unknown", "parse_error", time.Since(start))
		return
	}
	if req.JSONRPC != "2.0" {
		h.writeError(w, req.ID, codeInvalidRequest, "invalid request: jsonrpc must be \"2.0\"", nil)
		metrics.ObserveRequest(req.Method, "invalid_request", time.Since(start))
		return
	}

	status := "ok"
	switch req.Method {
	case "message/send":
		status = h.messageSend(w, r, req)
	case "message/stream":
		status = h.messageStream(w, r, req)
	case "tasks/get":
		status = h.tasksGet(w, r, req)
	case "tasks/cancel":
		status = h.tasksCancel(w, r, req)
	case "tasks/resubscribe":
		status = h.tasksResubscribe(w, r, req)
	case "tasks/pushNotificationConfig/set":
		status = h.pushConfigSet(w, r, req)
	case "tasks/pushNotificationConfig/get":
		status = h.pushConfigGet(w, r, req)
	case "tasks/pushNotificationConfig/list":
		status = h.pushConfigList(w, r, req)
	case "tasks/pushNotificationConfig/delete":
		status = h.pushConfigDelete(w, r, req)
	default:
		h.writeError(w, req.ID, codeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
		status = "method_not_found"
	}
	metrics.ObserveRequest(req.Method, status, time.Since(start))
}

// resolveTask creates a task for the message, or appends to the referenced
// non-terminal task.
func (h *Handler) resolveTask(ctx context.Context, msg a2a.Message) (*a2a.Task, *rpcError) {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.Kind == "" {
		msg.Kind = "message"
	}

	if msg.TaskID != "" {
		t, err := h.store.Get(ctx, msg.TaskID)
		if err != nil {
			return nil, &rpcError{Code: codeTaskNotFound, Message: "task not found"}
		}
		if t.Status.State.IsTerminal() {
			return nil, &rpcError{Code: codeInvalidParams, Message: "task is in a terminal state"}
		}
		if err := h.store.AppendHistory(ctx, msg.TaskID, msg); err != nil {
			return nil, &rpcError{Code: codeInternalError, Message: "internal error", Data: err.Error()}
		}
		return h.mustGet(ctx, msg.TaskID)
	}

	contextID := msg.ContextID
	if contextID == "" {
		contextID = uuid.NewString()
	}
	t, err := h.store.Create(ctx, contextID, msg)
	if err != nil {
		return nil, &rpcError{Code: codeInternalError, Message: "internal error", Data: err.Error()}
	}
	return t, nil
}

func (h *Handler) mustGet(ctx context.Context, taskID string) (*a2a.Task, *rpcError) {
	t, err := h.store.Get(ctx, taskID)
	if err != nil {
		return nil, &rpcError{Code: codeTaskNotFound, Message: "task not found"}
	}
	return t, nil
}

func (h *Handler) messageSend(w http.ResponseWriter, r *http.Request, req rpcRequest) string {
	var params a2a.MessageSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		h.writeError(w, req.ID, codeInvalidParams, "invalid params", nil)
		return "invalid_params"
	}
	if len(params.Message.Parts) == 0 {
		h.writeError(w, req.ID, codeInvalidParams, "message requires at least one part", nil)
		return "invalid_params"
	}

	t, rerr := h.resolveTask(r.Context(), params.Message)
	if rerr != nil {
		h.writeErr(w, req.ID, rerr)
		return "error"
	}

	if rerr := h.registerPush(r.Context(), t.ID, params.Configuration); rerr != nil {
		h.writeErr(w, req.ID, rerr)
		return "error"
	}

	blocking := params.Configuration == nil || params.Configuration.Blocking
	if blocking {
		h.executor.Execute(r.Context(), t, params.Message)
	} else {
		go h.executor.Execute(context.WithoutCancel(r.Context()), t, params.Message)
	}

	result, rerr := h.mustGet(r.Context(), t.ID)
	if rerr != nil {
		h.writeErr(w, req.ID, rerr)
		return "error"
	}
	trimHistory(result, historyLength(params.Configuration))
	h.writeResult(w, req.ID, result)
	return "ok"
}

func (h *Handler) tasksGet(w http.ResponseWriter, r *http.Request, req rpcRequest) string {
	var params a2a.TaskQueryParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		h.writeError(w, req.ID, codeInvalidParams, "invalid params", nil)
		return "invalid_params"
	}

	t, rerr := h.mustGet(r.Context(), params.ID)
	if rerr != nil {
		h.writeErr(w, req.ID, rerr)
		return "not_found"
	}
	if params.HistoryLength != nil {
		trimHistory(t, *params.HistoryLength)
	}
	h.writeResult(w, req.ID, t)
	return "ok"
}

func (h *Handler) tasksCancel(w http.ResponseWriter, r *http.Request, req rpcRequest) string {
	var params a2a.TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		h.writeError(w, req.ID, codeInvalidParams, "invalid params", nil)
		return "invalid_params"
	}

	t, err := h.executor.Cancel(r.Context(), params.ID)
	if err != nil {
		if errors.Is(err, task.ErrTaskTerminal) {
			h.writeError(w, req.ID, codeTaskNotCancelable, "task cannot be canceled", nil)
			return "not_cancelable"
		}
		if errors.Is(err, task.ErrTaskNotFound) {
			h.writeError(w, req.ID, codeTaskNotFound, "task not found", nil)
			return "not_found"
		}
		h.writeError(w, req.ID, codeInternalError, "internal error", err.Error())
		return "error"
	}
	h.writeResult(w, req.ID, t)
	return "ok"
}

func (h *Handler) registerPush(ctx context.Context, taskID string, cfg *a2a.MessageConfiguration) *rpcError {
	if cfg == nil || cfg.PushNotificationConfig == nil || h.notifier == nil {
		return nil
	}
	if err := h.notifier.ValidateURL(cfg.PushNotificationConfig.URL); err != nil {
		return &rpcError{Code: codeInvalidParams, Message: err.Error()}
	}
	if _, err := h.pushStore.Set(ctx, taskID, *cfg.PushNotificationConfig); err != nil {
		return &rpcError{Code: codeInternalError, Message: "internal error", Data: err.Error()}
	}
	return nil
}

func (h *Handler) pushConfigSet(w http.ResponseWriter, r *http.Request, req rpcRequest) string {
	if h.pushStore == nil {
		h.writeError(w, req.ID, codeInternalError, "push notifications are disabled", nil)
		return "error"
	}

	var params a2a.TaskPushNotificationConfig
	if err := json.Unmarshal(req.Params, &params); err != nil || params.TaskID == "" {
		h.writeError(w, req.ID, codeInvalidParams, "invalid params", nil)
		return "invalid_params"
	}
	if _, rerr := h.mustGet(r.Context(), params.TaskID); rerr != nil {
		h.writeErr(w, req.ID, rerr)
		return "not_found"
	}
	if err := h.notifier.ValidateURL(params.PushNotificationConfig.URL); err != nil {
		h.writeError(w, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}

	stored, err := h.pushStore.Set(r.Context(), params.TaskID, params.PushNotificationConfig)
	if err != nil {
		h.writeError(w, req.ID, codeInternalError, "internal error", err.Error())
		return "error"
	}
	h.writeResult(w, req.ID, a2a.TaskPushNotificationConfig{
		TaskID:                 params.TaskID,
		PushNotificationConfig: stored,
	})
	return "ok"
}

func (h *Handler) pushConfigGet(w http.ResponseWriter, r *http.Request, req rpcRequest) string {
	if h.pushStore == nil {
		h.writeError(w, req.ID, codeInternalError, "push notifications are disabled", nil)
		return "error"
	}

	var params a2a.PushNotificationConfigParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		h.writeError(w, req.ID, codeInvalidParams, "invalid params", nil)
		return "invalid_params"
	}

	var cfg *a2a.PushNotificationConfig
	var err error
	if params.PushNotificationConfigID != "" {
		cfg, err = h.pushStore.Get(r.Context(), params.ID, params.PushNotificationConfigID)
	} else {
		var configs []a2a.PushNotificationConfig
		configs, err = h.pushStore.List(r.Context(), params.ID)
		if err == nil && len(configs) > 0 {
			cfg = &configs[0]
		}
	}
	if err != nil {
		h.writeError(w, req.ID, codeInternalError, "internal error", err.Error())
		return "error"
	}
	if cfg == nil {
		h.writeError(w, req.ID, codeInvalidParams, "push notification config not found", nil)
		return "not_found"
	}
	h.writeResult(w, req.ID, a2a.TaskPushNotificationConfig{
		TaskID:                 params.ID,
		PushNotificationConfig: *cfg,
	})
	return "ok"
}

func (h *Handler) pushConfigList(w http.ResponseWriter, r *http.Request, req rpcRequest) string {
	if h.pushStore == nil {
		h.writeError(w, req.ID, codeInternalError, "push notifications are disabled", nil)
		return "error"
	}

	var params a2a.TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		h.writeError(w, req.ID, codeInvalidParams, "invalid params", nil)
		return "invalid_params"
	}

	configs, err := h.pushStore.List(r.Context(), params.ID)
	if err != nil {
		h.writeError(w, req.ID, codeInternalError, "internal error", err.Error())
		return "error"
	}
	out := make([]a2a.TaskPushNotificationConfig, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, a2a.TaskPushNotificationConfig{
			TaskID:                 params.ID,
			PushNotificationConfig: cfg,
		})
	}
	h.writeResult(w, req.ID, out)
	return "ok"
}

func (h *Handler) pushConfigDelete(w http.ResponseWriter, r *http.Request, req rpcRequest) string {
	if h.pushStore == nil {
		h.writeError(w, req.ID, codeInternalError, "push notifications are disabled", nil)
		return "error"
	}

	var params a2a.PushNotificationConfigParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" || params.PushNotificationConfigID == "" {
		h.writeError(w, req.ID, codeInvalidParams, "invalid params", nil)
		return "invalid_params"
	}

	if err := h.pushStore.Delete(r.Context(), params.ID, params.PushNotificationConfigID); err != nil {
		h.writeError(w, req.ID, codeInternalError, "internal error", err.Error())
		return "error"
	}
	h.writeResult(w, req.ID, nil)
	return "ok"
}

func historyLength(cfg *a2a.MessageConfiguration) int {
	if cfg == nil || cfg.HistoryLength == nil {
		return -1
	}
	return *cfg.HistoryLength
}

// trimHistory keeps the most recent n history entries. Negative n keeps all.
func trimHistory(t *a2a.Task, n int) {
	if n < 0 || len(t.History) <= n {
		return
	}
	t.History = t.History[len(t.History)-n:]
}

func (h *Handler) writeResult(w http.ResponseWriter, id, result any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Result: result}); err != nil {
		logger.WithComponent("transport").Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeErr(w http.ResponseWriter, id any, rerr *rpcError) {
	h.writeError(w, id, rerr.Code, rerr.Message, rerr.Data)
}

func (h *Handler) writeError(w http.ResponseWriter, id any, code int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	resp := rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message, Data: data}}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.WithComponent("transport").Error("failed to write error response", "error", err)
	}
}
