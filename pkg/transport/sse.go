package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/agentup/agentup/pkg/a2a"
	"github.com/agentup/agentup/pkg/logger"
)

// sseWriter emits JSON-RPC streaming envelopes as SSE frames.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	id      any
}

func newSSEWriter(w http.ResponseWriter, id any) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, flusher: flusher, id: id}, true
}

// send writes one event as a full JSON-RPC response envelope.
func (s *sseWriter) send(event a2a.Event) error {
	data, err := json.Marshal(rpcResponse{JSONRPC: "2.0", ID: s.id, Result: event})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// messageStream runs message/send semantics with the response delivered as
// an ordered event stream. The stream closes after the terminal status.
func (h *Handler) messageStream(w http.ResponseWriter, r *http.Request, req rpcRequest) string {
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

	// Subscribe before execution starts so no event is missed.
	events, cancel, err := h.store.Subscribe(t.ID)
	if err != nil {
		h.writeError(w, req.ID, codeInternalError, "internal error", err.Error())
		return "error"
	}
	defer cancel()

	go h.executor.Execute(context.WithoutCancel(r.Context()), t, params.Message)

	return h.streamEvents(w, r, req.ID, t, events)
}

// tasksResubscribe reattaches a streaming client to an existing task.
func (h *Handler) tasksResubscribe(w http.ResponseWriter, r *http.Request, req rpcRequest) string {
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

	events, cancel, err := h.store.Subscribe(t.ID)
	if err != nil {
		h.writeError(w, req.ID, codeInternalError, "internal error", err.Error())
		return "error"
	}
	defer cancel()

	return h.streamEvents(w, r, req.ID, t, events)
}

// streamEvents sends the task snapshot then drains the event channel until
// the terminal event closes it or the client disconnects.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request, id any, t *a2a.Task, events <-chan a2a.Event) string {
	log := logger.WithComponent("transport")

	sse, ok := newSSEWriter(w, id)
	if !ok {
		h.writeError(w, id, codeInternalError, "streaming unsupported", nil)
		return "error"
	}

	if err := sse.send(t); err != nil {
		log.Debug("stream client gone", "task_id", t.ID, "error", err)
		return "client_gone"
	}

	for {
		select {
		case <-r.Context().Done():
			return "client_gone"
		case event, open := <-events:
			if !open {
				return "ok"
			}
			if err := sse.send(event); err != nil {
				log.Debug("stream client gone", "task_id", t.ID, "error", err)
				return "client_gone"
			}
		}
	}
}
