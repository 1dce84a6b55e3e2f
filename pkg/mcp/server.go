package mcp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentup/agentup/pkg/a2a"
	"github.com/agentup/agentup/pkg/capabilities"
	"github.com/agentup/agentup/pkg/logger"
)

// Protocol versions the server accepts.
var supportedVersions = map[string]struct{}{
	"2024-11-05": {},
	"2025-03-26": {},
	"2025-06-18": {},
}

const heartbeatInterval = 30 * time.Second

// Server exposes local capabilities over MCP at /mcp.
type Server struct {
	name           string
	version        string
	registry       *capabilities.Registry
	exposeHandlers bool
}

func NewServer(name, version string, registry *capabilities.Registry, exposeHandlers bool) *Server {
	if name == "" {
		name = "agentup"
	}
	return &Server{
		name:           name,
		version:        version,
		registry:       registry,
		exposeHandlers: exposeHandlers,
	}
}

// ServeHTTP handles POST (JSON-RPC) and GET (SSE notifications) on /mcp.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("mcp")

	if origin := r.Header.Get("Origin"); origin != "" {
		if !strings.Contains(origin, "localhost") && !strings.Contains(origin, "127.0.0.1") {
			log.Warn("mcp request from non-local origin", "origin", origin)
		} else {
			log.Debug("mcp request origin", "origin", origin)
		}
	}

	if version := r.Header.Get("MCP-Protocol-Version"); version != "" {
		if _, ok := supportedVersions[version]; !ok {
			http.Error(w, fmt.Sprintf("unsupported MCP protocol version %q", version), http.StatusBadRequest)
			return
		}
	}

	switch r.Method {
	case http.MethodGet:
		s.serveSSE(w, r)
	case http.MethodPost:
		s.serveRPC(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, nil, -32700, "failed to read request body")
		return
	}

	var req rpcRequestIn
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, nil, -32700, "parse error")
		return
	}

	// Notifications get no response body.
	if req.ID == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "initialize":
		s.writeResult(w, req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]any{
				"tools":     map[string]any{},
				"resources": map[string]any{},
			},
			"serverInfo": map[string]any{"name": s.name, "version": s.version},
		})
	case "tools/list":
		s.writeResult(w, req.ID, map[string]any{"tools": s.listTools()})
	case "tools/call":
		s.callTool(w, r, req)
	case "resources/list":
		s.writeResult(w, req.ID, map[string]any{"resources": s.listResources()})
	case "resources/read":
		s.readResource(w, req)
	default:
		s.writeError(w, req.ID, -32601, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// listTools exposes routable local capabilities when expose_handlers is on.
func (s *Server) listTools() []map[string]any {
	tools := []map[string]any{}
	if !s.exposeHandlers || s.registry == nil {
		return tools
	}
	for _, entry := range s.registry.List() {
		if !entry.Routable() {
			continue
		}
		tools = append(tools, map[string]any{
			"name":        entry.Info.ID,
			"description": entry.Info.Description,
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{
						"type":        "string",
						"description": "The message to process",
					},
				},
			},
		})
	}
	return tools
}

// callTool routes a tool call through the capability handler chain with a
// synthetic task, so auth, middleware, and state wrapping still apply.
func (s *Server) callTool(w http.ResponseWriter, r *http.Request, req rpcRequestIn) {
	if !s.exposeHandlers || s.registry == nil {
		s.writeError(w, req.ID, -32601, "tool exposure is disabled")
		return
	}

	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.writeError(w, req.ID, -32602, "invalid tools/call params")
		return
	}

	handler, err := s.registry.Handler(params.Name)
	if err != nil {
		s.writeError(w, req.ID, -32602, fmt.Sprintf("unknown tool %q", params.Name))
		return
	}

	userInput := ""
	if msg, ok := params.Arguments["message"].(string); ok {
		userInput = msg
	} else if data, merr := json.Marshal(params.Arguments); merr == nil {
		userInput = string(data)
	}

	message := a2a.NewTextMessage(a2a.RoleUser, userInput)
	now := time.Now().UTC()
	synthetic := &a2a.Task{
		ID:        uuid.NewString(),
		ContextID: uuid.NewString(),
		Kind:      "task",
		Status:    a2a.TaskStatus{State: a2a.TaskStateWorking, Timestamp: now},
		History:   []a2a.Message{message},
	}

	result, err := handler(r.Context(), &capabilities.CapabilityContext{
		Task:      synthetic,
		Message:   &message,
		UserInput: userInput,
	})
	if err != nil {
		s.writeResult(w, req.ID, map[string]any{
			"content": []map[string]any{{"type": "text", "text": err.Error()}},
			"isError": true,
		})
		return
	}

	content := result.Content
	if content == "" && len(result.Data) > 0 {
		if data, merr := json.Marshal(result.Data); merr == nil {
			content = string(data)
		}
	}
	s.writeResult(w, req.ID, map[string]any{
		"content": []map[string]any{{"type": "text", "text": content}},
		"isError": !result.Success,
	})
}

func (s *Server) listResources() []map[string]any {
	return []map[string]any{{
		"uri":         "agentup://capabilities",
		"name":        "Registered capabilities",
		"description": "The agent's capability inventory",
		"mimeType":    "application/json",
	}}
}

func (s *Server) readResource(w http.ResponseWriter, req rpcRequestIn) {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.writeError(w, req.ID, -32602, "invalid resources/read params")
		return
	}
	if params.URI != "agentup://capabilities" {
		s.writeError(w, req.ID, -32602, fmt.Sprintf("unknown resource %q", params.URI))
		return
	}

	listing := []map[string]any{}
	if s.registry != nil {
		for _, entry := range s.registry.List() {
			listing = append(listing, map[string]any{
				"id":          entry.Info.ID,
				"name":        entry.Info.Name,
				"version":     entry.Info.Version,
				"description": entry.Info.Description,
				"status":      string(entry.Status),
			})
		}
	}
	data, _ := json.Marshal(listing)

	s.writeResult(w, req.ID, map[string]any{
		"contents": []map[string]any{{
			"uri":      params.URI,
			"mimeType": "application/json",
			"text":     string(data),
		}},
	})
}

// serveSSE emits notifications/initialized then heartbeats until the client
// disconnects.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	initialized, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "notifications/initialized",
	})
	fmt.Fprintf(w, "event: message\ndata: %s\n\n", initialized)
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

type rpcRequestIn struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func (s *Server) writeResult(w http.ResponseWriter, id any, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) writeError(w http.ResponseWriter, id any, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
}
