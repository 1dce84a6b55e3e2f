// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AgentUp Authors

// Package mcp connects to remote MCP tool servers and exposes local
// capabilities over the MCP protocol.
//
// Transport support on the client side:
//   - stdio: subprocess communication via the mcp-go library
//   - http: JSON-RPC POST with SSE-aware response reading via httpclient
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/agentup/agentup/pkg/a2a"
	"github.com/agentup/agentup/pkg/config"
	"github.com/agentup/agentup/pkg/functions"
	"github.com/agentup/agentup/pkg/httpclient"
	"github.com/agentup/agentup/pkg/logger"
)

const protocolVersion = "2024-11-05"

// serverConn is one connected MCP server.
type serverConn struct {
	cfg config.MCPServerTarget

	stdio *client.Client
	http  *httpclient.Client

	sessionMu sync.RWMutex
	sessionID string
}

// Client manages connections to all configured MCP servers.
type Client struct {
	agentName string
	version   string

	mu      sync.Mutex
	servers map[string]*serverConn
}

// Connect dials every configured server concurrently and registers each
// remote tool in the function registry. A tool with no tool_scopes entry
// fails startup; serving an unscoped remote tool is refused.
func Connect(ctx context.Context, agentName, version string, cfg config.MCPClientConfig, reg *functions.Registry) (*Client, error) {
	c := &Client{
		agentName: agentName,
		version:   version,
		servers:   make(map[string]*serverConn),
	}

	g, gctx := errgroup.WithContext(ctx)
	conns := make([]*serverConn, len(cfg.Servers))
	tools := make([][]toolDecl, len(cfg.Servers))

	for i, target := range cfg.Servers {
		g.Go(func() error {
			conn, decls, err := c.connect(gctx, target)
			if err != nil {
				return fmt.Errorf("mcp server %s: %w", target.Name, err)
			}
			conns[i] = conn
			tools[i] = decls
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.Close()
		return nil, err
	}

	for i, conn := range conns {
		c.servers[conn.cfg.Name] = conn
		for _, decl := range tools[i] {
			if err := c.register(reg, conn, decl); err != nil {
				c.Close()
				return nil, err
			}
		}
	}
	return c, nil
}

// toolDecl is a tool as listed by a remote server.
type toolDecl struct {
	name        string
	description string
	schema      map[string]any
}

func (c *Client) connect(ctx context.Context, target config.MCPServerTarget) (*serverConn, []toolDecl, error) {
	conn := &serverConn{cfg: target}

	switch target.Transport {
	case "", "stdio":
		decls, err := c.connectStdio(ctx, conn)
		return conn, decls, err
	case "http", "sse":
		decls, err := c.connectHTTP(ctx, conn)
		return conn, decls, err
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", target.Transport)
	}
}

func (c *Client) connectStdio(ctx context.Context, conn *serverConn) ([]toolDecl, error) {
	log := logger.WithComponent("mcp")

	env := make([]string, 0, len(conn.cfg.Env))
	for k, v := range conn.cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	mcpClient, err := client.NewStdioMCPClient(conn.cfg.Command, env, conn.cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("create stdio client: %w", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("start stdio client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = protocolVersion
	initReq.Params.ClientInfo = mcp.Implementation{Name: c.agentName, Version: c.version}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("list tools: %w", err)
	}

	decls := make([]toolDecl, 0, len(listResp.Tools))
	for _, t := range listResp.Tools {
		decls = append(decls, toolDecl{
			name:        t.Name,
			description: t.Description,
			schema:      convertSchema(t.InputSchema),
		})
	}

	conn.stdio = mcpClient
	log.Info("connected to MCP server", "name", conn.cfg.Name,
		"transport", "stdio", "command", conn.cfg.Command, "tools", len(decls))
	return decls, nil
}

func (c *Client) connectHTTP(ctx context.Context, conn *serverConn) ([]toolDecl, error) {
	log := logger.WithComponent("mcp")

	timeout := conn.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRetries := conn.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	conn.http = httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithMaxRetries(maxRetries),
		httpclient.WithBaseDelay(2*time.Second),
	)

	initResp, err := c.httpRequest(ctx, conn, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]any{"name": c.agentName, "version": c.version},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if initResp.Error != nil {
		return nil, fmt.Errorf("initialize: %s", initResp.Error.Message)
	}

	listResp, err := c.httpRequest(ctx, conn, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	if listResp.Error != nil {
		return nil, fmt.Errorf("list tools: %s", listResp.Error.Message)
	}

	resultMap, ok := listResp.Result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected tools/list result type")
	}
	rawTools, ok := resultMap["tools"].([]any)
	if !ok {
		return nil, fmt.Errorf("tools/list response missing tools")
	}

	var decls []toolDecl
	for _, raw := range rawTools {
		toolMap, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		decl := toolDecl{}
		decl.name, _ = toolMap["name"].(string)
		decl.description, _ = toolMap["description"].(string)
		if schema, ok := toolMap["inputSchema"].(map[string]any); ok {
			decl.schema = schema
		}
		decls = append(decls, decl)
	}

	log.Info("connected to MCP server", "name", conn.cfg.Name,
		"transport", "http", "url", conn.cfg.URL, "tools", len(decls))
	return decls, nil
}

// register adds one remote tool to the function registry with its
// configured scopes.
func (c *Client) register(reg *functions.Registry, conn *serverConn, decl toolDecl) error {
	prefixed := conn.cfg.Name + ":" + decl.name
	scopes, ok := conn.cfg.ToolScopes[prefixed]
	if !ok {
		return fmt.Errorf("mcp tool %s has no tool_scopes entry; refusing to register", prefixed)
	}

	serverName, toolName := conn.cfg.Name, decl.name
	fn := &functions.Function{
		Description:    decl.description,
		Parameters:     decl.schema,
		RequiredScopes: scopes,
		Handler: func(ctx context.Context, task *a2a.Task, args map[string]any) (any, error) {
			return c.CallTool(ctx, serverName, toolName, args)
		},
	}
	return reg.RegisterMCPTool(serverName, toolName, fn)
}

// CallTool invokes a remote tool and normalizes the result to a map.
func (c *Client) CallTool(ctx context.Context, server, tool string, args map[string]any) (map[string]any, error) {
	c.mu.Lock()
	conn, ok := c.servers[server]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("mcp server %q not connected", server)
	}

	if conn.stdio != nil {
		return c.callStdio(ctx, conn, tool, args)
	}
	return c.callHTTP(ctx, conn, tool, args)
}

func (c *Client) callStdio(ctx context.Context, conn *serverConn, tool string, args map[string]any) (map[string]any, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	resp, err := conn.stdio.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp call failed: %w", err)
	}

	result := make(map[string]any)
	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	if resp.IsError {
		msg := "unknown error"
		if len(texts) > 0 {
			msg = texts[0]
		}
		return nil, fmt.Errorf("mcp tool error: %s", msg)
	}

	switch len(texts) {
	case 0:
	case 1:
		result["result"] = texts[0]
	default:
		result["results"] = texts
	}
	return result, nil
}

func (c *Client) callHTTP(ctx context.Context, conn *serverConn, tool string, args map[string]any) (map[string]any, error) {
	resp, err := c.httpRequest(ctx, conn, "tools/call", map[string]any{
		"name":      tool,
		"arguments": args,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp call failed: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("mcp tool error: %s", resp.Error.Message)
	}

	result := make(map[string]any)
	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		result["result"] = resp.Result
		return result, nil
	}

	var texts []string
	if content, ok := resultMap["content"].([]any); ok {
		for _, raw := range content {
			if cm, ok := raw.(map[string]any); ok && cm["type"] == "text" {
				if text, ok := cm["text"].(string); ok {
					texts = append(texts, text)
				}
			}
		}
	}

	if isError, _ := resultMap["isError"].(bool); isError {
		msg := "unknown error"
		if len(texts) > 0 {
			msg = texts[0]
		}
		return nil, fmt.Errorf("mcp tool error: %s", msg)
	}

	switch len(texts) {
	case 0:
	case 1:
		result["result"] = texts[0]
	default:
		result["results"] = texts
	}
	return result, nil
}

// Close shuts down all server connections.
// Servers returns the names of connected servers.
func (c *Client) Servers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.servers))
	for name := range c.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for name, conn := range c.servers {
		if conn.stdio != nil {
			if err := conn.stdio.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("close %s: %w", name, err)
			}
		}
	}
	c.servers = make(map[string]*serverConn)
	return firstErr
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// httpRequest sends one JSON-RPC request, handling SSE-framed responses and
// session propagation.
func (c *Client) httpRequest(ctx context.Context, conn *serverConn, method string, params any) (*rpcResponse, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conn.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("MCP-Protocol-Version", protocolVersion)

	conn.sessionMu.RLock()
	sessionID := conn.sessionID
	conn.sessionMu.RUnlock()
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}

	resp, err := conn.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if newSession := resp.Header.Get("Mcp-Session-Id"); newSession != "" {
		conn.sessionMu.Lock()
		conn.sessionID = newSession
		conn.sessionMu.Unlock()
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return readSSEResponse(resp.Body)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var parsed rpcResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &parsed, nil
}

// readSSEResponse reads the first complete JSON-RPC message from an SSE
// stream.
func readSSEResponse(body io.Reader) (*rpcResponse, error) {
	reader := bufio.NewReader(body)
	var data strings.Builder

	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("read sse stream: %w", err)
		}

		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
		case trimmed == "" && data.Len() > 0:
			var parsed rpcResponse
			if perr := json.Unmarshal([]byte(data.String()), &parsed); perr == nil {
				return &parsed, nil
			}
			data.Reset()
		}

		if err == io.EOF {
			break
		}
	}

	if data.Len() > 0 {
		var parsed rpcResponse
		if err := json.Unmarshal([]byte(data.String()), &parsed); err == nil {
			return &parsed, nil
		}
	}
	return nil, fmt.Errorf("sse stream ended without a complete message")
}

// convertSchema round-trips an mcp-go schema into a plain map.
func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}
