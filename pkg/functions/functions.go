// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AgentUp Authors

// Package functions holds the AI function registry: named, schema-carrying
// handlers offered to the LLM dispatcher. Local capabilities and remote MCP
// tools register here through the same interface.
package functions

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentup/agentup/pkg/a2a"
	"github.com/agentup/agentup/pkg/llm"
	"github.com/agentup/agentup/pkg/registry"
)

// HandlerFunc executes one AI function call against the current task.
type HandlerFunc func(ctx context.Context, task *a2a.Task, args map[string]any) (any, error)

// Function is one callable entry offered to the LLM. MCP-sourced tools carry
// the canonical "<server>:<tool>" name alongside the sanitized registry name.
type Function struct {
	Name           string
	Description    string
	Parameters     map[string]any
	Handler        HandlerFunc
	RequiredScopes []string
	IsMCP          bool
	OriginServer   string
	CanonicalName  string
}

// Names the dispatcher will never hand to an LLM.
var reservedNames = map[string]struct{}{
	"eval":    {},
	"exec":    {},
	"import":  {},
	"compile": {},
}

type Registry struct {
	base      *registry.BaseRegistry[*Function]
	canonical map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		base:      registry.NewBaseRegistry[*Function](),
		canonical: make(map[string]string),
	}
}

// Register adds a local function under its own name.
func (r *Registry) Register(fn *Function) error {
	if fn == nil || fn.Handler == nil {
		return fmt.Errorf("function requires a handler")
	}
	if _, reserved := reservedNames[fn.Name]; reserved {
		return fmt.Errorf("function name %q is reserved", fn.Name)
	}
	return r.base.Register(fn.Name, fn)
}

// RegisterMCPTool adds a remote tool under the sanitized "<server>_<tool>"
// name, keeping the canonical "<server>:<tool>" resolvable. Most tool-calling
// APIs reject colons in function names.
func (r *Registry) RegisterMCPTool(server, tool string, fn *Function) error {
	fn.IsMCP = true
	fn.OriginServer = server
	fn.CanonicalName = server + ":" + tool
	fn.Name = SanitizeToolName(server, tool)

	if err := r.Register(fn); err != nil {
		return err
	}
	r.canonical[fn.CanonicalName] = fn.Name
	return nil
}

// SanitizeToolName maps an MCP tool to its LLM-safe identifier.
func SanitizeToolName(server, tool string) string {
	name := server + "_" + tool
	return strings.ReplaceAll(name, ":", "_")
}

// Resolve looks a function up by registry name or canonical MCP name.
func (r *Registry) Resolve(name string) (*Function, bool) {
	if fn, ok := r.base.Get(name); ok {
		return fn, true
	}
	if sanitized, ok := r.canonical[name]; ok {
		return r.base.Get(sanitized)
	}
	return nil, false
}

// List returns registered functions in registration order.
func (r *Registry) List() []*Function {
	return r.base.List()
}

func (r *Registry) Names() []string {
	return r.base.Names()
}

func (r *Registry) Count() int {
	return r.base.Count()
}

// Remove drops a function and any canonical alias pointing at it.
func (r *Registry) Remove(name string) error {
	fn, ok := r.base.Get(name)
	if !ok {
		return fmt.Errorf("function %q not found", name)
	}
	if fn.CanonicalName != "" {
		delete(r.canonical, fn.CanonicalName)
	}
	return r.base.Remove(name)
}

// Definitions projects the registry into the provider-neutral schema list
// handed to the LLM.
func (r *Registry) Definitions() []llm.FunctionDef {
	fns := r.base.List()
	defs := make([]llm.FunctionDef, 0, len(fns))
	for _, fn := range fns {
		defs = append(defs, llm.FunctionDef{
			Name:        fn.Name,
			Description: fn.Description,
			Parameters:  fn.Parameters,
		})
	}
	return defs
}
