package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentup/agentup/pkg/a2a"
	"github.com/agentup/agentup/pkg/auth"
	"github.com/agentup/agentup/pkg/capabilities"
	"github.com/agentup/agentup/pkg/config"
	"github.com/agentup/agentup/pkg/functions"
	"github.com/agentup/agentup/pkg/llm"
	"github.com/agentup/agentup/pkg/logger"
	"github.com/agentup/agentup/pkg/metrics"
	"github.com/agentup/agentup/pkg/state"
)

const defaultMaxIterations = 5

// ErrMaxIterations marks a function-calling loop that never converged.
type ErrMaxIterations struct {
	Limit int
}

func (e *ErrMaxIterations) Error() string {
	return fmt.Sprintf("function-calling loop exceeded %d iterations", e.Limit)
}

// Dispatcher runs the LLM function-calling loop over the function registry.
type Dispatcher struct {
	provider      llm.Provider
	functions     *functions.Registry
	capabilities  *capabilities.Registry
	state         state.Store
	auth          *auth.Manager
	systemPrompt  string
	maxIterations int
	tracer        trace.Tracer

	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

func NewDispatcher(cfg config.AIProviderConfig, provider llm.Provider, reg *functions.Registry, caps *capabilities.Registry, st state.Store, authMgr *auth.Manager) *Dispatcher {
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	return &Dispatcher{
		provider:      provider,
		functions:     reg,
		capabilities:  caps,
		state:         st,
		auth:          authMgr,
		systemPrompt:  cfg.SystemPrompt,
		maxIterations: maxIterations,
		tracer:        otel.Tracer("agentup/dispatch"),
		schemas:       make(map[string]*jsonschema.Schema),
	}
}

// DispatchTask answers the latest user message, calling functions as the
// model requests, and returns the final assistant text.
func (d *Dispatcher) DispatchTask(ctx context.Context, task *a2a.Task, userInput string) (string, error) {
	log := logger.WithComponent("dispatcher")

	messages := d.buildMessages(ctx, task, userInput)
	defs := d.functions.Definitions()

	for iteration := 0; iteration < d.maxIterations; iteration++ {
		resp, err := llm.CompleteWithFunctions(ctx, d.provider, messages, defs)
		if err != nil {
			return "", fmt.Errorf("llm completion: %w", err)
		}

		if len(resp.FunctionCalls) == 0 {
			return resp.Content, nil
		}

		log.Debug("model requested function calls",
			"task_id", task.ID, "iteration", iteration, "calls", len(resp.FunctionCalls))

		messages = append(messages, llm.ChatMessage{
			Role:          "assistant",
			Content:       resp.Content,
			FunctionCalls: resp.FunctionCalls,
		})

		// Calls run sequentially in the order the model emitted them.
		for _, call := range resp.FunctionCalls {
			content := d.invoke(ctx, task, call)
			messages = append(messages, llm.ChatMessage{
				Role:    "tool",
				Name:    call.Name,
				CallID:  call.CallID,
				Content: content,
			})
		}
	}

	return "", &ErrMaxIterations{Limit: d.maxIterations}
}

// buildMessages assembles the system message, prior conversation history,
// and the latest user message.
func (d *Dispatcher) buildMessages(ctx context.Context, task *a2a.Task, userInput string) []llm.ChatMessage {
	var messages []llm.ChatMessage
	if system := d.systemMessage(); system != "" {
		messages = append(messages, llm.ChatMessage{Role: "system", Content: system})
	}

	if d.state != nil && task.ContextID != "" {
		history, err := d.state.GetHistory(ctx, task.ContextID, 0)
		if err != nil {
			logger.WithComponent("dispatcher").Warn("failed to load conversation history",
				"context_id", task.ContextID, "error", err)
		}
		for _, msg := range history {
			messages = append(messages, llm.ChatMessage{Role: msg.Role, Content: msg.Content})
		}
	}

	messages = append(messages, llm.ChatMessage{Role: "user", Content: userInput})
	return messages
}

// systemMessage joins the configured system prompt with the prompts declared
// by active capabilities, in registration order.
func (d *Dispatcher) systemMessage() string {
	parts := make([]string, 0, 2)
	if d.systemPrompt != "" {
		parts = append(parts, d.systemPrompt)
	}
	if d.capabilities != nil {
		for _, entry := range d.capabilities.List() {
			if entry.Status == capabilities.StatusActive && entry.Info.SystemPrompt != "" {
				parts = append(parts, entry.Info.SystemPrompt)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

// invoke resolves, authorizes, validates, and executes one function call.
// Failures come back as text so the model can recover instead of failing
// the task.
func (d *Dispatcher) invoke(ctx context.Context, task *a2a.Task, call llm.FunctionCall) string {
	ctx, span := d.tracer.Start(ctx, "function.call",
		trace.WithAttributes(attribute.String("function.name", call.Name)))
	defer span.End()

	start := time.Now()
	result, err := d.execute(ctx, task, call)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ObserveFunctionCall(call.Name, "error", time.Since(start))
		return fmt.Sprintf("Error: %s", err)
	}
	span.SetStatus(codes.Ok, "")
	metrics.ObserveFunctionCall(call.Name, "ok", time.Since(start))

	switch v := result.(type) {
	case string:
		return v
	default:
		if data, merr := json.Marshal(v); merr == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	}
}

func (d *Dispatcher) execute(ctx context.Context, task *a2a.Task, call llm.FunctionCall) (any, error) {
	fn, ok := d.functions.Resolve(call.Name)
	if !ok {
		return nil, fmt.Errorf("unknown function %q", call.Name)
	}

	if len(fn.RequiredScopes) > 0 {
		ac := auth.FromContext(ctx)
		if err := d.auth.CheckScopes(ac, fn.RequiredScopes); err != nil {
			return nil, fmt.Errorf("not authorized to call %s: %w", fn.Name, err)
		}
	}

	if err := d.validateArguments(fn, call.Arguments); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", fn.Name, err)
	}

	return fn.Handler(ctx, task, call.Arguments)
}

// validateArguments checks call arguments against the function's JSON
// schema. Schemas compile lazily and are cached by function name; a schema
// that fails to compile skips validation rather than blocking the call.
func (d *Dispatcher) validateArguments(fn *functions.Function, args map[string]any) error {
	if len(fn.Parameters) == 0 {
		return nil
	}

	schema, err := d.compiledSchema(fn)
	if err != nil {
		logger.WithComponent("dispatcher").Warn("function schema failed to compile",
			"function", fn.Name, "error", err)
		return nil
	}

	// Round-trip so argument values are plain decoded-JSON types.
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	return schema.Validate(decoded)
}

func (d *Dispatcher) compiledSchema(fn *functions.Function) (*jsonschema.Schema, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if schema, ok := d.schemas[fn.Name]; ok {
		return schema, nil
	}

	compiler := jsonschema.NewCompiler()
	url := "agentup://functions/" + fn.Name + ".json"
	if err := compiler.AddResource(url, toSchemaDoc(fn.Parameters)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	d.schemas[fn.Name] = schema
	return schema, nil
}

// toSchemaDoc round-trips the schema map into decoded-JSON form.
func toSchemaDoc(params map[string]any) any {
	data, err := json.Marshal(params)
	if err != nil {
		return params
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return params
	}
	return doc
}
