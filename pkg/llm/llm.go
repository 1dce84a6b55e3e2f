// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AgentUp Authors

// Package llm defines the provider-agnostic LLM interface used by the
// dispatcher, plus adapters for OpenAI, Anthropic, and Ollama.
package llm

import (
	"context"
	"fmt"
)

// Capability flags a provider may advertise.
type Capability string

const (
	CapabilityTextCompletion     Capability = "text_completion"
	CapabilityChatCompletion     Capability = "chat_completion"
	CapabilityFunctionCalling    Capability = "function_calling"
	CapabilityStreaming          Capability = "streaming"
	CapabilityEmbeddings         Capability = "embeddings"
	CapabilityImageUnderstanding Capability = "image_understanding"
	CapabilityJSONMode           Capability = "json_mode"
	CapabilitySystemMessages     Capability = "system_messages"
)

// FunctionCall is one call requested by the model.
type FunctionCall struct {
	Name      string
	Arguments map[string]any
	CallID    string
}

// ChatMessage is the provider-neutral chat message shape.
// For function-result messages Role is "tool", Name is the function name,
// and CallID echoes the originating call.
type ChatMessage struct {
	Role          string
	Content       string
	Name          string
	CallID        string
	FunctionCalls []FunctionCall
}

// FunctionDef describes one callable function offered to the model.
// Parameters is a JSON schema object.
type FunctionDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Usage reports token accounting when the provider supplies it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the normalized completion result.
type Response struct {
	Content       string
	FinishReason  string
	Model         string
	FunctionCalls []FunctionCall
	Usage         Usage
}

// Provider is a chat-completion backend.
type Provider interface {
	Name() string
	HasCapability(Capability) bool

	// ChatComplete generates a completion without function schemas.
	ChatComplete(ctx context.Context, messages []ChatMessage) (*Response, error)

	// ChatCompleteWithFunctions generates a completion with native function
	// calling. Providers without CapabilityFunctionCalling may return
	// ErrNativeFunctionsUnsupported.
	ChatCompleteWithFunctions(ctx context.Context, messages []ChatMessage, functions []FunctionDef) (*Response, error)

	Close() error
}

// ErrNativeFunctionsUnsupported signals that a provider has no native
// function-calling path.
var ErrNativeFunctionsUnsupported = &ProviderError{
	Provider: "",
	Message:  "native function calling not supported",
}

// ProviderError is an LLM provider failure.
type ProviderError struct {
	Provider string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// CompleteWithFunctions runs a function-equipped completion, using the
// provider's native path when it advertises CapabilityFunctionCalling and
// the prompt-based fallback grammar otherwise.
func CompleteWithFunctions(ctx context.Context, p Provider, messages []ChatMessage, functions []FunctionDef) (*Response, error) {
	if len(functions) == 0 {
		return p.ChatComplete(ctx, messages)
	}

	if p.HasCapability(CapabilityFunctionCalling) {
		return p.ChatCompleteWithFunctions(ctx, messages, functions)
	}

	enhanced := injectFunctionPrompt(messages, functions)
	resp, err := p.ChatComplete(ctx, enhanced)
	if err != nil {
		return nil, err
	}
	resp.FunctionCalls = ParseFunctionCalls(resp.Content)
	return resp, nil
}

// New builds a provider from its configured name.
func New(provider, model, apiKey, baseURL string, temperature *float64, maxTokens int) (Provider, error) {
	switch provider {
	case "openai":
		return NewOpenAI(model, apiKey, baseURL, temperature, maxTokens)
	case "anthropic":
		return NewAnthropic(model, apiKey, temperature, maxTokens)
	case "ollama":
		return NewOllama(model, baseURL, temperature, maxTokens), nil
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", provider)
	}
}
