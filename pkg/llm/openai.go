package llm

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider speaks the OpenAI Chat Completions API with native tool
// calling.
type OpenAIProvider struct {
	client       *openai.Client
	model        string
	temperature  *float64
	maxTokens    int
	capabilities map[Capability]bool
}

// NewOpenAI builds an OpenAI provider. baseURL overrides the API endpoint
// for OpenAI-compatible servers.
func NewOpenAI(model, apiKey, baseURL string, temperature *float64, maxTokens int) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, &ProviderError{Provider: "openai", Message: "api key is required"}
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		capabilities: map[Capability]bool{
			CapabilityChatCompletion:  true,
			CapabilityFunctionCalling: true,
			CapabilityStreaming:       true,
			CapabilityJSONMode:        true,
			CapabilitySystemMessages:  true,
		},
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) HasCapability(c Capability) bool { return p.capabilities[c] }

func (p *OpenAIProvider) Close() error { return nil }

func (p *OpenAIProvider) ChatComplete(ctx context.Context, messages []ChatMessage) (*Response, error) {
	return p.complete(ctx, messages, nil)
}

func (p *OpenAIProvider) ChatCompleteWithFunctions(ctx context.Context, messages []ChatMessage, functions []FunctionDef) (*Response, error) {
	return p.complete(ctx, messages, functions)
}

func (p *OpenAIProvider) complete(ctx context.Context, messages []ChatMessage, functions []FunctionDef) (*Response, error) {
	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: encodeOpenAIMessages(messages),
	}
	if p.temperature != nil {
		req.Temperature = float32(*p.temperature)
	}
	if p.maxTokens > 0 {
		req.MaxTokens = p.maxTokens
	}

	if len(functions) > 0 {
		tools, err := encodeOpenAITools(functions)
		if err != nil {
			return nil, err
		}
		req.Tools = tools
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, &ProviderError{Provider: "openai", Message: "chat completion failed", Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: "openai", Message: "empty response"}
	}

	choice := resp.Choices[0]
	out := &Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, call := range choice.Message.ToolCalls {
		args := make(map[string]any)
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				args = map[string]any{"raw": call.Function.Arguments}
			}
		}
		out.FunctionCalls = append(out.FunctionCalls, FunctionCall{
			Name:      call.Function.Name,
			Arguments: args,
			CallID:    call.ID,
		})
	}
	return out, nil
}

func encodeOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	encoded := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
		if m.Role == "function" {
			// OpenAI retired the function role in favor of tool.
			msg.Role = openai.ChatMessageRoleTool
		}
		if msg.Role == openai.ChatMessageRoleTool {
			msg.ToolCallID = m.CallID
			msg.Name = m.Name
		}
		for _, call := range m.FunctionCalls {
			arguments, err := json.Marshal(call.Arguments)
			if err != nil {
				arguments = []byte("{}")
			}
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   call.CallID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: string(arguments),
				},
			})
		}
		encoded = append(encoded, msg)
	}
	return encoded
}

func encodeOpenAITools(functions []FunctionDef) ([]openai.Tool, error) {
	tools := make([]openai.Tool, 0, len(functions))
	for _, fn := range functions {
		params, err := json.Marshal(fn.Parameters)
		if err != nil {
			return nil, fmt.Errorf("marshal function %s schema: %w", fn.Name, err)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return tools, nil
}
