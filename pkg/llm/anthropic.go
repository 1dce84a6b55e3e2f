package llm

import (
	"context"
	"encoding/json"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicProvider speaks the Anthropic Messages API with native tool use.
type AnthropicProvider struct {
	client       sdk.Client
	model        string
	temperature  *float64
	maxTokens    int
	capabilities map[Capability]bool
}

func NewAnthropic(model, apiKey string, temperature *float64, maxTokens int) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, &ProviderError{Provider: "anthropic", Message: "api key is required"}
	}
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicProvider{
		client:      sdk.NewClient(option.WithAPIKey(apiKey)),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		capabilities: map[Capability]bool{
			CapabilityChatCompletion:  true,
			CapabilityFunctionCalling: true,
			CapabilityStreaming:       true,
			CapabilitySystemMessages:  true,
		},
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) HasCapability(c Capability) bool { return p.capabilities[c] }

func (p *AnthropicProvider) Close() error { return nil }

func (p *AnthropicProvider) ChatComplete(ctx context.Context, messages []ChatMessage) (*Response, error) {
	return p.complete(ctx, messages, nil)
}

func (p *AnthropicProvider) ChatCompleteWithFunctions(ctx context.Context, messages []ChatMessage, functions []FunctionDef) (*Response, error) {
	return p.complete(ctx, messages, functions)
}

func (p *AnthropicProvider) complete(ctx context.Context, messages []ChatMessage, functions []FunctionDef) (*Response, error) {
	conversation, system := encodeAnthropicMessages(messages)

	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		Messages:  conversation,
	}
	if len(system) > 0 {
		params.System = system
	}
	if p.temperature != nil {
		params.Temperature = sdk.Float(*p.temperature)
	}
	if len(functions) > 0 {
		params.Tools = encodeAnthropicTools(functions)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, &ProviderError{Provider: "anthropic", Message: "message request failed", Err: err}
	}

	out := &Response{
		FinishReason: string(msg.StopReason),
		Model:        string(msg.Model),
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			args := make(map[string]any)
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					args = map[string]any{"raw": string(block.Input)}
				}
			}
			out.FunctionCalls = append(out.FunctionCalls, FunctionCall{
				Name:      block.Name,
				Arguments: args,
				CallID:    block.ID,
			})
		}
	}
	return out, nil
}

func encodeAnthropicMessages(messages []ChatMessage) ([]sdk.MessageParam, []sdk.TextBlockParam) {
	conversation := make([]sdk.MessageParam, 0, len(messages))
	var system []sdk.TextBlockParam

	for _, m := range messages {
		switch m.Role {
		case "system":
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}

		case "assistant":
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.FunctionCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, call := range m.FunctionCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(call.CallID, call.Arguments, call.Name))
			}
			if len(blocks) > 0 {
				conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
			}

		case "tool", "function":
			// Tool results ride in user-role messages on this API.
			conversation = append(conversation,
				sdk.NewUserMessage(sdk.NewToolResultBlock(m.CallID, m.Content, false)))

		default:
			if m.Content != "" {
				conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
			}
		}
	}
	return conversation, system
}

func encodeAnthropicTools(functions []FunctionDef) []sdk.ToolUnionParam {
	tools := make([]sdk.ToolUnionParam, 0, len(functions))
	for _, fn := range functions {
		schema := sdk.ToolInputSchemaParam{}
		if fn.Parameters != nil {
			schema.ExtraFields = fn.Parameters
		}
		u := sdk.ToolUnionParamOfTool(schema, fn.Name)
		if u.OfTool != nil && fn.Description != "" {
			u.OfTool.Description = sdk.String(fn.Description)
		}
		tools = append(tools, u)
	}
	return tools
}
