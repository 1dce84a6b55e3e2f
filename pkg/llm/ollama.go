package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/agentup/agentup/pkg/httpclient"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// OllamaProvider speaks the Ollama chat API over plain HTTP. It does not
// advertise native function calling, so function-equipped completions go
// through the prompt-based fallback grammar.
type OllamaProvider struct {
	baseURL     string
	model       string
	temperature *float64
	maxTokens   int
	client      *httpclient.Client
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func NewOllama(model, baseURL string, temperature *float64, maxTokens int) *OllamaProvider {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return &OllamaProvider{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		client:      httpclient.New(httpclient.WithMaxRetries(3)),
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) HasCapability(c Capability) bool {
	switch c {
	case CapabilityChatCompletion, CapabilityStreaming, CapabilitySystemMessages:
		return true
	default:
		return false
	}
}

func (p *OllamaProvider) Close() error { return nil }

func (p *OllamaProvider) ChatComplete(ctx context.Context, messages []ChatMessage) (*Response, error) {
	reqBody := ollamaRequest{
		Model:    p.model,
		Messages: encodeOllamaMessages(messages),
		Stream:   false,
	}
	if p.temperature != nil || p.maxTokens > 0 {
		opts := &ollamaOptions{NumPredict: p.maxTokens}
		if p.temperature != nil {
			opts.Temperature = *p.temperature
		}
		reqBody.Options = opts
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &ProviderError{Provider: "ollama", Message: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, &ProviderError{Provider: "ollama", Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: "ollama", Message: "chat request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ProviderError{
			Provider: "ollama",
			Message:  fmt.Sprintf("chat request returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &ProviderError{Provider: "ollama", Message: "decode response", Err: err}
	}

	finish := parsed.DoneReason
	if finish == "" && parsed.Done {
		finish = "stop"
	}

	return &Response{
		Content:      parsed.Message.Content,
		FinishReason: finish,
		Model:        parsed.Model,
		Usage: Usage{
			PromptTokens:     parsed.PromptEvalCount,
			CompletionTokens: parsed.EvalCount,
			TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
		},
	}, nil
}

func (p *OllamaProvider) ChatCompleteWithFunctions(ctx context.Context, messages []ChatMessage, functions []FunctionDef) (*Response, error) {
	return nil, ErrNativeFunctionsUnsupported
}

func encodeOllamaMessages(messages []ChatMessage) []ollamaMessage {
	encoded := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role == "tool" || role == "function" {
			// Ollama chat has no tool role; fold results into user turns.
			role = "user"
		}
		encoded = append(encoded, ollamaMessage{Role: role, Content: m.Content})
	}
	return encoded
}
