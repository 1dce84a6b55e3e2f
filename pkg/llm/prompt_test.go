package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFunctionCalls(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []FunctionCall
	}{
		{
			name:    "single call with string args",
			content: `FUNCTION_CALL: get_weather(city="Berlin", unit="celsius")`,
			want: []FunctionCall{
				{Name: "get_weather", Arguments: map[string]any{"city": "Berlin", "unit": "celsius"}},
			},
		},
		{
			name: "multiple calls across lines",
			content: "Let me check.\n" +
				`FUNCTION_CALL: first(a="1")` + "\n" +
				`FUNCTION_CALL: second(b="2")` + "\n" +
				"Done.",
			want: []FunctionCall{
				{Name: "first", Arguments: map[string]any{"a": "1"}},
				{Name: "second", Arguments: map[string]any{"b": "2"}},
			},
		},
		{
			name:    "bare values are typed",
			content: `FUNCTION_CALL: calc(n=3, ratio=0.5, flag=true, missing=null)`,
			want: []FunctionCall{
				{Name: "calc", Arguments: map[string]any{"n": 3, "ratio": 0.5, "flag": true, "missing": nil}},
			},
		},
		{
			name:    "quoted value with comma and escaped quote",
			content: `FUNCTION_CALL: echo(text="hello, \"world\"")`,
			want: []FunctionCall{
				{Name: "echo", Arguments: map[string]any{"text": `hello, "world"`}},
			},
		},
		{
			name:    "no arguments",
			content: `FUNCTION_CALL: status()`,
			want: []FunctionCall{
				{Name: "status", Arguments: map[string]any{}},
			},
		},
		{
			name:    "plain text has no calls",
			content: "The weather in Berlin is sunny.",
			want:    nil,
		},
		{
			name:    "malformed call is skipped",
			content: "FUNCTION_CALL: not a function\nFUNCTION_CALL: ok(a=1)",
			want: []FunctionCall{
				{Name: "ok", Arguments: map[string]any{"a": 1}},
			},
		},
		{
			name:    "unterminated string is skipped",
			content: `FUNCTION_CALL: echo(text="oops)`,
			want:    nil,
		},
		{
			name:    "marker mid-line is ignored",
			content: `The grammar is FUNCTION_CALL: name(args) on its own line.`,
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseFunctionCalls(tt.content)
			require.Len(t, got, len(tt.want))
			for i, want := range tt.want {
				assert.Equal(t, want.Name, got[i].Name)
				assert.Equal(t, want.Arguments, got[i].Arguments)
			}
		})
	}
}

func TestInjectFunctionPrompt(t *testing.T) {
	defs := []FunctionDef{
		{Name: "get_weather", Description: "Get the weather.", Parameters: map[string]any{
			"properties": map[string]any{
				"city": map[string]any{"type": "string", "description": "City name"},
			},
		}},
	}

	t.Run("prepends system message", func(t *testing.T) {
		messages := injectFunctionPrompt([]ChatMessage{{Role: "user", Content: "hi"}}, defs)
		require.Len(t, messages, 2)
		assert.Equal(t, "system", messages[0].Role)
		assert.Contains(t, messages[0].Content, "get_weather")
		assert.Contains(t, messages[0].Content, "FUNCTION_CALL:")
	})

	t.Run("extends existing system message", func(t *testing.T) {
		messages := injectFunctionPrompt([]ChatMessage{
			{Role: "system", Content: "You are helpful."},
			{Role: "user", Content: "hi"},
		}, defs)
		require.Len(t, messages, 2)
		assert.Contains(t, messages[0].Content, "You are helpful.")
		assert.Contains(t, messages[0].Content, "get_weather")
	})
}
