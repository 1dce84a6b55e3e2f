package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentup/agentup/pkg/config"
)

func TestSelectCapability(t *testing.T) {
	router := NewRouter([]config.PluginConfig{
		{
			CapabilityID: "echo",
			RoutingMode:  "direct",
			Keywords:     []string{"echo", "repeat"},
		},
		{
			CapabilityID: "weather",
			RoutingMode:  "direct",
			Keywords:     []string{"weather"},
			Patterns:     []string{`forecast for \w+`},
		},
		{
			CapabilityID: "assistant",
			RoutingMode:  "ai",
			Keywords:     []string{"anything"},
		},
	}, config.RoutingConfig{FallbackCapability: "assistant", DefaultMode: "ai"})

	tests := []struct {
		name     string
		input    string
		wantID   string
		wantMode RoutingMode
	}{
		{"keyword match", "please echo this back", "echo", ModeDirect},
		{"keyword is case-insensitive", "ECHO hello", "echo", ModeDirect},
		{"first configured capability wins", "echo the weather", "echo", ModeDirect},
		{"pattern match", "what is the Forecast for Berlin", "weather", ModeDirect},
		{"ai-mode capability does not match directly", "anything goes", "assistant", ModeAI},
		{"no match falls back", "tell me a story", "assistant", ModeAI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, mode := router.SelectCapability(tt.input)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantMode, mode)
		})
	}
}

func TestSelectCapabilityDefaults(t *testing.T) {
	t.Run("default mode is ai", func(t *testing.T) {
		router := NewRouter(nil, config.RoutingConfig{FallbackCapability: "fb"})
		id, mode := router.SelectCapability("hello")
		assert.Equal(t, "fb", id)
		assert.Equal(t, ModeAI, mode)
	})

	t.Run("direct default mode", func(t *testing.T) {
		router := NewRouter(nil, config.RoutingConfig{FallbackCapability: "fb", DefaultMode: "direct"})
		_, mode := router.SelectCapability("hello")
		assert.Equal(t, ModeDirect, mode)
	})
}

func TestNewRouterInvalidPattern(t *testing.T) {
	// A pattern that fails to compile is skipped; the capability's other
	// patterns still route.
	router := NewRouter([]config.PluginConfig{
		{
			CapabilityID: "files",
			RoutingMode:  "direct",
			Patterns:     []string{`[invalid`, `read file`},
		},
	}, config.RoutingConfig{FallbackCapability: "fb"})

	id, mode := router.SelectCapability("please read file notes.txt")
	assert.Equal(t, "files", id)
	assert.Equal(t, ModeDirect, mode)

	id, _ = router.SelectCapability("[invalid")
	assert.Equal(t, "fb", id)
}

func TestShapeParts(t *testing.T) {
	t.Run("string becomes text part", func(t *testing.T) {
		parts := shapeParts("hello")
		assert.Len(t, parts, 1)
		assert.Equal(t, "hello", parts[0].Text)
	})

	t.Run("map with summary becomes text plus data", func(t *testing.T) {
		parts := shapeParts(map[string]any{"summary": "done", "count": 3})
		assert.Len(t, parts, 2)
		assert.Equal(t, "done", parts[0].Text)
		data, ok := parts[1].Data.(map[string]any)
		assert.True(t, ok)
		assert.Equal(t, 3, data["count"])
	})

	t.Run("map without summary becomes data part", func(t *testing.T) {
		parts := shapeParts(map[string]any{"count": 3})
		assert.Len(t, parts, 1)
		assert.Equal(t, "application/json", parts[0].MimeType)
	})

	t.Run("list is wrapped in items", func(t *testing.T) {
		parts := shapeParts([]any{"a", "b"})
		assert.Len(t, parts, 1)
		data := parts[0].Data.(map[string]any)
		assert.Equal(t, []any{"a", "b"}, data["items"])
	})

	t.Run("nil becomes empty text", func(t *testing.T) {
		parts := shapeParts(nil)
		assert.Len(t, parts, 1)
		assert.Equal(t, "", parts[0].Text)
	})

	t.Run("other values are stringified", func(t *testing.T) {
		parts := shapeParts(42)
		assert.Equal(t, "42", parts[0].Text)
	})
}

func TestArtifactNames(t *testing.T) {
	assert.Equal(t, "my-agent-result", ResultArtifact("my-agent", "x").Name)
	assert.Equal(t, "my-agent-stream-2", StreamArtifact("my-agent", 2, "x").Name)
}
