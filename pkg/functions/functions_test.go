package functions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentup/agentup/pkg/a2a"
)

func noopHandler(ctx context.Context, task *a2a.Task, args map[string]any) (any, error) {
	return "ok", nil
}

func TestRegister(t *testing.T) {
	r := NewRegistry()

	t.Run("registers and resolves", func(t *testing.T) {
		require.NoError(t, r.Register(&Function{Name: "get_weather", Handler: noopHandler}))
		fn, ok := r.Resolve("get_weather")
		require.True(t, ok)
		assert.Equal(t, "get_weather", fn.Name)
	})

	t.Run("duplicate name fails", func(t *testing.T) {
		err := r.Register(&Function{Name: "get_weather", Handler: noopHandler})
		assert.Error(t, err)
	})

	t.Run("nil handler fails", func(t *testing.T) {
		assert.Error(t, r.Register(&Function{Name: "broken"}))
	})

	t.Run("reserved names fail", func(t *testing.T) {
		for _, name := range []string{"eval", "exec", "import", "compile"} {
			assert.Error(t, r.Register(&Function{Name: name, Handler: noopHandler}), name)
		}
	})
}

func TestRegisterMCPTool(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterMCPTool("filesystem", "read_file", &Function{Handler: noopHandler}))

	t.Run("resolves by sanitized name", func(t *testing.T) {
		fn, ok := r.Resolve("filesystem_read_file")
		require.True(t, ok)
		assert.True(t, fn.IsMCP)
		assert.Equal(t, "filesystem", fn.OriginServer)
	})

	t.Run("resolves by canonical name", func(t *testing.T) {
		fn, ok := r.Resolve("filesystem:read_file")
		require.True(t, ok)
		assert.Equal(t, "filesystem_read_file", fn.Name)
		assert.Equal(t, "filesystem:read_file", fn.CanonicalName)
	})

	t.Run("remove drops the canonical alias", func(t *testing.T) {
		require.NoError(t, r.Remove("filesystem_read_file"))
		_, ok := r.Resolve("filesystem:read_file")
		assert.False(t, ok)
	})
}

func TestSanitizeToolName(t *testing.T) {
	assert.Equal(t, "fs_read", SanitizeToolName("fs", "read"))
	assert.Equal(t, "ns_a_b", SanitizeToolName("ns:a", "b"))
}

func TestDefinitions(t *testing.T) {
	r := NewRegistry()
	params := map[string]any{"type": "object"}
	require.NoError(t, r.Register(&Function{
		Name:        "first",
		Description: "The first function",
		Parameters:  params,
		Handler:     noopHandler,
	}))
	require.NoError(t, r.Register(&Function{Name: "second", Handler: noopHandler}))

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "first", defs[0].Name)
	assert.Equal(t, "The first function", defs[0].Description)
	assert.Equal(t, params, defs[0].Parameters)
	assert.Equal(t, "second", defs[1].Name)
}
