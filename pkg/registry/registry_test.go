package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID string
}

func TestRegister(t *testing.T) {
	r := NewBaseRegistry[item]()

	t.Run("registers and resolves", func(t *testing.T) {
		require.NoError(t, r.Register("a", item{ID: "a"}))
		got, ok := r.Get("a")
		require.True(t, ok)
		assert.Equal(t, "a", got.ID)
	})

	t.Run("empty name fails", func(t *testing.T) {
		assert.Error(t, r.Register("", item{}))
	})

	t.Run("duplicate name fails", func(t *testing.T) {
		assert.Error(t, r.Register("a", item{ID: "other"}))
	})

	t.Run("unknown name misses", func(t *testing.T) {
		_, ok := r.Get("missing")
		assert.False(t, ok)
	})
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	r := NewBaseRegistry[item]()
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, r.Register(name, item{ID: name}))
	}

	var ids []string
	for _, it := range r.List() {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []string{"charlie", "alpha", "bravo"}, ids)

	// Names are sorted, unlike List.
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, r.Names())
}

func TestRemove(t *testing.T) {
	r := NewBaseRegistry[item]()
	require.NoError(t, r.Register("a", item{ID: "a"}))
	require.NoError(t, r.Register("b", item{ID: "b"}))
	require.NoError(t, r.Register("c", item{ID: "c"}))

	t.Run("removes and drops from order", func(t *testing.T) {
		require.NoError(t, r.Remove("b"))
		_, ok := r.Get("b")
		assert.False(t, ok)

		var ids []string
		for _, it := range r.List() {
			ids = append(ids, it.ID)
		}
		assert.Equal(t, []string{"a", "c"}, ids)
	})

	t.Run("unknown name fails", func(t *testing.T) {
		assert.Error(t, r.Remove("missing"))
	})
}

func TestClear(t *testing.T) {
	r := NewBaseRegistry[item]()
	require.NoError(t, r.Register("a", item{ID: "a"}))
	require.NoError(t, r.Register("b", item{ID: "b"}))

	r.Clear()
	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.List())
}

func TestConcurrentAccess(t *testing.T) {
	r := NewBaseRegistry[item]()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = r.Register(fmt.Sprintf("item-%d", i), item{ID: fmt.Sprintf("item-%d", i)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			r.Get(fmt.Sprintf("item-%d", i))
			r.List()
			r.Count()
		}
	}()
	wg.Wait()

	assert.Equal(t, 100, r.Count())
}
