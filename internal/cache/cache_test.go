package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	value := []byte("hello")
	require.NoError(t, m.Set(ctx, "k", value))
	value[0] = 'j'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got), "stored values must not alias the caller's slice")

	require.NoError(t, m.Remove(ctx, "k"))
	require.NoError(t, m.Remove(ctx, "k"))
	assert.Equal(t, 0, m.Len())
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	var out record
	found, err := LoadJSON(ctx, m, "rec", &out)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, StoreJSON(ctx, m, "rec", record{Name: "chores", Count: 3}))
	found, err = LoadJSON(ctx, m, "rec", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, record{Name: "chores", Count: 3}, out)

	require.NoError(t, m.Set(ctx, "bad", []byte("{")))
	_, err = LoadJSON(ctx, m, "bad", &out)
	assert.Error(t, err)
}
