package store

import (
	"context"
	"testing"

	"github.com/gagentflow/gagent"
	"github.com/stretchr/testify/require"
)

type greeterConfig struct {
	Greeting string
}

func TestMemoryConfigStoreIsolatesByType(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryConfigStore[greeterConfig]()
	id := gagent.NewAgentId()

	require.NoError(t, s.Save(ctx, "greeter", id, greeterConfig{Greeting: "hi"}))
	require.NoError(t, s.Save(ctx, "shouter", id, greeterConfig{Greeting: "HI"}))

	got, ok, err := s.Load(ctx, "greeter", id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hi", got.Greeting)

	got, ok, err = s.Load(ctx, "shouter", id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "HI", got.Greeting)

	require.NoError(t, s.Delete(ctx, "greeter", id))
	_, ok, err = s.Load(ctx, "greeter", id)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.Exists(ctx, "shouter", id)
	require.NoError(t, err)
	require.True(t, ok)
}
