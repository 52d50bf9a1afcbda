package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreIdempotentOverwrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	require.NoError(t, store.Put(ctx, "0xabc", []byte("first")))
	require.NoError(t, store.Put(ctx, "0xabc", []byte("second")))

	keys, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xabc"}, keys)

	got, err := store.Get(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestMemStoreMissingKey(t *testing.T) {
	_, err := NewMemStore().Get(context.Background(), "0xmissing")
	assert.Error(t, err)
}
