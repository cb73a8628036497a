package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemory_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, GearKey("a"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Put(ctx, GearKey("a"), []byte(`{"id":"a"}`)))
	v, err := m.Get(ctx, GearKey("a"))
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"a"}`, string(v))

	require.NoError(t, m.Delete(ctx, GearKey("a")))
	require.ErrorIs(t, m.Delete(ctx, GearKey("a")), ErrNotFound)
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, "k", []byte("abc")))

	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	v[0] = 'z'

	again, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "abc", string(again))
}

func TestMemory_ListKeysByPrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, PatchKey("p2"), []byte("{}")))
	require.NoError(t, m.Put(ctx, PatchKey("p1"), []byte("{}")))
	require.NoError(t, m.Put(ctx, GearKey("g1"), []byte("{}")))

	keys, err := m.ListKeys(ctx, PatchPrefix())
	require.NoError(t, err)
	require.Equal(t, []string{PatchKey("p1"), PatchKey("p2")}, keys)

	keys, err = m.ListKeys(ctx, GearPrefix())
	require.NoError(t, err)
	require.Equal(t, []string{GearKey("g1")}, keys)
}
