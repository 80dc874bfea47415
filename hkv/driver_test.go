package hkv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDriver_Registry(t *testing.T) {
	t.Parallel()

	d := NewDriver(nil)
	t.Cleanup(func() { _ = d.Close() })

	users, err := Create(d, Options[string]{Name: "users", ObjectSize: 8})
	require.NoError(t, err)
	blocks, err := Create(d, Options[uint64]{Name: "blocks", ObjectSize: 8})
	require.NoError(t, err)

	require.Equal(t, 2, d.Len())
	list := d.Tables()
	require.Len(t, list, 2)
	require.Equal(t, users.ID(), list[0].ID())
	require.Equal(t, blocks.ID(), list[1].ID())

	info, ok := d.Lookup("blocks")
	require.True(t, ok)
	require.Equal(t, blocks.ID(), info.ID())

	ref, _, err := blocks.GetOrCreateWithReadAcquire(42)
	require.NoError(t, err)
	ref.Release()
	got, ok := d.Get(blocks.ID())
	require.True(t, ok)
	require.Equal(t, 1, got.Len())

	// Closing a table unregisters it.
	require.NoError(t, users.Close())
	_, ok = d.Get(users.ID())
	require.False(t, ok)

	require.NoError(t, d.Drop(blocks.ID()))
	require.Error(t, d.Drop(blocks.ID()))
	require.Equal(t, 0, d.Len())
}

func TestDriver_CloseAll(t *testing.T) {
	t.Parallel()

	d := NewDriver(nil)
	a, err := Create(d, Options[int64]{Name: "a"})
	require.NoError(t, err)
	_, err = Create(d, Options[int32]{Name: "b"})
	require.NoError(t, err)

	require.NoError(t, d.Close())
	require.Equal(t, 0, d.Len())

	_, _, err = a.GetOrCreateWithReadAcquire(1)
	require.ErrorIs(t, err, ErrClosed)

	_, err = Create(d, Options[float32]{Name: "bad"})
	require.ErrorIs(t, err, ErrUnsupportedKeyType)
	require.Equal(t, 0, d.Len())
}
