package hkv

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/hkvtable/policy/busy"
)

// With the default idle-first policy a leased entry survives while an idle
// one is evicted.
func TestEvict_IdleFirst(t *testing.T) {
	t.Parallel()

	tb := newTable(t, Options[string]{ObjectsLimit: 2, SharedCount: 1})

	held, _, err := tb.GetOrCreateWithReadAcquire("held")
	require.NoError(t, err)
	idle, _, err := tb.GetOrCreateWithReadAcquire("idle")
	require.NoError(t, err)
	idle.Release()

	ref, existed, err := tb.GetOrCreateWithReadAcquire("new")
	require.NoError(t, err)
	require.False(t, existed)
	ref.Release()

	_, ok := tb.TryGetWithReadAcquire("idle")
	require.False(t, ok, "idle entry should have been evicted")
	r, ok := tb.TryGetWithReadAcquire("held")
	require.True(t, ok)
	r.Release()
	held.Release()
}

// The busy-first policy picks the leased entry; the allocation then waits
// for that lease to be released.
func TestEvict_BusyFirst(t *testing.T) {
	t.Parallel()

	tb := newTable(t, Options[string]{ObjectsLimit: 2, SharedCount: 1, Policy: busy.New()})

	held, _, err := tb.GetOrCreateWithReadAcquire("held")
	require.NoError(t, err)
	idle, _, err := tb.GetOrCreateWithReadAcquire("idle")
	require.NoError(t, err)
	idle.Release()

	done := make(chan error, 1)
	go func() {
		ref, _, err := tb.GetOrCreateWithReadAcquire("new")
		if err == nil {
			ref.Release()
		}
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("allocation finished while the victim was still leased")
	case <-time.After(30 * time.Millisecond):
	}

	held.Release()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("allocation did not finish")
	}

	_, ok := tb.TryGetWithReadAcquire("held")
	require.False(t, ok, "busy entry should have been evicted")
	r, ok := tb.TryGetWithReadAcquire("idle")
	require.True(t, ok)
	r.Release()
}

func TestEvict_NothingLiveIsNoop(t *testing.T) {
	t.Parallel()

	tb := newTable(t, Options[string]{ObjectsLimit: 2})
	require.False(t, tb.releaseChunk())
	require.Equal(t, uint64(0), tb.Stats().Evictions)
}

// A slot taken by a creator that has not published yet comes back on its
// own, so a concurrent create waits for it instead of failing.
func TestEvict_WaitsForUnpublishedSlot(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	tb := newTable(t, Options[string]{
		ObjectSize:   8,
		ObjectsLimit: 1,
		PrepareNewObject: func(EntryID, []byte) {
			once.Do(func() {
				close(entered)
				<-unblock
			})
		},
	})

	type result struct {
		ref Ref[string]
		err error
	}
	aDone := make(chan result, 1)
	go func() {
		ref, _, err := tb.GetOrCreateWithReadAcquire("a")
		aDone <- result{ref, err}
	}()
	<-entered

	bDone := make(chan result, 1)
	go func() {
		ref, _, err := tb.GetOrCreateWithReadAcquire("b")
		bDone <- result{ref, err}
	}()

	select {
	case r := <-bDone:
		t.Fatalf("create b returned while a was unpublished: %v", r.err)
	case <-time.After(50 * time.Millisecond):
	}

	close(unblock)
	a := <-aDone
	require.NoError(t, a.err)
	a.ref.Release()

	select {
	case b := <-bDone:
		require.NoError(t, b.err)
		require.Equal(t, "b", b.ref.Key())
		b.ref.Release()
	case <-time.After(5 * time.Second):
		t.Fatal("create b did not finish")
	}
	require.Equal(t, uint64(1), tb.Stats().Evictions)
}

func TestEvict_ChurnNeverExhausts(t *testing.T) {
	t.Parallel()

	tb := newTable(t, Options[string]{ObjectSize: 8, ObjectsLimit: 2, SharedCount: 2})

	var deleted atomic.Uint64
	var g errgroup.Group
	for w := 0; w < 16; w++ {
		g.Go(func() error {
			for i := 0; i < 500; i++ {
				k := fmt.Sprint((w + i) % 5)
				ref, _, err := tb.GetOrCreateWithReadAcquire(k)
				if err != nil {
					return fmt.Errorf("create %s: %w", k, err)
				}
				ref.Release()
				if i%3 == 0 && tb.Delete(k) {
					deleted.Add(1)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	st := tb.Stats()
	assert.LessOrEqual(t, st.Slots, 2)
	assert.Equal(t, st.Deletes-deleted.Load(), st.Evictions, "only reclaiming evictions are counted")
	assert.Equal(t, st.Creates, st.Deletes+uint64(st.Entries))
}

func TestEvictReason_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "preferred", EvictPreferred.String())
	require.Equal(t, "fallback", EvictFallback.String())
}
