package hkv

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/hkvtable/keys"
)

func newTable[K comparable](t testing.TB, opt Options[K]) *Table[K] {
	t.Helper()
	tb, err := New(opt)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tb.Close() })
	return tb
}

func TestTable_Basic(t *testing.T) {
	t.Parallel()

	tb := newTable(t, Options[string]{Name: "basic", ObjectSize: 16})

	ref, existed, err := tb.GetOrCreateWithReadAcquire("a")
	require.NoError(t, err)
	require.False(t, existed)
	require.Equal(t, "a", ref.Key())
	require.Len(t, ref.Payload(), 16)
	copy(ref.Payload(), "payload-a")
	ref.Release()

	got, ok := tb.TryGetWithReadAcquire("a")
	require.True(t, ok)
	require.Equal(t, ref.ID(), got.ID())
	require.Equal(t, "payload-a", string(got.Payload()[:9]))
	got.Release()

	again, existed, err := tb.GetOrCreateWithReadAcquire("a")
	require.NoError(t, err)
	require.True(t, existed)
	require.Equal(t, ref.ID(), again.ID())
	again.Release()

	require.Equal(t, 1, tb.Len())
	require.True(t, tb.Delete("a"))
	require.False(t, tb.Delete("a"), "second delete is a no-op")

	_, ok = tb.TryGetWithReadAcquire("a")
	require.False(t, ok)
	require.Equal(t, 0, tb.Len())

	st := tb.Stats()
	assert.Equal(t, uint64(1), st.Creates)
	assert.Equal(t, uint64(1), st.Deletes)
	assert.Equal(t, 0, st.Slots)
}

func TestTable_TryGetMissingAllocatesNothing(t *testing.T) {
	t.Parallel()

	tb := newTable(t, Options[string]{ObjectSize: 8, ObjectsLimit: 4})

	_, ok := tb.TryGetWithReadAcquire("missing")
	require.False(t, ok)

	st := tb.Stats()
	require.Equal(t, 0, st.Slots)
	require.Equal(t, 0, st.Entries)
	require.Equal(t, int64(1), st.Misses)
}

// Fifty goroutines race to create the same key: exactly one publishes, all
// of them end up holding a lease on the same entry, and the losing
// candidates go back to the pool.
func TestTable_ConcurrentCreateSameKey(t *testing.T) {
	t.Parallel()

	tb := newTable(t, Options[string]{ObjectSize: 8})

	const n = 50
	refs := make([]Ref[string], n)
	var created atomic.Int32
	start := make(chan struct{})

	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			<-start
			ref, existed, err := tb.GetOrCreateWithReadAcquire("x")
			if err != nil {
				return err
			}
			if !existed {
				created.Add(1)
			}
			refs[i] = ref
			return nil
		})
	}
	close(start)
	require.NoError(t, g.Wait())

	require.Equal(t, int32(1), created.Load())
	for i := 1; i < n; i++ {
		require.Equal(t, refs[0].ID(), refs[i].ID(), "goroutine %d got another entry", i)
	}
	require.Equal(t, int32(n), refs[0].Readers())
	require.Equal(t, 1, tb.Stats().Slots)

	for _, r := range refs {
		r.Release()
	}
	require.Equal(t, int32(0), refs[0].Readers())
	require.True(t, tb.Delete("x"))
}

func TestTable_ConcurrentDeleteReclaimsOnce(t *testing.T) {
	t.Parallel()

	var reclaimed atomic.Int32
	tb := newTable(t, Options[string]{ObjectSize: 8})

	for round := 0; round < 50; round++ {
		ref, _, err := tb.GetOrCreateWithReadAcquire("k")
		require.NoError(t, err)
		ref.Release()

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if tb.Delete("k") {
					reclaimed.Add(1)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, int32(round+1), reclaimed.Load())
	}
	require.Equal(t, 0, tb.Stats().Slots)
}

// A delete must not reclaim an entry while a lease is outstanding.
func TestTable_DeleteWaitsForLease(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	tb := newTable(t, Options[string]{
		ObjectSize: 8,
		BeforeRelease: func(EntryID, []byte) {
			polls.Add(1)
		},
	})

	ref, _, err := tb.GetOrCreateWithReadAcquire("held")
	require.NoError(t, err)
	copy(ref.Payload(), "alive")

	done := make(chan bool, 1)
	go func() { done <- tb.Delete("held") }()

	select {
	case <-done:
		t.Fatal("delete returned while a lease was held")
	case <-time.After(30 * time.Millisecond):
	}

	// The payload is still ours, and new readers back off.
	require.Equal(t, "alive", string(ref.Payload()[:5]))
	_, ok := tb.TryGetWithReadAcquire("held")
	require.False(t, ok)
	require.Positive(t, polls.Load())

	ref.Release()
	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("delete did not finish after release")
	}
	require.False(t, tb.pool.Valid(ref.ID()), "id must be stale after reclaim")
}

// SharedCount=4, ObjectsLimit=2: the third key evicts one of the first two.
func TestTable_EvictionScenario(t *testing.T) {
	t.Parallel()

	tb := newTable(t, Options[string]{SharedCount: 4, ObjectsLimit: 2, ObjectSize: 16})

	for _, k := range []string{"a", "b"} {
		ref, existed, err := tb.GetOrCreateWithReadAcquire(k)
		require.NoError(t, err)
		require.False(t, existed)
		ref.Release()
	}

	ref, existed, err := tb.GetOrCreateWithReadAcquire("c")
	require.NoError(t, err)
	require.False(t, existed)
	ref.Release()

	require.Equal(t, 2, tb.Len())
	rc, ok := tb.TryGetWithReadAcquire("c")
	require.True(t, ok)
	tb.ReadRelease(rc.ID())

	present := 0
	for _, k := range []string{"a", "b"} {
		if r, ok := tb.TryGetWithReadAcquire(k); ok {
			r.Release()
			present++
		}
	}
	require.Equal(t, 1, present)
	require.Equal(t, uint64(1), tb.Stats().Evictions)
}

func TestTable_EvictionLiveness(t *testing.T) {
	t.Parallel()

	const limit = 64
	tb := newTable(t, Options[int64]{ObjectsLimit: limit, ObjectSize: 32, SharedCount: 8})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < 8; w++ {
		w := w
		g.Go(func() error {
			for i := int64(0); ctx.Err() == nil; i++ {
				k := (i*7919 + int64(w)*104729) % 1_000
				ref, _, err := tb.GetOrCreateWithReadAcquire(k)
				if err != nil {
					return fmt.Errorf("key %d: %w", k, err)
				}
				ref.Payload()[0] = byte(k)
				ref.Release()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	st := tb.Stats()
	require.LessOrEqual(t, st.Slots, limit)
	require.LessOrEqual(t, st.Entries, limit)
	require.Positive(t, st.Evictions)
}

func TestTable_IntegerKeys(t *testing.T) {
	t.Parallel()

	tb := newTable(t, Options[int64]{KeyType: keys.Int64, SharedCount: 3})

	for k := int64(-5); k <= 5; k++ {
		ref, existed, err := tb.GetOrCreateWithReadAcquire(k)
		require.NoError(t, err)
		require.False(t, existed)
		ref.Release()
	}
	for k := int64(-5); k <= 5; k++ {
		ref, ok := tb.TryGetWithReadAcquire(k)
		require.True(t, ok, "key %d", k)
		require.Equal(t, k, ref.Key())
		ref.Release()
	}
	require.Equal(t, 11, tb.Len())
}

func TestTable_FixedBytesKeys(t *testing.T) {
	t.Parallel()

	tb := newTable(t, Options[[12]byte]{ObjectSize: 4})

	var k [12]byte
	copy(k[:], "object-00001")
	ref, existed, err := tb.GetOrCreateWithReadAcquire(k)
	require.NoError(t, err)
	require.False(t, existed)
	ref.Release()

	require.Equal(t, keys.Bytes12, tb.KeyType())
	require.True(t, tb.Delete(k))
}

func TestTable_UnsupportedKeyType(t *testing.T) {
	t.Parallel()

	_, err := New(Options[string]{KeyType: keys.Int64})
	require.ErrorIs(t, err, ErrUnsupportedKeyType)

	_, err = New(Options[string]{KeyType: "float"})
	require.ErrorIs(t, err, ErrUnsupportedKeyType)

	_, err = New(Options[float64]{})
	require.ErrorIs(t, err, ErrUnsupportedKeyType)

	_, err = New(Options[string]{ObjectSize: -1})
	require.ErrorIs(t, err, ErrInvalidOptions)
}

func TestTable_PrepareNewObjectOnlyForFreshSlots(t *testing.T) {
	t.Parallel()

	var prepared atomic.Int32
	tb := newTable(t, Options[string]{
		ObjectSize: 4,
		PrepareNewObject: func(_ EntryID, p []byte) {
			prepared.Add(1)
			copy(p, "new!")
		},
	})

	for _, k := range []string{"a", "b", "c"} {
		ref, _, err := tb.GetOrCreateWithReadAcquire(k)
		require.NoError(t, err)
		require.Equal(t, "new!", string(ref.Payload()))
		ref.Release()
	}
	require.Equal(t, int32(3), prepared.Load())

	require.True(t, tb.Delete("b"))
	ref, _, err := tb.GetOrCreateWithReadAcquire("d")
	require.NoError(t, err)
	ref.Release()
	require.Equal(t, int32(3), prepared.Load(), "reused slot must not be prepared again")
}

func TestTable_RangeAndStats(t *testing.T) {
	t.Parallel()

	tb := newTable(t, Options[string]{Name: "range", ObjectSize: 8, SharedCount: 4})
	for i := 0; i < 10; i++ {
		ref, _, err := tb.GetOrCreateWithReadAcquire(fmt.Sprintf("k%02d", i))
		require.NoError(t, err)
		ref.Release()
	}

	seen := map[string]bool{}
	tb.Range(func(k string, id EntryID) bool {
		seen[k] = true
		require.False(t, id.IsZero())
		return true
	})
	require.Len(t, seen, 10)

	visits := 0
	tb.Range(func(string, EntryID) bool {
		visits++
		return visits < 3
	})
	require.Equal(t, 3, visits)

	// Range may call back into the table.
	tb.Range(func(k string, _ EntryID) bool {
		tb.Delete(k)
		return true
	})
	require.Equal(t, 0, tb.Len())

	st := tb.Stats()
	assert.Equal(t, "range", st.Name)
	assert.Equal(t, keys.String, st.KeyType)
	assert.Equal(t, "idle", st.Policy)
	assert.Equal(t, 4, st.Shards)
	assert.Equal(t, uint64(10), st.Creates)
	assert.Equal(t, uint64(10), st.Deletes)
	assert.Greater(t, st.EntryBytes, 8)
}

func TestTable_Close(t *testing.T) {
	t.Parallel()

	tb, err := New(Options[string]{ObjectSize: 8, Heap: true})
	require.NoError(t, err)

	ref, _, err := tb.GetOrCreateWithReadAcquire("a")
	require.NoError(t, err)
	ref.Release()

	require.NoError(t, tb.Close())
	require.NoError(t, tb.Close(), "close is idempotent")

	_, _, err = tb.GetOrCreateWithReadAcquire("b")
	require.ErrorIs(t, err, ErrClosed)
	_, ok := tb.TryGetWithReadAcquire("a")
	require.False(t, ok)
}

func TestTable_CloseWhileDeleteDrains(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	tb, err := New(Options[string]{
		ObjectSize: 8,
		BeforeRelease: func(_ EntryID, p []byte) {
			p[0] = 0xff
			calls.Add(1)
		},
	})
	require.NoError(t, err)

	ref, _, err := tb.GetOrCreateWithReadAcquire("a")
	require.NoError(t, err)

	done := make(chan bool, 1)
	go func() { done <- tb.Delete("a") }()
	require.Eventually(t, func() bool { return calls.Load() > 0 }, 5*time.Second, time.Millisecond)

	require.NoError(t, tb.Close())
	after := calls.Load()
	ref.Release()

	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("delete did not finish after close")
	}
	require.Equal(t, after, calls.Load(), "no callback runs after close")
}

type countingMetrics struct {
	hits, misses, creates, deletes, evicts atomic.Int64
}

func (m *countingMetrics) Hit()              { m.hits.Add(1) }
func (m *countingMetrics) Miss()             { m.misses.Add(1) }
func (m *countingMetrics) Create()           { m.creates.Add(1) }
func (m *countingMetrics) Delete()           { m.deletes.Add(1) }
func (m *countingMetrics) Evict(EvictReason) { m.evicts.Add(1) }
func (m *countingMetrics) Size(int, int)     {}

func TestTable_Metrics(t *testing.T) {
	t.Parallel()

	m := &countingMetrics{}
	tb := newTable(t, Options[string]{ObjectsLimit: 1, Metrics: m})

	for _, k := range []string{"a", "a", "b"} {
		ref, _, err := tb.GetOrCreateWithReadAcquire(k)
		require.NoError(t, err)
		ref.Release()
	}

	assert.Equal(t, int64(1), m.hits.Load())
	assert.Equal(t, int64(2), m.misses.Load())
	assert.Equal(t, int64(2), m.creates.Load())
	assert.Equal(t, int64(1), m.evicts.Load())
	assert.Equal(t, int64(1), m.deletes.Load(), "eviction goes through delete")
}
