package hkv

import (
	"context"
	"math/rand"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// A mixed workload of concurrent create/get/delete on random keys against
// a table small enough to evict constantly. A lease must always resolve to
// an entry holding the requested key, never to a recycled slot.
// Should pass under `-race` without detector reports.
func TestRace_Mixed(t *testing.T) {
	tb, err := New(Options[string]{
		ObjectSize:   16,
		ObjectsLimit: 512,
		SharedCount:  32,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tb.Close() })

	workers := 4 * runtime.GOMAXPROCS(0)
	keyspace := 5_000
	deadline := time.Now().Add(2 * time.Second)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*9973))
			for time.Now().Before(deadline) {
				k := "k:" + strconv.Itoa(r.Intn(keyspace))
				switch r.Intn(100) {
				case 0, 1, 2, 3, 4: // ~5% - Delete
					tb.Delete(k)
				case 5, 6, 7, 8, 9, 10, 11, 12, 13, 14: // ~10% - create
					ref, existed, err := tb.GetOrCreateWithReadAcquire(k)
					if err != nil {
						t.Errorf("create %s: %v", k, err)
						return
					}
					if !existed {
						copy(ref.Payload(), k)
					}
					if got := ref.Key(); got != k {
						t.Errorf("create %s leased entry of %s", k, got)
					}
					ref.Release()
				default: // ~85% - get
					ref, ok := tb.TryGetWithReadAcquire(k)
					if !ok {
						continue
					}
					if got := ref.Key(); got != k {
						t.Errorf("lease on %s resolved to %s", k, got)
					}
					ref.Release()
				}
			}
		}(w)
	}
	wg.Wait()

	st := tb.Stats()
	if st.Slots > 512 {
		t.Fatalf("slots over limit: %d", st.Slots)
	}
}

// One hundred goroutines Load the same key concurrently.
// The fill should run at most once (singleflight coalescing).
func TestRace_Load(t *testing.T) {
	var calls int64

	tb, err := New(Options[string]{ObjectSize: 8})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tb.Close() })

	fill := func(p []byte) error {
		atomic.AddInt64(&calls, 1)
		time.Sleep(2 * time.Millisecond) // simulate I/O
		copy(p, "v")
		return nil
	}

	const goroutines = 100
	key := "same-key"

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			<-start
			ref, err := tb.Load(context.Background(), key, fill)
			if err != nil {
				t.Errorf("Load error: %v", err)
				return
			}
			if ref.Payload()[0] != 'v' {
				t.Errorf("unexpected payload: %q", ref.Payload())
			}
			ref.Release()
		}()
	}

	close(start)
	wg.Wait()

	if got := atomic.LoadInt64(&calls); got > 1 {
		t.Fatalf("fill should run at most once, got %d", got)
	}

	// Subsequent call should be a pure hit.
	ref, err := tb.Load(context.Background(), key, fill)
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	ref.Release()
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("fill ran again on a hit: %d", got)
	}
}
