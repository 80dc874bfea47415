// Package hkv provides a concurrent, sharded, reference-counted directory
// from keys to fixed-size entries allocated out of a bounded slot pool.
//
// Design
//
//   - Concurrency: the table is split into shards, each a map[K]EntryID
//     protected by an RWMutex. The lock guards map membership only; the
//     lifetime of an entry is guarded by its Handle (status, reader count
//     and a writer flag), so holding a lease never holds a lock.
//
//   - Storage: entries live in a pool.Pool. Each slot carries the entry's
//     Handle and key on the Go side and a payload window of ObjectSize
//     bytes, mapped off-heap on unix. An EntryID is the slot index plus a
//     generation, so an id kept past a delete no longer matches.
//
//   - Leases: GetOrCreateWithReadAcquire, TryGetWithReadAcquire and Load
//     return a Ref. While the Ref is held the entry's slot cannot be
//     reclaimed; Release it exactly once.
//
//   - Delete: takes the entry's writer flag, waits until every lease is
//     released (calling Options.BeforeRelease on each poll), unpublishes
//     the key and returns the slot to the pool. New readers back off as
//     soon as the writer flag is set, so only leases taken before the
//     delete started can hold it up.
//
//   - Eviction: when the pool is at ObjectsLimit, allocation asks the table
//     to give a slot back. The table scans shards with the configured
//     policy (idle-first by default, see package policy) and deletes the
//     first victim it accepts.
//
//   - Keys: the key domain (package keys) decides shard routing. String
//     and fixed-size byte keys use FNV-1a; integer keys use modulo.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Create/Delete/Evict/Size
//     signals. NoopMetrics is the default; see metrics/prom and metrics/vm.
//
// Basic usage
//
//	t, err := hkv.New[string](hkv.Options[string]{
//	    Name:         "sessions",
//	    ObjectSize:   256,
//	    ObjectsLimit: 10_000,
//	})
//	if err != nil { ... }
//	defer t.Close()
//
//	ref, existed, err := t.GetOrCreateWithReadAcquire("user:42")
//	if err != nil { ... }
//	if !existed {
//	    copy(ref.Payload(), data)
//	}
//	ref.Release()
//
//	t.Delete("user:42")
//
// With Load
//
//	ref, err := t.Load(ctx, "user:42", func(p []byte) error {
//	    return fetchInto(p) // runs once per created entry
//	})
//
// Light tables
//
// NewLight builds a Light table: one accessor count per entry and no writer
// handshake. Delete and eviction only remove entries nobody holds, and with
// Options.AutoRelease the last Release removes the entry.
//
// A goroutine must not Delete, or trigger eviction of, an entry it still
// holds a lease on: the delete waits for that lease and never returns.
package hkv
