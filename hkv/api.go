package hkv

import "context"

// Directory is the key -> entry index over a bounded slot pool.
// All methods are safe for concurrent use by multiple goroutines.
//
// Every Ref returned by an acquire operation holds a read lease that must be
// released with Ref.Release. Delete waits for outstanding leases, so a
// goroutine must not delete (or trigger eviction of) an entry it still
// holds.
type Directory[K comparable] interface {
	// GetOrCreateWithReadAcquire returns a lease on the entry for k,
	// creating it if absent. existed is false only for the single caller
	// whose entry was published.
	GetOrCreateWithReadAcquire(k K) (ref Ref[K], existed bool, err error)

	// TryGetWithReadAcquire returns a lease on the entry for k if present.
	// It never allocates.
	TryGetWithReadAcquire(k K) (Ref[K], bool)

	// Delete unpublishes and reclaims the entry for k once its readers have
	// drained. It reports whether this call reclaimed it; deleting an
	// absent key is a no-op.
	Delete(k K) bool

	// Load is GetOrCreateWithReadAcquire with a one-shot payload
	// initializer. Concurrent loads of the same key are coalesced.
	Load(ctx context.Context, k K, fill func(payload []byte) error) (Ref[K], error)

	// ReadRelease drops a lease by entry id.
	ReadRelease(id EntryID)

	// Len returns the number of published entries.
	Len() int

	// Range calls fn for every published entry until fn returns false.
	Range(fn func(k K, id EntryID) bool)

	Stats() Stats
	Close() error
}

var _ Directory[string] = (*Table[string])(nil)
