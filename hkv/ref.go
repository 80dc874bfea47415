package hkv

// Ref is a read lease on one entry, returned by the acquire operations.
// The entry cannot be reclaimed until Release is called; call it exactly
// once and promptly, since a pending delete waits for it.
type Ref[K comparable] struct {
	t  *Table[K]
	id EntryID
}

// ID returns the entry's generation-checked identity.
func (r Ref[K]) ID() EntryID { return r.id }

// IsZero reports whether r is the zero Ref (no lease).
func (r Ref[K]) IsZero() bool { return r.t == nil }

// Key returns the entry's key.
func (r Ref[K]) Key() K { return r.t.pool.Meta(r.id).key }

// Payload returns the entry's payload bytes. The slice aliases pool memory
// and is valid only while the lease is held.
func (r Ref[K]) Payload() []byte { return r.t.pool.Payload(r.id) }

// Readers returns the entry's current read acquisition count.
func (r Ref[K]) Readers() int32 { return r.t.pool.Meta(r.id).Readers() }

// Release drops the lease.
func (r Ref[K]) Release() { r.t.ReadRelease(r.id) }
