package hkv

import (
	"runtime"

	"github.com/IvanBrykalov/hkvtable/policy"
	"github.com/IvanBrykalov/hkvtable/pool"
)

// prepareNewChunk is the pool's Prepare callback: it runs once for every
// freshly carved slot.
func (t *Table[K]) prepareNewChunk(id pool.SlotID) {
	if t.prepareNew != nil {
		t.runHook(t.prepareNew, id)
	}
}

// releaseChunk is the pool's Release callback. It walks the policy's passes
// in order, deletes the first entry a pass accepts and reports true. It
// reports false only when every taken slot belongs to a published entry
// that no pass accepts, or no slot is taken at all.
//
// Some taken slots are not evictable yet will come back on their own:
// entries already held by a delete, candidates between Alloc and publish,
// and slots of deleted entries not yet freed. Any of them keeps the
// allocator trying.
func (t *Table[K]) releaseChunk() bool {
	pending := false
	for pass := 0; pass < t.pol.Passes(); pass++ {
		k, ok, busy := t.findVictim(pass)
		pending = pending || busy
		if !ok {
			continue
		}

		reason := EvictPreferred
		if pass >= policy.Fallback {
			reason = EvictFallback
		}
		t.log.Debug().
			Interface("key", k).
			Stringer("reason", reason).
			Msg("evicting entry")

		// A concurrent delete may win; its slot is freed either way, so
		// the allocator retries without counting an eviction.
		if t.Delete(k) {
			t.evictions.Add(1)
			t.met.Evict(reason)
		}
		return true
	}
	if pending || t.inFlight() {
		runtime.Gosched()
		return true
	}
	return false
}

// inFlight reports whether some taken slot is not a published entry.
func (t *Table[K]) inFlight() bool {
	return t.pool.Active() > t.Len()
}

// findVictim returns the first published entry accepted by pass, scanning
// one shard at a time under its read lock. busy reports whether an entry
// being deleted was skipped along the way.
func (t *Table[K]) findVictim(pass int) (k K, ok bool, busy bool) {
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		for key, id := range s.m {
			e := t.pool.Meta(id)
			if e.IsWriteHeld() {
				busy = true
				continue
			}
			if !e.IsInited() {
				continue
			}
			if t.pol.Accept(pass, policy.Candidate{Readers: e.Readers()}) {
				s.mu.RUnlock()
				return key, true, busy
			}
		}
		s.mu.RUnlock()
	}
	return k, false, busy
}
