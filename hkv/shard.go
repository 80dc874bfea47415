package hkv

import (
	"sync"

	"github.com/IvanBrykalov/hkvtable/internal/util"
)

// shard is an independent partition of the table: a key -> EntryID map
// under its own RWMutex. The lock guards map membership only; entry
// lifetime is guarded by each entry's Handle.
type shard[K comparable] struct {
	// ---- guarded by mu ----
	mu sync.RWMutex
	m  map[K]EntryID

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_      util.CacheLinePad
	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64
}

func (s *shard[K]) init() {
	s.m = make(map[K]EntryID)
}

func (s *shard[K]) lookup(k K) (EntryID, bool) {
	s.mu.RLock()
	id, ok := s.m[k]
	s.mu.RUnlock()
	return id, ok
}

// publish inserts k -> id unless k is already present. It returns the
// resident id and false when another entry won.
func (s *shard[K]) publish(k K, id EntryID) (EntryID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.m[k]; ok {
		return cur, false
	}
	s.m[k] = id
	return id, true
}

// unpublish removes k only if it still maps to id.
func (s *shard[K]) unpublish(k K, id EntryID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.m[k]; ok && cur == id {
		delete(s.m, k)
		return true
	}
	return false
}

func (s *shard[K]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// snapshot copies the shard's keys and ids so callers can act on them
// without holding the lock.
func (s *shard[K]) snapshot() ([]K, []EntryID) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ks := make([]K, 0, len(s.m))
	ids := make([]EntryID, 0, len(s.m))
	for k, id := range s.m {
		ks = append(ks, k)
		ids = append(ids, id)
	}
	return ks, ids
}
