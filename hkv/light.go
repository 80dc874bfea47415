package hkv

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/IvanBrykalov/hkvtable/internal/util"
	"github.com/IvanBrykalov/hkvtable/keys"
	"github.com/IvanBrykalov/hkvtable/pool"
)

// lightEntry is the per-slot metadata of a Light table. accessors changes
// under a shard read lock (acquire) or atomically (release); reclaiming
// requires the shard write lock and zero accessors.
type lightEntry[K comparable] struct {
	accessors atomic.Int32
	key       K
}

// Light is a sharded directory with a single accessor count per entry and no
// writer handshake. Entries are only removed while nobody holds them: Delete
// of a held entry is a no-op, and eviction only takes idle entries.
//
// With Options.AutoRelease set, the last Release of an entry also removes it,
// which makes the table a reference-counted registry rather than a cache.
//
// Options.Policy is ignored.
type Light[K comparable] struct {
	id      int64
	name    string
	dom     keys.Domain[K]
	nshards uint32
	shards  []shard[K]
	pool    *pool.Pool[lightEntry[K]]

	autoRelease   bool
	prepareNew    func(EntryID, []byte)
	beforeRelease func(EntryID, []byte)
	objectSize    int

	met     Metrics
	log     zerolog.Logger
	closed  atomic.Bool
	onClose func()
	hooks   sync.RWMutex

	_         util.CacheLinePad
	live      util.PaddedAtomicInt64
	creates   util.PaddedAtomicUint64
	deletes   util.PaddedAtomicUint64
	evictions util.PaddedAtomicUint64
}

// NewLight constructs a Light table. Key domain and defaults are resolved as
// in New.
func NewLight[K comparable](opt Options[K]) (*Light[K], error) {
	if opt.ObjectSize < 0 {
		return nil, fmt.Errorf("%w: object size %d", ErrInvalidOptions, opt.ObjectSize)
	}
	dom, err := resolveDomain(&opt)
	if err != nil {
		return nil, err
	}

	l := &Light[K]{
		id:            tableIDs.Add(1),
		name:          opt.Name,
		dom:           dom,
		nshards:       opt.SharedCount,
		autoRelease:   opt.AutoRelease,
		prepareNew:    opt.PrepareNewObject,
		beforeRelease: opt.BeforeRelease,
		objectSize:    opt.ObjectSize,
		met:           opt.Metrics,
	}
	base := zerolog.Nop()
	if opt.Logger != nil {
		base = *opt.Logger
	}
	l.log = base.With().Str("table", l.name).Int64("table_id", l.id).Logger()

	p, err := pool.New[lightEntry[K]](pool.Options{
		SlotSize: opt.ObjectSize,
		Limit:    opt.ObjectsLimit,
		Heap:     opt.Heap,
		Prepare:  l.prepareSlot,
		Release:  l.evictIdle,
		Logger:   &l.log,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	l.pool = p

	l.shards = make([]shard[K], l.nshards)
	for i := range l.shards {
		l.shards[i].init()
	}

	l.log.Info().
		Str("key_type", string(dom.Kind())).
		Bool("auto_release", l.autoRelease).
		Uint32("shards", l.nshards).
		Int32("limit", opt.ObjectsLimit).
		Msg("light table created")
	return l, nil
}

// ID returns the table's process-unique id.
func (l *Light[K]) ID() int64 { return l.id }

// Name returns the diagnostic name given at construction.
func (l *Light[K]) Name() string { return l.name }

// KeyType returns the kind of the table's key domain.
func (l *Light[K]) KeyType() keys.Kind { return l.dom.Kind() }

func (l *Light[K]) shardFor(k K) *shard[K] {
	return &l.shards[l.dom.Shard(k, l.nshards)]
}

// acquire takes an accessor on the published entry for k. Holding the
// shard read lock keeps reclaimers out while the count goes up.
func (l *Light[K]) acquire(s *shard[K], k K) (EntryID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.m[k]
	if ok {
		l.pool.Meta(id).accessors.Add(1)
	}
	return id, ok
}

// GetOrCreateWithAcquire returns the entry for k with one accessor taken,
// creating it when absent. existed is false only for the caller whose entry
// was published. Creating may evict an idle entry; it fails with
// ErrPoolExhausted when every entry is held.
func (l *Light[K]) GetOrCreateWithAcquire(k K) (ref LightRef[K], existed bool, err error) {
	if l.closed.Load() {
		return LightRef[K]{}, false, ErrClosed
	}

	s := l.shardFor(k)
	if id, ok := l.acquire(s, k); ok {
		s.hits.Add(1)
		l.met.Hit()
		return LightRef[K]{l: l, id: id}, true, nil
	}
	s.misses.Add(1)
	l.met.Miss()

	cand, err := l.pool.Alloc()
	if err != nil {
		return LightRef[K]{}, false, fmt.Errorf("hkv: create in table %q: %w", l.name, err)
	}
	e := l.pool.Meta(cand)
	e.key = k

	s.mu.Lock()
	if cur, ok := s.m[k]; ok {
		l.pool.Meta(cur).accessors.Add(1)
		s.mu.Unlock()
		l.free(cand)
		return LightRef[K]{l: l, id: cur}, true, nil
	}
	e.accessors.Store(1)
	s.m[k] = cand
	s.mu.Unlock()

	l.live.Add(1)
	l.creates.Add(1)
	l.met.Create()
	l.reportSize()
	return LightRef[K]{l: l, id: cand}, false, nil
}

// TryGetWithAcquire returns the entry for k with one accessor taken, if it
// is published. It never allocates.
func (l *Light[K]) TryGetWithAcquire(k K) (LightRef[K], bool) {
	if l.closed.Load() {
		return LightRef[K]{}, false
	}
	s := l.shardFor(k)
	if id, ok := l.acquire(s, k); ok {
		s.hits.Add(1)
		l.met.Hit()
		return LightRef[K]{l: l, id: id}, true
	}
	s.misses.Add(1)
	l.met.Miss()
	return LightRef[K]{}, false
}

// Release drops one accessor. With AutoRelease the last release removes the
// entry.
func (l *Light[K]) Release(id EntryID) {
	e := l.pool.Meta(id)
	k := e.key
	if e.accessors.Add(-1) != 0 || !l.autoRelease {
		return
	}
	l.reclaim(k, id)
}

// Delete removes the entry for k if nobody holds it. It reports whether the
// entry was removed; a held or absent entry is left alone.
func (l *Light[K]) Delete(k K) bool {
	id, ok := l.shardFor(k).lookup(k)
	if !ok {
		return false
	}
	return l.reclaim(k, id)
}

// reclaim removes k if it still maps to id and has no accessors.
func (l *Light[K]) reclaim(k K, id EntryID) bool {
	s := l.shardFor(k)
	e := l.pool.Meta(id)

	s.mu.Lock()
	if cur, ok := s.m[k]; !ok || cur != id || e.accessors.Load() != 0 {
		s.mu.Unlock()
		return false
	}
	if l.beforeRelease != nil {
		l.runHook(l.beforeRelease, id)
	}
	delete(s.m, k)
	s.mu.Unlock()

	l.live.Add(-1)
	l.free(id)
	l.deletes.Add(1)
	l.met.Delete()
	l.reportSize()
	return true
}

func (l *Light[K]) free(id EntryID) {
	var zero K
	l.pool.Meta(id).key = zero
	if err := l.pool.Free(id); err != nil {
		l.log.Error().Err(err).Stringer("entry", id).Msg("free entry")
	}
}

func (l *Light[K]) runHook(fn func(EntryID, []byte), id EntryID) {
	l.hooks.RLock()
	defer l.hooks.RUnlock()
	if l.closed.Load() {
		return
	}
	fn(id, l.pool.Payload(id))
}

func (l *Light[K]) prepareSlot(id pool.SlotID) {
	if l.prepareNew != nil {
		l.runHook(l.prepareNew, id)
	}
}

// evictIdle is the pool's Release callback: it removes the first entry
// without accessors. Slots taken by creators that have not published yet,
// or by entries being removed, keep the allocator trying.
func (l *Light[K]) evictIdle() bool {
	for i := range l.shards {
		s := &l.shards[i]
		var (
			k     K
			id    EntryID
			found bool
		)
		s.mu.RLock()
		for key, eid := range s.m {
			if l.pool.Meta(eid).accessors.Load() == 0 {
				k, id, found = key, eid, true
				break
			}
		}
		s.mu.RUnlock()
		if !found {
			continue
		}

		if l.reclaim(k, id) {
			l.evictions.Add(1)
			l.met.Evict(EvictPreferred)
		}
		// Lost to a new accessor or a concurrent delete; let Alloc retry.
		return true
	}
	if l.pool.Active() > l.Len() {
		runtime.Gosched()
		return true
	}
	return false
}

// Len returns the number of published entries.
func (l *Light[K]) Len() int {
	n := 0
	for i := range l.shards {
		n += l.shards[i].len()
	}
	return n
}

// Range calls fn for every published entry until fn returns false.
func (l *Light[K]) Range(fn func(k K, id EntryID) bool) {
	for i := range l.shards {
		ks, ids := l.shards[i].snapshot()
		for j := range ks {
			if !fn(ks[j], ids[j]) {
				return
			}
		}
	}
}

// Payload returns the payload of the entry at id. The caller must hold an
// accessor on it.
func (l *Light[K]) Payload(id EntryID) []byte { return l.pool.Payload(id) }

func (l *Light[K]) reportSize() {
	l.met.Size(int(l.live.Load()), l.pool.Active())
}

// Stats returns a snapshot of the table's counters.
func (l *Light[K]) Stats() Stats {
	ps := l.pool.Stats()
	st := Stats{
		ID:         l.id,
		Name:       l.name,
		KeyType:    l.dom.Kind(),
		Policy:     "idle-only",
		Shards:     len(l.shards),
		Entries:    l.Len(),
		Slots:      ps.Active,
		Limit:      ps.Limit,
		Segments:   ps.Segments,
		Creates:    l.creates.Load(),
		Deletes:    l.deletes.Load(),
		Evictions:  l.evictions.Load(),
		EntryBytes: l.objectSize + l.dom.Size() + int(unsafe.Sizeof(atomic.Int32{})),
	}
	for i := range l.shards {
		st.Hits += l.shards[i].hits.Load()
		st.Misses += l.shards[i].misses.Load()
	}
	return st
}

// Close stops the table from handing out entries and releases pool memory.
// Accessors taken earlier can still be released. Close is idempotent.
func (l *Light[K]) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	if l.onClose != nil {
		l.onClose()
	}
	l.hooks.Lock()
	err := l.pool.Close()
	l.hooks.Unlock()
	l.log.Info().Uint64("creates", l.creates.Load()).Msg("light table closed")
	return err
}

// LightRef is one accessor on a Light entry. Call Release exactly once.
type LightRef[K comparable] struct {
	l  *Light[K]
	id EntryID
}

// ID returns the entry's generation-checked identity.
func (r LightRef[K]) ID() EntryID { return r.id }

// IsZero reports whether r is the zero LightRef.
func (r LightRef[K]) IsZero() bool { return r.l == nil }

// Key returns the entry's key.
func (r LightRef[K]) Key() K { return r.l.pool.Meta(r.id).key }

// Payload returns the entry's payload bytes, valid while r is held.
func (r LightRef[K]) Payload() []byte { return r.l.pool.Payload(r.id) }

// Accessors returns the entry's current accessor count.
func (r LightRef[K]) Accessors() int32 { return r.l.pool.Meta(r.id).accessors.Load() }

// Release drops the accessor.
func (r LightRef[K]) Release() { r.l.Release(r.id) }
