package hkv

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/IvanBrykalov/hkvtable/internal/singleflight"
	"github.com/IvanBrykalov/hkvtable/internal/util"
	"github.com/IvanBrykalov/hkvtable/keys"
	"github.com/IvanBrykalov/hkvtable/policy"
	"github.com/IvanBrykalov/hkvtable/policy/idle"
	"github.com/IvanBrykalov/hkvtable/pool"
)

// drainWarnSpins is the number of drain polls after which Delete logs that
// it is still waiting for readers.
const drainWarnSpins = 1 << 14

var tableIDs atomic.Int64

// Table is a sharded, reference-counted directory from keys to entries
// stored in a bounded slot pool.
type Table[K comparable] struct {
	id      int64
	name    string
	dom     keys.Domain[K]
	pol     policy.Policy
	nshards uint32
	shards  []shard[K]
	pool    *pool.Pool[entry[K]]
	sf      singleflight.Group[K, struct{}]

	prepareNew    func(EntryID, []byte)
	beforeRelease func(EntryID, []byte)
	objectSize    int

	met     Metrics
	log     zerolog.Logger
	closed  atomic.Bool
	onClose func()
	// hooks holds payload callbacks off while Close unmaps pool memory.
	hooks sync.RWMutex

	_         util.CacheLinePad
	live      util.PaddedAtomicInt64
	creates   util.PaddedAtomicUint64
	deletes   util.PaddedAtomicUint64
	evictions util.PaddedAtomicUint64
}

// New constructs a table. The key domain is taken from opt.Domain, else
// from opt.KeyType, else inferred from K; New fails with
// ErrUnsupportedKeyType when none of them fits K.
func New[K comparable](opt Options[K]) (*Table[K], error) {
	if opt.ObjectSize < 0 {
		return nil, fmt.Errorf("%w: object size %d", ErrInvalidOptions, opt.ObjectSize)
	}

	dom, err := resolveDomain(&opt)
	if err != nil {
		return nil, err
	}

	t := &Table[K]{
		id:            tableIDs.Add(1),
		name:          opt.Name,
		dom:           dom,
		pol:           opt.Policy,
		nshards:       opt.SharedCount,
		prepareNew:    opt.PrepareNewObject,
		beforeRelease: opt.BeforeRelease,
		objectSize:    opt.ObjectSize,
		met:           opt.Metrics,
	}

	base := zerolog.Nop()
	if opt.Logger != nil {
		base = *opt.Logger
	}
	t.log = base.With().Str("table", t.name).Int64("table_id", t.id).Logger()

	p, err := pool.New[entry[K]](pool.Options{
		SlotSize: opt.ObjectSize,
		Limit:    opt.ObjectsLimit,
		Heap:     opt.Heap,
		Prepare:  t.prepareNewChunk,
		Release:  t.releaseChunk,
		Logger:   &t.log,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	t.pool = p

	t.shards = make([]shard[K], t.nshards)
	for i := range t.shards {
		t.shards[i].init()
	}

	t.log.Info().
		Str("key_type", string(dom.Kind())).
		Str("policy", t.pol.Name()).
		Uint32("shards", t.nshards).
		Int32("limit", opt.ObjectsLimit).
		Int("object_size", opt.ObjectSize).
		Msg("table created")
	return t, nil
}

// resolveDomain picks the key domain for opt and fills in the defaults
// shared by every table flavour.
func resolveDomain[K comparable](opt *Options[K]) (keys.Domain[K], error) {
	dom := opt.Domain
	if dom == nil {
		var err error
		if opt.KeyType == "" {
			dom, err = keys.Infer[K]()
		} else {
			dom, err = keys.For[K](opt.KeyType)
		}
		if err != nil {
			return nil, fmt.Errorf("hkv: table %q: %w", opt.Name, err)
		}
	}
	if opt.SharedCount == 0 {
		opt.SharedCount = util.ReasonableShardCount()
	}
	if opt.Policy == nil {
		opt.Policy = idle.New()
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	return dom, nil
}

// ID returns the table's process-unique id.
func (t *Table[K]) ID() int64 { return t.id }

// Name returns the diagnostic name given at construction.
func (t *Table[K]) Name() string { return t.name }

// KeyType returns the kind of the table's key domain.
func (t *Table[K]) KeyType() keys.Kind { return t.dom.Kind() }

func (t *Table[K]) shardFor(k K) *shard[K] {
	return &t.shards[t.dom.Shard(k, t.nshards)]
}

func (t *Table[K]) ref(id EntryID) Ref[K] { return Ref[K]{t: t, id: id} }

// acquire read-acquires the entry at id and checks that it is still the
// live, published entry for k. On failure the acquisition is undone.
//
// Checks run in this order: writer, generation, status, key. A reader that
// gets past the writer check either registered before any delete took the
// entry (the delete then waits for it) or after that delete had already
// bumped the generation, so the key is never read from a recycled slot.
func (t *Table[K]) acquire(id EntryID, k K) bool {
	e := t.pool.Meta(id)
	if e == nil {
		return false
	}
	e.ReadAcquire()
	if e.IsWriteHeld() || !t.pool.Valid(id) || !e.IsInited() || !t.dom.Equal(e.key, k) {
		e.ReadRelease()
		return false
	}
	return true
}

// GetOrCreateWithReadAcquire returns a read lease on the entry for k,
// creating and publishing a new entry when none exists. existed reports
// whether the entry was already there; among concurrent creators of the
// same key exactly one sees existed == false.
//
// Creating may evict another entry when the pool is full. It fails with
// ErrPoolExhausted when nothing can be evicted and with ErrClosed after
// Close.
func (t *Table[K]) GetOrCreateWithReadAcquire(k K) (ref Ref[K], existed bool, err error) {
	if t.closed.Load() {
		return Ref[K]{}, false, ErrClosed
	}

	s := t.shardFor(k)
	if id, ok := s.lookup(k); ok && t.acquire(id, k) {
		s.hits.Add(1)
		t.met.Hit()
		return t.ref(id), true, nil
	}
	s.misses.Add(1)
	t.met.Miss()

	cand, err := t.pool.Alloc()
	if err != nil {
		return Ref[K]{}, false, fmt.Errorf("hkv: create in table %q: %w", t.name, err)
	}
	e := t.pool.Meta(cand)
	e.key = k
	e.ReadAcquire()
	e.CompleteInit()

	for {
		cur, published := s.publish(k, cand)
		if published {
			t.live.Add(1)
			t.creates.Add(1)
			t.met.Create()
			t.reportSize()
			return t.ref(cand), false, nil
		}
		if t.acquire(cur, k) {
			t.discard(cand)
			return t.ref(cur), true, nil
		}
		// The resident entry is being deleted; wait for it to go away.
		runtime.Gosched()
	}
}

// discard returns a candidate that lost the publish race to the pool.
// Nobody else ever saw its id.
func (t *Table[K]) discard(id EntryID) {
	e := t.pool.Meta(id)
	e.ReadRelease()
	e.Reset()
	if err := t.pool.Free(id); err != nil {
		t.log.Error().Err(err).Stringer("entry", id).Msg("free candidate")
	}
}

// TryGetWithReadAcquire returns a read lease on the entry for k if one is
// published. It never allocates.
func (t *Table[K]) TryGetWithReadAcquire(k K) (Ref[K], bool) {
	if t.closed.Load() {
		return Ref[K]{}, false
	}
	s := t.shardFor(k)
	if id, ok := s.lookup(k); ok && t.acquire(id, k) {
		s.hits.Add(1)
		t.met.Hit()
		return t.ref(id), true
	}
	s.misses.Add(1)
	t.met.Miss()
	return Ref[K]{}, false
}

// ReadRelease drops a read lease taken by one of the acquire operations.
func (t *Table[K]) ReadRelease(id EntryID) {
	t.pool.Meta(id).ReadRelease()
}

// Delete removes the entry for k and returns its slot to the pool once
// every reader has released it. It reports whether this call reclaimed the
// entry: deleting an absent key returns false, and of several concurrent
// deletes of the same key exactly one returns true.
//
// Delete blocks until outstanding leases on the entry are released, so the
// calling goroutine must not hold one itself.
func (t *Table[K]) Delete(k K) bool {
	s := t.shardFor(k)

	var (
		id EntryID
		e  *entry[K]
	)
	for {
		var ok bool
		id, ok = s.lookup(k)
		if !ok {
			return false
		}
		e = t.pool.Meta(id)
		e.WriteAcquire()
		if t.pool.Valid(id) && e.IsInited() && t.dom.Equal(e.key, k) {
			break
		}
		e.WriteRelease()
		runtime.Gosched()
	}

	for spins := 0; ; spins++ {
		if t.beforeRelease != nil {
			t.runHook(t.beforeRelease, id)
		}
		if e.IsShouldRelease() {
			break
		}
		if spins == drainWarnSpins {
			t.log.Warn().
				Stringer("entry", id).
				Int32("readers", e.Readers()).
				Msg("delete still waiting for readers")
		}
		backoff(spins)
	}

	if s.unpublish(k, id) {
		t.live.Add(-1)
	}
	e.Reset()
	// Free bumps the generation before the writer flag drops, so a reader
	// that sees the flag clear also sees the entry id as stale.
	if err := t.pool.Free(id); err != nil {
		t.log.Error().Err(err).Stringer("entry", id).Msg("free entry")
	}
	e.WriteRelease()

	t.deletes.Add(1)
	t.met.Delete()
	t.reportSize()
	return true
}

// runHook calls a payload callback unless the table is closed. Close waits
// for running callbacks before it unmaps the payload memory.
func (t *Table[K]) runHook(fn func(EntryID, []byte), id EntryID) {
	t.hooks.RLock()
	defer t.hooks.RUnlock()
	if t.closed.Load() {
		return
	}
	fn(id, t.pool.Payload(id))
}

// backoff yields for the first polls, then sleeps with a growing delay
// capped at a millisecond.
func backoff(spins int) {
	const yields = 64
	if spins < yields {
		runtime.Gosched()
		return
	}
	d := time.Duration(spins-yields+1) * time.Microsecond
	if d > time.Millisecond {
		d = time.Millisecond
	}
	time.Sleep(d)
}

// Len returns the number of published entries.
func (t *Table[K]) Len() int {
	n := 0
	for i := range t.shards {
		n += t.shards[i].len()
	}
	return n
}

// Range calls fn for every published entry, shard by shard, until fn
// returns false. Each shard is snapshotted first, so fn may call back into
// the table; entries created or deleted meanwhile may or may not be seen.
func (t *Table[K]) Range(fn func(k K, id EntryID) bool) {
	for i := range t.shards {
		ks, ids := t.shards[i].snapshot()
		for j := range ks {
			if !fn(ks[j], ids[j]) {
				return
			}
		}
	}
}

// Payload returns the payload of the entry at id. The caller must hold a
// lease on it.
func (t *Table[K]) Payload(id EntryID) []byte { return t.pool.Payload(id) }

func (t *Table[K]) reportSize() {
	t.met.Size(int(t.live.Load()), t.pool.Active())
}

// Stats is a point-in-time snapshot of a table's counters.
type Stats struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	KeyType  keys.Kind `json:"key_type"`
	Policy   string    `json:"policy"`
	Shards   int       `json:"shards"`
	Entries  int       `json:"entries"`
	Slots    int       `json:"slots"`
	Limit    int       `json:"limit"`
	Segments int       `json:"segments"`

	Hits      int64  `json:"hits"`
	Misses    int64  `json:"misses"`
	Creates   uint64 `json:"creates"`
	Deletes   uint64 `json:"deletes"`
	Evictions uint64 `json:"evictions"`

	// EntryBytes is the approximate footprint of one entry: payload, key
	// and handle.
	EntryBytes int `json:"entry_bytes"`
}

// Stats returns a snapshot of the table's counters.
func (t *Table[K]) Stats() Stats {
	ps := t.pool.Stats()
	st := Stats{
		ID:         t.id,
		Name:       t.name,
		KeyType:    t.dom.Kind(),
		Policy:     t.pol.Name(),
		Shards:     len(t.shards),
		Entries:    t.Len(),
		Slots:      ps.Active,
		Limit:      ps.Limit,
		Segments:   ps.Segments,
		Creates:    t.creates.Load(),
		Deletes:    t.deletes.Load(),
		Evictions:  t.evictions.Load(),
		EntryBytes: t.objectSize + t.dom.Size() + int(unsafe.Sizeof(Handle{})),
	}
	for i := range t.shards {
		st.Hits += t.shards[i].hits.Load()
		st.Misses += t.shards[i].misses.Load()
	}
	return st
}

// Close stops the table from handing out new entries and releases pool
// memory. Payload slices obtained earlier must not be used afterwards.
// Deletes still draining finish without calling BeforeRelease again, and
// leases taken before Close can still be released. Close is idempotent and
// must not be called from a payload callback.
func (t *Table[K]) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if t.onClose != nil {
		t.onClose()
	}
	t.hooks.Lock()
	err := t.pool.Close()
	t.hooks.Unlock()
	t.log.Info().Uint64("creates", t.creates.Load()).Uint64("evictions", t.evictions.Load()).Msg("table closed")
	return err
}
