// Package pool implements a bounded slab of fixed-size slots.
//
// A Pool hands out slots identified by a SlotID (index + generation). Every
// slot carries a Go-side metadata value of type M and an optional payload
// byte window carved from off-heap memory (anonymous mmap on unix). When the
// pool has reached its limit, Alloc asks the owner to give a slot back via
// the Release callback before failing with ErrExhausted.
//
//	user -> Alloc -> carve (Prepare) -> user
//	user -> Alloc -> Release -> owner deletes an entry -> Free -> Alloc -> user
package pool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/IvanBrykalov/hkvtable/internal/util"
)

var (
	// ErrExhausted is returned by Alloc when the pool is full and the
	// Release callback could not free a slot.
	ErrExhausted = errors.New("pool: exhausted")
	// ErrStaleSlot is returned by Free for a slot whose generation has
	// already moved on (double free or stale handle).
	ErrStaleSlot = errors.New("pool: stale slot")
	// ErrClosed is returned by Alloc after Close.
	ErrClosed = errors.New("pool: closed")
)

const (
	unlimitedSegmentSlots = 1024
	segmentsPerLimit      = 16
)

// SlotID addresses one slot. Gen changes every time the slot is freed, so an
// ID kept past Free no longer matches the slot.
type SlotID struct {
	Index uint32
	Gen   uint32
}

// IsZero reports whether id is the zero value. Generations start at 1, so a
// zero ID never refers to a live slot.
func (id SlotID) IsZero() bool { return id.Gen == 0 }

func (id SlotID) String() string { return fmt.Sprintf("%d@%d", id.Index, id.Gen) }

// Options configures a Pool.
type Options struct {
	// SlotSize is the payload size in bytes of each slot (0 = metadata only).
	SlotSize int
	// Limit is the maximum number of live slots; <= 0 means unbounded.
	Limit int32
	// Heap keeps payloads on the Go heap instead of anonymous mmap.
	Heap bool
	// Prepare runs once for each freshly carved slot (never for reused ones).
	Prepare func(id SlotID)
	// Release is asked to free a slot when the pool is full. It reports
	// whether anything was freed; false makes Alloc fail with ErrExhausted.
	Release func() bool
	Logger  *zerolog.Logger
}

type slot[M any] struct {
	gen  atomic.Uint32
	meta M
}

type segment[M any] struct {
	data  []byte
	slots []slot[M]
}

// Pool is a slab of fixed-size slots with per-slot metadata M.
// All methods are safe for concurrent use.
type Pool[M any] struct {
	slotSize int
	limit    int32
	perSeg   int
	mem      memory
	prepare  func(SlotID)
	release  func() bool
	log      zerolog.Logger

	active atomic.Int32
	closed atomic.Bool

	// ---- guarded by mu ----
	mu     sync.Mutex
	free   []uint32
	carved uint32

	// copy-on-grow; readers index without taking mu
	segs atomic.Pointer[[]*segment[M]]
}

// New constructs a pool. No memory is mapped until the first Alloc.
func New[M any](opt Options) (*Pool[M], error) {
	if opt.SlotSize < 0 {
		return nil, fmt.Errorf("pool: negative slot size %d", opt.SlotSize)
	}
	p := &Pool[M]{
		slotSize: opt.SlotSize,
		limit:    opt.Limit,
		prepare:  opt.Prepare,
		release:  opt.Release,
		log:      zerolog.Nop(),
	}
	if opt.Logger != nil {
		p.log = *opt.Logger
	}
	if opt.Heap {
		p.mem = heapMemory{}
	} else {
		p.mem = defaultMemory()
	}
	if p.limit > 0 {
		p.perSeg = util.CeilDiv(int(p.limit), segmentsPerLimit)
	} else {
		p.perSeg = unlimitedSegmentSlots
	}
	empty := make([]*segment[M], 0)
	p.segs.Store(&empty)
	return p, nil
}

// SetRelease installs the Release callback after construction, for owners
// that need the pool before they can build the callback.
func (p *Pool[M]) SetRelease(fn func() bool) { p.release = fn }

// SetPrepare installs the Prepare callback after construction.
func (p *Pool[M]) SetPrepare(fn func(SlotID)) { p.prepare = fn }

// Alloc returns a slot. When the pool is at its limit it calls Release until
// a slot can be reserved or Release reports that nothing could be freed.
func (p *Pool[M]) Alloc() (SlotID, error) {
	if p.closed.Load() {
		return SlotID{}, ErrClosed
	}
	if p.limit > 0 {
		for !p.reserve() {
			if p.release == nil || !p.release() {
				p.log.Warn().Int32("limit", p.limit).Msg("pool exhausted")
				return SlotID{}, ErrExhausted
			}
		}
	} else {
		p.active.Add(1)
	}

	id, fresh, err := p.take()
	if err != nil {
		p.active.Add(-1)
		return SlotID{}, err
	}
	if fresh && p.prepare != nil {
		p.prepare(id)
	}
	return id, nil
}

// reserve claims one unit of capacity if the pool is below its limit.
func (p *Pool[M]) reserve() bool {
	for {
		n := p.active.Load()
		if n >= p.limit {
			return false
		}
		if p.active.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (p *Pool[M]) take() (SlotID, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		return SlotID{}, false, ErrClosed
	}

	if n := len(p.free); n > 0 {
		idx := p.free[n-1]
		p.free = p.free[:n-1]
		return SlotID{Index: idx, Gen: p.slot(idx).gen.Load()}, false, nil
	}

	idx := p.carved
	segs := *p.segs.Load()
	if int(idx)/p.perSeg >= len(segs) {
		if err := p.growLocked(segs); err != nil {
			return SlotID{}, false, err
		}
	}
	p.carved++
	s := p.slot(idx)
	s.gen.Store(1)
	return SlotID{Index: idx, Gen: 1}, true, nil
}

func (p *Pool[M]) growLocked(segs []*segment[M]) error {
	seg := &segment[M]{slots: make([]slot[M], p.perSeg)}
	if p.slotSize > 0 {
		data, err := p.mem.Map(p.perSeg * p.slotSize)
		if err != nil {
			return fmt.Errorf("pool: map %d bytes: %w", p.perSeg*p.slotSize, err)
		}
		seg.data = data
	}
	next := make([]*segment[M], len(segs), len(segs)+1)
	copy(next, segs)
	next = append(next, seg)
	p.segs.Store(&next)

	p.log.Debug().
		Int("segment", len(next)-1).
		Int("slots", p.perSeg).
		Int("slot_size", p.slotSize).
		Msg("pool segment mapped")
	return nil
}

// Free returns the slot to the pool and bumps its generation. Freeing with
// a stale generation fails with ErrStaleSlot and changes nothing.
func (p *Pool[M]) Free(id SlotID) error {
	s := p.slot(id.Index)
	if s == nil || id.IsZero() {
		return fmt.Errorf("%w: %s", ErrStaleSlot, id)
	}
	next := id.Gen + 1
	if next == 0 {
		next = 1
	}
	if !s.gen.CompareAndSwap(id.Gen, next) {
		return fmt.Errorf("%w: %s", ErrStaleSlot, id)
	}

	p.mu.Lock()
	p.free = append(p.free, id.Index)
	p.mu.Unlock()
	p.active.Add(-1)
	return nil
}

func (p *Pool[M]) slot(idx uint32) *slot[M] {
	segs := *p.segs.Load()
	si := int(idx) / p.perSeg
	if si >= len(segs) {
		return nil
	}
	return &segs[si].slots[int(idx)%p.perSeg]
}

// Meta returns the metadata of the slot at id.Index regardless of its
// generation; callers validate with Gen.
func (p *Pool[M]) Meta(id SlotID) *M {
	s := p.slot(id.Index)
	if s == nil {
		return nil
	}
	return &s.meta
}

// Gen returns the current generation of the slot at index.
func (p *Pool[M]) Gen(index uint32) uint32 {
	s := p.slot(index)
	if s == nil {
		return 0
	}
	return s.gen.Load()
}

// Valid reports whether id still names the current occupant of its slot.
func (p *Pool[M]) Valid(id SlotID) bool {
	return !id.IsZero() && p.Gen(id.Index) == id.Gen
}

// Payload returns the slot's payload window. The slice aliases pool memory
// and must not be used after the slot is freed or the pool is closed.
func (p *Pool[M]) Payload(id SlotID) []byte {
	if p.slotSize == 0 {
		return nil
	}
	segs := *p.segs.Load()
	si := int(id.Index) / p.perSeg
	if si >= len(segs) {
		return nil
	}
	data := segs[si].data
	if data == nil {
		return nil
	}
	off := (int(id.Index) % p.perSeg) * p.slotSize
	return data[off : off+p.slotSize : off+p.slotSize]
}

// Stats is a point-in-time view of pool occupancy.
type Stats struct {
	Active   int
	Carved   int
	Free     int
	Segments int
	Limit    int
	SlotSize int
}

// Stats reports occupancy.
func (p *Pool[M]) Stats() Stats {
	p.mu.Lock()
	carved, free := int(p.carved), len(p.free)
	p.mu.Unlock()
	return Stats{
		Active:   int(p.active.Load()),
		Carved:   carved,
		Free:     free,
		Segments: len(*p.segs.Load()),
		Limit:    int(p.limit),
		SlotSize: p.slotSize,
	}
}

// Active returns the number of slots currently handed out.
func (p *Pool[M]) Active() int { return int(p.active.Load()) }

// Limit returns the configured capacity (<= 0 means unbounded).
func (p *Pool[M]) Limit() int32 { return p.limit }

// Close unmaps every segment. Outstanding payload slices become invalid;
// Payload returns nil afterwards. Slot metadata stays usable so leases can
// still be released.
func (p *Pool[M]) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	// Segments are swapped for data-less copies instead of mutated, so
	// lock-free readers never race with the unmap bookkeeping.
	segs := *p.segs.Load()
	next := make([]*segment[M], len(segs))
	var errs []error
	for i, seg := range segs {
		next[i] = &segment[M]{slots: seg.slots}
		if seg.data == nil {
			continue
		}
		if err := p.mem.Unmap(seg.data); err != nil {
			errs = append(errs, err)
		}
	}
	p.segs.Store(&next)
	return errors.Join(errs...)
}
