package hkv

import (
	"runtime"
	"sync/atomic"
)

const (
	statusUninited int32 = 0
	statusInited   int32 = 1
)

// Handle is the lifecycle and reference-count state of one entry.
//
// Readers and the single writer (a delete in progress) coordinate through
// two sequentially consistent atomics: a reader increments readers and then
// checks writer; a deleter sets writer and then checks readers. Whatever the
// interleaving, either the reader sees the writer and backs off, or the
// deleter sees the reader and waits for it to drain.
//
// The zero value is an Uninited handle.
type Handle struct {
	status  atomic.Int32
	readers atomic.Int32
	writer  atomic.Bool
}

// ReadAcquire registers an in-flight reader. It never blocks.
func (h *Handle) ReadAcquire() { h.readers.Add(1) }

// ReadRelease drops a reader registered by ReadAcquire.
// Calling it without a matching acquire corrupts the count.
func (h *Handle) ReadRelease() { h.readers.Add(-1) }

// WriteAcquire takes the exclusive writer flag, yielding while another
// writer holds it. Readers are not blocked.
func (h *Handle) WriteAcquire() {
	for !h.writer.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

// TryWriteAcquire takes the writer flag if it is free.
func (h *Handle) TryWriteAcquire() bool {
	return h.writer.CompareAndSwap(false, true)
}

// WriteRelease drops the writer flag.
func (h *Handle) WriteRelease() { h.writer.Store(false) }

// CompleteInit publishes the Uninited -> Inited transition. It is called
// once by the creating goroutine before the entry becomes visible.
func (h *Handle) CompleteInit() { h.status.Store(statusInited) }

// Reset returns the handle to Uninited after the entry has been unpublished
// and drained. The reader count is left alone: it is balanced by
// construction, and a stale reader that raced the drain may still be
// between its acquire and its release.
func (h *Handle) Reset() { h.status.Store(statusUninited) }

// IsInited reports whether the entry has a key assigned.
func (h *Handle) IsInited() bool { return h.status.Load() == statusInited }

// IsWriteHeld reports whether a delete holds the entry.
func (h *Handle) IsWriteHeld() bool { return h.writer.Load() }

// Readers returns the current number of read acquisitions.
func (h *Handle) Readers() int32 { return h.readers.Load() }

// IsShouldRelease is the only safe-to-reclaim predicate: the writer holds the
// entry and no reader is in flight.
func (h *Handle) IsShouldRelease() bool {
	return h.writer.Load() && h.readers.Load() == 0
}
