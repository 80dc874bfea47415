package hkv

import "github.com/IvanBrykalov/hkvtable/pool"

// EntryID identifies one published entry: the slot it lives in plus the
// slot's generation at publication time. An EntryID kept past the entry's
// deletion never matches the slot again.
type EntryID = pool.SlotID

// entry is the per-slot metadata the table keeps in the pool.
// key is written only between Alloc and publication; once an entry is
// validated under a read or write acquisition it is stable.
type entry[K comparable] struct {
	Handle
	key K
}
