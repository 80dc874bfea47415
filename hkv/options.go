package hkv

import (
	"github.com/rs/zerolog"

	"github.com/IvanBrykalov/hkvtable/keys"
	"github.com/IvanBrykalov/hkvtable/policy"
)

// EvictReason tells which pass of the eviction policy chose the victim.
type EvictReason int

const (
	// EvictPreferred means the victim matched the policy's preferred filter.
	EvictPreferred EvictReason = iota
	// EvictFallback means no preferred victim existed; any live entry was taken.
	EvictFallback
)

func (r EvictReason) String() string {
	if r == EvictFallback {
		return "fallback"
	}
	return "preferred"
}

// Metrics exposes table-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Create()
	Delete()
	Evict(reason EvictReason)
	Size(entries int, slots int)
}

// Options configures a table. Zero values are safe; New applies defaults:
//   - SharedCount == 0 => ReasonableShardCount
//   - KeyType == "" and Domain == nil => inferred from K
//   - nil Policy  => idle-first
//   - nil Metrics => NoopMetrics
//   - nil Logger  => zerolog.Nop()
type Options[K comparable] struct {
	// Name is a diagnostic label.
	Name string

	// ObjectSize is the payload size in bytes of every entry.
	ObjectSize int
	// ObjectsLimit caps live entries; reaching it triggers eviction.
	// <= 0 disables the limit.
	ObjectsLimit int32
	// SharedCount is the number of shards. It is fixed for the table's life.
	SharedCount uint32

	// KeyType selects a built-in key domain by name; it must match K.
	KeyType keys.Kind
	// Domain overrides KeyType with a custom key domain.
	Domain keys.Domain[K]

	// Policy picks eviction victims. Light tables always take idle entries.
	Policy policy.Policy

	// AutoRelease makes a Light table remove an entry on its last Release.
	// Table ignores it.
	AutoRelease bool

	// Heap keeps payloads on the Go heap instead of off-heap mmap memory.
	Heap bool

	// PrepareNewObject runs once for every freshly carved slot, before the
	// slot is first used. Keep it lightweight: it runs on the allocation path.
	PrepareNewObject func(id EntryID, payload []byte)
	// BeforeRelease runs when a delete holds an entry, before the slot is
	// reclaimed. It is called again on every drain poll, so it must be
	// idempotent.
	BeforeRelease func(id EntryID, payload []byte)

	Metrics Metrics
	Logger  *zerolog.Logger
}
