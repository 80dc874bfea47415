package keys

import (
	"unsafe"

	"github.com/IvanBrykalov/hkvtable/internal/util"
)

// StringDomain routes variable-length text keys.
type StringDomain struct{}

func (StringDomain) Kind() Kind { return String }

func (StringDomain) Shard(k string, shards uint32) int {
	return util.ShardIndex(util.Fnv32aString(k), shards)
}

func (StringDomain) Equal(a, b string) bool { return a == b }

// Size is the string header; the bytes themselves live on the Go heap.
func (StringDomain) Size() int { return int(unsafe.Sizeof("")) }

// Integer routes fixed-width integer keys by value modulo the shard count.
// Negative values wrap into range.
type Integer[K ~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64] struct {
	kind Kind
}

// NewInteger returns an integer domain for a custom integer key type.
func NewInteger[K ~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64](kind Kind) Integer[K] {
	return Integer[K]{kind: kind}
}

func (d Integer[K]) Kind() Kind { return d.kind }

func (Integer[K]) Shard(k K, shards uint32) int {
	// K(0)-1 < 0 only for signed types.
	var zero K
	if zero-1 < zero {
		return util.ModIndex(int64(k), shards)
	}
	return util.UModIndex(uint64(k), shards)
}

func (Integer[K]) Equal(a, b K) bool { return a == b }

func (Integer[K]) Size() int {
	var k K
	return int(unsafe.Sizeof(k))
}

// FixedBytes routes fixed-width byte-array keys with FNV-1a over the array.
type FixedBytes[K comparable] struct {
	kind Kind
	view func(*K) []byte
}

// Bytes returns a domain for a fixed-width array type. view must expose the
// array's bytes without copying, typically func(k *[N]byte) []byte { return k[:] }.
func Bytes[K comparable](kind Kind, view func(*K) []byte) FixedBytes[K] {
	return FixedBytes[K]{kind: kind, view: view}
}

func (d FixedBytes[K]) Kind() Kind { return d.kind }

func (d FixedBytes[K]) Shard(k K, shards uint32) int {
	return util.ShardIndex(util.Fnv32a(d.view(&k)), shards)
}

func (FixedBytes[K]) Equal(a, b K) bool { return a == b }

func (FixedBytes[K]) Size() int {
	var k K
	return int(unsafe.Sizeof(k))
}

var (
	_ Domain[string]   = StringDomain{}
	_ Domain[int32]    = Integer[int32]{}
	_ Domain[int64]    = Integer[int64]{}
	_ Domain[[12]byte] = FixedBytes[[12]byte]{}
)
