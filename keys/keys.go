// Package keys describes the key shapes a table can index and how each of
// them is routed to a shard.
//
// A Domain bundles the three things a table needs to know about its key
// type: how to pick a shard, how to compare two keys and how much memory a
// key occupies inside an entry. Byte-like keys (strings and fixed-size
// arrays) are routed with 32-bit FNV-1a over their bytes; integer keys are
// routed by plain modulo of their value.
package keys

import (
	"errors"
	"fmt"
)

// ErrUnsupportedKeyType is returned when a table is configured with a key
// kind that does not exist or does not match the table's key type.
var ErrUnsupportedKeyType = errors.New("keys: unsupported key type")

// Kind names a key domain. It is the value carried by configuration files
// and flags (e.g. "string", "int64", "bytes12").
type Kind string

const (
	String  Kind = "string"
	Int32   Kind = "int32"
	Int64   Kind = "int64"
	Uint64  Kind = "uint64"
	Bytes12 Kind = "bytes12"
	Bytes64 Kind = "bytes64"
	Bytes68 Kind = "bytes68"
)

// Kinds lists every built-in kind in a stable order.
func Kinds() []Kind {
	return []Kind{String, Int32, Int64, Uint64, Bytes12, Bytes64, Bytes68}
}

// Domain describes one key shape.
//
// Shard must be pure: for a fixed shard count it returns the same index for
// equal keys for the whole lifetime of the process.
type Domain[K comparable] interface {
	Kind() Kind
	// Shard maps k to [0, shards).
	Shard(k K, shards uint32) int
	Equal(a, b K) bool
	// Size is the in-memory footprint of one key inside an entry.
	Size() int
}

// For resolves kind for key type K. It fails with ErrUnsupportedKeyType when
// kind is unknown or when its Go type is not K.
func For[K comparable](kind Kind) (Domain[K], error) {
	var d any
	switch kind {
	case String:
		d = StringDomain{}
	case Int32:
		d = Integer[int32]{kind: Int32}
	case Int64:
		d = Integer[int64]{kind: Int64}
	case Uint64:
		d = Integer[uint64]{kind: Uint64}
	case Bytes12:
		d = Bytes[[12]byte](Bytes12, func(k *[12]byte) []byte { return k[:] })
	case Bytes64:
		d = Bytes[[64]byte](Bytes64, func(k *[64]byte) []byte { return k[:] })
	case Bytes68:
		d = Bytes[[68]byte](Bytes68, func(k *[68]byte) []byte { return k[:] })
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, string(kind))
	}

	dk, ok := d.(Domain[K])
	if !ok {
		var zero K
		return nil, fmt.Errorf("%w: kind %q cannot index %T keys", ErrUnsupportedKeyType, string(kind), zero)
	}
	return dk, nil
}

// Infer picks the built-in kind matching K.
func Infer[K comparable]() (Domain[K], error) {
	var zero K
	kind, ok := kindOf(any(zero))
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKeyType, zero)
	}
	return For[K](kind)
}

func kindOf(v any) (Kind, bool) {
	switch v.(type) {
	case string:
		return String, true
	case int32:
		return Int32, true
	case int64:
		return Int64, true
	case uint64:
		return Uint64, true
	case [12]byte:
		return Bytes12, true
	case [64]byte:
		return Bytes64, true
	case [68]byte:
		return Bytes68, true
	}
	return "", false
}

// Parse validates a kind name coming from configuration.
func Parse(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedKeyType, s)
}
