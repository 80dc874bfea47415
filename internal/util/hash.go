// Package util contains internal helpers (hashing, sharding, padding).
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

// FNV-1a, 32-bit. Shard routing depends on these exact constants, so a table
// built with one binary routes keys the same way as any other.
const (
	fnvOffset32 = uint32(2166136261)
	fnvPrime32  = uint32(16777619)
)

// Fnv32a hashes b with 32-bit FNV-1a.
func Fnv32a(b []byte) uint32 {
	h := fnvOffset32
	for _, c := range b {
		h ^= uint32(c)
		h *= fnvPrime32
	}
	return h
}

// Fnv32aString is Fnv32a for strings without the []byte conversion.
func Fnv32aString(s string) uint32 {
	h := fnvOffset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}
