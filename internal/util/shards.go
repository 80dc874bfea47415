package util

import "runtime"

// ReasonableShardCount picks a practical default shard count based on CPU
// parallelism. Heuristic: nextPow2(2*GOMAXPROCS), clamped to [1..256].
func ReasonableShardCount() uint32 {
	p := runtime.GOMAXPROCS(0)
	if p < 1 {
		p = 1
	}
	n := NextPow2(uint64(p * 2))
	if n > 256 {
		n = 256
	}
	return uint32(n)
}

// ShardIndex maps a 32-bit hash to a shard index in [0, shards).
// Routing is plain modulo so that any shard count is allowed; the mask
// path is only a shortcut for powers of two and yields the same index.
func ShardIndex(hash uint32, shards uint32) int {
	if shards <= 1 {
		return 0
	}
	if IsPowerOfTwo(uint64(shards)) {
		return int(hash & (shards - 1))
	}
	return int(hash % shards)
}

// ModIndex maps a signed integer key to [0, shards). Negative keys wrap
// around instead of producing a negative index.
func ModIndex(v int64, shards uint32) int {
	if shards <= 1 {
		return 0
	}
	n := int64(shards)
	i := v % n
	if i < 0 {
		i += n
	}
	return int(i)
}

// UModIndex is ModIndex for unsigned keys.
func UModIndex(v uint64, shards uint32) int {
	if shards <= 1 {
		return 0
	}
	return int(v % uint64(shards))
}
