// Package policy defines how the eviction agent picks a victim when the
// slot pool runs out of capacity.
//
// The agent walks the table in passes. In every pass it visits shards one at
// a time (holding only that shard's read lock) and offers each Inited entry
// to Accept; the first accepted entry is deleted. A policy with two passes
// typically states a preference in pass 0 and accepts anything in pass 1.
package policy

// Candidate is the view of a live entry offered to a policy.
// Readers is a racy snapshot: it may change right after the scan.
type Candidate struct {
	Readers int32
}

// Policy selects eviction victims. Implementations must be stateless or
// safe for concurrent use: several allocators may evict at the same time.
type Policy interface {
	// Name is a stable label for logs and metrics.
	Name() string
	// Passes is the number of scans the agent performs before giving up.
	Passes() int
	// Accept reports whether c is an acceptable victim in the given pass.
	Accept(pass int, c Candidate) bool
}

// Fallback is the pass in which two-pass policies accept any entry.
const Fallback = 1
