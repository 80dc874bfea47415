// Package busy implements the busy-first eviction policy: entries that
// currently have read leases are evicted before idle ones.
//
// This reproduces the legacy victim order. Deleting a busy entry waits
// until its readers release, so an allocator that itself holds a lease on
// the chosen victim will wait forever; prefer package idle unless the old
// order is required.
package busy

import "github.com/IvanBrykalov/hkvtable/policy"

type busy struct{}

// New returns the busy-first policy.
func New() policy.Policy { return busy{} }

func (busy) Name() string { return "busy" }

func (busy) Passes() int { return 2 }

func (busy) Accept(pass int, c policy.Candidate) bool {
	if pass >= policy.Fallback {
		return true
	}
	return c.Readers > 0
}
