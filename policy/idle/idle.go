// Package idle implements the idle-first eviction policy: entries nobody is
// reading are evicted before entries with outstanding read leases.
package idle

import "github.com/IvanBrykalov/hkvtable/policy"

type idle struct{}

// New returns the idle-first policy.
func New() policy.Policy { return idle{} }

func (idle) Name() string { return "idle" }

func (idle) Passes() int { return 2 }

// Accept takes readerless entries first, then anything.
func (idle) Accept(pass int, c policy.Candidate) bool {
	if pass >= policy.Fallback {
		return true
	}
	return c.Readers == 0
}
