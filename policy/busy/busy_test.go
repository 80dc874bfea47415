package busy

import (
	"testing"

	"github.com/IvanBrykalov/hkvtable/policy"
)

// Pass 0 must only accept entries with outstanding readers.
func TestBusy_PreferredPass(t *testing.T) {
	t.Parallel()

	p := New()
	if !p.Accept(0, policy.Candidate{Readers: 2}) {
		t.Fatal("pass 0 must accept a busy entry")
	}
	if p.Accept(0, policy.Candidate{Readers: 0}) {
		t.Fatal("pass 0 must reject an idle entry")
	}
}

func TestBusy_FallbackPass(t *testing.T) {
	t.Parallel()

	p := New()
	if !p.Accept(policy.Fallback, policy.Candidate{Readers: 0}) {
		t.Fatal("fallback pass must accept an idle entry")
	}
	if p.Name() != "busy" {
		t.Fatalf("Name() = %q", p.Name())
	}
}
