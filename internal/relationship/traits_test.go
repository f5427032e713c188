package relationship

import (
	"testing"
	"time"
)

func TestBaseValuesClampedToBands(t *testing.T) {
	tv := NewTraitVector(map[string]float64{
		"chattiness":      1.5,  // band max 0.95
		"anger_threshold": -0.3, // band min 0.2
		"bravado":         2.0,  // unknown trait, kept verbatim
	})

	if v, _ := tv.Base("chattiness"); v != 0.95 {
		t.Errorf("chattiness base = %v, want 0.95", v)
	}
	if v, _ := tv.Base("anger_threshold"); v != 0.2 {
		t.Errorf("anger_threshold base = %v, want 0.2", v)
	}
	if v, _ := tv.Base("bravado"); v != 2.0 {
		t.Errorf("unknown trait base = %v, want 2.0", v)
	}
}

func TestEvolveStaysInsideBand(t *testing.T) {
	tv := NewTraitVector(nil)

	for i := 0; i < 50; i++ {
		tv.Evolve("chattiness", 0.1, "chatty day")
	}
	if v, _ := tv.Current("chattiness"); v != 0.95 {
		t.Errorf("chattiness = %v, want band max 0.95", v)
	}

	for i := 0; i < 50; i++ {
		tv.Evolve("patience", -0.1, "bad day")
	}
	if v, _ := tv.Current("patience"); v != 0.05 {
		t.Errorf("patience = %v, want band min 0.05", v)
	}
}

func TestEvolveDoesNotTouchBase(t *testing.T) {
	tv := NewTraitVector(nil)
	before, _ := tv.Base("curiosity")

	tv.Evolve("curiosity", 0.3, "found a cave")

	after, _ := tv.Base("curiosity")
	if before != after {
		t.Errorf("base changed %v -> %v, base must be immutable", before, after)
	}
	if cur, _ := tv.Current("curiosity"); cur == before {
		t.Error("current should have moved")
	}
}

func TestHistoryIsAppendOnly(t *testing.T) {
	tv := NewTraitVector(nil)
	base := time.Now()
	tv.now = func() time.Time { return base }

	tv.Evolve("chattiness", 0.1, "made a friend")
	tv.Evolve("chattiness", -0.05, "got snubbed")
	tv.Evolve("patience", 0.02, "waited it out")

	h := tv.History()
	if len(h) != 3 {
		t.Fatalf("history = %d entries, want 3", len(h))
	}
	if h[0].Trait != "chattiness" || h[0].Reason != "made a friend" {
		t.Errorf("first entry rewritten: %+v", h[0])
	}
	if h[2].Trait != "patience" {
		t.Errorf("entries out of order: %+v", h[2])
	}

	// Mutating the returned slice must not affect the log.
	h[0].Reason = "tampered"
	if tv.History()[0].Reason != "made a friend" {
		t.Error("History must return a copy")
	}
}

func TestXPAccruesFromAppliedDelta(t *testing.T) {
	tv := NewTraitVector(map[string]float64{"chattiness": 0.9})

	// Only 0.05 of the requested 0.5 fits inside the band.
	tv.Evolve("chattiness", 0.5, "")
	if tv.XP < 0.049 || tv.XP > 0.051 {
		t.Errorf("XP = %v, want ~0.05 (applied delta, not requested)", tv.XP)
	}
}
