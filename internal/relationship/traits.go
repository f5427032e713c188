package relationship

import (
	"time"

	"hivemind/internal/config"
)

// Experience tallies the social outcomes that feed trait evolution.
type Experience struct {
	SocialSuccess      int `json:"social_success"`
	SocialFailure      int `json:"social_failure"`
	ConflictWins       int `json:"conflict_wins"`
	ConflictLosses     int `json:"conflict_losses"`
	ExplorationSuccess int `json:"exploration_success"`
	HelpingOthers      int `json:"helping_others"`
	BeingHelped        int `json:"being_helped"`
	Betrayals          int `json:"betrayals"`
}

// Evolution is one append-only entry in the trait history log.
type Evolution struct {
	Trait  string    `json:"trait"`
	Delta  float64   `json:"delta"`
	Value  float64   `json:"value"`
	Reason string    `json:"reason"`
	Time   time.Time `json:"time"`
}

// TraitVector holds the immutable base personality and its evolving current
// values. Every tracked trait stays within its configured band; evolution
// events are appended to the history log and never rewritten.
type TraitVector struct {
	base    map[string]float64
	current map[string]float64

	Exp Experience `json:"experience"`
	XP  float64    `json:"xp"`

	history []Evolution

	now func() time.Time
}

// NewTraitVector creates a trait vector from a base personality map. Unknown
// traits are kept verbatim; known ones are clamped to their bands.
func NewTraitVector(base map[string]float64) *TraitVector {
	if base == nil {
		base = map[string]float64{
			"chattiness":           0.5,
			"anger_threshold":      0.7,
			"emotional_volatility": 0.4,
			"curiosity":            0.5,
			"patience":             0.6,
		}
	}
	b := make(map[string]float64, len(base))
	c := make(map[string]float64, len(base))
	bands := config.Bands()
	for k, v := range base {
		if band, ok := bands[k]; ok {
			v = clampTo(v, band.Min, band.Max)
		}
		b[k] = v
		c[k] = v
	}
	return &TraitVector{base: b, current: c, now: time.Now}
}

// Base returns the immutable baseline value of a trait.
func (t *TraitVector) Base(trait string) (float64, bool) {
	v, ok := t.base[trait]
	return v, ok
}

// Current returns the current value of a trait.
func (t *TraitVector) Current(trait string) (float64, bool) {
	v, ok := t.current[trait]
	return v, ok
}

// CurrentAll returns a copy of the current personality map.
func (t *TraitVector) CurrentAll() map[string]float64 {
	out := make(map[string]float64, len(t.current))
	for k, v := range t.current {
		out[k] = v
	}
	return out
}

// Evolve nudges trait by delta, clamped to its band, and appends to the
// history log. XP accrues with the magnitude of change actually applied.
func (t *TraitVector) Evolve(trait string, delta float64, reason string) float64 {
	cur, ok := t.current[trait]
	if !ok {
		cur = t.base[trait]
	}

	next := cur + delta
	if band, has := config.Bands()[trait]; has {
		next = clampTo(next, band.Min, band.Max)
	} else {
		next = clampTo(next, 0, 1)
	}

	applied := next - cur
	t.current[trait] = next
	t.XP += abs(applied)
	t.history = append(t.history, Evolution{
		Trait:  trait,
		Delta:  applied,
		Value:  next,
		Reason: reason,
		Time:   t.now(),
	})
	return next
}

// History returns a copy of the evolution log, oldest first.
func (t *TraitVector) History() []Evolution {
	out := make([]Evolution, len(t.history))
	copy(out, t.history)
	return out
}

func clampTo(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
