// Package relationship tracks how one agent feels about each peer it has met:
// trust, fondness, and respect per peer, plus a slowly evolving personality
// trait vector. The ledger is owned by one agent; persistence is advisory and
// never blocks decision-making.
package relationship

import (
	"time"

	"hivemind/internal/logging"
)

const (
	// maxMemories bounds the per-relationship memory list.
	maxMemories = 10

	// hourlyDecayRate is how far each metric moves toward zero per hour of
	// elapsed time when Decay runs.
	hourlyDecayRate = 0.01
)

// Type classifies a relationship from its metrics. It is always derived,
// never stored.
type Type int

const (
	TypeStranger Type = iota
	TypeAcquaintance
	TypeFriend
	TypeBestFriend
	TypeRival
	TypeEnemy
)

func (t Type) String() string {
	switch t {
	case TypeStranger:
		return "stranger"
	case TypeAcquaintance:
		return "acquaintance"
	case TypeFriend:
		return "friend"
	case TypeBestFriend:
		return "best_friend"
	case TypeRival:
		return "rival"
	case TypeEnemy:
		return "enemy"
	default:
		return "stranger"
	}
}

// Relationship is the evolving record for one (owner, peer) pair.
type Relationship struct {
	Peer string `json:"peer"`

	Trust    float64 `json:"trust"`    // [-1,1]
	Fondness float64 `json:"fondness"` // [-1,1]
	Respect  float64 `json:"respect"`  // [-1,1]

	TotalInteractions    int `json:"total_interactions"`
	PositiveInteractions int `json:"positive_interactions"`
	NegativeInteractions int `json:"negative_interactions"`

	Memories []string `json:"memories,omitempty"`

	LastInteraction time.Time `json:"last_interaction"`
}

// Mean returns the average of the three metrics.
func (r *Relationship) Mean() float64 {
	return (r.Trust + r.Fondness + r.Respect) / 3
}

// Type derives the relationship classification from the current metrics.
// Thresholds on the mean: > 0.6 best friend, > 0.3 friend, > 0.1 acquaintance,
// >= -0.2 stranger, >= -0.5 rival, below that enemy.
func (r *Relationship) Type() Type {
	mean := r.Mean()
	switch {
	case mean > 0.6:
		return TypeBestFriend
	case mean > 0.3:
		return TypeFriend
	case mean > 0.1:
		return TypeAcquaintance
	case mean >= -0.2:
		return TypeStranger
	case mean >= -0.5:
		return TypeRival
	default:
		return TypeEnemy
	}
}

// Ledger holds all relationships and the trait vector for one agent.
type Ledger struct {
	owner     string
	relations map[string]*Relationship
	traits    *TraitVector
	lastDecay time.Time

	now func() time.Time
}

// NewLedger creates an empty ledger for the named agent.
func NewLedger(owner string, base map[string]float64) *Ledger {
	l := &Ledger{
		owner:     owner,
		relations: make(map[string]*Relationship),
		traits:    NewTraitVector(base),
		now:       time.Now,
	}
	l.lastDecay = l.now()
	return l
}

// Owner returns the owning agent's name.
func (l *Ledger) Owner() string { return l.owner }

// Traits returns the ledger's trait vector.
func (l *Ledger) Traits() *TraitVector { return l.traits }

// Get returns the relationship with peer, creating a neutral one on first
// contact.
func (l *Ledger) Get(peer string) *Relationship {
	r, ok := l.relations[peer]
	if !ok {
		r = &Relationship{Peer: peer}
		l.relations[peer] = r
	}
	return r
}

// Peek returns the relationship with peer without creating one.
func (l *Ledger) Peek(peer string) (*Relationship, bool) {
	r, ok := l.relations[peer]
	return r, ok
}

// All returns every known relationship keyed by peer name.
func (l *Ledger) All() map[string]*Relationship {
	out := make(map[string]*Relationship, len(l.relations))
	for k, v := range l.relations {
		out[k] = v
	}
	return out
}

// RecordInteraction updates the relationship with peer. deltas move the three
// metrics; positive reports whether the interaction was a net positive.
func (l *Ledger) RecordInteraction(peer string, trustDelta, fondnessDelta, respectDelta float64, memo string) *Relationship {
	r := l.Get(peer)

	r.Trust = clampMetric(r.Trust + trustDelta)
	r.Fondness = clampMetric(r.Fondness + fondnessDelta)
	r.Respect = clampMetric(r.Respect + respectDelta)

	r.TotalInteractions++
	if trustDelta+fondnessDelta+respectDelta > 0 {
		r.PositiveInteractions++
	} else if trustDelta+fondnessDelta+respectDelta < 0 {
		r.NegativeInteractions++
	}

	if memo != "" {
		r.Memories = append(r.Memories, memo)
		if len(r.Memories) > maxMemories {
			r.Memories = r.Memories[len(r.Memories)-maxMemories:]
		}
	}
	r.LastInteraction = l.now()

	logging.Get(logging.CategoryRelationship).Debug("%s->%s now %s (mean %.2f)",
		l.owner, peer, r.Type(), r.Mean())
	return r
}

// Decay moves every metric toward zero at the fixed hourly rate, scaled by
// the time elapsed since the previous decay. Invoked by the owner's
// maintenance cycle.
func (l *Ledger) Decay() {
	now := l.now()
	hours := now.Sub(l.lastDecay).Hours()
	if hours <= 0 {
		return
	}
	l.lastDecay = now

	amount := hourlyDecayRate * hours
	for _, r := range l.relations {
		r.Trust = decayToward(r.Trust, amount)
		r.Fondness = decayToward(r.Fondness, amount)
		r.Respect = decayToward(r.Respect, amount)
	}
}

func decayToward(v, amount float64) float64 {
	if v > amount {
		return v - amount
	}
	if v < -amount {
		return v + amount
	}
	return 0
}

func clampMetric(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
