// Package soul holds the per-agent emotional state: current emotion, intensity,
// frustration, short memory, and grievances against specific peers. The state is
// owned by exactly one agent runtime and is mutated by one logical step at a
// time; it carries no locking of its own.
package soul

import (
	"time"

	"hivemind/internal/logging"
)

const (
	// maxMemories bounds the recent-memory ring buffer.
	maxMemories = 10

	// maxEmotionHistory bounds the emotion-change ring buffer.
	maxEmotionHistory = 10

	// GrievanceWindow is how long a grievance stays active after its last
	// update. Expired grievances become inert but are not deleted.
	GrievanceWindow = 5 * time.Minute
)

// Memory is one remembered event.
type Memory struct {
	Text string
	Time time.Time
}

// EmotionChange records one transition in the emotion history buffer.
type EmotionChange struct {
	From   Emotion
	To     Emotion
	Reason string
	Time   time.Time
}

// Grievance is a time-decaying record of negative acts by one peer.
type Grievance struct {
	Count    int
	LastTime time.Time
	Reasons  []string
}

// Active reports whether the grievance is still within its activity window.
func (g *Grievance) Active(now time.Time) bool {
	return now.Sub(g.LastTime) < GrievanceWindow
}

// State is the full emotional state of one agent.
type State struct {
	owner string

	emotion     Emotion
	intensity   float64 // [0,1]
	frustration float64 // [0,1]

	memories       []Memory
	emotionHistory []EmotionChange
	grievances     map[string]*Grievance

	lastEmotionChange time.Time

	// angerThreshold is the frustration level at which "angry" sticks.
	// Below it, anger is downgraded (see SetEmotion).
	angerThreshold float64

	now func() time.Time
}

// NewState creates an emotional state for the named agent. angerThreshold
// comes from the persona; a zero value falls back to 0.7.
func NewState(owner string, angerThreshold float64) *State {
	if angerThreshold <= 0 {
		angerThreshold = 0.7
	}
	return &State{
		owner:          owner,
		emotion:        EmotionCalm,
		intensity:      0.3,
		angerThreshold: angerThreshold,
		grievances:     make(map[string]*Grievance),
		now:            time.Now,
	}
}

// Emotion returns the current emotion.
func (s *State) Emotion() Emotion { return s.emotion }

// Intensity returns the current intensity in [0,1].
func (s *State) Intensity() float64 { return s.intensity }

// Frustration returns the current frustration in [0,1].
func (s *State) Frustration() float64 { return s.frustration }

// LastEmotionChange returns when the emotion last changed.
func (s *State) LastEmotionChange() time.Time { return s.lastEmotionChange }

// SetEmotion transitions to the requested emotion.
//
// Anger downgrade rule: "angry" is intentionally throttled. When frustration
// is below the persona's anger threshold, a requested "angry" is recorded as
// "frustrated" (frustration >= 0.4) or "annoyed" (below). This applies even
// when the decision oracle explicitly returned "angry" - sustained frustration
// is required before the agent is allowed to actually be angry.
func (s *State) SetEmotion(e Emotion, reason string) Emotion {
	if e == EmotionAngry && s.frustration < s.angerThreshold {
		if s.frustration >= 0.4 {
			e = EmotionFrustrated
		} else {
			e = EmotionAnnoyed
		}
	}

	if e == s.emotion {
		return e
	}

	change := EmotionChange{From: s.emotion, To: e, Reason: reason, Time: s.now()}
	s.emotionHistory = append(s.emotionHistory, change)
	if len(s.emotionHistory) > maxEmotionHistory {
		s.emotionHistory = s.emotionHistory[len(s.emotionHistory)-maxEmotionHistory:]
	}

	logging.Soul("%s: %s -> %s (%s)", s.owner, s.emotion, e, reason)
	s.emotion = e
	s.lastEmotionChange = change.Time
	return e
}

// AdjustIntensity moves intensity by delta, clamped to [0,1].
func (s *State) AdjustIntensity(delta float64) {
	s.intensity = clamp01(s.intensity + delta)
}

// AdjustFrustration moves frustration by delta, clamped to [0,1].
func (s *State) AdjustFrustration(delta float64) {
	s.frustration = clamp01(s.frustration + delta)
}

// Remember appends to the recent-memory ring buffer.
func (s *State) Remember(text string) {
	s.memories = append(s.memories, Memory{Text: text, Time: s.now()})
	if len(s.memories) > maxMemories {
		s.memories = s.memories[len(s.memories)-maxMemories:]
	}
}

// Memories returns a copy of the recent memories, oldest first.
func (s *State) Memories() []Memory {
	out := make([]Memory, len(s.memories))
	copy(out, s.memories)
	return out
}

// History returns a copy of the emotion-change history, oldest first.
func (s *State) History() []EmotionChange {
	out := make([]EmotionChange, len(s.emotionHistory))
	copy(out, s.emotionHistory)
	return out
}

// AddGrievance records a negative act by peer. Each act bumps frustration a
// little and refreshes the grievance's activity window.
func (s *State) AddGrievance(peer, reason string) {
	g, ok := s.grievances[peer]
	if !ok {
		g = &Grievance{}
		s.grievances[peer] = g
	}
	g.Count++
	g.LastTime = s.now()
	g.Reasons = append(g.Reasons, reason)
	if len(g.Reasons) > maxMemories {
		g.Reasons = g.Reasons[len(g.Reasons)-maxMemories:]
	}
	s.AdjustFrustration(0.15)
}

// GrievanceAgainst returns the grievance record for peer if it is still
// active. Expired records stay in the map but are not returned.
func (s *State) GrievanceAgainst(peer string) (*Grievance, bool) {
	g, ok := s.grievances[peer]
	if !ok || !g.Active(s.now()) {
		return nil, false
	}
	return g, true
}

// CoolDown relaxes the state toward calm: frustration and intensity bleed off.
// Called from the agent's maintenance cycle.
func (s *State) CoolDown() {
	s.AdjustFrustration(-0.1)
	s.AdjustIntensity(-0.05)
	if s.emotion.IsHostile() && s.frustration < 0.2 {
		s.SetEmotion(EmotionCalm, "cooled_down")
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
