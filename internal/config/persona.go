package config

import "time"

// PersonaConfig is the typed personality profile for one agent. Every field is
// bounded; Clamp enforces the bands after any load or merge so downstream code
// never sees an out-of-range trait.
type PersonaConfig struct {
	// Summary is a one-line persona description included in oracle prompts.
	Summary string `yaml:"summary"`

	// Chattiness in [0,1]: how likely the agent is to volunteer a response.
	Chattiness float64 `yaml:"chattiness"`

	// AngerThreshold in [0,1]: frustration level at which "angry" is allowed
	// to stick instead of being downgraded.
	AngerThreshold float64 `yaml:"anger_threshold"`

	// EmotionalVolatility in [0,1]: how strongly events move intensity.
	EmotionalVolatility float64 `yaml:"emotional_volatility"`

	// Curiosity in [0,1]: biases the enthusiastic override.
	Curiosity float64 `yaml:"curiosity"`

	// Patience in [0,1]: biases the bored override downward.
	Patience float64 `yaml:"patience"`

	// Response delay band before scaling by emotional urgency.
	MinResponseDelay time.Duration `yaml:"min_response_delay"`
	MaxResponseDelay time.Duration `yaml:"max_response_delay"`
}

// TraitBand is the allowed range for one evolving trait.
type TraitBand struct {
	Min float64
	Max float64
}

// traitBands are the configured evolution bands. Base personality can sit
// anywhere inside these; evolution never escapes them.
var traitBands = map[string]TraitBand{
	"chattiness":           {Min: 0.05, Max: 0.95},
	"anger_threshold":      {Min: 0.2, Max: 0.9},
	"emotional_volatility": {Min: 0.05, Max: 0.95},
	"curiosity":            {Min: 0.0, Max: 1.0},
	"patience":             {Min: 0.05, Max: 0.95},
}

// Bands returns the trait evolution bands keyed by trait name.
func Bands() map[string]TraitBand {
	out := make(map[string]TraitBand, len(traitBands))
	for k, v := range traitBands {
		out[k] = v
	}
	return out
}

// DefaultPersona returns a middle-of-the-road persona.
func DefaultPersona() PersonaConfig {
	return PersonaConfig{
		Summary:             "a helpful, even-tempered agent",
		Chattiness:          0.5,
		AngerThreshold:      0.7,
		EmotionalVolatility: 0.4,
		Curiosity:           0.5,
		Patience:            0.6,
		MinResponseDelay:    800 * time.Millisecond,
		MaxResponseDelay:    3 * time.Second,
	}
}

// Clamp forces every trait into its configured band and repairs a degenerate
// delay range.
func (p *PersonaConfig) Clamp() {
	p.Chattiness = clampBand("chattiness", p.Chattiness)
	p.AngerThreshold = clampBand("anger_threshold", p.AngerThreshold)
	p.EmotionalVolatility = clampBand("emotional_volatility", p.EmotionalVolatility)
	p.Curiosity = clampBand("curiosity", p.Curiosity)
	p.Patience = clampBand("patience", p.Patience)

	if p.MinResponseDelay <= 0 {
		p.MinResponseDelay = 800 * time.Millisecond
	}
	if p.MaxResponseDelay < p.MinResponseDelay {
		p.MaxResponseDelay = p.MinResponseDelay
	}
}

// Merge overlays non-zero fields of other onto p and re-clamps. This replaces
// the original free-form object mutation with an explicit, auditable merge.
func (p *PersonaConfig) Merge(other PersonaConfig) {
	if other.Summary != "" {
		p.Summary = other.Summary
	}
	if other.Chattiness != 0 {
		p.Chattiness = other.Chattiness
	}
	if other.AngerThreshold != 0 {
		p.AngerThreshold = other.AngerThreshold
	}
	if other.EmotionalVolatility != 0 {
		p.EmotionalVolatility = other.EmotionalVolatility
	}
	if other.Curiosity != 0 {
		p.Curiosity = other.Curiosity
	}
	if other.Patience != 0 {
		p.Patience = other.Patience
	}
	if other.MinResponseDelay != 0 {
		p.MinResponseDelay = other.MinResponseDelay
	}
	if other.MaxResponseDelay != 0 {
		p.MaxResponseDelay = other.MaxResponseDelay
	}
	p.Clamp()
}

// Evolve nudges a named trait by delta, clamped to the trait's band.
// Returns the new value and whether the trait was recognized.
func (p *PersonaConfig) Evolve(trait string, delta float64) (float64, bool) {
	switch trait {
	case "chattiness":
		p.Chattiness = clampBand(trait, p.Chattiness+delta)
		return p.Chattiness, true
	case "anger_threshold":
		p.AngerThreshold = clampBand(trait, p.AngerThreshold+delta)
		return p.AngerThreshold, true
	case "emotional_volatility":
		p.EmotionalVolatility = clampBand(trait, p.EmotionalVolatility+delta)
		return p.EmotionalVolatility, true
	case "curiosity":
		p.Curiosity = clampBand(trait, p.Curiosity+delta)
		return p.Curiosity, true
	case "patience":
		p.Patience = clampBand(trait, p.Patience+delta)
		return p.Patience, true
	}
	return 0, false
}

func clampBand(trait string, v float64) float64 {
	band, ok := traitBands[trait]
	if !ok {
		band = TraitBand{Min: 0, Max: 1}
	}
	if v < band.Min {
		return band.Min
	}
	if v > band.Max {
		return band.Max
	}
	return v
}
