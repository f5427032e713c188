package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClampEnforcesBands(t *testing.T) {
	p := PersonaConfig{
		Chattiness:          2.0,
		AngerThreshold:      0.05,
		EmotionalVolatility: -1,
		Curiosity:           1.5,
		Patience:            0,
	}
	p.Clamp()

	assert.Equal(t, 0.95, p.Chattiness)
	assert.Equal(t, 0.2, p.AngerThreshold)
	assert.Equal(t, 0.05, p.EmotionalVolatility)
	assert.Equal(t, 1.0, p.Curiosity)
	assert.Equal(t, 0.05, p.Patience)
}

func TestClampRepairsDelayBand(t *testing.T) {
	p := DefaultPersona()
	p.MinResponseDelay = 0
	p.MaxResponseDelay = -time.Second
	p.Clamp()

	assert.Equal(t, 800*time.Millisecond, p.MinResponseDelay)
	assert.Equal(t, p.MinResponseDelay, p.MaxResponseDelay)
}

func TestMergeOverlaysNonZeroFields(t *testing.T) {
	p := DefaultPersona()
	p.Merge(PersonaConfig{
		Summary:    "a grumpy miner",
		Chattiness: 0.2,
	})

	assert.Equal(t, "a grumpy miner", p.Summary)
	assert.Equal(t, 0.2, p.Chattiness)
	// Zero-valued fields in the overlay leave the target alone.
	assert.Equal(t, 0.7, p.AngerThreshold)
	assert.Equal(t, 0.6, p.Patience)
}

func TestMergeClampsResult(t *testing.T) {
	p := DefaultPersona()
	p.Merge(PersonaConfig{Chattiness: 99})
	assert.Equal(t, 0.95, p.Chattiness)
}

func TestEvolve(t *testing.T) {
	p := DefaultPersona()

	v, ok := p.Evolve("chattiness", 0.2)
	assert.True(t, ok)
	assert.InDelta(t, 0.7, v, 1e-9)

	// Clamped at the band edge.
	v, ok = p.Evolve("chattiness", 1.0)
	assert.True(t, ok)
	assert.Equal(t, 0.95, v)

	_, ok = p.Evolve("swagger", 0.1)
	assert.False(t, ok)
}
