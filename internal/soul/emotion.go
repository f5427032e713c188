package soul

import "fmt"

// Emotion is the coarse emotional register an agent can be in.
type Emotion int

const (
	EmotionCalm Emotion = iota
	EmotionHappy
	EmotionExcited
	EmotionCurious
	EmotionAttentive
	EmotionBored
	EmotionTired
	EmotionAnnoyed
	EmotionFrustrated
	EmotionAngry
	EmotionScared
	EmotionSad
)

func (e Emotion) String() string {
	switch e {
	case EmotionCalm:
		return "calm"
	case EmotionHappy:
		return "happy"
	case EmotionExcited:
		return "excited"
	case EmotionCurious:
		return "curious"
	case EmotionAttentive:
		return "attentive"
	case EmotionBored:
		return "bored"
	case EmotionTired:
		return "tired"
	case EmotionAnnoyed:
		return "annoyed"
	case EmotionFrustrated:
		return "frustrated"
	case EmotionAngry:
		return "angry"
	case EmotionScared:
		return "scared"
	case EmotionSad:
		return "sad"
	default:
		return fmt.Sprintf("unknown(%d)", e)
	}
}

// ParseEmotion maps a lowercase name to an Emotion. Unknown names map to
// calm, the safe default for unparseable oracle output.
func ParseEmotion(s string) Emotion {
	switch s {
	case "calm":
		return EmotionCalm
	case "happy":
		return EmotionHappy
	case "excited":
		return EmotionExcited
	case "curious":
		return EmotionCurious
	case "attentive":
		return EmotionAttentive
	case "bored":
		return EmotionBored
	case "tired":
		return EmotionTired
	case "annoyed":
		return EmotionAnnoyed
	case "frustrated":
		return EmotionFrustrated
	case "angry":
		return EmotionAngry
	case "scared":
		return EmotionScared
	case "sad":
		return EmotionSad
	default:
		return EmotionCalm
	}
}

// IsHostile reports whether the emotion is in the hostile cluster that arms
// the provoked override.
func (e Emotion) IsHostile() bool {
	switch e {
	case EmotionAngry, EmotionFrustrated, EmotionAnnoyed:
		return true
	}
	return false
}

// IsExtroverted reports whether the emotion is in the positive cluster that
// arms the enthusiastic override.
func (e Emotion) IsExtroverted() bool {
	switch e {
	case EmotionHappy, EmotionExcited, EmotionCurious:
		return true
	}
	return false
}

// UrgencyMultiplier scales the response delay band. Hot emotions answer fast,
// flat ones drag.
func (e Emotion) UrgencyMultiplier() float64 {
	switch e {
	case EmotionAngry, EmotionExcited:
		return 0.4
	case EmotionAttentive, EmotionFrustrated, EmotionAnnoyed:
		return 0.6
	case EmotionHappy, EmotionCurious:
		return 0.8
	case EmotionScared:
		return 1.2
	case EmotionBored, EmotionTired, EmotionSad:
		return 1.5
	default:
		return 1.0
	}
}
