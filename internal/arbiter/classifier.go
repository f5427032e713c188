package arbiter

import (
	"strings"

	"hivemind/internal/soul"
)

// Fixed phrase sets for the cheap lexical stages. All matching is
// case-insensitive substring (or exact, for acknowledgments).

var farewellPhrases = []string{
	"goodbye",
	"good night",
	"see you later",
	"see ya",
	"gotta go",
	"bye",
	"cya",
	"talk later",
	"signing off",
	"logging off",
}

var ackPhrases = []string{
	"ok",
	"okay",
	"got it",
	"sure",
	"sounds good",
	"will do",
	"alright",
	"thanks",
	"thank you",
	"nice",
	"cool",
	"yep",
	"yeah",
	"k",
}

// emotionTriggers maps trigger phrases to the emotion they signal. Checked in
// order; first hit wins.
var emotionTriggers = []struct {
	phrases []string
	emotion soul.Emotion
}{
	{[]string{"stupid", "idiot", "shut up", "useless", "hate you", "worst"}, soul.EmotionAngry},
	{[]string{"hurry", "now!", "come on", "again?", "still waiting"}, soul.EmotionFrustrated},
	{[]string{"ugh", "whatever", "fine."}, soul.EmotionAnnoyed},
	{[]string{"amazing", "awesome", "great job", "love it", "let's go"}, soul.EmotionExcited},
	{[]string{"thank", "well done", "good work", "appreciate"}, soul.EmotionHappy},
	{[]string{"how do", "what if", "why does", "wonder", "interesting"}, soul.EmotionCurious},
	{[]string{"boring", "nothing to do", "so slow"}, soul.EmotionBored},
	{[]string{"help!", "danger", "run", "attack"}, soul.EmotionScared},
}

// provocativePhrases arm the provoked override when the agent is already
// hostile.
var provocativePhrases = []string{
	"stupid", "idiot", "useless", "shut up", "pathetic", "lazy",
	"you always", "you never", "your fault",
}

// mentionsName reports whether the message names the agent, matching on word
// boundaries so "Max" does not fire on "maximum".
func mentionsName(message, name string) bool {
	if name == "" {
		return false
	}
	msg := strings.ToLower(message)
	target := strings.ToLower(name)

	idx := 0
	for {
		i := strings.Index(msg[idx:], target)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(target)
		beforeOK := start == 0 || !isWordChar(msg[start-1])
		afterOK := end == len(msg) || !isWordChar(msg[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_'
}

func isFarewell(message string) bool {
	msg := strings.ToLower(message)
	for _, p := range farewellPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func isAcknowledgment(message string) bool {
	msg := strings.ToLower(strings.TrimSpace(message))
	msg = strings.Trim(msg, ".,!")
	// Short messages only; split on commas so "ok, got it" still matches.
	for _, part := range strings.Split(msg, ",") {
		part = strings.TrimSpace(part)
		matched := false
		for _, p := range ackPhrases {
			if part == p {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return msg != ""
}

// classifyAndSet runs the lexical emotion classifier on the message and folds
// the result into the agent's emotional state. No oracle call. Returns the
// emotion now in effect (after the anger downgrade rule).
func (a *Arbiter) classifyAndSet(ev Event) soul.Emotion {
	msg := strings.ToLower(ev.Message)
	for _, trig := range emotionTriggers {
		for _, p := range trig.phrases {
			if strings.Contains(msg, p) {
				a.state.AdjustIntensity(0.1 * (1 + a.persona.EmotionalVolatility))
				if trig.emotion.IsHostile() {
					a.state.AddGrievance(ev.Sender, p)
				}
				return a.state.SetEmotion(trig.emotion, "trigger:"+p)
			}
		}
	}
	return a.state.Emotion()
}

// isProvocation reports whether the message is self-directed or contains a
// provocative phrase.
func (a *Arbiter) isProvocation(ev Event) bool {
	if mentionsName(ev.Message, ev.Recipient) {
		return true
	}
	msg := strings.ToLower(ev.Message)
	for _, p := range provocativePhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	// An active grievance against the sender keeps the agent touchy.
	_, aggrieved := a.state.GrievanceAgainst(ev.Sender)
	return aggrieved
}
