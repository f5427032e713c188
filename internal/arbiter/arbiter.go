// Package arbiter decides whether, when, and how an agent reacts to an
// incoming chat event. The decision pipeline runs fixed cheap checks first and
// consults the decision oracle only when nothing short-circuits, so most events
// never cost an inference call.
package arbiter

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"hivemind/internal/config"
	"hivemind/internal/logging"
	"hivemind/internal/oracle"
	"hivemind/internal/soul"
)

// Back-and-forth throttle tuning. Counting alternating turns between the
// recipient and the sender over the last contextWindow lines: at
// throttleThreshold exchanges skipping becomes increasingly likely, at
// hardCutoff it is certain.
const (
	contextWindow     = 8
	throttleThreshold = 2
	hardCutoff        = 4

	// ackMaxLen is the longest message still eligible for acknowledgment
	// detection.
	ackMaxLen = 50

	// responseWindow is how recently another agent must have answered the
	// same sender for the commit gate to abort.
	responseWindow = 2 * time.Second

	enthusiasticChance = 0.30
	boredChance        = 0.40
	fallbackChance     = 0.20
)

// Event is one incoming chat-like event to arbitrate.
type Event struct {
	Sender    string
	Message   string
	Recipient string

	// OtherAgents are the other known agent names (for direct-mention checks).
	OtherAgents []string

	// RecentContext holds the last shared chat lines, oldest first, formatted
	// "name: text".
	RecentContext []string
}

// Decision is the arbitration outcome.
type Decision struct {
	ShouldRespond bool
	Delay         time.Duration
	Reason        string
	Emotion       soul.Emotion

	// Forced marks a self-mention decision, which the commit gate may not
	// abort.
	Forced bool
}

// Rand is the injected randomness source. Tests pin it to fixed sequences.
type Rand interface {
	Float64() float64
}

// NewRand returns a seedable production randomness source.
func NewRand(seed int64) Rand {
	return rand.New(rand.NewSource(seed))
}

// Arbiter arbitrates responses for one agent.
type Arbiter struct {
	name    string
	persona config.PersonaConfig
	state   *soul.State
	oracle  oracle.Oracle
	rng     Rand
}

// New creates an arbiter for the named agent. state may be shared with the
// agent runtime; the arbiter mutates it only from Decide, which the runtime
// serializes.
func New(name string, persona config.PersonaConfig, state *soul.State, oc oracle.Oracle, rng Rand) *Arbiter {
	if rng == nil {
		rng = NewRand(time.Now().UnixNano())
	}
	return &Arbiter{name: name, persona: persona, state: state, oracle: oc, rng: rng}
}

// SetPersona swaps the persona (hot-reload path).
func (a *Arbiter) SetPersona(p config.PersonaConfig) { a.persona = p }

// Decide runs the arbitration pipeline for one event. Stages run in strict
// precedence order; earlier stages never call the oracle.
func (a *Arbiter) Decide(ctx context.Context, ev Event) Decision {
	log := logging.Get(logging.CategoryArbiter)

	// 1. Self-mention: forced response, bypasses everything else.
	if mentionsName(ev.Message, ev.Recipient) {
		a.state.SetEmotion(soul.EmotionAttentive, "self_mention")
		d := Decision{
			ShouldRespond: true,
			Delay:         a.delayFor(soul.EmotionAttentive),
			Reason:        "self_mention",
			Emotion:       a.state.Emotion(),
			Forced:        true,
		}
		log.Debug("%s: self-mention by %s -> respond", a.name, ev.Sender)
		return d
	}

	// 2. Another known agent addressed directly.
	for _, other := range ev.OtherAgents {
		if other != ev.Recipient && mentionsName(ev.Message, other) {
			return a.skip("other_agent_mentioned")
		}
	}

	// 3. Farewell.
	if isFarewell(ev.Message) {
		return a.skip("farewell_detected")
	}

	// 4. Bare acknowledgment.
	if len(ev.Message) < ackMaxLen && isAcknowledgment(ev.Message) {
		return a.skip("acknowledgment")
	}

	// 5. Back-and-forth throttle: bounded conversational turn budget.
	exchanges := countExchanges(ev.RecentContext, ev.Recipient, ev.Sender)
	if exchanges >= hardCutoff {
		return a.skip("turn_budget_exhausted")
	}
	if exchanges >= throttleThreshold {
		// Escalates from 40% at the threshold toward certainty at the cutoff.
		skipProb := 0.4 + 0.3*float64(exchanges-throttleThreshold)
		if a.rng.Float64() < skipProb {
			return a.skip("turn_budget_throttled")
		}
	}

	// 6. Oracle verdict.
	verdict, oracleOK := a.consultOracle(ctx, ev)

	// 7. Emotion layer: lexical classification plus overrides. Runs whether
	// or not the oracle had an opinion.
	emotion := a.classifyAndSet(ev)

	if !oracleOK {
		// 8. Heuristic fallback: questions get answered, everything else a
		// fixed low chance, always on a longer delay.
		return a.fallback(ev, emotion)
	}

	respond := verdict == verdictRespond
	reason := "oracle_" + string(verdict)

	if !respond && emotion.IsHostile() && a.isProvocation(ev) {
		respond = true
		reason = "provoked_override"
	} else if !respond && emotion.IsExtroverted() && a.rng.Float64() < enthusiasticChance {
		respond = true
		reason = "enthusiastic_override"
	} else if respond && emotion == soul.EmotionBored && a.rng.Float64() < boredChance {
		respond = false
		reason = "bored_override"
	}

	d := Decision{
		ShouldRespond: respond,
		Reason:        reason,
		Emotion:       a.state.Emotion(),
	}
	if respond {
		d.Delay = a.delayFor(a.state.Emotion())
	}
	log.Debug("%s: %s -> respond=%v (%s)", a.name, ev.Sender, respond, reason)
	return d
}

type verdict string

const (
	verdictRespond verdict = "respond"
	verdictSkip    verdict = "skip"
	verdictWait    verdict = "wait"
)

// consultOracle builds the compact decision prompt and parses the first token
// of the reply. ok=false means the oracle had no opinion.
func (a *Arbiter) consultOracle(ctx context.Context, ev Event) (verdict, bool) {
	if a.oracle == nil {
		return verdictSkip, false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s.\n", a.name, a.persona.Summary)
	if len(ev.OtherAgents) > 0 {
		fmt.Fprintf(&b, "Other agents present: %s.\n", strings.Join(ev.OtherAgents, ", "))
	}
	if len(ev.RecentContext) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, line := range lastN(ev.RecentContext, contextWindow) {
			b.WriteString("  " + line + "\n")
		}
	}
	fmt.Fprintf(&b, "New message from %s: %q\n", ev.Sender, ev.Message)
	b.WriteString("Should you respond? Answer with exactly one word: respond, skip, or wait.")

	reply, ok := a.oracle.Query(ctx, b.String(), oracle.QueryOpts{
		MaxTokens:   8,
		Temperature: 0.3,
		CacheKey:    fmt.Sprintf("decide:%s:%s:%s", a.name, ev.Sender, ev.Message),
	})
	if !ok {
		return verdictSkip, false
	}

	switch firstToken(reply) {
	case "respond":
		return verdictRespond, true
	case "skip":
		return verdictSkip, true
	default:
		// Unrecognized output maps to wait, which is treated as skip with
		// the reason recorded.
		return verdictWait, true
	}
}

// fallback is the pure heuristic used when the oracle is unavailable.
func (a *Arbiter) fallback(ev Event, emotion soul.Emotion) Decision {
	respond := strings.Contains(ev.Message, "?")
	reason := "oracle_fallback_question"
	if !respond {
		respond = a.rng.Float64() < fallbackChance
		reason = "oracle_fallback_random"
		if !respond {
			reason = "oracle_fallback_skip"
		}
	}

	d := Decision{
		ShouldRespond: respond,
		Reason:        reason,
		Emotion:       emotion,
	}
	if respond {
		// Degraded mode answers slowly.
		d.Delay = a.delayFor(emotion) * 2
	}
	return d
}

// delayFor draws a delay from the persona band scaled by emotional urgency.
func (a *Arbiter) delayFor(e soul.Emotion) time.Duration {
	min := a.persona.MinResponseDelay
	max := a.persona.MaxResponseDelay
	if max < min {
		max = min
	}

	mult := e.UrgencyMultiplier()
	lo := time.Duration(float64(min) * mult)
	hi := time.Duration(float64(max) * mult)
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(a.rng.Float64()*float64(hi-lo))
}

func (a *Arbiter) skip(reason string) Decision {
	return Decision{Reason: reason, Emotion: a.state.Emotion()}
}

// countExchanges counts alternating turns between two speakers in the last
// contextWindow lines of shared context.
func countExchanges(context []string, self, other string) int {
	lines := lastN(context, contextWindow)

	exchanges := 0
	var prev string
	for _, line := range lines {
		speaker, _, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		speaker = strings.TrimSpace(speaker)
		if speaker != self && speaker != other {
			prev = ""
			continue
		}
		if prev != "" && speaker != prev {
			exchanges++
		}
		prev = speaker
	}
	return exchanges
}

func lastN(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

func firstToken(s string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], ".,!:;\"'")
}
