// Package tick batches a leader's accumulated context into one oracle-backed
// decision per interval. Workers and chat feed items into the queue; each tick
// drains everything and pays for at most one inference call, regardless of how
// bursty the interval was.
package tick

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"hivemind/internal/logging"
	"hivemind/internal/oracle"
)

// ItemKind tags one queued context item.
type ItemKind string

const (
	KindWorkerReport ItemKind = "worker_report"
	KindChat         ItemKind = "chat"
	KindEvent        ItemKind = "event"
)

// ContextItem is one pending entry in the leader's queue.
type ContextItem struct {
	Kind ItemKind
	Text string
	Time time.Time
}

// CommandRouter routes an actionable directive extracted from the oracle's
// batched reply. Implemented by the command relay.
type CommandRouter interface {
	RouteCommand(leader, worker, command string, args []string, commandID string) error
}

// Speaker emits the conversational part of the batched reply.
type Speaker interface {
	Say(text string)
}

// Scheduler is the leader-mode tick scheduler. State machine:
// Idle -> Accumulating -> Flushing -> Idle. An empty queue at tick time is a
// free no-op.
type Scheduler struct {
	leader   string
	persona  string
	interval time.Duration
	oracle   oracle.Oracle
	router   CommandRouter
	speaker  Speaker

	mu    sync.Mutex
	queue []ContextItem

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool

	// stats
	ticks       int64
	oracleCalls int64
}

// New creates a tick scheduler for the named leader.
func New(leader, personaSummary string, interval time.Duration, oc oracle.Oracle, router CommandRouter, speaker Speaker) *Scheduler {
	if interval <= 0 {
		interval = 45 * time.Second
	}
	return &Scheduler{
		leader:   leader,
		persona:  personaSummary,
		interval: interval,
		oracle:   oc,
		router:   router,
		speaker:  speaker,
	}
}

// Enqueue adds a context item. The queue is unbounded between ticks: a bursty
// period yields one larger summary, not more calls.
func (s *Scheduler) Enqueue(kind ItemKind, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, ContextItem{Kind: kind, Text: text, Time: time.Now()})
}

// Clear abandons everything queued without spending an oracle call. Used by
// the "shut up" path.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
}

// Pending returns the current queue depth.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Start launches the interval loop. Non-blocking; Stop shuts it down.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
}

// Stop halts the interval loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Flush drains the queue and, if anything was pending, submits exactly one
// batched oracle turn. Exported so tests (and a manual "think now" path) can
// drive ticks without the timer.
func (s *Scheduler) Flush(ctx context.Context) {
	s.mu.Lock()
	drained := s.queue
	s.queue = nil
	s.ticks++
	s.mu.Unlock()

	if len(drained) == 0 {
		return // Idle tick, no cost.
	}

	summary := s.summarize(drained)

	s.mu.Lock()
	s.oracleCalls++
	s.mu.Unlock()

	logging.Tick("%s: flushing %d items in one turn", s.leader, len(drained))

	reply, ok := s.oracle.Query(ctx, summary, oracle.QueryOpts{
		MaxTokens:   300,
		Temperature: 0.7,
	})
	if !ok {
		logging.Get(logging.CategoryTick).Warn("%s: batched turn failed, items dropped", s.leader)
		return
	}

	s.handleReply(reply)
}

// summarize partitions drained items by tag and renders one consolidated
// natural-language prompt.
func (s *Scheduler) summarize(items []ContextItem) string {
	var reports, chats, events []string
	for _, it := range items {
		switch it.Kind {
		case KindWorkerReport:
			reports = append(reports, it.Text)
		case KindChat:
			chats = append(chats, it.Text)
		default:
			events = append(events, it.Text)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s, leading a crew of workers.\n", s.leader, s.persona)
	b.WriteString("Since your last thought tick:\n")
	writeSection(&b, "Worker reports", reports)
	writeSection(&b, "Chat", chats)
	writeSection(&b, "Events", events)
	b.WriteString("Reply conversationally in one or two sentences. ")
	b.WriteString("If a worker should do something, add a final line formatted exactly as:\n")
	b.WriteString("COMMAND: <worker> <command> [args...]\n")
	return b.String()
}

func writeSection(b *strings.Builder, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, l := range lines {
		b.WriteString("  - " + l + "\n")
	}
}

// handleReply speaks the conversational part and routes any COMMAND directive
// through the relay.
func (s *Scheduler) handleReply(reply string) {
	var speech []string
	for _, line := range strings.Split(reply, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "COMMAND:"); ok {
			s.routeDirective(strings.TrimSpace(rest))
			continue
		}
		if trimmed != "" {
			speech = append(speech, trimmed)
		}
	}

	if len(speech) > 0 && s.speaker != nil {
		s.speaker.Say(strings.Join(speech, " "))
	}
}

func (s *Scheduler) routeDirective(directive string) {
	fields := strings.Fields(directive)
	if len(fields) < 2 {
		logging.Get(logging.CategoryTick).Warn("%s: malformed directive %q", s.leader, directive)
		return
	}
	worker, command := fields[0], fields[1]
	args := fields[2:]

	if s.router == nil {
		return
	}
	if err := s.router.RouteCommand(s.leader, worker, command, args, ""); err != nil {
		logging.Get(logging.CategoryTick).Warn("%s: directive rejected: %v", s.leader, err)
	}
}

// Stats returns (ticks elapsed, oracle calls made).
func (s *Scheduler) Stats() (int64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks, s.oracleCalls
}
