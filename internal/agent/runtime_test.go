package agent

import (
	"context"
	"strings"
	"sync"
	"testing"

	"hivemind/internal/arbiter"
	"hivemind/internal/config"
	"hivemind/internal/hub"
	"hivemind/internal/oracle"
)

type fakeOracle struct {
	reply string
	ok    bool
}

func (f *fakeOracle) Query(ctx context.Context, prompt string, opts oracle.QueryOpts) (string, bool) {
	return f.reply, f.ok
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Agent.PersistDir = t.TempDir()
	return cfg
}

// flushRuntime waits until the event goroutine has drained everything posted
// before it.
func flushRuntime(r *Runtime) {
	done := make(chan struct{})
	r.post(func() { close(done) })
	<-done
}

func TestNewValidation(t *testing.T) {
	cfg := testConfig(t)

	if _, err := New("", cfg, Options{}); err == nil {
		t.Error("empty name should be rejected")
	}

	cfg.Agent.Role = "worker"
	cfg.Agent.LeaderID = ""
	if _, err := New("Digger1", cfg, Options{}); err == nil {
		t.Error("worker without a leader should be rejected")
	}

	cfg.Agent.Role = "night-manager"
	cfg.Agent.LeaderID = ""
	r, err := New("Blaze", cfg, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Shutdown()
	if r.role != "standalone" {
		t.Errorf("unknown role = %q, want standalone fallback", r.role)
	}
}

func TestWorkersNeverGetAnOracle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.Role = "worker"
	cfg.Agent.LeaderID = "Blaze"

	r, err := New("Digger1", cfg, Options{Oracle: &fakeOracle{reply: "respond", ok: true}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Shutdown()

	if r.oracle != nil {
		t.Error("worker runtime must drop the oracle")
	}
}

func TestObserveLineBoundsContextAndTracksAgents(t *testing.T) {
	r, err := New("Blaze", testConfig(t), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Shutdown()

	for i := 0; i < 30; i++ {
		r.observeLine("Rex", "ping")
	}
	r.observeLine("Ivy", "hello")
	r.observeLine("Blaze", "my own line")

	got := r.snapshotContext()
	if len(got) != contextLines {
		t.Errorf("context = %d lines, want %d", len(got), contextLines)
	}
	if got[len(got)-1] != "Blaze: my own line" {
		t.Errorf("newest line = %q", got[len(got)-1])
	}

	others := r.otherAgents("Rex")
	if len(others) != 1 || others[0] != "Ivy" {
		t.Errorf("otherAgents(Rex) = %v, want [Ivy]: sender and self excluded", others)
	}
}

func TestComposeReplyFallsBackWithoutOracle(t *testing.T) {
	r, err := New("Blaze", testConfig(t), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Shutdown()

	d := arbiter.Decision{ShouldRespond: true}
	text := r.composeReply(context.Background(), "Rex", "you there?", d)
	if !strings.Contains(text, "Rex") {
		t.Errorf("fallback reply should address the sender, got %q", text)
	}

	// A failing oracle degrades the same way.
	r.oracle = &fakeOracle{ok: false}
	if got := r.composeReply(context.Background(), "Rex", "you there?", d); got != text {
		t.Errorf("failing oracle reply = %q, want the canned fallback", got)
	}

	r.oracle = &fakeOracle{reply: "On my way!", ok: true}
	if got := r.composeReply(context.Background(), "Rex", "you there?", d); got != "On my way!" {
		t.Errorf("oracle reply = %q", got)
	}
}

func TestShutUpCancelsPendingResponses(t *testing.T) {
	r, err := New("Blaze", testConfig(t), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	r.pendingCancel["Rex-1"] = cancel

	r.ShutUp()

	select {
	case <-ctx.Done():
	default:
		t.Error("pending response context not cancelled")
	}
	r.mu.Lock()
	n := len(r.pendingCancel)
	r.mu.Unlock()
	if n != 0 {
		t.Errorf("pendingCancel holds %d entries, want 0", n)
	}
}

func TestLedgerPersistsAcrossRuntimes(t *testing.T) {
	cfg := testConfig(t)

	r1, err := New("Blaze", cfg, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r1.ledger.RecordInteraction("Rex", 0.5, 0.5, 0.5, "saved my life")
	r1.Shutdown() // writes the final snapshot

	r2, err := New("Blaze", cfg, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r2.Shutdown()

	rel := r2.ledger.Get("Rex")
	if rel.Trust != 0.5 {
		t.Errorf("restored trust = %v, want 0.5", rel.Trust)
	}
	if len(rel.Memories) != 1 || rel.Memories[0] != "saved my life" {
		t.Errorf("restored memories = %v", rel.Memories)
	}
}

func TestPostedWorkRunsOnOneGoroutine(t *testing.T) {
	r, err := New("Blaze", testConfig(t), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Shutdown()

	const n = 500
	var wg sync.WaitGroup
	count := 0 // unguarded: only the event goroutine may touch it
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.post(func() { count++ })
		}()
	}
	wg.Wait()
	flushRuntime(r)

	if count != n {
		t.Errorf("count = %d, want %d: posted work must be serialized", count, n)
	}
}

func TestChatAndMaintenanceShareTheEventGoroutine(t *testing.T) {
	r, err := New("Blaze", testConfig(t), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Shutdown()
	r.ledger.RecordInteraction("Rex", 0.5, 0.5, 0.5, "")

	// Chat arbitration and maintenance passes land on the same goroutine, so
	// interleaving them from many callers never corrupts soul or ledger state.
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.handleChat(hub.ChatPayload{Sender: "Rex", Text: "see you later!"})
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.post(r.maintain)
		}()
	}
	wg.Wait()
	flushRuntime(r)

	if f := r.state.Frustration(); f < 0 || f > 1 {
		t.Errorf("frustration = %v, out of range", f)
	}
	if in := r.state.Intensity(); in < 0 || in > 1 {
		t.Errorf("intensity = %v, out of range", in)
	}
	rel := r.ledger.Get("Rex")
	if rel.Trust < -1 || rel.Trust > 1 {
		t.Errorf("trust = %v, out of range", rel.Trust)
	}
}
