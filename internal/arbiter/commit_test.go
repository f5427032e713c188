package arbiter

import (
	"context"
	"testing"
	"time"
)

// instantSleeper records requested delays and never blocks.
type instantSleeper struct {
	slept []time.Duration
}

func (s *instantSleeper) Sleep(ctx context.Context, d time.Duration) bool {
	s.slept = append(s.slept, d)
	return ctx.Err() == nil
}

func TestCommitEmitsAndRecords(t *testing.T) {
	board := NewMemoryBoard()
	now := time.Now()
	ev := Event{Sender: "Rex", Recipient: "Blaze"}
	d := Decision{ShouldRespond: true, Delay: 1200 * time.Millisecond}

	emitted := false
	sleeper := &instantSleeper{}
	ok := Commit(context.Background(), d, ev, board, sleeper, func() time.Time { return now }, func() { emitted = true })

	if !ok || !emitted {
		t.Fatal("commit should emit when the board is clear")
	}
	if len(sleeper.slept) != 1 || sleeper.slept[0] != d.Delay {
		t.Errorf("slept %v, want exactly the decision delay", sleeper.slept)
	}
	responder, at, found := board.LastResponse("Rex")
	if !found || responder != "Blaze" || !at.Equal(now) {
		t.Errorf("board not updated: %q %v %v", responder, at, found)
	}
}

func TestCommitAbortsWhenSomeoneElseAnswered(t *testing.T) {
	board := NewMemoryBoard()
	now := time.Now()

	// Ivy answered Rex just before our delay expired.
	board.RecordResponse("Rex", "Ivy", now.Add(-500*time.Millisecond))

	emitted := false
	ok := Commit(context.Background(),
		Decision{ShouldRespond: true},
		Event{Sender: "Rex", Recipient: "Blaze"},
		board, &instantSleeper{}, func() time.Time { return now },
		func() { emitted = true })

	if ok || emitted {
		t.Fatal("commit must abort when another agent answered within the window")
	}

	// A stale answer outside the window does not block.
	board.RecordResponse("Rex", "Ivy", now.Add(-responseWindow-time.Second))
	ok = Commit(context.Background(),
		Decision{ShouldRespond: true},
		Event{Sender: "Rex", Recipient: "Blaze"},
		board, &instantSleeper{}, func() time.Time { return now },
		func() { emitted = true })
	if !ok {
		t.Error("stale board entry must not abort the commit")
	}
}

func TestCommitOwnEntryDoesNotAbort(t *testing.T) {
	board := NewMemoryBoard()
	now := time.Now()
	board.RecordResponse("Rex", "Blaze", now.Add(-100*time.Millisecond))

	ok := Commit(context.Background(),
		Decision{ShouldRespond: true},
		Event{Sender: "Rex", Recipient: "Blaze"},
		board, &instantSleeper{}, func() time.Time { return now },
		func() {})
	if !ok {
		t.Error("an agent's own previous answer must not abort its next one")
	}
}

func TestCommitForcedBypassesBoard(t *testing.T) {
	board := NewMemoryBoard()
	now := time.Now()
	board.RecordResponse("Rex", "Ivy", now)

	emitted := false
	ok := Commit(context.Background(),
		Decision{ShouldRespond: true, Forced: true},
		Event{Sender: "Rex", Recipient: "Blaze"},
		board, &instantSleeper{}, func() time.Time { return now },
		func() { emitted = true })

	if !ok || !emitted {
		t.Fatal("a forced decision must commit regardless of the board")
	}
}

func TestCommitCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	emitted := false
	ok := Commit(ctx,
		Decision{ShouldRespond: true, Delay: time.Hour},
		Event{Sender: "Rex", Recipient: "Blaze"},
		NewMemoryBoard(), RealSleeper{}, nil,
		func() { emitted = true })

	if ok || emitted {
		t.Fatal("cancellation during the delay must suppress the response")
	}
}

func TestCommitSkipDecisionIsNoop(t *testing.T) {
	board := NewMemoryBoard()
	ok := Commit(context.Background(),
		Decision{ShouldRespond: false},
		Event{Sender: "Rex", Recipient: "Blaze"},
		board, &instantSleeper{}, nil,
		func() { t.Fatal("emit must not run for a skip decision") })
	if ok {
		t.Error("skip decision must return false")
	}
	if _, _, found := board.LastResponse("Rex"); found {
		t.Error("skip decision must not touch the board")
	}
}
