package arbiter

import (
	"context"
	"sync"
	"time"

	"hivemind/internal/logging"
)

// ResponseBoard is the shared who-responded-last record. Multiple agents may
// decide to respond to the same sender; the board is re-read after the
// response delay so only the first committer usually speaks. This is an
// optimistic recheck, not a lock: two agents whose delays expire within the
// same tight window can still both commit.
type ResponseBoard interface {
	// LastResponse returns who last answered the given sender and when.
	LastResponse(sender string) (responder string, at time.Time, ok bool)

	// RecordResponse notes that responder answered sender at the given time.
	RecordResponse(sender, responder string, at time.Time)
}

// MemoryBoard is the in-process ResponseBoard used by standalone runs and
// tests. The hub provides the cross-process equivalent.
type MemoryBoard struct {
	mu   sync.Mutex
	last map[string]boardEntry
}

type boardEntry struct {
	responder string
	at        time.Time
}

// NewMemoryBoard creates an empty board.
func NewMemoryBoard() *MemoryBoard {
	return &MemoryBoard{last: make(map[string]boardEntry)}
}

// LastResponse implements ResponseBoard.
func (b *MemoryBoard) LastResponse(sender string) (string, time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.last[sender]
	return e.responder, e.at, ok
}

// RecordResponse implements ResponseBoard.
func (b *MemoryBoard) RecordResponse(sender, responder string, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last[sender] = boardEntry{responder: responder, at: at}
}

// Sleeper waits out the response delay. Injected so tests can simulate time.
type Sleeper interface {
	// Sleep blocks for d or until ctx is done; returns false if interrupted.
	Sleep(ctx context.Context, d time.Duration) bool
}

// RealSleeper sleeps on the wall clock.
type RealSleeper struct{}

// Sleep implements Sleeper.
func (RealSleeper) Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Commit waits the decision's delay, then re-reads the board and either emits
// the response or aborts. Returns true if emit ran. ctx cancellation (the
// "shut up" path) suppresses a decided-but-uncommitted response.
func Commit(ctx context.Context, d Decision, ev Event, board ResponseBoard, sleep Sleeper, now func() time.Time, emit func()) bool {
	if !d.ShouldRespond {
		return false
	}
	if sleep == nil {
		sleep = RealSleeper{}
	}
	if now == nil {
		now = time.Now
	}

	if !sleep.Sleep(ctx, d.Delay) {
		logging.Get(logging.CategoryArbiter).Debug("%s: response to %s cancelled", ev.Recipient, ev.Sender)
		return false
	}

	if !d.Forced && board != nil {
		if responder, at, ok := board.LastResponse(ev.Sender); ok {
			if responder != ev.Recipient && now().Sub(at) < responseWindow {
				logging.Get(logging.CategoryArbiter).Debug(
					"%s: aborting response to %s, %s already answered", ev.Recipient, ev.Sender, responder)
				return false
			}
		}
	}

	if board != nil {
		board.RecordResponse(ev.Sender, ev.Recipient, now())
	}
	emit()
	return true
}
