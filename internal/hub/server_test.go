package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"hivemind/internal/relay"
)

// startTestServer runs a real websocket hub on a loopback port.
func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	h := New(time.Minute)
	srv := NewServer(h, "127.0.0.1:0")
	if err := srv.Start(); err != nil {
		t.Fatalf("server start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, "ws://" + srv.Addr() + "/ws"
}

func dialAndRegister(t *testing.T, url, name string, role Role, leaderID string, handlers Handlers) *Client {
	t.Helper()
	c, err := Dial(url, handlers)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Register(name, role, leaderID, false); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return c
}

func TestEndToEndChat(t *testing.T) {
	_, url := startTestServer(t)

	got := make(chan ChatPayload, 1)
	dialAndRegister(t, url, "Blaze", RoleStandalone, "", Handlers{
		OnChat: func(p ChatPayload) { got <- p },
	})
	rex := dialAndRegister(t, url, "Rex", RoleStandalone, "", Handlers{})

	if err := rex.Chat("Blaze", "found diamonds at y=-58"); err != nil {
		t.Fatalf("chat: %v", err)
	}

	select {
	case p := <-got:
		if p.Sender != "Rex" || p.Text != "found diamonds at y=-58" {
			t.Errorf("chat = %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("chat never arrived")
	}
}

func TestEndToEndRegistrationConflict(t *testing.T) {
	_, url := startTestServer(t)

	dialAndRegister(t, url, "Blaze", RoleStandalone, "", Handlers{})

	dup, err := Dial(url, Handlers{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer dup.Close()

	err = dup.Register("Blaze", RoleStandalone, "", false)
	if !errors.Is(err, ErrRegistrationConflict) {
		t.Fatalf("err = %v, want ErrRegistrationConflict", err)
	}
}

func TestEndToEndCommandFlow(t *testing.T) {
	_, url := startTestServer(t)

	cmdCh := make(chan relay.CommandMessage, 1)

	leader := dialAndRegister(t, url, "Blaze", RoleLeader, "", Handlers{})
	dialAndRegister(t, url, "Digger1", RoleWorker, "Blaze", Handlers{
		OnCommand: func(m relay.CommandMessage) { cmdCh <- m },
	})

	res, err := leader.Command("Digger1", "mine", []string{"iron", "32"})
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	if res.Error != "" || res.CommandID == "" {
		t.Fatalf("result = %+v", res)
	}

	select {
	case m := <-cmdCh:
		if m.Command != "mine" || m.CommandID != res.CommandID || m.LeaderID != "Blaze" {
			t.Errorf("command message = %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker never received the command")
	}

	// Routing to an unknown worker fails in the result, not the transport.
	res, err = leader.Command("Ghost", "mine", nil)
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	if res.Error == "" {
		t.Error("unknown worker should produce a routing error")
	}
}

func TestEndToEndBoard(t *testing.T) {
	_, url := startTestServer(t)

	blaze := dialAndRegister(t, url, "Blaze", RoleStandalone, "", Handlers{})
	ivy := dialAndRegister(t, url, "Ivy", RoleStandalone, "", Handlers{})

	board := ivy.Board()
	if _, _, ok := board.LastResponse("Rex"); ok {
		t.Fatal("empty board should report nobody")
	}

	blaze.Board().RecordResponse("Rex", "Blaze", time.Now())

	deadline := time.After(2 * time.Second)
	for {
		responder, at, ok := board.LastResponse("Rex")
		if ok {
			if responder != "Blaze" || at.IsZero() {
				t.Errorf("board = %q at %v", responder, at)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("board record never became visible")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEndToEndFullState(t *testing.T) {
	_, url := startTestServer(t)

	var blaze *Client
	blaze = dialAndRegister(t, url, "Blaze", RoleStandalone, "", Handlers{
		OnStateRequest: func(pollID string) {
			_ = blaze.ReportState(pollID, AgentSnapshot{Emotion: "calm", Intensity: 0.2})
		},
	})
	_ = blaze.PublishSoul(SoulPayload{Emotion: "calm", Intensity: 0.2})

	obs, err := Dial(url, Handlers{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer obs.Close()
	if err := obs.Register("dash", "", "", true); err != nil {
		t.Fatalf("register observer: %v", err)
	}

	state, err := obs.FullState()
	if err != nil {
		t.Fatalf("full state: %v", err)
	}
	if !state.Complete {
		t.Error("poll should complete, the agent answers promptly")
	}
	snap, ok := state.Agents["Blaze"]
	if !ok || snap.Emotion != "calm" || !snap.InGame {
		t.Errorf("snapshot = %+v", snap)
	}
}
