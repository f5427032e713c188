package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"hivemind/internal/logging"
	"hivemind/internal/relay"
)

// ErrRegistrationConflict is returned when the hub rejects a duplicate agent
// name. Fatal for the joining process.
var ErrRegistrationConflict = errors.New("registration conflict")

const requestTimeout = 3 * time.Second

// Handlers are the agent-side callbacks for hub traffic. All callbacks run on
// the client's single read goroutine, preserving per-agent event ordering.
type Handlers struct {
	OnChat         func(ChatPayload)
	OnCommand      func(relay.CommandMessage)
	OnStatus       func(relay.StatusReport)
	OnStateRequest func(pollID string)
	OnSoul         func(SoulPayload)
	OnRelation     func(RelationPayload)
}

// Client is an agent process's connection to the coordination hub.
type Client struct {
	conn     *websocket.Conn
	name     string
	handlers Handlers

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan Envelope

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the hub at url (ws://host:port/ws).
func Dial(url string, handlers Handlers) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub %s: %w", url, err)
	}
	c := &Client{
		conn:     conn,
		handlers: handlers,
		pending:  make(map[string]chan Envelope),
		closed:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Register joins the hub under the given identity. A name conflict returns
// ErrRegistrationConflict; anything else non-nil is a transport problem.
func (c *Client) Register(name string, role Role, leaderID string, observer bool) error {
	c.name = name
	reply, err := c.request(TypeRegister, RegisterPayload{
		Name: name, Role: role, LeaderID: leaderID, Observer: observer,
	})
	if err != nil {
		return err
	}
	if reply.Type == TypeError {
		var p ErrorPayload
		_ = json.Unmarshal(reply.Data, &p)
		return fmt.Errorf("%w: %s", ErrRegistrationConflict, p.Error)
	}
	return nil
}

// Chat sends one chat line to a named recipient.
func (c *Client) Chat(recipient, text string) error {
	return c.send(TypeChat, "", ChatPayload{Sender: c.name, Recipient: recipient, Text: text})
}

// ReportStatus publishes a worker status report.
func (c *Client) ReportStatus(report relay.StatusReport) error {
	report.Worker = c.name
	return c.send(TypeStatus, "", report)
}

// PublishSoul broadcasts the agent's emotional state.
func (c *Client) PublishSoul(p SoulPayload) error {
	p.Agent = c.name
	return c.send(TypeSoul, "", p)
}

// PublishRelation broadcasts one relationship edge.
func (c *Client) PublishRelation(p RelationPayload) error {
	p.Owner = c.name
	return c.send(TypeRelation, "", p)
}

// Command asks the hub to route one command to a worker (leaders only).
func (c *Client) Command(worker, command string, args []string) (CmdResultPayload, error) {
	return c.commandRequest(TypeCommand, CommandPayload{Worker: worker, Command: command, Args: args})
}

// GroupCommand fans a command out to every assigned worker (leaders only).
func (c *Client) GroupCommand(command string, args []string) (CmdResultPayload, error) {
	return c.commandRequest(TypeGroupCmd, CommandPayload{Command: command, Args: args})
}

func (c *Client) commandRequest(typ string, p CommandPayload) (CmdResultPayload, error) {
	reply, err := c.request(typ, p)
	if err != nil {
		return CmdResultPayload{}, err
	}
	if reply.Type == TypeError {
		var ep ErrorPayload
		_ = json.Unmarshal(reply.Data, &ep)
		return CmdResultPayload{}, errors.New(ep.Error)
	}
	var result CmdResultPayload
	if err := json.Unmarshal(reply.Data, &result); err != nil {
		return CmdResultPayload{}, fmt.Errorf("bad command result: %w", err)
	}
	return result, nil
}

// ReportState answers a full-state poll.
func (c *Client) ReportState(pollID string, snap AgentSnapshot) error {
	return c.send(TypeStateReport, pollID, snap)
}

// FullState requests the aggregate point-in-time snapshot.
func (c *Client) FullState() (FullStatePayload, error) {
	reply, err := c.requestWithTimeout(TypeFullStateReq, nil, 10*time.Second)
	if err != nil {
		return FullStatePayload{}, err
	}
	var state FullStatePayload
	if err := json.Unmarshal(reply.Data, &state); err != nil {
		return FullStatePayload{}, fmt.Errorf("bad full state: %w", err)
	}
	return state, nil
}

// Board returns the hub-backed who-responded-last record. The returned value
// satisfies the arbiter's ResponseBoard contract.
func (c *Client) Board() *ClientBoard {
	return &ClientBoard{client: c}
}

// Close tears the connection down. The hub treats it like any disconnect.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		// Correlated replies go to their waiter; everything else dispatches.
		if env.ID != "" && env.Type != TypeStateReq {
			c.pendingMu.Lock()
			ch, ok := c.pending[env.ID]
			if ok {
				delete(c.pending, env.ID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- env
				continue
			}
		}

		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	switch env.Type {
	case TypeChat:
		var p ChatPayload
		if json.Unmarshal(env.Data, &p) == nil && c.handlers.OnChat != nil {
			c.handlers.OnChat(p)
		}
	case TypeCommand:
		var p relay.CommandMessage
		if json.Unmarshal(env.Data, &p) == nil && c.handlers.OnCommand != nil {
			c.handlers.OnCommand(p)
		}
	case TypeStatus:
		var p relay.StatusReport
		if json.Unmarshal(env.Data, &p) == nil && c.handlers.OnStatus != nil {
			c.handlers.OnStatus(p)
		}
	case TypeSoul:
		var p SoulPayload
		if json.Unmarshal(env.Data, &p) == nil && c.handlers.OnSoul != nil {
			c.handlers.OnSoul(p)
		}
	case TypeRelation:
		var p RelationPayload
		if json.Unmarshal(env.Data, &p) == nil && c.handlers.OnRelation != nil {
			c.handlers.OnRelation(p)
		}
	case TypeStateReq:
		if c.handlers.OnStateRequest != nil {
			c.handlers.OnStateRequest(env.ID)
		}
	default:
		logging.Get(logging.CategoryAgent).Debug("unhandled hub message %q", env.Type)
	}
}

func (c *Client) send(typ, corrID string, payload any) error {
	env, err := NewEnvelope(typ, payload)
	if err != nil {
		return err
	}
	env.ID = corrID
	env.From = c.name

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

func (c *Client) request(typ string, payload any) (Envelope, error) {
	return c.requestWithTimeout(typ, payload, requestTimeout)
}

func (c *Client) requestWithTimeout(typ string, payload any, timeout time.Duration) (Envelope, error) {
	id := uuid.NewString()
	ch := make(chan Envelope, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.send(typ, id, payload); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return Envelope{}, err
	}

	select {
	case env := <-ch:
		return env, nil
	case <-time.After(timeout):
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return Envelope{}, fmt.Errorf("%s: request timed out", typ)
	case <-c.closed:
		return Envelope{}, fmt.Errorf("%s: connection closed", typ)
	}
}

// ClientBoard adapts the hub's board protocol to the arbiter's
// recheck-before-commit contract.
type ClientBoard struct {
	client *Client
}

// LastResponse asks the hub who last answered sender. Transport failures read
// as "nobody", which errs on the side of speaking.
func (b *ClientBoard) LastResponse(sender string) (string, time.Time, bool) {
	reply, err := b.client.request(TypeBoardCheck, BoardCheckPayload{Sender: sender})
	if err != nil {
		return "", time.Time{}, false
	}
	var info BoardInfoPayload
	if json.Unmarshal(reply.Data, &info) != nil || info.Responder == "" {
		return "", time.Time{}, false
	}
	return info.Responder, time.UnixMilli(info.UnixMilli), true
}

// RecordResponse notes a committed response on the hub board.
func (b *ClientBoard) RecordResponse(sender, responder string, _ time.Time) {
	_ = b.client.send(TypeBoardRecord, "", BoardRecordPayload{Sender: sender, Responder: responder})
}
