// Package hub is the single rendezvous point every agent process connects to.
// It multiplexes chat, status, soul, relationship, and command traffic, tracks
// liveness, and fans shared state out to observers. All connection events are
// processed to completion on one loop goroutine, so registration and
// deregistration never interleave.
package hub

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"hivemind/internal/logging"
	"hivemind/internal/relay"
)

// Link is one connected client's send surface. Implementations must be safe
// to call from the hub loop; the websocket session buffers writes on its own
// goroutine.
type Link interface {
	Send(env Envelope) error
	Close() error
}

// session is the hub's view of one connection.
type session struct {
	link Link

	registered bool
	observer   bool
	name       string
	role       Role
	leaderID   string
	inGame     bool
}

// Send implements relay.Handle: routed commands go out as command envelopes.
func (s *session) Send(msg any) error {
	env, err := NewEnvelope(TypeCommand, msg)
	if err != nil {
		return err
	}
	return s.link.Send(env)
}

type eventKind int

const (
	evJoin eventKind = iota
	evMessage
	evLeave
	evFunc
)

type event struct {
	kind eventKind
	sess *session
	env  Envelope
	fn   func()
}

type boardEntry struct {
	responder string
	at        time.Time
}

// statePoll aggregates one in-flight full-state snapshot.
type statePoll struct {
	id          string
	requester   *session
	requesterID string // correlation id from the requesting envelope
	expected    map[string]bool
	agents      map[string]AgentSnapshot
}

// Hub is the coordination hub.
type Hub struct {
	relay *relay.Relay

	events chan event
	stopCh chan struct{}
	doneCh chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	// Everything below is owned by the loop goroutine.
	agents    map[string]*session
	observers map[*session]bool
	relCache  map[string]RelationPayload // unordered pair -> last value
	lastSoul  map[string]SoulPayload
	board     map[string]boardEntry
	polls     map[string]*statePoll

	snapshotTTL time.Duration
	now         func() time.Time
}

// New creates a hub. snapshotTTL bounds how long a full-state poll waits for
// stragglers.
func New(snapshotTTL time.Duration) *Hub {
	if snapshotTTL <= 0 {
		snapshotTTL = 5 * time.Second
	}
	h := &Hub{
		events:      make(chan event, 256),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		agents:      make(map[string]*session),
		observers:   make(map[*session]bool),
		relCache:    make(map[string]RelationPayload),
		lastSoul:    make(map[string]SoulPayload),
		board:       make(map[string]boardEntry),
		polls:       make(map[string]*statePoll),
		snapshotTTL: snapshotTTL,
		now:         time.Now,
	}
	h.relay = relay.New(h, relay.TimerScheduler{})
	return h
}

// Relay exposes the hub's routing table (read paths for tooling/tests).
func (h *Hub) Relay() *relay.Relay { return h.relay }

// Start launches the event loop.
func (h *Hub) Start() {
	h.startOnce.Do(func() { go h.loop() })
}

// Stop shuts the loop down and waits for it to drain.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	<-h.doneCh
}

// Join admits a new connection. Called by the transport once per connection.
func (h *Hub) Join(link Link) *session {
	s := &session{link: link}
	h.events <- event{kind: evJoin, sess: s}
	return s
}

// Deliver hands one decoded envelope from a connection to the loop.
func (h *Hub) Deliver(s *session, env Envelope) {
	h.events <- event{kind: evMessage, sess: s, env: env}
}

// Leave reports that a connection dropped, for any reason. A crash is
// indistinguishable from a clean disconnect and is handled identically.
func (h *Hub) Leave(s *session) {
	h.events <- event{kind: evLeave, sess: s}
}

// post schedules fn onto the loop goroutine.
func (h *Hub) post(fn func()) {
	select {
	case h.events <- event{kind: evFunc, fn: fn}:
	case <-h.stopCh:
	}
}

func (h *Hub) loop() {
	defer close(h.doneCh)
	for {
		select {
		case ev := <-h.events:
			switch ev.kind {
			case evJoin:
				// Nothing to do until the client registers.
			case evMessage:
				h.handleMessage(ev.sess, ev.env)
			case evLeave:
				h.handleLeave(ev.sess)
			case evFunc:
				ev.fn()
			}
		case <-h.stopCh:
			return
		}
	}
}

func (h *Hub) handleMessage(s *session, env Envelope) {
	if !s.registered && env.Type != TypeRegister {
		h.sendError(s, "", "not registered")
		return
	}

	switch env.Type {
	case TypeRegister:
		h.handleRegister(s, env)
	case TypeChat:
		h.handleChat(s, env)
	case TypeStatus:
		h.handleStatus(s, env)
	case TypeSoul:
		h.handleSoul(s, env)
	case TypeRelation:
		h.handleRelation(s, env)
	case TypeCommand:
		h.handleCommand(s, env)
	case TypeGroupCmd:
		h.handleGroupCommand(s, env)
	case TypeBoardCheck:
		h.handleBoardCheck(s, env)
	case TypeBoardRecord:
		h.handleBoardRecord(s, env)
	case TypeFullStateReq:
		h.handleFullStateRequest(s, env)
	case TypeStateReport:
		h.handleStateReport(s, env)
	default:
		h.sendError(s, env.ID, fmt.Sprintf("unknown message type %q", env.Type))
	}
}

func (h *Hub) handleRegister(s *session, env Envelope) {
	var p RegisterPayload
	if err := decode(env, &p); err != nil {
		h.sendError(s, env.ID, err.Error())
		return
	}

	if p.Observer {
		s.registered = true
		s.observer = true
		s.name = p.Name
		h.observers[s] = true
		h.send(s, Envelope{Type: TypeRegistered, ID: env.ID})
		h.replayRelationCache(s)
		logging.Hub("observer %q subscribed", p.Name)
		return
	}

	if p.Name == "" {
		h.sendError(s, env.ID, "agent name required")
		return
	}
	if !p.Role.Valid() {
		p.Role = RoleStandalone
	}
	if existing, ok := h.agents[p.Name]; ok && existing.inGame {
		// RegistrationConflict: the process must not proceed.
		h.sendError(s, env.ID, fmt.Sprintf("registration conflict: %q already in game", p.Name))
		s.link.Close()
		return
	}

	s.registered = true
	s.name = p.Name
	s.role = p.Role
	s.leaderID = p.LeaderID
	s.inGame = true
	h.agents[p.Name] = s

	if p.Role == RoleWorker {
		h.relay.RegisterWorker(p.Name, p.LeaderID, s)
	}

	h.send(s, Envelope{Type: TypeRegistered, ID: env.ID})
	h.broadcastStatus(relay.StatusReport{Worker: p.Name, Status: "joined"})
	logging.Hub("%s registered as %s (leader=%s)", p.Name, p.Role, p.LeaderID)
}

func (h *Hub) handleLeave(s *session) {
	if s.observer {
		delete(h.observers, s)
		return
	}
	if !s.registered || !s.inGame {
		return
	}

	s.inGame = false
	if h.agents[s.name] == s {
		delete(h.agents, s.name)
	}

	switch s.role {
	case RoleWorker:
		h.relay.RemoveWorker(s.name)
		if s.leaderID != "" {
			h.NotifyLeader(s.leaderID, relay.StatusReport{Worker: s.name, Status: "disconnected"})
		}
	case RoleLeader:
		h.relay.RemoveLeader(s.name)
	}

	h.broadcastStatus(relay.StatusReport{Worker: s.name, Status: "left"})
	logging.Hub("%s left", s.name)
}

func (h *Hub) handleChat(s *session, env Envelope) {
	var p ChatPayload
	if err := decode(env, &p); err != nil {
		h.sendError(s, env.ID, err.Error())
		return
	}
	p.Sender = s.name

	if fwd, err := NewEnvelope(TypeChat, p); err == nil {
		fwd.From = p.Sender
		if p.Recipient == "" {
			// Room chat: every other in-game agent hears it.
			for name, target := range h.agents {
				if name == p.Sender || !target.inGame {
					continue
				}
				h.send(target, fwd)
			}
		} else if target, ok := h.agents[p.Recipient]; ok && target.inGame {
			fwd.To = p.Recipient
			h.send(target, fwd)
		}
	}

	h.broadcast(TypeChat, p)
}

func (h *Hub) handleStatus(s *session, env Envelope) {
	var report relay.StatusReport
	if err := decode(env, &report); err != nil {
		h.sendError(s, env.ID, err.Error())
		return
	}
	report.Worker = s.name
	h.relay.UpdateWorkerStatus(report)
	h.broadcastStatus(report)
}

func (h *Hub) handleSoul(s *session, env Envelope) {
	var p SoulPayload
	if err := decode(env, &p); err != nil {
		h.sendError(s, env.ID, err.Error())
		return
	}
	p.Agent = s.name
	h.lastSoul[s.name] = p
	h.broadcast(TypeSoul, p)
}

func (h *Hub) handleRelation(s *session, env Envelope) {
	var p RelationPayload
	if err := decode(env, &p); err != nil {
		h.sendError(s, env.ID, err.Error())
		return
	}
	p.Owner = s.name
	h.relCache[pairKey(p.Owner, p.Peer)] = p
	h.broadcast(TypeRelation, p)
}

func (h *Hub) handleCommand(s *session, env Envelope) {
	if s.role != RoleLeader {
		h.sendError(s, env.ID, "only leaders issue commands")
		return
	}
	var p CommandPayload
	if err := decode(env, &p); err != nil {
		h.sendError(s, env.ID, err.Error())
		return
	}

	commandID := relay.CommandID(s.name, p.Worker, h.now())
	result := CmdResultPayload{CommandID: commandID, Worker: p.Worker}
	if err := h.relay.RouteCommand(s.name, p.Worker, p.Command, p.Args, commandID); err != nil {
		result.Error = err.Error()
	}
	h.sendPayload(s, TypeCmdResult, env.ID, result)
}

func (h *Hub) handleGroupCommand(s *session, env Envelope) {
	if s.role != RoleLeader {
		h.sendError(s, env.ID, "only leaders issue commands")
		return
	}
	var p CommandPayload
	if err := decode(env, &p); err != nil {
		h.sendError(s, env.ID, err.Error())
		return
	}

	results := h.relay.RouteGroupCommand(s.name, p.Command, p.Args, "")
	summary := CmdResultPayload{}
	for _, res := range results {
		if res.Err != nil {
			summary.Rejected++
		} else {
			summary.Routed++
		}
	}
	h.sendPayload(s, TypeCmdResult, env.ID, summary)
}

func (h *Hub) handleBoardCheck(s *session, env Envelope) {
	var p BoardCheckPayload
	if err := decode(env, &p); err != nil {
		h.sendError(s, env.ID, err.Error())
		return
	}
	info := BoardInfoPayload{}
	if e, ok := h.board[p.Sender]; ok {
		info.Responder = e.responder
		info.UnixMilli = e.at.UnixMilli()
	}
	h.sendPayload(s, TypeBoardInfo, env.ID, info)
}

func (h *Hub) handleBoardRecord(s *session, env Envelope) {
	var p BoardRecordPayload
	if err := decode(env, &p); err != nil {
		return
	}
	if p.Responder == "" {
		p.Responder = s.name
	}
	h.board[p.Sender] = boardEntry{responder: p.Responder, at: h.now()}
}

// NotifyLeader implements relay.LeaderNotifier: worker status is relayed to
// the worker's leader when that leader is in game.
func (h *Hub) NotifyLeader(leaderID string, report relay.StatusReport) {
	leader, ok := h.agents[leaderID]
	if !ok || !leader.inGame {
		return
	}
	h.sendPayload(leader, TypeStatus, "", report)
}

// handleFullStateRequest serves a point-in-time aggregate snapshot by polling
// each live agent. The reply is sent once every agent reports or the poll
// times out, whichever comes first.
func (h *Hub) handleFullStateRequest(s *session, env Envelope) {
	poll := &statePoll{
		id:        uuid.NewString(),
		requester: s,
		expected:  make(map[string]bool),
		agents:    make(map[string]AgentSnapshot),
	}

	for name, sess := range h.agents {
		snap := AgentSnapshot{
			Name:     name,
			Role:     sess.role,
			LeaderID: sess.leaderID,
			InGame:   sess.inGame,
		}
		if soulState, ok := h.lastSoul[name]; ok {
			snap.Emotion = soulState.Emotion
			snap.Intensity = soulState.Intensity
			snap.Frustration = soulState.Frustration
		}
		if rec, ok := h.relay.Worker(name); ok {
			snap.Status = relay.StatusReport{
				Worker:   name,
				Status:   rec.Status,
				Position: rec.Position,
				Health:   rec.Health,
				Food:     rec.Food,
			}
		}
		poll.agents[name] = snap

		if sess.inGame {
			poll.expected[name] = true
			h.send(sess, Envelope{Type: TypeStateReq, ID: poll.id})
		}
	}

	if len(poll.expected) == 0 {
		h.finishPoll(poll, env.ID, true)
		return
	}

	poll.requesterID = env.ID
	h.polls[poll.id] = poll
	time.AfterFunc(h.snapshotTTL, func() {
		h.post(func() {
			if p, ok := h.polls[poll.id]; ok {
				delete(h.polls, poll.id)
				h.finishPoll(p, p.requesterID, false)
			}
		})
	})
}

func (h *Hub) handleStateReport(s *session, env Envelope) {
	poll, ok := h.polls[env.ID]
	if !ok || !poll.expected[s.name] {
		return
	}
	var snap AgentSnapshot
	if err := decode(env, &snap); err == nil {
		base := poll.agents[s.name]
		snap.Name = s.name
		snap.Role = base.Role
		snap.LeaderID = base.LeaderID
		snap.InGame = base.InGame
		poll.agents[s.name] = snap
	}
	delete(poll.expected, s.name)

	if len(poll.expected) == 0 {
		delete(h.polls, poll.id)
		h.finishPoll(poll, poll.requesterID, true)
	}
}

func (h *Hub) finishPoll(poll *statePoll, corrID string, complete bool) {
	payload := FullStatePayload{
		Agents:        poll.agents,
		Relationships: h.cachedRelations(),
		Complete:      complete,
	}
	h.sendPayload(poll.requester, TypeFullState, corrID, payload)
}

// replayRelationCache sends the last known relationship per unordered pair to
// a newly subscribed observer, so it has current state without a history
// replay.
func (h *Hub) replayRelationCache(s *session) {
	for _, p := range h.cachedRelations() {
		h.sendPayload(s, TypeRelation, "", p)
	}
}

func (h *Hub) cachedRelations() []RelationPayload {
	keys := make([]string, 0, len(h.relCache))
	for k := range h.relCache {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]RelationPayload, 0, len(keys))
	for _, k := range keys {
		out = append(out, h.relCache[k])
	}
	return out
}

func (h *Hub) broadcast(typ string, payload any) {
	for obs := range h.observers {
		h.sendPayload(obs, typ, "", payload)
	}
}

func (h *Hub) broadcastStatus(report relay.StatusReport) {
	h.broadcast(TypeStatus, report)
}

func (h *Hub) send(s *session, env Envelope) {
	if err := s.link.Send(env); err != nil {
		logging.Get(logging.CategoryHub).Debug("send to %s failed: %v", s.name, err)
	}
}

func (h *Hub) sendPayload(s *session, typ, corrID string, payload any) {
	env, err := NewEnvelope(typ, payload)
	if err != nil {
		logging.Get(logging.CategoryHub).Warn("encode %s: %v", typ, err)
		return
	}
	env.ID = corrID
	h.send(s, env)
}

func (h *Hub) sendError(s *session, corrID, msg string) {
	h.sendPayload(s, TypeError, corrID, ErrorPayload{Error: msg})
}

func decode(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s: missing payload", env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%s: bad payload: %w", env.Type, err)
	}
	return nil
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}
