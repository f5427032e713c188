// Package agent wires one agent process together: emotional state, the
// relationship ledger, response arbitration, the hub connection, and (for
// leaders) the batched tick scheduler. Event handling is strictly ordered per
// agent: arbitration, maintenance, and ledger writes all run on one event
// goroutine, so soul state and the ledger never see concurrent mutation. The
// only concurrent parts are delayed response commits, which are cancellable
// and re-enter the event goroutine to record their results.
package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"hivemind/internal/arbiter"
	"hivemind/internal/config"
	"hivemind/internal/hub"
	"hivemind/internal/logging"
	"hivemind/internal/oracle"
	"hivemind/internal/relationship"
	"hivemind/internal/relay"
	"hivemind/internal/soul"
	"hivemind/internal/tick"
)

// contextLines bounds the shared recent-context buffer fed to arbitration.
const contextLines = 20

// Executor is the external world-interaction layer a worker hands routed
// commands to. The default implementation acknowledges without acting.
type Executor interface {
	Execute(cmd relay.CommandMessage) relay.StatusReport
}

// NoopExecutor acknowledges every command as completed.
type NoopExecutor struct{}

// Execute implements Executor.
func (NoopExecutor) Execute(cmd relay.CommandMessage) relay.StatusReport {
	return relay.StatusReport{CommandID: cmd.CommandID, Status: "completed"}
}

// Runtime is one agent's in-process brain.
type Runtime struct {
	cfg  *config.Config
	name string
	role hub.Role

	state  *soul.State
	ledger *relationship.Ledger
	store  *relationship.Store
	arb    *arbiter.Arbiter
	oracle oracle.Oracle

	client *hub.Client
	board  arbiter.ResponseBoard
	ticker *tick.Scheduler
	exec   Executor

	mu            sync.Mutex
	recentContext []string
	knownAgents   map[string]bool
	pendingCancel map[string]context.CancelFunc

	watcher *PersonaWatcher

	events     chan func()
	rootCtx    context.Context
	rootCancel context.CancelFunc
	loopDone   chan struct{}
	maintDone  chan struct{}
}

// Options are the injectable seams for tests.
type Options struct {
	Oracle   oracle.Oracle
	Executor Executor
	Rand     arbiter.Rand
	Board    arbiter.ResponseBoard
}

// New builds a runtime from config. name is the agent identity; role decides
// leader/worker/standalone behavior. Workers never get an oracle: their
// arbitration always runs on the heuristic path.
func New(name string, cfg *config.Config, opts Options) (*Runtime, error) {
	if name == "" {
		return nil, fmt.Errorf("agent name required")
	}
	role := hub.Role(cfg.Agent.Role)
	if !role.Valid() {
		role = hub.RoleStandalone
	}
	if role == hub.RoleWorker && cfg.Agent.LeaderID == "" {
		return nil, fmt.Errorf("worker %s requires a leader_id", name)
	}

	oc := opts.Oracle
	if role == hub.RoleWorker {
		oc = nil
	}

	state := soul.NewState(name, cfg.Persona.AngerThreshold)

	base := map[string]float64{
		"chattiness":           cfg.Persona.Chattiness,
		"anger_threshold":      cfg.Persona.AngerThreshold,
		"emotional_volatility": cfg.Persona.EmotionalVolatility,
		"curiosity":            cfg.Persona.Curiosity,
		"patience":             cfg.Persona.Patience,
	}
	ledger := relationship.NewLedger(name, base)

	store, err := relationship.NewStore(filepath.Join(cfg.Agent.PersistDir, name+".db"))
	if err != nil {
		return nil, fmt.Errorf("open relationship store: %w", err)
	}
	snap, err := store.Load(name)
	if err != nil {
		logging.Get(logging.CategoryAgent).Warn("%s: snapshot load failed, starting fresh: %v", name, err)
	}
	ledger.Restore(snap)

	exec := opts.Executor
	if exec == nil {
		exec = NoopExecutor{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		cfg:           cfg,
		name:          name,
		role:          role,
		state:         state,
		ledger:        ledger,
		store:         store,
		oracle:        oc,
		exec:          exec,
		knownAgents:   make(map[string]bool),
		pendingCancel: make(map[string]context.CancelFunc),
		events:        make(chan func(), 64),
		rootCtx:       ctx,
		rootCancel:    cancel,
		loopDone:      make(chan struct{}),
		maintDone:     make(chan struct{}),
	}
	r.arb = arbiter.New(name, cfg.Persona, state, oc, opts.Rand)
	r.board = opts.Board

	go r.loop()
	go r.maintenanceLoop()
	return r, nil
}

// loop is the runtime's event goroutine. Every step that touches soul state
// or the ledger is posted here, so those structures stay lock-free.
func (r *Runtime) loop() {
	defer close(r.loopDone)
	for {
		select {
		case fn := <-r.events:
			fn()
		case <-r.rootCtx.Done():
			return
		}
	}
}

// post schedules fn onto the event goroutine. After shutdown it is a no-op.
func (r *Runtime) post(fn func()) {
	select {
	case r.events <- fn:
	case <-r.rootCtx.Done():
	}
}

// Connect dials the hub and registers. A registration conflict is the one
// fatal startup error: the process must not proceed.
func (r *Runtime) Connect(url string) error {
	client, err := hub.Dial(url, hub.Handlers{
		OnChat:         r.handleChat,
		OnCommand:      r.handleCommand,
		OnStatus:       r.handleWorkerStatus,
		OnStateRequest: r.handleStateRequest,
	})
	if err != nil {
		return err
	}
	if err := client.Register(r.name, r.role, r.cfg.Agent.LeaderID, false); err != nil {
		client.Close()
		return err
	}
	r.client = client
	if r.board == nil {
		r.board = client.Board()
	}

	if r.role == hub.RoleLeader {
		r.ticker = tick.New(r.name, r.cfg.Persona.Summary, r.cfg.TickInterval(), r.oracle,
			&clientRouter{client: client}, &clientSpeaker{runtime: r})
		r.ticker.Start(r.rootCtx)
	}

	logging.Agent("%s connected as %s", r.name, r.role)
	return nil
}

// WatchPersona starts hot-reloading the persona file. Optional.
func (r *Runtime) WatchPersona(path string) error {
	w, err := NewPersonaWatcher(path, func(p config.PersonaConfig) {
		r.cfg.Persona.Merge(p)
		r.arb.SetPersona(r.cfg.Persona)
		logging.Agent("%s: persona reloaded", r.name)
	})
	if err != nil {
		return err
	}
	r.watcher = w
	return w.Start()
}

// handleChat observes one incoming chat line and hands it to the event
// goroutine for arbitration. Leaders defer to the tick scheduler instead of
// deciding per event.
func (r *Runtime) handleChat(p hub.ChatPayload) {
	r.observeLine(p.Sender, p.Text)

	if r.role == hub.RoleLeader && r.ticker != nil {
		r.ticker.Enqueue(tick.KindChat, fmt.Sprintf("%s: %s", p.Sender, p.Text))
		return
	}

	r.post(func() { r.decideChat(p) })
}

// decideChat runs on the event goroutine: one arbitration at a time.
func (r *Runtime) decideChat(p hub.ChatPayload) {
	ev := arbiter.Event{
		Sender:        p.Sender,
		Message:       p.Text,
		Recipient:     r.name,
		OtherAgents:   r.otherAgents(p.Sender),
		RecentContext: r.snapshotContext(),
	}
	d := r.arb.Decide(r.rootCtx, ev)
	logging.Agent("%s: decision for %s: respond=%v reason=%s", r.name, p.Sender, d.ShouldRespond, d.Reason)

	if !d.ShouldRespond {
		return
	}

	ctx, cancel := context.WithCancel(r.rootCtx)
	id := fmt.Sprintf("%s-%d", p.Sender, time.Now().UnixNano())
	r.mu.Lock()
	r.pendingCancel[id] = cancel
	r.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.pendingCancel, id)
			r.mu.Unlock()
		}()
		arbiter.Commit(ctx, d, ev, r.board, arbiter.RealSleeper{}, nil, func() {
			r.emitReply(ctx, p.Sender, p.Text, d)
		})
	}()
}

// emitReply composes and sends the actual response text.
func (r *Runtime) emitReply(ctx context.Context, sender, message string, d arbiter.Decision) {
	text := r.composeReply(ctx, sender, message, d)
	if text == "" {
		return
	}
	if err := r.client.Chat(sender, text); err != nil {
		logging.Get(logging.CategoryAgent).Warn("%s: chat send failed: %v", r.name, err)
		return
	}
	r.observeLine(r.name, text)
	// Commit runs off-loop; ledger writes go back through the event goroutine.
	r.post(func() { r.recordExchange(sender) })
}

func (r *Runtime) composeReply(ctx context.Context, sender, message string, d arbiter.Decision) string {
	if r.oracle != nil {
		prompt := fmt.Sprintf(
			"You are %s, %s. You are feeling %s. %s said to you: %q\nReply in one short conversational sentence.",
			r.name, r.cfg.Persona.Summary, d.Emotion, sender, message)
		if reply, ok := r.oracle.Query(ctx, prompt, oracle.QueryOpts{MaxTokens: 60, Temperature: 0.9}); ok {
			return reply
		}
	}
	// Degraded mode: a flat acknowledgment beats silence after we committed.
	return fmt.Sprintf("Hey %s, give me a moment.", sender)
}

// recordExchange books the interaction into the ledger and publishes the
// updated edge.
func (r *Runtime) recordExchange(peer string) {
	rel := r.ledger.RecordInteraction(peer, 0.02, 0.02, 0.01, "")
	if r.client != nil {
		_ = r.client.PublishRelation(hub.RelationPayload{
			Peer:     peer,
			Trust:    rel.Trust,
			Fondness: rel.Fondness,
			Respect:  rel.Respect,
			Type:     rel.Type().String(),
		})
	}
}

// handleCommand executes a routed command (workers) and reports status back.
func (r *Runtime) handleCommand(cmd relay.CommandMessage) {
	if r.role != hub.RoleWorker {
		return
	}
	logging.Agent("%s: executing %s %v (%s)", r.name, cmd.Command, cmd.Args, cmd.CommandID)

	// shut_up is handled in-process: it suppresses pending speech, it is not
	// a world action.
	if cmd.Command == "shut_up" {
		r.ShutUp()
		if err := r.client.ReportStatus(relay.StatusReport{CommandID: cmd.CommandID, Status: "completed"}); err != nil {
			logging.Get(logging.CategoryAgent).Warn("%s: status report failed: %v", r.name, err)
		}
		return
	}

	report := r.exec.Execute(cmd)
	report.CommandID = cmd.CommandID
	if err := r.client.ReportStatus(report); err != nil {
		logging.Get(logging.CategoryAgent).Warn("%s: status report failed: %v", r.name, err)
	}
}

// handleWorkerStatus feeds forwarded worker status into the leader's tick
// queue.
func (r *Runtime) handleWorkerStatus(report relay.StatusReport) {
	if r.role != hub.RoleLeader || r.ticker == nil {
		return
	}
	r.ticker.Enqueue(tick.KindWorkerReport,
		fmt.Sprintf("%s: %s (health %.0f, food %.0f)", report.Worker, report.Status, report.Health, report.Food))
}

// handleStateRequest answers a hub full-state poll. The read goes through the
// event goroutine so it never observes a half-applied mutation.
func (r *Runtime) handleStateRequest(pollID string) {
	r.post(func() {
		_ = r.client.ReportState(pollID, hub.AgentSnapshot{
			Emotion:     r.state.Emotion().String(),
			Intensity:   r.state.Intensity(),
			Frustration: r.state.Frustration(),
		})
	})
}

// ShutUp suppresses every decided-but-uncommitted response and clears the
// leader's pending goal loop.
func (r *Runtime) ShutUp() {
	r.mu.Lock()
	for id, cancel := range r.pendingCancel {
		cancel()
		delete(r.pendingCancel, id)
	}
	r.mu.Unlock()

	if r.ticker != nil {
		r.ticker.Clear()
	}
	logging.Agent("%s: told to shut up", r.name)
}

// maintenanceLoop runs the periodic decay/persist cycle.
func (r *Runtime) maintenanceLoop() {
	defer close(r.maintDone)

	ticker := time.NewTicker(r.cfg.MaintenanceTick())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.post(r.maintain)
		case <-r.rootCtx.Done():
			return
		}
	}
}

// maintain is one maintenance pass: decay relationships, cool emotions,
// persist, and publish soul state. Always runs on the event goroutine.
func (r *Runtime) maintain() {
	r.ledger.Decay()
	r.state.CoolDown()
	r.store.SaveAsync(r.ledger.Snapshot(nil))

	if r.client != nil {
		_ = r.client.PublishSoul(hub.SoulPayload{
			Emotion:     r.state.Emotion().String(),
			Intensity:   r.state.Intensity(),
			Frustration: r.state.Frustration(),
		})
	}
}

// Shutdown stops everything and writes a final snapshot.
func (r *Runtime) Shutdown() {
	r.rootCancel()
	if r.ticker != nil {
		r.ticker.Stop()
	}
	if r.watcher != nil {
		r.watcher.Stop()
	}
	<-r.maintDone
	<-r.loopDone

	if err := r.store.Save(r.ledger.Snapshot(nil)); err != nil {
		logging.Get(logging.CategoryAgent).Warn("%s: final snapshot failed: %v", r.name, err)
	}
	r.store.Close()

	if r.client != nil {
		r.client.Close()
	}
	logging.Agent("%s shut down", r.name)
}

// State exposes the emotional state (owned by the runtime's event goroutine).
func (r *Runtime) State() *soul.State { return r.state }

// Ledger exposes the relationship ledger.
func (r *Runtime) Ledger() *relationship.Ledger { return r.ledger }

func (r *Runtime) observeLine(speaker, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if speaker != r.name {
		r.knownAgents[speaker] = true
	}
	r.recentContext = append(r.recentContext, fmt.Sprintf("%s: %s", speaker, text))
	if len(r.recentContext) > contextLines {
		r.recentContext = r.recentContext[len(r.recentContext)-contextLines:]
	}
}

func (r *Runtime) snapshotContext() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.recentContext))
	copy(out, r.recentContext)
	return out
}

func (r *Runtime) otherAgents(sender string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.knownAgents))
	for name := range r.knownAgents {
		if name != sender && name != r.name {
			out = append(out, name)
		}
	}
	return out
}

// clientRouter adapts the hub client to the tick scheduler's CommandRouter.
type clientRouter struct {
	client *hub.Client
}

// RouteCommand implements tick.CommandRouter over the hub connection.
func (cr *clientRouter) RouteCommand(_, worker, command string, args []string, _ string) error {
	result, err := cr.client.Command(worker, command, args)
	if err != nil {
		return err
	}
	if result.Error != "" {
		return fmt.Errorf("%s", result.Error)
	}
	return nil
}

// clientSpeaker broadcasts the leader's batched reply as chat.
type clientSpeaker struct {
	runtime *Runtime
}

// Say implements tick.Speaker.
func (cs *clientSpeaker) Say(text string) {
	r := cs.runtime
	r.observeLine(r.name, text)
	// Leaders address the room; an empty recipient is a broadcast line.
	if err := r.client.Chat("", text); err != nil {
		logging.Get(logging.CategoryAgent).Warn("%s: broadcast failed: %v", r.name, err)
	}
}
