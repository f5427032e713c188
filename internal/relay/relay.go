// Package relay is the authoritative routing table between leaders and their
// workers: it forwards single and group commands, tracks in-flight command
// identifiers, and relays status back to the issuing leader.
package relay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"hivemind/internal/logging"
)

var (
	// ErrWorkerNotFound is returned when routing to an unregistered worker.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrNotAssigned is returned when a leader targets a worker assigned to
	// a different leader.
	ErrNotAssigned = errors.New("worker not assigned to this leader")
)

// recordRetention is how long a command record survives after reaching a
// terminal status, so late status reads still resolve.
const recordRetention = 60 * time.Second

// Handle is the connection surface the relay uses to forward commands to a
// worker process.
type Handle interface {
	Send(msg any) error
}

// CommandStatus tracks a routed command's lifecycle.
type CommandStatus string

const (
	StatusSent      CommandStatus = "sent"
	StatusCompleted CommandStatus = "completed"
	StatusError     CommandStatus = "error"
)

// Terminal reports whether the status is final.
func (s CommandStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// WorkerRecord is the relay's view of one registered worker.
type WorkerRecord struct {
	Name       string
	LeaderID   string
	Status     string
	LastUpdate time.Time
	Position   [3]float64
	Health     float64
	Food       float64

	handle Handle
}

// CommandRecord tracks one routed command.
type CommandRecord struct {
	ID        string
	LeaderID  string
	WorkerID  string
	Command   string
	Args      []string
	Timestamp time.Time
	Status    CommandStatus
}

// CommandMessage is what the relay forwards to a worker's connection.
type CommandMessage struct {
	CommandID string   `json:"command_id"`
	LeaderID  string   `json:"leader_id"`
	Command   string   `json:"command"`
	Args      []string `json:"args,omitempty"`
}

// StatusReport is the asynchronous result a worker sends back.
type StatusReport struct {
	Worker    string     `json:"worker"`
	CommandID string     `json:"command_id,omitempty"`
	Status    string     `json:"status"`
	Position  [3]float64 `json:"position"`
	Health    float64    `json:"health"`
	Food      float64    `json:"food"`
	Detail    string     `json:"detail,omitempty"`
}

// LeaderNotifier receives worker status forwarded to the worker's leader.
type LeaderNotifier interface {
	NotifyLeader(leaderID string, report StatusReport)
}

// Scheduler schedules deferred work; injected so tests can simulate time.
type Scheduler interface {
	After(d time.Duration, fn func())
}

// TimerScheduler is the production Scheduler backed by time.AfterFunc.
type TimerScheduler struct{}

// After implements Scheduler.
func (TimerScheduler) After(d time.Duration, fn func()) { time.AfterFunc(d, fn) }

// Relay is the central command routing table.
type Relay struct {
	mu       sync.RWMutex
	workers  map[string]*WorkerRecord  // worker name -> record
	byLeader map[string]map[string]bool // leader -> set of worker names
	commands map[string]*CommandRecord // command id -> record

	notifier LeaderNotifier
	sched    Scheduler
	now      func() time.Time
}

// New creates an empty relay. notifier may be nil (status still recorded,
// just not forwarded).
func New(notifier LeaderNotifier, sched Scheduler) *Relay {
	if sched == nil {
		sched = TimerScheduler{}
	}
	return &Relay{
		workers:  make(map[string]*WorkerRecord),
		byLeader: make(map[string]map[string]bool),
		commands: make(map[string]*CommandRecord),
		notifier: notifier,
		sched:    sched,
		now:      time.Now,
	}
}

// RegisterWorker adds a worker under a leader. Idempotent: re-registering the
// same pair updates the handle and leaves a single entry in the leader's set.
func (r *Relay) RegisterWorker(worker, leader string, handle Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.workers[worker]
	if !ok {
		rec = &WorkerRecord{Name: worker}
		r.workers[worker] = rec
	}

	// Moving leaders drops the old membership first.
	if rec.LeaderID != "" && rec.LeaderID != leader {
		delete(r.byLeader[rec.LeaderID], worker)
	}

	rec.LeaderID = leader
	rec.handle = handle
	rec.LastUpdate = r.now()

	if r.byLeader[leader] == nil {
		r.byLeader[leader] = make(map[string]bool)
	}
	r.byLeader[leader][worker] = true

	logging.Relay("registered worker %s under leader %s", worker, leader)
}

// RouteCommand forwards one command from leader to worker. Success means the
// command was recorded and handed to the connection; the result arrives
// asynchronously via UpdateWorkerStatus.
func (r *Relay) RouteCommand(leader, worker, command string, args []string, commandID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.routeLocked(leader, worker, command, args, commandID)
}

func (r *Relay) routeLocked(leader, worker, command string, args []string, commandID string) error {
	rec, ok := r.workers[worker]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, worker)
	}
	if rec.LeaderID != leader {
		return fmt.Errorf("%w: %s belongs to %s", ErrNotAssigned, worker, rec.LeaderID)
	}

	if commandID == "" {
		commandID = CommandID(leader, worker, r.now())
	}

	r.commands[commandID] = &CommandRecord{
		ID:        commandID,
		LeaderID:  leader,
		WorkerID:  worker,
		Command:   command,
		Args:      args,
		Timestamp: r.now(),
		Status:    StatusSent,
	}

	msg := CommandMessage{CommandID: commandID, LeaderID: leader, Command: command, Args: args}
	if rec.handle != nil {
		if err := rec.handle.Send(msg); err != nil {
			logging.Get(logging.CategoryRelay).Warn("send to %s failed: %v", worker, err)
		}
	}

	logging.Relay("%s -> %s: %s %v (%s)", leader, worker, command, args, commandID)
	return nil
}

// GroupResult is the per-worker outcome of a group command fanout.
type GroupResult struct {
	Worker    string
	CommandID string
	Err       error
}

// RouteGroupCommand fans the command out to every worker assigned to the
// leader. Each fanout gets a derived sub-identifier commandID-0..N-1. The
// caller reconciles the per-worker results.
func (r *Relay) RouteGroupCommand(leader, command string, args []string, commandID string) []GroupResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if commandID == "" {
		commandID = GroupCommandID(leader, r.now())
	}

	workers := sortedWorkers(r.byLeader[leader])
	results := make([]GroupResult, 0, len(workers))
	for i, w := range workers {
		subID := fmt.Sprintf("%s-%d", commandID, i)
		err := r.routeLocked(leader, w, command, args, subID)
		results = append(results, GroupResult{Worker: w, CommandID: subID, Err: err})
	}
	return results
}

// UpdateWorkerStatus applies a worker's status report: live fields, the
// matching command record if any, and a forward to the worker's leader.
// Terminal command statuses schedule record cleanup after the retention delay.
func (r *Relay) UpdateWorkerStatus(report StatusReport) {
	r.mu.Lock()

	rec, ok := r.workers[report.Worker]
	if ok {
		rec.Status = report.Status
		rec.Position = report.Position
		rec.Health = report.Health
		rec.Food = report.Food
		rec.LastUpdate = r.now()
	}

	var leaderID string
	if ok {
		leaderID = rec.LeaderID
	}

	if report.CommandID != "" {
		if cmd, has := r.commands[report.CommandID]; has {
			switch report.Status {
			case "completed":
				cmd.Status = StatusCompleted
			case "error":
				cmd.Status = StatusError
			}
			if cmd.Status.Terminal() {
				id := cmd.ID
				r.sched.After(recordRetention, func() { r.dropCommand(id) })
			}
		}
	}
	r.mu.Unlock()

	if leaderID != "" && r.notifier != nil {
		r.notifier.NotifyLeader(leaderID, report)
	}
}

// RemoveWorker deregisters a worker entirely.
func (r *Relay) RemoveWorker(worker string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.workers[worker]
	if !ok {
		return
	}
	delete(r.byLeader[rec.LeaderID], worker)
	delete(r.workers, worker)
	logging.Relay("removed worker %s", worker)
}

// RemoveLeader deregisters a leader. Its workers are orphaned, not deleted:
// they keep their records until they time out or re-register, which avoids a
// cascading-failure amplification when a leader crashes.
func (r *Relay) RemoveLeader(leader string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for w := range r.byLeader[leader] {
		if rec, ok := r.workers[w]; ok {
			rec.LeaderID = ""
		}
	}
	delete(r.byLeader, leader)
	logging.Relay("removed leader %s (workers orphaned)", leader)
}

// Worker returns a copy of the named worker's record.
func (r *Relay) Worker(name string) (WorkerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.workers[name]
	if !ok {
		return WorkerRecord{}, false
	}
	return *rec, true
}

// WorkersOf returns the names of workers currently assigned to a leader.
func (r *Relay) WorkersOf(leader string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedWorkers(r.byLeader[leader])
}

// Command returns a copy of a command record.
func (r *Relay) Command(id string) (CommandRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[id]
	if !ok {
		return CommandRecord{}, false
	}
	return *cmd, true
}

// CommandCount returns the number of live command records.
func (r *Relay) CommandCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

func (r *Relay) dropCommand(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.commands, id)
}

// CommandID builds the canonical single-target command identifier.
func CommandID(leader, worker string, t time.Time) string {
	return fmt.Sprintf("%s-%s-%d", leader, worker, t.UnixMilli())
}

// GroupCommandID builds the canonical group command identifier.
func GroupCommandID(leader string, t time.Time) string {
	return fmt.Sprintf("%s-group-%d", leader, t.UnixMilli())
}

func sortedWorkers(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	// Deterministic fanout order keeps sub-identifiers stable.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
