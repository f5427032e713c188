package relationship

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"hivemind/internal/logging"
)

// Snapshot is the schema-stable persisted form of one agent's ledger.
type Snapshot struct {
	Agent         string                   `json:"agent"`
	Relationships map[string]*Relationship `json:"relationships"`
	Base          map[string]float64       `json:"base_personality"`
	Current       map[string]float64       `json:"current_personality"`
	Experience    Experience               `json:"experience"`
	XP            float64                  `json:"xp"`
	Evolution     []Evolution              `json:"evolution"`
	Observations  []string                 `json:"observations,omitempty"`
	SavedAt       time.Time                `json:"saved_at"`
}

// Snapshot captures a deep copy of the ledger's current state for
// persistence. Mutations after the call never reach a snapshot already taken,
// so SaveAsync can marshal it off the owner's goroutine.
func (l *Ledger) Snapshot(observations []string) *Snapshot {
	rels := make(map[string]*Relationship, len(l.relations))
	for peer, r := range l.relations {
		cp := *r
		cp.Memories = append([]string(nil), r.Memories...)
		rels[peer] = &cp
	}
	return &Snapshot{
		Agent:         l.owner,
		Relationships: rels,
		Base:          copyMap(l.traits.base),
		Current:       l.traits.CurrentAll(),
		Experience:    l.traits.Exp,
		XP:            l.traits.XP,
		Evolution:     l.traits.History(),
		Observations:  observations,
		SavedAt:       l.now(),
	}
}

// Restore replaces the ledger's contents from a snapshot. Called once at
// agent startup before any decisions run.
func (l *Ledger) Restore(snap *Snapshot) {
	if snap == nil {
		return
	}
	l.relations = make(map[string]*Relationship, len(snap.Relationships))
	for peer, r := range snap.Relationships {
		cp := *r
		l.relations[peer] = &cp
	}

	tv := NewTraitVector(snap.Base)
	for trait, v := range snap.Current {
		tv.current[trait] = v
	}
	tv.Exp = snap.Experience
	tv.XP = snap.XP
	tv.history = append(tv.history[:0], snap.Evolution...)
	l.traits = tv
}

// Store persists ledger snapshots to SQLite, one row per agent. Writes are
// advisory: SaveAsync never blocks the caller on disk.
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (or creates) the relationship database at the given path.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS soul_snapshots (
		agent TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		saved_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Save writes the snapshot, replacing any previous row for the agent.
func (s *Store) Save(snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO soul_snapshots (agent, data, saved_at) VALUES (?, ?, ?)
		 ON CONFLICT(agent) DO UPDATE SET data = excluded.data, saved_at = excluded.saved_at`,
		snap.Agent, string(data), snap.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("save snapshot for %s: %w", snap.Agent, err)
	}
	return nil
}

// SaveAsync persists the snapshot without blocking the caller. Errors are
// logged, not returned; a failed write never stalls decision-making.
func (s *Store) SaveAsync(snap *Snapshot) {
	go func() {
		if err := s.Save(snap); err != nil {
			logging.Get(logging.CategoryRelationship).Warn("async save failed: %v", err)
		}
	}()
}

// Load reads the snapshot for the named agent. A missing row returns
// (nil, nil): first boot.
func (s *Store) Load(agent string) (*Snapshot, error) {
	var data string
	err := s.db.QueryRow(
		`SELECT data FROM soul_snapshots WHERE agent = ?`, agent,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot for %s: %w", agent, err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot for %s: %w", agent, err)
	}
	return &snap, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func copyMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
