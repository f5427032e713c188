package relationship

import (
	"path/filepath"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "souls.db")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	l := NewLedger("Blaze", map[string]float64{"chattiness": 0.8})
	l.RecordInteraction("Rex", 0.4, 0.4, 0.4, "built a farm together")
	l.Traits().Evolve("chattiness", -0.1, "kept getting interrupted")

	if err := store.Save(l.Snapshot([]string{"Rex hoards iron"})); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap, err := store.Load("Blaze")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap == nil {
		t.Fatal("Load returned nil for a saved agent")
	}

	restored := NewLedger("Blaze", nil)
	restored.Restore(snap)

	r := restored.Get("Rex")
	if r.Trust != 0.4 || r.Type() != TypeFriend {
		t.Errorf("restored relationship mismatch: trust=%v type=%v", r.Trust, r.Type())
	}
	if cur, _ := restored.Traits().Current("chattiness"); cur < 0.69 || cur > 0.71 {
		t.Errorf("restored chattiness = %v, want ~0.7", cur)
	}
	if len(restored.Traits().History()) != 1 {
		t.Errorf("evolution log not restored: %d entries", len(restored.Traits().History()))
	}
	if len(snap.Observations) != 1 || snap.Observations[0] != "Rex hoards iron" {
		t.Errorf("observations not persisted: %v", snap.Observations)
	}
}

func TestStoreSaveReplacesPreviousRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "souls.db")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	l := NewLedger("Blaze", nil)
	if err := store.Save(l.Snapshot(nil)); err != nil {
		t.Fatalf("first Save: %v", err)
	}

	l.RecordInteraction("Rex", 0.2, 0.2, 0.2, "")
	if err := store.Save(l.Snapshot(nil)); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	snap, err := store.Load("Blaze")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Relationships) != 1 {
		t.Errorf("expected latest snapshot, got %d relationships", len(snap.Relationships))
	}
}

func TestSnapshotUnaffectedByLaterMutation(t *testing.T) {
	l := NewLedger("Blaze", map[string]float64{"chattiness": 0.7})
	l.RecordInteraction("Rex", 0.5, 0.5, 0.5, "built the bridge")

	snap := l.Snapshot(nil)

	l.RecordInteraction("Rex", -0.8, -0.8, -0.8, "burned the bridge")
	l.Traits().Evolve("chattiness", 0.1, "made new friends")

	rel := snap.Relationships["Rex"]
	if rel.Trust != 0.5 {
		t.Errorf("snapshot trust = %v, want the pre-mutation 0.5", rel.Trust)
	}
	if len(rel.Memories) != 1 || rel.Memories[0] != "built the bridge" {
		t.Errorf("snapshot memories = %v", rel.Memories)
	}
	if got := snap.Current["chattiness"]; got != 0.7 {
		t.Errorf("snapshot chattiness = %v, want 0.7", got)
	}
	if len(snap.Evolution) != 0 {
		t.Errorf("snapshot evolution log = %v, want empty", snap.Evolution)
	}
}

func TestStoreLoadMissingAgent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "souls.db")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	snap, err := store.Load("nobody")
	if err != nil {
		t.Fatalf("Load on empty db: %v", err)
	}
	if snap != nil {
		t.Errorf("Load of unknown agent = %+v, want nil", snap)
	}
}
