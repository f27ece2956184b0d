package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"trainyard.dev/internal/persistence/snapshot"
	"trainyard.dev/internal/sim/engine"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqJournal}

	_ = s.Write(engine.JournalEntry{Kind: engine.EntryCommand})
	_ = s.RecordSnapshot(snapshot.Meta{ID: "1"})
	_ = s.DeleteSnapshot("1")

	st := s.Stats()
	if st.DropJournalTotal != 1 {
		t.Fatalf("DropJournalTotal=%d want=1", st.DropJournalTotal)
	}
	if st.DropSnapshotTotal != 2 {
		t.Fatalf("DropSnapshotTotal=%d want=2", st.DropSnapshotTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_SnapshotsAndJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "trainyard.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	_ = idx.RecordSnapshot(snapshot.Meta{ID: "01714564800", CreatedAt: at, Nodes: 3, Tracks: 2, Configurable: 1})
	_ = idx.RecordSnapshot(snapshot.Meta{ID: "01714564900", CreatedAt: at.Add(100 * time.Second), Nodes: 4, Tracks: 3})
	_ = idx.DeleteSnapshot("01714564900")
	_ = idx.Write(engine.JournalEntry{Time: at, Kind: engine.EntryCommand, Command: "node_new", Target: "node:0"})
	_ = idx.Write(engine.JournalEntry{Time: at, Kind: engine.EntryRouting, Target: "node:0"})
	_ = idx.Write(engine.JournalEntry{Time: at, Kind: engine.EntryCommand, Command: "train_new", Target: "train:1", Err: "unknown track"})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	ctx := context.Background()

	snaps, err := idx.ListSnapshots(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snaps) != 1 || snaps[0].ID != "01714564800" || snaps[0].Configurable != 1 || !snaps[0].CreatedAt.Equal(at) {
		t.Fatalf("snapshots=%+v", snaps)
	}

	all, err := idx.JournalEntries(ctx, JournalQuery{})
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if len(all) != 3 || all[0].Command != "train_new" {
		t.Fatalf("journal=%+v", all)
	}
	cmds, _ := idx.JournalEntries(ctx, JournalQuery{Kind: engine.EntryCommand, Limit: 10})
	if len(cmds) != 2 {
		t.Fatalf("commands=%+v", cmds)
	}
	node, _ := idx.JournalEntries(ctx, JournalQuery{Target: "node:0"})
	if len(node) != 2 {
		t.Fatalf("node:0 entries=%+v", node)
	}
}
