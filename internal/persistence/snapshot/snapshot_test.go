package snapshot

import (
	"bytes"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"trainyard.dev/internal/sim/geom"
	"trainyard.dev/internal/sim/model"
	"trainyard.dev/internal/sim/railway"
)

type memCatalog struct {
	recorded []Meta
	deleted  []string
}

func (c *memCatalog) RecordSnapshot(m Meta) error {
	c.recorded = append(c.recorded, m)
	return nil
}

func (c *memCatalog) DeleteSnapshot(id string) error {
	c.deleted = append(c.deleted, id)
	return nil
}

func sampleDocs(t *testing.T) railway.Documents {
	t.Helper()
	g := railway.NewGraph()
	a := g.AddNode(geom.Coord{X: 0, Y: 0}, model.PolicyRandom)
	b := g.AddNode(geom.Coord{X: 30, Y: 40}, model.PolicyConfigurable)
	shape := geom.Shape{Points: []geom.Coord{{X: 10, Y: 30}}}
	if _, err := g.AddTrack(a, b, shape, "#123456", 12); err != nil {
		t.Fatalf("AddTrack: %v", err)
	}
	return g.Export()
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cat := &memCatalog{}
	s := New(dir)
	s.Catalog = cat
	s.Now = func() time.Time { return time.Unix(1700000000, 0) }

	docs := sampleDocs(t)
	id, err := s.Save(docs)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id != "01700000000" {
		t.Fatalf("id=%q", id)
	}
	for _, name := range []string{"nodes_" + id + ".json", "track_" + id + ".json", "existing.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}

	back, err := s.Load(id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	g, warnings, err := railway.FromDocuments(back)
	if err != nil {
		t.Fatalf("FromDocuments: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("warnings: %v", warnings)
	}
	if g.NodeCount() != 2 || g.TrackCount() != 1 {
		t.Fatalf("nodes=%d tracks=%d", g.NodeCount(), g.TrackCount())
	}
	for tid, rec := range docs.Tracks {
		got := back.Tracks[tid]
		if got.Path.Start() != rec.Path.Start() || got.Path.End() != rec.Path.End() || got.Path.Order() != 3 {
			t.Fatalf("track %d path %+v want %+v", tid, got.Path, rec.Path)
		}
	}
	for nid, rec := range docs.Nodes {
		if len(back.Nodes[nid].Connections) != len(rec.Connections) {
			t.Fatalf("node %d connections %v want %v", nid, back.Nodes[nid].Connections, rec.Connections)
		}
	}

	if len(cat.recorded) != 1 || cat.recorded[0].Configurable != 1 || cat.recorded[0].Tracks != 1 {
		t.Fatalf("catalog: %+v", cat.recorded)
	}
}

func TestSaveSameSecondGetsSuffix(t *testing.T) {
	s := New(t.TempDir())
	s.Now = func() time.Time { return time.Unix(42, 0) }
	first, err := s.Save(railway.Documents{})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	second, err := s.Save(railway.Documents{})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if first != "00000000042" || second != "00000000042_1" {
		t.Fatalf("ids %q %q", first, second)
	}
	latest, ok, err := s.Latest()
	if err != nil || !ok || latest != second {
		t.Fatalf("Latest=%q ok=%v err=%v", latest, ok, err)
	}
	ids, _ := s.Index()
	if len(ids) != 2 {
		t.Fatalf("index=%v", ids)
	}
}

func TestLatestEmptyAndRemove(t *testing.T) {
	cat := &memCatalog{}
	s := New(t.TempDir())
	s.Catalog = cat
	if _, ok, err := s.Latest(); ok || err != nil {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}
	id, err := s.Save(sampleDocs(t))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Remove(id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Load(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load after remove err=%v", err)
	}
	if err := s.Remove(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Remove err=%v", err)
	}
	if len(cat.deleted) != 1 || cat.deleted[0] != id {
		t.Fatalf("catalog deletes=%v", cat.deleted)
	}
}

func TestInvalidNames(t *testing.T) {
	s := New(t.TempDir())
	for _, name := range []string{"", "../etc", "a b", "x.json"} {
		if _, err := s.Load(name); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("Load(%q) err=%v", name, err)
		}
	}
	if !ValidName("track-set_01") {
		t.Fatalf("expected valid name")
	}
}

func TestSaveSurvivesCorruptIndex(t *testing.T) {
	dir := t.TempDir()
	var logs bytes.Buffer
	s := New(dir)
	s.Logger = log.New(&logs, "", 0)
	now := time.Unix(100, 0)
	s.Now = func() time.Time { return now }

	first, err := s.Save(sampleDocs(t))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, IndexFile), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt index: %v", err)
	}

	now = time.Unix(200, 0)
	second, err := s.Save(sampleDocs(t))
	if err != nil {
		t.Fatalf("Save with corrupt index: %v", err)
	}
	for _, name := range []string{NodesFile(second), TracksFile(second)} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	if _, err := s.Load(second); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ids, err := s.Index()
	if err != nil || len(ids) != 2 || ids[0] != first || ids[1] != second {
		t.Fatalf("rebuilt index=%v err=%v", ids, err)
	}
	if !strings.Contains(logs.String(), "unreadable index") {
		t.Fatalf("index failure not logged: %q", logs.String())
	}
}
