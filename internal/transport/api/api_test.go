package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trainyard.dev/internal/persistence/indexdb"
	"trainyard.dev/internal/persistence/snapshot"
	"trainyard.dev/internal/sim/engine"
	"trainyard.dev/internal/sim/geom"
	"trainyard.dev/internal/sim/model"
)

type fakeJournal struct{ last indexdb.JournalQuery }

func (f *fakeJournal) JournalEntries(ctx context.Context, q indexdb.JournalQuery) ([]engine.JournalEntry, error) {
	f.last = q
	return []engine.JournalEntry{{Kind: engine.EntryRouting, Target: "node:0"}}, nil
}

func (f *fakeJournal) Stats() indexdb.Stats { return indexdb.Stats{QueueCapacity: 8} }

type fixture struct {
	sup   *engine.Supervisor
	snaps *snapshot.Store
	jr    *fakeJournal
	srv   *httptest.Server
}

// newFixture runs a supervisor over a graph with a configurable node 0, a
// random node 1 and track 0 between them.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	snaps := snapshot.New(t.TempDir())
	sup := engine.NewSupervisor(engine.Config{Seed: 1}, logger, snaps, nil, "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sup.Run(ctx)
	}()

	h, err := sup.Current().SubscribeControl(ctx)
	if err != nil {
		t.Fatalf("SubscribeControl: %v", err)
	}
	for _, cmd := range []engine.Command{
		engine.NewNode{Pos: geom.Coord{X: 0, Y: 0}, Policy: model.PolicyConfigurable},
		engine.NewNode{Pos: geom.Coord{X: 50, Y: 0}, Policy: model.PolicyRandom},
		engine.NewTrack{Start: 0, End: 1, Color: "#000"},
	} {
		if err := h.Submit(ctx, cmd); err != nil {
			t.Fatalf("submit %s: %v", cmd.Name(), err)
		}
	}

	jr := &fakeJournal{}
	s := &Server{Engines: sup, Snapshots: snaps, Journal: jr, Log: logger, Timeout: 2 * time.Second}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return &fixture{sup: sup, snaps: snaps, jr: jr, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func decode[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("decode %q: %v", s, err)
	}
	return v
}

func TestNodeQueries(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/healthz", "")
	if code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz %d %q", code, body)
	}

	code, body = f.do(t, http.MethodGet, "/nodes", "")
	nodes := decode[[]engine.NodeInfo](t, body)
	if code != http.StatusOK || len(nodes) != 2 || nodes[1].Pos != (geom.Coord{X: 50, Y: 0}) {
		t.Fatalf("nodes %d %s", code, body)
	}

	code, body = f.do(t, http.MethodGet, "/nodes/0", "")
	if code != http.StatusOK || decode[map[string]any](t, body)["node_type"] != "configurable" {
		t.Fatalf("node 0 %d %s", code, body)
	}

	code, body = f.do(t, http.MethodGet, "/nodes/9", "")
	if code != http.StatusNotFound || decode[errorBody](t, body).Code != "E_NOT_FOUND" {
		t.Fatalf("node 9 %d %s", code, body)
	}

	code, body = f.do(t, http.MethodGet, "/nodes/1/routing", "")
	if code != http.StatusOK || strings.TrimSpace(body) != "null" {
		t.Fatalf("random node routing %d %s", code, body)
	}

	code, body = f.do(t, http.MethodGet, "/nodes/0/state", "")
	st := decode[map[string]any](t, body)
	if code != http.StatusOK || st["configured"] != false {
		t.Fatalf("state %d %s", code, body)
	}
}

func TestSetRouting(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/nodes/0/routing", "{")
	if code != http.StatusBadRequest || decode[errorBody](t, body).Code != "E_PROTO_BAD_REQUEST" {
		t.Fatalf("bad json %d %s", code, body)
	}

	code, body = f.do(t, http.MethodPost, "/nodes/0/routing", `{"default_state": 3, "states": {"0": {}}}`)
	eb := decode[errorBody](t, body)
	if code != http.StatusUnprocessableEntity || eb.Reason != "default_state_missing" {
		t.Fatalf("missing default %d %s", code, body)
	}

	unknownTrack := `{"configured": true, "default_state": 0, "states": {"0": {"forward_routings": {"0": {"outcomes": [{"weight": 1, "outcome": {"kind": "track", "track": 9}}]}}}}}`
	code, body = f.do(t, http.MethodPost, "/nodes/0/routing", unknownTrack)
	if code != http.StatusUnprocessableEntity || decode[errorBody](t, body).Reason != "unknown_track" {
		t.Fatalf("unknown track %d %s", code, body)
	}

	valid := `{"configured": true, "default_state": 0, "states": {"0": {"backward_routings": {"0": {"outcomes": [{"weight": 1, "outcome": {"kind": "bounce_back"}}]}}}}}`
	code, body = f.do(t, http.MethodPost, "/nodes/0/routing", valid)
	if code != http.StatusOK {
		t.Fatalf("valid %d %s", code, body)
	}
	code, body = f.do(t, http.MethodGet, "/nodes/0/state", "")
	if code != http.StatusOK || decode[map[string]any](t, body)["configured"] != true {
		t.Fatalf("state after install %d %s", code, body)
	}

	code, body = f.do(t, http.MethodPost, "/nodes/9/routing", valid)
	if code != http.StatusNotFound {
		t.Fatalf("unknown node %d %s", code, body)
	}
}

func TestMetricsAndJournal(t *testing.T) {
	f := newFixture(t)

	// Metrics are published at the end of each loop iteration.
	deadline := time.Now().Add(3 * time.Second)
	for {
		_, body := f.do(t, http.MethodGet, "/metrics", "")
		if strings.Contains(body, "\ntrainyard_nodes 2\n") && strings.Contains(body, "trainyard_index_queue_capacity 8") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("metrics:\n%s", body)
		}
		time.Sleep(10 * time.Millisecond)
	}

	code, body := f.do(t, http.MethodGet, "/journal?kind=routing&limit=5", "")
	if code != http.StatusOK || len(decode[[]engine.JournalEntry](t, body)) != 1 {
		t.Fatalf("journal %d %s", code, body)
	}
	if f.jr.last.Kind != "routing" || f.jr.last.Limit != 5 {
		t.Fatalf("query=%+v", f.jr.last)
	}
	if code, _ := f.do(t, http.MethodGet, "/journal?limit=0", ""); code != http.StatusBadRequest {
		t.Fatalf("limit=0 code=%d", code)
	}
}

func TestDerailRestartsFromSnapshot(t *testing.T) {
	f := newFixture(t)
	first := f.sup.Current()

	code, body := f.do(t, http.MethodGet, "/available-tracks", "")
	if code != http.StatusOK || strings.TrimSpace(body) != "[]" {
		t.Fatalf("tracks before %d %s", code, body)
	}

	code, body = f.do(t, http.MethodPost, "/derail", "")
	if code != http.StatusOK {
		t.Fatalf("derail %d %s", code, body)
	}

	deadline := time.Now().Add(3 * time.Second)
	for f.sup.Restarts() != 1 || f.sup.Current() == first {
		if time.Now().After(deadline) {
			t.Fatalf("no restart")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_, body = f.do(t, http.MethodGet, "/available-tracks", "")
	ids := decode[[]string](t, body)
	if len(ids) != 1 || ids[0] != first.LastSnapshot() {
		t.Fatalf("tracks after %s (last=%q)", body, first.LastSnapshot())
	}
	code, body = f.do(t, http.MethodGet, "/nodes", "")
	if code != http.StatusOK || len(decode[[]engine.NodeInfo](t, body)) != 2 {
		t.Fatalf("nodes after restart %d %s", code, body)
	}
}
