package engine

import (
	"context"
	"io"
	"log"
	"sync/atomic"

	"trainyard.dev/internal/sim/railway"
)

// LatestSnapshot asks the supervisor to start from the newest snapshot.
const LatestSnapshot = "latest"

// Snapshots is the snapshot storage the supervisor boots from.
type Snapshots interface {
	Store
	Latest() (string, bool, error)
	Load(id string) (railway.Documents, error)
}

// Supervisor hosts one engine at a time. When an operator shuts the engine
// down it is cold-restarted from the snapshot it just wrote; when the process
// context ends the supervisor returns.
type Supervisor struct {
	cfg     Config
	log     *log.Logger
	snaps   Snapshots
	journal Journal

	current  atomic.Pointer[Engine]
	restarts atomic.Uint64
}

// NewSupervisor builds the first engine from snapshot name. An empty name
// starts from an empty graph, LatestSnapshot from the newest snapshot. A
// snapshot that cannot be read is logged and replaced by an empty graph.
func NewSupervisor(cfg Config, logger *log.Logger, snaps Snapshots, journal Journal, name string) *Supervisor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Supervisor{cfg: cfg, log: logger, snaps: snaps, journal: journal}
	s.current.Store(s.build(name))
	return s
}

// Current is the running engine. It changes after a restart, so callers
// should not cache it across requests.
func (s *Supervisor) Current() *Engine { return s.current.Load() }

func (s *Supervisor) Restarts() uint64 { return s.restarts.Load() }

func (s *Supervisor) Run(ctx context.Context) error {
	for {
		e := s.current.Load()
		err := e.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		next := e.LastSnapshot()
		if next == "" {
			next = LatestSnapshot
		}
		s.log.Printf("engine restart: snapshot=%s", next)
		s.current.Store(s.build(next))
		s.restarts.Add(1)
	}
}

func (s *Supervisor) build(name string) *Engine {
	g := s.load(name)
	var store Store
	if s.snaps != nil {
		store = s.snaps
	}
	return New(s.cfg, g, s.log, store, s.journal)
}

func (s *Supervisor) load(name string) *railway.Graph {
	if name == "" || s.snaps == nil {
		s.log.Printf("starting with empty graph")
		return railway.NewGraph()
	}
	if name == LatestSnapshot {
		id, ok, err := s.snaps.Latest()
		if err != nil {
			s.log.Printf("list snapshots: %v; starting with empty graph", err)
			return railway.NewGraph()
		}
		if !ok {
			s.log.Printf("no snapshots yet; starting with empty graph")
			return railway.NewGraph()
		}
		name = id
	}
	docs, err := s.snaps.Load(name)
	if err != nil {
		s.log.Printf("read snapshot %s: %v; starting with empty graph", name, err)
		return railway.NewGraph()
	}
	g, warnings, err := railway.FromDocuments(docs)
	if err != nil {
		s.log.Printf("rebuild snapshot %s: %v; starting with empty graph", name, err)
		return railway.NewGraph()
	}
	for _, w := range warnings {
		s.log.Printf("snapshot %s: %s", name, w)
	}
	s.log.Printf("loaded snapshot %s: nodes=%d tracks=%d", name, g.NodeCount(), g.TrackCount())
	return g
}
