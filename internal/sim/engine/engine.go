// Package engine runs the simulation actor: a single goroutine that owns the
// railway graph, the trains and the viewer registry, and serializes every
// click, control command and query against them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"trainyard.dev/internal/sim/model"
	"trainyard.dev/internal/sim/railway"
	"trainyard.dev/internal/sim/tuning"
)

var (
	// ErrBusy is returned when the engine does not accept or answer a request
	// within the request timeout.
	ErrBusy = errors.New("engine busy")
	// ErrStopped is returned once the engine loop has exited.
	ErrStopped = errors.New("engine stopped")

	ErrNotFound = errors.New("not found")
)

type Config struct {
	ClickBonus       time.Duration
	DefaultThickness float64
	ImageForward     string
	ImageBackward    string

	ViewerBuffer   int
	ClickMailbox   int
	ControlMailbox int
	RequestTimeout time.Duration

	MinWake      time.Duration
	MaxCrossings int
	Seed         int64

	// Now defaults to time.Now.
	Now func() time.Time
}

func ConfigFromTuning(t tuning.Engine) Config {
	return Config{
		ClickBonus:       t.ClickBonus(),
		DefaultThickness: t.DefaultTrackThickness,
		ImageForward:     t.TrainImageForward,
		ImageBackward:    t.TrainImageBackward,
		ViewerBuffer:     t.ViewerBuffer,
		ClickMailbox:     t.ClickMailbox,
		ControlMailbox:   t.ControlMailbox,
		RequestTimeout:   t.RequestTimeout(),
		MinWake:          t.MinWake(),
		MaxCrossings:     t.MaxCrossingsPerTick,
		Seed:             t.Seed,
	}
}

func (c Config) withDefaults() Config {
	d := tuning.Defaults().Engine
	if c.DefaultThickness <= 0 {
		c.DefaultThickness = d.DefaultTrackThickness
	}
	if c.ImageForward == "" {
		c.ImageForward = d.TrainImageForward
	}
	if c.ImageBackward == "" {
		c.ImageBackward = d.TrainImageBackward
	}
	if c.ViewerBuffer <= 0 {
		c.ViewerBuffer = d.ViewerBuffer
	}
	if c.ClickMailbox <= 0 {
		c.ClickMailbox = d.ClickMailbox
	}
	if c.ControlMailbox <= 0 {
		c.ControlMailbox = d.ControlMailbox
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout()
	}
	if c.MaxCrossings <= 0 {
		c.MaxCrossings = d.MaxCrossingsPerTick
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type Engine struct {
	cfg     Config
	log     *log.Logger
	store   Store
	journal Journal

	// Owned by the Run goroutine.
	graph      *railway.Graph
	trains     *railway.Trains
	rng        *rand.Rand
	viewers    map[uint64]chan Packet
	nextViewer uint64
	last       time.Time
	counters   counters

	shutdown  chan shutdownReq
	clicks    chan Click
	controls  chan controlReq
	viewReq   chan viewReq
	ctrlReq   chan ctrlReq
	leave     chan uint64
	listNodes chan listNodesReq
	nodeType  chan nodeTypeReq
	routingQ  chan nodeRoutingReq
	stateQ    chan nodeStateReq
	setRoute  chan setRoutingReq

	done     chan struct{}
	doneOnce sync.Once
	metrics  atomic.Value
	snapshot atomic.Value
}

// New builds an engine around g. store and journal may be nil.
func New(cfg Config, g *railway.Graph, logger *log.Logger, store Store, journal Journal) *Engine {
	cfg = cfg.withDefaults()
	if g == nil {
		g = railway.NewGraph()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	e := &Engine{
		cfg:     cfg,
		log:     logger,
		store:   store,
		journal: journal,
		graph:   g,
		trains:  railway.NewTrains(),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		viewers: map[uint64]chan Packet{},

		shutdown:  make(chan shutdownReq, 1),
		clicks:    make(chan Click, cfg.ClickMailbox),
		controls:  make(chan controlReq, cfg.ControlMailbox),
		viewReq:   make(chan viewReq, 64),
		ctrlReq:   make(chan ctrlReq, 64),
		leave:     make(chan uint64, 256),
		listNodes: make(chan listNodesReq, 64),
		nodeType:  make(chan nodeTypeReq, 64),
		routingQ:  make(chan nodeRoutingReq, 64),
		stateQ:    make(chan nodeStateReq, 64),
		setRoute:  make(chan setRoutingReq, 64),

		done: make(chan struct{}),
	}
	e.last = cfg.Now()
	e.publishMetrics(0)
	return e
}

func (e *Engine) now() time.Time { return e.cfg.Now() }

// Done is closed when Run has returned.
func (e *Engine) Done() <-chan struct{} { return e.done }

// LastSnapshot is the id written on shutdown, empty until then or when no
// store is configured.
func (e *Engine) LastSnapshot() string {
	v, _ := e.snapshot.Load().(string)
	return v
}

// Run drives the engine until shutdown. It returns nil when shutdown was
// requested through RequestShutdown and ctx.Err() when ctx ended. In both
// cases the graph is persisted first.
func (e *Engine) Run(ctx context.Context) error {
	defer e.finish()
	e.last = e.now()
	for {
		var timerC <-chan time.Time
		var timer *time.Timer
		if wait, ok := e.nextWake(); ok {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}
		stop, err := e.step(ctx, timerC)
		if timer != nil {
			timer.Stop()
		}
		if stop {
			return err
		}
	}
}

// nextWake is the time until the earliest train reaches a boundary, less the
// time already elapsed since the last integration.
func (e *Engine) nextWake() (time.Duration, bool) {
	etl, ok := e.trains.NextBoundary(e.graph)
	if !ok {
		return 0, false
	}
	wait := etl - e.now().Sub(e.last)
	if wait < e.cfg.MinWake {
		wait = e.cfg.MinWake
	}
	return wait, true
}

// step services exactly one event. Priority is enforced by polling each
// source in order before blocking on all of them.
func (e *Engine) step(ctx context.Context, timerC <-chan time.Time) (bool, error) {
	start := time.Now()
	defer func() { e.publishMetrics(time.Since(start)) }()

	select {
	case <-ctx.Done():
		e.stop(EntryShutdown, "context cancelled")
		return true, ctx.Err()
	case r := <-e.shutdown:
		e.stop(EntryShutdown, r.Reason)
		return true, nil
	default:
	}
	select {
	case <-timerC:
		e.handleTimer()
		return false, nil
	default:
	}
	select {
	case c := <-e.clicks:
		e.handleClick(c)
		return false, nil
	default:
	}
	select {
	case r := <-e.controls:
		e.handleControl(r)
		return false, nil
	default:
	}
	select {
	case r := <-e.viewReq:
		e.handleViewReq(r)
		return false, nil
	default:
	}
	select {
	case r := <-e.ctrlReq:
		e.handleCtrlReq(r)
		return false, nil
	default:
	}
	select {
	case id := <-e.leave:
		e.handleLeave(id)
		return false, nil
	default:
	}
	if e.pollQuery() {
		return false, nil
	}

	select {
	case <-ctx.Done():
		e.stop(EntryShutdown, "context cancelled")
		return true, ctx.Err()
	case r := <-e.shutdown:
		e.stop(EntryShutdown, r.Reason)
		return true, nil
	case <-timerC:
		e.handleTimer()
	case c := <-e.clicks:
		e.handleClick(c)
	case r := <-e.controls:
		e.handleControl(r)
	case r := <-e.viewReq:
		e.handleViewReq(r)
	case r := <-e.ctrlReq:
		e.handleCtrlReq(r)
	case id := <-e.leave:
		e.handleLeave(id)
	case r := <-e.listNodes:
		e.handleListNodes(r)
	case r := <-e.nodeType:
		e.handleNodeType(r)
	case r := <-e.routingQ:
		e.handleNodeRouting(r)
	case r := <-e.stateQ:
		e.handleNodeState(r)
	case r := <-e.setRoute:
		e.handleSetRouting(r)
	}
	return false, nil
}

func (e *Engine) pollQuery() bool {
	select {
	case r := <-e.listNodes:
		e.handleListNodes(r)
	case r := <-e.nodeType:
		e.handleNodeType(r)
	case r := <-e.routingQ:
		e.handleNodeRouting(r)
	case r := <-e.stateQ:
		e.handleNodeState(r)
	case r := <-e.setRoute:
		e.handleSetRouting(r)
	default:
		return false
	}
	return true
}

// integrate advances every train by the wall time since the last integration.
// boosted, when non-nil, receives bonus on top. Crossing trains are broadcast
// and derailed trains removed.
func (e *Engine) integrate(boosted *model.TrainID, bonus time.Duration) {
	now := e.now()
	elapsed := now.Sub(e.last)
	if elapsed < 0 {
		elapsed = 0
	}
	e.last = now
	for _, t := range e.trains.Sorted() {
		d := elapsed
		if boosted != nil && *boosted == t.ID {
			d += bonus
		}
		if d <= 0 {
			continue
		}
		res := t.MoveWithTime(e.graph, d, e.rng, e.cfg.MaxCrossings)
		e.counters.crossings += uint64(res.Crossed)
		for _, fb := range res.Fallbacks {
			e.counters.fallbacks++
			e.log.Printf("routing fallback: node=%d incoming=%d dir=%s train=%d", fb.Node, fb.Incoming, fb.Dir, t.ID)
			e.journalWrite(JournalEntry{
				Kind:   EntryFallback,
				Target: target("node", uint32(fb.Node)),
				Detail: fmt.Sprintf("no %s routing entry for track %d, derailed", fb.Dir, fb.Incoming),
			})
		}
		if res.Capped {
			e.log.Printf("crossing cap reached: train=%d track=%d", t.ID, t.Track)
		}
		if res.Derailed {
			e.trains.Remove(t.ID)
			e.counters.derails++
			e.broadcast(Removal{Train: t.ID, How: model.RemovalDerail})
			e.journalWrite(JournalEntry{
				Kind:   EntryDerail,
				Target: target("train", uint32(t.ID)),
				Detail: fmt.Sprintf("at node %d", res.DerailNode),
			})
			continue
		}
		if res.Crossed > 0 {
			e.broadcast(e.trainPacket(t))
		}
	}
}

func (e *Engine) handleTimer() { e.integrate(nil, 0) }

func (e *Engine) trainPacket(t *railway.Train) TrainUpdate {
	return TrainUpdate{
		Train:     t.ID,
		Track:     t.Track,
		Progress:  t.Progress,
		Duration:  t.EstimatedTimeLeft(e.graph),
		Direction: t.Dir,
		Image:     t.Image(),
	}
}

func (e *Engine) trackTable() TrackTable {
	ids := e.graph.TrackIDs()
	tt := TrackTable{Tracks: make([]TrackEntry, 0, len(ids))}
	for _, id := range ids {
		t, _ := e.graph.Track(id)
		tt.Tracks = append(tt.Tracks, TrackEntry{
			ID:        id,
			Curve:     t.Curve.WithStart(t.Curve.Start()),
			Color:     t.Color,
			Thickness: t.Thickness,
		})
	}
	return tt
}

func (e *Engine) nodePacket(id model.NodeID) NodeUpdate {
	n, _ := e.graph.Node(id)
	return NodeUpdate{Node: id, Pos: n.Pos}
}

// stop persists the graph and journals the shutdown. Persistence failures
// are logged only.
func (e *Engine) stop(kind, reason string) {
	ent := JournalEntry{Kind: kind, Detail: reason}
	if e.store != nil {
		id, err := e.store.Save(e.graph.Export())
		if err != nil {
			e.log.Printf("persist graph failed: %v", err)
			ent.Err = err.Error()
		} else {
			e.snapshot.Store(id)
			ent.Target = "snapshot:" + id
			e.log.Printf("graph persisted: snapshot=%s nodes=%d tracks=%d", id, e.graph.NodeCount(), e.graph.TrackCount())
		}
	}
	e.journalWrite(ent)
}

func (e *Engine) finish() {
	e.doneOnce.Do(func() {
		for id, ch := range e.viewers {
			close(ch)
			delete(e.viewers, id)
		}
		close(e.done)
		e.publishMetrics(0)
	})
}
