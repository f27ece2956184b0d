package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trainyard.dev/internal/sim/geom"
	"trainyard.dev/internal/sim/model"
	"trainyard.dev/internal/sim/railway"
	"trainyard.dev/internal/sim/routing"
)

type shutdownReq struct {
	Reason string
}

type controlReq struct {
	Cmd  Command
	Resp chan error
}

type viewReq struct {
	Ctx  context.Context
	Resp chan ViewSubscription
}

type ctrlReq struct {
	Resp chan ControlHandle
}

type listNodesReq struct {
	Resp chan []NodeInfo
}

type nodeTypeReq struct {
	Node model.NodeID
	Resp chan nodeTypeResp
}

type nodeTypeResp struct {
	Policy model.Policy
	Found  bool
}

type nodeRoutingReq struct {
	Node model.NodeID
	Resp chan nodeRoutingResp
}

type nodeRoutingResp struct {
	Info  *routing.Info
	Found bool
}

type nodeStateReq struct {
	Node model.NodeID
	Resp chan nodeStateResp
}

type nodeStateResp struct {
	State railway.NodeState
	Found bool
}

type setRoutingReq struct {
	Node model.NodeID
	Info routing.Info
	Resp chan error
}

type NodeInfo struct {
	ID  model.NodeID `json:"id"`
	Pos geom.Coord   `json:"coord"`
}

// ViewSubscription is handed to a new viewer. Packets starts with every node,
// the track table and every train, then carries incremental updates. It is
// closed when the viewer is pruned or the engine stops.
type ViewSubscription struct {
	ID      uint64
	Packets <-chan Packet
	Clicks  ClickHandle
}

// ClickHandle submits viewer clicks to the shared click mailbox.
type ClickHandle struct {
	e *Engine
}

// Submit queues a click. It does not wait for the click to be applied.
func (h ClickHandle) Submit(ctx context.Context, c Click) error {
	if h.e == nil {
		return ErrStopped
	}
	return send(ctx, h.e, h.e.clicks, c)
}

// ControlHandle submits control commands. All handles share one mailbox.
type ControlHandle struct {
	e *Engine
}

// Submit queues cmd and waits for the engine to apply or reject it.
func (h ControlHandle) Submit(ctx context.Context, cmd Command) error {
	if h.e == nil {
		return ErrStopped
	}
	if cmd == nil {
		return errors.New("nil command")
	}
	resp := make(chan error, 1)
	err, rerr := roundTrip(ctx, h.e, h.e.controls, controlReq{Cmd: cmd, Resp: resp}, resp)
	if rerr != nil {
		return rerr
	}
	return err
}

// send delivers v on ch, bounded by ctx and the request timeout.
func send[T any](ctx context.Context, e *Engine, ch chan<- T, v T) error {
	timer := time.NewTimer(e.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case ch <- v:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrBusy
	}
}

// roundTrip sends q on ch and waits for its reply on resp.
func roundTrip[Q, R any](ctx context.Context, e *Engine, ch chan<- Q, q Q, resp <-chan R) (R, error) {
	var zero R
	timer := time.NewTimer(e.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case ch <- q:
	case <-e.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.C:
		return zero, ErrBusy
	}
	select {
	case r := <-resp:
		return r, nil
	case <-e.done:
		select {
		case r := <-resp:
			return r, nil
		default:
		}
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.C:
		return zero, ErrBusy
	}
}

func reply[T any](ch chan T, v T) {
	if ch == nil {
		return
	}
	select {
	case ch <- v:
	default:
	}
}

func (e *Engine) SubscribeView(ctx context.Context) (ViewSubscription, error) {
	resp := make(chan ViewSubscription, 1)
	return roundTrip(ctx, e, e.viewReq, viewReq{Ctx: ctx, Resp: resp}, resp)
}

func (e *Engine) SubscribeControl(ctx context.Context) (ControlHandle, error) {
	resp := make(chan ControlHandle, 1)
	return roundTrip(ctx, e, e.ctrlReq, ctrlReq{Resp: resp}, resp)
}

// Unsubscribe removes a viewer and closes its channel. Unknown ids are
// ignored.
func (e *Engine) Unsubscribe(ctx context.Context, id uint64) error {
	return send(ctx, e, e.leave, id)
}

func (e *Engine) RequestListNodes(ctx context.Context) ([]NodeInfo, error) {
	resp := make(chan []NodeInfo, 1)
	return roundTrip(ctx, e, e.listNodes, listNodesReq{Resp: resp}, resp)
}

func (e *Engine) RequestNodeType(ctx context.Context, id model.NodeID) (model.Policy, error) {
	resp := make(chan nodeTypeResp, 1)
	r, err := roundTrip(ctx, e, e.nodeType, nodeTypeReq{Node: id, Resp: resp}, resp)
	if err != nil {
		return 0, err
	}
	if !r.Found {
		return 0, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	return r.Policy, nil
}

// RequestNodeRouting returns a copy of the node's routing table, or nil when
// the node has none.
func (e *Engine) RequestNodeRouting(ctx context.Context, id model.NodeID) (*routing.Info, error) {
	resp := make(chan nodeRoutingResp, 1)
	r, err := roundTrip(ctx, e, e.routingQ, nodeRoutingReq{Node: id, Resp: resp}, resp)
	if err != nil {
		return nil, err
	}
	if !r.Found {
		return nil, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	return r.Info, nil
}

func (e *Engine) RequestNodeState(ctx context.Context, id model.NodeID) (railway.NodeState, error) {
	resp := make(chan nodeStateResp, 1)
	r, err := roundTrip(ctx, e, e.stateQ, nodeStateReq{Node: id, Resp: resp}, resp)
	if err != nil {
		return railway.NodeState{}, err
	}
	if !r.Found {
		return railway.NodeState{}, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	return r.State, nil
}

// RequestSetNodeRouting installs info on a node. A rejected table is reported
// as *routing.CheckError; the node keeps its previous table.
func (e *Engine) RequestSetNodeRouting(ctx context.Context, id model.NodeID, info routing.Info) error {
	resp := make(chan error, 1)
	err, rerr := roundTrip(ctx, e, e.setRoute, setRoutingReq{Node: id, Info: info.Clone(), Resp: resp}, resp)
	if rerr != nil {
		return rerr
	}
	return err
}

// RequestShutdown asks the engine to persist and stop, then waits for Run to
// return.
func (e *Engine) RequestShutdown(ctx context.Context, reason string) error {
	select {
	case e.shutdown <- shutdownReq{Reason: reason}:
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) handleListNodes(r listNodesReq) {
	ids := e.graph.NodeIDs()
	out := make([]NodeInfo, 0, len(ids))
	for _, id := range ids {
		n, _ := e.graph.Node(id)
		out = append(out, NodeInfo{ID: id, Pos: n.Pos})
	}
	reply(r.Resp, out)
}

func (e *Engine) handleNodeType(r nodeTypeReq) {
	n, ok := e.graph.Node(r.Node)
	if !ok {
		reply(r.Resp, nodeTypeResp{})
		return
	}
	reply(r.Resp, nodeTypeResp{Policy: n.Policy, Found: true})
}

func (e *Engine) handleNodeRouting(r nodeRoutingReq) {
	n, ok := e.graph.Node(r.Node)
	if !ok {
		reply(r.Resp, nodeRoutingResp{})
		return
	}
	resp := nodeRoutingResp{Found: true}
	if n.Routing != nil {
		c := n.Routing.Clone()
		resp.Info = &c
	}
	reply(r.Resp, resp)
}

func (e *Engine) handleNodeState(r nodeStateReq) {
	st, ok := e.graph.NodeState(r.Node)
	reply(r.Resp, nodeStateResp{State: st, Found: ok})
}

func (e *Engine) handleSetRouting(r setRoutingReq) {
	err := e.graph.SetRouting(r.Node, r.Info)
	ent := JournalEntry{Kind: EntryRouting, Target: target("node", uint32(r.Node))}
	if err != nil {
		ent.Err = err.Error()
		e.log.Printf("routing rejected: node=%d err=%v", r.Node, err)
	} else {
		ent.Detail = fmt.Sprintf("installed %d states, configured=%t", len(r.Info.States), r.Info.Configured)
	}
	e.journalWrite(ent)
	reply(r.Resp, err)
}
