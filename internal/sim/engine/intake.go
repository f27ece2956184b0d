package engine

import (
	"fmt"

	"trainyard.dev/internal/sim/geom"
	"trainyard.dev/internal/sim/model"
)

func (e *Engine) handleClick(c Click) {
	e.counters.clicks++
	if c.Target == TargetNode {
		e.integrate(nil, 0)
		id := model.NodeID(c.ID)
		changed, err := e.graph.ClickNode(id, e.rng)
		if err != nil {
			e.counters.ignored++
			return
		}
		if changed {
			st, _ := e.graph.NodeState(id)
			e.journalWrite(JournalEntry{
				Kind:   EntryNodeClick,
				Target: target("node", c.ID),
				Detail: fmt.Sprintf("state=%d", st.State),
			})
		}
		return
	}

	id := model.TrainID(c.ID)
	t, ok := e.trains.Get(id)
	if !ok {
		e.integrate(nil, 0)
		e.counters.ignored++
		return
	}
	switch {
	case c.Mods.Ctrl:
		e.trains.Remove(id)
		how := model.OperatorRemovals[e.rng.Intn(len(model.OperatorRemovals))]
		e.counters.removals++
		e.broadcast(Removal{Train: id, How: how})
		e.journalWrite(JournalEntry{Kind: EntryRemoval, Target: target("train", c.ID), Detail: how.String()})
		e.integrate(nil, 0)
	case c.Mods.Shift:
		e.integrate(nil, 0)
		if _, still := e.trains.Get(id); !still {
			return
		}
		t.Reverse()
		e.broadcast(e.trainPacket(t))
	default:
		e.integrate(&id, e.cfg.ClickBonus)
	}
}

func (e *Engine) handleControl(r controlReq) {
	e.integrate(nil, 0)
	err := e.apply(r.Cmd)
	ent := JournalEntry{Kind: EntryCommand, Command: r.Cmd.Name(), Detail: fmt.Sprintf("%+v", r.Cmd)}
	if err != nil {
		ent.Err = err.Error()
		e.counters.rejected++
		e.log.Printf("control rejected: cmd=%s err=%v", r.Cmd.Name(), err)
	}
	e.journalWrite(ent)
	reply(r.Resp, err)
}

func (e *Engine) apply(cmd Command) error {
	switch c := cmd.(type) {
	case NewNode:
		if !c.Pos.Finite() {
			return fmt.Errorf("node_new: position %v is not finite", c.Pos)
		}
		id := e.graph.AddNode(c.Pos, c.Policy)
		e.broadcast(e.nodePacket(id))
	case NewTrain:
		t, err := e.trains.Spawn(e.graph, c.Track, c.Speed, e.cfg.ImageForward, e.cfg.ImageBackward)
		if err != nil {
			return fmt.Errorf("train_new track %d: %w", c.Track, err)
		}
		e.broadcast(e.trainPacket(t))
	case NewTrack:
		if _, err := e.graph.AddTrack(c.Start, c.End, geom.Straight(), c.Color, e.cfg.DefaultThickness); err != nil {
			return err
		}
		e.broadcast(e.trackTable())
	case NodeMove:
		if !c.Pos.Finite() {
			return fmt.Errorf("node_move: position %v is not finite", c.Pos)
		}
		if err := e.graph.MoveNode(c.Node, c.Pos); err != nil {
			return err
		}
		e.broadcast(e.nodePacket(c.Node))
		e.broadcast(e.trackTable())
	case TrackAdjust:
		if err := e.graph.AdjustTrack(c.Track, c.Shape); err != nil {
			return err
		}
		e.broadcast(e.trackTable())
	default:
		return fmt.Errorf("unsupported command %T", cmd)
	}
	return nil
}

func (e *Engine) handleViewReq(r viewReq) {
	e.integrate(nil, 0)
	if r.Ctx != nil && r.Ctx.Err() != nil {
		return
	}
	size := e.graph.NodeCount() + 1 + e.trains.Len()
	ch := make(chan Packet, size+e.cfg.ViewerBuffer)
	for _, id := range e.graph.NodeIDs() {
		ch <- e.nodePacket(id)
	}
	ch <- e.trackTable()
	for _, t := range e.trains.Sorted() {
		ch <- e.trainPacket(t)
	}
	id := e.nextViewer
	e.nextViewer++
	e.viewers[id] = ch
	reply(r.Resp, ViewSubscription{ID: id, Packets: ch, Clicks: ClickHandle{e: e}})
}

func (e *Engine) handleCtrlReq(r ctrlReq) {
	e.integrate(nil, 0)
	reply(r.Resp, ControlHandle{e: e})
}

func (e *Engine) handleLeave(id uint64) {
	ch, ok := e.viewers[id]
	if !ok {
		return
	}
	close(ch)
	delete(e.viewers, id)
}

// broadcast delivers p to every viewer without blocking. A viewer whose
// buffer is full is dropped.
func (e *Engine) broadcast(p Packet) {
	for id, ch := range e.viewers {
		select {
		case ch <- p:
		default:
			close(ch)
			delete(e.viewers, id)
			e.counters.pruned++
			e.log.Printf("viewer pruned: id=%d packet=%s", id, p.Kind())
		}
	}
}
