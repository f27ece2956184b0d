package engine

import "time"

type counters struct {
	clicks    uint64
	ignored   uint64
	rejected  uint64
	crossings uint64
	derails   uint64
	removals  uint64
	fallbacks uint64
	pruned    uint64
}

type EngineMetrics struct {
	Nodes   int `json:"nodes"`
	Tracks  int `json:"tracks"`
	Trains  int `json:"trains"`
	Viewers int `json:"viewers"`

	Clicks           uint64 `json:"clicks_total"`
	ClicksIgnored    uint64 `json:"clicks_ignored_total"`
	CommandsRejected uint64 `json:"commands_rejected_total"`
	Crossings        uint64 `json:"crossings_total"`
	Derails          uint64 `json:"derails_total"`
	Removals         uint64 `json:"removals_total"`
	Fallbacks        uint64 `json:"routing_fallbacks_total"`
	ViewersPruned    uint64 `json:"viewers_pruned_total"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS  float64 `json:"step_ms"`
	Stopped bool    `json:"stopped"`
}

type QueueDepths struct {
	Clicks   int `json:"clicks"`
	Controls int `json:"controls"`
	Views    int `json:"views"`
	Queries  int `json:"queries"`
}

func (e *Engine) publishMetrics(step time.Duration) {
	stopped := false
	select {
	case <-e.done:
		stopped = true
	default:
	}
	e.metrics.Store(EngineMetrics{
		Nodes:            e.graph.NodeCount(),
		Tracks:           e.graph.TrackCount(),
		Trains:           e.trains.Len(),
		Viewers:          len(e.viewers),
		Clicks:           e.counters.clicks,
		ClicksIgnored:    e.counters.ignored,
		CommandsRejected: e.counters.rejected,
		Crossings:        e.counters.crossings,
		Derails:          e.counters.derails,
		Removals:         e.counters.removals,
		Fallbacks:        e.counters.fallbacks,
		ViewersPruned:    e.counters.pruned,
		QueueDepths: QueueDepths{
			Clicks:   len(e.clicks),
			Controls: len(e.controls),
			Views:    len(e.viewReq) + len(e.ctrlReq),
			Queries:  len(e.listNodes) + len(e.nodeType) + len(e.routingQ) + len(e.stateQ) + len(e.setRoute),
		},
		StepMS:  float64(step.Microseconds()) / 1000,
		Stopped: stopped,
	})
}

// Metrics returns the counters published at the end of the last loop
// iteration. Safe for concurrent use.
func (e *Engine) Metrics() EngineMetrics {
	if e == nil {
		return EngineMetrics{}
	}
	m, _ := e.metrics.Load().(EngineMetrics)
	return m
}
