package api

import (
	"fmt"
	"io"
	"net/http"
)

// metrics writes a minimal Prometheus exposition of the engine, transport
// and index counters.
func (s *Server) metrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	m := s.Engines.Current().Metrics()

	gauge(rw, "trainyard_nodes", "Nodes in the graph.", m.Nodes)
	gauge(rw, "trainyard_tracks", "Tracks in the graph.", m.Tracks)
	gauge(rw, "trainyard_trains", "Trains in the simulation.", m.Trains)
	gauge(rw, "trainyard_viewers", "Subscribed viewers.", m.Viewers)

	counter(rw, "trainyard_clicks_total", "Viewer clicks received.", m.Clicks)
	counter(rw, "trainyard_clicks_ignored_total", "Clicks naming an unknown train or node.", m.ClicksIgnored)
	counter(rw, "trainyard_commands_rejected_total", "Control commands rejected.", m.CommandsRejected)
	counter(rw, "trainyard_crossings_total", "Node crossings.", m.Crossings)
	counter(rw, "trainyard_derails_total", "Trains removed by a derail outcome.", m.Derails)
	counter(rw, "trainyard_removals_total", "Trains removed by operators.", m.Removals)
	counter(rw, "trainyard_routing_fallbacks_total", "Missing routing entries that fell back to derail.", m.Fallbacks)
	counter(rw, "trainyard_viewers_pruned_total", "Viewers dropped for a full buffer.", m.ViewersPruned)
	counter(rw, "trainyard_engine_restarts_total", "Engine cold restarts.", s.Engines.Restarts())

	fmt.Fprintf(rw, "# HELP trainyard_queue_depth Engine mailbox backlog.\n")
	fmt.Fprintf(rw, "# TYPE trainyard_queue_depth gauge\n")
	fmt.Fprintf(rw, "trainyard_queue_depth{queue=%q} %d\n", "clicks", m.QueueDepths.Clicks)
	fmt.Fprintf(rw, "trainyard_queue_depth{queue=%q} %d\n", "controls", m.QueueDepths.Controls)
	fmt.Fprintf(rw, "trainyard_queue_depth{queue=%q} %d\n", "views", m.QueueDepths.Views)
	fmt.Fprintf(rw, "trainyard_queue_depth{queue=%q} %d\n", "queries", m.QueueDepths.Queries)

	fmt.Fprintf(rw, "# HELP trainyard_step_ms Last engine step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE trainyard_step_ms gauge\n")
	fmt.Fprintf(rw, "trainyard_step_ms %.3f\n", m.StepMS)

	if s.WS != nil {
		st := s.WS.Stats()
		gauge(rw, "trainyard_ws_viewers", "Open viewer sockets.", st.Viewers)
		gauge(rw, "trainyard_ws_controls", "Open control sockets.", st.Controls)
		counter(rw, "trainyard_ws_malformed_total", "Malformed packets received.", st.Malformed)
		counter(rw, "trainyard_ws_rate_limited_total", "Packets dropped by rate limiting.", st.RateLimited)
	}
	if s.Journal != nil {
		st := s.Journal.Stats()
		gauge(rw, "trainyard_index_queue_depth", "SQLite writer backlog.", st.QueueDepth)
		gauge(rw, "trainyard_index_queue_capacity", "SQLite writer queue capacity.", st.QueueCapacity)
		counter(rw, "trainyard_index_dropped_total", "Index writes dropped.", st.DropJournalTotal+st.DropSnapshotTotal)
	}
	if s.Mirror != nil {
		st := s.Mirror.Stats()
		gauge(rw, "trainyard_r2_queue_depth", "Snapshot mirror backlog.", st.QueueDepth)
		counter(rw, "trainyard_r2_dropped_total", "Mirror jobs dropped on a full queue.", st.DroppedTotal)
		counter(rw, "trainyard_r2_success_total", "Mirror uploads and deletes that succeeded.", st.UploadSuccessTotal)
		counter(rw, "trainyard_r2_fail_total", "Mirror jobs that failed after retries.", st.UploadFailTotal)
		gauge(rw, "trainyard_r2_last_success_unix", "Unix time of the last mirror success.", st.LastSuccessUnix)
	}
}

func gauge[T int | int64](w io.Writer, name, help string, v T) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", name, help, name, name, v)
}

func counter(w io.Writer, name, help string, v uint64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
}
