// Package api is the HTTP query and admin surface of the server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"trainyard.dev/internal/persistence/indexdb"
	"trainyard.dev/internal/persistence/r2s3"
	"trainyard.dev/internal/protocol"
	"trainyard.dev/internal/sim/engine"
	"trainyard.dev/internal/sim/model"
	"trainyard.dev/internal/sim/routing"
	"trainyard.dev/internal/transport/ws"
)

const maxRoutingBody = 1 << 20

// Engines is the engine host, normally *engine.Supervisor.
type Engines interface {
	Current() *engine.Engine
	Restarts() uint64
}

// SnapshotIndex lists stored snapshot ids.
type SnapshotIndex interface {
	Index() ([]string, error)
}

// JournalIndex answers journal queries, normally *indexdb.SQLiteIndex.
type JournalIndex interface {
	JournalEntries(ctx context.Context, q indexdb.JournalQuery) ([]engine.JournalEntry, error)
	Stats() indexdb.Stats
}

type Server struct {
	Engines   Engines
	Snapshots SnapshotIndex
	// Optional.
	Journal JournalIndex
	WS      *ws.Server
	Mirror  *r2s3.Mirror
	Log     *log.Logger
	// Timeout bounds each engine round trip.
	Timeout time.Duration
}

// Router wires every route. The websocket endpoints are mounted when WS is set.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.metrics).Methods(http.MethodGet)
	r.HandleFunc("/nodes", s.listNodes).Methods(http.MethodGet)
	r.HandleFunc("/nodes/{id:[0-9]+}", s.nodeType).Methods(http.MethodGet)
	r.HandleFunc("/nodes/{id:[0-9]+}/routing", s.getRouting).Methods(http.MethodGet)
	r.HandleFunc("/nodes/{id:[0-9]+}/routing", s.setRouting).Methods(http.MethodPost)
	r.HandleFunc("/nodes/{id:[0-9]+}/state", s.nodeState).Methods(http.MethodGet)
	r.HandleFunc("/routing/schema", s.routingSchema).Methods(http.MethodGet)
	r.HandleFunc("/derail", s.derail).Methods(http.MethodPost)
	r.HandleFunc("/available-tracks", s.availableTracks).Methods(http.MethodGet)
	r.HandleFunc("/journal", s.journal).Methods(http.MethodGet)
	if s.WS != nil {
		r.HandleFunc("/ws", s.WS.ViewerHandler())
		r.HandleFunc("/ws-ctrl", s.WS.ControlHandler())
	}
	return r
}

func (s *Server) logf(format string, args ...any) {
	if s.Log != nil {
		s.Log.Printf(format, args...)
	}
}

func (s *Server) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	d := s.Timeout
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(r.Context(), d)
}

type errorBody struct {
	Code   string `json:"code"`
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
	Path   string `json:"path,omitempty"`
}

func statusFor(code string) int {
	switch code {
	case protocol.ErrNotFound:
		return http.StatusNotFound
	case protocol.ErrRoutingInvalid:
		return http.StatusUnprocessableEntity
	case protocol.ErrProtoBadRequest, protocol.ErrBadRequest:
		return http.StatusBadRequest
	case protocol.ErrEngineBusy, protocol.ErrEngineStopped:
		return http.StatusServiceUnavailable
	case protocol.ErrRateLimit:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, err error) {
	body := errorBody{Code: protocol.CodeFor(err), Error: err.Error()}
	var ce *routing.CheckError
	if errors.As(err, &ce) {
		body.Reason = ce.Reason
		body.Path = ce.Path
	}
	writeJSON(rw, statusFor(body.Code), body)
}

func nodeID(r *http.Request) (model.NodeID, error) {
	v, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: bad node id", protocol.ErrMalformed)
	}
	return model.NodeID(v), nil
}

func (s *Server) healthz(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte("ok"))
}

func (s *Server) listNodes(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.ctx(r)
	defer cancel()
	nodes, err := s.Engines.Current().RequestListNodes(ctx)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, nodes)
}

func (s *Server) nodeType(rw http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		writeError(rw, err)
		return
	}
	ctx, cancel := s.ctx(r)
	defer cancel()
	policy, err := s.Engines.Current().RequestNodeType(ctx, id)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"id": id, "node_type": policy})
}

// getRouting answers null for nodes without a routing table.
func (s *Server) getRouting(rw http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		writeError(rw, err)
		return
	}
	ctx, cancel := s.ctx(r)
	defer cancel()
	info, err := s.Engines.Current().RequestNodeRouting(ctx, id)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, info)
}

func (s *Server) setRouting(rw http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		writeError(rw, err)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRoutingBody+1))
	if err != nil {
		writeError(rw, fmt.Errorf("%w: read body: %v", protocol.ErrMalformed, err))
		return
	}
	if len(raw) > maxRoutingBody {
		writeError(rw, fmt.Errorf("%w: body over %d bytes", protocol.ErrMalformed, maxRoutingBody))
		return
	}
	info, err := protocol.DecodeRouting(raw)
	if err != nil {
		writeError(rw, err)
		return
	}
	ctx, cancel := s.ctx(r)
	defer cancel()
	if err := s.Engines.Current().RequestSetNodeRouting(ctx, id, info); err != nil {
		writeError(rw, err)
		return
	}
	s.logf("api: routing installed node=%d states=%d configured=%t", id, len(info.States), info.Configured)
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) nodeState(rw http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		writeError(rw, err)
		return
	}
	ctx, cancel := s.ctx(r)
	defer cancel()
	st, err := s.Engines.Current().RequestNodeState(ctx, id)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, st)
}

func (s *Server) routingSchema(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/schema+json")
	_, _ = rw.Write(protocol.RoutingSchema())
}

// derail persists the running engine and stops it; the supervisor restarts
// it from the snapshot just written.
func (s *Server) derail(rw http.ResponseWriter, r *http.Request) {
	e := s.Engines.Current()
	ctx, cancel := s.ctx(r)
	defer cancel()
	if err := e.RequestShutdown(ctx, "derail"); err != nil {
		writeError(rw, err)
		return
	}
	s.logf("api: derail requested snapshot=%s", e.LastSnapshot())
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "snapshot": e.LastSnapshot()})
}

func (s *Server) availableTracks(rw http.ResponseWriter, r *http.Request) {
	ids, err := s.Snapshots.Index()
	if err != nil {
		s.logf("api: snapshot index: %v", err)
		writeJSON(rw, http.StatusInternalServerError, errorBody{Code: protocol.ErrInternal, Error: err.Error()})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(rw, http.StatusOK, ids)
}

func (s *Server) journal(rw http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		writeJSON(rw, http.StatusNotFound, errorBody{Code: protocol.ErrNotFound, Error: "journal index disabled"})
		return
	}
	q := indexdb.JournalQuery{
		Kind:   r.URL.Query().Get("kind"),
		Target: r.URL.Query().Get("target"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(rw, fmt.Errorf("%w: limit must be 1..1000", protocol.ErrMalformed))
			return
		}
		q.Limit = n
	}
	entries, err := s.Journal.JournalEntries(r.Context(), q)
	if err != nil {
		writeJSON(rw, http.StatusInternalServerError, errorBody{Code: protocol.ErrInternal, Error: err.Error()})
		return
	}
	if entries == nil {
		entries = []engine.JournalEntry{}
	}
	writeJSON(rw, http.StatusOK, entries)
}
