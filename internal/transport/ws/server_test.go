package ws

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"trainyard.dev/internal/sim/engine"
	"trainyard.dev/internal/sim/railway"
	"trainyard.dev/internal/sim/tuning"
)

type staticSource struct{ e *engine.Engine }

func (s staticSource) Current() *engine.Engine { return s.e }

func startServer(t *testing.T, tune tuning.Transport) (*Server, *httptest.Server) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	e := engine.New(engine.Config{Seed: 1}, railway.NewGraph(), logger, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()

	s := NewServer(staticSource{e}, tune, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.ViewerHandler())
	mux.HandleFunc("/ws-ctrl", s.ControlHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return s, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(msg)
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestViewerSeesSnapshotThenControlEdits(t *testing.T) {
	_, srv := startServer(t, tuning.Defaults().Transport)

	viewer := dial(t, srv, "/ws")
	if got := read(t, viewer); got != "track\n0" {
		t.Fatalf("snapshot=%q", got)
	}

	ctrl := dial(t, srv, "/ws-ctrl")
	send(t, ctrl, "node_new\n1;2 random")
	if got := read(t, viewer); got != "node\n0 1;2" {
		t.Fatalf("node broadcast=%q", got)
	}
	send(t, ctrl, "node_new\n10;2 reverse")
	if got := read(t, viewer); got != "node\n1 10;2" {
		t.Fatalf("node broadcast=%q", got)
	}
	send(t, ctrl, "track_new\n0 1 #fff")
	if got := read(t, viewer); got != "track\n1\n0 bezier2;1;2;10;2 #fff 20" {
		t.Fatalf("track broadcast=%q", got)
	}
}

func TestControlRejectsWithErrorPackets(t *testing.T) {
	_, srv := startServer(t, tuning.Defaults().Transport)
	ctrl := dial(t, srv, "/ws-ctrl")

	send(t, ctrl, "node_new\nx random")
	if got := read(t, ctrl); !strings.HasPrefix(got, "error\nE_PROTO_BAD_REQUEST ") {
		t.Fatalf("malformed reply=%q", got)
	}
	send(t, ctrl, "train_new\n5 10")
	if got := read(t, ctrl); !strings.HasPrefix(got, "error\nE_NOT_FOUND ") {
		t.Fatalf("unknown track reply=%q", got)
	}
}

func TestControlRateLimited(t *testing.T) {
	tune := tuning.Defaults().Transport
	tune.ControlsPerSecond = 0.001
	tune.ControlBurst = 1
	s, srv := startServer(t, tune)
	ctrl := dial(t, srv, "/ws-ctrl")

	send(t, ctrl, "node_new\n0;0 random")
	send(t, ctrl, "node_new\n1;1 random")
	if got := read(t, ctrl); !strings.HasPrefix(got, "error\nE_RATE_LIMIT ") {
		t.Fatalf("reply=%q", got)
	}
	if s.Stats().RateLimited != 1 {
		t.Fatalf("stats=%+v", s.Stats())
	}
}

func TestViewerDropsMalformedPackets(t *testing.T) {
	s, srv := startServer(t, tuning.Defaults().Transport)
	viewer := dial(t, srv, "/ws")
	_ = read(t, viewer)

	send(t, viewer, "wave\nhello")
	send(t, viewer, "click\n7 0,0,0")

	deadline := time.Now().Add(3 * time.Second)
	for s.Stats().Malformed != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("stats=%+v", s.Stats())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if s.Stats().Viewers != 1 {
		t.Fatalf("viewers=%d", s.Stats().Viewers)
	}
}
