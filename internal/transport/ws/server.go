// Package ws serves the viewer (/ws) and control (/ws-ctrl) sockets. Both
// carry the text packets of internal/protocol, one packet per message.
package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"trainyard.dev/internal/protocol"
	"trainyard.dev/internal/sim/engine"
	"trainyard.dev/internal/sim/tuning"
)

// EngineSource yields the engine currently accepting connections. It changes
// when the engine is restarted.
type EngineSource interface {
	Current() *engine.Engine
}

type Server struct {
	src  EngineSource
	log  *log.Logger
	tune tuning.Transport

	upgrader websocket.Upgrader

	viewers     atomic.Int64
	controls    atomic.Int64
	malformed   atomic.Uint64
	rateLimited atomic.Uint64
}

// Stats are the transport counters exported on /metrics.
type Stats struct {
	Viewers     int64  `json:"viewers"`
	Controls    int64  `json:"controls"`
	Malformed   uint64 `json:"malformed_total"`
	RateLimited uint64 `json:"rate_limited_total"`
}

func NewServer(src EngineSource, tune tuning.Transport, logger *log.Logger) *Server {
	return &Server{
		src:  src,
		log:  logger,
		tune: tune,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Stats() Stats {
	return Stats{
		Viewers:     s.viewers.Load(),
		Controls:    s.controls.Load(),
		Malformed:   s.malformed.Load(),
		RateLimited: s.rateLimited.Load(),
	}
}

func (s *Server) closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

// keepAlive arms the read deadline and extends it on every pong.
func (s *Server) keepAlive(conn *websocket.Conn) {
	readTimeout := s.tune.ReadTimeout()
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
}

func (s *Server) ping(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.tune.WriteTimeout()))
}

func (s *Server) pingInterval() time.Duration {
	d := s.tune.ReadTimeout() / 2
	if d <= 0 {
		d = time.Second
	}
	return d
}

// ViewerHandler streams broadcast packets and accepts click and switch
// packets. Malformed or throttled packets are dropped.
func (s *Server) ViewerHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		e := s.src.Current()
		sub, err := e.SubscribeView(ctx)
		if err != nil {
			s.log.Printf("ws: viewer subscribe failed: %v", err)
			s.closeWith(conn, websocket.CloseTryAgainLater, protocol.CodeFor(err))
			return
		}
		s.viewers.Add(1)
		defer s.viewers.Add(-1)
		defer func() {
			uctx, ucancel := context.WithTimeout(context.Background(), time.Second)
			defer ucancel()
			_ = e.Unsubscribe(uctx, sub.ID)
		}()

		// Writer goroutine.
		go func() {
			defer cancel()
			ticker := time.NewTicker(s.pingInterval())
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := s.ping(conn); err != nil {
						return
					}
				case p, ok := <-sub.Packets:
					if !ok {
						// Pruned, or the engine stopped.
						s.closeWith(conn, websocket.CloseGoingAway, "stream closed")
						_ = conn.Close()
						return
					}
					msg, err := protocol.Encode(p)
					if err != nil {
						s.log.Printf("ws: encode %s: %v", p.Kind(), err)
						continue
					}
					_ = conn.SetWriteDeadline(time.Now().Add(s.tune.WriteTimeout()))
					if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()

		limiter := rate.NewLimiter(rate.Limit(s.tune.ClicksPerSecond), s.tune.ClickBurst)
		s.keepAlive(conn)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			click, err := protocol.ParseClient(string(msg))
			if err != nil {
				s.malformed.Add(1)
				continue
			}
			if !limiter.Allow() {
				s.rateLimited.Add(1)
				continue
			}
			if err := sub.Clicks.Submit(ctx, click); err != nil {
				if errors.Is(err, engine.ErrStopped) || ctx.Err() != nil {
					return
				}
				s.log.Printf("ws: click dropped: %v", err)
			}
		}
	}
}

// ControlHandler accepts control packets. Every rejected packet is answered
// with an error packet; accepted ones get no reply.
func (s *Server) ControlHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		handle, err := s.src.Current().SubscribeControl(ctx)
		if err != nil {
			s.log.Printf("ws: control subscribe failed: %v", err)
			s.closeWith(conn, websocket.CloseTryAgainLater, protocol.CodeFor(err))
			return
		}
		s.controls.Add(1)
		defer s.controls.Add(-1)

		go func() {
			ticker := time.NewTicker(s.pingInterval())
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := s.ping(conn); err != nil {
						return
					}
				}
			}
		}()

		reject := func(code string, err error) error {
			_ = conn.SetWriteDeadline(time.Now().Add(s.tune.WriteTimeout()))
			return conn.WriteMessage(websocket.TextMessage, []byte(protocol.ErrorPacket(code, err.Error())))
		}

		limiter := rate.NewLimiter(rate.Limit(s.tune.ControlsPerSecond), s.tune.ControlBurst)
		s.keepAlive(conn)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			cmd, err := protocol.ParseControl(string(msg))
			if err != nil {
				s.malformed.Add(1)
				if reject(protocol.ErrProtoBadRequest, err) != nil {
					return
				}
				continue
			}
			if !limiter.Allow() {
				s.rateLimited.Add(1)
				if reject(protocol.ErrRateLimit, errors.New("too many commands")) != nil {
					return
				}
				continue
			}
			if err := handle.Submit(ctx, cmd); err != nil {
				if reject(protocol.CodeFor(err), err) != nil {
					return
				}
				if errors.Is(err, engine.ErrStopped) {
					s.closeWith(conn, websocket.CloseGoingAway, "engine stopped")
					return
				}
			}
		}
	}
}
