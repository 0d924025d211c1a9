// Package transport owns the HTTP listener, the WebSocket upgrade path, and
// the per-connection read/write loops.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cliffcho242/hiremebahamas-realtime/internal/auth"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/config"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/dispatch"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/event"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/metrics"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/session"
)

// Server accepts WebSocket connections, runs the handshake gate, and pumps
// frames between clients and the session layer. One reader and one writer
// goroutine per connection; a slow client never stalls anyone else.
type Server struct {
	cfg        config.Config
	log        zerolog.Logger
	gate       *auth.Gate
	hub        *session.Hub
	dispatcher *dispatch.Dispatcher

	httpServer   *http.Server
	listener     net.Listener
	sem          chan struct{}
	stats        *procStats
	shuttingDown atomic.Bool
	wg           sync.WaitGroup
}

func NewServer(cfg config.Config, log zerolog.Logger, gate *auth.Gate, hub *session.Hub, dispatcher *dispatch.Dispatcher) *Server {
	return &Server{
		cfg:        cfg,
		log:        log.With().Str("component", "transport").Logger(),
		gate:       gate,
		hub:        hub,
		dispatcher: dispatcher,
		sem:        make(chan struct{}, cfg.MaxConnections),
		stats:      newProcStats(),
	}
}

// Start begins listening and serving. Non-blocking; Shutdown tears it down.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/internal/dispatch", s.handleDispatch)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Handler:        mux,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("http server error")
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.stats.run(ctx)
	}()

	s.log.Info().Str("addr", s.cfg.Addr).Msg("transport listening")
	return nil
}

// Shutdown stops accepting connections, drains live sessions within the
// configured grace window, and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shuttingDown.Store(true)

	drainCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownGrace)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.hub.Drain("server_shutdown")
		close(done)
	}()
	select {
	case <-done:
	case <-drainCtx.Done():
		s.log.Warn().Msg("drain grace period expired")
	}

	err := s.httpServer.Shutdown(drainCtx)
	s.wg.Wait()
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	claims, err := s.gate.Admit(r)
	if err != nil {
		metrics.ConnectionsRejected.WithLabelValues("auth").Inc()
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("handshake rejected")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	select {
	case s.sem <- struct{}{}:
	default:
		metrics.ConnectionsRejected.WithLabelValues("capacity").Inc()
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		<-s.sem
		metrics.ConnectionsRejected.WithLabelValues("upgrade").Inc()
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	sess := session.NewSession(uuid.NewString(), claims.UserID, s.cfg.SendQueueSize)
	sess.SetCloser(func() { _ = conn.Close() })

	s.hub.AddSession(sess)
	// Every session lives in its owner's notification room for the whole
	// connection lifetime.
	if err := s.hub.Rooms().Join(sess.ID, event.UserRoom(claims.UserID)); err != nil {
		s.log.Debug().Err(err).Str("session_id", sess.ID).Msg("default room join failed")
	}

	s.sendFrame(sess, event.KindConnectAck, map[string]any{
		"session_id":  sess.ID,
		"user_id":     claims.UserID,
		"server_time": time.Now().UnixMilli(),
	})

	limiter := rate.NewLimiter(rate.Limit(s.cfg.InboundRate), s.cfg.InboundBurst)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.writePump(sess, conn)
	}()
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		s.readPump(sess, conn, limiter)
	}()
}

func (s *Server) readPump(sess *session.Session, conn net.Conn, limiter *rate.Limiter) {
	defer s.hub.DropSession(sess.ID, "client_disconnect")

	timeout := s.cfg.HeartbeatTimeout()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))

		msg, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			s.log.Debug().Err(err).Str("session_id", sess.ID).Msg("read ended")
			return
		}

		switch op {
		case ws.OpText:
			if !limiter.Allow() {
				s.rejectRateLimited(sess)
				continue
			}
			s.handleFrame(sess, msg)
		case ws.OpPing:
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := wsutil.WriteServerMessage(conn, ws.OpPong, nil); err != nil {
				return
			}
			s.hub.Registry().Touch(sess.ID)
		case ws.OpPong:
			s.hub.Registry().Touch(sess.ID)
		case ws.OpClose:
			return
		}
	}
}

func (s *Server) writePump(sess *session.Session, conn net.Conn) {
	// Protocol-level pings provoke pongs from clients that never send
	// application-level heartbeats. Must fire well inside the reap timeout.
	pingPeriod := s.cfg.HeartbeatInterval * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-sess.SendQueue():
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
				_ = wsutil.WriteServerMessage(conn, ws.OpClose, nil)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := wsutil.WriteServerMessage(conn, ws.OpText, data); err != nil {
				s.log.Debug().Err(err).Str("session_id", sess.ID).Msg("write failed")
				s.hub.DropSession(sess.ID, "write_error")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := wsutil.WriteServerMessage(conn, ws.OpPing, nil); err != nil {
				s.hub.DropSession(sess.ID, "write_error")
				return
			}
		}
	}
}

// rejectRateLimited drops an inbound frame that exceeded the session's rate
// budget and tells the client, best-effort, so well-behaved clients can back
// off instead of guessing why messages vanish.
func (s *Server) rejectRateLimited(sess *session.Session) {
	metrics.RateLimitedFrames.Inc()
	s.log.Debug().Str("session_id", sess.ID).Msg("inbound frame rate limited")
	s.sendFrame(sess, event.KindError, map[string]any{
		"code":    "rate_limited",
		"message": "too many messages, slow down",
	})
}

// sendFrame best-effort enqueues an outbound frame on the session.
func (s *Server) sendFrame(sess *session.Session, kind event.Kind, data any) {
	frame, err := event.EncodeFrame(kind, data)
	if err != nil {
		s.log.Error().Err(err).Str("kind", kind.String()).Msg("failed to encode frame")
		return
	}
	sess.Enqueue(frame)
}

// handleDispatch is the internal entry point the CRUD/API layer calls to
// push a domain event (new like, comment, follow, job application, chat
// message) to its live targets.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.gate.Admit(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Target  string          `json:"target"`
		Kind    event.Kind      `json:"event_kind"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	if !req.Kind.Known() || !event.ValidRoom(req.Target) {
		http.Error(w, "unknown event kind or invalid target", http.StatusBadRequest)
		return
	}

	s.dispatcher.Dispatch(req.Target, req.Kind, req.Payload)
	w.WriteHeader(http.StatusAccepted)
}
