// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package server is the chat surface: it accepts one free-text question
// per turn and streams the pipeline's transcript snapshots back over
// WebSocket, with a one-shot REST endpoint for non-streaming callers.
// Implements: prd005-chat (R1-R4);
//
//	docs/ARCHITECTURE § Chat surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/advisor-engine/internal/pipeline"
	"github.com/pdiddy/advisor-engine/pkg/types"
)

const (
	// writeWait bounds one frame write on the socket.
	writeWait = 10 * time.Second

	// maxQuestionBytes bounds an inbound question frame.
	maxQuestionBytes = 8 << 10
)

// pongWait is how long a connection may stay silent before it is
// considered dead; pings go out at pingPeriod to keep it alive.
// Variables so tests can shrink them instead of sleeping a minute.
var (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Server exposes the pipeline over HTTP.
type Server struct {
	pipe     *pipeline.Pipeline
	cfg      types.ServerConfig
	logger   *zap.Logger
	metrics  http.Handler
	upgrader websocket.Upgrader
}

// New builds the chat surface. metricsHandler serves /metrics; nil
// disables the endpoint.
func New(pipe *pipeline.Pipeline, cfg types.ServerConfig, logger *zap.Logger, metricsHandler http.Handler) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		pipe:    pipe,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "server")),
		metrics: metricsHandler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("GET /ws", s.handleWS)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Run serves until ctx is canceled, then drains within the configured
// shutdown timeout. In-flight turns are canceled through their request
// contexts when the listener closes (R4.1, R4.2).
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("server shutdown", zap.Error(err))
			_ = srv.Close()
		}
		return nil
	})
	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// askRequest is the one-question envelope shared by /ask and /ws.
type askRequest struct {
	Question string `json:"question"`
}

// handleAsk runs one turn to completion and returns the terminal
// snapshot: transcript, report or degraded error, and the plan.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQuestionBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}

	final := s.pipe.RunCollect(r.Context(), req.Question)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(final); err != nil {
		s.logger.Warn("writing ask response", zap.Error(err))
	}
}

// wsError is pushed to the client when a frame cannot start a turn.
type wsError struct {
	Error string `json:"error"`
}

// handleWS speaks the streaming protocol: the client sends one
// {"question": ...} frame per turn and receives every snapshot as JSON,
// ending with the terminal snapshot (done=true). The connection then
// accepts the next question. A dropped connection cancels the turn in
// flight (R2.1-R2.4).
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// One writer goroutine owns the socket: snapshots, errors, and
	// keepalive pings all go through out.
	out := make(chan any, 16)
	writerDone := make(chan struct{})
	go s.writeLoop(conn, out, writerDone)

	defer func() {
		close(out)
		<-writerDone
		_ = conn.Close()
	}()

	// The read pump owns the socket's read side for the connection's
	// whole life, so pongs keep the deadline fresh during long turns
	// and a dropped connection surfaces immediately: its read error
	// cancels ctx, which winds down the turn in flight.
	questions := make(chan askRequest)
	go s.readLoop(ctx, cancel, conn, questions)

	for {
		var req askRequest
		select {
		case <-ctx.Done():
			return
		case q, ok := <-questions:
			if !ok {
				return
			}
			req = q
		}

		if strings.TrimSpace(req.Question) == "" {
			if !send(ctx, out, wsError{Error: "question is required"}) {
				return
			}
			continue
		}

		// Turns are serialized per connection; the next question is
		// picked up after this turn's terminal snapshot.
		for snap := range s.pipe.Run(ctx, req.Question) {
			if !send(ctx, out, snap) {
				return
			}
		}
	}
}

// readLoop pumps inbound frames for the connection's lifetime. Any read
// error, including the client dropping without a close handshake,
// cancels the connection context so a turn in flight stops instead of
// burning model quota (R2.4).
func (s *Server) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, questions chan<- askRequest) {
	defer cancel()
	defer close(questions)

	conn.SetReadLimit(maxQuestionBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req askRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket closed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		select {
		case questions <- req:
			// A question pipelined behind a running turn waits on the
			// send; refresh the deadline that wait consumed.
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		case <-ctx.Done():
			return
		}
	}
}

// send queues one frame for the writer, giving up when the connection
// context ends.
func send(ctx context.Context, out chan<- any, frame any) bool {
	select {
	case out <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

// writeLoop owns all writes on conn, interleaving queued frames with
// keepalive pings. It exits when out closes or a write fails; a failed
// write closes the connection, which unblocks the read loop.
func (s *Server) writeLoop(conn *websocket.Conn, out <-chan any, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-out:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
