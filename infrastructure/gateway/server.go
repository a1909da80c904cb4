// Package gateway accepts WebSocket upgrades on a plain HTTP listener and runs one
// read loop per upgraded socket.
package gateway

import (
	"bufio"
	"chat-gateway/protocol"
	"chat-gateway/runtime"
	"chat-gateway/runtime/workers"
	"chat-gateway/services"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Liveness is the heartbeat bookkeeping of upgraded connections.
type Liveness interface {
	Track(conn *runtime.Connection)
	Forget(conn *runtime.Connection)
}

type StatsSource interface {
	Latest() workers.GatewayStats
}

type Options struct {
	MaxFrameSize int64
	WriteTimeout time.Duration
}

type Server struct {
	ctx      context.Context
	log      *slog.Logger
	registry *runtime.Registry
	liveness Liveness
	handler  services.IRoomEventHandler
	stats    StatsSource
	opts     Options
	mux      *http.ServeMux
	wg       sync.WaitGroup
}

// NewServer builds the gateway handler. ctx bounds every event handled on upgraded
// sockets; it must outlive the HTTP requests since hijacked streams outlive them.
func NewServer(
	ctx context.Context,
	log *slog.Logger,
	registry *runtime.Registry,
	liveness Liveness,
	handler services.IRoomEventHandler,
	opts Options,
) *Server {
	s := &Server{
		ctx:      ctx,
		log:      log,
		registry: registry,
		liveness: liveness,
		handler:  handler,
		opts:     opts,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.health)
	s.mux.HandleFunc("GET /stats", s.statsHandler)
	s.mux.HandleFunc("/", s.notUpgrade)
	return s
}

func (s *Server) WithStats(stats StatsSource) *Server {
	s.stats = stats
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if protocol.IsUpgradeRequest(r) {
		s.upgrade(w, r)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "connection cannot be upgraded"})
		return
	}
	netConn, rw, err := hijacker.Hijack()
	if err != nil {
		s.log.Error("Failed to hijack connection", "remote", r.RemoteAddr, "error", err)
		return
	}

	_, err = rw.Write(protocol.UpgradeResponse(r.Header.Get("Sec-WebSocket-Key")))
	if err == nil {
		err = rw.Flush()
	}
	if err != nil {
		s.log.Warn("Failed to write upgrade response", "remote", r.RemoteAddr, "error", err)
		_ = netConn.Close()
		return
	}
	// Hijack may leave a deadline from the HTTP server behind
	_ = netConn.SetDeadline(time.Time{})

	conn := runtime.NewConnection(uuid.NewString(), netConn, s.opts.WriteTimeout)
	s.registry.Add(conn)
	s.liveness.Track(conn)
	s.log.Debug("Connection upgraded", "connID", conn.ID(), "remote", r.RemoteAddr)

	s.wg.Add(1)
	go s.serve(conn, rw.Reader)
}

// serve handles the frames of one connection in arrival order until the stream ends.
func (s *Server) serve(conn *runtime.Connection, reader *bufio.Reader) {
	defer s.wg.Done()
	defer s.release(conn)

	for {
		raw, err := protocol.ReadFrame(reader, s.opts.MaxFrameSize)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Debug("Stream ended", "connID", conn.ID(), "error", err)
			}
			return
		}

		text, err := protocol.DecodeFrame(raw)
		if errors.Is(err, protocol.ErrCloseFrame) {
			s.log.Debug("Close frame received", "connID", conn.ID())
			return
		}
		if err != nil {
			s.log.Warn("Dropping frame", "connID", conn.ID(), "error", err)
			continue
		}

		if err := s.handler.Handle(s.ctx, conn, text); err != nil {
			s.log.Warn("Dropping event", "connID", conn.ID(), "room", conn.RoomID(), "error", err)
		}
	}
}

func (s *Server) release(conn *runtime.Connection) {
	s.registry.Remove(conn)
	s.liveness.Forget(conn)
	s.handler.Disconnect(s.ctx, conn)
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Debug("Closing connection", "connID", conn.ID(), "error", err)
	}
	s.log.Debug("Connection released", "connID", conn.ID())
}

// Shutdown closes every upgraded socket and waits for the read loops to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	conns := s.registry.Snapshot()
	for _, conn := range conns {
		_ = conn.Close()
	}
	s.log.Info(fmt.Sprintf("Closed %d connection(s)", len(conns)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) statsHandler(w http.ResponseWriter, _ *http.Request) {
	if s.stats == nil {
		writeJSON(w, http.StatusOK, workers.GatewayStats{
			Connections: s.registry.Len(),
			Rooms:       s.registry.Rooms(),
			At:          time.Now().UTC(),
		})
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Latest())
}

func (s *Server) notUpgrade(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Upgrade") != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing or invalid Sec-WebSocket-Key"})
		return
	}
	w.Header().Set("Upgrade", "websocket")
	writeJSON(w, http.StatusUpgradeRequired, map[string]string{"error": "websocket upgrade required"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
