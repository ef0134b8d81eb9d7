// Package monitor exposes the host's observable state over HTTP: a JSON
// status snapshot, Prometheus metrics, and a websocket that pushes status
// updates to connected frontends.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crft-host/pkg/log"
	"crft-host/pkg/metrics"
	"crft-host/pkg/stream"
)

var logger = log.Component("monitor")

// Status is the wire form of one host snapshot.
type Status struct {
	Connection string `json:"connection"`
	NextLine   int    `json:"next_line"`
	InFlight   int    `json:"in_flight"`
	LastEvent  string `json:"last_event"`
	Playback   string `json:"playback"`
	Index      int    `json:"index"`
	Total      int    `json:"total"`
	Detail     string `json:"detail"`
}

// BuildStatus merges the session and playback snapshots into wire form.
func BuildStatus(ss stream.SessionStatus, ps stream.PlaybackStatus) Status {
	return Status{
		Connection: ss.State.String(),
		NextLine:   ss.NextSeq,
		InFlight:   ss.InFlight,
		LastEvent:  ss.LastEvent,
		Playback:   ps.State.String(),
		Index:      ps.Index,
		Total:      ps.Total,
		Detail:     ps.Status,
	}
}

// StatusFunc supplies the current snapshot. It must be safe to call from
// any goroutine.
type StatusFunc func() Status

// Config holds server settings.
type Config struct {
	// Addr to listen on, e.g. "localhost:7125".
	Addr string

	// PushInterval between websocket status frames. Zero means one
	// second.
	PushInterval time.Duration
}

// Server serves /status, /metrics and /ws.
type Server struct {
	source   StatusFunc
	interval time.Duration

	httpServer *http.Server
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a monitor server reading snapshots from source.
func New(cfg Config, source StatusFunc) *Server {
	interval := cfg.PushInterval
	if interval <= 0 {
		interval = time.Second
	}
	s := &Server{
		source:   source,
		interval: interval,
		clients:  make(map[*websocket.Conn]struct{}),
		stop:     make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	return s
}

// Start serves until Shutdown. It blocks, so callers run it on its own
// goroutine.
func (s *Server) Start() error {
	logger.Info().Str("addr", s.httpServer.Addr).Msg("monitor listening")
	go s.pushLoop()
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the listener and disconnects websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })

	s.mu.Lock()
	for c := range s.clients {
		c.Close()
	}
	s.clients = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.source()); err != nil {
		logger.Warn().Err(err).Msg("encode status")
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	logger.Debug().Int("clients", n).Msg("websocket client connected")

	// Immediate first frame so the client does not wait a full interval.
	s.send(conn, s.source())

	// Drain inbound frames so pings and close frames are processed; the
	// read unblocks with an error when the peer goes away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.drop(conn)
				return
			}
		}
	}()
}

// pushLoop broadcasts the current status to every client on a ticker.
func (s *Server) pushLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		st := s.source()
		s.mu.Lock()
		conns := make([]*websocket.Conn, 0, len(s.clients))
		for c := range s.clients {
			conns = append(conns, c)
		}
		s.mu.Unlock()

		for _, c := range conns {
			s.send(c, st)
		}
	}
}

func (s *Server) send(conn *websocket.Conn, st Status) {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(st); err != nil {
		s.drop(conn)
	}
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	if _, ok := s.clients[conn]; ok {
		delete(s.clients, conn)
		conn.Close()
	}
	s.mu.Unlock()
}
