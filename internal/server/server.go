package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/pylonmon/internal/logger"
	"github.com/shaunagostinho/pylonmon/internal/poller"
	"github.com/shaunagostinho/pylonmon/internal/table"
)

// Server publishes poll results to the dashboard and exposes the config API.
type Server struct {
	cfg     *Config
	webFS   fs.FS
	metrics http.Handler
	logger  *logger.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	lastMu sync.RWMutex
	last   *Frame
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Report     table.Report `json:"report"`
	Error      string       `json:"error,omitempty"`
	Kind       string       `json:"kind,omitempty"`
	DurationMs int64        `json:"durationMs"`
	Logging    bool         `json:"logging"`
	Stamp      int64        `json:"stamp"` // Unix ms
}

// New creates a new Server. metrics and rec may be nil.
func New(cfg *Config, webFS fs.FS, metrics http.Handler, rec *logger.Logger) *Server {
	return &Server{
		cfg:     cfg,
		webFS:   webFS,
		metrics: metrics,
		logger:  rec,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Observe implements poller.Observer: the result becomes the latest frame
// and is pushed to every connected client.
func (s *Server) Observe(r poller.Result) {
	frame := &Frame{
		Report:     r.Report,
		DurationMs: r.Duration.Milliseconds(),
		Logging:    s.cfg.LoggingEnabled(),
		Stamp:      r.At.UnixMilli(),
	}
	if r.Err != nil {
		frame.Error = r.Err.Error()
		frame.Kind = r.Kind()
	}

	s.lastMu.Lock()
	s.last = frame
	s.lastMu.Unlock()

	s.broadcast(frame)
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Serve embedded web files
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWS)

	// Latest poll result
	mux.HandleFunc("/api/report", s.handleReport)

	// Config API
	mux.HandleFunc("/api/config", s.handleConfig)

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Run serves HTTP until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) latest() *Frame {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.last
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", n)

	// Send the latest result so the table is filled before the next poll
	if last := s.latest(); last != nil {
		if data, err := json.Marshal(last); err == nil {
			client.send <- data
		}
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (handle incoming messages / keep-alive)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	last := s.latest()
	if last == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	data, err := json.Marshal(last)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Validate(); err != nil {
			log.Printf("[config] update leaves invalid settings: %v", err)
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		// Only the logging toggle applies live, the rest on restart
		if s.logger != nil {
			s.logger.SetEnabled(s.cfg.LoggingEnabled())
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) broadcast(frame *Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
