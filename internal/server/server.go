package server

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shaunagostinho/luminox-dash/internal/logger"
	"github.com/shaunagostinho/luminox-dash/internal/luminox"
	"github.com/shaunagostinho/luminox-dash/internal/output"
)

// Server polls the sensor and broadcasts readings to WebSocket clients.
type Server struct {
	cfg     *Config
	sensor  luminox.Provider
	webFS   fs.FS
	logger  *logger.Logger
	outputs []output.Output

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	lastMu sync.RWMutex
	last   *luminox.Reading
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Sensor    *luminox.Reading `json:"sensor,omitempty"`
	Config    *DisplayConfig   `json:"config,omitempty"`
	Connected bool             `json:"connected"`
	Stamp     int64            `json:"stamp"` // Unix ms
}

// New creates a new Server. outputs receive every reading and are closed
// when Run returns.
func New(cfg *Config, sensor luminox.Provider, webFS fs.FS, outputs ...output.Output) *Server {
	return &Server{
		cfg:    cfg,
		sensor: sensor,
		webFS:  webFS,
		logger: logger.New(logger.Config{
			Enabled:    cfg.Logging.Enabled,
			Path:       cfg.Logging.Path,
			IntervalMs: cfg.Logging.Interval,
		}),
		outputs: outputs,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes of the dashboard.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Serve embedded web files
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWS)

	// Config API
	mux.HandleFunc("/api/config", s.handleConfig)

	// Sensor API
	mux.HandleFunc("/api/reading", s.handleReading)
	mux.HandleFunc("/api/info", s.handleInfo)
	mux.HandleFunc("/api/debug", s.handleDebug)

	return mux
}

// Run starts the HTTP server and the sensor polling loop. It returns once
// both have stopped, so the caller may close the sensor afterwards.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		s.pollLoop(ctx)
	}()

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	err := srv.ListenAndServe()

	// Let an in-flight read finish and the outputs close.
	cancel()
	<-pollDone

	if err == http.ErrServerClosed {
		return nil
	}
	return err
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

	// Send display config and the latest reading
	s.cfg.mu.RLock()
	display := s.cfg.Display
	s.cfg.mu.RUnlock()

	cfgFrame := Frame{
		Sensor:    s.lastReading(),
		Config:    &display,
		Connected: s.sensor != nil && s.sensor.IsConnected(),
		Stamp:     time.Now().UnixMilli(),
	}
	if data, err := json.Marshal(cfgFrame); err == nil {
		client.send <- data
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
			_, _, err := conn.ReadMessage()
			if err != nil {
				break
			}
		}
	}()
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
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}

		s.cfg.mu.RLock()
		display := s.cfg.Display
		logging := s.cfg.Logging.Enabled
		debug := s.cfg.Sensor.Debug
		s.cfg.mu.RUnlock()

		s.logger.SetEnabled(logging)
		if s.sensor != nil {
			s.sensor.SetDebug(debug)
		}

		// Broadcast updated config
		s.broadcast(Frame{
			Config:    &display,
			Connected: s.sensor != nil && s.sensor.IsConnected(),
			Stamp:     time.Now().UnixMilli(),
		})

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) handleReading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	last := s.lastReading()
	if last == nil {
		http.Error(w, "no reading yet", 404)
		return
	}
	writeJSON(w, last)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	resp := map[string]interface{}{"connected": false}
	if s.sensor != nil {
		resp["name"] = s.sensor.Name()
		resp["connected"] = s.sensor.IsConnected()
		resp["info"] = s.sensor.Info()
	}
	writeJSON(w, resp)
}

// handleDebug reports or toggles the sensor protocol trace.
// POST /api/debug?on=true|false
func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		on, err := strconv.ParseBool(r.URL.Query().Get("on"))
		if err != nil {
			http.Error(w, "on must be a boolean", 400)
			return
		}
		s.cfg.mu.Lock()
		s.cfg.Sensor.Debug = on
		s.cfg.mu.Unlock()
		if s.sensor != nil {
			s.sensor.SetDebug(on)
		}
		log.Printf("[server] sensor debug trace %v", on)
	default:
		http.Error(w, "method not allowed", 405)
		return
	}

	s.cfg.mu.RLock()
	on := s.cfg.Sensor.Debug
	s.cfg.mu.RUnlock()
	writeJSON(w, map[string]bool{"debug": on})
}

// pollLoop is the only goroutine that talks to the sensor. Each completed
// read is broadcast, logged and published, whatever its verdict.
func (s *Server) pollLoop(ctx context.Context) {
	s.cfg.mu.RLock()
	interval := time.Duration(s.cfg.Poll.IntervalMs) * time.Millisecond
	s.cfg.mu.RUnlock()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	defer func() {
		s.logger.Close()
		for _, o := range s.outputs {
			if err := o.Close(); err != nil {
				log.Printf("[server] output close: %v", err)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce()
		}
	}
}

func (s *Server) pollOnce() {
	if s.sensor == nil || !s.sensor.IsConnected() {
		return
	}
	r, err := s.sensor.RequestData()
	if err != nil {
		log.Printf("[server] sensor request: %v", err)
		return
	}
	if !r.Valid {
		log.Printf("[server] invalid reading: status=%q error=%q raw=%q", r.Status, r.Error, r.Raw)
	}

	s.lastMu.Lock()
	s.last = r
	s.lastMu.Unlock()

	s.broadcast(Frame{
		Sensor:    r,
		Connected: true,
		Stamp:     time.Now().UnixMilli(),
	})
	s.logger.Record(r)
	for _, o := range s.outputs {
		if err := o.Publish(*r); err != nil {
			log.Printf("[server] publish: %v", err)
		}
	}
}

func (s *Server) lastReading() *luminox.Reading {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.last
}

func (s *Server) broadcast(frame Frame) {
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

func writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
