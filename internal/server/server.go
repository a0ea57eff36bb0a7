package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/roehn/internal/discovery"
	"github.com/muurk/roehn/internal/events"
	"github.com/muurk/roehn/internal/logging"
	"github.com/muurk/roehn/internal/version"
)

// DefaultPort is the feed's HTTP port
const DefaultPort = 8023

// ButtonSource is what the server needs from a processor client
type ButtonSource interface {
	AddButtonListener(h events.Handler) (remove func())
	ButtonSnapshot() []events.ButtonStatus
	ListenerState() events.State
}

// Config holds the server configuration
type Config struct {
	Host      string
	Port      int
	Processor string // Processor host, reported by /healthz and mDNS

	// Advertise announces the feed over mDNS as Instance
	Advertise bool
	Instance  string
}

// Server exposes a processor's button events over HTTP and WebSocket.
type Server struct {
	config *Config
	source ButtonSource
	hub    *Hub
	http   *http.Server
	wg     sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	adv      *discovery.Advertisement
	remove   func()
	started  time.Time
}

// New creates a server publishing events from source
func New(config *Config, source ButtonSource) *Server {
	s := &Server{
		config: config,
		source: source,
		hub:    NewHub(),
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/events", s.serveFeed)
	mux.HandleFunc("GET /api/buttons", s.handleButtons)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Start listens on the configured address and serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	port := s.config.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.started = time.Now()
	s.remove = s.source.AddButtonListener(s.hub.Broadcast)
	s.mu.Unlock()

	logging.Info("Event feed listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("processor", s.config.Processor),
	)

	if s.config.Advertise {
		s.advertise(ln.Addr())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errCh:
		_ = s.Shutdown(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Addr returns the listening address, or nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting connections, disconnects feed clients and waits
// for their goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	remove, adv := s.remove, s.adv
	s.remove, s.adv = nil, nil
	s.mu.Unlock()

	if remove != nil {
		remove()
	}
	adv.Shutdown()

	err := s.http.Shutdown(ctx)
	s.hub.closeAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("Event feed stopped")
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, feed clients still closing")
	}
	return err
}

// ClientCount returns the number of connected feed clients
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

func (s *Server) advertise(addr net.Addr) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return
	}
	instance := s.config.Instance
	if instance == "" {
		host, _ := os.Hostname()
		instance = "roehn-" + host
	}

	adv, err := discovery.Advertise(instance, tcpAddr.Port, map[string]string{
		"processor": s.config.Processor,
		"path":      "/ws/events",
		"version":   version.Version,
		"agent":     version.Agent(),
	})
	if err != nil {
		// The feed works without mDNS
		logging.Warn("mDNS advertisement failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.adv = adv
	s.mu.Unlock()
	logging.Info("Advertising event feed", zap.String("instance", instance), zap.Int("port", tcpAddr.Port))
}

// Health is the /healthz document
type Health struct {
	Processor string `json:"processor"`
	Listener  string `json:"listener"`
	Clients   int    `json:"clients"`
	Uptime    string `json:"uptime"`
	Version   string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	state := s.source.ListenerState()
	status := http.StatusOK
	if state != events.StateConnected {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, Health{
		Processor: s.config.Processor,
		Listener:  state.String(),
		Clients:   s.hub.ClientCount(),
		Uptime:    time.Since(started).Truncate(time.Second).String(),
		Version:   version.Version,
	})
}

func (s *Server) handleButtons(w http.ResponseWriter, _ *http.Request) {
	buttons := s.source.ButtonSnapshot()
	if buttons == nil {
		buttons = []events.ButtonStatus{}
	}
	writeJSON(w, http.StatusOK, buttons)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Failed to write response", zap.Error(err))
	}
}
