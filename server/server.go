// Package server exposes the device connection layer to browser
// front-ends over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"

	"github.com/tudihq/deras-agent/buildinfo"
	"github.com/tudihq/deras-agent/deras"
	"github.com/tudihq/deras-agent/inventory"
	"github.com/tudihq/deras-agent/settings"
)

// WebsocketMessage represents a message pushed to WebSocket consumers.
type WebsocketMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Config holds the server configuration
type Config struct {
	Conn        *deras.Conn
	Settings    *settings.Store
	Inventory   *inventory.Store
	Port        int
	DisableMDNS bool
	Logger      *log.Logger
}

// Server manages the HTTP and WebSocket server
type Server struct {
	config     Config
	logger     *log.Logger
	mux        *http.ServeMux
	httpServer *http.Server
	ctx        context.Context
	cancel     context.CancelFunc

	// Consumer WebSocket management
	clients    map[*websocket.Conn]bool
	clientsMux sync.Mutex
	upgrader   websocket.Upgrader

	// mDNS service for auto-discovery
	mdnsServer *zeroconf.Server
}

// New creates a new server instance
func New(config Config) *Server {
	s := &Server{
		config:  config,
		logger:  config.Logger,
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Browser front-ends connect from file:// and dev hosts
			},
		},
	}
	if s.logger == nil {
		s.logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}
	s.mux = s.buildMux()
	return s
}

// Handler returns the server's HTTP handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	apiV1 := "/api/v1"

	mux.HandleFunc(apiV1+"/health", enableCORS(s.requireMethod(http.MethodGet, s.handleHealthCheck)))
	mux.HandleFunc(apiV1+"/status", enableCORS(s.requireMethod(http.MethodGet, s.handleStatus)))
	mux.HandleFunc(apiV1+"/reads", enableCORS(s.requireMethod(http.MethodGet, s.handleReads)))
	mux.HandleFunc(apiV1+"/reads/latest", enableCORS(s.requireMethod(http.MethodGet, s.handleLatestRead)))
	mux.HandleFunc(apiV1+"/logs", enableCORS(s.requireMethod(http.MethodGet, s.handleLogs)))
	mux.HandleFunc(apiV1+"/connect", enableCORS(s.requireMethod(http.MethodPost, s.handleConnect)))
	mux.HandleFunc(apiV1+"/disconnect", enableCORS(s.requireMethod(http.MethodPost, s.handleDisconnect)))
	mux.HandleFunc(apiV1+"/command", enableCORS(s.requireMethod(http.MethodPost, s.handleCommand)))
	mux.HandleFunc(apiV1+"/registration", enableCORS(s.requireMethod(http.MethodPost, s.handleRegistration)))
	mux.HandleFunc(apiV1+"/inventory", enableCORS(s.requireMethod(http.MethodGet, s.handleInventory)))
	mux.HandleFunc(apiV1+"/settings", enableCORS(s.handleSettings))

	mux.HandleFunc("/ws", enableCORS(s.handleWebSocket))
	mux.HandleFunc("/", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(buildinfo.DisplayName + " Running"))
	}))
	return mux
}

// enableCORS is a middleware that adds CORS headers to responses
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (s *Server) requireMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// Start starts the HTTP server, the consumer broadcast loop, and mDNS
// registration. It returns once the listener is running.
func (s *Server) Start() error {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.mux,
	}

	go s.broadcastLoop(s.ctx)

	httpServer := s.httpServer
	go func() {
		s.logger.Printf("listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("HTTP server error: %v", err)
		}
	}()

	if !s.config.DisableMDNS {
		if err := s.startMDNS(); err != nil {
			s.logger.Printf("mDNS registration failed: %v", err)
			s.logger.Printf("auto-discovery unavailable, continuing without it")
		}
	}

	return nil
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop() {
	if s.mdnsServer != nil {
		s.mdnsServer.Shutdown()
		s.mdnsServer = nil
		s.logger.Printf("mDNS service stopped")
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Printf("shutdown error: %v", err)
		}
		s.httpServer = nil
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// startMDNS registers the bridge as an mDNS service so warehouse
// front-ends can discover it without configuration.
func (s *Server) startMDNS() error {
	txtRecords := []string{
		"version=" + buildinfo.Version,
		"protocol=websocket",
		"path=/ws",
	}

	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain,
		s.config.Port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mdnsServer = server
	s.logger.Printf("mDNS service registered: %s on port %d", MDNSServiceName, s.config.Port)
	return nil
}
