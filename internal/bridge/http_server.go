package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/devbridge/pkg/ports"
)

// maxBodySize bounds a single JSON-RPC request body.
const maxBodySize = 16 * 1024 * 1024

// HTTPServer exposes the bridge's MCP surface over HTTP instead of stdio.
// POST /mcp carries one JSON-RPC message per request; /mcp/ws upgrades to
// a websocket carrying a message stream; /health reports liveness.
type HTTPServer struct {
	router *mux.Router
	mcp    *server.MCPServer
	bridge *Bridge
	log    *logrus.Entry

	port   int
	server *http.Server

	wsUpgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]time.Time
}

func NewHTTPServer(port int, mcpServer *server.MCPServer, b *Bridge, log *logrus.Entry) *HTTPServer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &HTTPServer{
		router:   mux.NewRouter(),
		mcp:      mcpServer,
		bridge:   b,
		log:      log.WithField("component", "http"),
		port:     port,
		sessions: make(map[string]time.Time),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local development tool
			},
		},
	}
	s.setupRoutes()
	return s
}

func (s *HTTPServer) setupRoutes() {
	s.router.HandleFunc("/mcp", s.handleRequest).Methods("POST")
	s.router.HandleFunc("/mcp/ws", s.handleWebSocket).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Port returns the port the server actually bound, which may differ from
// the requested one when it was taken.
func (s *HTTPServer) Port() int { return s.port }

func (s *HTTPServer) touchSession(id string) {
	s.mu.Lock()
	s.sessions[id] = time.Now()
	s.mu.Unlock()
}

func (s *HTTPServer) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *HTTPServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	s.touchSession(sessionID)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	response := s.mcp.HandleMessage(r.Context(), body)

	w.Header().Set("Mcp-Session-Id", sessionID)
	if response == nil {
		// Notification: nothing to send back.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.log.WithError(err).Debug("Failed to write response")
	}
}

func (s *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sessionID := uuid.New().String()
	s.touchSession(sessionID)
	s.log.WithField("session", sessionID).Debug("WebSocket session opened")

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Debug("WebSocket read error")
			}
			return
		}
		s.touchSession(sessionID)

		response := s.mcp.HandleMessage(r.Context(), message)
		if response == nil {
			continue
		}
		if err := conn.WriteJSON(response); err != nil {
			s.log.WithError(err).Debug("WebSocket write error")
			return
		}
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.bridge.Status(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     "healthy",
		"sessions":   s.sessionCount(),
		"automation": status.Automation.State,
	})
}

// Start binds and serves until Stop is called. When the requested port is
// busy the next free one is used.
func (s *HTTPServer) Start() error {
	availablePort, err := ports.FindAvailable(s.port)
	if err != nil {
		return fmt.Errorf("failed to find available port: %w", err)
	}
	if availablePort != s.port {
		s.log.WithFields(logrus.Fields{"requested": s.port, "actual": availablePort}).
			Info("Requested port busy, using next available")
		s.port = availablePort
	}

	s.server = &http.Server{
		Addr:    ports.Addr(s.port),
		Handler: s.router,
	}
	s.log.WithField("addr", s.server.Addr).Info("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
