// Package api serves the operation over HTTP and pushes the change feed over
// a websocket.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gabe/swarm/internal/feed"
	"github.com/gabe/swarm/internal/manager"
	"github.com/gabe/swarm/internal/report"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// client is one websocket connection; writes are serialized by mu
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Server holds the API dependencies and routes
type Server struct {
	engine *gin.Engine
	mgr    *manager.Manager
	hub    *feed.Hub
	title  string
	logger *log.Logger

	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*client]bool
}

// New creates a server. hub may be nil, in which case /ws only sends the
// initial snapshot.
func New(mgr *manager.Manager, hub *feed.Hub, title string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine: engine,
		mgr:    mgr,
		hub:    hub,
		title:  title,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Dashboard may be served from anywhere on the local machine
			},
		},
		clients: make(map[*client]bool),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "agents": s.mgr.Count()})
	})

	v1 := s.engine.Group("/api/v1")
	{
		agents := v1.Group("/agents")
		{
			agents.GET("", s.listAgents)
			agents.GET("/:id", s.getAgent)
			agents.GET("/:id/instructions", s.getInstructions)
			agents.POST("/:id/pause", s.pauseAgent)
			agents.POST("/:id/resume", s.resumeAgent)
			agents.POST("/:id/stop", s.stopAgent)
			agents.DELETE("/:id", s.deleteAgent)
		}

		findings := v1.Group("/findings")
		{
			findings.GET("", s.listFindings)
			findings.GET("/summary", s.findingsSummary)
		}

		v1.GET("/knowledge/:target", s.getKnowledge)
		v1.GET("/ratelimit/:model", s.getRateStatus)
		v1.GET("/report", s.getReport)
		v1.GET("/stats", s.getStats)
		v1.GET("/resources", s.getResources)
	}

	s.engine.GET("/ws", s.handleWebSocket)
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	go s.pump(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Printf("API: listening on %s\n", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeClients()
		return srv.Shutdown(shutdownCtx)
	}
}

// writeError maps manager errors onto status codes
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, manager.ErrAgentNotFound) {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// Agent handlers

func (s *Server) listAgents(c *gin.Context) {
	c.JSON(http.StatusOK, s.mgr.GetAllAgents())
}

func (s *Server) getAgent(c *gin.Context) {
	snap, err := s.mgr.GetStatus(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getInstructions(c *gin.Context) {
	w, err := s.mgr.Worker(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, w.Instructions())
}

func (s *Server) pauseAgent(c *gin.Context) {
	s.control(c, s.mgr.Pause)
}

func (s *Server) resumeAgent(c *gin.Context) {
	s.control(c, s.mgr.Resume)
}

func (s *Server) stopAgent(c *gin.Context) {
	s.control(c, s.mgr.Stop)
}

func (s *Server) deleteAgent(c *gin.Context) {
	if err := s.mgr.DeleteAgent(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) control(c *gin.Context, fn func(id string) error) {
	id := c.Param("id")
	if err := fn(id); err != nil {
		writeError(c, err)
		return
	}
	snap, err := s.mgr.GetStatus(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Finding handlers

func (s *Server) listFindings(c *gin.Context) {
	findings, err := s.mgr.GetFindings(c.Query("agent"))
	if err != nil {
		writeError(c, err)
		return
	}
	if sev := c.Query("severity"); sev != "" {
		filtered := findings[:0]
		for _, f := range findings {
			if string(f.Severity) == sev {
				filtered = append(filtered, f)
			}
		}
		findings = filtered
	}
	c.JSON(http.StatusOK, findings)
}

func (s *Server) findingsSummary(c *gin.Context) {
	summary := s.mgr.GetSeveritySummary()
	c.JSON(http.StatusOK, gin.H{"summary": summary, "total": summary.Total()})
}

func (s *Server) getKnowledge(c *gin.Context) {
	c.JSON(http.StatusOK, s.mgr.TargetSummary(c.Param("target")))
}

func (s *Server) getRateStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.mgr.RateStatus(c.Param("model")))
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.mgr.Stats())
}

func (s *Server) getResources(c *gin.Context) {
	view, err := s.mgr.Resources(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) getReport(c *gin.Context) {
	format, err := report.ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var buf bytes.Buffer
	if err := report.Render(&buf, s.mgr.Report(s.title), format); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

// WebSocket

// wsMessage is the envelope pushed to websocket clients
type wsMessage struct {
	Type    string `json:"type"`
	AgentID string `json:"agent_id,omitempty"`
	Payload any    `json:"payload"`
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	cl := &client{conn: conn}

	s.clientsMu.Lock()
	s.clients[cl] = true
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, cl)
		s.clientsMu.Unlock()
		conn.Close()
	}()

	data, _ := json.Marshal(wsMessage{Type: "initial_state", Payload: s.mgr.GetAllAgents()})
	if err := cl.send(data); err != nil {
		return
	}

	// Read until the client goes away; incoming messages are ignored
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pump forwards feed events to every websocket client until ctx is done
func (s *Server) pump(ctx context.Context) {
	if s.hub == nil {
		return
	}
	events := s.hub.Subscribe("api")
	defer s.hub.Unsubscribe("api")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.broadcast(ev)
		}
	}
}

func (s *Server) broadcast(ev feed.Event) {
	data, err := json.Marshal(wsMessage{Type: string(ev.Type), AgentID: ev.AgentID, Payload: ev.Payload})
	if err != nil {
		s.logger.Printf("API: failed to encode %s event: %v\n", ev.Type, err)
		return
	}

	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for cl := range s.clients {
		clients = append(clients, cl)
	}
	s.clientsMu.RUnlock()

	for _, cl := range clients {
		if err := cl.send(data); err != nil {
			cl.conn.Close()
		}
	}
}

func (s *Server) closeClients() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for cl := range s.clients {
		cl.conn.Close()
	}
}
