package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/btsentry/btsentry/internal/config"
	"github.com/btsentry/btsentry/internal/core"
	"github.com/btsentry/btsentry/internal/logger"
	"github.com/btsentry/btsentry/pkg/report"
	"github.com/btsentry/btsentry/pkg/types"
)

// Server is the REST and WebSocket bridge between the desktop UI and
// the assessment engine. It exposes discovery, scenario supervision,
// session reads and the audit trail; scenario authorization still goes
// through the gate wired into the runner.
type Server struct {
	cfg        *config.Config
	runner     core.ScenarioRunner
	scanner    core.Scanner
	store      core.ResultStore
	trail      core.AuditTrail
	sink       core.SessionSink
	summarizer core.Summarizer
	hub        *Hub
	log        *logger.Logger

	router   *gin.Engine
	upgrader websocket.Upgrader
}

func NewServer(
	cfg *config.Config,
	runner core.ScenarioRunner,
	scanner core.Scanner,
	store core.ResultStore,
	trail core.AuditTrail,
	sink core.SessionSink,
	summarizer core.Summarizer,
	hub *Hub,
	log *logger.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:        cfg,
		runner:     runner,
		scanner:    scanner,
		store:      store,
		trail:      trail,
		sink:       sink,
		summarizer: summarizer,
		hub:        hub,
		log:        log.WithComponent("api"),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			// Loopback-only server; the CORS middleware guards the
			// REST side, same policy here.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggingMiddleware(s.log))
	router.Use(CORSMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/status", s.handleStatus)
		apiGroup.POST("/scan", s.handleScan)
		apiGroup.GET("/devices", s.handleDevices)
		apiGroup.GET("/enumerate/:mac", s.handleEnumerate)
		apiGroup.POST("/scenarios", s.handleSubmit)
		apiGroup.GET("/scenarios", s.handleScenarios)
		apiGroup.GET("/scenarios/:id", s.handleScenarioStatus)
		apiGroup.POST("/scenarios/:id/cancel", s.handleCancel)
		apiGroup.GET("/sessions", s.handleSessions)
		apiGroup.GET("/sessions/:id", s.handleSession)
		apiGroup.GET("/audit", s.handleAudit)
		apiGroup.POST("/report", s.handleReport)
		apiGroup.POST("/ai/summarize", s.handleSummarize)
	}

	router.GET("/ws/events", s.handleEvents)

	s.router = router
	return s
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Infow("API server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected":    true,
		"ethical_mode": s.cfg.Attacks.EthicalMode,
		"adapter":      s.cfg.Bluetooth.Adapter,
		"session_id":   s.sink.Snapshot().ID,
	})
}

type scanRequest struct {
	DurationSeconds int `json:"duration"`
}

func (s *Server) handleScan(c *gin.Context) {
	var req scanRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	duration := time.Duration(req.DurationSeconds) * time.Second
	devices, err := s.scanner.Scan(c.Request.Context(), duration)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.sink.RecordDiscovery(devices)

	c.JSON(http.StatusOK, gin.H{"devices": devices, "count": len(devices)})
}

func (s *Server) handleDevices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": s.sink.Snapshot().Devices})
}

func (s *Server) handleEnumerate(c *gin.Context) {
	result, err := s.scanner.EnumerateServices(c.Request.Context(), c.Param("mac"))
	if err != nil {
		status := http.StatusInternalServerError
		if types.IsValidation(err) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

type scenarioSubmission struct {
	Kind            string            `json:"kind"`
	Target          string            `json:"target"`
	DurationSeconds int               `json:"duration"`
	Parameters      map[string]string `json:"parameters"`
	RequestedBy     string            `json:"requested_by"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req scenarioSubmission
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.RequestedBy == "" {
		req.RequestedBy = "ui-operator"
	}

	id, err := s.runner.Submit(types.ScenarioRequest{
		Kind:        types.ScenarioKind(req.Kind),
		Target:      req.Target,
		Duration:    time.Duration(req.DurationSeconds) * time.Second,
		Parameters:  req.Parameters,
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if types.IsValidation(err) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (s *Server) handleScenarios(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scenarios": s.sink.Snapshot().Scenarios})
}

func (s *Server) handleScenarioStatus(c *gin.Context) {
	snap, err := s.runner.Status(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleCancel(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"id":        c.Param("id"),
		"cancelled": s.runner.Cancel(c.Param("id")),
	})
}

func (s *Server) handleSessions(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	sessions, err := s.store.ListSessions(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) handleSession(c *gin.Context) {
	record, err := s.store.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleAudit(c *gin.Context) {
	entries, err := s.trail.ReadAll()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if raw := c.Query("tail"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && len(entries) > n {
			entries = entries[len(entries)-n:]
		}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) handleReport(c *gin.Context) {
	gen, err := report.NewGenerator(s.cfg.Reporting.OutputDirectory)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	record := s.sink.Snapshot()
	var summary string
	if s.summarizer != nil {
		if text, err := s.summarizer.SummarizeSession(c.Request.Context(), record); err == nil {
			summary = text
		}
	}

	path, err := gen.Generate(record, summary)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "format": "html"})
}

func (s *Server) handleSummarize(c *gin.Context) {
	if s.summarizer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "summarization is not enabled"})
		return
	}
	summary, err := s.summarizer.SummarizeSession(c.Request.Context(), s.sink.Snapshot())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

func (s *Server) handleEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnw("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)

	// The client never sends application data; the read loop only
	// notices the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt := <-ch:
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
