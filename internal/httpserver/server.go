package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tinytelemetry/mapbench/internal/model"
)

// Submitter hands a metadata file to the ingest pipeline. It reports false
// when the pipeline cannot accept more work.
type Submitter interface {
	Submit(env model.IngestEnvelope) bool
}

// Server provides an HTTP API over stored benchmark runs.
type Server struct {
	addr      string
	store     model.ReadAPI
	ingest    Submitter
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server. ingest may be nil, in which case
// POST /api/ingest answers 503.
func NewServer(addr string, store model.ReadAPI, ingest Submitter) *Server {
	if addr == "" {
		addr = "0.0.0.0:3000"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   addr,
		store:  store,
		ingest: ingest,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Server) routes(r *gin.Engine) {
	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/runs", s.handleRuns)
	api.GET("/runs/:id/summary", s.handleRunSummary)
	api.GET("/runs/:id/frames", s.handleRunFrames)
	api.GET("/runs/:id/requests", s.handleRunRequests)
	api.GET("/runs/:id/actions", s.handleRunActions)
	api.GET("/runs/:id/screenshots", s.handleRunScreenshots)
	api.GET("/datasets", s.handleDatasets)
	api.GET("/schema", s.handleSchema)
	api.POST("/query", s.handleQuery)
	api.POST("/ingest", s.handleIngest)
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	s.routes(r)

	s.server = &http.Server{
		Handler:           r,
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	runCount, err := s.store.TotalRunCount()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).String(),
		"run_count": runCount,
	})
}

func (s *Server) handleRuns(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 10000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer between 1 and 10000"})
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (s *Server) handleRunSummary(c *gin.Context) {
	rows, err := s.store.SummaryRows(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read summary"})
		return
	}
	// Every stored run has at least the zoom level 0 row.
	if len(rows) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": c.Param("id"), "summary": rows})
}

func (s *Server) handleRunFrames(c *gin.Context) {
	frames, err := s.store.FrameRecords(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read frames"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": c.Param("id"), "frames": frames, "count": len(frames)})
}

func (s *Server) handleRunRequests(c *gin.Context) {
	requests, err := s.store.RequestRecords(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read requests"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": c.Param("id"), "requests": requests, "count": len(requests)})
}

func (s *Server) handleRunActions(c *gin.Context) {
	actions, err := s.store.ActionRecords(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read actions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": c.Param("id"), "actions": actions})
}

func (s *Server) handleRunScreenshots(c *gin.Context) {
	scores, err := s.store.ScreenshotScores(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read screenshots"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": c.Param("id"), "screenshots": scores, "count": len(scores)})
}

func (s *Server) handleDatasets(c *gin.Context) {
	stats, err := s.store.DatasetStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate datasets"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"datasets": stats})
}

func (s *Server) handleSchema(c *gin.Context) {
	description := s.store.GetSchemaDescription()

	tables, err := s.store.ExecuteQuery(
		"SELECT table_name, column_name, data_type FROM information_schema.columns WHERE table_schema = 'main' ORDER BY table_name, ordinal_position",
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read schema metadata"})
		return
	}

	schema := make(map[string][]map[string]string)
	for _, row := range tables {
		tableName := fmt.Sprintf("%v", row["table_name"])
		schema[tableName] = append(schema[tableName], map[string]string{
			"column": fmt.Sprintf("%v", row["column_name"]),
			"type":   fmt.Sprintf("%v", row["data_type"]),
		})
	}

	counts, err := s.store.TableRowCounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read table row counts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"description": description,
		"tables":      schema,
		"row_counts":  counts,
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req struct {
		SQL string `json:"sql" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing sql field"})
		return
	}

	results, err := s.store.ExecuteQuery(req.SQL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var columns []string
	if len(results) > 0 {
		for col := range results[0] {
			columns = append(columns, col)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"columns":   columns,
		"rows":      results,
		"row_count": len(results),
	})
}

func (s *Server) handleIngest(c *gin.Context) {
	if s.ingest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingest is not enabled"})
		return
	}
	var req struct {
		Path string `json:"path" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing path field"})
		return
	}
	if !s.ingest.Submit(model.IngestEnvelope{Source: "api", Path: req.Path}) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "ingest queue is full"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "path": req.Path})
}
