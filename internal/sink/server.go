// Package sink is a reference webhook receiver. It upserts delivered batches
// into SQLite by (tenant, natural id) and serves them back for inspection.
package sink

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/masahif/oppcrawl/internal/crawler"
	"github.com/masahif/oppcrawl/internal/storage"
)

// maxReplayKeys bounds the idempotency keys remembered for replay
const maxReplayKeys = 1024

// Store is the persistence the sink needs
type Store interface {
	UpsertRecords(ctx context.Context, tenantID, source string, records []crawler.Record) (storage.UpsertStats, error)
	ListRecords(ctx context.Context, tenantID string) ([]storage.StoredRecord, error)
}

// Config configures the HTTP server
type Config struct {
	Addr         string
	Token        string // Bearer token required on /webhook when set
	Debug        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server serves the sink endpoints
type Server struct {
	router *gin.Engine
	server *http.Server
	store  Store
	token  string

	mu      sync.Mutex
	replies map[string]crawler.SinkResponse
	order   []string
}

// NewServer builds the router and HTTP server
func NewServer(cfg Config, store Store) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}

	s := &Server{
		store:   store,
		token:   cfg.Token,
		replies: make(map[string]crawler.SinkResponse),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware())

	router.GET("/healthz", s.health)
	router.POST("/webhook", s.authMiddleware(), s.webhook)
	router.GET("/records", s.authMiddleware(), s.listRecords)

	s.router = router
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Router returns the gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start serves until Shutdown
func (s *Server) Start() error {
	slog.Info("Starting sink server", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) webhook(c *gin.Context) {
	key := c.GetHeader("Idempotency-Key")
	if reply, ok := s.replay(key); ok {
		c.JSON(http.StatusOK, reply)
		return
	}

	var env crawler.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, crawler.SinkResponse{Error: "invalid envelope: " + err.Error()})
		return
	}
	if env.TenantID == "" {
		c.JSON(http.StatusBadRequest, crawler.SinkResponse{Error: "tenantId is required"})
		return
	}
	for i, r := range env.Records {
		if r.NaturalID == "" {
			c.JSON(http.StatusUnprocessableEntity, crawler.SinkResponse{Error: fmt.Sprintf("record %d has no naturalId", i)})
			return
		}
	}

	stats, err := s.store.UpsertRecords(c.Request.Context(), env.TenantID, env.Source, env.Records)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, crawler.SinkResponse{Error: "store failed"})
		return
	}

	reply := crawler.SinkResponse{OK: true, Stats: &crawler.SinkStats{Added: stats.Added, Updated: stats.Updated}}
	s.remember(key, reply)
	slog.Info("Batch stored",
		"tenant_id", env.TenantID,
		"source", env.Source,
		"records", len(env.Records),
		"added", stats.Added,
		"updated", stats.Updated,
		"is_final", env.IsFinal,
	)
	c.JSON(http.StatusOK, reply)
}

func (s *Server) listRecords(c *gin.Context) {
	tenant := c.Query("tenant")
	if tenant == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant query parameter is required"})
		return
	}
	records, err := s.store.ListRecords(c.Request.Context(), tenant)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store failed"})
		return
	}
	if records == nil {
		records = []storage.StoredRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

// replay returns the stored reply for a repeated idempotency key
func (s *Server) replay(key string) (crawler.SinkResponse, bool) {
	if key == "" {
		return crawler.SinkResponse{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.replies[key]
	return r, ok
}

func (s *Server) remember(key string, reply crawler.SinkResponse) {
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.replies[key]; ok {
		return
	}
	if len(s.order) >= maxReplayKeys {
		delete(s.replies, s.order[0])
		s.order = s.order[1:]
	}
	s.replies[key] = reply
	s.order = append(s.order, key)
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.token == "" {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, crawler.SinkResponse{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

// loggerMiddleware logs one line per request
func loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			slog.Error("HTTP request with errors", append(attrs, "errors", c.Errors.String())...)
			return
		}
		slog.Debug("HTTP request", attrs...)
	}
}
