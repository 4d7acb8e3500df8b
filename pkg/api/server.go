package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/tripwire/pkg/engine"
	"github.com/codeready-toolchain/tripwire/pkg/storage"
)

// Server is the HTTP control plane.
type Server struct {
	rules     *storage.RuleStore
	contexts  *storage.ContextStore
	evaluator *engine.Evaluator
	rdb       *redis.Client
	debug     bool
	logger    *slog.Logger
}

// NewServer creates the API server.
func NewServer(rules *storage.RuleStore, contexts *storage.ContextStore, evaluator *engine.Evaluator, rdb *redis.Client, debug bool) *Server {
	return &Server{
		rules:     rules,
		contexts:  contexts,
		evaluator: evaluator,
		rdb:       rdb,
		debug:     debug,
		logger:    slog.Default().With("component", "api"),
	}
}

// Routes builds the gin engine with all routes registered.
func (s *Server) Routes() *gin.Engine {
	if !s.debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.Health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/rules", s.CreateRule)
		v1.GET("/rules", s.ListRules)
		v1.GET("/rules/:id", s.GetRule)
		v1.PUT("/rules/:id", s.UpdateRule)
		v1.DELETE("/rules/:id", s.DeleteRule)
		v1.PATCH("/rules/:id/status", s.SetRuleStatus)
		v1.POST("/rules/validate", s.ValidateRule)
		v1.POST("/rules/test", s.TestRule)
		v1.GET("/rules/:id/history", s.RuleHistory)
	}
	return r
}

// Health reports liveness of the server and its store.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"redis":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
