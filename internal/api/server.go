// Package api serves the findings dashboard API.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/engine"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/simulation"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/store"
)

// Auditor runs an on-demand audit. *engine.Auditor satisfies it.
type Auditor interface {
	Audit(ctx context.Context, kind models.ResourceKind, name, region, accountID string) engine.AuditResult
}

// Simulator creates and removes demo resources. *simulation.Simulator
// satisfies it.
type Simulator interface {
	CreateVulnerableBucket(ctx context.Context) (*simulation.Simulation, error)
	Cleanup(ctx context.Context, name string) (simulation.CleanupResult, error)
}

// Service holds the handler dependencies. Auditor and Simulator are
// optional; their routes answer 503 when unset.
type Service struct {
	Repo      store.Repository
	Auditor   Auditor
	Simulator Simulator
	Logger    *slog.Logger

	now func() time.Time
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// NewRouter returns the gin engine with every route registered.
func NewRouter(s *Service, corsOrigins []string) *gin.Engine {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLogger(s.Logger))
	r.Use(cors.New(corsConfig(corsOrigins)))

	RegisterHandlers(r, s)
	return r
}

// corsConfig allows every origin when origins is empty or contains "*".
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Length", "Content-Type", "Authorization", requestIDHeader},
		ExposeHeaders: []string{"Content-Length", requestIDHeader},
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// RegisterHandlers mounts the API under /api.
func RegisterHandlers(r gin.IRouter, s *Service) {
	g := r.Group("/api")
	g.GET("/health", s.Health)
	g.GET("/findings", s.ListFindings)
	g.GET("/findings/timeline", s.Timeline)
	g.GET("/findings/:id", s.GetFinding)
	g.PUT("/findings/:id/status", s.UpdateStatus)
	g.GET("/stats", s.Stats)
	g.POST("/audit/bucket/:name", s.AuditBucket)
	g.POST("/audit/key/:id", s.AuditKey)
	g.POST("/simulate/s3", s.SimulateS3)
	g.POST("/simulate/cleanup", s.SimulateCleanup)
}

// NewHTTPServer wraps handler in an http.Server listening on addr.
func NewHTTPServer(handler http.Handler, addr string) *http.Server {
	return &http.Server{
		Handler:           handler,
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
