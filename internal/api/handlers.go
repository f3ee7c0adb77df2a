package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/simulation"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/store"
)

const (
	defaultTimelineDays = 30
	recentWindow        = 7 * 24 * time.Hour
	serviceStatsLimit   = 10
)

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

func respondError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{"error": ErrorBody{Code: code, Message: message, RequestID: GetRequestID(c)}})
}

// storeError maps a repository error to a response.
func storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(c, http.StatusNotFound, "finding not found")
	case errors.Is(err, store.ErrNotInitialized):
		respondError(c, http.StatusServiceUnavailable, "database not connected")
	default:
		respondError(c, http.StatusInternalServerError, err.Error())
	}
}

// intQuery parses an optional positive integer query parameter.
func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		respondError(c, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return n, true
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

// Health handles GET /api/health.
func (s *Service) Health(c *gin.Context) {
	mongo := "connected"
	if _, err := s.Repo.CountMatching(c.Request.Context(), store.Filter{}); err != nil {
		mongo = "disconnected"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"mongodb":   mongo,
		"timestamp": s.clock().UTC().Format(time.RFC3339),
	})
}

// ListFindings handles GET /api/findings.
func (s *Service) ListFindings(c *gin.Context) {
	page, ok := intQuery(c, "page", 1)
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit", store.DefaultPageLimit)
	if !ok {
		return
	}
	p := store.Page{Page: page, Limit: limit}.Normalize()
	f := store.Filter{
		Severity: c.Query("severity"),
		Service:  c.Query("service"),
		Status:   c.Query("status"),
		Search:   c.Query("search"),
	}

	items, total, err := s.Repo.List(c.Request.Context(), f, p)
	if err != nil {
		storeError(c, err)
		return
	}
	if items == nil {
		items = []models.StoredFinding{}
	}
	c.JSON(http.StatusOK, gin.H{
		"findings": items,
		"pagination": Pagination{
			Page:  p.Page,
			Limit: p.Limit,
			Total: total,
			Pages: (total + int64(p.Limit) - 1) / int64(p.Limit),
		},
	})
}

// GetFinding handles GET /api/findings/:id. The id is the store id or the
// deterministic finding id.
func (s *Service) GetFinding(c *gin.Context) {
	sf, err := s.Repo.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sf)
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus handles PUT /api/findings/:id/status.
func (s *Service) UpdateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status == "" {
		respondError(c, http.StatusBadRequest, "status is required")
		return
	}
	status := models.FindingStatus(req.Status)
	if !status.Valid() {
		respondError(c, http.StatusBadRequest, "status must be one of: Open, In Progress, Resolved")
		return
	}
	if err := s.Repo.UpdateStatus(c.Request.Context(), c.Param("id"), status); err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Status updated successfully"})
}

// Stats handles GET /api/stats.
func (s *Service) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	total, err := s.Repo.CountMatching(ctx, store.Filter{})
	if err != nil {
		storeError(c, err)
		return
	}
	recent, err := s.Repo.CountMatching(ctx, store.Filter{Since: s.clock().Add(-recentWindow)})
	if err != nil {
		storeError(c, err)
		return
	}

	dist := make(map[string][]store.GroupCount, 3)
	for _, field := range []string{"severity", "service", "status"} {
		groups, err := s.Repo.CountBy(ctx, field, store.Filter{})
		if err != nil {
			storeError(c, err)
			return
		}
		if groups == nil {
			groups = []store.GroupCount{}
		}
		dist[field] = groups
	}
	if len(dist["service"]) > serviceStatsLimit {
		dist["service"] = dist["service"][:serviceStatsLimit]
	}

	c.JSON(http.StatusOK, gin.H{
		"total_findings":        total,
		"recent_findings":       recent,
		"severity_distribution": dist["severity"],
		"service_distribution":  dist["service"],
		"status_distribution":   dist["status"],
	})
}

// Timeline handles GET /api/findings/timeline.
func (s *Service) Timeline(c *gin.Context) {
	days, ok := intQuery(c, "days", defaultTimelineDays)
	if !ok {
		return
	}
	since := s.clock().UTC().AddDate(0, 0, -days)
	points, err := s.Repo.Timeline(c.Request.Context(), since)
	if err != nil {
		storeError(c, err)
		return
	}
	if points == nil {
		points = []store.TimelinePoint{}
	}
	c.JSON(http.StatusOK, points)
}

// AuditBucket handles POST /api/audit/bucket/:name.
func (s *Service) AuditBucket(c *gin.Context) {
	s.audit(c, models.ResourceBucket, c.Param("name"))
}

// AuditKey handles POST /api/audit/key/:id.
func (s *Service) AuditKey(c *gin.Context) {
	s.audit(c, models.ResourceKey, c.Param("id"))
}

func (s *Service) audit(c *gin.Context, kind models.ResourceKind, name string) {
	if s.Auditor == nil {
		respondError(c, http.StatusServiceUnavailable, "auditing not configured")
		return
	}
	res := s.Auditor.Audit(c.Request.Context(), kind, name, c.Query("region"), c.Query("account_id"))
	if res.Outcome.Failed() {
		msg := string(res.Outcome)
		if res.Err != nil {
			msg = res.Err.Error()
		}
		respondError(c, http.StatusBadGateway, msg)
		return
	}
	c.JSON(http.StatusOK, res)
}

type simulationResponse struct {
	Success bool `json:"success"`
	*simulation.Simulation
}

// SimulateS3 handles POST /api/simulate/s3.
func (s *Service) SimulateS3(c *gin.Context) {
	if s.Simulator == nil {
		respondError(c, http.StatusServiceUnavailable, "simulation not configured")
		return
	}
	sim, err := s.Simulator.CreateVulnerableBucket(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusCreated, simulationResponse{Success: true, Simulation: sim})
}

type cleanupRequest struct {
	ResourceID string `json:"resource_id"`
}

type cleanupResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	simulation.CleanupResult
}

// SimulateCleanup handles POST /api/simulate/cleanup.
func (s *Service) SimulateCleanup(c *gin.Context) {
	if s.Simulator == nil {
		respondError(c, http.StatusServiceUnavailable, "simulation not configured")
		return
	}
	var req cleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ResourceID == "" {
		respondError(c, http.StatusBadRequest, "resource_id is required")
		return
	}
	res, err := s.Simulator.Cleanup(c.Request.Context(), req.ResourceID)
	switch {
	case errors.Is(err, simulation.ErrNotDemoResource):
		respondError(c, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, cleanupResponse{
		Success:       true,
		Message:       "Resource " + req.ResourceID + " deleted.",
		CleanupResult: res,
	})
}
