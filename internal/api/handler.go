package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-unrest-alerts/internal/alerting"
	"github.com/mr1hm/go-unrest-alerts/internal/ingestion"
	"github.com/mr1hm/go-unrest-alerts/internal/metrics"
	"github.com/mr1hm/go-unrest-alerts/internal/models"
	"github.com/mr1hm/go-unrest-alerts/internal/moderation"
	"github.com/mr1hm/go-unrest-alerts/internal/repository"
	"github.com/mr1hm/go-unrest-alerts/internal/risk"
)

// collectionRunner is the slice of the ingestion manager the API needs.
type collectionRunner interface {
	RunCycle(ctx context.Context)
	Status() []ingestion.CollectorStatus
}

type Handler struct {
	store       repository.Store
	gate        *moderation.Gate
	predictor   *risk.Predictor
	collection  collectionRunner
	broadcaster *alerting.Broadcaster
	metrics     *metrics.Metrics
}

func NewHandler(
	store repository.Store,
	gate *moderation.Gate,
	predictor *risk.Predictor,
	collection collectionRunner,
	broadcaster *alerting.Broadcaster,
	m *metrics.Metrics,
) *Handler {
	return &Handler{
		store:       store,
		gate:        gate,
		predictor:   predictor,
		collection:  collection,
		broadcaster: broadcaster,
		metrics:     m,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	grp := r.Group("/api")
	grp.GET("/incidents", h.listIncidents)
	grp.GET("/incidents/latest", h.latestIncidents)
	grp.GET("/incidents/geojson", h.incidentsGeoJSON)
	grp.GET("/incidents/:id", h.getIncident)
	grp.GET("/incidents/:id/posts", h.incidentPosts)
	grp.GET("/incidents/:id/audit", h.incidentAudit)
	grp.GET("/dashboard", h.dashboard)
	grp.GET("/predictions", h.predictions)
	grp.GET("/events", h.events)
	grp.POST("/moderation/flag", h.flag)
	grp.POST("/moderation/confirm", h.confirm)
	grp.POST("/moderation/merge", h.merge)
	grp.POST("/collection/run-cycle", h.runCycle)
	grp.GET("/collection/status", h.collectionStatus)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// parseFilter builds an incident filter from query parameters. Invalid
// values fall back to defaults rather than failing the request.
func parseFilter(c *gin.Context) repository.IncidentFilter {
	filter := repository.IncidentFilter{
		Limit: 50, // Default if limit param not supplied
	}

	if s := c.Query("status"); s != "" {
		if status, ok := models.ParseIncidentStatus(s); ok {
			filter.Status = &status
		}
	}
	if s := c.Query("severity"); s != "" {
		if sev, ok := models.ParseSeverity(s); ok {
			filter.Severity = &sev
		}
	}
	if s := c.Query("min_severity"); s != "" {
		if sev, ok := models.ParseSeverity(s); ok {
			filter.MinSeverity = &sev
		}
	}
	filter.Region = c.Query("region")
	if s := c.Query("since"); s != "" {
		if t, err := parseTimeParam(s); err == nil {
			filter.Since = &t
		}
	}
	if s := c.Query("until"); s != "" {
		if t, err := parseTimeParam(s); err == nil {
			filter.Until = &t
		}
	}
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= 500 {
			filter.Limit = lim
		}
	}
	if o := c.Query("offset"); o != "" {
		if off, err := strconv.Atoi(o); err == nil && off > 0 {
			filter.Offset = off
		}
	}
	return filter
}

func parseTimeParam(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func (h *Handler) listIncidents(c *gin.Context) {
	incidents, err := h.store.ListIncidents(c.Request.Context(), parseFilter(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch incidents"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": toIncidentDTOs(incidents)})
}

func (h *Handler) latestIncidents(c *gin.Context) {
	limit := 10
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= 100 {
			limit = lim
		}
	}

	incidents, err := h.store.LatestVerified(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch incidents"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": toIncidentDTOs(incidents)})
}

func (h *Handler) incidentsGeoJSON(c *gin.Context) {
	incidents, err := h.store.ListIncidents(c.Request.Context(), parseFilter(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch incidents"})
		return
	}
	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, toGeoJSON(incidents))
}

func (h *Handler) getIncident(c *gin.Context) {
	inc, err := h.store.GetIncident(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch incident"})
		return
	}
	c.JSON(http.StatusOK, toIncidentDTO(*inc))
}

func (h *Handler) incidentPosts(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.store.GetIncident(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch incident"})
		return
	}

	posts, err := h.store.ListPostsByIncident(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch posts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": toPostDTOs(posts)})
}

func (h *Handler) incidentAudit(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.store.GetIncident(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch incident"})
		return
	}

	entries, err := h.store.ListAuditByIncident(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch audit trail"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit": toAuditDTOs(entries)})
}

func (h *Handler) dashboard(c *gin.Context) {
	summary, err := h.store.Summary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build summary"})
		return
	}

	open := summary.ByStatus[models.StatusUnverified] + summary.ByStatus[models.StatusVerified]
	h.metrics.IncidentsOpen.Set(float64(open))

	c.JSON(http.StatusOK, gin.H{
		"total_incidents": summary.Total,
		"by_status":       summary.ByStatus,
		"by_severity":     summary.BySeverity,
		"top_regions":     summary.TopRegions,
		"open_incidents":  open,
	})
}

func (h *Handler) predictions(c *gin.Context) {
	region := c.Query("region")
	if region == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "region parameter is required"})
		return
	}

	var window time.Duration
	if w := c.Query("window"); w != "" {
		if d, err := time.ParseDuration(w); err == nil && d > 0 {
			window = d
		}
	}

	assessment, err := h.predictor.Predict(c.Request.Context(), region, window)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "prediction failed"})
		return
	}
	c.JSON(http.StatusOK, toRiskDTO(assessment))
}

// events streams incident transitions as server-sent events until the
// client disconnects.
func (h *Handler) events(c *gin.Context) {
	filter := alerting.Filter{Region: c.Query("region")}
	if ms := c.Query("min_severity"); ms != "" {
		if sev, ok := models.ParseSeverity(ms); ok {
			filter.MinSeverity = sev
		}
	}

	id, ch := h.broadcaster.Subscribe(filter)
	defer h.broadcaster.Unsubscribe(id)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), toIncidentDTO(ev.Incident))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

type flagRequest struct {
	IncidentID string `json:"incident_id" binding:"required"`
	Reason     string `json:"reason" binding:"required"`
	Actor      string `json:"actor" binding:"required"`
}

func (h *Handler) flag(c *gin.Context) {
	var req flagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "incident_id, reason and actor are required"})
		return
	}

	if err := h.gate.Flag(c.Request.Context(), req.IncidentID, req.Reason, req.Actor); err != nil {
		h.moderationError(c, err)
		return
	}
	h.metrics.Moderation.WithLabelValues("flag").Inc()

	h.respondIncident(c, req.IncidentID)
}

type confirmRequest struct {
	IncidentID string `json:"incident_id" binding:"required"`
	Actor      string `json:"actor" binding:"required"`
}

func (h *Handler) confirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "incident_id and actor are required"})
		return
	}

	if err := h.gate.Confirm(c.Request.Context(), req.IncidentID, req.Actor); err != nil {
		h.moderationError(c, err)
		return
	}
	h.metrics.Moderation.WithLabelValues("confirm").Inc()

	h.respondIncident(c, req.IncidentID)
}

type mergeRequest struct {
	SourceID string `json:"source_id" binding:"required"`
	TargetID string `json:"target_id" binding:"required"`
	Actor    string `json:"actor" binding:"required"`
}

func (h *Handler) merge(c *gin.Context) {
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_id, target_id and actor are required"})
		return
	}

	if err := h.gate.Merge(c.Request.Context(), req.SourceID, req.TargetID, req.Actor); err != nil {
		h.moderationError(c, err)
		return
	}
	h.metrics.Moderation.WithLabelValues("merge").Inc()

	target, err := h.store.GetIncident(c.Request.Context(), req.TargetID)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"merged_into": req.TargetID})
		return
	}

	if h.broadcaster != nil {
		h.broadcaster.Broadcast(alerting.Event{Kind: alerting.EventIncidentMerged, Incident: *target})
		h.metrics.EventsEmitted.WithLabelValues(string(alerting.EventIncidentMerged)).Inc()
	}
	c.JSON(http.StatusOK, toIncidentDTO(*target))
}

func (h *Handler) moderationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
	case errors.Is(err, moderation.ErrAlreadyTerminal),
		errors.Is(err, moderation.ErrInvalidTargetState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "moderation action failed"})
	}
}

func (h *Handler) respondIncident(c *gin.Context, id string) {
	inc, err := h.store.GetIncident(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"id": id})
		return
	}
	c.JSON(http.StatusOK, toIncidentDTO(*inc))
}

func (h *Handler) runCycle(c *gin.Context) {
	if h.collection == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "collection is not running"})
		return
	}
	h.collection.RunCycle(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "cycle completed"})
}

func (h *Handler) collectionStatus(c *gin.Context) {
	if h.collection == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "collection is not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"collectors": h.collection.Status()})
}
