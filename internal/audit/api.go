package audit

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dhawalhost/wardgate/pkg/middleware"
)

// Query pagination bounds applied at the HTTP edge.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// HTTPHandler handles audit log HTTP requests.
type HTTPHandler struct {
	svc    Service
	logger *zap.Logger
}

// NewHTTPHandler creates a new audit HTTP handler.
func NewHTTPHandler(svc Service, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers audit routes.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	audit := rg.Group("/audit")
	{
		audit.GET("", h.queryLogs)
		audit.GET("/export", h.exportLogs)
		audit.POST("/events", h.recordEvent)
		audit.GET("/:id", h.getEvent)
	}
}

// parseFilter reads the shared filter parameters. Pagination is left to the caller.
func parseFilter(c *gin.Context) (Filter, error) {
	f := Filter{
		UserID:     c.Query("user_id"),
		Resource:   c.Query("resource"),
		ResourceID: c.Query("resource_id"),
		Action:     Action(c.Query("action")),
	}
	if v := c.Query("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid success value %q", v)
		}
		f.Success = &b
	}
	if v := c.Query("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid start_time %q", v)
		}
		f.From = t
	}
	if v := c.Query("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid end_time %q", v)
		}
		f.To = t
	}
	return f, nil
}

func (h *HTTPHandler) queryLogs(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f.Limit = DefaultQueryLimit
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Offset = n
		}
	}

	entries, total, err := h.svc.Query(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("Failed to query audit logs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query audit logs"})
		return
	}
	if entries == nil {
		entries = []Entry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   total,
		"limit":   f.Limit,
		"offset":  f.Offset,
	})
}

func (h *HTTPHandler) getEvent(c *gin.Context) {
	entry, err := h.svc.GetEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
			return
		}
		h.logger.Error("Failed to load audit entry", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load audit entry"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *HTTPHandler) exportLogs(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entries, err := h.svc.Export(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("Failed to export audit logs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to export audit logs"})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=audit_log.csv")

	writer := csv.NewWriter(c.Writer)
	_ = writer.Write([]string{"id", "timestamp", "user_id", "action", "resource", "resource_id", "success", "failure_reason", "risk_score", "ip_address"})
	for _, e := range entries {
		risk := ""
		if e.RiskScore != nil {
			risk = strconv.Itoa(*e.RiskScore)
		}
		_ = writer.Write([]string{
			e.ID,
			e.Timestamp.Format(time.RFC3339Nano),
			e.UserID,
			string(e.Action),
			e.Resource,
			e.ResourceID,
			strconv.FormatBool(e.Success),
			e.FailureReason,
			risk,
			e.IPAddress,
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		h.logger.Warn("Audit export truncated", zap.Error(err))
	}
}

type recordEventRequest struct {
	Action   string         `json:"action" binding:"required,oneof=login logout"`
	Success  *bool          `json:"success" binding:"required"`
	Reason   string         `json:"failure_reason"`
	Metadata map[string]any `json:"metadata"`
}

// recordEvent accepts session events from the upstream authentication
// service. Decision and administrative entries are only written in-process.
func (h *HTTPHandler) recordEvent(c *gin.Context) {
	actorID, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	var req recordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.svc.Log(c.Request.Context(), Entry{
		UserID:        actorID,
		Action:        Action(req.Action),
		Resource:      "session",
		Success:       *req.Success,
		FailureReason: req.Reason,
		Metadata:      req.Metadata,
		IPAddress:     c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
	})
	if err != nil {
		h.logger.Error("Failed to record audit event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record event"})
		return
	}
	c.JSON(http.StatusCreated, entry)
}
