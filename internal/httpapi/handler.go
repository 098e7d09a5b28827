// Package httpapi exposes the server's HTTP surface: the manual-override
// endpoint, read endpoints for records and scan logs, and the live-feed
// WebSocket.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/attendance"
	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/auth"
	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/hub"
	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/model"
)

// OverrideRoles may correct attendance records.
var OverrideRoles = []string{"INSTRUCTOR", "ADMIN", "SUPER_ADMIN", "DEPARTMENT_HEAD"}

// AttendanceService is the pipeline surface the handlers need.
type AttendanceService interface {
	Override(ctx context.Context, req attendance.OverrideRequest, actorID int64) (model.AttendanceRecord, error)
}

// RecordLister serves the read endpoints.
type RecordLister interface {
	ListRecords(ctx context.Context, userID, meetingID int64, limit, offset int) ([]model.AttendanceRecord, error)
	ListScanLogs(ctx context.Context, badgeID string, limit, offset int) ([]model.ScanLog, error)
}

// Handler wires the HTTP surface.
type Handler struct {
	svc        AttendanceService
	lists      RecordLister
	hub        *hub.Hub
	signingKey string
	issuer     string
}

// NewHandler creates a handler.
func NewHandler(svc AttendanceService, lists RecordLister, h *hub.Hub, signingKey, issuer string) *Handler {
	return &Handler{svc: svc, lists: lists, hub: h, signingKey: signingKey, issuer: issuer}
}

// Register mounts the routes.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/ws", h.serveWS)

	authed := r.Group("/v1", auth.RequireRoles(h.signingKey, h.issuer, OverrideRoles...))
	authed.POST("/attendance/override", h.override)
	authed.GET("/attendance", h.listRecords)
	authed.GET("/scanlogs", h.listScanLogs)
}

func (h *Handler) override(c *gin.Context) {
	var req attendance.OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "reason": "MALFORMED_BODY"})
		return
	}

	claimsAny, _ := c.Get("claims")
	claims, _ := claimsAny.(auth.Claims)
	actorID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "token subject is not a user id", "reason": "BAD_ACTOR"})
		return
	}

	rec, err := h.svc.Override(c.Request.Context(), req, actorID)
	if err != nil {
		status, reason := http.StatusInternalServerError, "INTERNAL"
		switch {
		case errors.Is(err, attendance.ErrValidation):
			status, reason = http.StatusBadRequest, "VALIDATION_ERROR"
		case errors.Is(err, attendance.ErrNotEnrolled):
			status, reason = http.StatusBadRequest, "NOT_ENROLLED"
		case errors.Is(err, attendance.ErrIdentityNotFound):
			status, reason = http.StatusNotFound, "STUDENT_NOT_FOUND"
		case errors.Is(err, attendance.ErrMeetingNotFound):
			status, reason = http.StatusNotFound, "MEETING_NOT_FOUND"
		case errors.Is(err, attendance.ErrStoreUnavailable):
			status, reason = http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
		}
		c.JSON(status, gin.H{"error": err.Error(), "reason": reason})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": rec})
}

func (h *Handler) listRecords(c *gin.Context) {
	userID, _ := strconv.ParseInt(c.Query("user_id"), 10, 64)
	meetingID, _ := strconv.ParseInt(c.Query("meeting_id"), 10, 64)
	limit, offset := queryPage(c)
	records, err := h.lists.ListRecords(c.Request.Context(), userID, meetingID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *Handler) listScanLogs(c *gin.Context) {
	limit, offset := queryPage(c)
	logs, err := h.lists.ListScanLogs(c.Request.Context(), c.Query("badge_id"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scan_logs": logs})
}

func queryPage(c *gin.Context) (limit, offset int) {
	limit, offset = 50, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	return limit, offset
}
