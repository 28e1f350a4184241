package mailsync

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mail-ingest/internal/connections"
	"mail-ingest/internal/shared/server/middleware"
	"mail-ingest/internal/shared/server/respond"
)

const maxEMLBytes = 25 << 20

// Handler exposes mailbox scanning over HTTP.
type Handler struct {
	Svc      *Service
	Importer *Importer
}

func NewHandler(svc *Service, importer *Importer) *Handler {
	return &Handler{Svc: svc, Importer: importer}
}

// RegisterRoutes attaches mailbox routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/mail/connections/:id/scan", h.scan)
	rg.GET("/mail/connections/:id/stats", h.stats)
	rg.PUT("/mail/connections/:id/scan-window", h.scanWindow)
	rg.DELETE("/mail/connections/:id", h.disconnect)
	rg.POST("/mail/import", h.importEML)
}

type scanWindowRequest struct {
	Months *int `json:"months"`
}

func (h *Handler) owned(c *gin.Context) (connections.Connection, bool) {
	conn, err := h.Svc.Owned(c.Request.Context(), middleware.WorkspaceIDFromContext(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, connections.ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "mail connection not found", nil)
		} else {
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load mail connection", nil)
		}
		return connections.Connection{}, false
	}
	return conn, true
}

func (h *Handler) scan(c *gin.Context) {
	conn, ok := h.owned(c)
	if !ok {
		return
	}

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		if err := h.Svc.EnqueueScan(c.Request.Context(), conn); err != nil {
			if errors.Is(err, ErrConnectionInactive) {
				respond.Error(c, http.StatusConflict, "connection_inactive", "mail connection is disconnected", nil)
				return
			}
			respond.Error(c, http.StatusServiceUnavailable, "queue_unavailable", "failed to enqueue scan", nil)
			return
		}
		respond.Accepted(c, gin.H{"queued": true, "connectionId": conn.ID})
		return
	}

	// The scan outlives a client that hangs up.
	ctx := context.WithoutCancel(c.Request.Context())
	res, err := h.Svc.TriggerScan(ctx, conn.ID)
	if err != nil {
		switch {
		case errors.Is(err, ErrConnectionInactive):
			respond.Error(c, http.StatusConflict, "connection_inactive", "mail connection is disconnected", nil)
		case errors.Is(err, connections.ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "mail connection not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to scan mailbox", nil)
		}
		return
	}
	respond.OK(c, res)
}

func (h *Handler) stats(c *gin.Context) {
	conn, ok := h.owned(c)
	if !ok {
		return
	}
	stats, err := h.Svc.GetSyncStats(c.Request.Context(), conn.ID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load sync stats", nil)
		return
	}
	respond.OK(c, stats)
}

func (h *Handler) scanWindow(c *gin.Context) {
	conn, ok := h.owned(c)
	if !ok {
		return
	}
	var req scanWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Months == nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "months is required", nil)
		return
	}
	months, err := h.Svc.UpdateScanWindow(c.Request.Context(), conn.ID, *req.Months)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to update scan window", nil)
		return
	}
	respond.OK(c, gin.H{"connectionId": conn.ID, "scanPeriodMonths": months})
}

func (h *Handler) disconnect(c *gin.Context) {
	conn, ok := h.owned(c)
	if !ok {
		return
	}
	if err := h.Svc.Disconnect(c.Request.Context(), conn.ID); err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to disconnect mailbox", nil)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) importEML(c *gin.Context) {
	if h.Importer == nil {
		respond.Error(c, http.StatusNotImplemented, "not_configured", "email import is not configured", nil)
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return
	}
	if fh.Size > maxEMLBytes {
		respond.Error(c, http.StatusRequestEntityTooLarge, "file_too_large", "email exceeds 25MB", nil)
		return
	}
	f, err := fh.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "failed to read upload", nil)
		return
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, maxEMLBytes+1))
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "failed to read upload", nil)
		return
	}

	res, err := h.Importer.ImportEML(context.WithoutCancel(c.Request.Context()),
		middleware.WorkspaceIDFromContext(c), middleware.UserIDFromContext(c), raw)
	if err != nil {
		if errors.Is(err, ErrInvalidMessage) {
			respond.Error(c, http.StatusBadRequest, "invalid_email", "the uploaded file is not a valid email", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to import email", nil)
		return
	}
	if res.AlreadyImported || res.FoundCount == 0 {
		respond.OK(c, res)
		return
	}
	respond.Created(c, res)
}
