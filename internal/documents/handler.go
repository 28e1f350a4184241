package documents

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"mail-ingest/internal/shared/server/middleware"
	"mail-ingest/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches document routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/documents", h.list)
	rg.GET("/documents/:id", h.get)
}

func (h *Handler) get(c *gin.Context) {
	workspaceID := middleware.WorkspaceIDFromContext(c)

	doc, err := h.Svc.Get(c.Request.Context(), workspaceID, c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch document", nil)
		}
		return
	}

	respond.OK(c, toResponse(doc, true))
}

func (h *Handler) list(c *gin.Context) {
	workspaceID := middleware.WorkspaceIDFromContext(c)

	filter := ListFilter{
		Status: Status(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		Source: Source(strings.ToUpper(strings.TrimSpace(c.Query("source")))),
		Limit:  20,
	}
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			filter.Limit = parsed
		}
	}
	if filter.Limit > 50 {
		filter.Limit = 50
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			filter.Offset = parsed
		}
	}

	docs, err := h.Svc.List(c.Request.Context(), workspaceID, filter)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list documents", nil)
		}
		return
	}

	resp := make([]DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		resp = append(resp, toResponse(doc, false))
	}
	respond.OK(c, gin.H{"documents": resp, "limit": filter.Limit, "offset": filter.Offset})
}
