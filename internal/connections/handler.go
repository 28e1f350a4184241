package connections

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mail-ingest/internal/shared/server/middleware"
	"mail-ingest/internal/shared/server/respond"
)

// ConnectionResponse is the outward-facing view of a connection. Tokens never leave the server.
type ConnectionResponse struct {
	ConnectionID     string     `json:"connectionId"`
	Provider         string     `json:"provider"`
	AccountEmail     string     `json:"accountEmail"`
	AccountName      string     `json:"accountName,omitempty"`
	IsActive         bool       `json:"isActive"`
	Status           Status     `json:"status"`
	ScanPeriodMonths int        `json:"scanPeriodMonths"`
	LastSyncAt       *time.Time `json:"lastSyncAt,omitempty"`
	LastError        string     `json:"lastError,omitempty"`
	TotalScanned     int64      `json:"totalScanned"`
	TotalFound       int64      `json:"totalFound"`
	CreatedAt        time.Time  `json:"createdAt"`
}

func ToResponse(conn Connection) ConnectionResponse {
	return ConnectionResponse{
		ConnectionID:     conn.ID,
		Provider:         conn.Provider,
		AccountEmail:     conn.AccountEmail,
		AccountName:      conn.AccountName,
		IsActive:         conn.IsActive,
		Status:           conn.Status,
		ScanPeriodMonths: conn.ScanPeriodMonths,
		LastSyncAt:       conn.LastSyncAt,
		LastError:        conn.LastError,
		TotalScanned:     conn.TotalScanned,
		TotalFound:       conn.TotalFound,
		CreatedAt:        conn.CreatedAt,
	}
}

// Handler lists the workspace's linked mailboxes.
type Handler struct {
	Repo Repo
}

func NewHandler(repo Repo) *Handler {
	return &Handler{Repo: repo}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/mail/connections", h.list)
}

func (h *Handler) list(c *gin.Context) {
	workspaceID := middleware.WorkspaceIDFromContext(c)
	conns, err := h.Repo.ListByWorkspace(c.Request.Context(), workspaceID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list connections", nil)
		return
	}
	out := make([]ConnectionResponse, 0, len(conns))
	for _, conn := range conns {
		out = append(out, ToResponse(conn))
	}
	respond.OK(c, gin.H{"connections": out})
}
