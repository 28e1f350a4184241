package documents

import (
	"context"
	"strings"
)

// Repo defines persistence operations for extracted documents.
type Repo interface {
	Create(ctx context.Context, doc Document) error
	Get(ctx context.Context, workspaceID, id string) (Document, error)
	List(ctx context.Context, workspaceID string, filter ListFilter) ([]Document, error)
	CountByStatus(ctx context.Context, workspaceID string, source Source, status Status) (int, error)
	// FindDuplicateCandidates returns documents of the workspace whose number or total
	// equals the given values, newest first. excludeID may be empty.
	FindDuplicateCandidates(ctx context.Context, workspaceID, documentNumber string, total float64, excludeID string) ([]Document, error)
}

const maxCandidates = 50

// NormalizeNumber folds a document number for equality checks: case and spaces ignored.
func NormalizeNumber(number string) string {
	return strings.ToLower(strings.Join(strings.Fields(number), ""))
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func validate(doc Document) error {
	if strings.TrimSpace(doc.ID) == "" || strings.TrimSpace(doc.WorkspaceID) == "" {
		return ErrInvalidInput
	}
	if doc.Total < 0 || doc.TotalPreTax < 0 || doc.TotalTax < 0 {
		return ErrInvalidInput
	}
	if doc.IsDuplicate && doc.DuplicateOf == "" {
		return ErrInvalidInput
	}
	return nil
}
