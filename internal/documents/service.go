package documents

import (
	"context"
	"strings"
)

// Service exposes read access to extracted documents for the API layer.
type Service struct {
	Repo Repo
}

// Get returns one document of the workspace.
func (s *Service) Get(ctx context.Context, workspaceID, id string) (Document, error) {
	if strings.TrimSpace(workspaceID) == "" || strings.TrimSpace(id) == "" {
		return Document{}, ErrInvalidInput
	}
	return s.Repo.Get(ctx, workspaceID, id)
}

// List returns workspace documents, newest first.
func (s *Service) List(ctx context.Context, workspaceID string, filter ListFilter) ([]Document, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return nil, ErrInvalidInput
	}
	if filter.Status != "" && !ValidStatus(filter.Status) {
		return nil, ErrInvalidInput
	}
	return s.Repo.List(ctx, workspaceID, filter)
}
