package documents

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string][]Document // workspaceID -> documents
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		data: make(map[string][]Document),
	}
}

// Create stores a new document.
func (r *MemoryRepo) Create(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(doc); err != nil {
		return err
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[doc.WorkspaceID] = append(r.data[doc.WorkspaceID], doc)
	return nil
}

// Get returns a document by ID within a workspace.
func (r *MemoryRepo) Get(ctx context.Context, workspaceID, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, doc := range r.data[workspaceID] {
		if doc.ID == id {
			return doc, nil
		}
	}
	return Document{}, ErrNotFound
}

// List returns workspace documents, newest first, honoring the filter.
func (r *MemoryRepo) List(ctx context.Context, workspaceID string, filter ListFilter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit, offset := clampPage(filter.Limit, filter.Offset)

	r.mu.RLock()
	var docs []Document
	for _, doc := range r.data[workspaceID] {
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		if filter.Source != "" && doc.Source != filter.Source {
			continue
		}
		docs = append(docs, doc)
	}
	r.mu.RUnlock()

	sortNewestFirst(docs)
	if offset >= len(docs) {
		return []Document{}, nil
	}
	end := len(docs)
	if offset+limit < end {
		end = offset + limit
	}
	return docs[offset:end], nil
}

// CountByStatus counts documents of one source in one review status.
func (r *MemoryRepo) CountByStatus(ctx context.Context, workspaceID string, source Source, status Status) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, doc := range r.data[workspaceID] {
		if doc.Source == source && doc.Status == status {
			n++
		}
	}
	return n, nil
}

// FindDuplicateCandidates returns documents whose number or total matches, number
// matches first.
func (r *MemoryRepo) FindDuplicateCandidates(ctx context.Context, workspaceID, documentNumber string, total float64, excludeID string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	number := NormalizeNumber(documentNumber)

	r.mu.RLock()
	var byNumber, byTotal []Document
	for _, doc := range r.data[workspaceID] {
		if excludeID != "" && doc.ID == excludeID {
			continue
		}
		switch {
		case number != "" && NormalizeNumber(doc.DocumentNumber) == number:
			byNumber = append(byNumber, doc)
		case math.Abs(doc.Total-total) < 0.005:
			byTotal = append(byTotal, doc)
		}
	}
	r.mu.RUnlock()

	sortNewestFirst(byNumber)
	sortNewestFirst(byTotal)
	out := append(byNumber, byTotal...)
	if len(out) > maxCandidates {
		out = out[:maxCandidates]
	}
	return out, nil
}

func sortNewestFirst(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
}

var _ Repo = (*MemoryRepo)(nil)
