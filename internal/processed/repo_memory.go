package processed

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu      sync.RWMutex
	records map[string]Record // workspaceID + "\x00" + messageID
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{records: make(map[string]Record)}
}

func key(workspaceID, messageID string) string {
	return workspaceID + "\x00" + messageID
}

// FilterUnprocessed returns IDs without a record, in input order.
func (r *MemoryRepo) FilterUnprocessed(ctx context.Context, workspaceID string, messageIDs []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := dedupeIDs(messageIDs)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := r.records[key(workspaceID, id)]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// Insert stores a record unless the message already has one.
func (r *MemoryRepo) Insert(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(rec); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(rec.WorkspaceID, rec.MessageID)
	if _, ok := r.records[k]; ok {
		return ErrAlreadyProcessed
	}
	r.records[k] = rec
	return nil
}

// ListByConnection returns the most recent records of a connection.
func (r *MemoryRepo) ListByConnection(ctx context.Context, connectionID string, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	r.mu.RLock()
	var out []Record
	for _, rec := range r.records {
		if rec.ConnectionID == connectionID {
			out = append(out, rec)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Repo = (*MemoryRepo)(nil)
