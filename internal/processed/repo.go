package processed

import "context"

// Repo persists processed-message markers.
type Repo interface {
	// FilterUnprocessed returns the subset of messageIDs without a record, preserving
	// input order. Duplicate IDs in the input are collapsed.
	FilterUnprocessed(ctx context.Context, workspaceID string, messageIDs []string) ([]string, error)
	Insert(ctx context.Context, rec Record) error
	ListByConnection(ctx context.Context, connectionID string, limit int) ([]Record, error)
}

func validate(rec Record) error {
	if rec.ID == "" || rec.WorkspaceID == "" || rec.MessageID == "" {
		return ErrInvalidInput
	}
	switch rec.Status {
	case StatusProcessed, StatusSkipped, StatusError:
		return nil
	}
	return ErrInvalidInput
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
