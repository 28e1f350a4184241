package connections

import (
	"context"
	"time"
)

// Repo defines persistence operations for mail connections.
type Repo interface {
	// Upsert links a mailbox. A live connection for the same (workspace, provider,
	// account) is updated in place and reactivated; otherwise a new row is created.
	Upsert(ctx context.Context, conn Connection) (Connection, error)
	Get(ctx context.Context, id string) (Connection, error)
	ListByWorkspace(ctx context.Context, workspaceID string) ([]Connection, error)
	// ListSchedulable returns active connections that are not disconnected or expired.
	ListSchedulable(ctx context.Context) ([]Connection, error)
	// MarkSyncing moves a connection into syncing and clears last_error. It reports false
	// when the connection was already syncing.
	MarkSyncing(ctx context.Context, id string) (bool, error)
	CompleteSync(ctx context.Context, id string, outcome SyncOutcome) error
	UpdateTokens(ctx context.Context, id, accessEnc, refreshEnc string, expiry time.Time) error
	UpdateScanWindow(ctx context.Context, id string, months int) error
	Disconnect(ctx context.Context, id string) error
}
