package connections

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string]Connection
	now  func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		data: make(map[string]Connection),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Upsert links a mailbox, reusing the live entry for the same account.
func (r *MemoryRepo) Upsert(ctx context.Context, conn Connection) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return Connection{}, err
	}
	if conn.ID == "" || conn.WorkspaceID == "" || conn.AccountEmail == "" {
		return Connection{}, ErrInvalidInput
	}
	if conn.Provider == "" {
		conn.Provider = ProviderGmail
	}
	if conn.ScanPeriodMonths == 0 {
		conn.ScanPeriodMonths = DefaultScanMonths
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.data {
		if existing.Status == StatusDisconnected ||
			existing.WorkspaceID != conn.WorkspaceID ||
			existing.Provider != conn.Provider ||
			!strings.EqualFold(existing.AccountEmail, conn.AccountEmail) {
			continue
		}
		existing.UserID = conn.UserID
		existing.AccountName = conn.AccountName
		existing.IsActive = true
		if existing.Status != StatusSyncing {
			existing.Status = StatusActive
		}
		existing.LastError = ""
		existing.AccessTokenEnc = conn.AccessTokenEnc
		if conn.RefreshTokenEnc != "" {
			existing.RefreshTokenEnc = conn.RefreshTokenEnc
		}
		existing.TokenExpiry = conn.TokenExpiry
		existing.UpdatedAt = now
		r.data[id] = existing
		return existing, nil
	}

	conn.IsActive = true
	conn.Status = StatusActive
	conn.ScanPeriodMonths = ClampMonths(conn.ScanPeriodMonths)
	conn.CreatedAt = now
	conn.UpdatedAt = now
	r.data[conn.ID] = conn
	return conn, nil
}

// Get returns a connection by ID.
func (r *MemoryRepo) Get(ctx context.Context, id string) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return Connection{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.data[id]
	if !ok {
		return Connection{}, ErrNotFound
	}
	return conn, nil
}

// ListByWorkspace lists the workspace's connections, newest first.
func (r *MemoryRepo) ListByWorkspace(ctx context.Context, workspaceID string) ([]Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	var out []Connection
	for _, conn := range r.data {
		if conn.WorkspaceID == workspaceID {
			out = append(out, conn)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListSchedulable returns connections eligible for periodic scans, including ones left
// in syncing past staleSyncAfter.
func (r *MemoryRepo) ListSchedulable(ctx context.Context) ([]Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stale := r.now().Add(-staleSyncAfter)
	r.mu.RLock()
	var out []Connection
	for _, conn := range r.data {
		if !conn.IsActive {
			continue
		}
		switch conn.Status {
		case StatusActive, StatusError:
			out = append(out, conn)
		case StatusSyncing:
			if conn.UpdatedAt.Before(stale) {
				out = append(out, conn)
			}
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastSyncAt, out[j].LastSyncAt
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})
	return out, nil
}

// MarkSyncing enters the syncing state unless a fresh scan already holds it.
func (r *MemoryRepo) MarkSyncing(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.data[id]
	if !ok || conn.Status == StatusDisconnected {
		return false, nil
	}
	if conn.Status == StatusSyncing && conn.UpdatedAt.After(now.Add(-staleSyncAfter)) {
		return false, nil
	}
	conn.Status = StatusSyncing
	conn.LastError = ""
	conn.UpdatedAt = now
	r.data[id] = conn
	return true, nil
}

// CompleteSync records the scan outcome and accumulates lifetime counters.
func (r *MemoryRepo) CompleteSync(ctx context.Context, id string, outcome SyncOutcome) error {
	return r.update(ctx, id, func(conn *Connection) {
		if conn.Status != StatusDisconnected {
			conn.Status = outcome.Status
		}
		if outcome.SyncedAt != nil {
			t := *outcome.SyncedAt
			conn.LastSyncAt = &t
		}
		conn.LastError = outcome.LastError
		conn.TotalScanned += outcome.Scanned
		conn.TotalFound += outcome.Found
	})
}

// UpdateTokens stores a refreshed token pair.
func (r *MemoryRepo) UpdateTokens(ctx context.Context, id, accessEnc, refreshEnc string, expiry time.Time) error {
	return r.update(ctx, id, func(conn *Connection) {
		conn.AccessTokenEnc = accessEnc
		conn.RefreshTokenEnc = refreshEnc
		exp := expiry.UTC()
		conn.TokenExpiry = &exp
	})
}

// UpdateScanWindow sets the lookback window, clamped to 1..12 months.
func (r *MemoryRepo) UpdateScanWindow(ctx context.Context, id string, months int) error {
	return r.update(ctx, id, func(conn *Connection) {
		conn.ScanPeriodMonths = ClampMonths(months)
	})
}

// Disconnect marks the connection disconnected and wipes its tokens.
func (r *MemoryRepo) Disconnect(ctx context.Context, id string) error {
	return r.update(ctx, id, func(conn *Connection) {
		conn.Status = StatusDisconnected
		conn.IsActive = false
		conn.AccessTokenEnc = ""
		conn.RefreshTokenEnc = ""
		conn.TokenExpiry = nil
	})
}

func (r *MemoryRepo) update(ctx context.Context, id string, mutate func(*Connection)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.data[id]
	if !ok {
		return ErrNotFound
	}
	mutate(&conn)
	conn.UpdatedAt = r.now()
	r.data[id] = conn
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
