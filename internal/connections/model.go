package connections

import "time"

// Status is the lifecycle state of a linked mailbox.
type Status string

const (
	StatusActive       Status = "active"
	StatusSyncing      Status = "syncing"
	StatusError        Status = "error"
	StatusExpired      Status = "expired"
	StatusDisconnected Status = "disconnected"
)

const (
	ProviderGmail = "gmail"

	DefaultScanMonths = 3
	MinScanMonths     = 1
	MaxScanMonths     = 12
)

// Connection is one linked mailbox for a (workspace, user). Tokens are stored encrypted.
type Connection struct {
	ID               string
	WorkspaceID      string
	UserID           string
	Provider         string
	AccountEmail     string
	AccountName      string
	IsActive         bool
	ScanPeriodMonths int
	Status           Status
	LastSyncAt       *time.Time
	LastError        string
	TotalScanned     int64
	TotalFound       int64
	AccessTokenEnc   string
	RefreshTokenEnc  string
	TokenExpiry      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SyncOutcome is written when a scan leaves the syncing state.
type SyncOutcome struct {
	Status    Status
	SyncedAt  *time.Time
	LastError string
	Scanned   int64
	Found     int64
}

// ClampMonths bounds a scan window to 1..12 months.
func ClampMonths(months int) int {
	if months < MinScanMonths {
		return MinScanMonths
	}
	if months > MaxScanMonths {
		return MaxScanMonths
	}
	return months
}
