package mailsync

import (
	"fmt"
	"strings"
	"time"

	"mail-ingest/internal/connections"
)

// DefaultOverlap is subtracted from the last sync time so mail delivered late is still seen.
const DefaultOverlap = 2 * time.Hour

// Keywords are the subject and body terms that mark a billing email, in French and English.
var Keywords = []string{
	"facture", "factures", "facturation", "reçu", "recu", "devis", "avoir",
	"abonnement", "paiement", "commande", "échéance",
	"invoice", "invoices", "receipt", "receipts", "billing", "quote", "quotation",
	"subscription", "payment", "order", "statement",
}

// BuildQuery renders the Gmail search expression for billing mail with a PDF attachment
// received after the given instant.
func BuildQuery(after time.Time) string {
	terms := make([]string, len(Keywords))
	copy(terms, Keywords)
	return fmt.Sprintf("(%s) has:attachment filename:pdf after:%d", strings.Join(terms, " OR "), after.Unix())
}

// LowerBound returns the earliest receive time a scan considers. Initial scans and
// connections that never synced look back over the scan window; incremental scans start
// overlap before the last successful sync.
func LowerBound(conn connections.Connection, initial bool, now time.Time, overlap time.Duration) time.Time {
	if initial || conn.LastSyncAt == nil {
		return now.AddDate(0, -connections.ClampMonths(conn.ScanPeriodMonths), 0)
	}
	if overlap <= 0 {
		overlap = DefaultOverlap
	}
	return conn.LastSyncAt.Add(-overlap)
}
