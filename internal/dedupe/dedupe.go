// Package dedupe flags newly extracted documents that repeat one already stored in the
// same workspace.
package dedupe

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/agext/levenshtein"

	"mail-ingest/internal/documents"
	"mail-ingest/internal/normalize"
)

const (
	// TotalTolerance is the largest difference at which two totals are equal.
	TotalTolerance = 0.005
	// DefaultSimilarity is the Levenshtein similarity above which two names match.
	DefaultSimilarity = 0.85
	minContainsLen    = 4
)

// CandidateFinder is the slice of the document store the detector needs.
type CandidateFinder interface {
	FindDuplicateCandidates(ctx context.Context, workspaceID, documentNumber string, total float64, excludeID string) ([]documents.Document, error)
}

// Detector matches documents by number, or by counterparty and total.
type Detector struct {
	docs       CandidateFinder
	similarity float64
}

// New builds a Detector with the default similarity threshold.
func New(docs CandidateFinder) *Detector {
	return &Detector{docs: docs, similarity: DefaultSimilarity}
}

// WithSimilarity returns a copy using a different name similarity threshold.
func (d *Detector) WithSimilarity(threshold float64) *Detector {
	out := *d
	out.similarity = threshold
	return &out
}

// FindDuplicates returns the stored documents the new one duplicates, best match first:
// number matches, then counterparty and total matches, newest first within each group.
// excludeID keeps the new document out of its own results.
func (d *Detector) FindDuplicates(ctx context.Context, workspaceID, documentNumber, counterparty string, total float64, excludeID string) ([]documents.Document, error) {
	number := documents.NormalizeNumber(documentNumber)
	if number == "" && strings.TrimSpace(counterparty) == "" {
		return nil, nil
	}
	candidates, err := d.docs.FindDuplicateCandidates(ctx, workspaceID, documentNumber, total, excludeID)
	if err != nil {
		return nil, fmt.Errorf("find duplicate candidates: %w", err)
	}

	var byNumber, byNameTotal []documents.Document
	for _, doc := range candidates {
		if doc.ID == excludeID || doc.WorkspaceID != workspaceID {
			continue
		}
		switch {
		case number != "" && documents.NormalizeNumber(doc.DocumentNumber) == number:
			byNumber = append(byNumber, doc)
		case math.Abs(doc.Total-total) < TotalTolerance && d.NamesMatch(doc.Counterparty.Name, counterparty):
			byNameTotal = append(byNameTotal, doc)
		}
	}
	sortNewestFirst(byNumber)
	sortNewestFirst(byNameTotal)
	return append(byNumber, byNameTotal...), nil
}

// NamesMatch reports whether two counterparty names refer to the same company.
func (d *Detector) NamesMatch(a, b string) bool {
	fa, fb := normalize.Fold(a), normalize.Fold(b)
	if fa == "" || fb == "" {
		return false
	}
	if fa == fb {
		return true
	}
	if len(fa) >= minContainsLen && len(fb) >= minContainsLen &&
		(strings.Contains(fa, fb) || strings.Contains(fb, fa)) {
		return true
	}
	return levenshtein.Similarity(fa, fb, nil) >= d.similarity
}

func sortNewestFirst(docs []documents.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
}
