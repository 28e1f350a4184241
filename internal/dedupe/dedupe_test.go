package dedupe

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-ingest/internal/documents"
)

func seed(t *testing.T, repo *documents.MemoryRepo, id, number, name string, total float64, age time.Duration) documents.Document {
	t.Helper()
	doc := documents.Document{
		ID:             id,
		WorkspaceID:    "ws-1",
		OwnerID:        "user-1",
		Source:         documents.SourceGmail,
		Status:         documents.StatusPendingReview,
		Type:           documents.TypeInvoice,
		Counterparty:   documents.Counterparty{Name: name, Country: "France"},
		DocumentNumber: number,
		Total:          total,
		Currency:       "EUR",
		CreatedAt:      time.Now().UTC().Add(-age),
	}
	require.NoError(t, repo.Create(context.Background(), doc))
	return doc
}

func TestFindDuplicatesInvoice42(t *testing.T) {
	repo := documents.NewMemoryRepo()
	seed(t, repo, "doc-1", "INV-42", "Acme", 120.00, time.Hour)
	d := New(repo)
	ctx := context.Background()

	tests := []struct {
		name         string
		number       string
		counterparty string
		total        float64
		wantDup      bool
	}{
		{"same number other fields differ", "INV-42", "Globex", 999, true},
		{"same number different spacing and case", "inv - 42", "", 1, true},
		{"different number same counterparty and total", "INV-43", "Acme", 120.00, true},
		{"counterparty differs only by accents and case", "F-9", "ÂCME", 120.001, true},
		{"everything different", "INV-99", "Initech", 75.50, false},
		{"same counterparty different total", "INV-44", "Acme", 121, false},
		{"same total unrelated counterparty", "INV-45", "Umbrella", 120, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.FindDuplicates(ctx, "ws-1", tt.number, tt.counterparty, tt.total, "new-doc")
			require.NoError(t, err)
			if tt.wantDup {
				require.NotEmpty(t, got)
				assert.Equal(t, "doc-1", got[0].ID)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestFindDuplicatesScopedToWorkspace(t *testing.T) {
	repo := documents.NewMemoryRepo()
	seed(t, repo, "doc-1", "INV-42", "Acme", 120, time.Hour)

	got, err := New(repo).FindDuplicates(context.Background(), "ws-2", "INV-42", "Acme", 120, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFindDuplicatesExcludesGeneratingRecord(t *testing.T) {
	repo := documents.NewMemoryRepo()
	seed(t, repo, "doc-1", "INV-42", "Acme", 120, time.Hour)

	got, err := New(repo).FindDuplicates(context.Background(), "ws-1", "INV-42", "Acme", 120, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFindDuplicatesOrdersNumberMatchesFirst(t *testing.T) {
	repo := documents.NewMemoryRepo()
	seed(t, repo, "name-new", "X-1", "Acme SAS", 120, time.Minute)
	seed(t, repo, "number-old", "INV-42", "Other", 10, 48*time.Hour)
	seed(t, repo, "number-new", "inv-42", "Other", 11, 24*time.Hour)
	seed(t, repo, "name-old", "X-2", "ACME", 120, 72*time.Hour)

	got, err := New(repo).FindDuplicates(context.Background(), "ws-1", "INV-42", "Acme", 120, "")
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, doc := range got {
		ids = append(ids, doc.ID)
	}
	assert.Equal(t, []string{"number-new", "number-old", "name-new", "name-old"}, ids)
}

func TestFindDuplicatesKeepsOldNumberMatchBehindManySameTotals(t *testing.T) {
	repo := documents.NewMemoryRepo()
	seed(t, repo, "doc-1", "INV-42", "Acme", 120, 48*time.Hour)
	for i := 0; i < 60; i++ {
		seed(t, repo, fmt.Sprintf("sub-%d", i), fmt.Sprintf("SUB-%d", i), "Streamly", 9.99, time.Duration(i)*time.Minute)
	}

	got, err := New(repo).FindDuplicates(context.Background(), "ws-1", "INV-42", "Other Co", 9.99, "")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "doc-1", got[0].ID)
}

func TestFindDuplicatesWithoutKeysSkipsStore(t *testing.T) {
	finder := &stubFinder{err: errors.New("should not be called")}
	got, err := New(finder).FindDuplicates(context.Background(), "ws-1", " ", "", 120, "")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, finder.calls)
}

func TestFindDuplicatesWrapsStoreError(t *testing.T) {
	storeErr := errors.New("db down")
	_, err := New(&stubFinder{err: storeErr}).FindDuplicates(context.Background(), "ws-1", "INV-1", "", 0, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, storeErr)
}

func TestNamesMatch(t *testing.T) {
	d := New(nil)
	tests := []struct {
		a, b string
		want bool
	}{
		{"Acme", "acme", true},
		{"Société Générale", "SOCIETE GENERALE", true},
		{"Acme", "Acme SAS", true},
		{"Orange Business", "Orange Bussiness", true},
		{"EDF", "EDF Entreprises", false},
		{"Acme", "Globex", false},
		{"", "Acme", false},
		{"--", "--", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, d.NamesMatch(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestWithSimilarityTightensMatch(t *testing.T) {
	d := New(nil).WithSimilarity(0.99)
	assert.False(t, d.NamesMatch("Orange Business", "Orange Bussiness"))
	assert.True(t, New(nil).NamesMatch("Orange Business", "Orange Bussiness"))
}

type stubFinder struct {
	calls int
	err   error
	docs  []documents.Document
}

func (s *stubFinder) FindDuplicateCandidates(ctx context.Context, workspaceID, documentNumber string, total float64, excludeID string) ([]documents.Document, error) {
	s.calls++
	return s.docs, s.err
}
