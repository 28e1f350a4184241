package mailsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mail-ingest/internal/connections"
	"mail-ingest/internal/dedupe"
	"mail-ingest/internal/documents"
	"mail-ingest/internal/extraction"
	"mail-ingest/internal/gmail"
	"mail-ingest/internal/processed"
	"mail-ingest/internal/queue"
	"mail-ingest/internal/shared/storage/object"
)

const testWorkspace = "ws-1"

type fakeMailbox struct {
	mu          sync.Mutex
	pages       [][]gmail.MessageRef
	messages    map[string]gmail.Message
	attachments map[string][]byte
	failAttach  map[string]error
	listErr     error
	listCalls   int
	getCalls    int
	queries     []string
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		messages:    map[string]gmail.Message{},
		attachments: map[string][]byte{},
		failAttach:  map[string]error{},
	}
}

// addPDFMessage registers a message carrying one PDF attachment per filename.
func (m *fakeMailbox) addPDFMessage(id string, filenames ...string) {
	root := &gmail.Part{
		MimeType: "multipart/mixed",
		Headers: []gmail.Header{
			{Name: "Subject", Value: "Votre facture " + id},
			{Name: "From", Value: "billing@acme.test"},
			{Name: "Date", Value: "Mon, 02 Mar 2026 10:00:00 +0100"},
		},
		Parts: []*gmail.Part{{MimeType: "text/plain", Body: gmail.Body{Data: "aGVsbG8"}}},
	}
	for i, name := range filenames {
		attID := fmt.Sprintf("%s-att-%d", id, i)
		root.Parts = append(root.Parts, &gmail.Part{
			MimeType: "application/pdf",
			Filename: name,
			Body:     gmail.Body{AttachmentID: attID},
		})
		m.attachments[id+"/"+attID] = []byte("%PDF-1.4 " + id + " " + name)
	}
	m.messages[id] = gmail.Message{ID: id, ThreadID: "t-" + id, Payload: root}
}

// setPages lays out the search results, one slice per page.
func (m *fakeMailbox) setPages(pages ...[]string) {
	m.pages = nil
	for _, ids := range pages {
		var refs []gmail.MessageRef
		for _, id := range ids {
			refs = append(refs, gmail.MessageRef{ID: id})
		}
		m.pages = append(m.pages, refs)
	}
}

// ListMessages serves whole pages regardless of maxResults.
func (m *fakeMailbox) ListMessages(_ context.Context, _, query, pageToken string, _ int) (gmail.ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	m.queries = append(m.queries, query)
	if m.listErr != nil {
		return gmail.ListResult{}, m.listErr
	}
	page := 0
	if pageToken != "" {
		page, _ = strconv.Atoi(pageToken)
	}
	if page >= len(m.pages) {
		return gmail.ListResult{}, nil
	}
	out := gmail.ListResult{Messages: m.pages[page]}
	if page+1 < len(m.pages) {
		out.NextPageToken = strconv.Itoa(page + 1)
	}
	return out, nil
}

func (m *fakeMailbox) GetMessage(_ context.Context, _, id string) (gmail.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	msg, ok := m.messages[id]
	if !ok {
		return gmail.Message{}, &gmail.APIError{StatusCode: 404, Message: "not found"}
	}
	return msg, nil
}

func (m *fakeMailbox) GetAttachment(_ context.Context, _, messageID, attachmentID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failAttach[messageID]; ok {
		return nil, err
	}
	data, ok := m.attachments[messageID+"/"+attachmentID]
	if !ok {
		return nil, errors.New("attachment not found")
	}
	return data, nil
}

type fakeTokens struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeTokens) EnsureValidToken(context.Context, connections.Connection) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "access-token", nil
}

type fakeExtractor struct {
	mu      sync.Mutex
	calls   int
	batches int
	fail    map[string]error
	data    map[string]map[string]any
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{fail: map[string]error{}, data: map[string]map[string]any{}}
}

func (f *fakeExtractor) Extract(_ context.Context, in extraction.Input) (extraction.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.fail[in.FileName]; ok {
		return extraction.Result{}, err
	}
	data, ok := f.data[in.FileName]
	if !ok {
		data = map[string]any{
			"documentType":  "invoice",
			"invoiceNumber": "F-" + strings.TrimSuffix(in.FileName, ".pdf"),
			"vendor":        map[string]any{"name": "Acme"},
			"totalTTC":      float64(100 + len(in.FileName)),
			"currency":      "EUR",
		}
	}
	return extraction.Result{Data: data, Confidence: 0.9, Model: "test-model", SchemaValid: true}, nil
}

func (f *fakeExtractor) ExtractBatch(ctx context.Context, inputs []extraction.Input) []extraction.BatchItem {
	f.mu.Lock()
	f.batches++
	f.mu.Unlock()
	out := make([]extraction.BatchItem, len(inputs))
	for i, in := range inputs {
		res, err := f.Extract(ctx, in)
		out[i] = extraction.BatchItem{Result: res, Err: err}
	}
	return out
}

type fakeStore struct {
	mu      sync.Mutex
	uploads []object.UploadInput
	fail    map[string]error
}

func (s *fakeStore) Upload(_ context.Context, in object.UploadInput) (object.Stored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.fail[in.FileName]; ok {
		return object.Stored{}, err
	}
	s.uploads = append(s.uploads, in)
	key := fmt.Sprintf("%s/%s/%d-%s", in.ScopeID, in.Category, len(s.uploads), in.FileName)
	return object.Stored{Key: key, URL: "file://" + key, Size: int64(len(in.Data)), MimeType: in.ContentType}, nil
}

func (s *fakeStore) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

type fixture struct {
	conns     *connections.MemoryRepo
	processed *processed.MemoryRepo
	docs      *documents.MemoryRepo
	mailbox   *fakeMailbox
	tokens    *fakeTokens
	extractor *fakeExtractor
	store     *fakeStore
	tasks     *queue.MemoryQueue
	pipeline  *Pipeline
	scanner   *Scanner
	sleeps    int
	conn      connections.Connection
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		conns:     connections.NewMemoryRepo(),
		processed: processed.NewMemoryRepo(),
		docs:      documents.NewMemoryRepo(),
		mailbox:   newFakeMailbox(),
		tokens:    &fakeTokens{},
		extractor: newFakeExtractor(),
		store:     &fakeStore{fail: map[string]error{}},
		tasks:     queue.NewMemory(64),
	}
	f.pipeline = &Pipeline{
		Store:     f.store,
		Extractor: f.extractor,
		Dedupe:    dedupe.New(f.docs),
		Documents: f.docs,
		Tasks:     f.tasks,
	}
	f.scanner = NewScanner(f.conns, f.processed, f.mailbox, f.tokens, f.pipeline, opts)
	f.scanner.sleep = func(context.Context, time.Duration) error {
		f.sleeps++
		return nil
	}

	conn, err := f.conns.Upsert(context.Background(), connections.Connection{
		ID:               "conn-1",
		WorkspaceID:      testWorkspace,
		UserID:           "user-1",
		AccountEmail:     "owner@example.com",
		ScanPeriodMonths: 3,
	})
	require.NoError(t, err)
	f.conn = conn
	return f
}

func (f *fixture) connection(t *testing.T) connections.Connection {
	t.Helper()
	conn, err := f.conns.Get(context.Background(), f.conn.ID)
	require.NoError(t, err)
	return conn
}

func (f *fixture) records(t *testing.T) []processed.Record {
	t.Helper()
	recs, err := f.processed.ListByConnection(context.Background(), f.conn.ID, 200)
	require.NoError(t, err)
	return recs
}

func (f *fixture) documents(t *testing.T) []documents.Document {
	t.Helper()
	docs, err := f.docs.List(context.Background(), testWorkspace, documents.ListFilter{Limit: 100})
	require.NoError(t, err)
	return docs
}

type failingQueue struct{}

func (failingQueue) Send(context.Context, queue.Task) error { return queue.ErrQueueFull }
