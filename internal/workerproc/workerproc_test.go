package workerproc

import (
	"context"
	"errors"
	"testing"

	"mail-ingest/internal/connections"
	"mail-ingest/internal/documents"
	"mail-ingest/internal/mailsync"
	"mail-ingest/internal/queue"
)

type fakeScans struct {
	res   mailsync.TriggerResult
	err   error
	calls []string
}

func (f *fakeScans) TriggerScan(_ context.Context, connectionID string) (mailsync.TriggerResult, error) {
	f.calls = append(f.calls, connectionID)
	return f.res, f.err
}

func encode(t *testing.T, task queue.Task) string {
	t.Helper()
	b, err := queue.EncodeTask(task)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return string(b)
}

func TestParseTaskEmptyBody(t *testing.T) {
	_, _, err := ParseTask("   ")
	var empty ErrEmptyBody
	if !errors.As(err, &empty) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
	if !IsUnrecoverable(err) {
		t.Fatalf("empty body should be unrecoverable")
	}
}

func TestParseTaskInvalidJSON(t *testing.T) {
	_, meta, err := ParseTask("{not json")
	var decode ErrDecode
	if !errors.As(err, &decode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if meta.BodyLen != len("{not json") || meta.BodySHA == "" {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestParseTaskRejectsIncompleteTasks(t *testing.T) {
	cases := []queue.Task{
		{Kind: queue.KindScan, Version: 1},
		{Kind: queue.KindDocumentIngested, WorkspaceID: "ws-1", Version: 1},
		{Kind: "reindex", Version: 1},
		{Kind: queue.KindScan, ConnectionID: "c1", Version: queue.TaskVersion + 1},
	}
	for _, task := range cases {
		_, _, err := ParseTask(encode(t, task))
		var invalid ErrInvalidTask
		if !errors.As(err, &invalid) {
			t.Fatalf("task %+v: expected ErrInvalidTask, got %v", task, err)
		}
		if invalid.Meta.BodySHA == "" {
			t.Fatalf("expected meta on invalid task error")
		}
	}
}

func TestHandleScanTask(t *testing.T) {
	scans := &fakeScans{res: mailsync.TriggerResult{Success: true, ScannedCount: 2}}
	p := &Processor{Scans: scans}

	err := p.HandleBody(context.Background(), []byte(encode(t, queue.NewScanTask("ws-1", "conn-1", true))))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scans.calls) != 1 || scans.calls[0] != "conn-1" {
		t.Fatalf("unexpected scan calls %v", scans.calls)
	}
}

func TestHandleScanFailureInResultIsDone(t *testing.T) {
	p := &Processor{Scans: &fakeScans{res: mailsync.TriggerResult{Success: false, Message: "reconnect"}}}
	if err := p.Handle(context.Background(), queue.NewScanTask("ws-1", "conn-1", false)); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestHandleScanInProgress(t *testing.T) {
	p := &Processor{Scans: &fakeScans{res: mailsync.TriggerResult{InProgress: true}}}
	err := p.Handle(context.Background(), queue.NewScanTask("ws-1", "conn-1", false))
	if !errors.Is(err, mailsync.ErrScanInProgress) {
		t.Fatalf("expected ErrScanInProgress, got %v", err)
	}
	if !IsUnrecoverable(err) {
		t.Fatalf("in-progress scans should not be redelivered")
	}
}

func TestHandleScanErrors(t *testing.T) {
	cases := []struct {
		err       error
		permanent bool
	}{
		{mailsync.ErrConnectionInactive, true},
		{connections.ErrNotFound, true},
		{errors.New("database unavailable"), false},
	}
	for _, tc := range cases {
		p := &Processor{Scans: &fakeScans{err: tc.err}}
		err := p.Handle(context.Background(), queue.NewScanTask("ws-1", "conn-1", false))
		var proc ErrProcess
		if !errors.As(err, &proc) {
			t.Fatalf("expected ErrProcess, got %v", err)
		}
		if IsUnrecoverable(err) != tc.permanent {
			t.Fatalf("%v: expected permanent=%v", tc.err, tc.permanent)
		}
	}
}

func TestHandleDocumentIngested(t *testing.T) {
	repo := documents.NewMemoryRepo()
	if err := repo.Create(context.Background(), documents.Document{ID: "doc-1", WorkspaceID: "ws-1", Total: 10}); err != nil {
		t.Fatalf("create: %v", err)
	}
	p := &Processor{Documents: repo}

	if err := p.Handle(context.Background(), queue.NewDocumentIngestedTask("ws-1", "doc-1", "m1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := p.Handle(context.Background(), queue.NewDocumentIngestedTask("ws-1", "doc-missing", "m1"))
	if !IsUnrecoverable(err) {
		t.Fatalf("missing document should be unrecoverable, got %v", err)
	}
}

func TestHandleWithoutServicesIsRetryable(t *testing.T) {
	p := &Processor{}
	err := p.Handle(context.Background(), queue.NewScanTask("ws-1", "conn-1", false))
	if err == nil || IsUnrecoverable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}
