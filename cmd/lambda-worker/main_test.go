package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"mail-ingest/internal/queue"
	"mail-ingest/internal/workerproc"
)

type stubHandler struct {
	errs map[string]error
}

func (s stubHandler) Handle(ctx context.Context, t queue.Task) error {
	return s.errs[t.ConnectionID]
}

func record(t *testing.T, id, connectionID string) events.SQSMessage {
	t.Helper()
	body, err := queue.EncodeTask(queue.NewScanTask("ws-1", connectionID, false))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return events.SQSMessage{MessageId: id, Body: string(body)}
}

func TestHandleBatchReportsOnlyRetryableFailures(t *testing.T) {
	h := stubHandler{errs: map[string]error{
		"conn-transient": errors.New("timeout"),
		"conn-gone":      workerproc.ErrProcess{Permanent: true, Err: errors.New("not found")},
	}}
	event := events.SQSEvent{Records: []events.SQSMessage{
		record(t, "m-ok", "conn-ok"),
		record(t, "m-transient", "conn-transient"),
		record(t, "m-gone", "conn-gone"),
		{MessageId: "m-bad", Body: "{nope"},
	}}

	resp := handleBatch(context.Background(), h, event)

	if len(resp.BatchItemFailures) != 1 {
		t.Fatalf("expected 1 failure, got %+v", resp.BatchItemFailures)
	}
	if resp.BatchItemFailures[0].ItemIdentifier != "m-transient" {
		t.Fatalf("unexpected failure id %q", resp.BatchItemFailures[0].ItemIdentifier)
	}
}
