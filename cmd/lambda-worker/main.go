package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"log"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"mail-ingest/internal/bootstrap"
	"mail-ingest/internal/queue"
	"mail-ingest/internal/shared/config"
	"mail-ingest/internal/shared/metrics"
	"mail-ingest/internal/shared/telemetry"
	"mail-ingest/internal/workerproc"
)

type taskHandler interface {
	Handle(ctx context.Context, t queue.Task) error
}

var (
	initOnce sync.Once
	initErr  error
	proc     taskHandler
)

func initApp() {
	cfg := config.Load()
	app, err := bootstrap.Build(cfg)
	if err != nil {
		initErr = err
		return
	}
	proc = app.Processor
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		log.Printf("bootstrap error: %v", initErr)
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, initErr
	}
	return handleBatch(ctx, proc, event), nil
}

// handleBatch reports only the records worth redelivering; unrecoverable ones are dropped.
func handleBatch(ctx context.Context, p taskHandler, event events.SQSEvent) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range event.Records {
		metrics.IncTaskReceived()
		fields := map[string]any{"sqs_message_id": record.MessageId}

		t, _, err := workerproc.ParseTask(record.Body)
		if err == nil {
			fields["kind"] = string(t.Kind)
			err = p.Handle(ctx, t)
		}
		switch {
		case err == nil:
			metrics.IncTaskCompleted()
		case workerproc.IsUnrecoverable(err):
			fields["error"] = err.Error()
			telemetry.Warn("worker.task.dropped", fields)
			metrics.IncTaskDropped()
		default:
			fields["error"] = err.Error()
			telemetry.Error("worker.task.failed", fields)
			metrics.IncTaskFailed()
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func main() {
	lambda.Start(handler)
}
