package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"mail-ingest/internal/bootstrap"
	"mail-ingest/internal/queue"
	"mail-ingest/internal/shared/config"
	"mail-ingest/internal/shared/metrics"
	"mail-ingest/internal/shared/telemetry"
	"mail-ingest/internal/workerproc"
)

const (
	defaultVisibilitySeconds  = 1200
	defaultWorkerConcurrency  = 4
	defaultShutdownTimeoutSec = 30
)

// taskHandler runs one decoded task.
type taskHandler interface {
	Handle(ctx context.Context, t queue.Task) error
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	concurrency := max(1, envInt("WORKER_CONCURRENCY", defaultWorkerConcurrency))
	shutdownTimeout := time.Duration(envInt("SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownTimeoutSec)) * time.Second

	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}()

	switch {
	case app.SQS != nil:
		visibility := envInt("SQS_VISIBILITY_TIMEOUT_SECONDS", defaultVisibilitySeconds)
		log.Printf("worker started backend=sqs queue=%s concurrency=%d visibility=%ds", app.SQS.QueueURL, concurrency, visibility)
		pollSQS(ctx, app.SQS.API, app.SQS.QueueURL, app.Processor, concurrency, visibility, shutdownTimeout)
	case app.AMQP != nil:
		log.Printf("worker started backend=amqp queue=%s prefetch=%d", cfg.AMQPQueue, concurrency)
		if err := app.AMQP.Consume(ctx, concurrency, func(ctx context.Context, body []byte) error {
			return retryable(handleBody(ctx, app.Processor, string(body), nil))
		}); err != nil {
			log.Printf("amqp consume: %v", err)
		}
	default:
		// The in-memory queue only reaches tasks sent by this process, so the worker
		// drives the scheduler itself.
		log.Printf("worker started backend=memory; running scheduler in-process")
		go drainMemory(ctx, app.MemoryQueue, app.Processor)
		if err := app.Scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("scheduler: %v", err)
		}
	}
	log.Printf("worker stopped")
}

func pollSQS(ctx context.Context, client sqsAPI, queueURL string, proc taskHandler, concurrency, visibilitySeconds int, shutdownTimeout time.Duration) {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		resp, err := client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   int32(visibilitySeconds),
			AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			log.Printf("receive message: %v", err)
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				// In-flight tasks finish even after shutdown is requested.
				handleMessage(context.WithoutCancel(ctx), client, queueURL, proc, m)
			}(msg)
		}
	}

	log.Printf("shutdown requested, waiting up to %s for in-flight tasks", shutdownTimeout)
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownTimeout):
		log.Printf("shutdown timeout reached; exiting with in-flight tasks")
	}
}

// handleMessage runs one SQS message and deletes it unless it should be redelivered.
func handleMessage(ctx context.Context, client sqsAPI, queueURL string, proc taskHandler, msg sqstypes.Message) {
	fields := baseFields(msg)
	if retryable(handleBody(ctx, proc, aws.ToString(msg.Body), fields)) != nil {
		return
	}
	deleteMessage(ctx, client, queueURL, msg)
}

// handleBody decodes and runs a task. A nil return or an unrecoverable error means the
// delivery is done; any other error asks for redelivery.
func handleBody(ctx context.Context, proc taskHandler, body string, fields map[string]any) error {
	if fields == nil {
		fields = map[string]any{}
	}
	metrics.IncTaskReceived()

	t, meta, err := workerproc.ParseTask(body)
	if err != nil {
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		fields["error"] = err.Error()
		telemetry.Error("worker.task.rejected", fields)
		metrics.IncTaskDropped()
		return err
	}

	fields["kind"] = string(t.Kind)
	if t.RequestID != "" {
		fields["request_id"] = t.RequestID
	}
	if t.ConnectionID != "" {
		fields["connectionId"] = t.ConnectionID
	}
	if t.DocumentID != "" {
		fields["documentId"] = t.DocumentID
	}
	telemetry.Info("worker.task.received", fields)

	if err := proc.Handle(ctx, t); err != nil {
		fields["error"] = err.Error()
		if workerproc.IsUnrecoverable(err) {
			telemetry.Warn("worker.task.dropped", fields)
			metrics.IncTaskDropped()
			return err
		}
		telemetry.Error("worker.task.failed", fields)
		metrics.IncTaskFailed()
		return err
	}

	telemetry.Info("worker.task.completed", fields)
	metrics.IncTaskCompleted()
	return nil
}

// retryable keeps only errors that should lead to redelivery.
func retryable(err error) error {
	if err == nil || workerproc.IsUnrecoverable(err) {
		return nil
	}
	return err
}

func drainMemory(ctx context.Context, q *queue.MemoryQueue, proc taskHandler) {
	if q == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-q.Tasks():
			body, err := queue.EncodeTask(t)
			if err != nil {
				log.Printf("encode memory task: %v", err)
				continue
			}
			_ = handleBody(ctx, proc, string(body), nil)
		}
	}
}

func deleteMessage(ctx context.Context, client sqsAPI, queueURL string, msg sqstypes.Message) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		fields := baseFields(msg)
		fields["error"] = "missing receipt handle"
		telemetry.Error("worker.task.delete_failed", fields)
		return false
	}
	if _, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		fields := baseFields(msg)
		fields["error"] = err.Error()
		telemetry.Error("worker.task.delete_failed", fields)
		return false
	}
	return true
}

func baseFields(msg sqstypes.Message) map[string]any {
	return map[string]any{
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes["ApproximateReceiveCount"]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}
