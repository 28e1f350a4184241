package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"mail-ingest/internal/shared/telemetry"
)

// AMQPClient publishes and consumes tasks on a durable RabbitMQ queue.
type AMQPClient struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// DialAMQP connects and declares the durable task queue.
func DialAMQP(url, queueName string) (*AMQPClient, error) {
	if url == "" {
		return nil, errors.New("AMQP_URL is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp declare %s: %w", queueName, err)
	}
	return &AMQPClient{conn: conn, ch: ch, queue: queueName}, nil
}

// Send publishes a persistent task message.
func (c *AMQPClient) Send(ctx context.Context, t Task) error {
	payload, err := EncodeTask(t)
	if err != nil {
		return fmt.Errorf("encode amqp message: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	err = c.ch.PublishWithContext(ctx, "", c.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         string(t.Kind),
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

// Consume delivers message bodies to handle until ctx ends. A handler error requeues the
// delivery once; a second failure drops it.
func (c *AMQPClient) Consume(ctx context.Context, prefetch int, handle func(context.Context, []byte) error) error {
	if prefetch <= 0 {
		prefetch = 1
	}
	c.mu.Lock()
	if err := c.ch.Qos(prefetch, 0, false); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("amqp qos: %w", err)
	}
	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("amqp consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp delivery channel closed")
			}
			if err := handle(ctx, d.Body); err != nil {
				requeue := !d.Redelivered
				telemetry.Warn("queue.amqp.nack", map[string]any{
					"queue":   c.queue,
					"requeue": requeue,
					"error":   err.Error(),
				})
				_ = d.Nack(false, requeue)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Close tears down the channel and connection.
func (c *AMQPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

var _ Client = (*AMQPClient)(nil)
