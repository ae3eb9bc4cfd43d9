package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/campus-shuttle/internal/config"
	"github.com/iliyamo/campus-shuttle/internal/logger"
)

// AuditConsumer appends every seat and alert event to a log file per
// event kind under Dir.
type AuditConsumer struct {
	URL        string
	SeatQueue  string
	AlertQueue string
	Dir        string
	Backoff    time.Duration
}

// NewAuditConsumer builds a consumer from cfg.
func NewAuditConsumer(cfg config.QueueConfig) *AuditConsumer {
	return &AuditConsumer{
		URL:        cfg.URL,
		SeatQueue:  cfg.SeatQueue,
		AlertQueue: cfg.AlertQueue,
		Dir:        cfg.AuditDir,
		Backoff:    cfg.RetryBackoff,
	}
}

// Run connects, consumes and reconnects with exponential backoff until ctx
// is cancelled.
func (a *AuditConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	maxBackoff := 30 * time.Second
	if a.Backoff > 0 {
		backoff = a.Backoff
	}
	for {
		conn, err := amqp.Dial(a.URL)
		if err != nil {
			logger.Warn(ctx, "audit consumer: dial failed", logger.Err(err), logger.Retry(backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		err = a.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn(ctx, "audit consumer: reconnecting", logger.Err(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (a *AuditConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		logger.Warn(ctx, "audit consumer: set QoS failed", logger.Err(err))
	}
	seats, err := declareAndConsume(ch, a.SeatQueue)
	if err != nil {
		return err
	}
	alerts, err := declareAndConsume(ch, a.AlertQueue)
	if err != nil {
		return err
	}

	for {
		var (
			d  amqp.Delivery
			ok bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok = <-seats:
		case d, ok = <-alerts:
		}
		if !ok {
			return errors.New("deliveries channel closed")
		}
		if err := a.Handle(d.RoutingKey, d.Body); err != nil {
			logger.Error(ctx, "audit consumer: handle message failed", logger.Err(err))
			// Reject without requeue to avoid tight redelivery loops.
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
}

func declareAndConsume(ch *amqp.Channel, queue string) (<-chan amqp.Delivery, error) {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("queue declare %s: %w", queue, err)
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("queue consume %s: %w", queue, err)
	}
	return msgs, nil
}

// Handle decodes one message from queue and appends its audit line.
func (a *AuditConsumer) Handle(queue string, body []byte) error {
	var (
		line string
		file string
	)
	switch queue {
	case a.SeatQueue:
		var ev SeatChangedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal seat event: %w", err)
		}
		line, file = ev.Line(), "seat.log"
	case a.AlertQueue:
		var ev AlertPostedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal alert event: %w", err)
		}
		line, file = ev.Line(), "alert.log"
	default:
		return fmt.Errorf("unexpected queue %q", queue)
	}
	return appendLine(filepath.Join(a.Dir, file), line)
}

func appendLine(path, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
