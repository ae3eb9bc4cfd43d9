// Package service publishes domain events to RabbitMQ. Publishing is best
// effort: failures are logged and returned, and callers carry on.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/campus-shuttle/internal/config"
	"github.com/iliyamo/campus-shuttle/internal/logger"
	"github.com/iliyamo/campus-shuttle/internal/queue"
)

// ErrDisabled is returned when no broker URL is configured.
var ErrDisabled = errors.New("event publishing disabled")

// Publisher sends events to durable queues on the default exchange. A
// nil Publisher, or one without a URL, drops every event.
type Publisher struct {
	url        string
	seatQueue  string
	alertQueue string
}

// NewPublisher returns a publisher for cfg.
func NewPublisher(cfg config.QueueConfig) *Publisher {
	return &Publisher{url: cfg.URL, seatQueue: cfg.SeatQueue, alertQueue: cfg.AlertQueue}
}

// SeatChanged publishes ev to the seat queue.
func (p *Publisher) SeatChanged(ctx context.Context, ev queue.SeatChangedEvent) error {
	if p == nil {
		return ErrDisabled
	}
	return p.Publish(ctx, p.seatQueue, ev)
}

// AlertPosted publishes ev to the alert queue.
func (p *Publisher) AlertPosted(ctx context.Context, ev queue.AlertPostedEvent) error {
	if p == nil {
		return ErrDisabled
	}
	return p.Publish(ctx, p.alertQueue, ev)
}

// Publish sends v as a persistent JSON message to name. Each call dials its
// own connection; event volume is a few taps per minute per vehicle.
func (p *Publisher) Publish(ctx context.Context, name string, v any) error {
	if p == nil || p.url == "" {
		return ErrDisabled
	}
	body, err := json.Marshal(v)
	if err != nil {
		logger.Warn(ctx, "rabbitmq: marshal event failed", logger.Err(err))
		return err
	}
	conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: amqp.DefaultDial(5 * time.Second)})
	if err != nil {
		logger.Warn(ctx, "rabbitmq: dial failed", logger.Err(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		logger.Warn(ctx, "rabbitmq: channel open failed", logger.Err(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	// Idempotent; durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		logger.Warn(ctx, "rabbitmq: queue declare failed", logger.Err(err))
		return err
	}
	err = ch.PublishWithContext(ctx, "", name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		logger.Warn(ctx, "rabbitmq: publish failed", logger.Err(err))
		return err
	}
	return nil
}
