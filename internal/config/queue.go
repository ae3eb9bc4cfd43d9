package config

import "time"

// QueueConfig holds RabbitMQ and audit log settings. An empty URL disables
// event publishing and the audit consumer.
type QueueConfig struct {
	URL          string
	SeatQueue    string
	AlertQueue   string
	AuditDir     string
	RetryBackoff time.Duration
}

// LoadQueueConfig reads RABBITMQ_URL (or AMQP_URL) and the queue names.
func LoadQueueConfig() QueueConfig {
	return QueueConfig{
		URL:          envStr("RABBITMQ_URL", envStr("AMQP_URL", "")),
		SeatQueue:    envStr("SEAT_EVENTS_QUEUE", "seat.changed"),
		AlertQueue:   envStr("ALERT_EVENTS_QUEUE", "alert.posted"),
		AuditDir:     envStr("AUDIT_LOG_DIR", "logs"),
		RetryBackoff: envDur("QUEUE_RETRY_BACKOFF", 5*time.Second),
	}
}
