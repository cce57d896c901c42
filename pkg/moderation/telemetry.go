package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Sample is one moderation telemetry data point for downstream tuning.
type Sample struct {
	MessageID string  `json:"messageId"`
	RoomID    string  `json:"roomId"`
	UserID    string  `json:"userId"`
	MaxScore  float64 `json:"maxScore"`
	Flagged   bool    `json:"flagged"`
	Action    string  `json:"action"`
}

// Telemetry publishes moderation samples. Publish failures never block
// moderation; the engine logs and moves on.
type Telemetry interface {
	Publish(ctx context.Context, sample Sample) error
}

// AMQPTelemetry publishes samples to a fanout exchange.
type AMQPTelemetry struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPTelemetry connects and declares the exchange.
func NewAMQPTelemetry(url, exchange string) (*AMQPTelemetry, error) {
	if exchange == "" {
		exchange = "moderation.telemetry"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPTelemetry{conn: conn, channel: ch, exchange: exchange}, nil
}

func (t *AMQPTelemetry) Publish(ctx context.Context, sample Sample) error {
	body, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	return t.channel.PublishWithContext(ctx, t.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
}

// Close tears down the channel and connection.
func (t *AMQPTelemetry) Close() error {
	if err := t.channel.Close(); err != nil {
		t.conn.Close()
		return err
	}
	return t.conn.Close()
}

// LogTelemetry writes samples to the log. Used when no broker is
// configured.
type LogTelemetry struct {
	logger *slog.Logger
}

func NewLogTelemetry(logger *slog.Logger) *LogTelemetry {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTelemetry{logger: logger}
}

func (t *LogTelemetry) Publish(ctx context.Context, sample Sample) error {
	t.logger.Info("moderation sample",
		"message", sample.MessageID,
		"room", sample.RoomID,
		"user", sample.UserID,
		"maxScore", sample.MaxScore,
		"flagged", sample.Flagged,
		"action", sample.Action,
	)
	return nil
}

// MemoryTelemetry records samples for tests.
type MemoryTelemetry struct {
	mu      sync.Mutex
	samples []Sample
}

func NewMemoryTelemetry() *MemoryTelemetry { return &MemoryTelemetry{} }

func (t *MemoryTelemetry) Publish(ctx context.Context, sample Sample) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, sample)
	return nil
}

// Samples returns a copy of everything published so far.
func (t *MemoryTelemetry) Samples() []Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Sample, len(t.samples))
	copy(out, t.samples)
	return out
}
