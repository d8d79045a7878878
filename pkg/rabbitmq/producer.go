/**
 * @description
 * Thin RabbitMQ publisher used by the outbox dispatcher. Connects once, declares
 * durable topic exchanges on demand and reopens the channel once on failure.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 * - go.uber.org/zap: Structured logging.
 */
package rabbitmq

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher is implemented by anything that can put an already encoded JSON
// body on an exchange.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
	Close()
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
	logger  *zap.Logger
}

// FallbackProducer drops every message. It is used when RabbitMQ is unavailable at startup.
type FallbackProducer struct {
	Logger *zap.Logger
}

func (p *FallbackProducer) Publish(_ context.Context, exchange, routingKey string, _ []byte) error {
	if p.Logger != nil {
		p.Logger.Warn("publish skipped; broker unavailable",
			zap.String("exchange", exchange),
			zap.String("routing_key", routingKey),
		)
	}
	return nil
}

func (p *FallbackProducer) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer dials RabbitMQ with a bounded timeout.
func NewEventProducer(amqpURL string, logger *zap.Logger) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &EventProducer{conn: conn, channel: ch, logger: logger.With(zap.String("component", "rabbitmq_producer"))}, nil
}

// Publish sends a persistent JSON message to a durable topic exchange.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.publishLocked(ctx, exchange, routingKey, body)
	if err == nil {
		return nil
	}
	p.logger.Warn("publish failed; reopening channel",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey),
		zap.Error(err),
	)
	if p.conn == nil || p.conn.IsClosed() {
		return err
	}
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return errors.Join(err, chErr)
	}
	if p.channel != nil {
		_ = p.channel.Close()
	}
	p.channel = ch
	return p.publishLocked(ctx, exchange, routingKey, body)
}

func (p *EventProducer) publishLocked(ctx context.Context, exchange, routingKey string, body []byte) error {
	if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}
