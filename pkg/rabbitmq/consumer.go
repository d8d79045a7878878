package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Handler processes one delivery body. Returning false re-queues the message.
type Handler func(ctx context.Context, body []byte) bool

type Consumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *zap.Logger
}

func NewConsumer(amqpURL string, logger *zap.Logger) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch, logger: logger.With(zap.String("component", "rabbitmq_consumer"))}, nil
}

// ConsumeWithBindings binds queueName to every routing key and dispatches
// deliveries until ctx is cancelled or the channel closes.
func (c *Consumer) ConsumeWithBindings(ctx context.Context, exchange, queueName string, bindings map[string]Handler) error {
	if len(bindings) == 0 {
		return fmt.Errorf("no bindings provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := c.ch.Qos(16, 0, false); err != nil {
		return err
	}

	handlers := make(map[string]Handler, len(bindings))
	for routingKey, handler := range bindings {
		if handler == nil {
			continue
		}
		handlers[routingKey] = handler
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					c.logger.Warn("delivery channel closed")
					return
				}
				c.dispatch(ctx, handlers, d)
			}
		}
	}()
	return nil
}

func (c *Consumer) dispatch(ctx context.Context, handlers map[string]Handler, d amqp.Delivery) {
	handler, ok := handlers[d.RoutingKey]
	if !ok {
		c.logger.Warn("no handler for routing key; acknowledging to drop", zap.String("routing_key", d.RoutingKey))
		_ = d.Ack(false)
		return
	}
	if handler(ctx, d.Body) {
		_ = d.Ack(false)
		return
	}
	c.logger.Warn("handler failed; re-queuing", zap.String("routing_key", d.RoutingKey))
	_ = d.Nack(false, true)
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
