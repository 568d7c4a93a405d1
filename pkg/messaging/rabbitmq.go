package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// amqpChannel is the part of *amqp.Channel the broker publishes through.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type amqpConnection interface {
	IsClosed() bool
	Close() error
}

// RabbitMQBroker publishes JSON messages to a durable topic exchange.
type RabbitMQBroker struct {
	conn     amqpConnection
	ch       amqpChannel
	exchange string
	cb       *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

func newBroker(conn amqpConnection, ch amqpChannel, exchange string, logger *zap.Logger) *RabbitMQBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RabbitMQBroker{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		cb:       NewCircuitBreaker("RabbitMQ-Publisher", 30*time.Second, logger),
		logger:   logger,
	}
}

// NewRabbitMQBroker dials the broker and declares the exchange.
func NewRabbitMQBroker(amqpURL, exchange string, logger *zap.Logger) (*RabbitMQBroker, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return newBroker(conn, ch, exchange, logger), nil
}

// PublishJSON marshals payload and publishes it under routingKey.
func (b *RabbitMQBroker) PublishJSON(ctx context.Context, routingKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= 0 {
		return ctx.Err()
	}

	_, err = b.cb.Execute(func() (interface{}, error) {
		return nil, b.ch.PublishWithContext(
			ctx,
			b.exchange,
			routingKey,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now().UTC(),
				Body:         body,
			},
		)
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Ready reports whether publishes are currently flowing.
func (b *RabbitMQBroker) Ready() bool {
	return b != nil && b.cb.State() != gobreaker.StateOpen && !b.conn.IsClosed()
}

// Close releases the channel and connection.
func (b *RabbitMQBroker) Close() error {
	if b.ch != nil {
		if err := b.ch.Close(); err != nil {
			return err
		}
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
