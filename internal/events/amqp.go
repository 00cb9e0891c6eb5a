package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/P-KIALA/E-Results-20-sub000/pkg/logging"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes envelopes to a durable topic exchange.
type AMQPPublisher struct {
	exchange    string
	openChannel func() (amqpChannel, error)
	closeConn   func() error
	now         func() time.Time
	logger      *logging.Logger
}

var (
	_ Publisher       = (*AMQPPublisher)(nil)
	_ DeliveryHandler = (*AMQPPublisher)(nil)
)

// DialAMQP connects and declares the exchange.
func DialAMQP(url, exchange string, logger *logging.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = logging.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: amqp channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{
		exchange: exchange,
		openChannel: func() (amqpChannel, error) {
			return conn.Channel()
		},
		closeConn: conn.Close,
		now:       time.Now,
		logger:    logger,
	}, nil
}

// Publish wraps the event in an envelope and sends it immediately.
func (p *AMQPPublisher) Publish(ctx context.Context, event StatusChanged) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal event: %w", err)
	}
	return p.publish(ctx, event.RoutingKey(), TypeStatusChanged, "", data)
}

// Handle delivers one outbox entry.
func (p *AMQPPublisher) Handle(ctx context.Context, entry OutboxEntry) error {
	return p.publish(ctx, entry.RoutingKey, entry.Type, entry.ID.String(), entry.Payload)
}

func (p *AMQPPublisher) publish(ctx context.Context, key, eventType, id string, data json.RawMessage) error {
	if id == "" {
		id = uuid.NewString()
	}
	now := p.now().UTC()
	body, err := json.Marshal(Envelope{
		Meta: Meta{ID: id, Type: eventType, Time: now, Producer: producerName},
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}

	ch, err := p.openChannel()
	if err != nil {
		return fmt.Errorf("events: amqp channel: %w", err)
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Type:         eventType,
		Timestamp:    now,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", key, err)
	}
	p.logger.Debug("event published", "key", key, "exchange", p.exchange, "event_id", id)
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.closeConn == nil {
		return nil
	}
	return p.closeConn()
}
