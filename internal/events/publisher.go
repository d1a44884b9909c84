// Package events publishes monitor and rollback events to a RabbitMQ topic
// exchange. Consumers bind queues with routing-key patterns such as
// "rollback.*".
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/zvirb/comandind-sub004/internal/domain"
)

// Exchange is the topic exchange every event is published to
const Exchange = "depmon.events"

// Routing keys
const (
	KeyBreakerOpened     = "breaker.opened"
	KeyCascadeRisk       = "cascade.risk"
	KeyRollbackQueued    = "rollback.queued"
	KeyRollbackFinished  = "rollback.finished"
	KeyRecoveryRequested = "recovery.requested"
)

const publishTimeout = 5 * time.Second

// Envelope wraps every published payload
type Envelope struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// channel is the subset of *amqp091.Channel the publisher needs
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Publisher sends events over a single AMQP channel. amqp091 channels are
// not safe for concurrent publishing, so sends are serialised.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	ch       channel
	exchange string
	logger   *zap.Logger
	now      func() time.Time
}

// Dial connects to the broker and declares the topic exchange
func Dial(url string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		Exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	p := newPublisher(ch, logger)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		ch:       ch,
		exchange: Exchange,
		logger:   logger,
		now:      time.Now,
	}
}

// Close closes the channel and connection
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, key string, payload any) error {
	env := Envelope{
		EventID:    uuid.NewString(),
		Type:       key,
		OccurredAt: p.now().UTC(),
		Payload:    payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", key, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    env.EventID,
		Timestamp:    env.OccurredAt,
		Type:         key,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	p.logger.Debug("event published", zap.String("routing_key", key), zap.String("event_id", env.EventID))
	return nil
}

func (p *Publisher) PublishBreakerOpened(ctx context.Context, state domain.CircuitBreakerState) error {
	return p.publish(ctx, KeyBreakerOpened, state)
}

func (p *Publisher) PublishCascadeRisk(ctx context.Context, risk domain.CascadeRisk) error {
	return p.publish(ctx, KeyCascadeRisk, risk)
}

func (p *Publisher) PublishRollbackQueued(ctx context.Context, op domain.RollbackOperation) error {
	return p.publish(ctx, KeyRollbackQueued, op)
}

func (p *Publisher) PublishRollbackFinished(ctx context.Context, op domain.RollbackOperation) error {
	return p.publish(ctx, KeyRollbackFinished, op)
}

// InitiateRecovery hands a prevention action to the external recovery
// system listening on recovery.requested
func (p *Publisher) InitiateRecovery(ctx context.Context, action domain.PreventionAction) error {
	return p.publish(ctx, KeyRecoveryRequested, action)
}

// Noop discards every event. Used when no broker is configured.
type Noop struct{}

func (Noop) PublishBreakerOpened(context.Context, domain.CircuitBreakerState) error { return nil }

func (Noop) PublishCascadeRisk(context.Context, domain.CascadeRisk) error { return nil }

func (Noop) PublishRollbackQueued(context.Context, domain.RollbackOperation) error { return nil }

func (Noop) PublishRollbackFinished(context.Context, domain.RollbackOperation) error { return nil }
