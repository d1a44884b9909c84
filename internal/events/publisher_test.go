package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zvirb/comandind-sub004/internal/domain"
	"github.com/zvirb/comandind-sub004/internal/monitor"
	"github.com/zvirb/comandind-sub004/internal/rollback"
)

var (
	_ monitor.EventSink        = (*Publisher)(nil)
	_ monitor.RecoveryExecutor = (*Publisher)(nil)
	_ rollback.EventSink       = (*Publisher)(nil)
	_ monitor.EventSink        = Noop{}
	_ rollback.EventSink       = Noop{}
)

type sent struct {
	exchange string
	key      string
	msg      amqp091.Publishing
}

type fakeChannel struct {
	sent   []sent
	err    error
	closed bool
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, sent{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestPublisherRoutingKeys(t *testing.T) {
	ctx := context.Background()
	ch := &fakeChannel{}
	p := newPublisher(ch, nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	require.NoError(t, p.PublishBreakerOpened(ctx, domain.CircuitBreakerState{Service: "api", Dependency: "redis", State: domain.BreakerOpen}))
	require.NoError(t, p.PublishCascadeRisk(ctx, domain.CascadeRisk{RootService: "postgres", RiskScore: 0.7}))
	require.NoError(t, p.PublishRollbackQueued(ctx, domain.RollbackOperation{RollbackID: "r1"}))
	require.NoError(t, p.PublishRollbackFinished(ctx, domain.RollbackOperation{RollbackID: "r1", Status: domain.RollbackCompleted}))
	require.NoError(t, p.InitiateRecovery(ctx, domain.PreventionAction{ID: "api:redis"}))

	var keys []string
	for _, s := range ch.sent {
		assert.Equal(t, Exchange, s.exchange)
		assert.Equal(t, "application/json", s.msg.ContentType)
		assert.Equal(t, amqp091.Persistent, s.msg.DeliveryMode)
		assert.Equal(t, fixed, s.msg.Timestamp)
		assert.NotEmpty(t, s.msg.MessageId)
		keys = append(keys, s.key)
	}
	assert.Equal(t, []string{
		KeyBreakerOpened, KeyCascadeRisk, KeyRollbackQueued, KeyRollbackFinished, KeyRecoveryRequested,
	}, keys)
}

func TestPublisherEnvelope(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher(ch, nil)

	require.NoError(t, p.PublishCascadeRisk(context.Background(), domain.CascadeRisk{
		RootService:      "postgres",
		AffectedServices: []string{"api", "webui"},
		RiskScore:        0.42,
	}))
	require.Len(t, ch.sent, 1)

	var env struct {
		EventID string             `json:"event_id"`
		Type    string             `json:"type"`
		Payload domain.CascadeRisk `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(ch.sent[0].msg.Body, &env))
	assert.Equal(t, ch.sent[0].msg.MessageId, env.EventID)
	assert.Equal(t, KeyCascadeRisk, env.Type)
	assert.Equal(t, "postgres", env.Payload.RootService)
	assert.Equal(t, []string{"api", "webui"}, env.Payload.AffectedServices)
}

func TestPublisherErrors(t *testing.T) {
	ch := &fakeChannel{err: amqp091.ErrClosed}
	p := newPublisher(ch, nil)

	err := p.InitiateRecovery(context.Background(), domain.PreventionAction{ID: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, amqp091.ErrClosed))
	assert.Contains(t, err.Error(), KeyRecoveryRequested)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}
