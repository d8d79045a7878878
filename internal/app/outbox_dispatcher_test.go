package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/votefest/wallet-service/internal/store"
	"github.com/votefest/wallet-service/pkg/rabbitmq"
)

type stubOutboxRepo struct {
	claimed   []store.OutboxMessage
	published []int64
	failed    map[int64]int
}

func (r *stubOutboxRepo) ClaimOutboxMessages(_ context.Context, limit int, _ int) ([]store.OutboxMessage, error) {
	out := r.claimed
	r.claimed = nil
	return out, nil
}

func (r *stubOutboxRepo) MarkOutboxPublished(_ context.Context, id int64) error {
	r.published = append(r.published, id)
	return nil
}

func (r *stubOutboxRepo) MarkOutboxFailed(_ context.Context, id int64, retryAfterSeconds int, _ string) error {
	if r.failed == nil {
		r.failed = make(map[int64]int)
	}
	r.failed[id] = retryAfterSeconds
	return nil
}

type stubPublisher struct {
	failKeys map[string]bool
	sent     []string
	closed   int
}

func (p *stubPublisher) Publish(_ context.Context, exchange, routingKey string, body []byte) error {
	if p.failKeys[routingKey] {
		return errors.New("channel closed")
	}
	p.sent = append(p.sent, exchange+"/"+routingKey+"/"+string(body))
	return nil
}

func (p *stubPublisher) Close() { p.closed++ }

func TestOutboxDispatcher_PublishesAndMarks(t *testing.T) {
	repo := &stubOutboxRepo{claimed: []store.OutboxMessage{
		{ID: 1, Exchange: "votefest.events", RoutingKey: "wallet.credited", Payload: []byte(`{"a":1}`)},
		{ID: 2, Exchange: "votefest.events", RoutingKey: "vote.cast", Payload: []byte(`{"b":2}`), Attempts: 3},
		{ID: 3, Exchange: "votefest.events", RoutingKey: "wallet.debited", Payload: []byte(`{}`)},
	}}
	pub := &stubPublisher{failKeys: map[string]bool{"vote.cast": true}}
	dials := 0
	d := NewOutboxDispatcher(repo, func() (rabbitmq.Publisher, error) {
		dials++
		return pub, nil
	}, 0, nil, nil)

	require.NoError(t, d.flushOnce(context.Background()))

	assert.Equal(t, []int64{1, 3}, repo.published)
	assert.Equal(t, map[int64]int{2: 8}, repo.failed)
	assert.Equal(t, []string{
		`votefest.events/wallet.credited/{"a":1}`,
		`votefest.events/wallet.debited/{}`,
	}, pub.sent)
	assert.Equal(t, 2, dials)
	assert.Equal(t, 1, pub.closed)
}

func TestOutboxDispatcher_DialFailureMarksFailed(t *testing.T) {
	repo := &stubOutboxRepo{claimed: []store.OutboxMessage{{ID: 9, RoutingKey: "wallet.credited", Payload: []byte(`{}`)}}}
	d := NewOutboxDispatcher(repo, func() (rabbitmq.Publisher, error) {
		return nil, errors.New("broker unreachable")
	}, 0, nil, nil)

	require.NoError(t, d.flushOnce(context.Background()))
	assert.Empty(t, repo.published)
	assert.Equal(t, map[int64]int{9: 1}, repo.failed)
}

func TestRetryDelaySeconds(t *testing.T) {
	assert.Equal(t, 1, retryDelaySeconds(0))
	assert.Equal(t, 2, retryDelaySeconds(1))
	assert.Equal(t, 8, retryDelaySeconds(3))
	assert.Equal(t, 256, retryDelaySeconds(8))
	assert.Equal(t, 256, retryDelaySeconds(20))
}
