package rabbitmq_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/conductor/pkg/adapters/rabbitmq"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/ports"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	published  []published
	publishErr error
	deliveries chan amqp.Delivery
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange, key, msg})
	return nil
}

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) Close() error { return nil }

type outcome struct {
	acked, requeued bool
	rejected        bool
}

type fakeAck struct {
	mu   sync.Mutex
	tags map[uint64]outcome
	done chan uint64
}

func newAck() *fakeAck {
	return &fakeAck{tags: map[uint64]outcome{}, done: make(chan uint64, 16)}
}

func (a *fakeAck) record(tag uint64, o outcome) error {
	a.mu.Lock()
	a.tags[tag] = o
	a.mu.Unlock()
	a.done <- tag
	return nil
}

func (a *fakeAck) Ack(tag uint64, _ bool) error { return a.record(tag, outcome{acked: true}) }

func (a *fakeAck) Nack(tag uint64, _ bool, requeue bool) error {
	return a.record(tag, outcome{requeued: requeue})
}

func (a *fakeAck) Reject(tag uint64, _ bool) error { return a.record(tag, outcome{rejected: true}) }

func (a *fakeAck) get(tag uint64) outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tags[tag]
}

type resumer struct {
	mu    sync.Mutex
	calls []ports.ResumeRequest
	err   map[string]error
}

func (r *resumer) Resume(_ context.Context, req ports.ResumeRequest) (*ports.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req)
	if err := r.err[req.ThreadID]; err != nil {
		return nil, err
	}
	return &ports.Result{ThreadID: req.ThreadID, Status: domain.StatusTerminated}, nil
}

func TestPublisher_Hooks(t *testing.T) {
	ch := &fakeChannel{}
	p := rabbitmq.NewPublisher(ch, rabbitmq.Config{Durable: true})
	hooks := p.Hooks()

	hooks.OnSuspend(context.Background(), &domain.InterruptEvent{
		EventBase: domain.NewBase(domain.EventSuspend, "t1"),
		Stage:     "mail",
		Request:   domain.InterruptRequest{Name: "ask_user", Type: domain.InterruptInputField},
	})
	hooks.OnFinal(context.Background(), &domain.FinalEvent{
		EventBase: domain.NewBase(domain.EventFinal, "t1"),
		Answer:    "done",
	})

	require.Len(t, ch.published, 2)
	first := ch.published[0]
	assert.Equal(t, "", first.exchange)
	assert.Equal(t, rabbitmq.DefaultEventQueue, first.key)
	assert.Equal(t, amqp.Persistent, first.msg.DeliveryMode)
	assert.Equal(t, "t1", first.msg.Headers["thread_id"])
	assert.NotEmpty(t, first.msg.MessageId)

	var n rabbitmq.Notification
	require.NoError(t, json.Unmarshal(first.msg.Body, &n))
	assert.Equal(t, domain.EventSuspend, n.Type)
	assert.Equal(t, "mail", n.Stage)
	require.NotNil(t, n.Interrupt)
	assert.Equal(t, "ask_user", n.Interrupt.Name)

	require.NoError(t, json.Unmarshal(ch.published[1].msg.Body, &n))
	assert.Equal(t, "done", n.Answer)
}

func TestPublisher_NamedExchangeRouting(t *testing.T) {
	p := rabbitmq.NewPublisher(&fakeChannel{}, rabbitmq.Config{Exchange: "events"})
	assert.Equal(t, "conductor.final", p.RoutingKey(domain.EventFinal))
}

func TestPublisher_FailureDoesNotPanic(t *testing.T) {
	ch := &fakeChannel{publishErr: errors.New("channel closed")}
	p := rabbitmq.NewPublisher(ch, rabbitmq.Config{})
	err := p.Publish(context.Background(), rabbitmq.Notification{Type: domain.EventFinal, ThreadID: "t1"})
	assert.ErrorContains(t, err, "channel closed")

	assert.NotPanics(t, func() {
		p.Hooks().OnFinal(context.Background(), &domain.FinalEvent{EventBase: domain.NewBase(domain.EventFinal, "t1")})
	})
}

func TestPublisher_SurvivesCancelledTurn(t *testing.T) {
	ch := &fakeChannel{}
	p := rabbitmq.NewPublisher(ch, rabbitmq.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Publish(ctx, rabbitmq.Notification{Type: domain.EventFinal, ThreadID: "t1"}))
	assert.Len(t, ch.published, 1)
}

func TestWorker_AcknowledgesByOutcome(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery, 4)}
	ack := newAck()
	r := &resumer{err: map[string]error{
		"gone":  domain.ErrThreadNotFound,
		"flaky": errors.New("model overloaded"),
	}}
	w := rabbitmq.NewWorker(ch, rabbitmq.Config{}, r, rabbitmq.WithWorkers(2))

	deliver := func(tag uint64, body string) {
		ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: []byte(body)}
	}
	deliver(1, `{"thread_id":"t1","name":"ask_user","value":"ana@example.com"}`)
	deliver(2, `{"thread_id":"gone","name":"ask_user"}`)
	deliver(3, `not json`)
	deliver(4, `{"thread_id":"flaky","name":"ask_user"}`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for i := 0; i < 4; i++ {
		select {
		case <-ack.done:
		case <-time.After(2 * time.Second):
			t.Fatal("delivery not settled")
		}
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.True(t, ack.get(1).acked)
	assert.True(t, ack.get(2).rejected)
	assert.True(t, ack.get(3).rejected)
	four := ack.get(4)
	assert.False(t, four.acked || four.rejected || four.requeued, "transient failures are dead-lettered, not requeued")

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Len(t, r.calls, 3)
}

func TestWorker_StopsWhenDeliveriesClose(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery)}
	close(ch.deliveries)
	w := rabbitmq.NewWorker(ch, rabbitmq.Config{}, &resumer{})
	assert.NoError(t, w.Run(context.Background()))
}

func TestDial_RequiresURL(t *testing.T) {
	_, err := rabbitmq.Dial(rabbitmq.Config{})
	assert.Error(t, err)
}
