// Package rabbitmq bridges the engine to a RabbitMQ broker. The Publisher
// announces interrupts and final answers so an out-of-band client can
// collect the human value; the Worker consumes those values and resumes
// the suspended threads.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/conductor/internal/logging"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultEventQueue  = "conductor.events"
	DefaultResumeQueue = "conductor.resume"

	publishTimeout = 5 * time.Second
)

// Config describes the broker connection and queue layout.
type Config struct {
	URL string `mapstructure:"url" yaml:"url"`
	// Exchange is empty for the default exchange, in which case events are
	// routed straight to EventQueue.
	Exchange    string `mapstructure:"exchange" yaml:"exchange"`
	EventQueue  string `mapstructure:"event_queue" yaml:"event_queue"`
	ResumeQueue string `mapstructure:"resume_queue" yaml:"resume_queue"`
	Prefetch    int    `mapstructure:"prefetch" yaml:"prefetch"`
	Durable     bool   `mapstructure:"durable" yaml:"durable"`
}

func (c Config) withDefaults() Config {
	if c.EventQueue == "" {
		c.EventQueue = DefaultEventQueue
	}
	if c.ResumeQueue == "" {
		c.ResumeQueue = DefaultResumeQueue
	}
	return c
}

// Channel is the subset of *amqp.Channel the adapter uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Conn owns a broker connection and its channel.
type Conn struct {
	Config
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects, applies the prefetch and declares both queues.
func Dial(cfg Config) (*Conn, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq: url is required")
	}
	cfg = cfg.withDefaults()
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("rabbitmq: set qos: %w", err)
		}
	}
	for _, q := range []string{cfg.EventQueue, cfg.ResumeQueue} {
		if _, err := ch.QueueDeclare(q, cfg.Durable, !cfg.Durable, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("rabbitmq: declare %s: %w", q, err)
		}
	}
	return &Conn{Config: cfg, conn: conn, ch: ch}, nil
}

// Channel returns the underlying channel.
func (c *Conn) Channel() Channel { return c.ch }

func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Notification is the message body published for each announced event.
type Notification struct {
	ID        string                   `json:"id"`
	Type      domain.EventType         `json:"type"`
	ThreadID  string                   `json:"thread_id"`
	Timestamp time.Time                `json:"timestamp"`
	Stage     string                   `json:"stage,omitempty"`
	Interrupt *domain.InterruptRequest `json:"interrupt,omitempty"`
	Answer    string                   `json:"answer,omitempty"`
}

// Publisher turns suspend and final lifecycle events into broker messages.
type Publisher struct {
	ch       Channel
	exchange string
	queue    string
	durable  bool
	logger   *slog.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher publishes on ch using the exchange and event queue of cfg.
func NewPublisher(ch Channel, cfg Config, opts ...PublisherOption) *Publisher {
	cfg = cfg.withDefaults()
	p := &Publisher{
		ch:       ch,
		exchange: cfg.Exchange,
		queue:    cfg.EventQueue,
		durable:  cfg.Durable,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RoutingKey is the event queue on the default exchange and
// "conductor.<type>" on a named one.
func (p *Publisher) RoutingKey(t domain.EventType) string {
	if p.exchange == "" {
		return p.queue
	}
	return "conductor." + string(t)
}

// Publish sends n. It outlives the caller's cancellation so a turn that
// just finished still gets announced.
func (p *Publisher) Publish(ctx context.Context, n Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("rabbitmq: encode notification: %w", err)
	}
	msg := amqp.Publishing{
		ContentType: "application/json",
		MessageId:   n.ID,
		Timestamp:   n.Timestamp,
		Type:        string(n.Type),
		Headers:     amqp.Table{"thread_id": n.ThreadID},
		Body:        body,
	}
	if p.durable {
		msg.DeliveryMode = amqp.Persistent
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.ch.PublishWithContext(ctx, p.exchange, p.RoutingKey(n.Type), false, false, msg); err != nil {
		return fmt.Errorf("rabbitmq: publish %s: %w", n.Type, err)
	}
	return nil
}

// Hooks announces suspensions and final answers. Publish failures are
// logged; they never fail the turn.
func (p *Publisher) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnSuspend: func(ctx context.Context, e *domain.InterruptEvent) {
			req := e.Request
			p.send(ctx, Notification{
				Type:      e.Type,
				ThreadID:  e.ThreadID,
				Timestamp: e.Timestamp,
				Stage:     e.Stage,
				Interrupt: &req,
			})
		},
		OnFinal: func(ctx context.Context, e *domain.FinalEvent) {
			p.send(ctx, Notification{
				Type:      e.Type,
				ThreadID:  e.ThreadID,
				Timestamp: e.Timestamp,
				Answer:    e.Answer,
			})
		},
	}
}

func (p *Publisher) send(ctx context.Context, n Notification) {
	if err := p.Publish(ctx, n); err != nil {
		p.logger.WarnContext(ctx, "notification not published", "thread_id", n.ThreadID, "type", n.Type, "err", err)
	}
}
