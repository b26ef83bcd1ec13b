// Package rabbitmq connects the consumer to RabbitMQ.
package rabbitmq

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"dirindex/internal/broker"
	"dirindex/internal/retry"
)

type Options struct {
	URL          string
	Queue        string
	Exchange     string
	ExchangeType string
	RoutingKey   string
	Prefetch     int
	ConsumerTag  string
	Heartbeat    time.Duration
	Dial         retry.Config
	Logger       *zap.Logger
}

// Conn owns one AMQP connection and channel. Only the goroutine inside
// Consume touches the channel for acknowledgements.
type Conn struct {
	opts      Options
	conn      *amqp.Connection
	ch        *amqp.Channel
	callbacks *broker.CallbackQueue
	logger    *zap.Logger

	pubMu     sync.Mutex
	closeOnce sync.Once
}

func Dial(ctx context.Context, opts Options) (*Conn, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("broker url is required")
	}
	if strings.TrimSpace(opts.Queue) == "" {
		return nil, fmt.Errorf("broker queue is required")
	}
	if opts.ExchangeType == "" {
		opts.ExchangeType = amqp.ExchangeFanout
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 10 * time.Second
	}
	if opts.ConsumerTag == "" {
		opts.ConsumerTag = "dirindex-" + uuid.NewString()
	}
	if opts.Dial.MaxAttempts == 0 && opts.Dial.InitialWait == 0 {
		opts.Dial = retry.DefaultConfig()
		opts.Dial.MaxAttempts = 5
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	conn, err := retry.DoWithResult(ctx, opts.Dial, func() (*amqp.Connection, error) {
		c, err := amqp.DialConfig(opts.URL, amqp.Config{Heartbeat: opts.Heartbeat})
		if err != nil {
			opts.Logger.Warn("broker dial failed", zap.Error(err))
			return nil, retry.Retryable(err)
		}
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	c := &Conn{opts: opts, conn: conn, ch: ch, callbacks: broker.NewCallbackQueue(), logger: opts.Logger}
	if err := c.declare(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) declare() error {
	o := c.opts
	if o.Exchange != "" {
		if err := c.ch.ExchangeDeclare(o.Exchange, o.ExchangeType, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", o.Exchange, err)
		}
	}
	if _, err := c.ch.QueueDeclare(o.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", o.Queue, err)
	}
	if o.Exchange != "" {
		if err := c.ch.QueueBind(o.Queue, o.RoutingKey, o.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", o.Queue, err)
		}
	}
	if err := c.ch.Qos(o.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	return nil
}

func (c *Conn) Consume(ctx context.Context, fn func(broker.Delivery) error) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.opts.Queue, c.opts.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.opts.Queue, err)
	}
	closed := c.conn.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr, ok := <-closed:
			if ok && amqpErr != nil {
				return fmt.Errorf("%w: %v", broker.ErrClosed, amqpErr)
			}
			return broker.ErrClosed
		case <-c.callbacks.Ready():
			if err := broker.RunCallbacks(c.callbacks.Drain()); err != nil {
				return err
			}
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return broker.ErrClosed
			}
			if err := fn(broker.Delivery{Tag: d.DeliveryTag, Body: d.Body}); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) Ack(tag uint64) error {
	return c.ch.Ack(tag, false)
}

func (c *Conn) AddCallbackThreadsafe(cb func() error) error {
	if c.conn.IsClosed() {
		return broker.ErrClosed
	}
	return c.callbacks.Push(cb)
}

// Publish sends one persistent message to the configured exchange, or
// straight to the queue when no exchange is set.
func (c *Conn) Publish(ctx context.Context, body []byte) error {
	exchange, key := c.opts.Exchange, c.opts.RoutingKey
	if exchange == "" {
		key = c.opts.Queue
	}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	return c.ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.callbacks.Close()
		if c.ch != nil {
			_ = c.ch.Close()
		}
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
