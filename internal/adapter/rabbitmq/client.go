// Package rabbitmq carries search events over a durable RabbitMQ queue.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"weatherdash/internal/domain"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	publishTimeout = 5 * time.Second
	maxRetryDelay  = 30 * time.Second
)

// amqpChannel is the part of *amqp.Channel the client uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	IsClosed() bool
	Close() error
}

// session is one live connection with its channel.
type session struct {
	conn    io.Closer
	channel amqpChannel
}

func (s *session) close() error {
	return multierr.Combine(s.channel.Close(), s.conn.Close())
}

type dialFunc func() (*session, error)

// Client publishes and consumes domain.SearchEvent messages. A connection
// lost to a broker restart is redialed on the next publish or by Consume.
type Client struct {
	dial       dialFunc
	queue      string
	log        *zap.Logger
	retryDelay time.Duration

	mu   sync.Mutex // guards sess and publishing on its channel
	sess *session
}

var _ domain.SearchEventPublisher = (*Client)(nil)

// Dial connects to url and declares the durable queue.
func Dial(url, queue string, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dial := func() (*session, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq dial: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("rabbitmq channel: %w", err)
		}
		q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
		if err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("rabbitmq declare %q: %w", queue, err)
		}
		log.Info("rabbitmq queue ready", zap.String("queue", q.Name), zap.Int("messages", q.Messages))
		return &session{conn: conn, channel: ch}, nil
	}
	return newClient(dial, queue, log)
}

func newClient(dial dialFunc, queue string, log *zap.Logger) (*Client, error) {
	c := &Client{dial: dial, queue: queue, log: log, retryDelay: time.Second}
	sess, err := dial()
	if err != nil {
		return nil, err
	}
	c.sess = sess
	return c, nil
}

// Close closes the channel and the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	err := c.sess.close()
	c.sess = nil
	return err
}

// channelLocked returns an open channel, redialing when the current one is
// gone. c.mu must be held.
func (c *Client) channelLocked() (amqpChannel, error) {
	if c.sess != nil && !c.sess.channel.IsClosed() {
		return c.sess.channel, nil
	}
	if c.sess != nil {
		_ = c.sess.close()
		c.sess = nil
	}
	sess, err := c.dial()
	if err != nil {
		return nil, err
	}
	c.log.Info("rabbitmq reconnected", zap.String("queue", c.queue))
	c.sess = sess
	return sess.channel, nil
}

// PublishSearch sends ev as a persistent JSON message. A publish that fails
// on a closed channel is retried once on a fresh connection.
func (c *Client) PublishSearch(ctx context.Context, ev domain.SearchEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode search event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.RecordID.String(),
		Timestamp:    ev.CreatedAt,
		Body:         body,
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	for attempt := 0; ; attempt++ {
		ch, err := c.channelLocked()
		if err != nil {
			return fmt.Errorf("publish search event: %w", err)
		}
		err = ch.PublishWithContext(ctx, "", c.queue, false, false, msg)
		if err == nil {
			return nil
		}
		if attempt > 0 || !errors.Is(err, amqp.ErrClosed) {
			return fmt.Errorf("publish search event: %w", err)
		}
		_ = c.sess.close()
		c.sess = nil
	}
}

// Handler processes one search event.
type Handler func(ctx context.Context, ev domain.SearchEvent) error

// Consume delivers queued events to h until ctx is cancelled. Messages are
// acknowledged manually. When the broker closes the delivery channel the
// client redials with backoff and resumes.
func (c *Client) Consume(ctx context.Context, h Handler) error {
	delay := c.retryDelay
	for {
		msgs, err := c.subscribe()
		if err != nil {
			c.log.Warn("rabbitmq subscribe failed", zap.Error(err), zap.Duration("retry_in", delay))
		} else {
			delay = c.retryDelay
			if done := c.drain(ctx, msgs, h); done {
				return nil
			}
			c.log.Warn("rabbitmq delivery channel closed, reconnecting")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if delay *= 2; delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

func (c *Client) subscribe() (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, err := c.channelLocked()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("rabbitmq qos: %w", err)
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq consume: %w", err)
	}
	c.log.Info("consuming search events", zap.String("queue", c.queue))
	return msgs, nil
}

// drain handles deliveries until ctx is done (true) or msgs closes (false).
func (c *Client) drain(ctx context.Context, msgs <-chan amqp.Delivery, h Handler) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case msg, ok := <-msgs:
			if !ok {
				return false
			}
			c.settle(msg, dispatch(ctx, msg.Body, h, c.log))
		}
	}
}

type outcome int

const (
	ack outcome = iota
	requeue
	discard
)

// dispatch decodes body and runs h. Undecodable or malformed events are
// discarded; other handler errors are requeued.
func dispatch(ctx context.Context, body []byte, h Handler, log *zap.Logger) outcome {
	var ev domain.SearchEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Warn("discarding undecodable message", zap.Error(err), zap.ByteString("body", body))
		return discard
	}
	if err := h(ctx, ev); err != nil {
		if errors.Is(err, domain.ErrMalformedEvent) {
			log.Warn("discarding malformed event", zap.String("record_id", ev.RecordID.String()), zap.Error(err))
			return discard
		}
		log.Error("search event failed, requeueing", zap.String("record_id", ev.RecordID.String()), zap.Error(err))
		return requeue
	}
	return ack
}

func (c *Client) settle(msg amqp.Delivery, o outcome) {
	var err error
	switch o {
	case ack:
		err = msg.Ack(false)
	case requeue:
		err = msg.Nack(false, true)
	case discard:
		err = msg.Nack(false, false)
	}
	if err != nil {
		c.log.Error("settle message", zap.Uint64("delivery_tag", msg.DeliveryTag), zap.Error(err))
	}
}
