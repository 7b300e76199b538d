// Package rabbitmq publishes forecast products to a durable RabbitMQ queue
// with publisher confirms and mandatory routing.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/hml-forecast-producer/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const contentTypeJSON = "application/json"

// Options configures a Publisher.
type Options struct {
	URL            string
	Queue          string
	Heartbeat      time.Duration
	ConnectTimeout time.Duration
	// PublishTimeout bounds one publish including its confirm.
	PublishTimeout time.Duration
}

// Publisher sends each product to the default exchange routed to Queue and
// waits for the broker's confirm. It implements pipeline.Publisher.
//
// Once a transport error is seen the publisher stays broken: every later
// Publish returns domain.ErrConnectionLost without touching the connection.
type Publisher struct {
	queue   string
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	returns chan amqp.Return
	closed  chan *amqp.Error
	broken  error
}

// Dial connects, opens a confirm-mode channel, and declares the durable
// queue. Any failure here means no product can be delivered.
func Dial(opts Options, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp.DialConfig(opts.URL, amqp.Config{
		Heartbeat: opts.Heartbeat,
		Dial:      amqp.DefaultDial(opts.ConnectTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %w", domain.ErrConnectionLost, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: open channel: %w", domain.ErrConnectionLost, err)
	}

	if _, err := ch.QueueDeclare(opts.Queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: declare queue %s: %w", domain.ErrConnectionLost, opts.Queue, err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: enable confirms: %w", domain.ErrConnectionLost, err)
	}

	p := &Publisher{
		queue:   opts.Queue,
		timeout: opts.PublishTimeout,
		logger:  logger,
		conn:    conn,
		ch:      ch,
		returns: ch.NotifyReturn(make(chan amqp.Return, 1)),
		closed:  conn.NotifyClose(make(chan *amqp.Error, 1)),
	}
	logger.Info("connected to rabbitmq", "queue", opts.Queue, "heartbeat", opts.Heartbeat)
	return p, nil
}

// Publish sends one product and returns once it is confirmed. A message the
// broker could not route to the queue returns domain.ErrUnroutable, a nack
// returns domain.ErrRejected, and transport trouble returns
// domain.ErrConnectionLost.
func (p *Publisher) Publish(ctx context.Context, product domain.ForecastProduct) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkConnection(); err != nil {
		return err
	}

	body, err := domain.Serialize(product)
	if err != nil {
		return err
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, "", p.queue, true, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  contentTypeJSON,
		MessageId:    product.ID,
		Timestamp:    product.IssuanceTime,
		Body:         body,
	})
	if err != nil {
		return p.markBroken(fmt.Errorf("publish %s: %w", product.ID, err))
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return p.markBroken(fmt.Errorf("await confirm for %s: %w", product.ID, err))
	}
	return confirmOutcome(product.ID, acked, p.drainReturns())
}

// confirmOutcome classifies a confirmed publish. The broker sends basic.return
// before the ack of an unroutable mandatory message, so the return is already
// queued when the confirm arrives.
func confirmOutcome(id string, acked bool, returned []amqp.Return) error {
	for _, r := range returned {
		if r.MessageId == id {
			return fmt.Errorf("%s: %w: %d %s", id, domain.ErrUnroutable, r.ReplyCode, r.ReplyText)
		}
	}
	if !acked {
		return fmt.Errorf("%s: %w", id, domain.ErrRejected)
	}
	return nil
}

func (p *Publisher) drainReturns() []amqp.Return {
	var out []amqp.Return
	for {
		select {
		case r, ok := <-p.returns:
			if !ok {
				return out
			}
			out = append(out, r)
		default:
			return out
		}
	}
}

func (p *Publisher) checkConnection() error {
	if p.broken != nil {
		return p.broken
	}
	select {
	case amqpErr, ok := <-p.closed:
		if !ok || amqpErr == nil {
			return p.markBroken(errors.New("connection closed"))
		}
		return p.markBroken(amqpErr)
	default:
	}
	if p.conn.IsClosed() {
		return p.markBroken(errors.New("connection closed"))
	}
	return nil
}

func (p *Publisher) markBroken(err error) error {
	if p.broken == nil {
		p.broken = fmt.Errorf("%w: %w", domain.ErrConnectionLost, err)
		p.logger.Error("rabbitmq connection unusable", "queue", p.queue, "error", err)
	}
	return p.broken
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}
