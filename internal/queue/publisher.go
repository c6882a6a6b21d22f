package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// channel is the subset of *amqp.Channel the publisher needs.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// DefaultDialTimeout bounds connecting and the AMQP handshake, so an
// unreachable broker delays a request by at most this much.
const DefaultDialTimeout = 2 * time.Second

// Publisher sends domain events to RabbitMQ.  It dials per publish, which
// keeps it stateless and tolerant of broker restarts at the cost of a
// connection per event.  Errors are logged and returned so callers can
// choose to ignore them.
type Publisher struct {
	url         string
	log         *zap.Logger
	now         func() time.Time
	dialTimeout time.Duration
}

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{
		url:         url,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
		dialTimeout: DefaultDialTimeout,
	}
}

// WithDialTimeout changes the dial bound; values <= 0 are ignored.
func (p *Publisher) WithDialTimeout(d time.Duration) *Publisher {
	if d > 0 {
		p.dialTimeout = d
	}
	return p
}

// dial connects within the dial timeout or ctx's deadline, whichever is
// sooner.
func (p *Publisher) dial(ctx context.Context) (*amqp.Connection, error) {
	timeout := p.dialTimeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}
	return amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
}

// PublishBookingConfirmed publishes ev to the booking.confirmed queue.
func (p *Publisher) PublishBookingConfirmed(ctx context.Context, ev BookingConfirmedEvent) error {
	return p.publish(ctx, BookingConfirmedQueue, ev)
}

// PublishSeatsReleased publishes ev to the seats.released queue.
func (p *Publisher) PublishSeatsReleased(ctx context.Context, ev SeatsReleasedEvent) error {
	return p.publish(ctx, SeatsReleasedQueue, ev)
}

func (p *Publisher) publish(ctx context.Context, queue string, payload interface{}) error {
	conn, err := p.dial(ctx)
	if err != nil {
		p.log.Warn("rabbitmq: dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Warn("rabbitmq: channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	return p.publishOn(ctx, ch, queue, payload)
}

// publishOn declares queue (durable, idempotent) and publishes payload as
// a persistent JSON message through the default exchange.
func (p *Publisher) publishOn(ctx context.Context, ch channel, queue string, payload interface{}) error {
	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	); err != nil {
		p.log.Warn("rabbitmq: queue declare failed", zap.String("queue", queue), zap.Error(err))
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn("rabbitmq: marshal event failed", zap.Error(err))
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		Timestamp:    p.now(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key = queue name
		false, // mandatory
		false, // immediate
		pub,
	); err != nil {
		p.log.Warn("rabbitmq: publish failed", zap.String("queue", queue), zap.Error(err))
		return err
	}
	return nil
}
