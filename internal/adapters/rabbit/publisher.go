package rabbit

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/robertarktes/group-seat-bookings/internal/observability"
)

const EventsExchange = "groupbooking.events"

// Publisher sends to a durable topic exchange on a confirm-mode channel.
type Publisher struct {
	ch       *amqp.Channel
	exchange string
	attempts int
	backoff  time.Duration
}

func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	err = ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}
	if err := ch.Confirm(false); err != nil {
		return nil, errors.Wrap(err, "confirm mode")
	}
	return &Publisher{ch: ch, exchange: exchange, attempts: 3, backoff: 200 * time.Millisecond}, nil
}

// Publish waits for the broker ack and retries a nack or channel error a
// few times.
func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	var lastErr error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 {
			observability.RabbitPublishRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff << (attempt - 1)):
			}
		}
		conf, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, key, true, false, msg)
		if err != nil {
			lastErr = err
			continue
		}
		acked, err := conf.WaitContext(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if acked {
			return nil
		}
		lastErr = errors.Newf("broker nacked %s", key)
	}
	return errors.Wrapf(lastErr, "publish %s after %d attempts", key, p.attempts)
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
