package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/robertarktes/group-seat-bookings/internal/adapters/crdb"
	"github.com/robertarktes/group-seat-bookings/internal/observability"
)

type Relay interface {
	RelayOutbox(ctx context.Context, limit, maxAttempts int, send func(crdb.OutboxRecord) error) (crdb.OutboxBatch, error)
}

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Publisher moves outbox records to the broker on a fixed interval.
type Publisher struct {
	relay       Relay
	broker      Broker
	logger      observability.Logger
	batch       int
	maxAttempts int
	now         func() time.Time
}

func NewPublisher(relay Relay, broker Broker, logger observability.Logger, batch int) *Publisher {
	if batch <= 0 {
		batch = 50
	}
	return &Publisher{relay: relay, broker: broker, logger: logger, batch: batch, maxAttempts: 10, now: time.Now}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				batch, err := p.RunOnce(ctx)
				if err != nil {
					p.logger.WithError(err).Error("outbox relay failed")
					break
				}
				// Drain quickly while full batches keep succeeding.
				if batch.Published < p.batch {
					break
				}
			}
		}
	}
}

func (p *Publisher) RunOnce(ctx context.Context) (crdb.OutboxBatch, error) {
	batch, err := p.relay.RelayOutbox(ctx, p.batch, p.maxAttempts, func(rec crdb.OutboxRecord) error {
		return p.broker.Publish(ctx, rec.EventType, amqp.Publishing{
			MessageId:    rec.DedupeKey,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    rec.CreatedAt,
			Type:         rec.EventType,
			Body:         rec.Payload,
		})
	})
	if err != nil {
		return batch, err
	}
	if batch.Oldest.IsZero() {
		observability.OutboxLag.Set(0)
	} else {
		observability.OutboxLag.Set(p.now().Sub(batch.Oldest).Seconds())
	}
	if batch.Failed > 0 {
		p.logger.WithField("failed", batch.Failed).Warn("outbox records not delivered")
	}
	return batch, nil
}
