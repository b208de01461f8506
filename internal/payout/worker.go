package payout

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/robertarktes/group-seat-bookings/internal/domain"
	"github.com/robertarktes/group-seat-bookings/internal/ledger"
	"github.com/robertarktes/group-seat-bookings/internal/observability"
)

// Settlement is the message the bank integration posts when a transfer
// finishes.
type Settlement struct {
	TransactionID uuid.UUID `json:"transaction_id" validate:"required"`
	Succeeded     bool      `json:"succeeded"`
	ExternalRef   string    `json:"external_ref"`
}

type Settler interface {
	SettlePayout(ctx context.Context, txID uuid.UUID, succeeded bool, externalRef string) (*ledger.PayoutSettlement, error)
}

type Worker struct {
	settler  Settler
	logger   observability.Logger
	validate *validator.Validate
}

func NewWorker(settler Settler, logger observability.Logger) *Worker {
	return &Worker{settler: settler, logger: logger, validate: validator.New()}
}

// Handle applies one settlement message. Messages that can never succeed
// (bad payload, unknown or already settled payout) return a permanent error.
func (w *Worker) Handle(ctx context.Context, body []byte) error {
	var s Settlement
	if err := json.Unmarshal(body, &s); err != nil {
		return permanent(errors.Wrap(err, "decode settlement"))
	}
	if err := w.validate.Struct(s); err != nil {
		return permanent(errors.Wrap(domain.ErrInvalidInput, err.Error()))
	}
	res, err := w.settler.SettlePayout(ctx, s.TransactionID, s.Succeeded, s.ExternalRef)
	if err != nil {
		if domain.IsExpected(err) && domain.ReasonOf(err) != domain.ReasonConflict {
			return permanent(err)
		}
		return err
	}
	log := w.logger.WithField("tx_id", s.TransactionID).WithField("status", res.Payout.Status)
	if res.Reversal != nil {
		log = log.WithField("reversal_id", res.Reversal.ID)
	}
	log.Info("payout settled")
	return nil
}

// Run consumes deliveries until ctx ends or the channel closes. Transient
// failures are requeued once; anything else is dropped.
func (w *Worker) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			err := w.Handle(ctx, d.Body)
			switch {
			case err == nil:
				_ = d.Ack(false)
			case IsPermanent(err):
				w.logger.WithField("message_id", d.MessageId).WithError(err).Error("dropping payout settlement")
				_ = d.Nack(false, false)
			default:
				w.logger.WithField("message_id", d.MessageId).WithError(err).Warn("payout settlement failed")
				_ = d.Nack(false, !d.Redelivered)
			}
		}
	}
}

var errPermanent = errors.New("permanent")

func permanent(err error) error {
	return errors.Mark(err, errPermanent)
}

func IsPermanent(err error) bool {
	return errors.Is(err, errPermanent)
}
