package outbox

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/robertarktes/group-seat-bookings/internal/adapters/crdb"
	"github.com/robertarktes/group-seat-bookings/internal/domain"
)

type Store interface {
	InsertOutbox(ctx context.Context, record crdb.OutboxRecord) error
}

// Notifier enqueues invite events for the relay.
type Notifier struct {
	store Store
}

func NewNotifier(store Store) *Notifier {
	return &Notifier{store: store}
}

func (n *Notifier) Publish(ctx context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	return n.store.InsertOutbox(ctx, crdb.OutboxRecord{
		ID:            evt.ID,
		AggregateType: "invite_group",
		AggregateID:   evt.InviteCode,
		EventType:     string(evt.Type),
		Payload:       payload,
		DedupeKey:     evt.ID.String(),
	})
}

type EventPublisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// Fanout delivers each event to every target and reports all failures.
type Fanout []EventPublisher

func NewFanout(targets ...EventPublisher) Fanout {
	return Fanout(targets)
}

func (f Fanout) Publish(ctx context.Context, evt domain.Event) error {
	var errs error
	for _, t := range f {
		if err := t.Publish(ctx, evt); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}
