package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED, FAILED
	Attempts      int
	DedupeKey     string
}

// OutboxBatch is the result of one relay pass.
type OutboxBatch struct {
	Published int
	Failed    int
	Oldest    time.Time
}

// InsertOutbox enqueues a record. A repeated dedupe key is ignored.
func (r *Repository) InsertOutbox(ctx context.Context, record OutboxRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6)
		ON CONFLICT (dedupe_key) DO NOTHING
	`, record.ID, record.AggregateType, record.AggregateID, record.EventType, record.Payload, record.DedupeKey)
	return mapErr(err)
}

// RelayOutbox locks up to limit NEW records, hands each to send in creation
// order and records the outcome in the same transaction. A record that fails
// maxAttempts times is parked as FAILED.
func (r *Repository) RelayOutbox(ctx context.Context, limit, maxAttempts int, send func(OutboxRecord) error) (OutboxBatch, error) {
	var batch OutboxBatch
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		batch = OutboxBatch{}
		records, err := unpublishedOutbox(ctx, tx, limit)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if batch.Oldest.IsZero() || rec.CreatedAt.Before(batch.Oldest) {
				batch.Oldest = rec.CreatedAt
			}
			if sendErr := send(rec); sendErr != nil {
				status := "NEW"
				if rec.Attempts+1 >= maxAttempts {
					status = "FAILED"
				}
				if _, err := tx.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1, status = $2 WHERE id = $1`, rec.ID, status); err != nil {
					return err
				}
				batch.Failed++
				continue
			}
			if _, err := tx.Exec(ctx, `
				UPDATE outbox SET status = 'PUBLISHED', published_at = now(), attempts = attempts + 1 WHERE id = $1
			`, rec.ID); err != nil {
				return err
			}
			batch.Published++
		}
		return nil
	})
	if err != nil {
		return OutboxBatch{}, errors.Wrap(err, "relay outbox")
	}
	return batch, nil
}

func unpublishedOutbox(ctx context.Context, tx pgx.Tx, limit int) ([]OutboxRecord, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, attempts, dedupe_key
		FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload, &rec.CreatedAt,
			&rec.PublishedAt, &rec.Status, &rec.Attempts, &rec.DedupeKey)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
