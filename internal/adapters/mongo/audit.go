package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/robertarktes/group-seat-bookings/internal/domain"
	"github.com/robertarktes/group-seat-bookings/internal/observability"
)

// AuditLogger mirrors invite events and ledger postings into audit_logs.
// It satisfies invite.NotificationPort and ledger.Auditor.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
	now    func() time.Time
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
		now:    time.Now,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	Subject   string    `bson:"subject"`
	UserID    string    `bson:"user_id,omitempty"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) EnsureIndexes(ctx context.Context) error {
	_, err := a.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "subject", Value: 1}, {Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "action", Value: 1}}},
	})
	return err
}

// LogEvent inserts one entry. The id makes retries of the same event a
// duplicate-key no-op.
func (a *AuditLogger) LogEvent(ctx context.Context, id uuid.UUID, action, subject string, userID uuid.UUID, data bson.M) error {
	log := AuditLog{
		ID:        id.String(),
		Action:    action,
		Subject:   subject,
		Timestamp: a.now().UTC(),
		Data:      data,
	}
	if userID != uuid.Nil {
		log.UserID = userID.String()
	}
	_, err := a.coll.InsertOne(ctx, log)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		a.logger.WithField("action", action).WithError(err).Error("failed to insert audit log")
		return err
	}
	return nil
}

func (a *AuditLogger) Publish(ctx context.Context, evt domain.Event) error {
	data := bson.M{
		"showtime_id": evt.ShowtimeID.String(),
		"version":     evt.Version,
		"occurred_at": evt.OccurredAt,
	}
	if len(evt.Seats) > 0 {
		data["seats"] = evt.Seats
	}
	for k, v := range evt.Data {
		data[k] = v
	}
	return a.LogEvent(ctx, evt.ID, string(evt.Type), "invite:"+evt.InviteCode, evt.UserID, data)
}

func (a *AuditLogger) LogTransaction(ctx context.Context, tx domain.Transaction) error {
	data := bson.M{
		"type":           string(tx.Type),
		"amount":         tx.Amount,
		"balance_before": tx.BalanceBefore,
		"balance_after":  tx.BalanceAfter,
		"currency":       tx.Currency,
		"status":         string(tx.Status),
	}
	if tx.Metadata.InviteCode != "" {
		data["invite_code"] = tx.Metadata.InviteCode
	}
	if tx.Metadata.RelatedTxID != uuid.Nil {
		data["related_tx_id"] = tx.Metadata.RelatedTxID.String()
	}
	return a.LogEvent(ctx, tx.ID, "ledger."+string(tx.Category), "wallet:"+tx.WalletID.String(), uuid.Nil, data)
}

// History returns the entries for subject, oldest first.
func (a *AuditLogger) History(ctx context.Context, subject string, limit int64) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx, bson.M{"subject": subject},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}).SetLimit(limit))
	if err != nil {
		return nil, err
	}
	var out []AuditLog
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
