package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	"github.com/robertarktes/group-seat-bookings/internal/domain"
)

// InviteStore persists invite groups. It satisfies invite.Repository.
type InviteStore struct {
	r *Repository
}

func (r *Repository) Invites() *InviteStore {
	return &InviteStore{r: r}
}

const inviteColumns = `invite_code, host_id, showtime_id, owner_id, requested_seats, total_slots,
	available_slots, participants, total_amount, paid_amount, price_breakdown, coupon_used, status,
	expires_at, completed_at, cancelled_at, version, created_at, updated_at`

type inviteDocs struct {
	seats, participants, prices []byte
}

func encodeInvite(g *domain.InviteGroup) (inviteDocs, error) {
	var (
		d   inviteDocs
		err error
	)
	if d.seats, err = json.Marshal(g.RequestedSeats); err != nil {
		return d, errors.Wrap(err, "encode seats")
	}
	participants := g.Participants
	if participants == nil {
		participants = []domain.Participant{}
	}
	if d.participants, err = json.Marshal(participants); err != nil {
		return d, errors.Wrap(err, "encode participants")
	}
	if d.prices, err = json.Marshal(g.PriceBreakdown); err != nil {
		return d, errors.Wrap(err, "encode price breakdown")
	}
	return d, nil
}

func (s *InviteStore) Create(ctx context.Context, g *domain.InviteGroup) error {
	d, err := encodeInvite(g)
	if err != nil {
		return err
	}
	res, err := s.r.pool.Exec(ctx, `
		INSERT INTO invite_groups (`+inviteColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (invite_code) DO NOTHING
	`, g.InviteCode, g.HostID, g.ShowtimeID, g.OwnerID, d.seats, g.TotalSlotsRequested,
		g.AvailableSlots, d.participants, g.TotalAmount, g.PaidAmount, d.prices, g.CouponUsed, string(g.Status),
		g.ExpiresAt, g.CompletedAt, g.CancelledAt, g.Version, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	if res.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrConflict, "invite code %s taken", g.InviteCode)
	}
	return nil
}

func (s *InviteStore) Get(ctx context.Context, inviteCode string) (*domain.InviteGroup, error) {
	row := s.r.pool.QueryRow(ctx, `SELECT `+inviteColumns+` FROM invite_groups WHERE invite_code = $1`, inviteCode)
	g, err := scanInvite(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "invite %s", inviteCode)
	}
	return g, err
}

// Apply is the versioned conditional write: the row is only replaced when
// nobody else has written since expectedVersion was read.
func (s *InviteStore) Apply(ctx context.Context, g *domain.InviteGroup, expectedVersion int64) error {
	d, err := encodeInvite(g)
	if err != nil {
		return err
	}
	res, err := s.r.pool.Exec(ctx, `
		UPDATE invite_groups SET
			requested_seats = $3, available_slots = $4, participants = $5, paid_amount = $6,
			status = $7, completed_at = $8, cancelled_at = $9, updated_at = $10, version = version + 1
		WHERE invite_code = $1 AND version = $2
	`, g.InviteCode, expectedVersion, d.seats, g.AvailableSlots, d.participants, g.PaidAmount,
		string(g.Status), g.CompletedAt, g.CancelledAt, g.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	if res.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrConflict, "invite %s changed since version %d", g.InviteCode, expectedVersion)
	}
	g.Version = expectedVersion + 1
	return nil
}

func (s *InviteStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.InviteGroup, error) {
	rows, err := s.r.pool.Query(ctx, `
		SELECT `+inviteColumns+` FROM invite_groups
		WHERE status IN ('pending', 'active', 'payment_pending') AND expires_at <= $1
		ORDER BY expires_at ASC LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*domain.InviteGroup
	for rows.Next() {
		g, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanInvite(row pgx.Row) (*domain.InviteGroup, error) {
	var (
		g      domain.InviteGroup
		d      inviteDocs
		status string
	)
	err := row.Scan(&g.InviteCode, &g.HostID, &g.ShowtimeID, &g.OwnerID, &d.seats, &g.TotalSlotsRequested,
		&g.AvailableSlots, &d.participants, &g.TotalAmount, &g.PaidAmount, &d.prices, &g.CouponUsed, &status,
		&g.ExpiresAt, &g.CompletedAt, &g.CancelledAt, &g.Version, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	g.Status = domain.InviteStatus(status)
	if err := json.Unmarshal(d.seats, &g.RequestedSeats); err != nil {
		return nil, errors.Wrap(err, "decode seats")
	}
	if err := json.Unmarshal(d.participants, &g.Participants); err != nil {
		return nil, errors.Wrap(err, "decode participants")
	}
	if err := json.Unmarshal(d.prices, &g.PriceBreakdown); err != nil {
		return nil, errors.Wrap(err, "decode price breakdown")
	}
	return &g, nil
}
