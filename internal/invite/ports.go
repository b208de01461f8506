package invite

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/robertarktes/group-seat-bookings/internal/domain"
)

// Repository persists InviteGroup aggregates.
type Repository interface {
	// Create inserts a new group. A duplicate invite code is domain.ErrConflict.
	Create(ctx context.Context, g *domain.InviteGroup) error
	Get(ctx context.Context, inviteCode string) (*domain.InviteGroup, error)
	// Apply writes g only if the stored version still equals expectedVersion
	// and bumps g.Version on success. A stale version is domain.ErrConflict.
	Apply(ctx context.Context, g *domain.InviteGroup, expectedVersion int64) error
	// ListExpired returns non-terminal groups whose deadline is at or before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.InviteGroup, error)
}

type HoldRequest struct {
	SeatNumbers         []string
	HolderID            uuid.UUID
	SessionKey          string
	GroupKey            string
	HoldDurationMinutes int
}

type HoldResult struct {
	Success     bool
	HeldSeats   []string
	FailedSeats []string
	Message     string
}

type ReleaseRequest struct {
	GroupKey string
}

type ReleaseResult struct {
	Success bool
	Message string
}

// SeatHoldPort is the seat inventory collaborator. HoldDurationMinutes is
// advisory; the group's own ExpiresAt is authoritative.
type SeatHoldPort interface {
	Hold(ctx context.Context, showtimeID uuid.UUID, req HoldRequest) (HoldResult, error)
	Release(ctx context.Context, showtimeID uuid.UUID, req ReleaseRequest) (ReleaseResult, error)
}

// NotificationPort receives events after the triggering change has committed.
type NotificationPort interface {
	Publish(ctx context.Context, evt domain.Event) error
}

type ShowtimeCatalog interface {
	Showtime(ctx context.Context, id uuid.UUID) (*domain.Showtime, error)
}
