package domain

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type InviteStatus string

const (
	InvitePending        InviteStatus = "pending"
	InviteActive         InviteStatus = "active"
	InvitePaymentPending InviteStatus = "payment_pending"
	InviteCompleted      InviteStatus = "completed"
	InviteCancelled      InviteStatus = "cancelled"
	InviteExpired        InviteStatus = "expired"
)

// Terminal reports whether no further participant mutation is allowed.
func (s InviteStatus) Terminal() bool {
	return s == InviteCompleted || s == InviteCancelled || s == InviteExpired
}

type Role string

const (
	RoleHost   Role = "host"
	RoleMember Role = "member"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
)

type RequestedSeat struct {
	SeatNumber string `json:"seat_number" validate:"required"`
	SeatRow    string `json:"seat_row"`
	SeatType   string `json:"seat_type"`
	Price      int64  `json:"price" validate:"gte=0"`
	IsOccupied bool   `json:"is_occupied"`
	// HostOwned seats were already the host's and are never held or freed.
	HostOwned bool `json:"host_owned"`
}

type Participant struct {
	UserID        uuid.UUID     `json:"user_id"`
	SeatIndex     int           `json:"seat_index"`
	SeatAssigned  string        `json:"seat_assigned"`
	Amount        int64         `json:"amount"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Role          Role          `json:"role"`
	TicketID      string        `json:"ticket_id,omitempty"`
	JoinedAt      time.Time     `json:"joined_at"`
}

type PriceBreakdown struct {
	OriginalAmount     int64 `json:"original_amount" validate:"gte=0"`
	DiscountedSubtotal int64 `json:"discounted_subtotal" validate:"gte=0"`
	ConvenienceFee     int64 `json:"convenience_fee" validate:"gte=0"`
	Taxes              int64 `json:"taxes" validate:"gte=0"`
	TotalDiscount      int64 `json:"total_discount" validate:"gte=0"`
	FinalAmount        int64 `json:"final_amount" validate:"gte=0"`
}

// Refund is the ticket/amount pair surfaced when a participant's seat is
// given up. Refund processing itself happens elsewhere.
type Refund struct {
	UserID     uuid.UUID `json:"user_id"`
	TicketID   string    `json:"ticket_id,omitempty"`
	SeatNumber string    `json:"seat_number"`
	Amount     int64     `json:"amount"`
}

// InviteGroup is the aggregate for one group-booking attempt. All structural
// changes are applied in memory and persisted with a versioned conditional
// write.
type InviteGroup struct {
	InviteCode          string
	HostID              uuid.UUID
	ShowtimeID          uuid.UUID
	OwnerID             uuid.UUID
	RequestedSeats      []RequestedSeat
	TotalSlotsRequested int
	AvailableSlots      int
	Participants        []Participant
	TotalAmount         int64
	PaidAmount          int64
	PriceBreakdown      PriceBreakdown
	CouponUsed          string
	Status              InviteStatus
	ExpiresAt           time.Time
	CompletedAt         *time.Time
	CancelledAt         *time.Time
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HoldKey scopes the group's seat hold on the inventory.
func (g *InviteGroup) HoldKey() string {
	return "invite:" + g.InviteCode
}

func (g *InviteGroup) Clone() *InviteGroup {
	c := *g
	c.RequestedSeats = append([]RequestedSeat(nil), g.RequestedSeats...)
	c.Participants = append([]Participant(nil), g.Participants...)
	if g.CompletedAt != nil {
		t := *g.CompletedAt
		c.CompletedAt = &t
	}
	if g.CancelledAt != nil {
		t := *g.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}

// EffectiveStatus applies lazy expiry: a non-terminal group past its
// deadline reads as expired.
func (g *InviteGroup) EffectiveStatus(now time.Time) InviteStatus {
	if !g.Status.Terminal() && !g.ExpiresAt.IsZero() && !now.Before(g.ExpiresAt) {
		return InviteExpired
	}
	return g.Status
}

func (g *InviteGroup) Participant(userID uuid.UUID) (Participant, bool) {
	for _, p := range g.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

func (g *InviteGroup) MemberCount() int {
	n := 0
	for _, p := range g.Participants {
		if p.Role == RoleMember {
			n++
		}
	}
	return n
}

func (g *InviteGroup) OccupiedSeats() int {
	n := 0
	for _, s := range g.RequestedSeats {
		if s.IsOccupied {
			n++
		}
	}
	return n
}

// HeldSeatNumbers lists the seats that were held on the inventory for this
// group, i.e. everything not pre-owned by the host.
func (g *InviteGroup) HeldSeatNumbers() []string {
	var out []string
	for _, s := range g.RequestedSeats {
		if !s.HostOwned {
			out = append(out, s.SeatNumber)
		}
	}
	return out
}

// AddParticipant claims the lowest free seat for userID and settles the
// member's share as paid.
func (g *InviteGroup) AddParticipant(userID uuid.UUID, amount int64, ticketID string, now time.Time) (Participant, error) {
	if _, ok := g.Participant(userID); ok {
		return Participant{}, ErrAlreadyParticipant
	}
	switch st := g.EffectiveStatus(now); st {
	case InviteCompleted:
		return Participant{}, errors.Wrap(ErrNoSlotsAvailable, "invite group is complete")
	case InviteCancelled, InviteExpired:
		return Participant{}, errors.Wrapf(ErrInvalidTransition, "invite group is %s", st)
	}
	if amount < 0 {
		return Participant{}, errors.Wrap(ErrInvalidInput, "amount must not be negative")
	}
	if g.AvailableSlots <= 0 {
		return Participant{}, ErrNoSlotsAvailable
	}
	idx, ok := NextFreeSlot(g.RequestedSeats, g.Participants)
	if !ok {
		return Participant{}, ErrNoSlotsAvailable
	}
	if g.PaidAmount+amount > g.TotalAmount {
		return Participant{}, errors.Wrapf(ErrInvalidInput, "amount %d exceeds outstanding balance %d", amount, g.TotalAmount-g.PaidAmount)
	}

	p := Participant{
		UserID:        userID,
		SeatIndex:     idx,
		SeatAssigned:  g.RequestedSeats[idx].SeatNumber,
		Amount:        amount,
		PaymentStatus: PaymentCompleted,
		Role:          RoleMember,
		TicketID:      ticketID,
		JoinedAt:      now,
	}
	g.RequestedSeats[idx].IsOccupied = true
	g.Participants = append(g.Participants, p)
	g.AvailableSlots--
	g.PaidAmount += amount
	if g.AvailableSlots == 0 {
		g.Status = InviteCompleted
		g.CompletedAt = &now
	} else if g.Status == InvitePending {
		g.Status = InviteActive
	}
	g.UpdatedAt = now
	return p, nil
}

// RemoveParticipant frees the member's seat index. Indices are never
// renumbered. A completed group reopens.
func (g *InviteGroup) RemoveParticipant(userID uuid.UUID, now time.Time) (Participant, error) {
	st := g.EffectiveStatus(now)
	if st == InviteCancelled || st == InviteExpired {
		return Participant{}, errors.Wrapf(ErrInvalidTransition, "invite group is %s", st)
	}
	pos := -1
	for i, p := range g.Participants {
		if p.UserID == userID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return Participant{}, ErrNotParticipant
	}
	p := g.Participants[pos]
	if p.Role == RoleHost {
		return Participant{}, errors.Wrap(ErrInvalidTransition, "host cannot leave, cancel the group instead")
	}

	g.Participants = append(g.Participants[:pos:pos], g.Participants[pos+1:]...)
	g.RequestedSeats[p.SeatIndex].IsOccupied = false
	g.AvailableSlots++
	g.PaidAmount -= p.Amount
	if g.Status == InviteCompleted || g.Status == InvitePaymentPending {
		g.Status = InviteActive
		g.CompletedAt = nil
	}
	g.UpdatedAt = now
	return p, nil
}

// Cancel marks the group cancelled on behalf of the host and returns every
// ticket/amount pair that existed.
func (g *InviteGroup) Cancel(hostID uuid.UUID, now time.Time) ([]Refund, error) {
	if g.HostID != hostID {
		return nil, errors.Wrap(ErrForbidden, "only the host can cancel")
	}
	switch st := g.EffectiveStatus(now); st {
	case InviteCompleted, InviteCancelled, InviteExpired:
		return nil, errors.Wrapf(ErrInvalidTransition, "invite group is %s", st)
	}
	if g.MemberCount() > 0 {
		return nil, errors.Wrap(ErrConflict, "other participants have already joined")
	}

	refunds := make([]Refund, 0, len(g.Participants))
	for _, p := range g.Participants {
		refunds = append(refunds, Refund{UserID: p.UserID, TicketID: p.TicketID, SeatNumber: p.SeatAssigned, Amount: p.Amount})
	}
	g.Status = InviteCancelled
	g.CancelledAt = &now
	g.UpdatedAt = now
	return refunds, nil
}

// Expire moves a non-terminal group past its deadline to expired.
func (g *InviteGroup) Expire(now time.Time) error {
	if g.Status.Terminal() {
		return errors.Wrapf(ErrInvalidTransition, "invite group is %s", g.Status)
	}
	if now.Before(g.ExpiresAt) {
		return errors.Wrap(ErrInvalidTransition, "invite group has not reached its deadline")
	}
	g.Status = InviteExpired
	g.UpdatedAt = now
	return nil
}

// CheckInvariants verifies the aggregate after a mutation. A violation here
// is a programming error, not a business outcome.
func (g *InviteGroup) CheckInvariants() error {
	if g.AvailableSlots < 0 {
		return errors.Newf("invite %s: negative available slots %d", g.InviteCode, g.AvailableSlots)
	}
	if want := g.TotalSlotsRequested - g.OccupiedSeats(); g.AvailableSlots != want {
		return errors.Newf("invite %s: available slots %d, expected %d", g.InviteCode, g.AvailableSlots, want)
	}
	seen := map[int]bool{}
	users := map[uuid.UUID]bool{}
	var sum int64
	for _, p := range g.Participants {
		if seen[p.SeatIndex] && p.Role == RoleMember {
			return errors.Newf("invite %s: seat index %d assigned twice", g.InviteCode, p.SeatIndex)
		}
		if users[p.UserID] {
			return errors.Newf("invite %s: user %s appears twice", g.InviteCode, p.UserID)
		}
		seen[p.SeatIndex] = true
		users[p.UserID] = true
		sum += p.Amount
	}
	if sum > g.TotalAmount {
		return errors.Newf("invite %s: participant amounts %d exceed total %d", g.InviteCode, sum, g.TotalAmount)
	}
	if g.Status == InviteCompleted && g.AvailableSlots != 0 {
		return errors.Newf("invite %s: completed with %d open slots", g.InviteCode, g.AvailableSlots)
	}
	if g.Status == InviteActive && g.AvailableSlots == 0 {
		return errors.Newf("invite %s: active without open slots", g.InviteCode)
	}
	return nil
}
