package http

import (
	"time"

	"github.com/google/uuid"

	"github.com/robertarktes/group-seat-bookings/internal/domain"
)

type inviteView struct {
	InviteCode          string                 `json:"invite_code"`
	HostID              uuid.UUID              `json:"host_id"`
	ShowtimeID          uuid.UUID              `json:"showtime_id"`
	OwnerID             uuid.UUID              `json:"owner_id"`
	RequestedSeats      []domain.RequestedSeat `json:"requested_seats"`
	TotalSlotsRequested int                    `json:"total_slots_requested"`
	AvailableSlots      int                    `json:"available_slots"`
	Participants        []domain.Participant   `json:"participants"`
	TotalAmount         int64                  `json:"total_amount"`
	PaidAmount          int64                  `json:"paid_amount"`
	PriceBreakdown      domain.PriceBreakdown  `json:"price_breakdown"`
	CouponUsed          string                 `json:"coupon_used,omitempty"`
	Status              domain.InviteStatus    `json:"status"`
	ExpiresAt           time.Time              `json:"expires_at"`
	CompletedAt         *time.Time             `json:"completed_at,omitempty"`
	CancelledAt         *time.Time             `json:"cancelled_at,omitempty"`
	Version             int64                  `json:"version"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

func newInviteView(g *domain.InviteGroup) inviteView {
	participants := g.Participants
	if participants == nil {
		participants = []domain.Participant{}
	}
	return inviteView{
		InviteCode:          g.InviteCode,
		HostID:              g.HostID,
		ShowtimeID:          g.ShowtimeID,
		OwnerID:             g.OwnerID,
		RequestedSeats:      g.RequestedSeats,
		TotalSlotsRequested: g.TotalSlotsRequested,
		AvailableSlots:      g.AvailableSlots,
		Participants:        participants,
		TotalAmount:         g.TotalAmount,
		PaidAmount:          g.PaidAmount,
		PriceBreakdown:      g.PriceBreakdown,
		CouponUsed:          g.CouponUsed,
		Status:              g.Status,
		ExpiresAt:           g.ExpiresAt,
		CompletedAt:         g.CompletedAt,
		CancelledAt:         g.CancelledAt,
		Version:             g.Version,
		CreatedAt:           g.CreatedAt,
		UpdatedAt:           g.UpdatedAt,
	}
}

type walletView struct {
	ID        uuid.UUID           `json:"id"`
	UserID    uuid.UUID           `json:"user_id"`
	OwnerKind domain.OwnerKind    `json:"owner_kind"`
	Balance   int64               `json:"balance"`
	Currency  string              `json:"currency"`
	Status    domain.WalletStatus `json:"status"`
	UpdatedAt time.Time           `json:"updated_at"`
}

func newWalletView(w *domain.Wallet) walletView {
	return walletView{
		ID:        w.ID,
		UserID:    w.UserID,
		OwnerKind: w.OwnerKind,
		Balance:   w.Balance,
		Currency:  w.Currency,
		Status:    w.Status,
		UpdatedAt: w.UpdatedAt,
	}
}

type transactionView struct {
	ID            uuid.UUID         `json:"id"`
	WalletID      uuid.UUID         `json:"wallet_id"`
	Type          domain.TxType     `json:"type"`
	Amount        int64             `json:"amount"`
	BalanceBefore int64             `json:"balance_before"`
	BalanceAfter  int64             `json:"balance_after"`
	Currency      string            `json:"currency"`
	Category      domain.TxCategory `json:"category"`
	Status        domain.TxStatus   `json:"status"`
	Metadata      domain.TxMetadata `json:"metadata"`
	CreatedAt     time.Time         `json:"created_at"`
}

func newTransactionView(tx *domain.Transaction) *transactionView {
	if tx == nil {
		return nil
	}
	return &transactionView{
		ID:            tx.ID,
		WalletID:      tx.WalletID,
		Type:          tx.Type,
		Amount:        tx.Amount,
		BalanceBefore: tx.BalanceBefore,
		BalanceAfter:  tx.BalanceAfter,
		Currency:      tx.Currency,
		Category:      tx.Category,
		Status:        tx.Status,
		Metadata:      tx.Metadata,
		CreatedAt:     tx.CreatedAt,
	}
}
