package domain

import (
	"time"

	"github.com/google/uuid"
)

type TxType string

const (
	TxCredit TxType = "credit"
	TxDebit  TxType = "debit"
)

type TxStatus string

const (
	TxPending    TxStatus = "pending"
	TxProcessing TxStatus = "processing"
	TxCompleted  TxStatus = "completed"
	TxFailed     TxStatus = "failed"
)

type TxCategory string

const (
	CategoryBookingPayment TxCategory = "booking_payment"
	CategoryBookingRevenue TxCategory = "booking_revenue"
	CategoryPlatformFee    TxCategory = "platform_fee"
	CategoryTopUp          TxCategory = "top_up"
	CategoryRefund         TxCategory = "refund"
	CategoryPayout         TxCategory = "payout"
	CategoryPayoutReversal TxCategory = "payout_reversal"
	CategoryAdjustment     TxCategory = "adjustment"
)

// TxMetadata carries booking, seat and revenue-split references.
type TxMetadata struct {
	BookingRef     string    `json:"booking_ref,omitempty"`
	InviteCode     string    `json:"invite_code,omitempty"`
	Seats          []string  `json:"seats,omitempty"`
	CounterpartyID uuid.UUID `json:"counterparty_id,omitempty"`
	TotalAmount    int64     `json:"total_amount,omitempty"`
	PlatformFee    int64     `json:"platform_fee,omitempty"`
	OwnerShare     int64     `json:"owner_share,omitempty"`
	FeePercentage  string    `json:"fee_percentage,omitempty"`
	RelatedTxID    uuid.UUID `json:"related_tx_id,omitempty"`
	ExternalRef    string    `json:"external_ref,omitempty"`
	Description    string    `json:"description,omitempty"`
}

// Transaction is one ledger entry. Once completed it is never edited;
// corrections are new transactions.
type Transaction struct {
	ID            uuid.UUID
	WalletID      uuid.UUID
	Type          TxType
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
	Currency      string
	Category      TxCategory
	Status        TxStatus
	Metadata      TxMetadata
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Apply computes the balance after posting amount of type t onto before.
func (t TxType) Apply(before, amount int64) int64 {
	if t == TxDebit {
		return before - amount
	}
	return before + amount
}

// Balanced reports whether the entry's before/after figures agree with its
// type and amount.
func (tx *Transaction) Balanced() bool {
	return tx.BalanceAfter == tx.Type.Apply(tx.BalanceBefore, tx.Amount)
}
