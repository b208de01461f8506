package domain

import (
	"time"

	"github.com/google/uuid"
)

type OwnerKind string

const (
	OwnerKindUser  OwnerKind = "User"
	OwnerKindOwner OwnerKind = "Owner"
	OwnerKindAdmin OwnerKind = "Admin"
)

type WalletStatus string

const (
	WalletActive WalletStatus = "active"
	WalletFrozen WalletStatus = "frozen"
	WalletClosed WalletStatus = "closed"
)

// Identity addresses one wallet.
type Identity struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	Kind   OwnerKind `json:"owner_kind" validate:"required,oneof=User Owner Admin"`
}

// Wallet holds one balance in minor currency units.
type Wallet struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	OwnerKind OwnerKind
	Balance   int64
	Currency  string
	Status    WalletStatus
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (w *Wallet) Identity() Identity {
	return Identity{UserID: w.UserID, Kind: w.OwnerKind}
}
