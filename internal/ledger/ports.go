package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/robertarktes/group-seat-bookings/internal/domain"
)

type WalletRepository interface {
	// GetByIdentity returns domain.ErrWalletNotFound when no wallet exists.
	// Inside a unit of work the row stays locked until commit.
	GetByIdentity(ctx context.Context, id domain.Identity) (*domain.Wallet, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	// Create returns domain.ErrConflict if the identity already has a wallet.
	Create(ctx context.Context, w *domain.Wallet) error
	// UpdateBalance writes w.Balance if the stored version equals
	// expectedVersion, and bumps w.Version.
	UpdateBalance(ctx context.Context, w *domain.Wallet, expectedVersion int64) error
	UpdateStatus(ctx context.Context, w *domain.Wallet, expectedVersion int64) error
}

type TransactionRepository interface {
	Insert(ctx context.Context, tx *domain.Transaction) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	// UpdateStatus moves a transaction from one status to another and fails
	// with domain.ErrConflict if it is no longer in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.TxStatus) error
	ListByWallet(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.Transaction, error)
}

// UnitOfWork runs fn inside one atomic commit boundary: every write made
// through the supplied repositories becomes visible together, or none does.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, wallets WalletRepository, txns TransactionRepository) error) error
}

// Auditor mirrors committed postings to an audit trail.
type Auditor interface {
	LogTransaction(ctx context.Context, tx domain.Transaction) error
}
