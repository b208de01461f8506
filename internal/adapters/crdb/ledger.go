package crdb

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/robertarktes/group-seat-bookings/internal/domain"
	"github.com/robertarktes/group-seat-bookings/internal/ledger"
)

// LedgerStore runs ledger units of work as single serializable
// transactions. It satisfies ledger.UnitOfWork.
type LedgerStore struct {
	r *Repository
}

func (r *Repository) Ledger() *LedgerStore {
	return &LedgerStore{r: r}
}

func (s *LedgerStore) Do(ctx context.Context, fn func(ctx context.Context, wallets ledger.WalletRepository, txns ledger.TransactionRepository) error) error {
	return s.r.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, walletRows{tx}, transactionRows{tx})
	})
}

const walletColumns = `id, user_id, owner_kind, balance, currency, status, version, created_at, updated_at`

type walletRows struct {
	tx pgx.Tx
}

func (w walletRows) GetByIdentity(ctx context.Context, id domain.Identity) (*domain.Wallet, error) {
	row := w.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 AND owner_kind = $2 FOR UPDATE`,
		id.UserID, string(id.Kind))
	wallet, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrWalletNotFound, "%s wallet for %s", id.Kind, id.UserID)
	}
	return wallet, err
}

func (w walletRows) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	row := w.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id)
	wallet, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrWalletNotFound, "wallet %s", id)
	}
	return wallet, err
}

func (w walletRows) Create(ctx context.Context, wallet *domain.Wallet) error {
	res, err := w.tx.Exec(ctx, `
		INSERT INTO wallets (`+walletColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, owner_kind) DO NOTHING
	`, wallet.ID, wallet.UserID, string(wallet.OwnerKind), wallet.Balance, wallet.Currency,
		string(wallet.Status), wallet.Version, wallet.CreatedAt, wallet.UpdatedAt)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrConflict, "%s wallet already exists for %s", wallet.OwnerKind, wallet.UserID)
	}
	return nil
}

func (w walletRows) UpdateBalance(ctx context.Context, wallet *domain.Wallet, expectedVersion int64) error {
	res, err := w.tx.Exec(ctx, `
		UPDATE wallets SET balance = $3, updated_at = $4, version = version + 1
		WHERE id = $1 AND version = $2
	`, wallet.ID, expectedVersion, wallet.Balance, wallet.UpdatedAt)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrConflict, "wallet %s changed since version %d", wallet.ID, expectedVersion)
	}
	wallet.Version = expectedVersion + 1
	return nil
}

func (w walletRows) UpdateStatus(ctx context.Context, wallet *domain.Wallet, expectedVersion int64) error {
	res, err := w.tx.Exec(ctx, `
		UPDATE wallets SET status = $3, updated_at = $4, version = version + 1
		WHERE id = $1 AND version = $2
	`, wallet.ID, expectedVersion, string(wallet.Status), wallet.UpdatedAt)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrConflict, "wallet %s changed since version %d", wallet.ID, expectedVersion)
	}
	wallet.Version = expectedVersion + 1
	return nil
}

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var (
		w            domain.Wallet
		kind, status string
	)
	err := row.Scan(&w.ID, &w.UserID, &kind, &w.Balance, &w.Currency, &status, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.OwnerKind = domain.OwnerKind(kind)
	w.Status = domain.WalletStatus(status)
	return &w, nil
}

const transactionColumns = `id, wallet_id, type, amount, balance_before, balance_after, currency,
	category, status, metadata, created_at, updated_at`

type transactionRows struct {
	tx pgx.Tx
}

func (t transactionRows) Insert(ctx context.Context, txn *domain.Transaction) error {
	meta, err := json.Marshal(txn.Metadata)
	if err != nil {
		return errors.Wrap(err, "encode metadata")
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, txn.ID, txn.WalletID, string(txn.Type), txn.Amount, txn.BalanceBefore, txn.BalanceAfter, txn.Currency,
		string(txn.Category), string(txn.Status), meta, txn.CreatedAt, txn.UpdatedAt)
	return err
}

func (t transactionRows) Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
	txn, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "transaction %s", id)
	}
	return txn, err
}

func (t transactionRows) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.TxStatus) error {
	res, err := t.tx.Exec(ctx, `
		UPDATE transactions SET status = $3, updated_at = now() WHERE id = $1 AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrConflict, "transaction %s is no longer %s", id, from)
	}
	return nil
}

func (t transactionRows) ListByWallet(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.Transaction, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE wallet_id = $1 ORDER BY created_at DESC LIMIT $2
	`, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *txn)
	}
	return out, rows.Err()
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		txn                   domain.Transaction
		typ, category, status string
		meta                  []byte
	)
	err := row.Scan(&txn.ID, &txn.WalletID, &typ, &txn.Amount, &txn.BalanceBefore, &txn.BalanceAfter, &txn.Currency,
		&category, &status, &meta, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	txn.Type = domain.TxType(typ)
	txn.Category = domain.TxCategory(category)
	txn.Status = domain.TxStatus(status)
	if err := json.Unmarshal(meta, &txn.Metadata); err != nil {
		return nil, errors.Wrap(err, "decode metadata")
	}
	return &txn, nil
}
