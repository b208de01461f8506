package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/robertarktes/group-seat-bookings/internal/domain"
)

// memStore is an in-memory UnitOfWork. Each Do works on a copy of the state
// and swaps it in only when fn succeeds.
type memStore struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]domain.Wallet
	txns    map[uuid.UUID]domain.Transaction
	order   []uuid.UUID

	// failInsertAfter makes the n-th Insert inside one Do fail (1-based).
	failInsertAfter int
}

func newMemStore() *memStore {
	return &memStore{wallets: map[uuid.UUID]domain.Wallet{}, txns: map[uuid.UUID]domain.Transaction{}}
}

func (s *memStore) Do(ctx context.Context, fn func(ctx context.Context, wallets WalletRepository, txns TransactionRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &memTx{store: s, wallets: map[uuid.UUID]domain.Wallet{}, txns: map[uuid.UUID]domain.Transaction{}}
	for k, v := range s.wallets {
		st.wallets[k] = v
	}
	for k, v := range s.txns {
		st.txns[k] = v
	}
	st.order = append([]uuid.UUID(nil), s.order...)

	if err := fn(ctx, memWallets{st}, memTxns{st}); err != nil {
		return err
	}
	s.wallets, s.txns, s.order = st.wallets, st.txns, st.order
	return nil
}

func (s *memStore) wallet(id domain.Identity) domain.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wallets {
		if w.UserID == id.UserID && w.OwnerKind == id.Kind {
			return w
		}
	}
	return domain.Wallet{}
}

func (s *memStore) txCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txns)
}

type memWallets struct{ *memTx }

type memTxns struct{ *memTx }

type memTx struct {
	store   *memStore
	wallets map[uuid.UUID]domain.Wallet
	txns    map[uuid.UUID]domain.Transaction
	order   []uuid.UUID
	inserts int
}

func (v memWallets) GetByIdentity(ctx context.Context, id domain.Identity) (*domain.Wallet, error) {
	t := v.memTx
	for _, w := range t.wallets {
		if w.UserID == id.UserID && w.OwnerKind == id.Kind {
			return &w, nil
		}
	}
	return nil, domain.ErrWalletNotFound
}

func (v memWallets) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	t := v.memTx
	w, ok := t.wallets[id]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return &w, nil
}

func (v memWallets) Create(ctx context.Context, w *domain.Wallet) error {
	t := v.memTx
	if _, err := v.GetByIdentity(ctx, w.Identity()); err == nil {
		return domain.ErrConflict
	}
	t.wallets[w.ID] = *w
	return nil
}

func (v memWallets) UpdateBalance(ctx context.Context, w *domain.Wallet, expected int64) error {
	t := v.memTx
	cur, ok := t.wallets[w.ID]
	if !ok {
		return domain.ErrWalletNotFound
	}
	if cur.Version != expected {
		return domain.ErrConflict
	}
	w.Version = expected + 1
	cur.Balance, cur.Version, cur.UpdatedAt = w.Balance, w.Version, w.UpdatedAt
	t.wallets[w.ID] = cur
	return nil
}

func (v memWallets) UpdateStatus(ctx context.Context, w *domain.Wallet, expected int64) error {
	t := v.memTx
	cur, ok := t.wallets[w.ID]
	if !ok {
		return domain.ErrWalletNotFound
	}
	if cur.Version != expected {
		return domain.ErrConflict
	}
	w.Version = expected + 1
	cur.Status, cur.Version = w.Status, w.Version
	t.wallets[w.ID] = cur
	return nil
}

func (v memTxns) Insert(ctx context.Context, tx *domain.Transaction) error {
	t := v.memTx
	t.inserts++
	if t.store.failInsertAfter > 0 && t.inserts == t.store.failInsertAfter {
		return errors.New("disk full")
	}
	t.txns[tx.ID] = *tx
	t.order = append(t.order, tx.ID)
	return nil
}

func (v memTxns) Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	t := v.memTx
	tx, ok := t.txns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &tx, nil
}

func (v memTxns) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.TxStatus) error {
	t := v.memTx
	tx, ok := t.txns[id]
	if !ok {
		return domain.ErrNotFound
	}
	if tx.Status != from {
		return domain.ErrConflict
	}
	tx.Status = to
	t.txns[id] = tx
	return nil
}

func (v memTxns) ListByWallet(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.Transaction, error) {
	t := v.memTx
	var out []domain.Transaction
	for i := len(t.order) - 1; i >= 0 && len(out) < limit; i-- {
		if tx := t.txns[t.order[i]]; tx.WalletID == walletID {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
