package ledger

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/robertarktes/group-seat-bookings/internal/domain"
	"github.com/robertarktes/group-seat-bookings/internal/observability"
)

type Options struct {
	// PlatformWalletUserID, when set, receives the platform fee of every
	// booking payment as a third leg.
	PlatformWalletUserID uuid.UUID
	DefaultCurrency      string
}

// Entry describes one money movement against one wallet.
type Entry struct {
	Identity domain.Identity
	Type     domain.TxType     `validate:"required,oneof=credit debit"`
	Amount   int64             `validate:"gt=0"`
	Category domain.TxCategory `validate:"required"`
	// Status defaults to completed.
	Status   domain.TxStatus `validate:"omitempty,oneof=pending processing completed"`
	Metadata domain.TxMetadata
	// AllowNegative lets a debit take the balance below zero. Nothing in the
	// service sets it; admin adjustments may.
	AllowNegative bool
	// Compensating entries undo an earlier posting and are written even when
	// the wallet has since been frozen or closed.
	Compensating bool
}

type BookingPayment struct {
	CustomerID    uuid.UUID `validate:"required"`
	OwnerID       uuid.UUID `validate:"required"`
	TotalAmount   int64     `validate:"gt=0"`
	FeePercentage float64   `validate:"gte=0,lte=100"`
	Metadata      domain.TxMetadata
}

type BookingSettlement struct {
	CustomerTx  *domain.Transaction
	OwnerTx     *domain.Transaction
	PlatformTx  *domain.Transaction
	PlatformFee int64
	OwnerShare  int64
}

type PayoutSettlement struct {
	Payout   *domain.Transaction
	Reversal *domain.Transaction
}

// Engine records double-entry movements against wallets.
type Engine struct {
	uow      UnitOfWork
	auditor  Auditor
	logger   observability.Logger
	validate *validator.Validate
	tracer   trace.Tracer
	opts     Options
	now      func() time.Time
}

func NewEngine(uow UnitOfWork, auditor Auditor, logger observability.Logger, opts Options) *Engine {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "INR"
	}
	return &Engine{
		uow:      uow,
		auditor:  auditor,
		logger:   logger,
		validate: validator.New(),
		tracer:   otel.Tracer("ledger"),
		opts:     opts,
		now:      time.Now,
	}
}

// OpenWallet creates an active, empty wallet for the identity.
func (e *Engine) OpenWallet(ctx context.Context, id domain.Identity, currency string) (*domain.Wallet, error) {
	if err := e.validate.Struct(id); err != nil {
		return nil, errors.Wrap(domain.ErrInvalidInput, err.Error())
	}
	if currency == "" {
		currency = e.opts.DefaultCurrency
	}
	now := e.now()
	w := &domain.Wallet{
		ID:        uuid.New(),
		UserID:    id.UserID,
		OwnerKind: id.Kind,
		Currency:  currency,
		Status:    domain.WalletActive,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := e.uow.Do(ctx, func(ctx context.Context, wallets WalletRepository, _ TransactionRepository) error {
		return wallets.Create(ctx, w)
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (e *Engine) Wallet(ctx context.Context, id domain.Identity) (*domain.Wallet, error) {
	var w *domain.Wallet
	err := e.uow.Do(ctx, func(ctx context.Context, wallets WalletRepository, _ TransactionRepository) error {
		var err error
		w, err = wallets.GetByIdentity(ctx, id)
		return err
	})
	return w, err
}

func (e *Engine) SetWalletStatus(ctx context.Context, id domain.Identity, status domain.WalletStatus) (*domain.Wallet, error) {
	switch status {
	case domain.WalletActive, domain.WalletFrozen, domain.WalletClosed:
	default:
		return nil, errors.Wrapf(domain.ErrInvalidInput, "unknown wallet status %q", status)
	}
	var w *domain.Wallet
	err := e.uow.Do(ctx, func(ctx context.Context, wallets WalletRepository, _ TransactionRepository) error {
		var err error
		w, err = wallets.GetByIdentity(ctx, id)
		if err != nil {
			return err
		}
		if w.Status == domain.WalletClosed && status != domain.WalletClosed {
			return errors.Wrap(domain.ErrInvalidTransition, "closed wallets cannot be reopened")
		}
		expected := w.Version
		w.Status = status
		w.UpdatedAt = e.now()
		return wallets.UpdateStatus(ctx, w, expected)
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (e *Engine) Transactions(ctx context.Context, id domain.Identity, limit int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []domain.Transaction
	err := e.uow.Do(ctx, func(ctx context.Context, wallets WalletRepository, txns TransactionRepository) error {
		w, err := wallets.GetByIdentity(ctx, id)
		if err != nil {
			return err
		}
		out, err = txns.ListByWallet(ctx, w.ID, limit)
		return err
	})
	return out, err
}

// Post writes one entry and the matching wallet balance atomically.
func (e *Engine) Post(ctx context.Context, entry Entry) (tx *domain.Transaction, err error) {
	ctx, span := e.tracer.Start(ctx, "ledger.Post", trace.WithAttributes(
		attribute.String("type", string(entry.Type)),
		attribute.String("category", string(entry.Category)),
	))
	defer func() { e.finish(span, err) }()

	if err := e.validate.Struct(entry); err != nil {
		return nil, errors.Wrap(domain.ErrInvalidInput, err.Error())
	}
	err = e.uow.Do(ctx, func(ctx context.Context, wallets WalletRepository, txns TransactionRepository) error {
		w, err := wallets.GetByIdentity(ctx, entry.Identity)
		if err != nil {
			return err
		}
		tx, err = e.post(ctx, wallets, txns, w, entry)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.committed(ctx, tx)
	return tx, nil
}

// ProcessBookingPayment debits the customer the full amount and credits the
// owner their share in one atomic unit. The customer's balance is checked
// before anything is written.
func (e *Engine) ProcessBookingPayment(ctx context.Context, p BookingPayment) (res *BookingSettlement, err error) {
	ctx, span := e.tracer.Start(ctx, "ledger.ProcessBookingPayment", trace.WithAttributes(attribute.Int64("total", p.TotalAmount)))
	defer func() { e.finish(span, err) }()

	if err := e.validate.Struct(p); err != nil {
		return nil, errors.Wrap(domain.ErrInvalidInput, err.Error())
	}
	pct := decimal.NewFromFloat(p.FeePercentage)
	fee, ownerShare, err := SplitFee(p.TotalAmount, pct)
	if err != nil {
		return nil, err
	}

	meta := p.Metadata
	meta.TotalAmount = p.TotalAmount
	meta.PlatformFee = fee
	meta.OwnerShare = ownerShare
	meta.FeePercentage = pct.String()

	res = &BookingSettlement{PlatformFee: fee, OwnerShare: ownerShare}
	err = e.uow.Do(ctx, func(ctx context.Context, wallets WalletRepository, txns TransactionRepository) error {
		customer, err := wallets.GetByIdentity(ctx, domain.Identity{UserID: p.CustomerID, Kind: domain.OwnerKindUser})
		if err != nil {
			return errors.Wrap(err, "customer wallet")
		}
		owner, err := wallets.GetByIdentity(ctx, domain.Identity{UserID: p.OwnerID, Kind: domain.OwnerKindOwner})
		if err != nil {
			return errors.Wrap(err, "owner wallet")
		}
		var platform *domain.Wallet
		if e.opts.PlatformWalletUserID != uuid.Nil && fee > 0 {
			platform, err = wallets.GetByIdentity(ctx, domain.Identity{UserID: e.opts.PlatformWalletUserID, Kind: domain.OwnerKindAdmin})
			if err != nil {
				return errors.Wrap(err, "platform wallet")
			}
		}
		if err := usable(customer); err != nil {
			return err
		}
		if err := usable(owner); err != nil {
			return err
		}
		if customer.Balance < p.TotalAmount {
			return errors.Wrapf(domain.ErrInsufficientFunds, "balance %d, required %d", customer.Balance, p.TotalAmount)
		}

		customerMeta := meta
		customerMeta.CounterpartyID = p.OwnerID
		res.CustomerTx, err = e.post(ctx, wallets, txns, customer, Entry{
			Identity: customer.Identity(),
			Type:     domain.TxDebit,
			Amount:   p.TotalAmount,
			Category: domain.CategoryBookingPayment,
			Metadata: customerMeta,
		})
		if err != nil {
			return err
		}
		ownerMeta := meta
		ownerMeta.CounterpartyID = p.CustomerID
		ownerMeta.RelatedTxID = res.CustomerTx.ID
		if ownerShare > 0 {
			res.OwnerTx, err = e.post(ctx, wallets, txns, owner, Entry{
				Identity: owner.Identity(),
				Type:     domain.TxCredit,
				Amount:   ownerShare,
				Category: domain.CategoryBookingRevenue,
				Metadata: ownerMeta,
			})
			if err != nil {
				return err
			}
		}
		if platform != nil {
			feeMeta := meta
			feeMeta.CounterpartyID = p.CustomerID
			feeMeta.RelatedTxID = res.CustomerTx.ID
			res.PlatformTx, err = e.post(ctx, wallets, txns, platform, Entry{
				Identity: platform.Identity(),
				Type:     domain.TxCredit,
				Amount:   fee,
				Category: domain.CategoryPlatformFee,
				Metadata: feeMeta,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, tx := range []*domain.Transaction{res.CustomerTx, res.OwnerTx, res.PlatformTx} {
		if tx != nil {
			e.committed(ctx, tx)
		}
	}
	return res, nil
}

// RequestPayout reserves amount from the owner's wallet in a processing
// transaction. The bank transfer itself is settled elsewhere.
func (e *Engine) RequestPayout(ctx context.Context, ownerID uuid.UUID, amount int64, meta domain.TxMetadata) (*domain.Transaction, error) {
	return e.Post(ctx, Entry{
		Identity: domain.Identity{UserID: ownerID, Kind: domain.OwnerKindOwner},
		Type:     domain.TxDebit,
		Amount:   amount,
		Category: domain.CategoryPayout,
		Status:   domain.TxProcessing,
		Metadata: meta,
	})
}

// SettlePayout records the terminal status of a processing payout. A failed
// payout is corrected by a new reversing credit; the original entry is
// never edited beyond its status.
func (e *Engine) SettlePayout(ctx context.Context, txID uuid.UUID, succeeded bool, externalRef string) (res *PayoutSettlement, err error) {
	ctx, span := e.tracer.Start(ctx, "ledger.SettlePayout", trace.WithAttributes(attribute.String("tx_id", txID.String())))
	defer func() { e.finish(span, err) }()

	res = &PayoutSettlement{}
	err = e.uow.Do(ctx, func(ctx context.Context, wallets WalletRepository, txns TransactionRepository) error {
		payout, err := txns.Get(ctx, txID)
		if err != nil {
			return err
		}
		if payout.Category != domain.CategoryPayout {
			return errors.Wrapf(domain.ErrInvalidInput, "transaction %s is not a payout", txID)
		}
		if payout.Status != domain.TxProcessing {
			return errors.Wrapf(domain.ErrInvalidTransition, "payout is %s", payout.Status)
		}
		to := domain.TxCompleted
		if !succeeded {
			to = domain.TxFailed
		}
		if err := txns.UpdateStatus(ctx, payout.ID, domain.TxProcessing, to); err != nil {
			return err
		}
		payout.Status = to
		payout.UpdatedAt = e.now()
		res.Payout = payout
		if succeeded {
			return nil
		}

		w, err := wallets.GetByID(ctx, payout.WalletID)
		if err != nil {
			return err
		}
		meta := payout.Metadata
		meta.RelatedTxID = payout.ID
		meta.ExternalRef = externalRef
		res.Reversal, err = e.post(ctx, wallets, txns, w, Entry{
			Identity:     w.Identity(),
			Type:         domain.TxCredit,
			Amount:       payout.Amount,
			Category:     domain.CategoryPayoutReversal,
			Metadata:     meta,
			Compensating: true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if res.Reversal != nil {
		e.committed(ctx, res.Reversal)
	}
	return res, nil
}

// post applies entry to w inside an open unit of work.
func (e *Engine) post(ctx context.Context, wallets WalletRepository, txns TransactionRepository, w *domain.Wallet, entry Entry) (*domain.Transaction, error) {
	if !entry.Compensating {
		if err := usable(w); err != nil {
			return nil, err
		}
	}
	if entry.Type == domain.TxDebit && !entry.AllowNegative && w.Balance < entry.Amount {
		return nil, errors.Wrapf(domain.ErrInsufficientFunds, "balance %d, required %d", w.Balance, entry.Amount)
	}
	status := entry.Status
	if status == "" {
		status = domain.TxCompleted
	}
	now := e.now()
	tx := &domain.Transaction{
		ID:            uuid.New(),
		WalletID:      w.ID,
		Type:          entry.Type,
		Amount:        entry.Amount,
		BalanceBefore: w.Balance,
		BalanceAfter:  entry.Type.Apply(w.Balance, entry.Amount),
		Currency:      w.Currency,
		Category:      entry.Category,
		Status:        status,
		Metadata:      entry.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if !tx.Balanced() {
		return nil, errors.AssertionFailedf("unbalanced entry %s", tx.ID)
	}

	expected := w.Version
	w.Balance = tx.BalanceAfter
	w.UpdatedAt = now
	if err := wallets.UpdateBalance(ctx, w, expected); err != nil {
		return nil, errors.Wrap(err, "update wallet balance")
	}
	if err := txns.Insert(ctx, tx); err != nil {
		return nil, errors.Wrap(err, "insert transaction")
	}
	return tx, nil
}

func usable(w *domain.Wallet) error {
	switch w.Status {
	case domain.WalletActive:
		return nil
	case domain.WalletFrozen:
		return errors.Wrapf(domain.ErrWalletFrozen, "wallet %s", w.ID)
	default:
		return errors.Wrapf(domain.ErrWalletFrozen, "wallet %s is %s", w.ID, w.Status)
	}
}

func (e *Engine) committed(ctx context.Context, tx *domain.Transaction) {
	observability.LedgerPostings.WithLabelValues(string(tx.Type), string(tx.Category)).Inc()
	if e.auditor == nil {
		return
	}
	if err := e.auditor.LogTransaction(ctx, *tx); err != nil {
		e.logger.WithField("tx_id", tx.ID).WithError(err).Warn("failed to audit transaction")
		observability.BestEffortFailures.WithLabelValues("audit").Inc()
	}
}

func (e *Engine) finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if !domain.IsExpected(err) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
