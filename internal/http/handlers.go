package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mongoadapter "github.com/robertarktes/group-seat-bookings/internal/adapters/mongo"
	"github.com/robertarktes/group-seat-bookings/internal/domain"
	"github.com/robertarktes/group-seat-bookings/internal/invite"
	"github.com/robertarktes/group-seat-bookings/internal/ledger"
)

type InviteService interface {
	Create(ctx context.Context, spec invite.CreateSpec) (*domain.InviteGroup, error)
	Get(ctx context.Context, inviteCode string) (*domain.InviteGroup, error)
	Join(ctx context.Context, req invite.JoinRequest) (*domain.InviteGroup, error)
	Leave(ctx context.Context, inviteCode string, userID uuid.UUID) (*invite.LeaveResult, error)
	Cancel(ctx context.Context, inviteCode string, hostID uuid.UUID) (*invite.CancelResult, error)
}

type LedgerService interface {
	OpenWallet(ctx context.Context, id domain.Identity, currency string) (*domain.Wallet, error)
	Wallet(ctx context.Context, id domain.Identity) (*domain.Wallet, error)
	SetWalletStatus(ctx context.Context, id domain.Identity, status domain.WalletStatus) (*domain.Wallet, error)
	Transactions(ctx context.Context, id domain.Identity, limit int) ([]domain.Transaction, error)
	Post(ctx context.Context, entry ledger.Entry) (*domain.Transaction, error)
	ProcessBookingPayment(ctx context.Context, p ledger.BookingPayment) (*ledger.BookingSettlement, error)
	RequestPayout(ctx context.Context, ownerID uuid.UUID, amount int64, meta domain.TxMetadata) (*domain.Transaction, error)
}

type Catalog interface {
	UpsertShowtime(ctx context.Context, doc mongoadapter.ShowtimeDoc) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	invites    InviteService
	ledger     LedgerService
	catalog    Catalog
	deps       map[string]Pinger
	defaultFee float64
}

func NewHandlers(invites InviteService, ledger LedgerService, catalog Catalog, deps map[string]Pinger, defaultFeePercent float64) *Handlers {
	return &Handlers{
		invites:    invites,
		ledger:     ledger,
		catalog:    catalog,
		deps:       deps,
		defaultFee: defaultFeePercent,
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeInvalid(w, "malformed body: "+err.Error())
		return false
	}
	return true
}

func (h *Handlers) CreateInvite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ShowtimeID          uuid.UUID              `json:"showtime_id"`
		SessionKey          string                 `json:"session_key"`
		RequestedSeats      []domain.RequestedSeat `json:"requested_seats"`
		TotalSlotsRequested int                    `json:"total_slots_requested"`
		HostSeats           []string               `json:"host_seats"`
		HostPaidAmount      int64                  `json:"host_paid_amount"`
		HostTicketID        string                 `json:"host_ticket_id"`
		PriceBreakdown      domain.PriceBreakdown  `json:"price_breakdown"`
		CouponUsed          string                 `json:"coupon_used"`
	}
	if !decode(w, r, &req) {
		return
	}
	g, err := h.invites.Create(r.Context(), invite.CreateSpec{
		HostID:              Subject(r.Context()),
		ShowtimeID:          req.ShowtimeID,
		SessionKey:          req.SessionKey,
		RequestedSeats:      req.RequestedSeats,
		TotalSlotsRequested: req.TotalSlotsRequested,
		HostSeats:           req.HostSeats,
		HostPaidAmount:      req.HostPaidAmount,
		HostTicketID:        req.HostTicketID,
		PriceBreakdown:      req.PriceBreakdown,
		CouponUsed:          req.CouponUsed,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newInviteView(g))
}

func (h *Handlers) GetInvite(w http.ResponseWriter, r *http.Request) {
	g, err := h.invites.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newInviteView(g))
}

func (h *Handlers) JoinInvite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount   int64  `json:"amount"`
		TicketID string `json:"ticket_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	g, err := h.invites.Join(r.Context(), invite.JoinRequest{
		InviteCode: chi.URLParam(r, "code"),
		UserID:     Subject(r.Context()),
		Amount:     req.Amount,
		TicketID:   req.TicketID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newInviteView(g))
}

func (h *Handlers) LeaveInvite(w http.ResponseWriter, r *http.Request) {
	res, err := h.invites.Leave(r.Context(), chi.URLParam(r, "code"), Subject(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group": newInviteView(res.Group),
		"refund": domain.Refund{
			UserID:     res.Participant.UserID,
			TicketID:   res.Participant.TicketID,
			SeatNumber: res.Participant.SeatAssigned,
			Amount:     res.Participant.Amount,
		},
	})
}

func (h *Handlers) CancelInvite(w http.ResponseWriter, r *http.Request) {
	res, err := h.invites.Cancel(r.Context(), chi.URLParam(r, "code"), Subject(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	refunds := res.Refunds
	if refunds == nil {
		refunds = []domain.Refund{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"group": newInviteView(res.Group), "refunds": refunds})
}

// actingFor rejects callers touching someone else's money unless they are
// admins.
func actingFor(w http.ResponseWriter, r *http.Request, userID uuid.UUID) bool {
	if IsAdmin(r.Context()) || userID == Subject(r.Context()) {
		return true
	}
	writeError(w, r, errors.Wrap(domain.ErrForbidden, "caller may only act on their own wallet"))
	return false
}

func adminOnly(w http.ResponseWriter, r *http.Request) bool {
	if IsAdmin(r.Context()) {
		return true
	}
	writeError(w, r, errors.Wrap(domain.ErrForbidden, "admin role required"))
	return false
}

// walletIdentity reads the {kind}/{userID} path pair and checks the caller
// may act on it.
func walletIdentity(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	uid, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeInvalid(w, "invalid user id")
		return domain.Identity{}, false
	}
	if !actingFor(w, r, uid) {
		return domain.Identity{}, false
	}
	return domain.Identity{UserID: uid, Kind: domain.OwnerKind(chi.URLParam(r, "kind"))}, true
}

func (h *Handlers) OpenWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    uuid.UUID        `json:"user_id"`
		OwnerKind domain.OwnerKind `json:"owner_kind"`
		Currency  string           `json:"currency"`
	}
	if !decode(w, r, &req) {
		return
	}
	if !actingFor(w, r, req.UserID) {
		return
	}
	if req.OwnerKind == domain.OwnerKindAdmin && !adminOnly(w, r) {
		return
	}
	wallet, err := h.ledger.OpenWallet(r.Context(), domain.Identity{UserID: req.UserID, Kind: req.OwnerKind}, req.Currency)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newWalletView(wallet))
}

func (h *Handlers) GetWallet(w http.ResponseWriter, r *http.Request) {
	id, ok := walletIdentity(w, r)
	if !ok {
		return
	}
	wallet, err := h.ledger.Wallet(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newWalletView(wallet))
}

func (h *Handlers) SetWalletStatus(w http.ResponseWriter, r *http.Request) {
	if !adminOnly(w, r) {
		return
	}
	id, ok := walletIdentity(w, r)
	if !ok {
		return
	}
	var req struct {
		Status domain.WalletStatus `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	wallet, err := h.ledger.SetWalletStatus(r.Context(), id, req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newWalletView(wallet))
}

func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := walletIdentity(w, r)
	if !ok {
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeInvalid(w, "invalid limit")
			return
		}
		limit = n
	}
	txs, err := h.ledger.Transactions(r.Context(), id, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]*transactionView, 0, len(txs))
	for i := range txs {
		out = append(out, newTransactionView(&txs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) PostEntry(w http.ResponseWriter, r *http.Request) {
	if !adminOnly(w, r) {
		return
	}
	var req struct {
		UserID    uuid.UUID         `json:"user_id"`
		OwnerKind domain.OwnerKind  `json:"owner_kind"`
		Type      domain.TxType     `json:"type"`
		Amount    int64             `json:"amount"`
		Category  domain.TxCategory `json:"category"`
		Metadata  domain.TxMetadata `json:"metadata"`
	}
	if !decode(w, r, &req) {
		return
	}
	tx, err := h.ledger.Post(r.Context(), ledger.Entry{
		Identity: domain.Identity{UserID: req.UserID, Kind: req.OwnerKind},
		Type:     req.Type,
		Amount:   req.Amount,
		Category: req.Category,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTransactionView(tx))
}

func (h *Handlers) BookingPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerID    uuid.UUID         `json:"customer_id"`
		OwnerID       uuid.UUID         `json:"owner_id"`
		TotalAmount   int64             `json:"total_amount"`
		FeePercentage *float64          `json:"fee_percentage"`
		Metadata      domain.TxMetadata `json:"metadata"`
	}
	if !decode(w, r, &req) {
		return
	}
	if !actingFor(w, r, req.CustomerID) {
		return
	}
	fee := h.defaultFee
	if req.FeePercentage != nil {
		fee = *req.FeePercentage
	}
	res, err := h.ledger.ProcessBookingPayment(r.Context(), ledger.BookingPayment{
		CustomerID:    req.CustomerID,
		OwnerID:       req.OwnerID,
		TotalAmount:   req.TotalAmount,
		FeePercentage: fee,
		Metadata:      req.Metadata,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"customer_transaction": newTransactionView(res.CustomerTx),
		"owner_transaction":    newTransactionView(res.OwnerTx),
		"platform_transaction": newTransactionView(res.PlatformTx),
		"platform_fee":         res.PlatformFee,
		"owner_share":          res.OwnerShare,
	})
}

func (h *Handlers) RequestPayout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID     uuid.UUID `json:"owner_id"`
		Amount      int64     `json:"amount"`
		Description string    `json:"description"`
	}
	if !decode(w, r, &req) {
		return
	}
	if !actingFor(w, r, req.OwnerID) {
		return
	}
	tx, err := h.ledger.RequestPayout(r.Context(), req.OwnerID, req.Amount, domain.TxMetadata{Description: req.Description})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newTransactionView(tx))
}

func (h *Handlers) PutShowtime(w http.ResponseWriter, r *http.Request) {
	if !adminOnly(w, r) {
		return
	}
	var doc mongoadapter.ShowtimeDoc
	if !decode(w, r, &doc) {
		return
	}
	doc.ID = chi.URLParam(r, "id")
	if err := h.catalog.UpsertShowtime(r.Context(), doc); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	failed := map[string]string{}
	for name, dep := range h.deps {
		if err := dep.Ping(r.Context()); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, failed)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }
