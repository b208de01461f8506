package invite

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/robertarktes/group-seat-bookings/internal/domain"
	"github.com/robertarktes/group-seat-bookings/internal/observability"
)

type Options struct {
	HoldDurationMinutes int
	// Cutoff is subtracted from the showtime start to get ExpiresAt.
	Cutoff          time.Duration
	JoinRetries     int
	ReleaseAttempts int
	ReleaseBackoff  time.Duration
	// CompensationTimeout bounds compensating calls, which run detached
	// from the caller's context.
	CompensationTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.HoldDurationMinutes <= 0 {
		o.HoldDurationMinutes = 30
	}
	if o.JoinRetries < 0 {
		o.JoinRetries = 0
	}
	if o.ReleaseAttempts <= 0 {
		o.ReleaseAttempts = 1
	}
	if o.CompensationTimeout <= 0 {
		o.CompensationTimeout = 10 * time.Second
	}
	return o
}

type CreateSpec struct {
	HostID              uuid.UUID              `validate:"required"`
	ShowtimeID          uuid.UUID              `validate:"required"`
	SessionKey          string                 `validate:"max=128"`
	RequestedSeats      []domain.RequestedSeat `validate:"required,min=1,dive"`
	TotalSlotsRequested int                    `validate:"gte=2"`
	// HostSeats are seat numbers the host already owns. They are not held
	// and start out occupied.
	HostSeats      []string `validate:"dive,required"`
	HostPaidAmount int64    `validate:"gte=0"`
	HostTicketID   string
	PriceBreakdown domain.PriceBreakdown
	CouponUsed     string `validate:"max=64"`
}

type JoinRequest struct {
	InviteCode string    `validate:"required"`
	UserID     uuid.UUID `validate:"required"`
	Amount     int64     `validate:"gte=0"`
	TicketID   string
}

type LeaveResult struct {
	Group       *domain.InviteGroup
	Participant domain.Participant
}

type CancelResult struct {
	Group   *domain.InviteGroup
	Refunds []domain.Refund
}

// Manager owns the invite-group state machine.
type Manager struct {
	repo     Repository
	holds    SeatHoldPort
	notifier NotificationPort
	catalog  ShowtimeCatalog
	logger   observability.Logger
	validate *validator.Validate
	tracer   trace.Tracer
	opts     Options
	now      func() time.Time
	newCode  func() (string, error)
}

func NewManager(repo Repository, holds SeatHoldPort, notifier NotificationPort, catalog ShowtimeCatalog, logger observability.Logger, opts Options) *Manager {
	return &Manager{
		repo:     repo,
		holds:    holds,
		notifier: notifier,
		catalog:  catalog,
		logger:   logger,
		validate: validator.New(),
		tracer:   otel.Tracer("invite"),
		opts:     opts.withDefaults(),
		now:      time.Now,
		newCode:  NewInviteCode,
	}
}

// Create holds the requested seats and persists a new invite group. If
// persisting fails the hold is released again.
func (m *Manager) Create(ctx context.Context, spec CreateSpec) (g *domain.InviteGroup, err error) {
	ctx, span := m.tracer.Start(ctx, "invite.Create", trace.WithAttributes(attribute.String("showtime_id", spec.ShowtimeID.String())))
	defer func() { m.finish(span, "create", err) }()

	if err := m.validateCreate(spec); err != nil {
		return nil, err
	}
	show, err := m.catalog.Showtime(ctx, spec.ShowtimeID)
	if err != nil {
		return nil, errors.Wrap(err, "load showtime")
	}
	if err := checkSeatsInCatalog(show, spec.RequestedSeats); err != nil {
		return nil, err
	}
	now := m.now()
	expiresAt := show.StartsAt.Add(-m.opts.Cutoff)
	if !now.Before(expiresAt) {
		return nil, errors.Wrap(domain.ErrInvalidInput, "showtime is too close to start a group booking")
	}

	code, err := m.freshCode(ctx)
	if err != nil {
		return nil, err
	}
	g = buildGroup(code, spec, show, expiresAt, now)
	log := m.logger.WithField("invite_code", code)

	holdable := g.HeldSeatNumbers()
	if len(holdable) > 0 {
		if err := m.holdSeats(ctx, g, spec, holdable, log); err != nil {
			return nil, err
		}
	}
	g.AvailableSlots = len(holdable)
	if g.AvailableSlots > 0 {
		g.Status = domain.InviteActive
	} else {
		g.Status = domain.InvitePaymentPending
	}
	if err := g.CheckInvariants(); err != nil {
		m.compensateRelease(g, log)
		return nil, err
	}

	if err := m.repo.Create(ctx, g); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// The hold key belongs to whoever owns the code now; our seats
			// lapse with the hold TTL.
			log.WithError(err).Warn("invite code taken after seats were held")
		} else {
			m.compensateRelease(g, log)
		}
		return nil, errors.Wrap(err, "persist invite group")
	}

	if len(holdable) > 0 {
		m.publish(ctx, log, domain.NewEvent(domain.EventSeatHeld, g, g.HostID, holdable, now))
	}
	log.WithField("available_slots", g.AvailableSlots).Info("invite group created")
	return g, nil
}

const codeAttempts = 5

// freshCode picks an invite code no stored group uses yet, so the hold key
// derived from it cannot collide with an existing group's holds.
func (m *Manager) freshCode(ctx context.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := m.newCode()
		if err != nil {
			return "", err
		}
		_, err = m.repo.Get(ctx, code)
		if errors.Is(err, domain.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", errors.Wrap(err, "check invite code")
		}
	}
	return "", errors.Wrapf(domain.ErrConflict, "no free invite code after %d attempts", codeAttempts)
}

func (m *Manager) validateCreate(spec CreateSpec) error {
	if err := m.validate.Struct(spec); err != nil {
		return errors.Wrap(domain.ErrInvalidInput, err.Error())
	}
	if spec.TotalSlotsRequested != len(spec.RequestedSeats) {
		return errors.Wrapf(domain.ErrInvalidInput, "total slots %d does not match %d requested seats", spec.TotalSlotsRequested, len(spec.RequestedSeats))
	}
	seen := make(map[string]bool, len(spec.RequestedSeats))
	var sum int64
	for _, s := range spec.RequestedSeats {
		if seen[s.SeatNumber] {
			return errors.Wrapf(domain.ErrInvalidInput, "seat %s requested twice", s.SeatNumber)
		}
		seen[s.SeatNumber] = true
		sum += s.Price
	}
	for _, hs := range spec.HostSeats {
		if !seen[hs] {
			return errors.Wrapf(domain.ErrInvalidInput, "host seat %s is not part of the requested block", hs)
		}
	}
	total := spec.PriceBreakdown.FinalAmount
	if total == 0 {
		total = sum
	}
	if spec.HostPaidAmount > total {
		return errors.Wrap(domain.ErrInvalidInput, "host paid amount exceeds total")
	}
	return nil
}

func checkSeatsInCatalog(show *domain.Showtime, seats []domain.RequestedSeat) error {
	if len(show.Seats) == 0 {
		return nil
	}
	for _, s := range seats {
		if _, ok := show.Seats[s.SeatNumber]; !ok {
			return errors.Wrapf(domain.ErrInvalidInput, "seat %s does not exist for this showtime", s.SeatNumber)
		}
	}
	return nil
}

func buildGroup(code string, spec CreateSpec, show *domain.Showtime, expiresAt, now time.Time) *domain.InviteGroup {
	hostSeats := make(map[string]bool, len(spec.HostSeats))
	for _, s := range spec.HostSeats {
		hostSeats[s] = true
	}
	seats := make([]domain.RequestedSeat, len(spec.RequestedSeats))
	var sum int64
	hostIdx := -1
	for i, s := range spec.RequestedSeats {
		s.IsOccupied = hostSeats[s.SeatNumber]
		s.HostOwned = s.IsOccupied
		if s.IsOccupied && hostIdx < 0 {
			hostIdx = i
		}
		seats[i] = s
		sum += s.Price
	}
	total := spec.PriceBreakdown.FinalAmount
	if total == 0 {
		total = sum
	}

	g := &domain.InviteGroup{
		InviteCode:          code,
		HostID:              spec.HostID,
		ShowtimeID:          spec.ShowtimeID,
		OwnerID:             show.OwnerID,
		RequestedSeats:      seats,
		TotalSlotsRequested: spec.TotalSlotsRequested,
		TotalAmount:         total,
		PriceBreakdown:      spec.PriceBreakdown,
		CouponUsed:          spec.CouponUsed,
		Status:              domain.InvitePending,
		ExpiresAt:           expiresAt,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if hostIdx >= 0 {
		g.Participants = []domain.Participant{{
			UserID:        spec.HostID,
			SeatIndex:     hostIdx,
			SeatAssigned:  seats[hostIdx].SeatNumber,
			Amount:        spec.HostPaidAmount,
			PaymentStatus: domain.PaymentCompleted,
			Role:          domain.RoleHost,
			TicketID:      spec.HostTicketID,
			JoinedAt:      now,
		}}
		g.PaidAmount = spec.HostPaidAmount
	}
	return g
}

func (m *Manager) holdSeats(ctx context.Context, g *domain.InviteGroup, spec CreateSpec, seats []string, log observability.Logger) error {
	res, err := m.holds.Hold(ctx, g.ShowtimeID, HoldRequest{
		SeatNumbers:         seats,
		HolderID:            g.HostID,
		SessionKey:          spec.SessionKey,
		GroupKey:            g.HoldKey(),
		HoldDurationMinutes: m.opts.HoldDurationMinutes,
	})
	if err != nil {
		// The collaborator may have held some seats before failing.
		m.compensateRelease(g, log)
		return errors.Wrap(domain.ErrUpstreamUnavailable, err.Error())
	}

	failed := append([]string(nil), res.FailedSeats...)
	held := make(map[string]bool, len(res.HeldSeats))
	for _, s := range res.HeldSeats {
		held[s] = true
	}
	for _, s := range seats {
		if !held[s] && !contains(failed, s) {
			failed = append(failed, s)
		}
	}
	if len(failed) > 0 {
		if len(res.HeldSeats) > 0 {
			m.compensateRelease(g, log)
		}
		if !res.Success && len(res.FailedSeats) == 0 {
			return errors.Wrapf(domain.ErrUpstreamUnavailable, "seat hold rejected: %s", res.Message)
		}
		return errors.Wrapf(domain.ErrSeatUnavailable, "seats not available: %v", failed)
	}
	return nil
}

// Get returns the group with lazy expiry applied to its status.
func (m *Manager) Get(ctx context.Context, inviteCode string) (*domain.InviteGroup, error) {
	g, err := m.repo.Get(ctx, inviteCode)
	if err != nil {
		return nil, err
	}
	g.Status = g.EffectiveStatus(m.now())
	return g, nil
}

// Join claims the lowest free slot for the user. The slot claim and the
// counter decrement are one versioned write; a lost race is retried from a
// fresh read and eventually surfaces as Conflict or NoSlotsAvailable.
func (m *Manager) Join(ctx context.Context, req JoinRequest) (g *domain.InviteGroup, err error) {
	ctx, span := m.tracer.Start(ctx, "invite.Join", trace.WithAttributes(attribute.String("invite_code", req.InviteCode)))
	defer func() { m.finish(span, "join", err) }()

	if err := m.validate.Struct(req); err != nil {
		return nil, errors.Wrap(domain.ErrInvalidInput, err.Error())
	}

	var joined domain.Participant
	g, err = m.mutate(ctx, req.InviteCode, func(g *domain.InviteGroup, now time.Time) error {
		p, err := g.AddParticipant(req.UserID, req.Amount, req.TicketID, now)
		joined = p
		return err
	})
	if err != nil {
		return nil, err
	}

	log := m.logger.WithField("invite_code", g.InviteCode).WithField("user_id", req.UserID)
	now := g.UpdatedAt
	evt := domain.NewEvent(domain.EventParticipantJoined, g, req.UserID, []string{joined.SeatAssigned}, now)
	evt.Data = map[string]any{"seat_index": joined.SeatIndex, "amount": joined.Amount, "available_slots": g.AvailableSlots}
	m.publish(ctx, log, evt)
	if g.Status == domain.InviteCompleted {
		m.publish(ctx, log, domain.NewEvent(domain.EventGroupCompleted, g, g.HostID, nil, now))
		log.Info("invite group completed")
	}
	return g, nil
}

// Leave removes a member and frees their seat index. The freed
// participant is returned so the caller can decide on a refund.
func (m *Manager) Leave(ctx context.Context, inviteCode string, userID uuid.UUID) (res *LeaveResult, err error) {
	ctx, span := m.tracer.Start(ctx, "invite.Leave", trace.WithAttributes(attribute.String("invite_code", inviteCode)))
	defer func() { m.finish(span, "leave", err) }()

	var left domain.Participant
	g, err := m.mutate(ctx, inviteCode, func(g *domain.InviteGroup, now time.Time) error {
		p, err := g.RemoveParticipant(userID, now)
		left = p
		return err
	})
	if err != nil {
		return nil, err
	}

	log := m.logger.WithField("invite_code", g.InviteCode).WithField("user_id", userID)
	evt := domain.NewEvent(domain.EventParticipantLeft, g, userID, []string{left.SeatAssigned}, g.UpdatedAt)
	evt.Data = map[string]any{"seat_index": left.SeatIndex, "amount": left.Amount, "ticket_id": left.TicketID}
	m.publish(ctx, log, evt)
	return &LeaveResult{Group: g, Participant: left}, nil
}

// Cancel is host-only and refuses once any member has joined. Seats are
// released after the cancellation is committed; a failed release does not
// undo it.
func (m *Manager) Cancel(ctx context.Context, inviteCode string, hostID uuid.UUID) (res *CancelResult, err error) {
	ctx, span := m.tracer.Start(ctx, "invite.Cancel", trace.WithAttributes(attribute.String("invite_code", inviteCode)))
	defer func() { m.finish(span, "cancel", err) }()

	var refunds []domain.Refund
	g, err := m.mutate(ctx, inviteCode, func(g *domain.InviteGroup, now time.Time) error {
		r, err := g.Cancel(hostID, now)
		refunds = r
		return err
	})
	if err != nil {
		return nil, err
	}

	log := m.logger.WithField("invite_code", g.InviteCode)
	m.releaseAfterCommit(ctx, g, log)
	m.publish(ctx, log, domain.NewEvent(domain.EventGroupCancelled, g, hostID, nil, g.UpdatedAt))
	log.Info("invite group cancelled")
	return &CancelResult{Group: g, Refunds: refunds}, nil
}

// Expire marks an overdue group expired and releases its seats.
func (m *Manager) Expire(ctx context.Context, inviteCode string) (g *domain.InviteGroup, err error) {
	ctx, span := m.tracer.Start(ctx, "invite.Expire", trace.WithAttributes(attribute.String("invite_code", inviteCode)))
	defer func() { m.finish(span, "expire", err) }()

	g, err = m.mutate(ctx, inviteCode, func(g *domain.InviteGroup, now time.Time) error {
		return g.Expire(now)
	})
	if err != nil {
		return nil, err
	}
	log := m.logger.WithField("invite_code", g.InviteCode)
	m.releaseAfterCommit(ctx, g, log)
	log.Info("invite group expired")
	return g, nil
}

// mutate loads the group, applies fn and persists the result with a
// version check, retrying lost races up to JoinRetries times.
func (m *Manager) mutate(ctx context.Context, inviteCode string, fn func(g *domain.InviteGroup, now time.Time) error) (*domain.InviteGroup, error) {
	var lastErr error
	for attempt := 0; attempt <= m.opts.JoinRetries; attempt++ {
		g, err := m.repo.Get(ctx, inviteCode)
		if err != nil {
			return nil, err
		}
		expected := g.Version
		if err := fn(g, m.now()); err != nil {
			return nil, err
		}
		if err := g.CheckInvariants(); err != nil {
			return nil, errors.Wrap(err, "invariant violated")
		}
		err = m.repo.Apply(ctx, g, expected)
		if err == nil {
			return g, nil
		}
		if !errors.Is(err, domain.ErrConflict) && !errors.Is(err, domain.ErrSerializationFailure) {
			return nil, err
		}
		lastErr = err
		m.logger.WithField("invite_code", inviteCode).WithField("attempt", attempt).Debug("version conflict, retrying")
	}
	return nil, errors.Wrap(domain.ErrConflict, lastErr.Error())
}

func (m *Manager) releaseAfterCommit(ctx context.Context, g *domain.InviteGroup, log observability.Logger) {
	if len(g.HeldSeatNumbers()) == 0 {
		return
	}
	if err := m.releaseWithRetry(ctx, g); err != nil {
		log.WithError(err).Warn("failed to release seat hold")
		observability.BestEffortFailures.WithLabelValues("seat_release").Inc()
		return
	}
	m.publish(ctx, log, domain.NewEvent(domain.EventSeatReleased, g, g.HostID, g.HeldSeatNumbers(), g.UpdatedAt))
}

func (m *Manager) releaseWithRetry(ctx context.Context, g *domain.InviteGroup) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.CompensationTimeout)
	defer cancel()

	var lastErr error
	for i := 0; i < m.opts.ReleaseAttempts; i++ {
		if i > 0 {
			backoff := m.opts.ReleaseBackoff * time.Duration(1<<(i-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		res, err := m.holds.Release(ctx, g.ShowtimeID, ReleaseRequest{GroupKey: g.HoldKey()})
		if err == nil && res.Success {
			return nil
		}
		if err == nil {
			err = errors.Newf("release rejected: %s", res.Message)
		}
		lastErr = err
	}
	return errors.Wrapf(lastErr, "release failed after %d attempts", m.opts.ReleaseAttempts)
}

// compensateRelease undoes a hold whose group never got persisted. It runs
// detached from the caller's context.
func (m *Manager) compensateRelease(g *domain.InviteGroup, log observability.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.CompensationTimeout)
	defer cancel()
	if _, err := m.holds.Release(ctx, g.ShowtimeID, ReleaseRequest{GroupKey: g.HoldKey()}); err != nil {
		log.WithError(err).Error("compensating seat release failed")
		observability.BestEffortFailures.WithLabelValues("compensating_release").Inc()
	}
}

func (m *Manager) publish(ctx context.Context, log observability.Logger, evt domain.Event) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Publish(ctx, evt); err != nil {
		log.WithError(err).WithField("event", string(evt.Type)).Warn("failed to publish event")
		observability.BestEffortFailures.WithLabelValues("publish").Inc()
	}
}

func (m *Manager) finish(span trace.Span, op string, err error) {
	result := "ok"
	if err != nil {
		result = string(domain.ReasonOf(err))
		span.RecordError(err)
		if !domain.IsExpected(err) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	observability.InviteTransitions.WithLabelValues(op, result).Inc()
	span.End()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
