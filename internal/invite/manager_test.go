package invite

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertarktes/group-seat-bookings/internal/domain"
	"github.com/robertarktes/group-seat-bookings/internal/observability"
)

type harness struct {
	repo     *memRepo
	holds    *fakeHolds
	notifier *fakeNotifier
	catalog  *fakeCatalog
	manager  *Manager
	show     *domain.Showtime
	now      time.Time
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	show := &domain.Showtime{ID: uuid.New(), OwnerID: uuid.New(), StartsAt: now.Add(48 * time.Hour)}
	h := &harness{
		repo:     newMemRepo(),
		holds:    &fakeHolds{unavailable: map[string]bool{}},
		notifier: &fakeNotifier{},
		catalog:  &fakeCatalog{shows: map[uuid.UUID]*domain.Showtime{show.ID: show}},
		show:     show,
		now:      now,
	}
	if opts.Cutoff == 0 {
		opts.Cutoff = 30 * time.Minute
	}
	h.manager = NewManager(h.repo, h.holds, h.notifier, h.catalog, observability.NewNopLogger(), opts)
	h.manager.now = func() time.Time { return h.now }
	return h
}

func seatBlock(n int, price int64) []domain.RequestedSeat {
	seats := make([]domain.RequestedSeat, n)
	for i := range seats {
		seats[i] = domain.RequestedSeat{SeatNumber: "B" + string(rune('1'+i)), SeatRow: "B", SeatType: "standard", Price: price}
	}
	return seats
}

// createGroup makes a group of n seats where the host already owns the first.
func (h *harness) createGroup(t *testing.T, n int) *domain.InviteGroup {
	t.Helper()
	seats := seatBlock(n, 250)
	g, err := h.manager.Create(context.Background(), CreateSpec{
		HostID:              uuid.New(),
		ShowtimeID:          h.show.ID,
		RequestedSeats:      seats,
		TotalSlotsRequested: n,
		HostSeats:           []string{seats[0].SeatNumber},
		HostPaidAmount:      250,
		HostTicketID:        "host-ticket",
	})
	require.NoError(t, err)
	return g
}

func assertSlotInvariant(t *testing.T, g *domain.InviteGroup) {
	t.Helper()
	claimed := 0
	for _, s := range g.RequestedSeats {
		if s.IsOccupied {
			claimed++
		}
	}
	assert.Equal(t, g.TotalSlotsRequested, g.AvailableSlots+claimed)
	assert.GreaterOrEqual(t, g.AvailableSlots, 0)
	require.NoError(t, g.CheckInvariants())
}

func TestManager_Create(t *testing.T) {
	h := newHarness(t, Options{})
	g := h.createGroup(t, 3)

	assert.Equal(t, domain.InviteActive, g.Status)
	assert.Equal(t, 2, g.AvailableSlots)
	assert.Equal(t, int64(750), g.TotalAmount)
	assert.Equal(t, int64(250), g.PaidAmount)
	assert.Equal(t, h.show.OwnerID, g.OwnerID)
	assert.Equal(t, h.show.StartsAt.Add(-30*time.Minute), g.ExpiresAt)
	assert.Len(t, g.InviteCode, codeLength)
	require.Len(t, g.Participants, 1)
	assert.Equal(t, domain.RoleHost, g.Participants[0].Role)
	assert.True(t, g.RequestedSeats[0].IsOccupied)

	require.Len(t, h.holds.holdCalls, 1)
	assert.Equal(t, []string{"B2", "B3"}, h.holds.holdCalls[0].SeatNumbers)
	assert.Equal(t, g.HoldKey(), h.holds.holdCalls[0].GroupKey)
	assert.Equal(t, []domain.EventType{domain.EventSeatHeld}, h.notifier.types())

	stored := h.repo.stored(g.InviteCode)
	assertSlotInvariant(t, stored)
}

func TestManager_CreateAllSeatsHostOwned(t *testing.T) {
	h := newHarness(t, Options{})
	seats := seatBlock(2, 100)
	g, err := h.manager.Create(context.Background(), CreateSpec{
		HostID:              uuid.New(),
		ShowtimeID:          h.show.ID,
		RequestedSeats:      seats,
		TotalSlotsRequested: 2,
		HostSeats:           []string{"B1", "B2"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.InvitePaymentPending, g.Status)
	assert.Equal(t, 0, g.AvailableSlots)
	assert.Empty(t, h.holds.holdCalls)
	assert.Empty(t, h.notifier.types())
}

func TestManager_CreateRejectsInvalidInput(t *testing.T) {
	h := newHarness(t, Options{})
	base := func() CreateSpec {
		return CreateSpec{
			HostID:              uuid.New(),
			ShowtimeID:          h.show.ID,
			RequestedSeats:      seatBlock(2, 100),
			TotalSlotsRequested: 2,
		}
	}

	tests := []struct {
		name   string
		mutate func(*CreateSpec)
	}{
		{"single slot", func(s *CreateSpec) { s.RequestedSeats = seatBlock(1, 100); s.TotalSlotsRequested = 1 }},
		{"no seats", func(s *CreateSpec) { s.RequestedSeats = nil }},
		{"count mismatch", func(s *CreateSpec) { s.TotalSlotsRequested = 3 }},
		{"missing host", func(s *CreateSpec) { s.HostID = uuid.Nil }},
		{"duplicate seat", func(s *CreateSpec) { s.RequestedSeats[1].SeatNumber = s.RequestedSeats[0].SeatNumber }},
		{"foreign host seat", func(s *CreateSpec) { s.HostSeats = []string{"Z9"} }},
		{"negative price", func(s *CreateSpec) { s.RequestedSeats[0].Price = -1 }},
		{"host overpaid", func(s *CreateSpec) { s.HostPaidAmount = 1000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := base()
			tt.mutate(&spec)
			_, err := h.manager.Create(context.Background(), spec)
			assert.True(t, errors.Is(err, domain.ErrInvalidInput), "got %v", err)
		})
	}
	assert.Empty(t, h.holds.holdCalls)
}

func TestManager_CreateTooCloseToShowtime(t *testing.T) {
	h := newHarness(t, Options{})
	h.now = h.show.StartsAt.Add(-10 * time.Minute)
	_, err := h.manager.Create(context.Background(), CreateSpec{
		HostID:              uuid.New(),
		ShowtimeID:          h.show.ID,
		RequestedSeats:      seatBlock(2, 100),
		TotalSlotsRequested: 2,
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestManager_CreateSeatUnavailableReleasesPartialHold(t *testing.T) {
	h := newHarness(t, Options{})
	h.holds.unavailable["B3"] = true

	_, err := h.manager.Create(context.Background(), CreateSpec{
		HostID:              uuid.New(),
		ShowtimeID:          h.show.ID,
		RequestedSeats:      seatBlock(3, 100),
		TotalSlotsRequested: 3,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSeatUnavailable))
	assert.Contains(t, err.Error(), "B3")
	assert.Equal(t, 1, h.holds.releaseCount())
	assert.Empty(t, h.repo.groups)
	assert.Empty(t, h.notifier.types())
}

func TestManager_CreateHoldTimeoutIsUpstreamUnavailable(t *testing.T) {
	h := newHarness(t, Options{})
	h.holds.holdErr = context.DeadlineExceeded

	_, err := h.manager.Create(context.Background(), CreateSpec{
		HostID:              uuid.New(),
		ShowtimeID:          h.show.ID,
		RequestedSeats:      seatBlock(2, 100),
		TotalSlotsRequested: 2,
	})
	assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))
	assert.Equal(t, 1, h.holds.releaseCount())
}

func TestManager_CreatePersistFailureReleasesHold(t *testing.T) {
	h := newHarness(t, Options{})
	h.repo.createErr = errors.New("connection refused")

	_, err := h.manager.Create(context.Background(), CreateSpec{
		HostID:              uuid.New(),
		ShowtimeID:          h.show.ID,
		RequestedSeats:      seatBlock(2, 100),
		TotalSlotsRequested: 2,
	})
	require.Error(t, err)
	assert.False(t, domain.IsExpected(err))
	assert.Equal(t, 1, h.holds.releaseCount())
	assert.Empty(t, h.notifier.types())
}

func TestManager_CreateSkipsTakenCodes(t *testing.T) {
	h := newHarness(t, Options{})
	existing := h.createGroup(t, 2)
	codes := []string{existing.InviteCode, "FRESHCQDE2"}
	h.manager.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	g := h.createGroup(t, 2)
	assert.Equal(t, "FRESHCQDE2", g.InviteCode)
	assert.Zero(t, h.holds.releaseCount())
	assert.Equal(t, existing.HostID, h.repo.stored(existing.InviteCode).HostID)

	h.manager.newCode = func() (string, error) { return existing.InviteCode, nil }
	_, err := h.manager.Create(context.Background(), CreateSpec{
		HostID:              uuid.New(),
		ShowtimeID:          h.show.ID,
		RequestedSeats:      seatBlock(2, 100),
		TotalSlotsRequested: 2,
	})
	assert.True(t, errors.Is(err, domain.ErrConflict))
	require.Len(t, h.holds.holdCalls, 2)
}

func TestManager_CreateCodeRaceKeepsOtherHolds(t *testing.T) {
	h := newHarness(t, Options{})
	h.repo.createErr = errors.Wrap(domain.ErrConflict, "duplicate invite code")

	_, err := h.manager.Create(context.Background(), CreateSpec{
		HostID:              uuid.New(),
		ShowtimeID:          h.show.ID,
		RequestedSeats:      seatBlock(2, 100),
		TotalSlotsRequested: 2,
	})
	assert.True(t, errors.Is(err, domain.ErrConflict))
	require.Len(t, h.holds.holdCalls, 1)
	assert.Zero(t, h.holds.releaseCount())
	assert.Empty(t, h.notifier.types())
}

func TestManager_CreateUnknownShowtime(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.manager.Create(context.Background(), CreateSpec{
		HostID:              uuid.New(),
		ShowtimeID:          uuid.New(),
		RequestedSeats:      seatBlock(2, 100),
		TotalSlotsRequested: 2,
	})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestManager_JoinCompletesGroup(t *testing.T) {
	h := newHarness(t, Options{})
	g := h.createGroup(t, 2)
	require.Equal(t, 1, g.AvailableSlots)

	member := uuid.New()
	got, err := h.manager.Join(context.Background(), JoinRequest{InviteCode: g.InviteCode, UserID: member, Amount: 250, TicketID: "t-1"})
	require.NoError(t, err)

	assert.Equal(t, domain.InviteCompleted, got.Status)
	assert.Equal(t, 0, got.AvailableSlots)
	require.NotNil(t, got.CompletedAt)
	p, ok := got.Participant(member)
	require.True(t, ok)
	assert.Equal(t, 1, p.SeatIndex)
	assert.Equal(t, domain.PaymentCompleted, p.PaymentStatus)
	assert.Equal(t, []domain.EventType{domain.EventSeatHeld, domain.EventParticipantJoined, domain.EventGroupCompleted}, h.notifier.types())
	assertSlotInvariant(t, h.repo.stored(g.InviteCode))
}

func TestManager_JoinTwiceIsAlreadyParticipant(t *testing.T) {
	h := newHarness(t, Options{})
	g := h.createGroup(t, 4)
	member := uuid.New()

	_, err := h.manager.Join(context.Background(), JoinRequest{InviteCode: g.InviteCode, UserID: member, Amount: 100})
	require.NoError(t, err)
	_, err = h.manager.Join(context.Background(), JoinRequest{InviteCode: g.InviteCode, UserID: member, Amount: 100})
	assert.True(t, errors.Is(err, domain.ErrAlreadyParticipant))

	_, err = h.manager.Join(context.Background(), JoinRequest{InviteCode: g.InviteCode, UserID: g.HostID})
	assert.True(t, errors.Is(err, domain.ErrAlreadyParticipant))
}

func TestManager_JoinFailures(t *testing.T) {
	h := newHarness(t, Options{})
	g := h.createGroup(t, 2)

	_, err := h.manager.Join(context.Background(), JoinRequest{InviteCode: "missing", UserID: uuid.New()})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = h.manager.Join(context.Background(), JoinRequest{InviteCode: g.InviteCode, UserID: uuid.New()})
	require.NoError(t, err)
	_, err = h.manager.Join(context.Background(), JoinRequest{InviteCode: g.InviteCode, UserID: uuid.New()})
	assert.True(t, errors.Is(err, domain.ErrNoSlotsAvailable), "completed groups accept no joins, got %v", err)

	h2 := newHarness(t, Options{})
	g2 := h2.createGroup(t, 3)
	h2.now = g2.ExpiresAt.Add(time.Minute)
	_, err = h2.manager.Join(context.Background(), JoinRequest{InviteCode: g2.InviteCode, UserID: uuid.New()})
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
}

func TestManager_ConcurrentJoinsForLastSlot(t *testing.T) {
	for _, retries := range []int{0, 3} {
		h := newHarness(t, Options{JoinRetries: retries})
		g := h.createGroup(t, 2)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		start := make(chan struct{})
		for i := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, errs[i] = h.manager.Join(context.Background(), JoinRequest{InviteCode: g.InviteCode, UserID: uuid.New(), Amount: 100})
			}()
		}
		close(start)
		wg.Wait()

		successes, losers := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNoSlotsAvailable):
				losers++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, successes)
		assert.Equal(t, 1, losers)

		stored := h.repo.stored(g.InviteCode)
		assert.Equal(t, 0, stored.AvailableSlots)
		assert.Len(t, stored.Participants, 2)
		assertSlotInvariant(t, stored)
	}
}

func TestManager_ManyConcurrentJoinsNeverOversell(t *testing.T) {
	h := newHarness(t, Options{JoinRetries: 10})
	g := h.createGroup(t, 6)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.manager.Join(context.Background(), JoinRequest{InviteCode: g.InviteCode, UserID: uuid.New(), Amount: 10})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	stored := h.repo.stored(g.InviteCode)
	assert.Equal(t, 5, successes)
	assert.Equal(t, 0, stored.AvailableSlots)
	assert.Equal(t, domain.InviteCompleted, stored.Status)
	assertSlotInvariant(t, stored)
}

func TestManager_LeaveReopensCompletedGroup(t *testing.T) {
	h := newHarness(t, Options{})
	g := h.createGroup(t, 2)
	member := uuid.New()
	_, err := h.manager.Join(context.Background(), JoinRequest{InviteCode: g.InviteCode, UserID: member, Amount: 250, TicketID: "t-9"})
	require.NoError(t, err)

	res, err := h.manager.Leave(context.Background(), g.InviteCode, member)
	require.NoError(t, err)
	assert.Equal(t, domain.InviteActive, res.Group.Status)
	assert.Equal(t, 1, res.Group.AvailableSlots)
	assert.Equal(t, "t-9", res.Participant.TicketID)
	assert.Equal(t, int64(250), res.Participant.Amount)
	assert.Equal(t, 1, res.Participant.SeatIndex)
	assertSlotInvariant(t, h.repo.stored(g.InviteCode))

	_, err = h.manager.Leave(context.Background(), g.InviteCode, member)
	assert.True(t, errors.Is(err, domain.ErrNotParticipant))
	_, err = h.manager.Leave(context.Background(), "missing", member)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestManager_LeaveKeepsIndicesStable(t *testing.T) {
	h := newHarness(t, Options{})
	g := h.createGroup(t, 4)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	for _, u := range []uuid.UUID{a, b, c} {
		_, err := h.manager.Join(context.Background(), JoinRequest{InviteCode: g.InviteCode, UserID: u})
		require.NoError(t, err)
	}
	_, err := h.manager.Leave(context.Background(), g.InviteCode, b)
	require.NoError(t, err)

	stored := h.repo.stored(g.InviteCode)
	pa, _ := stored.Participant(a)
	pc, _ := stored.Participant(c)
	assert.Equal(t, 1, pa.SeatIndex)
	assert.Equal(t, 3, pc.SeatIndex)

	d := uuid.New()
	got, err := h.manager.Join(context.Background(), JoinRequest{InviteCode: g.InviteCode, UserID: d})
	require.NoError(t, err)
	pd, _ := got.Participant(d)
	assert.Equal(t, 2, pd.SeatIndex, "freed index is reused")
}

func TestManager_SlotInvariantUnderRandomJoinLeave(t *testing.T) {
	h := newHarness(t, Options{})
	g := h.createGroup(t, 5)
	rng := rand.New(rand.NewSource(7))
	var members []uuid.UUID

	for step := 0; step < 200; step++ {
		if len(members) > 0 && rng.Intn(2) == 0 {
			i := rng.Intn(len(members))
			_, err := h.manager.Leave(context.Background(), g.InviteCode, members[i])
			require.NoError(t, err)
			members = append(members[:i], members[i+1:]...)
		} else {
			u := uuid.New()
			_, err := h.manager.Join(context.Background(), JoinRequest{InviteCode: g.InviteCode, UserID: u})
			if err == nil {
				members = append(members, u)
			} else {
				require.True(t, errors.Is(err, domain.ErrNoSlotsAvailable), "step %d: %v", step, err)
			}
		}
		assertSlotInvariant(t, h.repo.stored(g.InviteCode))
	}
}

func TestManager_CancelGuard(t *testing.T) {
	h := newHarness(t, Options{})
	g := h.createGroup(t, 4)
	_, err := h.manager.Join(context.Background(), JoinRequest{InviteCode: g.InviteCode, UserID: uuid.New(), Amount: 100})
	require.NoError(t, err)

	_, err = h.manager.Cancel(context.Background(), g.InviteCode, g.HostID)
	assert.True(t, errors.Is(err, domain.ErrConflict))
	assert.Equal(t, domain.InviteActive, h.repo.stored(g.InviteCode).Status)
}

func TestManager_CancelWithoutMembers(t *testing.T) {
	h := newHarness(t, Options{})
	g := h.createGroup(t, 4)

	_, err := h.manager.Cancel(context.Background(), g.InviteCode, uuid.New())
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	res, err := h.manager.Cancel(context.Background(), g.InviteCode, g.HostID)
	require.NoError(t, err)
	assert.Equal(t, domain.InviteCancelled, res.Group.Status)
	require.NotNil(t, res.Group.CancelledAt)
	require.Len(t, res.Refunds, 1)
	assert.Equal(t, "host-ticket", res.Refunds[0].TicketID)
	assert.Equal(t, 1, h.holds.releaseCount())
	assert.Equal(t, []domain.EventType{domain.EventSeatHeld, domain.EventSeatReleased, domain.EventGroupCancelled}, h.notifier.types())

	_, err = h.manager.Cancel(context.Background(), g.InviteCode, g.HostID)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	_, err = h.manager.Join(context.Background(), JoinRequest{InviteCode: g.InviteCode, UserID: uuid.New()})
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
}

func TestManager_CancelSurvivesReleaseFailure(t *testing.T) {
	h := newHarness(t, Options{ReleaseAttempts: 3, ReleaseBackoff: time.Millisecond})
	g := h.createGroup(t, 3)
	h.holds.releaseErr = errors.New("inventory down")

	res, err := h.manager.Cancel(context.Background(), g.InviteCode, g.HostID)
	require.NoError(t, err)
	assert.Equal(t, domain.InviteCancelled, res.Group.Status)
	assert.Equal(t, 3, h.holds.releaseCount())
	assert.Equal(t, domain.InviteCancelled, h.repo.stored(g.InviteCode).Status)
	assert.NotContains(t, h.notifier.types(), domain.EventSeatReleased)
}

func TestManager_PublishFailureDoesNotFailOperation(t *testing.T) {
	h := newHarness(t, Options{})
	h.notifier.err = errors.New("broker down")
	g := h.createGroup(t, 2)

	_, err := h.manager.Join(context.Background(), JoinRequest{InviteCode: g.InviteCode, UserID: uuid.New()})
	require.NoError(t, err)
}

func TestManager_GetAppliesLazyExpiry(t *testing.T) {
	h := newHarness(t, Options{})
	g := h.createGroup(t, 3)

	got, err := h.manager.Get(context.Background(), g.InviteCode)
	require.NoError(t, err)
	assert.Equal(t, domain.InviteActive, got.Status)

	h.now = g.ExpiresAt
	got, err = h.manager.Get(context.Background(), g.InviteCode)
	require.NoError(t, err)
	assert.Equal(t, domain.InviteExpired, got.Status)
	assert.Equal(t, domain.InviteActive, h.repo.stored(g.InviteCode).Status, "lazy expiry does not write")
}

func TestSweeper_ExpiresOverdueGroups(t *testing.T) {
	h := newHarness(t, Options{})
	overdue := h.createGroup(t, 3)
	done := h.createGroup(t, 2)
	_, err := h.manager.Join(context.Background(), JoinRequest{InviteCode: done.InviteCode, UserID: uuid.New()})
	require.NoError(t, err)

	h.now = overdue.ExpiresAt.Add(time.Second)
	s := NewSweeper(h.manager, h.repo, observability.NewNopLogger(), 10, 2)
	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, domain.InviteExpired, h.repo.stored(overdue.InviteCode).Status)
	assert.Equal(t, domain.InviteCompleted, h.repo.stored(done.InviteCode).Status)
	assert.Equal(t, 1, h.holds.releaseCount())

	n, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
