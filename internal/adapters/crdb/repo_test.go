package crdb_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/robertarktes/group-seat-bookings/internal/adapters/crdb"
	"github.com/robertarktes/group-seat-bookings/internal/domain"
	"github.com/robertarktes/group-seat-bookings/internal/ledger"
	"github.com/robertarktes/group-seat-bookings/internal/observability"
)

func startCockroach(t *testing.T) *crdb.Repository {
	t.Helper()
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = crdbContainer.Terminate(ctx) })

	host, err := crdbContainer.Host(ctx)
	require.NoError(t, err)
	port, err := crdbContainer.MappedPort(ctx, "26257")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, fmt.Sprintf("postgresql://root@%s:%s/defaultdb?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := crdb.NewRepository(pool)
	require.NoError(t, repo.Migrate(ctx))
	require.NoError(t, repo.Migrate(ctx))
	return repo
}

func sampleGroup(code string, now time.Time) *domain.InviteGroup {
	hostID := uuid.New()
	return &domain.InviteGroup{
		InviteCode: code,
		HostID:     hostID,
		ShowtimeID: uuid.New(),
		OwnerID:    uuid.New(),
		RequestedSeats: []domain.RequestedSeat{
			{SeatNumber: "C1", SeatRow: "C", Price: 300, IsOccupied: true, HostOwned: true},
			{SeatNumber: "C2", SeatRow: "C", Price: 300},
		},
		TotalSlotsRequested: 2,
		AvailableSlots:      1,
		Participants: []domain.Participant{
			{UserID: hostID, SeatIndex: 0, SeatAssigned: "C1", Amount: 300, PaymentStatus: domain.PaymentCompleted, Role: domain.RoleHost, JoinedAt: now},
		},
		TotalAmount:    600,
		PaidAmount:     300,
		PriceBreakdown: domain.PriceBreakdown{OriginalAmount: 600, FinalAmount: 600},
		Status:         domain.InviteActive,
		ExpiresAt:      now.Add(time.Hour),
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestInviteStore(t *testing.T) {
	repo := startCockroach(t)
	store := repo.Invites()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	g := sampleGroup("HK7PQ2MZ4A", now)
	require.NoError(t, store.Create(ctx, g))
	assert.True(t, errors.Is(store.Create(ctx, g), domain.ErrConflict))

	got, err := store.Get(ctx, g.InviteCode)
	require.NoError(t, err)
	assert.Equal(t, g.RequestedSeats, got.RequestedSeats)
	assert.Equal(t, g.Participants[0].UserID, got.Participants[0].UserID)
	assert.Equal(t, int64(1), got.Version)

	_, err = store.Get(ctx, "NOPE")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	// Two writers read version 1; only the first write lands.
	first, second := got.Clone(), got.Clone()
	_, err = first.AddParticipant(uuid.New(), 300, "", now)
	require.NoError(t, err)
	_, err = second.AddParticipant(uuid.New(), 300, "", now)
	require.NoError(t, err)

	require.NoError(t, store.Apply(ctx, first, 1))
	assert.Equal(t, int64(2), first.Version)
	assert.True(t, errors.Is(store.Apply(ctx, second, 1), domain.ErrConflict))

	stored, err := store.Get(ctx, g.InviteCode)
	require.NoError(t, err)
	assert.Equal(t, domain.InviteCompleted, stored.Status)
	assert.Zero(t, stored.AvailableSlots)
	require.NotNil(t, stored.CompletedAt)
	require.NoError(t, stored.CheckInvariants())
}

func TestInviteStore_ListExpired(t *testing.T) {
	repo := startCockroach(t)
	store := repo.Invites()
	ctx := context.Background()
	now := time.Now().UTC()

	overdue := sampleGroup("OVERDUE234", now)
	overdue.ExpiresAt = now.Add(-time.Minute)
	fresh := sampleGroup("FRESH23456", now)
	done := sampleGroup("DONE234567", now)
	done.ExpiresAt = now.Add(-time.Minute)
	done.Status = domain.InviteCancelled
	for _, g := range []*domain.InviteGroup{overdue, fresh, done} {
		require.NoError(t, store.Create(ctx, g))
	}

	expired, err := store.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, overdue.InviteCode, expired[0].InviteCode)
}

func TestLedgerStore_BookingPayment(t *testing.T) {
	repo := startCockroach(t)
	ctx := context.Background()
	engine := ledger.NewEngine(repo.Ledger(), nil, observability.NewNopLogger(), ledger.Options{})

	customer := domain.Identity{UserID: uuid.New(), Kind: domain.OwnerKindUser}
	owner := domain.Identity{UserID: uuid.New(), Kind: domain.OwnerKindOwner}
	for _, id := range []domain.Identity{customer, owner} {
		_, err := engine.OpenWallet(ctx, id, "INR")
		require.NoError(t, err)
	}
	_, err := engine.OpenWallet(ctx, customer, "INR")
	assert.True(t, errors.Is(err, domain.ErrConflict))

	_, err = engine.Post(ctx, ledger.Entry{Identity: customer, Type: domain.TxCredit, Amount: 1200, Category: domain.CategoryTopUp})
	require.NoError(t, err)

	res, err := engine.ProcessBookingPayment(ctx, ledger.BookingPayment{
		CustomerID: customer.UserID, OwnerID: owner.UserID, TotalAmount: 1000, FeePercentage: 10,
		Metadata: domain.TxMetadata{InviteCode: "HK7PQ2MZ4A", Seats: []string{"C1", "C2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.CustomerTx.Amount)
	assert.Equal(t, int64(900), res.OwnerTx.Amount)

	_, err = engine.ProcessBookingPayment(ctx, ledger.BookingPayment{
		CustomerID: customer.UserID, OwnerID: owner.UserID, TotalAmount: 1000, FeePercentage: 10,
	})
	assert.True(t, errors.Is(err, domain.ErrInsufficientFunds))

	cw, err := engine.Wallet(ctx, customer)
	require.NoError(t, err)
	assert.Equal(t, int64(200), cw.Balance)

	txs, err := engine.Transactions(ctx, owner, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.CategoryBookingRevenue, txs[0].Category)
	assert.Equal(t, []string{"C1", "C2"}, txs[0].Metadata.Seats)
	assert.Equal(t, "10", txs[0].Metadata.FeePercentage)
}

func TestRepository_RelayOutbox(t *testing.T) {
	repo := startCockroach(t)
	ctx := context.Background()

	ok := crdb.OutboxRecord{ID: uuid.New(), AggregateType: "invite_group", AggregateID: "A", EventType: "invite.seat_held", Payload: []byte(`{"n":1}`), DedupeKey: "k1"}
	bad := crdb.OutboxRecord{ID: uuid.New(), AggregateType: "invite_group", AggregateID: "B", EventType: "invite.seat_released", Payload: []byte(`{"n":2}`), DedupeKey: "k2"}
	require.NoError(t, repo.InsertOutbox(ctx, ok))
	require.NoError(t, repo.InsertOutbox(ctx, ok))
	require.NoError(t, repo.InsertOutbox(ctx, bad))

	send := func(rec crdb.OutboxRecord) error {
		if rec.DedupeKey == "k2" {
			return errors.New("broker nack")
		}
		return nil
	}
	batch, err := repo.RelayOutbox(ctx, 10, 2, send)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Published)
	assert.Equal(t, 1, batch.Failed)

	batch, err = repo.RelayOutbox(ctx, 10, 2, send)
	require.NoError(t, err)
	assert.Equal(t, 0, batch.Published)
	assert.Equal(t, 1, batch.Failed)

	// Parked after two attempts.
	batch, err = repo.RelayOutbox(ctx, 10, 2, send)
	require.NoError(t, err)
	assert.Equal(t, crdb.OutboxBatch{}, batch)
}
