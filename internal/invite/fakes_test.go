package invite

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/robertarktes/group-seat-bookings/internal/domain"
)

type memRepo struct {
	mu        sync.Mutex
	groups    map[string]*domain.InviteGroup
	createErr error
	applies   int
}

func newMemRepo() *memRepo {
	return &memRepo{groups: map[string]*domain.InviteGroup{}}
}

func (r *memRepo) Create(ctx context.Context, g *domain.InviteGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.groups[g.InviteCode]; ok {
		return domain.ErrConflict
	}
	r.groups[g.InviteCode] = g.Clone()
	return nil
}

func (r *memRepo) Get(ctx context.Context, code string) (*domain.InviteGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return g.Clone(), nil
}

func (r *memRepo) Apply(ctx context.Context, g *domain.InviteGroup, expected int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.groups[g.InviteCode]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != expected {
		return errors.Wrap(domain.ErrConflict, "stale version")
	}
	g.Version = expected + 1
	r.groups[g.InviteCode] = g.Clone()
	r.applies++
	return nil
}

func (r *memRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.InviteGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.InviteGroup
	for _, g := range r.groups {
		if !g.Status.Terminal() && !g.ExpiresAt.After(now) {
			out = append(out, g.Clone())
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// put stores g directly, bypassing Create.
func (r *memRepo) put(g *domain.InviteGroup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[g.InviteCode] = g.Clone()
}

func (r *memRepo) stored(code string) *domain.InviteGroup {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.groups[code].Clone()
}

type fakeHolds struct {
	mu          sync.Mutex
	unavailable map[string]bool
	holdErr     error
	releaseErr  error
	holdCalls   []HoldRequest
	released    []string
}

func (f *fakeHolds) Hold(ctx context.Context, showtimeID uuid.UUID, req HoldRequest) (HoldResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holdCalls = append(f.holdCalls, req)
	if f.holdErr != nil {
		return HoldResult{}, f.holdErr
	}
	res := HoldResult{Success: true}
	for _, s := range req.SeatNumbers {
		if f.unavailable[s] {
			res.FailedSeats = append(res.FailedSeats, s)
			continue
		}
		res.HeldSeats = append(res.HeldSeats, s)
	}
	res.Success = len(res.FailedSeats) == 0
	return res, nil
}

func (f *fakeHolds) Release(ctx context.Context, showtimeID uuid.UUID, req ReleaseRequest) (ReleaseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, req.GroupKey)
	if f.releaseErr != nil {
		return ReleaseResult{}, f.releaseErr
	}
	return ReleaseResult{Success: true}, nil
}

func (f *fakeHolds) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.released)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (f *fakeNotifier) Publish(ctx context.Context, evt domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeNotifier) types() []domain.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.EventType, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

type fakeCatalog struct {
	shows map[uuid.UUID]*domain.Showtime
}

func (c *fakeCatalog) Showtime(ctx context.Context, id uuid.UUID) (*domain.Showtime, error) {
	s, ok := c.shows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}
