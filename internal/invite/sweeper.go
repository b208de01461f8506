package invite

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/robertarktes/group-seat-bookings/internal/domain"
	"github.com/robertarktes/group-seat-bookings/internal/observability"
)

// Sweeper corrects groups whose deadline passed without a terminal
// transition. Reads already treat them as expired; the sweep makes it
// durable and gives the seats back.
type Sweeper struct {
	manager     *Manager
	repo        Repository
	logger      observability.Logger
	batch       int
	concurrency int
}

func NewSweeper(manager *Manager, repo Repository, logger observability.Logger, batch, concurrency int) *Sweeper {
	if batch <= 0 {
		batch = 100
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Sweeper{manager: manager, repo: repo, logger: logger, batch: batch, concurrency: concurrency}
}

func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.RunOnce(ctx)
			if err != nil {
				s.logger.WithError(err).Error("expiry sweep failed")
				continue
			}
			if n > 0 {
				s.logger.WithField("expired", n).Info("expiry sweep finished")
			}
		}
	}
}

// RunOnce expires one batch of overdue groups and returns how many were
// transitioned by this call.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	groups, err := s.repo.ListExpired(ctx, s.manager.now(), s.batch)
	if err != nil {
		return 0, errors.Wrap(err, "list expired invite groups")
	}

	results := make([]bool, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, grp := range groups {
		g.Go(func() error {
			_, err := s.manager.Expire(gctx, grp.InviteCode)
			switch {
			case err == nil:
				results[i] = true
			case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrNotFound):
				// Someone else finished or cancelled it first.
			default:
				s.logger.WithField("invite_code", grp.InviteCode).WithError(err).Warn("failed to expire invite group")
			}
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range results {
		if ok {
			n++
		}
	}
	return n, nil
}
