package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/delivery-stats/internal/domain"
	"github.com/ignite/delivery-stats/internal/pkg/distlock"
	"github.com/ignite/delivery-stats/internal/pkg/metrics"
)

// Service merges fragments into daily records. It is safe for concurrent use.
type Service struct {
	repo   Repository
	locker distlock.Locker
	now    func() time.Time
}

// NewService creates an aggregate service. A nil locker serializes merges
// within this process only.
func NewService(repo Repository, locker distlock.Locker) *Service {
	if locker == nil {
		locker = distlock.NewLocalLocker()
	}
	return &Service{repo: repo, locker: locker, now: time.Now}
}

// SetClock overrides the time source used for SyncedAt.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Merge applies frag to the (accountID, date) record, creating a zero-seeded
// record when none exists, and returns the stored result. Only the fields
// present in frag change.
func (s *Service) Merge(ctx context.Context, accountID string, date domain.Date, frag domain.Fragment) (*domain.DailyStat, error) {
	if accountID == "" {
		return nil, fmt.Errorf("merge: empty account id")
	}
	if !frag.Platform.Valid() {
		return nil, fmt.Errorf("merge: unknown platform %q", frag.Platform)
	}

	// The repository's Update is what keeps writers in other processes from
	// losing each other's namespaces; the lock only queues local writers.
	unlock, err := s.locker.Lock(ctx, "stats:"+accountID)
	if err != nil {
		return nil, fmt.Errorf("lock stats %s: %w", accountID, err)
	}
	defer unlock()

	syncedAt := s.now().UTC()
	rec, err := s.repo.Update(ctx, accountID, date, func(rec *domain.DailyStat) {
		rec.ApplyFragment(frag)
		rec.SyncedAt = syncedAt
	})
	if err != nil {
		return nil, fmt.Errorf("merge daily stat %s %s: %w", accountID, date, err)
	}
	metrics.RecordsMerged.WithLabelValues(string(frag.Platform)).Inc()
	return rec, nil
}

// Get returns the stored record for (accountID, date).
func (s *Service) Get(ctx context.Context, accountID string, date domain.Date) (*domain.DailyStat, error) {
	return s.repo.Get(ctx, accountID, date)
}

// Range returns the account's records between from and to inclusive.
func (s *Service) Range(ctx context.Context, accountID string, from, to domain.Date) ([]domain.DailyStat, error) {
	if to.Before(from) {
		return nil, nil
	}
	return s.repo.ListRange(ctx, accountID, from, to)
}
