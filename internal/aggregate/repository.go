package aggregate

import (
	"context"

	"github.com/ignite/delivery-stats/internal/domain"
)

// Repository defines the data access contract for daily stat records.
type Repository interface {
	// Get returns the record for (accountID, date) or ErrNotFound.
	Get(ctx context.Context, accountID string, date domain.Date) (*domain.DailyStat, error)

	// Update loads the record for (accountID, date), or a zero-seeded one
	// when none exists, passes it to fn and stores the result. The read and
	// the write are atomic with respect to every other Update of the same
	// key, including Updates issued by other processes sharing the store.
	Update(ctx context.Context, accountID string, date domain.Date, fn func(*domain.DailyStat)) (*domain.DailyStat, error)

	// ListRange returns the account's records with from <= date <= to,
	// earliest first.
	ListRange(ctx context.Context, accountID string, from, to domain.Date) ([]domain.DailyStat, error)
}
