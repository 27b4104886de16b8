package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/delivery-stats/internal/aggregate"
	"github.com/ignite/delivery-stats/internal/domain"
	"github.com/ignite/delivery-stats/internal/session"
)

var (
	_ aggregate.Repository    = (*DailyStatRepo)(nil)
	_ session.CredentialStore = (*CredentialRepo)(nil)
)

func TestDailyStatRepoThroughService(t *testing.T) {
	repo := NewDailyStatRepo()
	svc := aggregate.NewService(repo, nil)
	ctx := context.Background()
	d := domain.NewDate(2024, time.September, 10)

	_, err := svc.Merge(ctx, "A", d, domain.Fragment{Platform: domain.PlatformGrab, Delta: domain.PlatformDelta{Sales: domain.Float(100), Orders: domain.Int(5)}})
	require.NoError(t, err)
	_, err = svc.Merge(ctx, "A", d, domain.Fragment{Platform: domain.PlatformGojek, Delta: domain.PlatformDelta{Sales: domain.Float(50), Orders: domain.Int(2)}})
	require.NoError(t, err)

	rec, err := repo.Get(ctx, "A", d)
	require.NoError(t, err)
	assert.Equal(t, 150.0, rec.TotalSales)
	assert.Equal(t, int64(7), rec.TotalOrders)
	assert.Equal(t, 1, repo.Len())

	_, err = repo.Get(ctx, "A", d.AddDays(1))
	assert.ErrorIs(t, err, aggregate.ErrNotFound)
}

func TestDailyStatRepoReturnsCopies(t *testing.T) {
	repo := NewDailyStatRepo()
	d := domain.NewDate(2024, time.September, 10)
	_, err := repo.Update(context.Background(), "A", d, func(*domain.DailyStat) {})
	require.NoError(t, err)

	rec, err := repo.Get(context.Background(), "A", d)
	require.NoError(t, err)
	rec.TotalSales = 999

	again, err := repo.Get(context.Background(), "A", d)
	require.NoError(t, err)
	assert.Zero(t, again.TotalSales)
}

func TestCredentialRepo(t *testing.T) {
	repo := NewCredentialRepo()
	ctx := context.Background()

	_, found, err := repo.Load(ctx, "A", domain.PlatformGrab)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, repo.Save(ctx, "A", domain.PlatformGrab, domain.Credential{RefreshToken: "rt"}))
	c, found, err := repo.Load(ctx, "A", domain.PlatformGrab)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "rt", c.RefreshToken)

	_, found, _ = repo.Load(ctx, "A", domain.PlatformGojek)
	assert.False(t, found)
}
