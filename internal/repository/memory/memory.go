// Package memory holds process-local repositories used when no database is
// configured, and by dry runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ignite/delivery-stats/internal/aggregate"
	"github.com/ignite/delivery-stats/internal/domain"
)

type statKey struct {
	account string
	date    domain.Date
}

// DailyStatRepo implements aggregate.Repository in memory.
type DailyStatRepo struct {
	mu    sync.RWMutex
	store map[statKey]domain.DailyStat
}

// NewDailyStatRepo creates an empty in-memory daily stat repository.
func NewDailyStatRepo() *DailyStatRepo {
	return &DailyStatRepo{store: make(map[statKey]domain.DailyStat)}
}

func (r *DailyStatRepo) Get(_ context.Context, accountID string, date domain.Date) (*domain.DailyStat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.store[statKey{accountID, date}]
	if !ok {
		return nil, aggregate.ErrNotFound
	}
	return &rec, nil
}

func (r *DailyStatRepo) Update(_ context.Context, accountID string, date domain.Date, fn func(*domain.DailyStat)) (*domain.DailyStat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := statKey{accountID, date}
	rec, ok := r.store[key]
	if !ok {
		rec = *domain.NewDailyStat(accountID, date)
	}
	fn(&rec)
	r.store[key] = rec
	return &rec, nil
}

func (r *DailyStatRepo) ListRange(_ context.Context, accountID string, from, to domain.Date) ([]domain.DailyStat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.DailyStat
	for k, rec := range r.store {
		if k.account == accountID && !k.date.Before(from) && !k.date.After(to) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// Len returns the number of stored records.
func (r *DailyStatRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store)
}

type credKey struct {
	account  string
	platform domain.Platform
}

// CredentialRepo implements session.CredentialStore in memory.
type CredentialRepo struct {
	mu    sync.RWMutex
	creds map[credKey]domain.Credential
}

// NewCredentialRepo creates an empty in-memory credential store.
func NewCredentialRepo() *CredentialRepo {
	return &CredentialRepo{creds: make(map[credKey]domain.Credential)}
}

func (r *CredentialRepo) Load(_ context.Context, accountID string, p domain.Platform) (domain.Credential, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.creds[credKey{accountID, p}]
	return c, ok, nil
}

func (r *CredentialRepo) Save(_ context.Context, accountID string, p domain.Platform, c domain.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[credKey{accountID, p}] = c
	return nil
}
