package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/delivery-stats/internal/domain"
	"github.com/ignite/delivery-stats/internal/pkg/distlock"
	"github.com/ignite/delivery-stats/internal/pkg/logger"
	"github.com/ignite/delivery-stats/internal/pkg/metrics"
)

type pairKey struct {
	account  string
	platform domain.Platform
}

func (k pairKey) lockKey() string {
	return "session:" + k.account + ":" + string(k.platform)
}

// Manager renews and hands out credentials.
type Manager struct {
	store   CredentialStore
	auths   map[domain.Platform]Authenticator
	mirrors []Mirror
	locker  distlock.Locker
	now     func() time.Time

	mu        sync.Mutex
	validated map[pairKey]domain.Credential
}

// Option configures a Manager.
type Option func(*Manager)

// WithMirror adds a secondary credential mirror.
func WithMirror(m Mirror) Option {
	return func(mgr *Manager) { mgr.mirrors = append(mgr.mirrors, m) }
}

// WithLocker replaces the default process-local per-pair lock.
func WithLocker(l distlock.Locker) Option {
	return func(mgr *Manager) { mgr.locker = l }
}

// WithClock overrides the time source used to stamp credentials.
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) { mgr.now = now }
}

// NewManager creates a Manager. auths maps each platform to its token API.
func NewManager(store CredentialStore, auths map[domain.Platform]Authenticator, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		auths:     auths,
		locker:    distlock.NewLocalLocker(),
		now:       time.Now,
		validated: make(map[pairKey]domain.Credential),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureValid returns a credential that was valid as of the last network
// check made by this process. The first call for a pair renews it: refresh
// when a refresh token exists, login otherwise or when refresh fails.
func (m *Manager) EnsureValid(ctx context.Context, acct domain.Account, p domain.Platform) (domain.Credential, error) {
	k := pairKey{acct.ID, p}
	if cred, ok := m.cached(k); ok {
		return cred, nil
	}

	unlock, err := m.locker.Lock(ctx, k.lockKey())
	if err != nil {
		return domain.Credential{}, fmt.Errorf("lock session %s/%s: %w", acct.ID, p, err)
	}
	defer unlock()

	// Another caller may have renewed while we waited.
	if cred, ok := m.cached(k); ok {
		return cred, nil
	}

	current, err := m.current(ctx, acct, p)
	if err != nil {
		return domain.Credential{}, err
	}
	return m.renew(ctx, k, current)
}

// Refresh forces a renewal after the platform rejected the current access
// token.
func (m *Manager) Refresh(ctx context.Context, acct domain.Account, p domain.Platform) (domain.Credential, error) {
	k := pairKey{acct.ID, p}
	unlock, err := m.locker.Lock(ctx, k.lockKey())
	if err != nil {
		return domain.Credential{}, fmt.Errorf("lock session %s/%s: %w", acct.ID, p, err)
	}
	defer unlock()

	current, ok := m.cached(k)
	if !ok {
		if current, err = m.current(ctx, acct, p); err != nil {
			return domain.Credential{}, err
		}
	}
	m.forget(k)
	return m.renew(ctx, k, current)
}

// Invalidate drops the validated credential so the next EnsureValid renews.
func (m *Manager) Invalidate(accountID string, p domain.Platform) {
	m.forget(pairKey{accountID, p})
}

func (m *Manager) cached(k pairKey) (domain.Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.validated[k]
	return cred, ok
}

func (m *Manager) forget(k pairKey) {
	m.mu.Lock()
	delete(m.validated, k)
	m.mu.Unlock()
}

// current merges the configured credential with the last saved one. Saved
// tokens win; configured login details win so operators can rotate them.
func (m *Manager) current(ctx context.Context, acct domain.Account, p domain.Platform) (domain.Credential, error) {
	pa, ok := acct.On(p)
	if !ok {
		return domain.Credential{}, fmt.Errorf("%w: %s/%s", ErrNotConfigured, acct.ID, p)
	}
	cred := pa.Credential

	saved, found, err := m.store.Load(ctx, acct.ID, p)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("load credential %s/%s: %w", acct.ID, p, err)
	}
	if !found {
		return cred, nil
	}
	if saved.AccessToken != "" {
		cred.AccessToken = saved.AccessToken
	}
	if saved.RefreshToken != "" {
		cred.RefreshToken = saved.RefreshToken
	}
	if cred.ClientID == "" {
		cred.ClientID = saved.ClientID
	}
	if cred.Username == "" && cred.Password == "" {
		cred.Username, cred.Password = saved.Username, saved.Password
	}
	cred.UpdatedAt = saved.UpdatedAt
	return cred, nil
}

func (m *Manager) renew(ctx context.Context, k pairKey, cur domain.Credential) (domain.Credential, error) {
	auth, ok := m.auths[k.platform]
	if !ok {
		return domain.Credential{}, fmt.Errorf("%w: %s", ErrNoAuthenticator, k.platform)
	}
	log := logger.With("account", k.account, "platform", k.platform)

	refreshErr := errNoRefreshToken
	if cur.CanRefresh() {
		next, err := auth.Refresh(ctx, cur)
		if err == nil {
			metrics.SessionEvents.WithLabelValues(string(k.platform), "refresh", "success").Inc()
			log.Info("credential refreshed")
			return m.commit(ctx, k, next)
		}
		metrics.SessionEvents.WithLabelValues(string(k.platform), "refresh", "failure").Inc()
		log.Warn("refresh failed, falling back to login", "error", err)
		refreshErr = err
	}
	if ctx.Err() != nil {
		return domain.Credential{}, ctx.Err()
	}

	loginErr := errNoPassword
	if cur.CanLogin() {
		next, err := auth.Login(ctx, cur)
		if err == nil {
			metrics.SessionEvents.WithLabelValues(string(k.platform), "login", "success").Inc()
			log.Info("logged in")
			return m.commit(ctx, k, next)
		}
		metrics.SessionEvents.WithLabelValues(string(k.platform), "login", "failure").Inc()
		loginErr = err
	}

	authErr := &AuthError{AccountID: k.account, Platform: k.platform, RefreshErr: refreshErr, LoginErr: loginErr}
	log.Error("authentication impossible", "error", authErr)
	return domain.Credential{}, authErr
}

// commit saves next durably, then mirrors it. The credential is cached even
// when the save fails: the platform has already rotated the old tokens.
func (m *Manager) commit(ctx context.Context, k pairKey, next domain.Credential) (domain.Credential, error) {
	next.UpdatedAt = m.now().UTC()

	m.mu.Lock()
	m.validated[k] = next
	m.mu.Unlock()

	if err := m.store.Save(ctx, k.account, k.platform, next); err != nil {
		return next, fmt.Errorf("persist credential %s/%s: %w", k.account, k.platform, err)
	}

	var errs []error
	for _, mirror := range m.mirrors {
		if err := mirror.Mirror(ctx, k.account, k.platform, next); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("credential mirror failed", "account", k.account, "platform", k.platform, "error", err)
	}
	return next, nil
}
