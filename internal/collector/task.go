package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/delivery-stats/internal/domain"
	"github.com/ignite/delivery-stats/internal/pkg/metrics"
	"github.com/ignite/delivery-stats/internal/schedule"
)

// Sessions hands out and renews credentials. *session.Manager implements it.
type Sessions interface {
	EnsureValid(ctx context.Context, acct domain.Account, p domain.Platform) (domain.Credential, error)
	Refresh(ctx context.Context, acct domain.Account, p domain.Platform) (domain.Credential, error)
}

// FetchResult is the classified result of one fetch attempt. Fragment is
// set only on success.
type FetchResult struct {
	Outcome  Outcome
	Fragment *domain.Fragment
	Err      error
}

// Fetcher runs one metric group for one window.
type Fetcher interface {
	Fetch(ctx context.Context, acct domain.Account, g MetricGroup, w schedule.Window) FetchResult
}

// Task is the default Fetcher. It has no side effects beyond the network
// calls made by the group; persistence belongs to the caller.
type Task struct {
	sessions Sessions
}

// NewTask creates a Task that obtains credentials from sessions.
func NewTask(sessions Sessions) *Task {
	return &Task{sessions: sessions}
}

// Fetch obtains a credential, runs the group and classifies the result.
func (t *Task) Fetch(ctx context.Context, acct domain.Account, g MetricGroup, w schedule.Window) FetchResult {
	res := t.fetch(ctx, acct, g, w)
	metrics.FetchOutcomes.WithLabelValues(string(g.Platform), g.Name, res.Outcome.String()).Inc()
	return res
}

func (t *Task) fetch(ctx context.Context, acct domain.Account, g MetricGroup, w schedule.Window) FetchResult {
	if w.Platform != g.Platform {
		return FetchResult{Outcome: OutcomeFatalError, Err: fmt.Errorf("window for %s passed to %s group %s", w.Platform, g.Platform, g.Name)}
	}
	identity, ok := acct.On(g.Platform)
	if !ok {
		return FetchResult{Outcome: OutcomeFatalError, Err: fmt.Errorf("account %s has no %s identity", acct.ID, g.Platform)}
	}

	cred, err := t.sessions.EnsureValid(ctx, acct, g.Platform)
	if err != nil {
		return FetchResult{Outcome: OutcomeFatalError, Err: fmt.Errorf("credential: %w", err)}
	}

	start := time.Now()
	delta, err := g.Fetch(ctx, Request{Account: acct, Identity: *identity, Credential: cred, Window: w})
	metrics.FetchDuration.WithLabelValues(string(g.Platform), g.Name).Observe(time.Since(start).Seconds())

	if outcome := Classify(err); outcome != OutcomeSuccess {
		return FetchResult{Outcome: outcome, Err: err}
	}
	if delta.IsEmpty() {
		return FetchResult{Outcome: OutcomeFatalError, Err: Malformed(g.Name+" returned no fields", nil)}
	}
	return FetchResult{
		Outcome:  OutcomeSuccess,
		Fragment: &domain.Fragment{Platform: g.Platform, Delta: delta},
	}
}
