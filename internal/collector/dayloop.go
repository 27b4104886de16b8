package collector

import (
	"context"
	"errors"
	"iter"

	"github.com/ignite/delivery-stats/internal/domain"
	"github.com/ignite/delivery-stats/internal/pkg/logger"
	"github.com/ignite/delivery-stats/internal/pkg/metrics"
	"github.com/ignite/delivery-stats/internal/schedule"
	"github.com/ignite/delivery-stats/internal/session"
)

// Policy bounds a day loop.
type Policy struct {
	// MissingStreakLimit ends the loop after this many consecutive
	// missing-data days.
	MissingStreakLimit int
	// ErrorStreakLimit ends the loop after this many consecutive generic
	// failures.
	ErrorStreakLimit int
	// TransientRetryCap is the number of immediate retries of a transient
	// failure before it counts as a generic failure.
	TransientRetryCap int
}

// DefaultPolicy returns the standard thresholds.
func DefaultPolicy() Policy {
	return Policy{MissingStreakLimit: 10, ErrorStreakLimit: 5, TransientRetryCap: 3}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MissingStreakLimit <= 0 {
		p.MissingStreakLimit = d.MissingStreakLimit
	}
	if p.ErrorStreakLimit <= 0 {
		p.ErrorStreakLimit = d.ErrorStreakLimit
	}
	if p.TransientRetryCap < 0 {
		p.TransientRetryCap = 0
	}
	return p
}

// MergeFunc folds a successful fragment into the store.
type MergeFunc func(ctx context.Context, accountID string, date domain.Date, frag domain.Fragment) error

// StopReason says why a day loop ended.
type StopReason string

const (
	StopCompleted      StopReason = "completed"
	StopMissingStreak  StopReason = "missing-data-streak"
	StopErrorStreak    StopReason = "error-streak"
	StopAuthImpossible StopReason = "auth-impossible"
	StopCanceled       StopReason = "canceled"
)

// Streaks are the two consecutive-failure counters of one loop.
type Streaks struct {
	Missing int
	Errors  int
}

func (s *Streaks) success()     { s.Missing, s.Errors = 0, 0 }
func (s *Streaks) missing()     { s.Missing++ }
func (s *Streaks) genericFail() { s.Errors++ }

// LoopReport summarizes one day loop.
type LoopReport struct {
	AccountID string
	Platform  domain.Platform
	Metric    string
	Attempted int
	Succeeded int
	Missing   int
	Failed    int
	Refreshes int
	Retries   int
	Stop      StopReason
	LastErr   error
}

// Partial reports whether the loop ended before covering every window.
func (r LoopReport) Partial() bool { return r.Stop != StopCompleted }

// DayLoop runs one metric group over a window sequence under a Policy.
type DayLoop struct {
	fetcher  Fetcher
	sessions Sessions
	policy   Policy
}

// NewDayLoop creates a DayLoop.
func NewDayLoop(fetcher Fetcher, sessions Sessions, policy Policy) *DayLoop {
	return &DayLoop{fetcher: fetcher, sessions: sessions, policy: policy.withDefaults()}
}

// Policy returns the loop's effective policy.
func (l *DayLoop) Policy() Policy { return l.policy }

// Run fetches each window in order and merges successes. It never returns
// an error: failures are logged and reflected in the report.
func (l *DayLoop) Run(ctx context.Context, acct domain.Account, g MetricGroup, windows iter.Seq[schedule.Window], merge MergeFunc) LoopReport {
	rep := LoopReport{AccountID: acct.ID, Platform: g.Platform, Metric: g.Name, Stop: StopCompleted}
	var streaks Streaks

	for w := range windows {
		if ctx.Err() != nil {
			rep.Stop = StopCanceled
			break
		}
		rep.Attempted++
		log := logger.With("account", acct.ID, "platform", g.Platform, "metric", g.Name, "date", w.Date)

		res := l.attempt(ctx, acct, g, w, &rep, log)
		switch res.Outcome {
		case OutcomeSuccess:
			if err := merge(ctx, acct.ID, w.Date, *res.Fragment); err != nil {
				rep.Failed++
				rep.LastErr = err
				streaks.genericFail()
				log.Error("merge failed", "error", err)
				break
			}
			rep.Succeeded++
			streaks.success()
		case OutcomeMissingData:
			rep.Missing++
			streaks.missing()
			log.Debug("no data for day", "streak", streaks.Missing)
		default:
			rep.Failed++
			rep.LastErr = res.Err
			if errors.Is(res.Err, session.ErrAuthImpossible) {
				rep.Stop = StopAuthImpossible
				log.Error("authentication impossible, skipping account on platform", "error", res.Err)
				return l.finish(rep)
			}
			streaks.genericFail()
			log.Warn("fetch failed", "outcome", res.Outcome, "streak", streaks.Errors, "error", res.Err)
		}

		if streaks.Missing >= l.policy.MissingStreakLimit {
			rep.Stop = StopMissingStreak
			break
		}
		if streaks.Errors >= l.policy.ErrorStreakLimit {
			rep.Stop = StopErrorStreak
			break
		}
	}
	if rep.Partial() && rep.Stop != StopCanceled {
		logger.Warn("partial collection for metric",
			"account", acct.ID, "platform", g.Platform, "metric", g.Name,
			"reason", rep.Stop, "attempted", rep.Attempted, "error", rep.LastErr)
	}
	return l.finish(rep)
}

func (l *DayLoop) finish(rep LoopReport) LoopReport {
	metrics.LoopTerminations.WithLabelValues(string(rep.Platform), rep.Metric, string(rep.Stop)).Inc()
	return rep
}

// attempt runs one window to a terminal outcome. An unauthorized response
// triggers one refresh and one rerun; a second unauthorized is returned as
// a generic failure. Transient failures are retried immediately up to the
// cap and then returned as generic failures.
func (l *DayLoop) attempt(ctx context.Context, acct domain.Account, g MetricGroup, w schedule.Window, rep *LoopReport, log *logger.Logger) FetchResult {
	refreshed := false
	transient := 0
	for {
		res := l.fetcher.Fetch(ctx, acct, g, w)
		switch res.Outcome {
		case OutcomeAuthError:
			if refreshed {
				return FetchResult{Outcome: OutcomeFatalError, Err: res.Err}
			}
			refreshed = true
			rep.Refreshes++
			log.Info("unauthorized, refreshing credential")
			if _, err := l.sessions.Refresh(ctx, acct, g.Platform); err != nil {
				return FetchResult{Outcome: OutcomeFatalError, Err: err}
			}
		case OutcomeTransientError:
			if transient >= l.policy.TransientRetryCap || ctx.Err() != nil {
				return FetchResult{Outcome: OutcomeFatalError, Err: res.Err}
			}
			transient++
			rep.Retries++
			log.Debug("transient failure, retrying", "retry", transient, "error", res.Err)
		default:
			return res
		}
	}
}
