package collector

import (
	"context"

	"github.com/ignite/delivery-stats/internal/domain"
	"github.com/ignite/delivery-stats/internal/pkg/logger"
)

// WalkStop says why a history walk ended.
type WalkStop string

const (
	WalkNoData     WalkStop = "no-data"
	WalkMaxPeriods WalkStop = "max-periods"
	WalkNoAuth     WalkStop = "no-platform-authenticated"
	WalkCanceled   WalkStop = "canceled"
)

// WalkReport summarizes a backward history walk for one account.
type WalkReport struct {
	AccountID string
	Periods   int
	Oldest    domain.Date
	Stop      WalkStop
	Run       RunReport
}

// Walker backfills history one period at a time, moving backward until a
// whole period yields no success from any group on any platform.
type Walker struct {
	runner     *Runner
	months     int
	maxPeriods int
}

// NewWalker creates a Walker stepping periodMonths at a time and giving up
// after maxPeriods periods.
func NewWalker(runner *Runner, periodMonths, maxPeriods int) *Walker {
	if periodMonths < 1 {
		periodMonths = 1
	}
	if maxPeriods < 1 {
		maxPeriods = 120
	}
	return &Walker{runner: runner, months: periodMonths, maxPeriods: maxPeriods}
}

// Walk backfills acct starting from the period that ends on end.
//
// A period keeps the walk alive if any group succeeded on any day. A
// transient outage that lines up with a real gap can end the walk early;
// rerun with explicit ranges when completeness matters.
func (w *Walker) Walk(ctx context.Context, acct domain.Account, end domain.Date) WalkReport {
	rep := WalkReport{AccountID: acct.ID}
	dead := make(map[domain.Platform]bool)
	periodEnd := end

	for {
		if ctx.Err() != nil {
			rep.Stop = WalkCanceled
			break
		}
		if rep.Periods >= w.maxPeriods {
			rep.Stop = WalkMaxPeriods
			break
		}
		if len(acct.ConfiguredPlatforms()) == len(dead) {
			rep.Stop = WalkNoAuth
			break
		}

		// Periods are contiguous but not calendar-aligned: a period ending
		// Mar 31 starts Mar 1, the next one ending Feb 29 starts Jan 30.
		periodStart := periodEnd.AddMonths(-w.months).AddDays(1)
		run, newlyDead := w.runner.runAccount(ctx, acct, periodStart, periodEnd, dead)
		for p := range newlyDead {
			dead[p] = true
		}
		rep.Run.add(run)
		rep.Periods++
		rep.Oldest = periodStart

		logger.Info("history period collected",
			"account", acct.ID, "from", periodStart, "to", periodEnd, "merged", run.Succeeded())

		if run.Succeeded() == 0 {
			rep.Stop = WalkNoData
			if ctx.Err() != nil {
				rep.Stop = WalkCanceled
			}
			break
		}
		periodEnd = periodStart.AddDays(-1)
	}

	logger.Info("history walk finished", "account", acct.ID, "periods", rep.Periods, "oldest", rep.Oldest, "reason", rep.Stop)
	return rep
}

// WalkAll walks every account, running up to the runner's parallelism.
func (w *Walker) WalkAll(ctx context.Context, accounts []domain.Account, end domain.Date) ([]WalkReport, RunReport) {
	var (
		reports = make([]WalkReport, len(accounts))
		index   = make(map[string]int, len(accounts))
	)
	for i, a := range accounts {
		index[a.ID] = i
	}
	run := w.runner.forEachAccount(ctx, accounts, func(ctx context.Context, acct domain.Account) RunReport {
		rep := w.Walk(ctx, acct, end)
		reports[index[acct.ID]] = rep
		return rep.Run
	})
	return reports, run
}
