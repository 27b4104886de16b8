package collector

import (
	"context"
	"sync"

	"github.com/ignite/delivery-stats/internal/domain"
	"github.com/ignite/delivery-stats/internal/pkg/logger"
	"github.com/ignite/delivery-stats/internal/schedule"
)

// RunReport collects the loop reports of one run.
type RunReport struct {
	Loops []LoopReport
}

// Succeeded returns the number of days merged across all loops.
func (r RunReport) Succeeded() int {
	n := 0
	for _, l := range r.Loops {
		n += l.Succeeded
	}
	return n
}

// PartialLoops returns the loops that ended early.
func (r RunReport) PartialLoops() []LoopReport {
	var out []LoopReport
	for _, l := range r.Loops {
		if l.Partial() {
			out = append(out, l)
		}
	}
	return out
}

func (r *RunReport) add(o RunReport) { r.Loops = append(r.Loops, o.Loops...) }

// Runner drives day loops over bounded date ranges.
type Runner struct {
	sched    *schedule.Scheduler
	loop     *DayLoop
	groups   Registry
	merge    MergeFunc
	parallel int
}

// NewRunner creates a Runner. parallel > 1 runs that many different
// accounts at once; one account is always processed sequentially.
func NewRunner(sched *schedule.Scheduler, loop *DayLoop, groups Registry, merge MergeFunc, parallel int) *Runner {
	if parallel < 1 {
		parallel = 1
	}
	return &Runner{sched: sched, loop: loop, groups: groups, merge: merge, parallel: parallel}
}

// Scheduler returns the runner's scheduler.
func (r *Runner) Scheduler() *schedule.Scheduler { return r.sched }

// RunRange collects every configured platform and metric group of each
// account for [from, to], latest day first.
func (r *Runner) RunRange(ctx context.Context, accounts []domain.Account, from, to domain.Date) RunReport {
	logger.Info("collection run starting", "accounts", len(accounts), "from", from, "to", to, "parallel", r.parallel)
	rep := r.forEachAccount(ctx, accounts, func(ctx context.Context, acct domain.Account) RunReport {
		rep, _ := r.runAccount(ctx, acct, from, to, nil)
		return rep
	})
	logger.Info("collection run finished", "loops", len(rep.Loops), "merged", rep.Succeeded(), "partial", len(rep.PartialLoops()))
	return rep
}

// forEachAccount runs fn per account with at most r.parallel in flight.
func (r *Runner) forEachAccount(ctx context.Context, accounts []domain.Account, fn func(context.Context, domain.Account) RunReport) RunReport {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out RunReport
		sem = make(chan struct{}, r.parallel)
	)
	for _, acct := range accounts {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(acct domain.Account) {
			defer wg.Done()
			defer func() { <-sem }()
			rep := fn(ctx, acct)
			mu.Lock()
			out.add(rep)
			mu.Unlock()
		}(acct)
	}
	wg.Wait()
	return out
}

// runAccount runs every group of every configured platform for one account.
// Platforms in skip are not attempted. The returned set lists platforms
// whose credentials could not be renewed.
func (r *Runner) runAccount(ctx context.Context, acct domain.Account, from, to domain.Date, skip map[domain.Platform]bool) (RunReport, map[domain.Platform]bool) {
	var rep RunReport
	dead := make(map[domain.Platform]bool)
	for _, p := range acct.ConfiguredPlatforms() {
		if skip[p] {
			continue
		}
		windows := r.sched.Windows(p, from, to, schedule.LatestFirst)
		for _, g := range r.groups[p] {
			if ctx.Err() != nil {
				return rep, dead
			}
			lr := r.loop.Run(ctx, acct, g, windows.All(), r.merge)
			rep.Loops = append(rep.Loops, lr)
			if lr.Stop == StopAuthImpossible {
				dead[p] = true
				break
			}
		}
	}
	return rep, dead
}
