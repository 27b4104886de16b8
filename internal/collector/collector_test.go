package collector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/delivery-stats/internal/domain"
	"github.com/ignite/delivery-stats/internal/schedule"
	"github.com/ignite/delivery-stats/internal/session"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fakeSessions struct {
	refreshes  atomic.Int32
	refreshErr error
	ensureErr  error
}

func (s *fakeSessions) EnsureValid(context.Context, domain.Account, domain.Platform) (domain.Credential, error) {
	if s.ensureErr != nil {
		return domain.Credential{}, s.ensureErr
	}
	return domain.Credential{AccessToken: "at"}, nil
}

func (s *fakeSessions) Refresh(context.Context, domain.Account, domain.Platform) (domain.Credential, error) {
	s.refreshes.Add(1)
	if s.refreshErr != nil {
		return domain.Credential{}, s.refreshErr
	}
	return domain.Credential{AccessToken: "fresh"}, nil
}

// script returns a Fetcher whose outcome per call is decided by fn.
type scriptFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(g MetricGroup, w schedule.Window, call int) FetchResult
}

func newScript(fn func(g MetricGroup, w schedule.Window, call int) FetchResult) *scriptFetcher {
	return &scriptFetcher{calls: make(map[string]int), fn: fn}
}

func (f *scriptFetcher) Fetch(_ context.Context, _ domain.Account, g MetricGroup, w schedule.Window) FetchResult {
	f.mu.Lock()
	key := g.Name + "/" + string(w.Platform) + "/" + w.Date.String()
	f.calls[key]++
	n := f.calls[key]
	f.mu.Unlock()
	return f.fn(g, w, n)
}

func (f *scriptFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func ok(p domain.Platform, sales float64) FetchResult {
	return FetchResult{Outcome: OutcomeSuccess, Fragment: &domain.Fragment{Platform: p, Delta: domain.PlatformDelta{Sales: domain.Float(sales)}}}
}

var (
	missing   = FetchResult{Outcome: OutcomeMissingData, Err: ErrMissingData}
	failure   = FetchResult{Outcome: OutcomeFatalError, Err: errors.New("boom")}
	transient = FetchResult{Outcome: OutcomeTransientError, Err: ErrTransient}
	unauth    = FetchResult{Outcome: OutcomeAuthError, Err: ErrUnauthorized}
)

type merged struct {
	mu    sync.Mutex
	dates []domain.Date
}

func (m *merged) fn(_ context.Context, _ string, d domain.Date, _ domain.Fragment) error {
	m.mu.Lock()
	m.dates = append(m.dates, d)
	m.mu.Unlock()
	return nil
}

func (m *merged) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dates)
}

var (
	sched   = schedule.New(time.UTC)
	acct    = domain.Account{ID: "A", Grab: &domain.PlatformAccount{MerchantID: "g"}, Gojek: &domain.PlatformAccount{MerchantID: "j"}}
	sales   = MetricGroup{Name: "sales", Platform: domain.PlatformGrab}
	endDate = domain.NewDate(2024, time.September, 30)
)

func days(n int) schedule.Sequence {
	return sched.Windows(domain.PlatformGrab, endDate.AddDays(-(n - 1)), endDate, schedule.LatestFirst)
}

// =============================================================================
// CLASSIFIER
// =============================================================================

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, OutcomeSuccess},
		{"missing", fmt.Errorf("sales: %w", ErrMissingData), OutcomeMissingData},
		{"401", &StatusError{StatusCode: 401}, OutcomeAuthError},
		{"403", &StatusError{StatusCode: 403}, OutcomeAuthError},
		{"500", &StatusError{StatusCode: 502}, OutcomeTransientError},
		{"429", &StatusError{StatusCode: 429}, OutcomeTransientError},
		{"400", &StatusError{StatusCode: 400}, OutcomeFatalError},
		{"malformed", Malformed("decode", errors.New("unexpected EOF")), OutcomeFatalError},
		{"network", &net.OpError{Op: "dial", Err: timeoutErr{}}, OutcomeTransientError},
		{"canceled", fmt.Errorf("do: %w", context.Canceled), OutcomeFatalError},
		{"auth impossible", &session.AuthError{AccountID: "A"}, OutcomeFatalError},
		{"other", errors.New("weird"), OutcomeFatalError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

// =============================================================================
// TASK
// =============================================================================

func TestTaskFetchSuccess(t *testing.T) {
	var got Request
	g := MetricGroup{Name: "sales", Platform: domain.PlatformGrab, Fetch: func(_ context.Context, req Request) (domain.PlatformDelta, error) {
		got = req
		return domain.PlatformDelta{Sales: domain.Float(100), Orders: domain.Int(5)}, nil
	}}
	w := sched.Window(domain.PlatformGrab, endDate)

	res := NewTask(&fakeSessions{}).Fetch(context.Background(), acct, g, w)
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.NotNil(t, res.Fragment)
	assert.Equal(t, domain.PlatformGrab, res.Fragment.Platform)
	assert.Equal(t, 100.0, *res.Fragment.Delta.Sales)
	assert.Equal(t, "g", got.Identity.MerchantID)
	assert.Equal(t, "at", got.Credential.AccessToken)
	assert.Equal(t, w, got.Window)
}

func TestTaskFetchClassifiesErrors(t *testing.T) {
	g := MetricGroup{Name: "sales", Platform: domain.PlatformGrab, Fetch: func(context.Context, Request) (domain.PlatformDelta, error) {
		return domain.PlatformDelta{}, &StatusError{StatusCode: 401, Body: "expired"}
	}}
	res := NewTask(&fakeSessions{}).Fetch(context.Background(), acct, g, sched.Window(domain.PlatformGrab, endDate))
	assert.Equal(t, OutcomeAuthError, res.Outcome)
	assert.Nil(t, res.Fragment)
}

func TestTaskFetchEmptyDeltaIsMalformed(t *testing.T) {
	g := MetricGroup{Name: "sales", Platform: domain.PlatformGrab, Fetch: func(context.Context, Request) (domain.PlatformDelta, error) {
		return domain.PlatformDelta{}, nil
	}}
	res := NewTask(&fakeSessions{}).Fetch(context.Background(), acct, g, sched.Window(domain.PlatformGrab, endDate))
	assert.Equal(t, OutcomeFatalError, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrMalformed)
}

func TestTaskFetchAuthImpossible(t *testing.T) {
	s := &fakeSessions{ensureErr: &session.AuthError{AccountID: "A", Platform: domain.PlatformGrab}}
	called := false
	g := MetricGroup{Name: "sales", Platform: domain.PlatformGrab, Fetch: func(context.Context, Request) (domain.PlatformDelta, error) {
		called = true
		return domain.PlatformDelta{}, nil
	}}
	res := NewTask(s).Fetch(context.Background(), acct, g, sched.Window(domain.PlatformGrab, endDate))
	assert.Equal(t, OutcomeFatalError, res.Outcome)
	assert.ErrorIs(t, res.Err, session.ErrAuthImpossible)
	assert.False(t, called)
}

func TestTaskRejectsPlatformMismatch(t *testing.T) {
	res := NewTask(&fakeSessions{}).Fetch(context.Background(), acct, sales, sched.Window(domain.PlatformGojek, endDate))
	assert.Equal(t, OutcomeFatalError, res.Outcome)
}

// =============================================================================
// DAY LOOP
// =============================================================================

func TestDayLoopAllSuccess(t *testing.T) {
	f := newScript(func(g MetricGroup, w schedule.Window, _ int) FetchResult { return ok(g.Platform, 1) })
	m := &merged{}
	rep := NewDayLoop(f, &fakeSessions{}, DefaultPolicy()).Run(context.Background(), acct, sales, days(5).All(), m.fn)

	assert.Equal(t, StopCompleted, rep.Stop)
	assert.Equal(t, 5, rep.Succeeded)
	assert.False(t, rep.Partial())
	require.Len(t, m.dates, 5)
	assert.Equal(t, endDate, m.dates[0], "latest day first")
}

func TestDayLoopTwelveMissingDaysStopsAtTenth(t *testing.T) {
	f := newScript(func(MetricGroup, schedule.Window, int) FetchResult { return missing })
	m := &merged{}
	rep := NewDayLoop(f, &fakeSessions{}, DefaultPolicy()).Run(context.Background(), acct, sales, days(12).All(), m.fn)

	assert.Equal(t, StopMissingStreak, rep.Stop)
	assert.Equal(t, 10, rep.Attempted)
	assert.Equal(t, 10, rep.Missing)
	assert.Zero(t, rep.Failed)
	assert.Equal(t, 10, f.total(), "the last two days are never attempted")
	assert.Zero(t, m.len())
}

func TestDayLoopMissingDoesNotFeedErrorStreak(t *testing.T) {
	// A missing day neither feeds nor resets the error streak, so the
	// fifth failure still ends the loop and the missing streak stays at one.
	pattern := []FetchResult{failure, failure, failure, failure, missing, failure}
	i := 0
	f := newScript(func(MetricGroup, schedule.Window, int) FetchResult {
		r := pattern[i%len(pattern)]
		i++
		return r
	})
	rep := NewDayLoop(f, &fakeSessions{}, DefaultPolicy()).Run(context.Background(), acct, sales, days(6).All(), (&merged{}).fn)
	assert.Equal(t, StopErrorStreak, rep.Stop)
	assert.Equal(t, 6, rep.Attempted)
	assert.Equal(t, 5, rep.Failed)
	assert.Equal(t, 1, rep.Missing)
}

func TestDayLoopSuccessResetsBothStreaks(t *testing.T) {
	// 9 missing, 1 success, 9 missing, 4 errors, 1 success, 4 errors: no
	// streak ever reaches its limit.
	var pattern []FetchResult
	for i := 0; i < 9; i++ {
		pattern = append(pattern, missing)
	}
	pattern = append(pattern, ok(domain.PlatformGrab, 1))
	for i := 0; i < 9; i++ {
		pattern = append(pattern, missing)
	}
	pattern = append(pattern, failure, failure, failure, failure, ok(domain.PlatformGrab, 1), failure, failure, failure, failure)

	i := 0
	f := newScript(func(MetricGroup, schedule.Window, int) FetchResult {
		r := pattern[i]
		i++
		return r
	})
	rep := NewDayLoop(f, &fakeSessions{}, DefaultPolicy()).Run(context.Background(), acct, sales, days(len(pattern)).All(), (&merged{}).fn)
	assert.Equal(t, StopCompleted, rep.Stop)
	assert.Equal(t, len(pattern), rep.Attempted)
	assert.Equal(t, 2, rep.Succeeded)
}

func TestDayLoopErrorStreakStops(t *testing.T) {
	f := newScript(func(MetricGroup, schedule.Window, int) FetchResult { return failure })
	rep := NewDayLoop(f, &fakeSessions{}, DefaultPolicy()).Run(context.Background(), acct, sales, days(30).All(), (&merged{}).fn)
	assert.Equal(t, StopErrorStreak, rep.Stop)
	assert.Equal(t, 5, rep.Attempted)
	assert.True(t, rep.Partial())
}

func TestDayLoopRefreshesOnceOnUnauthorized(t *testing.T) {
	f := newScript(func(g MetricGroup, _ schedule.Window, call int) FetchResult {
		if call == 1 {
			return unauth
		}
		return ok(g.Platform, 1)
	})
	s := &fakeSessions{}
	rep := NewDayLoop(f, s, DefaultPolicy()).Run(context.Background(), acct, sales, days(3).All(), (&merged{}).fn)

	assert.Equal(t, StopCompleted, rep.Stop)
	assert.Equal(t, 3, rep.Succeeded)
	assert.Zero(t, rep.Failed)
	assert.Equal(t, int32(3), s.refreshes.Load())
	assert.Equal(t, 6, f.total())
}

func TestDayLoopSecondUnauthorizedCountsAsError(t *testing.T) {
	f := newScript(func(MetricGroup, schedule.Window, int) FetchResult { return unauth })
	s := &fakeSessions{}
	rep := NewDayLoop(f, s, DefaultPolicy()).Run(context.Background(), acct, sales, days(30).All(), (&merged{}).fn)

	assert.Equal(t, StopErrorStreak, rep.Stop)
	assert.Equal(t, 5, rep.Attempted)
	assert.Equal(t, 5, rep.Failed)
	assert.Equal(t, int32(5), s.refreshes.Load(), "one refresh per day, never a tight loop")
	assert.Equal(t, 10, f.total())
}

func TestDayLoopRefreshAuthImpossibleStops(t *testing.T) {
	f := newScript(func(MetricGroup, schedule.Window, int) FetchResult { return unauth })
	s := &fakeSessions{refreshErr: &session.AuthError{AccountID: "A", Platform: domain.PlatformGrab}}
	rep := NewDayLoop(f, s, DefaultPolicy()).Run(context.Background(), acct, sales, days(30).All(), (&merged{}).fn)

	assert.Equal(t, StopAuthImpossible, rep.Stop)
	assert.Equal(t, 1, rep.Attempted)
	assert.ErrorIs(t, rep.LastErr, session.ErrAuthImpossible)
}

func TestDayLoopTransientRetriedUpToCap(t *testing.T) {
	f := newScript(func(g MetricGroup, _ schedule.Window, call int) FetchResult {
		if call <= 3 {
			return transient
		}
		return ok(g.Platform, 1)
	})
	rep := NewDayLoop(f, &fakeSessions{}, DefaultPolicy()).Run(context.Background(), acct, sales, days(2).All(), (&merged{}).fn)
	assert.Equal(t, 2, rep.Succeeded)
	assert.Equal(t, 6, rep.Retries)
	assert.Zero(t, rep.Failed)
}

func TestDayLoopTransientBeyondCapIsGeneric(t *testing.T) {
	f := newScript(func(MetricGroup, schedule.Window, int) FetchResult { return transient })
	rep := NewDayLoop(f, &fakeSessions{}, DefaultPolicy()).Run(context.Background(), acct, sales, days(30).All(), (&merged{}).fn)
	assert.Equal(t, StopErrorStreak, rep.Stop)
	assert.Equal(t, 5, rep.Attempted)
	assert.Equal(t, 5*4, f.total())
}

func TestDayLoopMergeFailureCountsAsError(t *testing.T) {
	f := newScript(func(g MetricGroup, _ schedule.Window, _ int) FetchResult { return ok(g.Platform, 1) })
	failMerge := func(context.Context, string, domain.Date, domain.Fragment) error { return errors.New("db down") }
	rep := NewDayLoop(f, &fakeSessions{}, DefaultPolicy()).Run(context.Background(), acct, sales, days(10).All(), failMerge)
	assert.Equal(t, StopErrorStreak, rep.Stop)
	assert.Zero(t, rep.Succeeded)
}

func TestDayLoopCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newScript(func(g MetricGroup, _ schedule.Window, _ int) FetchResult {
		cancel()
		return ok(g.Platform, 1)
	})
	rep := NewDayLoop(f, &fakeSessions{}, DefaultPolicy()).Run(ctx, acct, sales, days(5).All(), (&merged{}).fn)
	assert.Equal(t, StopCanceled, rep.Stop)
	assert.Equal(t, 1, rep.Attempted)
}

// =============================================================================
// RUNNER
// =============================================================================

func testRegistry() Registry {
	r := make(Registry)
	r.Register(
		MetricGroup{Name: "sales", Platform: domain.PlatformGrab},
		MetricGroup{Name: "ads", Platform: domain.PlatformGrab},
		MetricGroup{Name: "sales", Platform: domain.PlatformGojek},
	)
	return r
}

func TestRunRangeCoversPlatformsAndGroups(t *testing.T) {
	f := newScript(func(g MetricGroup, _ schedule.Window, _ int) FetchResult { return ok(g.Platform, 1) })
	m := &merged{}
	runner := NewRunner(sched, NewDayLoop(f, &fakeSessions{}, DefaultPolicy()), testRegistry(), m.fn, 1)

	from := endDate.AddDays(-2)
	rep := runner.RunRange(context.Background(), []domain.Account{acct}, from, endDate)

	require.Len(t, rep.Loops, 3)
	assert.Equal(t, 9, rep.Succeeded())
	assert.Empty(t, rep.PartialLoops())
	assert.Equal(t, 9, m.len())
}

func TestRunRangeSkipsPlatformAfterAuthImpossible(t *testing.T) {
	f := newScript(func(g MetricGroup, _ schedule.Window, _ int) FetchResult {
		if g.Platform == domain.PlatformGrab {
			return FetchResult{Outcome: OutcomeFatalError, Err: &session.AuthError{AccountID: "A", Platform: domain.PlatformGrab}}
		}
		return ok(g.Platform, 1)
	})
	runner := NewRunner(sched, NewDayLoop(f, &fakeSessions{}, DefaultPolicy()), testRegistry(), (&merged{}).fn, 1)
	rep := runner.RunRange(context.Background(), []domain.Account{acct}, endDate.AddDays(-2), endDate)

	require.Len(t, rep.Loops, 2, "grab ads loop is skipped")
	assert.Equal(t, StopAuthImpossible, rep.Loops[0].Stop)
	assert.Equal(t, domain.PlatformGojek, rep.Loops[1].Platform)
	assert.Equal(t, 3, rep.Loops[1].Succeeded)
}

func TestRunRangeParallelAcrossAccounts(t *testing.T) {
	var inFlight, peak atomic.Int32
	f := newScript(func(g MetricGroup, _ schedule.Window, _ int) FetchResult {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return ok(g.Platform, 1)
	})
	accounts := []domain.Account{
		{ID: "A", Grab: &domain.PlatformAccount{MerchantID: "1"}},
		{ID: "B", Grab: &domain.PlatformAccount{MerchantID: "2"}},
		{ID: "C", Grab: &domain.PlatformAccount{MerchantID: "3"}},
	}
	runner := NewRunner(sched, NewDayLoop(f, &fakeSessions{}, DefaultPolicy()), testRegistry(), (&merged{}).fn, 2)
	rep := runner.RunRange(context.Background(), accounts, endDate.AddDays(-3), endDate)

	assert.Len(t, rep.Loops, 6)
	assert.Equal(t, 24, rep.Succeeded())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

// =============================================================================
// WALKER
// =============================================================================

func TestWalkerStopsAtFirstEmptyPeriod(t *testing.T) {
	// Data exists only from 2024-08-15 onward.
	firstDay := domain.NewDate(2024, time.August, 15)
	f := newScript(func(g MetricGroup, w schedule.Window, _ int) FetchResult {
		if w.Date.Before(firstDay) {
			return missing
		}
		return ok(g.Platform, 1)
	})
	runner := NewRunner(sched, NewDayLoop(f, &fakeSessions{}, DefaultPolicy()), testRegistry(), (&merged{}).fn, 1)
	rep := NewWalker(runner, 1, 120).Walk(context.Background(), acct, endDate)

	assert.Equal(t, WalkNoData, rep.Stop)
	assert.Equal(t, 3, rep.Periods, "sept, aug, then an empty july period")
	assert.Greater(t, rep.Run.Succeeded(), 0)
}

func TestWalkerTerminatesWhenEverythingMissing(t *testing.T) {
	f := newScript(func(MetricGroup, schedule.Window, int) FetchResult { return missing })
	runner := NewRunner(sched, NewDayLoop(f, &fakeSessions{}, DefaultPolicy()), testRegistry(), (&merged{}).fn, 1)
	rep := NewWalker(runner, 1, 120).Walk(context.Background(), acct, endDate)

	assert.Equal(t, WalkNoData, rep.Stop)
	assert.Equal(t, 1, rep.Periods)
	assert.Zero(t, rep.Run.Succeeded())
}

func TestWalkerAnyGroupKeepsWalkAlive(t *testing.T) {
	f := newScript(func(g MetricGroup, w schedule.Window, _ int) FetchResult {
		if g.Platform == domain.PlatformGojek && !w.Date.Before(domain.NewDate(2024, time.June, 1)) {
			return ok(g.Platform, 1)
		}
		return missing
	})
	runner := NewRunner(sched, NewDayLoop(f, &fakeSessions{}, DefaultPolicy()), testRegistry(), (&merged{}).fn, 1)
	rep := NewWalker(runner, 1, 120).Walk(context.Background(), acct, endDate)

	assert.Equal(t, WalkNoData, rep.Stop)
	assert.Equal(t, 5, rep.Periods)
}

func TestWalkerMaxPeriods(t *testing.T) {
	f := newScript(func(g MetricGroup, _ schedule.Window, _ int) FetchResult { return ok(g.Platform, 1) })
	runner := NewRunner(sched, NewDayLoop(f, &fakeSessions{}, DefaultPolicy()), testRegistry(), (&merged{}).fn, 1)
	rep := NewWalker(runner, 1, 3).Walk(context.Background(), acct, endDate)

	assert.Equal(t, WalkMaxPeriods, rep.Stop)
	assert.Equal(t, 3, rep.Periods)
	assert.Equal(t, domain.NewDate(2024, time.July, 1), rep.Oldest)
}

func TestWalkerPeriodEndingAtMonthEndCoversWholeMonth(t *testing.T) {
	f := newScript(func(g MetricGroup, _ schedule.Window, _ int) FetchResult { return ok(g.Platform, 1) })
	runner := NewRunner(sched, NewDayLoop(f, &fakeSessions{}, DefaultPolicy()), testRegistry(), (&merged{}).fn, 1)
	rep := NewWalker(runner, 1, 2).Walk(context.Background(), acct, domain.NewDate(2024, time.March, 31))

	assert.Equal(t, WalkMaxPeriods, rep.Stop)
	assert.Equal(t, domain.NewDate(2024, time.January, 30), rep.Oldest, "mar 1..31, then jan 30..feb 29")
}

func TestWalkerStopsWhenNoPlatformAuthenticates(t *testing.T) {
	f := newScript(func(g MetricGroup, _ schedule.Window, _ int) FetchResult {
		return FetchResult{Outcome: OutcomeFatalError, Err: &session.AuthError{AccountID: "A", Platform: g.Platform}}
	})
	runner := NewRunner(sched, NewDayLoop(f, &fakeSessions{}, DefaultPolicy()), testRegistry(), (&merged{}).fn, 1)
	rep := NewWalker(runner, 1, 120).Walk(context.Background(), acct, endDate)

	assert.Equal(t, WalkNoData, rep.Stop)
	assert.Equal(t, 1, rep.Periods)
}

func TestWalkAll(t *testing.T) {
	f := newScript(func(MetricGroup, schedule.Window, int) FetchResult { return missing })
	runner := NewRunner(sched, NewDayLoop(f, &fakeSessions{}, DefaultPolicy()), testRegistry(), (&merged{}).fn, 2)
	accounts := []domain.Account{acct, {ID: "B", Gojek: &domain.PlatformAccount{MerchantID: "x"}}}

	reports, _ := NewWalker(runner, 1, 120).WalkAll(context.Background(), accounts, endDate)
	require.Len(t, reports, 2)
	assert.Equal(t, "A", reports[0].AccountID)
	assert.Equal(t, "B", reports[1].AccountID)
}
