package api

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/delivery-stats/internal/app"
	"github.com/ignite/delivery-stats/internal/pkg/distlock"
	"github.com/ignite/delivery-stats/internal/pkg/logger"
)

// ErrRunActive is returned by Start while another run holds the run lock.
var ErrRunActive = errors.New("a collection run is already active")

// Run states.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// maxRunHistory bounds the finished runs kept for GET /runs/{id}.
const maxRunHistory = 100

// Runner executes a collection run.
type Runner interface {
	Run(ctx context.Context, req app.Request) (app.Summary, error)
}

// RunStatus is the externally visible state of a run.
type RunStatus struct {
	ID         string       `json:"id"`
	State      string       `json:"state"`
	Request    app.Request  `json:"request"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Summary    *app.Summary `json:"summary,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// extender is implemented by locks with a TTL (distlock.RedisLock).
type extender interface {
	Extend(ctx context.Context, ttl time.Duration) error
}

// RunManager starts runs in the background, one at a time across every
// process sharing the run lock.
type RunManager struct {
	runner  Runner
	lock    distlock.DistLock
	lockTTL time.Duration

	mu   sync.Mutex
	runs map[string]*RunStatus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewRunManager creates a RunManager. lockTTL is how often a TTL lock is
// renewed (at half the TTL) while a run is in progress.
func NewRunManager(runner Runner, lock distlock.DistLock, lockTTL time.Duration) *RunManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &RunManager{
		runner:  runner,
		lock:    lock,
		lockTTL: lockTTL,
		runs:    make(map[string]*RunStatus),
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}
}

// Start takes the run lock and launches req in the background.
func (m *RunManager) Start(ctx context.Context, req app.Request) (RunStatus, error) {
	ok, err := m.lock.Acquire(ctx)
	if err != nil {
		return RunStatus{}, err
	}
	if !ok {
		return RunStatus{}, ErrRunActive
	}

	req.ID = uuid.NewString()
	st := &RunStatus{ID: req.ID, State: RunRunning, Request: req, StartedAt: m.now()}
	m.mu.Lock()
	m.runs[st.ID] = st
	m.pruneLocked()
	snapshot := *st
	m.mu.Unlock()

	m.wg.Add(1)
	go m.execute(req)
	return snapshot, nil
}

func (m *RunManager) execute(req app.Request) {
	defer m.wg.Done()
	stopKeepAlive := m.keepAlive()
	defer func() {
		stopKeepAlive()
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.lock.Release(relCtx); err != nil {
			logger.Warn("run lock release failed", "run_id", req.ID, "error", err)
		}
	}()

	sum, err := m.runner.Run(m.ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.runs[req.ID]
	finished := m.now()
	st.FinishedAt = &finished
	st.Summary = &sum
	if err != nil {
		st.State = RunFailed
		st.Error = err.Error()
		logger.Error("run failed", "run_id", req.ID, "error", err)
		return
	}
	st.State = RunSucceeded
}

func (m *RunManager) keepAlive() func() {
	ext, ok := m.lock.(extender)
	if !ok || m.lockTTL <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(m.lockTTL / 2)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := ext.Extend(m.ctx, m.lockTTL); err != nil {
					logger.Warn("run lock extend failed", "error", err)
				}
			}
		}
	}()
	return func() { close(done) }
}

// pruneLocked drops the oldest finished runs beyond maxRunHistory.
func (m *RunManager) pruneLocked() {
	if len(m.runs) <= maxRunHistory {
		return
	}
	var finished []*RunStatus
	for _, st := range m.runs {
		if st.FinishedAt != nil {
			finished = append(finished, st)
		}
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].StartedAt.Before(finished[j].StartedAt) })
	for _, st := range finished {
		if len(m.runs) <= maxRunHistory {
			return
		}
		delete(m.runs, st.ID)
	}
}

// Get returns a copy of the run's status.
func (m *RunManager) Get(id string) (RunStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.runs[id]
	if !ok {
		return RunStatus{}, false
	}
	return *st, true
}

// List returns every known run, newest first.
func (m *RunManager) List() []RunStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RunStatus, 0, len(m.runs))
	for _, st := range m.runs {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Shutdown cancels the active run and waits for it to finish or ctx to end.
func (m *RunManager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
