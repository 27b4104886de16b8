package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ignite/delivery-stats/internal/collector"
	"github.com/ignite/delivery-stats/internal/domain"
	"github.com/ignite/delivery-stats/internal/export"
	"github.com/ignite/delivery-stats/internal/pkg/logger"
	"github.com/ignite/delivery-stats/internal/pkg/metrics"
)

var (
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid run request")
	// ErrUnknownAccount is returned when a requested account id is not configured.
	ErrUnknownAccount = errors.New("unknown account")
	// ErrExportNotConfigured is returned when export is requested without a sink.
	ErrExportNotConfigured = errors.New("export requested but no export sink is configured")
)

// Mode selects the date range a run collects.
type Mode string

const (
	// ModeRecent collects the last recent_days days ending yesterday.
	ModeRecent Mode = "recent"
	// ModeRange collects an explicit [from, to] range.
	ModeRange Mode = "range"
	// ModeHistory walks backward from to (default yesterday) until history runs out.
	ModeHistory Mode = "history"
)

// Request describes one run.
type Request struct {
	ID         string   `json:"-"`
	Mode       Mode     `json:"mode" validate:"required,oneof=recent range history"`
	From       string   `json:"from,omitempty" validate:"omitempty,datetime=2006-01-02"`
	To         string   `json:"to,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Accounts   []string `json:"accounts,omitempty" validate:"dive,required"`
	Export     bool     `json:"export"`
	ExportOnly bool     `json:"export_only"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the request shape.
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if r.Mode == ModeRange && (r.From == "" || r.To == "") {
		return fmt.Errorf("%w: range mode needs from and to", ErrInvalidRequest)
	}
	return nil
}

// WalkSummary is the outcome of one account's history walk.
type WalkSummary struct {
	Account string `json:"account"`
	Periods int    `json:"periods"`
	Oldest  string `json:"oldest,omitempty"`
	Stop    string `json:"stop"`
}

// Summary reports what a run did.
type Summary struct {
	RunID        string         `json:"run_id"`
	Mode         Mode           `json:"mode"`
	From         string         `json:"from,omitempty"`
	To           string         `json:"to"`
	Accounts     int            `json:"accounts"`
	Loops        int            `json:"loops"`
	Merged       int            `json:"merged"`
	PartialLoops int            `json:"partial_loops"`
	Walks        []WalkSummary  `json:"walks,omitempty"`
	Export       *export.Report `json:"export,omitempty"`
}

// Run collects (unless ExportOnly) and exports (if asked) for the selected
// accounts. Per-metric failures are reported in the summary, not returned.
func (a *App) Run(ctx context.Context, req Request) (Summary, error) {
	if err := req.Validate(); err != nil {
		return Summary{}, err
	}
	if (req.Export || req.ExportOnly) && a.exporter == nil {
		return Summary{}, ErrExportNotConfigured
	}
	accounts, err := a.selectAccounts(req.Accounts)
	if err != nil {
		return Summary{}, err
	}
	from, to, err := a.resolveRange(req)
	if err != nil {
		return Summary{}, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	sum := Summary{RunID: req.ID, Mode: req.Mode, To: to.String(), Accounts: len(accounts)}
	if req.Mode != ModeHistory {
		sum.From = from.String()
	}
	log := logger.With("run_id", req.ID, "mode", req.Mode)
	log.Info("run starting", "accounts", len(accounts), "to", to)

	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()

	if !req.ExportOnly {
		var rep collector.RunReport
		switch req.Mode {
		case ModeHistory:
			walks, run := a.walker.WalkAll(ctx, accounts, to)
			rep = run
			from = to
			for _, w := range walks {
				ws := WalkSummary{Account: w.AccountID, Periods: w.Periods, Stop: string(w.Stop)}
				if !w.Oldest.IsZero() {
					ws.Oldest = w.Oldest.String()
					if w.Oldest.Before(from) {
						from = w.Oldest
					}
				}
				sum.Walks = append(sum.Walks, ws)
			}
		default:
			rep = a.runner.RunRange(ctx, accounts, from, to)
		}
		sum.Loops = len(rep.Loops)
		sum.Merged = rep.Succeeded()
		sum.PartialLoops = len(rep.PartialLoops())
	}

	if err := ctx.Err(); err != nil {
		log.Warn("run canceled", "error", err)
		return sum, err
	}

	if req.Export || req.ExportOnly {
		exp, err := a.exporter.ExportAll(ctx, accounts, from, to)
		sum.Export = &exp
		if err != nil {
			log.Error("export aborted", "error", err)
			return sum, err
		}
	}
	log.Info("run finished", "loops", sum.Loops, "merged", sum.Merged, "partial", sum.PartialLoops)
	return sum, nil
}

func (a *App) selectAccounts(ids []string) ([]domain.Account, error) {
	if len(ids) == 0 {
		return a.accounts, nil
	}
	byID := make(map[string]domain.Account, len(a.accounts))
	for _, acct := range a.accounts {
		byID[acct.ID] = acct
	}
	out := make([]domain.Account, 0, len(ids))
	for _, id := range ids {
		acct, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
		}
		out = append(out, acct)
	}
	return out, nil
}

// yesterday is the last complete day in the host zone.
func (a *App) yesterday() domain.Date {
	return domain.DateOf(a.now().In(a.sched.Location())).AddDays(-1)
}

func (a *App) resolveRange(req Request) (from, to domain.Date, err error) {
	parse := func(s string, def domain.Date) (domain.Date, error) {
		if s == "" {
			return def, nil
		}
		d, err := domain.ParseDate(s)
		if err != nil {
			return domain.Date{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return d, nil
	}

	cc := a.cfg.Collector
	switch req.Mode {
	case ModeRecent:
		to = a.yesterday()
		from = to.AddDays(-(cc.RecentDays - 1))
	case ModeRange:
		if from, err = parse(req.From, domain.Date{}); err != nil {
			return
		}
		if to, err = parse(req.To, domain.Date{}); err != nil {
			return
		}
		if to.Before(from) {
			err = fmt.Errorf("%w: from %s is after to %s", ErrInvalidRequest, from, to)
			return
		}
	case ModeHistory:
		if to, err = parse(req.To, a.yesterday()); err != nil {
			return
		}
		// Export-only history covers the deepest range a walk could reach.
		from = to.AddMonths(-cc.HistoryPeriodMonths * cc.HistoryMaxPeriods).AddDays(1)
	}
	return from, to, nil
}
