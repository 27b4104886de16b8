package export

import (
	"context"
	"fmt"

	"github.com/ignite/delivery-stats/internal/domain"
	"github.com/ignite/delivery-stats/internal/pkg/logger"
	"github.com/ignite/delivery-stats/internal/pkg/metrics"
)

const (
	// DefaultBatchDays bounds the dates sent in one batch.
	DefaultBatchDays = 90
	// DefaultBatchAccounts bounds the accounts loaded at once by ExportAll.
	DefaultBatchAccounts = 50
)

// Sink receives batches. Push returns the number of rows the sink wrote.
type Sink interface {
	Name() string
	Push(ctx context.Context, b Batch) (int, error)
}

// Archiver stores a copy of a batch before it is pushed.
type Archiver interface {
	Archive(ctx context.Context, b Batch) error
}

// Source reads accumulated records for an account.
type Source interface {
	Range(ctx context.Context, accountID string, from, to domain.Date) ([]domain.DailyStat, error)
}

// Report summarizes an export.
type Report struct {
	Accounts int `json:"accounts"`
	Batches  int `json:"batches"`
	Failed   int `json:"failed"`
	Rows     int `json:"rows"`
}

func (r *Report) add(o Report) {
	r.Accounts += o.Accounts
	r.Batches += o.Batches
	r.Failed += o.Failed
	r.Rows += o.Rows
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithArchive archives every batch before pushing it.
func WithArchive(a Archiver) Option { return func(e *Exporter) { e.archive = a } }

// WithBatchDays sets the number of dates per batch.
func WithBatchDays(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.batchDays = n
		}
	}
}

// WithBatchAccounts sets the number of accounts loaded per round.
func WithBatchAccounts(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.batchAccounts = n
		}
	}
}

// Exporter batches records and pushes them to every sink.
type Exporter struct {
	source        Source
	sinks         []Sink
	archive       Archiver
	batchDays     int
	batchAccounts int
}

// NewExporter creates an Exporter reading from source and pushing to sinks.
func NewExporter(source Source, sinks []Sink, opts ...Option) (*Exporter, error) {
	if len(sinks) == 0 {
		return nil, ErrNoSinks
	}
	e := &Exporter{
		source:        source,
		sinks:         sinks,
		batchDays:     DefaultBatchDays,
		batchAccounts: DefaultBatchAccounts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Export pushes records of one account. A failed batch is logged and
// skipped; the remaining batches are still sent.
func (e *Exporter) Export(ctx context.Context, acct domain.Account, records []domain.DailyStat) Report {
	rep := Report{Accounts: 1}
	log := logger.With("account", acct.ID)

	for i, b := range batches(acct, records, e.batchDays) {
		if err := ctx.Err(); err != nil {
			log.Warn("export interrupted", "batch", i, "error", err)
			return rep
		}
		if e.archive != nil {
			if err := e.archive.Archive(ctx, b); err != nil {
				log.Warn("batch archive failed", "batch", i, "error", err)
			}
		}
		for _, s := range e.sinks {
			rep.Batches++
			n, err := s.Push(ctx, b)
			if err != nil {
				rep.Failed++
				metrics.ExportBatches.WithLabelValues(s.Name(), "failure").Inc()
				log.Error("export batch failed", "sink", s.Name(), "batch", i,
					"from", b.Stats[0].Date, "to", b.Stats[len(b.Stats)-1].Date, "error", err)
				continue
			}
			rep.Rows += n
			metrics.ExportBatches.WithLabelValues(s.Name(), "success").Inc()
			metrics.ExportRows.Add(float64(n))
		}
	}
	log.Info("account exported", "batches", rep.Batches, "failed", rep.Failed, "rows", rep.Rows)
	return rep
}

// ExportAll loads and exports the records of every account over
// [from, to], a bounded group of accounts at a time.
func (e *Exporter) ExportAll(ctx context.Context, accounts []domain.Account, from, to domain.Date) (Report, error) {
	var rep Report
	for start := 0; start < len(accounts); start += e.batchAccounts {
		end := start + e.batchAccounts
		if end > len(accounts) {
			end = len(accounts)
		}
		group := accounts[start:end]

		loaded := make([][]domain.DailyStat, len(group))
		for i, acct := range group {
			records, err := e.source.Range(ctx, acct.ID, from, to)
			if err != nil {
				if ctx.Err() != nil {
					return rep, fmt.Errorf("load records for %s: %w", acct.ID, err)
				}
				logger.Error("export load failed", "account", acct.ID, "from", from, "to", to, "error", err)
				continue
			}
			loaded[i] = records
		}
		for i, acct := range group {
			if len(loaded[i]) == 0 {
				continue
			}
			rep.add(e.Export(ctx, acct, loaded[i]))
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}
	}
	return rep, nil
}
