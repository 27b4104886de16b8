package export

import (
	"sort"

	"github.com/ignite/delivery-stats/internal/domain"
)

// Row is one platform's namespace of one daily record.
type Row struct {
	Date     string               `json:"date"`
	Platform domain.Platform      `json:"platform"`
	Fields   domain.PlatformStats `json:"fields"`
}

// Batch is the body of one upsert call for one account.
type Batch struct {
	AccountID string          `json:"account_id"`
	Overlay   *domain.Overlay `json:"overlay,omitempty"`
	Stats     []Row           `json:"stats"`
}

// rows flattens records into per-platform rows for the platforms the
// account is configured on, in date order. A namespace that was never
// collected is skipped: its zeros would overwrite real values upstream.
func rows(acct domain.Account, records []domain.DailyStat) []Row {
	sorted := make([]domain.DailyStat, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	platforms := acct.ConfiguredPlatforms()
	out := make([]Row, 0, len(sorted)*len(platforms))
	for i := range sorted {
		for _, p := range platforms {
			if !sorted[i].Collected(p) {
				continue
			}
			out = append(out, Row{
				Date:     sorted[i].Date.String(),
				Platform: p,
				Fields:   *sorted[i].Namespace(p),
			})
		}
	}
	return out
}

// batches splits records into batches of at most days dates each. Only the
// first batch carries the overlay.
func batches(acct domain.Account, records []domain.DailyStat, days int) []Batch {
	if days <= 0 {
		return nil
	}
	all := rows(acct, records)

	var (
		out   []Batch
		start int
		dates int
	)
	flush := func(end int) {
		if end == start {
			return
		}
		b := Batch{AccountID: acct.ID, Stats: all[start:end]}
		if len(out) == 0 && !acct.Overlay.IsZero() {
			overlay := acct.Overlay
			b.Overlay = &overlay
		}
		out = append(out, b)
		start, dates = end, 0
	}
	for i := range all {
		if i == 0 || all[i].Date != all[i-1].Date {
			if dates == days {
				flush(i)
			}
			dates++
		}
	}
	flush(len(all))
	return out
}
