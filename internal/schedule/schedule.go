// Package schedule turns date ranges into platform-correct daily windows.
//
// The two analytics backends disagree on what "a day" is. Grab is zone-naive
// and expects ISO-8601 instants pinned to +08:00 whatever the host zone is.
// GoJek buckets by the host's local wall clock and takes epoch milliseconds.
// Mixing the two silently shifts every statistic by a day, so each Window
// carries its platform and encodes itself.
package schedule

import (
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/ignite/delivery-stats/internal/domain"
)

// GrabOffset is the fixed offset the Grab analytics backend assumes.
const GrabOffset = 8 * 60 * 60

// grabLayout renders ISO-8601 with milliseconds and a numeric offset.
const grabLayout = "2006-01-02T15:04:05.000-07:00"

var grabZone = time.FixedZone("UTC+08:00", GrabOffset)

// Order selects iteration direction.
type Order int

const (
	// LatestFirst walks from the end of the range back to its start.
	LatestFirst Order = iota
	// EarliestFirst walks from the start of the range forward.
	EarliestFirst
)

// Window is one calendar day on one platform, closed at both ends.
type Window struct {
	Platform domain.Platform
	Date     domain.Date
	Start    time.Time
	End      time.Time
}

// StartParam encodes the window start the way the platform expects.
func (w Window) StartParam() string { return w.encode(w.Start) }

// EndParam encodes the window end the way the platform expects.
func (w Window) EndParam() string { return w.encode(w.End) }

func (w Window) encode(t time.Time) string {
	if w.Platform == domain.PlatformGojek {
		return strconv.FormatInt(t.UnixMilli(), 10)
	}
	return t.In(grabZone).Format(grabLayout)
}

func (w Window) String() string {
	return fmt.Sprintf("%s[%s..%s]", w.Platform, w.StartParam(), w.EndParam())
}

// Scheduler builds day windows. The zero value is not usable; use New.
type Scheduler struct {
	local *time.Location
}

// New creates a Scheduler. local is the host zone used for GoJek day
// boundaries; nil means time.Local.
func New(local *time.Location) *Scheduler {
	if local == nil {
		local = time.Local
	}
	return &Scheduler{local: local}
}

// Location returns the zone used for host-local day boundaries.
func (s *Scheduler) Location() *time.Location { return s.local }

// Window returns the window for one calendar date on platform p.
func (s *Scheduler) Window(p domain.Platform, d domain.Date) Window {
	loc := grabZone
	if p == domain.PlatformGojek {
		loc = s.local
	}
	y, m, day := d.Components()
	start := time.Date(y, m, day, 0, 0, 0, 0, loc)
	// Next local midnight minus 1ms, not start+24h, so DST days stay correct.
	end := time.Date(y, m, day+1, 0, 0, 0, 0, loc).Add(-time.Millisecond)
	return Window{Platform: p, Date: d, Start: start, End: end}
}

// Windows returns the lazy sequence of daily windows covering [from, to]
// inclusive. An inverted range yields an empty sequence.
func (s *Scheduler) Windows(p domain.Platform, from, to domain.Date, order Order) Sequence {
	return Sequence{sched: s, platform: p, from: from, to: to, order: order}
}

// Today returns the current calendar date in the platform's zone.
func (s *Scheduler) Today(p domain.Platform, now time.Time) domain.Date {
	if p == domain.PlatformGojek {
		return domain.DateOf(now.In(s.local))
	}
	return domain.DateOf(now.In(grabZone))
}

// Sequence is a finite, restartable series of windows. Every call to All
// starts over from the first window.
type Sequence struct {
	sched    *Scheduler
	platform domain.Platform
	from     domain.Date
	to       domain.Date
	order    Order
}

// Len returns the number of windows in the sequence.
func (q Sequence) Len() int {
	if q.to.Before(q.from) {
		return 0
	}
	return q.from.DaysUntil(q.to) + 1
}

// All yields the windows in the sequence's order.
func (q Sequence) All() iter.Seq[Window] {
	return func(yield func(Window) bool) {
		n := q.Len()
		for i := 0; i < n; i++ {
			d := q.from.AddDays(i)
			if q.order == LatestFirst {
				d = q.to.AddDays(-i)
			}
			if !yield(q.sched.Window(q.platform, d)) {
				return
			}
		}
	}
}

// Slice materializes the sequence.
func (q Sequence) Slice() []Window {
	out := make([]Window, 0, q.Len())
	for w := range q.All() {
		out = append(out, w)
	}
	return out
}

// Platform returns the platform the sequence was built for.
func (q Sequence) Platform() domain.Platform { return q.platform }
