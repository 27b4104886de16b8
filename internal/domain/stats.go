package domain

import "time"

// RatingHistogram counts ratings by star value; index 0 is one star.
type RatingHistogram [5]int64

// PlatformStats is one platform's namespace of a daily record.
type PlatformStats struct {
	Sales               float64         `json:"sales"`
	Orders              int64           `json:"orders"`
	AdSpend             float64         `json:"ad_spend"`
	AdSales             float64         `json:"ad_sales"`
	AdROAS              float64         `json:"ad_roas"`
	NewCustomers        int64           `json:"new_customers"`
	RepeatCustomers     int64           `json:"repeat_customers"`
	ReturningCustomers  int64           `json:"returning_customers"`
	MenuViews           int64           `json:"menu_views"`
	CartAdds            int64           `json:"cart_adds"`
	Checkouts           int64           `json:"checkouts"`
	AcceptanceSeconds   float64         `json:"acceptance_seconds"`
	PrepSeconds         float64         `json:"prep_seconds"`
	DeliverySeconds     float64         `json:"delivery_seconds"`
	CancelledByMerchant int64           `json:"cancelled_by_merchant"`
	CancelledByCustomer int64           `json:"cancelled_by_customer"`
	CancelledByDriver   int64           `json:"cancelled_by_driver"`
	ClosureMinutes      float64         `json:"closure_minutes"`
	Rating              float64         `json:"rating"`
	RatingHistogram     RatingHistogram `json:"rating_histogram"`
	Payout              float64         `json:"payout"`
}

// PlatformDelta is the typed payload of a fragment. A nil field means the
// fetcher did not observe it; a non-nil zero is a real zero.
type PlatformDelta struct {
	Sales               *float64
	Orders              *int64
	AdSpend             *float64
	AdSales             *float64
	AdROAS              *float64
	NewCustomers        *int64
	RepeatCustomers     *int64
	ReturningCustomers  *int64
	MenuViews           *int64
	CartAdds            *int64
	Checkouts           *int64
	AcceptanceSeconds   *float64
	PrepSeconds         *float64
	DeliverySeconds     *float64
	CancelledByMerchant *int64
	CancelledByCustomer *int64
	CancelledByDriver   *int64
	ClosureMinutes      *float64
	Rating              *float64
	RatingHistogram     *RatingHistogram
	Payout              *float64
}

// Float returns a pointer to v, for building deltas.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for building deltas.
func Int(v int64) *int64 { return &v }

// IsEmpty reports whether the delta carries no fields at all.
func (d PlatformDelta) IsEmpty() bool {
	return d == PlatformDelta{}
}

// Apply overwrites the fields of s that are present in d.
func (s *PlatformStats) Apply(d PlatformDelta) {
	setF(&s.Sales, d.Sales)
	setI(&s.Orders, d.Orders)
	setF(&s.AdSpend, d.AdSpend)
	setF(&s.AdSales, d.AdSales)
	setF(&s.AdROAS, d.AdROAS)
	setI(&s.NewCustomers, d.NewCustomers)
	setI(&s.RepeatCustomers, d.RepeatCustomers)
	setI(&s.ReturningCustomers, d.ReturningCustomers)
	setI(&s.MenuViews, d.MenuViews)
	setI(&s.CartAdds, d.CartAdds)
	setI(&s.Checkouts, d.Checkouts)
	setF(&s.AcceptanceSeconds, d.AcceptanceSeconds)
	setF(&s.PrepSeconds, d.PrepSeconds)
	setF(&s.DeliverySeconds, d.DeliverySeconds)
	setI(&s.CancelledByMerchant, d.CancelledByMerchant)
	setI(&s.CancelledByCustomer, d.CancelledByCustomer)
	setI(&s.CancelledByDriver, d.CancelledByDriver)
	setF(&s.ClosureMinutes, d.ClosureMinutes)
	setF(&s.Rating, d.Rating)
	if d.RatingHistogram != nil {
		s.RatingHistogram = *d.RatingHistogram
	}
	setF(&s.Payout, d.Payout)
}

// Merge returns a delta holding every field present in d or o, with o
// winning where both are set. Fetchers composed of several requests use it.
func (d PlatformDelta) Merge(o PlatformDelta) PlatformDelta {
	pickF := func(a, b *float64) *float64 {
		if b != nil {
			return b
		}
		return a
	}
	pickI := func(a, b *int64) *int64 {
		if b != nil {
			return b
		}
		return a
	}
	out := PlatformDelta{
		Sales:               pickF(d.Sales, o.Sales),
		Orders:              pickI(d.Orders, o.Orders),
		AdSpend:             pickF(d.AdSpend, o.AdSpend),
		AdSales:             pickF(d.AdSales, o.AdSales),
		AdROAS:              pickF(d.AdROAS, o.AdROAS),
		NewCustomers:        pickI(d.NewCustomers, o.NewCustomers),
		RepeatCustomers:     pickI(d.RepeatCustomers, o.RepeatCustomers),
		ReturningCustomers:  pickI(d.ReturningCustomers, o.ReturningCustomers),
		MenuViews:           pickI(d.MenuViews, o.MenuViews),
		CartAdds:            pickI(d.CartAdds, o.CartAdds),
		Checkouts:           pickI(d.Checkouts, o.Checkouts),
		AcceptanceSeconds:   pickF(d.AcceptanceSeconds, o.AcceptanceSeconds),
		PrepSeconds:         pickF(d.PrepSeconds, o.PrepSeconds),
		DeliverySeconds:     pickF(d.DeliverySeconds, o.DeliverySeconds),
		CancelledByMerchant: pickI(d.CancelledByMerchant, o.CancelledByMerchant),
		CancelledByCustomer: pickI(d.CancelledByCustomer, o.CancelledByCustomer),
		CancelledByDriver:   pickI(d.CancelledByDriver, o.CancelledByDriver),
		ClosureMinutes:      pickF(d.ClosureMinutes, o.ClosureMinutes),
		Rating:              pickF(d.Rating, o.Rating),
		RatingHistogram:     d.RatingHistogram,
		Payout:              pickF(d.Payout, o.Payout),
	}
	if o.RatingHistogram != nil {
		out.RatingHistogram = o.RatingHistogram
	}
	return out
}

func setF(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setI(dst *int64, v *int64) {
	if v != nil {
		*dst = *v
	}
}

// Fragment is a partial daily record produced by one metric fetch.
type Fragment struct {
	Platform Platform
	Delta    PlatformDelta
}

// DailyStat is the per-account, per-calendar-day record. Existence does not
// imply completeness: any subset of fields may have been collected. A
// namespace whose Collected flag is false was never written by a fragment
// and holds zeros, not observations.
type DailyStat struct {
	AccountID      string        `json:"account_id"`
	Date           Date          `json:"date"`
	Grab           PlatformStats `json:"grab"`
	Gojek          PlatformStats `json:"gojek"`
	GrabCollected  bool          `json:"grab_collected"`
	GojekCollected bool          `json:"gojek_collected"`
	TotalSales     float64       `json:"total_sales"`
	TotalOrders    int64         `json:"total_orders"`
	SyncedAt       time.Time     `json:"synced_at"`
}

// NewDailyStat returns a zero-seeded record for (accountID, date).
func NewDailyStat(accountID string, date Date) *DailyStat {
	return &DailyStat{AccountID: accountID, Date: date}
}

// Namespace returns the platform's field set within the record.
func (r *DailyStat) Namespace(p Platform) *PlatformStats {
	if p == PlatformGojek {
		return &r.Gojek
	}
	return &r.Grab
}

// Collected reports whether any fragment for platform p was merged.
func (r *DailyStat) Collected(p Platform) bool {
	if p == PlatformGojek {
		return r.GojekCollected
	}
	return r.GrabCollected
}

// SetCollected records whether platform p's namespace holds observations.
func (r *DailyStat) SetCollected(p Platform, v bool) {
	if p == PlatformGojek {
		r.GojekCollected = v
		return
	}
	r.GrabCollected = v
}

// ApplyFragment merges f into the record and recomputes the derived totals.
func (r *DailyStat) ApplyFragment(f Fragment) {
	r.Namespace(f.Platform).Apply(f.Delta)
	if !f.Delta.IsEmpty() {
		r.SetCollected(f.Platform, true)
	}
	r.Recompute()
}

// Recompute derives the cross-platform totals from both namespaces.
func (r *DailyStat) Recompute() {
	r.TotalSales = r.Grab.Sales + r.Gojek.Sales
	r.TotalOrders = r.Grab.Orders + r.Gojek.Orders
}
