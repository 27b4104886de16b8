package grab

import "encoding/json"

// tokenRequest is the body of login and refresh calls.
type tokenRequest struct {
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
}

// tokenResponse is returned by login and refresh.
type tokenResponse struct {
	Data struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ClientID     string `json:"client_id"`
		ExpiresIn    int    `json:"expires_in"`
	} `json:"data"`
}

// queryRequest is the body of an analytics query.
type queryRequest struct {
	QueryID   string `json:"queryId"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Timezone  string `json:"timezone"`
}

// queryResponse is the envelope of every analytics query. A null or absent
// data.metrics is the backend's way of saying the day has no data.
type queryResponse struct {
	Data struct {
		Metrics json.RawMessage `json:"metrics"`
		Payouts json.RawMessage `json:"payouts"`
	} `json:"data"`
}

type salesMetrics struct {
	GrossSales      *float64 `json:"gross_sales"`
	CompletedOrders *int64   `json:"completed_orders"`
}

type adsCostMetrics struct {
	Spend *float64 `json:"spend"`
}

type adsSalesMetrics struct {
	AttributedSales *float64 `json:"attributed_sales"`
}

type customerMetrics struct {
	New       *int64 `json:"new"`
	Repeat    *int64 `json:"repeat"`
	Returning *int64 `json:"returning"`
}

type funnelMetrics struct {
	MenuViews *int64 `json:"menu_views"`
	AddToCart *int64 `json:"add_to_cart"`
	Checkouts *int64 `json:"checkouts"`
}

type operationsMetrics struct {
	AvgAcceptanceSeconds *float64 `json:"avg_acceptance_seconds"`
	AvgPrepSeconds       *float64 `json:"avg_prep_seconds"`
	AvgDeliverySeconds   *float64 `json:"avg_delivery_seconds"`
}

type cancellationMetrics struct {
	ByMerchant     *int64   `json:"by_merchant"`
	ByCustomer     *int64   `json:"by_customer"`
	ByDriver       *int64   `json:"by_driver"`
	ClosureMinutes *float64 `json:"closure_minutes"`
}

type ratingMetrics struct {
	Average   *float64 `json:"average"`
	Breakdown []struct {
		Stars int   `json:"stars"`
		Count int64 `json:"count"`
	} `json:"breakdown"`
}

type payout struct {
	Amount   *float64 `json:"amount"`
	Currency string   `json:"currency"`
}
