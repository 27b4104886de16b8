package gojek

import "encoding/json"

// searchRequest is the journal search body used for sales.
type searchRequest struct {
	From         int                    `json:"from"`
	Size         int                    `json:"size"`
	Query        searchQuery            `json:"query"`
	Aggregations map[string]aggregation `json:"aggregations"`
}

type searchQuery struct {
	Bool struct {
		Must []map[string]interface{} `json:"must"`
	} `json:"bool"`
}

type aggregation map[string]map[string]string

// searchResponse carries the aggregation values. total_amount is absent
// when the merchant had no journal entries for the window.
type searchResponse struct {
	Hits struct {
		Total *int64 `json:"total"`
	} `json:"hits"`
	Aggregations map[string]struct {
		Value *float64 `json:"value"`
	} `json:"aggregations"`
}

// restResponse is the envelope of the REST reads. A null data is the
// missing-data signal.
type restResponse struct {
	Data json.RawMessage `json:"data"`
}

type adsSpend struct {
	Spend *float64 `json:"spend"`
}

type adsSales struct {
	Sales *float64 `json:"sales"`
}

type customerSummary struct {
	NewCustomers       *int64 `json:"new_customers"`
	ReturningCustomers *int64 `json:"returning_customers"`
}

type operationTimings struct {
	AcceptanceSeconds  *float64 `json:"acceptance_seconds"`
	PreparationSeconds *float64 `json:"preparation_seconds"`
	DeliverySeconds    *float64 `json:"delivery_seconds"`
}

type cancellationSummary struct {
	Reasons []struct {
		Actor string `json:"actor"`
		Count int64  `json:"count"`
	} `json:"reasons"`
	ClosureMinutes *float64 `json:"closure_minutes"`
}

type ratingSummary struct {
	AverageRating *float64         `json:"average_rating"`
	Distribution  map[string]int64 `json:"distribution"`
}

type payoutList struct {
	Payouts *[]struct {
		Amount *float64 `json:"amount"`
		Status string   `json:"status"`
	} `json:"payouts"`
}
