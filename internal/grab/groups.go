package grab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ignite/delivery-stats/internal/collector"
	"github.com/ignite/delivery-stats/internal/domain"
)

// Query ids understood by the analytics endpoint.
const (
	querySales         = "merchant_sales_daily"
	queryAdsCost       = "ads_cost_daily"
	queryAdsSales      = "ads_attributed_sales_daily"
	queryCustomers     = "customer_cohorts_daily"
	queryFunnel        = "menu_funnel_daily"
	queryOperations    = "operations_daily"
	queryCancellations = "cancellations_daily"
	queryRatings       = "ratings_daily"
	queryPayouts       = "payouts_daily"
)

// Groups returns every Grab metric group backed by client.
func (c *Client) Groups() []collector.MetricGroup {
	return []collector.MetricGroup{
		{Name: "sales", Platform: domain.PlatformGrab, Fetch: c.fetchSales},
		{Name: "ads", Platform: domain.PlatformGrab, Fetch: c.fetchAds},
		{Name: "customers", Platform: domain.PlatformGrab, Fetch: c.fetchCustomers},
		{Name: "funnel", Platform: domain.PlatformGrab, Fetch: c.fetchFunnel},
		{Name: "operations", Platform: domain.PlatformGrab, Fetch: c.fetchOperations},
		{Name: "cancellations", Platform: domain.PlatformGrab, Fetch: c.fetchCancellations},
		{Name: "ratings", Platform: domain.PlatformGrab, Fetch: c.fetchRatings},
		{Name: "payouts", Platform: domain.PlatformGrab, Fetch: c.fetchPayouts},
	}
}

// query runs one analytics query and returns the raw data envelope.
func (c *Client) query(ctx context.Context, req collector.Request, queryID string, withAdvertiser bool) (queryResponse, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + req.Credential.AccessToken,
		"X-Merchant-Id": req.Identity.MerchantID,
		"X-Store-Id":    req.Identity.StoreID,
	}
	if withAdvertiser {
		headers["X-Advertiser-Id"] = req.Identity.AdvertiserID
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/analytics/v1/query", headers, queryRequest{
		QueryID:   queryID,
		StartTime: req.Window.StartParam(),
		EndTime:   req.Window.EndParam(),
		Timezone:  "+08:00",
	})
	if err != nil {
		return queryResponse{}, fmt.Errorf("%s: %w", queryID, err)
	}
	var resp queryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return queryResponse{}, collector.Malformed(queryID, err)
	}
	return resp, nil
}

// metrics runs a query and decodes data.metrics into dst. A null or absent
// data.metrics is reported as missing data.
func (c *Client) metrics(ctx context.Context, req collector.Request, queryID string, withAdvertiser bool, dst interface{}) error {
	resp, err := c.query(ctx, req, queryID, withAdvertiser)
	if err != nil {
		return err
	}
	if isNull(resp.Data.Metrics) {
		return fmt.Errorf("%s: data.metrics is null: %w", queryID, collector.ErrMissingData)
	}
	if err := json.Unmarshal(resp.Data.Metrics, dst); err != nil {
		return collector.Malformed(queryID+" metrics", err)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func (c *Client) fetchSales(ctx context.Context, req collector.Request) (domain.PlatformDelta, error) {
	var m salesMetrics
	if err := c.metrics(ctx, req, querySales, false, &m); err != nil {
		return domain.PlatformDelta{}, err
	}
	return domain.PlatformDelta{Sales: m.GrossSales, Orders: m.CompletedOrders}, nil
}

// fetchAds combines the cost and attributed-sales queries into spend, sales
// and the derived ROAS. The day is missing only when both halves are.
func (c *Client) fetchAds(ctx context.Context, req collector.Request) (domain.PlatformDelta, error) {
	if req.Identity.AdvertiserID == "" {
		return domain.PlatformDelta{}, fmt.Errorf("ads: no advertiser id: %w", collector.ErrMissingData)
	}
	var cost adsCostMetrics
	costErr := c.metrics(ctx, req, queryAdsCost, true, &cost)
	if costErr != nil && collector.Classify(costErr) != collector.OutcomeMissingData {
		return domain.PlatformDelta{}, costErr
	}
	var attributed adsSalesMetrics
	salesErr := c.metrics(ctx, req, queryAdsSales, true, &attributed)
	if salesErr != nil && collector.Classify(salesErr) != collector.OutcomeMissingData {
		return domain.PlatformDelta{}, salesErr
	}
	if costErr != nil && salesErr != nil {
		return domain.PlatformDelta{}, costErr
	}
	return adsDelta(cost.Spend, attributed.AttributedSales), nil
}

func adsDelta(spend, sales *float64) domain.PlatformDelta {
	d := domain.PlatformDelta{AdSpend: spend, AdSales: sales}
	if spend != nil && sales != nil {
		roas := 0.0
		if *spend > 0 {
			roas = *sales / *spend
		}
		d.AdROAS = &roas
	}
	return d
}

func (c *Client) fetchCustomers(ctx context.Context, req collector.Request) (domain.PlatformDelta, error) {
	var m customerMetrics
	if err := c.metrics(ctx, req, queryCustomers, false, &m); err != nil {
		return domain.PlatformDelta{}, err
	}
	return domain.PlatformDelta{NewCustomers: m.New, RepeatCustomers: m.Repeat, ReturningCustomers: m.Returning}, nil
}

func (c *Client) fetchFunnel(ctx context.Context, req collector.Request) (domain.PlatformDelta, error) {
	var m funnelMetrics
	if err := c.metrics(ctx, req, queryFunnel, false, &m); err != nil {
		return domain.PlatformDelta{}, err
	}
	return domain.PlatformDelta{MenuViews: m.MenuViews, CartAdds: m.AddToCart, Checkouts: m.Checkouts}, nil
}

func (c *Client) fetchOperations(ctx context.Context, req collector.Request) (domain.PlatformDelta, error) {
	var m operationsMetrics
	if err := c.metrics(ctx, req, queryOperations, false, &m); err != nil {
		return domain.PlatformDelta{}, err
	}
	return domain.PlatformDelta{
		AcceptanceSeconds: m.AvgAcceptanceSeconds,
		PrepSeconds:       m.AvgPrepSeconds,
		DeliverySeconds:   m.AvgDeliverySeconds,
	}, nil
}

func (c *Client) fetchCancellations(ctx context.Context, req collector.Request) (domain.PlatformDelta, error) {
	var m cancellationMetrics
	if err := c.metrics(ctx, req, queryCancellations, false, &m); err != nil {
		return domain.PlatformDelta{}, err
	}
	return domain.PlatformDelta{
		CancelledByMerchant: m.ByMerchant,
		CancelledByCustomer: m.ByCustomer,
		CancelledByDriver:   m.ByDriver,
		ClosureMinutes:      m.ClosureMinutes,
	}, nil
}

func (c *Client) fetchRatings(ctx context.Context, req collector.Request) (domain.PlatformDelta, error) {
	var m ratingMetrics
	if err := c.metrics(ctx, req, queryRatings, false, &m); err != nil {
		return domain.PlatformDelta{}, err
	}
	if m.Average == nil && len(m.Breakdown) == 0 {
		return domain.PlatformDelta{}, fmt.Errorf("%s: no ratings: %w", queryRatings, collector.ErrMissingData)
	}
	d := domain.PlatformDelta{Rating: m.Average}
	if len(m.Breakdown) > 0 {
		var hist domain.RatingHistogram
		for _, b := range m.Breakdown {
			if b.Stars < 1 || b.Stars > 5 {
				return domain.PlatformDelta{}, collector.Malformed(fmt.Sprintf("%s: star value %d", queryRatings, b.Stars), nil)
			}
			hist[b.Stars-1] += b.Count
		}
		d.RatingHistogram = &hist
	}
	return d, nil
}

// fetchPayouts sums the day's payouts. An empty data.payouts list is the
// missing-data signal.
func (c *Client) fetchPayouts(ctx context.Context, req collector.Request) (domain.PlatformDelta, error) {
	resp, err := c.query(ctx, req, queryPayouts, false)
	if err != nil {
		return domain.PlatformDelta{}, err
	}
	if isNull(resp.Data.Payouts) {
		return domain.PlatformDelta{}, collector.Malformed(queryPayouts+": data.payouts absent", nil)
	}
	var payouts []payout
	if err := json.Unmarshal(resp.Data.Payouts, &payouts); err != nil {
		return domain.PlatformDelta{}, collector.Malformed(queryPayouts, err)
	}
	if len(payouts) == 0 {
		return domain.PlatformDelta{}, fmt.Errorf("%s: data.payouts is empty: %w", queryPayouts, collector.ErrMissingData)
	}
	total := 0.0
	for _, p := range payouts {
		if p.Amount == nil {
			return domain.PlatformDelta{}, collector.Malformed(queryPayouts+": payout without amount", nil)
		}
		total += *p.Amount
	}
	return domain.PlatformDelta{Payout: &total}, nil
}
