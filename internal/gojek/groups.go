package gojek

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ignite/delivery-stats/internal/collector"
	"github.com/ignite/delivery-stats/internal/domain"
)

// Groups returns every GoJek metric group backed by client.
func (c *Client) Groups() []collector.MetricGroup {
	return []collector.MetricGroup{
		{Name: "sales", Platform: domain.PlatformGojek, Fetch: c.fetchSales},
		{Name: "ads", Platform: domain.PlatformGojek, Fetch: c.fetchAds},
		{Name: "customers", Platform: domain.PlatformGojek, Fetch: c.fetchCustomers},
		{Name: "operations", Platform: domain.PlatformGojek, Fetch: c.fetchOperations},
		{Name: "cancellations", Platform: domain.PlatformGojek, Fetch: c.fetchCancellations},
		{Name: "ratings", Platform: domain.PlatformGojek, Fetch: c.fetchRatings},
		{Name: "payouts", Platform: domain.PlatformGojek, Fetch: c.fetchPayouts},
	}
}

func salesSearch(merchantID string, startMs, endMs int64) searchRequest {
	req := searchRequest{
		Size: 0,
		Aggregations: map[string]aggregation{
			"total_amount": {"sum": {"field": "amount"}},
			"order_count":  {"value_count": {"field": "order_id"}},
		},
	}
	req.Query.Bool.Must = []map[string]interface{}{
		{"term": map[string]string{"merchant_id": merchantID}},
		{"term": map[string]string{"status": "completed"}},
		{"range": map[string]interface{}{"transaction_time": map[string]int64{"gte": startMs, "lte": endMs}}},
	}
	return req
}

// fetchSales aggregates completed journal entries. An absent
// aggregations.total_amount is the missing-data signal.
func (c *Client) fetchSales(ctx context.Context, req collector.Request) (domain.PlatformDelta, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/v4/journals/search", req.Credential.AccessToken,
		salesSearch(req.Identity.MerchantID, req.Window.Start.UnixMilli(), req.Window.End.UnixMilli()))
	if err != nil {
		return domain.PlatformDelta{}, fmt.Errorf("sales: %w", err)
	}
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.PlatformDelta{}, collector.Malformed("sales search", err)
	}
	amount, ok := resp.Aggregations["total_amount"]
	if !ok || amount.Value == nil {
		return domain.PlatformDelta{}, fmt.Errorf("sales: aggregations.total_amount absent: %w", collector.ErrMissingData)
	}
	d := domain.PlatformDelta{Sales: amount.Value}
	if count, ok := resp.Aggregations["order_count"]; ok && count.Value != nil {
		d.Orders = domain.Int(int64(*count.Value))
	}
	return d, nil
}

// rest reads /v1/merchants/{id}/{suffix} and decodes data into dst.
func (c *Client) rest(ctx context.Context, req collector.Request, suffix string, dst interface{}) error {
	body, err := c.doRequest(ctx, http.MethodGet, merchantPath(req.Identity.MerchantID, suffix, req), req.Credential.AccessToken, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", suffix, err)
	}
	var resp restResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return collector.Malformed(suffix, err)
	}
	trimmed := bytes.TrimSpace(resp.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("%s: data is null: %w", suffix, collector.ErrMissingData)
	}
	if err := json.Unmarshal(resp.Data, dst); err != nil {
		return collector.Malformed(suffix+" data", err)
	}
	return nil
}

func (c *Client) fetchAds(ctx context.Context, req collector.Request) (domain.PlatformDelta, error) {
	var spend adsSpend
	spendErr := c.rest(ctx, req, "ads/spend", &spend)
	if spendErr != nil && collector.Classify(spendErr) != collector.OutcomeMissingData {
		return domain.PlatformDelta{}, spendErr
	}
	var sales adsSales
	salesErr := c.rest(ctx, req, "ads/attributed-sales", &sales)
	if salesErr != nil && collector.Classify(salesErr) != collector.OutcomeMissingData {
		return domain.PlatformDelta{}, salesErr
	}
	if spendErr != nil && salesErr != nil {
		return domain.PlatformDelta{}, spendErr
	}
	d := domain.PlatformDelta{AdSpend: spend.Spend, AdSales: sales.Sales}
	if spend.Spend != nil && sales.Sales != nil {
		roas := 0.0
		if *spend.Spend > 0 {
			roas = *sales.Sales / *spend.Spend
		}
		d.AdROAS = &roas
	}
	return d, nil
}

func (c *Client) fetchCustomers(ctx context.Context, req collector.Request) (domain.PlatformDelta, error) {
	var s customerSummary
	if err := c.rest(ctx, req, "customers/summary", &s); err != nil {
		return domain.PlatformDelta{}, err
	}
	return domain.PlatformDelta{NewCustomers: s.NewCustomers, ReturningCustomers: s.ReturningCustomers}, nil
}

func (c *Client) fetchOperations(ctx context.Context, req collector.Request) (domain.PlatformDelta, error) {
	var s operationTimings
	if err := c.rest(ctx, req, "operations/timings", &s); err != nil {
		return domain.PlatformDelta{}, err
	}
	return domain.PlatformDelta{
		AcceptanceSeconds: s.AcceptanceSeconds,
		PrepSeconds:       s.PreparationSeconds,
		DeliverySeconds:   s.DeliverySeconds,
	}, nil
}

// fetchCancellations folds per-reason counts by the party that cancelled.
// Unknown actors are ignored; an empty reasons list is a real zero.
func (c *Client) fetchCancellations(ctx context.Context, req collector.Request) (domain.PlatformDelta, error) {
	var s cancellationSummary
	if err := c.rest(ctx, req, "orders/cancellations", &s); err != nil {
		return domain.PlatformDelta{}, err
	}
	var merchant, customer, driver int64
	for _, r := range s.Reasons {
		switch r.Actor {
		case "merchant":
			merchant += r.Count
		case "customer":
			customer += r.Count
		case "driver":
			driver += r.Count
		}
	}
	return domain.PlatformDelta{
		CancelledByMerchant: &merchant,
		CancelledByCustomer: &customer,
		CancelledByDriver:   &driver,
		ClosureMinutes:      s.ClosureMinutes,
	}, nil
}

func (c *Client) fetchRatings(ctx context.Context, req collector.Request) (domain.PlatformDelta, error) {
	var s ratingSummary
	if err := c.rest(ctx, req, "ratings/summary", &s); err != nil {
		return domain.PlatformDelta{}, err
	}
	if s.AverageRating == nil && len(s.Distribution) == 0 {
		return domain.PlatformDelta{}, fmt.Errorf("ratings: no ratings: %w", collector.ErrMissingData)
	}
	d := domain.PlatformDelta{Rating: s.AverageRating}
	if len(s.Distribution) > 0 {
		var hist domain.RatingHistogram
		for k, n := range s.Distribution {
			stars, err := strconv.Atoi(k)
			if err != nil || stars < 1 || stars > 5 {
				return domain.PlatformDelta{}, collector.Malformed(fmt.Sprintf("ratings: distribution key %q", k), nil)
			}
			hist[stars-1] += n
		}
		d.RatingHistogram = &hist
	}
	return d, nil
}

// fetchPayouts sums settled payouts. "payouts": [] is the missing-data
// signal; an absent key is a shape change.
func (c *Client) fetchPayouts(ctx context.Context, req collector.Request) (domain.PlatformDelta, error) {
	body, err := c.doRequest(ctx, http.MethodGet, merchantPath(req.Identity.MerchantID, "payouts", req), req.Credential.AccessToken, nil)
	if err != nil {
		return domain.PlatformDelta{}, fmt.Errorf("payouts: %w", err)
	}
	var resp payoutList
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.PlatformDelta{}, collector.Malformed("payouts", err)
	}
	if resp.Payouts == nil {
		return domain.PlatformDelta{}, collector.Malformed("payouts: key absent", nil)
	}
	if len(*resp.Payouts) == 0 {
		return domain.PlatformDelta{}, fmt.Errorf("payouts: empty list: %w", collector.ErrMissingData)
	}
	total := 0.0
	for _, p := range *resp.Payouts {
		if p.Amount == nil {
			return domain.PlatformDelta{}, collector.Malformed("payouts: entry without amount", nil)
		}
		if p.Status == "failed" || p.Status == "cancelled" {
			continue
		}
		total += *p.Amount
	}
	return domain.PlatformDelta{Payout: &total}, nil
}
