package export

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/delivery-stats/internal/domain"
)

// =============================================================================
// FIXTURES
// =============================================================================

func account(id string, overlay domain.Overlay) domain.Account {
	return domain.Account{
		ID:      id,
		Grab:    &domain.PlatformAccount{MerchantID: "GM-" + id},
		Gojek:   &domain.PlatformAccount{MerchantID: "GJ-" + id},
		Overlay: overlay,
	}
}

func records(id string, from domain.Date, n int) []domain.DailyStat {
	out := make([]domain.DailyStat, 0, n)
	for i := 0; i < n; i++ {
		r := domain.NewDailyStat(id, from.AddDays(i))
		r.ApplyFragment(domain.Fragment{Platform: domain.PlatformGrab, Delta: domain.PlatformDelta{Sales: domain.Float(100), Orders: domain.Int(5)}})
		r.ApplyFragment(domain.Fragment{Platform: domain.PlatformGojek, Delta: domain.PlatformDelta{Sales: domain.Float(50), Orders: domain.Int(2)}})
		out = append(out, *r)
	}
	return out
}

type recordingSink struct {
	mu      sync.Mutex
	batches []Batch
	failOn  map[int]bool
	calls   int
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Push(_ context.Context, b Batch) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failOn[s.calls] {
		return 0, errors.New("boom")
	}
	s.batches = append(s.batches, b)
	return len(b.Stats), nil
}

type fakeSource struct {
	data  map[string][]domain.DailyStat
	fail  map[string]bool
	calls []string
}

func (f *fakeSource) Range(_ context.Context, id string, _, _ domain.Date) ([]domain.DailyStat, error) {
	f.calls = append(f.calls, id)
	if f.fail[id] {
		return nil, errors.New("db down")
	}
	return f.data[id], nil
}

var sept1 = domain.NewDate(2024, time.September, 1)

// =============================================================================
// EXPORTER
// =============================================================================

func TestNewExporterRequiresSink(t *testing.T) {
	_, err := NewExporter(&fakeSource{}, nil)
	assert.ErrorIs(t, err, ErrNoSinks)
}

func TestExportBatchesByDaysWithOverlayOnFirst(t *testing.T) {
	sink := &recordingSink{}
	e, err := NewExporter(&fakeSource{}, []Sink{sink}, WithBatchDays(90))
	require.NoError(t, err)

	acct := account("A", domain.Overlay{GrabCommissionPct: 30})
	rep := e.Export(context.Background(), acct, records("A", sept1, 200))

	assert.Equal(t, 3, rep.Batches)
	assert.Equal(t, 0, rep.Failed)
	assert.Equal(t, 400, rep.Rows)
	require.Len(t, sink.batches, 3)
	assert.Len(t, sink.batches[0].Stats, 180)
	assert.Len(t, sink.batches[2].Stats, 40)
	require.NotNil(t, sink.batches[0].Overlay)
	assert.Equal(t, 30.0, sink.batches[0].Overlay.GrabCommissionPct)
	assert.Nil(t, sink.batches[1].Overlay)
	assert.Nil(t, sink.batches[2].Overlay)
	assert.Equal(t, "2024-09-01", sink.batches[0].Stats[0].Date)
}

func TestExportOmitsZeroOverlayAndUnconfiguredPlatforms(t *testing.T) {
	sink := &recordingSink{}
	e, _ := NewExporter(&fakeSource{}, []Sink{sink})
	acct := domain.Account{ID: "B", Gojek: &domain.PlatformAccount{MerchantID: "GJ"}}

	e.Export(context.Background(), acct, records("B", sept1, 2))

	require.Len(t, sink.batches, 1)
	assert.Nil(t, sink.batches[0].Overlay)
	for _, r := range sink.batches[0].Stats {
		assert.Equal(t, domain.PlatformGojek, r.Platform)
		assert.Equal(t, 50.0, r.Fields.Sales)
	}
}

func TestExportSkipsUncollectedPlatform(t *testing.T) {
	sink := &recordingSink{}
	e, _ := NewExporter(&fakeSource{}, []Sink{sink})

	grabOnly := domain.NewDailyStat("A", sept1)
	grabOnly.ApplyFragment(domain.Fragment{Platform: domain.PlatformGrab, Delta: domain.PlatformDelta{Sales: domain.Float(100), Orders: domain.Int(5)}})
	untouched := domain.NewDailyStat("A", sept1.AddDays(1))

	rep := e.Export(context.Background(), account("A", domain.Overlay{}), []domain.DailyStat{*grabOnly, *untouched})

	require.Len(t, sink.batches, 1)
	require.Len(t, sink.batches[0].Stats, 1)
	row := sink.batches[0].Stats[0]
	assert.Equal(t, domain.PlatformGrab, row.Platform)
	assert.Equal(t, "2024-09-01", row.Date)
	assert.Equal(t, 100.0, row.Fields.Sales)
	assert.Equal(t, int64(5), row.Fields.Orders)
	assert.Equal(t, 1, rep.Rows)
}

func TestExportNothingCollectedSendsNoBatch(t *testing.T) {
	sink := &recordingSink{}
	e, _ := NewExporter(&fakeSource{}, []Sink{sink})

	rep := e.Export(context.Background(), account("A", domain.Overlay{GrabCommissionPct: 10}),
		[]domain.DailyStat{*domain.NewDailyStat("A", sept1)})

	assert.Empty(t, sink.batches)
	assert.Zero(t, rep.Batches)
}

func TestBatchesSplitByDatesNotRows(t *testing.T) {
	recs := records("A", sept1, 4)
	// Day 2 only has grab, so rows per date are uneven.
	recs[1] = *domain.NewDailyStat("A", sept1.AddDays(1))
	recs[1].ApplyFragment(domain.Fragment{Platform: domain.PlatformGrab, Delta: domain.PlatformDelta{Sales: domain.Float(7)}})

	bs := batches(account("A", domain.Overlay{}), recs, 2)

	require.Len(t, bs, 2)
	assert.Len(t, bs[0].Stats, 3)
	assert.Equal(t, "2024-09-02", bs[0].Stats[2].Date)
	assert.Len(t, bs[1].Stats, 4)
	assert.Equal(t, "2024-09-03", bs[1].Stats[0].Date)
}

func TestExportSortsByDate(t *testing.T) {
	sink := &recordingSink{}
	e, _ := NewExporter(&fakeSource{}, []Sink{sink})
	recs := records("A", sept1, 3)
	recs[0], recs[2] = recs[2], recs[0]

	e.Export(context.Background(), account("A", domain.Overlay{}), recs)

	stats := sink.batches[0].Stats
	assert.Equal(t, "2024-09-01", stats[0].Date)
	assert.Equal(t, "2024-09-03", stats[len(stats)-1].Date)
}

func TestFailedBatchIsSkipped(t *testing.T) {
	sink := &recordingSink{failOn: map[int]bool{1: true}}
	e, _ := NewExporter(&fakeSource{}, []Sink{sink}, WithBatchDays(1))

	rep := e.Export(context.Background(), account("A", domain.Overlay{GojekCommissionPct: 20}), records("A", sept1, 3))

	assert.Equal(t, 3, rep.Batches)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 4, rep.Rows)
	assert.Equal(t, 3, sink.calls, "batches after a failure are still sent")
	require.Len(t, sink.batches, 2)
	assert.Nil(t, sink.batches[0].Overlay, "overlay rides only on the first batch")
}

func TestExportAllGroupsAccounts(t *testing.T) {
	src := &fakeSource{
		data: map[string][]domain.DailyStat{
			"A": records("A", sept1, 2),
			"C": records("C", sept1, 1),
		},
		fail: map[string]bool{"B": true},
	}
	sink := &recordingSink{}
	e, _ := NewExporter(src, []Sink{sink}, WithBatchAccounts(2))
	accts := []domain.Account{account("A", domain.Overlay{}), account("B", domain.Overlay{}), account("C", domain.Overlay{})}

	rep, err := e.ExportAll(context.Background(), accts, sept1, sept1.AddDays(5))
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, src.calls)
	assert.Equal(t, 2, rep.Accounts)
	assert.Equal(t, 6, rep.Rows)
	require.Len(t, sink.batches, 2)
	assert.Equal(t, "A", sink.batches[0].AccountID)
	assert.Equal(t, "C", sink.batches[1].AccountID)
}

func TestExportStopsWhenCanceled(t *testing.T) {
	sink := &recordingSink{}
	e, _ := NewExporter(&fakeSource{}, []Sink{sink})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := e.Export(ctx, account("A", domain.Overlay{}), records("A", sept1, 3))
	assert.Zero(t, rep.Batches)
	assert.Empty(t, sink.batches)
}

type fakeArchive struct{ keys []string }

func (f *fakeArchive) SaveToS3(_ context.Context, key string, _ interface{}) error {
	f.keys = append(f.keys, key)
	return nil
}

func TestExportArchivesBeforePush(t *testing.T) {
	store := &fakeArchive{}
	archive := NewS3Archive(store, "archive")
	archive.now = func() time.Time { return time.Date(2024, 9, 11, 3, 4, 5, 0, time.UTC) }
	sink := &recordingSink{}
	e, _ := NewExporter(&fakeSource{}, []Sink{sink}, WithArchive(archive), WithBatchDays(1))

	e.Export(context.Background(), account("A", domain.Overlay{}), records("A", sept1, 2))

	require.Len(t, store.keys, 2)
	assert.True(t, strings.HasPrefix(store.keys[0], "archive/A/2024/09/11/030405-"))
	assert.True(t, strings.HasSuffix(store.keys[0], ".json"))
	assert.NotEqual(t, store.keys[0], store.keys[1])
}

// =============================================================================
// HTTP SINK
// =============================================================================

func TestHTTPSinkPostsBatch(t *testing.T) {
	var (
		mu   sync.Mutex
		got  map[string]interface{}
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"success":true,"rows":4}`))
	}))
	defer srv.Close()

	sink := NewHTTPSink(HTTPSinkConfig{Endpoint: srv.URL, APIKey: "k-1"})
	bs := batches(account("A", domain.Overlay{GrabCommissionPct: 25}), records("A", sept1, 2), 90)
	n, err := sink.Push(context.Background(), bs[0])
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer k-1", auth)
	assert.Equal(t, "A", got["account_id"])
	assert.Equal(t, 25.0, got["overlay"].(map[string]interface{})["grab_commission_pct"])
	stats := got["stats"].([]interface{})
	require.Len(t, stats, 4)
	first := stats[0].(map[string]interface{})
	assert.Equal(t, "2024-09-01", first["date"])
	assert.Equal(t, "grab", first["platform"])
	assert.Equal(t, 100.0, first["fields"].(map[string]interface{})["sales"])
}

func TestHTTPSinkFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		target error
	}{
		{"server error", http.StatusInternalServerError, `oops`, nil},
		{"malformed json", http.StatusOK, `<html>`, nil},
		{"no success flag", http.StatusOK, `{"rows":1}`, nil},
		{"rejected", http.StatusOK, `{"success":false,"error":"unknown account"}`, ErrBatchRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			sink := NewHTTPSink(HTTPSinkConfig{Endpoint: srv.URL})
			sink.SetHTTPClient(srv.Client())
			_, err := sink.Push(context.Background(), Batch{AccountID: "A", Stats: []Row{{Date: "2024-09-01"}}})
			require.Error(t, err)
			if tc.target != nil {
				assert.ErrorIs(t, err, tc.target)
			}
		})
	}
}

func TestHTTPSinkBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sink := NewHTTPSink(HTTPSinkConfig{Endpoint: srv.URL, FailureThreshold: 2, OpenTimeout: time.Hour})
	sink.SetHTTPClient(srv.Client())
	b := Batch{AccountID: "A", Stats: []Row{{Date: "2024-09-01"}}}

	for i := 0; i < 2; i++ {
		_, err := sink.Push(context.Background(), b)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, sink.State())

	_, err := sink.Push(context.Background(), b)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), hits.Load())
}

func TestHTTPSinkRejectionsKeepBreakerClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()

	sink := NewHTTPSink(HTTPSinkConfig{Endpoint: srv.URL, FailureThreshold: 2})
	for i := 0; i < 3; i++ {
		_, err := sink.Push(context.Background(), Batch{AccountID: "A"})
		assert.ErrorIs(t, err, ErrBatchRejected)
	}
	assert.Equal(t, gobreaker.StateClosed, sink.State())
}

// =============================================================================
// SNOWFLAKE SINK
// =============================================================================

func TestParseConnectionString(t *testing.T) {
	cfg := ParseConnectionString("scheme=https;ACCOUNT=XY-123;USER=svc;PASSWORD=p=w;DB=ANALYTICS.DELIVERY;WAREHOUSE=WH;")

	assert.Equal(t, "XY-123", cfg.Account)
	assert.Equal(t, "svc", cfg.User)
	assert.Equal(t, "p=w", cfg.Password)
	assert.Equal(t, "ANALYTICS", cfg.Database)
	assert.Equal(t, "DELIVERY", cfg.Schema)
	assert.Equal(t, "WH", cfg.Warehouse)

	noSchema := ParseConnectionString("ACCOUNT=a;USER=u;PASSWORD=p;DB=mydb")
	assert.Equal(t, "mydb", noSchema.Database)
	assert.Empty(t, noSchema.Schema)
}

func TestSnowflakeDSN(t *testing.T) {
	dsn, err := SnowflakeConfig{Account: "xy-123", User: "svc", Password: "pw", Database: "DB", Schema: "S", Warehouse: "WH"}.DSN()
	require.NoError(t, err)
	assert.Contains(t, dsn, "svc:pw@xy-123")
	assert.Contains(t, dsn, "warehouse=WH")
}

func TestNewSnowflakeSinkRejectsBadTable(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewSnowflakeSink(db, "stats; DROP TABLE x")
	assert.Error(t, err)

	sink, err := NewSnowflakeSink(db, "")
	require.NoError(t, err)
	assert.Equal(t, defaultSnowflakeTable, sink.table)
}

func TestSnowflakeSinkMergesRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sink, err := NewSnowflakeSink(db, "ANALYTICS.DELIVERY.DAILY_STATS")
	require.NoError(t, err)

	mock.ExpectBegin()
	merge := regexp.QuoteMeta("MERGE INTO ANALYTICS.DELIVERY.DAILY_STATS t")
	mock.ExpectExec(merge).WithArgs("A", "2024-09-01", "grab", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(merge).WithArgs("A", "2024-09-01", "gojek", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	bs := batches(account("A", domain.Overlay{}), records("A", sept1, 1), 90)
	n, err := sink.Push(context.Background(), bs[0])
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnowflakeSinkRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sink, _ := NewSnowflakeSink(db, "")

	mock.ExpectBegin()
	mock.ExpectExec("MERGE INTO").WillReturnError(errors.New("warehouse suspended"))
	mock.ExpectRollback()

	_, err = sink.Push(context.Background(), Batch{AccountID: "A", Stats: []Row{{Date: "2024-09-01", Platform: domain.PlatformGrab}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warehouse suspended")
	assert.NoError(t, mock.ExpectationsWereMet())
}
