package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/delivery-stats/internal/pkg/httputil"
)

// HealthStatus represents the overall health of the process.
type HealthStatus struct {
	Status string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Uptime string                    `json:"uptime"`
	Checks map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck represents the health of a single dependency.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "not_configured"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthChecker pings the optional backends. Either may be nil.
type HealthChecker struct {
	db        *sql.DB
	redis     *redis.Client
	startTime time.Time
}

// NewHealthChecker creates a HealthChecker.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client) *HealthChecker {
	return &HealthChecker{db: db, redis: redisClient, startTime: time.Now()}
}

// HandleHealth reports dependency health. It answers 503 when a configured
// dependency is down.
//
//	GET /healthz
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]ComponentCheck{
		"database": hc.check(r.Context(), hc.db != nil, func(ctx context.Context) error { return hc.db.PingContext(ctx) }),
		"redis":    hc.check(r.Context(), hc.redis != nil, func(ctx context.Context) error { return hc.redis.Ping(ctx).Err() }),
	}
	status := HealthStatus{Status: "healthy", Uptime: time.Since(hc.startTime).Truncate(time.Second).String(), Checks: checks}
	code := http.StatusOK
	for _, c := range checks {
		if c.Status == "down" {
			status.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}
	httputil.JSON(w, code, status)
}

func (hc *HealthChecker) check(ctx context.Context, configured bool, ping func(context.Context) error) ComponentCheck {
	if !configured {
		return ComponentCheck{Status: "not_configured"}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := ping(pingCtx)
	latency := time.Since(start)
	if err != nil {
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: fmt.Sprintf("ping failed: %v", err)}
	}
	return ComponentCheck{Status: "up", Latency: latency.String()}
}
