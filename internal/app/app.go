// Package app wires the collector from a Config and runs collection and
// export jobs. cmd/collector and cmd/server share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/delivery-stats/internal/aggregate"
	"github.com/ignite/delivery-stats/internal/collector"
	"github.com/ignite/delivery-stats/internal/config"
	"github.com/ignite/delivery-stats/internal/domain"
	"github.com/ignite/delivery-stats/internal/export"
	"github.com/ignite/delivery-stats/internal/gojek"
	"github.com/ignite/delivery-stats/internal/grab"
	"github.com/ignite/delivery-stats/internal/pkg/distlock"
	"github.com/ignite/delivery-stats/internal/pkg/logger"
	"github.com/ignite/delivery-stats/internal/repository/memory"
	"github.com/ignite/delivery-stats/internal/repository/postgres"
	"github.com/ignite/delivery-stats/internal/schedule"
	"github.com/ignite/delivery-stats/internal/session"
	"github.com/ignite/delivery-stats/internal/storage"
)

// App holds every long-lived component of the collector.
type App struct {
	cfg      *config.Config
	accounts []domain.Account

	db    *sql.DB
	redis *redis.Client
	aws   *storage.AWSStorage

	sched    *schedule.Scheduler
	sessions *session.Manager
	stats    *aggregate.Service
	runner   *collector.Runner
	walker   *collector.Walker
	exporter *export.Exporter

	closers []func() error
	now     func() time.Time
}

// New connects the configured backends and builds the pipeline. The
// returned App must be closed.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, now: time.Now}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.cfg

	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		a.db = db
		logger.Info("database connected")
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		a.redis = rdb
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	}

	if cfg.Storage.Credentials == config.StoreDynamoDB || cfg.Export.Archive {
		aws, err := storage.NewAWSStorage(ctx, storage.AWSOptions{
			Table:           cfg.Storage.DynamoDBTable,
			Bucket:          cfg.Storage.S3Bucket,
			Region:          cfg.Storage.AWSRegion,
			Profile:         cfg.Storage.AWSProfile,
			AccessKeyID:     cfg.Storage.AWSAccessKeyID,
			SecretAccessKey: cfg.Storage.AWSSecretAccessKey,
		})
		if err != nil {
			return err
		}
		a.aws = aws
	}

	var lister config.AccountLister
	if a.db != nil {
		lister = postgres.NewAccountRepo(a.db)
	}
	accounts, err := cfg.ResolveAccounts(ctx, lister)
	if err != nil {
		return err
	}
	a.accounts = accounts

	var locker distlock.Locker = distlock.NewLocalLocker()
	if a.redis != nil {
		locker = distlock.NewRedisLocker(a.redis, 5*time.Minute)
	}

	store, err := a.credentialStore()
	if err != nil {
		return err
	}
	grabClient := grab.NewClient(grab.Config{
		BaseURL:           cfg.Grab.BaseURL,
		Timeout:           cfg.Grab.Timeout(),
		RequestsPerSecond: cfg.Grab.RequestsPerSecond,
	})
	gojekClient := gojek.NewClient(gojek.Config{
		BaseURL:           cfg.Gojek.BaseURL,
		Timeout:           cfg.Gojek.Timeout(),
		RequestsPerSecond: cfg.Gojek.RequestsPerSecond,
	})
	auths := map[domain.Platform]session.Authenticator{
		domain.PlatformGrab:  grab.NewAuthenticator(grabClient),
		domain.PlatformGojek: gojek.NewAuthenticator(cfg.Gojek.BaseURL, &http.Client{Timeout: cfg.Gojek.Timeout()}),
	}
	opts := []session.Option{session.WithLocker(locker)}
	if a.redis != nil {
		opts = append(opts, session.WithMirror(storage.NewCredentialMirror(a.redis, cfg.Redis.MirrorTTL())))
	}
	a.sessions = session.NewManager(store, auths, opts...)

	var repo aggregate.Repository = memory.NewDailyStatRepo()
	if a.db != nil {
		repo = postgres.NewDailyStatRepo(a.db)
	} else {
		logger.Warn("no database configured, daily stats are kept in memory")
	}
	a.stats = aggregate.NewService(repo, locker)

	loc, err := cfg.Gojek.Location()
	if err != nil {
		return err
	}
	a.sched = schedule.New(loc)

	groups := collector.Registry{}
	groups.Register(grabClient.Groups()...)
	groups.Register(gojekClient.Groups()...)

	loop := collector.NewDayLoop(collector.NewTask(a.sessions), a.sessions, collector.Policy{
		MissingStreakLimit: cfg.Collector.MissingStreakLimit,
		ErrorStreakLimit:   cfg.Collector.ErrorStreakLimit,
		TransientRetryCap:  cfg.Collector.TransientRetryCap,
	})
	a.runner = collector.NewRunner(a.sched, loop, groups, a.merge, cfg.Collector.ParallelAccounts)
	a.walker = collector.NewWalker(a.runner, cfg.Collector.HistoryPeriodMonths, cfg.Collector.HistoryMaxPeriods)

	return a.initExporter()
}

func (a *App) merge(ctx context.Context, accountID string, date domain.Date, frag domain.Fragment) error {
	_, err := a.stats.Merge(ctx, accountID, date, frag)
	return err
}

func (a *App) credentialStore() (session.CredentialStore, error) {
	switch a.cfg.Storage.Credentials {
	case config.StoreFile:
		return storage.NewFileCredentialStore(a.cfg.Storage.StatePath), nil
	case config.StorePostgres:
		return postgres.NewCredentialRepo(a.db), nil
	case config.StoreDynamoDB:
		return a.aws, nil
	case config.StoreMemory:
		return memory.NewCredentialRepo(), nil
	}
	return nil, fmt.Errorf("unknown credential store %q", a.cfg.Storage.Credentials)
}

func (a *App) initExporter() error {
	ec := a.cfg.Export
	var sinks []export.Sink
	if ec.Endpoint != "" {
		sinks = append(sinks, export.NewHTTPSink(export.HTTPSinkConfig{
			Endpoint:         ec.Endpoint,
			APIKey:           ec.APIKey,
			Timeout:          ec.Timeout(),
			FailureThreshold: ec.FailureThreshold,
		}))
	}
	if ec.Snowflake.Enabled {
		sfCfg := export.ParseConnectionString(ec.Snowflake.ConnectionString)
		if ec.Snowflake.Warehouse != "" {
			sfCfg.Warehouse = ec.Snowflake.Warehouse
		}
		sfCfg.Table = ec.Snowflake.Table
		sf, err := export.OpenSnowflake(sfCfg)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, sf.Close)
		sinks = append(sinks, sf)
	}
	if len(sinks) == 0 {
		return nil
	}

	opts := []export.Option{export.WithBatchDays(ec.BatchDays), export.WithBatchAccounts(ec.BatchAccounts)}
	if ec.Archive {
		opts = append(opts, export.WithArchive(export.NewS3Archive(a.aws, ec.ArchivePrefix)))
	}
	exp, err := export.NewExporter(a.stats, sinks, opts...)
	if err != nil {
		return err
	}
	a.exporter = exp
	return nil
}

// Close releases every backend connection.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Accounts returns the resolved account list.
func (a *App) Accounts() []domain.Account { return a.accounts }

// Stats returns the daily stat service.
func (a *App) Stats() *aggregate.Service { return a.stats }

// DB returns the database handle, or nil when none is configured.
func (a *App) DB() *sql.DB { return a.db }

// Redis returns the Redis client, or nil when none is configured.
func (a *App) Redis() *redis.Client { return a.redis }

// SetClock replaces the clock used to resolve relative ranges.
func (a *App) SetClock(now func() time.Time) { a.now = now }
