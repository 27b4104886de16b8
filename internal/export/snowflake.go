package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/snowflakedb/gosnowflake"
)

// SnowflakeConfig holds warehouse connection settings.
type SnowflakeConfig struct {
	Account   string `yaml:"account"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	Schema    string `yaml:"schema"`
	Warehouse string `yaml:"warehouse"`
	Table     string `yaml:"table"`
}

// ParseConnectionString extracts settings from a semicolon separated
// connection string, e.g.
// ACCOUNT=xxx;USER=zzz;PASSWORD=www;DB=database.schema;WAREHOUSE=wh;
func ParseConnectionString(connStr string) SnowflakeConfig {
	parts := make(map[string]string)
	for _, kv := range strings.Split(connStr, ";") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		parts[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	database, schema, _ := strings.Cut(parts["DB"], ".")
	return SnowflakeConfig{
		Account:   parts["ACCOUNT"],
		User:      parts["USER"],
		Password:  parts["PASSWORD"],
		Database:  database,
		Schema:    schema,
		Warehouse: parts["WAREHOUSE"],
	}
}

// DSN builds the driver DSN.
func (c SnowflakeConfig) DSN() (string, error) {
	return gosnowflake.DSN(&gosnowflake.Config{
		Account:   c.Account,
		User:      c.User,
		Password:  c.Password,
		Database:  c.Database,
		Schema:    c.Schema,
		Warehouse: c.Warehouse,
	})
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*){0,2}$`)

const defaultSnowflakeTable = "DAILY_PLATFORM_STATS"

// SnowflakeSink merges batches into a warehouse table keyed by
// (account_id, stat_date, platform). The overlay is not stored there.
type SnowflakeSink struct {
	db    *sql.DB
	table string
}

// OpenSnowflake connects to the warehouse described by cfg.
func OpenSnowflake(cfg SnowflakeConfig) (*SnowflakeSink, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, fmt.Errorf("failed to build snowflake dsn: %w", err)
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open snowflake connection: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	sink, err := NewSnowflakeSink(db, cfg.Table)
	if err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}

// NewSnowflakeSink wraps an open database handle.
func NewSnowflakeSink(db *sql.DB, table string) (*SnowflakeSink, error) {
	if table == "" {
		table = defaultSnowflakeTable
	}
	if !identifier.MatchString(table) {
		return nil, fmt.Errorf("invalid snowflake table name %q", table)
	}
	return &SnowflakeSink{db: db, table: table}, nil
}

// Name implements Sink.
func (s *SnowflakeSink) Name() string { return "snowflake" }

// Close closes the database connection
func (s *SnowflakeSink) Close() error { return s.db.Close() }

func (s *SnowflakeSink) mergeSQL() string {
	return `MERGE INTO ` + s.table + ` t
USING (SELECT ? AS account_id, TO_DATE(?) AS stat_date, ? AS platform, PARSE_JSON(?) AS fields) s
ON t.account_id = s.account_id AND t.stat_date = s.stat_date AND t.platform = s.platform
WHEN MATCHED THEN UPDATE SET fields = s.fields, synced_at = CURRENT_TIMESTAMP()
WHEN NOT MATCHED THEN INSERT (account_id, stat_date, platform, fields, synced_at)
VALUES (s.account_id, s.stat_date, s.platform, s.fields, CURRENT_TIMESTAMP())`
}

// Push implements Sink. The batch is merged in one transaction.
func (s *SnowflakeSink) Push(ctx context.Context, b Batch) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := s.mergeSQL()
	written := 0
	for _, r := range b.Stats {
		fields, err := json.Marshal(r.Fields)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal fields: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, b.AccountID, r.Date, string(r.Platform), string(fields))
		if err != nil {
			return 0, fmt.Errorf("merge %s %s %s: %w", b.AccountID, r.Date, r.Platform, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			written += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit merge: %w", err)
	}
	return written, nil
}
