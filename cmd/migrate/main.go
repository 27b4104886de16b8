package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/delivery-stats/internal/config"
	"github.com/ignite/delivery-stats/internal/pkg/logger"
)

var collectorTables = []string{"daily_stats", "merchant_credentials", "merchant_accounts"}

func main() {
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	envFile := flag.String("env", ".env", "dotenv file")
	dir := flag.String("dir", "migrations", "directory of *.sql files")
	listOnly := flag.Bool("list", false, "list collector tables and exit")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath, *envFile)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.URL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("connect", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logger.Error("ping", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	if *listOnly {
		if err := listTables(ctx, db); err != nil {
			logger.Error("list tables", "error", err)
			os.Exit(1)
		}
		return
	}

	ok, failed, err := apply(ctx, db, *dir)
	if err != nil {
		logger.Error("migrate", "dir", *dir, "error", err)
		os.Exit(1)
	}
	logger.Info("migrations complete", "ok", ok, "errors", failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func listTables(ctx context.Context, db *sql.DB) error {
	for _, t := range collectorTables {
		var exists bool
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname = 'public' AND tablename = $1)`, t,
		).Scan(&exists)
		if err != nil {
			return err
		}
		state := "missing"
		if exists {
			state = "present"
		}
		fmt.Printf("  %-22s %s\n", t, state)
	}
	return nil
}

// apply runs every .sql file in dir in name order, each in its own
// transaction. A failing file is rolled back and counted; the rest still run.
func apply(ctx context.Context, db *sql.DB, dir string) (ok, failed int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return ok, failed, fmt.Errorf("read %s: %w", f, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			logger.Error("begin", "file", f, "error", err)
			failed++
			continue
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			tx.Rollback()
			logger.Error("migration failed", "file", f, "error", err)
			failed++
			continue
		}
		if err := tx.Commit(); err != nil {
			logger.Error("commit", "file", f, "error", err)
			failed++
			continue
		}
		logger.Info("migration applied", "file", f)
		ok++
	}
	return ok, failed, nil
}
