// Command collector runs one collection pass over the configured merchant
// accounts and optionally exports the results to the central store.
//
//	collector -mode recent
//	collector -mode range -from 2024-09-01 -to 2024-09-30 -export
//	collector -mode history -accounts A,B
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ignite/delivery-stats/internal/app"
	"github.com/ignite/delivery-stats/internal/config"
	"github.com/ignite/delivery-stats/internal/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config.yaml")
	envFile := flag.String("env", ".env", "dotenv file")
	mode := flag.String("mode", string(app.ModeRecent), "recent | range | history")
	from := flag.String("from", "", "first date (YYYY-MM-DD), range mode")
	to := flag.String("to", "", "last date (YYYY-MM-DD); history mode walks back from here")
	accounts := flag.String("accounts", "", "comma-separated account ids (default: all)")
	export := flag.Bool("export", false, "push collected records to the export sinks")
	exportOnly := flag.Bool("export-only", false, "skip collection and only export")
	flag.Parse()

	os.Exit(run(*configPath, *envFile, app.Request{
		Mode:       app.Mode(*mode),
		From:       *from,
		To:         *to,
		Accounts:   splitList(*accounts),
		Export:     *export || *exportOnly,
		ExportOnly: *exportOnly,
	}))
}

func run(configPath, envFile string, req app.Request) int {
	cfg, err := config.LoadFromEnv(configPath, envFile)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		if errors.Is(err, config.ErrNoAccounts) {
			logger.Error("no accounts configured")
		} else {
			logger.Error("failed to initialize collector", "error", err)
		}
		return 1
	}
	defer a.Close()

	sum, err := a.Run(ctx, req)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(sum); encErr != nil {
		logger.Warn("failed to print summary", "error", encErr)
	}
	if err != nil {
		logger.Error("run failed", "run_id", sum.RunID, "error", err)
		return 1
	}
	if sum.Export != nil && sum.Export.Failed > 0 {
		logger.Warn("some export batches failed; records stay in the local store",
			"run_id", sum.RunID, "failed", sum.Export.Failed)
	}
	return 0
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
