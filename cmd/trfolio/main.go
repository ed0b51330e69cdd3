package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/trfolio/config"
	"github.com/alejandrodnm/trfolio/internal/adapters/lstc"
	"github.com/alejandrodnm/trfolio/internal/adapters/notify"
	"github.com/alejandrodnm/trfolio/internal/adapters/storage"
	"github.com/alejandrodnm/trfolio/internal/adapters/traderepublic"
	"github.com/alejandrodnm/trfolio/internal/application/valuation"
	"github.com/alejandrodnm/trfolio/internal/domain"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	watchlist := flag.Bool("watchlist", false, "include watchlist entries in the overview")
	table := flag.Bool("table", false, "print full table (default: compact 1-line summary)")
	jsonOut := flag.Bool("json", false, "print the overview as JSON instead of a table")
	snapshot := flag.Bool("snapshot", false, "persist the overview to the history database")
	reportPath := flag.String("report", "", "value a holdings JSON file via ls-tc.de and exit")
	pair := flag.Bool("pair", false, "pair this device with the account and exit")
	webLogin := flag.Bool("web", false, "authenticate via web login (SMS code) instead of device key")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *reportPath != "" {
		runReport(ctx, cfg, *reportPath)
		return
	}

	session, err := traderepublic.NewSession(traderepublic.SessionConfig{
		Host:    cfg.Broker.Host,
		PhoneNo: cfg.Broker.PhoneNo,
		PIN:     cfg.Broker.PIN,
		Locale:  cfg.Broker.Locale,
		KeyFile: cfg.Broker.KeyFile,
	})
	if err != nil {
		slog.Error("failed to create session", "err", err)
		os.Exit(1)
	}

	if *pair {
		runPairing(ctx, session, cfg.Broker.KeyFile)
		return
	}
	if *webLogin {
		if err := runWebLogin(ctx, session); err != nil {
			slog.Error("web login failed", "err", err)
			os.Exit(1)
		}
	}

	slog.Info("trfolio starting",
		"config", *configPath,
		"watchlist", *watchlist,
		"snapshot", *snapshot,
		"web", session.WebAuthenticated(),
	)

	client := traderepublic.NewClient(session, cfg.Broker.WebsocketURL, cfg.SubscribeTimeout())
	aggregator := valuation.New(client, *watchlist)

	overview, err := aggregator.Run(ctx)
	if err != nil {
		slog.Error("portfolio aggregation failed", "err", err)
		os.Exit(1)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(overview); err != nil {
			slog.Error("failed to encode overview", "err", err)
			os.Exit(1)
		}
	} else {
		notifier := notify.NewConsole(*table)
		if err := notifier.PublishOverview(ctx, overview); err != nil {
			slog.Warn("notifier error", "err", err)
		}
	}

	if *snapshot {
		store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
		if err != nil {
			slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
			os.Exit(1)
		}
		defer store.Close()

		if err := store.SaveOverview(ctx, time.Now(), overview); err != nil {
			slog.Error("failed to persist snapshot", "err", err)
			os.Exit(1)
		}
		slog.Info("snapshot saved", "dsn", cfg.Storage.DSN)
	}

	slog.Info("trfolio done",
		"positions", len(overview.Positions),
		"total", overview.Summary.Total,
	)
}

// runReport valora un archivo de posiciones externo contra ls-tc.de,
// sin tocar el broker, e imprime el informe como JSON.
func runReport(ctx context.Context, cfg *config.Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("failed to read holdings file", "err", err, "path", path)
		os.Exit(1)
	}

	var raw []struct {
		ISIN          string  `json:"isin"`
		NetQuantity   float64 `json:"net_quantity"`
		TotalInvested float64 `json:"total_invested"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		slog.Error("failed to parse holdings file", "err", err, "path", path)
		os.Exit(1)
	}

	holdings := make([]domain.HoldingInput, 0, len(raw))
	for _, h := range raw {
		holdings = append(holdings, domain.HoldingInput{
			ISIN:          h.ISIN,
			NetQuantity:   h.NetQuantity,
			TotalInvested: h.TotalInvested,
		})
	}

	source := lstc.NewSource(lstc.NewClient(cfg.MarketData.SearchBase, cfg.MarketData.ChartBase))
	report := valuation.BuildReport(ctx, holdings, source, cfg.MarketData.MaxConcurrent)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		slog.Error("failed to encode report", "err", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "valued %d of %d holdings\n",
		report.Summary.HoldingsCount, len(holdings))
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
