// Quantcore backtest runner — replays historical bars through a
// configured strategy and prints the performance summary.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires components, runs the replay
//	event/engine.go      — synchronous event bus: priority handlers, middleware, re-dispatch
//	portfolio/           — cash + positions with weighted average cost, T+0/T+1 settlement
//	risk/                — rule-based pre-trade checks (stop loss, position ratio, …)
//	plugin/              — lifecycle manager with dependency-ordered init and hook dispatch
//	strategy/            — built-in strategies: double_low ranking, MACD crossover
//	datasource/          — HTTP bar source with retries, cache decorator, websocket feed
//	backtest/            — the replay driver: matching, commissions, statistics
//	runtime/             — the per-run dependency bundle handed to strategies
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"quantcore/internal/backtest"
	"quantcore/internal/cache"
	"quantcore/internal/config"
	"quantcore/internal/datasource"
	"quantcore/internal/event"
	"quantcore/internal/portfolio"
	"quantcore/internal/risk"
	"quantcore/internal/strategy"
	"quantcore/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("QUANT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	strat, err := strategy.New(cfg.Strategy.Name, cfg.Strategy.Params)
	if err != nil {
		logger.Error("failed to build strategy", "error", err)
		os.Exit(1)
	}

	start, err := types.ParseDate(cfg.Backtest.StartDate)
	if err != nil {
		logger.Error("invalid backtest.start_date", "error", err)
		os.Exit(1)
	}
	end, err := types.ParseDate(cfg.Backtest.EndDate)
	if err != nil {
		logger.Error("invalid backtest.end_date", "error", err)
		os.Exit(1)
	}

	source := newSource(cfg, logger)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	bars, err := fetchData(ctx, source, cfg, start, end)
	if err != nil {
		logger.Error("failed to fetch bar data", "error", err)
		os.Exit(1)
	}
	logger.Info("bar data loaded", "bars", len(bars), "start", cfg.Backtest.StartDate, "end", cfg.Backtest.EndDate)

	events := event.NewEngine(logger)
	if err := events.Register(event.TRADE, logTrade(logger), 0); err != nil {
		logger.Error("failed to register trade logger", "error", err)
		os.Exit(1)
	}
	events.Start()
	defer events.Stop()

	opts := backtest.DefaultOptions()
	opts.InitialCash = cfg.Backtest.InitialCapital
	opts.TradeMode = tradeMode(cfg)
	opts.CommissionRate = cfg.Backtest.FeeRate
	engine := backtest.New(opts, logger)
	engine.SetRiskManager(newRiskManager(cfg, logger))
	engine.SetEventEngine(events)

	result, err := engine.Run(strat, bars, start, end)
	if err != nil {
		logger.Error("backtest failed", "error", err)
		os.Exit(1)
	}

	logger.Info("backtest complete",
		"strategy", strat.Name(),
		"initial_cash", result.InitialCash,
		"final_value", fmt.Sprintf("%.2f", result.FinalValue),
		"total_return", fmt.Sprintf("%.2f%%", result.TotalReturn*100),
		"annual_return", fmt.Sprintf("%.2f%%", result.AnnualReturn*100),
		"sharpe", fmt.Sprintf("%.2f", result.SharpeRatio),
		"max_drawdown", fmt.Sprintf("%.2f%%", result.MaxDrawdown*100),
		"win_rate", fmt.Sprintf("%.2f%%", result.WinRate*100),
		"trades", result.TradeCount,
	)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newSource builds the configured bar source, wrapped in a file or
// memory cache depending on data_source.cache_dir.
func newSource(cfg *config.Config, logger *slog.Logger) datasource.Source {
	base := datasource.NewHTTPSource(cfg.DataSource.Primary, os.Getenv("QUANT_DATA_TOKEN"))

	var backend cache.Cache
	if dir := cfg.DataSource.CacheDir; dir != "" {
		fc, err := cache.NewFile(dir)
		if err != nil {
			logger.Warn("file cache unavailable, using memory cache", "error", err, "dir", dir)
			backend = cache.NewMemory()
		} else {
			backend = fc
		}
	} else {
		backend = cache.NewMemory()
	}
	return datasource.NewCachedSource(base, backend)
}

// fetchData loads bars for every configured symbol concurrently and
// flattens them into one slice for the replay.
func fetchData(ctx context.Context, source datasource.Source, cfg *config.Config, start, end time.Time) ([]types.Bar, error) {
	symbols := configuredSymbols(cfg)
	perSymbol, err := datasource.FetchBarsMulti(ctx, source, symbols, start, end)
	if err != nil {
		return nil, err
	}
	var bars []types.Bar
	for _, rows := range perSymbol {
		bars = append(bars, rows...)
	}
	return bars, nil
}

func configuredSymbols(cfg *config.Config) []string {
	raw, ok := cfg.Asset.Params["symbols"].([]any)
	if !ok {
		return nil
	}
	symbols := make([]string, 0, len(raw))
	for _, v := range raw {
		symbols = append(symbols, fmt.Sprint(v))
	}
	return symbols
}

// tradeMode resolves the settlement mode from the selected asset type,
// defaulting to T+0.
func tradeMode(cfg *config.Config) portfolio.TradeMode {
	if at, ok := cfg.AssetTypes[cfg.Asset.Type]; ok && at.Settlement == "T+1" {
		return portfolio.ModeT1
	}
	return portfolio.ModeT0
}

func newRiskManager(cfg *config.Config, logger *slog.Logger) *risk.Manager {
	var rules []risk.Rule
	if r, err := risk.NewMaxPositionRatioRule(cfg.Risk.MaxPositionRatio); err == nil {
		rules = append(rules, r)
	} else {
		logger.Warn("skipping position ratio rule", "error", err)
	}
	if r, err := risk.NewStopLossRule(cfg.Risk.StopLossRatio); err == nil {
		rules = append(rules, r)
	} else {
		logger.Warn("skipping stop loss rule", "error", err)
	}
	return risk.NewManager(rules...)
}

func logTrade(logger *slog.Logger) event.Handler {
	return func(ev event.Event) (*event.Event, error) {
		trade, ok := ev.Payload.(types.Trade)
		if !ok {
			return nil, nil
		}
		logger.Info("trade",
			"date", trade.Date.Format("2006-01-02"),
			"symbol", trade.Symbol,
			"side", trade.Side,
			"quantity", trade.Quantity,
			"price", fmt.Sprintf("%.4f", trade.Price),
			"pnl", fmt.Sprintf("%.2f", trade.PnL),
		)
		return nil, nil
	}
}
