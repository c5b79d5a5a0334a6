// Package backtest replays historical bars through a strategy, matches
// the resulting orders against recorded prices, and computes performance
// statistics over the equity curve.
package backtest

import (
	"log/slog"
	"sort"
	"time"

	"quantcore/internal/config"
	"quantcore/internal/errs"
	"quantcore/internal/event"
	"quantcore/internal/portfolio"
	"quantcore/internal/risk"
	"quantcore/internal/runtime"
	"quantcore/internal/strategy"
	"quantcore/pkg/types"
)

// Options configures one backtest run. Zero CommissionRate and
// Slippage mean exactly that; DefaultOptions carries the conventional
// values.
type Options struct {
	InitialCash    float64
	TradeMode      portfolio.TradeMode
	CommissionRate float64
	Slippage       float64
}

// DefaultOptions returns the conventional run parameters.
func DefaultOptions() Options {
	return Options{
		InitialCash:    100000,
		TradeMode:      portfolio.ModeT0,
		CommissionRate: 0.0003,
		Slippage:       0.001,
	}
}

func (o Options) withDefaults() Options {
	if o.InitialCash == 0 {
		o.InitialCash = DefaultOptions().InitialCash
	}
	if o.TradeMode == "" {
		o.TradeMode = portfolio.ModeT0
	}
	return o
}

// Engine drives a bar-by-bar replay. The risk manager and event engine
// are optional: with a risk manager set, orders failing a check are
// skipped; with an event engine set, BAR and TRADE events are emitted as
// a side channel for plugins and observers.
type Engine struct {
	opts   Options
	risk   *risk.Manager
	events *event.Engine
	logger *slog.Logger
}

// New creates a backtest engine.
func New(opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		opts:   opts.withDefaults(),
		logger: logger.With("component", "backtest"),
	}
}

// SetRiskManager enables pre-trade risk checks.
func (e *Engine) SetRiskManager(m *risk.Manager) { e.risk = m }

// SetEventEngine enables BAR/TRADE event emission.
func (e *Engine) SetEventEngine(ev *event.Engine) { e.events = ev }

// run state for one replay.
type session struct {
	portfolio    *portfolio.Portfolio
	rctx         *runtime.Context
	latestPrices map[string]float64
	trades       []types.Trade
	netValues    []types.NetValuePoint
}

// Run replays data through strat over [start, end] and returns the
// result. Strategy errors propagate; the host decides whether to
// fail-fast.
func (e *Engine) Run(strat strategy.Strategy, data []types.Bar, start, end time.Time) (*types.BacktestResult, error) {
	p, err := portfolio.New(e.opts.InitialCash, e.opts.TradeMode)
	if err != nil {
		return nil, err
	}

	rm := e.risk
	if rm == nil {
		rm = risk.NewManager()
	}
	ev := e.events
	if ev == nil {
		ev = event.NewEngine(e.logger)
	}
	s := &session{
		portfolio:    p,
		rctx:         runtime.New(config.Default(), p, rm, ev, e.logger),
		latestPrices: make(map[string]float64),
	}

	if init, ok := strat.(strategy.Initializer); ok {
		if err := init.OnInit(s.rctx); err != nil {
			return nil, errs.Wrap(err, errs.KindStrategy, "strategy init failed").With("strategy", strat.Name())
		}
	}

	start, end = types.DateOf(start), types.DateOf(end)
	daily := make(map[time.Time][]types.Bar)
	for _, bar := range data {
		d := types.DateOf(bar.Datetime)
		if d.Before(start) || d.After(end) {
			continue
		}
		daily[d] = append(daily[d], bar)
	}

	dates := make([]time.Time, 0, len(daily))
	for d := range daily {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	for _, d := range dates {
		if err := e.processDay(s, strat, d, daily[d]); err != nil {
			return nil, err
		}
	}

	result := e.stats(s)
	return result, nil
}

func (e *Engine) processDay(s *session, strat strategy.Strategy, d time.Time, bars []types.Bar) error {
	for _, bar := range bars {
		if bar.Symbol == "" {
			continue
		}
		s.latestPrices[bar.Symbol] = bar.Close
	}

	agg := types.AggregatedBar{Date: d.Format("2006-01-02"), Bars: bars}
	e.emit(event.BAR, agg)

	signals, err := strat.OnBar(s.rctx, agg)
	if err != nil {
		return errs.Wrap(err, errs.KindStrategy, "strategy on_bar failed").
			With("strategy", strat.Name()).
			With("date", agg.Date)
	}

	for _, order := range normalizeSignals(signals) {
		e.execute(s, order, d)
	}

	s.portfolio.SettleDay(d)
	s.netValues = append(s.netValues, types.NetValuePoint{
		Date:  d,
		Value: s.portfolio.GetTotalValue(s.latestPrices),
	})
	return nil
}

// execute matches one order and applies the fill to the portfolio.
// Unfillable or unaffordable orders are skipped, not errors.
func (e *Engine) execute(s *session, order types.Order, d time.Time) {
	trade := e.match(s, order, d)
	if trade == nil {
		return
	}

	if e.risk != nil {
		checked := types.Order{
			Symbol:    trade.Symbol,
			Side:      trade.Side,
			Quantity:  trade.Quantity,
			OrderType: order.OrderType,
			Price:     trade.Price,
		}
		if result := e.risk.CheckOrder(checked, s.portfolio, s.latestPrices); !result.Passed {
			e.logger.Warn("order blocked by risk rules",
				"symbol", trade.Symbol,
				"violations", result.Violations,
			)
			return
		}
	}

	commission := trade.Amount * e.opts.CommissionRate

	if trade.Side == types.BUY {
		if trade.Amount+commission > s.portfolio.Cash() {
			e.logger.Debug("skipping buy, insufficient cash", "symbol", trade.Symbol)
			return
		}
		if err := s.portfolio.Buy(trade.Symbol, trade.Quantity, trade.Price, d); err != nil {
			e.logger.Debug("buy rejected", "symbol", trade.Symbol, "error", err)
			return
		}
		_ = s.portfolio.Debit(commission)
		trade.Commission = commission
		trade.PnL = 0
	} else {
		realized, err := s.portfolio.Sell(trade.Symbol, trade.Quantity, trade.Price, d)
		if err != nil {
			e.logger.Debug("sell rejected", "symbol", trade.Symbol, "error", err)
			return
		}
		_ = s.portfolio.Debit(commission)
		trade.Commission = commission
		trade.PnL = realized - commission
	}

	s.trades = append(s.trades, *trade)
	e.emit(event.TRADE, *trade)
}

// match fills an order against the day's recorded prices. Every replay
// order fills at the latest close with slippage; the limit price, if
// any, only influenced the order type during normalization. A zero
// quantity is auto-sized from the unslipped close: BUY spends up to 30%
// of cash, SELL closes the full position.
func (e *Engine) match(s *session, order types.Order, d time.Time) *types.Trade {
	if order.Symbol == "" || !order.Side.Valid() {
		return nil
	}

	closePrice := s.latestPrices[order.Symbol]
	if closePrice <= 0 {
		return nil
	}
	price := slipped(closePrice, order.Side, e.opts.Slippage)

	quantity := order.Quantity
	if quantity <= 0 {
		if order.Side == types.BUY {
			quantity = int64(s.portfolio.Cash() * 0.3 / closePrice)
		} else if pos := s.portfolio.GetPosition(order.Symbol); pos != nil {
			quantity = pos.Quantity
		}
	}
	if quantity <= 0 {
		return nil
	}

	return &types.Trade{
		Date:     d,
		Symbol:   order.Symbol,
		Side:     order.Side,
		Quantity: quantity,
		Price:    price,
		Amount:   price * float64(quantity),
	}
}

// MatchOrder matches one order against one bar, independent of replay
// state. MARKET orders fill at the bar close with slippage; LIMIT
// orders fill at the limit price when the bar range crosses it (low ≤
// limit for BUY, high ≥ limit for SELL). Returns nil when the order
// cannot fill.
func (e *Engine) MatchOrder(order types.Order, bar types.Bar) *types.Trade {
	if order.Symbol == "" || order.Symbol != bar.Symbol || !order.Side.Valid() {
		return nil
	}
	if order.Quantity <= 0 || bar.Close <= 0 {
		return nil
	}

	var price float64
	switch order.OrderType {
	case types.MARKET:
		price = slipped(bar.Close, order.Side, e.opts.Slippage)
	case types.LIMIT:
		if order.Price <= 0 {
			return nil
		}
		if order.Side == types.BUY && bar.Low <= order.Price {
			price = order.Price
		} else if order.Side == types.SELL && bar.High >= order.Price {
			price = order.Price
		} else {
			return nil
		}
	default:
		return nil
	}

	return &types.Trade{
		Date:     types.DateOf(bar.Datetime),
		Symbol:   order.Symbol,
		Side:     order.Side,
		Quantity: order.Quantity,
		Price:    price,
		Amount:   price * float64(order.Quantity),
	}
}

func slipped(closePrice float64, side types.Side, slip float64) float64 {
	if side == types.BUY {
		return closePrice * (1 + slip)
	}
	return closePrice * (1 - slip)
}

// normalizeSignals converts signals to orders. An unset order type
// becomes LIMIT when the signal carries a price and MARKET otherwise;
// signals with an unknown side are dropped.
func normalizeSignals(signals []types.Signal) []types.Order {
	orders := make([]types.Order, 0, len(signals))
	for _, sig := range signals {
		if !sig.Side.Valid() {
			continue
		}
		orderType := sig.OrderType
		if orderType == "" {
			if sig.Price > 0 {
				orderType = types.LIMIT
			} else {
				orderType = types.MARKET
			}
		}
		orders = append(orders, types.Order{
			Symbol:    sig.Symbol,
			Side:      sig.Side,
			Quantity:  sig.Quantity,
			OrderType: orderType,
			Price:     sig.Price,
		})
	}
	return orders
}

func (e *Engine) emit(t event.Type, payload any) {
	if e.events == nil || !e.events.Running() {
		return
	}
	_ = e.events.Put(event.New(t, payload))
}
