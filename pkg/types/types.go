// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the framework — bars, orders,
// trades, signals, and backtest results. It has no dependencies on internal
// packages, so it can be imported by any layer.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Valid reports whether the side is one of the two known directions.
func (s Side) Valid() bool { return s == BUY || s == SELL }

// OrderType enumerates the supported order execution styles.
type OrderType string

const (
	// MARKET fills at the prevailing close price plus slippage.
	MARKET OrderType = "MARKET"
	// LIMIT fills only when the bar range crosses the limit price.
	LIMIT OrderType = "LIMIT"
)

// Bar is a normalized per-period OHLCV record for one symbol.
// Data sources are responsible for producing bars in this shape.
type Bar struct {
	Symbol   string    `json:"symbol"`
	Datetime time.Time `json:"datetime"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   int64     `json:"volume"`
	Amount   float64   `json:"amount"`

	// Convertible bond metrics, zero for plain equities.
	PremiumRate    float64 `json:"premium_rate,omitempty"`
	DaysToMaturity int     `json:"days_to_maturity,omitempty"`
}

// AggregatedBar groups all bars sharing one trading date. It is the unit
// passed to strategies during replay: Date is the ISO date string and Bars
// holds every symbol's bar for that day.
type AggregatedBar struct {
	Date string `json:"date"`
	Bars []Bar  `json:"cb_data"`
}

// Signal is the tagged record strategies emit from OnBar. Quantity 0 means
// "let the matcher size the order" (30% of cash for BUY, full position for
// SELL). Price 0 means no limit price; the order type then defaults to
// MARKET during normalization.
type Signal struct {
	Symbol    string
	Side      Side
	Quantity  int64
	OrderType OrderType
	Price     float64
}

// SignalFromMap adapts a map-shaped signal (the loose form hosts and
// plugins may produce) into a Signal. Side falls back to "direction",
// quantity defaults to 1 when absent, and numeric fields accept the
// common JSON number representations.
func SignalFromMap(m map[string]any) Signal {
	sig := Signal{Quantity: 1}

	if v, ok := m["symbol"]; ok {
		sig.Symbol = fmt.Sprint(v)
	}
	side, ok := m["side"]
	if !ok {
		side = m["direction"]
	}
	if side != nil {
		sig.Side = Side(strings.ToUpper(fmt.Sprint(side)))
	}
	if v, ok := m["quantity"]; ok && v != nil {
		if q := toInt64(v); q != 0 {
			sig.Quantity = q
		}
	}
	if v, ok := m["order_type"]; ok && v != nil {
		sig.OrderType = OrderType(strings.ToUpper(fmt.Sprint(v)))
	}
	if v, ok := m["price"]; ok && v != nil {
		sig.Price = toFloat64(v)
	}
	return sig
}

// Order is a normalized trade request. Price is required for LIMIT orders
// and ignored for MARKET orders (0 = unset).
type Order struct {
	Symbol    string
	Side      Side
	Quantity  int64
	OrderType OrderType
	Price     float64
}

// Validate enforces the order invariants: non-empty symbol, known side,
// positive quantity, and a positive price exactly when the type is LIMIT.
func (o Order) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("order symbol must not be empty")
	}
	if !o.Side.Valid() {
		return fmt.Errorf("order side must be BUY or SELL, got %q", o.Side)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("order quantity must be positive, got %d", o.Quantity)
	}
	switch o.OrderType {
	case MARKET:
		// price optional
	case LIMIT:
		if o.Price <= 0 {
			return fmt.Errorf("limit order requires a positive price")
		}
	default:
		return fmt.Errorf("order type must be MARKET or LIMIT, got %q", o.OrderType)
	}
	return nil
}

// Trade is one executed fill. Amount is always Quantity*Price. PnL is 0
// for buys; for sells it is (price − avg cost) × quantity − commission.
type Trade struct {
	Date       time.Time `json:"date"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   int64     `json:"quantity"`
	Price      float64   `json:"price"`
	Amount     float64   `json:"amount"`
	Commission float64   `json:"commission"`
	PnL        float64   `json:"pnl"`
}

// Quote is a realtime snapshot for one symbol, produced by data sources.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// NetValuePoint is one day's total portfolio value on the equity curve.
type NetValuePoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// BacktestResult is the summary produced after a full replay.
type BacktestResult struct {
	InitialCash    float64         `json:"initial_cash"`
	FinalValue     float64         `json:"final_value"`
	TotalReturn    float64         `json:"total_return"`
	AnnualReturn   float64         `json:"annual_return"`
	SharpeRatio    float64         `json:"sharpe_ratio"`
	MaxDrawdown    float64         `json:"max_drawdown"`
	WinRate        float64         `json:"win_rate"`
	TradeCount     int             `json:"trade_count"`
	NetValueSeries []NetValuePoint `json:"net_value_series"`
	Trades         []Trade         `json:"trades"`
}

// dateLayouts are the accepted textual date forms, tried in order.
var dateLayouts = []string{"2006-01-02", "2006/01/02", "20060102", "2006-01-02 15:04:05"}

// ParseDate parses a date string in any of the supported layouts and
// truncates it to midnight UTC.
func ParseDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return DateOf(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported date value: %q", value)
}

// DateOf truncates a timestamp to its trading date (midnight UTC).
// Dates are used as map keys, so every date in the framework goes
// through this normalization.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
