package strategy

import (
	"sort"

	"quantcore/internal/runtime"
	"quantcore/pkg/types"
)

// Context keys maintained by the double-low strategy.
const (
	doubleLowInitializedKey   = "double_low_initialized"
	doubleLowLastRebalanceKey = "double_low_last_rebalance_date"
)

// ranked is one candidate with its computed double-low value.
type ranked struct {
	Symbol    string
	DoubleLow float64
}

// DoubleLow ranks convertible bonds by price plus premium (in points) and
// holds the cheapest N. Each bar it sells holdings that fell out of the
// top list and buys new entrants; the matcher sizes the orders.
type DoubleLow struct {
	TopN                  int
	MinVolume             int64
	ExcludeDaysToMaturity int
}

// NewDoubleLow builds the strategy from config params, falling back to
// the standard defaults.
func NewDoubleLow(params map[string]any) *DoubleLow {
	return &DoubleLow{
		TopN:                  paramInt(params, "top_n", 5),
		MinVolume:             int64(paramInt(params, "min_volume", 1000000)),
		ExcludeDaysToMaturity: paramInt(params, "exclude_days_to_maturity", 30),
	}
}

func (s *DoubleLow) Name() string { return "double_low" }

// OnInit marks the strategy state in the runtime context.
func (s *DoubleLow) OnInit(ctx *runtime.Context) error {
	ctx.Set(doubleLowInitializedKey, true)
	ctx.Set(doubleLowLastRebalanceKey, nil)
	return nil
}

// OnBar computes the day's ranking and rebalances toward the top list.
func (s *DoubleLow) OnBar(ctx *runtime.Context, bar types.AggregatedBar) ([]types.Signal, error) {
	rows := s.rank(bar.Bars)
	top := s.selectTopN(rows)

	signals := s.rebalance(ctx, top)
	ctx.Set(doubleLowLastRebalanceKey, bar.Date)
	return signals, nil
}

// rank filters candidates by volume and remaining maturity, computes
// double_low = price + premium×100, and sorts ascending.
func (s *DoubleLow) rank(bars []types.Bar) []ranked {
	rows := make([]ranked, 0, len(bars))
	for _, bar := range bars {
		if bar.Volume < s.MinVolume {
			continue
		}
		if bar.DaysToMaturity <= s.ExcludeDaysToMaturity {
			continue
		}
		rows = append(rows, ranked{
			Symbol:    bar.Symbol,
			DoubleLow: bar.Close + bar.PremiumRate*100,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].DoubleLow < rows[j].DoubleLow })
	return rows
}

func (s *DoubleLow) selectTopN(rows []ranked) []string {
	n := s.TopN
	if n > len(rows) {
		n = len(rows)
	}
	top := make([]string, 0, n)
	for _, row := range rows[:n] {
		top = append(top, row.Symbol)
	}
	return top
}

// rebalance sells held symbols that left the top list and buys entrants
// not yet held. Quantity 0 lets the matcher size each order.
func (s *DoubleLow) rebalance(ctx *runtime.Context, top []string) []types.Signal {
	inTop := make(map[string]bool, len(top))
	for _, symbol := range top {
		inTop[symbol] = true
	}

	var signals []types.Signal
	held := ctx.Portfolio.Positions()
	exits := make([]string, 0, len(held))
	for symbol := range held {
		if !inTop[symbol] {
			exits = append(exits, symbol)
		}
	}
	sort.Strings(exits)
	for _, symbol := range exits {
		signals = append(signals, types.Signal{
			Symbol:    symbol,
			Side:      types.SELL,
			OrderType: types.MARKET,
		})
	}

	for _, symbol := range top {
		if _, ok := held[symbol]; ok {
			continue
		}
		signals = append(signals, types.Signal{
			Symbol:    symbol,
			Side:      types.BUY,
			OrderType: types.MARKET,
		})
	}
	return signals
}
