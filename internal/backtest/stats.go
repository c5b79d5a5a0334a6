package backtest

import (
	"math"

	"quantcore/pkg/types"
)

const tradingDaysPerYear = 252

// stats builds the result summary over the session's equity curve. An
// empty curve produces a zeroed result whose final value equals the
// starting cash.
func (e *Engine) stats(s *session) *types.BacktestResult {
	result := &types.BacktestResult{
		InitialCash:    e.opts.InitialCash,
		FinalValue:     e.opts.InitialCash,
		TradeCount:     len(s.trades),
		NetValueSeries: s.netValues,
		Trades:         s.trades,
	}
	if len(s.netValues) == 0 {
		return result
	}

	first, last := s.netValues[0], s.netValues[len(s.netValues)-1]
	result.FinalValue = last.Value
	result.TotalReturn = (last.Value - e.opts.InitialCash) / e.opts.InitialCash

	days := last.Date.Sub(first.Date).Hours() / 24
	if days < 1 {
		days = 1
	}
	result.AnnualReturn = math.Pow(1+result.TotalReturn, 365/days) - 1

	result.SharpeRatio = sharpe(dailyReturns(s.netValues))
	result.MaxDrawdown = maxDrawdown(s.netValues)
	result.WinRate = winRate(s.trades)
	return result
}

// dailyReturns converts the equity curve into day-over-day returns,
// skipping steps where the prior value is not positive.
func dailyReturns(points []types.NetValuePoint) []float64 {
	returns := make([]float64, 0, len(points))
	for i := 1; i < len(points); i++ {
		prev := points[i-1].Value
		if prev <= 0 {
			continue
		}
		returns = append(returns, (points[i].Value-prev)/prev)
	}
	return returns
}

// sharpe is the annualized Sharpe ratio over daily returns, using the
// population standard deviation and a zero risk-free rate.
func sharpe(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(tradingDaysPerYear)
}

// maxDrawdown is the largest peak-to-trough decline on the equity curve,
// as a positive fraction of the running peak.
func maxDrawdown(points []types.NetValuePoint) float64 {
	worst, peak := 0.0, 0.0
	for _, pt := range points {
		if pt.Value > peak {
			peak = pt.Value
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - pt.Value) / peak; dd > worst {
			worst = dd
		}
	}
	return worst
}

// winRate is the share of closing trades with positive net PnL. Buys
// carry no realized PnL and are excluded.
func winRate(trades []types.Trade) float64 {
	sells, wins := 0, 0
	for _, t := range trades {
		if t.Side != types.SELL {
			continue
		}
		sells++
		if t.PnL > 0 {
			wins++
		}
	}
	if sells == 0 {
		return 0
	}
	return float64(wins) / float64(sells)
}
