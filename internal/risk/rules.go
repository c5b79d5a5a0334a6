// Package risk evaluates orders and open positions against a configurable
// set of rules. Rules are pure: they inspect portfolio state and report
// violations, they never mutate anything.
package risk

import (
	"fmt"

	"quantcore/internal/errs"
	"quantcore/internal/portfolio"
	"quantcore/pkg/types"
)

// Rule is one risk constraint. CheckOrder runs before an order executes,
// CheckPosition runs against an existing holding at a market price. Both
// return human-readable violation messages; empty means the rule passes.
type Rule interface {
	CheckOrder(order types.Order, p *portfolio.Portfolio, prices map[string]float64) []string
	CheckPosition(symbol string, pos portfolio.Position, price float64) []string
}

// StopLossRule flags a position whose price has fallen to or below
// cost × (1 − pct).
type StopLossRule struct {
	pct float64
}

func NewStopLossRule(pct float64) (*StopLossRule, error) {
	if pct <= 0 || pct >= 1 {
		return nil, errs.Newf(errs.KindValidation, "stop loss pct must be in (0, 1), got %v", pct)
	}
	return &StopLossRule{pct: pct}, nil
}

func (r *StopLossRule) CheckOrder(types.Order, *portfolio.Portfolio, map[string]float64) []string {
	return nil
}

func (r *StopLossRule) CheckPosition(symbol string, pos portfolio.Position, price float64) []string {
	trigger := pos.AvgCost * (1 - r.pct)
	if price <= trigger {
		return []string{fmt.Sprintf("Stop loss triggered for %s: price %.4f <= %.4f", symbol, price, trigger)}
	}
	return nil
}

// TakeProfitRule flags a position whose price has risen to or above
// cost × (1 + pct).
type TakeProfitRule struct {
	pct float64
}

func NewTakeProfitRule(pct float64) (*TakeProfitRule, error) {
	if pct <= 0 || pct >= 1 {
		return nil, errs.Newf(errs.KindValidation, "take profit pct must be in (0, 1), got %v", pct)
	}
	return &TakeProfitRule{pct: pct}, nil
}

func (r *TakeProfitRule) CheckOrder(types.Order, *portfolio.Portfolio, map[string]float64) []string {
	return nil
}

func (r *TakeProfitRule) CheckPosition(symbol string, pos portfolio.Position, price float64) []string {
	trigger := pos.AvgCost * (1 + r.pct)
	if price >= trigger {
		return []string{fmt.Sprintf("Take profit triggered for %s: price %.4f >= %.4f", symbol, price, trigger)}
	}
	return nil
}

// MaxPositionRatioRule caps a single symbol's projected market value as a
// share of total assets. Only BUY orders are checked.
type MaxPositionRatioRule struct {
	maxRatio float64
}

func NewMaxPositionRatioRule(maxRatio float64) (*MaxPositionRatioRule, error) {
	if maxRatio <= 0 || maxRatio > 1 {
		return nil, errs.Newf(errs.KindValidation, "max ratio must be in (0, 1], got %v", maxRatio)
	}
	return &MaxPositionRatioRule{maxRatio: maxRatio}, nil
}

func (r *MaxPositionRatioRule) CheckOrder(order types.Order, p *portfolio.Portfolio, prices map[string]float64) []string {
	if order.Side != types.BUY {
		return nil
	}

	total := p.GetTotalValue(prices)
	if total <= 0 {
		return nil
	}

	var currentValue float64
	if pos := p.GetPosition(order.Symbol); pos != nil {
		currentPrice, ok := prices[order.Symbol]
		if !ok {
			currentPrice = pos.AvgCost
		}
		currentValue = float64(pos.Quantity) * currentPrice
	}

	projected := currentValue + float64(order.Quantity)*order.Price
	ratio := projected / total
	if ratio > r.maxRatio {
		return []string{fmt.Sprintf(
			"Position ratio violation for %s: %.2f%% > max ratio %.2f%%",
			order.Symbol, ratio*100, r.maxRatio*100)}
	}
	return nil
}

func (r *MaxPositionRatioRule) CheckPosition(string, portfolio.Position, float64) []string {
	return nil
}

// MaxHoldingsRule caps the number of distinct symbols held. Adding to an
// existing position is always allowed.
type MaxHoldingsRule struct {
	max int
}

func NewMaxHoldingsRule(max int) (*MaxHoldingsRule, error) {
	if max <= 0 {
		return nil, errs.Newf(errs.KindValidation, "max holdings must be positive, got %d", max)
	}
	return &MaxHoldingsRule{max: max}, nil
}

func (r *MaxHoldingsRule) CheckOrder(order types.Order, p *portfolio.Portfolio, _ map[string]float64) []string {
	if order.Side != types.BUY {
		return nil
	}
	if p.GetPosition(order.Symbol) != nil {
		return nil
	}
	if count := len(p.Positions()); count >= r.max {
		return []string{fmt.Sprintf("Max holdings violation: current %d, limit %d", count, r.max)}
	}
	return nil
}

func (r *MaxHoldingsRule) CheckPosition(string, portfolio.Position, float64) []string {
	return nil
}

// MaxTradeAmountRule caps the notional value of one order.
type MaxTradeAmountRule struct {
	maxAmount float64
}

func NewMaxTradeAmountRule(maxAmount float64) (*MaxTradeAmountRule, error) {
	if maxAmount <= 0 {
		return nil, errs.Newf(errs.KindValidation, "max amount must be positive, got %v", maxAmount)
	}
	return &MaxTradeAmountRule{maxAmount: maxAmount}, nil
}

func (r *MaxTradeAmountRule) CheckOrder(order types.Order, _ *portfolio.Portfolio, _ map[string]float64) []string {
	amount := float64(order.Quantity) * order.Price
	if amount > r.maxAmount {
		return []string{fmt.Sprintf(
			"Max trade amount violation: amount %.2f > max trade amount %.2f",
			amount, r.maxAmount)}
	}
	return nil
}

func (r *MaxTradeAmountRule) CheckPosition(string, portfolio.Position, float64) []string {
	return nil
}
