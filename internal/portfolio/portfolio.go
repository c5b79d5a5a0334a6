// Package portfolio tracks cash, positions, and settlement state for a
// simulated account.
//
// The portfolio supports two settlement modes: T+0, where bought quantity
// is sellable the same day, and T+1, where it only becomes sellable after
// day-end settlement. Holding cost is a weighted average across buys.
package portfolio

import (
	"sync"
	"time"

	"quantcore/internal/errs"
	"quantcore/pkg/types"
)

// TradeMode selects the settlement rule.
type TradeMode string

const (
	ModeT0 TradeMode = "T+0"
	ModeT1 TradeMode = "T+1"
)

// Position is a single security holding. Available is the quantity
// sellable right now; under T+1 it lags Quantity until settlement.
type Position struct {
	Symbol    string
	Quantity  int64
	AvgCost   float64
	Available int64
	BuyDate   time.Time // latest buy date
}

// Portfolio is the account state. All methods are safe for concurrent use.
type Portfolio struct {
	mu          sync.Mutex
	initialCash float64
	cash        float64
	positions   map[string]*Position
	mode        TradeMode

	// T+1 buys bucketed by trade date, released by SettleDay.
	pendingT1 map[time.Time]map[string]int64
}

// New creates a portfolio with the given starting cash and trade mode.
func New(initialCash float64, mode TradeMode) (*Portfolio, error) {
	if initialCash < 0 {
		return nil, errs.New(errs.KindValidation, "initial cash must be non-negative")
	}
	if mode != ModeT0 && mode != ModeT1 {
		return nil, errs.Newf(errs.KindValidation, "trade mode must be %s or %s, got %q", ModeT0, ModeT1, mode)
	}
	return &Portfolio{
		initialCash: initialCash,
		cash:        initialCash,
		positions:   make(map[string]*Position),
		mode:        mode,
		pendingT1:   make(map[time.Time]map[string]int64),
	}, nil
}

// InitialCash returns the starting cash amount.
func (p *Portfolio) InitialCash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialCash
}

// Cash returns the current free cash.
func (p *Portfolio) Cash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash
}

// Mode returns the settlement mode.
func (p *Portfolio) Mode() TradeMode { return p.mode }

// Debit subtracts a non-trade charge (commission, fees) from cash. Cash
// may go negative only through charges on already-accepted trades, so
// the driver checks affordability before executing.
func (p *Portfolio) Debit(amount float64) error {
	if amount < 0 {
		return errs.New(errs.KindValidation, "debit amount must be non-negative").With("amount", amount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cash -= amount
	return nil
}

// Buy debits cash and adds to the position at a weighted-average cost.
// Under T+1 the bought quantity stays unavailable until SettleDay runs
// for the trade date.
func (p *Portfolio) Buy(symbol string, quantity int64, price float64, date time.Time) error {
	if err := validateTradeInput(symbol, quantity, price); err != nil {
		return err
	}
	date = types.DateOf(date)

	p.mu.Lock()
	defer p.mu.Unlock()

	amount := float64(quantity) * price
	if amount > p.cash {
		return errs.New(errs.KindTrade, "insufficient cash").
			With("symbol", symbol).
			With("required", amount).
			With("cash", p.cash)
	}
	p.cash -= amount

	pos := p.positions[symbol]
	if pos == nil {
		var available int64
		if p.mode == ModeT0 {
			available = quantity
		}
		p.positions[symbol] = &Position{
			Symbol:    symbol,
			Quantity:  quantity,
			AvgCost:   price,
			Available: available,
			BuyDate:   date,
		}
	} else {
		totalCost := pos.AvgCost*float64(pos.Quantity) + amount
		pos.Quantity += quantity
		pos.AvgCost = totalCost / float64(pos.Quantity)
		pos.BuyDate = date
		if p.mode == ModeT0 {
			pos.Available += quantity
		}
	}

	if p.mode == ModeT1 {
		bucket := p.pendingT1[date]
		if bucket == nil {
			bucket = make(map[string]int64)
			p.pendingT1[date] = bucket
		}
		bucket[symbol] += quantity
	}
	return nil
}

// Sell credits cash and returns the realized PnL against the weighted
// average cost. The sale is rejected when the total or the available
// quantity is insufficient.
func (p *Portfolio) Sell(symbol string, quantity int64, price float64, date time.Time) (float64, error) {
	if err := validateTradeInput(symbol, quantity, price); err != nil {
		return 0, err
	}
	date = types.DateOf(date)

	p.mu.Lock()
	defer p.mu.Unlock()

	pos := p.positions[symbol]
	if pos == nil || pos.Quantity < quantity {
		return 0, errs.New(errs.KindTrade, "insufficient position quantity").
			With("symbol", symbol).
			With("requested", quantity)
	}
	if quantity > p.availableLocked(symbol) {
		return 0, errs.New(errs.KindTrade, "insufficient available quantity").
			With("symbol", symbol).
			With("requested", quantity).
			With("available", p.availableLocked(symbol))
	}

	realized := (price - pos.AvgCost) * float64(quantity)
	p.cash += float64(quantity) * price

	pos.Quantity -= quantity
	pos.Available -= quantity

	if pos.Quantity == 0 {
		delete(p.positions, symbol)
	} else if p.mode == ModeT0 {
		pos.Available = pos.Quantity
	}
	return realized, nil
}

// GetPosition returns a copy of the position, or nil when flat.
func (p *Portfolio) GetPosition(symbol string) *Position {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos := p.positions[symbol]
	if pos == nil {
		return nil
	}
	cp := *pos
	return &cp
}

// Positions returns a snapshot of all open positions.
func (p *Portfolio) Positions() map[string]Position {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]Position, len(p.positions))
	for symbol, pos := range p.positions {
		out[symbol] = *pos
	}
	return out
}

// GetAvailableQuantity returns the sellable quantity under the current
// trade mode: the full holding under T+0, the settled portion under T+1.
func (p *Portfolio) GetAvailableQuantity(symbol string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.availableLocked(symbol)
}

func (p *Portfolio) availableLocked(symbol string) int64 {
	pos := p.positions[symbol]
	if pos == nil {
		return 0
	}
	if p.mode == ModeT0 {
		return pos.Quantity
	}
	return pos.Available
}

// GetTotalValue returns cash plus market value of all positions, pricing
// each at the given market price or, when missing, its average cost.
func (p *Portfolio) GetTotalValue(prices map[string]float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	marketValue := 0.0
	for symbol, pos := range p.positions {
		marketValue += float64(pos.Quantity) * p.priceOrCost(prices, symbol, pos)
	}
	return p.cash + marketValue
}

// GetUnrealizedPnL returns the open-position PnL at the given prices.
func (p *Portfolio) GetUnrealizedPnL(prices map[string]float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	pnl := 0.0
	for symbol, pos := range p.positions {
		pnl += (p.priceOrCost(prices, symbol, pos) - pos.AvgCost) * float64(pos.Quantity)
	}
	return pnl
}

// GetPositionRatios returns each position's share of total asset value.
// When total value is not positive every ratio is zero.
func (p *Portfolio) GetPositionRatios(prices map[string]float64) map[string]float64 {
	total := p.GetTotalValue(prices)

	p.mu.Lock()
	defer p.mu.Unlock()

	ratios := make(map[string]float64, len(p.positions))
	if total <= 0 {
		for symbol := range p.positions {
			ratios[symbol] = 0
		}
		return ratios
	}
	for symbol, pos := range p.positions {
		ratios[symbol] = float64(pos.Quantity) * p.priceOrCost(prices, symbol, pos) / total
	}
	return ratios
}

// SettleDay releases T+1 quantities bought on the given date. It is a
// no-op under T+0.
func (p *Portfolio) SettleDay(date time.Time) {
	if p.mode != ModeT1 {
		return
	}
	date = types.DateOf(date)

	p.mu.Lock()
	defer p.mu.Unlock()

	for symbol, qty := range p.pendingT1[date] {
		if pos := p.positions[symbol]; pos != nil {
			pos.Available += qty
		}
	}
	delete(p.pendingT1, date)
}

func (p *Portfolio) priceOrCost(prices map[string]float64, symbol string, pos *Position) float64 {
	if price, ok := prices[symbol]; ok {
		return price
	}
	return pos.AvgCost
}

func validateTradeInput(symbol string, quantity int64, price float64) error {
	if symbol == "" {
		return errs.New(errs.KindValidation, "symbol must not be empty")
	}
	if quantity <= 0 {
		return errs.New(errs.KindValidation, "quantity must be positive").With("quantity", quantity)
	}
	if price <= 0 {
		return errs.New(errs.KindValidation, "price must be positive").With("price", price)
	}
	return nil
}
