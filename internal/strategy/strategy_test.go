package strategy

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"quantcore/internal/config"
	"quantcore/internal/errs"
	"quantcore/internal/event"
	"quantcore/internal/portfolio"
	"quantcore/internal/risk"
	"quantcore/internal/runtime"
	"quantcore/pkg/types"
)

func testContext(t *testing.T) *runtime.Context {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := portfolio.New(100000, portfolio.ModeT0)
	if err != nil {
		t.Fatal(err)
	}
	return runtime.New(config.Default(), p, risk.NewManager(), event.NewEngine(logger), logger)
}

func cbBar(symbol string, price, premium float64) types.Bar {
	return types.Bar{
		Symbol:         symbol,
		Datetime:       time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Close:          price,
		Volume:         2000000,
		PremiumRate:    premium,
		DaysToMaturity: 180,
	}
}

func TestNewByName(t *testing.T) {
	t.Parallel()

	if s, err := New("double_low", nil); err != nil || s.Name() != "double_low" {
		t.Errorf("New(double_low) = %v, %v", s, err)
	}
	if s, err := New("macd", nil); err != nil || s.Name() != "macd" {
		t.Errorf("New(macd) = %v, %v", s, err)
	}
	if _, err := New("momentum", nil); !errs.IsKind(err, errs.KindStrategy) {
		t.Errorf("New(momentum) err = %v, want strategy error", err)
	}
}

func TestDoubleLowValueAndOrder(t *testing.T) {
	t.Parallel()

	s := NewDoubleLow(nil)
	rows := s.rank([]types.Bar{
		cbBar("CB001", 100, 0.30), // 130
		cbBar("CB002", 99, 0.20),  // 119
		cbBar("CB003", 103, 0.40), // 143
	})

	if rows[0].DoubleLow != 119 {
		t.Errorf("double_low = %v, want 119", rows[0].DoubleLow)
	}
	want := []string{"CB002", "CB001", "CB003"}
	for i, w := range want {
		if rows[i].Symbol != w {
			t.Fatalf("order = %v, want %v", rows, want)
		}
	}
}

func TestDoubleLowFilters(t *testing.T) {
	t.Parallel()

	s := NewDoubleLow(map[string]any{"min_volume": 1000000, "exclude_days_to_maturity": 30})

	lowVol := cbBar("LOWVOL", 100, 0.10)
	lowVol.Volume = 900000
	nearMat := cbBar("NEARMAT", 100, 0.10)
	nearMat.DaysToMaturity = 10
	pass := cbBar("PASS", 100, 0.10)

	rows := s.rank([]types.Bar{lowVol, nearMat, pass})
	if len(rows) != 1 || rows[0].Symbol != "PASS" {
		t.Errorf("rows = %v, want only PASS", rows)
	}
}

func TestDoubleLowSelectTopN(t *testing.T) {
	t.Parallel()

	s := NewDoubleLow(map[string]any{"top_n": 2})
	top := s.selectTopN([]ranked{
		{Symbol: "CB001", DoubleLow: 100},
		{Symbol: "CB002", DoubleLow: 101},
		{Symbol: "CB003", DoubleLow: 102},
	})
	if len(top) != 2 || top[0] != "CB001" || top[1] != "CB002" {
		t.Errorf("top = %v", top)
	}
}

func TestDoubleLowOnInit(t *testing.T) {
	t.Parallel()

	s := NewDoubleLow(nil)
	ctx := testContext(t)
	if err := s.OnInit(ctx); err != nil {
		t.Fatal(err)
	}
	if ctx.Get(doubleLowInitializedKey, false) != true {
		t.Error("initialized flag not set")
	}
	if ctx.Get(doubleLowLastRebalanceKey, "unset") != nil {
		t.Error("last rebalance date should start nil")
	}
}

func TestDoubleLowRebalance(t *testing.T) {
	t.Parallel()

	s := NewDoubleLow(map[string]any{"top_n": 1, "min_volume": 1})
	ctx := testContext(t)
	if err := ctx.Portfolio.Buy("OLD", 10, 100, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}

	old := cbBar("OLD", 120, 0.30)
	niu := cbBar("NEW", 99, 0.10)
	signals, err := s.OnBar(ctx, types.AggregatedBar{Date: "2024-03-15", Bars: []types.Bar{niu, old}})
	if err != nil {
		t.Fatal(err)
	}

	if len(signals) != 2 {
		t.Fatalf("signals = %+v, want sell OLD + buy NEW", signals)
	}
	if signals[0].Symbol != "OLD" || signals[0].Side != types.SELL {
		t.Errorf("first signal = %+v, want SELL OLD", signals[0])
	}
	if signals[1].Symbol != "NEW" || signals[1].Side != types.BUY {
		t.Errorf("second signal = %+v, want BUY NEW", signals[1])
	}
	if got := ctx.Get(doubleLowLastRebalanceKey, nil); got != "2024-03-15" {
		t.Errorf("last rebalance = %v", got)
	}
}

func TestDoubleLowNoSignalsWhenAligned(t *testing.T) {
	t.Parallel()

	s := NewDoubleLow(map[string]any{"top_n": 1, "min_volume": 1})
	ctx := testContext(t)
	if err := ctx.Portfolio.Buy("CB001", 10, 100, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}

	signals, err := s.OnBar(ctx, types.AggregatedBar{Date: "2024-03-15", Bars: []types.Bar{cbBar("CB001", 100, 0.10)}})
	if err != nil {
		t.Fatal(err)
	}
	if len(signals) != 0 {
		t.Errorf("signals = %+v, want none", signals)
	}
}

func TestMACDValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewMACD(map[string]any{"fast": 26, "slow": 12}); !errs.IsKind(err, errs.KindStrategy) {
		t.Errorf("fast >= slow: err = %v", err)
	}
	if _, err := NewMACD(map[string]any{"fast": 0, "slow": 26}); !errs.IsKind(err, errs.KindStrategy) {
		t.Errorf("zero period: err = %v", err)
	}
	m, err := NewMACD(nil)
	if err != nil {
		t.Fatal(err)
	}
	if m.Fast != 12 || m.Slow != 26 || m.Signal != 9 {
		t.Errorf("defaults = %d/%d/%d", m.Fast, m.Slow, m.Signal)
	}
}

func TestMACDGoldenCrossBuys(t *testing.T) {
	t.Parallel()

	m, err := NewMACD(map[string]any{"fast": 3, "slow": 6, "signal": 3})
	if err != nil {
		t.Fatal(err)
	}
	ctx := testContext(t)

	// long decline then a sharp rally: the histogram must flip positive
	closes := []float64{100, 98, 96, 94, 92, 90, 88, 86, 84, 82, 90, 98, 106, 114}
	var all []types.Signal
	for i, c := range closes {
		bar := cbBar("CB001", c, 0)
		bar.Datetime = time.Date(2024, 3, 1+i, 0, 0, 0, 0, time.UTC)
		signals, err := m.OnBar(ctx, types.AggregatedBar{Date: bar.Datetime.Format("2006-01-02"), Bars: []types.Bar{bar}})
		if err != nil {
			t.Fatal(err)
		}
		all = append(all, signals...)
	}

	var buys int
	for _, sig := range all {
		if sig.Side == types.BUY {
			buys++
		}
	}
	if buys == 0 {
		t.Errorf("no buy signal on golden cross, signals = %+v", all)
	}
}

func TestMACDDeathCrossSellsOnlyHeld(t *testing.T) {
	t.Parallel()

	m, err := NewMACD(map[string]any{"fast": 3, "slow": 6, "signal": 3})
	if err != nil {
		t.Fatal(err)
	}
	ctx := testContext(t)

	// rally then collapse, with no position held: no sell may fire
	closes := []float64{100, 102, 104, 106, 108, 110, 112, 114, 106, 98, 90, 82}
	for i, c := range closes {
		bar := cbBar("CB001", c, 0)
		bar.Datetime = time.Date(2024, 3, 1+i, 0, 0, 0, 0, time.UTC)
		signals, err := m.OnBar(ctx, types.AggregatedBar{Date: bar.Datetime.Format("2006-01-02"), Bars: []types.Bar{bar}})
		if err != nil {
			t.Fatal(err)
		}
		for _, sig := range signals {
			if sig.Side == types.SELL {
				t.Fatalf("sell signal with no position: %+v", sig)
			}
		}
	}
}
