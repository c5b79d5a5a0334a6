package strategy

import (
	"quantcore/internal/errs"
	"quantcore/internal/runtime"
	"quantcore/pkg/types"
)

// macdState tracks the incremental EMA values for one symbol.
type macdState struct {
	emaFast   float64
	emaSlow   float64
	signal    float64
	histogram float64 // macd − signal, previous bar
	seen      int
}

// MACD trades fast/slow EMA crossovers: a golden cross (MACD line rising
// through the signal line) buys, a death cross sells any held position.
// EMAs update incrementally per bar, so the strategy needs no lookback
// window beyond its own state.
type MACD struct {
	Fast   int
	Slow   int
	Signal int

	states map[string]*macdState
}

// NewMACD builds the strategy from config params with the conventional
// 12/26/9 defaults. Fast must be strictly less than slow.
func NewMACD(params map[string]any) (*MACD, error) {
	m := &MACD{
		Fast:   paramInt(params, "fast", 12),
		Slow:   paramInt(params, "slow", 26),
		Signal: paramInt(params, "signal", 9),
		states: make(map[string]*macdState),
	}
	if m.Fast <= 0 || m.Slow <= 0 || m.Signal <= 0 {
		return nil, errs.New(errs.KindStrategy, "macd periods must be positive").
			With("fast", m.Fast).With("slow", m.Slow).With("signal", m.Signal)
	}
	if m.Fast >= m.Slow {
		return nil, errs.Newf(errs.KindStrategy, "macd fast (%d) must be < slow (%d)", m.Fast, m.Slow)
	}
	return m, nil
}

func (m *MACD) Name() string { return "macd" }

// OnBar updates each symbol's EMAs and emits signals on crossovers.
func (m *MACD) OnBar(ctx *runtime.Context, bar types.AggregatedBar) ([]types.Signal, error) {
	var signals []types.Signal

	for _, b := range bar.Bars {
		state := m.states[b.Symbol]
		if state == nil {
			state = &macdState{emaFast: b.Close, emaSlow: b.Close}
			m.states[b.Symbol] = state
		}

		state.emaFast = ema(state.emaFast, b.Close, m.Fast)
		state.emaSlow = ema(state.emaSlow, b.Close, m.Slow)
		macdLine := state.emaFast - state.emaSlow
		state.signal = ema(state.signal, macdLine, m.Signal)

		histogram := macdLine - state.signal
		prev := state.histogram
		state.histogram = histogram
		state.seen++

		// skip the warm-up period while the EMAs converge
		if state.seen <= m.Slow {
			continue
		}

		switch {
		case prev <= 0 && histogram > 0:
			signals = append(signals, types.Signal{
				Symbol:    b.Symbol,
				Side:      types.BUY,
				OrderType: types.MARKET,
			})
		case prev >= 0 && histogram < 0:
			if ctx.Portfolio.GetPosition(b.Symbol) != nil {
				signals = append(signals, types.Signal{
					Symbol:    b.Symbol,
					Side:      types.SELL,
					OrderType: types.MARKET,
				})
			}
		}
	}
	return signals, nil
}

// ema folds one value into an exponential moving average with the
// standard smoothing factor 2/(period+1).
func ema(prev, value float64, period int) float64 {
	alpha := 2.0 / float64(period+1)
	return value*alpha + prev*(1-alpha)
}
