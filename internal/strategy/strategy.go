// Package strategy defines the trading strategy contract and the built-in
// implementations selected by configuration.
package strategy

import (
	"quantcore/internal/errs"
	"quantcore/internal/runtime"
	"quantcore/pkg/types"
)

// Strategy consumes one day's aggregated bars and emits signals. An
// empty slice means no action.
type Strategy interface {
	Name() string
	OnBar(ctx *runtime.Context, bar types.AggregatedBar) ([]types.Signal, error)
}

// Initializer is implemented by strategies that need setup before the
// first bar.
type Initializer interface {
	OnInit(ctx *runtime.Context) error
}

// New builds a strategy by configured name.
func New(name string, params map[string]any) (Strategy, error) {
	switch name {
	case "double_low":
		return NewDoubleLow(params), nil
	case "macd":
		return NewMACD(params)
	default:
		return nil, errs.Newf(errs.KindStrategy, "unknown strategy: %q", name)
	}
}

func paramInt(params map[string]any, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}
