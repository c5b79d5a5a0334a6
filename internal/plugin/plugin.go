// Package plugin manages framework extensions: registration, dependency
// resolution, lifecycle ordering, and hook dispatch.
//
// Plugins declare dependencies by name. The manager initializes them in
// topological order (registration order breaks ties) and tears them down
// in reverse. Optional behavior hooks are plain Go interfaces; a plugin
// implements the ones it cares about and the manager dispatches by
// interface assertion.
package plugin

import (
	"quantcore/internal/runtime"
	"quantcore/pkg/types"
)

// Plugin is the lifecycle contract every plugin fulfills.
type Plugin interface {
	Name() string
	Version() string
	Description() string
	Dependencies() []string
	Setup(ctx *runtime.Context) error
	Teardown(ctx *runtime.Context) error
}

// Base provides default metadata and no-op lifecycle methods. Embed it
// and override what the plugin needs.
type Base struct {
	PluginName    string
	PluginVersion string
	PluginDesc    string
	Requires      []string
}

func (b *Base) Name() string {
	if b.PluginName == "" {
		return "plugin"
	}
	return b.PluginName
}

func (b *Base) Version() string {
	if b.PluginVersion == "" {
		return "0.1.0"
	}
	return b.PluginVersion
}

func (b *Base) Description() string { return b.PluginDesc }

func (b *Base) Dependencies() []string { return b.Requires }

func (b *Base) Setup(*runtime.Context) error { return nil }

func (b *Base) Teardown(*runtime.Context) error { return nil }

// Behavior hooks. A plugin implements any subset; the manager dispatches
// to implementers in registration order.

// InitHook runs after the runtime context is assembled.
type InitHook interface {
	OnInit(ctx *runtime.Context) error
}

// StartHook runs before strategy execution starts.
type StartHook interface {
	OnStart(ctx *runtime.Context) error
}

// StopHook runs before shutdown.
type StopHook interface {
	OnStop(ctx *runtime.Context) error
}

// BarHook observes each day's aggregated market data.
type BarHook interface {
	OnBar(ctx *runtime.Context, bar types.AggregatedBar) error
}

// OrderHook inspects an order before submission. Returning the order
// (possibly rewritten) passes it to the next implementer; returning
// nil, nil blocks it outright.
type OrderHook interface {
	OnOrder(ctx *runtime.Context, order types.Order) (*types.Order, error)
}

// TradeHook observes executed trades.
type TradeHook interface {
	OnTrade(ctx *runtime.Context, trade types.Trade) error
}

// ErrorHook observes runtime errors. Implementing it is optional in the
// strongest sense: dispatch never fails when no plugin has it.
type ErrorHook interface {
	OnError(ctx *runtime.Context, err error)
}
