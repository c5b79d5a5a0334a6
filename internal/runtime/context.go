// Package runtime carries the shared execution context: configuration,
// portfolio, risk manager, event engine, and logger, bundled so strategies
// and plugins reach framework services through one handle.
//
// The current context rides on context.Context. Bind attaches a *Context
// to a parent context; Current retrieves it anywhere downstream. Separate
// goroutines holding separate contexts never observe each other's binding.
package runtime

import (
	"context"
	"log/slog"
	"sync"

	"quantcore/internal/config"
	"quantcore/internal/event"
	"quantcore/internal/portfolio"
	"quantcore/internal/risk"
)

type ctxKey struct{}

// Context is the runtime service bundle passed through the framework.
// The data map holds user-defined values; access it through Get/Set,
// which are safe for concurrent use.
type Context struct {
	Config      *config.Config
	Portfolio   *portfolio.Portfolio
	RiskManager *risk.Manager
	Events      *event.Engine
	Logger      *slog.Logger

	mu   sync.RWMutex
	data map[string]any
}

// New creates a context wired to the given services.
func New(cfg *config.Config, p *portfolio.Portfolio, rm *risk.Manager, ev *event.Engine, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		Config:      cfg,
		Portfolio:   p,
		RiskManager: rm,
		Events:      ev,
		Logger:      logger,
		data:        make(map[string]any),
	}
}

// Get returns the custom value stored under key, or def when absent.
func (c *Context) Get(key string, def any) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.data[key]; ok {
		return v
	}
	return def
}

// Set stores a custom value under key.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

// Bind attaches this context to parent so downstream calls can recover it
// with Current.
func (c *Context) Bind(parent context.Context) context.Context {
	return context.WithValue(parent, ctxKey{}, c)
}

// Current returns the runtime context bound to ctx, or nil when none is
// bound.
func Current(ctx context.Context) *Context {
	c, _ := ctx.Value(ctxKey{}).(*Context)
	return c
}
