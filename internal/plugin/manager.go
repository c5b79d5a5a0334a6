package plugin

import (
	"log/slog"
	"sync"

	"quantcore/internal/errs"
	"quantcore/internal/runtime"
	"quantcore/pkg/types"
)

// Manager owns plugin registration and lifecycle.
type Manager struct {
	mu          sync.Mutex
	plugins     map[string]Plugin
	order       []string // registration order
	initialized bool
	initOrder   []string

	logger *slog.Logger
}

// NewManager creates an empty plugin manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		plugins: make(map[string]Plugin),
		logger:  logger.With("component", "plugins"),
	}
}

// Register adds a plugin. Names must be unique.
func (m *Manager) Register(p Plugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := p.Name()
	if _, exists := m.plugins[name]; exists {
		return errs.Newf(errs.KindValidation, "plugin already registered: %s", name)
	}
	m.plugins[name] = p
	m.order = append(m.order, name)
	return nil
}

// Unregister removes a plugin by name. Unknown names are ignored.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.plugins[name]; !exists {
		return
	}
	delete(m.plugins, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
}

// Get returns a plugin by name, or nil.
func (m *Manager) Get(name string) Plugin {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plugins[name]
}

// Has reports whether a plugin is registered.
func (m *Manager) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.plugins[name]
	return ok
}

// All returns plugins in registration order.
func (m *Manager) All() []Plugin {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Plugin, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.plugins[name])
	}
	return out
}

// Initialize validates dependencies, detects cycles, and runs Setup on
// every plugin in topological order. A second call is a no-op. A Setup
// failure aborts initialization and propagates; plugins already set up
// stay up, and the manager stays uninitialized.
func (m *Manager) Initialize(ctx *runtime.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}
	if err := m.checkDependencies(); err != nil {
		return err
	}
	if err := m.detectCycles(); err != nil {
		return err
	}

	order, err := m.resolveOrder()
	if err != nil {
		return err
	}
	for _, name := range order {
		if err := m.plugins[name].Setup(ctx); err != nil {
			return errs.Wrap(err, errs.KindGeneric, "plugin setup failed").With("plugin", name)
		}
		m.logger.Debug("plugin initialized", "plugin", name)
	}

	m.initOrder = order
	m.initialized = true
	m.logger.Info("plugins initialized", "count", len(order))
	return nil
}

// Shutdown runs Teardown in reverse initialization order. A second call
// is a no-op. Teardown errors are logged but do not stop the remaining
// teardowns.
func (m *Manager) Shutdown(ctx *runtime.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil
	}

	var firstErr error
	for i := len(m.initOrder) - 1; i >= 0; i-- {
		name := m.initOrder[i]
		if err := m.plugins[name].Teardown(ctx); err != nil {
			m.logger.Error("plugin teardown failed", "plugin", name, "error", err)
			if firstErr == nil {
				firstErr = errs.Wrap(err, errs.KindGeneric, "plugin teardown failed").With("plugin", name)
			}
		}
	}

	m.initialized = false
	m.initOrder = nil
	return firstErr
}

// InitOrder returns the most recent initialization order.
func (m *Manager) InitOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.initOrder))
	copy(out, m.initOrder)
	return out
}

// resolveOrder runs Kahn's algorithm. The ready queue is seeded and
// extended in registration order, so the result is deterministic.
func (m *Manager) resolveOrder() ([]string, error) {
	graph := make(map[string][]string, len(m.plugins))
	indegree := make(map[string]int, len(m.plugins))
	for _, name := range m.order {
		indegree[name] = 0
	}
	for _, name := range m.order {
		for _, dep := range m.plugins[name].Dependencies() {
			graph[dep] = append(graph[dep], name)
			indegree[name]++
		}
	}

	var queue []string
	for _, name := range m.order {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	order := make([]string, 0, len(m.plugins))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		for _, neighbor := range graph[current] {
			indegree[neighbor]--
			if indegree[neighbor] == 0 {
				queue = append(queue, neighbor)
			}
		}
	}

	if len(order) != len(m.plugins) {
		return nil, errs.New(errs.KindValidation, "plugin dependency cycle detected")
	}
	return order, nil
}

func (m *Manager) checkDependencies() error {
	for _, name := range m.order {
		for _, dep := range m.plugins[name].Dependencies() {
			if _, ok := m.plugins[dep]; !ok {
				return errs.Newf(errs.KindValidation, "missing dependency for %q: %q", name, dep)
			}
		}
	}
	return nil
}

func (m *Manager) detectCycles() error {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)

	var dfs func(name string) error
	dfs = func(name string) error {
		if visiting[name] {
			return errs.New(errs.KindValidation, "plugin dependency cycle detected").With("plugin", name)
		}
		if visited[name] {
			return nil
		}
		visiting[name] = true
		for _, dep := range m.plugins[name].Dependencies() {
			if err := dfs(dep); err != nil {
				return err
			}
		}
		visiting[name] = false
		visited[name] = true
		return nil
	}

	for _, name := range m.order {
		if !visited[name] {
			if err := dfs(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Hook dispatch. Each Emit walks plugins in registration order and calls
// the hook on those that implement it. Errors propagate to the caller.

// EmitInit calls OnInit on every implementer.
func (m *Manager) EmitInit(ctx *runtime.Context) error {
	for _, p := range m.All() {
		if h, ok := p.(InitHook); ok {
			if err := h.OnInit(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// EmitStart calls OnStart on every implementer.
func (m *Manager) EmitStart(ctx *runtime.Context) error {
	for _, p := range m.All() {
		if h, ok := p.(StartHook); ok {
			if err := h.OnStart(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// EmitStop calls OnStop on every implementer.
func (m *Manager) EmitStop(ctx *runtime.Context) error {
	for _, p := range m.All() {
		if h, ok := p.(StopHook); ok {
			if err := h.OnStop(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// EmitBar calls OnBar on every implementer.
func (m *Manager) EmitBar(ctx *runtime.Context, bar types.AggregatedBar) error {
	for _, p := range m.All() {
		if h, ok := p.(BarHook); ok {
			if err := h.OnBar(ctx, bar); err != nil {
				return err
			}
		}
	}
	return nil
}

// EmitOrder offers the order to every OrderHook in registration order.
// Each implementer sees the previous implementer's result, so rewrites
// compose. A nil return blocks the order: EmitOrder returns nil and no
// later implementer is consulted.
func (m *Manager) EmitOrder(ctx *runtime.Context, order types.Order) (*types.Order, error) {
	current := &order
	for _, p := range m.All() {
		h, ok := p.(OrderHook)
		if !ok {
			continue
		}
		result, err := h.OnOrder(ctx, *current)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, nil
		}
		current = result
	}
	return current, nil
}

// EmitTrade calls OnTrade on every implementer.
func (m *Manager) EmitTrade(ctx *runtime.Context, trade types.Trade) error {
	for _, p := range m.All() {
		if h, ok := p.(TradeHook); ok {
			if err := h.OnTrade(ctx, trade); err != nil {
				return err
			}
		}
	}
	return nil
}

// EmitError notifies every ErrorHook. Having no implementers is fine.
func (m *Manager) EmitError(ctx *runtime.Context, cause error) {
	for _, p := range m.All() {
		if h, ok := p.(ErrorHook); ok {
			h.OnError(ctx, cause)
		}
	}
}
