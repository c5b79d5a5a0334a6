package risk

import (
	"sync"

	"quantcore/internal/portfolio"
	"quantcore/pkg/types"
)

// CheckResult aggregates the outcome of running every rule.
type CheckResult struct {
	Passed     bool
	Violations []string
}

// Manager runs a rule set against orders and positions and remembers the
// violations from the most recent check.
type Manager struct {
	mu         sync.Mutex
	rules      []Rule
	violations []string
}

// NewManager creates a manager with the given rules.
func NewManager(rules ...Rule) *Manager {
	return &Manager{rules: rules}
}

// AddRule appends one rule to the set.
func (m *Manager) AddRule(rule Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule)
}

// CheckOrder runs all rules against a proposed order. Every rule runs
// even after a violation, so the result lists all problems at once.
func (m *Manager) CheckOrder(order types.Order, p *portfolio.Portfolio, prices map[string]float64) CheckResult {
	m.mu.Lock()
	rules := m.rules
	m.mu.Unlock()

	var violations []string
	for _, rule := range rules {
		violations = append(violations, rule.CheckOrder(order, p, prices)...)
	}
	return m.finish(violations)
}

// CheckPosition runs all rules against an existing holding at the given
// market price.
func (m *Manager) CheckPosition(symbol string, pos portfolio.Position, price float64) CheckResult {
	m.mu.Lock()
	rules := m.rules
	m.mu.Unlock()

	var violations []string
	for _, rule := range rules {
		violations = append(violations, rule.CheckPosition(symbol, pos, price)...)
	}
	return m.finish(violations)
}

// Violations returns a copy of the most recent check's violations.
func (m *Manager) Violations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.violations))
	copy(out, m.violations)
	return out
}

func (m *Manager) finish(violations []string) CheckResult {
	m.mu.Lock()
	m.violations = violations
	m.mu.Unlock()
	return CheckResult{Passed: len(violations) == 0, Violations: violations}
}
