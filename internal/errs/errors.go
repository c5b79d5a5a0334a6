// Package errs defines the typed error model shared by all framework
// components.
//
// Every framework-surfaced failure carries a kind, a stable code for
// programmatic handling, an optional context map, and an optional wrapped
// cause. Formatting is deterministic: context keys are sorted so log lines
// and test expectations are stable.
package errs

import (
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an error into one of the framework domains.
type Kind string

const (
	KindGeneric    Kind = "Quant"
	KindConfig     Kind = "Config"
	KindData       Kind = "Data"
	KindStrategy   Kind = "Strategy"
	KindRisk       Kind = "Risk"
	KindTrade      Kind = "Trade"
	KindValidation Kind = "Validation"
)

// defaultCode returns the stable code that mirrors the kind name.
func defaultCode(kind Kind) string {
	switch kind {
	case KindConfig:
		return "CONFIG_ERROR"
	case KindData:
		return "DATA_ERROR"
	case KindStrategy:
		return "STRATEGY_ERROR"
	case KindRisk:
		return "RISK_ERROR"
	case KindTrade:
		return "TRADE_ERROR"
	case KindValidation:
		return "VALIDATION_ERROR"
	default:
		return "QUANT_ERROR"
	}
}

// Error is the framework error root.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Context map[string]any
	Cause   error
}

// New creates an error of the given kind with the kind's default code.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: defaultCode(kind), Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches a foreign error as the cause of a new framework error,
// preserving the chain for errors.Is/errors.As.
func Wrap(cause error, kind Kind, message string) *Error {
	e := New(kind, message)
	e.Cause = cause
	return e
}

// WithCode overrides the default code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// With attaches one context key/value pair.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Error renders "[CODE] message | context: k=v, … | cause: Type: message"
// with context sorted by key.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%v", k, e.Context[k])
		}
		fmt.Fprintf(&b, " | context: %s", strings.Join(parts, ", "))
	}

	if e.Cause != nil {
		fmt.Fprintf(&b, " | cause: %T: %v", e.Cause, e.Cause)
	}
	return b.String()
}

// Unwrap exposes the cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error { return e.Cause }

// IsKind reports whether err is a framework error of the given kind.
func IsKind(err error, kind Kind) bool {
	fe, ok := err.(*Error)
	return ok && fe.Kind == kind
}
