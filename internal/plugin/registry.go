package plugin

import (
	"sort"

	"quantcore/internal/errs"
)

// Impl is one hook implementation. Arguments are hook-specific; a nil
// result means "no answer" for first-result hooks.
type Impl func(args ...any) (any, error)

type hookImpl struct {
	fn       Impl
	priority int
	seq      int
}

// HookCaller runs the implementations registered for one named hook in
// descending priority order.
type HookCaller struct {
	name        string
	firstResult bool
	optional    bool
	impls       []hookImpl
	seq         int
}

// HookOptions mirrors the hook contract: FirstResult stops at the first
// non-nil answer, Optional allows the hook to have no implementations.
type HookOptions struct {
	FirstResult bool
	Optional    bool
}

// NewHookCaller creates a caller for one hook name.
func NewHookCaller(name string, opts HookOptions) *HookCaller {
	return &HookCaller{
		name:        name,
		firstResult: opts.FirstResult,
		optional:    opts.Optional,
	}
}

// Name returns the hook name.
func (h *HookCaller) Name() string { return h.name }

// Register adds an implementation. Higher priority runs earlier; equal
// priorities keep registration order.
func (h *HookCaller) Register(fn Impl, priority int) error {
	if fn == nil {
		return errs.New(errs.KindValidation, "hook implementation must not be nil").With("hook", h.name)
	}
	h.seq++
	h.impls = append(h.impls, hookImpl{fn: fn, priority: priority, seq: h.seq})
	sort.SliceStable(h.impls, func(i, j int) bool { return h.impls[i].priority > h.impls[j].priority })
	return nil
}

// Call invokes the implementations. In first-result mode it returns the
// first non-nil answer (nil when every implementation declines); otherwise
// it returns a []any of all answers. Implementation errors propagate
// immediately. A non-optional hook with no implementations fails with a
// lookup error.
func (h *HookCaller) Call(args ...any) (any, error) {
	if len(h.impls) == 0 {
		if h.optional {
			if h.firstResult {
				return nil, nil
			}
			return []any{}, nil
		}
		return nil, errs.Newf(errs.KindValidation, "no hook implementations registered for %q", h.name).
			WithCode("HOOK_NOT_FOUND")
	}

	if h.firstResult {
		for _, impl := range h.impls {
			result, err := impl.fn(args...)
			if err != nil {
				return nil, err
			}
			if result != nil {
				return result, nil
			}
		}
		return nil, nil
	}

	results := make([]any, 0, len(h.impls))
	for _, impl := range h.impls {
		result, err := impl.fn(args...)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// Registry holds named hook callers.
type Registry struct {
	hooks map[string]*HookCaller
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[string]*HookCaller)}
}

// Declare creates and stores a caller for the hook name. Re-declaring a
// name is rejected.
func (r *Registry) Declare(name string, opts HookOptions) (*HookCaller, error) {
	if _, exists := r.hooks[name]; exists {
		return nil, errs.Newf(errs.KindValidation, "hook already declared: %s", name)
	}
	caller := NewHookCaller(name, opts)
	r.hooks[name] = caller
	return caller, nil
}

// Get returns the caller for a hook name, or nil.
func (r *Registry) Get(name string) *HookCaller {
	return r.hooks[name]
}

// Call dispatches to a declared hook by name.
func (r *Registry) Call(name string, args ...any) (any, error) {
	caller := r.hooks[name]
	if caller == nil {
		return nil, errs.Newf(errs.KindValidation, "unknown hook: %s", name).WithCode("HOOK_NOT_FOUND")
	}
	return caller.Call(args...)
}
