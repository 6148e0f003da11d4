// Package phase is a stateless transition table engine for multi-phase
// round structures. All counters live in the caller's context value and
// must be updated before Transition is called.
package phase

// Rule picks the next phase for one (phase, event) pair. Returning false
// marks the pair invalid for the given context.
type Rule[P comparable, C any] func(ctx C) (P, bool)

// Table maps phase → event → rule.
type Table[P comparable, E comparable, C any] map[P]map[E]Rule[P, C]

// Result of a transition. When Valid is false Next equals the current phase.
type Result[P comparable] struct {
	Valid bool
	Next  P
}

// Goto is an unconditional rule.
func Goto[P comparable, C any](next P) Rule[P, C] {
	return func(C) (P, bool) { return next, true }
}

// When picks between two phases on a predicate.
func When[P comparable, C any](cond func(C) bool, then, otherwise P) Rule[P, C] {
	return func(ctx C) (P, bool) {
		if cond(ctx) {
			return then, true
		}
		return otherwise, true
	}
}

// Only allows the transition to next while cond holds.
func Only[P comparable, C any](cond func(C) bool, next P) Rule[P, C] {
	return func(ctx C) (P, bool) {
		if cond(ctx) {
			return next, true
		}
		var zero P
		return zero, false
	}
}

// Transition looks up (current, event) and evaluates its rule.
func (t Table[P, E, C]) Transition(current P, event E, ctx C) Result[P] {
	events, ok := t[current]
	if !ok {
		return Result[P]{Next: current}
	}
	rule, ok := events[event]
	if !ok || rule == nil {
		return Result[P]{Next: current}
	}
	next, ok := rule(ctx)
	if !ok {
		return Result[P]{Next: current}
	}
	return Result[P]{Valid: true, Next: next}
}
