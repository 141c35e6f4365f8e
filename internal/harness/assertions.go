package harness

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/roach88/stablekit/internal/codec"
	"github.com/roach88/stablekit/internal/identity"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Step, event.Op, event.Target)
		}
	}
	return buf.String()
}

// assertTraceContains checks that an op (on the given target, if any)
// appears in the trace.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Op == a.Op && (a.Target == "" || event.Target == a.Target) {
			return nil
		}
	}

	expected := a.Op
	if a.Target != "" {
		expected += " on " + a.Target
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if ops appear in the specified order.
// Ops don't need to be consecutive (intervening steps are allowed).
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	// Find first position of each expected op
	positions := make(map[string]int)
	for i, event := range trace {
		for _, op := range a.Ops {
			if event.Op == op && positions[op] == 0 {
				positions[op] = i + 1 // 1-indexed for readability
			}
		}
	}

	for _, op := range a.Ops {
		if positions[op] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all ops present: %v", a.Ops),
				Actual:   fmt.Sprintf("missing op: %s", op),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Ops); i++ {
		prev, curr := a.Ops[i-1], a.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("ops in order: %v", a.Ops),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that the op appears exactly Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Op == a.Op {
			count++
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Op),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState compares the final contents of a structure:
//   - log, vec: list of values
//   - map: list of {outer, inner, value} in key order
//   - task: list of task snapshots as rendered by task.list
func (h *Harness) assertFinalState(ctx context.Context, a Assertion) error {
	target := a.Target
	if target == "" {
		target = DefaultTarget
	}

	actual, err := h.snapshot(ctx, a.Kind, target, a.Identity)
	if err != nil {
		return fmt.Errorf("final_state %s %s: %w", a.Kind, target, err)
	}

	if msg, ok := canonicalEqual(a.Expect, actual); !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s %s contents", a.Kind, target),
			Actual:   msg,
		}
	}
	return nil
}

// snapshot renders the contents of a structure.
func (h *Harness) snapshot(ctx context.Context, kind, target, id string) (any, error) {
	switch kind {
	case "log":
		l, err := h.log(target)
		if err != nil {
			return nil, err
		}
		vs, err := l.ToSlice(ctx)
		return valuesResult(vs)["values"], err
	case "vec":
		v, err := h.vec(target)
		if err != nil {
			return nil, err
		}
		vs, err := v.ToSlice(identity.With(ctx, identity.ID(id)))
		return valuesResult(vs)["values"], err
	case "map":
		m, err := h.cachedMap(target)
		if err != nil {
			return nil, err
		}
		items := []any{}
		for it, err := range m.All(ctx) {
			if err != nil {
				return nil, err
			}
			items = append(items, map[string]any{"outer": it.Outer, "inner": it.Inner, "value": it.Value})
		}
		return items, nil
	case "task":
		return h.taskSnapshot(ctx)
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}

// canonicalEqual compares two values by their canonical JSON encoding.
// On mismatch it returns a message showing both.
func canonicalEqual(expected, actual any) (string, bool) {
	exp, err := codec.MarshalCanonical(expected)
	if err != nil {
		return fmt.Sprintf("cannot encode expected value: %v", err), false
	}
	act, err := codec.MarshalCanonical(actual)
	if err != nil {
		return fmt.Sprintf("cannot encode actual value: %v", err), false
	}
	if !bytes.Equal(exp, act) {
		return fmt.Sprintf("expected %s, got %s", exp, act), false
	}
	return "", true
}

// evaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func (h *Harness) evaluateAssertions(ctx context.Context, result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			err = h.assertFinalState(ctx, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
