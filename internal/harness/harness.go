package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/stablekit/internal/codec"
	"github.com/roach88/stablekit/internal/metrics"
	"github.com/roach88/stablekit/internal/multimap"
	"github.com/roach88/stablekit/internal/stablelog"
	"github.com/roach88/stablekit/internal/stablevec"
	"github.com/roach88/stablekit/internal/store"
	"github.com/roach88/stablekit/internal/task"
	"github.com/roach88/stablekit/internal/testutil"
)

// taskRegion holds the task store. Structure regions are allocated from 1.
const taskRegion store.RegionID = 255

// DefaultTarget names the structure of a step without a target.
const DefaultTarget = "default"

// Harness executes one scenario. It owns a fresh store and lazily creates
// one structure per (kind, target).
type Harness struct {
	registry *store.Registry
	clock    *testutil.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics

	cacheMaxItems int
	nextRegion    store.RegionID

	logs map[string]*stablelog.Log[string]
	vecs map[string]*stablevec.Vec[string]
	maps map[string]*multimap.Cached[string, string, string]

	tasks    *task.Store[job]
	runtime  *task.Runtime[job]
	attempts attempts
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
//  1. Create fresh in-memory database
//  2. Execute steps, checking expect clauses
//  3. Evaluate assertions against trace and final state
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	backend, err := store.OpenSQLite(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer backend.Close()

	h, err := newHarness(store.NewRegistry(backend), scenario)
	if err != nil {
		return nil, err
	}

	ctx = withAttempts(ctx, h.attempts)
	result := NewResult()
	for i, step := range scenario.Steps {
		h.executeStep(ctx, i+1, step, result)
	}

	for _, errMsg := range h.evaluateAssertions(ctx, result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

func newHarness(reg *store.Registry, scenario *Scenario) (*Harness, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	m := metrics.New(nil)
	clock := testutil.NewClock(scenario.Clock)

	region, err := reg.Named(taskRegion, "tasks")
	if err != nil {
		return nil, err
	}
	tasks := task.NewStore(region, codec.JSON[job](),
		task.WithClock(clock),
		task.WithIDGenerator(testutil.NewSequentialIDGenerator("task")),
		task.WithMetrics(m),
		task.WithLogger(logger),
	)

	return &Harness{
		registry:      reg,
		clock:         clock,
		logger:        logger,
		metrics:       m,
		cacheMaxItems: scenario.CacheMaxItems,
		nextRegion:    1,
		logs:          make(map[string]*stablelog.Log[string]),
		vecs:          make(map[string]*stablevec.Vec[string]),
		maps:          make(map[string]*multimap.Cached[string, string, string]),
		tasks:         tasks,
		runtime:       task.NewRuntime(tasks, task.WithRuntimeMetrics(m), task.WithRuntimeLogger(logger)),
		attempts:      make(attempts),
	}, nil
}

// executeStep runs one step and records it in the trace.
func (h *Harness) executeStep(ctx context.Context, n int, step Step, result *Result) {
	target := step.Target
	if target == "" && !isGlobalOp(step.Op) {
		target = DefaultTarget
	}
	step.Target = target

	var out map[string]any
	var err error
	if fn, ok := operations[step.Op]; ok {
		out, err = fn(h, ctx, step)
	} else {
		err = fmt.Errorf("unknown op %q", step.Op)
	}

	ev := TraceEvent{
		Step:     n,
		Op:       step.Op,
		Target:   target,
		Identity: step.Identity,
		Now:      h.clock.NowSecs(),
	}
	if err != nil {
		ev.Error = err.Error()
	} else {
		ev.Result = out
	}
	result.AddTrace(ev)

	h.logger.Info("step executed", "step", n, "op", step.Op, "target", target, "error", err)

	switch {
	case step.ExpectError != "":
		if err == nil {
			result.AddError(fmt.Sprintf("step %d (%s): expected error containing %q, got success", n, step.Op, step.ExpectError))
		} else if !strings.Contains(err.Error(), step.ExpectError) {
			result.AddError(fmt.Sprintf("step %d (%s): expected error containing %q, got %q", n, step.Op, step.ExpectError, err.Error()))
		}
	case err != nil:
		result.AddError(fmt.Sprintf("step %d (%s): %v", n, step.Op, err))
	case step.Expect != nil:
		if msg, ok := canonicalEqual(step.Expect, out); !ok {
			result.AddError(fmt.Sprintf("step %d (%s): %s", n, step.Op, msg))
		}
	}
}

// isGlobalOp reports whether op addresses no named structure.
func isGlobalOp(op string) bool {
	return strings.HasPrefix(op, "task.") || strings.HasPrefix(op, "clock.")
}

// nextRegionID allocates a region for a new structure.
func (h *Harness) nextRegionID(kind, target string) (*store.Region, error) {
	if h.nextRegion >= taskRegion {
		return nil, fmt.Errorf("too many structures: region ids exhausted")
	}
	region, err := h.registry.Named(h.nextRegion, kind+":"+target)
	if err != nil {
		return nil, err
	}
	h.nextRegion++
	return region, nil
}

func (h *Harness) log(target string) (*stablelog.Log[string], error) {
	if l, ok := h.logs[target]; ok {
		return l, nil
	}
	region, err := h.nextRegionID("log", target)
	if err != nil {
		return nil, err
	}
	l := stablelog.New(region, codec.String(), stablelog.WithLogger(h.logger))
	h.logs[target] = l
	return l, nil
}

func (h *Harness) vec(target string) (*stablevec.Vec[string], error) {
	if v, ok := h.vecs[target]; ok {
		return v, nil
	}
	region, err := h.nextRegionID("vec", target)
	if err != nil {
		return nil, err
	}
	v := stablevec.New(region, codec.String())
	h.vecs[target] = v
	return v, nil
}

func (h *Harness) cachedMap(target string) (*multimap.Cached[string, string, string], error) {
	if m, ok := h.maps[target]; ok {
		return m, nil
	}
	region, err := h.nextRegionID("map", target)
	if err != nil {
		return nil, err
	}
	inner := multimap.New(region, codec.String(), codec.String(), codec.String())
	m := multimap.NewCached(inner, h.cacheMaxItems,
		multimap.WithName(target),
		multimap.WithMetrics(h.metrics),
		multimap.WithLogger(h.logger),
	)
	h.maps[target] = m
	return m, nil
}
