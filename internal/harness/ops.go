package harness

import (
	"context"

	"github.com/roach88/stablekit/internal/identity"
	"github.com/roach88/stablekit/internal/task"
)

type opFunc func(h *Harness, ctx context.Context, s Step) (map[string]any, error)

// operations maps op names to their implementation.
var operations = map[string]opFunc{
	"log.push":      (*Harness).logPush,
	"log.pop_front": (*Harness).logPopFront,
	"log.pop_back":  (*Harness).logPopBack,
	"log.len":       (*Harness).logLen,
	"log.list":      (*Harness).logList,

	"vec.push":  (*Harness).vecPush,
	"vec.pop":   (*Harness).vecPop,
	"vec.get":   (*Harness).vecGet,
	"vec.set":   (*Harness).vecSet,
	"vec.len":   (*Harness).vecLen,
	"vec.clear": (*Harness).vecClear,
	"vec.list":  (*Harness).vecList,

	"map.insert":         (*Harness).mapInsert,
	"map.get":            (*Harness).mapGet,
	"map.remove":         (*Harness).mapRemove,
	"map.remove_partial": (*Harness).mapRemovePartial,
	"map.len":            (*Harness).mapLen,
	"map.clear":          (*Harness).mapClear,
	"map.cache":          (*Harness).mapCache,

	"task.enqueue": (*Harness).taskEnqueue,
	"task.run":     (*Harness).taskRun,
	"task.list":    (*Harness).taskList,
	"task.recover": (*Harness).taskRecover,

	"clock.advance": (*Harness).clockAdvance,
	"clock.set":     (*Harness).clockSet,
}

func found(v string, ok bool) map[string]any {
	if !ok {
		return map[string]any{"found": false}
	}
	return map[string]any{"found": true, "value": v}
}

func lenResult(n uint64) map[string]any {
	return map[string]any{"len": n}
}

func valuesResult(vs []string) map[string]any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return map[string]any{"values": out}
}

// Log

func (h *Harness) logPush(ctx context.Context, s Step) (map[string]any, error) {
	l, err := h.log(s.Target)
	if err != nil {
		return nil, err
	}
	if err := l.Push(ctx, s.Value); err != nil {
		return nil, err
	}
	n, err := l.Len(ctx)
	return lenResult(n), err
}

func (h *Harness) logPopFront(ctx context.Context, s Step) (map[string]any, error) {
	l, err := h.log(s.Target)
	if err != nil {
		return nil, err
	}
	v, ok, err := l.PopFront(ctx)
	return found(v, ok), err
}

func (h *Harness) logPopBack(ctx context.Context, s Step) (map[string]any, error) {
	l, err := h.log(s.Target)
	if err != nil {
		return nil, err
	}
	v, ok, err := l.PopBack(ctx)
	return found(v, ok), err
}

func (h *Harness) logLen(ctx context.Context, s Step) (map[string]any, error) {
	l, err := h.log(s.Target)
	if err != nil {
		return nil, err
	}
	n, err := l.Len(ctx)
	return lenResult(n), err
}

func (h *Harness) logList(ctx context.Context, s Step) (map[string]any, error) {
	l, err := h.log(s.Target)
	if err != nil {
		return nil, err
	}
	vs, err := l.ToSlice(ctx)
	return valuesResult(vs), err
}

// Vec

func (h *Harness) vecContext(ctx context.Context, s Step) context.Context {
	return identity.With(ctx, identity.ID(s.Identity))
}

func (h *Harness) vecPush(ctx context.Context, s Step) (map[string]any, error) {
	v, err := h.vec(s.Target)
	if err != nil {
		return nil, err
	}
	ctx = h.vecContext(ctx, s)
	if err := v.Push(ctx, s.Value); err != nil {
		return nil, err
	}
	n, err := v.Len(ctx)
	return lenResult(n), err
}

func (h *Harness) vecPop(ctx context.Context, s Step) (map[string]any, error) {
	v, err := h.vec(s.Target)
	if err != nil {
		return nil, err
	}
	item, ok, err := v.Pop(h.vecContext(ctx, s))
	return found(item, ok), err
}

func (h *Harness) vecGet(ctx context.Context, s Step) (map[string]any, error) {
	v, err := h.vec(s.Target)
	if err != nil {
		return nil, err
	}
	item, ok, err := v.Get(h.vecContext(ctx, s), s.Index)
	return found(item, ok), err
}

func (h *Harness) vecSet(ctx context.Context, s Step) (map[string]any, error) {
	v, err := h.vec(s.Target)
	if err != nil {
		return nil, err
	}
	ctx = h.vecContext(ctx, s)
	if err := v.Set(ctx, s.Index, s.Value); err != nil {
		return nil, err
	}
	n, err := v.Len(ctx)
	return lenResult(n), err
}

func (h *Harness) vecLen(ctx context.Context, s Step) (map[string]any, error) {
	v, err := h.vec(s.Target)
	if err != nil {
		return nil, err
	}
	n, err := v.Len(h.vecContext(ctx, s))
	return lenResult(n), err
}

func (h *Harness) vecClear(ctx context.Context, s Step) (map[string]any, error) {
	v, err := h.vec(s.Target)
	if err != nil {
		return nil, err
	}
	if err := v.Clear(h.vecContext(ctx, s)); err != nil {
		return nil, err
	}
	return lenResult(0), nil
}

func (h *Harness) vecList(ctx context.Context, s Step) (map[string]any, error) {
	v, err := h.vec(s.Target)
	if err != nil {
		return nil, err
	}
	vs, err := v.ToSlice(h.vecContext(ctx, s))
	return valuesResult(vs), err
}

// Map

func (h *Harness) mapInsert(ctx context.Context, s Step) (map[string]any, error) {
	m, err := h.cachedMap(s.Target)
	if err != nil {
		return nil, err
	}
	prev, ok, err := m.Insert(ctx, s.Outer, s.Inner, s.Value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]any{"replaced": false}, nil
	}
	return map[string]any{"replaced": true, "previous": prev}, nil
}

func (h *Harness) mapGet(ctx context.Context, s Step) (map[string]any, error) {
	m, err := h.cachedMap(s.Target)
	if err != nil {
		return nil, err
	}
	v, ok, err := m.Get(ctx, s.Outer, s.Inner)
	return found(v, ok), err
}

func (h *Harness) mapRemove(ctx context.Context, s Step) (map[string]any, error) {
	m, err := h.cachedMap(s.Target)
	if err != nil {
		return nil, err
	}
	v, ok, err := m.Remove(ctx, s.Outer, s.Inner)
	return found(v, ok), err
}

func (h *Harness) mapRemovePartial(ctx context.Context, s Step) (map[string]any, error) {
	m, err := h.cachedMap(s.Target)
	if err != nil {
		return nil, err
	}
	removed, err := m.RemovePartial(ctx, s.Outer)
	return map[string]any{"removed": removed}, err
}

func (h *Harness) mapLen(ctx context.Context, s Step) (map[string]any, error) {
	m, err := h.cachedMap(s.Target)
	if err != nil {
		return nil, err
	}
	n, err := m.Len(ctx)
	return lenResult(n), err
}

func (h *Harness) mapClear(ctx context.Context, s Step) (map[string]any, error) {
	m, err := h.cachedMap(s.Target)
	if err != nil {
		return nil, err
	}
	if err := m.Clear(ctx); err != nil {
		return nil, err
	}
	return lenResult(0), nil
}

// mapCache reports the cached pairs, oldest first.
func (h *Harness) mapCache(_ context.Context, s Step) (map[string]any, error) {
	m, err := h.cachedMap(s.Target)
	if err != nil {
		return nil, err
	}
	items := m.CachedKeys()
	keys := make([]any, len(items))
	for i, it := range items {
		keys[i] = it.Outer + "/" + it.Inner
	}
	return map[string]any{"keys": keys}, nil
}

// Task

func (h *Harness) taskEnqueue(ctx context.Context, s Step) (map[string]any, error) {
	id, err := h.tasks.Enqueue(ctx, task.WithOptions(s.Task.job(), s.Task.options()))
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": id}, nil
}

func (h *Harness) taskRun(ctx context.Context, _ Step) (map[string]any, error) {
	report, err := h.runtime.RunOnce(ctx)
	if err != nil {
		return nil, err
	}
	failures := make([]any, len(report.Failures))
	for i, f := range report.Failures {
		failures[i] = f.Error()
	}
	return map[string]any{
		"selected":  report.Selected,
		"completed": report.Completed,
		"retried":   report.Retried,
		"dropped":   report.Dropped,
		"failures":  failures,
	}, nil
}

func (h *Harness) taskList(ctx context.Context, _ Step) (map[string]any, error) {
	tasks, err := h.taskSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tasks": tasks}, nil
}

func (h *Harness) taskSnapshot(ctx context.Context) ([]any, error) {
	tasks := []any{}
	for st, err := range h.tasks.List(ctx) {
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, map[string]any{
			"id":            st.ID,
			"name":          st.Task.Name,
			"status":        st.Status.String(),
			"failures":      st.Options.Failures,
			"execute_after": st.Options.ExecuteAfterSecs,
		})
	}
	return tasks, nil
}

func (h *Harness) taskRecover(ctx context.Context, s Step) (map[string]any, error) {
	report, err := h.tasks.Recover(ctx, h.clock.NowSecs(), s.Secs)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"requeued":   stringsToAny(report.Requeued),
		"dropped":    stringsToAny(report.Dropped),
		"reselected": stringsToAny(report.Reselected),
	}, nil
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Clock

func (h *Harness) clockAdvance(_ context.Context, s Step) (map[string]any, error) {
	return map[string]any{"now": h.clock.Advance(s.Secs)}, nil
}

func (h *Harness) clockSet(_ context.Context, s Step) (map[string]any, error) {
	h.clock.Set(s.Secs)
	return map[string]any{"now": s.Secs}, nil
}
