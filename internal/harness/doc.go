// Package harness runs YAML scenarios against the stable structures and
// compares the resulting trace with golden files.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	clock: 1000            # initial clock, seconds
//	cache_max_items: 2     # capacity of every cached map
//	steps:
//	  - op: log.push
//	    target: events
//	    value: a
//	  - op: vec.push
//	    target: inbox
//	    identity: alice
//	    value: hello
//	  - op: map.get
//	    target: balances
//	    outer: alice
//	    inner: icp
//	    expect: {found: false}
//	  - op: task.enqueue
//	    task: {name: flaky, fail_times: 2, retry: {max: 3}, backoff: {fixed: 2}}
//	  - op: task.run
//	  - op: clock.advance
//	    secs: 2
//	assertions:
//	  - type: trace_count
//	    op: task.run
//	    count: 1
//	  - type: final_state
//	    kind: log
//	    target: events
//	    expect: [a]
//
// # Operations
//
//   - log.push, log.pop_front, log.pop_back, log.len, log.list
//   - vec.push, vec.pop, vec.get, vec.set, vec.len, vec.clear, vec.list
//   - map.insert, map.get, map.remove, map.remove_partial, map.len,
//     map.clear, map.cache
//   - task.enqueue, task.run, task.list, task.recover
//   - clock.advance, clock.set
//
// Every structure named by a target gets its own region. Log, vec and
// map values are strings.
//
// # Assertion Types
//
//   - trace_contains: an op (optionally on a target) appears in the trace
//   - trace_order: ops appear in the given order
//   - trace_count: an op appears exactly N times
//   - final_state: the final contents of a structure
//
// # Deterministic Testing
//
// Scenarios run on a fresh in-memory SQLite store with a manual clock and
// sequential task ids (task-0001, task-0002, ...), so traces are identical
// across runs and can be compared byte for byte:
//
//	go test ./internal/harness -update
//
// regenerates testdata/golden.
package harness
