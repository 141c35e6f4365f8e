// Package task implements the persisted task envelope and its lifecycle.
//
// A task is enqueued as a ScheduledTask (payload + options) and stored as a
// Record with Waiting status. A runtime later promotes eligible records
// through SelectedForExecution and Running, committing each transition
// before the task body runs, then deletes the record on success or applies
// the retry and backoff policies on failure:
//
//	Waiting --(execute_after <= now, selected)--> SelectedForExecution
//	SelectedForExecution --(dispatch)--> Running
//	Running --(success)--> [deleted]
//	Running --(failure, retry allowed)--> Waiting (failures+1, execute_after = now + backoff)
//	Running --(failure, retry disallowed)--> [deleted, RetryExhaustedError]
//
// There is no terminal status: absence of the record means the task
// completed or was abandoned.
//
// # Crash consistency
//
// Every transition is a single durable write. A process that restarts
// while a task body is running finds the record Running with the timestamp
// of the dispatch. Recover treats such records, once older than a staleness
// window, as failed executions and routes them through the normal retry
// path, so an interrupted task is neither lost nor silently run twice.
// Records left SelectedForExecution never reached the task body; Recover
// returns them to Waiting without counting a failure.
//
// # Storage
//
// Records are encoded with the protobuf wire format (see RecordCodec) and
// stored in a store.ChunkedMap, so records larger than one slice are split
// and reassembled transparently. Task ids are UUIDv7 strings, so ascending
// key order is roughly enqueue order.
package task
