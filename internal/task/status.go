package task

import "fmt"

// StatusKind enumerates the lifecycle states of a stored task.
type StatusKind uint8

const (
	// StatusWaiting: queued, eligible once ExecuteAfterSecs <= now.
	StatusWaiting StatusKind = iota
	// StatusSelected: picked by a runtime, not yet dispatched.
	StatusSelected
	// StatusRunning: the task body has been dispatched.
	StatusRunning
)

// String returns the status name.
func (k StatusKind) String() string {
	switch k {
	case StatusWaiting:
		return "waiting"
	case StatusSelected:
		return "selected_for_execution"
	case StatusRunning:
		return "running"
	default:
		return fmt.Sprintf("StatusKind(%d)", uint8(k))
	}
}

// Status is a lifecycle state plus the time of the transition into it.
type Status struct {
	Kind          StatusKind
	TimestampSecs uint64
}

// Waiting returns a Waiting status stamped at ts.
func Waiting(ts uint64) Status { return Status{Kind: StatusWaiting, TimestampSecs: ts} }

// SelectedForExecution returns a SelectedForExecution status stamped at ts.
func SelectedForExecution(ts uint64) Status { return Status{Kind: StatusSelected, TimestampSecs: ts} }

// Running returns a Running status stamped at ts.
func Running(ts uint64) Status { return Status{Kind: StatusRunning, TimestampSecs: ts} }

// Timestamp returns the time of the transition into this status.
func (s Status) Timestamp() uint64 { return s.TimestampSecs }

// String renders "kind@ts".
func (s Status) String() string {
	return fmt.Sprintf("%s@%d", s.Kind, s.TimestampSecs)
}
