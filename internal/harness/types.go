package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	// Step is the 1-based step number.
	Step int `json:"step"`

	Op       string `json:"op"`
	Target   string `json:"target,omitempty"`
	Identity string `json:"identity,omitempty"`

	// Now is the clock reading after the step.
	Now uint64 `json:"now"`

	// Result is the op-specific outcome. Nil when the step failed.
	Result map[string]any `json:"result,omitempty"`

	// Error is the step error, if any.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every executed step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a trace event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
