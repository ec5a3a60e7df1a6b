package harness

// Step actions recorded in the trace.
const (
	ActionInsertAndRun = "insert_and_run"
	ActionRun          = "run"
)

// TraceEvent records what one scenario step observed.
type TraceEvent struct {
	Step   int    `json:"step"`
	Cell   string `json:"cell"`
	Action string `json:"action"`

	// Display is the repr of the display value, empty when there is none.
	Display string `json:"display,omitempty"`

	// Outputs maps changed bindings to their reprs. Nil when the step failed.
	Outputs map[string]string `json:"outputs,omitempty"`

	// Error is the error class of a failed step.
	Error string `json:"error,omitempty"`

	// Stdout is what the step printed.
	Stdout string `json:"stdout,omitempty"`

	// Positions are the chain positions after the step, as "id:label".
	Positions []string `json:"positions"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace has one event per step.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Fingerprint is the digest of the final chain state.
	Fingerprint string `json:"fingerprint"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
