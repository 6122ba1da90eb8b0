package harness

import (
	"github.com/roach88/opflow/internal/engine"
	"github.com/roach88/opflow/internal/ir"
	"github.com/roach88/opflow/internal/store"
)

// StepTrace is one scheduling step of a run as it appears in traces.
type StepTrace struct {
	// Name is the instruction's names joined by commas, or "future:<id>".
	Name       string   `json:"name"`
	Discard    []string `json:"discard"`
	NewFutures int      `json:"new_futures"`
	Waited     bool     `json:"waited"`
}

// RunTrace is one persisted run of the scenario's program.
type RunTrace struct {
	ID        string      `json:"id"`
	Seq       int64       `json:"seq"`
	Mode      engine.Mode `json:"mode"`
	DelayFree bool        `json:"delay_free"`
	Fallback  bool        `json:"fallback"`
	Steps     []StepTrace `json:"steps"`
	Result    ir.Value    `json:"result"`
}

// StepNames returns the names of the run's steps in order.
func (r RunTrace) StepNames() []string {
	names := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		names[i] = s.Name
	}
	return names
}

// ScheduleState is the schedule record the store holds once all runs are
// done.
type ScheduleState struct {
	Found    bool `json:"found"`
	Cached   bool `json:"cached"`
	Attempts int  `json:"attempts"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all assertions hold.
	Pass bool `json:"pass"`

	// Program is the text listing of the compiled program.
	Program string `json:"program"`

	// Runs holds every run in run-log order, as read back from the store.
	Runs []RunTrace `json:"runs"`

	// Schedule is the persisted schedule state after the last run.
	Schedule ScheduleState `json:"schedule"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Runs:   []RunTrace{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddRun appends a run record, naming its steps after prog's instructions.
func (r *Result) AddRun(prog *ir.Program, rec store.RunRecord) {
	steps := make([]StepTrace, len(rec.Steps))
	for i, s := range rec.Steps {
		steps[i] = StepTrace{
			Name:       s.Name(prog),
			Discard:    s.Discard,
			NewFutures: s.NewFutures,
			Waited:     s.Waited,
		}
	}
	r.Runs = append(r.Runs, RunTrace{
		ID:        rec.ID,
		Seq:       rec.Seq,
		Mode:      rec.Mode,
		DelayFree: rec.DelayFree,
		Fallback:  rec.Fallback,
		Steps:     steps,
		Result:    rec.Result,
	})
}
