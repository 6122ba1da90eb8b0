package engine

import "fmt"

// DefaultMaxSteps bounds the scheduling steps of one run.
const DefaultMaxSteps = 100000

// QuotaEnforcer counts the scheduling steps of one run and enforces a
// maximum.
//
// An acyclic Program finishes in one step per instruction plus one per
// future, so the quota only trips when futures keep spawning futures.
type QuotaEnforcer struct {
	maxSteps int // Maximum allowed steps for this run
	current  int // Current step count
}

// NewQuotaEnforcer creates a new quota enforcer with the given limit.
// A limit of zero or less disables the quota.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check increments the step counter and validates against the limit.
// This should be called before each step runs.
func (q *QuotaEnforcer) Check(runID string) error {
	q.current++
	if q.maxSteps > 0 && q.current > q.maxSteps {
		return &RuntimeError{
			Code:    ErrCodeStepsExceeded,
			Message: fmt.Sprintf("run exceeded max steps (%d > %d)", q.current, q.maxSteps),
			RunID:   runID,
			Details: map[string]string{
				"steps":     fmt.Sprintf("%d", q.current),
				"max_steps": fmt.Sprintf("%d", q.maxSteps),
			},
		}
	}
	return nil
}

// Current returns the current step count.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxSteps returns the maximum steps limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}
