package ir

import (
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/opflow/internal/expr"
)

// DefaultScheduleAttempts is how many times a Program re-captures a schedule
// after a replay that had to wait on a future.
const DefaultScheduleAttempts = 5

// Result is a Program's result: one expression, or an array of them when
// Array is set.
type Result struct {
	Exprs []expr.Expr
	Array bool
}

func (r Result) String() string {
	if !r.Array && len(r.Exprs) == 1 {
		return r.Exprs[0].String()
	}
	parts := make([]string, len(r.Exprs))
	for i, e := range r.Exprs {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Program is an ordered instruction list plus a result. The instruction
// order is emission order; the engine decides execution order.
//
// A Program owns its cached schedule. Instructions must not be added or
// reordered after construction, since schedules refer to them by position.
type Program struct {
	Instructions []*Instruction
	Result       Result

	mu       sync.Mutex
	schedule *Schedule
	attempts int
}

// NewProgram creates a Program with the default schedule retry budget.
func NewProgram(instructions []*Instruction, result Result) *Program {
	return &Program{
		Instructions: instructions,
		Result:       result,
		attempts:     DefaultScheduleAttempts,
	}
}

// Schedule returns the cached schedule, or nil.
func (p *Program) Schedule() *Schedule {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.schedule
}

// StoreSchedule caches s if the retry budget is not exhausted and reports
// whether it did.
func (p *Program) StoreSchedule(s *Schedule) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attempts <= 0 {
		return false
	}
	p.schedule = s
	return true
}

// InvalidateSchedule drops the cached schedule and spends one attempt.
// It returns the remaining attempts.
func (p *Program) InvalidateSchedule() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schedule = nil
	if p.attempts > 0 {
		p.attempts--
	}
	return p.attempts
}

// ScheduleAttempts returns the remaining retry budget. Zero means the
// Program is scheduled dynamically for good.
func (p *Program) ScheduleAttempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// RestoreSchedule installs a persisted schedule and retry budget. A nil
// schedule restores only the budget.
func (p *Program) RestoreSchedule(s *Schedule, attempts int) error {
	if attempts < 0 || attempts > DefaultScheduleAttempts {
		return fmt.Errorf("restore schedule: attempts %d out of range", attempts)
	}
	if s != nil {
		for i, e := range s.Entries {
			if e.Index != FutureStep && (e.Index < 0 || e.Index >= len(p.Instructions)) {
				return fmt.Errorf("restore schedule: entry %d refers to instruction %d of %d", i, e.Index, len(p.Instructions))
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = attempts
	if attempts > 0 {
		p.schedule = s
	}
	return nil
}

// ResultVariables returns the sorted names the result reads. The engine
// never prunes them from the context.
func (p *Program) ResultVariables() []string {
	return expr.DependenciesOf(p.Result.Exprs...)
}

// IndexOf returns the position of in, or -1.
func (p *Program) IndexOf(in *Instruction) int {
	for i, x := range p.Instructions {
		if x == in {
			return i
		}
	}
	return -1
}

// Producers maps every assignee to the instruction producing it.
func (p *Program) Producers() map[string]*Instruction {
	out := make(map[string]*Instruction)
	for _, in := range p.Instructions {
		for _, n := range in.Names {
			out[n] = in
		}
	}
	return out
}

func (p *Program) String() string {
	var lines []string
	for _, in := range p.Instructions {
		lines = append(lines, strings.Split(in.String(), "\n")...)
	}
	lines = append(lines, "RESULT: "+p.Result.String())
	return strings.Join(lines, "\n")
}
