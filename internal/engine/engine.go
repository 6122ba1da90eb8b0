package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/opflow/internal/ir"
)

// Mode is how a run was scheduled.
type Mode string

const (
	// ModeDynamic makes every scheduling decision at run time and records
	// them as the Program's schedule.
	ModeDynamic Mode = "dynamic"
	// ModeReplay follows the Program's cached schedule verbatim.
	ModeReplay Mode = "replay"
)

// Step is one scheduling decision of a run.
type Step struct {
	// Index is the instruction's position, or ir.FutureStep.
	Index int `json:"index"`
	// FutureID is the completed future when Index is ir.FutureStep.
	FutureID int `json:"future_id"`
	// Discard lists the names pruned from the context before the step.
	Discard []string `json:"discard"`
	// Assigned lists the names the step wrote, in write order.
	Assigned []string `json:"assigned"`
	// NewFutures is how many futures the step issued.
	NewFutures int `json:"new_futures"`
	// Waited is set when the step blocked on a future that was not ready.
	Waited bool `json:"waited"`
}

// IsFuture reports whether the step completed a future.
func (s Step) IsFuture() bool {
	return s.Index == ir.FutureStep
}

// Entry converts the step to its schedule form.
func (s Step) Entry() ir.ScheduleEntry {
	return ir.ScheduleEntry{
		Discard:    s.Discard,
		Index:      s.Index,
		FutureID:   s.FutureID,
		NewFutures: s.NewFutures,
	}
}

// Name describes the step for traces: the instruction's names joined by
// commas, or "future:<id>".
func (s Step) Name(prog *ir.Program) string {
	if s.IsFuture() {
		return "future:" + strconv.Itoa(s.FutureID)
	}
	return strings.Join(prog.Instructions[s.Index].Names, ",")
}

// Run is the outcome of one Program execution.
type Run struct {
	ID   string
	Seq  int64
	Mode Mode
	// DelayFree is false when a replay had to wait on a future.
	DelayFree bool
	// Fallback is set when a replay was abandoned midway and the run
	// finished under dynamic scheduling.
	Fallback bool
	Steps    []Step
	// Result is the value of the Program's result: one value, or a
	// []ir.Value for an array result.
	Result ir.Value
}

// Engine executes compiled Programs against an evaluator.
//
// The Engine holds only configuration and the run clock; every Execute call
// gets fresh scheduling state. A Program's cached schedule and retry budget
// live on the Program.
type Engine struct {
	logger   *slog.Logger
	tracer   trace.Tracer
	runIDs   RunIDGenerator
	clock    *Clock
	check    func(name string, v ir.Value) error
	maxSteps int
	observer func(runID string, step Step)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTracer sets the tracer execute spans are recorded on.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithRunIDGenerator sets the source of run ids (default UUIDv7).
func WithRunIDGenerator(gen RunIDGenerator) Option {
	return func(e *Engine) {
		e.runIDs = gen
	}
}

// WithClock sets the clock that sequences runs.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithPreAssignCheck validates every value before it is written to the
// context. It takes precedence over an evaluator's own PreAssignCheck. A
// rejection ends the run with the check's error, unwrapped.
func WithPreAssignCheck(check func(name string, v ir.Value) error) Option {
	return func(e *Engine) {
		e.check = check
	}
}

// WithMaxSteps sets the maximum scheduling steps per run.
//
// Default: DefaultMaxSteps. Zero disables the limit.
func WithMaxSteps(maxSteps int) Option {
	return func(e *Engine) {
		e.maxSteps = maxSteps
	}
}

// WithObserver registers fn to be called after every step.
func WithObserver(fn func(runID string, step Step)) Option {
	return func(e *Engine) {
		e.observer = fn
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/roach88/opflow/internal/engine"),
		runIDs:   UUIDv7Generator{},
		clock:    NewClock(),
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Clock returns the engine's run clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// Execute runs prog against ev. It replays the Program's cached schedule
// when there is one and schedules dynamically otherwise.
//
// ev's context must hold the inputs. Evaluator errors are returned
// unchanged.
func (e *Engine) Execute(ctx context.Context, prog *ir.Program, ev ir.Evaluator) (*Run, error) {
	return e.execute(ctx, prog, ev, prog.Schedule())
}

// ExecuteDynamic runs prog under the dynamic scheduler even if a schedule
// is cached. A successful run still records its schedule.
func (e *Engine) ExecuteDynamic(ctx context.Context, prog *ir.Program, ev ir.Evaluator) (*Run, error) {
	return e.execute(ctx, prog, ev, nil)
}

func (e *Engine) execute(ctx context.Context, prog *ir.Program, ev ir.Evaluator, sched *ir.Schedule) (*Run, error) {
	run := &Run{
		ID:        e.runIDs.Generate(),
		Seq:       e.clock.Next(),
		Mode:      ModeDynamic,
		DelayFree: true,
	}
	if sched != nil {
		run.Mode = ModeReplay
	}

	ctx, span := e.tracer.Start(ctx, "engine.Execute", trace.WithAttributes(
		attribute.String("opflow.run_id", run.ID),
		attribute.String("opflow.mode", string(run.Mode)),
		attribute.Int("opflow.instructions", len(prog.Instructions)),
	))
	defer span.End()

	st := e.newRunState(prog, ev, run)
	err := st.schedule(ctx, sched)
	if err == nil {
		run.Result, err = st.evaluateResult(ctx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("opflow.steps", len(run.Steps)),
		attribute.Bool("opflow.delay_free", run.DelayFree),
		attribute.Bool("opflow.fallback", run.Fallback),
	)
	e.logger.Debug("run finished",
		"run_id", run.ID,
		"mode", run.Mode,
		"steps", len(run.Steps),
		"delay_free", run.DelayFree,
		"fallback", run.Fallback,
	)
	return run, nil
}

// runState is the scheduling state of one Execute call.
type runState struct {
	e       *Engine
	prog    *ir.Program
	ev      ir.Evaluator
	context ir.ExecContext
	run     *Run

	done    []bool
	ndone   int
	futures *futureTable
	quota   *QuotaEnforcer
	check   func(name string, v ir.Value) error

	resultVars map[string]bool
}

func (e *Engine) newRunState(prog *ir.Program, ev ir.Evaluator, run *Run) *runState {
	st := &runState{
		e:          e,
		prog:       prog,
		ev:         ev,
		context:    ev.ExecContext(),
		run:        run,
		done:       make([]bool, len(prog.Instructions)),
		futures:    newFutureTable(),
		quota:      NewQuotaEnforcer(e.maxSteps),
		check:      e.check,
		resultVars: make(map[string]bool),
	}
	if st.check == nil {
		if c, ok := ev.(ir.PreAssignChecker); ok {
			st.check = c.PreAssignCheck
		}
	}
	for _, n := range prog.ResultVariables() {
		st.resultVars[n] = true
	}
	return st
}

// schedule replays sched when given, falling back to dynamic scheduling
// when the replay cannot continue, and otherwise schedules dynamically.
func (st *runState) schedule(ctx context.Context, sched *ir.Schedule) error {
	if sched != nil {
		err := st.replay(ctx, sched)
		switch {
		case err == nil:
			if !st.run.DelayFree {
				remaining := st.prog.InvalidateSchedule()
				st.e.logger.Info("schedule not delay-free, invalidated",
					"run_id", st.run.ID,
					"attempts_left", remaining,
				)
			}
			return nil
		case IsReplayError(err):
			remaining := st.prog.InvalidateSchedule()
			st.e.logger.Warn("replay abandoned, continuing dynamically",
				"run_id", st.run.ID,
				"error", err,
				"attempts_left", remaining,
			)
			st.run.Fallback = true
			st.run.DelayFree = false
			_, err = st.dynamic(ctx)
			return err
		default:
			return err
		}
	}

	entries, err := st.dynamic(ctx)
	if err != nil {
		return err
	}
	if st.prog.StoreSchedule(&ir.Schedule{Entries: entries}) {
		st.e.logger.Debug("schedule recorded", "run_id", st.run.ID, "entries", len(entries))
	}
	return nil
}

// dynamic runs the scheduler from the current state until no work is
// left, returning the log of its decisions.
func (st *runState) dynamic(ctx context.Context) ([]ir.ScheduleEntry, error) {
	var entries []ir.ScheduleEntry
	force := false

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if pf, ready, ok := st.futures.take(force); ok {
			force = false
			step, err := st.completeFuture(ctx, pf.id, pf.future, ready, nil)
			if err != nil {
				return nil, err
			}
			entries = append(entries, step.Entry())
			continue
		}

		idx, ok := st.nextReady()
		if !ok {
			if st.futures.Len() > 0 {
				// Nothing to do but wait: block on the oldest future.
				force = true
				continue
			}
			break
		}

		step, err := st.runInstruction(ctx, idx, st.discardable(idx))
		if err != nil {
			return nil, err
		}
		entries = append(entries, step.Entry())
	}

	if st.ndone < len(st.prog.Instructions) {
		return nil, st.unreachable()
	}
	return entries, nil
}

// nextReady picks, among the incomplete instructions whose dependencies are
// all in the context, the one with maximal priority. Ties go to the
// earliest in program order.
func (st *runState) nextReady() (int, bool) {
	best := -1
	for i, in := range st.prog.Instructions {
		if st.done[i] || !st.available(in) {
			continue
		}
		if best < 0 || in.Priority > st.prog.Instructions[best].Priority {
			best = i
		}
	}
	return best, best >= 0
}

func (st *runState) available(in *ir.Instruction) bool {
	for _, d := range in.Dependencies() {
		if _, ok := st.context[d]; !ok {
			return false
		}
	}
	return true
}

// discardable returns the context names that no incomplete instruction,
// including the one about to run, still needs and that the result does not
// read.
func (st *runState) discardable(next int) []string {
	needed := make(map[string]bool)
	for i, in := range st.prog.Instructions {
		if st.done[i] && i != next {
			continue
		}
		for _, d := range in.Dependencies() {
			needed[d] = true
		}
	}

	var out []string
	for name := range st.context {
		if !needed[name] && !st.resultVars[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (st *runState) runInstruction(ctx context.Context, idx int, discard []string) (Step, error) {
	if err := st.quota.Check(st.run.ID); err != nil {
		return Step{}, err
	}
	for _, name := range discard {
		delete(st.context, name)
	}

	in := st.prog.Instructions[idx]
	st.done[idx] = true
	st.ndone++

	hook, err := in.ExecutionMethod(st.ev)
	if err != nil {
		return Step{}, err
	}
	assignments, futures, err := hook(ctx, in)
	if err != nil {
		return Step{}, err
	}

	step := Step{Index: idx, Discard: discard, NewFutures: len(futures)}
	if err := st.finish(&step, assignments, futures); err != nil {
		return Step{}, err
	}
	return step, nil
}

func (st *runState) completeFuture(ctx context.Context, id int, f ir.Future, ready bool, discard []string) (Step, error) {
	if err := st.quota.Check(st.run.ID); err != nil {
		return Step{}, err
	}
	for _, name := range discard {
		delete(st.context, name)
	}
	assignments, futures, err := f.Complete(ctx)
	if err != nil {
		return Step{}, err
	}

	step := Step{Index: ir.FutureStep, FutureID: id, Discard: discard, NewFutures: len(futures), Waited: !ready}
	if err := st.finish(&step, assignments, futures); err != nil {
		return Step{}, err
	}
	return step, nil
}

// finish writes a step's assignments, registers its futures and records
// the step.
func (st *runState) finish(step *Step, assignments []ir.Assignment, futures []ir.Future) error {
	for _, a := range assignments {
		if st.check != nil {
			if err := st.check(a.Name, a.Value); err != nil {
				return err
			}
		}
		st.context[a.Name] = a.Value
		step.Assigned = append(step.Assigned, a.Name)
	}
	st.futures.add(futures)

	st.run.Steps = append(st.run.Steps, *step)
	st.e.logger.Debug("step",
		"run_id", st.run.ID,
		"index", step.Index,
		"future_id", step.FutureID,
		"assigned", step.Assigned,
		"new_futures", step.NewFutures,
	)
	if st.e.observer != nil {
		st.e.observer(st.run.ID, *step)
	}
	return nil
}

func (st *runState) unreachable() error {
	var pending []string
	for i, in := range st.prog.Instructions {
		if !st.done[i] {
			pending = append(pending, fmt.Sprintf("p%d: %s", i, strings.ReplaceAll(in.String(), "\n", " ")))
		}
	}
	st.e.logger.Error("unreachable instructions",
		"run_id", st.run.ID,
		"count", len(pending),
		"instructions", pending,
	)
	return NewUnreachableError(st.run.ID, pending)
}

// evaluateResult evaluates the result expressions against the final
// context.
func (st *runState) evaluateResult(ctx context.Context) (ir.Value, error) {
	res := st.prog.Result
	if !res.Array && len(res.Exprs) == 1 {
		return st.ev.EvaluateResult(ctx, res.Exprs[0])
	}
	out := make([]ir.Value, len(res.Exprs))
	for i, e := range res.Exprs {
		v, err := st.ev.EvaluateResult(ctx, e)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
