package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/opflow/internal/compiler"
	"github.com/roach88/opflow/internal/engine"
	"github.com/roach88/opflow/internal/evaluator"
	"github.com/roach88/opflow/internal/ir"
	"github.com/roach88/opflow/internal/store"
)

// Harness is the test execution engine for one scenario.
// It runs the scenario's program with fixed run ids and a fresh logical
// clock, persisting every run to its store.
type Harness struct {
	store    *store.Store
	engine   *engine.Engine
	compiler *compiler.Compiler
	eval     *evaluator.Evaluator
	def      *compiler.Definition
	inputs   ir.ExecContext
	logger   *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Load and compile the program definition
// 3. Execute the program the requested number of times
// 4. Read the runs and schedule back from the store
// 5. Return result with pass/fail, runs, and errors
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(st, scenario)
	if err != nil {
		return nil, err
	}

	prog, err := h.def.Compile(ctx, h.compiler)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", h.def.Name, err)
	}
	programID, err := st.WriteProgram(ctx, h.def.Name, prog)
	if err != nil {
		return nil, err
	}

	for i := 1; i <= scenario.runCount(); i++ {
		if scenario.Restart && i > 1 {
			if prog, err = h.restart(ctx, programID); err != nil {
				return nil, fmt.Errorf("run %d: %w", i, err)
			}
		}
		if err := h.execute(ctx, programID, prog); err != nil {
			return nil, fmt.Errorf("run %d: %w", i, err)
		}
	}

	result, err := h.collect(ctx, programID, prog)
	if err != nil {
		return nil, err
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

func newHarness(st *store.Store, scenario *Scenario) (*Harness, error) {
	def, err := LoadDefinition(scenario.Program, scenario.Definition)
	if err != nil {
		return nil, err
	}

	inputs, err := evaluator.ToValues(scenario.Inputs)
	if err != nil {
		return nil, fmt.Errorf("invalid inputs: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	var evalOpts []evaluator.Option
	if t := scenario.Exchange.NewTransport(); t != nil {
		evalOpts = append(evalOpts, evaluator.WithTransport(t))
	}
	evalOpts = append(evalOpts, evaluator.WithLogger(logger))

	compOpts := []compiler.Option{
		compiler.WithAggregation(scenario.Compile.Aggregate),
		compiler.WithLogger(logger),
	}
	if scenario.Compile.MaxVectors > 0 {
		compOpts = append(compOpts, compiler.WithMaxVectorsInBatch(scenario.Compile.MaxVectors))
	}

	prefix := scenario.RunID
	if prefix == "" {
		prefix = "run"
	}
	ids := make([]string, scenario.runCount())
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", prefix, i+1)
	}

	return &Harness{
		store: st,
		engine: engine.New(
			engine.WithRunIDGenerator(engine.NewFixedGenerator(ids...)),
			engine.WithLogger(logger),
		),
		compiler: compiler.New(compOpts...),
		eval:     evaluator.New(scenario.Operators.Registry(), evalOpts...),
		def:      def,
		inputs:   inputs,
		logger:   logger,
	}, nil
}

// LoadDefinition reads the CUE file at path and returns the program
// definition called name, or the only one when name is empty.
func LoadDefinition(path, name string) (*compiler.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program file: %w", err)
	}
	v := cuecontext.New().CompileBytes(data, cue.Filename(path))
	defs, err := compiler.LoadPrograms(v)
	if err != nil {
		return nil, err
	}

	if name == "" {
		if len(defs) != 1 {
			return nil, fmt.Errorf("%s defines %d programs; set definition", path, len(defs))
		}
		return defs[0], nil
	}
	for _, def := range defs {
		if def.Name == name {
			return def, nil
		}
	}
	return nil, fmt.Errorf("program %q not found in %s", name, path)
}

// execute runs prog once and persists the run and the program's schedule.
func (h *Harness) execute(ctx context.Context, programID string, prog *ir.Program) error {
	h.eval.Reset(h.inputs)
	run, err := h.engine.Execute(ctx, prog, h.eval)
	if err != nil {
		return err
	}
	if err := h.store.WriteRun(ctx, programID, run); err != nil {
		return err
	}
	if err := h.store.SaveSchedule(ctx, programID, prog); err != nil {
		return err
	}

	h.logger.Info("run completed",
		"run_id", run.ID,
		"seq", run.Seq,
		"mode", run.Mode,
		"steps", len(run.Steps),
		"delay_free", run.DelayFree,
	)
	return nil
}

// restart compiles a fresh program and restores its schedule from the
// store.
func (h *Harness) restart(ctx context.Context, programID string) (*ir.Program, error) {
	prog, err := h.def.Compile(ctx, h.compiler)
	if err != nil {
		return nil, err
	}
	if err := h.store.RestoreSchedule(ctx, programID, prog); err != nil {
		return nil, err
	}
	return prog, nil
}

// collect builds the result from what the store recorded.
func (h *Harness) collect(ctx context.Context, programID string, prog *ir.Program) (*Result, error) {
	result := NewResult()
	result.Program = prog.String()

	records, err := h.store.ListRuns(ctx, programID)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		result.AddRun(prog, rec)
	}

	sched, attempts, found, err := h.store.ReadSchedule(ctx, programID)
	if err != nil {
		return nil, err
	}
	result.Schedule = ScheduleState{Found: found, Cached: sched != nil, Attempts: attempts}
	return result, nil
}

// Registry builds the evaluator registry the operator table describes.
func (o Operators) Registry() *evaluator.Registry {
	reg := evaluator.NewRegistry()
	for name, k := range o.Generic {
		reg.Operator(name, evaluator.Scale(k))
	}
	for name, k := range o.Diff {
		reg.Diff(name, evaluator.ForwardDifference(k))
	}
	for name, k := range o.Flux {
		reg.Flux(name, evaluator.FluxFunc(evaluator.Scale(k)))
	}
	if o.Lift != nil {
		reg.Lift(evaluator.Scale(*o.Lift))
	}
	if o.Grid > 0 {
		reg.Grid(o.Grid)
	}
	return reg
}

// NewTransport returns the configured exchange transport, nil for none.
func (e *Exchange) NewTransport() evaluator.Transport {
	if e == nil {
		return nil
	}
	if e.Transport == TransportLoopback {
		return &evaluator.LoopbackTransport{Delay: time.Duration(e.DelayMS) * time.Millisecond}
	}
	return &evaluator.CountdownTransport{Polls: e.Polls}
}
