package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/opflow/internal/expr"
	"github.com/roach88/opflow/internal/ir"
)

// ErrNoTransport is returned when a Program exchanges values but the
// Evaluator has no Transport.
var ErrNoTransport = errors.New("exchange without a transport")

// kernel is the compiled form of an assignment or flux batch.
type kernel struct {
	names []string
	exprs []compiled
	local []bool
}

// run evaluates the kernel's expressions in order. Each name is visible to
// the expressions after it; local names never leave the kernel.
func (k *kernel) run(ec ir.ExecContext) ([]ir.Assignment, error) {
	e := env{context: ec, locals: make(map[string]ir.Value, len(k.names))}
	out := make([]ir.Assignment, 0, len(k.names))
	for i, name := range k.names {
		v, err := k.exprs[i](e)
		if err != nil {
			return nil, fmt.Errorf("evaluating %s: %w", name, err)
		}
		e.locals[name] = v
		if !k.local[i] {
			out = append(out, ir.Assignment{Name: name, Value: v})
		}
	}
	return out, nil
}

// Evaluator is the reference ir.Evaluator over float64 scalars, []float64
// vectors and []ir.Value object arrays.
//
// Instructions are compiled to closure kernels on first use and the
// kernels are kept for the Evaluator's lifetime, so a Program executed
// repeatedly through one Evaluator compiles each instruction once. Reset
// starts a new invocation.
//
// Thread-safety: one invocation at a time. The kernel cache itself is
// guarded by a mutex.
type Evaluator struct {
	reg       *Registry
	transport Transport
	logger    *slog.Logger
	finite    bool

	context ir.ExecContext

	mu      sync.Mutex
	kernels map[*ir.Instruction]*kernel
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithTransport sets the transport exchanges are sent through.
func WithTransport(t Transport) Option {
	return func(ev *Evaluator) {
		ev.transport = t
	}
}

// WithFiniteCheck rejects NaN and Inf before they reach the context.
func WithFiniteCheck() Option {
	return func(ev *Evaluator) {
		ev.finite = true
	}
}

// WithLogger sets a custom logger for the evaluator.
func WithLogger(logger *slog.Logger) Option {
	return func(ev *Evaluator) {
		ev.logger = logger
	}
}

// New creates an Evaluator over reg with an empty context.
func New(reg *Registry, opts ...Option) *Evaluator {
	ev := &Evaluator{
		reg:     reg,
		logger:  slog.Default(),
		context: make(ir.ExecContext),
		kernels: make(map[*ir.Instruction]*kernel),
	}
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

// Reset replaces the context with a copy of inputs.
func (ev *Evaluator) Reset(inputs ir.ExecContext) {
	ev.context = make(ir.ExecContext, len(inputs))
	for k, v := range inputs {
		ev.context[k] = v
	}
}

// ExecContext implements ir.Evaluator.
func (ev *Evaluator) ExecContext() ir.ExecContext {
	return ev.context
}

// Kernels returns the number of compiled kernels.
func (ev *Evaluator) Kernels() int {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return len(ev.kernels)
}

func (ev *Evaluator) kernelFor(in *ir.Instruction) (*kernel, error) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if k, ok := ev.kernels[in]; ok {
		return k, nil
	}

	var (
		exprs []compiled
		err   error
	)
	local := make([]bool, len(in.Names))
	switch in.Kind {
	case ir.KindAssign, ir.KindVectorExprAssign:
		exprs, err = ev.compileAll(in.Exprs)
		copy(local, in.DoNotReturn)
	case ir.KindFluxBatchAssign:
		xs := make([]expr.Expr, len(in.Fluxes))
		for i, f := range in.Fluxes {
			xs[i] = f
		}
		exprs, err = ev.compileAll(xs)
	default:
		err = fmt.Errorf("no kernel for %s", in.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", in.Kind, err)
	}

	k := &kernel{names: in.Names, exprs: exprs, local: local}
	ev.kernels[in] = k
	ev.logger.Debug("kernel compiled", "kind", in.Kind.String(), "names", in.Names)
	return k, nil
}

func (ev *Evaluator) runKernel(in *ir.Instruction) ([]ir.Assignment, []ir.Future, error) {
	k, err := ev.kernelFor(in)
	if err != nil {
		return nil, nil, err
	}
	out, err := k.run(ev.context)
	return out, nil, err
}

// ExecAssign implements ir.Evaluator.
func (ev *Evaluator) ExecAssign(_ context.Context, in *ir.Instruction) ([]ir.Assignment, []ir.Future, error) {
	return ev.runKernel(in)
}

// ExecVectorExprAssign implements ir.Evaluator.
func (ev *Evaluator) ExecVectorExprAssign(_ context.Context, in *ir.Instruction) ([]ir.Assignment, []ir.Future, error) {
	return ev.runKernel(in)
}

// ExecFluxBatchAssign implements ir.Evaluator.
func (ev *Evaluator) ExecFluxBatchAssign(_ context.Context, in *ir.Instruction) ([]ir.Assignment, []ir.Future, error) {
	return ev.runKernel(in)
}

// ExecDiffBatchAssign implements ir.Evaluator.
func (ev *Evaluator) ExecDiffBatchAssign(_ context.Context, in *ir.Instruction) ([]ir.Assignment, []ir.Future, error) {
	return ev.diffBatch(in)
}

// ExecQuadratureDiffBatchAssign implements ir.Evaluator.
func (ev *Evaluator) ExecQuadratureDiffBatchAssign(_ context.Context, in *ir.Instruction) ([]ir.Assignment, []ir.Future, error) {
	return ev.diffBatch(in)
}

// diffBatch evaluates the shared field once and applies every operator
// to it.
func (ev *Evaluator) diffBatch(in *ir.Instruction) ([]ir.Assignment, []ir.Future, error) {
	field, err := ev.evaluate(in.Field)
	if err != nil {
		return nil, nil, err
	}
	out := make([]ir.Assignment, len(in.Names))
	for i, op := range in.Operators {
		fn, err := ev.reg.diff(op.Name)
		if err != nil {
			return nil, nil, err
		}
		v, err := fn(op, field)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		out[i] = ir.Assignment{Name: in.Names[i], Value: v}
	}
	return out, nil, nil
}

// ExecFluxExchangeBatchAssign sends the argument fields to every source
// rank and returns one future per rank, in ascending rank order.
func (ev *Evaluator) ExecFluxExchangeBatchAssign(ctx context.Context, in *ir.Instruction) ([]ir.Assignment, []ir.Future, error) {
	if ev.transport == nil {
		return nil, nil, ErrNoTransport
	}
	args := make([]ir.Value, len(in.ArgFields))
	for i, a := range in.ArgFields {
		v, err := ev.evaluate(a)
		if err != nil {
			return nil, nil, err
		}
		args[i] = v
	}

	ranks := make([]int, 0, len(in.RankToIndexAndName))
	for r := range in.RankToIndexAndName {
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)

	futures := make([]ir.Future, 0, len(ranks))
	for _, r := range ranks {
		receipt, err := ev.transport.Exchange(ctx, r, args)
		if err != nil {
			return nil, nil, fmt.Errorf("exchange with rank %d: %w", r, err)
		}
		futures = append(futures, &exchangeFuture{rank: r, receipt: receipt, targets: in.RankToIndexAndName[r]})
	}
	return nil, futures, nil
}

// EvaluateResult implements ir.Evaluator.
func (ev *Evaluator) EvaluateResult(_ context.Context, x expr.Expr) (ir.Value, error) {
	return ev.evaluate(x)
}

func (ev *Evaluator) evaluate(x expr.Expr) (ir.Value, error) {
	c, err := ev.compile(x)
	if err != nil {
		return nil, err
	}
	return c(env{context: ev.context})
}

// PreAssignCheck implements ir.PreAssignChecker. It only rejects values
// when the finite check is enabled.
func (ev *Evaluator) PreAssignCheck(name string, v ir.Value) error {
	if ev.finite && !isFinite(v) {
		return fmt.Errorf("%w: %s", ErrNotFinite, name)
	}
	return nil
}

// exchangeFuture delivers the values received from one rank to the names
// that wait for them.
type exchangeFuture struct {
	rank    int
	receipt Receipt
	targets []ir.IndexName
}

func (f *exchangeFuture) Ready() bool {
	return f.receipt.Ready()
}

func (f *exchangeFuture) Complete(ctx context.Context) ([]ir.Assignment, []ir.Future, error) {
	vals, err := f.receipt.Wait(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("exchange with rank %d: %w", f.rank, err)
	}
	out := make([]ir.Assignment, len(f.targets))
	for i, t := range f.targets {
		if t.Index < 0 || t.Index >= len(vals) {
			return nil, nil, fmt.Errorf("rank %d sent %d values, want index %d", f.rank, len(vals), t.Index)
		}
		out[i] = ir.Assignment{Name: t.Name, Value: vals[t.Index]}
	}
	return out, nil, nil
}
