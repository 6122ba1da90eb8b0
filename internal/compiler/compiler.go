package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/opflow/internal/expr"
	"github.com/roach88/opflow/internal/ir"
)

// DefaultPrefix is the stem of generated variable names.
const DefaultPrefix = "_expr"

// ResultPrefix names the variables holding the program result.
const ResultPrefix = "_result"

// Compiler lowers expression trees into Programs. A Compiler holds only
// configuration and may be reused; each call gets fresh state.
type Compiler struct {
	prefix     string
	aggregate  bool
	maxVectors int
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithPrefix sets the stem of generated names (default "_expr").
func WithPrefix(prefix string) Option {
	return func(c *Compiler) {
		c.prefix = prefix
	}
}

// WithAggregation enables the assignment aggregation pass.
func WithAggregation(enabled bool) Option {
	return func(c *Compiler) {
		c.aggregate = enabled
	}
}

// WithMaxVectorsInBatch caps assignees plus dependencies of an aggregated
// assignment. Zero means no cap.
func WithMaxVectorsInBatch(n int) Option {
	return func(c *Compiler) {
		c.maxVectors = n
	}
}

// WithLogger sets a custom logger for the compiler.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Compiler) {
		c.logger = logger
	}
}

// WithTracer sets the tracer compile spans are recorded on.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Compiler) {
		c.tracer = tracer
	}
}

// New creates a Compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{
		prefix: DefaultPrefix,
		logger: slog.Default(),
		tracer: otel.Tracer("github.com/roach88/opflow/internal/compiler"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile lowers root into a Program with a single result.
func (c *Compiler) Compile(ctx context.Context, root expr.Expr, hints expr.TypeHints) (*ir.Program, error) {
	return c.compile(ctx, []expr.Expr{root}, false, hints)
}

// CompileArray lowers roots into a Program whose result is an array.
func (c *Compiler) CompileArray(ctx context.Context, roots []expr.Expr, hints expr.TypeHints) (*ir.Program, error) {
	return c.compile(ctx, roots, true, hints)
}

func (c *Compiler) compile(ctx context.Context, roots []expr.Expr, array bool, hints expr.TypeHints) (*ir.Program, error) {
	_, span := c.tracer.Start(ctx, "compiler.Compile")
	defer span.End()

	prog, err := c.lower(roots, array, hints)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("opflow.instructions", len(prog.Instructions)),
		attribute.Bool("opflow.aggregated", c.aggregate),
	)
	c.logger.Debug("compiled program",
		"instructions", len(prog.Instructions),
		"aggregated", c.aggregate,
		"result", prog.Result.String())
	return prog, nil
}

func (c *Compiler) lower(roots []expr.Expr, array bool, hints expr.TypeHints) (*ir.Program, error) {
	if len(roots) == 0 {
		return nil, &CompileError{Code: ErrCodeSchema, Field: "result", Message: "no result expression"}
	}

	// The result flows through the ordinary assignment machinery.
	wrapped := make([]expr.Expr, len(roots))
	for i, r := range roots {
		if r == nil {
			return nil, &CompileError{Code: ErrCodeSchema, Field: fmt.Sprintf("result[%d]", i), Message: "nil expression"}
		}
		wrapped[i] = expr.CSE(r, ResultPrefix)
	}

	types := make(expr.TypeMap)
	for _, w := range wrapped {
		t, err := expr.InferTypes(w, hints)
		if err != nil {
			return nil, err
		}
		for id, k := range t {
			types[id] = k
		}
	}

	batches, err := planFluxBatches(fluxRecords(wrapped))
	if err != nil {
		return nil, err
	}

	st := newCompilation(c.prefix, types, batches)
	for _, w := range wrapped {
		st.collect(w)
	}

	result := ir.Result{Array: array, Exprs: make([]expr.Expr, len(wrapped))}
	for i, w := range wrapped {
		r, err := st.rec(w)
		if err != nil {
			return nil, err
		}
		result.Exprs[i] = r
	}

	code := st.code
	if c.aggregate {
		code, err = Aggregate(code, result, c.maxVectors)
		if err != nil {
			return nil, err
		}
	}
	return ir.NewProgram(code, result), nil
}

// compilation is the state of one Compile call: the emitted instructions,
// the memo tables and the name allocator.
type compilation struct {
	prefix  string
	types   expr.TypeMap
	batches []FluxBatch

	diffOps     []*expr.OperatorBinding
	exchangeOps []*expr.FluxExchange

	code []*ir.Instruction

	// cseVars memoizes common subexpressions by the identity of their child.
	cseVars map[expr.ID]expr.Expr
	// batchVars memoizes batched diff, flux and exchange results by
	// structural key.
	batchVars map[string]expr.Expr

	assigned  map[string]bool
	nextPlain int
}

func newCompilation(prefix string, types expr.TypeMap, batches []FluxBatch) *compilation {
	return &compilation{
		prefix:    prefix,
		types:     types,
		batches:   batches,
		cseVars:   make(map[expr.ID]expr.Expr),
		batchVars: make(map[string]expr.Expr),
		assigned:  make(map[string]bool),
	}
}

// collect gathers the diff and exchange applications of root and reserves
// the names of its free variables so no instruction shadows an input.
func (st *compilation) collect(root expr.Expr) {
	seenDiff := make(map[string]bool)
	for _, d := range st.diffOps {
		seenDiff[expr.Key(d)] = true
	}
	for _, d := range expr.CollectDiffBindings(root) {
		if k := expr.Key(d); !seenDiff[k] {
			seenDiff[k] = true
			st.diffOps = append(st.diffOps, d)
		}
	}

	seenExchange := make(map[string]bool)
	for _, x := range st.exchangeOps {
		seenExchange[expr.Key(x)] = true
	}
	for _, x := range expr.CollectExchanges(root) {
		if k := expr.Key(x); !seenExchange[k] {
			seenExchange[k] = true
			st.exchangeOps = append(st.exchangeOps, x)
		}
	}

	for _, name := range expr.Dependencies(root) {
		st.assigned[name] = true
	}
}

// varName allocates a fresh name. Without a prefix it generates
// "<stem>0", "<stem>1", ...; with one it tries the prefix, then
// "<prefix>_2", "<prefix>_3", ...
func (st *compilation) varName(prefix string) string {
	var name string
	if prefix == "" {
		for {
			name = st.prefix + strconv.Itoa(st.nextPlain)
			st.nextPlain++
			if !st.assigned[name] {
				break
			}
		}
	} else {
		name = prefix
		for i := 2; st.assigned[name]; i++ {
			name = prefix + "_" + strconv.Itoa(i)
		}
	}
	st.assigned[name] = true
	return name
}

// assignToNewVar emits an Assign of e and returns the new variable.
// Variables and subscripts are already addressable and are returned as is.
func (st *compilation) assignToNewVar(e expr.Expr, priority int, prefix string, scalar bool) (expr.Expr, error) {
	switch e.(type) {
	case *expr.Variable, *expr.Subscript:
		return e, nil
	}

	name := st.varName(prefix)
	in, err := ir.NewAssign([]string{name}, []expr.Expr{e}, priority, scalar)
	if err != nil {
		return nil, instructionError(err)
	}
	st.code = append(st.code, in)
	return expr.Var(name), nil
}

func (st *compilation) rec(e expr.Expr) (expr.Expr, error) {
	switch e := e.(type) {
	case *expr.Variable, *expr.Constant:
		return e, nil
	case *expr.Subscript:
		agg, err := st.rec(e.Aggregate)
		if err != nil {
			return nil, err
		}
		if agg == e.Aggregate {
			return e, nil
		}
		return expr.Sub(agg, e.Index), nil
	case *expr.Sum:
		terms, changed, err := st.recAll(e.Terms)
		if err != nil || !changed {
			return e, err
		}
		return expr.Add(terms...), nil
	case *expr.Product:
		factors, changed, err := st.recAll(e.Factors)
		if err != nil || !changed {
			return e, err
		}
		return expr.Mul(factors...), nil
	case *expr.Quotient:
		parts, changed, err := st.recAll([]expr.Expr{e.Numerator, e.Denominator})
		if err != nil || !changed {
			return e, err
		}
		return expr.Div(parts[0], parts[1]), nil
	case *expr.Power:
		parts, changed, err := st.recAll([]expr.Expr{e.Base, e.Exponent})
		if err != nil || !changed {
			return e, err
		}
		return expr.Pow(parts[0], parts[1]), nil
	case *expr.Call:
		return st.mapCall(e, "", 0)
	case *expr.CommonSubexpression:
		return st.mapCSE(e)
	case *expr.OperatorBinding:
		return st.mapOperatorBinding(e, "", 0)
	case *expr.Flux:
		return st.mapPlannedFlux(e)
	case *expr.FluxExchange:
		return st.mapFluxExchange(e)
	case *expr.Quantity:
		return st.assignToNewVar(e, 0, quantityPrefix(e), false)
	default:
		return nil, fmt.Errorf("compile: unsupported node %T", e)
	}
}

func (st *compilation) recAll(es []expr.Expr) ([]expr.Expr, bool, error) {
	out := make([]expr.Expr, len(es))
	changed := false
	for i, e := range es {
		r, err := st.rec(e)
		if err != nil {
			return nil, false, err
		}
		out[i] = r
		changed = changed || r != e
	}
	return out, changed, nil
}

func quantityPrefix(q *expr.Quantity) string {
	if q.Name == expr.QuantityOnes {
		return q.Name
	}
	return q.Name + strconv.Itoa(q.Axis)
}

// mapCall keeps primitive calls inline. Any other call gets its own
// variable, and so does each of its arguments.
func (st *compilation) mapCall(e *expr.Call, nameHint string, priority int) (expr.Expr, error) {
	if e.Func.Primitive {
		args, changed, err := st.recAll(e.Args)
		if err != nil || !changed {
			return e, err
		}
		return expr.CallFunc(e.Func, args...), nil
	}

	args := make([]expr.Expr, len(e.Args))
	for i, a := range e.Args {
		r, err := st.rec(a)
		if err != nil {
			return nil, err
		}
		if args[i], err = st.assignToNewVar(r, 0, "", st.types.IsScalar(a)); err != nil {
			return nil, err
		}
	}
	return st.assignToNewVar(expr.CallFunc(e.Func, args...), priority, nameHint, st.types.IsScalar(e))
}

func (st *compilation) mapCSE(e *expr.CommonSubexpression) (expr.Expr, error) {
	if v, ok := st.cseVars[e.Child.ID()]; ok {
		return v, nil
	}

	// Operator results and calls get their own variable anyway; name it
	// after the CSE instead of generating one.
	var child expr.Expr
	var err error
	switch c := e.Child.(type) {
	case *expr.OperatorBinding:
		child, err = st.mapOperatorBinding(c, e.Prefix, e.Priority)
	case *expr.Call:
		child, err = st.mapCall(c, e.Prefix, e.Priority)
	default:
		child, err = st.rec(e.Child)
	}
	if err != nil {
		return nil, err
	}

	v, err := st.assignToNewVar(child, e.Priority, e.Prefix, st.types.IsScalar(e))
	if err != nil {
		return nil, err
	}
	st.cseVars[e.Child.ID()] = v
	return v, nil
}

func (st *compilation) mapOperatorBinding(b *expr.OperatorBinding, nameHint string, priority int) (expr.Expr, error) {
	switch {
	case b.Op.IsDiff():
		return st.mapDiff(b)
	case b.Op.Kind == expr.OpFlux:
		return nil, &CompileError{
			Code:    ErrCodeFluxOperator,
			Field:   b.String(),
			Message: "flux operators must be expressed as flux nodes, not bound operators",
		}
	}

	// Operator applications stand alone and never mix into vector
	// arithmetic.
	field, err := st.rec(b.Field)
	if err != nil {
		return nil, err
	}
	fieldVar, err := st.assignToNewVar(field, 0, "", st.types.IsScalar(b.Field))
	if err != nil {
		return nil, err
	}
	return st.assignToNewVar(expr.Apply(b.Op, fieldVar), priority, nameHint, false)
}

// mapDiff emits one batch for every differentiation of b's field that
// differs from b at most in axis.
func (st *compilation) mapDiff(b *expr.OperatorBinding) (expr.Expr, error) {
	key := expr.Key(b)
	if v, ok := st.batchVars[key]; ok {
		return v, nil
	}

	fieldKey := expr.Key(b.Field)
	var batch []*expr.OperatorBinding
	for _, d := range st.diffOps {
		if d.Op.EqualExceptForAxis(b.Op) && expr.Key(d.Field) == fieldKey {
			batch = append(batch, d)
		}
	}
	if len(batch) == 0 {
		return nil, fmt.Errorf("compile: diff %s was not collected", b)
	}

	names := make([]string, len(batch))
	ops := make([]expr.Operator, len(batch))
	for i, d := range batch {
		names[i] = st.varName("")
		ops[i] = d.Op
	}
	field, err := st.rec(batch[0].Field)
	if err != nil {
		return nil, err
	}

	in, err := ir.NewDiffBatchAssign(names, ops, field)
	if err != nil {
		return nil, instructionError(err)
	}
	st.code = append(st.code, in)

	for i, d := range batch {
		st.batchVars[expr.Key(d)] = expr.Var(names[i])
	}
	return st.batchVars[key], nil
}

// mapFluxExchange emits one exchange for every exchange of the same
// argument fields.
func (st *compilation) mapFluxExchange(x *expr.FluxExchange) (expr.Expr, error) {
	key := expr.Key(x)
	if v, ok := st.batchVars[key]; ok {
		return v, nil
	}

	argsKey := argFieldsKey(x.ArgFields)
	var batch []*expr.FluxExchange
	for _, fe := range st.exchangeOps {
		if argFieldsKey(fe.ArgFields) == argsKey {
			batch = append(batch, fe)
		}
	}
	if len(batch) == 0 {
		return nil, fmt.Errorf("compile: exchange %s was not collected", x)
	}

	names := make([]string, len(batch))
	indicesAndRanks := make([]ir.IndexRank, len(batch))
	for i, fe := range batch {
		names[i] = st.varName("")
		indicesAndRanks[i] = ir.IndexRank{Index: fe.Index, Rank: fe.Rank}
	}
	args, _, err := st.recAll(x.ArgFields)
	if err != nil {
		return nil, err
	}

	in, err := ir.NewFluxExchangeBatchAssign(names, indicesAndRanks, args)
	if err != nil {
		return nil, instructionError(err)
	}
	st.code = append(st.code, in)

	for i, fe := range batch {
		st.batchVars[expr.Key(fe)] = expr.Var(names[i])
	}
	return st.batchVars[key], nil
}

func argFieldsKey(fields []expr.Expr) string {
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = expr.Key(f)
	}
	return strings.Join(keys, "\x00")
}

// mapPlannedFlux emits the batch containing f, with every member's operands
// compiled first.
func (st *compilation) mapPlannedFlux(f *expr.Flux) (expr.Expr, error) {
	key := expr.Key(f)
	if v, ok := st.batchVars[key]; ok {
		return v, nil
	}

	for _, fb := range st.batches {
		idx := -1
		for i, member := range fb.Fluxes {
			if expr.Key(member) == key {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}

		mapped := make([]*expr.Flux, len(fb.Fluxes))
		for i, member := range fb.Fluxes {
			m, err := st.mapFluxOperands(member)
			if err != nil {
				return nil, err
			}
			mapped[i] = m
		}

		names := make([]string, len(mapped))
		for i := range mapped {
			names[i] = st.varName("")
		}
		in, err := ir.NewFluxBatchAssign(names, mapped, fb.Repr)
		if err != nil {
			return nil, instructionError(err)
		}
		st.code = append(st.code, in)

		for i, member := range fb.Fluxes {
			st.batchVars[expr.Key(member)] = expr.Var(names[i])
		}
		return st.batchVars[key], nil
	}
	return nil, fmt.Errorf("compile: flux %s is not in any flux batch", f)
}

func (st *compilation) mapFluxOperands(f *expr.Flux) (*expr.Flux, error) {
	interiors := make([]expr.FluxInterior, len(f.Interiors))
	for i, in := range f.Interiors {
		field, err := st.rec(in.Field)
		if err != nil {
			return nil, err
		}
		interiors[i] = expr.FluxInterior{Flux: in.Flux, Field: field}
	}
	boundaries := make([]expr.FluxBoundary, len(f.Boundaries))
	for i, b := range f.Boundaries {
		bpair, err := st.rec(b.BPair)
		if err != nil {
			return nil, err
		}
		boundaries[i] = expr.FluxBoundary{Flux: b.Flux, BPair: bpair}
	}
	return expr.NewFlux(f.Repr, f.Lift, f.QuadratureTag, interiors, boundaries), nil
}

func instructionError(err error) error {
	return &CompileError{Code: ErrCodeInstruction, Message: err.Error()}
}
