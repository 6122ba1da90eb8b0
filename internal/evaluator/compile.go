package evaluator

import (
	"fmt"
	"math"

	"github.com/roach88/opflow/internal/expr"
	"github.com/roach88/opflow/internal/ir"
)

// env resolves names: kernel-local values first, then the context.
type env struct {
	context ir.ExecContext
	locals  map[string]ir.Value
}

func (e env) lookup(name string) (ir.Value, error) {
	if v, ok := e.locals[name]; ok {
		return v, nil
	}
	if v, ok := e.context[name]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("variable %q is not in the context", name)
}

// compiled is an expression turned into a closure. Registry lookups and
// tree dispatch happen once, when the closure is built.
type compiled func(e env) (ir.Value, error)

func (ev *Evaluator) compile(x expr.Expr) (compiled, error) {
	switch x := x.(type) {
	case *expr.Variable:
		name := x.Name
		return func(e env) (ir.Value, error) { return e.lookup(name) }, nil

	case *expr.Constant:
		v := x.Value
		return func(env) (ir.Value, error) { return v, nil }, nil

	case *expr.Subscript:
		agg, err := ev.compile(x.Aggregate)
		if err != nil {
			return nil, err
		}
		idx := x.Index
		return func(e env) (ir.Value, error) {
			v, err := agg(e)
			if err != nil {
				return nil, err
			}
			return subscript(v, idx)
		}, nil

	case *expr.Sum:
		return ev.fold(x.Terms, add)

	case *expr.Product:
		return ev.fold(x.Factors, mul)

	case *expr.Quotient:
		return ev.pair(x.Numerator, x.Denominator, div)

	case *expr.Power:
		return ev.pair(x.Base, x.Exponent, math.Pow)

	case *expr.Call:
		fn, err := ev.reg.function(x.Func.Name)
		if err != nil {
			return nil, err
		}
		args, err := ev.compileAll(x.Args)
		if err != nil {
			return nil, err
		}
		return func(e env) (ir.Value, error) {
			vals := make([]ir.Value, len(args))
			for i, a := range args {
				v, err := a(e)
				if err != nil {
					return nil, err
				}
				vals[i] = v
			}
			return fn(vals)
		}, nil

	case *expr.CommonSubexpression:
		return ev.compile(x.Child)

	case *expr.OperatorBinding:
		return ev.compileOperator(x.Op, x.Field)

	case *expr.Flux:
		return ev.compileFlux(x)

	case *expr.Quantity:
		fn, err := ev.reg.quantity(x.Name)
		if err != nil {
			return nil, err
		}
		axis := x.Axis
		return func(env) (ir.Value, error) { return fn(axis) }, nil

	case *expr.FluxExchange:
		return nil, fmt.Errorf("%s: exchanges are only evaluated by exchange instructions", x)
	}
	return nil, fmt.Errorf("cannot evaluate %T", x)
}

func (ev *Evaluator) compileAll(xs []expr.Expr) ([]compiled, error) {
	out := make([]compiled, len(xs))
	for i, x := range xs {
		c, err := ev.compile(x)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func (ev *Evaluator) fold(xs []expr.Expr, op func(x, y float64) float64) (compiled, error) {
	parts, err := ev.compileAll(xs)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty sum or product")
	}
	return func(e env) (ir.Value, error) {
		acc, err := parts[0](e)
		if err != nil {
			return nil, err
		}
		for _, p := range parts[1:] {
			v, err := p(e)
			if err != nil {
				return nil, err
			}
			if acc, err = binary(acc, v, op); err != nil {
				return nil, err
			}
		}
		return acc, nil
	}, nil
}

func (ev *Evaluator) pair(a, b expr.Expr, op func(x, y float64) float64) (compiled, error) {
	ca, err := ev.compile(a)
	if err != nil {
		return nil, err
	}
	cb, err := ev.compile(b)
	if err != nil {
		return nil, err
	}
	return func(e env) (ir.Value, error) {
		x, err := ca(e)
		if err != nil {
			return nil, err
		}
		y, err := cb(e)
		if err != nil {
			return nil, err
		}
		return binary(x, y, op)
	}, nil
}

func (ev *Evaluator) compileOperator(op expr.Operator, field expr.Expr) (compiled, error) {
	arg, err := ev.compile(field)
	if err != nil {
		return nil, err
	}
	var apply Unary
	switch {
	case op.IsDiff():
		fn, err := ev.reg.diff(op.Name)
		if err != nil {
			return nil, err
		}
		apply = func(v ir.Value) (ir.Value, error) { return fn(op, v) }
	case op.Kind == expr.OpGeneric:
		if apply, err = ev.reg.operator(op.Name); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("cannot apply %s operator %s", op.Kind, op)
	}
	return func(e env) (ir.Value, error) {
		v, err := arg(e)
		if err != nil {
			return nil, err
		}
		return apply(v)
	}, nil
}

// compileFlux sums the flux's interior and boundary terms, then lifts the
// sum when the flux asks for it.
func (ev *Evaluator) compileFlux(f *expr.Flux) (compiled, error) {
	type term struct {
		fn  FluxFunc
		arg compiled
	}
	var terms []term
	addTerm := func(name string, x expr.Expr) error {
		fn, err := ev.reg.flux(name)
		if err != nil {
			return err
		}
		arg, err := ev.compile(x)
		if err != nil {
			return err
		}
		terms = append(terms, term{fn: fn, arg: arg})
		return nil
	}
	for _, in := range f.Interiors {
		if err := addTerm(in.Flux, in.Field); err != nil {
			return nil, err
		}
	}
	for _, b := range f.Boundaries {
		if err := addTerm(b.Flux, b.BPair); err != nil {
			return nil, err
		}
	}
	if len(terms) == 0 {
		return nil, fmt.Errorf("%s: flux has no terms", f)
	}
	lift := ev.reg.lift
	if !f.Lift || lift == nil {
		lift = func(v ir.Value) (ir.Value, error) { return v, nil }
	}

	return func(e env) (ir.Value, error) {
		var acc ir.Value
		for i, t := range terms {
			x, err := t.arg(e)
			if err != nil {
				return nil, err
			}
			v, err := t.fn(x)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				acc = v
			} else if acc, err = binary(acc, v, add); err != nil {
				return nil, err
			}
		}
		return lift(acc)
	}, nil
}

func subscript(v ir.Value, idx int) (ir.Value, error) {
	switch x := v.(type) {
	case []ir.Value:
		if idx < 0 || idx >= len(x) {
			return nil, fmt.Errorf("index %d out of range for array of length %d", idx, len(x))
		}
		return x[idx], nil
	case []float64:
		if idx < 0 || idx >= len(x) {
			return nil, fmt.Errorf("index %d out of range for vector of length %d", idx, len(x))
		}
		return x[idx], nil
	}
	return nil, fmt.Errorf("%w: cannot subscript %T", ErrType, v)
}
