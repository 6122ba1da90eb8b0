package evaluator

import (
	"fmt"
	"math"

	"github.com/roach88/opflow/internal/expr"
	"github.com/roach88/opflow/internal/ir"
)

// Unary is a generic operator applied to one field.
type Unary func(v ir.Value) (ir.Value, error)

// DiffFunc applies a differentiation operator. op carries the axis and the
// discretization tag.
type DiffFunc func(op expr.Operator, v ir.Value) (ir.Value, error)

// FluxFunc evaluates one interior or boundary term of a flux.
type FluxFunc func(v ir.Value) (ir.Value, error)

// Func is a called function.
type Func func(args []ir.Value) (ir.Value, error)

// QuantityFunc supplies a geometric quantity along axis.
type QuantityFunc func(axis int) (ir.Value, error)

// Registry maps the names in expressions to their numerical meaning.
//
// A Registry is configured before use and only read afterwards.
type Registry struct {
	operators  map[string]Unary
	diffs      map[string]DiffFunc
	fluxes     map[string]FluxFunc
	funcs      map[string]Func
	quantities map[string]QuantityFunc
	lift       Unary
}

// NewRegistry creates a Registry holding the primitive functions sin, cos,
// exp, sqrt, abs and log.
func NewRegistry() *Registry {
	r := &Registry{
		operators:  make(map[string]Unary),
		diffs:      make(map[string]DiffFunc),
		fluxes:     make(map[string]FluxFunc),
		funcs:      make(map[string]Func),
		quantities: make(map[string]QuantityFunc),
	}
	r.Func("sin", elementwise(math.Sin))
	r.Func("cos", elementwise(math.Cos))
	r.Func("exp", elementwise(math.Exp))
	r.Func("sqrt", elementwise(math.Sqrt))
	r.Func("abs", elementwise(math.Abs))
	r.Func("log", elementwise(math.Log))
	return r
}

// Operator registers a generic operator.
func (r *Registry) Operator(name string, fn Unary) *Registry {
	r.operators[name] = fn
	return r
}

// Diff registers a differentiation operator for every axis and tag.
func (r *Registry) Diff(name string, fn DiffFunc) *Registry {
	r.diffs[name] = fn
	return r
}

// Flux registers a flux term.
func (r *Registry) Flux(name string, fn FluxFunc) *Registry {
	r.fluxes[name] = fn
	return r
}

// Func registers a function.
func (r *Registry) Func(name string, fn Func) *Registry {
	r.funcs[name] = fn
	return r
}

// Quantity registers a geometric quantity.
func (r *Registry) Quantity(name string, fn QuantityFunc) *Registry {
	r.quantities[name] = fn
	return r
}

// Lift sets the operator applied to lifted fluxes. Without one lifting is
// the identity.
func (r *Registry) Lift(fn Unary) *Registry {
	r.lift = fn
	return r
}

// Grid registers the geometric quantities of n equispaced nodes on [0, 1]
// along axis 0: ones, nodes and the outward normal.
func (r *Registry) Grid(n int) *Registry {
	ones := func() []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = 1
		}
		return out
	}
	r.Quantity(expr.QuantityOnes, func(int) (ir.Value, error) {
		return ones(), nil
	})
	r.Quantity(expr.QuantityNodes, func(axis int) (ir.Value, error) {
		out := make([]float64, n)
		if axis == 0 && n > 1 {
			for i := range out {
				out[i] = float64(i) / float64(n-1)
			}
		}
		return out, nil
	})
	r.Quantity(expr.QuantityNormal, func(axis int) (ir.Value, error) {
		if axis == 0 {
			return ones(), nil
		}
		return make([]float64, n), nil
	})
	return r
}

func (r *Registry) operator(name string) (Unary, error) {
	if fn, ok := r.operators[name]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("operator %q: %w", name, ErrUnknown)
}

func (r *Registry) diff(name string) (DiffFunc, error) {
	if fn, ok := r.diffs[name]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("diff operator %q: %w", name, ErrUnknown)
}

func (r *Registry) flux(name string) (FluxFunc, error) {
	if fn, ok := r.fluxes[name]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("flux %q: %w", name, ErrUnknown)
}

func (r *Registry) function(name string) (Func, error) {
	if fn, ok := r.funcs[name]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("function %q: %w", name, ErrUnknown)
}

func (r *Registry) quantity(name string) (QuantityFunc, error) {
	if fn, ok := r.quantities[name]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("quantity %q: %w", name, ErrUnknown)
}

func elementwise(fn func(float64) float64) Func {
	return func(args []ir.Value) (ir.Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: want 1 argument, got %d", ErrType, len(args))
		}
		return unary(args[0], fn)
	}
}

// Scale returns an operator multiplying by k.
func Scale(k float64) Unary {
	return func(v ir.Value) (ir.Value, error) {
		return unary(v, func(x float64) float64 { return k * x })
	}
}

// ForwardDifference returns a differentiation operator taking forward
// differences of a vector, scaled by k times one plus the axis. The last
// component is zero. Scalars differentiate to zero.
func ForwardDifference(k float64) DiffFunc {
	return func(op expr.Operator, v ir.Value) (ir.Value, error) {
		w := k * float64(op.Axis+1)
		switch x := v.(type) {
		case float64:
			return 0.0, nil
		case []float64:
			out := make([]float64, len(x))
			for i := 0; i+1 < len(x); i++ {
				out[i] = w * (x[i+1] - x[i])
			}
			return out, nil
		}
		return nil, fmt.Errorf("%w: cannot differentiate %T", ErrType, v)
	}
}
