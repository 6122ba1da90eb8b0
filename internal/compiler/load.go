package compiler

import (
	"context"
	"fmt"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/opflow/internal/expr"
	"github.com/roach88/opflow/internal/ir"
)

// Definition is a program definition decoded from CUE: the expression to
// compile plus the facts about its inputs the compiler needs.
type Definition struct {
	Name   string
	Inputs []string
	Hints  expr.TypeHints
	Roots  []expr.Expr
	Array  bool
}

// Compile lowers the definition with c.
func (d *Definition) Compile(ctx context.Context, c *Compiler) (*ir.Program, error) {
	if d.Array {
		return c.CompileArray(ctx, d.Roots, d.Hints)
	}
	return c.Compile(ctx, d.Roots[0], d.Hints)
}

// LoadPrograms decodes every definition under the top-level "program"
// struct, in declaration order.
//
//	program: chain: {
//		inputs: ["x"]
//		let a = {cse: {call: "f", args: ["x"]}, prefix: "a"}
//		result: {cse: {call: "g", args: [a]}, prefix: "b"}
//	}
func LoadPrograms(v cue.Value) ([]*Definition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	progs := v.LookupPath(cue.ParsePath("program"))
	if !progs.Exists() {
		return nil, schemaError(v, "program", "no program definitions")
	}

	iter, err := progs.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var defs []*Definition
	for iter.Next() {
		def, err := LoadProgram(iter.Value())
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadProgram decodes one program definition.
//
// Expression nodes are CUE structs keyed by their kind: var, const, sum,
// product, quotient, power, call, sub, cse, op, flux, exchange and
// quantity. A bare string is a variable and a bare number a constant.
// Structurally equal nodes are decoded to the same expression, so a CUE
// value referenced twice is one common subexpression.
func LoadProgram(v cue.Value) (*Definition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &Definition{Hints: make(expr.TypeHints)}
	if sels := v.Path().Selectors(); len(sels) > 0 {
		def.Name = strings.Trim(sels[len(sels)-1].String(), `"`)
	}

	if in, ok := lookup(v, "inputs"); ok {
		names, err := stringList(in, "inputs")
		if err != nil {
			return nil, err
		}
		def.Inputs = names
	}

	if hints, ok := lookup(v, "hints"); ok {
		iter, err := hints.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			s, err := iter.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			k, err := expr.ParseKind(s)
			if err != nil {
				return nil, schemaError(iter.Value(), "hints."+iter.Selector().String(), err.Error())
			}
			def.Hints[iter.Selector().String()] = k
		}
	}

	d := &decoder{interned: make(map[string]expr.Expr)}
	result, hasResult := lookup(v, "result")
	results, hasResults := lookup(v, "results")
	switch {
	case hasResult && hasResults:
		return nil, schemaError(v, "result", "result and results are mutually exclusive")
	case hasResult:
		root, err := d.node(result, "result")
		if err != nil {
			return nil, err
		}
		def.Roots = []expr.Expr{root}
	case hasResults:
		roots, err := d.list(results, "results")
		if err != nil {
			return nil, err
		}
		if len(roots) == 0 {
			return nil, schemaError(results, "results", "at least one result is required")
		}
		def.Roots = roots
		def.Array = true
	default:
		return nil, schemaError(v, "result", "result or results is required")
	}
	return def, nil
}

type decoder struct {
	interned map[string]expr.Expr
}

func (d *decoder) intern(e expr.Expr) expr.Expr {
	key := expr.Key(e)
	if prev, ok := d.interned[key]; ok {
		return prev
	}
	d.interned[key] = e
	return e
}

func (d *decoder) node(v cue.Value, field string) (expr.Expr, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	switch v.IncompleteKind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return d.intern(expr.Var(s)), nil
	case cue.IntKind, cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return d.intern(expr.Const(f)), nil
	case cue.StructKind:
		e, err := d.structNode(v, field)
		if err != nil {
			return nil, err
		}
		return d.intern(e), nil
	default:
		return nil, schemaError(v, field, fmt.Sprintf("expected a variable name, a number or a node, got %v", v.IncompleteKind()))
	}
}

func (d *decoder) list(v cue.Value, field string) ([]expr.Expr, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []expr.Expr
	for i := 0; iter.Next(); i++ {
		e, err := d.node(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (d *decoder) structNode(v cue.Value, field string) (expr.Expr, error) {
	if x, ok := lookup(v, "var"); ok {
		name, err := x.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return expr.Var(name), nil
	}

	if x, ok := lookup(v, "const"); ok {
		f, err := x.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return expr.Const(f), nil
	}

	if x, ok := lookup(v, "sum"); ok {
		terms, err := d.list(x, field+".sum")
		if err != nil {
			return nil, err
		}
		if len(terms) == 0 {
			return nil, schemaError(x, field+".sum", "at least one term is required")
		}
		return expr.Add(terms...), nil
	}

	if x, ok := lookup(v, "product"); ok {
		factors, err := d.list(x, field+".product")
		if err != nil {
			return nil, err
		}
		if len(factors) == 0 {
			return nil, schemaError(x, field+".product", "at least one factor is required")
		}
		return expr.Mul(factors...), nil
	}

	if x, ok := lookup(v, "quotient"); ok {
		parts, err := d.pair(x, field+".quotient")
		if err != nil {
			return nil, err
		}
		return expr.Div(parts[0], parts[1]), nil
	}

	if x, ok := lookup(v, "power"); ok {
		parts, err := d.pair(x, field+".power")
		if err != nil {
			return nil, err
		}
		return expr.Pow(parts[0], parts[1]), nil
	}

	if x, ok := lookup(v, "call"); ok {
		name, err := x.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		var args []expr.Expr
		if a, ok := lookup(v, "args"); ok {
			if args, err = d.list(a, field+".args"); err != nil {
				return nil, err
			}
		}
		primitive, err := optionalBool(v, "primitive")
		if err != nil {
			return nil, err
		}
		return expr.CallFunc(expr.Function{Name: name, Primitive: primitive}, args...), nil
	}

	if x, ok := lookup(v, "sub"); ok {
		agg, err := d.node(x, field+".sub")
		if err != nil {
			return nil, err
		}
		index, err := requiredInt(v, "index", field)
		if err != nil {
			return nil, err
		}
		return expr.Sub(agg, index), nil
	}

	if x, ok := lookup(v, "cse"); ok {
		child, err := d.node(x, field+".cse")
		if err != nil {
			return nil, err
		}
		prefix, err := optionalString(v, "prefix")
		if err != nil {
			return nil, err
		}
		priority, err := optionalInt(v, "priority")
		if err != nil {
			return nil, err
		}
		return expr.CSEWithPriority(child, prefix, priority), nil
	}

	if x, ok := lookup(v, "op"); ok {
		return d.operator(v, x, field)
	}

	if x, ok := lookup(v, "flux"); ok {
		return d.flux(v, x, field)
	}

	if x, ok := lookup(v, "exchange"); ok {
		args, err := d.list(x, field+".exchange")
		if err != nil {
			return nil, err
		}
		index, err := requiredInt(v, "index", field)
		if err != nil {
			return nil, err
		}
		rank, err := requiredInt(v, "rank", field)
		if err != nil {
			return nil, err
		}
		return expr.Exchange(index, rank, args...), nil
	}

	if x, ok := lookup(v, "quantity"); ok {
		name, err := x.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		axis, err := optionalInt(v, "axis")
		if err != nil {
			return nil, err
		}
		switch name {
		case expr.QuantityOnes:
			return expr.Ones(), nil
		case expr.QuantityNodes:
			return expr.Nodes(axis), nil
		case expr.QuantityNormal:
			return expr.Normal(axis), nil
		default:
			return nil, schemaError(x, field+".quantity", fmt.Sprintf("unknown quantity %q", name))
		}
	}

	return nil, schemaError(v, field, "node has no kind: expected one of var, const, sum, product, quotient, power, call, sub, cse, op, flux, exchange, quantity")
}

func (d *decoder) pair(v cue.Value, field string) ([2]expr.Expr, error) {
	var out [2]expr.Expr
	parts, err := d.list(v, field)
	if err != nil {
		return out, err
	}
	if len(parts) != 2 {
		return out, schemaError(v, field, fmt.Sprintf("expected 2 operands, got %d", len(parts)))
	}
	copy(out[:], parts)
	return out, nil
}

func (d *decoder) operator(v, name cue.Value, field string) (expr.Expr, error) {
	opName, err := name.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	kindName, err := optionalString(v, "kind")
	if err != nil {
		return nil, err
	}
	axis, err := optionalInt(v, "axis")
	if err != nil {
		return nil, err
	}
	tag, err := optionalString(v, "tag")
	if err != nil {
		return nil, err
	}

	op := expr.Operator{Name: opName, Axis: axis, Tag: tag}
	switch kindName {
	case "", "generic":
		op.Kind = expr.OpGeneric
	case "diff":
		op.Kind = expr.OpRefDiff
	case "quad_diff":
		op.Kind = expr.OpQuadratureStiffnessT
	case "flux":
		op.Kind = expr.OpFlux
	default:
		return nil, schemaError(v, field+".kind", fmt.Sprintf("unknown operator kind %q", kindName))
	}

	fv, ok := lookup(v, "field")
	if !ok {
		return nil, schemaError(v, field+".field", "operator field is required")
	}
	f, err := d.node(fv, field+".field")
	if err != nil {
		return nil, err
	}
	return expr.Apply(op, f), nil
}

func (d *decoder) flux(v, repr cue.Value, field string) (expr.Expr, error) {
	reprName, err := repr.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	lift, err := optionalBool(v, "lift")
	if err != nil {
		return nil, err
	}
	quad, err := optionalString(v, "quadrature")
	if err != nil {
		return nil, err
	}

	var interiors []expr.FluxInterior
	if x, ok := lookup(v, "interior"); ok {
		iter, err := x.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for i := 0; iter.Next(); i++ {
			sub := fmt.Sprintf("%s.interior[%d]", field, i)
			name, err := requiredString(iter.Value(), "flux", sub)
			if err != nil {
				return nil, err
			}
			fv, ok := lookup(iter.Value(), "field")
			if !ok {
				return nil, schemaError(iter.Value(), sub+".field", "interior field is required")
			}
			f, err := d.node(fv, sub+".field")
			if err != nil {
				return nil, err
			}
			interiors = append(interiors, expr.FluxInterior{Flux: name, Field: f})
		}
	}

	var boundaries []expr.FluxBoundary
	if x, ok := lookup(v, "boundary"); ok {
		iter, err := x.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for i := 0; iter.Next(); i++ {
			sub := fmt.Sprintf("%s.boundary[%d]", field, i)
			name, err := requiredString(iter.Value(), "flux", sub)
			if err != nil {
				return nil, err
			}
			bv, ok := lookup(iter.Value(), "bpair")
			if !ok {
				return nil, schemaError(iter.Value(), sub+".bpair", "boundary pair is required")
			}
			b, err := d.node(bv, sub+".bpair")
			if err != nil {
				return nil, err
			}
			boundaries = append(boundaries, expr.FluxBoundary{Flux: name, BPair: b})
		}
	}

	if len(interiors) == 0 && len(boundaries) == 0 {
		return nil, schemaError(v, field+".flux", "flux needs at least one interior or boundary term")
	}
	return expr.NewFlux(reprName, lift, quad, interiors, boundaries), nil
}

func lookup(v cue.Value, name string) (cue.Value, bool) {
	x := v.LookupPath(cue.MakePath(cue.Str(name)))
	return x, x.Exists()
}

func stringList(v cue.Value, field string) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

func requiredString(v cue.Value, name, field string) (string, error) {
	x, ok := lookup(v, name)
	if !ok {
		return "", schemaError(v, field+"."+name, name+" is required")
	}
	s, err := x.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func requiredInt(v cue.Value, name, field string) (int, error) {
	x, ok := lookup(v, name)
	if !ok {
		return 0, schemaError(v, field+"."+name, name+" is required")
	}
	n, err := x.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return int(n), nil
}

func optionalString(v cue.Value, name string) (string, error) {
	x, ok := lookup(v, name)
	if !ok {
		return "", nil
	}
	s, err := x.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalInt(v cue.Value, name string) (int, error) {
	x, ok := lookup(v, name)
	if !ok {
		return 0, nil
	}
	n, err := x.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return int(n), nil
}

func optionalBool(v cue.Value, name string) (bool, error) {
	x, ok := lookup(v, name)
	if !ok {
		return false, nil
	}
	b, err := x.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

func schemaError(v cue.Value, field, msg string) error {
	return &CompileError{Code: ErrCodeSchema, Field: field, Message: msg, Pos: v.Pos()}
}
