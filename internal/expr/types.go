package expr

import "fmt"

// Kind classifies the value an expression produces.
type Kind int

const (
	// KindVector is an element-wise (array-valued) quantity.
	KindVector Kind = iota
	// KindScalar is a single number.
	KindScalar
)

func (k Kind) String() string {
	if k == KindScalar {
		return "scalar"
	}
	return "vector"
}

// ParseKind parses "scalar" or "vector".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "scalar":
		return KindScalar, nil
	case "vector", "elementwise":
		return KindVector, nil
	default:
		return KindVector, fmt.Errorf("unknown type kind %q: want scalar or vector", s)
	}
}

// TypeHints maps variable names to their kind. Unhinted variables are
// vectors.
type TypeHints map[string]Kind

// TypeMap is the inferred kind of every node, keyed by identity.
type TypeMap map[ID]Kind

// IsScalar reports whether the node with identity id was inferred scalar.
func (m TypeMap) IsScalar(e Expr) bool {
	return m[e.ID()] == KindScalar
}

// InferTypes classifies every node reachable from root.
//
// Constants are scalar. Arithmetic and calls are vectors if any operand is.
// Operator bindings, fluxes, exchanges and geometric quantities are always
// vectors.
func InferTypes(root Expr, hints TypeHints) (TypeMap, error) {
	m := make(TypeMap)
	if _, err := infer(root, hints, m); err != nil {
		return nil, err
	}
	return m, nil
}

func infer(e Expr, hints TypeHints, m TypeMap) (Kind, error) {
	if e == nil {
		return KindVector, fmt.Errorf("type inference: nil expression")
	}
	if k, ok := m[e.ID()]; ok {
		return k, nil
	}

	var k Kind
	switch e := e.(type) {
	case *Variable:
		k = KindVector
		if h, ok := hints[e.Name]; ok {
			k = h
		}
	case *Constant:
		k = KindScalar
	case *Subscript:
		if _, err := infer(e.Aggregate, hints, m); err != nil {
			return k, err
		}
		k = KindVector
		if m[e.Aggregate.ID()] == KindScalar {
			k = KindScalar
		}
	case *CommonSubexpression:
		ck, err := infer(e.Child, hints, m)
		if err != nil {
			return k, err
		}
		k = ck
	case *Sum, *Product, *Quotient, *Power, *Call:
		k = KindScalar
		for _, c := range Children(e) {
			ck, err := infer(c, hints, m)
			if err != nil {
				return k, err
			}
			if ck == KindVector {
				k = KindVector
			}
		}
	case *OperatorBinding, *Flux, *FluxExchange:
		for _, c := range Children(e) {
			if _, err := infer(c, hints, m); err != nil {
				return k, err
			}
		}
		k = KindVector
	case *Quantity:
		k = KindVector
	default:
		return k, fmt.Errorf("type inference: unsupported node %T", e)
	}

	m[e.ID()] = k
	return k, nil
}
