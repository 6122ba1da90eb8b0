package expr

import "sort"

// Children returns the immediate sub-expressions of e in evaluation order.
func Children(e Expr) []Expr {
	switch e := e.(type) {
	case *Subscript:
		return []Expr{e.Aggregate}
	case *Sum:
		return e.Terms
	case *Product:
		return e.Factors
	case *Quotient:
		return []Expr{e.Numerator, e.Denominator}
	case *Power:
		return []Expr{e.Base, e.Exponent}
	case *Call:
		return e.Args
	case *CommonSubexpression:
		return []Expr{e.Child}
	case *OperatorBinding:
		return []Expr{e.Field}
	case *Flux:
		out := make([]Expr, 0, len(e.Interiors)+len(e.Boundaries))
		for _, in := range e.Interiors {
			out = append(out, in.Field)
		}
		for _, b := range e.Boundaries {
			out = append(out, b.BPair)
		}
		return out
	case *FluxExchange:
		return e.ArgFields
	default:
		return nil
	}
}

// Walk visits e and its descendants in pre-order. Returning false from fn
// skips the children of the visited node.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	for _, c := range Children(e) {
		Walk(c, fn)
	}
}

// Dependencies returns the sorted names of the variables e reads.
//
// Call targets are not data dependencies; call arguments are. A subscript
// depends on its aggregate variable. Operator bindings, fluxes and
// exchanges contribute the dependencies of their operands.
func Dependencies(e Expr) []string {
	seen := make(map[string]bool)
	Walk(e, func(n Expr) bool {
		if v, ok := n.(*Variable); ok {
			seen[v.Name] = true
		}
		return true
	})
	return sortedKeys(seen)
}

// DependenciesOf is Dependencies over several expressions.
func DependenciesOf(es ...Expr) []string {
	seen := make(map[string]bool)
	for _, e := range es {
		for _, d := range Dependencies(e) {
			seen[d] = true
		}
	}
	return sortedKeys(seen)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FlopCount estimates the arithmetic work of evaluating e once.
// Leaves and operator applications cost nothing at this level.
func FlopCount(e Expr) int {
	n := 0
	Walk(e, func(x Expr) bool {
		switch x := x.(type) {
		case *Sum:
			n += len(x.Terms) - 1
		case *Product:
			n += len(x.Factors) - 1
		case *Quotient, *Power:
			n++
		case *Call:
			n++
		}
		return true
	})
	return n
}

// IsZero reports whether e is provably zero.
func IsZero(e Expr) bool {
	switch e := e.(type) {
	case *Constant:
		return e.Value == 0
	case *Product:
		for _, f := range e.Factors {
			if IsZero(f) {
				return true
			}
		}
	}
	return false
}

// CollectFluxes returns every flux in e, including fluxes nested inside
// other fluxes, deduplicated by structural key in first-seen order.
func CollectFluxes(e Expr) []*Flux {
	var out []*Flux
	seen := make(map[string]bool)
	Walk(e, func(n Expr) bool {
		if f, ok := n.(*Flux); ok {
			if k := Key(f); !seen[k] {
				seen[k] = true
				out = append(out, f)
			}
		}
		return true
	})
	return out
}

// CollectDiffBindings returns every operator binding of a differentiation
// operator in e, deduplicated by structural key in first-seen order.
func CollectDiffBindings(e Expr) []*OperatorBinding {
	var out []*OperatorBinding
	seen := make(map[string]bool)
	Walk(e, func(n Expr) bool {
		if b, ok := n.(*OperatorBinding); ok && b.Op.IsDiff() {
			if k := Key(b); !seen[k] {
				seen[k] = true
				out = append(out, b)
			}
		}
		return true
	})
	return out
}

// CollectExchanges returns every flux exchange in e, deduplicated by
// structural key in first-seen order.
func CollectExchanges(e Expr) []*FluxExchange {
	var out []*FluxExchange
	seen := make(map[string]bool)
	Walk(e, func(n Expr) bool {
		if x, ok := n.(*FluxExchange); ok {
			if k := Key(x); !seen[k] {
				seen[k] = true
				out = append(out, x)
			}
		}
		return true
	})
	return out
}
