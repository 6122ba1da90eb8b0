package compiler

import (
	"fmt"
	"sort"

	"github.com/roach88/opflow/internal/expr"
	"github.com/roach88/opflow/internal/ir"
)

// aggNode is an assignment under aggregation, or a fixed instruction that
// only serves as the origin of its names.
type aggNode struct {
	names     []string
	exprs     []expr.Expr
	priority  int
	deps      map[string]bool
	assignees map[string]bool
}

func newAggNode(in *ir.Instruction) *aggNode {
	n := &aggNode{
		names:     in.Names,
		exprs:     in.Exprs,
		priority:  in.Priority,
		deps:      make(map[string]bool),
		assignees: make(map[string]bool),
	}
	for _, d := range in.Dependencies() {
		n.deps[d] = true
	}
	for _, a := range in.Names {
		n.assignees[a] = true
	}
	return n
}

func (n *aggNode) related(other *aggNode) bool {
	return intersects(n.deps, other.deps) ||
		intersects(n.deps, other.assignees) ||
		intersects(other.deps, n.assignees)
}

func intersects(a, b map[string]bool) bool {
	if len(b) < len(a) {
		a, b = b, a
	}
	for k := range a {
		if b[k] {
			return true
		}
	}
	return false
}

// Aggregate greedily merges related vector assignments of equal priority
// into fused VectorExprAssign instructions.
//
// Scalar-valued assignments and non-Assign instructions are left alone.
// Assignments without arithmetic or with a provably zero value are not
// merged. Two assignments merge only if neither is an indirect origin of
// the other, so merging never creates a cycle, and, when maxVectors is
// positive, only if the merged assignees plus dependencies stay within it.
//
// Names consumed only inside their merged group are marked do_not_return.
func Aggregate(instructions []*ir.Instruction, result ir.Result, maxVectors int) ([]*ir.Instruction, error) {
	origins := make(map[string]*aggNode)
	var unprocessed, processed []*aggNode
	var others []*ir.Instruction

	for _, in := range instructions {
		n := newAggNode(in)
		for _, a := range in.Names {
			origins[a] = n
		}

		switch {
		case in.Kind != ir.KindAssign || in.ScalarValued:
			others = append(others, in)
		case in.FlopCount() == 0 || anyZero(in.Exprs):
			processed = append(processed, n)
		default:
			unprocessed = append(unprocessed, n)
		}
	}

	// indirectOrigins returns the transitive producers of n's inputs,
	// excluding the direct producers unless they are also reachable
	// through another instruction.
	indirectOrigins := func(n *aggNode) map[*aggNode]bool {
		out := make(map[*aggNode]bool)
		var visit func(m *aggNode)
		visit = func(m *aggNode) {
			for d := range m.deps {
				if o := origins[d]; o != nil && !out[o] {
					out[o] = true
					visit(o)
				}
			}
		}
		for d := range n.deps {
			if o := origins[d]; o != nil {
				visit(o)
			}
		}
		return out
	}

	for len(unprocessed) > 0 {
		mine := unprocessed[len(unprocessed)-1]
		unprocessed = unprocessed[:len(unprocessed)-1]

		merged := false
		var myIndirect map[*aggNode]bool
		for i, other := range unprocessed {
			if other.priority != mine.priority || !mine.related(other) {
				continue
			}
			if maxVectors > 0 && mergedWidth(mine, other) > maxVectors {
				continue
			}
			if myIndirect == nil {
				myIndirect = indirectOrigins(mine)
			}
			if myIndirect[other] || indirectOrigins(other)[mine] {
				continue
			}

			n := mergeAggNodes(mine, other)
			unprocessed = append(unprocessed[:i], unprocessed[i+1:]...)
			unprocessed = append(unprocessed, n)
			for _, a := range n.names {
				origins[a] = n
			}
			merged = true
			break
		}
		if !merged {
			processed = append(processed, mine)
		}
	}

	externallyUsed := make(map[string]bool)
	for _, n := range processed {
		for d := range n.deps {
			externallyUsed[d] = true
		}
	}
	for _, in := range others {
		for _, d := range in.Dependencies() {
			externallyUsed[d] = true
		}
	}
	for _, name := range expr.DependenciesOf(result.Exprs...) {
		externallyUsed[name] = true
	}

	out := make([]*ir.Instruction, 0, len(processed)+len(others))
	for _, n := range processed {
		in, err := finalizeAggregate(n, externallyUsed)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return append(out, others...), nil
}

func anyZero(es []expr.Expr) bool {
	for _, e := range es {
		if expr.IsZero(e) {
			return true
		}
	}
	return false
}

func mergedWidth(a, b *aggNode) int {
	names := make(map[string]bool)
	deps := make(map[string]bool)
	for _, n := range []*aggNode{a, b} {
		for k := range n.assignees {
			names[k] = true
		}
		for k := range n.deps {
			deps[k] = true
		}
	}
	return len(names) + len(deps)
}

func mergeAggNodes(a, b *aggNode) *aggNode {
	n := &aggNode{
		names:     append(append([]string{}, a.names...), b.names...),
		exprs:     append(append([]expr.Expr{}, a.exprs...), b.exprs...),
		priority:  max(a.priority, b.priority),
		deps:      make(map[string]bool),
		assignees: make(map[string]bool),
	}
	for _, name := range n.names {
		n.assignees[name] = true
	}
	for _, src := range []*aggNode{a, b} {
		for d := range src.deps {
			if !n.assignees[d] {
				n.deps[d] = true
			}
		}
	}
	return n
}

// finalizeAggregate orders a group so that every member follows the members
// it reads, breaking ties by expression text, and builds the fused
// instruction.
func finalizeAggregate(n *aggNode, externallyUsed map[string]bool) (*ir.Instruction, error) {
	type member struct {
		name string
		e    expr.Expr
		deps []string
	}

	var pending []member
	for i, name := range n.names {
		var internal []string
		for _, d := range expr.Dependencies(n.exprs[i]) {
			if n.assignees[d] {
				internal = append(internal, d)
			}
		}
		pending = append(pending, member{name: name, e: n.exprs[i], deps: internal})
	}

	available := make(map[string]bool)
	var names []string
	var exprs []expr.Expr
	for len(pending) > 0 {
		var ready, rest []member
		for _, m := range pending {
			ok := true
			for _, d := range m.deps {
				if !available[d] {
					ok = false
					break
				}
			}
			if ok {
				ready = append(ready, m)
			} else {
				rest = append(rest, m)
			}
		}
		if len(ready) == 0 {
			return nil, &CompileError{
				Code:    ErrCodeImpossibleAggregation,
				Field:   fmt.Sprintf("%v", n.names),
				Message: "aggregation resulted in an impossible assignment",
			}
		}

		sort.SliceStable(ready, func(i, j int) bool {
			si, sj := ready[i].e.String(), ready[j].e.String()
			if si != sj {
				return si < sj
			}
			if ki, kj := expr.Key(ready[i].e), expr.Key(ready[j].e); ki != kj {
				return ki < kj
			}
			return ready[i].name < ready[j].name
		})
		for _, m := range ready {
			names = append(names, m.name)
			exprs = append(exprs, m.e)
			available[m.name] = true
		}
		pending = rest
	}

	doNotReturn := make([]bool, len(names))
	for i, name := range names {
		doNotReturn[i] = !externallyUsed[name]
	}

	in, err := ir.NewVectorExprAssign(names, exprs, doNotReturn, n.priority)
	if err != nil {
		return nil, instructionError(err)
	}
	return in, nil
}
