package ir

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/opflow/internal/expr"
)

// Kind tags the instruction variant.
type Kind int

const (
	KindAssign Kind = iota + 1
	KindVectorExprAssign
	KindFluxBatchAssign
	KindDiffBatchAssign
	KindQuadratureDiffBatchAssign
	KindFluxExchangeBatchAssign
)

func (k Kind) String() string {
	switch k {
	case KindAssign:
		return "Assign"
	case KindVectorExprAssign:
		return "VectorExprAssign"
	case KindFluxBatchAssign:
		return "FluxBatchAssign"
	case KindDiffBatchAssign:
		return "DiffBatchAssign"
	case KindQuadratureDiffBatchAssign:
		return "QuadratureDiffBatchAssign"
	case KindFluxExchangeBatchAssign:
		return "FluxExchangeBatchAssign"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// IndexRank identifies one exchanged value: component Index from Rank.
type IndexRank struct {
	Index int
	Rank  int
}

// IndexName pairs an exchanged component with the name it is assigned to.
type IndexName struct {
	Index int
	Name  string
}

// Instruction is one scheduling unit. Which payload fields are meaningful
// depends on Kind.
//
// Instructions are compared by pointer. Two instructions with identical
// fields are still distinct nodes of the dependency graph.
type Instruction struct {
	Kind     Kind
	Names    []string
	Priority int
	Comment  string

	// Assign and VectorExprAssign.
	Exprs        []expr.Expr
	DoNotReturn  []bool
	ScalarValued bool

	// FluxBatchAssign. Every flux shares ReprOp.
	Fluxes []*expr.Flux
	ReprOp string

	// DiffBatchAssign and QuadratureDiffBatchAssign. Operators are pairwise
	// equal except for axis and all act on Field.
	Operators []expr.Operator
	Field     expr.Expr

	// FluxExchangeBatchAssign.
	IndicesAndRanks    []IndexRank
	RankToIndexAndName map[int][]IndexName
	ArgFields          []expr.Expr

	depsOnce sync.Once
	deps     []string
}

// NewAssign creates an Assign of exprs to names.
func NewAssign(names []string, exprs []expr.Expr, priority int, scalarValued bool) (*Instruction, error) {
	in := &Instruction{
		Kind:         KindAssign,
		Names:        names,
		Priority:     priority,
		Exprs:        exprs,
		DoNotReturn:  make([]bool, len(names)),
		ScalarValued: scalarValued,
	}
	return in, in.Check()
}

// NewVectorExprAssign creates a fused assignment. doNotReturn marks names
// that are consumed inside the instruction and never written to the context.
func NewVectorExprAssign(names []string, exprs []expr.Expr, doNotReturn []bool, priority int) (*Instruction, error) {
	in := &Instruction{
		Kind:        KindVectorExprAssign,
		Names:       names,
		Priority:    priority,
		Comment:     "compiled",
		Exprs:       exprs,
		DoNotReturn: doNotReturn,
	}
	return in, in.Check()
}

// NewFluxBatchAssign creates a batch of fluxes sharing reprOp.
func NewFluxBatchAssign(names []string, fluxes []*expr.Flux, reprOp string) (*Instruction, error) {
	in := &Instruction{
		Kind:    KindFluxBatchAssign,
		Names:   names,
		Comment: reprOp,
		Fluxes:  fluxes,
		ReprOp:  reprOp,
	}
	if err := in.Check(); err != nil {
		return nil, err
	}
	for _, f := range fluxes {
		if f.Repr != reprOp {
			return nil, fmt.Errorf("flux batch %q: member %s has repr %q", reprOp, f, f.Repr)
		}
	}
	return in, nil
}

// NewDiffBatchAssign creates a batch of differentiations of field. A batch of
// quadrature stiffness operators becomes a QuadratureDiffBatchAssign.
func NewDiffBatchAssign(names []string, ops []expr.Operator, field expr.Expr) (*Instruction, error) {
	if len(ops) == 0 {
		return nil, fmt.Errorf("diff batch: no operators")
	}
	kind := KindDiffBatchAssign
	if ops[0].Kind == expr.OpQuadratureStiffnessT {
		kind = KindQuadratureDiffBatchAssign
	}
	for _, op := range ops[1:] {
		if !op.EqualExceptForAxis(ops[0]) {
			return nil, fmt.Errorf("diff batch: %s and %s differ beyond axis", ops[0], op)
		}
	}
	in := &Instruction{
		Kind:      kind,
		Names:     names,
		Operators: ops,
		Field:     field,
	}
	return in, in.Check()
}

// NewFluxExchangeBatchAssign creates an exchange of argFields. names[i]
// receives indicesAndRanks[i]. Exchanges run at priority 1 so they are
// issued as early as possible.
func NewFluxExchangeBatchAssign(names []string, indicesAndRanks []IndexRank, argFields []expr.Expr) (*Instruction, error) {
	byRank := make(map[int][]IndexName)
	for i, x := range indicesAndRanks {
		if i < len(names) {
			byRank[x.Rank] = append(byRank[x.Rank], IndexName{Index: x.Index, Name: names[i]})
		}
	}
	in := &Instruction{
		Kind:               KindFluxExchangeBatchAssign,
		Names:              names,
		Priority:           1,
		IndicesAndRanks:    indicesAndRanks,
		RankToIndexAndName: byRank,
		ArgFields:          argFields,
	}
	return in, in.Check()
}

// Check validates the instruction's names and payload shape.
func (in *Instruction) Check() error {
	if len(in.Names) == 0 {
		return fmt.Errorf("%s: no names", in.Kind)
	}
	seen := make(map[string]bool, len(in.Names))
	for _, n := range in.Names {
		if n == "" {
			return fmt.Errorf("%s: empty name", in.Kind)
		}
		if seen[n] {
			return fmt.Errorf("%s: duplicate name %q", in.Kind, n)
		}
		seen[n] = true
	}

	var payload int
	switch in.Kind {
	case KindAssign, KindVectorExprAssign:
		payload = len(in.Exprs)
		if len(in.DoNotReturn) != len(in.Names) {
			return fmt.Errorf("%s: %d do_not_return flags for %d names", in.Kind, len(in.DoNotReturn), len(in.Names))
		}
	case KindFluxBatchAssign:
		payload = len(in.Fluxes)
	case KindDiffBatchAssign, KindQuadratureDiffBatchAssign:
		payload = len(in.Operators)
		if in.Field == nil {
			return fmt.Errorf("%s: no field", in.Kind)
		}
	case KindFluxExchangeBatchAssign:
		payload = len(in.IndicesAndRanks)
	default:
		return fmt.Errorf("unknown instruction kind %d", int(in.Kind))
	}
	if payload != len(in.Names) {
		return fmt.Errorf("%s: %d names for %d values", in.Kind, len(in.Names), payload)
	}
	return nil
}

// Assignees returns the names the instruction produces.
func (in *Instruction) Assignees() []string {
	return in.Names
}

// Dependencies returns the sorted names the instruction reads, excluding its
// own assignees. The set is computed once.
//
// Exchange dependencies are the fields that must exist before the exchange
// is issued, not the received payload.
func (in *Instruction) Dependencies() []string {
	in.depsOnce.Do(func() {
		var sources []expr.Expr
		switch in.Kind {
		case KindAssign, KindVectorExprAssign:
			sources = in.Exprs
		case KindFluxBatchAssign:
			for _, f := range in.Fluxes {
				sources = append(sources, f)
			}
		case KindDiffBatchAssign, KindQuadratureDiffBatchAssign:
			sources = []expr.Expr{in.Field}
		case KindFluxExchangeBatchAssign:
			sources = in.ArgFields
		}

		own := make(map[string]bool, len(in.Names))
		for _, n := range in.Names {
			own[n] = true
		}
		deps := []string{}
		for _, d := range expr.DependenciesOf(sources...) {
			if !own[d] {
				deps = append(deps, d)
			}
		}
		in.deps = deps
	})
	return in.deps
}

// DependsOn reports whether name is among the instruction's dependencies.
func (in *Instruction) DependsOn(name string) bool {
	deps := in.Dependencies()
	i := sort.SearchStrings(deps, name)
	return i < len(deps) && deps[i] == name
}

// FlopCount is the arithmetic cost of the instruction's expressions.
func (in *Instruction) FlopCount() int {
	n := 0
	for _, e := range in.Exprs {
		n += expr.FlopCount(e)
	}
	return n
}

// ExecutionMethod returns the evaluator hook for the instruction's variant.
func (in *Instruction) ExecutionMethod(ev Evaluator) (Hook, error) {
	switch in.Kind {
	case KindAssign:
		return ev.ExecAssign, nil
	case KindVectorExprAssign:
		return ev.ExecVectorExprAssign, nil
	case KindFluxBatchAssign:
		return ev.ExecFluxBatchAssign, nil
	case KindDiffBatchAssign:
		return ev.ExecDiffBatchAssign, nil
	case KindQuadratureDiffBatchAssign:
		return ev.ExecQuadratureDiffBatchAssign, nil
	case KindFluxExchangeBatchAssign:
		return ev.ExecFluxExchangeBatchAssign, nil
	default:
		return nil, fmt.Errorf("no execution method for %s", in.Kind)
	}
}

func (in *Instruction) String() string {
	switch in.Kind {
	case KindAssign, KindVectorExprAssign:
		return in.assignString()
	case KindFluxBatchAssign:
		lines := []string{"{ /* " + in.ReprOp + " */"}
		for i, n := range in.Names {
			lines = append(lines, "  "+n+" <- "+in.Fluxes[i].String())
		}
		return strings.Join(append(lines, "}"), "\n")
	case KindDiffBatchAssign:
		if len(in.Names) == 1 {
			return fmt.Sprintf("%s <- %s(%s)", in.Names[0], in.Operators[0], in.Field)
		}
		lines := []string{"{"}
		for i, n := range in.Names {
			lines = append(lines, fmt.Sprintf("  %s <- %s(%s)", n, in.Operators[i], in.Field))
		}
		return strings.Join(append(lines, "}"), "\n")
	case KindQuadratureDiffBatchAssign:
		// Always a block so the kind shows even for a single operator.
		lines := []string{"{ /* " + expr.OpQuadratureStiffnessT.String() + " */"}
		for i, n := range in.Names {
			lines = append(lines, fmt.Sprintf("  %s <- %s(%s)", n, in.Operators[i], in.Field))
		}
		return strings.Join(append(lines, "}"), "\n")
	case KindFluxExchangeBatchAssign:
		args := make([]string, len(in.ArgFields))
		for i, a := range in.ArgFields {
			args[i] = a.String()
		}
		lines := []string{"{"}
		for i, n := range in.Names {
			x := in.IndicesAndRanks[i]
			lines = append(lines, fmt.Sprintf("  %s <- receive index %d from rank %d [%s]",
				n, x.Index, x.Rank, strings.Join(args, ", ")))
		}
		return strings.Join(append(lines, "}"), "\n")
	default:
		return in.Kind.String()
	}
}

func (in *Instruction) assignString() string {
	if len(in.Names) == 1 {
		comment := ""
		if in.Comment != "" {
			comment = "/* " + in.Comment + " */ "
		}
		return in.Names[0] + " <- " + comment + in.Exprs[0].String()
	}

	head := "{"
	if in.Comment != "" {
		head += " /* " + in.Comment + " */"
	}
	lines := []string{head}
	for i, n := range in.Names {
		arrow := "<-"
		if in.DoNotReturn[i] {
			arrow = "<-#-"
		}
		lines = append(lines, "  "+n+" "+arrow+" "+in.Exprs[i].String())
	}
	return strings.Join(append(lines, "}"), "\n")
}
