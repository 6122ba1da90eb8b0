package expr

import (
	"fmt"
	"strconv"
)

// OpKind classifies operators for the compiler's batching decisions.
type OpKind int

const (
	// OpGeneric is any operator without batching support. Its operand is
	// forced into its own variable.
	OpGeneric OpKind = iota
	// OpRefDiff is a reference-element differentiation operator.
	OpRefDiff
	// OpQuadratureStiffnessT is a differentiation operator targeting an
	// over-integrated quadrature discretization.
	OpQuadratureStiffnessT
	// OpFlux marks a flux operator. Fluxes must reach the compiler as Flux
	// nodes; a bound OpFlux operator is rejected.
	OpFlux
)

func (k OpKind) String() string {
	switch k {
	case OpGeneric:
		return "generic"
	case OpRefDiff:
		return "ref_diff"
	case OpQuadratureStiffnessT:
		return "quad_stiffness_t"
	case OpFlux:
		return "flux"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// Operator is an opaque, named, pure operator. Its numerical meaning belongs
// to the evaluator.
type Operator struct {
	Kind OpKind
	Name string
	// Axis is the differentiation axis for diff kinds.
	Axis int
	// Tag names the discretization (e.g. a quadrature tag), empty for the
	// base one.
	Tag string
}

// IsDiff reports whether the operator is batchable as a differentiation.
func (o Operator) IsDiff() bool {
	return o.Kind == OpRefDiff || o.Kind == OpQuadratureStiffnessT
}

// EqualExceptForAxis reports whether o and other differ at most in Axis.
func (o Operator) EqualExceptForAxis(other Operator) bool {
	return o.Kind == other.Kind && o.Name == other.Name && o.Tag == other.Tag
}

func (o Operator) String() string {
	s := o.Name
	if o.IsDiff() {
		s += "[" + strconv.Itoa(o.Axis) + "]"
	}
	if o.Tag != "" {
		s += "@" + o.Tag
	}
	return s
}

// Generic returns a generic operator named name.
func Generic(name string) Operator {
	return Operator{Kind: OpGeneric, Name: name}
}

// Diff returns a reference differentiation operator along axis.
func Diff(name string, axis int) Operator {
	return Operator{Kind: OpRefDiff, Name: name, Axis: axis}
}

// QuadratureDiff returns a quadrature stiffness-transpose operator along axis
// for the discretization tagged tag.
func QuadratureDiff(name string, axis int, tag string) Operator {
	return Operator{Kind: OpQuadratureStiffnessT, Name: name, Axis: axis, Tag: tag}
}
