package expr

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// ID is the identity token of an expression node.
//
// IDs come from a process-wide monotonic counter, so a node keeps the same
// ID for its whole lifetime and no two nodes ever share one. The zero ID is
// never assigned.
type ID uint64

var lastID atomic.Uint64

func nextID() ID {
	return ID(lastID.Add(1))
}

// Expr is a sealed interface implemented by the node types of this package.
type Expr interface {
	ID() ID
	String() string
	exprNode()
}

type node struct{ id ID }

func (n node) ID() ID { return n.id }

func (node) exprNode() {}

func newNode() node { return node{id: nextID()} }

// Variable references a named value in the execution context.
type Variable struct {
	node
	Name string
}

// Constant is a literal scalar.
type Constant struct {
	node
	Value float64
}

// Subscript selects one component of an array-valued aggregate.
type Subscript struct {
	node
	Aggregate Expr
	Index     int
}

// Sum adds its terms.
type Sum struct {
	node
	Terms []Expr
}

// Product multiplies its factors.
type Product struct {
	node
	Factors []Expr
}

// Quotient divides Numerator by Denominator.
type Quotient struct {
	node
	Numerator   Expr
	Denominator Expr
}

// Power raises Base to Exponent.
type Power struct {
	node
	Base     Expr
	Exponent Expr
}

// Function names a callable. Primitive functions are elementwise math that
// may stay inside fused vector arithmetic; any other function is evaluated
// on its own.
type Function struct {
	Name      string
	Primitive bool
}

// Call applies Func to Args.
type Call struct {
	node
	Func Function
	Args []Expr
}

// CommonSubexpression marks Child for single evaluation. Prefix, when set,
// names the variable the compiler assigns it to.
type CommonSubexpression struct {
	node
	Child    Expr
	Prefix   string
	Priority int
}

// OperatorBinding applies an operator to a field.
type OperatorBinding struct {
	node
	Op    Operator
	Field Expr
}

// FluxInterior is one interior contribution of a flux.
type FluxInterior struct {
	Flux  string
	Field Expr
}

// FluxBoundary is one boundary contribution of a flux.
type FluxBoundary struct {
	Flux  string
	BPair Expr
}

// Flux is a whole-domain flux evaluated across element interfaces.
// Repr is the representative operator kind shared by all fluxes that may be
// evaluated in the same batch.
type Flux struct {
	node
	Repr          string
	Lift          bool
	QuadratureTag string
	Interiors     []FluxInterior
	Boundaries    []FluxBoundary
}

// FluxExchange is a value received from another rank: component Index of
// the exchange of ArgFields with Rank.
type FluxExchange struct {
	node
	Index     int
	Rank      int
	ArgFields []Expr
}

// Quantity is a geometric leaf supplied by the discretization: "ones",
// "nodes" or "normal", the latter two per Axis.
type Quantity struct {
	node
	Name string
	Axis int
}

// Geometric quantity names.
const (
	QuantityOnes   = "ones"
	QuantityNodes  = "nodes"
	QuantityNormal = "normal"
)

// Var creates a variable reference.
func Var(name string) *Variable {
	return &Variable{node: newNode(), Name: name}
}

// Const creates a constant.
func Const(v float64) *Constant {
	return &Constant{node: newNode(), Value: v}
}

// Sub creates a subscript of aggregate.
func Sub(aggregate Expr, index int) *Subscript {
	return &Subscript{node: newNode(), Aggregate: aggregate, Index: index}
}

// Add creates a sum.
func Add(terms ...Expr) *Sum {
	return &Sum{node: newNode(), Terms: terms}
}

// Mul creates a product.
func Mul(factors ...Expr) *Product {
	return &Product{node: newNode(), Factors: factors}
}

// Div creates a quotient.
func Div(num, den Expr) *Quotient {
	return &Quotient{node: newNode(), Numerator: num, Denominator: den}
}

// Pow creates a power.
func Pow(base, exponent Expr) *Power {
	return &Power{node: newNode(), Base: base, Exponent: exponent}
}

// CallFunc creates a call of fn.
func CallFunc(fn Function, args ...Expr) *Call {
	return &Call{node: newNode(), Func: fn, Args: args}
}

// CSE marks child as a common subexpression.
func CSE(child Expr, prefix string) *CommonSubexpression {
	return &CommonSubexpression{node: newNode(), Child: child, Prefix: prefix}
}

// CSEWithPriority is CSE with a scheduling priority for the resulting
// assignment.
func CSEWithPriority(child Expr, prefix string, priority int) *CommonSubexpression {
	return &CommonSubexpression{node: newNode(), Child: child, Prefix: prefix, Priority: priority}
}

// Apply binds op to field.
func Apply(op Operator, field Expr) *OperatorBinding {
	return &OperatorBinding{node: newNode(), Op: op, Field: field}
}

// NewFlux creates a flux.
func NewFlux(repr string, lift bool, quadTag string, interiors []FluxInterior, boundaries []FluxBoundary) *Flux {
	return &Flux{
		node:          newNode(),
		Repr:          repr,
		Lift:          lift,
		QuadratureTag: quadTag,
		Interiors:     interiors,
		Boundaries:    boundaries,
	}
}

// Exchange creates a flux exchange.
func Exchange(index, rank int, argFields ...Expr) *FluxExchange {
	return &FluxExchange{node: newNode(), Index: index, Rank: rank, ArgFields: argFields}
}

// Ones is the all-ones field.
func Ones() *Quantity {
	return &Quantity{node: newNode(), Name: QuantityOnes}
}

// Nodes is the axis-th node coordinate.
func Nodes(axis int) *Quantity {
	return &Quantity{node: newNode(), Name: QuantityNodes, Axis: axis}
}

// Normal is the axis-th component of the face normal.
func Normal(axis int) *Quantity {
	return &Quantity{node: newNode(), Name: QuantityNormal, Axis: axis}
}

// Precedence levels used by String.
const (
	precSum = iota + 1
	precProduct
	precPower
	precAtom
)

func precedence(e Expr) int {
	switch e := e.(type) {
	case *Sum:
		return precSum
	case *Product, *Quotient:
		return precProduct
	case *Power:
		return precPower
	case *Constant:
		if e.Value < 0 {
			return precSum
		}
		return precAtom
	default:
		return precAtom
	}
}

// wrap renders e, parenthesized when its precedence is below level.
func wrap(e Expr, level int) string {
	s := e.String()
	if precedence(e) < level {
		return "(" + s + ")"
	}
	return s
}

func joinExprs(es []Expr, sep string, level int) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = wrap(e, level)
	}
	return strings.Join(parts, sep)
}

func (v *Variable) String() string { return v.Name }

func (c *Constant) String() string {
	return strconv.FormatFloat(c.Value, 'g', -1, 64)
}

func (s *Subscript) String() string {
	return fmt.Sprintf("%s[%d]", wrap(s.Aggregate, precAtom), s.Index)
}

func (s *Sum) String() string { return joinExprs(s.Terms, " + ", precSum) }

func (p *Product) String() string { return joinExprs(p.Factors, "*", precProduct) }

func (q *Quotient) String() string {
	return wrap(q.Numerator, precProduct) + "/" + wrap(q.Denominator, precPower)
}

func (p *Power) String() string {
	return wrap(p.Base, precAtom) + "**" + wrap(p.Exponent, precAtom)
}

func (c *Call) String() string {
	return c.Func.Name + "(" + joinExprs(c.Args, ", ", 0) + ")"
}

func (c *CommonSubexpression) String() string {
	if c.Prefix != "" {
		return "cse[" + c.Prefix + "](" + c.Child.String() + ")"
	}
	return "cse(" + c.Child.String() + ")"
}

func (b *OperatorBinding) String() string {
	return b.Op.String() + "(" + b.Field.String() + ")"
}

func (f *Flux) String() string {
	var sb strings.Builder
	if f.Lift {
		sb.WriteString("lift_")
	}
	sb.WriteString("flux[")
	sb.WriteString(f.Repr)
	if f.QuadratureTag != "" {
		sb.WriteString("@")
		sb.WriteString(f.QuadratureTag)
	}
	sb.WriteString("](")
	for i, in := range f.Interiors {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(in.Flux)
		sb.WriteString(":")
		sb.WriteString(in.Field.String())
	}
	for i, b := range f.Boundaries {
		if i == 0 {
			sb.WriteString("; bdry ")
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(b.Flux)
		sb.WriteString(":")
		sb.WriteString(b.BPair.String())
	}
	sb.WriteString(")")
	return sb.String()
}

func (x *FluxExchange) String() string {
	return fmt.Sprintf("exchange[%d@%d](%s)", x.Index, x.Rank, joinExprs(x.ArgFields, ", ", 0))
}

func (q *Quantity) String() string {
	if q.Name == QuantityOnes {
		return q.Name + "()"
	}
	return q.Name + "(" + strconv.Itoa(q.Axis) + ")"
}
