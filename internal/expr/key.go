package expr

import (
	"strconv"
	"strings"
)

// Key is the structural key of e: two expressions with equal keys compute
// the same value. Batching uses it where identity is too strict.
//
// Unlike String, the key records every field that changes what a node
// computes: operator kinds, call primitiveness, subexpression priorities
// and the grouping of nested sums and products.
func Key(e Expr) string {
	var sb strings.Builder
	writeKey(&sb, e)
	return sb.String()
}

func writeKey(sb *strings.Builder, e Expr) {
	switch e := e.(type) {
	case *Variable:
		sb.WriteString("(var ")
		sb.WriteString(strconv.Quote(e.Name))
	case *Constant:
		sb.WriteString("(const ")
		sb.WriteString(strconv.FormatFloat(e.Value, 'g', -1, 64))
	case *Subscript:
		sb.WriteString("(sub ")
		writeKey(sb, e.Aggregate)
		sb.WriteByte(' ')
		sb.WriteString(strconv.Itoa(e.Index))
	case *Sum:
		sb.WriteString("(sum")
		writeKeys(sb, e.Terms)
	case *Product:
		sb.WriteString("(product")
		writeKeys(sb, e.Factors)
	case *Quotient:
		sb.WriteString("(quotient ")
		writeKey(sb, e.Numerator)
		sb.WriteByte(' ')
		writeKey(sb, e.Denominator)
	case *Power:
		sb.WriteString("(power ")
		writeKey(sb, e.Base)
		sb.WriteByte(' ')
		writeKey(sb, e.Exponent)
	case *Call:
		sb.WriteString("(call ")
		sb.WriteString(strconv.Quote(e.Func.Name))
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatBool(e.Func.Primitive))
		writeKeys(sb, e.Args)
	case *CommonSubexpression:
		sb.WriteString("(cse ")
		sb.WriteString(strconv.Quote(e.Prefix))
		sb.WriteByte(' ')
		sb.WriteString(strconv.Itoa(e.Priority))
		sb.WriteByte(' ')
		writeKey(sb, e.Child)
	case *OperatorBinding:
		sb.WriteString("(apply ")
		writeOperatorKey(sb, e.Op)
		sb.WriteByte(' ')
		writeKey(sb, e.Field)
	case *Flux:
		sb.WriteString("(flux ")
		sb.WriteString(strconv.Quote(e.Repr))
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatBool(e.Lift))
		sb.WriteByte(' ')
		sb.WriteString(strconv.Quote(e.QuadratureTag))
		sb.WriteString(" (interiors")
		for _, in := range e.Interiors {
			sb.WriteString(" (")
			sb.WriteString(strconv.Quote(in.Flux))
			sb.WriteByte(' ')
			writeKey(sb, in.Field)
			sb.WriteByte(')')
		}
		sb.WriteString(") (boundaries")
		for _, b := range e.Boundaries {
			sb.WriteString(" (")
			sb.WriteString(strconv.Quote(b.Flux))
			sb.WriteByte(' ')
			writeKey(sb, b.BPair)
			sb.WriteByte(')')
		}
		sb.WriteByte(')')
	case *FluxExchange:
		sb.WriteString("(exchange ")
		sb.WriteString(strconv.Itoa(e.Index))
		sb.WriteByte(' ')
		sb.WriteString(strconv.Itoa(e.Rank))
		writeKeys(sb, e.ArgFields)
	case *Quantity:
		sb.WriteString("(quantity ")
		sb.WriteString(strconv.Quote(e.Name))
		sb.WriteByte(' ')
		sb.WriteString(strconv.Itoa(e.Axis))
	default:
		sb.WriteString("(? ")
		sb.WriteString(strconv.Quote(e.String()))
	}
	sb.WriteByte(')')
}

func writeKeys(sb *strings.Builder, es []Expr) {
	for _, e := range es {
		sb.WriteByte(' ')
		writeKey(sb, e)
	}
}

func writeOperatorKey(sb *strings.Builder, op Operator) {
	sb.WriteString("(op ")
	sb.WriteString(op.Kind.String())
	sb.WriteByte(' ')
	sb.WriteString(strconv.Quote(op.Name))
	sb.WriteByte(' ')
	sb.WriteString(strconv.Itoa(op.Axis))
	sb.WriteByte(' ')
	sb.WriteString(strconv.Quote(op.Tag))
	sb.WriteByte(')')
}
