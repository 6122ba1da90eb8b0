package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/opflow/internal/expr"
	"github.com/roach88/opflow/internal/ir"
)

func assign(t *testing.T, name string, e expr.Expr, priority int) *ir.Instruction {
	t.Helper()
	in, err := ir.NewAssign([]string{name}, []expr.Expr{e}, priority, false)
	require.NoError(t, err)
	return in
}

func resultOf(names ...string) ir.Result {
	r := ir.Result{}
	for _, n := range names {
		r.Exprs = append(r.Exprs, expr.Var(n))
	}
	return r
}

func TestAggregate_MergesRelatedAssignments(t *testing.T) {
	u, v := expr.Var("u"), expr.Var("v")
	code := []*ir.Instruction{
		assign(t, "a", expr.Add(u, v), 0),
		assign(t, "b", expr.Mul(u, v), 0),
	}

	out, err := Aggregate(code, resultOf("a"), 0)
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, ir.KindVectorExprAssign, out[0].Kind)
	assert.Equal(t, "{ /* compiled */\n  a <- u + v\n  b <-#- u*v\n}", out[0].String())
}

func TestAggregate_OrdersMembersAfterTheirInputs(t *testing.T) {
	u, v := expr.Var("u"), expr.Var("v")
	code := []*ir.Instruction{
		assign(t, "s", expr.Add(u, v), 0),
		assign(t, "r", expr.Mul(expr.Var("s"), expr.Const(2)), 0),
	}

	out, err := Aggregate(code, resultOf("r"), 0)
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, []string{"s", "r"}, out[0].Names)
	assert.Equal(t, []bool{true, false}, out[0].DoNotReturn)
	assert.Equal(t, []string{"u", "v"}, out[0].Dependencies())
}

func TestAggregate_NeverMergesAcrossAnIndirectProducer(t *testing.T) {
	u, v := expr.Var("u"), expr.Var("v")
	a := assign(t, "a", expr.Add(u, v), 0)
	diff, err := ir.NewDiffBatchAssign([]string{"d"}, []expr.Operator{expr.Diff("d", 0)}, expr.Var("a"))
	require.NoError(t, err)
	b := assign(t, "b", expr.Add(expr.Var("d"), u), 0)

	out, err := Aggregate([]*ir.Instruction{a, diff, b}, resultOf("b"), 0)
	require.NoError(t, err)
	require.Len(t, out, 3)

	for _, in := range out {
		assert.Len(t, in.Names, 1, "%s", in)
	}
	assert.Same(t, diff, out[2], "non-assign instructions pass through")
}

func TestAggregate_RespectsMaxVectors(t *testing.T) {
	u, v := expr.Var("u"), expr.Var("v")
	code := []*ir.Instruction{
		assign(t, "a", expr.Add(u, v), 0),
		assign(t, "b", expr.Mul(u, v), 0),
	}

	out, err := Aggregate(code, resultOf("a", "b"), 3)
	require.NoError(t, err)
	assert.Len(t, out, 2)

	out, err = Aggregate(code, resultOf("a", "b"), 4)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestAggregate_KeepsPrioritiesApart(t *testing.T) {
	u, v := expr.Var("u"), expr.Var("v")
	code := []*ir.Instruction{
		assign(t, "a", expr.Add(u, v), 0),
		assign(t, "b", expr.Mul(u, v), 1),
	}

	out, err := Aggregate(code, resultOf("a", "b"), 0)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestAggregate_LeavesScalarAndTrivialAssignmentsAlone(t *testing.T) {
	u, v := expr.Var("u"), expr.Var("v")
	scalar, err := ir.NewAssign([]string{"h"}, []expr.Expr{expr.Mul(expr.Var("dt"), expr.Const(0.5))}, 0, true)
	require.NoError(t, err)
	code := []*ir.Instruction{
		scalar,
		assign(t, "c", u, 0),
		assign(t, "z", expr.Mul(u, expr.Const(0)), 0),
		assign(t, "a", expr.Add(u, v), 0),
	}

	out, err := Aggregate(code, resultOf("a", "c", "z", "h"), 0)
	require.NoError(t, err)
	require.Len(t, out, 4)

	assert.Same(t, scalar, out[3])
	for _, in := range out[:3] {
		assert.Len(t, in.Names, 1)
	}
}
