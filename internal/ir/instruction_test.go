package ir

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/opflow/internal/expr"
)

func TestNewAssign(t *testing.T) {
	x := expr.Var("x")
	in, err := NewAssign([]string{"a"}, []expr.Expr{expr.CallFunc(expr.Function{Name: "f"}, x)}, 0, false)
	require.NoError(t, err)

	assert.Equal(t, KindAssign, in.Kind)
	assert.Equal(t, []string{"a"}, in.Assignees())
	assert.Equal(t, []string{"x"}, in.Dependencies())
	assert.Equal(t, []bool{false}, in.DoNotReturn)
	assert.Equal(t, "a <- f(x)", in.String())
}

func TestDependencies_ExcludeOwnAssignees(t *testing.T) {
	u, v := expr.Var("u"), expr.Var("v")
	in, err := NewAssign([]string{"u"}, []expr.Expr{expr.Add(u, v)}, 0, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"v"}, in.Dependencies())
	assert.True(t, in.DependsOn("v"))
	assert.False(t, in.DependsOn("u"))
}

func TestCheck_RejectsBadNames(t *testing.T) {
	one := []expr.Expr{expr.Const(1)}

	_, err := NewAssign(nil, nil, 0, false)
	assert.ErrorContains(t, err, "no names")

	_, err = NewAssign([]string{""}, one, 0, false)
	assert.ErrorContains(t, err, "empty name")

	_, err = NewAssign([]string{"a", "a"}, []expr.Expr{expr.Const(1), expr.Const(2)}, 0, false)
	assert.ErrorContains(t, err, `duplicate name "a"`)

	_, err = NewAssign([]string{"a", "b"}, one, 0, false)
	assert.ErrorContains(t, err, "2 names for 1 values")
}

func TestNewVectorExprAssign_String(t *testing.T) {
	x, a := expr.Var("x"), expr.Var("a")
	in, err := NewVectorExprAssign(
		[]string{"a", "b"},
		[]expr.Expr{expr.Add(x, expr.Const(1)), expr.Mul(a, expr.Const(2))},
		[]bool{true, false},
		0,
	)
	require.NoError(t, err)

	assert.Equal(t, KindVectorExprAssign, in.Kind)
	assert.Equal(t, []string{"x"}, in.Dependencies())
	assert.Equal(t, "{ /* compiled */\n  a <-#- x + 1\n  b <- a*2\n}", in.String())
	assert.Equal(t, 2, in.FlopCount())
}

func TestNewFluxBatchAssign(t *testing.T) {
	u := expr.Var("u")
	f := expr.NewFlux("central", false, "", []expr.FluxInterior{{Flux: "avg", Field: u}}, nil)

	in, err := NewFluxBatchAssign([]string{"f0"}, []*expr.Flux{f}, "central")
	require.NoError(t, err)
	assert.Equal(t, []string{"u"}, in.Dependencies())
	assert.Equal(t, "{ /* central */\n  f0 <- flux[central](avg:u)\n}", in.String())

	_, err = NewFluxBatchAssign([]string{"f0"}, []*expr.Flux{f}, "upwind")
	assert.ErrorContains(t, err, `has repr "central"`)
}

func TestNewDiffBatchAssign(t *testing.T) {
	u := expr.Var("u")

	in, err := NewDiffBatchAssign([]string{"_expr0", "_expr1"}, []expr.Operator{expr.Diff("d", 0), expr.Diff("d", 1)}, u)
	require.NoError(t, err)
	assert.Equal(t, KindDiffBatchAssign, in.Kind)
	assert.Equal(t, []string{"u"}, in.Dependencies())
	assert.Equal(t, "{\n  _expr0 <- d[0](u)\n  _expr1 <- d[1](u)\n}", in.String())

	single, err := NewDiffBatchAssign([]string{"g"}, []expr.Operator{expr.Diff("d", 2)}, u)
	require.NoError(t, err)
	assert.Equal(t, "g <- d[2](u)", single.String())

	quad, err := NewDiffBatchAssign([]string{"s"}, []expr.Operator{expr.QuadratureDiff("st", 0, "q4")}, u)
	require.NoError(t, err)
	assert.Equal(t, KindQuadratureDiffBatchAssign, quad.Kind)
	assert.Equal(t, "{ /* quad_stiffness_t */\n  s <- st[0]@q4(u)\n}", quad.String())

	_, err = NewDiffBatchAssign([]string{"a", "b"}, []expr.Operator{expr.Diff("d", 0), expr.Diff("e", 1)}, u)
	assert.ErrorContains(t, err, "differ beyond axis")
}

func TestNewFluxExchangeBatchAssign(t *testing.T) {
	u, v := expr.Var("u"), expr.Var("v")
	in, err := NewFluxExchangeBatchAssign(
		[]string{"r0", "r1", "r2"},
		[]IndexRank{{Index: 0, Rank: 1}, {Index: 1, Rank: 2}, {Index: 1, Rank: 1}},
		[]expr.Expr{u, v},
	)
	require.NoError(t, err)

	assert.Equal(t, 1, in.Priority)
	assert.Equal(t, []string{"u", "v"}, in.Dependencies())
	assert.Equal(t, map[int][]IndexName{
		1: {{Index: 0, Name: "r0"}, {Index: 1, Name: "r2"}},
		2: {{Index: 1, Name: "r1"}},
	}, in.RankToIndexAndName)
	assert.Equal(t, "{\n"+
		"  r0 <- receive index 0 from rank 1 [u, v]\n"+
		"  r1 <- receive index 1 from rank 2 [u, v]\n"+
		"  r2 <- receive index 1 from rank 1 [u, v]\n"+
		"}", in.String())
}

type recordingEvaluator struct {
	called string
}

func (r *recordingEvaluator) record(name string) ([]Assignment, []Future, error) {
	r.called = name
	return nil, nil, nil
}

func (r *recordingEvaluator) ExecContext() ExecContext { return ExecContext{} }

func (r *recordingEvaluator) ExecAssign(context.Context, *Instruction) ([]Assignment, []Future, error) {
	return r.record("assign")
}

func (r *recordingEvaluator) ExecVectorExprAssign(context.Context, *Instruction) ([]Assignment, []Future, error) {
	return r.record("vector")
}

func (r *recordingEvaluator) ExecFluxBatchAssign(context.Context, *Instruction) ([]Assignment, []Future, error) {
	return r.record("flux")
}

func (r *recordingEvaluator) ExecDiffBatchAssign(context.Context, *Instruction) ([]Assignment, []Future, error) {
	return r.record("diff")
}

func (r *recordingEvaluator) ExecQuadratureDiffBatchAssign(context.Context, *Instruction) ([]Assignment, []Future, error) {
	return r.record("quad")
}

func (r *recordingEvaluator) ExecFluxExchangeBatchAssign(context.Context, *Instruction) ([]Assignment, []Future, error) {
	return r.record("exchange")
}

func (r *recordingEvaluator) EvaluateResult(context.Context, expr.Expr) (Value, error) {
	return nil, nil
}

func TestExecutionMethod_DispatchesOnKind(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindAssign, "assign"},
		{KindVectorExprAssign, "vector"},
		{KindFluxBatchAssign, "flux"},
		{KindDiffBatchAssign, "diff"},
		{KindQuadratureDiffBatchAssign, "quad"},
		{KindFluxExchangeBatchAssign, "exchange"},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			ev := &recordingEvaluator{}
			in := &Instruction{Kind: tt.kind}

			hook, err := in.ExecutionMethod(ev)
			require.NoError(t, err)
			_, _, err = hook(context.Background(), in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.called)
		})
	}

	_, err := (&Instruction{Kind: Kind(99)}).ExecutionMethod(&recordingEvaluator{})
	assert.Error(t, err)
}
