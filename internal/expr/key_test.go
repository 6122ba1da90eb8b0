package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_SeparatesWhatStringConflates(t *testing.T) {
	u, v, w := Var("u"), Var("v"), Var("w")

	tests := []struct {
		name string
		a, b Expr
	}{
		{"diff kinds", Apply(Diff("d", 0), u), Apply(QuadratureDiff("d", 0, ""), u)},
		{"generic and flux operators", Apply(Generic("mass"), u), Apply(Operator{Kind: OpFlux, Name: "mass"}, u)},
		{"call primitiveness", CallFunc(Function{Name: "sin", Primitive: true}, u), CallFunc(Function{Name: "sin"}, u)},
		{"cse priority", CSEWithPriority(u, "a", 0), CSEWithPriority(u, "a", 2)},
		{"sum grouping", Add(u, Add(v, w)), Add(u, v, w)},
		{"product grouping", Mul(u, Mul(v, w)), Mul(u, v, w)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.a.String(), tt.b.String(), "display forms coincide")
			assert.NotEqual(t, Key(tt.a), Key(tt.b))
		})
	}
}

func TestKey_EqualStructuresShareKey(t *testing.T) {
	build := func() Expr {
		u := Var("u")
		return Add(
			Apply(QuadratureDiff("st", 1, "q4"), u),
			CSEWithPriority(CallFunc(Function{Name: "exp", Primitive: true}, Sub(u, 2)), "e", 1),
			NewFlux("central", true, "q4",
				[]FluxInterior{{Flux: "avg", Field: u}},
				[]FluxBoundary{{Flux: "up", BPair: Var("b")}}),
			Exchange(0, 3, u, Normal(1)),
			Div(Const(0.5), Pow(u, Const(2))),
		)
	}
	a, b := build(), build()
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, Key(a), Key(b))
}

func TestCollectDiffBindings_KeepsBothDiffKinds(t *testing.T) {
	u := Var("u")
	root := Add(Apply(Diff("d", 0), u), Apply(QuadratureDiff("d", 0, ""), u))

	got := CollectDiffBindings(root)
	require.Len(t, got, 2)
	assert.Equal(t, OpRefDiff, got[0].Op.Kind)
	assert.Equal(t, OpQuadratureStiffnessT, got[1].Op.Kind)
}
