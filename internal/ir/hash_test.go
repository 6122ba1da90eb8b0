package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/opflow/internal/expr"
)

func TestProgramID_StructuralNotIdentity(t *testing.T) {
	p1 := chainProgram(t)
	p2 := chainProgram(t)

	id1, err := ProgramID(p1)
	require.NoError(t, err)
	id2, err := ProgramID(p2)
	require.NoError(t, err)

	assert.Len(t, id1, 64)
	assert.Equal(t, id1, id2, "identically built programs share an id")

	other := NewProgram(p1.Instructions, Result{Exprs: []expr.Expr{expr.Var("a")}})
	assert.NotEqual(t, id1, MustProgramID(other))
}

func TestHashWithDomain_Separates(t *testing.T) {
	data := []byte(`[]`)
	assert.NotEqual(t, hashWithDomain(DomainProgram, data), hashWithDomain(DomainSchedule, data))
}

func TestScheduleHash(t *testing.T) {
	s := &Schedule{Entries: []ScheduleEntry{{Index: 0}}}
	h1, err := ScheduleHash(s)
	require.NoError(t, err)

	s.Entries[0].NewFutures = 1
	h2, err := ScheduleHash(s)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestProgramID_SeparatesDiffKinds(t *testing.T) {
	build := func(op expr.Operator) *Program {
		in, err := NewDiffBatchAssign([]string{"g"}, []expr.Operator{op}, expr.Var("u"))
		require.NoError(t, err)
		return NewProgram([]*Instruction{in}, Result{Exprs: []expr.Expr{expr.Var("g")}})
	}
	ref := build(expr.Diff("d", 0))
	quad := build(expr.QuadratureDiff("d", 0, ""))

	assert.Equal(t, "g <- d[0](u)", ref.Instructions[0].String())
	assert.Equal(t, "{ /* quad_stiffness_t */\n  g <- d[0](u)\n}", quad.Instructions[0].String())
	assert.NotEqual(t, MustProgramID(ref), MustProgramID(quad))
}
