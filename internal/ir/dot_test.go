package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/opflow/internal/expr"
)

func TestDOT_Chain(t *testing.T) {
	p := chainProgram(t)

	want := `digraph dataflow {
initial [label="initial"];
result [label="result"];
node0 [ label="p0: a <- f(x)\l" shape=box ];
node1 [ label="p0: b <- g(a)\l" shape=box ];
initial -> node0 [label="x"];
node0 -> node1 [label="a"];
node1 -> result [label="b"];
}
`
	assert.Equal(t, want, DOT(p, DefaultDotOptions()))
}

func TestDOT_LabelShaping(t *testing.T) {
	assert.Equal(t, `a <- ...\l`, dotLabel("a <- f(x)", DotOptions{MaxLabelLength: 5}))
	assert.Equal(t, `a <- f(x)\l`, dotLabel("a <- f(x)", DotOptions{MaxLabelLength: 9}), "a label that fits keeps no ellipsis")
	assert.Equal(t, `a <-\l      f(x)\l`, dotLabel("a <- f(x)", DotOptions{WrapWidth: 5}))
	assert.Equal(t, `{\l  a <- x\l}\l`, dotLabel("{\n  a <- x\n}", DotOptions{}))
	assert.Equal(t, `say \"hi\"\l`, dotLabel(`say "hi"`, DotOptions{}))
}

func TestDOT_ArrayResult(t *testing.T) {
	p := chainProgram(t)
	p.Result = Result{Exprs: []expr.Expr{expr.Var("b"), expr.Const(2)}, Array: true}

	out := DOT(p, DotOptions{})
	assert.Contains(t, out, "node1 -> result [label=\"b\"];\n")
	assert.Contains(t, out, "initial -> result [label=\"2\"];\n")
}
