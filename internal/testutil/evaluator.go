package testutil

import (
	"context"
	"fmt"

	"github.com/roach88/opflow/internal/expr"
	"github.com/roach88/opflow/internal/ir"
)

// Action scripts what one instruction does.
type Action func(ctx context.Context, ec ir.ExecContext, in *ir.Instruction) ([]ir.Assignment, []ir.Future, error)

// ScriptedEvaluator is an ir.Evaluator whose instructions do whatever the
// test scripts, keyed by the instruction's first name.
//
// Unscripted instructions assign every name the number of instructions
// executed so far, as a float64. Every instruction kind goes through the
// same path, so scheduling can be tested without numerics.
type ScriptedEvaluator struct {
	Context ir.ExecContext
	Actions map[string]Action

	// Executed lists the first name of each executed instruction in order.
	Executed []string
}

// NewScriptedEvaluator creates an evaluator whose context holds inputs.
func NewScriptedEvaluator(inputs ir.ExecContext) *ScriptedEvaluator {
	ctx := make(ir.ExecContext, len(inputs))
	for k, v := range inputs {
		ctx[k] = v
	}
	return &ScriptedEvaluator{Context: ctx, Actions: make(map[string]Action)}
}

// On scripts the instruction whose first name is name.
func (e *ScriptedEvaluator) On(name string, a Action) *ScriptedEvaluator {
	e.Actions[name] = a
	return e
}

// Issue scripts the instruction whose first name is name to assign nothing
// and return futures.
func (e *ScriptedEvaluator) Issue(name string, futures ...ir.Future) *ScriptedEvaluator {
	return e.On(name, func(context.Context, ir.ExecContext, *ir.Instruction) ([]ir.Assignment, []ir.Future, error) {
		return nil, futures, nil
	})
}

// Assign returns a single assignment, for use in scripts and futures.
func Assign(name string, v ir.Value) ir.Assignment {
	return ir.Assignment{Name: name, Value: v}
}

func (e *ScriptedEvaluator) ExecContext() ir.ExecContext { return e.Context }

func (e *ScriptedEvaluator) exec(ctx context.Context, in *ir.Instruction) ([]ir.Assignment, []ir.Future, error) {
	e.Executed = append(e.Executed, in.Names[0])
	if a, ok := e.Actions[in.Names[0]]; ok {
		return a(ctx, e.Context, in)
	}
	out := make([]ir.Assignment, len(in.Names))
	for i, n := range in.Names {
		out[i] = Assign(n, float64(len(e.Executed)))
	}
	return out, nil, nil
}

func (e *ScriptedEvaluator) ExecAssign(ctx context.Context, in *ir.Instruction) ([]ir.Assignment, []ir.Future, error) {
	return e.exec(ctx, in)
}

func (e *ScriptedEvaluator) ExecVectorExprAssign(ctx context.Context, in *ir.Instruction) ([]ir.Assignment, []ir.Future, error) {
	return e.exec(ctx, in)
}

func (e *ScriptedEvaluator) ExecFluxBatchAssign(ctx context.Context, in *ir.Instruction) ([]ir.Assignment, []ir.Future, error) {
	return e.exec(ctx, in)
}

func (e *ScriptedEvaluator) ExecDiffBatchAssign(ctx context.Context, in *ir.Instruction) ([]ir.Assignment, []ir.Future, error) {
	return e.exec(ctx, in)
}

func (e *ScriptedEvaluator) ExecQuadratureDiffBatchAssign(ctx context.Context, in *ir.Instruction) ([]ir.Assignment, []ir.Future, error) {
	return e.exec(ctx, in)
}

func (e *ScriptedEvaluator) ExecFluxExchangeBatchAssign(ctx context.Context, in *ir.Instruction) ([]ir.Assignment, []ir.Future, error) {
	return e.exec(ctx, in)
}

// EvaluateResult looks variables up in the context. Constants evaluate to
// themselves; anything else is an error.
func (e *ScriptedEvaluator) EvaluateResult(ctx context.Context, x expr.Expr) (ir.Value, error) {
	switch x := x.(type) {
	case *expr.Variable:
		v, ok := e.Context[x.Name]
		if !ok {
			return nil, fmt.Errorf("result variable %q is not in the context", x.Name)
		}
		return v, nil
	case *expr.Constant:
		return x.Value, nil
	default:
		return nil, fmt.Errorf("scripted evaluator cannot evaluate %s", x)
	}
}
