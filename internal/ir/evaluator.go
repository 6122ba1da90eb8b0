package ir

import (
	"context"

	"github.com/roach88/opflow/internal/expr"
)

// Value is whatever an evaluator stores under a name. The reference
// evaluator uses float64, []float64 and []Value.
type Value = any

// ExecContext maps variable names to values. It is seeded with the
// invocation's inputs and mutated by the engine as instructions complete.
type ExecContext map[string]Value

// Assignment is one (name, value) pair produced by an instruction or a
// completed future.
type Assignment struct {
	Name  string
	Value Value
}

// Future is a pending result owned by the engine once returned from a hook.
// Ready never blocks. Complete blocks until the result is available and is
// called exactly once.
type Future interface {
	Ready() bool
	Complete(ctx context.Context) ([]Assignment, []Future, error)
}

// Hook executes one instruction against an evaluator.
type Hook func(ctx context.Context, in *Instruction) ([]Assignment, []Future, error)

// Evaluator supplies the numerical meaning of instructions. It owns the
// execution context; one invocation at a time may use it.
type Evaluator interface {
	ExecContext() ExecContext

	ExecAssign(ctx context.Context, in *Instruction) ([]Assignment, []Future, error)
	ExecVectorExprAssign(ctx context.Context, in *Instruction) ([]Assignment, []Future, error)
	ExecFluxBatchAssign(ctx context.Context, in *Instruction) ([]Assignment, []Future, error)
	ExecDiffBatchAssign(ctx context.Context, in *Instruction) ([]Assignment, []Future, error)
	ExecQuadratureDiffBatchAssign(ctx context.Context, in *Instruction) ([]Assignment, []Future, error)
	ExecFluxExchangeBatchAssign(ctx context.Context, in *Instruction) ([]Assignment, []Future, error)

	// EvaluateResult evaluates one result expression against the final
	// context.
	EvaluateResult(ctx context.Context, e expr.Expr) (Value, error)
}

// PreAssignChecker is implemented by evaluators that validate values before
// they are written to the context.
type PreAssignChecker interface {
	PreAssignCheck(name string, v Value) error
}
