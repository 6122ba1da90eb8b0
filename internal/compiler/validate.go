package compiler

import (
	"fmt"

	"github.com/roach88/opflow/internal/ir"
)

// Validation error codes (E200-E299).
const (
	ErrDuplicateAssignee  = "E201" // name produced by more than one instruction
	ErrDanglingDependency = "E202" // dependency neither produced nor an input
	ErrDanglingResultRef  = "E203" // result reads a name neither produced nor an input
	ErrEmptyAssigneeName  = "E204" // instruction without names or with an empty name
	ErrInvalidInstruction = "E205" // instruction payload does not match its kind
	ErrInstructionCycle   = "E206" // dependency cycle among instructions
)

// ValidationError is one problem found in a compiled program.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks that every dependency and every result reference is
// produced by exactly one instruction or is one of inputs. It returns all
// problems found, not only the first.
func Validate(prog *ir.Program, inputs []string) []ValidationError {
	var errs []ValidationError

	isInput := make(map[string]bool, len(inputs))
	for _, n := range inputs {
		isInput[n] = true
	}

	producer := make(map[string]int)
	for i, in := range prog.Instructions {
		field := fmt.Sprintf("instructions[%d]", i)

		if len(in.Names) == 0 {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "instruction assigns no names",
				Code:    ErrEmptyAssigneeName,
			})
		}
		for _, n := range in.Names {
			if n == "" {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: "empty assignee name",
					Code:    ErrEmptyAssigneeName,
				})
				continue
			}
			if prev, dup := producer[n]; dup {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("%q is already assigned by instructions[%d]", n, prev),
					Code:    ErrDuplicateAssignee,
				})
				continue
			}
			if isInput[n] {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("%q shadows an input", n),
					Code:    ErrDuplicateAssignee,
				})
			}
			producer[n] = i
		}
		if len(in.Names) > 0 {
			if err := in.Check(); err != nil {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: err.Error(),
					Code:    ErrInvalidInstruction,
				})
			}
		}
	}

	for i, in := range prog.Instructions {
		for _, d := range in.Dependencies() {
			if _, ok := producer[d]; !ok && !isInput[d] {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("instructions[%d]", i),
					Message: fmt.Sprintf("dependency %q is neither produced nor an input", d),
					Code:    ErrDanglingDependency,
				})
			}
		}
	}

	for _, n := range prog.ResultVariables() {
		if _, ok := producer[n]; !ok && !isInput[n] {
			errs = append(errs, ValidationError{
				Field:   "result",
				Message: fmt.Sprintf("result reads %q, which is neither produced nor an input", n),
				Code:    ErrDanglingResultRef,
			})
		}
	}

	if cycle := instructionCycle(prog, producer); cycle != nil {
		errs = append(errs, ValidationError{
			Field:   "instructions",
			Message: fmt.Sprintf("instructions depend on each other: %v", cycle),
			Code:    ErrInstructionCycle,
		})
	}

	return errs
}

// instructionCycle reports a cycle in the producer graph, naming
// instructions by position.
func instructionCycle(prog *ir.Program, producer map[string]int) []string {
	graph := make(dependencyGraph)
	for i, in := range prog.Instructions {
		node := fmt.Sprintf("instructions[%d]", i)
		graph[node] = []string{}
		for _, d := range in.Dependencies() {
			if p, ok := producer[d]; ok {
				graph[node] = append(graph[node], fmt.Sprintf("instructions[%d]", p))
			}
		}
	}
	return findCycle(graph)
}
