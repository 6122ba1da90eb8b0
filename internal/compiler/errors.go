package compiler

import (
	"errors"
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Compile error codes.
const (
	// ErrCodeFluxOrder means flux batching could not make progress: the
	// remaining fluxes depend on each other.
	ErrCodeFluxOrder = "FLUX_ORDER"
	// ErrCodeFluxOperator means a flux arrived as a bound operator instead of
	// a flux node.
	ErrCodeFluxOperator = "FLUX_OPERATOR"
	// ErrCodeImpossibleAggregation means a merged assignment could not be
	// ordered internally. It indicates a defect in the aggregation pass.
	ErrCodeImpossibleAggregation = "IMPOSSIBLE_AGGREGATION"
	// ErrCodeInstruction means an instruction could not be constructed.
	ErrCodeInstruction = "INVALID_INSTRUCTION"
	// ErrCodeSchema means a program definition is malformed.
	ErrCodeSchema = "SCHEMA"
	// ErrCodeCUE wraps an error reported by the CUE evaluator.
	ErrCodeCUE = "CUE"
)

// CompileError is a compilation failure, positioned when it came from a
// program definition.
type CompileError struct {
	Code    string
	Field   string
	Message string
	Pos     token.Pos

	// Fluxes lists the fluxes left unbatched by an ErrCodeFluxOrder failure.
	Fluxes []string
	// Cycle is one dependency cycle among Fluxes, first element repeated
	// at the end, when one was found.
	Cycle []string
}

func (e *CompileError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if len(e.Cycle) > 0 {
		msg += " (cycle: " + strings.Join(e.Cycle, " -> ") + ")"
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), msg)
	}
	return msg
}

// IsFluxOrderError reports whether err is an unresolvable flux ordering.
func IsFluxOrderError(err error) bool {
	return hasCode(err, ErrCodeFluxOrder)
}

// IsAggregationError reports whether err is an impossible aggregation.
func IsAggregationError(err error) bool {
	return hasCode(err, ErrCodeImpossibleAggregation)
}

func hasCode(err error, code string) bool {
	var ce *CompileError
	return errors.As(err, &ce) && ce.Code == code
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Code:    ErrCodeCUE,
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
