package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/opflow/internal/engine"
	"github.com/roach88/opflow/internal/evaluator"
	"github.com/roach88/opflow/internal/ir"
)

// marshalValue converts a run result to canonical JSON TEXT for storage.
// Object arrays become JSON arrays.
func marshalValue(v ir.Value) (string, error) {
	data, err := ir.MarshalCanonical(canonicalValue(v))
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(data), nil
}

func canonicalValue(v ir.Value) any {
	if arr, ok := v.([]ir.Value); ok {
		out := make([]any, len(arr))
		for i, e := range arr {
			out[i] = canonicalValue(e)
		}
		return out
	}
	return v
}

// unmarshalValue parses a stored result.
func unmarshalValue(data string) (ir.Value, error) {
	var raw any
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	v, err := evaluator.ToValue(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return v, nil
}

// marshalSteps converts a run's steps to canonical JSON TEXT.
func marshalSteps(steps []engine.Step) (string, error) {
	out := make([]any, len(steps))
	for i, s := range steps {
		out[i] = map[string]any{
			"index":       s.Index,
			"future_id":   s.FutureID,
			"discard":     s.Discard,
			"assigned":    s.Assigned,
			"new_futures": s.NewFutures,
			"waited":      s.Waited,
		}
	}
	data, err := ir.MarshalCanonical(out)
	if err != nil {
		return "", fmt.Errorf("marshal steps: %w", err)
	}
	return string(data), nil
}

// unmarshalSteps parses stored steps. Empty lists come back as nil.
func unmarshalSteps(data string) ([]engine.Step, error) {
	var steps []engine.Step
	if err := json.Unmarshal([]byte(data), &steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	for i := range steps {
		if len(steps[i].Discard) == 0 {
			steps[i].Discard = nil
		}
		if len(steps[i].Assigned) == 0 {
			steps[i].Assigned = nil
		}
	}
	return steps, nil
}
