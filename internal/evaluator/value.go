package evaluator

import (
	"errors"
	"fmt"
	"math"

	"github.com/roach88/opflow/internal/ir"
)

var (
	// ErrType is returned when values of incompatible shapes meet.
	ErrType = errors.New("incompatible values")

	// ErrNotFinite is returned by the finite check for NaN or Inf.
	ErrNotFinite = errors.New("value is not finite")

	// ErrUnknown is returned for names missing from the Registry.
	ErrUnknown = errors.New("not registered")
)

// binary applies op elementwise, broadcasting scalars over vectors and
// anything over object arrays.
func binary(a, b ir.Value, op func(x, y float64) float64) (ir.Value, error) {
	switch av := a.(type) {
	case float64:
		switch bv := b.(type) {
		case float64:
			return op(av, bv), nil
		case []float64:
			out := make([]float64, len(bv))
			for i, y := range bv {
				out[i] = op(av, y)
			}
			return out, nil
		case []ir.Value:
			return mapObjects(bv, func(y ir.Value) (ir.Value, error) { return binary(av, y, op) })
		}
	case []float64:
		switch bv := b.(type) {
		case float64:
			out := make([]float64, len(av))
			for i, x := range av {
				out[i] = op(x, bv)
			}
			return out, nil
		case []float64:
			if len(av) != len(bv) {
				return nil, fmt.Errorf("%w: vectors of length %d and %d", ErrType, len(av), len(bv))
			}
			out := make([]float64, len(av))
			for i := range av {
				out[i] = op(av[i], bv[i])
			}
			return out, nil
		case []ir.Value:
			return mapObjects(bv, func(y ir.Value) (ir.Value, error) { return binary(av, y, op) })
		}
	case []ir.Value:
		if bv, ok := b.([]ir.Value); ok {
			if len(av) != len(bv) {
				return nil, fmt.Errorf("%w: arrays of length %d and %d", ErrType, len(av), len(bv))
			}
			out := make([]ir.Value, len(av))
			for i := range av {
				v, err := binary(av[i], bv[i], op)
				if err != nil {
					return nil, err
				}
				out[i] = v
			}
			return out, nil
		}
		return mapObjects(av, func(x ir.Value) (ir.Value, error) { return binary(x, b, op) })
	}
	return nil, fmt.Errorf("%w: %T and %T", ErrType, a, b)
}

// unary applies fn elementwise.
func unary(v ir.Value, fn func(float64) float64) (ir.Value, error) {
	switch x := v.(type) {
	case float64:
		return fn(x), nil
	case []float64:
		out := make([]float64, len(x))
		for i, y := range x {
			out[i] = fn(y)
		}
		return out, nil
	case []ir.Value:
		return mapObjects(x, func(y ir.Value) (ir.Value, error) { return unary(y, fn) })
	}
	return nil, fmt.Errorf("%w: %T", ErrType, v)
}

func mapObjects(in []ir.Value, fn func(ir.Value) (ir.Value, error)) ([]ir.Value, error) {
	out := make([]ir.Value, len(in))
	for i, v := range in {
		r, err := fn(v)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func add(x, y float64) float64 { return x + y }
func mul(x, y float64) float64 { return x * y }
func div(x, y float64) float64 { return x / y }

// isFinite reports whether every number in v is neither NaN nor Inf.
func isFinite(v ir.Value) bool {
	switch x := v.(type) {
	case float64:
		return !math.IsNaN(x) && !math.IsInf(x, 0)
	case []float64:
		for _, y := range x {
			if math.IsNaN(y) || math.IsInf(y, 0) {
				return false
			}
		}
	case []ir.Value:
		for _, y := range x {
			if !isFinite(y) {
				return false
			}
		}
	}
	return true
}

// ToValue converts decoded YAML or JSON data to an evaluator value.
// Numbers become float64, lists of numbers []float64 and any other list
// an object array.
func ToValue(raw any) (ir.Value, error) {
	switch x := raw.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case []float64:
		return x, nil
	case []any:
		nums := make([]float64, 0, len(x))
		for _, e := range x {
			v, err := ToValue(e)
			if err != nil {
				return nil, err
			}
			f, ok := v.(float64)
			if !ok {
				return toObjects(x)
			}
			nums = append(nums, f)
		}
		return nums, nil
	}
	return nil, fmt.Errorf("%w: cannot use %T as a value", ErrType, raw)
}

func toObjects(in []any) ([]ir.Value, error) {
	out := make([]ir.Value, len(in))
	for i, e := range in {
		v, err := ToValue(e)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ToValues converts a decoded input map.
func ToValues(raw map[string]any) (ir.ExecContext, error) {
	out := make(ir.ExecContext, len(raw))
	for name, v := range raw {
		val, err := ToValue(v)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		out[name] = val
	}
	return out, nil
}
