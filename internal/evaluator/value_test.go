package evaluator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/opflow/internal/ir"
)

func TestBinary(t *testing.T) {
	tests := []struct {
		name string
		a, b ir.Value
		want ir.Value
	}{
		{"scalars", 2.0, 3.0, 5.0},
		{"scalar and vector", 1.0, []float64{1, 2}, []float64{2, 3}},
		{"vector and scalar", []float64{1, 2}, 1.0, []float64{2, 3}},
		{"vectors", []float64{1, 2}, []float64{10, 20}, []float64{11, 22}},
		{"arrays", []ir.Value{1.0, []float64{1}}, []ir.Value{2.0, []float64{2}}, []ir.Value{3.0, []float64{3}}},
		{"scalar and array", 1.0, []ir.Value{1.0, 2.0}, []ir.Value{2.0, 3.0}},
		{"array and vector", []ir.Value{[]float64{1, 1}}, []float64{1, 2}, []ir.Value{[]float64{2, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := binary(tt.a, tt.b, add)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBinary_Errors(t *testing.T) {
	_, err := binary([]float64{1}, []float64{1, 2}, add)
	assert.ErrorIs(t, err, ErrType)

	_, err = binary([]ir.Value{1.0}, []ir.Value{1.0, 2.0}, add)
	assert.ErrorIs(t, err, ErrType)

	_, err = binary("x", 1.0, add)
	assert.ErrorIs(t, err, ErrType)
}

func TestIsFinite(t *testing.T) {
	assert.True(t, isFinite(1.0))
	assert.True(t, isFinite([]ir.Value{[]float64{1, 2}, 3.0}))
	assert.False(t, isFinite(math.NaN()))
	assert.False(t, isFinite([]float64{1, math.Inf(1)}))
	assert.False(t, isFinite([]ir.Value{1.0, []float64{math.Inf(-1)}}))
}

func TestToValue(t *testing.T) {
	tests := []struct {
		raw  any
		want ir.Value
	}{
		{3, 3.0},
		{2.5, 2.5},
		{[]any{1, 2.5}, []float64{1, 2.5}},
		{[]any{1, []any{2, 3}}, []ir.Value{1.0, []float64{2, 3}}},
		{[]any{}, []float64{}},
	}
	for _, tt := range tests {
		got, err := ToValue(tt.raw)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ToValue("nope")
	assert.ErrorIs(t, err, ErrType)
}

func TestToValues(t *testing.T) {
	got, err := ToValues(map[string]any{"u": []any{1, 2}, "c": 4})
	require.NoError(t, err)
	assert.Equal(t, ir.ExecContext{"u": []float64{1, 2}, "c": 4.0}, got)

	_, err = ToValues(map[string]any{"bad": map[string]any{}})
	assert.ErrorContains(t, err, `input "bad"`)
}
