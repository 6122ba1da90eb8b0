package harness

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/opflow/internal/engine"
	"github.com/roach88/opflow/internal/ir"
)

func TestRunWithGolden_Chain(t *testing.T) {
	// Regenerate with:
	//   go test ./internal/harness -run TestRunWithGolden_Chain -update
	err := RunWithGolden(t, loadTestScenario(t, "chain"))
	require.NoError(t, err)
}

func TestMarshalTrace_Canonical(t *testing.T) {
	result := NewResult()
	result.Runs = []RunTrace{{
		ID:        "r-1",
		Seq:       7,
		Mode:      engine.ModeReplay,
		DelayFree: false,
		Fallback:  true,
		Steps: []StepTrace{
			{Name: "_ex0", NewFutures: 1},
			{Name: "future:0", Waited: true, Discard: []string{"v"}},
		},
		Result: []ir.Value{1.5, []float64{2, 3}},
	}}

	got, err := MarshalTrace("snapshot", result)
	require.NoError(t, err)

	want := `{"runs":[{"delay_free":false,"fallback":true,"id":"r-1","mode":"replay",` +
		`"result":[1.5,[2,3]],"seq":7,"steps":[` +
		`{"discard":[],"name":"_ex0","new_futures":1,"waited":false},` +
		`{"discard":["v"],"name":"future:0","new_futures":0,"waited":true}]}],` +
		`"scenario_name":"snapshot"}`
	assert.Equal(t, want, string(got))
}

func TestMarshalTrace_Deterministic(t *testing.T) {
	result, err := Run(loadTestScenario(t, "exchange_countdown"))
	require.NoError(t, err)

	first, err := MarshalTrace("exchange_countdown", result)
	require.NoError(t, err)

	again, err := Run(loadTestScenario(t, "exchange_countdown"))
	require.NoError(t, err)
	second, err := MarshalTrace("exchange_countdown", again)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestMarshalTrace_RejectsNonFinite(t *testing.T) {
	result := NewResult()
	result.Runs = []RunTrace{{ID: "r", Mode: engine.ModeDynamic, Result: []float64{1, math.Inf(1)}}}

	_, err := MarshalTrace("bad", result)
	assert.Error(t, err)
}
