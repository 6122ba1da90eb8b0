package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/opflow/internal/engine"
	"github.com/roach88/opflow/internal/ir"
)

func runTraceCmd(t *testing.T, format string, verbose bool, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: format, Verbose: verbose})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTraceMissingDatabaseFlag(t *testing.T) {
	_, err := runTraceCmd(t, "text", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestTraceText(t *testing.T) {
	dbPath, _ := recordChainRuns(t)

	output, err := runTraceCmd(t, "text", false, "--db", dbPath)
	require.NoError(t, err)

	assert.Contains(t, output, "=== Runs ===")
	assert.Contains(t, output, "[1] chain run-1 dynamic")
	assert.Contains(t, output, "[2] chain run-2 replay")
	assert.Contains(t, output, "[3] chain run-3 replay")
	assert.Contains(t, output, "Result: [6 9]")
	assert.Contains(t, output, "Total Runs: 3")
	assert.Contains(t, output, "Replays:    2")
	assert.NotContains(t, output, "1. a", "steps are only listed when verbose")
}

func TestTraceSingleRunShowsSteps(t *testing.T) {
	dbPath, _ := recordChainRuns(t)

	output, err := runTraceCmd(t, "text", false, "--db", dbPath, "--run", "run-2")
	require.NoError(t, err)

	assert.Contains(t, output, "[2] chain run-2 replay")
	assert.NotContains(t, output, "run-1")
	assert.Contains(t, output, "1. a")
	assert.Contains(t, output, "2. b")
	assert.Contains(t, output, "Total Runs: 1")
}

func TestTraceJSON(t *testing.T) {
	dbPath, programID := recordChainRuns(t)

	output, err := runTraceCmd(t, "json", false, "--db", dbPath, "--program", programID)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Runs, 3)

	first := resp.Data.Runs[0]
	assert.Equal(t, "run-1", first.ID)
	assert.Equal(t, programID, first.ProgramID)
	assert.Equal(t, "chain", first.Program)
	require.Len(t, first.Steps, 2)
	assert.Equal(t, "a", first.Steps[0].Label)
	assert.Equal(t, []string{"b"}, first.Steps[1].Assigned)

	assert.Equal(t, TraceStats{TotalRuns: 3, Dynamic: 1, Replays: 2, Steps: 6}, resp.Data.Stats)
}

func TestTraceUnknownProgramIsEmpty(t *testing.T) {
	dbPath, _ := recordChainRuns(t)

	output, err := runTraceCmd(t, "text", false, "--db", dbPath, "--program", "nope")
	require.NoError(t, err)
	assert.Contains(t, output, "(no runs)")
	assert.Contains(t, output, "Total Runs: 0")
}

func TestTraceRunNotFound(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")

	_, err := runTraceCmd(t, "text", false, "--db", dbPath, "--run", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "run not found")
}

func TestTraceStep(t *testing.T) {
	tests := []struct {
		name string
		step engine.Step
		want string
	}{
		{"assigned", engine.Step{Index: 0, Assigned: []string{"a", "c"}}, "a,c"},
		{"future", engine.Step{Index: ir.FutureStep, FutureID: 3, Assigned: []string{"x"}}, "future:3"},
		{"issue only", engine.Step{Index: 2, NewFutures: 1}, "instruction 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := traceStep(tt.step)
			assert.Equal(t, tt.want, got.Label)
			assert.Equal(t, tt.step.Index, got.Index)
		})
	}
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "run-1", truncateID("run-1"))
	assert.Equal(t, "01234567...89abcdef", truncateID("0123456789-0123456789abcdef"))
}
