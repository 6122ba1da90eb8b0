package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/opflow/internal/engine"
	"github.com/roach88/opflow/internal/ir"
	"github.com/roach88/opflow/internal/store"
)

func runReplayCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestReplayMissingDatabaseFlag(t *testing.T) {
	_, err := runReplayCmd(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestReplayEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")

	output, err := runReplayCmd(t, "text", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, output, "No runs found in database.")

	output, err = runReplayCmd(t, "json", "--db", dbPath)
	require.NoError(t, err)

	var resp struct {
		Data ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.True(t, resp.Data.AllDeterministic)
	assert.Empty(t, resp.Data.Programs)
}

func TestReplayVerifiesRecordedRuns(t *testing.T) {
	dbPath, _ := recordChainRuns(t)

	output, err := runReplayCmd(t, "text", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, output, "Replay Summary: 1 program(s)")
	assert.Contains(t, output, "✓ Program: chain")
	assert.Contains(t, output, "Runs: 3, 2 replay(s), 2 verified")
	assert.Contains(t, output, "✓ All replays followed their schedule")
}

func TestReplayJSON(t *testing.T) {
	dbPath, programID := recordChainRuns(t)

	output, err := runReplayCmd(t, "json", "--db", dbPath, "--program", programID)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.AllDeterministic)
	require.Len(t, resp.Data.Programs, 1)

	p := resp.Data.Programs[0]
	assert.Equal(t, programID, p.ProgramID)
	assert.Equal(t, "chain", p.Program)
	assert.Equal(t, 3, p.Runs)
	assert.Equal(t, 2, p.Verified)
	assert.Empty(t, p.Divergent)
}

func TestReplayDetectsDivergence(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "opflow.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)

	prog := ir.NewProgram(nil, ir.Result{})
	programID, err := st.WriteProgram(context.Background(), "forged", prog)
	require.NoError(t, err)

	recorded := []engine.Step{{Index: 0, Assigned: []string{"a"}}, {Index: 1, Assigned: []string{"b"}}}
	swapped := []engine.Step{{Index: 1, Assigned: []string{"b"}}, {Index: 0, Assigned: []string{"a"}}}
	require.NoError(t, st.WriteRun(context.Background(), programID, &engine.Run{ID: "d-1", Seq: 1, Mode: engine.ModeDynamic, DelayFree: true, Steps: recorded, Result: 1.0}))
	require.NoError(t, st.WriteRun(context.Background(), programID, &engine.Run{ID: "r-1", Seq: 2, Mode: engine.ModeReplay, DelayFree: true, Steps: swapped, Result: 1.0}))
	require.NoError(t, st.Close())

	output, err := runReplayCmd(t, "text", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "Warning: run r-1 diverged from its schedule")
	assert.Contains(t, output, "✗ Replay verification failed")

	output, err = runReplayCmd(t, "json", "--db", dbPath)
	require.Error(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
		Error  *CLIError    `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeDivergent, resp.Error.Code)
	assert.False(t, resp.Data.AllDeterministic)
}

func TestVerifyReplays(t *testing.T) {
	steps := []engine.Step{
		{Index: 0, Assigned: []string{"a"}},
		{Index: 1, Discard: []string{"u"}, Assigned: []string{"b"}},
	}
	other := []engine.Step{
		{Index: 0, Assigned: []string{"a"}},
		{Index: 1, Assigned: []string{"b"}},
	}

	runs := []store.RunRecord{
		{ID: "orphan", Mode: engine.ModeReplay, Steps: steps},
		{ID: "d-1", Mode: engine.ModeDynamic, Steps: steps},
		{ID: "r-1", Mode: engine.ModeReplay, Steps: steps},
		{ID: "r-2", Mode: engine.ModeReplay, Steps: other},
		{ID: "r-3", Mode: engine.ModeReplay, Fallback: true, Steps: other},
		{ID: "d-2", Mode: engine.ModeDynamic, Steps: other},
		{ID: "r-4", Mode: engine.ModeReplay, Steps: other},
	}

	got := verifyReplays(runs)
	assert.Equal(t, ReplayProgramResult{
		Runs:          7,
		Replays:       5,
		Verified:      2,
		Unverified:    1,
		Fallbacks:     1,
		Deterministic: false,
		Divergent:     []string{"r-2"},
	}, got)
}

func TestEntriesEqualTreatsEmptyAsNil(t *testing.T) {
	a := []ir.ScheduleEntry{{Index: 0, Discard: nil}}
	b := []ir.ScheduleEntry{{Index: 0, Discard: []string{}}}
	assert.True(t, entriesEqual(a, b))
	assert.False(t, entriesEqual(a, []ir.ScheduleEntry{{Index: 1}}))
}
