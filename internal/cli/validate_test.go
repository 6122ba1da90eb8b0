package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/opflow/internal/compiler"
)

// openCUE reads u without declaring it as an input.
const openCUE = `program: open: {
	let a = {cse: {sum: ["u", 1]}, prefix: "a"}
	result: {cse: {product: [a, 3]}, prefix: "b"}
}
`

func runValidateCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateValidPrograms(t *testing.T) {
	path := writeCUE(t, t.TempDir(), "programs.cue", chainCUE+exchangeCUE)

	output, err := runValidateCmd(t, "text", path)
	require.NoError(t, err)
	assert.Contains(t, output, "✓ All programs valid (2 checked)")
}

func TestValidateValidProgramsJSON(t *testing.T) {
	path := writeCUE(t, t.TempDir(), "chain.cue", chainCUE)

	output, err := runValidateCmd(t, "json", path, "--aggregate")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 1, resp.Data.Programs)
}

func TestValidateUndeclaredInput(t *testing.T) {
	path := writeCUE(t, t.TempDir(), "open.cue", openCUE)

	output, err := runValidateCmd(t, "text", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "✗ Validation failed")
	assert.Contains(t, output, "program.open.instructions[0]")
	assert.Contains(t, output, compiler.ErrDanglingDependency)
	assert.Contains(t, output, `dependency "u" is neither produced nor an input`)
}

func TestValidateUndeclaredInputJSON(t *testing.T) {
	path := writeCUE(t, t.TempDir(), "open.cue", openCUE)

	output, err := runValidateCmd(t, "json", path)
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, compiler.ErrDanglingDependency, resp.Data.Errors[0].Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, compiler.ErrDanglingDependency, resp.Error.Code)
}

func TestValidateReportsEveryProgram(t *testing.T) {
	path := writeCUE(t, t.TempDir(), "programs.cue", chainCUE+openCUE+`program: bad: {inputs: ["u"]}
`)

	output, err := runValidateCmd(t, "text", path)
	require.Error(t, err)
	assert.Contains(t, output, compiler.ErrDanglingDependency)
	assert.Contains(t, output, ErrCodeSchema)
	assert.NotContains(t, output, "program.chain")
}

func TestValidateNonExistentPath(t *testing.T) {
	output, err := runValidateCmd(t, "text", "/nonexistent/directory/path")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, output, "Error [E005]")
}

func TestValidateEmptyDirectory(t *testing.T) {
	output, err := runValidateCmd(t, "text", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNoFiles)
	assert.Contains(t, output, "no CUE files found")
}

func TestValidateAll(t *testing.T) {
	path := writeCUE(t, t.TempDir(), "programs.cue", chainCUE+openCUE)
	result, errs := LoadPrograms(path, LoadModeCollectAll)
	require.Empty(t, errs)

	diag := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: &bytes.Buffer{}, ErrWriter: diag, Verbose: true}
	verrs := validateAll(context.Background(), compiler.New(), result.Definitions, formatter)

	require.Len(t, verrs, 1)
	assert.Equal(t, "program.open.instructions[0]", verrs[0].Field)
	assert.Contains(t, diag.String(), "Validating program: chain")
	assert.Contains(t, diag.String(), "Validating program: open")
}
