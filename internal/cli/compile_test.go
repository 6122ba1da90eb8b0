package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/opflow/internal/compiler"
)

const chainCUE = `program: chain: {
	inputs: ["u"]
	let a = {cse: {sum: ["u", 1]}, prefix: "a"}
	result: {cse: {product: [a, 3]}, prefix: "b"}
}
`

const exchangeCUE = `program: exchange: {
	inputs: ["u"]
	result: {sum: [
		{exchange: ["u"], index: 0, rank: 1},
		{exchange: ["u"], index: 0, rank: 2},
	]}
}
`

// writeCUE writes a CUE file into dir and returns its path.
func writeCUE(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func runCompileCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestCompileValidProgram(t *testing.T) {
	path := writeCUE(t, t.TempDir(), "chain.cue", chainCUE)

	output, err := runCompileCmd(t, "text", path)
	require.NoError(t, err)

	assert.Contains(t, output, "✓ Compiled 1 program(s)")
	assert.Contains(t, output, "chain (")
	assert.Contains(t, output, "2 instruction(s)")
	assert.Contains(t, output, "  a <- u + 1\n")
	assert.Contains(t, output, "  b <- a*3\n")
	assert.Contains(t, output, "  RESULT: b\n")
}

func TestCompileValidProgramJSON(t *testing.T) {
	path := writeCUE(t, t.TempDir(), "chain.cue", chainCUE)

	output, err := runCompileCmd(t, "json", path)
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Programs, 1)

	p := resp.Data.Programs[0]
	assert.Equal(t, "chain", p.Name)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, 2, p.Instructions)
	assert.Equal(t, []string{"a <- u + 1", "b <- a*3"}, p.Listing)
	assert.Equal(t, "b", p.Result)
}

func TestCompileIDIsStable(t *testing.T) {
	dir := t.TempDir()
	first := writeCUE(t, dir, "first.cue", chainCUE)
	second := writeCUE(t, dir, "second.cue", chainCUE)

	ids := make([]string, 0, 2)
	for _, path := range []string{first, second} {
		output, err := runCompileCmd(t, "json", path)
		require.NoError(t, err)

		var resp struct {
			Data CompilationResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(output), &resp))
		require.Len(t, resp.Data.Programs, 1)
		ids = append(ids, resp.Data.Programs[0].ID)
	}
	assert.Equal(t, ids[0], ids[1])
}

func TestCompileOutputToFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeCUE(t, tmpDir, "programs.cue", chainCUE+exchangeCUE)
	outputFile := filepath.Join(tmpDir, "compiled.json")

	output, err := runCompileCmd(t, "text", path, "--output", outputFile)
	require.NoError(t, err)
	assert.Contains(t, output, "Wrote compiled programs to "+outputFile)

	data, err := os.ReadFile(outputFile)
	require.NoError(t, err)

	var result CompilationResult
	require.NoError(t, json.Unmarshal(data, &result))
	require.Len(t, result.Programs, 2)
	assert.Equal(t, "chain", result.Programs[0].Name)
	assert.Equal(t, "exchange", result.Programs[1].Name)
}

func TestCompileSelectProgram(t *testing.T) {
	path := writeCUE(t, t.TempDir(), "programs.cue", chainCUE+exchangeCUE)

	output, err := runCompileCmd(t, "text", path, "--program", "exchange")
	require.NoError(t, err)
	assert.Contains(t, output, "✓ Compiled 1 program(s)")
	assert.Contains(t, output, "exchange (")
	assert.NotContains(t, output, "chain (")

	_, err = runCompileCmd(t, "text", path, "--program", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNotFound)
}

func TestCompileDirectory(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "chain.cue", "package programs\n\n"+chainCUE)
	writeCUE(t, dir, "exchange.cue", "package programs\n\n"+exchangeCUE)

	output, err := runCompileCmd(t, "text", dir)
	require.NoError(t, err)
	assert.Contains(t, output, "✓ Compiled 2 program(s)")
}

func TestCompileNonExistentPath(t *testing.T) {
	output, err := runCompileCmd(t, "text", "/nonexistent/directory/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, output, "not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCompileEmptyDirectory(t *testing.T) {
	output, err := runCompileCmd(t, "text", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNoFiles)
	assert.Contains(t, output, "no CUE files found")
}

func TestCompileNoPrograms(t *testing.T) {
	path := writeCUE(t, t.TempDir(), "empty.cue", "other: 1\n")

	output, err := runCompileCmd(t, "text", path)
	require.Error(t, err)
	assert.Contains(t, output, "✗ Compilation failed")
	assert.Contains(t, output, ErrCodeNoPrograms)
}

func TestCompileInvalidProgram(t *testing.T) {
	path := writeCUE(t, t.TempDir(), "bad.cue", `program: bad: {
	inputs: ["u"]
}
`)

	output, err := runCompileCmd(t, "text", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, "✗ Compilation failed")
	assert.Contains(t, output, ErrCodeSchema)
	assert.Contains(t, output, "result: result or results is required")
}

func TestCompileInvalidProgramJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeCUE(t, dir, "bad.cue", `program: bad: {inputs: ["u"]}
program: worse: {inputs: ["v"]}
`)

	output, err := runCompileCmd(t, "json", path)
	require.Error(t, err)

	var resp struct {
		Status string     `json:"status"`
		Error  *CLIError  `json:"error"`
		Data   []CLIError `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeSchema, resp.Error.Code)
	assert.Len(t, resp.Data, 2)
}

func TestFindCUEFiles(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "a.cue", chainCUE)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0755))
	writeCUE(t, filepath.Join(dir, "nested"), "b.cue", exchangeCUE)
	writeCUE(t, dir, "notes.txt", "not cue")

	files, err := FindCUEFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestMapCompileErrorCode(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{compiler.ErrCodeSchema, ErrCodeSchema},
		{compiler.ErrCodeCUE, ErrCodeCUE},
		{compiler.ErrCodeFluxOrder, ErrCodeFluxOrder},
		{compiler.ErrCodeFluxOperator, ErrCodeFluxOperator},
		{compiler.ErrCodeImpossibleAggregation, ErrCodeAggregation},
		{compiler.ErrCodeInstruction, ErrCodeInstruction},
		{"SOMETHING_ELSE", ErrCodeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, MapCompileErrorCode(tt.code))
		})
	}
}

func TestLoadResultLookup(t *testing.T) {
	path := writeCUE(t, t.TempDir(), "programs.cue", chainCUE+exchangeCUE)
	result, errs := LoadPrograms(path, LoadModeFailFast)
	require.Empty(t, errs)

	def, err := result.Lookup("exchange")
	require.NoError(t, err)
	assert.Equal(t, "exchange", def.Name)

	_, err = result.Lookup("")
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeAmbiguous, loadErr.Code)

	_, err = result.Lookup("nope")
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)
}
