package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/opflow/internal/compiler"
	"github.com/roach88/opflow/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Program    string // compile only this definition
	Output     string // output file path
	Aggregate  bool   // merge compatible instructions
	MaxVectors int    // cap on fluxes per batch, 0 for none
}

// CompiledProgram is one compiled definition.
type CompiledProgram struct {
	Name         string   `json:"name"`
	ID           string   `json:"id"`
	Instructions int      `json:"instructions"`
	Listing      []string `json:"listing"`
	Result       string   `json:"result"`
}

// CompilationResult holds the compiled programs.
type CompilationResult struct {
	Programs []CompiledProgram `json:"programs"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <programs>",
		Short: "Compile program definitions to instruction listings",
		Long: `Compile CUE program definitions to straight-line instruction programs.

<programs> is a CUE file or a directory holding one CUE package. Every
definition under its top-level "program" struct is compiled, or only the
one named by --program. Each compiled program is printed as its
instruction listing together with its content id, the key under which
runs and schedules are persisted.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")
	cmd.Flags().StringVarP(&opts.Program, "program", "p", "", "compile only the named program")
	addCompilerFlags(cmd, &opts.Aggregate, &opts.MaxVectors)

	return cmd
}

// addCompilerFlags registers the flags shared by every command that
// compiles programs.
func addCompilerFlags(cmd *cobra.Command, aggregate *bool, maxVectors *int) {
	cmd.Flags().BoolVar(aggregate, "aggregate", false, "merge compatible instructions into vector assignments")
	cmd.Flags().IntVar(maxVectors, "max-vectors", 0, "maximum fluxes per batch (0 for no limit)")
}

// newCompiler builds a compiler from the shared compiler flags.
func newCompiler(formatter *OutputFormatter, aggregate bool, maxVectors int) *compiler.Compiler {
	opts := []compiler.Option{
		compiler.WithAggregation(aggregate),
		compiler.WithLogger(formatter.Logger()),
	}
	if maxVectors > 0 {
		opts = append(opts, compiler.WithMaxVectorsInBatch(maxVectors))
	}
	return compiler.New(opts...)
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	// Use shared loader with collect-all mode
	loadResult, loadErrors := LoadPrograms(path, LoadModeCollectAll)

	// Handle load errors (path not found, no files, etc.)
	if loadResult == nil && len(loadErrors) > 0 {
		code, message := parseCompileError(loadErrors[0])
		return outputCompileError(formatter, code, message, nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, path)

	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	defs := loadResult.Definitions
	if opts.Program != "" {
		def, err := loadResult.Lookup(opts.Program)
		if err != nil {
			code, message := parseCompileError(err)
			return outputCompileError(formatter, code, message, nil)
		}
		defs = []*compiler.Definition{def}
	}

	c := newCompiler(formatter, opts.Aggregate, opts.MaxVectors)
	result := &CompilationResult{Programs: make([]CompiledProgram, 0, len(defs))}
	var compileErrors []error
	for _, def := range defs {
		formatter.VerboseLog("Compiling program: %s", def.Name)

		prog, err := def.Compile(cmd.Context(), c)
		if err != nil {
			compileErrors = append(compileErrors, convertCompileError(err, "program."+def.Name))
			continue
		}
		compiled, err := describeProgram(def.Name, prog)
		if err != nil {
			compileErrors = append(compileErrors, err)
			continue
		}
		result.Programs = append(result.Programs, compiled)
	}

	if len(compileErrors) > 0 {
		return outputCompileErrors(formatter, compileErrors)
	}

	// Write to file if --output specified
	if opts.Output != "" {
		if err := writeProgramsToFile(result, opts.Output); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(formatter, result, opts.Output)
}

// describeProgram summarizes a compiled program.
func describeProgram(name string, prog *ir.Program) (CompiledProgram, error) {
	id, err := ir.ProgramID(prog)
	if err != nil {
		return CompiledProgram{}, err
	}
	listing := make([]string, len(prog.Instructions))
	for i, in := range prog.Instructions {
		listing[i] = in.String()
	}
	return CompiledProgram{
		Name:         name,
		ID:           id,
		Instructions: len(prog.Instructions),
		Listing:      listing,
		Result:       prog.Result.String(),
	}, nil
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, outputFile string) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %d program(s)\n\n", len(result.Programs))

	for _, p := range result.Programs {
		fmt.Fprintf(formatter.Writer, "%s (%s): %d instruction(s)\n", p.Name, shortID(p.ID), p.Instructions)
		for _, line := range p.Listing {
			fmt.Fprintf(formatter.Writer, "  %s\n", strings.ReplaceAll(line, "\n", "\n  "))
		}
		fmt.Fprintf(formatter.Writer, "  RESULT: %s\n\n", p.Result)
	}

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote compiled programs to %s\n", outputFile)
	}

	return nil
}

// shortID abbreviates a content id for text output.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Compilation errors are command-level errors (exit code 2)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}

// outputCompileErrors outputs multiple compilation errors.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.JSON() {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseCompileError(err)
			cliErrors[i] = CLIError{
				Code:    code,
				Message: message,
			}
		}

		response := CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors, // Include all errors in data
		}

		if err := formatter.Respond(response); err != nil {
			return err
		}

		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		code, message := parseCompileError(err)
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				loadErr.Pos.Filename(),
				loadErr.Pos.Line(),
				loadErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", code, message)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return MapCompileErrorCode(compileErr.Code), compileErr.Message
	}
	return ErrCodeGeneric, err.Error()
}

// writeProgramsToFile writes the compilation result to a file as indented
// JSON.
func writeProgramsToFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling programs: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}
