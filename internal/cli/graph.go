package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/opflow/internal/ir"
)

// GraphOptions holds flags for the graph command.
type GraphOptions struct {
	*RootOptions
	Program        string
	Output         string
	Aggregate      bool
	MaxVectors     int
	MaxLabelLength int
	WrapWidth      uint
}

// GraphResult is the JSON payload of the graph command.
type GraphResult struct {
	Name string `json:"name"`
	ID   string `json:"id"`
	DOT  string `json:"dot"`
}

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GraphOptions{RootOptions: rootOpts}
	defaults := ir.DefaultDotOptions()

	cmd := &cobra.Command{
		Use:   "graph <programs>",
		Short: "Render a compiled program as a Graphviz graph",
		Long: `Compile one program definition and print its dataflow graph in DOT syntax.

Instructions are boxes, edges carry the names flowing between them, and
the synthetic "initial" and "result" nodes stand for the inputs and the
program result.

Examples:
  opflow graph programs.cue --program chain | dot -Tsvg > chain.svg
  opflow graph ./programs -p chain --aggregate -o chain.dot`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Program, "program", "p", "", "program to render (required when several are defined)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write DOT to this file")
	cmd.Flags().IntVar(&opts.MaxLabelLength, "max-label", defaults.MaxLabelLength, "truncate instruction labels to this many characters (0 disables)")
	cmd.Flags().UintVar(&opts.WrapWidth, "wrap", defaults.WrapWidth, "wrap label lines at this width (0 disables)")
	addCompilerFlags(cmd, &opts.Aggregate, &opts.MaxVectors)

	return cmd
}

func runGraph(opts *GraphOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := LoadPrograms(path, LoadModeFailFast)
	if len(loadErrors) > 0 {
		code, message := parseCompileError(loadErrors[0])
		return outputCompileError(formatter, code, message, nil)
	}

	def, err := loadResult.Lookup(opts.Program)
	if err != nil {
		code, message := parseCompileError(err)
		return outputCompileError(formatter, code, message, nil)
	}

	c := newCompiler(formatter, opts.Aggregate, opts.MaxVectors)
	prog, err := def.Compile(cmd.Context(), c)
	if err != nil {
		code, message := parseCompileError(err)
		return outputCompileError(formatter, code, message, nil)
	}
	id, err := ir.ProgramID(prog)
	if err != nil {
		return outputCompileError(formatter, ErrCodeGeneric, err.Error(), nil)
	}

	dot := ir.DOT(prog, ir.DotOptions{MaxLabelLength: opts.MaxLabelLength, WrapWidth: opts.WrapWidth})
	formatter.VerboseLog("Rendered %s: %d instruction(s)", def.Name, len(prog.Instructions))

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, []byte(dot), 0644); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	if opts.Format == "json" {
		return formatter.Success(GraphResult{Name: def.Name, ID: id, DOT: dot})
	}
	if opts.Output != "" {
		fmt.Fprintf(formatter.Writer, "✓ Wrote graph of %s to %s\n", def.Name, opts.Output)
		return nil
	}
	fmt.Fprint(formatter.Writer, dot)
	return nil
}
