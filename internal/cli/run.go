package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/opflow/internal/engine"
	"github.com/roach88/opflow/internal/evaluator"
	"github.com/roach88/opflow/internal/harness"
	"github.com/roach88/opflow/internal/ir"
	"github.com/roach88/opflow/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database   string
	Program    string
	Inputs     string
	Times      int
	Dynamic    bool
	Aggregate  bool
	MaxVectors int

	// RunIDs allows overriding the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator
}

// RunConfig is the YAML file given to --inputs: the input values and the
// behaviour of the reference evaluator.
//
//	inputs: { u: [1, 2] }
//	operators:
//	  generic: { mass: 2 }
//	exchange: { transport: loopback, delay_ms: 5 }
type RunConfig struct {
	Inputs    map[string]any    `yaml:"inputs"`
	Operators harness.Operators `yaml:"operators,omitempty"`
	Exchange  *harness.Exchange `yaml:"exchange,omitempty"`
}

// RunSummary is the JSON payload of the run command.
type RunSummary struct {
	ProgramID string       `json:"program_id"`
	Program   string       `json:"program"`
	Runs      []RunOutcome `json:"runs"`
}

// RunOutcome describes one recorded run.
type RunOutcome struct {
	ID        string   `json:"id"`
	Seq       int64    `json:"seq"`
	Mode      string   `json:"mode"`
	DelayFree bool     `json:"delay_free"`
	Fallback  bool     `json:"fallback"`
	Steps     int      `json:"steps"`
	Result    ir.Value `json:"result"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <programs>",
		Short: "Execute a program and record its runs",
		Long: `Compile one program definition and execute it with the reference evaluator.

Every run is appended to the SQLite run log (created if it doesn't exist)
together with the program's schedule, so a later invocation replays the
schedule the first dynamic run recorded.

Example:
  opflow run --db ./opflow.db --inputs inputs.yaml programs.cue
  opflow run --db /tmp/test.db -p chain --times 3 ./programs --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVarP(&opts.Program, "program", "p", "", "program to run (required when several are defined)")
	cmd.Flags().StringVar(&opts.Inputs, "inputs", "", "YAML file with inputs, operators and exchange settings")
	cmd.Flags().IntVar(&opts.Times, "times", 1, "number of times to execute the program")
	cmd.Flags().BoolVar(&opts.Dynamic, "dynamic", false, "ignore the cached schedule")
	addCompilerFlags(cmd, &opts.Aggregate, &opts.MaxVectors)
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runProgram(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := formatter.Logger()

	if opts.Times < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--times must be at least 1, got %d", opts.Times))
	}

	cfg, err := loadRunConfig(opts.Inputs)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInputs, err)
	}
	inputs, err := evaluator.ToValues(cfg.Inputs)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInputs, fmt.Errorf("invalid inputs: %w", err))
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

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	prog, err := def.Compile(ctx, newCompiler(formatter, opts.Aggregate, opts.MaxVectors))
	if err != nil {
		code, message := parseCompileError(err)
		return outputCompileError(formatter, code, message, nil)
	}
	logger.Info("program compiled", "program", def.Name, "instructions", len(prog.Instructions))

	logger.Debug("opening database", "path", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	programID, err := st.WriteProgram(ctx, def.Name, prog)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, err)
	}
	if opts.Dynamic {
		if err := st.DeleteSchedule(ctx, programID); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeDatabase, err)
		}
	} else if err := st.RestoreSchedule(ctx, programID, prog); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, err)
	}

	seq, err := st.MaxSeq(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, err)
	}
	runIDs := opts.RunIDs
	if runIDs == nil {
		runIDs = engine.UUIDv7Generator{}
	}
	eng := engine.New(
		engine.WithRunIDGenerator(runIDs),
		engine.WithClock(engine.NewClockAt(seq)),
		engine.WithLogger(logger),
	)

	evalOpts := []evaluator.Option{evaluator.WithLogger(logger)}
	if t := cfg.Exchange.NewTransport(); t != nil {
		evalOpts = append(evalOpts, evaluator.WithTransport(t))
	}
	ev := evaluator.New(cfg.Operators.Registry(), evalOpts...)

	summary := RunSummary{ProgramID: programID, Program: def.Name}
	for i := 0; i < opts.Times; i++ {
		ev.Reset(inputs)
		run, err := eng.Execute(ctx, prog, ev)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info("run interrupted", "program", def.Name)
			}
			return formatter.Fail(ExitFailure, ErrCodeExecution, err)
		}
		if err := st.WriteRun(ctx, programID, run); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeDatabase, err)
		}
		if err := st.SaveSchedule(ctx, programID, prog); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeDatabase, err)
		}

		logger.Info("run completed",
			"run_id", run.ID,
			"seq", run.Seq,
			"mode", run.Mode,
			"steps", len(run.Steps),
			"delay_free", run.DelayFree,
		)
		summary.Runs = append(summary.Runs, RunOutcome{
			ID:        run.ID,
			Seq:       run.Seq,
			Mode:      string(run.Mode),
			DelayFree: run.DelayFree,
			Fallback:  run.Fallback,
			Steps:     len(run.Steps),
			Result:    run.Result,
		})
	}

	return outputRunSummary(formatter, summary)
}

// loadRunConfig reads the --inputs file. An empty path is an empty
// configuration.
func loadRunConfig(path string) (*RunConfig, error) {
	cfg := &RunConfig{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inputs file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse inputs file: %w", err)
	}
	if x := cfg.Exchange; x != nil && x.Transport != "" &&
		x.Transport != harness.TransportCountdown && x.Transport != harness.TransportLoopback {
		return nil, fmt.Errorf("exchange: unknown transport %q", x.Transport)
	}
	return cfg, nil
}

// signalContext derives a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan) // Prevent signal handler leak
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func outputRunSummary(formatter *OutputFormatter, summary RunSummary) error {
	if formatter.JSON() {
		return formatter.Success(summary)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ %s: %d run(s) recorded (program %s)\n", summary.Program, len(summary.Runs), shortID(summary.ProgramID))
	for _, r := range summary.Runs {
		flags := ""
		if !r.DelayFree {
			flags += " waited"
		}
		if r.Fallback {
			flags += " fallback"
		}
		fmt.Fprintf(w, "  #%d %s %s, %d step(s)%s: %v\n", r.Seq, r.ID, r.Mode, r.Steps, flags, r.Result)
	}
	return nil
}
