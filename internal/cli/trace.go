package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/opflow/internal/engine"
	"github.com/roach88/opflow/internal/ir"
	"github.com/roach88/opflow/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Program  string // optional - filter to one program id
	Run      string // optional - filter to one run id
}

// TraceStep is one scheduling decision of a traced run.
type TraceStep struct {
	Label      string   `json:"label"`
	Index      int      `json:"index"`
	FutureID   int      `json:"future_id,omitempty"`
	Discard    []string `json:"discard,omitempty"`
	Assigned   []string `json:"assigned,omitempty"`
	NewFutures int      `json:"new_futures,omitempty"`
	Waited     bool     `json:"waited,omitempty"`
}

// TraceRun is one run in the trace timeline.
type TraceRun struct {
	Seq       int64       `json:"seq"`
	ID        string      `json:"id"`
	ProgramID string      `json:"program_id"`
	Program   string      `json:"program"`
	Mode      string      `json:"mode"`
	DelayFree bool        `json:"delay_free"`
	Fallback  bool        `json:"fallback"`
	Result    ir.Value    `json:"result"`
	Steps     []TraceStep `json:"steps"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Runs  []TraceRun `json:"runs"`
	Stats TraceStats `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalRuns int `json:"total_runs"`
	Dynamic   int `json:"dynamic"`
	Replays   int `json:"replays"`
	Waited    int `json:"waited"`
	Fallbacks int `json:"fallbacks"`
	Steps     int `json:"steps"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the recorded runs of a database",
		Long: `Show the runs recorded in a run log, oldest first.

Each run lists how it was scheduled (dynamic or replay), whether a replay
had to wait on an exchange or fell back to dynamic scheduling, and its
result. With --verbose, or when a single run is selected, the steps of
each run are listed too.

Examples:
  opflow trace --db ./opflow.db
  opflow trace --db ./opflow.db --program <program-id>
  opflow trace --db ./opflow.db --run <run-id> --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Program, "program", "", "filter to one program id")
	cmd.Flags().StringVar(&opts.Run, "run", "", "filter to one run id")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	records, err := st.ListRuns(ctx, opts.Program)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	result, err := buildTrace(ctx, st, records, opts.Run)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build trace", err)
	}

	if opts.Run != "" && len(result.Runs) == 0 {
		return WrapExitError(ExitCommandError, fmt.Sprintf("run not found: %s", opts.Run), store.ErrNotFound)
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}

	return outputTraceText(cmd, result, opts.Verbose || opts.Run != "")
}

// buildTrace converts stored runs to the trace timeline. When runFilter is
// set only that run is kept.
func buildTrace(ctx context.Context, st *store.Store, records []store.RunRecord, runFilter string) (TraceResult, error) {
	result := TraceResult{Runs: []TraceRun{}}
	names := make(map[string]string)

	for _, rec := range records {
		if runFilter != "" && rec.ID != runFilter {
			continue
		}

		name, ok := names[rec.ProgramID]
		if !ok {
			prog, err := st.ReadProgram(ctx, rec.ProgramID)
			if err != nil {
				return TraceResult{}, err
			}
			name = prog.Name
			names[rec.ProgramID] = name
		}

		run := TraceRun{
			Seq:       rec.Seq,
			ID:        rec.ID,
			ProgramID: rec.ProgramID,
			Program:   name,
			Mode:      string(rec.Mode),
			DelayFree: rec.DelayFree,
			Fallback:  rec.Fallback,
			Result:    rec.Result,
			Steps:     make([]TraceStep, len(rec.Steps)),
		}
		for i, step := range rec.Steps {
			run.Steps[i] = traceStep(step)
		}
		result.Runs = append(result.Runs, run)

		result.Stats.TotalRuns++
		result.Stats.Steps += len(rec.Steps)
		switch rec.Mode {
		case engine.ModeReplay:
			result.Stats.Replays++
		default:
			result.Stats.Dynamic++
		}
		if !rec.DelayFree {
			result.Stats.Waited++
		}
		if rec.Fallback {
			result.Stats.Fallbacks++
		}
	}

	return result, nil
}

// traceStep labels a step by the future it completed or the names it
// assigned. Steps that only issued futures are labelled by instruction.
func traceStep(step engine.Step) TraceStep {
	label := strings.Join(step.Assigned, ",")
	switch {
	case step.IsFuture():
		label = fmt.Sprintf("future:%d", step.FutureID)
	case label == "":
		label = fmt.Sprintf("instruction %d", step.Index)
	}
	return TraceStep{
		Label:      label,
		Index:      step.Index,
		FutureID:   step.FutureID,
		Discard:    step.Discard,
		Assigned:   step.Assigned,
		NewFutures: step.NewFutures,
		Waited:     step.Waited,
	}
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	return writeResponse(cmd.OutOrStdout(), response)
}

// outputTraceText outputs the trace result as text.
func outputTraceText(cmd *cobra.Command, result TraceResult, showSteps bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "=== Runs ===")
	if len(result.Runs) == 0 {
		fmt.Fprintln(w, "  (no runs)")
	}
	for _, run := range result.Runs {
		formatTraceRun(w, run, showSteps)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Runs: %d\n", result.Stats.TotalRuns)
	fmt.Fprintf(w, "  Dynamic:    %d\n", result.Stats.Dynamic)
	fmt.Fprintf(w, "  Replays:    %d\n", result.Stats.Replays)
	fmt.Fprintf(w, "  Waited:     %d\n", result.Stats.Waited)
	fmt.Fprintf(w, "  Fallbacks:  %d\n", result.Stats.Fallbacks)
	fmt.Fprintf(w, "  Steps:      %d\n", result.Stats.Steps)

	return nil
}

// formatTraceRun formats a single run for text output.
func formatTraceRun(w io.Writer, run TraceRun, showSteps bool) {
	var flags []string
	if !run.DelayFree {
		flags = append(flags, "waited")
	}
	if run.Fallback {
		flags = append(flags, "fallback")
	}
	suffix := ""
	if len(flags) > 0 {
		suffix = " (" + strings.Join(flags, ", ") + ")"
	}

	fmt.Fprintf(w, "  [%d] %s %s %s%s\n", run.Seq, run.Program, truncateID(run.ID), run.Mode, suffix)
	fmt.Fprintf(w, "       Result: %v\n", run.Result)
	if !showSteps {
		return
	}
	for i, step := range run.Steps {
		fmt.Fprintf(w, "       %d. %s", i+1, step.Label)
		if len(step.Discard) > 0 {
			fmt.Fprintf(w, " discard=%s", strings.Join(step.Discard, ","))
		}
		if step.NewFutures > 0 {
			fmt.Fprintf(w, " futures=%d", step.NewFutures)
		}
		if step.Waited {
			fmt.Fprint(w, " waited")
		}
		fmt.Fprintln(w)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
