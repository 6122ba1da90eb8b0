package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/opflow/internal/ir"
	"github.com/roach88/opflow/internal/store"
)

// ScheduleOptions holds flags for the schedule command.
type ScheduleOptions struct {
	*RootOptions
	Database string
	Program  string
	Reset    bool
}

// ScheduleResult is the persisted schedule state of one program.
type ScheduleResult struct {
	ProgramID string             `json:"program_id"`
	Program   string             `json:"program"`
	Found     bool               `json:"found"`
	Cached    bool               `json:"cached"`
	Attempts  int                `json:"attempts"`
	Entries   []ir.ScheduleEntry `json:"entries,omitempty"`
	Reset     bool               `json:"reset,omitempty"`
}

// NewScheduleCommand creates the schedule command.
func NewScheduleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScheduleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show or reset a program's cached schedule",
		Long: `Show the schedule a program replays and its remaining retry budget.

A program caches the schedule of its first successful dynamic run. Each
replay that has to wait on an exchange discards the schedule and spends
one attempt; once the budget is spent the program always runs
dynamically. --reset forgets both, so the next run starts afresh.

Examples:
  opflow schedule --db ./opflow.db --program <program-id>
  opflow schedule --db ./opflow.db --program <program-id> --reset`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Program, "program", "", "program id (required)")
	_ = cmd.MarkFlagRequired("program")
	cmd.Flags().BoolVar(&opts.Reset, "reset", false, "forget the schedule and retry budget")

	return cmd
}

func runSchedule(opts *ScheduleOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	prog, err := st.ReadProgram(ctx, opts.Program)
	if errors.Is(err, store.ErrNotFound) {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Errorf("program not found: %s: %w", opts.Program, err))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read program", err)
	}

	sched, attempts, found, err := st.ReadSchedule(ctx, opts.Program)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read schedule", err)
	}

	result := ScheduleResult{
		ProgramID: prog.ID,
		Program:   prog.Name,
		Found:     found,
		Cached:    sched != nil,
		Attempts:  attempts,
	}
	if sched != nil {
		result.Entries = sched.Entries
	}

	if opts.Reset {
		if err := st.DeleteSchedule(ctx, opts.Program); err != nil {
			return WrapExitError(ExitCommandError, "failed to reset schedule", err)
		}
		result.Reset = true
		formatter.VerboseLog("Reset schedule of %s", prog.Name)
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	outputScheduleText(formatter, result, prog.Listing)
	return nil
}

func outputScheduleText(formatter *OutputFormatter, result ScheduleResult, listing string) {
	w := formatter.Writer

	fmt.Fprintf(w, "Program: %s (%s)\n", result.Program, shortID(result.ProgramID))
	switch {
	case !result.Found:
		fmt.Fprintln(w, "Schedule: none recorded")
	case !result.Cached:
		fmt.Fprintf(w, "Schedule: none cached, %d attempt(s) left\n", result.Attempts)
	default:
		fmt.Fprintf(w, "Schedule: %d step(s), %d attempt(s) left\n", len(result.Entries), result.Attempts)
	}

	if formatter.Verbose && listing != "" {
		fmt.Fprintln(w)
		for _, line := range strings.Split(listing, "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}

	if len(result.Entries) > 0 {
		fmt.Fprintln(w)
	}
	for i, e := range result.Entries {
		if e.IsFuture() {
			fmt.Fprintf(w, "  %d. future %d", i+1, e.FutureID)
		} else {
			fmt.Fprintf(w, "  %d. instruction %d", i+1, e.Index)
		}
		if len(e.Discard) > 0 {
			fmt.Fprintf(w, " discard=%s", strings.Join(e.Discard, ","))
		}
		if e.NewFutures > 0 {
			fmt.Fprintf(w, " futures=%d", e.NewFutures)
		}
		fmt.Fprintln(w)
	}

	if result.Reset {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "✓ Schedule reset")
	}
}
