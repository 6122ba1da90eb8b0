package cli

import (
	"context"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/cobra"

	"github.com/roach88/opflow/internal/engine"
	"github.com/roach88/opflow/internal/ir"
	"github.com/roach88/opflow/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Program  string // optional - specific program only
}

// ReplayProgramResult holds the verification result for a single program.
type ReplayProgramResult struct {
	ProgramID     string   `json:"program_id"`
	Program       string   `json:"program"`
	Runs          int      `json:"runs"`
	Replays       int      `json:"replays"`
	Verified      int      `json:"verified"`
	Unverified    int      `json:"unverified"`
	Fallbacks     int      `json:"fallbacks"`
	Deterministic bool     `json:"deterministic"`
	Divergent     []string `json:"divergent,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Programs         []ReplayProgramResult `json:"programs"`
	TotalPrograms    int                   `json:"total_programs"`
	AllDeterministic bool                  `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Verify that replayed runs followed their schedule",
		Long: `Re-read the run log and verify that every replay followed its schedule.

A replay must make the same scheduling decisions as the dynamic run that
recorded its schedule: the same instructions and futures in the same
order, discarding the same names. Replays that fell back to dynamic
scheduling are counted but not compared.

Exit codes:
  0 - All replays followed their schedule
  1 - A replay diverged from its schedule
  2 - Command error (database not found, etc.)

Examples:
  opflow replay --db ./opflow.db
  opflow replay --db ./opflow.db --program <program-id>
  opflow replay --db ./opflow.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Program, "program", "", "verify one program id only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
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

	// Group runs by program, in order of first appearance
	var programIDs []string
	byProgram := make(map[string][]store.RunRecord)
	for _, rec := range records {
		if _, ok := byProgram[rec.ProgramID]; !ok {
			programIDs = append(programIDs, rec.ProgramID)
		}
		byProgram[rec.ProgramID] = append(byProgram[rec.ProgramID], rec)
	}

	if len(programIDs) == 0 {
		if opts.Format == "json" {
			return outputReplayJSON(cmd, ReplayResult{
				Programs:         []ReplayProgramResult{},
				AllDeterministic: true,
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No runs found in database.")
		return nil
	}

	result := ReplayResult{
		Programs:         make([]ReplayProgramResult, 0, len(programIDs)),
		TotalPrograms:    len(programIDs),
		AllDeterministic: true,
	}

	for _, id := range programIDs {
		prog, err := st.ReadProgram(ctx, id)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read program %s", id), err)
		}

		programResult := verifyReplays(byProgram[id])
		programResult.ProgramID = id
		programResult.Program = prog.Name

		result.Programs = append(result.Programs, programResult)
		if !programResult.Deterministic {
			result.AllDeterministic = false
		}
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}

	return outputReplayText(cmd, result, opts.Verbose)
}

// verifyReplays compares every replay of one program, oldest first, with
// the latest dynamic run before it, which is the run that recorded the
// schedule it followed.
func verifyReplays(runs []store.RunRecord) ReplayProgramResult {
	result := ReplayProgramResult{Runs: len(runs), Deterministic: true}

	var recorded []ir.ScheduleEntry
	for _, run := range runs {
		if run.Mode != engine.ModeReplay {
			recorded = scheduleEntries(run.Steps)
			continue
		}

		result.Replays++
		switch {
		case run.Fallback:
			result.Fallbacks++
		case recorded == nil:
			result.Unverified++
		case entriesEqual(recorded, scheduleEntries(run.Steps)):
			result.Verified++
		default:
			result.Deterministic = false
			result.Divergent = append(result.Divergent, run.ID)
		}
	}

	return result
}

func scheduleEntries(steps []engine.Step) []ir.ScheduleEntry {
	entries := make([]ir.ScheduleEntry, len(steps))
	for i, s := range steps {
		entries[i] = s.Entry()
	}
	return entries
}

func entriesEqual(a, b []ir.ScheduleEntry) bool {
	return cmp.Equal(a, b, cmpopts.EquateEmpty())
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if !result.AllDeterministic {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeDivergent,
			Message: "replay verification failed",
		}
	}

	if err := writeResponse(cmd.OutOrStdout(), response); err != nil {
		return err
	}

	if !result.AllDeterministic {
		return NewExitError(ExitFailure, "replay verification failed")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replay Summary: %d program(s)\n", result.TotalPrograms)
	fmt.Fprintln(w)

	for _, p := range result.Programs {
		status := "✓"
		if !p.Deterministic {
			status = "✗"
		}

		fmt.Fprintf(w, "%s Program: %s (%s)\n", status, p.Program, shortID(p.ProgramID))

		if verbose {
			fmt.Fprintf(w, "  Runs: %d\n", p.Runs)
			fmt.Fprintf(w, "  Replays: %d\n", p.Replays)
			fmt.Fprintf(w, "  Verified: %d\n", p.Verified)
			fmt.Fprintf(w, "  Unverified: %d\n", p.Unverified)
			fmt.Fprintf(w, "  Fallbacks: %d\n", p.Fallbacks)
		} else {
			fmt.Fprintf(w, "  Runs: %d, %d replay(s), %d verified\n", p.Runs, p.Replays, p.Verified)
		}

		for _, id := range p.Divergent {
			fmt.Fprintf(w, "  Warning: run %s diverged from its schedule\n", id)
		}
		fmt.Fprintln(w)
	}

	if result.AllDeterministic {
		fmt.Fprintln(w, "✓ All replays followed their schedule")
		return nil
	}

	fmt.Fprintln(w, "✗ Replay verification failed")
	return NewExitError(ExitFailure, "replay verification failed")
}
