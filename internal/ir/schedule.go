package ir

import (
	"encoding/json"
	"fmt"
)

// FutureStep is the ScheduleEntry.Index of a step that completed a future.
const FutureStep = -1

// ScheduleEntry is one recorded scheduling decision.
type ScheduleEntry struct {
	// Discard lists the names pruned from the context before the step.
	Discard []string `json:"discard"`
	// Index is the instruction's position in the Program, or FutureStep.
	Index int `json:"index"`
	// FutureID is the completed future's id when Index is FutureStep.
	FutureID int `json:"future_id"`
	// NewFutures is how many futures the step produced.
	NewFutures int `json:"new_futures"`
}

// IsFuture reports whether the entry completed a future.
func (e ScheduleEntry) IsFuture() bool {
	return e.Index == FutureStep
}

// Schedule is the log of one successful dynamic execution, replayed
// verbatim on later invocations.
type Schedule struct {
	Entries []ScheduleEntry
}

// MarshalCanonical encodes the schedule as canonical JSON.
func (s *Schedule) MarshalCanonical() ([]byte, error) {
	entries := make([]any, len(s.Entries))
	for i, e := range s.Entries {
		discard := make([]any, len(e.Discard))
		for j, n := range e.Discard {
			discard[j] = n
		}
		entries[i] = map[string]any{
			"discard":     discard,
			"index":       e.Index,
			"future_id":   e.FutureID,
			"new_futures": e.NewFutures,
		}
	}
	return MarshalCanonical(entries)
}

// ParseSchedule decodes a schedule written by MarshalCanonical.
func ParseSchedule(data []byte) (*Schedule, error) {
	var entries []ScheduleEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	for i, e := range entries {
		if e.Index < FutureStep {
			return nil, fmt.Errorf("parse schedule: entry %d has index %d", i, e.Index)
		}
		if e.NewFutures < 0 {
			return nil, fmt.Errorf("parse schedule: entry %d has %d new futures", i, e.NewFutures)
		}
	}
	return &Schedule{Entries: entries}, nil
}
