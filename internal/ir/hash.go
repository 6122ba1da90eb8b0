package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix allows
// the listing format to change without colliding with old ids.
const (
	DomainProgram  = "opflow/program/v1"
	DomainSchedule = "opflow/schedule/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ProgramID is the content id of a compiled program. Two compilations of
// the same expression with the same options share an id, so persisted
// schedules can be found again across processes.
func ProgramID(p *Program) (string, error) {
	listing := make([]any, len(p.Instructions))
	for i, in := range p.Instructions {
		listing[i] = in.String()
	}
	canonical, err := MarshalCanonical(map[string]any{
		"instructions": listing,
		"result":       p.Result.String(),
	})
	if err != nil {
		return "", fmt.Errorf("ProgramID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainProgram, canonical), nil
}

// ScheduleHash is the content hash of a schedule.
func ScheduleHash(s *Schedule) (string, error) {
	canonical, err := s.MarshalCanonical()
	if err != nil {
		return "", fmt.Errorf("ScheduleHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSchedule, canonical), nil
}

// MustProgramID is like ProgramID but panics on error.
// Use only in tests or when the program is known to be valid.
func MustProgramID(p *Program) string {
	id, err := ProgramID(p)
	if err != nil {
		panic(err)
	}
	return id
}
