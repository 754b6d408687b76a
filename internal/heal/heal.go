// Package heal bounds the self-healing retry loops. A Session tracks
// one in-progress recovery attempt; Guardrails cap how far it may go
// before escalating to the user. Sessions are ephemeral and never
// persisted across process restarts.
package heal

import (
	"fmt"
	"time"
)

// Guardrails caps a healing session. Zero values are never valid; use
// one of the presets.
type Guardrails struct {
	// MaxAttemptsPerError caps retries for one error category.
	MaxAttemptsPerError int
	// MaxTotalIterations caps loop iterations across all categories.
	MaxTotalIterations int
	// MaxHealingTime caps wall-clock time for the whole session.
	MaxHealingTime time.Duration
	// MaxConsecutiveFailures caps failures without progress.
	MaxConsecutiveFailures int
}

// LaunchGuardrails is the tight budget for the interactive launch
// phase.
func LaunchGuardrails() Guardrails {
	return Guardrails{
		MaxAttemptsPerError:    3,
		MaxTotalIterations:     10,
		MaxHealingTime:         2 * time.Minute,
		MaxConsecutiveFailures: 2,
	}
}

// BuildGuardrails is the more forgiving budget for the build and test
// phases, where dependency installs and rescaffolds are routine fixes.
func BuildGuardrails() Guardrails {
	return Guardrails{
		MaxAttemptsPerError:    5,
		MaxTotalIterations:     15,
		MaxHealingTime:         5 * time.Minute,
		MaxConsecutiveFailures: 3,
	}
}

// Session is the bookkeeping for one healing attempt. Each phase
// (build, test, launch) gets its own independent Session.
type Session struct {
	Iterations          int
	AttemptsByCategory  map[string]int
	ConsecutiveFailures int
	StartTime           time.Time
	Resolved            []string
	ActionsTaken        []string

	now func() time.Time // test hook
}

func NewSession() *Session {
	return &Session{
		AttemptsByCategory: map[string]int{},
		StartTime:          time.Now(),
		now:                time.Now,
	}
}

// RecordAttempt counts one fix attempt against a category.
func (s *Session) RecordAttempt(category string) {
	s.Iterations++
	s.AttemptsByCategory[category]++
}

// RecordSuccess marks a category resolved and resets the failure streak.
func (s *Session) RecordSuccess(category, action string) {
	s.ConsecutiveFailures = 0
	s.Resolved = append(s.Resolved, category)
	s.ActionsTaken = append(s.ActionsTaken, action)
}

// RecordPartial notes a partial fix. Only a full fix clears the
// failure streak; a run of partial fixes is not progress.
func (s *Session) RecordPartial(action string) {
	s.ActionsTaken = append(s.ActionsTaken, action)
}

// RecordFailure extends the failure streak.
func (s *Session) RecordFailure() {
	s.ConsecutiveFailures++
}

// ForceEscalation exhausts the failure budget so the next guardrail
// check escalates. Used when a fix handler asks for help.
func (s *Session) ForceEscalation(g Guardrails) {
	s.ConsecutiveFailures = g.MaxConsecutiveFailures
}

// AttemptsFor returns the attempt count for one category.
func (s *Session) AttemptsFor(category string) int {
	return s.AttemptsByCategory[category]
}

// ShouldEscalate returns a non-empty reason when any global guardrail
// has tripped. The per-category cap is checked separately via
// AttemptsFor, since it refuses one category without ending the
// session.
func (s *Session) ShouldEscalate(g Guardrails) string {
	if s.Iterations >= g.MaxTotalIterations {
		return fmt.Sprintf("Reached maximum of %d healing iterations", g.MaxTotalIterations)
	}
	if s.ConsecutiveFailures >= g.MaxConsecutiveFailures {
		return fmt.Sprintf("Failed %d times in a row without progress", s.ConsecutiveFailures)
	}
	clock := s.now
	if clock == nil {
		clock = time.Now
	}
	if clock().Sub(s.StartTime) > g.MaxHealingTime {
		return fmt.Sprintf("Healing session exceeded %s time limit", g.MaxHealingTime)
	}
	return ""
}
