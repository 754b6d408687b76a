package heal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGuardrailPresets(t *testing.T) {
	launch := LaunchGuardrails()
	build := BuildGuardrails()

	// The launch budget is strictly tighter than the build budget.
	assert.Less(t, launch.MaxAttemptsPerError, build.MaxAttemptsPerError)
	assert.Less(t, launch.MaxTotalIterations, build.MaxTotalIterations)
	assert.Less(t, launch.MaxHealingTime, build.MaxHealingTime)
	assert.Less(t, launch.MaxConsecutiveFailures, build.MaxConsecutiveFailures)
}

func TestSession_NoEscalationWhileUnderBudget(t *testing.T) {
	s := NewSession()
	g := LaunchGuardrails()

	assert.Empty(t, s.ShouldEscalate(g))

	s.RecordAttempt("Port Conflict")
	s.RecordSuccess("Port Conflict", "killed holder")
	assert.Empty(t, s.ShouldEscalate(g))
	assert.Equal(t, 1, s.AttemptsFor("Port Conflict"))
	assert.Equal(t, 0, s.AttemptsFor("Build Error"))
}

func TestSession_IterationCap(t *testing.T) {
	s := NewSession()
	g := LaunchGuardrails()

	for i := 0; i < g.MaxTotalIterations-1; i++ {
		s.RecordAttempt("Build Error")
		s.RecordSuccess("Build Error", "cleaned")
		assert.Empty(t, s.ShouldEscalate(g))
	}
	s.RecordAttempt("Build Error")
	assert.Contains(t, s.ShouldEscalate(g), "maximum of 10 healing iterations")
}

func TestSession_ConsecutiveFailureCap(t *testing.T) {
	s := NewSession()
	g := LaunchGuardrails()

	s.RecordAttempt("Runtime Error")
	s.RecordFailure()
	assert.Empty(t, s.ShouldEscalate(g))

	s.RecordAttempt("Runtime Error")
	s.RecordFailure()
	assert.Contains(t, s.ShouldEscalate(g), "2 times in a row")
}

func TestSession_SuccessResetsFailureStreak(t *testing.T) {
	s := NewSession()
	g := LaunchGuardrails()

	s.RecordAttempt("Runtime Error")
	s.RecordFailure()
	s.RecordAttempt("Runtime Error")
	s.RecordSuccess("Runtime Error", "cleared ports")
	s.RecordAttempt("Runtime Error")
	s.RecordFailure()

	assert.Empty(t, s.ShouldEscalate(g))
	assert.Equal(t, []string{"Runtime Error"}, s.Resolved)
	assert.Equal(t, []string{"cleared ports"}, s.ActionsTaken)
}

// A partial fix counts the action but is not progress; only a full fix
// clears the failure streak.
func TestSession_PartialFixKeepsFailureStreak(t *testing.T) {
	s := NewSession()
	g := LaunchGuardrails()

	s.RecordAttempt("Unknown Issue")
	s.RecordFailure()
	s.RecordAttempt("Unknown Issue")
	s.RecordPartial("cleaned the workspace")
	s.RecordAttempt("Unknown Issue")
	s.RecordFailure()

	assert.Contains(t, s.ShouldEscalate(g), "2 times in a row")
	assert.Empty(t, s.Resolved)
	assert.Equal(t, []string{"cleaned the workspace"}, s.ActionsTaken)
}

func TestSession_TimeCap(t *testing.T) {
	s := NewSession()
	g := LaunchGuardrails()

	s.now = func() time.Time { return s.StartTime.Add(g.MaxHealingTime + time.Second) }
	assert.Contains(t, s.ShouldEscalate(g), "time limit")
}

func TestSession_ForceEscalation(t *testing.T) {
	s := NewSession()
	g := LaunchGuardrails()

	assert.Empty(t, s.ShouldEscalate(g))
	s.ForceEscalation(g)
	assert.NotEmpty(t, s.ShouldEscalate(g))
}

// The escalation check is monotonic: once a session trips a guardrail,
// recording more attempts never clears it.
func TestSession_EscalationIsSticky(t *testing.T) {
	s := NewSession()
	g := LaunchGuardrails()

	for i := 0; i < g.MaxTotalIterations; i++ {
		s.RecordAttempt("Build Error")
		s.RecordSuccess("Build Error", "cleaned")
	}
	assert.NotEmpty(t, s.ShouldEscalate(g))

	s.RecordAttempt("Build Error")
	s.RecordSuccess("Build Error", "cleaned")
	assert.NotEmpty(t, s.ShouldEscalate(g))
}
