package autopilot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/foundry/internal/config"
	"github.com/mpataki/foundry/internal/models"
	"github.com/mpataki/foundry/internal/proc"
	"github.com/mpataki/foundry/internal/scaffold"
	"github.com/mpataki/foundry/internal/store"
)

// mavenScaffolder writes a bare pom.xml, so the workspace detects as a
// Spring Boot project and the pipeline runs real maven commands.
type mavenScaffolder struct{}

func (mavenScaffolder) Available() []scaffold.TemplateInfo {
	return []scaffold.TemplateInfo{{ID: "java-springboot", Name: "Spring Boot Service", Description: "Java REST service"}}
}

func (mavenScaffolder) Instantiate(templateID, targetDir string, vars map[string]string) error {
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return err
	}
	pom := "<project><artifactId>" + vars["appName"] + "</artifactId></project>\n"
	return os.WriteFile(filepath.Join(targetDir, "pom.xml"), []byte(pom), 0644)
}

// brokenMavenEngine wires an engine around a pom.xml scaffold and puts
// a failing mvn stub first on PATH, so every maven command exits 1 with
// compiler-style output.
func brokenMavenEngine(t *testing.T) *Engine {
	t.Helper()

	binDir := t.TempDir()
	stub := "#!/bin/sh\necho \"[ERROR] COMPILATION ERROR : something went wrong\" >&2\nexit 1\n"
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "mvn"), []byte(stub), 0755))
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	cfg := &config.Config{
		DataDir:           t.TempDir(),
		LaunchTimeoutSecs: 1,
		HealthPollMillis:  50,
	}
	require.NoError(t, cfg.EnsureDataDir())

	registry, err := store.OpenRegistry(cfg.DBPath())
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })

	eng, err := New(cfg, store.New(cfg.SessionsDir(), registry), proc.NewSupervisor(0), mavenScaffolder{}, nil)
	require.NoError(t, err)
	return eng
}

// startMavenRun drives a session through intake and analysis into the
// build station, which then fails against the mvn stub.
func startMavenRun(t *testing.T, eng *Engine, sessionID string) *models.RuntimeState {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, eng.Start(ctx, sessionID, "a java service for orders"))
	require.NoError(t, eng.AnswerQuestion(ctx, sessionID, models.QConfirmAppName, "order-api"))
	require.NoError(t, eng.AnswerQuestion(ctx, sessionID, models.QConfirmTemplate, "java-springboot"))
	require.NoError(t, eng.AnswerQuestion(ctx, sessionID, models.QEnableIac, "no"))

	state, err := eng.store.LoadRuntime(sessionID)
	require.NoError(t, err)
	return state
}

func countCommandRuns(events []models.TimelineEvent, substr string) int {
	n := 0
	for _, ev := range events {
		if ev.Type != models.EventTerminalStart {
			continue
		}
		if cmd, ok := ev.Metadata["command"].(string); ok && strings.Contains(cmd, substr) {
			n++
		}
	}
	return n
}

func countQuestions(events []models.TimelineEvent, questionID string) int {
	n := 0
	for _, ev := range events {
		if ev.Type == models.EventQuestion && ev.Metadata["questionId"] == questionID {
			n++
		}
	}
	return n
}

func hasWarning(events []models.TimelineEvent, substr string) bool {
	for _, ev := range events {
		if ev.Type == models.EventWarning && strings.Contains(ev.Message, substr) {
			return true
		}
	}
	return false
}

func TestBuildLoop_EscalatesToUserAfterRepeatedFailures(t *testing.T) {
	eng := brokenMavenEngine(t)

	state := startMavenRun(t, eng, "sess-1")

	assert.Equal(t, models.RunStateWaitingOnUser, state.RunState)
	assert.Equal(t, "build-test", state.CurrentStation)
	assert.Equal(t, models.StationWaiting, stationByName(t, state, "build-test").State)

	require.Len(t, state.BlockingQuestions, 1)
	q := state.BlockingQuestions[0]
	assert.Equal(t, models.QConfirmBuildAction, q.ID)
	assert.Contains(t, q.Text, "The build keeps failing")

	events, err := eng.store.LoadEvents("sess-1")
	require.NoError(t, err)

	// Five attempts for the category, then the forced sixth escalates.
	assert.Equal(t, 6, countCommandRuns(events, "compile"))
	assert.True(t, hasWarning(events, "Exceeded 5 attempts for Build Error"))
	assert.Equal(t, 1, countQuestions(events, models.QConfirmBuildAction))
}

func TestBuildLoop_RetryAnswerStartsAFreshBudget(t *testing.T) {
	eng := brokenMavenEngine(t)

	startMavenRun(t, eng, "sess-1")
	require.NoError(t, eng.AnswerQuestion(context.Background(), "sess-1", models.QConfirmBuildAction, "retry"))

	// The retry re-enters the loop with a new healing session and the
	// same broken build, so it parks on a second escalation.
	state, err := eng.store.LoadRuntime("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStateWaitingOnUser, state.RunState)
	require.Len(t, state.BlockingQuestions, 1)
	assert.Equal(t, models.QConfirmBuildAction, state.BlockingQuestions[0].ID)

	events, err := eng.store.LoadEvents("sess-1")
	require.NoError(t, err)
	assert.Equal(t, 12, countCommandRuns(events, "compile"))
	assert.Equal(t, 2, countQuestions(events, models.QConfirmBuildAction))
}

func TestLaunchLoop_GivesUpWithoutFailingTheRun(t *testing.T) {
	eng := brokenMavenEngine(t)

	startMavenRun(t, eng, "sess-1")
	require.NoError(t, eng.AnswerQuestion(context.Background(), "sess-1", models.QConfirmBuildAction, "skip"))

	// Exhausting the launch budget ships the app unverified instead of
	// failing the run.
	state, err := eng.store.LoadRuntime("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStateReadyToTest, state.RunState)
	assert.Empty(t, state.BlockingQuestions)
	require.NotNil(t, state.ReadyInfo)
	assert.False(t, state.ReadyInfo.BuildPassed)
	assert.False(t, state.ReadyInfo.AppLaunched)

	events, err := eng.store.LoadEvents("sess-1")
	require.NoError(t, err)

	// Three attempts for the category, then the forced fourth gives up.
	assert.Equal(t, 4, countCommandRuns(events, "spring-boot:run"))
	assert.True(t, hasWarning(events, "Exceeded 3 attempts for Unknown Issue"))
	assert.True(t, hasWarning(events, "Giving up on automatic launch"))
	assert.True(t, hasWarning(events, "Start the app manually with: mvn spring-boot:run"))
}

func TestAnswerQuestion_FixHelpAnswerIsHandledAsErrorReport(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	runToReady(t, eng, "sess-1")

	// A report the fixers cannot act on alone parks a fix-help question.
	require.NoError(t, eng.Intervene(ctx, "sess-1", "it's broken, an env variable is missing"))
	state, err := eng.store.LoadRuntime("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStateWaitingOnUser, state.RunState)
	require.Len(t, state.BlockingQuestions, 1)
	assert.Equal(t, models.QFixHelp, state.BlockingQuestions[0].ID)

	// The answer goes through the classifier like any other error
	// report, gets fixed, and build and launch rerun.
	require.NoError(t, eng.AnswerQuestion(ctx, "sess-1", models.QFixHelp, "port 8080 was already in use"))
	state, err = eng.store.LoadRuntime("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStateReadyToTest, state.RunState)
	assert.Empty(t, state.BlockingQuestions)

	events, err := eng.store.LoadEvents("sess-1")
	require.NoError(t, err)
	found := false
	for _, ev := range events {
		if ev.Type == models.EventInfo && ev.Message == "That sounds like a Port Conflict" {
			found = true
		}
	}
	assert.True(t, found)
}
