package autopilot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/foundry/internal/config"
	"github.com/mpataki/foundry/internal/models"
	"github.com/mpataki/foundry/internal/proc"
	"github.com/mpataki/foundry/internal/scaffold"
	"github.com/mpataki/foundry/internal/store"
)

// fakeScaffolder writes a manifest for a project kind that has no
// build, test or launch commands, so pipelines complete without
// spawning real toolchains.
type fakeScaffolder struct {
	instantiated int
}

func (f *fakeScaffolder) Available() []scaffold.TemplateInfo {
	return []scaffold.TemplateInfo{{ID: "rust-axum", Name: "Axum Service", Description: "Rust REST service"}}
}

func (f *fakeScaffolder) Instantiate(templateID, targetDir string, vars map[string]string) error {
	f.instantiated++
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return err
	}
	manifest := "[package]\nname = \"" + vars["appName"] + "\"\n"
	return os.WriteFile(filepath.Join(targetDir, "Cargo.toml"), []byte(manifest), 0644)
}

func newTestEngine(t *testing.T) (*Engine, *fakeScaffolder) {
	t.Helper()

	cfg := &config.Config{
		DataDir:           t.TempDir(),
		LaunchTimeoutSecs: 1,
		HealthPollMillis:  50,
	}
	require.NoError(t, cfg.EnsureDataDir())

	registry, err := store.OpenRegistry(cfg.DBPath())
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })

	scaffolder := &fakeScaffolder{}
	eng, err := New(cfg, store.New(cfg.SessionsDir(), registry), proc.NewSupervisor(0), scaffolder, nil)
	require.NoError(t, err)
	return eng, scaffolder
}

func stationByName(t *testing.T, state *models.RuntimeState, name string) *models.Station {
	t.Helper()
	for i := range state.Stations {
		if state.Stations[i].Name == name {
			return &state.Stations[i]
		}
	}
	t.Fatalf("no station %q", name)
	return nil
}

// runToReady drives a session through intake and analysis answers until
// the pipeline completes.
func runToReady(t *testing.T, eng *Engine, sessionID string) *models.RuntimeState {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, eng.Start(ctx, sessionID, "a rust service for widgets"))
	require.NoError(t, eng.AnswerQuestion(ctx, sessionID, models.QConfirmAppName, "widget-api"))
	require.NoError(t, eng.AnswerQuestion(ctx, sessionID, models.QConfirmTemplate, "rust-axum"))
	require.NoError(t, eng.AnswerQuestion(ctx, sessionID, models.QEnableIac, "no"))

	state, err := eng.store.LoadRuntime(sessionID)
	require.NoError(t, err)
	return state
}

func TestStart_ParksOnIntakeQuestions(t *testing.T) {
	eng, _ := newTestEngine(t)

	require.NoError(t, eng.Start(context.Background(), "sess-1", "a rust service"))

	state, err := eng.store.LoadRuntime("sess-1")
	require.NoError(t, err)

	assert.Equal(t, models.RunStateWaitingOnUser, state.RunState)
	assert.Equal(t, "intake", state.CurrentStation)
	assert.Equal(t, models.StationWaiting, stationByName(t, state, "intake").State)
	require.Len(t, state.BlockingQuestions, 2)
	assert.Equal(t, models.QConfirmAppName, state.BlockingQuestions[0].ID)
	assert.Equal(t, models.QConfirmTemplate, state.BlockingQuestions[1].ID)
}

func TestStart_RejectsNonIdleSession(t *testing.T) {
	eng, _ := newTestEngine(t)

	require.NoError(t, eng.Start(context.Background(), "sess-1", "a rust service"))
	err := eng.Start(context.Background(), "sess-1", "another idea")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already")
}

func TestPipeline_RunsToReady(t *testing.T) {
	eng, scaffolder := newTestEngine(t)

	state := runToReady(t, eng, "sess-1")

	assert.Equal(t, models.RunStateReadyToTest, state.RunState)
	assert.Empty(t, state.BlockingQuestions)
	for _, st := range state.Stations {
		assert.Equal(t, models.StationDone, st.State, st.Name)
		assert.NotNil(t, st.CompletedAt, st.Name)
	}
	assert.GreaterOrEqual(t, scaffolder.instantiated, 1)

	require.NotNil(t, state.ReadyInfo)
	assert.Equal(t, eng.appDir("sess-1"), state.ReadyInfo.AppPath)
	assert.True(t, state.ReadyInfo.BuildPassed)
	assert.False(t, state.ReadyInfo.AppLaunched)

	// The workspace holds the scaffold and the design document.
	_, err := os.Stat(filepath.Join(eng.appDir("sess-1"), "Cargo.toml"))
	assert.NoError(t, err)
	doc, err := os.ReadFile(filepath.Join(eng.appDir("sess-1"), "ARCHITECTURE.md"))
	require.NoError(t, err)
	assert.Contains(t, string(doc), "# widget-api")

	proposal, err := eng.store.LoadProposal("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "widget-api", proposal.AppName)
	assert.Equal(t, "rust-axum", proposal.TemplateID)
	assert.Equal(t, "none", proposal.Iac.Provider)
}

func TestPipeline_IacFlow(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Start(ctx, "sess-1", "a rust service"))
	require.NoError(t, eng.AnswerQuestion(ctx, "sess-1", models.QConfirmAppName, "widget-api"))
	require.NoError(t, eng.AnswerQuestion(ctx, "sess-1", models.QConfirmTemplate, "rust-axum"))

	// Enabling IaC surfaces the cloud question before anything builds.
	require.NoError(t, eng.AnswerQuestion(ctx, "sess-1", models.QEnableIac, "yes"))
	state, err := eng.store.LoadRuntime("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStateWaitingOnUser, state.RunState)
	require.Len(t, state.BlockingQuestions, 1)
	assert.Equal(t, models.QSelectCloud, state.BlockingQuestions[0].ID)

	require.NoError(t, eng.AnswerQuestion(ctx, "sess-1", models.QSelectCloud, "aws"))
	state, err = eng.store.LoadRuntime("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStateReadyToTest, state.RunState)

	proposal, err := eng.store.LoadProposal("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "terraform", proposal.Iac.Provider)
	assert.Equal(t, "us-east-1", proposal.Iac.Region)

	tf, err := os.ReadFile(filepath.Join(eng.appDir("sess-1"), "infra", "main.tf"))
	require.NoError(t, err)
	assert.Contains(t, string(tf), `"us-east-1"`)
}

func TestAnswerQuestion_EmptyAnswerUsesDefault(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Start(ctx, "sess-1", "a rust service for widgets"))
	require.NoError(t, eng.AnswerQuestion(ctx, "sess-1", models.QConfirmAppName, ""))
	require.NoError(t, eng.AnswerQuestion(ctx, "sess-1", models.QConfirmTemplate, "rust-axum"))
	require.NoError(t, eng.AnswerQuestion(ctx, "sess-1", models.QEnableIac, ""))

	proposal, err := eng.store.LoadProposal("sess-1")
	require.NoError(t, err)
	// The suggested slug was the question's default.
	assert.Equal(t, "a-rust-service", proposal.AppName)
	// The IaC default is no.
	assert.Equal(t, "none", proposal.Iac.Provider)
}

func TestAnswerQuestion_UnknownID(t *testing.T) {
	eng, _ := newTestEngine(t)

	require.NoError(t, eng.Start(context.Background(), "sess-1", "a rust service"))
	err := eng.AnswerQuestion(context.Background(), "sess-1", "no-such-question", "yes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pending question")
}

func TestAnswerQuestion_DoesNotResumeWhileOthersPend(t *testing.T) {
	eng, _ := newTestEngine(t)

	require.NoError(t, eng.Start(context.Background(), "sess-1", "a rust service"))
	require.NoError(t, eng.AnswerQuestion(context.Background(), "sess-1", models.QConfirmAppName, "widget-api"))

	state, err := eng.store.LoadRuntime("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStateWaitingOnUser, state.RunState)
	require.Len(t, state.BlockingQuestions, 1)
	assert.Equal(t, "intake", state.CurrentStation)
}

func TestRetryBuildAndLaunch_ResetsOnlyBuildStations(t *testing.T) {
	eng, _ := newTestEngine(t)

	state := runToReady(t, eng, "sess-1")
	intakeDone := stationByName(t, state, "intake").CompletedAt
	require.NotNil(t, intakeDone)
	firstBuildDone := stationByName(t, state, "build-test").CompletedAt
	require.NotNil(t, firstBuildDone)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, eng.RetryBuildAndLaunch(context.Background(), "sess-1"))

	state, err := eng.store.LoadRuntime("sess-1")
	require.NoError(t, err)

	// The retry ran to completion again.
	assert.Equal(t, models.RunStateReadyToTest, state.RunState)
	assert.Nil(t, state.Error)
	require.NotNil(t, state.ReadyInfo)

	// Upstream stations never moved; build-test got a fresh completion.
	assert.Equal(t, intakeDone, stationByName(t, state, "intake").CompletedAt)
	rebuilt := stationByName(t, state, "build-test").CompletedAt
	require.NotNil(t, rebuilt)
	assert.True(t, rebuilt.After(*firstBuildDone))
}

func TestIntervene_StartPhraseRetries(t *testing.T) {
	eng, _ := newTestEngine(t)

	runToReady(t, eng, "sess-1")
	require.NoError(t, eng.Intervene(context.Background(), "sess-1", "please start the app"))

	state, err := eng.store.LoadRuntime("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStateReadyToTest, state.RunState)
}

func TestIntervene_TemplateSwitch(t *testing.T) {
	eng, _ := newTestEngine(t)

	require.NoError(t, eng.Start(context.Background(), "sess-1", "a rust service"))
	require.NoError(t, eng.Intervene(context.Background(), "sess-1", "actually, switch to quarkus"))

	proposal, err := eng.store.LoadProposal("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "java-quarkus", proposal.TemplateID)
}

func TestIntervene_CloudSwitch(t *testing.T) {
	eng, _ := newTestEngine(t)

	require.NoError(t, eng.Start(context.Background(), "sess-1", "a rust service"))
	require.NoError(t, eng.Intervene(context.Background(), "sess-1", "switch to gcp"))

	proposal, err := eng.store.LoadProposal("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "us-central1", proposal.Iac.Region)
	cloud, ok := proposal.ConfigString("cloud")
	require.True(t, ok)
	assert.Equal(t, "gcp", cloud)
}

func TestIntervene_UnrecognizedIsAcknowledged(t *testing.T) {
	eng, _ := newTestEngine(t)

	require.NoError(t, eng.Start(context.Background(), "sess-1", "a rust service"))
	require.NoError(t, eng.Intervene(context.Background(), "sess-1", "nice weather today"))

	events, err := eng.store.LoadEvents("sess-1")
	require.NoError(t, err)
	found := false
	for _, ev := range events {
		if ev.Type == models.EventInfo && ev.Message == "Noted. Tell me to start the app, switch templates, or describe an error to fix." {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSuggestAppName(t *testing.T) {
	tests := []struct {
		prompt string
		want   string
	}{
		{"Build a shop API!", "build-a-shop"},
		{"TODO app", "todo-app"},
		{"", "my-app"},
		{"!!! ???", "my-app"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, suggestAppName(tt.prompt), tt.prompt)
	}
}

func TestSuggestTemplate(t *testing.T) {
	assert.Equal(t, "java-quarkus", suggestTemplate("a Quarkus service"))
	assert.Equal(t, "python-fastapi", suggestTemplate("a python scraper"))
	assert.Equal(t, "python-fastapi", suggestTemplate("FastAPI backend"))
	assert.Equal(t, "java-springboot", suggestTemplate("an online shop"))
}
