package autopilot

import (
	"context"
	"strings"
	"time"

	"github.com/mpataki/foundry/internal/classify"
	"github.com/mpataki/foundry/internal/fix"
	"github.com/mpataki/foundry/internal/models"
)

var startPhrases = []string{
	"start the app", "start app", "run it", "run the app",
	"launch the app", "launch the application", "launch it",
	"boot up", "execute", "restart", "rerun", "start it",
}

var errorKeywords = []string{
	"error", "fail", "crash", "not working", "broken",
	"port", "rebuild", "retry", "exception", "stuck",
}

// Intervene handles a free-form user message against a session: start
// commands, template and infrastructure switches, and error reports.
// Anything unrecognized is acknowledged and logged.
func (e *Engine) Intervene(ctx context.Context, sessionID, message string) error {
	l := e.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	sink := e.sink(sessionID)
	sink.Emit(models.InterventionEvent(message))

	state, err := e.store.LoadRuntime(sessionID)
	if err != nil {
		return err
	}
	proposal, err := e.store.LoadProposal(sessionID)
	if err != nil {
		return err
	}
	if proposal == nil {
		proposal = models.NewProposal(sessionID, "my-app")
	}

	lower := strings.ToLower(message)

	for _, phrase := range startPhrases {
		if strings.Contains(lower, phrase) {
			sink.Emit(models.InfoEvent(models.AgentFactory, "Starting the application"))
			return e.retryBuildAndLaunch(ctx, sessionID, state, proposal, sink)
		}
	}

	if template, ok := templateSwitch(lower); ok {
		proposal.TemplateID = template
		proposal.Confidence = 1.0
		sink.Emit(models.InfoEvent(models.AgentFactory, "Switched template to "+template))
		return e.store.SaveProposal(sessionID, proposal)
	}

	if strings.Contains(lower, "enable iac") || strings.Contains(lower, "enable infrastructure") {
		proposal.Iac.Provider = "terraform"
		sink.Emit(models.InfoEvent(models.AgentFactory, "Infrastructure as Code enabled"))
		return e.store.SaveProposal(sessionID, proposal)
	}

	for cloud, region := range cloudRegions {
		if strings.Contains(lower, "use "+cloud) || strings.Contains(lower, "switch to "+cloud) {
			proposal.Iac.Region = region
			proposal.SetConfig("cloud", cloud)
			sink.Emit(models.InfoEvent(models.AgentFactory, "Cloud set to "+cloud))
			return e.store.SaveProposal(sessionID, proposal)
		}
	}

	for _, kw := range errorKeywords {
		if strings.Contains(lower, kw) {
			return e.handleErrorReport(ctx, sessionID, message, state, proposal, sink)
		}
	}

	sink.Emit(models.InfoEvent(models.AgentFactory, "Noted. Tell me to start the app, switch templates, or describe an error to fix."))
	return nil
}

func templateSwitch(lower string) (string, bool) {
	switch {
	case strings.Contains(lower, "switch to quarkus") || strings.Contains(lower, "use quarkus"):
		return "java-quarkus", true
	case strings.Contains(lower, "switch to spring") || strings.Contains(lower, "use spring"):
		return "java-springboot", true
	case strings.Contains(lower, "switch to fastapi") || strings.Contains(lower, "use fastapi") ||
		strings.Contains(lower, "switch to python") || strings.Contains(lower, "use python"):
		return "python-fastapi", true
	default:
		return "", false
	}
}

// handleErrorReport classifies a user-described problem and attempts an
// automated fix, retrying build and launch when the fix claims progress.
func (e *Engine) handleErrorReport(ctx context.Context, sessionID, message string, state *models.RuntimeState, proposal *models.Proposal, sink sessionSink) error {
	errType := classify.Classify(message)
	sink.Emit(models.InfoEvent(models.AgentFactory, "That sounds like a "+errType.Category()))

	router := e.router(sink)
	switch r := router.AttemptFix(ctx, errType, proposal.TemplateID, e.appDir(sessionID)).(type) {
	case fix.Fixed:
		sink.Emit(models.InfoEvent(errType.Specialist(), r.Description))
		return e.retryBuildAndLaunch(ctx, sessionID, state, proposal, sink)
	case fix.PartialFix:
		sink.Emit(models.InfoEvent(errType.Specialist(), r.Description+". Next: "+r.NextStep))
		return e.retryBuildAndLaunch(ctx, sessionID, state, proposal, sink)
	case fix.NeedsHelp:
		q := models.BlockingQuestion{
			ID:       models.QFixHelp,
			Text:     r.Question,
			Type:     models.QuestionFreeText,
			Options:  []models.QuestionOption{},
			Required: true,
			Category: "fix",
		}
		state.BlockingQuestions = append(state.BlockingQuestions, q)
		state.RunState = models.RunStateWaitingOnUser
		touch(state)
		sink.Emit(models.QuestionEvent(q.ID, q.Text))
		return e.store.SaveRuntime(sessionID, state)
	case fix.GaveUp:
		sink.Emit(models.WarningEvent(errType.Specialist(), "Could not fix that automatically: "+r.Reason))
		return nil
	}
	return nil
}

// RetryBuildAndLaunch re-runs only the build-test and launch stations.
// Everything upstream keeps its completed state; this is the single
// sanctioned backward transition.
func (e *Engine) RetryBuildAndLaunch(ctx context.Context, sessionID string) error {
	l := e.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	state, err := e.store.LoadRuntime(sessionID)
	if err != nil {
		return err
	}
	proposal, err := e.store.LoadProposal(sessionID)
	if err != nil {
		return err
	}
	if proposal == nil {
		proposal = models.NewProposal(sessionID, "my-app")
	}
	return e.retryBuildAndLaunch(ctx, sessionID, state, proposal, e.sink(sessionID))
}

func (e *Engine) retryBuildAndLaunch(ctx context.Context, sessionID string, state *models.RuntimeState, proposal *models.Proposal, sink sessionSink) error {
	reset := false
	for i := range state.Stations {
		switch state.Stations[i].Name {
		case "build-test", "launch":
			state.Stations[i].State = models.StationPending
			state.Stations[i].StartedAt = nil
			state.Stations[i].CompletedAt = nil
			reset = true
		}
	}
	if !reset {
		sink.Emit(models.WarningEvent(models.AgentFactory, "This pipeline has no build or launch stations to retry"))
		return nil
	}

	proposal.ClearConfig(keyBuildPassed)
	proposal.ClearConfig(keyBuildSkipped)
	proposal.ClearConfig(keyTestsSkipped)
	proposal.ClearConfig(keyAppLaunched)

	state.RunState = models.RunStateRunning
	state.Error = nil
	state.ReadyInfo = nil
	state.LastEvent = "Retrying build and launch"
	state.UpdatedAt = time.Now().UTC()
	if err := e.store.SaveProposal(sessionID, proposal); err != nil {
		return err
	}
	if err := e.store.SaveRuntime(sessionID, state); err != nil {
		return err
	}
	return e.advance(ctx, sessionID, state, proposal)
}
