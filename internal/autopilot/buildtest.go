package autopilot

import (
	"context"
	"fmt"
	"os"

	"github.com/mpataki/foundry/internal/classify"
	"github.com/mpataki/foundry/internal/fix"
	"github.com/mpataki/foundry/internal/heal"
	"github.com/mpataki/foundry/internal/models"
	"github.com/mpataki/foundry/internal/project"
)

// stationBuildTest builds and tests the scaffolded app inside healing
// loops. Each phase gets its own session and the build guardrail
// preset; escalation surfaces a build/test action question and parks
// the station.
func (e *Engine) stationBuildTest(ctx context.Context, sessionID string, state *models.RuntimeState, proposal *models.Proposal, sink sessionSink) (StationResult, error) {
	dir := e.appDir(sessionID)
	router := e.router(sink)

	// A pending action answer means we are re-entering after an
	// escalation. Apply it before anything else.
	if action, ok := proposal.ConfigString(keyBuildAction); ok {
		proposal.ClearConfig(keyBuildAction)
		switch action {
		case "skip":
			sink.Emit(models.WarningEvent(models.AgentTester, "Skipping build at user request"))
			proposal.SetConfig(keyBuildSkipped, "true")
			return ResultDone, nil
		case "rescaffold":
			sink.Emit(models.InfoEvent(models.AgentImplementer, "Re-scaffolding the project from template"))
			if err := os.RemoveAll(dir); err != nil {
				return ResultDone, fmt.Errorf("failed to remove damaged scaffold: %w", err)
			}
			if err := e.scaffolder.Instantiate(proposal.TemplateID, dir, map[string]string{"appName": proposal.AppName}); err != nil {
				return ResultDone, fmt.Errorf("re-scaffold failed: %w", err)
			}
		case "autofix":
			if lastErr, ok := proposal.ConfigString(keyLastError); ok {
				errType := classify.Classify(lastErr)
				router.AttemptFix(ctx, errType, proposal.TemplateID, dir)
			}
		}
		// retry and help just fall through into a fresh attempt.
		proposal.ClearConfig(keyLastError)
	}
	if action, ok := proposal.ConfigString(keyRetryAction); ok {
		proposal.ClearConfig(keyRetryAction)
		if action == "cancel" {
			return ResultDone, fmt.Errorf("build cancelled by user")
		}
		// retry and different both mean another pass, which starts with
		// the scaffold check below.
	}
	if action, ok := proposal.ConfigString(keyTestAction); ok && action == "skip" {
		proposal.ClearConfig(keyTestAction)
		proposal.SetConfig(keyTestsSkipped, "true")
	}

	// A build against a half-written scaffold produces misleading
	// errors. Recreate it once; if it is still incomplete, ask.
	if !project.ScaffoldComplete(dir) {
		sink.Emit(models.WarningEvent(models.AgentImplementer, "Scaffold is incomplete, recreating it"))
		os.RemoveAll(dir)
		if err := e.scaffolder.Instantiate(proposal.TemplateID, dir, map[string]string{"appName": proposal.AppName}); err != nil {
			return ResultDone, fmt.Errorf("re-scaffold failed: %w", err)
		}
		if !project.ScaffoldComplete(dir) {
			return e.park(state, sink, models.ConfirmRetryQuestion(
				"The project scaffold could not be completed. Try again?"))
		}
	}

	cmds := project.CommandsFor(proposal.TemplateID, dir)
	if cmds.Build == "" {
		sink.Emit(models.InfoEvent(models.AgentTester, "No build step for this project kind"))
		proposal.SetConfig(keyBuildPassed, "true")
		return ResultDone, nil
	}

	guardrails := heal.BuildGuardrails()

	// Build phase.
	if !configFlag(proposal, keyBuildSkipped) {
		session := heal.NewSession()
		for {
			out, err := e.sup.RunToCompletion(ctx, cmds.Build, dir, models.AgentTester, sink)
			if err != nil {
				return ResultDone, fmt.Errorf("failed to run build: %w", err)
			}
			if out.Success {
				proposal.SetConfig(keyBuildPassed, "true")
				sink.Emit(models.InfoEvent(models.AgentTester, "Build passed"))
				break
			}

			combined := out.Stdout + "\n" + out.Stderr
			errType := classify.ClassifyBuild(combined, dir, project.ScaffoldComplete(dir))
			sink.Emit(models.WarningEvent(models.AgentTester,
				fmt.Sprintf("Build failed (%s):\n%s", errType.Category(), classify.ErrorPreview(combined))))

			if session.AttemptsFor(errType.Category()) >= guardrails.MaxAttemptsPerError {
				sink.Emit(models.WarningEvent(models.AgentTester,
					fmt.Sprintf("Exceeded %d attempts for %s", guardrails.MaxAttemptsPerError, errType.Category())))
				session.ForceEscalation(guardrails)
			}
			session.RecordAttempt(errType.Category())

			if reason := session.ShouldEscalate(guardrails); reason != "" {
				proposal.SetConfig(keyLastError, errType.Detail())
				return e.park(state, sink, models.ConfirmBuildActionQuestion(
					fmt.Sprintf("The build keeps failing (%s). How should I proceed?", reason)))
			}

			switch r := router.AttemptFix(ctx, errType, proposal.TemplateID, dir).(type) {
			case fix.Fixed:
				session.RecordSuccess(errType.Category(), r.Description)
				sink.Emit(models.InfoEvent(errType.Specialist(), r.Description))
			case fix.PartialFix:
				session.RecordPartial(r.Description)
				sink.Emit(models.InfoEvent(errType.Specialist(), r.Description+". Next: "+r.NextStep))
			case fix.NeedsHelp:
				proposal.SetConfig(keyLastError, errType.Detail())
				return e.park(state, sink, models.ConfirmBuildActionQuestion(r.Question))
			case fix.GaveUp:
				session.RecordFailure()
				sink.Emit(models.WarningEvent(errType.Specialist(), "Could not fix: "+r.Reason))
			}
		}
	}

	// Test phase.
	if cmds.Test == "" || configFlag(proposal, keyTestsSkipped) {
		if configFlag(proposal, keyTestsSkipped) {
			sink.Emit(models.WarningEvent(models.AgentTester, "Skipping tests at user request"))
		}
		return ResultDone, nil
	}

	session := heal.NewSession()
	for {
		out, err := e.sup.RunToCompletion(ctx, cmds.Test, dir, models.AgentTester, sink)
		if err != nil {
			return ResultDone, fmt.Errorf("failed to run tests: %w", err)
		}
		if out.Success {
			sink.Emit(models.InfoEvent(models.AgentTester, "Tests passed"))
			return ResultDone, nil
		}

		combined := out.Stdout + "\n" + out.Stderr
		errType := classify.ClassifyTest(combined)
		sink.Emit(models.WarningEvent(models.AgentTester,
			fmt.Sprintf("Tests failed (%s):\n%s", errType.Category(), classify.ErrorPreview(combined, "assert"))))

		if session.AttemptsFor(errType.Category()) >= guardrails.MaxAttemptsPerError {
			sink.Emit(models.WarningEvent(models.AgentTester,
				fmt.Sprintf("Exceeded %d attempts for %s", guardrails.MaxAttemptsPerError, errType.Category())))
			session.ForceEscalation(guardrails)
		}
		session.RecordAttempt(errType.Category())

		if reason := session.ShouldEscalate(guardrails); reason != "" {
			proposal.SetConfig(keyLastError, errType.Detail())
			return e.park(state, sink, models.ConfirmTestActionQuestion(
				fmt.Sprintf("Tests keep failing (%s). How should I proceed?", reason)))
		}

		switch r := router.AttemptFix(ctx, errType, proposal.TemplateID, dir).(type) {
		case fix.Fixed:
			session.RecordSuccess(errType.Category(), r.Description)
			sink.Emit(models.InfoEvent(errType.Specialist(), r.Description))
		case fix.PartialFix:
			session.RecordPartial(r.Description)
			sink.Emit(models.InfoEvent(errType.Specialist(), r.Description+". Next: "+r.NextStep))
		case fix.NeedsHelp:
			proposal.SetConfig(keyLastError, errType.Detail())
			return e.park(state, sink, models.ConfirmTestActionQuestion(r.Question))
		case fix.GaveUp:
			session.RecordFailure()
			sink.Emit(models.WarningEvent(errType.Specialist(), "Could not fix: "+r.Reason))
		}
	}
}
