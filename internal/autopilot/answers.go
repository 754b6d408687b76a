package autopilot

import (
	"context"
	"fmt"
	"strings"

	"github.com/mpataki/foundry/internal/models"
)

var cloudRegions = map[string]string{
	"azure": "eastus",
	"aws":   "us-east-1",
	"gcp":   "us-central1",
}

// AnswerQuestion records the user's answer to a blocking question,
// applies its side effects, and resumes the pipeline once nothing else
// is pending.
func (e *Engine) AnswerQuestion(ctx context.Context, sessionID, questionID, answer string) error {
	l := e.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	state, err := e.store.LoadRuntime(sessionID)
	if err != nil {
		return err
	}

	idx := -1
	for i, q := range state.BlockingQuestions {
		if q.ID == questionID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("no pending question %q for session %s", questionID, sessionID)
	}
	question := state.BlockingQuestions[idx]
	if answer == "" {
		answer = question.Default
	}
	state.BlockingQuestions = append(state.BlockingQuestions[:idx], state.BlockingQuestions[idx+1:]...)

	proposal, err := e.store.LoadProposal(sessionID)
	if err != nil {
		return err
	}
	if proposal == nil {
		proposal = models.NewProposal(sessionID, "my-app")
	}

	sink := e.sink(sessionID)
	sink.Emit(models.DecisionEvent(questionID, answer))

	// A fix-help answer is the user describing the problem; it goes
	// through the classifier like any other error report.
	if questionID == models.QFixHelp {
		touch(state)
		if err := e.store.SaveRuntime(sessionID, state); err != nil {
			return err
		}
		return e.handleErrorReport(ctx, sessionID, answer, state, proposal, sink)
	}

	e.applyAnswer(questionID, answer, proposal, sink)

	if err := e.store.SaveProposal(sessionID, proposal); err != nil {
		return err
	}
	touch(state)
	if err := e.store.SaveRuntime(sessionID, state); err != nil {
		return err
	}

	if state.RunState == models.RunStateWaitingOnUser && len(state.BlockingQuestions) == 0 {
		state.RunState = models.RunStateRunning
		touch(state)
		if err := e.store.SaveRuntime(sessionID, state); err != nil {
			return err
		}
		return e.advance(ctx, sessionID, state, proposal)
	}
	return nil
}

func (e *Engine) applyAnswer(questionID, answer string, proposal *models.Proposal, sink sessionSink) {
	switch questionID {
	case models.QConfirmAppName:
		if answer != "" {
			proposal.AppName = answer
		}

	case models.QConfirmTemplate:
		proposal.TemplateID = answer
		proposal.Confidence = 1.0

	case models.QEnableIac:
		if strings.EqualFold(answer, "yes") {
			proposal.Iac.Provider = "terraform"
		} else {
			proposal.Iac.Provider = "none"
		}

	case models.QSelectCloud:
		cloud := strings.ToLower(answer)
		region, ok := cloudRegions[cloud]
		if !ok {
			cloud, region = "azure", cloudRegions["azure"]
		}
		proposal.Iac.Region = region
		proposal.SetConfig("cloud", cloud)

	case models.QConfirmBuildAction:
		proposal.SetConfig(keyBuildAction, answer)
		sink.Emit(models.InfoEvent(models.AgentFactory, "User chose: "+answer))

	case models.QConfirmTestAction:
		proposal.SetConfig(keyTestAction, answer)
		sink.Emit(models.InfoEvent(models.AgentFactory, "User chose: "+answer))

	case models.QConfirmRetry:
		proposal.SetConfig(keyRetryAction, answer)
		sink.Emit(models.InfoEvent(models.AgentFactory, "User chose: "+answer))
	}
}
