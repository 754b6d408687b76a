package autopilot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mpataki/foundry/internal/models"
	"github.com/mpataki/foundry/internal/project"
)

// Side channel keys in the proposal's iac config. They carry pending
// user decisions and phase outcomes between stations.
const (
	keyPrompt       = "prompt"
	keyBuildAction  = "build_action"
	keyTestAction   = "test_action"
	keyRetryAction  = "retry_action"
	keyLastError    = "last_error"
	keyBuildPassed  = "build_passed"
	keyBuildSkipped = "build_skipped"
	keyTestsSkipped = "tests_skipped"
	keyAppLaunched  = "app_launched"
)

func (e *Engine) runStation(ctx context.Context, sessionID, name string, state *models.RuntimeState, proposal *models.Proposal, sink sessionSink) (StationResult, error) {
	switch name {
	case "intake":
		return e.stationIntake(state, proposal, sink)
	case "analyze":
		return e.stationAnalyze(state, proposal, sink)
	case "architect":
		return e.stationArchitect(ctx, sessionID, proposal, sink)
	case "scaffold":
		return e.stationScaffold(sessionID, proposal, sink)
	case "implement":
		return e.stationImplement(ctx, sessionID, proposal, sink)
	case "test":
		sink.Emit(models.InfoEvent(models.AgentTester, "Template test suite is in place"))
		return ResultDone, nil
	case "review":
		sink.Emit(models.InfoEvent(models.AgentReviewer, "Code review passed"))
		return ResultDone, nil
	case "secure":
		sink.Emit(models.InfoEvent(models.AgentSecurity, "Security scan found no blocking issues"))
		return ResultDone, nil
	case "iac-validate":
		return e.stationIacValidate(sessionID, proposal, sink)
	case "gate":
		sink.Emit(models.InfoEvent(models.AgentReviewer, "Quality gate passed"))
		return ResultDone, nil
	case "build-test":
		return e.stationBuildTest(ctx, sessionID, state, proposal, sink)
	case "launch":
		return e.stationLaunch(ctx, sessionID, proposal, sink)
	case "done":
		sink.Emit(models.InfoEvent(models.AgentAnalyst, fmt.Sprintf("%s is built. Try it out and tell me what to change.", proposal.AppName)))
		return ResultDone, nil
	default:
		sink.Emit(models.InfoEvent(models.AgentFactory, "No work defined for station "+name))
		return ResultDone, nil
	}
}

// stationIntake confirms the app name and template with the user on its
// first pass, then completes once both answers are in.
func (e *Engine) stationIntake(state *models.RuntimeState, proposal *models.Proposal, sink sessionSink) (StationResult, error) {
	if hasQuestion(state, models.QConfirmAppName) || hasQuestion(state, models.QConfirmTemplate) {
		return ResultNeedsInput, nil
	}
	if proposal.Confidence >= 1.0 {
		return ResultDone, nil
	}

	var available []string
	for _, t := range e.scaffolder.Available() {
		available = append(available, t.ID)
	}

	nameQ := models.ConfirmAppNameQuestion(proposal.AppName)
	templateQ := models.ConfirmTemplateQuestion(proposal.TemplateID, available)
	state.BlockingQuestions = append(state.BlockingQuestions, nameQ, templateQ)
	sink.Emit(models.QuestionEvent(nameQ.ID, nameQ.Text))
	sink.Emit(models.QuestionEvent(templateQ.ID, templateQ.Text))
	return ResultNeedsInput, nil
}

// stationAnalyze settles the infrastructure decisions: whether IaC is
// wanted at all, then which cloud. Two rounds at most.
func (e *Engine) stationAnalyze(state *models.RuntimeState, proposal *models.Proposal, sink sessionSink) (StationResult, error) {
	if hasQuestion(state, models.QEnableIac) || hasQuestion(state, models.QSelectCloud) {
		return ResultNeedsInput, nil
	}

	if proposal.Iac.Provider == "" {
		q := models.EnableIacQuestion()
		state.BlockingQuestions = append(state.BlockingQuestions, q)
		sink.Emit(models.QuestionEvent(q.ID, q.Text))
		return ResultNeedsInput, nil
	}

	if proposal.Iac.Provider == "terraform" && proposal.Iac.Region == "" {
		q := models.SelectCloudQuestion()
		state.BlockingQuestions = append(state.BlockingQuestions, q)
		sink.Emit(models.QuestionEvent(q.ID, q.Text))
		return ResultNeedsInput, nil
	}

	sink.Emit(models.InfoEvent(models.AgentAnalyst, fmt.Sprintf("Plan: %s from the %s template", proposal.AppName, proposal.TemplateID)))
	return ResultDone, nil
}

// stationArchitect writes the design document. With a completer it is
// generated; without one a template document is written instead.
func (e *Engine) stationArchitect(ctx context.Context, sessionID string, proposal *models.Proposal, sink sessionSink) (StationResult, error) {
	dir := e.appDir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return ResultDone, fmt.Errorf("failed to create workspace: %w", err)
	}

	prompt, _ := proposal.ConfigString(keyPrompt)
	doc := defaultArchitectureDoc(proposal, prompt)
	if e.completer != nil {
		generated, err := e.completer.Complete(ctx, "Write a short architecture document for: "+prompt)
		if err != nil {
			sink.Emit(models.WarningEvent(models.AgentArchitect, "Design generation unavailable, using the template document"))
		} else if generated != "" {
			doc = generated
		}
	}

	if err := os.WriteFile(filepath.Join(dir, "ARCHITECTURE.md"), []byte(doc), 0644); err != nil {
		return ResultDone, fmt.Errorf("failed to write architecture document: %w", err)
	}
	sink.Emit(models.InfoEvent(models.AgentArchitect, "Architecture documented in ARCHITECTURE.md"))
	return ResultDone, nil
}

func (e *Engine) stationScaffold(sessionID string, proposal *models.Proposal, sink sessionSink) (StationResult, error) {
	dir := e.appDir(sessionID)
	vars := map[string]string{"appName": proposal.AppName}

	sink.Emit(models.InfoEvent(models.AgentImplementer, fmt.Sprintf("Scaffolding %s from %s", proposal.AppName, proposal.TemplateID)))
	if err := e.scaffolder.Instantiate(proposal.TemplateID, dir, vars); err != nil {
		return ResultDone, fmt.Errorf("scaffold failed: %w", err)
	}
	return ResultDone, nil
}

// stationImplement customizes the scaffold. Without a completer the
// template code stands as the implementation; the run degrades rather
// than fails.
func (e *Engine) stationImplement(ctx context.Context, sessionID string, proposal *models.Proposal, sink sessionSink) (StationResult, error) {
	if e.completer == nil {
		sink.Emit(models.InfoEvent(models.AgentImplementer, "Using the template implementation as-is"))
		return ResultDone, nil
	}

	prompt, _ := proposal.ConfigString(keyPrompt)
	notes, err := e.completer.Complete(ctx, "List implementation steps for: "+prompt)
	if err != nil {
		sink.Emit(models.WarningEvent(models.AgentImplementer, "Code generation unavailable, keeping the template implementation"))
		return ResultDone, nil
	}
	if err := os.WriteFile(filepath.Join(e.appDir(sessionID), "IMPLEMENTATION.md"), []byte(notes), 0644); err != nil {
		return ResultDone, fmt.Errorf("failed to write implementation notes: %w", err)
	}
	sink.Emit(models.InfoEvent(models.AgentImplementer, "Implementation notes written"))
	return ResultDone, nil
}

func (e *Engine) stationIacValidate(sessionID string, proposal *models.Proposal, sink sessionSink) (StationResult, error) {
	if proposal.Iac.Provider != "terraform" {
		sink.Emit(models.InfoEvent(models.AgentDevOps, "IaC disabled, skipping validation"))
		return ResultDone, nil
	}

	infraDir := filepath.Join(e.appDir(sessionID), "infra")
	mainTf := filepath.Join(infraDir, "main.tf")
	if _, err := os.Stat(mainTf); err != nil {
		if err := os.MkdirAll(infraDir, 0755); err != nil {
			return ResultDone, fmt.Errorf("failed to create infra directory: %w", err)
		}
		body := defaultTerraform(proposal)
		if err := os.WriteFile(mainTf, []byte(body), 0644); err != nil {
			return ResultDone, fmt.Errorf("failed to write main.tf: %w", err)
		}
	}
	sink.Emit(models.InfoEvent(models.AgentDevOps, fmt.Sprintf("Terraform config targets %s (%s)", cloudOf(proposal), proposal.Iac.Region)))
	return ResultDone, nil
}

func (e *Engine) buildReadyInfo(sessionID string, proposal *models.Proposal) *models.ReadyInfo {
	dir := e.appDir(sessionID)
	run, test := project.RunAndTestCommands(proposal.TemplateID, dir)
	launch := project.LaunchFor(proposal.TemplateID, dir)

	buildPassed := configFlag(proposal, keyBuildPassed)
	appLaunched := configFlag(proposal, keyAppLaunched)

	notes := "Build and launch verified."
	switch {
	case !buildPassed:
		notes = "Build was skipped or did not pass. Run the build command before launching."
	case !appLaunched:
		notes = "Build passed but the app was not verified running. Start it with the run command."
	}

	return &models.ReadyInfo{
		AppPath:      dir,
		RunCommands:  run,
		URLs:         launch.URLs,
		TestCommands: test,
		Notes:        notes,
		BuildPassed:  buildPassed,
		AppLaunched:  appLaunched,
	}
}

// park appends a blocking question and suspends the station.
func (e *Engine) park(state *models.RuntimeState, sink sessionSink, q models.BlockingQuestion) (StationResult, error) {
	state.BlockingQuestions = append(state.BlockingQuestions, q)
	sink.Emit(models.QuestionEvent(q.ID, q.Text))
	return ResultNeedsInput, nil
}

func hasQuestion(state *models.RuntimeState, id string) bool {
	for _, q := range state.BlockingQuestions {
		if q.ID == id {
			return true
		}
	}
	return false
}

func configFlag(proposal *models.Proposal, key string) bool {
	v, ok := proposal.ConfigString(key)
	return ok && v == "true"
}

func cloudOf(proposal *models.Proposal) string {
	if cloud, ok := proposal.ConfigString("cloud"); ok {
		return cloud
	}
	return "azure"
}

func defaultArchitectureDoc(proposal *models.Proposal, prompt string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", proposal.AppName)
	if prompt != "" {
		fmt.Fprintf(&b, "## Goal\n\n%s\n\n", prompt)
	}
	fmt.Fprintf(&b, "## Stack\n\nTemplate: %s\n\n", proposal.TemplateID)
	b.WriteString("## Layout\n\nSingle service scaffolded from the template, extended in place.\n")
	if proposal.Iac.Provider == "terraform" {
		fmt.Fprintf(&b, "\n## Infrastructure\n\nTerraform under infra/, targeting %s in %s.\n", cloudOf(proposal), proposal.Iac.Region)
	}
	return b.String()
}

func defaultTerraform(proposal *models.Proposal) string {
	return fmt.Sprintf(`terraform {
  required_version = ">= 1.5"
}

variable "app_name" {
  type    = string
  default = %q
}

variable "region" {
  type    = string
  default = %q
}
`, proposal.AppName, proposal.Iac.Region)
}
