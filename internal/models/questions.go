package models

import "fmt"

// Stable IDs for questions that can block the pipeline.
const (
	QConfirmTemplate    = "confirm-template"
	QEnableIac          = "enable-iac"
	QSelectCloud        = "select-cloud"
	QConfirmAppName     = "confirm-app-name"
	QConfirmBuildAction = "confirm-build-action"
	QConfirmTestAction  = "confirm-test-action"
	QConfirmRetry       = "confirm-retry"
	QFixHelp            = "fix-help"
)

// ConfirmTemplateQuestion asks the user to pick a project template.
func ConfirmTemplateQuestion(current string, available []string) BlockingQuestion {
	options := make([]QuestionOption, 0, len(available))
	for _, t := range available {
		options = append(options, QuestionOption{ID: t, Label: t})
	}
	return BlockingQuestion{
		ID:       QConfirmTemplate,
		Text:     "Which template would you like to use?",
		Type:     QuestionSingleChoice,
		Options:  options,
		Required: true,
		Default:  current,
		Category: "template",
	}
}

// EnableIacQuestion asks whether to generate infrastructure code.
func EnableIacQuestion() BlockingQuestion {
	return BlockingQuestion{
		ID:   QEnableIac,
		Text: "Would you like to enable Infrastructure as Code (Terraform)?",
		Type: QuestionConfirm,
		Options: []QuestionOption{
			{ID: "yes", Label: "Yes, enable IaC"},
			{ID: "no", Label: "No, skip IaC"},
		},
		Required: true,
		Default:  "no",
		Category: "iac",
	}
}

// SelectCloudQuestion asks which cloud provider to target.
func SelectCloudQuestion() BlockingQuestion {
	return BlockingQuestion{
		ID:   QSelectCloud,
		Text: "Which cloud provider would you like to target?",
		Type: QuestionSingleChoice,
		Options: []QuestionOption{
			{ID: "azure", Label: "Azure", Description: "Microsoft Azure"},
			{ID: "aws", Label: "AWS", Description: "Amazon Web Services"},
			{ID: "gcp", Label: "GCP", Description: "Google Cloud Platform"},
		},
		Required: true,
		Default:  "azure",
		Category: "iac",
	}
}

// ConfirmAppNameQuestion asks the user to confirm or change the app name.
func ConfirmAppNameQuestion(suggested string) BlockingQuestion {
	return BlockingQuestion{
		ID:       QConfirmAppName,
		Text:     fmt.Sprintf("Use '%s' as the application name?", suggested),
		Type:     QuestionFreeText,
		Options:  []QuestionOption{},
		Required: true,
		Default:  suggested,
		Category: "general",
	}
}

// ConfirmBuildActionQuestion is surfaced when the build healing loop
// exhausts its guardrails.
func ConfirmBuildActionQuestion(message string) BlockingQuestion {
	return BlockingQuestion{
		ID:   QConfirmBuildAction,
		Text: message,
		Type: QuestionSingleChoice,
		Options: []QuestionOption{
			{ID: "autofix", Label: "Let agents try to fix it", Description: "Agents will analyze the error and attempt to fix it automatically"},
			{ID: "retry", Label: "Retry build", Description: "Try building again with a clean slate"},
			{ID: "skip", Label: "Skip build and continue", Description: "Continue to the next step without a successful build (not recommended)"},
			{ID: "rescaffold", Label: "Re-scaffold project", Description: "Delete and recreate the project from template"},
			{ID: "help", Label: "I'll describe the fix", Description: "Tell me what to fix and I'll try again"},
		},
		Required: true,
		Default:  "autofix",
		Category: "build",
	}
}

// ConfirmTestActionQuestion is surfaced when the test healing loop
// exhausts its guardrails.
func ConfirmTestActionQuestion(message string) BlockingQuestion {
	return BlockingQuestion{
		ID:   QConfirmTestAction,
		Text: message,
		Type: QuestionSingleChoice,
		Options: []QuestionOption{
			{ID: "autofix", Label: "Let agents try to fix it", Description: "Agents will analyze the test failure and attempt to fix it automatically"},
			{ID: "retry", Label: "Retry tests", Description: "Try running tests again"},
			{ID: "skip", Label: "Skip tests and continue", Description: "Continue to the next step without passing tests"},
			{ID: "help", Label: "I'll describe the fix", Description: "Tell me what to fix and I'll try again"},
		},
		Required: true,
		Default:  "autofix",
		Category: "test",
	}
}

// ConfirmRetryQuestion is a generic retry prompt.
func ConfirmRetryQuestion(message string) BlockingQuestion {
	return BlockingQuestion{
		ID:   QConfirmRetry,
		Text: message,
		Type: QuestionSingleChoice,
		Options: []QuestionOption{
			{ID: "retry", Label: "Try again"},
			{ID: "different", Label: "Try a different approach"},
			{ID: "cancel", Label: "Cancel"},
		},
		Required: true,
		Default:  "retry",
		Category: "general",
	}
}
