package autopilot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mpataki/foundry/internal/classify"
	"github.com/mpataki/foundry/internal/fix"
	"github.com/mpataki/foundry/internal/heal"
	"github.com/mpataki/foundry/internal/models"
	"github.com/mpataki/foundry/internal/proc"
	"github.com/mpataki/foundry/internal/project"
)

// commonPorts are swept before every launch. Dev servers from earlier
// runs are the usual squatters.
var commonPorts = []int{8080, 8000, 3000, 5173}

// stationLaunch starts the application and waits for it to answer its
// health URL. Launch failures go through the tighter launch guardrails;
// exhausting them is not fatal, the app just ships unverified.
func (e *Engine) stationLaunch(ctx context.Context, sessionID string, proposal *models.Proposal, sink sessionSink) (StationResult, error) {
	dir := e.appDir(sessionID)
	router := e.router(sink)

	launch := project.LaunchFor(proposal.TemplateID, dir)
	if launch.Command == "" {
		sink.Emit(models.InfoEvent(models.AgentDevOps, "Nothing to launch for this project kind"))
		return ResultDone, nil
	}

	sink.Emit(models.InfoEvent(models.AgentDevOps, "Clearing common ports before launch"))
	for _, port := range commonPorts {
		e.sup.KillPort(ctx, port)
	}

	healthURL := pickHealthURL(launch.URLs)
	timeout := time.Duration(e.cfg.LaunchTimeoutSecs) * time.Second
	guardrails := heal.LaunchGuardrails()
	session := heal.NewSession()

	for {
		ready, err := e.sup.RunAndMonitor(ctx, launch.Command, dir, models.AgentDevOps, healthURL, timeout, sink)
		if ready {
			proposal.SetConfig(keyAppLaunched, "true")
			sink.Emit(models.InfoEvent(models.AgentDevOps, "Application is up and answering at "+healthURL))
			return ResultDone, nil
		}
		if err == nil {
			// Clean exit without readiness; treat as a crash for
			// classification purposes.
			err = fmt.Errorf("application exited before becoming ready")
		}

		errType := classifyLaunchError(err)
		sink.Emit(models.WarningEvent(models.AgentDevOps,
			fmt.Sprintf("Launch failed (%s): %s", errType.Category(), err.Error())))

		if session.AttemptsFor(errType.Category()) >= guardrails.MaxAttemptsPerError {
			sink.Emit(models.WarningEvent(models.AgentDevOps,
				fmt.Sprintf("Exceeded %d attempts for %s", guardrails.MaxAttemptsPerError, errType.Category())))
			session.ForceEscalation(guardrails)
		}
		session.RecordAttempt(errType.Category())

		if reason := session.ShouldEscalate(guardrails); reason != "" {
			sink.Emit(models.WarningEvent(models.AgentDevOps,
				fmt.Sprintf("Giving up on automatic launch (%s). Start the app manually with: %s", reason, launch.Command)))
			return ResultDone, nil
		}

		switch r := router.AttemptFix(ctx, errType, proposal.TemplateID, dir).(type) {
		case fix.Fixed:
			session.RecordSuccess(errType.Category(), r.Description)
			sink.Emit(models.InfoEvent(errType.Specialist(), r.Description))
		case fix.PartialFix:
			session.RecordPartial(r.Description)
			sink.Emit(models.InfoEvent(errType.Specialist(), r.Description+". Next: "+r.NextStep))
		case fix.NeedsHelp:
			sink.Emit(models.WarningEvent(errType.Specialist(),
				r.Question+" The app was left unlaunched; start it manually with: "+launch.Command))
			return ResultDone, nil
		case fix.GaveUp:
			session.RecordFailure()
			sink.Emit(models.WarningEvent(errType.Specialist(), "Could not fix: "+r.Reason))
		}
	}
}

// pickHealthURL prefers an explicit health endpoint, falling back to
// whatever the app exposes first.
func pickHealthURL(urls []models.UrlInfo) string {
	for _, u := range urls {
		if u.Name == "Health" {
			return u.URL
		}
	}
	if len(urls) > 0 {
		return urls[0].URL
	}
	return ""
}

func classifyLaunchError(err error) classify.ErrorType {
	var portErr *proc.PortInUseError
	if errors.As(err, &portErr) {
		return classify.PortInUse{Port: portErr.Port, Message: err.Error()}
	}
	return classify.Classify(err.Error())
}
