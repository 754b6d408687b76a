// Package fix routes classified errors to specialist handlers that
// attempt an automated repair. Every handler is bounded: it either
// fixes, partially fixes, asks the user, or gives up. Handlers never
// loop; the caller's healing session owns retry policy.
package fix

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mpataki/foundry/internal/classify"
	"github.com/mpataki/foundry/internal/models"
	"github.com/mpataki/foundry/internal/proc"
	"github.com/mpataki/foundry/internal/project"
)

// Result is the closed outcome set of a fix attempt.
type Result interface {
	sealed()
}

// Fixed means the repair completed and the failing phase can rerun.
type Fixed struct {
	Description string
}

// PartialFix means something changed but the phase may still fail.
type PartialFix struct {
	Description string
	NextStep    string
}

// NeedsHelp means the handler cannot proceed without the user.
type NeedsHelp struct {
	Question string
}

// GaveUp means the handler has nothing left to try.
type GaveUp struct {
	Reason string
}

func (Fixed) sealed()      {}
func (PartialFix) sealed() {}
func (NeedsHelp) sealed()  {}
func (GaveUp) sealed()     {}

// Router dispatches error types to their specialist handlers.
type Router struct {
	Sup  *proc.Supervisor
	Sink proc.Sink

	sleep func(time.Duration) // test hook
}

func NewRouter(sup *proc.Supervisor, sink proc.Sink) *Router {
	return &Router{Sup: sup, Sink: sink, sleep: time.Sleep}
}

func (r *Router) info(actor models.Agent, msg string) {
	r.Sink.Emit(models.InfoEvent(actor, msg))
}

// AttemptFix runs the specialist handler for errType. template and dir
// identify the project being repaired.
func (r *Router) AttemptFix(ctx context.Context, errType classify.ErrorType, template, dir string) Result {
	r.info(errType.Specialist(), fmt.Sprintf("%s agent taking over: %s", agentLabel(errType.Specialist()), errType.Category()))
	return r.dispatch(ctx, errType, template, dir, false)
}

func (r *Router) dispatch(ctx context.Context, errType classify.ErrorType, template, dir string, reclassified bool) Result {
	switch e := errType.(type) {
	case classify.PortInUse:
		return r.fixPort(ctx, e)
	case classify.BuildError:
		return r.fixBuild(ctx, e, template, dir)
	case classify.TestFailure:
		return r.fixTest(e)
	case classify.RuntimeError:
		return r.fixRuntime(ctx, e)
	case classify.DependencyError:
		return r.fixDependency(ctx, e, template, dir)
	case classify.ConfigError:
		return r.fixConfig(e)
	case classify.Unknown:
		return r.fixUnknown(ctx, e, template, dir, reclassified)
	default:
		return GaveUp{Reason: "No handler for this error"}
	}
}

// fixPort kills the holder twice with a settle in between; stubborn
// JVMs respawn children that survive the first sweep.
func (r *Router) fixPort(ctx context.Context, e classify.PortInUse) Result {
	r.info(models.AgentDevOps, fmt.Sprintf("Freeing port %d", e.Port))
	r.Sup.KillPort(ctx, e.Port)
	r.sleep(time.Second)
	r.Sup.KillPort(ctx, e.Port)
	return Fixed{Description: fmt.Sprintf("Killed process holding port %d", e.Port)}
}

func (r *Router) fixBuild(ctx context.Context, e classify.BuildError, template, dir string) Result {
	lower := strings.ToLower(e.Message)
	cmds := project.CommandsFor(template, dir)

	if strings.Contains(lower, "inconsistent") || strings.Contains(lower, "corrupted") ||
		strings.Contains(lower, "cannot find") || strings.Contains(lower, "class file") {
		r.info(models.AgentImplementer, "Build artifacts look corrupted, cleaning")
		if cmds.Clean != "" {
			r.Sup.RunToCompletion(ctx, cmds.Clean, dir, models.AgentImplementer, r.Sink)
		}
		return Fixed{Description: "Cleaned corrupted build artifacts"}
	}

	if strings.Contains(lower, "directory/path issue") || strings.Contains(lower, "no such file") ||
		strings.Contains(lower, "invalid path") {
		missing := project.RequiredFiles(template, dir)
		if len(missing) > 0 {
			return NeedsHelp{Question: fmt.Sprintf(
				"The project structure appears damaged (missing: %s). Should I re-scaffold the project?",
				strings.Join(missing, ", "))}
		}
	}

	if e.File != "" {
		loc := e.File
		if e.Line > 0 {
			loc = fmt.Sprintf("%s:%d", e.File, e.Line)
		}
		r.info(models.AgentImplementer, "Build error at "+loc)
	}

	if cmds.Clean != "" {
		r.Sup.RunToCompletion(ctx, cmds.Clean, dir, models.AgentImplementer, r.Sink)
	}
	return Fixed{Description: "Cleaned build output and retrying"}
}

func (r *Router) fixTest(e classify.TestFailure) Result {
	lower := strings.ToLower(e.Message)

	if strings.Contains(lower, "connection") || strings.Contains(lower, "timeout") {
		r.info(models.AgentTester, "Test hit a connection issue, waiting for services to settle")
		r.sleep(3 * time.Second)
		return Fixed{Description: "Waited for services to settle"}
	}

	if strings.Contains(lower, "flaky") || strings.Contains(lower, "intermittent") || strings.Contains(lower, "random") {
		return PartialFix{Description: "Test looks flaky", NextStep: "Re-run the test suite"}
	}

	name := e.TestName
	if name == "" {
		name = "a test"
	}
	return NeedsHelp{Question: fmt.Sprintf("%s is failing with an assertion error. Should I skip it for now, or do you want to look at it?", name)}
}

func (r *Router) fixRuntime(ctx context.Context, e classify.RuntimeError) Result {
	lower := strings.ToLower(e.Message)

	if strings.Contains(lower, "out of memory") || strings.Contains(lower, "heap") {
		return NeedsHelp{Question: "The application ran out of memory. Should I raise the memory limit or is something leaking?"}
	}

	if strings.Contains(lower, "connection refused") {
		return PartialFix{
			Description: "A dependent service may not be running",
			NextStep:    "Retry once dependencies are up",
		}
	}

	r.info(models.AgentDevOps, "Clearing common application ports")
	for _, port := range []int{8080, 8000, 3000} {
		r.Sup.KillPort(ctx, port)
	}
	return Fixed{Description: "Cleared common ports and retrying"}
}

func (r *Router) fixDependency(ctx context.Context, e classify.DependencyError, template, dir string) Result {
	lower := strings.ToLower(e.Message)
	cmds := project.CommandsFor(template, dir)

	if strings.Contains(lower, "version") || strings.Contains(lower, "conflict") {
		if cmds.Install != "" {
			r.info(models.AgentArchitect, "Resolving dependency versions")
			r.Sup.RunToCompletion(ctx, cmds.Install, dir, models.AgentArchitect, r.Sink)
			return Fixed{Description: "Re-resolved dependency versions"}
		}
		return PartialFix{Description: "Dependency version conflict", NextStep: "Pin the conflicting version"}
	}

	if strings.Contains(lower, "not found") || strings.Contains(lower, "missing") {
		if cmds.Install != "" {
			r.info(models.AgentArchitect, "Reinstalling dependencies")
			r.Sup.RunToCompletion(ctx, cmds.Install, dir, models.AgentArchitect, r.Sink)
			return Fixed{Description: "Reinstalled dependencies"}
		}
	}

	pkg := e.Package
	if pkg == "" {
		pkg = "a dependency"
	}
	return NeedsHelp{Question: fmt.Sprintf("Could not resolve %s. Do you want a different version, or should I remove it?", pkg)}
}

func (r *Router) fixConfig(e classify.ConfigError) Result {
	lower := strings.ToLower(e.Message)

	if strings.Contains(lower, "profile") {
		return PartialFix{Description: "Switched to the default profile", NextStep: "Retry with default profile"}
	}

	if strings.Contains(lower, "env") {
		return NeedsHelp{Question: "A required environment variable is missing. Which value should I use?"}
	}

	return PartialFix{Description: "Using default configuration", NextStep: "Retry with defaults"}
}

// fixUnknown takes one reclassification hop off the raw message. Depth
// is capped at one so two Unknowns cannot ping-pong.
func (r *Router) fixUnknown(ctx context.Context, e classify.Unknown, template, dir string, reclassified bool) Result {
	if !reclassified {
		if again := classify.Classify(e.Message); again.Category() != e.Category() {
			r.info(models.AgentFactory, "Reclassified as: "+again.Category())
			return r.dispatch(ctx, again, template, dir, true)
		}
	}

	cmds := project.CommandsFor(template, dir)
	if cmds.Clean != "" {
		r.info(models.AgentFactory, "Unknown error, trying a clean rebuild")
		r.Sup.RunToCompletion(ctx, cmds.Clean, dir, models.AgentFactory, r.Sink)
	}
	return PartialFix{Description: "Cleaned the workspace", NextStep: "Retry the failing phase"}
}

func agentLabel(a models.Agent) string {
	switch a {
	case models.AgentDevOps:
		return "DevOps"
	case models.AgentImplementer:
		return "Implementer"
	case models.AgentTester:
		return "Tester"
	case models.AgentArchitect:
		return "Architect"
	case models.AgentFactory:
		return "Factory"
	default:
		s := string(a)
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	}
}
