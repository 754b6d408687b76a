// Package autopilot drives a session's pipeline from intake to launch.
// The Engine owns the state machine: stations advance strictly forward,
// every transition is persisted before the next one runs, and the only
// sanctioned backward move is the explicit build-and-launch retry.
package autopilot

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mpataki/foundry/internal/config"
	"github.com/mpataki/foundry/internal/fix"
	"github.com/mpataki/foundry/internal/luadef"
	"github.com/mpataki/foundry/internal/models"
	"github.com/mpataki/foundry/internal/proc"
	"github.com/mpataki/foundry/internal/scaffold"
	"github.com/mpataki/foundry/internal/store"
)

// Completer is an optional text-generation hook used by the design
// stations. A nil Completer degrades those stations to template output
// instead of failing the run.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// StationResult is the outcome of executing one station.
type StationResult int

const (
	// ResultDone advances past the station.
	ResultDone StationResult = iota
	// ResultNeedsInput parks the station until the user answers.
	ResultNeedsInput
)

// Engine runs pipelines. Safe for concurrent use; all work on one
// session is serialized by a per-session lock.
type Engine struct {
	cfg        *config.Config
	store      *store.Store
	sup        *proc.Supervisor
	scaffolder scaffold.Provider
	completer  Completer
	pipeline   []models.Station

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(cfg *config.Config, st *store.Store, sup *proc.Supervisor, scaffolder scaffold.Provider, completer Completer) (*Engine, error) {
	pipeline := models.DefaultPipeline()
	if cfg.PipelineFile != "" {
		custom, err := luadef.Load(cfg.PipelineFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load pipeline definition: %w", err)
		}
		pipeline = custom
	}

	return &Engine{
		cfg:        cfg,
		store:      st,
		sup:        sup,
		scaffolder: scaffolder,
		completer:  completer,
		pipeline:   pipeline,
		locks:      map[string]*sync.Mutex{},
	}, nil
}

func (e *Engine) lockFor(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[sessionID] = l
	}
	return l
}

// sessionSink adapts the store's event log to the supervisor's sink.
// Append failures are swallowed: losing a terminal line must never
// fail the command that produced it.
type sessionSink struct {
	store     *store.Store
	sessionID string
}

func (s sessionSink) Emit(event models.TimelineEvent) {
	_ = s.store.AppendEvent(s.sessionID, event)
}

func (e *Engine) sink(sessionID string) sessionSink {
	return sessionSink{store: e.store, sessionID: sessionID}
}

// appDir is where the session's generated application lives.
func (e *Engine) appDir(sessionID string) string {
	return filepath.Join(e.cfg.WorkspacesDir(), sessionID)
}

func (e *Engine) pipelineStations() []models.Station {
	stations := make([]models.Station, len(e.pipeline))
	copy(stations, e.pipeline)
	return stations
}

// Start begins a new run for the session with the user's prompt.
func (e *Engine) Start(ctx context.Context, sessionID, prompt string) error {
	l := e.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	state, err := e.store.LoadRuntime(sessionID)
	if err != nil {
		return err
	}
	if state.RunState != models.RunStateIdle {
		return fmt.Errorf("session %s is already %s", sessionID, state.RunState)
	}

	state.Stations = e.pipelineStations()
	state.RunState = models.RunStateRunning
	state.LastEvent = "Run started"
	touch(state)

	proposal := models.NewProposal(sessionID, suggestAppName(prompt))
	proposal.TemplateID = suggestTemplate(prompt)
	proposal.Confidence = 0.6
	proposal.SetConfig("prompt", prompt)
	if err := e.store.SaveProposal(sessionID, proposal); err != nil {
		return err
	}

	e.sink(sessionID).Emit(models.InterventionEvent(prompt))
	if err := e.store.SaveRuntime(sessionID, state); err != nil {
		return err
	}

	return e.advance(ctx, sessionID, state, proposal)
}

// Resume continues a run that is waiting with nothing left to answer.
// Calling it in any other state is a no-op.
func (e *Engine) Resume(ctx context.Context, sessionID string) error {
	l := e.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	state, err := e.store.LoadRuntime(sessionID)
	if err != nil {
		return err
	}
	if state.RunState != models.RunStateWaitingOnUser || len(state.BlockingQuestions) > 0 {
		return nil
	}

	proposal, err := e.store.LoadProposal(sessionID)
	if err != nil {
		return err
	}

	state.RunState = models.RunStateRunning
	touch(state)
	if err := e.store.SaveRuntime(sessionID, state); err != nil {
		return err
	}
	return e.advance(ctx, sessionID, state, proposal)
}

// advance executes stations from the first unfinished one, persisting
// state after every transition. It stops on completion, on a blocking
// question, or on a failure.
func (e *Engine) advance(ctx context.Context, sessionID string, state *models.RuntimeState, proposal *models.Proposal) error {
	sink := e.sink(sessionID)

	for {
		idx := -1
		for i := range state.Stations {
			if state.Stations[i].State != models.StationDone {
				idx = i
				break
			}
		}
		if idx == -1 {
			return e.finish(sessionID, state, proposal, sink)
		}

		station := &state.Stations[idx]
		if station.State != models.StationWaiting {
			sink.Emit(models.StationStartEvent(station))
		}
		now := time.Now().UTC()
		if station.StartedAt == nil {
			station.StartedAt = &now
		}
		station.State = models.StationRunning
		state.CurrentStation = station.Name
		state.RunState = models.RunStateRunning
		state.LastEvent = "Running: " + station.Label
		touch(state)
		if err := e.store.SaveRuntime(sessionID, state); err != nil {
			return err
		}

		result, err := e.runStation(ctx, sessionID, station.Name, state, proposal, sink)

		if saveErr := e.store.SaveProposal(sessionID, proposal); saveErr != nil {
			return saveErr
		}

		if err != nil {
			station.State = models.StationFailed
			state.RunState = models.RunStateFailed
			state.Error = &models.RuntimeError{
				Message: err.Error(),
				Station: station.Name,
			}
			state.LastEvent = "Failed: " + station.Label
			touch(state)
			sink.Emit(models.StationFailedEvent(station))
			if saveErr := e.store.SaveRuntime(sessionID, state); saveErr != nil {
				return saveErr
			}
			return err
		}

		switch result {
		case ResultNeedsInput:
			station.State = models.StationWaiting
			state.RunState = models.RunStateWaitingOnUser
			state.LastEvent = "Waiting on user: " + station.Label
			touch(state)
			return e.store.SaveRuntime(sessionID, state)

		case ResultDone:
			done := time.Now().UTC()
			station.State = models.StationDone
			station.CompletedAt = &done
			state.LastEvent = "Completed: " + station.Label
			touch(state)
			sink.Emit(models.StationDoneEvent(station))
			if err := e.store.SaveRuntime(sessionID, state); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) finish(sessionID string, state *models.RuntimeState, proposal *models.Proposal, sink sessionSink) error {
	state.RunState = models.RunStateReadyToTest
	state.CurrentStation = ""
	state.ReadyInfo = e.buildReadyInfo(sessionID, proposal)
	state.LastEvent = "Application ready"
	touch(state)
	sink.Emit(models.InfoEvent(models.AgentFactory, "Pipeline complete, the application is ready to test"))
	return e.store.SaveRuntime(sessionID, state)
}

func touch(state *models.RuntimeState) {
	state.UpdatedAt = time.Now().UTC()
}

func (e *Engine) router(sink sessionSink) *fix.Router {
	return fix.NewRouter(e.sup, sink)
}

// suggestAppName derives a slug from the first words of the prompt.
func suggestAppName(prompt string) string {
	var parts []string
	for _, word := range strings.Fields(strings.ToLower(prompt)) {
		cleaned := strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				return r
			}
			return -1
		}, word)
		if cleaned == "" {
			continue
		}
		parts = append(parts, cleaned)
		if len(parts) == 3 {
			break
		}
	}
	if len(parts) == 0 {
		return "my-app"
	}
	return strings.Join(parts, "-")
}

// suggestTemplate picks a starting template from prompt keywords.
func suggestTemplate(prompt string) string {
	lower := strings.ToLower(prompt)
	switch {
	case strings.Contains(lower, "quarkus"):
		return "java-quarkus"
	case strings.Contains(lower, "python") || strings.Contains(lower, "fastapi"):
		return "python-fastapi"
	default:
		return "java-springboot"
	}
}
