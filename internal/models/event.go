package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a timeline event.
type EventType string

const (
	EventStationStart   EventType = "station-start"
	EventStationDone    EventType = "station-done"
	EventStationFailed  EventType = "station-failed"
	EventQuestion       EventType = "question"
	EventDecision       EventType = "decision"
	EventInfo           EventType = "info"
	EventWarning        EventType = "warning"
	EventIntervention   EventType = "intervention"
	EventError          EventType = "error"
	EventTerminalStart  EventType = "terminal-start"
	EventTerminalOutput EventType = "terminal-output"
	EventTerminalEnd    EventType = "terminal-end"
)

// TimelineEvent is one append-only entry in a session's event log.
// Total order is append sequence, not ts.
type TimelineEvent struct {
	ID       string         `json:"id"`
	TS       time.Time      `json:"ts"`
	Type     EventType      `json:"type"`
	Actor    Agent          `json:"actor"`
	Message  string         `json:"message"`
	Station  string         `json:"station,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func NewEvent(eventType EventType, actor Agent, message string) TimelineEvent {
	return TimelineEvent{
		ID:      uuid.NewString(),
		TS:      time.Now().UTC(),
		Type:    eventType,
		Actor:   actor,
		Message: message,
	}
}

func (e TimelineEvent) WithStation(station string) TimelineEvent {
	e.Station = station
	return e
}

func (e TimelineEvent) WithMetadata(key string, value any) TimelineEvent {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	e.Metadata[key] = value
	return e
}

func StationStartEvent(station *Station) TimelineEvent {
	return NewEvent(EventStationStart, station.Agent, "Starting: "+station.Label).WithStation(station.Name)
}

func StationDoneEvent(station *Station) TimelineEvent {
	return NewEvent(EventStationDone, station.Agent, "Completed: "+station.Label).WithStation(station.Name)
}

func StationFailedEvent(station *Station) TimelineEvent {
	return NewEvent(EventStationFailed, station.Agent, "Failed: "+station.Label).WithStation(station.Name)
}

func QuestionEvent(questionID, text string) TimelineEvent {
	return NewEvent(EventQuestion, AgentFactory, text).WithMetadata("questionId", questionID)
}

func DecisionEvent(questionID, answer string) TimelineEvent {
	return NewEvent(EventDecision, AgentUser, "Decided: "+answer).WithMetadata("questionId", questionID)
}

func InfoEvent(actor Agent, message string) TimelineEvent {
	return NewEvent(EventInfo, actor, message)
}

func WarningEvent(actor Agent, message string) TimelineEvent {
	return NewEvent(EventWarning, actor, message)
}

func InterventionEvent(message string) TimelineEvent {
	return NewEvent(EventIntervention, AgentUser, message)
}

func TerminalStartEvent(actor Agent, command, workingDir string) TimelineEvent {
	return NewEvent(EventTerminalStart, actor, "$ "+command).
		WithMetadata("command", command).
		WithMetadata("workingDir", workingDir)
}

func TerminalOutputEvent(actor Agent, line string, isStderr bool) TimelineEvent {
	return NewEvent(EventTerminalOutput, actor, line).WithMetadata("isStderr", isStderr)
}

func TerminalEndEvent(actor Agent, exitCode int, success bool) TimelineEvent {
	msg := "Command completed successfully"
	if !success {
		msg = fmt.Sprintf("Command failed (exit code: %d)", exitCode)
	}
	return NewEvent(EventTerminalEnd, actor, msg).
		WithMetadata("exitCode", exitCode).
		WithMetadata("success", success)
}
