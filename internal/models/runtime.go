package models

import "time"

// RunState is the overall state of a session's pipeline run.
type RunState string

const (
	RunStateIdle          RunState = "idle"
	RunStateRunning       RunState = "running"
	RunStateWaitingOnUser RunState = "waitingonuser"
	RunStateReadyToTest   RunState = "readytotest"
	RunStateFailed        RunState = "failed"
)

// StationState is the state of a single pipeline station.
type StationState string

const (
	StationPending StationState = "pending"
	StationRunning StationState = "running"
	StationDone    StationState = "done"
	StationWaiting StationState = "waiting"
	StationFailed  StationState = "failed"
)

// Agent identifies the specialist responsible for a station or event.
type Agent string

const (
	AgentFactory     Agent = "factory"
	AgentAnalyst     Agent = "analyst"
	AgentArchitect   Agent = "architect"
	AgentImplementer Agent = "implementer"
	AgentTester      Agent = "tester"
	AgentReviewer    Agent = "reviewer"
	AgentSecurity    Agent = "security"
	AgentDevOps      Agent = "devops"
	AgentDesigner    Agent = "designer"
	AgentA11y        Agent = "a11y"
	AgentUser        Agent = "user"
)

// Station is one named step of the fixed pipeline.
type Station struct {
	Name        string       `json:"name"`
	Label       string       `json:"label"`
	State       StationState `json:"state"`
	Agent       Agent        `json:"agent"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

func NewStation(name, label string, agent Agent) Station {
	return Station{Name: name, Label: label, State: StationPending, Agent: agent}
}

// QuestionType is the answer shape expected by a blocking question.
type QuestionType string

const (
	QuestionSingleChoice QuestionType = "singlechoice"
	QuestionMultiChoice  QuestionType = "multichoice"
	QuestionFreeText     QuestionType = "freetext"
	QuestionConfirm      QuestionType = "confirm"
)

// QuestionOption is one selectable answer for a choice question.
type QuestionOption struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// BlockingQuestion suspends the pipeline until the user answers it.
type BlockingQuestion struct {
	ID       string           `json:"id"`
	Text     string           `json:"text"`
	Type     QuestionType     `json:"type"`
	Options  []QuestionOption `json:"options"`
	Required bool             `json:"required"`
	Default  string           `json:"default,omitempty"`
	Category string           `json:"category,omitempty"`
}

// UrlInfo is a named URL exposed by the launched application.
type UrlInfo struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ReadyInfo summarizes how to run and test the finished application.
type ReadyInfo struct {
	AppPath      string    `json:"appPath"`
	RunCommands  []string  `json:"runCommands"`
	URLs         []UrlInfo `json:"urls"`
	TestCommands []string  `json:"testCommands"`
	Notes        string    `json:"notes,omitempty"`
	BuildPassed  bool      `json:"buildPassed"`
	AppLaunched  bool      `json:"appLaunched"`
}

// RuntimeError records the failure that stopped a run.
type RuntimeError struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Station string `json:"station,omitempty"`
}

// RuntimeState is the per-session pipeline state. Single writer: the
// engine serializes all access per session id.
type RuntimeState struct {
	SessionID         string             `json:"sessionId"`
	RunState          RunState           `json:"runState"`
	CurrentStation    string             `json:"currentStation,omitempty"`
	Stations          []Station          `json:"stations"`
	LastEvent         string             `json:"lastEvent"`
	BlockingQuestions []BlockingQuestion `json:"blockingQuestions"`
	ReadyInfo         *ReadyInfo         `json:"readyInfo,omitempty"`
	Error             *RuntimeError      `json:"error,omitempty"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

// NewRuntimeState creates the initial state with every station pending.
func NewRuntimeState(sessionID string, stations []Station) *RuntimeState {
	now := time.Now().UTC()
	return &RuntimeState{
		SessionID:         sessionID,
		RunState:          RunStateIdle,
		Stations:          stations,
		LastEvent:         "Runtime initialized",
		BlockingQuestions: []BlockingQuestion{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// IsComplete reports whether every station has finished.
func (r *RuntimeState) IsComplete() bool {
	for _, s := range r.Stations {
		if s.State != StationDone {
			return false
		}
	}
	return true
}

// ProgressPercent returns pipeline completion as 0-100.
func (r *RuntimeState) ProgressPercent() int {
	if len(r.Stations) == 0 {
		return 100
	}
	done := 0
	for _, s := range r.Stations {
		if s.State == StationDone {
			done++
		}
	}
	return done * 100 / len(r.Stations)
}

// StationIndex returns the index of the named station, or -1.
func (r *RuntimeState) StationIndex(name string) int {
	for i, s := range r.Stations {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// DefaultPipeline is the fixed station list every new session starts with.
func DefaultPipeline() []Station {
	return []Station{
		NewStation("intake", "Gather Requirements", AgentAnalyst),
		NewStation("analyze", "Analyze & Clarify", AgentAnalyst),
		NewStation("architect", "Design Architecture", AgentArchitect),
		NewStation("scaffold", "Generate Scaffold", AgentImplementer),
		NewStation("implement", "Implement Code", AgentImplementer),
		NewStation("test", "Write Tests", AgentTester),
		NewStation("review", "Code Review", AgentReviewer),
		NewStation("secure", "Security Scan", AgentSecurity),
		NewStation("iac-validate", "Validate IaC", AgentDevOps),
		NewStation("gate", "Quality Gate", AgentReviewer),
		NewStation("build-test", "Build & Test", AgentTester),
		NewStation("launch", "Launch Application", AgentDevOps),
		NewStation("done", "Complete", AgentAnalyst),
	}
}
