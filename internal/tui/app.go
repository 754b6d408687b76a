package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/mpataki/foundry/internal/autopilot"
	"github.com/mpataki/foundry/internal/models"
	"github.com/mpataki/foundry/internal/store"
)

type View int

const (
	ViewSessionList View = iota
	ViewSessionDetail
	ViewInput
)

// inputMode says what the text input submits to.
type inputMode int

const (
	inputNewSession inputMode = iota
	inputIntervene
	inputAnswer
)

type App struct {
	engine   *autopilot.Engine
	store    *store.Store
	registry *store.Registry

	view     View
	sessions []*store.SessionSummary

	selectedIdx int
	selected    *models.RuntimeState
	events      []models.TimelineEvent

	input      textinput.Model
	mode       inputMode
	questionID string

	width  int
	height int
	err    error
}

func NewApp(engine *autopilot.Engine, st *store.Store, registry *store.Registry) *App {
	ti := textinput.New()
	ti.CharLimit = 500
	ti.Width = 60

	return &App{
		engine:   engine,
		store:    st,
		registry: registry,
		view:     ViewSessionList,
		input:    ti,
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.loadSessions, a.tickCmd())
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type tickMsg time.Time

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case sessionsLoadedMsg:
		a.sessions = msg.sessions
		a.err = msg.err
		return a, nil

	case tickMsg:
		switch a.view {
		case ViewSessionList:
			return a, tea.Batch(a.loadSessions, a.tickCmd())
		case ViewSessionDetail:
			if a.selected != nil {
				return a, tea.Batch(a.loadDetail(a.selected.SessionID), a.tickCmd())
			}
		}
		return a, a.tickCmd()

	case detailLoadedMsg:
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		a.selected = msg.state
		a.events = msg.events
		a.view = ViewSessionDetail
		return a, nil

	case engineDoneMsg:
		a.err = msg.err
		if a.selected != nil {
			return a, a.loadDetail(a.selected.SessionID)
		}
		return a, a.loadSessions

	case sessionDeletedMsg:
		a.err = msg.err
		if a.selectedIdx >= len(a.sessions)-1 && a.selectedIdx > 0 {
			a.selectedIdx--
		}
		return a, a.loadSessions
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.view {
	case ViewSessionList:
		return a.handleListKey(msg)
	case ViewSessionDetail:
		return a.handleDetailKey(msg)
	case ViewInput:
		return a.handleInputKey(msg)
	}
	return a, nil
}

func (a *App) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.selectedIdx < len(a.sessions)-1 {
			a.selectedIdx++
		}

	case "enter":
		if len(a.sessions) > 0 && a.selectedIdx < len(a.sessions) {
			return a, a.loadDetail(a.sessions[a.selectedIdx].SessionID)
		}

	case "n":
		a.openInput(inputNewSession, "Describe the app to build")

	case "r":
		return a, a.loadSessions

	case "d":
		if len(a.sessions) > 0 && a.selectedIdx < len(a.sessions) {
			return a, a.deleteSession(a.sessions[a.selectedIdx].SessionID)
		}
	}

	return a, nil
}

func (a *App) handleDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewSessionList
		a.selected = nil
		a.events = nil
		return a, a.loadSessions

	case "ctrl+c":
		return a, tea.Quit

	case "s":
		a.openInput(inputIntervene, "Tell the factory something")

	case "a":
		if a.selected != nil && len(a.selected.BlockingQuestions) > 0 {
			q := a.selected.BlockingQuestions[0]
			a.questionID = q.ID
			a.openInput(inputAnswer, q.Text)
			if q.Default != "" {
				a.input.Placeholder = q.Default
			}
		}

	case "t":
		if a.selected != nil {
			return a, a.retry(a.selected.SessionID)
		}

	case "r":
		if a.selected != nil {
			return a, a.loadDetail(a.selected.SessionID)
		}
	}

	return a, nil
}

func (a *App) openInput(mode inputMode, placeholder string) {
	a.mode = mode
	a.input.Reset()
	a.input.Placeholder = placeholder
	a.input.Focus()
	a.view = ViewInput
}

func (a *App) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.input.Blur()
		if a.selected != nil {
			a.view = ViewSessionDetail
		} else {
			a.view = ViewSessionList
		}
		return a, nil

	case "ctrl+c":
		return a, tea.Quit

	case "enter":
		value := strings.TrimSpace(a.input.Value())
		a.input.Blur()

		switch a.mode {
		case inputNewSession:
			a.view = ViewSessionList
			if value == "" {
				return a, nil
			}
			return a, a.startSession(value)

		case inputIntervene:
			a.view = ViewSessionDetail
			if value == "" || a.selected == nil {
				return a, nil
			}
			return a, a.intervene(a.selected.SessionID, value)

		case inputAnswer:
			a.view = ViewSessionDetail
			if a.selected == nil {
				return a, nil
			}
			return a, a.answer(a.selected.SessionID, a.questionID, value)
		}
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) View() string {
	switch a.view {
	case ViewSessionList:
		return a.viewSessionList()
	case ViewSessionDetail:
		return a.viewSessionDetail()
	case ViewInput:
		return a.viewInput()
	}
	return ""
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	stateRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	stateReady   = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	stateFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	stateWaiting = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func (a *App) viewSessionList() string {
	s := titleStyle.Render("Foundry") + "\n\n"

	if a.err != nil {
		s += fmt.Sprintf("Error: %v\n", a.err)
	}

	if len(a.sessions) == 0 {
		s += "No sessions yet. Press 'n' to start one.\n"
	} else {
		s += "Sessions\n"
		s += "────────\n"

		for i, sess := range a.sessions {
			line := a.formatSessionLine(sess)
			if i == a.selectedIdx {
				line = selectedStyle.Render("▶ " + line)
			} else if sess.RunState == models.RunStateRunning || sess.RunState == models.RunStateWaitingOnUser {
				line = "  " + line
			} else {
				line = "  " + dimStyle.Render(line)
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] view  [n] new  [d] delete  [r] refresh  [q] quit")

	return s
}

func (a *App) formatSessionLine(sess *store.SessionSummary) string {
	name := sess.AppName
	if name == "" {
		name = truncate(sess.SessionID, 12)
	}
	return fmt.Sprintf("%-18s %s  %3d%%  %-6s  %s",
		truncate(name, 18), a.formatState(sess.RunState), sess.Progress,
		a.formatAge(sess.UpdatedAt), sess.CurrentStation)
}

func (a *App) formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func (a *App) formatState(state models.RunState) string {
	switch state {
	case models.RunStateRunning:
		return stateRunning.Render("● running")
	case models.RunStateReadyToTest:
		return stateReady.Render("✓ ready")
	case models.RunStateFailed:
		return stateFailed.Render("✗ failed")
	case models.RunStateWaitingOnUser:
		return stateWaiting.Render("⚠ waiting")
	case models.RunStateIdle:
		return dimStyle.Render("○ idle")
	default:
		return string(state)
	}
}

func (a *App) viewSessionDetail() string {
	if a.selected == nil {
		return "No session selected"
	}
	state := a.selected

	s := titleStyle.Render("Session "+truncate(state.SessionID, 12)) + "  " + a.formatState(state.RunState) + "\n\n"

	s += "Pipeline\n"
	s += "────────\n"
	for _, st := range state.Stations {
		marker := "○"
		label := st.Label
		switch st.State {
		case models.StationDone:
			marker = stateReady.Render("✓")
			label = dimStyle.Render(label)
		case models.StationRunning:
			marker = stateRunning.Render("●")
		case models.StationWaiting:
			marker = stateWaiting.Render("⚠")
		case models.StationFailed:
			marker = stateFailed.Render("✗")
		default:
			label = dimStyle.Render(label)
		}
		s += fmt.Sprintf("  %s %s\n", marker, label)
	}

	if len(state.BlockingQuestions) > 0 {
		s += "\nQuestions\n"
		s += "─────────\n"
		for _, q := range state.BlockingQuestions {
			s += "  " + stateWaiting.Render("? ") + q.Text + "\n"
			for _, opt := range q.Options {
				s += dimStyle.Render(fmt.Sprintf("      %s - %s", opt.ID, opt.Label)) + "\n"
			}
		}
	}

	if state.ReadyInfo != nil {
		s += "\nReady\n"
		s += "─────\n"
		s += labelStyle.Render("  App: ") + state.ReadyInfo.AppPath + "\n"
		for _, u := range state.ReadyInfo.URLs {
			s += labelStyle.Render(fmt.Sprintf("  %s: ", u.Name)) + u.URL + "\n"
		}
		for _, cmd := range state.ReadyInfo.RunCommands {
			s += dimStyle.Render("  $ "+cmd) + "\n"
		}
	}

	if state.Error != nil {
		s += "\n" + stateFailed.Render("Error: "+state.Error.Message) + "\n"
	}

	s += "\nTimeline\n"
	s += "────────\n"
	if len(a.events) == 0 {
		s += dimStyle.Render("  (no events yet)") + "\n"
	}
	for _, ev := range a.events {
		s += a.formatEventLine(ev) + "\n"
	}

	s += "\n" + helpStyle.Render("[a] answer  [s] say  [t] retry build  [r] refresh  [esc] back  [q] quit")

	return s
}

func (a *App) formatEventLine(ev models.TimelineEvent) string {
	ts := dimStyle.Render(ev.TS.Local().Format("15:04:05"))
	actor := labelStyle.Render(fmt.Sprintf("%-11s", ev.Actor))
	msg := truncate(strings.ReplaceAll(ev.Message, "\n", " "), 80)

	switch ev.Type {
	case models.EventWarning, models.EventError, models.EventStationFailed:
		msg = stateFailed.Render(msg)
	case models.EventStationDone:
		msg = stateReady.Render(msg)
	case models.EventTerminalOutput:
		msg = dimStyle.Render(msg)
	case models.EventQuestion:
		msg = stateWaiting.Render(msg)
	}
	return fmt.Sprintf("  %s %s %s", ts, actor, msg)
}

func (a *App) viewInput() string {
	title := "New Session"
	switch a.mode {
	case inputIntervene:
		title = "Intervene"
	case inputAnswer:
		title = "Answer"
	}

	s := titleStyle.Render(title) + "\n\n"
	s += a.input.Placeholder + "\n\n"
	s += a.input.View() + "\n"
	s += "\n" + helpStyle.Render("[enter] submit  [esc] cancel")
	return s
}

// Messages

type sessionsLoadedMsg struct {
	sessions []*store.SessionSummary
	err      error
}

type detailLoadedMsg struct {
	state  *models.RuntimeState
	events []models.TimelineEvent
	err    error
}

type engineDoneMsg struct {
	err error
}

type sessionDeletedMsg struct {
	err error
}

// Commands

func (a *App) loadSessions() tea.Msg {
	sessions, err := a.registry.List(20)
	return sessionsLoadedMsg{sessions: sessions, err: err}
}

func (a *App) loadDetail(sessionID string) tea.Cmd {
	return func() tea.Msg {
		state, err := a.store.LoadRuntime(sessionID)
		if err != nil {
			return detailLoadedMsg{err: err}
		}
		events, err := a.store.RecentEvents(sessionID, 15)
		return detailLoadedMsg{state: state, events: events, err: err}
	}
}

func (a *App) startSession(prompt string) tea.Cmd {
	return func() tea.Msg {
		sessionID := uuid.NewString()
		return engineDoneMsg{err: a.engine.Start(context.Background(), sessionID, prompt)}
	}
}

func (a *App) intervene(sessionID, message string) tea.Cmd {
	return func() tea.Msg {
		return engineDoneMsg{err: a.engine.Intervene(context.Background(), sessionID, message)}
	}
}

func (a *App) answer(sessionID, questionID, value string) tea.Cmd {
	return func() tea.Msg {
		return engineDoneMsg{err: a.engine.AnswerQuestion(context.Background(), sessionID, questionID, value)}
	}
}

func (a *App) retry(sessionID string) tea.Cmd {
	return func() tea.Msg {
		return engineDoneMsg{err: a.engine.RetryBuildAndLaunch(context.Background(), sessionID)}
	}
}

func (a *App) deleteSession(sessionID string) tea.Cmd {
	return func() tea.Msg {
		return sessionDeletedMsg{err: a.store.DeleteSession(sessionID)}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
