package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mpataki/foundry/internal/autopilot"
	"github.com/mpataki/foundry/internal/config"
	"github.com/mpataki/foundry/internal/proc"
	"github.com/mpataki/foundry/internal/scaffold"
	"github.com/mpataki/foundry/internal/store"
	"github.com/mpataki/foundry/internal/tui"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "foundry",
		Short: "Autonomous application factory",
		Long:  "Foundry scaffolds, builds, tests and launches applications through a self-healing pipeline.",
		RunE:  runTUI,
	}

	rootCmd.AddCommand(newStartCommand())
	rootCmd.AddCommand(newResumeCommand())
	rootCmd.AddCommand(newAnswerCommand())
	rootCmd.AddCommand(newSayCommand())
	rootCmd.AddCommand(newRetryCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newTimelineCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newDeleteCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env bundles everything a command needs, opened once per invocation.
type env struct {
	cfg      *config.Config
	store    *store.Store
	registry *store.Registry
	engine   *autopilot.Engine
}

func openEnv() (*env, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	registry, err := store.OpenRegistry(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open session registry: %w", err)
	}

	st := store.New(cfg.SessionsDir(), registry)
	sup := proc.NewSupervisor(time.Duration(cfg.HealthPollMillis) * time.Millisecond)
	scaffolder := scaffold.NewProvider(cfg.TemplatesDir)

	engine, err := autopilot.New(cfg, st, sup, scaffolder, nil)
	if err != nil {
		registry.Close()
		return nil, err
	}

	return &env{cfg: cfg, store: st, registry: registry, engine: engine}, nil
}

func (e *env) Close() {
	e.registry.Close()
}

func runTUI(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	app := tui.NewApp(e.engine, e.store, e.registry)
	p := tea.NewProgram(app, tea.WithAltScreen())

	_, err = p.Run()
	return err
}

func newStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <prompt>",
		Short: "Start a new session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			sessionID, _ := cmd.Flags().GetString("session")
			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			fmt.Printf("Session: %s\n", sessionID)
			if err := e.engine.Start(context.Background(), sessionID, args[0]); err != nil {
				return fmt.Errorf("failed to start session: %w", err)
			}
			return printStatus(e, sessionID)
		},
	}
	cmd.Flags().String("session", "", "Session ID (default: generated)")
	return cmd
}

func newResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Resume a waiting session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.engine.Resume(context.Background(), args[0]); err != nil {
				return fmt.Errorf("failed to resume: %w", err)
			}
			return printStatus(e, args[0])
		},
	}
}

func newAnswerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "answer <session-id> <question-id> <answer>",
		Short: "Answer a blocking question",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.engine.AnswerQuestion(context.Background(), args[0], args[1], args[2]); err != nil {
				return fmt.Errorf("failed to answer: %w", err)
			}
			return printStatus(e, args[0])
		},
	}
}

func newSayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "say <session-id> <message>",
		Short: "Send a free-form message to a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.engine.Intervene(context.Background(), args[0], args[1]); err != nil {
				return fmt.Errorf("intervention failed: %w", err)
			}
			return printStatus(e, args[0])
		},
	}
}

func newRetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <session-id>",
		Short: "Re-run the build and launch stations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.engine.RetryBuildAndLaunch(context.Background(), args[0]); err != nil {
				return fmt.Errorf("retry failed: %w", err)
			}
			return printStatus(e, args[0])
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show session status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			return printStatus(e, args[0])
		},
	}
}

func printStatus(e *env, sessionID string) error {
	state, err := e.store.LoadRuntime(sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	fmt.Printf("Session %s [%s] %d%%\n", state.SessionID, state.RunState, state.ProgressPercent())
	for _, st := range state.Stations {
		marker := " "
		switch st.State {
		case "done":
			marker = "x"
		case "running":
			marker = ">"
		case "waiting":
			marker = "?"
		case "failed":
			marker = "!"
		}
		fmt.Printf("  [%s] %s\n", marker, st.Label)
	}

	for _, q := range state.BlockingQuestions {
		fmt.Printf("\nQuestion (%s): %s\n", q.ID, q.Text)
		for _, opt := range q.Options {
			fmt.Printf("  %s - %s\n", opt.ID, opt.Label)
		}
	}

	if state.ReadyInfo != nil {
		fmt.Printf("\nApp: %s\n", state.ReadyInfo.AppPath)
		for _, u := range state.ReadyInfo.URLs {
			fmt.Printf("  %s: %s\n", u.Name, u.URL)
		}
		for _, run := range state.ReadyInfo.RunCommands {
			fmt.Printf("  $ %s\n", run)
		}
		if state.ReadyInfo.Notes != "" {
			fmt.Printf("  %s\n", state.ReadyInfo.Notes)
		}
	}

	if state.Error != nil {
		fmt.Printf("\nError at %s: %s\n", state.Error.Station, state.Error.Message)
	}
	return nil
}

func newTimelineCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline <session-id>",
		Short: "Show recent timeline events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			n, _ := cmd.Flags().GetInt("tail")
			events, err := e.store.RecentEvents(args[0], n)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("No events.")
				return nil
			}

			for _, ev := range events {
				fmt.Printf("%s %-15s %-11s %s\n",
					ev.TS.Local().Format("15:04:05"), ev.Type, ev.Actor, ev.Message)
			}
			return nil
		},
	}
	cmd.Flags().Int("tail", 50, "Number of events to show")
	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			sessions, err := e.registry.List(20)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}

			for _, s := range sessions {
				name := s.AppName
				if name == "" {
					name = "-"
				}
				fmt.Printf("%s  %-18s [%s] %d%% %s\n",
					s.SessionID, name, s.RunState, s.Progress, s.CurrentStation)
			}
			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.store.DeleteSession(args[0]); err != nil {
				return fmt.Errorf("failed to delete session: %w", err)
			}
			fmt.Printf("Deleted session %s\n", args[0])
			return nil
		},
	}
}
