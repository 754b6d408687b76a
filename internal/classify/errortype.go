// Package classify maps raw build/test/runtime output onto a closed
// set of error categories, each owned by one specialist agent.
package classify

import "github.com/mpataki/foundry/internal/models"

// ErrorType is a closed sum: the only implementations live in this
// package, so the fix router's type switch is exhaustive by
// construction.
type ErrorType interface {
	// Category is the human-readable label used as the guardrail
	// bucket key.
	Category() string
	// Specialist is the agent responsible for this category.
	Specialist() models.Agent
	// Detail is the underlying message.
	Detail() string

	sealed()
}

type PortInUse struct {
	Port    int
	Message string
}

type BuildError struct {
	Message string
	File    string // empty when not extracted
	Line    int    // 0 when not extracted
}

type TestFailure struct {
	TestName string // empty when not extracted
	Message  string
}

type RuntimeError struct {
	Message string
}

type DependencyError struct {
	Package string // empty when not extracted
	Message string
}

type ConfigError struct {
	Message string
}

type Unknown struct {
	Message string
}

func (PortInUse) sealed()       {}
func (BuildError) sealed()      {}
func (TestFailure) sealed()     {}
func (RuntimeError) sealed()    {}
func (DependencyError) sealed() {}
func (ConfigError) sealed()     {}
func (Unknown) sealed()         {}

func (PortInUse) Category() string       { return "Port Conflict" }
func (BuildError) Category() string      { return "Build Error" }
func (TestFailure) Category() string     { return "Test Failure" }
func (RuntimeError) Category() string    { return "Runtime Error" }
func (DependencyError) Category() string { return "Dependency Issue" }
func (ConfigError) Category() string     { return "Configuration Error" }
func (Unknown) Category() string         { return "Unknown Issue" }

func (PortInUse) Specialist() models.Agent       { return models.AgentDevOps }
func (BuildError) Specialist() models.Agent      { return models.AgentImplementer }
func (TestFailure) Specialist() models.Agent     { return models.AgentTester }
func (RuntimeError) Specialist() models.Agent    { return models.AgentDevOps }
func (DependencyError) Specialist() models.Agent { return models.AgentArchitect }
func (ConfigError) Specialist() models.Agent     { return models.AgentDevOps }
func (Unknown) Specialist() models.Agent         { return models.AgentFactory }

func (e PortInUse) Detail() string       { return e.Message }
func (e BuildError) Detail() string      { return e.Message }
func (e TestFailure) Detail() string     { return e.Message }
func (e RuntimeError) Detail() string    { return e.Message }
func (e DependencyError) Detail() string { return e.Message }
func (e ConfigError) Detail() string     { return e.Message }
func (e Unknown) Detail() string         { return e.Message }
