// Package luadef loads an optional Lua pipeline definition that
// replaces the default station list. The script runs in a sandbox with
// no IO, no loading, and no nondeterminism; it only describes shape.
package luadef

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"

	"github.com/mpataki/foundry/internal/models"
)

var validAgents = map[string]models.Agent{
	string(models.AgentFactory):     models.AgentFactory,
	string(models.AgentAnalyst):     models.AgentAnalyst,
	string(models.AgentArchitect):   models.AgentArchitect,
	string(models.AgentImplementer): models.AgentImplementer,
	string(models.AgentTester):      models.AgentTester,
	string(models.AgentReviewer):    models.AgentReviewer,
	string(models.AgentSecurity):    models.AgentSecurity,
	string(models.AgentDevOps):      models.AgentDevOps,
	string(models.AgentDesigner):    models.AgentDesigner,
	string(models.AgentA11y):        models.AgentA11y,
}

// IsPipelineFile reports whether path names a Lua pipeline definition.
func IsPipelineFile(path string) bool {
	return filepath.Ext(path) == ".lua"
}

// Load runs the script at path and returns the station list its
// pipeline() function describes. The list must end with the build-test,
// launch and done stations since the engine drives those by name.
func Load(path string) ([]models.Station, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	openSafeLibs(L)

	if err := L.DoString(string(script)); err != nil {
		return nil, fmt.Errorf("failed to load pipeline file: %w", err)
	}

	fn := L.GetGlobal("pipeline")
	if fn == lua.LNil {
		return nil, fmt.Errorf("pipeline file must define a 'pipeline' function")
	}

	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, fmt.Errorf("pipeline function failed: %w", err)
	}

	tbl, ok := L.Get(-1).(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("pipeline function must return a table of stations")
	}

	stations, err := stationsFromTable(tbl)
	if err != nil {
		return nil, err
	}
	if err := validate(stations); err != nil {
		return nil, err
	}
	return stations, nil
}

func openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil)

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	if tbl, ok := L.GetGlobal("math").(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

func stationsFromTable(tbl *lua.LTable) ([]models.Station, error) {
	var stations []models.Station
	var convErr error

	tbl.ForEach(func(_, value lua.LValue) {
		if convErr != nil {
			return
		}
		entry, ok := value.(*lua.LTable)
		if !ok {
			convErr = fmt.Errorf("station %d is not a table", len(stations)+1)
			return
		}

		name := lua.LVAsString(entry.RawGetString("name"))
		label := lua.LVAsString(entry.RawGetString("label"))
		agentName := lua.LVAsString(entry.RawGetString("agent"))

		if name == "" {
			convErr = fmt.Errorf("station %d is missing a name", len(stations)+1)
			return
		}
		agent, ok := validAgents[agentName]
		if !ok {
			convErr = fmt.Errorf("station %q has unknown agent %q", name, agentName)
			return
		}
		if label == "" {
			label = name
		}
		stations = append(stations, models.NewStation(name, label, agent))
	})

	if convErr != nil {
		return nil, convErr
	}
	return stations, nil
}

func validate(stations []models.Station) error {
	if len(stations) == 0 {
		return fmt.Errorf("pipeline has no stations")
	}

	seen := map[string]bool{}
	for _, s := range stations {
		if seen[s.Name] {
			return fmt.Errorf("duplicate station %q", s.Name)
		}
		seen[s.Name] = true
	}

	for _, required := range []string{"build-test", "launch", "done"} {
		if !seen[required] {
			return fmt.Errorf("pipeline must include the %q station", required)
		}
	}
	return nil
}
