// Package project detects the kind of a generated application from the
// files on disk and maps each kind to its build, test, clean, install
// and launch commands. Detection always wins over the proposal's
// template id, since the scaffold on disk is what actually runs.
package project

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mpataki/foundry/internal/models"
)

// Commands are the one-shot commands for a project kind. Empty string
// means the phase is skipped.
type Commands struct {
	Build   string
	Test    string
	Clean   string
	Install string
}

// LaunchInfo is how a project kind is started and where it answers.
type LaunchInfo struct {
	Command string
	URLs    []models.UrlInfo
}

func exists(dir string, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

func hasCsproj(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".csproj") {
			return true
		}
	}
	return false
}

// mavenCmd prefers the project's wrapper over a global mvn.
func mavenCmd(dir string) string {
	if exists(dir, "mvnw") {
		return "./mvnw"
	}
	return "mvn"
}

// DetectKind inspects the files in dir and returns the project kind,
// or "unknown" when nothing recognizable is present.
func DetectKind(dir string) string {
	hasPom := exists(dir, "pom.xml")
	hasMvnw := exists(dir, "mvnw")
	hasFrontend := exists(dir, "frontend")

	if hasPom || hasMvnw {
		quarkus := false
		if data, err := os.ReadFile(filepath.Join(dir, "pom.xml")); err == nil {
			quarkus = strings.Contains(string(data), "quarkus")
		}
		switch {
		case hasFrontend && quarkus:
			return "fullstack-quarkus"
		case hasFrontend:
			return "fullstack-spring"
		case quarkus:
			return "java-quarkus"
		default:
			return "java-springboot"
		}
	}
	if exists(dir, "requirements.txt") || exists(dir, "main.py") {
		return "python-fastapi"
	}
	if hasCsproj(dir) {
		return "dotnet"
	}
	if exists(dir, "package.json") {
		data, err := os.ReadFile(filepath.Join(dir, "package.json"))
		if err == nil {
			pkg := string(data)
			switch {
			case strings.Contains(pkg, `"react"`):
				return "frontend-react"
			case strings.Contains(pkg, `"@angular/core"`):
				return "frontend-angular"
			}
		}
		return "frontend-vue"
	}
	return "unknown"
}

// EffectiveKind resolves the kind to use for commands: what is on disk
// if recognizable, else the proposal's template id.
func EffectiveKind(template, dir string) string {
	if detected := DetectKind(dir); detected != "unknown" {
		return detected
	}
	return template
}

// CommandsFor returns the command set for a template in dir.
func CommandsFor(template, dir string) Commands {
	kind := EffectiveKind(template, dir)
	mvn := mavenCmd(dir)

	switch {
	case strings.Contains(kind, "fullstack"):
		c := Commands{
			Build:   mvn + " compile -DskipTests",
			Test:    mvn + " test",
			Clean:   mvn + " clean && cd frontend && rm -rf node_modules && npm install",
			Install: mvn + " dependency:resolve && cd frontend && npm install",
		}
		if exists(dir, "frontend") {
			c.Build += " && cd frontend && npm install"
		}
		return c
	case strings.Contains(kind, "java"), strings.Contains(kind, "spring"), strings.Contains(kind, "quarkus"):
		return Commands{
			Build:   mvn + " compile -DskipTests",
			Test:    mvn + " test",
			Clean:   mvn + " clean",
			Install: mvn + " dependency:resolve",
		}
	case strings.Contains(kind, "python"), strings.Contains(kind, "fastapi"):
		return Commands{
			Build:   "pip install -r requirements.txt",
			Test:    "pytest",
			Clean:   "pip install -r requirements.txt --force-reinstall",
			Install: "pip install -r requirements.txt",
		}
	case strings.Contains(kind, "dotnet"):
		return Commands{
			Build:   "dotnet build",
			Test:    "dotnet test",
			Clean:   "dotnet clean",
			Install: "dotnet restore",
		}
	case strings.Contains(kind, "vue"), strings.Contains(kind, "angular"), strings.Contains(kind, "react"):
		if !exists(dir, "package.json") {
			return Commands{}
		}
		return Commands{
			Build:   "npm install",
			Test:    "npm test",
			Clean:   "rm -rf node_modules && npm install",
			Install: "npm install",
		}
	default:
		return Commands{}
	}
}

// LaunchFor returns the launch command and URL set for a template in dir.
func LaunchFor(template, dir string) LaunchInfo {
	kind := EffectiveKind(template, dir)
	mvn := mavenCmd(dir)

	switch {
	case strings.Contains(kind, "fullstack") && strings.Contains(kind, "quarkus"):
		return LaunchInfo{
			Command: mvn + " quarkus:dev",
			URLs: []models.UrlInfo{
				{Name: "API", URL: "http://localhost:8080"},
				{Name: "Dev UI", URL: "http://localhost:8080/q/dev"},
				{Name: "Frontend", URL: "http://localhost:5173"},
			},
		}
	case strings.Contains(kind, "fullstack"):
		return LaunchInfo{
			Command: mvn + " spring-boot:run",
			URLs: []models.UrlInfo{
				{Name: "API", URL: "http://localhost:8080"},
				{Name: "Health", URL: "http://localhost:8080/actuator/health"},
				{Name: "Frontend", URL: "http://localhost:5173"},
			},
		}
	case strings.Contains(kind, "quarkus"):
		return LaunchInfo{
			Command: mvn + " quarkus:dev",
			URLs: []models.UrlInfo{
				{Name: "API", URL: "http://localhost:8080"},
				{Name: "Dev UI", URL: "http://localhost:8080/q/dev"},
			},
		}
	case strings.Contains(kind, "java"), strings.Contains(kind, "spring"):
		return LaunchInfo{
			Command: mvn + " spring-boot:run",
			URLs: []models.UrlInfo{
				{Name: "API", URL: "http://localhost:8080"},
				{Name: "Health", URL: "http://localhost:8080/actuator/health"},
			},
		}
	case strings.Contains(kind, "python"), strings.Contains(kind, "fastapi"):
		return LaunchInfo{
			Command: "uvicorn main:app --reload",
			URLs: []models.UrlInfo{
				{Name: "API", URL: "http://localhost:8000"},
				{Name: "Docs", URL: "http://localhost:8000/docs"},
			},
		}
	case strings.Contains(kind, "dotnet"):
		return LaunchInfo{
			Command: "dotnet run",
			URLs:    []models.UrlInfo{{Name: "API", URL: "http://localhost:5000"}},
		}
	case strings.Contains(kind, "vue"), strings.Contains(kind, "angular"), strings.Contains(kind, "react"):
		if !exists(dir, "package.json") {
			return LaunchInfo{}
		}
		return LaunchInfo{
			Command: "npm run dev",
			URLs:    []models.UrlInfo{{Name: "Frontend", URL: "http://localhost:5173"}},
		}
	default:
		return LaunchInfo{}
	}
}

// RunAndTestCommands returns the commands shown to the user in the
// ready summary.
func RunAndTestCommands(template, dir string) (run []string, test []string) {
	kind := EffectiveKind(template, dir)
	mvn := mavenCmd(dir)

	switch {
	case strings.Contains(kind, "fullstack") && strings.Contains(kind, "quarkus"):
		return []string{mvn + " quarkus:dev", "cd frontend && npm run dev"},
			[]string{mvn + " test", "cd frontend && npm test"}
	case strings.Contains(kind, "fullstack"):
		return []string{mvn + " spring-boot:run", "cd frontend && npm run dev"},
			[]string{mvn + " test", "cd frontend && npm test"}
	case strings.Contains(kind, "quarkus"):
		return []string{mvn + " quarkus:dev"}, []string{mvn + " test"}
	case strings.Contains(kind, "java"), strings.Contains(kind, "spring"):
		return []string{mvn + " spring-boot:run"}, []string{mvn + " test"}
	case strings.Contains(kind, "python"), strings.Contains(kind, "fastapi"):
		return []string{"uvicorn main:app --reload"}, []string{"pytest"}
	case strings.Contains(kind, "dotnet"):
		return []string{"dotnet run"}, []string{"dotnet test"}
	case strings.Contains(kind, "vue"), strings.Contains(kind, "angular"), strings.Contains(kind, "react"):
		if !exists(dir, "package.json") {
			return nil, nil
		}
		return []string{"npm run dev"}, []string{"npm test"}
	default:
		return nil, nil
	}
}

// ScaffoldComplete reports whether dir holds a recognizable project
// manifest, not just an empty or partially written tree.
func ScaffoldComplete(dir string) bool {
	if _, err := os.Stat(dir); err != nil {
		return false
	}
	return exists(dir, "pom.xml") ||
		exists(dir, "build.gradle") || exists(dir, "build.gradle.kts") ||
		exists(dir, "package.json") ||
		exists(dir, "Cargo.toml") ||
		exists(dir, "requirements.txt") || exists(dir, "pyproject.toml") ||
		hasCsproj(dir)
}

// RequiredFiles returns template-required paths missing from dir.
func RequiredFiles(template, dir string) []string {
	var required []string
	switch {
	case strings.Contains(template, "fullstack"):
		required = []string{"pom.xml", "src/main/java", "frontend/package.json", "frontend/src"}
	case strings.Contains(template, "java"), strings.Contains(template, "spring"), strings.Contains(template, "quarkus"):
		required = []string{"pom.xml", "src/main/java"}
	case strings.Contains(template, "python"), strings.Contains(template, "fastapi"):
		required = []string{"requirements.txt", "main.py"}
	case strings.Contains(template, "dotnet"):
		required = []string{"Program.cs"}
	case strings.Contains(template, "vue"), strings.Contains(template, "angular"), strings.Contains(template, "react"):
		required = []string{"package.json", "src"}
	}

	var missing []string
	for _, f := range required {
		if !exists(dir, f) {
			missing = append(missing, f)
		}
	}
	return missing
}
