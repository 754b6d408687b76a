package classify

import (
	"regexp"
	"strconv"
	"strings"
)

// Classify maps an error message onto an ErrorType. Rules are ordered;
// the first match wins. Port conflicts outrank everything since they
// are the most common and the cheapest to fix.
func Classify(msg string) ErrorType {
	lower := strings.ToLower(msg)

	if (strings.Contains(lower, "port") && (strings.Contains(lower, "in use") || strings.Contains(lower, "already"))) ||
		strings.Contains(lower, "address already in use") ||
		strings.Contains(lower, "eaddrinuse") ||
		(strings.Contains(lower, "bind") && strings.Contains(lower, "address")) {
		port := ExtractPort(msg)
		if port == 0 {
			port = 8080
		}
		return PortInUse{Port: port, Message: msg}
	}

	if strings.Contains(lower, "compile") || strings.Contains(lower, "build failed") ||
		strings.Contains(lower, "syntax error") || strings.Contains(lower, "cannot find symbol") ||
		strings.Contains(lower, "compilation") || strings.Contains(lower, "build failure") ||
		strings.Contains(lower, "non-zero exit") ||
		(strings.Contains(lower, "error:") && strings.Contains(lower, ".java")) {
		file, line := ExtractFileLine(msg)
		return BuildError{Message: msg, File: file, Line: line}
	}

	// Missing paths read as build errors: the usual cause is a damaged
	// scaffold that the build fix path can regenerate.
	if strings.Contains(lower, "directory") ||
		strings.Contains(lower, "os error 2") || strings.Contains(lower, "os error 3") ||
		(strings.Contains(lower, "not found") && !strings.Contains(lower, "test")) ||
		strings.Contains(lower, "invalid path") || strings.Contains(lower, "no such file") {
		return BuildError{Message: "Directory/path issue: " + msg}
	}

	if strings.Contains(lower, "test failed") || strings.Contains(lower, "assertion") ||
		(strings.Contains(lower, "expected") && strings.Contains(lower, "but")) ||
		strings.Contains(lower, "junit") || strings.Contains(lower, "pytest") ||
		(strings.Contains(lower, "tests run:") && strings.Contains(lower, "failures:")) {
		return TestFailure{TestName: ExtractTestName(msg), Message: msg}
	}

	if strings.Contains(lower, "dependency") || strings.Contains(lower, "could not resolve") ||
		strings.Contains(lower, "package not found") || strings.Contains(lower, "module not found") ||
		strings.Contains(lower, "no such module") || strings.Contains(lower, "unresolved import") ||
		(strings.Contains(lower, "artifact") && strings.Contains(lower, "not found")) {
		return DependencyError{Package: ExtractPackage(msg), Message: msg}
	}

	if strings.Contains(lower, "configuration") || strings.Contains(lower, "properties") ||
		strings.Contains(lower, "application.yml") || strings.Contains(lower, "application.properties") ||
		(strings.Contains(lower, "env") && strings.Contains(lower, "missing")) ||
		strings.Contains(lower, "profile") ||
		(strings.Contains(lower, "config") && strings.Contains(lower, "error")) {
		return ConfigError{Message: msg}
	}

	if strings.Contains(lower, "connection refused") || strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "exception") || strings.Contains(lower, "stacktrace") ||
		strings.Contains(lower, "not running") || strings.Contains(lower, "won't start") ||
		strings.Contains(lower, "crash") || strings.Contains(lower, "killed") ||
		strings.Contains(lower, "out of memory") || strings.Contains(lower, "java.lang") {
		return RuntimeError{Message: msg}
	}

	return Unknown{Message: msg}
}

// ClassifyBuild classifies failed build output. Dependency and syntax
// signatures are checked before the generic fallthrough so the right
// specialist gets the first attempt.
func ClassifyBuild(output, dir string, scaffoldOK bool) ErrorType {
	lower := strings.ToLower(output)

	if strings.Contains(lower, "could not resolve") || strings.Contains(lower, "cannot find module") ||
		strings.Contains(lower, "module not found") || strings.Contains(lower, "no such file or directory") ||
		strings.Contains(lower, "enoent") || strings.Contains(lower, "package not found") {
		return DependencyError{Package: guessPackageFromLines(output), Message: firstLines(output, 3)}
	}

	if strings.Contains(lower, "syntax error") || strings.Contains(lower, "unexpected token") ||
		strings.Contains(lower, "compilation failed") || strings.Contains(lower, "cannot compile") ||
		strings.Contains(lower, "error:") || strings.Contains(lower, "[error]") {
		file, line := ExtractLocation(output)
		return BuildError{Message: firstLines(output, 5), File: file, Line: line}
	}

	if strings.Contains(lower, "invalid configuration") || strings.Contains(lower, "config error") ||
		strings.Contains(lower, "missing property") || strings.Contains(lower, "invalid value") {
		return ConfigError{Message: firstLines(output, 3)}
	}

	if !scaffoldOK {
		return BuildError{Message: "Project structure appears damaged or incomplete"}
	}

	return BuildError{Message: firstLines(output, 5)}
}

// ClassifyTest classifies failed test output.
func ClassifyTest(output string) ErrorType {
	lower := strings.ToLower(output)

	if strings.Contains(lower, "assertion") || strings.Contains(lower, "expected") || strings.Contains(lower, "actual") {
		var testName string
		for _, line := range strings.Split(output, "\n") {
			l := strings.ToLower(line)
			if strings.Contains(l, "test") && (strings.Contains(l, "failed") || strings.Contains(l, "error")) {
				testName = strings.TrimSpace(line)
				break
			}
		}
		return TestFailure{TestName: testName, Message: firstLines(output, 5)}
	}

	if strings.Contains(lower, "runtime") || strings.Contains(lower, "exception") || strings.Contains(lower, "null") {
		return RuntimeError{Message: firstLines(output, 5)}
	}

	if strings.Contains(lower, "module not found") || strings.Contains(lower, "cannot find") {
		return DependencyError{Message: firstLines(output, 3)}
	}

	return TestFailure{Message: firstLines(output, 5)}
}

var portPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[Pp]ort\s+(\d+)`),
	regexp.MustCompile(`:(\d{4,5})\b`),
	regexp.MustCompile(`(\d{4,5})\s+(?:is\s+)?(?:already\s+)?in\s+use`),
}

// ExtractPort recovers a port number from an error message, 0 if none.
// Ports below 1024 are rejected as likely line numbers or false hits.
func ExtractPort(msg string) int {
	for _, re := range portPatterns {
		if m := re.FindStringSubmatch(msg); m != nil {
			port, err := strconv.Atoi(m[1])
			if err == nil && port >= 1024 && port <= 65535 {
				return port
			}
		}
	}
	return 0
}

var fileRe = regexp.MustCompile(`([A-Za-z0-9_]+\.[a-z]+)(?::(\d+))?`)

// ExtractFileLine recovers a file name and optional line number.
func ExtractFileLine(msg string) (string, int) {
	m := fileRe.FindStringSubmatch(msg)
	if m == nil {
		return "", 0
	}
	line := 0
	if m[2] != "" {
		line, _ = strconv.Atoi(m[2])
	}
	return m[1], line
}

var testNameRe = regexp.MustCompile(`test[A-Za-z0-9_]+`)

// ExtractTestName recovers a test method name, empty if none.
func ExtractTestName(msg string) string {
	return testNameRe.FindString(msg)
}

var packagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`package '([^']+)'`),
	regexp.MustCompile(`module '([^']+)'`),
	regexp.MustCompile(`dependency '([^']+)'`),
}

// ExtractPackage recovers a package name, empty if none.
func ExtractPackage(msg string) string {
	for _, re := range packagePatterns {
		if m := re.FindStringSubmatch(msg); m != nil {
			return m[1]
		}
	}
	return ""
}

// ExtractLocation scans output for a file:line prefix on any line.
func ExtractLocation(output string) (string, int) {
	for _, line := range strings.Split(output, "\n") {
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		file := line[:idx]
		if !strings.Contains(file, ".") || strings.Contains(file, " ") {
			continue
		}
		rest := line[idx+1:]
		numStr, _, _ := strings.Cut(rest, ":")
		if num, err := strconv.Atoi(strings.TrimSpace(numStr)); err == nil {
			return file, num
		}
	}
	return "", 0
}

func guessPackageFromLines(output string) string {
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "module") || strings.Contains(line, "package") {
			fields := strings.Fields(line)
			if len(fields) > 0 {
				return strings.Trim(fields[len(fields)-1], `'"`)
			}
		}
	}
	return ""
}

func firstLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

// ErrorPreview pulls up to ten error-looking lines from command output
// for the timeline, falling back to the first five lines.
func ErrorPreview(output string, extraKeywords ...string) string {
	keywords := append([]string{"error", "[error]", "failed", "cannot find", "not found", "missing"}, extraKeywords...)
	var picked []string
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				picked = append(picked, line)
				break
			}
		}
		if len(picked) == 10 {
			break
		}
	}
	if len(picked) == 0 {
		return firstLines(output, 5)
	}
	return strings.Join(picked, "\n")
}
