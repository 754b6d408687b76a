// Package proc supervises the child processes the pipeline runs: the
// one-shot build/test/clean commands and the monitored application
// launch. Both output streams are always drained concurrently; reading
// one to EOF before the other deadlocks once the blocked stream's pipe
// buffer fills.
package proc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mpataki/foundry/internal/models"
)

// Sink receives timeline events produced while supervising a process.
// Appends are best-effort; a failed append never fails the command.
type Sink interface {
	Emit(event models.TimelineEvent)
}

// Output is the result of a one-shot command.
type Output struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
}

// PortInUseError is the distinguished launch failure for a port
// conflict detected in the child's stderr, so callers can skip
// reclassification.
type PortInUseError struct {
	Port int
}

func (e *PortInUseError) Error() string {
	return fmt.Sprintf("port %d already in use", e.Port)
}

// Supervisor runs shell commands with stream capture, health polling
// and port reclamation.
type Supervisor struct {
	// HealthPollInterval is the delay between health probes.
	HealthPollInterval time.Duration

	client *http.Client
}

func NewSupervisor(pollInterval time.Duration) *Supervisor {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Supervisor{
		HealthPollInterval: pollInterval,
		client:             &http.Client{Timeout: 2 * time.Second},
	}
}

func shellCommand(ctx context.Context, cmd, dir string) *exec.Cmd {
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	c.Dir = dir
	// Own process group, so a kill takes the whole tree.
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return c
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// RunToCompletion runs a one-shot command, streaming every output line
// into the sink as terminal events. Used for build, test and clean
// commands.
func (s *Supervisor) RunToCompletion(ctx context.Context, cmd, dir string, actor models.Agent, sink Sink) (Output, error) {
	sink.Emit(models.TerminalStartEvent(actor, cmd, dir))

	c := shellCommand(ctx, cmd, dir)
	stdout, err := c.StdoutPipe()
	if err != nil {
		return Output{}, err
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return Output{}, err
	}
	if err := c.Start(); err != nil {
		return Output{}, err
	}

	var stdoutLines, stderrLines []string
	g := new(errgroup.Group)
	g.Go(func() error {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := scanner.Text()
			sink.Emit(models.TerminalOutputEvent(actor, line, false))
			stdoutLines = append(stdoutLines, line)
		}
		return scanner.Err()
	})
	g.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()
			sink.Emit(models.TerminalOutputEvent(actor, line, true))
			stderrLines = append(stderrLines, line)
		}
		return scanner.Err()
	})
	drainErr := g.Wait()

	waitErr := c.Wait()
	out := Output{
		Success:  waitErr == nil,
		ExitCode: 0,
		Stdout:   strings.Join(stdoutLines, "\n"),
		Stderr:   strings.Join(stderrLines, "\n"),
	}
	if waitErr != nil {
		out.ExitCode = exitCode(waitErr)
	}
	sink.Emit(models.TerminalEndEvent(actor, out.ExitCode, out.Success))

	if drainErr != nil {
		return out, drainErr
	}
	return out, nil
}

// RunQuiet runs a one-shot command without emitting events. Used by
// fix handlers for cleanup commands whose output is noise.
func (s *Supervisor) RunQuiet(ctx context.Context, cmd, dir string) (Output, error) {
	c := shellCommand(ctx, cmd, dir)
	var stdout, stderr strings.Builder
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	out := Output{
		Success: err == nil,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}
	if err != nil {
		out.ExitCode = exitCode(err)
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return out, err
		}
	}
	return out, nil
}

// RunAndMonitor launches cmd and watches it until it becomes ready,
// exits, or times out. Readiness means a 2xx from healthURL; a 404 is
// a running server answering the wrong path and does not count. On
// success the process is left running. On exit before readiness the
// buffered stderr tail is scanned for a port conflict so the caller
// gets a PortInUseError instead of a generic failure.
func (s *Supervisor) RunAndMonitor(ctx context.Context, cmd, dir string, actor models.Agent, healthURL string, timeout time.Duration, sink Sink) (bool, error) {
	sink.Emit(models.TerminalStartEvent(actor, cmd, dir))

	c := shellCommand(ctx, cmd, dir)
	stdout, err := c.StdoutPipe()
	if err != nil {
		return false, err
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return false, err
	}
	if err := c.Start(); err != nil {
		return false, err
	}

	sink.Emit(models.InfoEvent(actor, fmt.Sprintf("Process started (PID: %d), waiting for application...", c.Process.Pid)))

	stderrTail := newRingBuffer(100)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			sink.Emit(models.TerminalOutputEvent(actor, scanner.Text(), false))
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()
			stderrTail.Push(line)
			sink.Emit(models.TerminalOutputEvent(actor, line, true))
		}
	}()

	// Wait only after both drains hit EOF; Wait closes the pipes.
	waitCh := make(chan error, 1)
	go func() {
		wg.Wait()
		waitCh <- c.Wait()
	}()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(s.HealthPollInterval)
	defer ticker.Stop()

	for {
		select {
		case waitErr := <-waitCh:
			success := waitErr == nil
			code := 0
			if waitErr != nil {
				code = exitCode(waitErr)
			}
			sink.Emit(models.TerminalEndEvent(actor, code, success))
			if !success {
				if port := detectPortInUse(stderrTail.Lines()); port != 0 {
					return false, &PortInUseError{Port: port}
				}
				return false, fmt.Errorf("process exited with code %d", code)
			}
			// Clean exit without readiness: the app is not running.
			return false, nil

		case <-ticker.C:
			if healthURL != "" && s.probe(ctx, healthURL) {
				// Ready. Leave the process running; reap it whenever
				// it eventually exits so it does not linger as a
				// zombie.
				go func() {
					if err := <-waitCh; err != nil {
						sink.Emit(models.TerminalEndEvent(actor, exitCode(err), false))
					} else {
						sink.Emit(models.TerminalEndEvent(actor, 0, true))
					}
				}()
				return true, nil
			}
			if time.Now().After(deadline) {
				syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
				<-waitCh
				sink.Emit(models.TerminalEndEvent(actor, -1, false))
				return false, errors.New("timeout waiting for application to become ready")
			}

		case <-ctx.Done():
			syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
			<-waitCh
			sink.Emit(models.TerminalEndEvent(actor, -1, false))
			return false, ctx.Err()
		}
	}
}

// probe is the strict readiness check: only 2xx counts.
func (s *Supervisor) probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// WaitForReady polls url until the server answers at all. Unlike the
// launch readiness probe, a 404 counts: the server is up, the path is
// just wrong. This is the looser liveness check used between build
// retries.
func (s *Supervisor) WaitForReady(ctx context.Context, url string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false
		}
		resp, err := s.client.Do(req)
		if err == nil {
			code := resp.StatusCode
			resp.Body.Close()
			if (code >= 200 && code < 300) || code == 404 {
				return true
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.HealthPollInterval):
		}
	}
	return false
}

// KillPort terminates whatever owns the port, best effort and safe to
// repeat. The settle delay matters: socket teardown is not
// instantaneous and an immediate rebind can still fail.
func (s *Supervisor) KillPort(ctx context.Context, port int) {
	cmd := fmt.Sprintf("lsof -ti:%d | xargs kill -9 2>/dev/null || true", port)
	s.RunQuiet(ctx, cmd, "")
	time.Sleep(500 * time.Millisecond)
}

var portInUsePatterns = []*regexp.Regexp{
	// JVM
	regexp.MustCompile(`port (\d+) was already in use`),
	regexp.MustCompile(`port (\d+) .*in use`),
	regexp.MustCompile(`bind.*:(\d+).*address already in use`),
	regexp.MustCompile(`address already in use.*:(\d+)`),
	// Node
	regexp.MustCompile(`eaddrinuse.*:(\d+)`),
	regexp.MustCompile(`port (\d+) is already in use`),
	// Generic
	regexp.MustCompile(`listen.*:(\d+).*address already in use`),
	regexp.MustCompile(`(\d+).*address already in use`),
}

func detectPortInUse(lines []string) int {
	for _, line := range lines {
		lower := strings.ToLower(line)
		for _, re := range portInUsePatterns {
			if m := re.FindStringSubmatch(lower); m != nil {
				if port, err := strconv.Atoi(m[1]); err == nil && port > 0 && port <= 65535 {
					return port
				}
			}
		}
	}
	return 0
}

// ringBuffer keeps the last n lines of stderr for post-exit analysis.
type ringBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newRingBuffer(max int) *ringBuffer {
	return &ringBuffer{max: max}
}

func (r *ringBuffer) Push(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.max {
		r.lines = r.lines[1:]
	}
}

func (r *ringBuffer) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}
