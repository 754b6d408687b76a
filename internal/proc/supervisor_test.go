package proc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/foundry/internal/models"
)

// collectSink records emitted events for assertions.
type collectSink struct {
	mu     sync.Mutex
	events []models.TimelineEvent
}

func (c *collectSink) Emit(event models.TimelineEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *collectSink) ofType(t models.EventType) []models.TimelineEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.TimelineEvent
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func TestRunToCompletion_Success(t *testing.T) {
	sup := NewSupervisor(0)
	sink := &collectSink{}

	out, err := sup.RunToCompletion(context.Background(), "echo hello; echo oops >&2", t.TempDir(), models.AgentTester, sink)
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, 0, out.ExitCode)
	assert.Equal(t, "hello", out.Stdout)
	assert.Equal(t, "oops", out.Stderr)

	require.Len(t, sink.ofType(models.EventTerminalStart), 1)
	require.Len(t, sink.ofType(models.EventTerminalEnd), 1)
	outputs := sink.ofType(models.EventTerminalOutput)
	assert.Len(t, outputs, 2)
}

func TestRunToCompletion_Failure(t *testing.T) {
	sup := NewSupervisor(0)
	sink := &collectSink{}

	out, err := sup.RunToCompletion(context.Background(), "echo bad >&2; exit 3", t.TempDir(), models.AgentTester, sink)
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.Equal(t, 3, out.ExitCode)
	assert.Equal(t, "bad", out.Stderr)

	ends := sink.ofType(models.EventTerminalEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, false, ends[0].Metadata["success"])
}

func TestRunToCompletion_ManyLinesBothStreams(t *testing.T) {
	sup := NewSupervisor(0)
	sink := &collectSink{}

	// Enough output on both streams to deadlock a sequential reader.
	cmd := `i=0; while [ $i -lt 500 ]; do echo "out $i"; echo "err $i" >&2; i=$((i+1)); done`
	out, err := sup.RunToCompletion(context.Background(), cmd, t.TempDir(), models.AgentTester, sink)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Len(t, sink.ofType(models.EventTerminalOutput), 1000)
}

func TestRunQuiet(t *testing.T) {
	sup := NewSupervisor(0)

	out, err := sup.RunQuiet(context.Background(), "echo quiet", t.TempDir())
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "quiet\n", out.Stdout)

	out, err = sup.RunQuiet(context.Background(), "exit 7", t.TempDir())
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, 7, out.ExitCode)
}

func TestRunAndMonitor_BecomesReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sup := NewSupervisor(50 * time.Millisecond)
	sink := &collectSink{}

	ready, err := sup.RunAndMonitor(context.Background(), "sleep 5", t.TempDir(), models.AgentDevOps, srv.URL, 3*time.Second, sink)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestRunAndMonitor_404IsNotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	sup := NewSupervisor(50 * time.Millisecond)
	sink := &collectSink{}

	ready, err := sup.RunAndMonitor(context.Background(), "sleep 5", t.TempDir(), models.AgentDevOps, srv.URL, 300*time.Millisecond, sink)
	assert.False(t, ready)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestRunAndMonitor_ExitBeforeReady(t *testing.T) {
	sup := NewSupervisor(50 * time.Millisecond)
	sink := &collectSink{}

	ready, err := sup.RunAndMonitor(context.Background(), "echo dying >&2; exit 1", t.TempDir(), models.AgentDevOps, "http://127.0.0.1:1/health", 2*time.Second, sink)
	assert.False(t, ready)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 1")
}

func TestRunAndMonitor_PortInUseDetected(t *testing.T) {
	sup := NewSupervisor(50 * time.Millisecond)
	sink := &collectSink{}

	cmd := `echo "Web server failed to start. Port 8080 was already in use." >&2; exit 1`
	ready, err := sup.RunAndMonitor(context.Background(), cmd, t.TempDir(), models.AgentDevOps, "http://127.0.0.1:1/health", 2*time.Second, sink)
	assert.False(t, ready)

	var portErr *PortInUseError
	require.ErrorAs(t, err, &portErr)
	assert.Equal(t, 8080, portErr.Port)
}

func TestWaitForReady_Accepts404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	sup := NewSupervisor(20 * time.Millisecond)
	assert.True(t, sup.WaitForReady(context.Background(), srv.URL, time.Second))
}

func TestWaitForReady_TimesOutOnDeadServer(t *testing.T) {
	sup := NewSupervisor(20 * time.Millisecond)
	assert.False(t, sup.WaitForReady(context.Background(), "http://127.0.0.1:1/", 200*time.Millisecond))
}

func TestDetectPortInUse(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  int
	}{
		{"spring", []string{"***************", "Port 8080 was already in use."}, 8080},
		{"node", []string{"Error: listen EADDRINUSE: address already in use :::3000"}, 3000},
		{"generic bind", []string{"bind 0.0.0.0:9090: address already in use"}, 9090},
		{"nothing", []string{"NullPointerException", "at com.example"}, 0},
		{"empty", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detectPortInUse(tt.lines))
		})
	}
}

func TestKillPort_Idempotent(t *testing.T) {
	sup := NewSupervisor(0)
	// Nothing owns this port; both sweeps must be harmless.
	sup.KillPort(context.Background(), 59999)
	sup.KillPort(context.Background(), 59999)
}

func TestRingBuffer_KeepsTail(t *testing.T) {
	r := newRingBuffer(3)
	for _, line := range []string{"a", "b", "c", "d", "e"} {
		r.Push(line)
	}
	assert.Equal(t, []string{"c", "d", "e"}, r.Lines())
}
