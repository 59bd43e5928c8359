// Package runner spawns allowlisted commands and streams their lifecycle
// as events: run.start, run.out/run.err chunks, and exactly one run.end.
package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mvdan.cc/sh/v3/shell"

	"github.com/prismlabs/prism/internal/audit"
	"github.com/prismlabs/prism/internal/bus"
)

// AllowEnvVar names the environment variable holding a comma-separated
// allowlist of permitted executable names. It tightens or replaces the
// configured allowlist per environment.
const AllowEnvVar = "PRISM_RUN_ALLOW"

const (
	defaultTimeout = 60 * time.Second
	outputChunk    = 4096
)

// Request is one exec submission. Cmd is a single logical command line;
// quoting is respected when it is split into argv.
type Request struct {
	ProjectID string `json:"project_id"`
	SessionID string `json:"session_id"`
	Cmd       string `json:"cmd"`
}

// Config carries runner settings.
type Config struct {
	Allow   []string
	Timeout time.Duration
	WorkDir string
}

// Runner executes commands. Each Run call owns exactly one spawned process
// and reports its lifecycle only through the event bus.
type Runner struct {
	allow   map[string]struct{}
	timeout time.Duration
	workDir string
	events  *bus.Bus
	auditor *audit.Writer

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates a runner. The AllowEnvVar environment variable, when set,
// replaces cfg.Allow so operators can tighten exec per environment without
// touching config. auditor may be nil.
func New(cfg Config, events *bus.Bus, auditor *audit.Writer) *Runner {
	allowNames := cfg.Allow
	if env := strings.TrimSpace(os.Getenv(AllowEnvVar)); env != "" {
		allowNames = strings.Split(env, ",")
	}

	allow := make(map[string]struct{}, len(allowNames))
	for _, name := range allowNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		allow[name] = struct{}{}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Runner{
		allow:   allow,
		timeout: timeout,
		workDir: cfg.WorkDir,
		events:  events,
		auditor: auditor,
		cancels: map[string]context.CancelFunc{},
	}
}

// Run submits a command and returns its run id immediately. The outcome is
// observed on the bus, never as a return value: every submission produces
// run.start followed by exactly one terminal run.end, spawn failures
// included.
func (r *Runner) Run(req Request) string {
	runID := bus.NewRunID()
	go r.execute(req, runID)
	return runID
}

// Kill cancels an in-flight run by id. It reports whether a run was found.
func (r *Runner) Kill(runID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[runID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (r *Runner) execute(req Request, runID string) {
	argv, parseErr := shell.Fields(req.Cmd, nil)

	r.publish(req, runID, bus.Event{Type: bus.EventRunStart, Command: argv})

	if parseErr != nil {
		r.finish(req, runID, bus.Event{Status: bus.RunStatusError, ExitCode: -1, Reason: "parse command: " + parseErr.Error()})
		return
	}
	if len(argv) == 0 {
		r.finish(req, runID, bus.Event{Status: bus.RunStatusError, ExitCode: -1, Reason: "empty command"})
		return
	}

	program := filepath.Base(argv[0])
	if _, ok := r.allow[program]; !ok {
		r.audit(audit.Event{Type: "run.denied", RunID: runID, Detail: program})
		r.finish(req, runID, bus.Event{Status: bus.RunStatusError, ExitCode: -1, Reason: "command not allowlisted: " + program})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	r.track(runID, cancel)
	defer r.untrack(runID)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if r.workDir != "" {
		cmd.Dir = r.workDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.finish(req, runID, bus.Event{Status: bus.RunStatusError, ExitCode: -1, Reason: "stdout pipe: " + err.Error()})
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.finish(req, runID, bus.Event{Status: bus.RunStatusError, ExitCode: -1, Reason: "stderr pipe: " + err.Error()})
		return
	}

	if err := cmd.Start(); err != nil {
		r.finish(req, runID, bus.Event{Status: bus.RunStatusError, ExitCode: -1, Reason: "spawn: " + err.Error()})
		return
	}
	r.audit(audit.Event{Type: "run.spawned", RunID: runID, Detail: strings.Join(argv, " ")})

	var wg sync.WaitGroup
	wg.Add(2)
	go r.stream(req, runID, bus.EventRunOut, stdout, &wg)
	go r.stream(req, runID, bus.EventRunErr, stderr, &wg)
	wg.Wait()

	waitErr := cmd.Wait()
	end := bus.Event{Status: bus.RunStatusOK}
	if waitErr != nil {
		end.Status = bus.RunStatusError
		end.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			end.ExitCode = exitErr.ExitCode()
		}
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			end.Reason = "timeout"
		case errors.Is(ctx.Err(), context.Canceled):
			end.Reason = "killed"
		default:
			end.Reason = waitErr.Error()
		}
	}
	r.finish(req, runID, end)
}

// stream forwards one output pipe chunk by chunk as it arrives. One
// goroutine per stream keeps per-stream ordering; interleaving between
// stdout and stderr is not guaranteed.
func (r *Runner) stream(req Request, runID string, eventType bus.EventType, pipe io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()

	buf := make([]byte, outputChunk)
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			r.publish(req, runID, bus.Event{Type: eventType, Data: string(buf[:n])})
		}
		if err != nil {
			if err != io.EOF {
				slog.Debug("run output stream closed", "run_id", runID, "stream", eventType, "error", err)
			}
			return
		}
	}
}

func (r *Runner) finish(req Request, runID string, end bus.Event) {
	end.Type = bus.EventRunEnd
	r.publish(req, runID, end)
}

func (r *Runner) publish(req Request, runID string, ev bus.Event) {
	ev.ProjectID = req.ProjectID
	ev.SessionID = req.SessionID
	ev.RunID = runID
	if r.events != nil {
		r.events.Publish(ev)
	}
}

func (r *Runner) track(runID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[runID] = cancel
}

func (r *Runner) untrack(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, runID)
}

func (r *Runner) audit(event audit.Event) {
	if r.auditor == nil {
		return
	}
	if err := r.auditor.Append(event); err != nil {
		slog.Warn("audit append failed", "type", event.Type, "run_id", event.RunID, "error", err)
	}
}
