package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/prismlabs/prism/internal/approval"
	"github.com/prismlabs/prism/internal/audit"
	"github.com/prismlabs/prism/internal/bus"
	"github.com/prismlabs/prism/internal/config"
	"github.com/prismlabs/prism/internal/diffapply"
	"github.com/prismlabs/prism/internal/policy"
	"github.com/prismlabs/prism/internal/runner"
)

// app wires the policy/approval/run core for one workspace. Each command
// invocation builds its own instance; nothing is process-global.
type app struct {
	cfg       *config.Config
	workspace string
	events    *bus.Bus
	auditor   *audit.Writer
	engine    *policy.Engine
	queue     *approval.Queue
	runner    *runner.Runner
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	workspace := cfg.WorkspacePath()
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	events := bus.New()
	auditor := audit.NewWriter(workspace)
	engine := policy.NewEngine(policy.NewStore(workspace))
	applier := diffapply.NewApplier(workspace)
	queue := approval.NewQueue(workspace, engine, applier, events, auditor)

	runnerCfg := runner.Config{
		Allow:   cfg.Runner.Allow,
		Timeout: time.Duration(cfg.Runner.Timeout) * time.Second,
	}
	if cfg.Runner.RestrictToWorkspace {
		runnerCfg.WorkDir = workspace
	}

	return &app{
		cfg:       cfg,
		workspace: workspace,
		events:    events,
		auditor:   auditor,
		engine:    engine,
		queue:     queue,
		runner:    runner.New(runnerCfg, events, auditor),
	}, nil
}

func (a *app) close() {
	a.events.Close()
}
