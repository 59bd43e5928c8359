package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/prismlabs/prism/internal/bus"
	"github.com/prismlabs/prism/internal/policy"
	"github.com/prismlabs/prism/internal/runner"
	"github.com/spf13/cobra"
)

// NewRunCmd creates the run command
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <command...>",
		Short: "Run a command through the policy gate and stream its output",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRun,
	}
	cmd.Flags().String("project", "local", "Project id attached to run events")
	cmd.Flags().String("session", "cli", "Session id attached to run events")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	project, _ := cmd.Flags().GetString("project")
	session, _ := cmd.Flags().GetString("session")

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	switch app.engine.Check(policy.CapabilityExec) {
	case policy.DecisionForbid:
		return fmt.Errorf("exec capability is forbidden under mode %s", app.engine.Mode())
	case policy.DecisionReview:
		return fmt.Errorf("exec capability requires approval under mode %s", app.engine.Mode())
	}

	events, cancel := app.events.Subscribe()
	defer cancel()

	runID := app.runner.Run(runner.Request{
		ProjectID: project,
		SessionID: session,
		Cmd:       strings.Join(args, " "),
	})

	for ev := range events {
		if ev.RunID != runID {
			continue
		}
		switch ev.Type {
		case bus.EventRunOut:
			fmt.Fprint(os.Stdout, ev.Data)
		case bus.EventRunErr:
			fmt.Fprint(os.Stderr, ev.Data)
		case bus.EventRunEnd:
			if ev.Status != bus.RunStatusOK {
				if ev.Reason != "" {
					return fmt.Errorf("run failed: %s (exit %d)", ev.Reason, ev.ExitCode)
				}
				return fmt.Errorf("run failed with exit code %d", ev.ExitCode)
			}
			return nil
		}
	}
	return fmt.Errorf("event stream closed before run.end")
}
