package commands

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/prismlabs/prism/internal/audit"
	"github.com/prismlabs/prism/internal/policy"
	"github.com/spf13/cobra"
)

func NewPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage capability policy",
	}

	cmd.AddCommand(
		newPolicyModeCmd(),
		newPolicyStatusCmd(),
		newPolicySetCmd(),
		newPolicyResetCmd(),
	)

	return cmd
}

func newPolicyModeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mode <playground|dev|trusted|prod>",
		Short: "Switch operating mode (clears all overrides)",
		Args:  cobra.ExactArgs(1),
		RunE:  runPolicyMode,
	}
}

func newPolicyStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show mode and the resolved decision table",
		RunE:  runPolicyStatus,
	}
}

func newPolicySetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <capability>=<decision> ...",
		Short: "Override decisions for individual capabilities",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPolicySet,
	}
}

func newPolicyResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear all overrides without changing mode",
		RunE:  runPolicyReset,
	}
}

func runPolicyMode(cmd *cobra.Command, args []string) error {
	mode, ok := policy.ParseMode(args[0])
	if !ok {
		return fmt.Errorf("unknown mode %q (expected playground, dev, trusted or prod)", args[0])
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	app.engine.SetMode(mode)
	appendPolicyAudit(app, "policy.mode_change", "", "")
	fmt.Printf("Policy mode set to %s (overrides cleared).\n", mode)
	return nil
}

func runPolicyStatus(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	snap := app.engine.Snapshot()
	fmt.Printf("Mode: %s\n\n", snap.Mode)
	for _, cap := range policy.Capabilities {
		marker := ""
		if snap.Approvals[cap] != policy.Preset(snap.Mode, cap) {
			marker = "  (override)"
		}
		fmt.Printf("  %-8s %s%s\n", cap, snap.Approvals[cap], marker)
	}
	return nil
}

func runPolicySet(cmd *cobra.Command, args []string) error {
	partial := make(map[policy.Capability]policy.Decision, len(args))
	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found {
			return fmt.Errorf("invalid override %q (expected capability=decision)", arg)
		}
		cap, ok := policy.ParseCapability(key)
		if !ok {
			return fmt.Errorf("unknown capability %q", key)
		}
		decision, ok := policy.ParseDecision(value)
		if !ok {
			return fmt.Errorf("unknown decision %q (expected auto, review or forbid)", value)
		}
		partial[cap] = decision
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	app.engine.UpdateApprovals(partial)
	for cap, decision := range partial {
		appendPolicyAudit(app, "policy.override", string(cap), string(decision))
		fmt.Printf("Override set: %s=%s\n", cap, decision)
	}
	return nil
}

func runPolicyReset(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	app.engine.ResetApprovals()
	appendPolicyAudit(app, "policy.reset", "", "")
	fmt.Println("All overrides cleared.")
	return nil
}

func appendPolicyAudit(app *app, eventType, capability, decision string) {
	if err := app.auditor.Append(audit.Event{
		Type:       eventType,
		Mode:       string(app.engine.Mode()),
		Capability: capability,
		Decision:   decision,
	}); err != nil {
		slog.Warn("audit append failed", "type", eventType, "error", err)
	}
}
