package commands

import (
	"github.com/prismlabs/prism/internal/config"
	"github.com/spf13/cobra"
)

var logLevelOverride string

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prism",
		Short: "Prism - capability policy and approval engine",
		Long:  `Prism gates workspace actions behind a capability policy, queues risky changes for approval, and runs approved commands under supervision.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return configureLogger(cfg, logLevelOverride)
		},
	}

	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		NewServeCmd(),
		NewPolicyCmd(),
		NewApprovalsCmd(),
		NewRunCmd(),
		NewVersionCmd(),
	)

	return cmd
}
