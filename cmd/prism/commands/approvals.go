package commands

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/prismlabs/prism/internal/approval"
	"github.com/spf13/cobra"
)

func NewApprovalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Manage pending approval requests",
	}

	cmd.AddCommand(
		newApprovalsListCmd(),
		newApprovalsApproveCmd(),
		newApprovalsRejectCmd(),
	)

	return cmd
}

func newApprovalsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approval requests",
		RunE:  runApprovalsList,
	}
	cmd.Flags().String("status", "pending", "Filter by status (pending|approved|applied|rejected|failed, empty for all)")
	return cmd
}

func newApprovalsApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a pending request and apply its diffs",
		Args:  cobra.ExactArgs(1),
		RunE:  runApprovalsApprove,
	}
	cmd.Flags().String("by", "", "Decision maker")
	cmd.Flags().String("note", "", "Decision note")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func newApprovalsRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a pending request",
		Args:  cobra.ExactArgs(1),
		RunE:  runApprovalsReject,
	}
	cmd.Flags().String("by", "", "Decision maker")
	cmd.Flags().String("reason", "", "Rejection reason")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func runApprovalsList(cmd *cobra.Command, args []string) error {
	statusRaw, _ := cmd.Flags().GetString("status")

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	requests, err := app.queue.List(approval.RequestStatus(strings.TrimSpace(statusRaw)))
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		fmt.Println("No approval requests.")
		return nil
	}

	var (
		headerStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#FAFAFA")).
				Background(lipgloss.Color("#8E4EC6")).
				Padding(0, 1).
				MarginBottom(1)

		wID      = 6
		wStatus  = 10
		wFiles   = 7
		wCreated = 22

		colHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#8E4EC6")).
				Bold(true).
				MarginRight(1)

		idStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(wID).
			MarginRight(1)

		statusStyle = lipgloss.NewStyle().
				Width(wStatus).
				MarginRight(1)

		filesStyle = lipgloss.NewStyle().
				Width(wFiles).
				MarginRight(1)

		createdStyle = lipgloss.NewStyle().
				Width(wCreated).
				MarginRight(1)
	)

	fmt.Println(headerStyle.Render("Approval Requests"))
	fmt.Printf("%s%s%s%s%s\n",
		colHeaderStyle.Width(wID+1).Render("ID"),
		colHeaderStyle.Width(wStatus+1).Render("STATUS"),
		colHeaderStyle.Width(wFiles+1).Render("FILES"),
		colHeaderStyle.Width(wCreated+1).Render("CREATED"),
		colHeaderStyle.Render("MESSAGE"),
	)

	for _, req := range requests {
		fmt.Printf("%s%s%s%s%s\n",
			idStyle.Render(req.ID),
			statusStyle.Render(string(req.Status)),
			filesStyle.Render(fmt.Sprintf("%d", len(req.Diffs))),
			createdStyle.Render(req.CreatedAt.Local().Format("2006-01-02 15:04:05")),
			req.Message,
		)
	}
	return nil
}

func runApprovalsApprove(cmd *cobra.Command, args []string) error {
	by, _ := cmd.Flags().GetString("by")
	note, _ := cmd.Flags().GetString("note")

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	req, err := app.queue.Approve(args[0], approval.DecisionInput{DecidedBy: by, Note: note})
	if err != nil {
		return err
	}
	fmt.Printf("Request %s approved and applied (%d file(s)).\n", req.ID, len(req.Diffs))
	return nil
}

func runApprovalsReject(cmd *cobra.Command, args []string) error {
	by, _ := cmd.Flags().GetString("by")
	reason, _ := cmd.Flags().GetString("reason")

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	req, err := app.queue.Reject(args[0], approval.DecisionInput{DecidedBy: by, Note: reason})
	if err != nil {
		return err
	}
	fmt.Printf("Request %s rejected.\n", req.ID)
	return nil
}
