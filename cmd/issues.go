package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"redgate/internal/config"
	"redgate/internal/output"
	"redgate/internal/redmine"
)

var (
	issuesProject string
	issuesStatus  string
	issuesLimit   int
)

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "List tracker issues",
	Long:  "List issues straight from the tracker, optionally filtered by project and status.",
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := buildGateway()
		if err != nil {
			return err
		}

		projectID, ok := config.NormalizeProjectID(issuesProject)
		if !ok {
			return fmt.Errorf("unknown project: %s", issuesProject)
		}

		filter := redmine.IssueFilter{ProjectID: projectID, Limit: issuesLimit}
		switch issuesStatus {
		case "open", "closed":
			filter.StatusID = issuesStatus
		case "all":
			filter.StatusID = "*"
		default:
			return fmt.Errorf("status must be open, closed, or all")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		issues, total, err := gw.tracker.ListIssues(ctx, filter)
		if err != nil {
			return err
		}

		table := ui.Table([]string{"ID", "TRACKER", "SUBJECT", "STATUS", "ASSIGNEE", "DONE"})
		for _, is := range issues {
			assignee := is.AssigneeName
			if assignee == "" {
				assignee = "-"
			}
			table.Append([]string{
				strconv.Itoa(is.ID),
				is.TrackerName,
				is.Subject,
				output.StatusColor(is.StatusName),
				assignee,
				output.PercentColor(float64(is.DoneRatio)),
			})
		}
		table.Render()

		if total > len(issues) {
			ui.Info("showing %d of %d issues", len(issues), total)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(issuesCmd)
	issuesCmd.Flags().StringVar(&issuesProject, "project", "", "Project id, slug, or name (empty for all)")
	issuesCmd.Flags().StringVar(&issuesStatus, "status", "open", "Status filter: open, closed, or all")
	issuesCmd.Flags().IntVar(&issuesLimit, "limit", 25, "Maximum issues to list")
}
