package analytics

import (
	"context"

	"redgate/internal/config"
	"redgate/internal/redmine"
)

// Counter is the limit=1 counting surface of the tracker client.
type Counter interface {
	CountIssues(ctx context.Context, f redmine.IssueFilter) (int, error)
}

// Direct computes exact live counts straight from the tracker, bypassing
// the snapshot and its row cap.
type Direct struct {
	counter Counter
}

// NewDirect wraps a tracker counter.
func NewDirect(counter Counter) *Direct {
	return &Direct{counter: counter}
}

// DirectBugMetrics is the numeric block of a direct bug count.
type DirectBugMetrics struct {
	OpenBugs    int    `json:"open_bugs"`
	ClosedBugs  int    `json:"closed_bugs"`
	TotalBugs   int    `json:"total_bugs"`
	ProjectID   int    `json:"project_id,omitempty"`
	ProjectName string `json:"project_name,omitempty"`
}

// DirectBugResult is the direct bug-count payload.
type DirectBugResult struct {
	Success    bool             `json:"success"`
	BugMetrics DirectBugMetrics `json:"bug_metrics"`
	Live       bool             `json:"live"`
}

// BugCount returns exact open/closed/total bug counts from the tracker.
// projectName is echoed back when the caller identified the project by
// name rather than id.
func (d *Direct) BugCount(ctx context.Context, projectID int, projectName string) (DirectBugResult, error) {
	base := redmine.IssueFilter{ProjectID: projectID, TrackerID: config.TrackerMap["bug"]}

	openFilter := base
	openFilter.StatusID = "open"
	open, err := d.counter.CountIssues(ctx, openFilter)
	if err != nil {
		return DirectBugResult{}, err
	}

	allFilter := base
	allFilter.StatusID = "*"
	total, err := d.counter.CountIssues(ctx, allFilter)
	if err != nil {
		return DirectBugResult{}, err
	}

	return DirectBugResult{
		Success: true,
		Live:    true,
		BugMetrics: DirectBugMetrics{
			OpenBugs:    open,
			ClosedBugs:  total - open,
			TotalBugs:   total,
			ProjectID:   projectID,
			ProjectName: projectName,
		},
	}, nil
}

// DirectSprintStatus is the numeric block of a direct sprint count.
type DirectSprintStatus struct {
	Committed  int     `json:"committed"`
	Completed  int     `json:"completed"`
	Remaining  int     `json:"remaining"`
	Completion float64 `json:"completion"`
}

// DirectSprintResult is the direct sprint-count payload.
type DirectSprintResult struct {
	Success      bool               `json:"success"`
	SprintStatus DirectSprintStatus `json:"sprint_status"`
	Live         bool               `json:"live"`
}

// SprintCount returns exact committed/completed counts, optionally scoped
// to one version.
func (d *Direct) SprintCount(ctx context.Context, projectID, versionID int) (DirectSprintResult, error) {
	base := redmine.IssueFilter{ProjectID: projectID, FixedVersionID: versionID}

	openFilter := base
	openFilter.StatusID = "open"
	open, err := d.counter.CountIssues(ctx, openFilter)
	if err != nil {
		return DirectSprintResult{}, err
	}

	closedFilter := base
	closedFilter.StatusID = "closed"
	closed, err := d.counter.CountIssues(ctx, closedFilter)
	if err != nil {
		return DirectSprintResult{}, err
	}

	total := open + closed
	status := DirectSprintStatus{Committed: total, Completed: closed, Remaining: open}
	if total > 0 {
		status.Completion = round1(100 * float64(closed) / float64(total))
	}
	return DirectSprintResult{Success: true, Live: true, SprintStatus: status}, nil
}

// DirectBacklogMetrics is the numeric block of a direct backlog count.
type DirectBacklogMetrics struct {
	TotalOpen int `json:"total_open"`
	ProjectID int `json:"project_id,omitempty"`
}

// DirectBacklogResult is the direct backlog-count payload.
type DirectBacklogResult struct {
	Success        bool                 `json:"success"`
	BacklogMetrics DirectBacklogMetrics `json:"backlog_metrics"`
	Live           bool                 `json:"live"`
}

// BacklogCount returns the exact open-issue total for a project.
func (d *Direct) BacklogCount(ctx context.Context, projectID int) (DirectBacklogResult, error) {
	open, err := d.counter.CountIssues(ctx, redmine.IssueFilter{ProjectID: projectID, StatusID: "open"})
	if err != nil {
		return DirectBacklogResult{}, err
	}
	return DirectBacklogResult{
		Success:        true,
		Live:           true,
		BacklogMetrics: DirectBacklogMetrics{TotalOpen: open, ProjectID: projectID},
	}, nil
}
