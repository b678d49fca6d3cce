package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"redgate/internal/analytics"
	"redgate/internal/cache"
	"redgate/internal/config"
	"redgate/internal/redmine"
)

// Tracker is the client surface the core tools need.
type Tracker interface {
	analytics.Counter
	analytics.JournalSource
	ListIssues(ctx context.Context, f redmine.IssueFilter) ([]redmine.Issue, int, error)
	ListProjects(ctx context.Context) ([]redmine.Project, error)
}

// Executor dispatches validated tool calls. Every result is a JSON object
// with a top-level success flag; failures are payloads, not errors, so the
// model can recover inside the loop.
type Executor struct {
	tracker  Tracker
	engine   *cache.Engine
	analyzer *analytics.Analyzer
	direct   *analytics.Direct
	logger   *slog.Logger
}

// NewExecutor wires the executor's collaborators.
func NewExecutor(tracker Tracker, engine *cache.Engine, analyzer *analytics.Analyzer, logger *slog.Logger) *Executor {
	return &Executor{
		tracker:  tracker,
		engine:   engine,
		analyzer: analyzer,
		direct:   analytics.NewDirect(tracker),
		logger:   logger,
	}
}

// Execute runs one tool call and returns its JSON payload. isError marks
// payloads that should be fed back as tool errors.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) (payload string, isError bool) {
	desc, ok := Lookup(name)
	if !ok {
		return failJSON("unknown_tool", fmt.Sprintf("unknown tool: %s", name)), true
	}
	if msg := validateArgs(desc, args); msg != "" {
		return failJSON("tool_argument_invalid", msg), true
	}

	start := time.Now()
	payload, isError = e.dispatch(ctx, name, args)
	e.logger.Debug("tool executed",
		"tool", name,
		"error", isError,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return payload, isError
}

func (e *Executor) dispatch(ctx context.Context, name string, args map[string]any) (string, bool) {
	switch name {
	case "list_projects":
		return e.listProjects(ctx)
	case "list_issues":
		return e.listIssues(ctx, args)
	case "get_issue":
		return e.getIssue(ctx, args)
	case "sprint_status":
		return e.sprintStatus(ctx, args)
	case "backlog_analytics":
		return e.backlog(ctx, args)
	case "team_workload":
		return e.withSnapshot(ctx, args, func(snap *cache.Snapshot, projectID int) any {
			return e.analyzer.TeamWorkload(snap, projectID)
		})
	case "cycle_time":
		return e.withSnapshot(ctx, args, func(snap *cache.Snapshot, projectID int) any {
			return e.analyzer.CycleTime(ctx, snap, e.tracker, projectID)
		})
	case "bug_analytics":
		return e.bugAnalytics(ctx, args)
	case "release_status":
		return e.withSnapshot(ctx, args, func(snap *cache.Snapshot, projectID int) any {
			return e.analyzer.ReleaseStatus(snap, projectID, argString(args, "version_name"))
		})
	case "velocity_trend":
		return e.withSnapshot(ctx, args, func(snap *cache.Snapshot, projectID int) any {
			return e.analyzer.VelocityTrend(snap, projectID, argInt(args, "sprints"))
		})
	case "throughput":
		return e.withSnapshot(ctx, args, func(snap *cache.Snapshot, projectID int) any {
			return e.analyzer.Throughput(snap, projectID, argInt(args, "weeks"))
		})
	case "tasks_in_progress":
		return e.withSnapshot(ctx, args, func(snap *cache.Snapshot, projectID int) any {
			return e.analyzer.TasksInProgress(snap, projectID)
		})
	case "blocked_tasks":
		return e.withSnapshot(ctx, args, func(snap *cache.Snapshot, projectID int) any {
			return e.analyzer.BlockedTasks(snap, projectID)
		})
	case "cache_control":
		return e.cacheControl(ctx, argString(args, "action"))
	}
	return failJSON("unknown_tool", fmt.Sprintf("unknown tool: %s", name)), true
}

// ---------------------------------------------------------------------------
// Core tools
// ---------------------------------------------------------------------------

type issueView struct {
	ID         int    `json:"id"`
	Subject    string `json:"subject"`
	Project    string `json:"project"`
	Tracker    string `json:"tracker"`
	Status     string `json:"status"`
	Priority   string `json:"priority"`
	AssignedTo string `json:"assigned_to,omitempty"`
	Version    string `json:"version,omitempty"`
	CreatedOn  string `json:"created_on"`
	UpdatedOn  string `json:"updated_on"`
	DueDate    string `json:"due_date,omitempty"`
}

func viewOf(is redmine.Issue) issueView {
	v := issueView{
		ID:         is.ID,
		Subject:    is.Subject,
		Project:    is.ProjectName,
		Tracker:    is.TrackerName,
		Status:     is.StatusName,
		Priority:   is.PriorityName,
		AssignedTo: is.AssigneeName,
		Version:    is.FixedVersionName,
		CreatedOn:  is.CreatedOn.Format(time.RFC3339),
		UpdatedOn:  is.UpdatedOn.Format(time.RFC3339),
	}
	if is.DueDate != nil {
		v.DueDate = is.DueDate.Format("2006-01-02")
	}
	return v
}

func (e *Executor) listProjects(ctx context.Context) (string, bool) {
	projects, err := e.tracker.ListProjects(ctx)
	if err != nil {
		return trackerFail(err), true
	}
	type view struct {
		ID          int    `json:"id"`
		Identifier  string `json:"identifier"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	views := make([]view, len(projects))
	for i, p := range projects {
		views[i] = view{ID: p.ID, Identifier: p.Identifier, Name: p.Name, Description: p.Description}
	}
	return okJSON(map[string]any{"success": true, "projects": views}), false
}

func (e *Executor) listIssues(ctx context.Context, args map[string]any) (string, bool) {
	projectID, ok := config.NormalizeProjectID(args["project_id"])
	if !ok {
		return unknownProject(args["project_id"]), true
	}

	filter := redmine.IssueFilter{ProjectID: projectID, Limit: 25}
	switch argString(args, "status") {
	case "", "open":
		filter.StatusID = "open"
	case "closed":
		filter.StatusID = "closed"
	case "all":
		filter.StatusID = "*"
	default:
		return failJSON("tool_argument_invalid", "status must be open, closed, or all"), true
	}
	if n := argInt(args, "limit"); n > 0 {
		if n > 100 {
			n = 100
		}
		filter.Limit = n
	}

	issues, total, err := e.tracker.ListIssues(ctx, filter)
	if err != nil {
		return trackerFail(err), true
	}
	views := make([]issueView, len(issues))
	for i, is := range issues {
		views[i] = viewOf(is)
	}
	return okJSON(map[string]any{"success": true, "issues": views, "total_count": total}), false
}

func (e *Executor) getIssue(ctx context.Context, args map[string]any) (string, bool) {
	id := argInt(args, "issue_id")
	if id <= 0 {
		return failJSON("tool_argument_invalid", "issue_id must be a positive integer"), true
	}
	detail, err := e.tracker.GetIssue(ctx, id, true)
	if err != nil {
		return trackerFail(err), true
	}

	view := map[string]any{
		"success":     true,
		"issue":       viewOf(detail.Issue),
		"description": detail.Description,
	}
	if len(detail.Journals) > 0 {
		notes := make([]map[string]any, 0, len(detail.Journals))
		for _, j := range detail.Journals {
			if j.Notes == "" {
				continue
			}
			notes = append(notes, map[string]any{
				"created_on": j.CreatedOn.Format(time.RFC3339),
				"notes":      j.Notes,
			})
		}
		view["journal_notes"] = notes
	}
	return okJSON(view), false
}

// ---------------------------------------------------------------------------
// Analytics routing
// ---------------------------------------------------------------------------

// withSnapshot runs a snapshot aggregation, failing with cache_unavailable
// when the cache is off or empty.
func (e *Executor) withSnapshot(ctx context.Context, args map[string]any, fn func(*cache.Snapshot, int) any) (string, bool) {
	projectID, ok := config.NormalizeProjectID(args["project_id"])
	if !ok {
		return unknownProject(args["project_id"]), true
	}
	snap, err := e.engine.Acquire(ctx)
	if err != nil {
		return failJSON("cache_unavailable", "analytics cache is disabled or not initialized; enable it with cache_control action=on"), true
	}
	return okJSON(fn(snap, projectID)), false
}

// sprintStatus prefers the cache and falls back to exact direct counts
// when it is unavailable.
func (e *Executor) sprintStatus(ctx context.Context, args map[string]any) (string, bool) {
	projectID, ok := config.NormalizeProjectID(args["project_id"])
	if !ok {
		return unknownProject(args["project_id"]), true
	}
	if snap, err := e.engine.Acquire(ctx); err == nil {
		return okJSON(e.analyzer.SprintStatus(snap, projectID, argString(args, "version_name"))), false
	}
	res, err := e.direct.SprintCount(ctx, projectID, 0)
	if err != nil {
		return trackerFail(err), true
	}
	return okJSON(res), false
}

func (e *Executor) backlog(ctx context.Context, args map[string]any) (string, bool) {
	projectID, ok := config.NormalizeProjectID(args["project_id"])
	if !ok {
		return unknownProject(args["project_id"]), true
	}
	if snap, err := e.engine.Acquire(ctx); err == nil {
		return okJSON(e.analyzer.Backlog(snap, projectID)), false
	}
	res, err := e.direct.BacklogCount(ctx, projectID)
	if err != nil {
		return trackerFail(err), true
	}
	return okJSON(res), false
}

func (e *Executor) bugAnalytics(ctx context.Context, args map[string]any) (string, bool) {
	projectID, ok := config.NormalizeProjectID(args["project_id"])
	if !ok {
		return unknownProject(args["project_id"]), true
	}
	if snap, err := e.engine.Acquire(ctx); err == nil {
		return okJSON(e.analyzer.Bugs(snap, projectID)), false
	}
	name, _ := args["project_id"].(string)
	res, err := e.direct.BugCount(ctx, projectID, name)
	if err != nil {
		return trackerFail(err), true
	}
	return okJSON(res), false
}

// ---------------------------------------------------------------------------
// Cache control
// ---------------------------------------------------------------------------

func (e *Executor) cacheControl(ctx context.Context, action string) (string, bool) {
	switch action {
	case "on":
		if err := e.engine.Enable(ctx); err != nil {
			return failJSON("cache_unavailable", fmt.Sprintf("cache enable failed: %v", err)), true
		}
		return okJSON(map[string]any{"success": true, "status": "enabled", "cache_info": e.engine.Status()}), false
	case "off":
		e.engine.Disable()
		return okJSON(map[string]any{"success": true, "status": "disabled"}), false
	case "refresh":
		if err := e.engine.Refresh(ctx); err != nil {
			return failJSON("cache_unavailable", fmt.Sprintf("cache refresh failed: %v", err)), true
		}
		return okJSON(map[string]any{"success": true, "cache_info": e.engine.Status()}), false
	case "status":
		return okJSON(map[string]any{"success": true, "cache_info": e.engine.Status()}), false
	}
	return failJSON("tool_argument_invalid", fmt.Sprintf("unknown action: %s (use on, off, refresh, or status)", action)), true
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func validateArgs(desc Descriptor, args map[string]any) string {
	for _, p := range desc.Params {
		if p.Required {
			if _, ok := args[p.Name]; !ok {
				return fmt.Sprintf("missing required parameter: %s", p.Name)
			}
		}
	}
	return ""
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return 0
}

func okJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return failJSON("internal", fmt.Sprintf("marshal tool result: %v", err))
	}
	return string(data)
}

func failJSON(kind, msg string) string {
	data, _ := json.Marshal(map[string]any{
		"success": false,
		"error":   msg,
		"kind":    kind,
	})
	return string(data)
}

func unknownProject(raw any) string {
	return failJSON("unknown_project", fmt.Sprintf("unknown project: %v", raw))
}

func trackerFail(err error) string {
	var terr *redmine.Error
	if errors.As(err, &terr) {
		return failJSON(string(terr.Kind), terr.Error())
	}
	return failJSON("internal", err.Error())
}
