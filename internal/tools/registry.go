// Package tools holds the declarative tool catalogue and the executor that
// dispatches model tool calls to the tracker, the cache, and the analytics
// library.
package tools

import (
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// Tool categories. The set is closed; peripheral families (media, web
// browsing) live outside this gateway.
const (
	CategoryCore      = "tracker-core"
	CategoryAnalytics = "tracker-analytics"
	CategoryCache     = "cache-control"
)

// Param describes one named tool parameter.
type Param struct {
	Name        string
	Type        string // "string" or "integer"
	Description string
	Required    bool
	Enum        []string
}

// Descriptor is one catalogue entry.
type Descriptor struct {
	Name        string
	Description string
	Category    string
	Params      []Param
}

var projectParam = Param{
	Name:        "project_id",
	Type:        "string",
	Description: "Project: numeric tracker id, or project slug or display name",
}

var catalogue = []Descriptor{
	// tracker-core
	{
		Name:        "list_projects",
		Description: "List all projects in the tracker",
		Category:    CategoryCore,
	},
	{
		Name:        "list_issues",
		Description: "List issues, optionally filtered by project and status",
		Category:    CategoryCore,
		Params: []Param{
			projectParam,
			{Name: "status", Type: "string", Description: "Issue status filter", Enum: []string{"open", "closed", "all"}},
			{Name: "limit", Type: "integer", Description: "Maximum issues to return (default 25)"},
		},
	},
	{
		Name:        "get_issue",
		Description: "Fetch one issue by id, including its change journal",
		Category:    CategoryCore,
		Params: []Param{
			{Name: "issue_id", Type: "integer", Description: "Issue id", Required: true},
		},
	},

	// tracker-analytics
	{
		Name:        "sprint_status",
		Description: "Sprint completion metrics: committed, completed, remaining, burndown assessment",
		Category:    CategoryAnalytics,
		Params: []Param{
			projectParam,
			{Name: "version_name", Type: "string", Description: "Sprint/version name (optional, defaults to current sprint)"},
		},
	},
	{
		Name:        "backlog_analytics",
		Description: "Backlog health: open total, high-priority share, estimation coverage, aging, monthly churn",
		Category:    CategoryAnalytics,
		Params:      []Param{projectParam},
	},
	{
		Name:        "team_workload",
		Description: "Open issues per assignee and overloaded team members",
		Category:    CategoryAnalytics,
		Params:      []Param{projectParam},
	},
	{
		Name:        "cycle_time",
		Description: "Lead time, cycle time, and reopened-ticket rate over closed issues",
		Category:    CategoryAnalytics,
		Params:      []Param{projectParam},
	},
	{
		Name:        "bug_analytics",
		Description: "Bug metrics: open/closed split, critical open bugs, bug-to-story ratio, resolution time",
		Category:    CategoryAnalytics,
		Params:      []Param{projectParam},
	},
	{
		Name:        "release_status",
		Description: "Delivery progress per release version",
		Category:    CategoryAnalytics,
		Params: []Param{
			projectParam,
			{Name: "version_name", Type: "string", Description: "Release/version name (optional, lists all when omitted)"},
		},
	},
	{
		Name:        "velocity_trend",
		Description: "Completed issues across recent closed sprints with trend direction",
		Category:    CategoryAnalytics,
		Params: []Param{
			projectParam,
			{Name: "sprints", Type: "integer", Description: "Number of recent sprints (default 5)"},
		},
	},
	{
		Name:        "throughput",
		Description: "Issues created vs closed per week over a recent window",
		Category:    CategoryAnalytics,
		Params: []Param{
			projectParam,
			{Name: "weeks", Type: "integer", Description: "Window size in weeks (default 4)"},
		},
	},
	{
		Name:        "tasks_in_progress",
		Description: "Count of issues currently in progress",
		Category:    CategoryAnalytics,
		Params:      []Param{projectParam},
	},
	{
		Name:        "blocked_tasks",
		Description: "Count of blocked issues",
		Category:    CategoryAnalytics,
		Params:      []Param{projectParam},
	},

	// cache-control
	{
		Name:        "cache_control",
		Description: "Control the analytics cache: turn it on or off, refresh it, or report status",
		Category:    CategoryCache,
		Params: []Param{
			{Name: "action", Type: "string", Description: "Cache action", Required: true, Enum: []string{"on", "off", "refresh", "status"}},
		},
	},
}

// categoryOrder fixes keyword-prefilter precedence: analytics terms win
// over the generic core terms they often co-occur with.
var categoryOrder = []string{CategoryAnalytics, CategoryCache, CategoryCore}

// keywords are the distinguishing terms of each category for the phase-1
// prefilter.
var keywords = map[string][]string{
	CategoryAnalytics: {
		"sprint", "backlog", "bug", "velocity", "burndown", "throughput",
		"workload", "cycle", "lead time", "release", "blocked", "in progress",
		"analytics", "metrics", "committed", "completed", "trend", "story", "stories",
	},
	CategoryCache: {"cache", "refresh", "snapshot"},
	CategoryCore:  {"issue", "project", "task", "ticket", "tracker", "redmine", "feature"},
}

// All returns the whole catalogue.
func All() []Descriptor {
	out := make([]Descriptor, len(catalogue))
	copy(out, catalogue)
	return out
}

// Lookup finds a descriptor by name.
func Lookup(name string) (Descriptor, bool) {
	for _, d := range catalogue {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Categories returns the closed category set in precedence order.
func Categories() []string {
	out := make([]string, len(categoryOrder))
	copy(out, categoryOrder)
	return out
}

// EnabledCategories resolves the per-request enablement map. An empty map
// enables everything; otherwise only categories mapped to true are kept,
// in precedence order.
func EnabledCategories(enabled map[string]bool) []string {
	var out []string
	for _, cat := range categoryOrder {
		if len(enabled) == 0 || enabled[cat] {
			out = append(out, cat)
		}
	}
	return out
}

// ForCategory returns the catalogue subset in the given category, filtered
// to enabled categories.
func ForCategory(category string, enabled map[string]bool) []Descriptor {
	allowed := false
	for _, cat := range EnabledCategories(enabled) {
		if cat == category {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil
	}
	var out []Descriptor
	for _, d := range catalogue {
		if d.Category == category {
			out = append(out, d)
		}
	}
	return out
}

// MatchKeyword runs the phase-1 keyword prefilter over an utterance and
// returns the first enabled category with a hit.
func MatchKeyword(utterance string, enabled map[string]bool) (string, bool) {
	lower := strings.ToLower(utterance)
	for _, cat := range EnabledCategories(enabled) {
		for _, kw := range keywords[cat] {
			if strings.Contains(lower, kw) {
				return cat, true
			}
		}
	}
	return "", false
}

// ToAnthropic converts a descriptor into the LLM provider's tool shape.
func (d Descriptor) ToAnthropic() anthropic.ToolUnionParam {
	properties := map[string]any{}
	var required []string
	for _, p := range d.Params {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
				Required:   required,
			},
		},
	}
}
