// Package analytics computes the gateway's aggregation tools. Snapshot
// aggregations are pure functions over an immutable cache snapshot; the
// direct counts in direct.go go to the tracker for exact live totals.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"redgate/internal/cache"
	"redgate/internal/config"
	"redgate/internal/redmine"
)

// Analyzer evaluates aggregations. The now hook exists for tests.
type Analyzer struct {
	cfg *config.Config
	now func() time.Time
}

// New creates an Analyzer over the given configuration.
func New(cfg *config.Config) *Analyzer {
	return &Analyzer{cfg: cfg, now: time.Now}
}

// ---------------------------------------------------------------------------
// Sprint status
// ---------------------------------------------------------------------------

// SprintInfo identifies the resolved version of a sprint-status report.
type SprintInfo struct {
	Name    string  `json:"name"`
	DueDate *string `json:"due_date"`
}

// SprintMetrics is the numeric block of a sprint-status report.
type SprintMetrics struct {
	Committed           int     `json:"committed"`
	Completed           int     `json:"completed"`
	InProgress          int     `json:"in_progress"`
	Blocked             int     `json:"blocked"`
	Remaining           int     `json:"remaining"`
	CompletionPct       float64 `json:"completion_pct"`
	TotalEstimatedHours float64 `json:"total_estimated_hours"`
	TotalSpentHours     float64 `json:"total_spent_hours"`
}

// SprintStatusResult is the sprint-status payload. The renderer dispatches
// on the sprint and metrics keys.
type SprintStatusResult struct {
	Success            bool           `json:"success"`
	Sprint             SprintInfo     `json:"sprint"`
	Metrics            SprintMetrics  `json:"metrics"`
	BreakdownByStatus  map[string]int `json:"breakdown_by_status"`
	BurndownAssessment string         `json:"burndown_assessment"`
}

// SprintStatus reports completion metrics for one sprint. With an empty
// version the current sprint is inferred from the version table: the open
// version with the nearest due date, falling back to the busiest version
// among open issues.
func (a *Analyzer) SprintStatus(snap *cache.Snapshot, projectID int, version string) SprintStatusResult {
	issues := filterProject(snap.Issues, projectID)

	name := version
	if name == "" {
		name = a.currentSprintName(snap, projectID, issues)
	}

	var base []redmine.Issue
	for _, is := range issues {
		if name != "" && strings.EqualFold(is.FixedVersionName, name) {
			base = append(base, is)
		}
	}

	m := SprintMetrics{Committed: len(base)}
	breakdown := map[string]int{}
	for _, is := range base {
		breakdown[is.StatusName]++
		switch {
		case config.IsClosedStatus(is.StatusName):
			m.Completed++
		case config.CanonicalStatus(is.StatusName) == "in_progress":
			m.InProgress++
		case config.CanonicalStatus(is.StatusName) == config.CanonicalStatus(a.cfg.BlockedStatus):
			m.Blocked++
		}
		if is.EstimatedHours != nil {
			m.TotalEstimatedHours += *is.EstimatedHours
		}
		if is.SpentHours != nil {
			m.TotalSpentHours += *is.SpentHours
		}
	}
	m.Remaining = m.Committed - m.Completed
	if m.Committed > 0 {
		m.CompletionPct = round1(100 * float64(m.Completed) / float64(m.Committed))
	}

	assessment := "behind"
	if m.CompletionPct >= 50 {
		assessment = "on_track"
	}

	info := SprintInfo{Name: name}
	if v := findVersion(snap.Versions, projectID, name); v != nil && v.DueDate != nil {
		d := v.DueDate.Format("2006-01-02")
		info.DueDate = &d
	}

	return SprintStatusResult{
		Success:            true,
		Sprint:             info,
		Metrics:            m,
		BreakdownByStatus:  breakdown,
		BurndownAssessment: assessment,
	}
}

// currentSprintName picks the open version with the nearest due date on or
// after today, then the most recently due open version, then the version
// carrying the most open issues.
func (a *Analyzer) currentSprintName(snap *cache.Snapshot, projectID int, issues []redmine.Issue) string {
	today := a.now().In(a.cfg.Location).Truncate(24 * time.Hour)

	var upcoming, past *redmine.Version
	for i := range snap.Versions {
		v := &snap.Versions[i]
		if projectID != 0 && v.ProjectID != projectID {
			continue
		}
		if v.Status != "open" || v.DueDate == nil {
			continue
		}
		if !v.DueDate.Before(today) {
			if upcoming == nil || v.DueDate.Before(*upcoming.DueDate) {
				upcoming = v
			}
		} else if past == nil || v.DueDate.After(*past.DueDate) {
			past = v
		}
	}
	if upcoming != nil {
		return upcoming.Name
	}
	if past != nil {
		return past.Name
	}

	counts := map[string]int{}
	for _, is := range issues {
		if is.FixedVersionName != "" && !config.IsClosedStatus(is.StatusName) {
			counts[is.FixedVersionName]++
		}
	}
	best := ""
	for name, n := range counts {
		if best == "" || n > counts[best] {
			best = name
		}
	}
	return best
}

// ---------------------------------------------------------------------------
// Backlog analytics
// ---------------------------------------------------------------------------

// BacklogMetrics is the open-backlog block of a backlog report.
type BacklogMetrics struct {
	TotalOpen             int     `json:"total_open"`
	HighPriorityOpen      int     `json:"high_priority_open"`
	UnestimatedPercentage float64 `json:"unestimated_percentage"`
}

// BacklogAging carries backlog age statistics.
type BacklogAging struct {
	AverageDaysOpen *float64 `json:"average_days_open"`
}

// MonthlyActivity summarizes the current calendar month.
type MonthlyActivity struct {
	CreatedThisMonth int    `json:"created_this_month"`
	ClosedThisMonth  int    `json:"closed_this_month"`
	NetChange        int    `json:"net_change"`
	Month            string `json:"month"`
}

// BacklogResult is the backlog-analytics payload.
type BacklogResult struct {
	Success         bool            `json:"success"`
	Backlog         BacklogMetrics  `json:"backlog"`
	Aging           BacklogAging    `json:"aging"`
	MonthlyActivity MonthlyActivity `json:"monthly_activity"`
}

// Backlog reports the open backlog's size, priority mix, estimation
// coverage, age, and this month's churn.
func (a *Analyzer) Backlog(snap *cache.Snapshot, projectID int) BacklogResult {
	issues := filterProject(snap.Issues, projectID)
	now := a.now().In(a.cfg.Location)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, a.cfg.Location)

	res := BacklogResult{Success: true}
	res.MonthlyActivity.Month = now.Format("2006-01")

	unestimated := 0
	var ageSum float64
	for _, is := range issues {
		if !is.CreatedOn.Before(monthStart) {
			res.MonthlyActivity.CreatedThisMonth++
		}
		if is.ClosedOn != nil && !is.ClosedOn.Before(monthStart) {
			res.MonthlyActivity.ClosedThisMonth++
		}
		if config.IsClosedStatus(is.StatusName) {
			continue
		}
		res.Backlog.TotalOpen++
		if config.IsCriticalPriority(is.PriorityName) {
			res.Backlog.HighPriorityOpen++
		}
		if is.EstimatedHours == nil || *is.EstimatedHours == 0 {
			unestimated++
		}
		ageSum += now.Sub(is.CreatedOn).Hours() / 24
	}
	res.MonthlyActivity.NetChange = res.MonthlyActivity.CreatedThisMonth - res.MonthlyActivity.ClosedThisMonth

	if res.Backlog.TotalOpen > 0 {
		res.Backlog.UnestimatedPercentage = round1(100 * float64(unestimated) / float64(res.Backlog.TotalOpen))
		avg := round1(ageSum / float64(res.Backlog.TotalOpen))
		res.Aging.AverageDaysOpen = &avg
	}
	return res
}

// ---------------------------------------------------------------------------
// Team workload
// ---------------------------------------------------------------------------

// Unassigned is the workload bucket for issues without an assignee.
const Unassigned = "Unassigned"

// WorkloadResult is the team-workload payload.
type WorkloadResult struct {
	Success           bool           `json:"success"`
	WorkloadByMember  map[string]int `json:"workload_by_member"`
	TotalOpenIssues   int            `json:"total_open_issues"`
	UnassignedIssues  int            `json:"unassigned_issues"`
	TeamSize          int            `json:"team_size"`
	OverloadedMembers map[string]int `json:"overloaded_members"`
}

// TeamWorkload distributes open issues over assignees. Assignee names come
// from the issues table, so a denied users endpoint does not degrade it.
func (a *Analyzer) TeamWorkload(snap *cache.Snapshot, projectID int) WorkloadResult {
	res := WorkloadResult{
		Success:           true,
		WorkloadByMember:  map[string]int{},
		OverloadedMembers: map[string]int{},
	}
	for _, is := range filterProject(snap.Issues, projectID) {
		if config.IsClosedStatus(is.StatusName) {
			continue
		}
		res.TotalOpenIssues++
		name := is.AssigneeName
		if name == "" {
			name = Unassigned
			res.UnassignedIssues++
		}
		res.WorkloadByMember[name]++
	}
	res.TeamSize = len(res.WorkloadByMember)
	for name, count := range res.WorkloadByMember {
		if name != Unassigned && count > a.cfg.OverloadThreshold {
			res.OverloadedMembers[name] = count
		}
	}
	return res
}

// ---------------------------------------------------------------------------
// Cycle time
// ---------------------------------------------------------------------------

// DurationStats is an averaged day count over a sample.
type DurationStats struct {
	AverageDays *float64 `json:"average_days"`
	SampleSize  int      `json:"sample_size"`
}

// CycleStats is DurationStats plus the start-date fallback marker.
type CycleStats struct {
	AverageDays  *float64 `json:"average_days"`
	SampleSize   int      `json:"sample_size"`
	FallbackUsed bool     `json:"fallback_used"`
}

// ReopenedStats counts journal-detected reopenings. Count is null when no
// journal source was reachable.
type ReopenedStats struct {
	Count      *int     `json:"count"`
	Percentage *float64 `json:"percentage"`
	Reason     string   `json:"reason,omitempty"`
}

// CycleTimeResult is the cycle-time payload.
type CycleTimeResult struct {
	Success         bool          `json:"success"`
	LeadTime        DurationStats `json:"lead_time"`
	CycleTime       CycleStats    `json:"cycle_time"`
	ReopenedTickets ReopenedStats `json:"reopened_tickets"`
}

// journalSampleCap bounds per-issue journal fetches so cycle-time stays
// cheap on large projects.
const journalSampleCap = 50

// JournalSource fetches an issue's change journal for reopened detection.
type JournalSource interface {
	GetIssue(ctx context.Context, id int, includeJournals bool) (*redmine.IssueDetail, error)
}

// CycleTime reports lead time (created to closed), cycle time (start date
// to closed, falling back to lead time when start dates are absent), and
// the reopened-ticket rate from the change journals. A nil or failing
// journal source degrades the reopened block to a null count.
func (a *Analyzer) CycleTime(ctx context.Context, snap *cache.Snapshot, journals JournalSource, projectID int) CycleTimeResult {
	var closed []redmine.Issue
	for _, is := range filterProject(snap.Issues, projectID) {
		if is.ClosedOn != nil {
			closed = append(closed, is)
		}
	}
	sort.Slice(closed, func(i, j int) bool {
		return closed[i].ClosedOn.After(*closed[j].ClosedOn)
	})

	res := CycleTimeResult{Success: true}
	res.LeadTime.SampleSize = len(closed)
	res.CycleTime.SampleSize = len(closed)

	var leadSum, cycleSum float64
	for _, is := range closed {
		lead := is.ClosedOn.Sub(is.CreatedOn).Hours() / 24
		leadSum += lead
		if is.StartDate != nil {
			cycleSum += is.ClosedOn.Sub(*is.StartDate).Hours() / 24
		} else {
			cycleSum += lead
			res.CycleTime.FallbackUsed = true
		}
	}
	if len(closed) > 0 {
		lead := round1(leadSum / float64(len(closed)))
		cycle := round1(cycleSum / float64(len(closed)))
		res.LeadTime.AverageDays = &lead
		res.CycleTime.AverageDays = &cycle
	}

	res.ReopenedTickets = a.countReopened(ctx, journals, closed)
	return res
}

// countReopened inspects the change journals of the most recently closed
// issues for a transition from a closed status back to an open one.
func (a *Analyzer) countReopened(ctx context.Context, journals JournalSource, closed []redmine.Issue) ReopenedStats {
	if journals == nil || len(closed) == 0 {
		if len(closed) == 0 {
			zero := 0
			zeroPct := 0.0
			return ReopenedStats{Count: &zero, Percentage: &zeroPct}
		}
		return ReopenedStats{Reason: "journal_unavailable"}
	}

	sample := closed
	if len(sample) > journalSampleCap {
		sample = sample[:journalSampleCap]
	}

	reopened := 0
	for _, is := range sample {
		detail, err := journals.GetIssue(ctx, is.ID, true)
		if err != nil {
			return ReopenedStats{Reason: "journal_unavailable"}
		}
		if hasReopenTransition(detail.Journals) {
			reopened++
		}
	}

	pct := round1(100 * float64(reopened) / float64(len(sample)))
	return ReopenedStats{Count: &reopened, Percentage: &pct}
}

// hasReopenTransition reports whether any journal entry moves status_id
// from a closed status to an open one.
func hasReopenTransition(entries []redmine.JournalEntry) bool {
	for _, entry := range entries {
		for _, det := range entry.Details {
			if det.Property != "attr" || det.Name != "status_id" {
				continue
			}
			if statusIDClosed(det.OldValue) && !statusIDClosed(det.NewValue) {
				return true
			}
		}
	}
	return false
}

func statusIDClosed(idText string) bool {
	for name, id := range config.StatusMap {
		if fmt.Sprint(id) == idText {
			return config.IsClosedStatus(name)
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Bug analytics
// ---------------------------------------------------------------------------

// CriticalOpen breaks open critical bugs down by priority.
type CriticalOpen struct {
	High          int `json:"high"`
	Urgent        int `json:"urgent"`
	Immediate     int `json:"immediate"`
	TotalCritical int `json:"total_critical"`
}

// BugMetrics is the numeric block of a bug-analytics report.
type BugMetrics struct {
	TotalBugs             int          `json:"total_bugs"`
	OpenBugs              int          `json:"open_bugs"`
	ClosedBugs            int          `json:"closed_bugs"`
	CriticalOpen          CriticalOpen `json:"critical_open"`
	BugToStoryRatio       *float64     `json:"bug_to_story_ratio"`
	AverageResolutionDays *float64     `json:"average_resolution_days"`
}

// BugResult is the bug-analytics payload.
type BugResult struct {
	Success    bool       `json:"success"`
	BugMetrics BugMetrics `json:"bug_metrics"`
}

// Bugs reports defect metrics over the bug tracker: open/closed split,
// open critical counts by priority, open-bug-per-open-story ratio, and
// average resolution time.
func (a *Analyzer) Bugs(snap *cache.Snapshot, projectID int) BugResult {
	var m BugMetrics
	openStories := 0
	var resolutionSum float64
	resolutionN := 0

	for _, is := range filterProject(snap.Issues, projectID) {
		tracker := strings.ToLower(is.TrackerName)
		open := !config.IsClosedStatus(is.StatusName)
		if tracker == "story" && open {
			openStories++
		}
		if tracker != "bug" {
			continue
		}
		m.TotalBugs++
		if open {
			m.OpenBugs++
			switch strings.ToLower(is.PriorityName) {
			case "high":
				m.CriticalOpen.High++
			case "urgent":
				m.CriticalOpen.Urgent++
			case "immediate":
				m.CriticalOpen.Immediate++
			}
		} else {
			m.ClosedBugs++
		}
		if is.ClosedOn != nil {
			resolutionSum += is.ClosedOn.Sub(is.CreatedOn).Hours() / 24
			resolutionN++
		}
	}
	m.CriticalOpen.TotalCritical = m.CriticalOpen.High + m.CriticalOpen.Urgent + m.CriticalOpen.Immediate

	if openStories > 0 {
		ratio := round2(float64(m.OpenBugs) / float64(openStories))
		m.BugToStoryRatio = &ratio
	}
	if resolutionN > 0 {
		avg := round1(resolutionSum / float64(resolutionN))
		m.AverageResolutionDays = &avg
	}
	return BugResult{Success: true, BugMetrics: m}
}

// ---------------------------------------------------------------------------
// Release status
// ---------------------------------------------------------------------------

// Release is one version's delivery progress.
type Release struct {
	VersionName          string  `json:"version_name"`
	TotalIssues          int     `json:"total_issues"`
	ClosedIssues         int     `json:"closed_issues"`
	OpenIssues           int     `json:"open_issues"`
	CompletionPercentage float64 `json:"completion_percentage"`
	DueDate              *string `json:"due_date"`
}

// ReleaseResult is the release-status payload: a single release when a
// version was named, otherwise the project's full list.
type ReleaseResult struct {
	Success  bool      `json:"success"`
	Release  *Release  `json:"release,omitempty"`
	Releases []Release `json:"releases,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// ReleaseStatus reports delivery progress per version.
func (a *Analyzer) ReleaseStatus(snap *cache.Snapshot, projectID int, version string) ReleaseResult {
	issues := filterProject(snap.Issues, projectID)

	if version != "" {
		rel := buildRelease(issues, findVersion(snap.Versions, projectID, version), version)
		if rel.TotalIssues == 0 && findVersion(snap.Versions, projectID, version) == nil {
			return ReleaseResult{Success: false, Error: fmt.Sprintf("unknown version: %s", version)}
		}
		return ReleaseResult{Success: true, Release: &rel}
	}

	var releases []Release
	for i := range snap.Versions {
		v := &snap.Versions[i]
		if projectID != 0 && v.ProjectID != projectID {
			continue
		}
		releases = append(releases, buildRelease(issues, v, v.Name))
	}
	sort.Slice(releases, func(i, j int) bool {
		return releases[i].VersionName < releases[j].VersionName
	})
	return ReleaseResult{Success: true, Releases: releases}
}

func buildRelease(issues []redmine.Issue, v *redmine.Version, name string) Release {
	rel := Release{VersionName: name}
	if v != nil {
		rel.VersionName = v.Name
		if v.DueDate != nil {
			d := v.DueDate.Format("2006-01-02")
			rel.DueDate = &d
		}
	}
	for _, is := range issues {
		if !strings.EqualFold(is.FixedVersionName, rel.VersionName) {
			continue
		}
		rel.TotalIssues++
		if config.IsClosedStatus(is.StatusName) {
			rel.ClosedIssues++
		}
	}
	rel.OpenIssues = rel.TotalIssues - rel.ClosedIssues
	if rel.TotalIssues > 0 {
		rel.CompletionPercentage = round1(100 * float64(rel.ClosedIssues) / float64(rel.TotalIssues))
	}
	return rel
}

// ---------------------------------------------------------------------------
// Velocity trend
// ---------------------------------------------------------------------------

// SprintVelocity is one sprint's completed-issue count.
type SprintVelocity struct {
	Sprint          string  `json:"sprint"`
	DueDate         *string `json:"due_date"`
	CompletedIssues int     `json:"completed_issues"`
}

// VelocityResult is the velocity-trend payload, oldest sprint first.
type VelocityResult struct {
	Success         bool             `json:"success"`
	PerSprint       []SprintVelocity `json:"per_sprint"`
	AverageVelocity float64          `json:"average_velocity"`
	VelocityTrend   string           `json:"velocity_trend"`
}

// DefaultVelocitySprints is the sprint window when the caller gives none.
const DefaultVelocitySprints = 5

// VelocityTrend measures completed issues across the most recent closed
// sprints. The trend compares the newest sprint to the oldest with a 10%
// dead band.
func (a *Analyzer) VelocityTrend(snap *cache.Snapshot, projectID, sprints int) VelocityResult {
	if sprints <= 0 {
		sprints = DefaultVelocitySprints
	}

	var closedVersions []redmine.Version
	for _, v := range snap.Versions {
		if projectID != 0 && v.ProjectID != projectID {
			continue
		}
		if v.Status == "closed" && v.DueDate != nil {
			closedVersions = append(closedVersions, v)
		}
	}
	sort.Slice(closedVersions, func(i, j int) bool {
		return closedVersions[i].DueDate.After(*closedVersions[j].DueDate)
	})
	if len(closedVersions) > sprints {
		closedVersions = closedVersions[:sprints]
	}
	// oldest first
	sort.Slice(closedVersions, func(i, j int) bool {
		return closedVersions[i].DueDate.Before(*closedVersions[j].DueDate)
	})

	completedByVersion := map[int]int{}
	for _, is := range filterProject(snap.Issues, projectID) {
		if is.FixedVersionID != 0 && config.IsClosedStatus(is.StatusName) {
			completedByVersion[is.FixedVersionID]++
		}
	}

	res := VelocityResult{Success: true, VelocityTrend: "stable"}
	sum := 0
	for _, v := range closedVersions {
		d := v.DueDate.Format("2006-01-02")
		sv := SprintVelocity{Sprint: v.Name, DueDate: &d, CompletedIssues: completedByVersion[v.ID]}
		res.PerSprint = append(res.PerSprint, sv)
		sum += sv.CompletedIssues
	}
	if len(res.PerSprint) > 0 {
		res.AverageVelocity = round1(float64(sum) / float64(len(res.PerSprint)))
	}
	if len(res.PerSprint) >= 2 {
		first := float64(res.PerSprint[0].CompletedIssues)
		last := float64(res.PerSprint[len(res.PerSprint)-1].CompletedIssues)
		switch {
		case last > first*1.1:
			res.VelocityTrend = "increasing"
		case last < first*0.9:
			res.VelocityTrend = "decreasing"
		}
	}
	return res
}

// ---------------------------------------------------------------------------
// Throughput
// ---------------------------------------------------------------------------

// WeekActivity is one ISO week's created/closed churn.
type WeekActivity struct {
	Week    string `json:"week"`
	Created int    `json:"created"`
	Closed  int    `json:"closed"`
	Net     int    `json:"net"`
}

// ThroughputResult is the throughput payload; net_throughput is created
// minus closed over the whole window, positive meaning net creation.
type ThroughputResult struct {
	Success           bool           `json:"success"`
	WeeklyBreakdown   []WeekActivity `json:"weekly_breakdown"`
	AvgCreatedPerWeek float64        `json:"avg_created_per_week"`
	AvgClosedPerWeek  float64        `json:"avg_closed_per_week"`
	NetThroughput     int            `json:"net_throughput"`
	Trend             string         `json:"trend"`
}

// DefaultThroughputWeeks is the window when the caller gives none.
const DefaultThroughputWeeks = 4

// Throughput buckets issue creation and closure into the last N aligned
// ISO weeks, current week included.
func (a *Analyzer) Throughput(snap *cache.Snapshot, projectID, weeks int) ThroughputResult {
	if weeks <= 0 {
		weeks = DefaultThroughputWeeks
	}

	now := a.now().In(a.cfg.Location)
	thisMonday := mondayOf(now)

	buckets := make([]WeekActivity, weeks)
	starts := make([]time.Time, weeks)
	for i := 0; i < weeks; i++ {
		start := thisMonday.AddDate(0, 0, -7*(weeks-1-i))
		starts[i] = start
		year, week := start.ISOWeek()
		buckets[i].Week = fmt.Sprintf("%d-W%02d", year, week)
	}
	windowStart := starts[0]

	bucketFor := func(t time.Time) int {
		if t.Before(windowStart) {
			return -1
		}
		idx := int(t.In(a.cfg.Location).Sub(windowStart) / (7 * 24 * time.Hour))
		if idx < 0 || idx >= weeks {
			return -1
		}
		return idx
	}

	for _, is := range filterProject(snap.Issues, projectID) {
		if i := bucketFor(is.CreatedOn); i >= 0 {
			buckets[i].Created++
		}
		if is.ClosedOn != nil {
			if i := bucketFor(*is.ClosedOn); i >= 0 {
				buckets[i].Closed++
			}
		}
	}

	res := ThroughputResult{Success: true, WeeklyBreakdown: buckets}
	createdTotal, closedTotal := 0, 0
	for i := range buckets {
		buckets[i].Net = buckets[i].Created - buckets[i].Closed
		createdTotal += buckets[i].Created
		closedTotal += buckets[i].Closed
		res.NetThroughput += buckets[i].Net
	}
	res.AvgCreatedPerWeek = round1(float64(createdTotal) / float64(weeks))
	res.AvgClosedPerWeek = round1(float64(closedTotal) / float64(weeks))
	res.Trend = "negative"
	if res.NetThroughput >= 0 {
		res.Trend = "positive"
	}
	return res
}

// mondayOf returns midnight Monday of t's ISO week in t's location.
func mondayOf(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	wd := int(day.Weekday())
	if wd == 0 {
		wd = 7
	}
	return day.AddDate(0, 0, 1-wd)
}

// ---------------------------------------------------------------------------
// In-progress and blocked counts
// ---------------------------------------------------------------------------

// CountResult is the payload of the simple status-count tools.
type CountResult struct {
	Success   bool   `json:"success"`
	Count     int    `json:"count"`
	Status    string `json:"status"`
	ProjectID int    `json:"project_id,omitempty"`
}

// TasksInProgress counts open issues currently in progress.
func (a *Analyzer) TasksInProgress(snap *cache.Snapshot, projectID int) CountResult {
	return a.countByStatus(snap, projectID, "in_progress")
}

// BlockedTasks counts open issues in the configured blocked status.
func (a *Analyzer) BlockedTasks(snap *cache.Snapshot, projectID int) CountResult {
	return a.countByStatus(snap, projectID, config.CanonicalStatus(a.cfg.BlockedStatus))
}

func (a *Analyzer) countByStatus(snap *cache.Snapshot, projectID int, status string) CountResult {
	res := CountResult{Success: true, Status: status, ProjectID: projectID}
	for _, is := range filterProject(snap.Issues, projectID) {
		if config.CanonicalStatus(is.StatusName) == status {
			res.Count++
		}
	}
	return res
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func filterProject(issues []redmine.Issue, projectID int) []redmine.Issue {
	if projectID == 0 {
		return issues
	}
	var out []redmine.Issue
	for _, is := range issues {
		if is.ProjectID == projectID {
			out = append(out, is)
		}
	}
	return out
}

func findVersion(versions []redmine.Version, projectID int, name string) *redmine.Version {
	if name == "" {
		return nil
	}
	for i := range versions {
		v := &versions[i]
		if projectID != 0 && v.ProjectID != projectID {
			continue
		}
		if strings.EqualFold(v.Name, name) {
			return v
		}
	}
	return nil
}

func round1(x float64) float64 { return math.Round(x*10) / 10 }
func round2(x float64) float64 { return math.Round(x*100) / 100 }
