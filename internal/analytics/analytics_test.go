package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redgate/internal/cache"
	"redgate/internal/config"
	"redgate/internal/redmine"
)

// fixedNow anchors time-sensitive aggregations: Monday 2026-08-24 12:00 UTC.
var fixedNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func testAnalyzer() *Analyzer {
	a := New(&config.Config{
		BlockedStatus:     "feedback",
		OverloadThreshold: 10,
		Location:          time.UTC,
	})
	a.now = func() time.Time { return fixedNow }
	return a
}

func hours(h float64) *float64 { return &h }

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func tsp(s string) *time.Time {
	t := ts(s)
	return &t
}

func issue(id int, tracker, status, priority string, mut ...func(*redmine.Issue)) redmine.Issue {
	is := redmine.Issue{
		ID:           id,
		ProjectID:    6,
		ProjectName:  "NCEL",
		TrackerName:  tracker,
		StatusName:   status,
		PriorityName: priority,
		CreatedOn:    ts("2026-08-01T09:00:00Z"),
		UpdatedOn:    ts("2026-08-02T09:00:00Z"),
	}
	if config.IsClosedStatus(status) {
		is.ClosedOn = tsp("2026-08-10T09:00:00Z")
	}
	for _, m := range mut {
		m(&is)
	}
	return is
}

func onVersion(name string) func(*redmine.Issue) {
	return func(is *redmine.Issue) {
		is.FixedVersionName = name
		switch name {
		case "Week-6":
			is.FixedVersionID = 2
		case "Week-7":
			is.FixedVersionID = 3
		case "Week-5":
			is.FixedVersionID = 1
		}
	}
}

func assignedTo(id int, name string) func(*redmine.Issue) {
	return func(is *redmine.Issue) {
		is.AssigneeID = id
		is.AssigneeName = name
	}
}

func snapshot(issues []redmine.Issue, versions ...redmine.Version) *cache.Snapshot {
	return &cache.Snapshot{Issues: issues, Versions: versions, FetchedAt: fixedNow}
}

// --- Sprint status ---

func TestSprintStatus_FullyClosedSprint(t *testing.T) {
	a := testAnalyzer()
	var issues []redmine.Issue
	for i := 1; i <= 40; i++ {
		issues = append(issues, issue(i, "Story", "Closed", "Normal", onVersion("Week-7")))
	}
	snap := snapshot(issues, redmine.Version{
		ID: 3, ProjectID: 6, Name: "Week-7", Status: "open", DueDate: tsp("2026-08-28T00:00:00Z"),
	})

	res := a.SprintStatus(snap, 6, "Week-7")
	require.True(t, res.Success)
	assert.Equal(t, 40, res.Metrics.Committed)
	assert.Equal(t, 40, res.Metrics.Completed)
	assert.Equal(t, 0, res.Metrics.Remaining)
	assert.InDelta(t, 100.0, res.Metrics.CompletionPct, 0.001)
	assert.Equal(t, "on_track", res.BurndownAssessment)
	assert.Equal(t, "Week-7", res.Sprint.Name)
	require.NotNil(t, res.Sprint.DueDate)
	assert.Equal(t, "2026-08-28", *res.Sprint.DueDate)
}

func TestSprintStatus_MixedStatuses(t *testing.T) {
	a := testAnalyzer()
	issues := []redmine.Issue{
		issue(1, "Story", "Closed", "Normal", onVersion("Week-7")),
		issue(2, "Story", "In Progress", "Normal", onVersion("Week-7"), func(is *redmine.Issue) {
			is.EstimatedHours = hours(8)
			is.SpentHours = hours(3)
		}),
		issue(3, "Bug", "Feedback", "High", onVersion("Week-7")),
		issue(4, "Story", "New", "Normal", onVersion("Week-7")),
	}
	res := a.SprintStatus(snapshot(issues), 6, "Week-7")

	assert.Equal(t, 4, res.Metrics.Committed)
	assert.Equal(t, 1, res.Metrics.Completed)
	assert.Equal(t, 1, res.Metrics.InProgress)
	assert.Equal(t, 1, res.Metrics.Blocked)
	assert.Equal(t, 3, res.Metrics.Remaining)
	assert.InDelta(t, 25.0, res.Metrics.CompletionPct, 0.001)
	assert.Equal(t, "behind", res.BurndownAssessment)
	assert.InDelta(t, 8.0, res.Metrics.TotalEstimatedHours, 0.001)
	assert.InDelta(t, 3.0, res.Metrics.TotalSpentHours, 0.001)
	assert.Equal(t, map[string]int{"Closed": 1, "In Progress": 1, "Feedback": 1, "New": 1}, res.BreakdownByStatus)
}

func TestSprintStatus_EmptySprintIsZeroNotNaN(t *testing.T) {
	a := testAnalyzer()
	res := a.SprintStatus(snapshot(nil), 6, "Week-9")
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.Metrics.Committed)
	assert.InDelta(t, 0.0, res.Metrics.CompletionPct, 0.001)
	assert.Equal(t, "behind", res.BurndownAssessment)
}

func TestSprintStatus_InfersCurrentSprint(t *testing.T) {
	a := testAnalyzer()
	issues := []redmine.Issue{
		issue(1, "Story", "New", "Normal", onVersion("Week-7")),
	}
	snap := snapshot(issues,
		redmine.Version{ID: 2, ProjectID: 6, Name: "Week-6", Status: "closed", DueDate: tsp("2026-08-14T00:00:00Z")},
		redmine.Version{ID: 3, ProjectID: 6, Name: "Week-7", Status: "open", DueDate: tsp("2026-08-28T00:00:00Z")},
	)
	res := a.SprintStatus(snap, 6, "")
	assert.Equal(t, "Week-7", res.Sprint.Name, "nearest open version wins")
	assert.Equal(t, 1, res.Metrics.Committed)
}

// --- Backlog ---

func TestBacklog_Metrics(t *testing.T) {
	a := testAnalyzer()
	issues := []redmine.Issue{
		issue(1, "Story", "New", "High", func(is *redmine.Issue) {
			is.CreatedOn = ts("2026-08-14T12:00:00Z") // 10 days old, this month
		}),
		issue(2, "Bug", "New", "Normal", func(is *redmine.Issue) {
			is.CreatedOn = ts("2026-07-25T12:00:00Z") // 30 days old, last month
			is.EstimatedHours = hours(5)
		}),
		issue(3, "Story", "Closed", "Urgent", func(is *redmine.Issue) {
			is.CreatedOn = ts("2026-08-02T12:00:00Z")
			is.ClosedOn = tsp("2026-08-20T12:00:00Z")
		}),
	}
	res := a.Backlog(snapshot(issues), 6)
	require.True(t, res.Success)

	assert.Equal(t, 2, res.Backlog.TotalOpen)
	assert.Equal(t, 1, res.Backlog.HighPriorityOpen)
	assert.InDelta(t, 50.0, res.Backlog.UnestimatedPercentage, 0.001)

	require.NotNil(t, res.Aging.AverageDaysOpen)
	assert.InDelta(t, 20.0, *res.Aging.AverageDaysOpen, 0.001)

	assert.Equal(t, 2, res.MonthlyActivity.CreatedThisMonth)
	assert.Equal(t, 1, res.MonthlyActivity.ClosedThisMonth)
	assert.Equal(t, 1, res.MonthlyActivity.NetChange)
	assert.Equal(t, "2026-08", res.MonthlyActivity.Month)
}

func TestBacklog_EmptyProject(t *testing.T) {
	a := testAnalyzer()
	res := a.Backlog(snapshot(nil), 6)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.Backlog.TotalOpen)
	assert.Nil(t, res.Aging.AverageDaysOpen, "no mean over an empty sample")
}

// --- Team workload ---

func TestTeamWorkload(t *testing.T) {
	a := testAnalyzer()
	var issues []redmine.Issue
	for i := 0; i < 12; i++ {
		issues = append(issues, issue(100+i, "Story", "New", "Normal", assignedTo(1, "Ada Byron")))
	}
	issues = append(issues,
		issue(200, "Bug", "New", "Normal", assignedTo(2, "Grace Field")),
		issue(201, "Bug", "In Progress", "Normal"),
		issue(202, "Story", "Closed", "Normal", assignedTo(1, "Ada Byron")),
	)

	res := a.TeamWorkload(snapshot(issues), 6)
	require.True(t, res.Success)
	assert.Equal(t, 14, res.TotalOpenIssues)
	assert.Equal(t, 1, res.UnassignedIssues)
	assert.Equal(t, 12, res.WorkloadByMember["Ada Byron"])
	assert.Equal(t, 1, res.WorkloadByMember["Grace Field"])
	assert.Equal(t, 1, res.WorkloadByMember[Unassigned])
	assert.Equal(t, 3, res.TeamSize)
	assert.Equal(t, map[string]int{"Ada Byron": 12}, res.OverloadedMembers)
}

// --- Cycle time ---

type fakeJournals struct {
	details map[int][]redmine.JournalDetail
	err     error
}

func (f *fakeJournals) GetIssue(ctx context.Context, id int, includeJournals bool) (*redmine.IssueDetail, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &redmine.IssueDetail{
		Journals: []redmine.JournalEntry{{ID: 1, Details: f.details[id]}},
	}, nil
}

func TestCycleTime_LeadAndCycle(t *testing.T) {
	a := testAnalyzer()
	issues := []redmine.Issue{
		issue(1, "Bug", "Closed", "Normal", func(is *redmine.Issue) {
			is.CreatedOn = ts("2026-08-01T00:00:00Z")
			is.StartDate = tsp("2026-08-03T00:00:00Z")
			is.ClosedOn = tsp("2026-08-11T00:00:00Z") // lead 10, cycle 8
		}),
		issue(2, "Bug", "Closed", "Normal", func(is *redmine.Issue) {
			is.CreatedOn = ts("2026-08-05T00:00:00Z")
			is.StartDate = nil
			is.ClosedOn = tsp("2026-08-11T00:00:00Z") // lead 6, cycle falls back to 6
		}),
		issue(3, "Story", "New", "Normal"),
	}

	res := a.CycleTime(context.Background(), snapshot(issues), &fakeJournals{}, 6)
	require.True(t, res.Success)
	assert.Equal(t, 2, res.LeadTime.SampleSize)
	require.NotNil(t, res.LeadTime.AverageDays)
	assert.InDelta(t, 8.0, *res.LeadTime.AverageDays, 0.001)
	require.NotNil(t, res.CycleTime.AverageDays)
	assert.InDelta(t, 7.0, *res.CycleTime.AverageDays, 0.001)
	assert.True(t, res.CycleTime.FallbackUsed)
}

func TestCycleTime_ReopenedFromJournals(t *testing.T) {
	a := testAnalyzer()
	issues := []redmine.Issue{
		issue(1, "Bug", "Closed", "Normal"),
		issue(2, "Bug", "Closed", "Normal"),
	}
	journals := &fakeJournals{details: map[int][]redmine.JournalDetail{
		// closed (5) back to in_progress (2): a reopen
		1: {{Property: "attr", Name: "status_id", OldValue: "5", NewValue: "2"}},
		// normal forward transition
		2: {{Property: "attr", Name: "status_id", OldValue: "2", NewValue: "5"}},
	}}

	res := a.CycleTime(context.Background(), snapshot(issues), journals, 6)
	require.NotNil(t, res.ReopenedTickets.Count)
	assert.Equal(t, 1, *res.ReopenedTickets.Count)
	require.NotNil(t, res.ReopenedTickets.Percentage)
	assert.InDelta(t, 50.0, *res.ReopenedTickets.Percentage, 0.001)
	assert.Empty(t, res.ReopenedTickets.Reason)
}

func TestCycleTime_JournalUnavailable(t *testing.T) {
	a := testAnalyzer()
	issues := []redmine.Issue{issue(1, "Bug", "Closed", "Normal")}
	journals := &fakeJournals{err: &redmine.Error{Kind: redmine.KindForbidden, Status: 403}}

	res := a.CycleTime(context.Background(), snapshot(issues), journals, 6)
	assert.Nil(t, res.ReopenedTickets.Count)
	assert.Equal(t, "journal_unavailable", res.ReopenedTickets.Reason)
}

// --- Bugs ---

func TestBugs_Scenario(t *testing.T) {
	a := testAnalyzer()
	// 3 bugs (2 closed, 1 open urgent), 2 stories (1 closed).
	issues := []redmine.Issue{
		issue(1, "Bug", "Closed", "Normal"),
		issue(2, "Bug", "Closed", "High"),
		issue(3, "Bug", "New", "Urgent"),
		issue(4, "Story", "Closed", "Normal"),
		issue(5, "Story", "New", "Normal"),
	}
	res := a.Bugs(snapshot(issues), 6)
	require.True(t, res.Success)

	m := res.BugMetrics
	assert.Equal(t, 3, m.TotalBugs)
	assert.Equal(t, 1, m.OpenBugs)
	assert.Equal(t, 2, m.ClosedBugs)
	assert.Equal(t, m.TotalBugs, m.OpenBugs+m.ClosedBugs)
	assert.Equal(t, 1, m.CriticalOpen.Urgent)
	assert.Equal(t, 1, m.CriticalOpen.TotalCritical)
	require.NotNil(t, m.BugToStoryRatio)
	assert.InDelta(t, 1.0, *m.BugToStoryRatio, 0.001)
	require.NotNil(t, m.AverageResolutionDays)
}

func TestBugs_NoOpenStoriesRatioIsNull(t *testing.T) {
	a := testAnalyzer()
	issues := []redmine.Issue{
		issue(1, "Bug", "New", "Normal"),
		issue(2, "Story", "Closed", "Normal"),
	}
	res := a.Bugs(snapshot(issues), 6)
	assert.Nil(t, res.BugMetrics.BugToStoryRatio, "no open stories means null, never infinity")
}

func TestBugs_EmptyProject(t *testing.T) {
	a := testAnalyzer()
	res := a.Bugs(snapshot(nil), 6)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.BugMetrics.TotalBugs)
	assert.Nil(t, res.BugMetrics.AverageResolutionDays)
}

// --- Release status ---

func TestReleaseStatus_SingleVersion(t *testing.T) {
	a := testAnalyzer()
	issues := []redmine.Issue{
		issue(1, "Story", "Closed", "Normal", onVersion("Week-7")),
		issue(2, "Story", "New", "Normal", onVersion("Week-7")),
	}
	snap := snapshot(issues, redmine.Version{
		ID: 3, ProjectID: 6, Name: "Week-7", Status: "open", DueDate: tsp("2026-08-28T00:00:00Z"),
	})

	res := a.ReleaseStatus(snap, 6, "Week-7")
	require.True(t, res.Success)
	require.NotNil(t, res.Release)
	assert.Nil(t, res.Releases)
	assert.Equal(t, "Week-7", res.Release.VersionName)
	assert.Equal(t, 2, res.Release.TotalIssues)
	assert.Equal(t, 1, res.Release.ClosedIssues)
	assert.Equal(t, 1, res.Release.OpenIssues)
	assert.InDelta(t, 50.0, res.Release.CompletionPercentage, 0.001)
}

func TestReleaseStatus_ListsAllVersions(t *testing.T) {
	a := testAnalyzer()
	issues := []redmine.Issue{
		issue(1, "Story", "Closed", "Normal", onVersion("Week-6")),
		issue(2, "Story", "New", "Normal", onVersion("Week-7")),
	}
	snap := snapshot(issues,
		redmine.Version{ID: 2, ProjectID: 6, Name: "Week-6", Status: "closed"},
		redmine.Version{ID: 3, ProjectID: 6, Name: "Week-7", Status: "open"},
	)

	res := a.ReleaseStatus(snap, 6, "")
	require.True(t, res.Success)
	assert.Nil(t, res.Release)
	require.Len(t, res.Releases, 2)
}

func TestReleaseStatus_UnknownVersion(t *testing.T) {
	a := testAnalyzer()
	res := a.ReleaseStatus(snapshot(nil), 6, "Week-99")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Week-99")
}

// --- Velocity ---

func TestVelocityTrend(t *testing.T) {
	a := testAnalyzer()
	var issues []redmine.Issue
	add := func(n int, version string) {
		for i := 0; i < n; i++ {
			issues = append(issues, issue(len(issues)+1, "Story", "Closed", "Normal", onVersion(version)))
		}
	}
	add(5, "Week-5")
	add(8, "Week-6")
	add(10, "Week-7")

	snap := snapshot(issues,
		redmine.Version{ID: 1, ProjectID: 6, Name: "Week-5", Status: "closed", DueDate: tsp("2026-08-07T00:00:00Z")},
		redmine.Version{ID: 2, ProjectID: 6, Name: "Week-6", Status: "closed", DueDate: tsp("2026-08-14T00:00:00Z")},
		redmine.Version{ID: 3, ProjectID: 6, Name: "Week-7", Status: "closed", DueDate: tsp("2026-08-21T00:00:00Z")},
		redmine.Version{ID: 4, ProjectID: 6, Name: "Week-8", Status: "open", DueDate: tsp("2026-08-28T00:00:00Z")},
	)

	res := a.VelocityTrend(snap, 6, 5)
	require.True(t, res.Success)
	require.Len(t, res.PerSprint, 3, "open versions are not sprints yet")
	assert.Equal(t, "Week-5", res.PerSprint[0].Sprint, "oldest first")
	assert.Equal(t, "Week-7", res.PerSprint[2].Sprint)
	assert.Equal(t, []int{5, 8, 10}, []int{
		res.PerSprint[0].CompletedIssues,
		res.PerSprint[1].CompletedIssues,
		res.PerSprint[2].CompletedIssues,
	})
	assert.InDelta(t, 7.7, res.AverageVelocity, 0.001)
	assert.Equal(t, "increasing", res.VelocityTrend)
}

func TestVelocityTrend_StableWithinDeadBand(t *testing.T) {
	a := testAnalyzer()
	var issues []redmine.Issue
	for i := 0; i < 10; i++ {
		issues = append(issues, issue(i+1, "Story", "Closed", "Normal", onVersion("Week-6")))
	}
	for i := 0; i < 10; i++ {
		issues = append(issues, issue(100+i, "Story", "Closed", "Normal", onVersion("Week-7")))
	}
	snap := snapshot(issues,
		redmine.Version{ID: 2, ProjectID: 6, Name: "Week-6", Status: "closed", DueDate: tsp("2026-08-14T00:00:00Z")},
		redmine.Version{ID: 3, ProjectID: 6, Name: "Week-7", Status: "closed", DueDate: tsp("2026-08-21T00:00:00Z")},
	)
	res := a.VelocityTrend(snap, 6, 5)
	assert.Equal(t, "stable", res.VelocityTrend)
}

// --- Throughput ---

func TestThroughput(t *testing.T) {
	a := testAnalyzer()
	issues := []redmine.Issue{
		// current ISO week (starts Monday 2026-08-24)
		issue(1, "Story", "New", "Normal", func(is *redmine.Issue) {
			is.CreatedOn = ts("2026-08-24T08:00:00Z")
		}),
		// previous week: created and closed
		issue(2, "Bug", "Closed", "Normal", func(is *redmine.Issue) {
			is.CreatedOn = ts("2026-08-18T08:00:00Z")
			is.ClosedOn = tsp("2026-08-20T08:00:00Z")
		}),
		// outside the 4-week window
		issue(3, "Bug", "New", "Normal", func(is *redmine.Issue) {
			is.CreatedOn = ts("2026-06-01T08:00:00Z")
		}),
	}

	res := a.Throughput(snapshot(issues), 6, 4)
	require.True(t, res.Success)
	require.Len(t, res.WeeklyBreakdown, 4)
	assert.Equal(t, "2026-W32", res.WeeklyBreakdown[0].Week)
	assert.Equal(t, "2026-W35", res.WeeklyBreakdown[3].Week)

	prev := res.WeeklyBreakdown[2]
	assert.Equal(t, 1, prev.Created)
	assert.Equal(t, 1, prev.Closed)
	assert.Equal(t, 0, prev.Net)

	cur := res.WeeklyBreakdown[3]
	assert.Equal(t, 1, cur.Created)

	assert.Equal(t, 1, res.NetThroughput, "created minus closed over the window")
	assert.Equal(t, "positive", res.Trend)
	assert.InDelta(t, 0.5, res.AvgCreatedPerWeek, 0.001)
	assert.InDelta(t, 0.3, res.AvgClosedPerWeek, 0.001)
}

func TestThroughput_NegativeTrend(t *testing.T) {
	a := testAnalyzer()
	issues := []redmine.Issue{
		issue(1, "Bug", "Closed", "Normal", func(is *redmine.Issue) {
			is.CreatedOn = ts("2026-06-01T08:00:00Z") // created outside window
			is.ClosedOn = tsp("2026-08-19T08:00:00Z")
		}),
	}
	res := a.Throughput(snapshot(issues), 6, 4)
	assert.Equal(t, -1, res.NetThroughput)
	assert.Equal(t, "negative", res.Trend)
}

// --- Counts ---

func TestTasksInProgressAndBlocked(t *testing.T) {
	a := testAnalyzer()
	issues := []redmine.Issue{
		issue(1, "Story", "In Progress", "Normal"),
		issue(2, "Story", "In Progress", "Normal"),
		issue(3, "Bug", "Feedback", "Normal"),
		issue(4, "Story", "New", "Normal"),
	}
	snap := snapshot(issues)

	inProgress := a.TasksInProgress(snap, 6)
	assert.Equal(t, 2, inProgress.Count)
	assert.Equal(t, "in_progress", inProgress.Status)

	blocked := a.BlockedTasks(snap, 6)
	assert.Equal(t, 1, blocked.Count)
	assert.Equal(t, "feedback", blocked.Status)
}

// --- Partition invariant ---

func TestOpenClosedPartition(t *testing.T) {
	a := testAnalyzer()
	issues := []redmine.Issue{
		issue(1, "Bug", "New", "Normal"),
		issue(2, "Bug", "Resolved", "Normal"),
		issue(3, "Bug", "Closed", "Normal"),
		issue(4, "Bug", "Rejected", "Normal"),
		issue(5, "Bug", "Cancelled", "Normal"),
	}
	res := a.Bugs(snapshot(issues), 6)
	assert.Equal(t, 5, res.BugMetrics.TotalBugs)
	assert.Equal(t, 2, res.BugMetrics.OpenBugs, "resolved counts as open")
	assert.Equal(t, 3, res.BugMetrics.ClosedBugs)
}
