package redmine

import "time"

// Issue is the flattened projection of a tracker issue used throughout the
// gateway. Nested references from the wire format are resolved to id/name
// pairs; absent references are zero-valued.
type Issue struct {
	ID               int
	Subject          string
	ProjectID        int
	ProjectName      string
	TrackerID        int
	TrackerName      string
	StatusID         int
	StatusName       string
	PriorityID       int
	PriorityName     string
	AssigneeID       int    // 0 when unassigned
	AssigneeName     string // "" when unassigned
	FixedVersionID   int
	FixedVersionName string
	EstimatedHours   *float64
	SpentHours       *float64
	DoneRatio        int
	CreatedOn        time.Time
	UpdatedOn        time.Time
	ClosedOn         *time.Time
	StartDate        *time.Time
	DueDate          *time.Time
}

// IssueDetail is a single issue fetched with its change journal.
type IssueDetail struct {
	Issue
	Description string
	Journals    []JournalEntry
}

// JournalEntry is one entry of an issue's change journal.
type JournalEntry struct {
	ID        int
	CreatedOn time.Time
	Notes     string
	Details   []JournalDetail
}

// JournalDetail is a single attribute change within a journal entry.
type JournalDetail struct {
	Property string // "attr" for attribute changes
	Name     string // e.g. "status_id"
	OldValue string
	NewValue string
}

// Project is a tracker project.
type Project struct {
	ID          int
	Identifier  string
	Name        string
	Description string
}

// Version is a tracker version; versions with due dates carry sprint
// semantics.
type Version struct {
	ID        int
	ProjectID int
	Name      string
	Status    string // open, locked, closed
	DueDate   *time.Time
}

// User is a tracker account. The users endpoint needs admin rights, so
// callers must tolerate an empty user table.
type User struct {
	ID   int
	Name string
}

// Enum is an id/name pair from one of the tracker's enumeration endpoints
// (statuses, trackers, priorities).
type Enum struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ---------------------------------------------------------------------------
// Wire format
// ---------------------------------------------------------------------------

type ref struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type wireIssue struct {
	ID             int      `json:"id"`
	Subject        string   `json:"subject"`
	Description    string   `json:"description"`
	Project        ref      `json:"project"`
	Tracker        ref      `json:"tracker"`
	Status         ref      `json:"status"`
	Priority       ref      `json:"priority"`
	AssignedTo     *ref     `json:"assigned_to"`
	FixedVersion   *ref     `json:"fixed_version"`
	EstimatedHours *float64 `json:"estimated_hours"`
	SpentHours     *float64 `json:"spent_hours"`
	DoneRatio      int      `json:"done_ratio"`
	CreatedOn      string   `json:"created_on"`
	UpdatedOn      string   `json:"updated_on"`
	ClosedOn       string   `json:"closed_on"`
	StartDate      string   `json:"start_date"`
	DueDate        string   `json:"due_date"`

	Journals []wireJournal `json:"journals"`
}

type wireJournal struct {
	ID        int    `json:"id"`
	Notes     string `json:"notes"`
	CreatedOn string `json:"created_on"`
	Details   []struct {
		Property string `json:"property"`
		Name     string `json:"name"`
		OldValue string `json:"old_value"`
		NewValue string `json:"new_value"`
	} `json:"details"`
}

// flatten converts a wire issue into the normalized form. Timestamps are
// parsed as RFC3339 (the tracker emits explicit offsets); bare dates are
// anchored at midnight UTC.
func (w *wireIssue) flatten() Issue {
	issue := Issue{
		ID:             w.ID,
		Subject:        w.Subject,
		ProjectID:      w.Project.ID,
		ProjectName:    w.Project.Name,
		TrackerID:      w.Tracker.ID,
		TrackerName:    w.Tracker.Name,
		StatusID:       w.Status.ID,
		StatusName:     w.Status.Name,
		PriorityID:     w.Priority.ID,
		PriorityName:   w.Priority.Name,
		EstimatedHours: w.EstimatedHours,
		SpentHours:     w.SpentHours,
		DoneRatio:      w.DoneRatio,
	}
	if w.AssignedTo != nil {
		issue.AssigneeID = w.AssignedTo.ID
		issue.AssigneeName = w.AssignedTo.Name
	}
	if w.FixedVersion != nil {
		issue.FixedVersionID = w.FixedVersion.ID
		issue.FixedVersionName = w.FixedVersion.Name
	}
	if t, err := time.Parse(time.RFC3339, w.CreatedOn); err == nil {
		issue.CreatedOn = t
	}
	if t, err := time.Parse(time.RFC3339, w.UpdatedOn); err == nil {
		issue.UpdatedOn = t
	}
	issue.ClosedOn = parseInstant(w.ClosedOn)
	issue.StartDate = parseDate(w.StartDate)
	issue.DueDate = parseDate(w.DueDate)
	return issue
}

func (w *wireIssue) detail() *IssueDetail {
	d := &IssueDetail{Issue: w.flatten(), Description: w.Description}
	for _, j := range w.Journals {
		entry := JournalEntry{ID: j.ID, Notes: j.Notes}
		if t, err := time.Parse(time.RFC3339, j.CreatedOn); err == nil {
			entry.CreatedOn = t
		}
		for _, det := range j.Details {
			entry.Details = append(entry.Details, JournalDetail{
				Property: det.Property,
				Name:     det.Name,
				OldValue: det.OldValue,
				NewValue: det.NewValue,
			})
		}
		d.Journals = append(d.Journals, entry)
	}
	return d
}

func parseInstant(s string) *time.Time {
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t
	}
	return nil
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.UTC); err == nil {
		return &t
	}
	return nil
}
