// Package redmine is the HTTP client for the issue tracker's REST surface.
// All operations are idempotent GETs with typed failures; transient classes
// are retried with exponential backoff.
package redmine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	pageSize    = 100
	maxAttempts = 3
	backoffBase = 250 * time.Millisecond
	backoffCap  = 4 * time.Second

	// maxConns caps concurrent tracker connections to stay under the
	// tracker's rate limits.
	maxConns = 8
)

// Client talks to the tracker. Safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a tracker client for the given base URL and API key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxConnsPerHost:     maxConns,
				MaxIdleConnsPerHost: maxConns,
			},
		},
	}
}

// IssueFilter narrows an issue listing. Zero values mean "no filter".
type IssueFilter struct {
	ProjectID      int
	StatusID       string // "open", "closed", "*", or a numeric status id
	TrackerID      int
	PriorityID     int
	AssigneeID     int
	FixedVersionID int
	CreatedOn      string // tracker filter expression, e.g. ">=2026-08-01"
	UpdatedOn      string
	ClosedOn       string
	Limit          int
	Offset         int
}

func (f IssueFilter) values() url.Values {
	v := url.Values{}
	if f.ProjectID != 0 {
		v.Set("project_id", strconv.Itoa(f.ProjectID))
	}
	if f.StatusID != "" {
		v.Set("status_id", f.StatusID)
	}
	if f.TrackerID != 0 {
		v.Set("tracker_id", strconv.Itoa(f.TrackerID))
	}
	if f.PriorityID != 0 {
		v.Set("priority_id", strconv.Itoa(f.PriorityID))
	}
	if f.AssigneeID != 0 {
		v.Set("assigned_to_id", strconv.Itoa(f.AssigneeID))
	}
	if f.FixedVersionID != 0 {
		v.Set("fixed_version_id", strconv.Itoa(f.FixedVersionID))
	}
	if f.CreatedOn != "" {
		v.Set("created_on", f.CreatedOn)
	}
	if f.UpdatedOn != "" {
		v.Set("updated_on", f.UpdatedOn)
	}
	if f.ClosedOn != "" {
		v.Set("closed_on", f.ClosedOn)
	}
	if f.Limit != 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset != 0 {
		v.Set("offset", strconv.Itoa(f.Offset))
	}
	return v
}

type issuesPage struct {
	Issues     []wireIssue `json:"issues"`
	TotalCount int         `json:"total_count"`
	Offset     int         `json:"offset"`
	Limit      int         `json:"limit"`
}

// CountIssues returns the exact number of issues matching the filter by
// requesting a single row and reading total_count.
func (c *Client) CountIssues(ctx context.Context, f IssueFilter) (int, error) {
	f.Limit = 1
	f.Offset = 0
	var page issuesPage
	if err := c.getJSON(ctx, "/issues.json", f.values(), &page); err != nil {
		return 0, err
	}
	return page.TotalCount, nil
}

// ListIssues fetches a single page of issues plus the total match count.
func (c *Client) ListIssues(ctx context.Context, f IssueFilter) ([]Issue, int, error) {
	if f.Limit <= 0 || f.Limit > pageSize {
		f.Limit = pageSize
	}
	var page issuesPage
	if err := c.getJSON(ctx, "/issues.json", f.values(), &page); err != nil {
		return nil, 0, err
	}
	issues := make([]Issue, len(page.Issues))
	for i := range page.Issues {
		issues[i] = page.Issues[i].flatten()
	}
	return issues, page.TotalCount, nil
}

// FetchAllIssues pages through every issue regardless of status, up to max
// rows. It returns the fetched issues, the tracker-reported total, and
// whether the cap truncated the result. A total at or above the cap counts
// as truncated even when every row was fetched.
func (c *Client) FetchAllIssues(ctx context.Context, max int) ([]Issue, int, bool, error) {
	var all []Issue
	total := 0
	offset := 0
	for {
		f := IssueFilter{StatusID: "*", Limit: pageSize, Offset: offset}
		var page issuesPage
		if err := c.getJSON(ctx, "/issues.json", f.values(), &page); err != nil {
			return nil, 0, false, err
		}
		total = page.TotalCount
		for i := range page.Issues {
			all = append(all, page.Issues[i].flatten())
		}
		if max > 0 && len(all) >= max {
			return all[:max], total, total >= max, nil
		}
		if len(page.Issues) == 0 || len(all) >= total {
			return all, total, false, nil
		}
		offset += pageSize
	}
}

// GetIssue fetches one issue; includeJournals also requests the change
// journal used for reopened-ticket detection.
func (c *Client) GetIssue(ctx context.Context, id int, includeJournals bool) (*IssueDetail, error) {
	params := url.Values{}
	if includeJournals {
		params.Set("include", "journals")
	}
	var body struct {
		Issue wireIssue `json:"issue"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/issues/%d.json", id), params, &body); err != nil {
		return nil, err
	}
	return body.Issue.detail(), nil
}

// ListProjects returns all projects visible to the credential.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var body struct {
		Projects []struct {
			ID          int    `json:"id"`
			Identifier  string `json:"identifier"`
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"projects"`
	}
	params := url.Values{"limit": {strconv.Itoa(pageSize)}}
	if err := c.getJSON(ctx, "/projects.json", params, &body); err != nil {
		return nil, err
	}
	projects := make([]Project, len(body.Projects))
	for i, p := range body.Projects {
		projects[i] = Project{ID: p.ID, Identifier: p.Identifier, Name: p.Name, Description: p.Description}
	}
	return projects, nil
}

// ListVersions returns the versions of one project.
func (c *Client) ListVersions(ctx context.Context, projectID int) ([]Version, error) {
	var body struct {
		Versions []struct {
			ID      int    `json:"id"`
			Project ref    `json:"project"`
			Name    string `json:"name"`
			Status  string `json:"status"`
			DueDate string `json:"due_date"`
		} `json:"versions"`
	}
	path := fmt.Sprintf("/projects/%d/versions.json", projectID)
	if err := c.getJSON(ctx, path, nil, &body); err != nil {
		return nil, err
	}
	versions := make([]Version, len(body.Versions))
	for i, v := range body.Versions {
		versions[i] = Version{
			ID:        v.ID,
			ProjectID: v.Project.ID,
			Name:      v.Name,
			Status:    v.Status,
			DueDate:   parseDate(v.DueDate),
		}
	}
	return versions, nil
}

// ListUsers returns tracker accounts. The endpoint requires admin rights;
// callers treat forbidden as "no user table" rather than a fatal error.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var body struct {
		Users []struct {
			ID        int    `json:"id"`
			Login     string `json:"login"`
			Firstname string `json:"firstname"`
			Lastname  string `json:"lastname"`
			Name      string `json:"name"`
		} `json:"users"`
	}
	params := url.Values{"limit": {strconv.Itoa(pageSize)}}
	if err := c.getJSON(ctx, "/users.json", params, &body); err != nil {
		return nil, err
	}
	users := make([]User, len(body.Users))
	for i, u := range body.Users {
		name := u.Name
		if name == "" {
			name = u.Firstname + " " + u.Lastname
		}
		if name == " " {
			name = u.Login
		}
		users[i] = User{ID: u.ID, Name: name}
	}
	return users, nil
}

// ListStatuses returns the tracker's issue status enumeration.
func (c *Client) ListStatuses(ctx context.Context) ([]Enum, error) {
	var body struct {
		Statuses []Enum `json:"issue_statuses"`
	}
	if err := c.getJSON(ctx, "/issue_statuses.json", nil, &body); err != nil {
		return nil, err
	}
	return body.Statuses, nil
}

// ListTrackers returns the tracker-type enumeration.
func (c *Client) ListTrackers(ctx context.Context) ([]Enum, error) {
	var body struct {
		Trackers []Enum `json:"trackers"`
	}
	if err := c.getJSON(ctx, "/trackers.json", nil, &body); err != nil {
		return nil, err
	}
	return body.Trackers, nil
}

// ListPriorities returns the priority enumeration.
func (c *Client) ListPriorities(ctx context.Context) ([]Enum, error) {
	var body struct {
		Priorities []Enum `json:"issue_priorities"`
	}
	if err := c.getJSON(ctx, "/enumerations/issue_priorities.json", nil, &body); err != nil {
		return nil, err
	}
	return body.Priorities, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// getJSON performs an authenticated GET with retry on transient failures
// and decodes the response into out.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var lastErr *Error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffBase << (attempt - 1)
			if delay > backoffCap {
				delay = backoffCap
			}
			if lastErr.Kind == KindRateLimited && lastErr.RetryAfter > delay {
				delay = lastErr.RetryAfter
			}
			select {
			case <-ctx.Done():
				return &Error{Kind: KindUnreachable, Endpoint: path, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		err := c.doOnce(ctx, u, path, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !err.Transient() {
			return err
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, fullURL, path string, out any) *Error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return &Error{Kind: KindUnreachable, Endpoint: path, Err: err}
	}
	req.Header.Set("X-Redmine-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindUnreachable, Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		return &Error{Kind: KindUnauthorized, Status: resp.StatusCode, Endpoint: path}
	case resp.StatusCode == http.StatusForbidden:
		return &Error{Kind: KindForbidden, Status: resp.StatusCode, Endpoint: path}
	case resp.StatusCode == http.StatusNotFound:
		return &Error{Kind: KindNotFound, Status: resp.StatusCode, Endpoint: path}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Error{
			Kind:       KindRateLimited,
			Status:     resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Endpoint:   path,
		}
	case resp.StatusCode >= 500:
		return &Error{Kind: KindUnreachable, Status: resp.StatusCode, Endpoint: path}
	default:
		return &Error{Kind: KindMalformed, Status: resp.StatusCode, Endpoint: path}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindUnreachable, Endpoint: path, Err: err}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Kind: KindMalformed, Endpoint: path, Err: err}
	}
	return nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
