// Package cache maintains an in-memory snapshot of the tracker's issues,
// projects, versions, and users for the analytics tools. Readers always see
// a consistent snapshot; refreshes build a new one off to the side and swap
// it in atomically.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"redgate/internal/redmine"
)

// ErrUnavailable is returned by Acquire when the cache is disabled or has
// never been populated. Callers fall back to direct tracker counts.
var ErrUnavailable = errors.New("cache unavailable")

// EndpointError records an auxiliary endpoint that failed during a refresh.
type EndpointError struct {
	Endpoint string `json:"endpoint"`
	Status   int    `json:"status"`
	Kind     string `json:"kind,omitempty"`
}

// Snapshot is one immutable view of the tracker. All fields are read-only
// after construction.
type Snapshot struct {
	Issues   []redmine.Issue
	Projects []redmine.Project
	Versions []redmine.Version
	Users    []redmine.User

	FetchedAt  time.Time
	TotalCount int  // tracker-reported issue total
	Truncated  bool // true when the issue cap cut the fetch short

	// EndpointErrors lists auxiliary endpoints that failed during the
	// refresh. An issue-fetch failure aborts the refresh instead and
	// never produces a snapshot.
	EndpointErrors []EndpointError
}

// Age returns how old the snapshot is.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// Fetcher is the tracker surface a refresh needs.
type Fetcher interface {
	FetchAllIssues(ctx context.Context, max int) ([]redmine.Issue, int, bool, error)
	ListProjects(ctx context.Context) ([]redmine.Project, error)
	ListVersions(ctx context.Context, projectID int) ([]redmine.Version, error)
	ListUsers(ctx context.Context) ([]redmine.User, error)
}

// Engine owns the snapshot lifecycle: enable/disable, TTL-driven refresh
// with stale-while-revalidate, and coalescing of concurrent refreshes.
type Engine struct {
	fetcher   Fetcher
	ttl       time.Duration
	maxIssues int
	logger    *slog.Logger
	now       func() time.Time

	snapshot atomic.Pointer[Snapshot]
	group    singleflight.Group

	mu         sync.Mutex
	enabled    bool
	refreshing bool
	stats      Stats
}

// Stats counts refresh outcomes since process start.
type Stats struct {
	Refreshes    int
	Failures     int
	LastError    string
	LastSuccess  time.Time
	LastDuration time.Duration
}

// New creates a disabled engine. Enable or Refresh populates it.
func New(fetcher Fetcher, ttl time.Duration, maxIssues int, logger *slog.Logger) *Engine {
	return &Engine{
		fetcher:   fetcher,
		ttl:       ttl,
		maxIssues: maxIssues,
		logger:    logger,
		now:       time.Now,
	}
}

// Enabled reports whether the cache is switched on.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Enable switches the cache on and synchronously populates it if empty.
// Idempotent: an already-populated snapshot is kept.
func (e *Engine) Enable(ctx context.Context) error {
	e.mu.Lock()
	e.enabled = true
	e.mu.Unlock()
	if e.snapshot.Load() == nil {
		return e.Refresh(ctx)
	}
	return nil
}

// Disable switches the cache off and drops the snapshot.
func (e *Engine) Disable() {
	e.mu.Lock()
	e.enabled = false
	e.mu.Unlock()
	e.snapshot.Store(nil)
}

// Acquire returns the current snapshot for reading. A fresh snapshot is
// returned as-is. A stale one is returned immediately and a background
// refresh is kicked off (stale-while-revalidate). Disabled or empty caches
// return ErrUnavailable.
func (e *Engine) Acquire(ctx context.Context) (*Snapshot, error) {
	if !e.Enabled() {
		return nil, ErrUnavailable
	}
	snap := e.snapshot.Load()
	if snap == nil {
		return nil, ErrUnavailable
	}
	if snap.Age(e.now()) > e.ttl {
		e.refreshAsync(ctx)
	}
	return snap, nil
}

// Refresh builds a new snapshot and swaps it in. Concurrent callers are
// coalesced onto a single fetch. On failure the previous snapshot, if any,
// is preserved.
func (e *Engine) Refresh(ctx context.Context) error {
	_, err, _ := e.group.Do("refresh", func() (any, error) {
		return nil, e.buildAndSwap(ctx)
	})
	return err
}

// refreshAsync starts at most one background refresh. The refresh detaches
// from the caller's deadline so an expiring request cannot abort it.
func (e *Engine) refreshAsync(ctx context.Context) {
	e.mu.Lock()
	if e.refreshing {
		e.mu.Unlock()
		return
	}
	e.refreshing = true
	e.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			e.mu.Lock()
			e.refreshing = false
			e.mu.Unlock()
		}()
		if err := e.Refresh(bg); err != nil {
			e.logger.Warn("background cache refresh failed", "error", err)
		}
	}()
}

func (e *Engine) buildAndSwap(ctx context.Context) error {
	start := e.now()
	snap, err := e.build(ctx)
	if err != nil {
		e.mu.Lock()
		e.stats.Refreshes++
		e.stats.Failures++
		e.stats.LastError = err.Error()
		e.mu.Unlock()
		return err
	}
	e.snapshot.Store(snap)

	e.mu.Lock()
	e.stats.Refreshes++
	e.stats.LastError = ""
	e.stats.LastSuccess = snap.FetchedAt
	e.stats.LastDuration = e.now().Sub(start)
	e.mu.Unlock()

	e.logger.Info("cache refreshed",
		"issues", len(snap.Issues),
		"projects", len(snap.Projects),
		"versions", len(snap.Versions),
		"users", len(snap.Users),
		"truncated", snap.Truncated,
		"duration", e.now().Sub(start).Round(time.Millisecond),
	)
	return nil
}

// build fetches everything a snapshot holds. The issue fetch is mandatory;
// projects, versions, and users degrade to empty tables with a recorded
// endpoint error (the users endpoint commonly returns 403 for non-admin
// keys).
func (e *Engine) build(ctx context.Context) (*Snapshot, error) {
	issues, total, truncated, err := e.fetcher.FetchAllIssues(ctx, e.maxIssues)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Issues:     issues,
		FetchedAt:  e.now(),
		TotalCount: total,
		Truncated:  truncated,
	}

	projects, err := e.fetcher.ListProjects(ctx)
	if err != nil {
		snap.EndpointErrors = append(snap.EndpointErrors, endpointError("projects", err))
	} else {
		snap.Projects = projects
	}

	versionsFailed := false
	for _, p := range snap.Projects {
		versions, err := e.fetcher.ListVersions(ctx, p.ID)
		if err != nil {
			if !versionsFailed {
				snap.EndpointErrors = append(snap.EndpointErrors, endpointError("versions", err))
				versionsFailed = true
			}
			continue
		}
		snap.Versions = append(snap.Versions, versions...)
	}

	users, err := e.fetcher.ListUsers(ctx)
	if err != nil {
		snap.EndpointErrors = append(snap.EndpointErrors, endpointError("users", err))
	} else {
		snap.Users = users
	}

	return snap, nil
}

func endpointError(endpoint string, err error) EndpointError {
	ee := EndpointError{Endpoint: endpoint}
	var terr *redmine.Error
	if errors.As(err, &terr) {
		ee.Status = terr.Status
		ee.Kind = string(terr.Kind)
	}
	return ee
}

// Counts is the per-table row count block of the status payload.
type Counts struct {
	Issues   int `json:"issues"`
	Projects int `json:"projects"`
	Users    int `json:"users"`
	Versions int `json:"versions"`
}

// Info describes the cache for the control endpoint's cache_info block.
type Info struct {
	Enabled        bool            `json:"enabled"`
	Initialized    bool            `json:"initialized"`
	LastUpdated    *time.Time      `json:"last_updated,omitempty"`
	AgeSeconds     *int            `json:"age_seconds,omitempty"`
	TTLSeconds     int             `json:"ttl_seconds"`
	Stale          bool            `json:"stale"`
	Counts         Counts          `json:"counts"`
	TotalCount     int             `json:"total_count"`
	Truncated      bool            `json:"issues_truncated"`
	EndpointErrors []EndpointError `json:"endpoint_errors,omitempty"`
	Refreshes      int             `json:"refreshes"`
	Failures       int             `json:"refresh_failures"`
	LastRefreshMS  int64           `json:"last_refresh_ms,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
}

// Status reports the cache's current state.
func (e *Engine) Status() Info {
	e.mu.Lock()
	info := Info{
		Enabled:       e.enabled,
		TTLSeconds:    int(e.ttl / time.Second),
		Refreshes:     e.stats.Refreshes,
		Failures:      e.stats.Failures,
		LastRefreshMS: e.stats.LastDuration.Milliseconds(),
		LastError:     e.stats.LastError,
	}
	e.mu.Unlock()

	if snap := e.snapshot.Load(); snap != nil {
		info.Initialized = true
		fetched := snap.FetchedAt
		info.LastUpdated = &fetched
		age := int(snap.Age(e.now()) / time.Second)
		if age < 0 {
			age = 0
		}
		info.AgeSeconds = &age
		info.Stale = snap.Age(e.now()) > e.ttl
		info.Counts = Counts{
			Issues:   len(snap.Issues),
			Projects: len(snap.Projects),
			Users:    len(snap.Users),
			Versions: len(snap.Versions),
		}
		info.TotalCount = snap.TotalCount
		info.Truncated = snap.Truncated
		info.EndpointErrors = snap.EndpointErrors
	}
	return info
}
