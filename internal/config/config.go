// Package config loads gateway configuration from the environment and
// carries the compiled-in identifier maps for the tracker deployment.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the gateway needs at startup.
type Config struct {
	TrackerBaseURL string
	TrackerAPIKey  string
	LLMAPIKey      string
	LLMModel       string

	Port           int
	AllowedOrigins []string

	CacheTTL       time.Duration
	CacheMaxIssues int

	// BlockedStatus is the status name treated as the "blocked" marker.
	// Installation-specific; defaults to feedback.
	BlockedStatus string

	// OverloadThreshold is the open-issue count above which a team member
	// is reported as overloaded.
	OverloadThreshold int

	// DeadlineReserve is subtracted from the request deadline before
	// external calls so the handler can still assemble a reply.
	DeadlineReserve time.Duration

	// Location used for month and week bucketing in aggregations.
	Location *time.Location
}

// Load reads configuration from the environment via viper.
func Load() (*Config, error) {
	v := viper.New()
	for _, key := range []string{
		"TRACKER_BASE_URL", "TRACKER_API_KEY", "LLM_API_KEY", "LLM_MODEL",
		"PORT", "CACHE_TTL_SECONDS", "CACHE_MAX_ISSUES", "ALLOWED_ORIGINS",
		"BLOCKED_STATUS", "OVERLOAD_THRESHOLD",
	} {
		_ = v.BindEnv(key)
	}

	v.SetDefault("LLM_MODEL", "claude-haiku-4-5-20251001")
	v.SetDefault("PORT", 3001)
	v.SetDefault("CACHE_TTL_SECONDS", 300)
	v.SetDefault("CACHE_MAX_ISSUES", 1000)
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:5174")
	v.SetDefault("BLOCKED_STATUS", "feedback")
	v.SetDefault("OVERLOAD_THRESHOLD", 10)

	cfg := &Config{
		TrackerBaseURL:    strings.TrimRight(v.GetString("TRACKER_BASE_URL"), "/"),
		TrackerAPIKey:     v.GetString("TRACKER_API_KEY"),
		LLMAPIKey:         v.GetString("LLM_API_KEY"),
		LLMModel:          v.GetString("LLM_MODEL"),
		Port:              v.GetInt("PORT"),
		CacheTTL:          time.Duration(v.GetInt("CACHE_TTL_SECONDS")) * time.Second,
		CacheMaxIssues:    v.GetInt("CACHE_MAX_ISSUES"),
		BlockedStatus:     v.GetString("BLOCKED_STATUS"),
		OverloadThreshold: v.GetInt("OVERLOAD_THRESHOLD"),
		DeadlineReserve:   2 * time.Second,
		Location:          time.UTC,
	}

	for _, origin := range strings.Split(v.GetString("ALLOWED_ORIGINS"), ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	return cfg, cfg.Validate()
}

// Validate reports missing required settings.
func (c *Config) Validate() error {
	var missing []string
	if c.TrackerBaseURL == "" {
		missing = append(missing, "TRACKER_BASE_URL")
	}
	if c.TrackerAPIKey == "" {
		missing = append(missing, "TRACKER_API_KEY")
	}
	if c.LLMAPIKey == "" {
		missing = append(missing, "LLM_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Identifier maps for the tracker deployment. An installation with different
// enums should load these from the tracker's enumeration endpoints instead.
// ---------------------------------------------------------------------------

// ProjectMap maps project slugs and display names (lowercased) to ids.
var ProjectMap = map[string]int{
	"ncel": 6,
}

// StatusMap maps status names to tracker status ids.
var StatusMap = map[string]int{
	"new":         1,
	"in_progress": 2,
	"resolved":    3,
	"feedback":    4,
	"closed":      5,
	"rejected":    6,
	"backlog":     7,
	"cancelled":   8,
}

// TrackerMap maps tracker (issue type) names to ids.
var TrackerMap = map[string]int{
	"bug":     1,
	"feature": 2,
	"support": 3,
	"story":   4,
}

// PriorityMap maps priority names to ids.
var PriorityMap = map[string]int{
	"low":       1,
	"normal":    2,
	"high":      3,
	"urgent":    4,
	"immediate": 5,
}

// closedStatuses is the closed partition of the status enum. Everything
// else, including resolved and feedback, counts as open.
var closedStatuses = map[string]bool{
	"closed":    true,
	"rejected":  true,
	"cancelled": true,
}

// criticalPriorities are the priorities reported as high-severity.
var criticalPriorities = map[string]bool{
	"high":      true,
	"urgent":    true,
	"immediate": true,
}

// IsClosedStatus reports whether the status name is in the closed set.
func IsClosedStatus(name string) bool {
	return closedStatuses[canonicalStatus(name)]
}

// IsCriticalPriority reports whether the priority name is high, urgent, or
// immediate.
func IsCriticalPriority(name string) bool {
	return criticalPriorities[strings.ToLower(strings.TrimSpace(name))]
}

// canonicalStatus lowercases a status display name and normalizes spaces so
// "In Progress" matches the in_progress map key.
func canonicalStatus(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(s, " ", "_")
}

// CanonicalStatus exposes the status name normalization used by the maps.
func CanonicalStatus(name string) string { return canonicalStatus(name) }

// NormalizeProjectID resolves a project identifier given as a numeric id,
// a numeric string, a slug, or a display name. Returns false for unknown
// names. A nil identifier resolves to (0, true) meaning "all projects".
func NormalizeProjectID(id any) (int, bool) {
	switch v := id.(type) {
	case nil:
		return 0, true
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		if v == "" {
			return 0, true
		}
		if n, ok := ProjectMap[strings.ToLower(strings.TrimSpace(v))]; ok {
			return n, true
		}
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
		return 0, false
	default:
		return 0, false
	}
}
