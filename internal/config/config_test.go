package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TRACKER_BASE_URL", "http://tracker.local/")
	t.Setenv("TRACKER_API_KEY", "key")
	t.Setenv("LLM_API_KEY", "llm-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://tracker.local", cfg.TrackerBaseURL, "trailing slash is trimmed")
	assert.Equal(t, 3001, cfg.Port)
	assert.Equal(t, 300, int(cfg.CacheTTL.Seconds()))
	assert.Equal(t, 1000, cfg.CacheMaxIssues)
	assert.Equal(t, "feedback", cfg.BlockedStatus)
	assert.Equal(t, 10, cfg.OverloadThreshold)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:5174"}, cfg.AllowedOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TRACKER_BASE_URL", "http://tracker.local")
	t.Setenv("TRACKER_API_KEY", "key")
	t.Setenv("LLM_API_KEY", "llm-key")
	t.Setenv("PORT", "9000")
	t.Setenv("CACHE_TTL_SECONDS", "60")
	t.Setenv("CACHE_MAX_ISSUES", "250")
	t.Setenv("ALLOWED_ORIGINS", "https://pm.example.com, https://admin.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 60, int(cfg.CacheTTL.Seconds()))
	assert.Equal(t, 250, cfg.CacheMaxIssues)
	assert.Equal(t, []string{"https://pm.example.com", "https://admin.example.com"}, cfg.AllowedOrigins)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("TRACKER_BASE_URL", "")
	t.Setenv("TRACKER_API_KEY", "")
	t.Setenv("LLM_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRACKER_BASE_URL")
	assert.Contains(t, err.Error(), "TRACKER_API_KEY")
	assert.Contains(t, err.Error(), "LLM_API_KEY")
}

func TestNormalizeProjectID(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want int
		ok   bool
	}{
		{"slug", "ncel", 6, true},
		{"slug uppercase", "NCEL", 6, true},
		{"numeric id", 6, 6, true},
		{"numeric string", "6", 6, true},
		{"json number", float64(6), 6, true},
		{"nil means all projects", nil, 0, true},
		{"empty string means all projects", "", 0, true},
		{"unknown name", "atlantis", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NormalizeProjectID(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestStatusPartition(t *testing.T) {
	closed := []string{"Closed", "Rejected", "Cancelled"}
	open := []string{"New", "In Progress", "Resolved", "Feedback", "Backlog"}

	for _, s := range closed {
		assert.True(t, IsClosedStatus(s), "%s should be closed", s)
	}
	for _, s := range open {
		assert.False(t, IsClosedStatus(s), "%s should be open", s)
	}
}

func TestCanonicalStatus(t *testing.T) {
	assert.Equal(t, "in_progress", CanonicalStatus("In Progress"))
	assert.Equal(t, "closed", CanonicalStatus("  Closed "))
	assert.Equal(t, "feedback", CanonicalStatus("Feedback"))

	// Tracker display names must canonicalize straight to their map keys,
	// so enum drift checks can compare against StatusMap without reversing
	// the underscore form.
	for key := range StatusMap {
		display := strings.ReplaceAll(key, "_", " ")
		assert.Equal(t, key, CanonicalStatus(display))
	}
}

func TestIsCriticalPriority(t *testing.T) {
	assert.True(t, IsCriticalPriority("High"))
	assert.True(t, IsCriticalPriority("urgent"))
	assert.True(t, IsCriticalPriority("Immediate"))
	assert.False(t, IsCriticalPriority("Normal"))
	assert.False(t, IsCriticalPriority("Low"))
}
