package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	d, ok := Lookup("bug_analytics")
	require.True(t, ok)
	assert.Equal(t, CategoryAnalytics, d.Category)

	_, ok = Lookup("delete_everything")
	assert.False(t, ok)
}

func TestEnabledCategories(t *testing.T) {
	assert.Equal(t, []string{CategoryAnalytics, CategoryCache, CategoryCore},
		EnabledCategories(nil), "empty map enables everything, in precedence order")

	assert.Equal(t, []string{CategoryCore},
		EnabledCategories(map[string]bool{CategoryCore: true}))

	assert.Empty(t, EnabledCategories(map[string]bool{"media-tools": true}),
		"unknown categories never leak into the set")
}

func TestForCategory(t *testing.T) {
	core := ForCategory(CategoryCore, nil)
	require.Len(t, core, 3)
	for _, d := range core {
		assert.Equal(t, CategoryCore, d.Category)
	}

	assert.Nil(t, ForCategory(CategoryAnalytics, map[string]bool{CategoryCore: true}),
		"disabled category yields no tools")
}

func TestMatchKeyword(t *testing.T) {
	cases := []struct {
		name      string
		utterance string
		enabled   map[string]bool
		want      string
		hit       bool
	}{
		{"analytics term", "how is the sprint going?", nil, CategoryAnalytics, true},
		{"analytics beats core", "show me bug metrics for the project", nil, CategoryAnalytics, true},
		{"cache term", "refresh the data please", nil, CategoryCache, true},
		{"core term", "show me ticket 42", nil, CategoryCore, true},
		{"case insensitive", "SPRINT STATUS?", nil, CategoryAnalytics, true},
		{"no hit", "hello there", nil, "", false},
		{
			"disabled category is skipped",
			"sprint status please",
			map[string]bool{CategoryCore: true},
			"", false,
		},
		{
			"falls through to next enabled hit",
			"any blocked tickets?",
			map[string]bool{CategoryCore: true},
			CategoryCore, true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, hit := MatchKeyword(tc.utterance, tc.enabled)
			assert.Equal(t, tc.hit, hit)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestToAnthropic(t *testing.T) {
	d, ok := Lookup("cache_control")
	require.True(t, ok)

	tool := d.ToAnthropic()
	require.NotNil(t, tool.OfTool)
	assert.Equal(t, "cache_control", tool.OfTool.Name)
	assert.Equal(t, []string{"action"}, tool.OfTool.InputSchema.Required)

	props, ok := tool.OfTool.InputSchema.Properties.(map[string]any)
	require.True(t, ok)
	action, ok := props["action"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", action["type"])
	assert.Equal(t, []string{"on", "off", "refresh", "status"}, action["enum"])
}

func TestCatalogueNamesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, d := range All() {
		assert.False(t, seen[d.Name], "duplicate tool name %s", d.Name)
		seen[d.Name] = true
		assert.NotEmpty(t, d.Description)
		assert.Contains(t, []string{CategoryCore, CategoryAnalytics, CategoryCache}, d.Category)
	}
}
