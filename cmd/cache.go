package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"redgate/internal/cache"
	"redgate/internal/output"
)

var cacheServerURL string

var cacheCmd = &cobra.Command{
	Use:       "cache [on|off|refresh|status]",
	Short:     "Control a running gateway's analytics cache",
	Long:      "Send a cache-control action to a running gateway and print the result.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off", "refresh", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCacheAction(args[0])
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.Flags().StringVar(&cacheServerURL, "server", "http://localhost:3001", "Gateway base URL")
}

type cacheControlResponse struct {
	Success   bool        `json:"success"`
	Status    string      `json:"status"`
	Error     string      `json:"error"`
	CacheInfo *cache.Info `json:"cache_info"`
}

func runCacheAction(action string) error {
	body, _ := json.Marshal(map[string]string{"action": action})
	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Post(cacheServerURL+"/api/redmine-cache", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gateway unreachable at %s: %w", cacheServerURL, err)
	}
	defer resp.Body.Close()

	var result cacheControlResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	if !result.Success {
		if result.Error != "" {
			return fmt.Errorf("cache %s failed: %s", action, result.Error)
		}
		return fmt.Errorf("cache %s failed (HTTP %d)", action, resp.StatusCode)
	}

	switch action {
	case "off":
		ui.Success("cache disabled")
		return nil
	case "on":
		ui.Success("cache enabled")
	case "refresh":
		ui.Success("cache refreshed")
	}

	if result.CacheInfo != nil {
		printCacheInfo(result.CacheInfo)
	}
	return nil
}

func printCacheInfo(info *cache.Info) {
	state := output.Red("disabled")
	if info.Enabled {
		state = output.Green("enabled")
	}
	freshness := output.Green("fresh")
	if !info.Initialized {
		freshness = output.Yellow("uninitialized")
	} else if info.Stale {
		freshness = output.Yellow("stale")
	}
	age := "-"
	if info.AgeSeconds != nil {
		age = strconv.Itoa(*info.AgeSeconds) + "s"
	}
	ui.Info("cache %s, %s (age %s, ttl %ds)", state, freshness, age, info.TTLSeconds)

	table := ui.Table([]string{"TABLE", "ROWS"})
	table.Append([]string{"issues", strconv.Itoa(info.Counts.Issues)})
	table.Append([]string{"projects", strconv.Itoa(info.Counts.Projects)})
	table.Append([]string{"versions", strconv.Itoa(info.Counts.Versions)})
	table.Append([]string{"users", strconv.Itoa(info.Counts.Users)})
	table.Render()

	if info.Truncated {
		ui.Warning("issue fetch truncated: %d of %d issues cached", info.Counts.Issues, info.TotalCount)
	}
	for _, ee := range info.EndpointErrors {
		ui.Warning("endpoint %s unavailable (HTTP %d %s)", ee.Endpoint, ee.Status, ee.Kind)
	}
	if info.LastError != "" {
		ui.Warning("last refresh error: %s", info.LastError)
	}
}
