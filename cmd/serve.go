package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"redgate/internal/api"
	"redgate/internal/config"
	"redgate/internal/llm"
	"redgate/internal/redmine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat gateway HTTP server",
	Long: `Start the gateway's HTTP server: POST /api/chat for conversations,
POST /api/redmine-cache for cache control, GET /api/health for liveness.
The listen port comes from the PORT environment variable (default 3001).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := buildGateway()
		if err != nil {
			return err
		}

		llmClient := llm.NewClient(gw.cfg.LLMAPIKey, gw.cfg.LLMModel)
		selector := llm.NewSelector(llmClient, llmClient.Model(), gw.logger)
		loop := llm.NewLoop(llmClient, llmClient.Model(), gw.executor, gw.cfg.DeadlineReserve, gw.logger)
		server := api.NewServer(gw.cfg, gw.engine, selector, loop, gw.logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		verifyEnums(ctx, gw)

		httpServer := &http.Server{
			Addr:              fmt.Sprintf(":%d", gw.cfg.Port),
			Handler:           server.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			gw.logger.Info("gateway listening", "port", gw.cfg.Port, "model", gw.cfg.LLMModel)
			errCh <- httpServer.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			gw.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// verifyEnums compares the compiled-in identifier maps against the
// tracker's enumeration endpoints and warns on drift. Best effort: an
// unreachable tracker at boot only logs.
func verifyEnums(ctx context.Context, gw *gateway) {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	checks := []struct {
		name     string
		expected map[string]int
		list     func(context.Context) ([]redmine.Enum, error)
	}{
		{"status", config.StatusMap, gw.tracker.ListStatuses},
		{"tracker", config.TrackerMap, gw.tracker.ListTrackers},
		{"priority", config.PriorityMap, gw.tracker.ListPriorities},
	}
	for _, check := range checks {
		enums, err := check.list(checkCtx)
		if err != nil {
			gw.logger.Warn("enum verification skipped", "enum", check.name, "error", err)
			continue
		}
		byID := map[int]string{}
		for _, e := range enums {
			byID[e.ID] = e.Name
		}
		for name, id := range check.expected {
			got, ok := byID[id]
			if !ok {
				gw.logger.Warn("configured enum id missing from tracker",
					"enum", check.name, "name", name, "id", id)
				continue
			}
			if config.CanonicalStatus(got) != name {
				gw.logger.Warn("configured enum name disagrees with tracker",
					"enum", check.name, "id", id, "configured", name, "tracker", got)
			}
		}
	}
}
