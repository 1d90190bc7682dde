package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"analytics-hub-backend/internal/infrastructure/observability"
	appErrors "analytics-hub-backend/pkg/errors"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true)
	healthyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	degradedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	unhealthyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func statusCmd() *cobra.Command {
	var (
		url     string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running instance and print its health summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			summary, err := fetchSummary(ctx, url)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSummary(summary))
			if summary.Status != observability.StatusHealthy {
				return fmt.Errorf("service is %s", summary.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:8000", "base URL of the service")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}

func fetchSummary(ctx context.Context, baseURL string) (observability.HealthSummary, error) {
	var summary observability.HealthSummary

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/health", nil)
	if err != nil {
		return summary, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return summary, appErrors.NewUnavailable("failed to reach service", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return summary, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return summary, appErrors.NewNotFound(fmt.Sprintf("no health endpoint at %s (%s)", baseURL, resp.Status))
	}
	if err := json.Unmarshal(body, &summary); err != nil || summary.Status == "" {
		return summary, fmt.Errorf("unexpected response (%s): %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return summary, nil
}

func renderSummary(s observability.HealthSummary) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Status: "))
	b.WriteString(statusStyle(s.Status).Render(s.Status))
	b.WriteString(mutedStyle.Render("  " + s.Timestamp.Format(time.RFC3339)))
	b.WriteString("\n")

	names := make([]string, 0, len(s.Checks))
	width := 0
	for name := range s.Checks {
		names = append(names, name)
		width = max(width, lipgloss.Width(name))
	}
	sort.Strings(names)

	nameStyle := lipgloss.NewStyle().Width(width + 2)
	for _, name := range names {
		c := s.Checks[name]
		mark := healthyStyle.Render("ok  ")
		if !c.Healthy {
			mark = unhealthyStyle.Render("FAIL")
		}
		fmt.Fprintf(&b, "  %s %s%s %s\n", mark, nameStyle.Render(name),
			c.Message, mutedStyle.Render(fmt.Sprintf("(%.2fms)", c.LatencyMs)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case observability.StatusHealthy:
		return healthyStyle
	case observability.StatusDegraded:
		return degradedStyle
	default:
		return unhealthyStyle
	}
}
