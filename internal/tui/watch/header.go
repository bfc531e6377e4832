package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/convoy/internal/api"
)

const tickStaleAfter = 5 * time.Second

func renderHeader(health api.HealthzResponse, connected bool, ticker Ticker, spinner Spinner, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	statusText := theme.Available.Render("RUNNING")
	switch {
	case !connected:
		statusText = theme.Failed.Render("CONNECTING")
	case health.Status != "ok":
		statusText = theme.Failed.Render("DEGRADED")
	case ticker.Stale(now, tickStaleAfter):
		statusText = theme.Working.Render("NOT TICKING")
	}

	titleText := fmt.Sprintf(" CONVOY WATCH %s", theme.Highlight.Render(ticker.Current()))
	clock := theme.Dim.Render(now.Format("15:04:05"))
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  sim t=%.1fs  Pools: %d  Pending: %d",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.Now,
		health.Pools,
		health.Pending,
	)
	if health.EventsDropped > 0 {
		statsLine += theme.Failed.Render(fmt.Sprintf("  dropped events: %d", health.EventsDropped))
	}

	lastEventStr := "never"
	if last := spinner.LastEvent(); !last.IsZero() {
		lastEventStr = fmt.Sprintf("%s ago", now.Sub(last).Round(time.Second))
	}
	activityLine := fmt.Sprintf(" Last task event: %s %s", lastEventStr, spinner.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
