package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/convoy/internal/api"
	"github.com/mattjoyce/convoy/internal/notify"
)

const (
	maxEventLog   = 50
	visibleEvents = 10
)

type logEntry struct {
	at time.Time
	ev api.StreamEvent
}

func renderEventStream(eventLog []logEntry, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= visibleEvents {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e logEntry, theme Theme) string {
	ts := theme.Dim.Render(e.at.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.ev.Type {
	case notify.TypeTaskCompleted:
		typeStyle = theme.Available
	case notify.TypeTaskCancelled:
		typeStyle = theme.Failed
	case notify.TypeWorkerAssigned:
		typeStyle = theme.EnRoute
	case notify.TypeWorkerArrived:
		typeStyle = theme.Working
	default:
		typeStyle = theme.Dim
	}
	typeName := typeStyle.Render(fmt.Sprintf("%-16s", e.ev.Type))

	return fmt.Sprintf("%s %s %s", ts, typeName, describeEvent(e.ev))
}

// describeEvent picks the identifying fields out of a notification payload.
func describeEvent(ev api.StreamEvent) string {
	var data struct {
		TaskID   string           `json:"task_id"`
		PoolID   string           `json:"pool_id"`
		WorkerID string           `json:"worker_id"`
		Type     string           `json:"type"`
		Reason   string           `json:"reason"`
		ETA      *float64         `json:"estimated_arrival_seconds"`
		Rewards  map[string]int64 `json:"rewards"`
	}
	if err := json.Unmarshal(ev.Data, &data); err != nil || data.TaskID == "" {
		raw := string(ev.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	parts := []string{fmt.Sprintf("[%s]", shortID(data.TaskID))}
	if data.PoolID != "" {
		parts = append(parts, data.PoolID)
	}
	if data.Type != "" {
		parts = append(parts, data.Type)
	}
	if data.WorkerID != "" {
		parts = append(parts, "worker "+shortID(data.WorkerID))
	}
	if data.ETA != nil {
		parts = append(parts, fmt.Sprintf("eta %.1fs", *data.ETA))
	}
	if data.Reason != "" {
		parts = append(parts, "("+data.Reason+")")
	}
	if len(data.Rewards) > 0 {
		parts = append(parts, fmt.Sprintf("rewards %d", len(data.Rewards)))
	}
	return strings.Join(parts, " ")
}
