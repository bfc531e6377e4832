package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/convoy/internal/api"
	"github.com/mattjoyce/convoy/internal/pool"
)

const maxWorkerLines = 12

func renderWorkers(resp *api.WorkersResponse, theme Theme, width int) string {
	innerWidth := width - 4
	if resp == nil {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("WORKERS"),
			theme.Dim.Render("  Select a pool."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	lines := make([]string, 0, len(resp.Workers))
	for i, w := range resp.Workers {
		if i == maxWorkerLines {
			lines = append(lines, theme.Dim.Render(fmt.Sprintf("  … %d more", len(resp.Workers)-maxWorkerLines)))
			break
		}
		lines = append(lines, formatWorker(w, resp.Now, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("WORKERS · "+resp.Pool),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatWorker(w pool.Worker, now float64, theme Theme) string {
	status := theme.StatusStyle(w.Status).Render(fmt.Sprintf("%-10s", w.Status))
	task := "-"
	if w.TaskID != "" {
		task = shortID(w.TaskID)
	}
	phase := ""
	if w.Status != pool.StatusAvailable {
		phase = fmt.Sprintf("%.1f/%.1fs", w.Elapsed(now), w.PhaseSeconds)
	}
	return fmt.Sprintf("#%-3d %s task %-8s at %-24s %s", w.Index, status, task, w.Location, phase)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
