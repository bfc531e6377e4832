package watch

import (
	"strconv"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/convoy/internal/dispatch"
	"github.com/mattjoyce/convoy/internal/pool"
)

func newPoolTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Pool", Width: 16},
			{Title: "Workers", Width: 7},
			{Title: "Avail", Width: 5},
			{Title: "EnRoute", Width: 7},
			{Title: "Working", Width: 7},
			{Title: "Return", Width: 6},
			{Title: "Pending", Width: 7},
			{Title: "Active", Width: 6},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func poolRows(pools []dispatch.PoolSummary) []table.Row {
	rows := make([]table.Row, 0, len(pools))
	for _, p := range pools {
		rows = append(rows, table.Row{
			p.Config.ID,
			strconv.Itoa(p.Config.WorkerCount),
			strconv.Itoa(p.Workers[pool.StatusAvailable]),
			strconv.Itoa(p.Workers[pool.StatusEnRoute]),
			strconv.Itoa(p.Workers[pool.StatusWorking]),
			strconv.Itoa(p.Workers[pool.StatusReturning]),
			strconv.Itoa(p.Pending),
			strconv.Itoa(p.Active),
		})
	}
	return rows
}

func renderPools(t table.Model, empty bool, theme Theme, width int) string {
	body := t.View()
	if empty {
		body = theme.Dim.Render("  No pools registered.")
	}
	content := lipgloss.JoinVertical(lipgloss.Left, theme.Title.Render("POOLS"), body)
	return theme.Border.Width(width - 4).Render(content)
}
