package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/convoy/internal/api"
	"github.com/mattjoyce/convoy/internal/dispatch"
)

const tickEventType = "scheduler.tick"

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	ctx    context.Context
	client API
	now    func() time.Time

	width  int
	height int

	health    api.HealthzResponse
	connected bool
	pools     []dispatch.PoolSummary
	workers   *api.WorkersResponse
	poolTable table.Model
	eventLog  []logEntry
	lastID    int64

	ticker  Ticker
	spinner Spinner
	theme   Theme

	hubEvents chan api.StreamEvent
	lastError string
}

// New creates a watch model. The event stream lives until ctx is done.
func New(ctx context.Context, client API) *Model {
	return &Model{
		ctx:       ctx,
		client:    client,
		now:       time.Now,
		poolTable: newPoolTable(),
		hubEvents: make(chan api.StreamEvent, 100),
		ticker:    NewTicker(),
		theme:     NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribe(m.ctx, m.client, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		fetchSnapshot(m.client, ""),
		tea.EnterAltScreen,
	)
}

// selectedPool returns the id under the table cursor, or "".
func (m Model) selectedPool() string {
	i := m.poolTable.Cursor()
	if i < 0 || i >= len(m.pools) {
		return ""
	}
	return m.pools[i].Config.ID
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		before := m.selectedPool()
		var cmd tea.Cmd
		m.poolTable, cmd = m.poolTable.Update(msg)
		if after := m.selectedPool(); after != before && after != "" {
			return m, tea.Batch(cmd, fetchWorkers(m.client, after))
		}
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.poolTable.SetWidth(m.width - 6)

	case refreshMsg:
		m.spinner.Decay(time.Time(msg))
		return m, fetchSnapshot(m.client, m.selectedPool())

	case snapshotMsg:
		m.health = msg.health
		m.pools = msg.pools.Pools
		m.poolTable.SetRows(poolRows(m.pools))
		if msg.workers != nil {
			m.workers = msg.workers
		}
		m.connected = true
		m.lastError = ""
		return m, scheduleRefresh(refreshInterval)

	case workersMsg:
		if msg.resp.Pool == m.selectedPool() {
			m.workers = &msg.resp
		}

	case eventMsg:
		ev := api.StreamEvent(msg)
		if ev.ID > m.lastID {
			m.lastID = ev.ID
		}
		now := m.now()
		if ev.Type == tickEventType {
			m.ticker.Tick(now)
		} else {
			m.eventLog = append([]logEntry{{at: now, ev: ev}}, m.eventLog...)
			if len(m.eventLog) > maxEventLog {
				m.eventLog = m.eventLog[:maxEventLog]
			}
			m.spinner.OnEvent(now)
		}
		m.connected = true
		return m, receiveNextEvent(m.hubEvents)

	case sseDisconnectedMsg:
		if m.ctx.Err() != nil {
			return m, nil
		}
		m.connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		if msg.err != nil {
			m.lastError = fmt.Sprintf("event stream: %v; reconnecting...", msg.err)
		}
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribe(m.ctx, m.client, m.lastID, m.hubEvents)

	case errMsg:
		m.connected = false
		m.lastError = msg.err.Error()
		return m, scheduleRefresh(5 * refreshInterval)
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to convoy..."
	}
	now := m.now()

	parts := []string{
		renderHeader(m.health, m.connected, m.ticker, m.spinner, m.theme, m.width, now),
		renderPools(m.poolTable, len(m.pools) == 0, m.theme, m.width),
		renderWorkers(m.workers, m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failed.Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Select pool"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
