package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/zhoujie-jay/kcore/internal/bcache"
	"github.com/zhoujie-jay/kcore/internal/queue"
)

const maxLogLines = 100

//nolint:gochecknoglobals
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	borderStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Padding(0, 1)
)

// StatusMsg is a [tea.Msg] carrying a snapshot of the watched state.
type StatusMsg struct {
	t        time.Time
	workload queue.Progress
	cache    bcache.Stats
}

// TeaModel is the [tea.Model] of the monitor.
type TeaModel struct {
	width  int
	height int

	cancel context.CancelFunc

	uiHandler *Handler

	fullWidthWithBorders  int
	splitWidthWithBorders int

	workloadData workloadSnapshot
	cacheData    bcache.Stats

	workloadProgress progress.Model
	cacheProgress    progress.Model
	logsViewport     viewport.Model
	logs             []string

	ready bool
}

// workloadSnapshot is a workload progress with the time it was taken.
type workloadSnapshot struct {
	queue.Progress

	at time.Time
}

// NewTeaModel returns an initial new [TeaModel].
//
//nolint:mnd
func NewTeaModel(uiHandler *Handler, cancel context.CancelFunc) TeaModel {
	return TeaModel{
		uiHandler: uiHandler,
		workloadProgress: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(80),
		),
		cacheProgress: progress.New(
			progress.WithGradient("#5A56E0", "#EE6FF8"),
			progress.WithWidth(80),
		),
		logsViewport: viewport.New(80, 20),
		logs:         make([]string, 0, maxLogLines),
		cancel:       cancel,
	}
}

// Init schedules the first status update.
func (m TeaModel) Init() tea.Cmd {
	return tea.Batch(
		tea.EnterAltScreen,
		updateStatus(m.uiHandler),
	)
}

// updateStatus produces a [tea.Cmd] that returns a [StatusMsg] after a short
// tick.
func updateStatus(h *Handler) tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { //nolint:mnd
		msg := StatusMsg{t: t}

		if h.workload != nil {
			msg.workload = h.workload.Progress()
		}

		if h.cache != nil {
			msg.cache = h.cache.Stats()
		}

		return msg
	})
}

func (m *TeaModel) renderLogs() {
	logs := lipgloss.NewStyle().
		Width(m.logsViewport.Width).
		Render(strings.TrimSuffix(strings.Join(m.logs, ""), "\n"))

	m.logsViewport.SetContent(logs)
	m.logsViewport.GotoBottom()
}

// Update handles a message and returns the updated model.
//
//nolint:mnd,ireturn
func (m TeaModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.cancel()

			return m, tea.Quit
		case "q":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		m.fullWidthWithBorders = m.width - 2
		m.splitWidthWithBorders = (m.width / 2) - 2

		m.workloadProgress.Width = m.splitWidthWithBorders
		m.cacheProgress.Width = m.splitWidthWithBorders

		// Upper panels take about 40% of the height, the logs the rest
		// minus borders and title.
		upperHeight := m.height * 2 / 5
		m.logsViewport.Width = m.fullWidthWithBorders
		m.logsViewport.Height = max(m.height-upperHeight-3, 1)

		if len(m.logs) > 0 {
			m.renderLogs()
		}

		if !m.ready {
			m.ready = true
			m.uiHandler.Ready.Store(true)
		}

	case StatusMsg:
		m.workloadData = workloadSnapshot{Progress: msg.workload, at: msg.t}
		m.cacheData = msg.cache

		var utilisation float64
		if msg.cache.Present > 0 {
			utilisation = float64(msg.cache.InUse) / float64(msg.cache.Present)
		}

		cmds = append(cmds,
			m.workloadProgress.SetPercent(msg.workload.ProgressPct/100),
			m.cacheProgress.SetPercent(utilisation),
			updateStatus(m.uiHandler),
		)

	case LogMsg:
		if len(m.logs) >= maxLogLines {
			m.logs = m.logs[1:]
		}
		m.logs = append(m.logs, string(msg))

		m.renderLogs()

	case progress.FrameMsg:
		updated, cmd := m.workloadProgress.Update(msg)
		if progressModel, ok := updated.(progress.Model); ok {
			m.workloadProgress = progressModel
		}
		cmds = append(cmds, cmd)

		updated, cmd = m.cacheProgress.Update(msg)
		if progressModel, ok := updated.(progress.Model); ok {
			m.cacheProgress = progressModel
		}
		cmds = append(cmds, cmd)
	}

	m.logsViewport, cmd = m.logsViewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// View renders the model.
func (m TeaModel) View() string {
	if !m.ready {
		return "Loading the monitor..."
	}

	upper := lipgloss.JoinHorizontal(
		lipgloss.Top,
		borderStyle.Width(m.splitWidthWithBorders).Render(m.panel("Workload", m.workloadProgress.View(), m.workloadDetails())),
		borderStyle.Width(m.splitWidthWithBorders).Render(m.panel("Block Cache", m.cacheProgress.View(), m.cacheDetails())),
	)

	logsSection := borderStyle.
		Width(m.fullWidthWithBorders).
		Render(
			lipgloss.JoinVertical(
				lipgloss.Left,
				titleStyle.Width(m.fullWidthWithBorders).Render("Kernel Log"),
				lipgloss.NewStyle().Width(m.fullWidthWithBorders).Render(m.logsViewport.View()),
			),
		)

	helpSection := helpStyle.
		Width(m.fullWidthWithBorders).
		Render("q: quit monitor • ctrl+c: stop workload")

	return lipgloss.JoinVertical(
		lipgloss.Left,
		upper,
		logsSection,
		helpSection,
	)
}

func (m TeaModel) panel(title string, bar string, details string) string {
	return lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Width(m.splitWidthWithBorders).Render(title),
		"",
		bar,
		"",
		infoStyle.Width(m.splitWidthWithBorders).Render(details),
	)
}

func (m TeaModel) workloadDetails() string {
	p := m.workloadData

	var speed string
	if p.TransferSpeedUnit == queue.UnitBytes {
		speed = humanize.IBytes(uint64(p.TransferSpeed)) + "/s"
	} else {
		speed = fmt.Sprintf("%d %s", int(p.TransferSpeed), p.TransferSpeedUnit)
	}

	details := fmt.Sprintf(
		"Progress: %.2f%% (%d/%d)\n"+
			"Jobs: InProgress=%d, Success=%d, Failed=%d\n"+
			"Moved: %s (%s)\n",
		p.ProgressPct,
		p.ProcessedItems,
		p.TotalItems,
		p.InProgressItems,
		p.SuccessItems,
		p.FailedItems,
		humanize.IBytes(p.Bytes),
		speed,
	)

	switch {
	case p.HasFinished:
		details += fmt.Sprintf("Time: Started=%v, Finished=%v\n",
			p.StartTime.Format(time.TimeOnly),
			p.FinishTime.Format(time.TimeOnly),
		)
	case !p.ETA.IsZero():
		details += fmt.Sprintf("Time: Started=%v, ETA=%v (%s left)\n",
			p.StartTime.Format(time.TimeOnly),
			p.ETA.Format(time.TimeOnly),
			p.ETA.Sub(p.at).Round(time.Second),
		)
	}

	return details
}

func (m TeaModel) cacheDetails() string {
	st := m.cacheData

	return fmt.Sprintf(
		"Blocks: InUse=%d, Free=%d, Dropped=%d\n"+
			"Areas: %d of %s x %d (%s mapped)\n"+
			"Traffic: Acquired=%d, Released=%d\n"+
			"Areas over time: Added=%d, Unmapped=%d\n",
		st.InUse,
		st.Free,
		st.Dropped,
		st.Areas,
		humanize.IBytes(uint64(st.BlockSize)), //nolint:gosec
		st.BlocksPerArea,
		humanize.IBytes(st.MappedBytes),
		st.Acquired,
		st.Released,
		st.AreasAdded,
		st.AreasUnmapped,
	)
}
