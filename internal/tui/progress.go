package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/searchflow/internal/workflow/driver"
	"github.com/kingrea/searchflow/internal/workflow/engine"
	"github.com/kingrea/searchflow/internal/workflow/failure"
	"github.com/kingrea/searchflow/internal/workflow/task"
)

var (
	labelStyleDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyleReady   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	labelStyleSkipped = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	labelStyleDefault = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	detailTextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	titleStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")).MarginBottom(1)
)

// TransitionMsg reports one task state change to the monitor.
type TransitionMsg struct {
	Task  string
	From  task.State
	To    task.State
	Error string
}

// PassMsg reports a finished scheduling pass.
type PassMsg engine.PassSummary

// DoneMsg ends the monitor once the drive returns.
type DoneMsg struct {
	Report driver.Report
	Err    error
}

type taskRow struct {
	name  string
	state task.State
	err   string
}

// Progress is the bubbletea model of a running pipeline.
type Progress struct {
	title   string
	rows    []taskRow
	index   map[string]int
	passes  int
	spinner spinner.Model
	bar     progress.Model
	width   int

	done    bool
	result  DoneMsg
	aborted bool
}

// NewProgress lists tasks in their current states.
func NewProgress(title string, tasks []task.Task) *Progress {
	p := &Progress{
		title:   title,
		index:   make(map[string]int, len(tasks)),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(labelStyleRunning)),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
	for _, t := range tasks {
		name := task.Name(t)
		p.index[name] = len(p.rows)
		p.rows = append(p.rows, taskRow{name: name, state: t.State()})
	}
	return p
}

// Aborted reports whether the user quit before the drive finished.
func (p *Progress) Aborted() bool {
	return p.aborted
}

// Init starts the spinner.
func (p *Progress) Init() tea.Cmd {
	return p.spinner.Tick
}

// Update is called when a message is received.
func (p *Progress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.width = msg.Width
		p.bar.Width = max(10, min(60, msg.Width-20))
		return p, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !p.done {
				p.aborted = true
			}
			return p, tea.Quit
		}
		return p, nil

	case TransitionMsg:
		idx, ok := p.index[msg.Task]
		if !ok {
			idx = len(p.rows)
			p.index[msg.Task] = idx
			p.rows = append(p.rows, taskRow{name: msg.Task})
		}
		p.rows[idx].state = msg.To
		if msg.Error != "" {
			p.rows[idx].err = msg.Error
		}
		return p, nil

	case PassMsg:
		p.passes = msg.Pass
		return p, nil

	case DoneMsg:
		p.done = true
		p.result = msg
		return p, tea.Quit

	case spinner.TickMsg:
		if p.done {
			return p, nil
		}
		var cmd tea.Cmd
		p.spinner, cmd = p.spinner.Update(msg)
		return p, cmd
	}
	return p, nil
}

// View renders one line per task, the overall progress and a footer.
func (p *Progress) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("⬡ " + p.title))
	b.WriteString("\n")

	nameWidth := 8
	for _, row := range p.rows {
		nameWidth = max(nameWidth, lipgloss.Width(row.name))
	}
	terminal := 0
	for _, row := range p.rows {
		if row.state.IsTerminal() {
			terminal++
		}
		line := fmt.Sprintf("%s %-*s  %s", p.marker(row.state), nameWidth, row.name, stateLabel(row.state))
		if row.err != "" {
			line += detailTextStyle.Render("  " + row.err)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	fraction := 1.0
	if len(p.rows) > 0 {
		fraction = float64(terminal) / float64(len(p.rows))
	}
	b.WriteString("\n")
	b.WriteString(p.bar.ViewAs(fraction))
	b.WriteString(detailTextStyle.Render(fmt.Sprintf("  %d/%d tasks · pass %d", terminal, len(p.rows), p.passes)))
	b.WriteString("\n\n")
	b.WriteString(p.footer())
	b.WriteString("\n")
	return b.String()
}

func (p *Progress) footer() string {
	if !p.done {
		return detailTextStyle.Render("q to stop")
	}
	if p.result.Err != nil {
		return labelStyleFailed.Render("Stopped: " + failure.DetailedMessage(p.result.Err))
	}
	summary := fmt.Sprintf("Finished in %s after %d passes", p.result.Report.Elapsed.Round(time.Millisecond), p.result.Report.Passes)
	if p.result.Report.Succeeded() {
		return labelStyleDone.Render(summary)
	}
	return labelStyleFailed.Render(fmt.Sprintf("%s with %d failures", summary, len(p.result.Report.Failures)))
}

func (p *Progress) marker(s task.State) string {
	switch s {
	case task.Running:
		return p.spinner.View()
	case task.CompletedSuccessfully:
		return labelStyleDone.Render("✓")
	case task.RunFailed:
		return labelStyleFailed.Render("✗")
	case task.InitFailed:
		return labelStyleSkipped.Render("-")
	default:
		return labelStyleDefault.Render("·")
	}
}

func stateLabel(s task.State) string {
	style := labelStyleDefault
	switch s {
	case task.CompletedSuccessfully:
		style = labelStyleDone
	case task.RunFailed:
		style = labelStyleFailed
	case task.Running:
		style = labelStyleRunning
	case task.Ready:
		style = labelStyleReady
	case task.InitFailed:
		style = labelStyleSkipped
	}
	return style.Render(s.String())
}
