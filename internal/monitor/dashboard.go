// Package monitor implements the live terminal dashboard for the active
// project: reference points, the calculation pipeline and the committed
// position, refreshed whenever the project store changes on disk.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/jonboulle/clockwork"

	"github.com/fyrsmithlabs/trilat/internal/calculation"
	"github.com/fyrsmithlabs/trilat/internal/project"
	"github.com/fyrsmithlabs/trilat/internal/workspace"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	refreshInterval = time.Second
	eventBuffer     = 16
)

var errNoSolver = errors.New("no solver configured")

// Options configures the dashboard.
type Options struct {
	Store      *project.Store
	Controller *workspace.Controller

	// Orchestrator is optional; without it the dashboard only shows points.
	// It must already be bound to Controller.
	Orchestrator *calculation.Orchestrator

	// Changes signals that the store was modified outside this process.
	Changes <-chan struct{}

	// Threshold is the promotion confidence used to rate estimates
	// (default: calculation.DefaultConfidence).
	Threshold float64

	Clock clockwork.Clock
}

// Model is the bubbletea dashboard model.
type Model struct {
	ctx       context.Context
	store     *project.Store
	ctrl      *workspace.Controller
	orch      *calculation.Orchestrator
	events    chan calculation.Event
	changes   <-chan struct{}
	threshold float64
	clock     clockwork.Clock

	lastUpdate time.Time
	history    []float64 // confidence of previews and committed results
	status     string
	err        error
	quitting   bool

	pointsProgress progress.Model
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard model and subscribes it to the orchestrator.
func NewModel(ctx context.Context, opts Options) Model {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Threshold <= 0 {
		opts.Threshold = calculation.DefaultConfidence
	}
	m := Model{
		ctx:       ctx,
		store:     opts.Store,
		ctrl:      opts.Controller,
		orch:      opts.Orchestrator,
		events:    make(chan calculation.Event, eventBuffer),
		changes:   opts.Changes,
		threshold: opts.Threshold,
		clock:     opts.Clock,
		history:   make([]float64, 0, historySize),
		pointsProgress: progress.New(
			progress.WithGradient("#ff0000", "#00ff00"),
			progress.WithWidth(40),
		),
	}
	if m.orch != nil {
		events := m.events
		m.orch.Subscribe(func(ev calculation.Event) {
			// The view reads pipeline state directly; dropped events only
			// lose a history sample.
			select {
			case events <- ev:
			default:
			}
		})
	}
	return m
}

// stateBadge renders the pipeline state.
func stateBadge(s calculation.State) string {
	switch s {
	case calculation.Committed:
		return healthyStyle.Render("✓ COMMITTED")
	case calculation.Validating, calculation.PreviewPending:
		return warningStyle.Render("… CALCULATING")
	case calculation.AwaitingMoreData:
		return warningStyle.Render("⚠ NEEDS MORE DATA")
	default:
		return dimStyle.Render("IDLE")
	}
}

// confidenceBadge rates a confidence against the promotion threshold.
func confidenceBadge(confidence, threshold float64) string {
	switch {
	case confidence > threshold:
		return healthyStyle.Render("[✓]")
	case confidence > threshold/2:
		return warningStyle.Render("[⚠]")
	default:
		return errorStyle.Render("[✗]")
	}
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type eventMsg calculation.Event
type changedMsg struct{}
type projectMsg struct{ project *project.Project }
type savedMsg struct{}
type errMsg error

// Init loads the active project and starts listening for changes.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(),
		reload(m.ctx, m.store),
		waitForEvent(m.events),
		waitForChange(m.changes),
	)
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// reload reads the active project from the store.
func reload(ctx context.Context, store *project.Store) tea.Cmd {
	return func() tea.Msg {
		p, err := store.GetActiveProject(ctx)
		if err != nil {
			return errMsg(err)
		}
		return projectMsg{project: p}
	}
}

func waitForEvent(events <-chan calculation.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-events)
	}
}

func waitForChange(changes <-chan struct{}) tea.Cmd {
	if changes == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return changedMsg{}
	}
}

// save persists the working project.
func save(ctx context.Context, ctrl *workspace.Controller) tea.Cmd {
	return func() tea.Msg {
		err := ctrl.Save(ctx)
		switch {
		case errors.Is(err, workspace.ErrSaveInProgress), errors.Is(err, workspace.ErrNoProject):
			return nil
		case err != nil:
			return errMsg(err)
		}
		return savedMsg{}
	}
}

// calculate runs a manual calculation. Its outcome arrives as an event.
func calculate(ctx context.Context, orch *calculation.Orchestrator) tea.Cmd {
	return func() tea.Msg {
		if _, err := orch.Calculate(ctx); err != nil {
			return errMsg(err)
		}
		return nil
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, reload(m.ctx, m.store)
		case "c":
			if m.orch == nil {
				m.err = errNoSolver
				return m, nil
			}
			m.err = nil
			m.status = "calculating"
			return m, calculate(m.ctx, m.orch)
		case "a":
			p := m.ctrl.Project()
			if p == nil {
				return m, nil
			}
			if err := m.ctrl.SetAutoCalculate(!p.Data.Settings.AutoCalculate); err != nil {
				m.err = err
				return m, nil
			}
			return m, save(m.ctx, m.ctrl)
		}

	case tickMsg:
		return m, tick()

	case changedMsg:
		return m, tea.Batch(waitForChange(m.changes), reload(m.ctx, m.store))

	case projectMsg:
		if msg.project == nil {
			m.ctrl.Unload()
		} else {
			m.ctrl.Sync(msg.project)
		}
		m.lastUpdate = m.clock.Now()
		m.err = nil
		return m, nil

	case eventMsg:
		return m.applyEvent(calculation.Event(msg))

	case savedMsg:
		m.status = "saved"
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// applyEvent records a pipeline event. Committed, cleared and failed
// results have already been written to the working project and are saved.
func (m Model) applyEvent(ev calculation.Event) (tea.Model, tea.Cmd) {
	next := waitForEvent(m.events)
	m.lastUpdate = m.clock.Now()

	switch ev.Kind {
	case calculation.EventPreview:
		if ev.Preview != nil && ev.Preview.Ready && ev.Preview.Estimate != nil {
			m.history = appendToHistory(m.history, ev.Preview.Confidence())
		}
		return m, next
	case calculation.EventCommitted:
		m.history = appendToHistory(m.history, ev.Result.Confidence)
		m.status = "position committed"
		m.err = nil
	case calculation.EventCleared:
		m.status = "results cleared"
	case calculation.EventFailed:
		m.err = ev.Err
	default:
		return m, next
	}
	return m, tea.Batch(next, save(m.ctx, m.ctrl))
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	p := m.ctrl.Project()
	if p == nil {
		return m.renderEmpty()
	}
	return m.renderDashboard(p)
}

func (m Model) renderEmpty() string {
	var content strings.Builder
	content.WriteString(headerStyle.Render(" trilat watch ") + "\n\n")
	content.WriteString(warningStyle.Render("No active project") + "\n\n")
	content.WriteString(dimStyle.Render("Create or select one with:") + "\n")
	content.WriteString(dimStyle.Render("  trilat project create <name>") + "\n")
	content.WriteString(dimStyle.Render("  trilat project use <id>") + "\n")
	if m.err != nil {
		content.WriteString("\n" + errorStyle.Render("Error: "+m.err.Error()) + "\n")
	}
	content.WriteString(m.renderFooter())
	return containerStyle.Render(content.String())
}

func (m Model) renderDashboard(p *project.Project) string {
	var content strings.Builder

	badge := dimStyle.Render("MANUAL (no solver)")
	if m.orch != nil {
		badge = stateBadge(m.orch.State())
	}
	content.WriteString(headerStyle.Render(" trilat watch ") + "\n")
	content.WriteString(fmt.Sprintf("%s   %s   %s\n",
		badge,
		valueStyle.Render(p.Name),
		dimStyle.Render("updated "+FormatAge(m.clock.Now(), m.lastUpdate))))

	// Reference points
	points := p.Data.ReferencePoints
	content.WriteString(sectionStyle.Render("┃ Reference Points") + "\n")
	if len(points) == 0 {
		content.WriteString(dimStyle.Render("  No reference points yet") + "\n")
	}
	for i, rp := range points {
		content.WriteString(fmt.Sprintf("  %s %s  %s  %s\n",
			labelStyle.Render(fmt.Sprintf("%2d", i+1)),
			valueStyle.Render(FormatCoord(rp.Lat, rp.Lng)),
			FormatDistance(rp.Distance),
			dimStyle.Render(FormatAccuracy(rp.Accuracy))))
	}
	pct := workspace.Progress(len(points))
	content.WriteString(labelStyle.Render("  Collected: ") +
		m.pointsProgress.ViewAs(pct/100) + " " +
		dimStyle.Render(fmt.Sprintf("%d/%d points", len(points), workspace.OptimalPoints)) + "\n")
	auto := "off"
	if p.Data.Settings.AutoCalculate {
		auto = "on"
	}
	content.WriteString(labelStyle.Render("  Auto-calculate: ") + valueStyle.Render(auto) +
		labelStyle.Render("  Project: ") + dimStyle.Render(m.ctrl.State().String()) + "\n")

	// Committed position
	content.WriteString(sectionStyle.Render("┃ Position") + "\n")
	if pos := p.Data.CalculatedPosition; pos != nil {
		content.WriteString(labelStyle.Render("  Target: ") + valueStyle.Render(FormatCoord(pos.Lat, pos.Lng)) + "\n")
		content.WriteString(labelStyle.Render("  Accuracy: ") + valueStyle.Render(fmt.Sprintf("±%.1f m", pos.Accuracy)) +
			labelStyle.Render("  Confidence: ") + valueStyle.Render(FormatPercentage(pos.Confidence)) + "\n")
		if pos.Method != "" {
			content.WriteString(labelStyle.Render("  Method: ") + dimStyle.Render(pos.Method) + "\n")
		}
	} else {
		content.WriteString(dimStyle.Render("  Not calculated") + "\n")
	}

	// Live estimate
	if m.orch != nil {
		content.WriteString(m.renderEstimate())
	}

	if m.status != "" {
		content.WriteString("\n" + dimStyle.Render(m.status) + "\n")
	}
	if m.err != nil {
		content.WriteString("\n" + errorStyle.Render("Error: "+m.err.Error()) + "\n")
	}
	content.WriteString(m.renderFooter())
	return containerStyle.Render(content.String())
}

func (m Model) renderEstimate() string {
	var content strings.Builder
	content.WriteString(sectionStyle.Render("┃ Live Estimate") + "\n")

	preview := m.orch.Preview()
	switch {
	case preview == nil:
		content.WriteString(dimStyle.Render("  Waiting for at least 3 points") + "\n")
	case !preview.Ready || preview.Estimate == nil:
		msg := preview.Message
		if msg == "" {
			msg = fmt.Sprintf("%d more points needed", preview.PointsNeeded)
		}
		content.WriteString(dimStyle.Render("  "+msg) + "\n")
	default:
		est := preview.Estimate
		content.WriteString(labelStyle.Render("  Estimate: ") + valueStyle.Render(FormatCoord(est.Lat, est.Lng)) +
			dimStyle.Render(fmt.Sprintf("  ±%.1f m", est.Accuracy)) + "\n")
		content.WriteString(labelStyle.Render("  Confidence: ") + valueStyle.Render(FormatPercentage(est.Confidence)) +
			" " + confidenceBadge(est.Confidence, m.threshold) + "\n")
	}
	content.WriteString(labelStyle.Render("  History: ") + createSparkline(m.history) + "\n")

	if v := m.orch.Validation(); v != nil {
		for _, w := range v.Warnings {
			content.WriteString(warningStyle.Render("  ⚠ "+w) + "\n")
		}
		for _, s := range v.Suggestions {
			content.WriteString(dimStyle.Render("  - "+s) + "\n")
		}
	}
	return content.String()
}

func (m Model) renderFooter() string {
	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" reload  ")
	if m.orch != nil {
		footer += footerKeyStyle.Render("[c]") + footerStyle.Render(" calculate  ")
	}
	footer += footerKeyStyle.Render("[a]") + footerStyle.Render(" toggle auto-calculate")
	return "\n" + footer
}
