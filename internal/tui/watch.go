// Package tui renders a live terminal view of one scan.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/CosmoTheDev/painscan/internal/gateway"
	"github.com/CosmoTheDev/painscan/internal/progress"
	"github.com/CosmoTheDev/painscan/models"
)

// StreamFunc follows a scan's event stream, calling fn for every event.
type StreamFunc func(ctx context.Context, fn func(gateway.StreamEvent) error) error

type eventMsg gateway.StreamEvent

type streamDoneMsg struct{ err error }

// WatchModel is the bubbletea model for `painscan watch`.
type WatchModel struct {
	scanID   string
	events   chan gateway.StreamEvent
	done     chan error
	spinner  spinner.Model
	logs     []models.LogEntry
	terminal *progress.Terminal
	err      error
	width    int
	height   int
	quitting bool
}

// NewWatchModel returns a model fed by stream. The stream runs until ctx
// is cancelled or the scan finishes.
func NewWatchModel(ctx context.Context, scanID string, stream StreamFunc) *WatchModel {
	m := &WatchModel{
		scanID:  scanID,
		events:  make(chan gateway.StreamEvent, 64),
		done:    make(chan error, 1),
		spinner: spinner.New(spinner.WithSpinner(spinner.MiniDot), spinner.WithStyle(lipgloss.NewStyle().Foreground(accent))),
		width:   100,
		height:  24,
	}
	go func() {
		err := stream(ctx, func(evt gateway.StreamEvent) error {
			select {
			case m.events <- evt:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		m.done <- err
	}()
	return m
}

// Run starts the bubbletea program.
func (m *WatchModel) Run() error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Terminal returns the final notification, if one arrived.
func (m *WatchModel) Terminal() *progress.Terminal { return m.terminal }

// Err returns the stream error, if any.
func (m *WatchModel) Err() error { return m.err }

// Init implements tea.Model.
func (m *WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent())
}

func (m *WatchModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case evt := <-m.events:
			return eventMsg(evt)
		case err := <-m.done:
			// Drain anything queued before the stream ended.
			select {
			case evt := <-m.events:
				m.done <- err
				return eventMsg(evt)
			default:
			}
			return streamDoneMsg{err: err}
		}
	}
}

// Update implements tea.Model.
func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case eventMsg:
		switch msg.Type {
		case progress.EventLog:
			if msg.Log != nil {
				m.logs = append(m.logs, *msg.Log)
			}
		case progress.EventStatus:
			m.terminal = msg.Terminal
		case gateway.EventError:
			m.err = fmt.Errorf("%s", msg.Error)
		}
		return m, m.waitForEvent()

	case streamDoneMsg:
		if msg.err != nil && m.err == nil {
			m.err = msg.err
		}
		return m, nil

	case spinner.TickMsg:
		if m.finished() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *WatchModel) finished() bool {
	return m.terminal != nil || m.err != nil
}

// View implements tea.Model.
func (m *WatchModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("painscan  " + m.scanID))
	b.WriteString("\n\n")

	// Keep the newest lines that fit between the header and the summary.
	room := m.height - 12
	if room < 3 {
		room = 3
	}
	logs := m.logs
	if len(logs) > room {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  … %d earlier lines", len(logs)-room)))
		b.WriteString("\n")
		logs = logs[len(logs)-room:]
	}
	for _, entry := range logs {
		b.WriteString(renderLog(entry, m.width))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	switch {
	case m.terminal != nil:
		b.WriteString(renderSummary(*m.terminal))
	case m.err != nil:
		b.WriteString(criticalStyle.Render("✗ " + m.err.Error()))
	default:
		b.WriteString(m.spinner.View() + " " + dimStyle.Render("scanning…"))
	}
	b.WriteString("\n\n")
	b.WriteString(statusBarStyle.Render(keycapStyle.Render("q") + " quit"))
	return b.String()
}

func renderLog(entry models.LogEntry, width int) string {
	phase := phaseStyle(entry.Phase).Render(fmt.Sprintf("%-8s", entry.Phase))
	ts := dimStyle.Render(entry.Timestamp.Local().Format("15:04:05"))
	msg := entry.Message
	if limit := width - 22; limit > 10 && len(msg) > limit {
		msg = msg[:limit-1] + "…"
	}
	return fmt.Sprintf("  %s %s %s", ts, phase, msg)
}

func renderSummary(t progress.Terminal) string {
	if t.Status == models.StatusFailed {
		msg := "Scan failed"
		if t.Error != "" {
			msg += ": " + t.Error
		}
		return boxStyle.Render(criticalStyle.Render("✗ " + msg))
	}
	lines := []string{okStyle.Render(fmt.Sprintf("✓ Scan completed with %d findings", t.FindingsCount))}
	if s := t.Stats; s != nil {
		lines = append(lines,
			fmt.Sprintf("%s  %s  %s  %s",
				severityStyle(string(models.SeverityCritical)).Render(fmt.Sprintf("%d critical", s.CriticalCount)),
				severityStyle(string(models.SeverityHigh)).Render(fmt.Sprintf("%d high", s.HighCount)),
				severityStyle(string(models.SeverityMedium)).Render(fmt.Sprintf("%d medium", s.MediumCount)),
				severityStyle(string(models.SeverityLow)).Render(fmt.Sprintf("%d low", s.LowCount)),
			),
			dimStyle.Render(fmt.Sprintf("≈ %d minutes of future pain avoided", s.TotalMinutesSaved)),
		)
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}
