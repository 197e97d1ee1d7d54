// Package tui is an interactive terminal view of the rolling window that
// redraws whenever a new window is sent to it.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/raterudder/powerwatch/pkg/render/chart"
	"github.com/raterudder/powerwatch/pkg/types"
)

var footerStyle = lipgloss.NewStyle().Faint(true)

// windowMsg carries a new window into the program.
type windowMsg struct {
	window   types.Window
	received time.Time
}

// Model is the bubbletea model showing one window.
type Model struct {
	title    string
	location *time.Location
	window   types.Window
	updated  time.Time
	width    int
	height   int
}

// NewModel returns a model with no data yet.
func NewModel(title string, loc *time.Location) Model {
	if loc == nil {
		loc = time.Local
	}
	return Model{
		title:    title,
		location: loc,
		width:    80,
	}
}

// Init implements tea.Model. No initial commands are needed.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model. It handles key presses, window resize events
// and new data.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case windowMsg:
		m.window = msg.window
		m.updated = msg.received
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var sb strings.Builder
	sb.WriteString(chart.Draw(m.window, chart.Options{
		Title:    m.title,
		Width:    m.width,
		Location: m.location,
	}))
	sb.WriteString("\n")
	footer := "q quit"
	if !m.updated.IsZero() {
		footer = fmt.Sprintf("updated %s • %s", m.updated.In(m.location).Format("15:04:05"), footer)
	}
	sb.WriteString(footerStyle.Render(footer))
	return sb.String()
}
