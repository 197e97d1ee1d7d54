// Package chart draws a rolling window as text: a battery gauge and one
// sparkline per channel.
package chart

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/raterudder/powerwatch/pkg/types"
)

// Colors cycles through the same palette the chart files use.
var Colors = []string{"red", "blue", "green", "yellow", "magenta", "cyan", "white"}

var palette = map[string]lipgloss.Color{
	"red":     lipgloss.Color("#EF4444"),
	"blue":    lipgloss.Color("#3B82F6"),
	"green":   lipgloss.Color("#22C55E"),
	"yellow":  lipgloss.Color("#EAB308"),
	"magenta": lipgloss.Color("#D946EF"),
	"cyan":    lipgloss.Color("#06B6D4"),
	"white":   lipgloss.Color("#E5E7EB"),
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

const (
	labelWidth = 8
	// room for the min/max/last columns after the sparkline
	statsWidth = 32
	minSpark   = 10
)

// Options controls how a window is drawn.
type Options struct {
	Title    string
	Width    int
	Location *time.Location
}

// Draw renders the window. An empty window renders the title and a
// placeholder line.
func Draw(w types.Window, opts Options) string {
	if opts.Width <= 0 {
		opts.Width = 80
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	sparkWidth := max(opts.Width-labelWidth-statsWidth, minSpark)

	var sb strings.Builder
	sb.WriteString(titleStyle.Render(opts.Title))
	sb.WriteString("\n")

	last, ok := w.Last()
	if !ok {
		sb.WriteString(dimStyle.Render("waiting for the first sample"))
		sb.WriteString("\n")
		return sb.String()
	}

	first := w.Timestamps[0].In(opts.Location)
	sb.WriteString(dimStyle.Render(fmt.Sprintf(
		"%d samples, %s to %s",
		w.Len(),
		first.Format("Jan 2 15:04"),
		last.Timestamp.In(opts.Location).Format("Jan 2 15:04:05"),
	)))
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "%-*s%s\n", labelWidth, "charge", Gauge(last.BatteryPct, sparkWidth))
	lo, hi := MinMax(w.BatteryPct)
	fmt.Fprintf(&sb, "%-*s%s %s\n", labelWidth, "", Sparkline(w.BatteryPct, sparkWidth, palette["green"]),
		dimStyle.Render(fmt.Sprintf("%5.1f%% .. %5.1f%%", lo, hi)))

	for i, name := range w.Channels {
		series := w.Series[name]
		lo, hi := MinMax(series)
		fmt.Fprintf(
			&sb,
			"%-*s%s %s\n",
			labelWidth,
			name,
			Sparkline(series, sparkWidth, palette[Colors[i%len(Colors)]]),
			fmt.Sprintf("%8.0fW %s", last.Channels[name], dimStyle.Render(fmt.Sprintf("[%.0f .. %.0f]", lo, hi))),
		)
	}
	return sb.String()
}
