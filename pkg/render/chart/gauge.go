package chart

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// gaugeColor is red when the battery is nearly empty and yellow when it's
// getting low.
func gaugeColor(pct float64) lipgloss.Color {
	switch {
	case pct < 20:
		return lipgloss.Color("#EF4444")
	case pct < 40:
		return lipgloss.Color("#EAB308")
	default:
		return lipgloss.Color("#22C55E")
	}
}

// Gauge renders a horizontal bar for a 0-100 percentage followed by the
// value.
func Gauge(pct float64, width int) string {
	pct = math.Max(0, math.Min(100, pct))
	if width <= 0 {
		width = 20
	}
	filled := int(math.Round(pct / 100 * float64(width)))
	bar := lipgloss.NewStyle().Foreground(gaugeColor(pct)).Render(strings.Repeat("█", filled)) +
		strings.Repeat("░", width-filled)
	return fmt.Sprintf("%s %5.1f%%", bar, pct)
}
