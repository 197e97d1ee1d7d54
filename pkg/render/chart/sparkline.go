package chart

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// sparkBlocks are ordered from lowest to highest.
var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Downsample averages data into at most width buckets, keeping order. Data
// that already fits is returned as is.
func Downsample(data []float64, width int) []float64 {
	if width <= 0 || len(data) <= width {
		return data
	}
	out := make([]float64, width)
	for i := range out {
		start := i * len(data) / width
		end := (i + 1) * len(data) / width
		var sum float64
		for _, v := range data[start:end] {
			sum += v
		}
		out[i] = sum / float64(end-start)
	}
	return out
}

// MinMax returns the smallest and largest value in data.
func MinMax(data []float64) (float64, float64) {
	if len(data) == 0 {
		return 0, 0
	}
	lo, hi := data[0], data[0]
	for _, v := range data[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// Sparkline renders data as unicode blocks scaled between its min and max,
// left-padded to width. Data longer than width is downsampled.
func Sparkline(data []float64, width int, color lipgloss.Color) string {
	if len(data) == 0 {
		return strings.Repeat(" ", max(width, 0))
	}
	data = Downsample(data, width)
	lo, hi := MinMax(data)

	runes := make([]rune, 0, len(data))
	for _, v := range data {
		if lo == hi {
			runes = append(runes, sparkBlocks[len(sparkBlocks)/2])
			continue
		}
		n := (v - lo) / (hi - lo)
		idx := int(n * float64(len(sparkBlocks)-1))
		idx = max(0, min(idx, len(sparkBlocks)-1))
		runes = append(runes, sparkBlocks[idx])
	}

	s := string(runes)
	if width > len(runes) {
		s = strings.Repeat(" ", width-len(runes)) + s
	}
	if color != "" {
		s = lipgloss.NewStyle().Foreground(color).Render(s)
	}
	return s
}
