package render

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/muesli/termenv"
	"github.com/raterudder/powerwatch/pkg/render/chart"
	"github.com/raterudder/powerwatch/pkg/types"
)

// Text draws the window to a terminal. When colour is enabled the screen
// is cleared first so the chart redraws in place.
type Text struct {
	mu       sync.Mutex
	out      io.Writer
	title    string
	location *time.Location
	width    func() int
	color    bool
}

// NewText returns a text renderer writing to out.
func NewText(out io.Writer, title string, loc *time.Location) *Text {
	return &Text{
		out:      out,
		title:    title,
		location: loc,
		width:    chart.TerminalWidth,
		color:    chart.ApplyColorProfile(),
	}
}

// Render implements Renderer.
func (t *Text) Render(ctx context.Context, w types.Window) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := chart.Draw(w, chart.Options{
		Title:    t.title,
		Width:    t.width(),
		Location: t.location,
	})
	if t.color {
		termenv.NewOutput(t.out).ClearScreen()
	} else {
		s = chart.StripANSI(s)
	}
	if _, err := fmt.Fprint(t.out, s); err != nil {
		return fmt.Errorf("failed to write chart: %w", err)
	}
	return nil
}
