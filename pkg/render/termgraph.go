package render

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/raterudder/powerwatch/pkg/types"
)

// Termgraph writes the window as a termgraph data file. termgraph can't
// draw negative bars so every value is written as its magnitude.
type Termgraph struct {
	path     string
	title    string
	location *time.Location
}

// NewTermgraph returns a renderer that replaces the file at path on every
// render.
func NewTermgraph(path, title string, loc *time.Location) *Termgraph {
	if loc == nil {
		loc = time.Local
	}
	return &Termgraph{path: path, title: title, location: loc}
}

// Encode returns the termgraph representation of w.
func (t *Termgraph) Encode(w types.Window) []byte {
	var buf bytes.Buffer
	if w.Len() > 0 {
		fmt.Fprintf(&buf, "# %s starting %s\n", t.title, w.Timestamps[0].In(t.location).Format(time.RFC3339))
	} else {
		fmt.Fprintf(&buf, "# %s\n", t.title)
	}
	fmt.Fprintf(&buf, "@ %s\n", strings.Join(w.Channels, ","))
	for i, ts := range w.Timestamps {
		row := make([]string, 0, len(w.Channels)+1)
		row = append(row, ts.In(t.location).Format("15:04"))
		for _, name := range w.Channels {
			row = append(row, strconv.FormatFloat(math.Abs(w.Series[name][i]), 'f', -1, 64))
		}
		buf.WriteString(strings.Join(row, ","))
		buf.WriteString("\n")
	}
	return buf.Bytes()
}

// Render implements Renderer.
func (t *Termgraph) Render(ctx context.Context, w types.Window) error {
	if err := atomic.WriteFile(t.path, bytes.NewReader(t.Encode(w))); err != nil {
		return fmt.Errorf("failed to write termgraph file: %w", err)
	}
	return nil
}
