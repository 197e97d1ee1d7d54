package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/powerwatch/pkg/tui"
	"github.com/raterudder/powerwatch/pkg/types"
)

// Renderer presents a rolling window to the user or ships it somewhere.
type Renderer interface {
	Render(ctx context.Context, w types.Window) error
}

// Multi renders to every renderer in order. All of them are attempted and
// their errors are joined.
type Multi []Renderer

// Render implements Renderer.
func (m Multi) Render(ctx context.Context, w types.Window) error {
	var errs []error
	for _, r := range m {
		if err := r.Render(ctx, w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every renderer that holds resources.
func (m Multi) Close() error {
	var errs []error
	for _, r := range m {
		if c, ok := r.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Set is the configured list of renderers. TUI is set when the interactive
// renderer was selected; its program has to be run by the caller.
type Set struct {
	Multi
	TUI *tui.Renderer
}

// Configured sets up the renderers named by the render flag.
func Configured() *Set {
	names := lflag.String("render", "text", "Comma-separated renderers to use (available: text, tui, termgraph, blessed, influx, none)")
	title := lflag.String("render-title", "AS Powerwall", "Title shown on charts")
	timezone := lflag.String("render-timezone", "US/Pacific", "Time zone used for chart labels")
	termgraphFile := lflag.String("termgraph-file", "termgraph.dat", "File the termgraph renderer writes")
	blessedFile := lflag.String("blessed-file", "tesla-blessed.js", "File the blessed renderer writes")

	influx := configuredInflux()

	s := &Set{}

	lflag.Do(func() {
		loc, err := time.LoadLocation(*timezone)
		if err != nil {
			panic(fmt.Sprintf("invalid render-timezone %q: %v", *timezone, err))
		}
		for _, name := range strings.Split(*names, ",") {
			switch strings.TrimSpace(name) {
			case "text":
				s.Multi = append(s.Multi, NewText(os.Stdout, *title, loc))
			case "tui":
				if s.TUI == nil {
					s.TUI = tui.NewRenderer(*title, loc)
					s.Multi = append(s.Multi, s.TUI)
				}
			case "termgraph":
				s.Multi = append(s.Multi, NewTermgraph(*termgraphFile, *title, loc))
			case "blessed":
				s.Multi = append(s.Multi, NewBlessed(*blessedFile, *title, loc))
			case "influx":
				if err := influx.Validate(); err != nil {
					panic(fmt.Sprintf("influx validation failed: %v", err))
				}
				influx.Init()
				s.Multi = append(s.Multi, influx)
			case "none", "":
			default:
				panic(fmt.Sprintf("unknown renderer: %s", name))
			}
		}
	})

	return s
}
