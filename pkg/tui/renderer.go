package tui

import (
	"context"
	"errors"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/raterudder/powerwatch/pkg/types"
)

// ErrQuit is returned by Run when the user quit the program.
var ErrQuit = errors.New("user quit")

// Renderer pushes windows into a running bubbletea program. Windows rendered
// before Run are shown as soon as the program starts.
type Renderer struct {
	title    string
	location *time.Location
	opts     []tea.ProgramOption

	mu      sync.Mutex
	program *tea.Program
	latest  *windowMsg
}

// NewRenderer returns a renderer using the alternate screen.
func NewRenderer(title string, loc *time.Location, opts ...tea.ProgramOption) *Renderer {
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return &Renderer{
		title:    title,
		location: loc,
		opts:     opts,
	}
}

// Render implements render.Renderer.
func (r *Renderer) Render(ctx context.Context, w types.Window) error {
	msg := windowMsg{window: w, received: time.Now()}

	r.mu.Lock()
	r.latest = &msg
	p := r.program
	r.mu.Unlock()

	if p != nil {
		p.Send(msg)
	}
	return nil
}

// Run runs the program until ctx is cancelled, returning nil, or the user
// quits, returning ErrQuit.
func (r *Renderer) Run(ctx context.Context) error {
	m := NewModel(r.title, r.location)

	r.mu.Lock()
	if r.latest != nil {
		m.window = r.latest.window
		m.updated = r.latest.received
	}
	p := tea.NewProgram(m, r.opts...)
	r.program = p
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.program = nil
		r.mu.Unlock()
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.Quit()
		case <-done:
		}
	}()

	if _, err := p.Run(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}
	return ErrQuit
}
