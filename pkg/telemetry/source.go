package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/powerwatch/pkg/types"
)

// ErrFetch wraps every transport, decoding or authentication failure while
// talking to a telemetry source.
var ErrFetch = errors.New("failed to fetch telemetry")

// Source defines the interface for reading the current state of an energy
// system (like a Tesla Powerwall).
type Source interface {
	// Fetch returns a sample of the system taken now.
	Fetch(ctx context.Context) (types.Sample, error)

	// Channels returns the channel names every sample will contain.
	Channels() []string

	// Timeout is the recommended deadline for a single Fetch.
	Timeout() time.Duration
}

// Authenticator is implemented by sources that need credentials before they
// can Fetch. The credentials typically come from a secrets.Provider.
type Authenticator interface {
	Authenticate(ctx context.Context, creds map[string]string) error
}

// HistorySource is implemented by sources that can return a full day of
// samples.
type HistorySource interface {
	History(ctx context.Context, day time.Time) ([]types.Sample, error)
}

// Configured sets up all of the sources and selects the one named by the
// source flag.
func Configured() *Map {
	source := lflag.String("source", "gateway", "Telemetry source to poll (available: gateway, cloud, mock)")

	m := NewMap()
	m.SetSource("gateway", configuredGateway())
	m.SetSource("cloud", configuredCloud())
	m.SetSource("mock", NewMock(0))

	lflag.Do(func() {
		if _, err := m.Source(*source); err != nil {
			panic(err)
		}
		m.mu.Lock()
		m.selected = *source
		m.mu.Unlock()
	})

	return m
}

// Map manages the available telemetry sources.
type Map struct {
	mu       sync.Mutex
	sources  map[string]Source
	selected string
}

// NewMap creates a new Map.
func NewMap() *Map {
	return &Map{
		sources: make(map[string]Source),
	}
}

// Source returns the source registered under name.
func (m *Map) Source(name string) (Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[name]
	if !ok {
		return nil, fmt.Errorf("unknown telemetry source: %s", name)
	}
	return src, nil
}

// Selected returns the source chosen on the command line.
func (m *Map) Selected() (Source, error) {
	m.mu.Lock()
	name := m.selected
	m.mu.Unlock()
	return m.Source(name)
}

// SelectedName returns the name of the source chosen on the command line.
func (m *Map) SelectedName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

// SetSource sets the source for a name. This is primarily used for testing.
func (m *Map) SetSource(name string, src Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[name] = src
	if m.selected == "" {
		m.selected = name
	}
}

// Select changes the selected source.
func (m *Map) Select(name string) error {
	if _, err := m.Source(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = name
	return nil
}

// Names returns the registered source names, sorted.
func (m *Map) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.sources))
	for name := range m.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type projected struct {
	Source
	channels []string
}

// Project returns a source whose samples only contain the given channels.
// Every channel must be reported by src.
func Project(src Source, channels []string) (Source, error) {
	have := make(map[string]struct{})
	for _, name := range src.Channels() {
		have[name] = struct{}{}
	}
	for _, name := range channels {
		if _, ok := have[name]; !ok {
			return nil, fmt.Errorf("source does not report channel %q (has %v)", name, src.Channels())
		}
	}
	return &projected{Source: src, channels: append([]string(nil), channels...)}, nil
}

func (p *projected) Channels() []string {
	return append([]string(nil), p.channels...)
}

func (p *projected) Fetch(ctx context.Context) (types.Sample, error) {
	s, err := p.Source.Fetch(ctx)
	if err != nil {
		return s, err
	}
	channels := make(map[string]float64, len(p.channels))
	for _, name := range p.channels {
		if v, ok := s.Channels[name]; ok {
			channels[name] = v
		}
	}
	s.Channels = channels
	return s, nil
}

// Authenticate passes the credentials through to the wrapped source.
func (p *projected) Authenticate(ctx context.Context, creds map[string]string) error {
	if a, ok := p.Source.(Authenticator); ok {
		return a.Authenticate(ctx, creds)
	}
	return nil
}

// CredentialsFunc returns the credentials handed to an Authenticator.
type CredentialsFunc func(ctx context.Context) (map[string]string, error)

// LoginSource authenticates its wrapped source before the first Fetch and
// keeps retrying on every Fetch until a login succeeds.
type LoginSource struct {
	Source
	creds CredentialsFunc

	mu       sync.Mutex
	loggedIn bool
}

// WithLogin wraps src so that it logs in lazily using creds. Sources that
// don't implement Authenticator need no login.
func WithLogin(src Source, creds CredentialsFunc) *LoginSource {
	return &LoginSource{Source: src, creds: creds}
}

// Login fetches the credentials and authenticates the wrapped source.
func (l *LoginSource) Login(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.login(ctx)
}

func (l *LoginSource) login(ctx context.Context) error {
	auth, ok := l.Source.(Authenticator)
	if !ok {
		l.loggedIn = true
		return nil
	}
	creds, err := l.creds(ctx)
	if err != nil {
		return fmt.Errorf("failed to get credentials: %w", err)
	}
	if err := auth.Authenticate(ctx, creds); err != nil {
		return err
	}
	l.loggedIn = true
	return nil
}

// LoggedIn returns true once a login succeeded.
func (l *LoginSource) LoggedIn() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loggedIn
}

// Fetch logs in first if needed and then fetches from the wrapped source.
func (l *LoginSource) Fetch(ctx context.Context) (types.Sample, error) {
	l.mu.Lock()
	if !l.loggedIn {
		if err := l.login(ctx); err != nil {
			l.mu.Unlock()
			return types.Sample{}, err
		}
	}
	l.mu.Unlock()
	return l.Source.Fetch(ctx)
}
