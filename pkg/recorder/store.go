package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/raterudder/powerwatch/pkg/log"
	"github.com/raterudder/powerwatch/pkg/storage"
	"github.com/raterudder/powerwatch/pkg/types"
)

const (
	// DefaultHorizon keeps one day of samples at one sample per minute.
	DefaultHorizon = 1440
	// DefaultLatestName is the snapshot overwritten on every record.
	DefaultLatestName = "last_24h.json"
	// DefaultDailyLayout is the time layout used to name the per-day snapshot.
	DefaultDailyLayout = "2006-01-02_data.json"
	// Resolution is the precision of snapshot timestamps. Samples are
	// truncated to it so a restored window holds the same instants.
	Resolution = time.Second
)

// Persister stores snapshots by name.
type Persister interface {
	Load(ctx context.Context, name string) (types.Snapshot, error)
	Save(ctx context.Context, name string, snap types.Snapshot) error
}

// Config holds the fixed parameters of a Store.
type Config struct {
	// Horizon is the maximum number of samples retained.
	Horizon int
	// Channels is the fixed channel set every sample must match.
	Channels []string
	// Location is used for snapshot timestamps and to pick the calendar day
	// of the daily snapshot. Defaults to time.Local.
	Location *time.Location
	// LatestName is the snapshot name overwritten on every record.
	LatestName string
	// DailyLayout is a time layout producing the per-day snapshot name.
	DailyLayout string
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.LatestName == "" {
		c.LatestName = DefaultLatestName
	}
	if c.DailyLayout == "" {
		c.DailyLayout = DefaultDailyLayout
	}
	c.Channels = append([]string(nil), c.Channels...)
	return c
}

// Validate checks that the configuration can build a Store.
func (c Config) Validate() error {
	if c.Horizon <= 0 {
		return fmt.Errorf("%w: horizon must be positive, got %d", ErrConfiguration, c.Horizon)
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel is required", ErrConfiguration)
	}
	seen := make(map[string]struct{}, len(c.Channels))
	for _, name := range c.Channels {
		if name == "" {
			return fmt.Errorf("%w: empty channel name", ErrConfiguration)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("%w: duplicate channel %q", ErrConfiguration, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Store is a bounded rolling window of samples that is written to a
// Persister after every Record. A zero Store is not ready; use New or
// Restore. Store is not safe for concurrent use.
type Store struct {
	cfg       Config
	persister Persister
	ready     bool

	timestamps *ring[time.Time]
	batteryPct *ring[float64]
	series     map[string]*ring[float64]
}

// New creates an empty Store. A nil persister keeps the window in memory
// only.
func New(cfg Config, p Persister) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	s := &Store{
		cfg:        cfg,
		persister:  p,
		timestamps: newRing[time.Time](cfg.Horizon),
		batteryPct: newRing[float64](cfg.Horizon),
		series:     make(map[string]*ring[float64], len(cfg.Channels)),
		ready:      true,
	}
	for _, name := range cfg.Channels {
		s.series[name] = newRing[float64](cfg.Horizon)
	}
	return s, nil
}

// Restore rebuilds a Store from the persister's latest snapshot. It returns
// ErrNotFound when there is nothing to restore, in which case callers should
// fall back to New.
func Restore(ctx context.Context, cfg Config, p Persister) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: restore requires a persister", ErrConfiguration)
	}
	s, err := New(cfg, p)
	if err != nil {
		return nil, err
	}

	snap, err := p.Load(ctx, s.cfg.LatestName)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.cfg.LatestName)
		case errors.Is(err, storage.ErrCorrupt):
			return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
		default:
			return nil, fmt.Errorf("failed to load snapshot %s: %w", s.cfg.LatestName, err)
		}
	}

	w, err := DecodeSnapshot(snap, s.cfg.Channels)
	if err != nil {
		return nil, err
	}
	// keep only the newest horizon samples if the snapshot was written with
	// a larger horizon
	for i := range w.Timestamps {
		s.timestamps.push(w.Timestamps[i])
		s.batteryPct.push(w.BatteryPct[i])
		for _, name := range s.cfg.Channels {
			s.series[name].push(w.Series[name][i])
		}
	}

	log.Ctx(ctx).InfoContext(
		ctx,
		"restored rolling window",
		slog.String("name", s.cfg.LatestName),
		slog.Int("snapshotSamples", len(w.Timestamps)),
		slog.Int("samples", s.timestamps.len()),
	)
	return s, nil
}

// Config returns the store's configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// Record appends the sample, trims the window to the horizon, persists the
// full window and returns a copy of it. The timestamp is truncated to
// Resolution. If persisting fails the returned error wraps ErrPersistence
// but the window still includes the sample.
func (s *Store) Record(ctx context.Context, sample types.Sample) (types.Window, error) {
	if !s.ready {
		return types.Window{}, ErrNotReady
	}
	if err := s.checkChannels(sample.Channels); err != nil {
		return types.Window{}, err
	}
	if err := checkFinite(sample); err != nil {
		return types.Window{}, err
	}
	sample.Timestamp = sample.Timestamp.Truncate(Resolution)

	s.timestamps.push(sample.Timestamp)
	s.batteryPct.push(sample.BatteryPct)
	for name, r := range s.series {
		r.push(sample.Channels[name])
	}

	w := s.view()
	if s.persister == nil {
		return w, nil
	}
	if err := s.persist(ctx, w, sample.Timestamp); err != nil {
		return w, err
	}
	return w, nil
}

// Current returns a copy of the window without changing it.
func (s *Store) Current() (types.Window, error) {
	if !s.ready {
		return types.Window{}, ErrNotReady
	}
	return s.view(), nil
}

// DailyName returns the name of the per-day snapshot for t.
func (s *Store) DailyName(t time.Time) string {
	return t.In(s.cfg.Location).Format(s.cfg.DailyLayout)
}

func (s *Store) checkChannels(channels map[string]float64) error {
	var missing, unexpected []string
	for name := range s.series {
		if _, ok := channels[name]; !ok {
			missing = append(missing, name)
		}
	}
	for name := range channels {
		if _, ok := s.series[name]; !ok {
			unexpected = append(unexpected, name)
		}
	}
	if len(missing) == 0 && len(unexpected) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(unexpected)
	return fmt.Errorf(
		"%w: missing [%s] unexpected [%s]",
		ErrChannelMismatch,
		strings.Join(missing, ","),
		strings.Join(unexpected, ","),
	)
}

// checkFinite rejects values that can't be written to a snapshot.
func checkFinite(sample types.Sample) error {
	if math.IsNaN(sample.BatteryPct) || math.IsInf(sample.BatteryPct, 0) {
		return fmt.Errorf("%w: battery_pct is %v", ErrInvalidSample, sample.BatteryPct)
	}
	for _, name := range sample.ChannelNames() {
		if v := sample.Channels[name]; math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: channel %q is %v", ErrInvalidSample, name, v)
		}
	}
	return nil
}

func (s *Store) view() types.Window {
	w := types.Window{
		Channels:   append([]string(nil), s.cfg.Channels...),
		Timestamps: s.timestamps.slice(),
		BatteryPct: s.batteryPct.slice(),
		Series:     make(map[string][]float64, len(s.series)),
	}
	for name, r := range s.series {
		w.Series[name] = r.slice()
	}
	return w
}

// persist writes the whole window to both the latest and the daily snapshot.
// Both writes are attempted even if the first one fails.
func (s *Store) persist(ctx context.Context, w types.Window, at time.Time) error {
	snap := EncodeSnapshot(w, s.cfg.Location)
	daily := s.DailyName(at)

	var errs []error
	for _, name := range []string{s.cfg.LatestName, daily} {
		if err := s.persister.Save(ctx, name, snap); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to save snapshot", slog.String("name", name), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrPersistence, errors.Join(errs...))
	}
	log.Ctx(ctx).DebugContext(ctx, "saved snapshots", slog.String("latest", s.cfg.LatestName), slog.String("daily", daily), slog.Int("samples", w.Len()))
	return nil
}
