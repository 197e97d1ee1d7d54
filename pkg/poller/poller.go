// Package poller drives the recorder: it fetches a sample from the
// telemetry source on an interval, records it and renders the new window.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raterudder/powerwatch/pkg/log"
	"github.com/raterudder/powerwatch/pkg/recorder"
	"github.com/raterudder/powerwatch/pkg/secrets"
	"github.com/raterudder/powerwatch/pkg/telemetry"
	"github.com/raterudder/powerwatch/pkg/types"
)

// DefaultInterval matches one sample per minute, which with the default
// horizon keeps a day of data.
const DefaultInterval = time.Minute

// Store is the part of recorder.Store the poller needs.
type Store interface {
	Record(ctx context.Context, sample types.Sample) (types.Window, error)
	Current() (types.Window, error)
}

// Renderer is anything that can present a window.
type Renderer interface {
	Render(ctx context.Context, w types.Window) error
}

// Poller periodically records samples from Source into Store and renders
// the result.
type Poller struct {
	Source   telemetry.Source
	Store    Store
	Renderer Renderer
	Interval time.Duration
}

// Validate checks that the poller has everything it needs.
func (p *Poller) Validate() error {
	if p.Source == nil {
		return errors.New("poller requires a source")
	}
	if p.Store == nil {
		return errors.New("poller requires a store")
	}
	if p.Interval < 0 {
		return fmt.Errorf("invalid interval: %s", p.Interval)
	}
	return nil
}

// Cycle runs a single fetch, record and render. It returns an error only when
// nothing was rendered; every error is also logged.
func (p *Poller) Cycle(ctx context.Context) error {
	fetchCtx := ctx
	if timeout := p.Source.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sample, err := p.Source.Fetch(fetchCtx)
	if err != nil {
		switch {
		case errors.Is(err, telemetry.ErrFetch),
			errors.Is(err, secrets.ErrAuth),
			errors.Is(err, context.DeadlineExceeded):
			log.Ctx(ctx).WarnContext(ctx, "failed to fetch sample, skipping", slog.Any("error", err))
		default:
			log.Ctx(ctx).ErrorContext(ctx, "unexpected error fetching sample, skipping", slog.Any("error", err))
		}
		return err
	}

	w, err := p.Store.Record(ctx, sample)
	if err != nil {
		if !errors.Is(err, recorder.ErrPersistence) {
			log.Ctx(ctx).ErrorContext(ctx, "failed to record sample, skipping", slog.Any("error", err))
			return err
		}
		// the window still holds the sample so it's rendered anyway
		log.Ctx(ctx).ErrorContext(ctx, "failed to persist window", slog.Any("error", err))
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"recorded sample",
		slog.Time("timestamp", sample.Timestamp),
		slog.Float64("batteryPct", sample.BatteryPct),
		slog.Int("samples", w.Len()),
	)

	p.render(ctx, w)
	return nil
}

func (p *Poller) render(ctx context.Context, w types.Window) {
	if p.Renderer == nil {
		return
	}
	if err := p.Renderer.Render(ctx, w); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to render window", slog.Any("error", err))
	}
}

// Run draws the current window, then cycles immediately and every Interval
// until ctx is cancelled. Cancellation is not an error.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.Validate(); err != nil {
		return err
	}
	interval := p.Interval
	if interval == 0 {
		interval = DefaultInterval
	}

	if w, err := p.Store.Current(); err != nil {
		return fmt.Errorf("failed to read current window: %w", err)
	} else if w.Len() > 0 {
		p.render(ctx, w)
	}

	log.Ctx(ctx).InfoContext(ctx, "starting poller", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			break
		}
		// errors were already logged and the next cycle may succeed
		_ = p.Cycle(ctx)

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
	log.Ctx(ctx).InfoContext(ctx, "stopping poller")
	return nil
}
