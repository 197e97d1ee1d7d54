package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/levenlabs/go-lflag"
	"golang.org/x/sync/errgroup"

	"github.com/raterudder/powerwatch/pkg/log"
	"github.com/raterudder/powerwatch/pkg/poller"
	"github.com/raterudder/powerwatch/pkg/recorder"
	"github.com/raterudder/powerwatch/pkg/render"
	"github.com/raterudder/powerwatch/pkg/secrets"
	"github.com/raterudder/powerwatch/pkg/storage"
	"github.com/raterudder/powerwatch/pkg/telemetry"
	"github.com/raterudder/powerwatch/pkg/tui"
	"github.com/raterudder/powerwatch/pkg/types"
)

func main() {
	// init packages
	sources := telemetry.Configured()
	creds := secrets.Configured()
	persister := storage.Configured()
	renderers := render.Configured()

	horizon := lflag.Int("horizon", recorder.DefaultHorizon, "Number of samples kept in the rolling window")
	interval := lflag.Duration("interval", poller.DefaultInterval, "How often to poll the telemetry source")
	channels := lflag.String("channels", strings.Join(types.DefaultChannels, ","), "Comma-separated channels to record")
	timezone := lflag.String("timezone", "US/Pacific", "Time zone used for snapshot timestamps and daily file names")
	credsPath := lflag.String("credentials-path", "", "Path of the source credentials in the credential store (defaults to the provider's path)")
	discardCorrupt := lflag.Bool("discard-corrupt", false, "Start with an empty window instead of exiting when the saved snapshot is corrupt")

	// parse flags
	lflag.Configure()
	level := log.Configure()
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := persister.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
		if err := renderers.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close renderers", slog.Any("error", err))
		}
	}()

	if err := run(ctx, runConfig{
		sources:        sources,
		creds:          creds,
		credsPath:      *credsPath,
		persister:      persister,
		renderers:      renderers,
		horizon:        *horizon,
		interval:       *interval,
		channels:       *channels,
		timezone:       *timezone,
		discardCorrupt: *discardCorrupt,
	}); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "powerwatch failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "powerwatch exited cleanly")
}

type runConfig struct {
	sources        *telemetry.Map
	creds          secrets.Provider
	credsPath      string
	persister      storage.Persister
	renderers      *render.Set
	horizon        int
	interval       time.Duration
	channels       string
	timezone       string
	discardCorrupt bool
}

func run(ctx context.Context, c runConfig) error {
	loc, err := time.LoadLocation(c.timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.timezone, err)
	}

	src, err := c.sources.Selected()
	if err != nil {
		return err
	}
	if cloud, ok := src.(*telemetry.Cloud); ok {
		cloud.SetLocation(loc)
	}
	if _, ok := src.(telemetry.Authenticator); ok {
		login := telemetry.WithLogin(src, func(ctx context.Context) (map[string]string, error) {
			return c.creds.Credentials(ctx, c.credsPath)
		})
		if err := login.Login(ctx); err != nil {
			if !errors.Is(err, telemetry.ErrFetch) && !errors.Is(err, secrets.ErrAuth) {
				return fmt.Errorf("failed to authenticate %s: %w", c.sources.SelectedName(), err)
			}
			// the poller retries the login on every cycle
			log.Ctx(ctx).WarnContext(ctx, "failed to authenticate, will retry", slog.String("source", c.sources.SelectedName()), slog.Any("error", err))
		}
		src = login
	}

	src, err = telemetry.Project(src, splitChannels(c.channels))
	if err != nil {
		return err
	}

	store, err := openStore(ctx, recorder.Config{
		Horizon:  c.horizon,
		Channels: src.Channels(),
		Location: loc,
	}, c.persister, c.discardCorrupt)
	if err != nil {
		return err
	}

	p := &poller.Poller{
		Source:   src,
		Store:    store,
		Renderer: c.renderers.Multi,
		Interval: c.interval,
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"starting powerwatch",
		slog.String("source", c.sources.SelectedName()),
		slog.Any("channels", src.Channels()),
		slog.Int("horizon", c.horizon),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Run(gctx)
	})
	if c.renderers.TUI != nil {
		g.Go(func() error {
			return c.renderers.TUI.Run(gctx)
		})
	}
	err = g.Wait()
	if errors.Is(err, tui.ErrQuit) {
		return nil
	}
	return err
}

// openStore restores the rolling window from the latest snapshot, starting
// empty when there isn't one.
func openStore(ctx context.Context, cfg recorder.Config, p storage.Persister, discardCorrupt bool) (*recorder.Store, error) {
	store, err := recorder.Restore(ctx, cfg, p)
	switch {
	case err == nil:
		return store, nil
	case errors.Is(err, recorder.ErrNotFound):
		log.Ctx(ctx).InfoContext(ctx, "no saved window, starting empty")
	case errors.Is(err, recorder.ErrCorruptSnapshot) && discardCorrupt:
		log.Ctx(ctx).WarnContext(ctx, "discarding corrupt saved window", slog.Any("error", err))
	default:
		return nil, fmt.Errorf("failed to restore window: %w", err)
	}
	return recorder.New(cfg, p)
}

func splitChannels(s string) []string {
	var channels []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			channels = append(channels, name)
		}
	}
	return channels
}
