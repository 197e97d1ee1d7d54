// Command powerhistory renders a single day of power history, either fetched
// from the telemetry source or loaded from a saved snapshot.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/powerwatch/pkg/log"
	"github.com/raterudder/powerwatch/pkg/recorder"
	"github.com/raterudder/powerwatch/pkg/render"
	"github.com/raterudder/powerwatch/pkg/secrets"
	"github.com/raterudder/powerwatch/pkg/storage"
	"github.com/raterudder/powerwatch/pkg/telemetry"
	"github.com/raterudder/powerwatch/pkg/tui"
	"github.com/raterudder/powerwatch/pkg/types"
)

func main() {
	sources := telemetry.Configured()
	creds := secrets.Configured()
	persister := storage.Configured()
	renderers := render.Configured()

	day := lflag.String("day", "", "Day to fetch from the source as YYYY-MM-DD (defaults to today)")
	saved := lflag.String("saved", "", "Render the saved snapshot with this name instead of fetching")
	list := lflag.Bool("list", false, "List the saved snapshots and exit")
	timezone := lflag.String("timezone", "US/Pacific", "Time zone of the day to fetch")
	credsPath := lflag.String("credentials-path", "", "Path of the source credentials in the credential store (defaults to the provider's path)")

	lflag.Configure()
	log.Configure()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := func() error {
		defer persister.Close()
		defer renderers.Close()

		loc, err := time.LoadLocation(*timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone %q: %w", *timezone, err)
		}

		if *list {
			names, err := persister.List(ctx)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		}

		var w types.Window
		if *saved != "" {
			w, err = loadSaved(ctx, persister, *saved)
		} else {
			w, err = fetchDay(ctx, sources, creds, *credsPath, *day, loc)
		}
		if err != nil {
			return err
		}
		return show(ctx, renderers, w)
	}()
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "powerhistory failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// loadSaved decodes a saved snapshot using whatever channels it contains.
func loadSaved(ctx context.Context, p storage.Persister, name string) (types.Window, error) {
	snap, err := p.Load(ctx, name)
	if err != nil {
		return types.Window{}, err
	}
	return recorder.DecodeSnapshot(snap, snapshotChannels(snap))
}

// snapshotChannels orders the snapshot's channels with the known meters
// first and anything else after them, sorted.
func snapshotChannels(snap types.Snapshot) []string {
	var channels, extra []string
	known := make(map[string]struct{}, len(types.DefaultChannels))
	for _, name := range types.DefaultChannels {
		known[name] = struct{}{}
		if _, ok := snap.MeterValues[name]; ok {
			channels = append(channels, name)
		}
	}
	for name := range snap.MeterValues {
		if _, ok := known[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(channels, extra...)
}

func fetchDay(ctx context.Context, sources *telemetry.Map, creds secrets.Provider, credsPath, day string, loc *time.Location) (types.Window, error) {
	src, err := sources.Selected()
	if err != nil {
		return types.Window{}, err
	}
	hist, ok := src.(telemetry.HistorySource)
	if !ok {
		return types.Window{}, fmt.Errorf("source %s has no history", sources.SelectedName())
	}
	if cloud, ok := src.(*telemetry.Cloud); ok {
		cloud.SetLocation(loc)
	}

	when := time.Now().In(loc)
	if day != "" {
		when, err = time.ParseInLocation(time.DateOnly, day, loc)
		if err != nil {
			return types.Window{}, fmt.Errorf("invalid day %q: %w", day, err)
		}
	}

	if auth, ok := src.(telemetry.Authenticator); ok {
		c, err := creds.Credentials(ctx, credsPath)
		if err != nil {
			return types.Window{}, fmt.Errorf("failed to get credentials: %w", err)
		}
		if err := auth.Authenticate(ctx, c); err != nil {
			return types.Window{}, err
		}
	}

	samples, err := hist.History(ctx, when)
	if err != nil {
		return types.Window{}, err
	}
	log.Ctx(ctx).InfoContext(ctx, "fetched history", slog.String("day", when.Format(time.DateOnly)), slog.Int("samples", len(samples)))
	return windowOf(ctx, src.Channels(), samples, loc)
}

// windowOf records samples into an in-memory store large enough to hold
// all of them.
func windowOf(ctx context.Context, channels []string, samples []types.Sample, loc *time.Location) (types.Window, error) {
	store, err := recorder.New(recorder.Config{
		Horizon:  max(len(samples), 1),
		Channels: channels,
		Location: loc,
	}, nil)
	if err != nil {
		return types.Window{}, err
	}
	for _, s := range samples {
		if _, err := store.Record(ctx, s); err != nil {
			return types.Window{}, err
		}
	}
	return store.Current()
}

// show renders the window once and, if the TUI was selected, keeps it up
// until the user quits.
func show(ctx context.Context, renderers *render.Set, w types.Window) error {
	if err := renderers.Render(ctx, w); err != nil {
		return err
	}
	if renderers.TUI == nil {
		return nil
	}
	if err := renderers.TUI.Run(ctx); err != nil && !errors.Is(err, tui.ErrQuit) {
		return err
	}
	return nil
}
