package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/raterudder/powerwatch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMock(t *testing.T) {
	ctx := context.Background()
	noon := time.Date(2024, 6, 21, 12, 30, 0, 0, time.UTC)

	t.Run("Balanced", func(t *testing.T) {
		for _, at := range []time.Time{noon, noon.Add(10 * time.Hour), noon.Add(-9 * time.Hour)} {
			m := NewMock(60)
			m.now = func() time.Time { return at }
			s, err := m.Fetch(ctx)
			require.NoError(t, err)
			assert.Equal(t, at, s.Timestamp)
			assert.ElementsMatch(t, types.DefaultChannels, s.ChannelNames())
			// load is covered by solar, battery and grid
			sum := s.Channels[types.ChannelSolar] + s.Channels[types.ChannelBattery] + s.Channels[types.ChannelSite]
			assert.InDelta(t, s.Channels[types.ChannelLoad], sum, 2)
		}
	})

	t.Run("ChargesAtNoon", func(t *testing.T) {
		m := NewMock(60)
		at := noon
		m.now = func() time.Time { return at }
		first, err := m.Fetch(ctx)
		require.NoError(t, err)
		assert.Greater(t, first.Channels[types.ChannelSolar], first.Channels[types.ChannelLoad])
		assert.Less(t, first.Channels[types.ChannelBattery], float64(0))

		at = noon.Add(time.Hour)
		second, err := m.Fetch(ctx)
		require.NoError(t, err)
		assert.Greater(t, second.BatteryPct, first.BatteryPct)
	})

	t.Run("NoSolarAtNight", func(t *testing.T) {
		m := NewMock(60)
		m.now = func() time.Time { return time.Date(2024, 6, 21, 2, 0, 0, 0, time.UTC) }
		s, err := m.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, float64(0), s.Channels[types.ChannelSolar])
		assert.Greater(t, s.Channels[types.ChannelBattery], float64(0))
	})

	t.Run("Reserve", func(t *testing.T) {
		m := NewMock(mockReservePct)
		m.now = func() time.Time { return time.Date(2024, 6, 21, 2, 0, 0, 0, time.UTC) }
		s, err := m.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, float64(0), s.Channels[types.ChannelBattery])
		assert.Equal(t, s.Channels[types.ChannelLoad], s.Channels[types.ChannelSite])
	})

	t.Run("Deterministic", func(t *testing.T) {
		a, b := NewMock(0), NewMock(0)
		at := noon
		a.now = func() time.Time { return at }
		b.now = func() time.Time { return at }
		for i := 0; i < 5; i++ {
			sa, err := a.Fetch(ctx)
			require.NoError(t, err)
			sb, err := b.Fetch(ctx)
			require.NoError(t, err)
			assert.Equal(t, sa, sb)
			at = at.Add(7 * time.Minute)
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := NewMock(0).Fetch(cctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("History", func(t *testing.T) {
		samples, err := NewMock(0).History(ctx, noon)
		require.NoError(t, err)
		require.Len(t, samples, 24*12)
		assert.Equal(t, time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC), samples[0].Timestamp)
		for i := 1; i < len(samples); i++ {
			assert.True(t, samples[i].Timestamp.After(samples[i-1].Timestamp))
		}
	})
}
