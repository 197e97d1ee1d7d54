package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow(t *testing.T) {
	t0 := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	w := Window{
		Channels:   []string{ChannelSite, ChannelSolar},
		Timestamps: []time.Time{t0, t0.Add(time.Minute), t0.Add(2 * time.Minute)},
		BatteryPct: []float64{10, 20, 30},
		Series: map[string][]float64{
			ChannelSite:  {1, 2, 3},
			ChannelSolar: {4, 5, 6},
		},
	}

	t.Run("Len", func(t *testing.T) {
		assert.Equal(t, 3, w.Len())
		assert.Equal(t, 0, Window{}.Len())
	})

	t.Run("Last", func(t *testing.T) {
		s, ok := w.Last()
		require.True(t, ok)
		assert.Equal(t, t0.Add(2*time.Minute), s.Timestamp)
		assert.Equal(t, float64(30), s.BatteryPct)
		assert.Equal(t, map[string]float64{ChannelSite: 3, ChannelSolar: 6}, s.Channels)

		_, ok = Window{}.Last()
		assert.False(t, ok)
	})

	t.Run("Since", func(t *testing.T) {
		samples := w.Since(t0)
		require.Len(t, samples, 2)
		assert.Equal(t, float64(20), samples[0].BatteryPct)
		assert.Equal(t, float64(5), samples[0].Channels[ChannelSolar])
		assert.Equal(t, float64(30), samples[1].BatteryPct)

		assert.Len(t, w.Since(time.Time{}), 3)
		assert.Empty(t, w.Since(t0.Add(time.Hour)))
	})
}

func TestSampleChannelNames(t *testing.T) {
	s := Sample{Channels: map[string]float64{ChannelSolar: 1, ChannelBattery: 2, ChannelSite: 3}}
	assert.Equal(t, []string{ChannelBattery, ChannelSite, ChannelSolar}, s.ChannelNames())
}
