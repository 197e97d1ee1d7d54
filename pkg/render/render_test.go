package render

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/raterudder/powerwatch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

func testWindow() types.Window {
	t0 := time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC)
	return types.Window{
		Channels:   []string{"site", "solar"},
		Timestamps: []time.Time{t0, t0.Add(time.Minute), t0.Add(2 * time.Minute)},
		BatteryPct: []float64{50, 51, 52.5},
		Series: map[string][]float64{
			"site":  {-120.5, 30, 0},
			"solar": {2000, 2100, 2200},
		},
	}
}

type fakeRenderer struct {
	calls  int
	err    error
	closed bool
}

func (f *fakeRenderer) Render(ctx context.Context, w types.Window) error {
	f.calls++
	return f.err
}

func (f *fakeRenderer) Close() error {
	f.closed = true
	return nil
}

func TestMulti(t *testing.T) {
	a := &fakeRenderer{err: errors.New("a broke")}
	b := &fakeRenderer{}
	c := &fakeRenderer{err: errors.New("c broke")}
	m := Multi{a, b, c}

	err := m.Render(context.Background(), testWindow())
	require.Error(t, err)
	assert.ErrorContains(t, err, "a broke")
	assert.ErrorContains(t, err, "c broke")
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 1, c.calls)

	require.NoError(t, m.Close())
	assert.True(t, a.closed)

	assert.NoError(t, Multi{}.Render(context.Background(), testWindow()))
	assert.NoError(t, Multi{b}.Render(context.Background(), testWindow()))
}
