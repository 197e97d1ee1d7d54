package telemetry

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/raterudder/powerwatch/pkg/types"
)

const (
	mockCapacityKWH    = 13.5
	mockMaxBatteryKW   = 5.0
	mockReservePct     = 20.0
	mockDefaultPct     = 50.0
	mockMaxStep        = time.Minute
	mockTimeout        = time.Second
	mockSolarPeakKW    = 3.0
	mockSolarStartHour = 6.0
	mockSolarHours     = 13.0
)

// Mock implements the Source interface with a simulated site: a solar bell
// curve peaking in the early afternoon, a home load that oscillates over the
// day and a battery that absorbs the difference until it is full or down to
// the reserve. Everything else goes to or comes from the grid. The output
// only depends on the wall clock so runs are reproducible.
type Mock struct {
	mu   sync.Mutex
	now  func() time.Time
	pct  float64
	last time.Time
}

// NewMock returns a simulated site starting at the given state of charge.
// Zero means the default of 50%.
func NewMock(startPct float64) *Mock {
	if startPct <= 0 {
		startPct = mockDefaultPct
	}
	return &Mock{
		now: time.Now,
		pct: math.Min(startPct, 100),
	}
}

// Channels returns the simulated meters.
func (m *Mock) Channels() []string {
	return append([]string(nil), types.DefaultChannels...)
}

// Timeout returns the recommended fetch deadline.
func (m *Mock) Timeout() time.Duration {
	return mockTimeout
}

// mockPower returns the instantaneous home load and solar generation in kW
// at the given time of day.
func mockPower(t time.Time) (homeKW, solarKW float64) {
	hour := float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600
	homeKW = 1.5 + 0.5*math.Sin(hour/24*2*math.Pi)
	if hour > mockSolarStartHour && hour < mockSolarStartHour+mockSolarHours {
		solarKW = mockSolarPeakKW * math.Sin((hour-mockSolarStartHour)/mockSolarHours*math.Pi)
	}
	return homeKW, solarKW
}

// flows splits the home load and solar generation between the battery and
// the grid. Battery power is positive when discharging and grid power is
// positive when importing.
func mockFlows(homeKW, solarKW, pct float64) (batteryKW, gridKW float64) {
	net := solarKW - homeKW
	switch {
	case net > 0 && pct < 100:
		batteryKW = -math.Min(net, mockMaxBatteryKW)
	case net < 0 && pct > mockReservePct:
		batteryKW = math.Min(-net, mockMaxBatteryKW)
	}
	gridKW = homeKW - solarKW - batteryKW
	return batteryKW, gridKW
}

// advance integrates the battery state of charge from the last fetch up to
// now in steps of at most a minute.
func (m *Mock) advance(now time.Time) {
	if m.last.IsZero() || !now.After(m.last) {
		m.last = now
		return
	}
	for t := m.last; t.Before(now); {
		step := mockMaxStep
		if rem := now.Sub(t); rem < step {
			step = rem
		}
		homeKW, solarKW := mockPower(t)
		batteryKW, _ := mockFlows(homeKW, solarKW, m.pct)
		kwh := batteryKW * step.Hours()
		m.pct -= kwh / mockCapacityKWH * 100
		m.pct = math.Max(0, math.Min(100, m.pct))
		t = t.Add(step)
	}
	m.last = now
}

// Fetch returns the simulated site at the current time.
func (m *Mock) Fetch(ctx context.Context) (types.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return types.Sample{}, err
	}

	now := m.now()
	m.advance(now)
	homeKW, solarKW := mockPower(now)
	batteryKW, gridKW := mockFlows(homeKW, solarKW, m.pct)

	return types.Sample{
		Timestamp:  now,
		BatteryPct: math.Round(m.pct*10) / 10,
		Channels: map[string]float64{
			types.ChannelSite:    math.Round(gridKW * 1000),
			types.ChannelBattery: math.Round(batteryKW * 1000),
			types.ChannelLoad:    math.Round(homeKW * 1000),
			types.ChannelSolar:   math.Round(solarKW * 1000),
		},
	}, nil
}

// History simulates a full day at five minute resolution, the same as the
// cloud power history, starting from the current state of charge.
func (m *Mock) History(ctx context.Context, day time.Time) ([]types.Sample, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	m.mu.Lock()
	pct := m.pct
	m.mu.Unlock()

	sim := &Mock{pct: pct}
	var samples []types.Sample
	for t := start; t.Before(end); t = t.Add(5 * time.Minute) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sim.now = func() time.Time { return t }
		s, err := sim.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, nil
}
