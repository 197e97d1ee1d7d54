package recorder

import (
	"fmt"
	"time"

	"github.com/raterudder/powerwatch/pkg/types"
)

// EncodeSnapshot converts a window into its persisted form. Timestamps are
// written in loc.
func EncodeSnapshot(w types.Window, loc *time.Location) types.Snapshot {
	if loc == nil {
		loc = time.Local
	}
	snap := types.Snapshot{
		MeterValues: make(map[string][]float64, len(w.Series)),
		XAxis:       make([]string, len(w.Timestamps)),
		BatteryPct:  append(make([]float64, 0, len(w.BatteryPct)), w.BatteryPct...),
	}
	for i, ts := range w.Timestamps {
		snap.XAxis[i] = ts.In(loc).Format(types.SnapshotTimeLayout)
	}
	for name, series := range w.Series {
		snap.MeterValues[name] = append(make([]float64, 0, len(series)), series...)
	}
	return snap
}

// DecodeSnapshot validates a persisted snapshot against the channel set and
// converts it into a window. Any inconsistency is reported as
// ErrCorruptSnapshot.
func DecodeSnapshot(snap types.Snapshot, channels []string) (types.Window, error) {
	switch {
	case snap.MeterValues == nil:
		return types.Window{}, fmt.Errorf("%w: missing meter_values", ErrCorruptSnapshot)
	case snap.XAxis == nil:
		return types.Window{}, fmt.Errorf("%w: missing x_axis", ErrCorruptSnapshot)
	case snap.BatteryPct == nil:
		return types.Window{}, fmt.Errorf("%w: missing battery_pct", ErrCorruptSnapshot)
	}

	n := len(snap.XAxis)
	if len(snap.BatteryPct) != n {
		return types.Window{}, fmt.Errorf("%w: battery_pct has %d entries, x_axis has %d", ErrCorruptSnapshot, len(snap.BatteryPct), n)
	}
	if len(snap.MeterValues) != len(channels) {
		return types.Window{}, fmt.Errorf("%w: snapshot has %d channels, expected %d", ErrCorruptSnapshot, len(snap.MeterValues), len(channels))
	}

	w := types.Window{
		Channels:   append([]string(nil), channels...),
		Timestamps: make([]time.Time, n),
		BatteryPct: append(make([]float64, 0, n), snap.BatteryPct...),
		Series:     make(map[string][]float64, len(channels)),
	}
	for _, name := range channels {
		series, ok := snap.MeterValues[name]
		if !ok {
			return types.Window{}, fmt.Errorf("%w: missing channel %q", ErrCorruptSnapshot, name)
		}
		if len(series) != n {
			return types.Window{}, fmt.Errorf("%w: channel %q has %d entries, x_axis has %d", ErrCorruptSnapshot, name, len(series), n)
		}
		w.Series[name] = append(make([]float64, 0, n), series...)
	}
	for i, str := range snap.XAxis {
		ts, err := time.Parse(types.SnapshotTimeLayout, str)
		if err != nil {
			return types.Window{}, fmt.Errorf("%w: x_axis[%d]: %w", ErrCorruptSnapshot, i, err)
		}
		w.Timestamps[i] = ts
	}
	return w, nil
}
