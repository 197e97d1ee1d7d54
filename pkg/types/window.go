package types

import "time"

// Window is a read-only copy of a rolling window. All series are aligned
// index-for-index with Timestamps, oldest first.
type Window struct {
	// Channels lists the channel names in their configured order.
	Channels   []string             `json:"channels"`
	Timestamps []time.Time          `json:"timestamps"`
	BatteryPct []float64            `json:"batteryPct"`
	Series     map[string][]float64 `json:"series"`
}

// Len returns the number of samples in the window.
func (w Window) Len() int {
	return len(w.Timestamps)
}

// Last returns the newest sample in the window and false if it is empty.
func (w Window) Last() (Sample, bool) {
	n := w.Len()
	if n == 0 {
		return Sample{}, false
	}
	s := Sample{
		Timestamp:  w.Timestamps[n-1],
		BatteryPct: w.BatteryPct[n-1],
		Channels:   make(map[string]float64, len(w.Series)),
	}
	for name, series := range w.Series {
		s.Channels[name] = series[n-1]
	}
	return s, true
}

// Since returns the samples with a timestamp strictly after t, oldest first.
func (w Window) Since(t time.Time) []Sample {
	var samples []Sample
	for i, ts := range w.Timestamps {
		if !ts.After(t) {
			continue
		}
		s := Sample{
			Timestamp:  ts,
			BatteryPct: w.BatteryPct[i],
			Channels:   make(map[string]float64, len(w.Series)),
		}
		for name, series := range w.Series {
			s.Channels[name] = series[i]
		}
		samples = append(samples, s)
	}
	return samples
}
