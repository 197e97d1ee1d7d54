package types

import (
	"sort"
	"time"
)

// Powerwall meter names. These are the channels reported by both the local
// gateway aggregates and (after renaming grid to site) the cloud live status.
const (
	ChannelSite    = "site"
	ChannelBattery = "battery"
	ChannelLoad    = "load"
	ChannelSolar   = "solar"
)

// DefaultChannels is the channel set used when none is configured.
var DefaultChannels = []string{ChannelSite, ChannelBattery, ChannelLoad, ChannelSolar}

// Sample is one observation of the energy system at a point in time.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	// BatteryPct is the battery state of charge, 0-100.
	BatteryPct float64 `json:"batteryPct"`
	// Channels maps channel name to instantaneous power in watts. Positive
	// values mean the meter is drawing (importing), negative sending.
	Channels map[string]float64 `json:"channels"`
}

// ChannelNames returns the sorted channel names in the sample.
func (s Sample) ChannelNames() []string {
	names := make([]string, 0, len(s.Channels))
	for name := range s.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
