package types

// SnapshotTimeLayout is the layout of the x_axis timestamps in a snapshot,
// e.g. 2024-03-01_13:05:00-0800.
const SnapshotTimeLayout = "2006-01-02_15:04:05-0700"

// Snapshot is the on-disk form of a rolling window. The key names match the
// existing powerwall_data history files so they can still be restored.
type Snapshot struct {
	MeterValues map[string][]float64 `json:"meter_values"`
	XAxis       []string             `json:"x_axis"`
	BatteryPct  []float64            `json:"battery_pct"`
}
