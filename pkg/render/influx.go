package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/powerwatch/pkg/log"
	"github.com/raterudder/powerwatch/pkg/types"
)

const (
	influxPowerMeasurement   = "powerwall"
	influxBatteryMeasurement = "battery"
)

// Influx writes new samples to an InfluxDB 2 bucket. Each render only sends
// the samples newer than the last one written.
type Influx struct {
	url    string
	token  string
	org    string
	bucket string

	mu          sync.Mutex
	client      influxdb2.Client
	writer      api.WriteAPIBlocking
	lastWritten time.Time
}

// configuredInflux sets up the InfluxDB sink from flags.
func configuredInflux() *Influx {
	url := lflag.String("influx-url", os.Getenv("INFLUX_URL"), "InfluxDB 2 server URL")
	token := lflag.String("influx-token", os.Getenv("INFLUX_TOKEN"), "InfluxDB 2 API token")
	org := lflag.String("influx-org", "", "InfluxDB 2 organization")
	bucket := lflag.String("influx-bucket", "powerwall", "InfluxDB 2 bucket")

	i := &Influx{}

	lflag.Do(func() {
		i.url = *url
		i.token = *token
		i.org = *org
		i.bucket = *bucket
	})

	return i
}

// NewInflux returns a sink for the given server. Call Init before use.
func NewInflux(url, token, org, bucket string) *Influx {
	return &Influx{url: url, token: token, org: org, bucket: bucket}
}

// Validate checks if the sink is properly configured.
func (i *Influx) Validate() error {
	if i.url == "" {
		return errors.New("influx-url is required")
	}
	if i.org == "" {
		return errors.New("influx-org is required")
	}
	if i.bucket == "" {
		return errors.New("influx-bucket is required")
	}
	return nil
}

// Init creates the client.
func (i *Influx) Init() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.client = influxdb2.NewClientWithOptions(i.url, i.token, influxdb2.DefaultOptions().SetPrecision(time.Second))
	i.writer = i.client.WriteAPIBlocking(i.org, i.bucket)
}

// Close closes the client.
func (i *Influx) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.client != nil {
		i.client.Close()
	}
	return nil
}

// Points converts samples to line protocol points: one per channel plus one
// for the battery charge.
func Points(samples []types.Sample) []*write.Point {
	var points []*write.Point
	for _, s := range samples {
		for _, name := range s.ChannelNames() {
			points = append(points, influxdb2.NewPoint(
				influxPowerMeasurement,
				map[string]string{"channel": name},
				map[string]interface{}{"instant_power": s.Channels[name]},
				s.Timestamp,
			))
		}
		points = append(points, influxdb2.NewPoint(
			influxBatteryMeasurement,
			nil,
			map[string]interface{}{"percentage": s.BatteryPct},
			s.Timestamp,
		))
	}
	return points
}

// Render implements Renderer.
func (i *Influx) Render(ctx context.Context, w types.Window) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.writer == nil {
		return errors.New("influx sink not initialized")
	}
	samples := w.Since(i.lastWritten)
	if len(samples) == 0 {
		return nil
	}
	if err := i.writer.WritePoint(ctx, Points(samples)...); err != nil {
		return fmt.Errorf("failed to write %d samples to influx: %w", len(samples), err)
	}
	i.lastWritten = samples[len(samples)-1].Timestamp
	log.Ctx(ctx).DebugContext(ctx, "wrote samples to influx", slog.Int("samples", len(samples)), slog.String("bucket", i.bucket))
	return nil
}
