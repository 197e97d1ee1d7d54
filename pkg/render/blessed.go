package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"text/template"
	"time"

	"github.com/natefinch/atomic"
	"github.com/raterudder/powerwatch/pkg/render/chart"
	"github.com/raterudder/powerwatch/pkg/types"
)

var blessedTemplate = template.Must(template.New("blessed").Parse(`var blessed = require('blessed')
, contrib = require('blessed-contrib')
, screen = blessed.screen()
, line = contrib.line(
      { width: {{.Width}}
      , height: {{.Height}}
      , xPadding: 5
      , minY: {{.MinY}}
      , showLegend: true
      , legend: {width: 12}
      , wholeNumbersOnly: false
      , label: {{.Label}}});
{{range $i, $s := .Series}}var series{{$i}} = {
      title: {{$s.Title}},
      x: {{$.X}},
      y: {{$s.Y}},
      style: {line: {{$s.Color}}}
   };
{{end}}screen.append(line);
line.setData([{{range $i, $s := .Series}}{{if $i}}, {{end}}series{{$i}}{{end}}]);

screen.key(['escape', 'q', 'C-c'], function(ch, key) {
  return process.exit(0);
});

screen.render();
`))

type blessedSeries struct {
	Title string
	Y     string
	Color string
}

type blessedData struct {
	Width  int
	Height int
	MinY   string
	Label  string
	X      string
	Series []blessedSeries
}

// Blessed writes the window as a node script that draws it with a
// blessed-contrib line chart.
type Blessed struct {
	path     string
	title    string
	location *time.Location
}

// NewBlessed returns a renderer that replaces the script at path on every
// render.
func NewBlessed(path, title string, loc *time.Location) *Blessed {
	if loc == nil {
		loc = time.Local
	}
	return &Blessed{path: path, title: title, location: loc}
}

func jsValue(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		// only called with strings and float slices
		panic(err)
	}
	return string(b)
}

// Encode returns the script for w.
func (b *Blessed) Encode(w types.Window) ([]byte, error) {
	labels := make([]string, len(w.Timestamps))
	for i, ts := range w.Timestamps {
		labels[i] = ts.In(b.location).Format("15:04")
	}

	minY := 0.0
	data := blessedData{
		Width:  164,
		Height: 24,
		Label:  jsValue(b.title),
		X:      jsValue(labels),
	}
	for i, name := range w.Channels {
		series := w.Series[name]
		lo, _ := chart.MinMax(series)
		minY = math.Min(minY, lo)
		if series == nil {
			series = []float64{}
		}
		data.Series = append(data.Series, blessedSeries{
			Title: jsValue(name),
			Y:     jsValue(series),
			Color: jsValue(chart.Colors[i%len(chart.Colors)]),
		})
	}
	data.MinY = jsValue(minY)

	var buf bytes.Buffer
	if err := blessedTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Render implements Renderer.
func (b *Blessed) Render(ctx context.Context, w types.Window) error {
	script, err := b.Encode(w)
	if err != nil {
		return fmt.Errorf("failed to build blessed script: %w", err)
	}
	if err := atomic.WriteFile(b.path, bytes.NewReader(script)); err != nil {
		return fmt.Errorf("failed to write blessed script: %w", err)
	}
	return nil
}
