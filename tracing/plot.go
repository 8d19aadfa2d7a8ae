package tracing

import (
	"bufio"
	"errors"
	"fmt"
	"image/color"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	control "cruise-ctrl-core/closed_loop/longitudinal_control"
)

// ErrNoSamples is returned when there is nothing to chart.
var ErrNoSamples = errors.New("no samples recorded")

var (
	chartBackground = color.RGBA{R: 0x22, G: 0x29, B: 0x46, A: 0xFF}
	chartText       = color.RGBA{R: 0xA8, G: 0xAD, B: 0xB1, A: 0xFF}
	chartGrid       = color.RGBA{R: 0xA8, G: 0xAD, B: 0xB1, A: 0x1A}
	actualColor     = color.RGBA{R: 0x06, G: 0xF7, B: 0xFF, A: 0xFF}
	targetColor     = color.RGBA{R: 0x02, G: 0xFE, B: 0x03, A: 0xFF}
)

// stepTicker places a labelled tick every step units from step up to max.
func stepTicker(step float64) plot.Ticker {
	return plot.TickerFunc(func(_, max float64) []plot.Tick {
		var ticks []plot.Tick
		for v := step; v <= max+1e-9; v += step {
			ticks = append(ticks, plot.Tick{Value: v, Label: fmt.Sprintf("%.0f", v)})
		}
		return ticks
	})
}

func roundUp(v, step float64) float64 {
	return math.Max(step, math.Ceil(v/step)*step)
}

func styleAxis(a *plot.Axis, label string) {
	a.Label.Text = label
	a.Label.TextStyle.Color = chartText
	a.Color = chartText
	a.Tick.Color = chartText
	a.Tick.Label.Color = chartText
}

// NewSpeedPlot builds the actual-vs-target speed chart of a run
func NewSpeedPlot(samples []control.Sample) (*plot.Plot, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	actual := make(plotter.XYs, len(samples))
	target := make(plotter.XYs, len(samples))
	maxT, maxSpeed := 0.0, 0.0
	for i, s := range samples {
		actual[i] = plotter.XY{X: s.ElapsedS, Y: s.MeasuredKph}
		target[i] = plotter.XY{X: s.ElapsedS, Y: s.TargetKph}
		maxT = math.Max(maxT, s.ElapsedS)
		maxSpeed = math.Max(maxSpeed, math.Max(s.MeasuredKph, s.TargetKph))
	}

	p := plot.New()
	p.BackgroundColor = chartBackground
	p.Title.Text = "Target speed Vs Actual Speed Vs Time"
	p.Title.TextStyle.Color = chartText
	styleAxis(&p.X, "Time (s)")
	styleAxis(&p.Y, "Speed (km/h)")

	grid := plotter.NewGrid()
	grid.Vertical.Color = chartGrid
	grid.Horizontal.Color = chartGrid
	p.Add(grid)

	actualLine, err := plotter.NewLine(actual)
	if err != nil {
		return nil, fmt.Errorf("actual speed line: %w", err)
	}
	actualLine.LineStyle.Color = actualColor
	actualLine.LineStyle.Width = vg.Points(1.5)

	targetLine, err := plotter.NewLine(target)
	if err != nil {
		return nil, fmt.Errorf("target speed line: %w", err)
	}
	targetLine.LineStyle.Color = targetColor
	targetLine.LineStyle.Dashes = []vg.Length{vg.Points(6), vg.Points(4)}

	p.Add(actualLine, targetLine)
	p.Legend.Add("Actual Speed", actualLine)
	p.Legend.Add("Target Speed", targetLine)
	p.Legend.Top = false
	p.Legend.Left = false
	p.Legend.TextStyle.Color = chartText

	p.X.Min, p.X.Max = 0, roundUp(maxT, 5)
	p.Y.Min, p.Y.Max = 0, roundUp(maxSpeed, 10)
	p.X.Tick.Marker = stepTicker(5)
	p.Y.Tick.Marker = stepTicker(10)

	return p, nil
}

// SaveSpeedPlotPNG renders the chart to path, replacing any existing file
func SaveSpeedPlotPNG(samples []control.Sample, path string) error {
	p, err := NewSpeedPlot(samples)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cannot create directory: %w", err)
		}
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove old plot: %w", err)
	}

	c := vgimg.NewWith(
		vgimg.UseWH(8*vg.Inch, 6*vg.Inch),
		vgimg.UseDPI(100),
	)
	p.Draw(draw.New(c))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create png: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(bw); err != nil {
		return fmt.Errorf("cannot write png: %w", err)
	}
	return bw.Flush()
}
