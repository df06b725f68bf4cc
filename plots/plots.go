// Package plots renders training curves from stored epoch history.
package plots

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"egotrain/meters"
)

// ErrNoHistory is returned when there is nothing to plot.
var ErrNoHistory = errors.New("plots: no epoch history")

var (
	trainColor = color.RGBA{R: 20, G: 80, B: 200, A: 255}
	valColor   = color.RGBA{R: 200, G: 30, B: 30, A: 255}
)

// LossCurve writes a training loss curve PNG to outDir and returns its path.
func LossCurve(outDir string, train []meters.EpochSummary) (string, error) {
	if len(train) == 0 {
		return "", ErrNoHistory
	}
	p := plot.New()
	p.Title.Text = "Training loss"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss"
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(epochXYs(train, func(s meters.EpochSummary) float64 { return s.Loss }))
	if err != nil {
		return "", err
	}
	line.Color = trainColor
	line.Width = vg.Points(1.2)
	p.Add(line)

	return save(p, outDir, "loss.png")
}

// AccuracyCurves writes an action top-1 accuracy curve PNG with train and
// val series and returns its path. Either series may be empty.
func AccuracyCurves(outDir string, train, val []meters.EpochSummary) (string, error) {
	if len(train) == 0 && len(val) == 0 {
		return "", ErrNoHistory
	}
	p := plot.New()
	p.Title.Text = "Action top-1 accuracy"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "accuracy (%)"
	p.Add(plotter.NewGrid())

	accuracy := func(s meters.EpochSummary) float64 { return s.ActionTop1 }
	if len(train) > 0 {
		line, err := plotter.NewLine(epochXYs(train, accuracy))
		if err != nil {
			return "", err
		}
		line.Color = trainColor
		line.Width = vg.Points(1.2)
		p.Add(line)
		p.Legend.Add("train", line)
	}
	if len(val) > 0 {
		line, err := plotter.NewLine(epochXYs(val, accuracy))
		if err != nil {
			return "", err
		}
		line.Color = valColor
		line.Width = vg.Points(1.2)
		p.Add(line)
		p.Legend.Add("val", line)
	}
	p.Legend.Top = true

	return save(p, outDir, "accuracy.png")
}

func epochXYs(history []meters.EpochSummary, value func(meters.EpochSummary) float64) plotter.XYs {
	xys := make(plotter.XYs, 0, len(history))
	for _, s := range history {
		xys = append(xys, plotter.XY{X: float64(s.Epoch), Y: value(s)})
	}
	return xys
}

func save(p *plot.Plot, outDir, name string) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create plot directory: %w", err)
	}
	path := filepath.Join(outDir, name)
	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return "", fmt.Errorf("save %s: %w", name, err)
	}
	return path, nil
}
