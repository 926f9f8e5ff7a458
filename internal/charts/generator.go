package charts

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/rdmtests/console/internal/results"
)

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// CategoryChart draws the pass rate of every category that ran at least one
// test, alongside the raw passed and total counts.
func (g *Generator) CategoryChart(stats []results.CategoryStat) (string, error) {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Pass Rate by Category"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithInitializationOpts(opts.Initialization{
			Height: "300px",
			Width:  "100%",
		}),
	)

	xAxis := make([]string, 0, len(stats))
	rate := make([]opts.BarData, 0, len(stats))
	passed := make([]opts.BarData, 0, len(stats))
	total := make([]opts.BarData, 0, len(stats))
	for _, cs := range stats {
		pct, ok := cs.Percent()
		if !ok {
			continue
		}
		xAxis = append(xAxis, cs.Name)
		rate = append(rate, opts.BarData{Value: pct})
		passed = append(passed, opts.BarData{Value: cs.Passed})
		total = append(total, opts.BarData{Value: cs.Total})
	}

	bar.SetXAxis(xAxis).
		AddSeries("Pass Rate %", rate).
		AddSeries("Passed", passed).
		AddSeries("Total", total)

	return g.renderToString(bar)
}

// StateChart draws the share of each result state. Empty states are left out.
func (g *Generator) StateChart(summary []results.StateCount) (string, error) {
	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Results by State"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithInitializationOpts(opts.Initialization{
			Height: "300px",
			Width:  "100%",
		}),
	)

	data := make([]opts.PieData, 0, len(summary))
	for _, sc := range summary {
		if sc.Count == 0 {
			continue
		}
		data = append(data, opts.PieData{Name: string(sc.State), Value: sc.Count})
	}
	pie.AddSeries("States", data)

	return g.renderToString(pie)
}

// Renderer is anything that can render itself to an io.Writer.
type Renderer interface {
	Render(w io.Writer) error
}

func (g *Generator) renderToString(c Renderer) (string, error) {
	var buf bytes.Buffer
	if err := c.Render(&buf); err != nil {
		return "", fmt.Errorf("failed to render chart: %w", err)
	}
	return buf.String(), nil
}
