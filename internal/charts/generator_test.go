package charts

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdmtests/console/internal/results"
)

func TestCategoryChart(t *testing.T) {
	g := NewGenerator()
	html, err := g.CategoryChart([]results.CategoryStat{
		{Name: "Core Functionality", Passed: 2, Total: 2},
		{Name: "Sensors", Passed: 0, Total: 0},
		{Name: "Product Information", Passed: 0, Total: 2},
	})
	require.NoError(t, err)

	assert.Contains(t, html, "Pass Rate by Category")
	assert.Contains(t, html, "Core Functionality")
	assert.Contains(t, html, "Product Information")
	assert.NotContains(t, html, "Sensors")
}

func TestStateChart(t *testing.T) {
	g := NewGenerator()
	html, err := g.StateChart(results.Summary(map[string]int{"Passed": 3, "Failed": 1}))
	require.NoError(t, err)

	assert.Contains(t, html, "Results by State")
	assert.Contains(t, html, "Passed")
	assert.Contains(t, html, "Failed")
	assert.NotContains(t, html, "Broken")
}

type brokenChart struct{}

func (brokenChart) Render(w io.Writer) error {
	io.WriteString(w, "<div>")
	return errors.New("template exploded")
}

func TestRenderErrorIsReturned(t *testing.T) {
	html, err := NewGenerator().renderToString(brokenChart{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "template exploded")
	assert.Empty(t, html)
}
