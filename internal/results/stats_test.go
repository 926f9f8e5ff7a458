package results

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryStatPercent(t *testing.T) {
	tests := []struct {
		passed, total int
		wantPct       int
		wantOK        bool
		wantLabel     string
	}{
		{passed: 3, total: 3, wantPct: 100, wantOK: true, wantLabel: "100%"},
		{passed: 1, total: 3, wantPct: 34, wantOK: true, wantLabel: "34%"},
		{passed: 0, total: 5, wantPct: 0, wantOK: true, wantLabel: "0%"},
		{passed: 0, total: 0, wantPct: 0, wantOK: false, wantLabel: "-"},
	}
	for _, tt := range tests {
		st := CategoryStat{Passed: tt.passed, Total: tt.total}
		pct, ok := st.Percent()
		assert.Equal(t, tt.wantPct, pct)
		assert.Equal(t, tt.wantOK, ok)
		assert.Equal(t, tt.wantLabel, st.PercentLabel())
	}
}

func TestCategoryStatsSorted(t *testing.T) {
	got := CategoryStats(map[string]CategoryStat{
		"Sensors":      {Passed: 1, Total: 2},
		"Core":         {Passed: 4, Total: 4},
		"Product Info": {Passed: 0, Total: 0},
	})

	assert.Equal(t, []CategoryStat{
		{Name: "Core", Passed: 4, Total: 4},
		{Name: "Product Info", Passed: 0, Total: 0},
		{Name: "Sensors", Passed: 1, Total: 2},
	}, got)
}

func TestSummaryFixedOrder(t *testing.T) {
	got := Summary(map[string]int{"Failed": 2, "Not Run": 1, "Passed": 7, "Bogus": 9})

	assert.Equal(t, []StateCount{
		{State: StatePassed, Count: 7},
		{State: StateFailed, Count: 2},
		{State: StateBroken, Count: 0},
		{State: StateNotRun, Count: 1},
	}, got)
}
