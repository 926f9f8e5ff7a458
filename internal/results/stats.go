package results

import (
	"fmt"
	"math"
	"sort"
)

// CategoryStat is the passed/total tally of one category in a run.
type CategoryStat struct {
	Name   string `json:"name"`
	Passed int    `json:"passed"`
	Total  int    `json:"total"`
}

// Percent returns the rounded-up pass percentage. ok is false when the
// category ran no tests.
func (c CategoryStat) Percent() (pct int, ok bool) {
	if c.Total == 0 {
		return 0, false
	}
	return int(math.Ceil(float64(c.Passed) / float64(c.Total) * 100)), true
}

// PercentLabel renders Percent, using "-" for an empty category.
func (c CategoryStat) PercentLabel() string {
	pct, ok := c.Percent()
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%d%%", pct)
}

// CategoryStats converts the server's stats_by_catg object into a slice
// sorted by category name.
func CategoryStats(byCategory map[string]CategoryStat) []CategoryStat {
	out := make([]CategoryStat, 0, len(byCategory))
	for name, st := range byCategory {
		st.Name = name
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StateCount is one cell of the run summary.
type StateCount struct {
	State State `json:"state"`
	Count int   `json:"count"`
}

// Summary orders the server's stats object by States. Keys that are not
// a known state are ignored.
func Summary(stats map[string]int) []StateCount {
	counts := make(map[State]int, len(stats))
	for key, n := range stats {
		st, err := ParseState(key)
		if err != nil {
			continue
		}
		counts[st] += n
	}
	out := make([]StateCount, 0, len(States))
	for _, st := range States {
		out = append(out, StateCount{State: st, Count: counts[st]})
	}
	return out
}
