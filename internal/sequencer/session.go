package sequencer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rdmtests/console/internal/rdmtests"
	"github.com/rdmtests/console/internal/results"
)

// RunSession is the outcome of one completed run. Everything except the
// category options is fixed once the session is published.
type RunSession struct {
	ID            string
	UID           string
	Timestamp     rdmtests.Token
	Completed     time.Time
	Summary       []results.StateCount
	CategoryStats []results.CategoryStat
	Store         *results.Store
	WarningCount  int
	AdvisoryCount int
	LogsDisabled  bool
	// Failed holds the definitions offered for a "previously failed" re-run.
	Failed []string

	mu         sync.RWMutex
	categories []string
}

func newSession(resp *rdmtests.RunTestsResponse) *RunSession {
	store := results.NewStore()
	store.Populate(resp.TestResults)

	return &RunSession{
		ID:            uuid.NewString(),
		UID:           resp.UID,
		Timestamp:     resp.Timestamp,
		Completed:     time.Now(),
		Summary:       results.Summary(resp.Stats),
		CategoryStats: results.CategoryStats(resp.StatsByCategory),
		Store:         store,
		WarningCount:  store.WarningCount(),
		AdvisoryCount: store.AdvisoryCount(),
		LogsDisabled:  resp.LogsDisabled,
		Failed:        store.FailedDefinitions(),
		categories:    []string{results.All},
	}
}

// Categories returns the options for the category filter, "All" first.
func (s *RunSession) Categories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.categories...)
}

func (s *RunSession) addCategories(cats []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = append(s.categories, cats...)
}

// Filter applies the category and state selection to this session.
func (s *RunSession) Filter(category, state string) []results.Entry {
	return results.Filter(s.Store, category, state)
}
