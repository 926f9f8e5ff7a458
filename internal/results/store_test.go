package results

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() []Record {
	return []Record{
		{Definition: "T1", Category: "A", State: StatePassed},
		{Definition: "T2", Category: "A", State: StateFailed, Warnings: []string{"w1"}},
		{Definition: "T3", Category: "B", State: StateBroken, Advisories: []string{"a1", "a2"}},
		{Definition: "T4", Category: "B", State: StateNotRun, Warnings: []string{"w2"}},
	}
}

func TestStorePopulateKeepsResponseOrder(t *testing.T) {
	s := NewStore()
	s.Populate(sampleRecords())

	assert.Equal(t, 4, s.Len())
	assert.Equal(t, []string{"T1", "T2", "T3", "T4"}, s.Definitions())

	rec, ok := s.Get("T3")
	require.True(t, ok)
	assert.Equal(t, "B", rec.Category)
}

func TestStorePopulateClearsPreviousRun(t *testing.T) {
	s := NewStore()
	s.Populate(sampleRecords())
	s.Populate([]Record{{Definition: "X", Category: "C", State: StatePassed}})

	assert.Equal(t, []string{"X"}, s.Definitions())
	_, ok := s.Get("T1")
	assert.False(t, ok)
}

func TestStoreDuplicateDefinitionOverwritesInPlace(t *testing.T) {
	s := NewStore()
	s.Populate([]Record{
		{Definition: "T1", State: StatePassed},
		{Definition: "T2", State: StatePassed},
		{Definition: "T1", State: StateFailed},
	})

	assert.Equal(t, []string{"T1", "T2"}, s.Definitions())
	rec, _ := s.Get("T1")
	assert.Equal(t, StateFailed, rec.State)
}

func TestStoreCounts(t *testing.T) {
	s := NewStore()
	s.Populate(sampleRecords())

	assert.Equal(t, 2, s.WarningCount())
	assert.Equal(t, 2, s.AdvisoryCount())
	assert.Equal(t, []string{"T2: w1", "T4: w2"}, s.Warnings())
	assert.Equal(t, []string{"T3: a1", "T3: a2"}, s.Advisories())
	assert.Equal(t, []string{"T2"}, s.FailedDefinitions())
}

func TestStoreReset(t *testing.T) {
	s := NewStore()
	s.Populate(sampleRecords())
	s.Reset()

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, s.WarningCount())
	assert.Empty(t, s.Records())
}

func TestRecordDecodesWireState(t *testing.T) {
	var rec Record
	err := json.Unmarshal([]byte(`{"definition":"T9","category":"C","state":"Not Run","warnings":[],"advisories":[],"doc":"d","debug":["a","b"]}`), &rec)
	require.NoError(t, err)

	assert.Equal(t, StateNotRun, rec.State)
	assert.Equal(t, "a\nb", rec.DebugText())
}

func TestRecordRejectsUnknownState(t *testing.T) {
	var rec Record
	err := json.Unmarshal([]byte(`{"definition":"T9","state":"Exploded"}`), &rec)
	assert.Error(t, err)
}

func TestStateClass(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StatePassed, "test-state-passed"},
		{StateFailed, "test-state-failed"},
		{StateBroken, "test-state-broken"},
		{StateNotRun, "test-state-not_run"},
		{State("bogus"), ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StateClass(tt.state), "state %q", tt.state)
	}
}
