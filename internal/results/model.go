package results

import (
	"encoding/json"
	"fmt"
	"strings"
)

// State is the outcome of a single test definition in a run.
type State string

const (
	StatePassed State = "Passed"
	StateFailed State = "Failed"
	StateBroken State = "Broken"
	StateNotRun State = "Not Run"
)

// All is the wildcard accepted by Filter for both category and state.
const All = "All"

// States lists every state in display order.
var States = []State{StatePassed, StateFailed, StateBroken, StateNotRun}

// ParseState accepts the wire spelling ("Not Run") and the compact one ("NotRun").
func ParseState(s string) (State, error) {
	switch strings.ReplaceAll(strings.TrimSpace(s), " ", "") {
	case "Passed":
		return StatePassed, nil
	case "Failed":
		return StateFailed, nil
	case "Broken":
		return StateBroken, nil
	case "NotRun":
		return StateNotRun, nil
	}
	return "", fmt.Errorf("unknown test state %q", s)
}

func (s *State) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseState(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// StateClass maps a state to the presentational class used by renderers.
func StateClass(s State) string {
	switch s {
	case StatePassed:
		return "test-state-passed"
	case StateFailed:
		return "test-state-failed"
	case StateBroken:
		return "test-state-broken"
	case StateNotRun:
		return "test-state-not_run"
	default:
		return ""
	}
}

// Record is the result of one executed test definition.
type Record struct {
	Definition string   `json:"definition"`
	Category   string   `json:"category"`
	State      State    `json:"state"`
	Warnings   []string `json:"warnings"`
	Advisories []string `json:"advisories"`
	Doc        string   `json:"doc"`
	Debug      []string `json:"debug"`
}

// DebugText joins the debug lines for display.
func (r Record) DebugText() string {
	return strings.Join(r.Debug, "\n")
}
