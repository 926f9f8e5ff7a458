package results

// Entry is one visible row of a filtered result list.
type Entry struct {
	Definition string `json:"definition"`
	State      State  `json:"state"`
	Class      string `json:"class"`
}

// Filter selects the records matching category and state, either of which
// may be All. Output follows store order.
func Filter(s *Store, category, state string) []Entry {
	wantState := State(state)
	if state != All {
		if parsed, err := ParseState(state); err == nil {
			wantState = parsed
		}
	}

	out := []Entry{}
	for _, rec := range s.Records() {
		if category != All && rec.Category != category {
			continue
		}
		if state != All && rec.State != wantState {
			continue
		}
		out = append(out, Entry{
			Definition: rec.Definition,
			State:      rec.State,
			Class:      StateClass(rec.State),
		})
	}
	return out
}

// Definitions returns just the definition names of entries.
func Definitions(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Definition)
	}
	return out
}
