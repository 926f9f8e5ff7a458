package results

// Store holds the records of one completed run, keyed by test definition
// and kept in server response order.
type Store struct {
	order   []string
	records map[string]Record
}

func NewStore() *Store {
	return &Store{records: make(map[string]Record)}
}

// Reset removes every record.
func (s *Store) Reset() {
	s.order = nil
	s.records = make(map[string]Record)
}

// Populate replaces the store contents with recs. A repeated definition
// overwrites the earlier record but keeps its position.
func (s *Store) Populate(recs []Record) {
	s.Reset()
	for _, rec := range recs {
		if _, ok := s.records[rec.Definition]; !ok {
			s.order = append(s.order, rec.Definition)
		}
		s.records[rec.Definition] = rec
	}
}

func (s *Store) Len() int {
	return len(s.order)
}

func (s *Store) Get(definition string) (Record, bool) {
	rec, ok := s.records[definition]
	return rec, ok
}

// Records returns a copy of the records in insertion order.
func (s *Store) Records() []Record {
	out := make([]Record, 0, len(s.order))
	for _, def := range s.order {
		out = append(out, s.records[def])
	}
	return out
}

func (s *Store) Definitions() []string {
	return append([]string(nil), s.order...)
}

func (s *Store) WarningCount() int {
	n := 0
	for _, rec := range s.records {
		n += len(rec.Warnings)
	}
	return n
}

func (s *Store) AdvisoryCount() int {
	n := 0
	for _, rec := range s.records {
		n += len(rec.Advisories)
	}
	return n
}

// Warnings lists every warning as "definition: text" in store order.
func (s *Store) Warnings() []string {
	return s.lines(func(r Record) []string { return r.Warnings })
}

// Advisories lists every advisory as "definition: text" in store order.
func (s *Store) Advisories() []string {
	return s.lines(func(r Record) []string { return r.Advisories })
}

func (s *Store) lines(pick func(Record) []string) []string {
	var out []string
	for _, def := range s.order {
		for _, line := range pick(s.records[def]) {
			out = append(out, def+": "+line)
		}
	}
	return out
}

// FailedDefinitions returns the definitions whose state is Failed.
func (s *Store) FailedDefinitions() []string {
	return FailedDefinitions(s.Records())
}

// FailedDefinitions extracts the Failed subset of recs, in order.
func FailedDefinitions(recs []Record) []string {
	var out []string
	for _, rec := range recs {
		if rec.State == StateFailed {
			out = append(out, rec.Definition)
		}
	}
	return out
}
