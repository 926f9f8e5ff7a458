package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rdmtests/console/internal/metrics"
	"github.com/rdmtests/console/internal/notify"
	"github.com/rdmtests/console/internal/rdmtests"
	"github.com/rdmtests/console/internal/results"
	"github.com/rdmtests/console/internal/validation"
)

// Gateway is the part of the RDM test server client the sequencer drives.
type Gateway interface {
	GetUniverses(ctx context.Context) (*rdmtests.UniversesResponse, error)
	GetDevices(ctx context.Context, universe int) (*rdmtests.DevicesResponse, error)
	RunDiscovery(ctx context.Context, universe int) (*rdmtests.DevicesResponse, error)
	GetTestDefs(ctx context.Context) (*rdmtests.TestDefsResponse, error)
	GetTestCategories(ctx context.Context) (*rdmtests.CategoriesResponse, error)
	RunTests(ctx context.Context, req rdmtests.RunRequest) (*rdmtests.RunTestsResponse, error)
}

// Listener is told about state changes so renderers can refresh.
type Listener interface {
	UniversesChanged(universes []rdmtests.Universe)
	DevicesChanged(universe int, uids []string)
	ResultsReady(session *RunSession)
}

type NopListener struct{}

func (NopListener) UniversesChanged([]rdmtests.Universe) {}
func (NopListener) DevicesChanged(int, []string) {}
func (NopListener) ResultsReady(*RunSession) {}

// ErrNoUniverse is returned by device operations before any universe is known.
var ErrNoUniverse = errors.New("no universe selected")

const runInFlightReason = "A test run is already in progress"

// Snapshot is a copy of the sequencer state for renderers.
type Snapshot struct {
	Universes        []rdmtests.Universe `json:"universes"`
	SelectedUniverse int                 `json:"selected_universe"`
	HasUniverse      bool                `json:"has_universe"`
	Devices          []string            `json:"devices"`
	TestDefs         []string            `json:"test_defs"`
	PreviouslyFailed []string            `json:"previously_failed"`
	Running          bool                `json:"running"`
}

// Sequencer runs the console workflow against the test server and owns
// the results of the latest run.
type Sequencer struct {
	gw       Gateway
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	listener Listener

	mu               sync.Mutex
	universes        []rdmtests.Universe
	selected         int
	hasUniverse      bool
	devices          []string
	testDefs         []string
	previouslyFailed []string
	session          *RunSession
	running          bool
}

type Option func(*Sequencer)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sequencer) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Sequencer) { s.logger = l }
}

func WithListener(l Listener) Option {
	return func(s *Sequencer) { s.listener = l }
}

func New(gw Gateway, notifier notify.Notifier, opts ...Option) *Sequencer {
	s := &Sequencer{
		gw:       gw,
		notifier: notifier,
		logger:   zerolog.Nop(),
		listener: NopListener{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bootstrap loads universes, the devices of the selected universe and the
// test definitions.
func (s *Sequencer) Bootstrap(ctx context.Context) error {
	uErr := s.RefreshUniverses(ctx)
	dErr := s.FetchTestDefs(ctx)
	return errors.Join(uErr, dErr)
}

// RefreshUniverses replaces the universe list and then refreshes devices.
// The current selection is kept when it still exists.
func (s *Sequencer) RefreshUniverses(ctx context.Context) error {
	resp, err := s.gw.GetUniverses(ctx)
	if err != nil {
		s.failed(err)
		return err
	}

	s.mu.Lock()
	s.universes = append([]rdmtests.Universe(nil), resp.Universes...)
	keep := false
	for _, u := range s.universes {
		if s.hasUniverse && u.ID == s.selected {
			keep = true
			break
		}
	}
	if !keep {
		s.hasUniverse = len(s.universes) > 0
		s.selected = 0
		if s.hasUniverse {
			s.selected = s.universes[0].ID
		}
	}
	universes := append([]rdmtests.Universe(nil), s.universes...)
	hasUniverse := s.hasUniverse
	s.mu.Unlock()

	s.logger.Debug().Int("count", len(universes)).Msg("Universes refreshed")
	s.listener.UniversesChanged(universes)

	if !hasUniverse {
		return nil
	}
	return s.RefreshDevices(ctx)
}

// SelectUniverse changes the selected universe and refreshes its devices.
func (s *Sequencer) SelectUniverse(ctx context.Context, id int) error {
	s.mu.Lock()
	found := false
	for _, u := range s.universes {
		if u.ID == id {
			found = true
			break
		}
	}
	if found {
		s.selected = id
		s.hasUniverse = true
	}
	s.mu.Unlock()

	if !found {
		return fmt.Errorf("unknown universe %d", id)
	}
	return s.RefreshDevices(ctx)
}

// RefreshDevices replaces the device list with the devices patched to the
// selected universe. On failure the previous list is left untouched.
func (s *Sequencer) RefreshDevices(ctx context.Context) error {
	universe, ok := s.selectedUniverse()
	if !ok {
		return ErrNoUniverse
	}

	resp, err := s.gw.GetDevices(ctx, universe)
	if err != nil {
		s.failed(err)
		return err
	}
	s.setDevices(universe, resp.UIDs)
	return nil
}

// RunDiscovery runs full discovery on the selected universe. On failure the
// previous device list is kept and the error stays visible.
func (s *Sequencer) RunDiscovery(ctx context.Context) error {
	universe, ok := s.selectedUniverse()
	if !ok {
		return ErrNoUniverse
	}

	s.notifier.Notify(notify.Busy("Running Full Discovery"))
	resp, err := s.gw.RunDiscovery(ctx, universe)
	if err != nil {
		s.failed(err)
		return err
	}
	s.setDevices(universe, resp.UIDs)
	s.notifier.Clear()
	return nil
}

// FetchTestDefs loads the definitions offered for subset runs.
func (s *Sequencer) FetchTestDefs(ctx context.Context) error {
	resp, err := s.gw.GetTestDefs(ctx)
	if err != nil {
		s.failed(err)
		return err
	}
	s.mu.Lock()
	s.testDefs = append([]string(nil), resp.TestDefs...)
	s.mu.Unlock()
	return nil
}

// Submit validates sel against the current state and runs it. The universe
// and device list always come from the sequencer. In previously-failed mode
// an empty pick means every failed test of the last run; otherwise the pick
// is narrowed to tests that actually failed.
func (s *Sequencer) Submit(ctx context.Context, sel validation.Selection) (*RunSession, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, s.reject(&validation.Rejection{Reason: runInFlightReason})
	}
	sel.Universe = s.selected
	if !s.hasUniverse {
		sel.Devices = nil
	} else {
		sel.Devices = append([]string(nil), s.devices...)
	}
	if sel.Mode == validation.ModePreviouslyFailed {
		sel.PreviouslyFailed = narrow(s.previouslyFailed, sel.PreviouslyFailed)
	}
	s.mu.Unlock()

	req, err := validation.Validate(sel)
	if err != nil {
		var rej *validation.Rejection
		if errors.As(err, &rej) {
			return nil, s.reject(rej)
		}
		return nil, err
	}
	return s.SubmitRun(ctx, req)
}

// SubmitRun sends a validated request. Only one run may be outstanding.
// If the server rejects the run the universe list is reloaded, since the
// selected universe or device has most likely gone away.
func (s *Sequencer) SubmitRun(ctx context.Context, req rdmtests.RunRequest) (*RunSession, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, s.reject(&validation.Rejection{Reason: runInFlightReason})
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.notifier.Notify(notify.Busy(fmt.Sprintf("Running %d tests", len(req.TestFilter))))
	s.logger.Info().
		Int("universe", req.Universe).
		Str("uid", req.UID).
		Strs("filter", req.TestFilter).
		Msg("Submitting test run")

	resp, err := s.gw.RunTests(ctx, req)
	if err != nil {
		var protoErr *rdmtests.ProtocolError
		if errors.As(err, &protoErr) {
			s.metrics.RecordRun(metrics.OutcomeProtocolError)
			s.logger.Warn().Err(err).Msg("Test run rejected, reloading universes")
			if rErr := s.RefreshUniverses(ctx); rErr != nil {
				s.logger.Warn().Err(rErr).Msg("Universe reload failed")
			}
			return nil, err
		}
		s.metrics.RecordRun(metrics.OutcomeTransportError)
		s.failed(err)
		return nil, err
	}

	s.notifier.Clear()
	s.metrics.RecordRun(metrics.OutcomeOK)
	return s.PopulateResults(ctx, resp), nil
}

// PopulateResults publishes a new session built from resp, replacing the
// previous one, then loads the category filter options. The session's
// Failed list becomes the previously failed selection.
func (s *Sequencer) PopulateResults(ctx context.Context, resp *rdmtests.RunTestsResponse) *RunSession {
	session := newSession(resp)

	s.mu.Lock()
	s.session = session
	s.previouslyFailed = append([]string(nil), session.Failed...)
	s.mu.Unlock()

	s.metrics.RecordResults(session.Summary)
	s.logger.Info().
		Str("uid", session.UID).
		Int("tests", session.Store.Len()).
		Int("warnings", session.WarningCount).
		Int("advisories", session.AdvisoryCount).
		Msg("Test results ready")

	cats, err := s.gw.GetTestCategories(ctx)
	if err != nil {
		s.failed(err)
	} else {
		session.addCategories(cats.Categories)
	}

	s.listener.ResultsReady(session)
	return session
}

// Session returns the latest run, or nil before the first one completes.
func (s *Sequencer) Session() *RunSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Filter applies the selection to the latest run.
func (s *Sequencer) Filter(category, state string) []results.Entry {
	session := s.Session()
	if session == nil {
		return []results.Entry{}
	}
	return session.Filter(category, state)
}

func (s *Sequencer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Universes:        append([]rdmtests.Universe(nil), s.universes...),
		SelectedUniverse: s.selected,
		HasUniverse:      s.hasUniverse,
		Devices:          append([]string(nil), s.devices...),
		TestDefs:         append([]string(nil), s.testDefs...),
		PreviouslyFailed: append([]string(nil), s.previouslyFailed...),
		Running:          s.running,
	}
}

func (s *Sequencer) selectedUniverse() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.hasUniverse
}

func (s *Sequencer) setDevices(universe int, uids []string) {
	s.mu.Lock()
	s.devices = append([]string(nil), uids...)
	s.mu.Unlock()
	s.logger.Debug().Int("universe", universe).Int("count", len(uids)).Msg("Devices refreshed")
	s.listener.DevicesChanged(universe, append([]string(nil), uids...))
}

// failed surfaces transport errors. Protocol errors were already shown by
// the gateway.
func (s *Sequencer) failed(err error) {
	var protoErr *rdmtests.ProtocolError
	if errors.As(err, &protoErr) {
		return
	}
	s.logger.Error().Err(err).Msg("Request to RDM test server failed")
	s.notifier.Clear()
	s.notifier.Notify(notify.Error(err.Error()))
}

func (s *Sequencer) reject(rej *validation.Rejection) error {
	s.metrics.RecordRejection()
	s.notifier.Notify(notify.Error(rej.Reason))
	return rej
}

// narrow keeps the picked definitions that are in failed. An empty pick
// selects all of failed.
func narrow(failed, picked []string) []string {
	if len(picked) == 0 {
		return append([]string(nil), failed...)
	}
	in := make(map[string]bool, len(failed))
	for _, def := range failed {
		in[def] = true
	}
	var out []string
	for _, def := range picked {
		if in[def] {
			out = append(out, def)
		}
	}
	return out
}
