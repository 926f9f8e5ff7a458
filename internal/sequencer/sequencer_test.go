package sequencer

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdmtests/console/internal/notify"
	"github.com/rdmtests/console/internal/rdmtests"
	"github.com/rdmtests/console/internal/results"
	"github.com/rdmtests/console/internal/validation"
)

func newMockSequencer(t *testing.T, opts ...Option) (*Sequencer, *rdmtests.MockServer, *notify.Channel) {
	t.Helper()
	mock := rdmtests.NewMockServer()
	ts := httptest.NewServer(mock)
	t.Cleanup(ts.Close)

	ch := notify.NewChannel(zerolog.Nop())
	client := rdmtests.NewClient(ts.URL, rdmtests.WithNotifier(ch))
	return New(client, ch, opts...), mock, ch
}

// stubGateway answers from fixed responses and can hold RunTests open.
type stubGateway struct {
	universes *rdmtests.UniversesResponse
	devices   *rdmtests.DevicesResponse
	run       *rdmtests.RunTestsResponse
	runErr    error
	catErr    error
	block     chan struct{}
	started   chan struct{}

	mu    sync.Mutex
	calls []string
}

func (g *stubGateway) record(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, name)
}

func (g *stubGateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *stubGateway) GetUniverses(ctx context.Context) (*rdmtests.UniversesResponse, error) {
	g.record(rdmtests.EndpointUniverses)
	return g.universes, nil
}

func (g *stubGateway) GetDevices(ctx context.Context, universe int) (*rdmtests.DevicesResponse, error) {
	g.record(rdmtests.EndpointDevices)
	return g.devices, nil
}

func (g *stubGateway) RunDiscovery(ctx context.Context, universe int) (*rdmtests.DevicesResponse, error) {
	g.record(rdmtests.EndpointDiscovery)
	return g.devices, nil
}

func (g *stubGateway) GetTestDefs(ctx context.Context) (*rdmtests.TestDefsResponse, error) {
	g.record(rdmtests.EndpointTestDefs)
	return &rdmtests.TestDefsResponse{TestDefs: []string{"T1", "T2"}}, nil
}

func (g *stubGateway) GetTestCategories(ctx context.Context) (*rdmtests.CategoriesResponse, error) {
	g.record(rdmtests.EndpointTestCategories)
	if g.catErr != nil {
		return nil, g.catErr
	}
	return &rdmtests.CategoriesResponse{Categories: []string{"A"}}, nil
}

func (g *stubGateway) RunTests(ctx context.Context, req rdmtests.RunRequest) (*rdmtests.RunTestsResponse, error) {
	g.record(rdmtests.EndpointRunTests)
	if g.started != nil {
		close(g.started)
	}
	if g.block != nil {
		<-g.block
	}
	return g.run, g.runErr
}

func scenarioGateway() *stubGateway {
	return &stubGateway{
		universes: &rdmtests.UniversesResponse{
			Envelope:  rdmtests.Envelope{Status: true},
			Universes: []rdmtests.Universe{{ID: 1, Name: "Bench"}},
		},
		devices: &rdmtests.DevicesResponse{
			Envelope: rdmtests.Envelope{Status: true},
			UIDs:     []string{"7a70:00000001"},
		},
		run: &rdmtests.RunTestsResponse{
			Envelope: rdmtests.Envelope{Status: true, Timestamp: "99"},
			UID:      "7a70:00000001",
			Stats:    map[string]int{"Passed": 1, "Failed": 1},
			StatsByCategory: map[string]results.CategoryStat{
				"A": {Passed: 1, Total: 2},
			},
			TestResults: []results.Record{
				{Definition: "T1", Category: "A", State: results.StatePassed, Warnings: []string{}, Advisories: []string{}},
				{Definition: "T2", Category: "A", State: results.StateFailed, Warnings: []string{"w1"}, Advisories: []string{}},
			},
		},
	}
}

func TestBootstrap(t *testing.T) {
	seq, mock, _ := newMockSequencer(t)

	require.NoError(t, seq.Bootstrap(context.Background()))

	snap := seq.Snapshot()
	assert.Len(t, snap.Universes, 2)
	assert.True(t, snap.HasUniverse)
	assert.Equal(t, 1, snap.SelectedUniverse)
	assert.Equal(t, []string{"7a70:00000001", "7a70:00000002"}, snap.Devices)
	assert.Len(t, snap.TestDefs, len(mock.Tests))
	assert.Equal(t, []string{
		rdmtests.EndpointUniverses,
		rdmtests.EndpointDevices,
		rdmtests.EndpointTestDefs,
	}, mock.Requests())
}

func TestRefreshUniversesKeepsSelection(t *testing.T) {
	seq, _, _ := newMockSequencer(t)
	ctx := context.Background()

	require.NoError(t, seq.RefreshUniverses(ctx))
	require.NoError(t, seq.SelectUniverse(ctx, 2))
	assert.Empty(t, seq.Snapshot().Devices)

	require.NoError(t, seq.RefreshUniverses(ctx))
	assert.Equal(t, 2, seq.Snapshot().SelectedUniverse)
}

func TestSelectUnknownUniverse(t *testing.T) {
	seq, _, _ := newMockSequencer(t)
	ctx := context.Background()
	require.NoError(t, seq.RefreshUniverses(ctx))

	assert.Error(t, seq.SelectUniverse(ctx, 42))
	assert.Equal(t, 1, seq.Snapshot().SelectedUniverse)
}

func TestRefreshDevicesWithoutUniverse(t *testing.T) {
	seq, mock, _ := newMockSequencer(t)

	assert.ErrorIs(t, seq.RefreshDevices(context.Background()), ErrNoUniverse)
	assert.Empty(t, mock.Requests())
}

func TestRefreshDevicesFailureLeavesListUntouched(t *testing.T) {
	seq, mock, ch := newMockSequencer(t)
	ctx := context.Background()
	require.NoError(t, seq.RefreshUniverses(ctx))
	before := seq.Snapshot().Devices
	require.NotEmpty(t, before)

	mock.Fail(rdmtests.EndpointDevices, "no devices")
	err := seq.RefreshDevices(ctx)

	var protoErr *rdmtests.ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, before, seq.Snapshot().Devices)

	cur, ok := ch.Current()
	require.True(t, ok)
	assert.Equal(t, "no devices", cur.Message)
	assert.True(t, cur.Dismissable)
}

func TestRunDiscovery(t *testing.T) {
	seq, _, ch := newMockSequencer(t)
	ctx := context.Background()
	require.NoError(t, seq.RefreshUniverses(ctx))

	require.NoError(t, seq.RunDiscovery(ctx))

	assert.Equal(t, []string{"7a70:00000001", "7a70:00000002", "7a70:00000003"}, seq.Snapshot().Devices)
	_, shown := ch.Current()
	assert.False(t, shown)

	history := ch.History()
	require.NotEmpty(t, history)
	assert.Equal(t, "Running Full Discovery", history[0].Title)
	assert.True(t, history[0].Busy)
}

func TestRunDiscoveryFailureKeepsDevicesAndError(t *testing.T) {
	seq, mock, ch := newMockSequencer(t)
	ctx := context.Background()
	require.NoError(t, seq.RefreshUniverses(ctx))
	before := seq.Snapshot().Devices

	mock.Fail(rdmtests.EndpointDiscovery, "Discovery failed")
	require.Error(t, seq.RunDiscovery(ctx))

	assert.Equal(t, before, seq.Snapshot().Devices)
	cur, ok := ch.Current()
	require.True(t, ok)
	assert.Equal(t, notify.ErrorTitle, cur.Title)
	assert.Equal(t, "Discovery failed", cur.Message)
}

func TestSubmitRunScenario(t *testing.T) {
	gw := scenarioGateway()
	ch := notify.NewChannel(zerolog.Nop())
	seq := New(gw, ch)
	ctx := context.Background()
	require.NoError(t, seq.RefreshUniverses(ctx))

	session, err := seq.Submit(ctx, validation.Selection{})
	require.NoError(t, err)

	assert.Equal(t, 2, session.Store.Len())
	assert.Equal(t, 1, session.WarningCount)
	assert.Equal(t, 0, session.AdvisoryCount)
	assert.Equal(t, []string{"T2"}, results.Definitions(session.Filter("A", "Failed")))
	assert.Equal(t, []string{"T1", "T2"}, results.Definitions(session.Filter(results.All, results.All)))
	assert.Equal(t, []string{"T2"}, session.Failed)
	assert.Equal(t, []string{"T2"}, seq.Snapshot().PreviouslyFailed)
	assert.Equal(t, []string{"All", "A"}, session.Categories())
	assert.Equal(t, rdmtests.Token("99"), session.Timestamp)
	assert.Same(t, session, seq.Session())

	_, shown := ch.Current()
	assert.False(t, shown)
	history := ch.History()
	require.NotEmpty(t, history)
	assert.Equal(t, "Running 1 tests", history[len(history)-1].Title)
}

func TestSubmitWithMockServer(t *testing.T) {
	seq, mock, _ := newMockSequencer(t)
	ctx := context.Background()
	require.NoError(t, seq.Bootstrap(ctx))

	session, err := seq.Submit(ctx, validation.Selection{WriteDelay: "5"})
	require.NoError(t, err)

	assert.Equal(t, len(mock.Tests), session.Store.Len())
	assert.Equal(t, []string{"GetManufacturerLabel", "SetDMXStartAddress"}, session.Failed)
	assert.Equal(t, "5", mock.LastParams(rdmtests.EndpointRunTests).Get("w"))
	assert.Equal(t, "all", mock.LastParams(rdmtests.EndpointRunTests).Get("t"))
	assert.Equal(t, append([]string{"All"}, mock.Categories...), session.Categories())

	// re-run only what failed
	session, err = seq.Submit(ctx, validation.Selection{Mode: validation.ModePreviouslyFailed})
	require.NoError(t, err)
	assert.Equal(t, "GetManufacturerLabel,SetDMXStartAddress", mock.LastParams(rdmtests.EndpointRunTests).Get("t"))
	assert.Equal(t, 2, session.Store.Len())
}

func TestSubmitPreviouslyFailedWithoutFailures(t *testing.T) {
	seq, mock, ch := newMockSequencer(t)
	ctx := context.Background()
	require.NoError(t, seq.RefreshUniverses(ctx))

	_, err := seq.Submit(ctx, validation.Selection{Subset: []string{"GetDeviceInfo"}, Mode: validation.ModeSubset})
	require.NoError(t, err)
	require.Empty(t, seq.Snapshot().PreviouslyFailed)
	runs := countOf(mock.Requests(), rdmtests.EndpointRunTests)

	_, err = seq.Submit(ctx, validation.Selection{Mode: validation.ModePreviouslyFailed})
	var rej *validation.Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, runs, countOf(mock.Requests(), rdmtests.EndpointRunTests))

	cur, ok := ch.Current()
	require.True(t, ok)
	assert.Equal(t, rej.Reason, cur.Message)
}

func TestSubmitNarrowsPreviouslyFailedPick(t *testing.T) {
	seq, mock, _ := newMockSequencer(t)
	ctx := context.Background()
	require.NoError(t, seq.RefreshUniverses(ctx))
	_, err := seq.Submit(ctx, validation.Selection{})
	require.NoError(t, err)

	_, err = seq.Submit(ctx, validation.Selection{
		Mode:             validation.ModePreviouslyFailed,
		PreviouslyFailed: []string{"GetDeviceInfo", "SetDMXStartAddress"},
	})
	require.NoError(t, err)
	assert.Equal(t, "SetDMXStartAddress", mock.LastParams(rdmtests.EndpointRunTests).Get("t"))
}

func TestSubmitRejectedByServerReloadsUniverses(t *testing.T) {
	seq, mock, ch := newMockSequencer(t)
	ctx := context.Background()
	require.NoError(t, seq.RefreshUniverses(ctx))
	first, err := seq.Submit(ctx, validation.Selection{})
	require.NoError(t, err)

	mock.Fail(rdmtests.EndpointRunTests, "Device went away")
	_, err = seq.Submit(ctx, validation.Selection{})
	require.Error(t, err)

	reqs := mock.Requests()
	assert.Equal(t, []string{rdmtests.EndpointRunTests, rdmtests.EndpointUniverses, rdmtests.EndpointDevices}, reqs[len(reqs)-3:])
	assert.Same(t, first, seq.Session())

	cur, ok := ch.Current()
	require.True(t, ok)
	assert.Equal(t, "Device went away", cur.Message)
}

func TestSubmitMalformedReplyReloadsUniverses(t *testing.T) {
	seq, mock, ch := newMockSequencer(t)
	ctx := context.Background()
	require.NoError(t, seq.RefreshUniverses(ctx))
	first, err := seq.Submit(ctx, validation.Selection{})
	require.NoError(t, err)

	mock.SetState("GetDeviceInfo", results.State("Skipped"))
	_, err = seq.Submit(ctx, validation.Selection{})
	var protoErr *rdmtests.ProtocolError
	require.True(t, errors.As(err, &protoErr))

	reqs := mock.Requests()
	assert.Equal(t, []string{rdmtests.EndpointRunTests, rdmtests.EndpointUniverses, rdmtests.EndpointDevices}, reqs[len(reqs)-3:])
	assert.Same(t, first, seq.Session())

	cur, ok := ch.Current()
	require.True(t, ok)
	assert.Equal(t, notify.ErrorTitle, cur.Title)
	assert.Contains(t, cur.Message, "Skipped")
	assert.False(t, seq.Snapshot().Running)
}

func TestSubmitTransportFailureOnRun(t *testing.T) {
	gw := scenarioGateway()
	gw.run = nil
	gw.runErr = &rdmtests.TransportError{Endpoint: rdmtests.EndpointRunTests, Err: errors.New("connection reset")}
	ch := notify.NewChannel(zerolog.Nop())
	seq := New(gw, ch)
	ctx := context.Background()
	require.NoError(t, seq.RefreshUniverses(ctx))

	_, err := seq.Submit(ctx, validation.Selection{})
	var transportErr *rdmtests.TransportError
	require.True(t, errors.As(err, &transportErr))

	cur, ok := ch.Current()
	require.True(t, ok)
	assert.Equal(t, notify.ErrorTitle, cur.Title)
	assert.True(t, cur.Dismissable)
	assert.False(t, cur.Busy)

	calls := gw.Calls()
	assert.Equal(t, rdmtests.EndpointRunTests, calls[len(calls)-1])
	assert.Equal(t, 1, countOf(calls, rdmtests.EndpointUniverses))
	assert.Nil(t, seq.Session())
	assert.False(t, seq.Snapshot().Running)
}

func TestSubmitRepeatedDefinitionsKeepLastState(t *testing.T) {
	gw := scenarioGateway()
	gw.run.TestResults = []results.Record{
		{Definition: "T1", Category: "A", State: results.StateFailed},
		{Definition: "T2", Category: "A", State: results.StateFailed},
		{Definition: "T1", Category: "A", State: results.StatePassed},
		{Definition: "T2", Category: "A", State: results.StateFailed},
	}
	seq := New(gw, notify.NewChannel(zerolog.Nop()))
	ctx := context.Background()
	require.NoError(t, seq.RefreshUniverses(ctx))

	session, err := seq.Submit(ctx, validation.Selection{})
	require.NoError(t, err)

	assert.Equal(t, 2, session.Store.Len())
	assert.Equal(t, []string{"T2"}, session.Failed)
	assert.Equal(t, []string{"T2"}, seq.Snapshot().PreviouslyFailed)
}

func TestSubmitRejectsWhileRunInFlight(t *testing.T) {
	gw := scenarioGateway()
	gw.block = make(chan struct{})
	gw.started = make(chan struct{})
	ch := notify.NewChannel(zerolog.Nop())
	seq := New(gw, ch)
	ctx := context.Background()
	require.NoError(t, seq.RefreshUniverses(ctx))

	done := make(chan error, 1)
	go func() {
		_, err := seq.Submit(ctx, validation.Selection{})
		done <- err
	}()
	<-gw.started
	assert.True(t, seq.Snapshot().Running)

	_, err := seq.Submit(ctx, validation.Selection{})
	var rej *validation.Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, runInFlightReason, rej.Reason)
	assert.Equal(t, 1, countOf(gw.Calls(), rdmtests.EndpointRunTests))

	close(gw.block)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	assert.False(t, seq.Snapshot().Running)
}

func TestTransportFailureShowsError(t *testing.T) {
	ts := httptest.NewServer(rdmtests.NewMockServer())
	url := ts.URL
	ts.Close()

	ch := notify.NewChannel(zerolog.Nop())
	seq := New(rdmtests.NewClient(url, rdmtests.WithNotifier(ch)), ch)

	err := seq.RefreshUniverses(context.Background())
	var transportErr *rdmtests.TransportError
	require.True(t, errors.As(err, &transportErr))

	cur, ok := ch.Current()
	require.True(t, ok)
	assert.Equal(t, notify.ErrorTitle, cur.Title)
	assert.True(t, cur.Dismissable)
	assert.False(t, cur.Busy)
}

func TestCategoryFailureKeepsResults(t *testing.T) {
	gw := scenarioGateway()
	gw.catErr = &rdmtests.TransportError{Endpoint: rdmtests.EndpointTestCategories, Err: errors.New("reset")}
	seq := New(gw, notify.NewChannel(zerolog.Nop()))
	ctx := context.Background()
	require.NoError(t, seq.RefreshUniverses(ctx))

	session, err := seq.Submit(ctx, validation.Selection{})
	require.NoError(t, err)
	assert.Equal(t, 2, session.Store.Len())
	assert.Equal(t, []string{"All"}, session.Categories())
}

func TestFilterBeforeAnyRun(t *testing.T) {
	seq := New(scenarioGateway(), notify.NewChannel(zerolog.Nop()))
	assert.Empty(t, seq.Filter(results.All, results.All))
	assert.Nil(t, seq.Session())
}

type recordingListener struct {
	mu        sync.Mutex
	universes int
	devices   int
	results   int
}

func (l *recordingListener) UniversesChanged([]rdmtests.Universe) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.universes++
}

func (l *recordingListener) DevicesChanged(int, []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.devices++
}

func (l *recordingListener) ResultsReady(*RunSession) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results++
}

func TestListenerNotified(t *testing.T) {
	l := &recordingListener{}
	seq := New(scenarioGateway(), notify.NewChannel(zerolog.Nop()), WithListener(l))
	ctx := context.Background()

	require.NoError(t, seq.RefreshUniverses(ctx))
	_, err := seq.Submit(ctx, validation.Selection{})
	require.NoError(t, err)

	assert.Equal(t, 1, l.universes)
	assert.Equal(t, 1, l.devices)
	assert.Equal(t, 1, l.results)
}

func countOf(list []string, s string) int {
	n := 0
	for _, item := range list {
		if item == s {
			n++
		}
	}
	return n
}
