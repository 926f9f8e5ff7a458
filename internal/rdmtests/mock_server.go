package rdmtests

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/rdmtests/console/internal/results"
)

// MockServer plays the remote RDM test server. Exported fields may be
// changed by tests before requests are made.
type MockServer struct {
	mu sync.Mutex

	Universes  []Universe
	Devices    map[int][]string
	Discovered map[int][]string
	Tests      []results.Record
	Categories []string

	LogsDisabled bool
	Logs         []byte

	// Failures maps an endpoint to the message returned with status false.
	// Entries are consumed by the next request to that endpoint.
	Failures map[string]string

	requests  []string
	params    map[string]url.Values
	timestamp int

	router chi.Router
}

func NewMockServer() *MockServer {
	m := &MockServer{
		Failures: make(map[string]string),
		params:   make(map[string]url.Values),
	}
	m.generateMockData()

	r := chi.NewRouter()
	r.Get("/"+EndpointUniverses, m.handleUniverses)
	r.Get("/"+EndpointDevices, m.handleDevices)
	r.Get("/"+EndpointDiscovery, m.handleDiscovery)
	r.Get("/"+EndpointTestDefs, m.handleTestDefs)
	r.Get("/"+EndpointTestCategories, m.handleCategories)
	r.Get("/"+EndpointRunTests, m.handleRunTests)
	r.Get("/"+EndpointDownloadResults, m.handleDownload)
	m.router = r
	return m
}

func (m *MockServer) generateMockData() {
	m.Universes = []Universe{
		{ID: 1, Name: "Bench"},
		{ID: 2, Name: "Rig"},
	}
	m.Devices = map[int][]string{
		1: {"7a70:00000001", "7a70:00000002"},
		2: {},
	}
	m.Discovered = map[int][]string{
		1: {"7a70:00000001", "7a70:00000002", "7a70:00000003"},
		2: {"4f4c:12345678"},
	}
	m.Tests = []results.Record{
		{Definition: "GetDeviceInfo", Category: "Core Functionality", State: results.StatePassed, Doc: "Check that GET DEVICE_INFO works.", Debug: []string{"GET: pid = DEVICE_INFO"}},
		{Definition: "GetSupportedParameters", Category: "Core Functionality", State: results.StatePassed, Doc: "Check that SUPPORTED_PARAMETERS is returned.", Debug: []string{"GET: pid = SUPPORTED_PARAMETERS"}},
		{Definition: "GetManufacturerLabel", Category: "Product Information", State: results.StateFailed, Warnings: []string{"Manufacturer label contains trailing nulls"}, Doc: "GET the manufacturer label.", Debug: []string{"GET: pid = MANUFACTURER_LABEL", "Failed: expected ACK"}},
		{Definition: "SetDeviceLabel", Category: "Product Information", State: results.StateBroken, Doc: "SET the device label.", Debug: []string{"Exception in test"}},
		{Definition: "GetSensorDefinition", Category: "Sensors", State: results.StateNotRun, Advisories: []string{"No sensors declared"}, Doc: "Fetch all sensor definitions.", Debug: []string{}},
		{Definition: "SetDMXStartAddress", Category: "DMX Setup", State: results.StateFailed, Doc: "SET the DMX start address.", Debug: []string{"SET: pid = DMX_START_ADDRESS", "Failed: NACK"}},
	}
	m.Categories = []string{"Core Functionality", "DMX Setup", "Product Information", "Sensors"}
	m.Logs = []byte("RDM responder test log\n")
}

func (m *MockServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests = append(m.requests, strings.TrimPrefix(r.URL.Path, "/"))
	m.params[strings.TrimPrefix(r.URL.Path, "/")] = r.URL.Query()
	m.mu.Unlock()
	m.router.ServeHTTP(w, r)
}

// Requests lists the endpoints hit so far, in order.
func (m *MockServer) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requests...)
}

// LastParams returns the query of the most recent request to endpoint.
func (m *MockServer) LastParams(endpoint string) url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params[endpoint]
}

// Fail makes the next request to endpoint answer with status false.
func (m *MockServer) Fail(endpoint, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failures[endpoint] = message
}

// SetState changes the state reported for definition by later runs.
func (m *MockServer) SetState(definition string, state results.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Tests {
		if m.Tests[i].Definition == definition {
			m.Tests[i].State = state
		}
	}
}

func (m *MockServer) reply(w http.ResponseWriter, endpoint string, payload map[string]interface{}) {
	m.mu.Lock()
	m.timestamp++
	payload["timestamp"] = m.timestamp
	payload["status"] = true
	if msg, ok := m.Failures[endpoint]; ok {
		delete(m.Failures, endpoint)
		payload = map[string]interface{}{
			"status":    false,
			"timestamp": m.timestamp,
			"message":   msg,
		}
	}
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

func (m *MockServer) universe(r *http.Request) (int, bool) {
	u, err := strconv.Atoi(r.URL.Query().Get("u"))
	if err != nil {
		return 0, false
	}
	for _, univ := range m.Universes {
		if univ.ID == u {
			return u, true
		}
	}
	return 0, false
}

func (m *MockServer) handleUniverses(w http.ResponseWriter, r *http.Request) {
	m.reply(w, EndpointUniverses, map[string]interface{}{"universes": m.Universes})
}

func (m *MockServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	u, ok := m.universe(r)
	if !ok {
		m.Fail(EndpointDevices, "Invalid universe id")
		m.reply(w, EndpointDevices, map[string]interface{}{})
		return
	}
	m.reply(w, EndpointDevices, map[string]interface{}{"uids": nonNil(m.Devices[u])})
}

func (m *MockServer) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	u, ok := m.universe(r)
	if !ok {
		m.Fail(EndpointDiscovery, "Invalid universe id")
		m.reply(w, EndpointDiscovery, map[string]interface{}{})
		return
	}
	m.reply(w, EndpointDiscovery, map[string]interface{}{"uids": nonNil(m.Discovered[u])})
}

func (m *MockServer) handleTestDefs(w http.ResponseWriter, r *http.Request) {
	defs := make([]string, 0, len(m.Tests))
	for _, t := range m.Tests {
		defs = append(defs, t.Definition)
	}
	m.reply(w, EndpointTestDefs, map[string]interface{}{"test_defs": defs})
}

func (m *MockServer) handleCategories(w http.ResponseWriter, r *http.Request) {
	m.reply(w, EndpointTestCategories, map[string]interface{}{"Categories": m.Categories})
}

type mockRecord struct {
	Definition string   `json:"definition"`
	Category   string   `json:"category"`
	State      string   `json:"state"`
	Warnings   []string `json:"warnings"`
	Advisories []string `json:"advisories"`
	Doc        string   `json:"doc"`
	Debug      []string `json:"debug"`
}

func (m *MockServer) handleRunTests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if _, ok := m.universe(r); !ok {
		m.Fail(EndpointRunTests, "Invalid universe id")
		m.reply(w, EndpointRunTests, map[string]interface{}{})
		return
	}
	if q.Get("uid") == "" {
		m.Fail(EndpointRunTests, "Invalid UID")
		m.reply(w, EndpointRunTests, map[string]interface{}{})
		return
	}

	wanted := map[string]bool{}
	for _, def := range strings.Split(q.Get("t"), ",") {
		wanted[def] = true
	}

	stats := map[string]int{}
	byCategory := map[string]map[string]int{}
	for _, cat := range m.Categories {
		byCategory[cat] = map[string]int{"passed": 0, "total": 0}
	}
	m.mu.Lock()
	tests := append([]results.Record(nil), m.Tests...)
	m.mu.Unlock()

	var records []mockRecord
	for _, t := range tests {
		if !wanted["all"] && !wanted[t.Definition] {
			continue
		}
		records = append(records, mockRecord{
			Definition: t.Definition,
			Category:   t.Category,
			State:      string(t.State),
			Warnings:   nonNil(t.Warnings),
			Advisories: nonNil(t.Advisories),
			Doc:        t.Doc,
			Debug:      nonNil(t.Debug),
		})
		stats[string(t.State)]++
		if _, ok := byCategory[t.Category]; !ok {
			byCategory[t.Category] = map[string]int{"passed": 0, "total": 0}
		}
		if t.State == results.StateNotRun {
			continue
		}
		byCategory[t.Category]["total"]++
		if t.State == results.StatePassed {
			byCategory[t.Category]["passed"]++
		}
	}
	if len(records) == 0 {
		m.Fail(EndpointRunTests, fmt.Sprintf("No tests matched %q", q.Get("t")))
		m.reply(w, EndpointRunTests, map[string]interface{}{})
		return
	}

	m.reply(w, EndpointRunTests, map[string]interface{}{
		"UID":           q.Get("uid"),
		"stats":         stats,
		"stats_by_catg": byCategory,
		"test_results":  records,
		"logs_disabled": m.LogsDisabled,
	})
}

func (m *MockServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	if m.LogsDisabled {
		http.Error(w, "logs are disabled", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/x-download")
	w.Write(m.Logs)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
