package rdmtests

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/rdmtests/console/internal/results"
)

// Endpoints exposed by the RDM test server.
const (
	EndpointUniverses       = "GetUnivInfo"
	EndpointDiscovery       = "RunDiscovery"
	EndpointDevices         = "GetDevices"
	EndpointTestDefs        = "GetTestDefs"
	EndpointRunTests        = "RunTests"
	EndpointTestCategories  = "GetTestCategories"
	EndpointDownloadResults = "DownloadResults"
)

// Token is the opaque timestamp the server attaches to every response.
// It may arrive as a JSON number or a string.
type Token string

func (t *Token) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Token(s)
		return nil
	}
	if string(data) == "null" {
		*t = ""
		return nil
	}
	*t = Token(data)
	return nil
}

// Envelope carries the fields present on every response.
type Envelope struct {
	Status    bool   `json:"status"`
	Timestamp Token  `json:"timestamp"`
	Message   string `json:"message,omitempty"`
}

func (e *Envelope) envelope() *Envelope { return e }

// Response is implemented by every endpoint schema.
type Response interface {
	envelope() *Envelope
}

type Universe struct {
	ID   int    `json:"_id"`
	Name string `json:"_name"`
}

type UniversesResponse struct {
	Envelope
	Universes []Universe `json:"universes"`
}

// DevicesResponse is returned by both GetDevices and RunDiscovery.
type DevicesResponse struct {
	Envelope
	UIDs []string `json:"uids"`
}

type TestDefsResponse struct {
	Envelope
	TestDefs []string `json:"test_defs"`
}

type CategoriesResponse struct {
	Envelope
	Categories []string `json:"Categories"`
}

type RunTestsResponse struct {
	Envelope
	UID             string                          `json:"UID"`
	Stats           map[string]int                  `json:"stats"`
	StatsByCategory map[string]results.CategoryStat `json:"stats_by_catg"`
	TestResults     []results.Record                `json:"test_results"`
	LogsDisabled    bool                            `json:"logs_disabled"`
}

// DefaultSlotCount is sent when DMX is not generated in the background.
const DefaultSlotCount = "128"

// FilterAll runs every test definition.
var FilterAll = []string{"all"}

// RunRequest is a validated test run submission.
type RunRequest struct {
	Universe     int      `json:"universe"`
	UID          string   `json:"uid"`
	WriteDelay   string   `json:"write_delay"`
	DMXFrameRate string   `json:"dmx_frame_rate"`
	SlotCount    string   `json:"slot_count"`
	TestFilter   []string `json:"test_filter"`
}

func (r RunRequest) Params() url.Values {
	v := url.Values{}
	v.Set("u", strconv.Itoa(r.Universe))
	v.Set("uid", r.UID)
	v.Set("w", r.WriteDelay)
	v.Set("f", r.DMXFrameRate)
	v.Set("c", r.SlotCount)
	v.Set("t", strings.Join(r.TestFilter, ","))
	return v
}
