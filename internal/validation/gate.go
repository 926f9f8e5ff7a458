package validation

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rdmtests/console/internal/rdmtests"
)

const (
	MinSlotCount = 1
	MaxSlotCount = 512
)

// Mode selects which test definitions a run covers.
type Mode string

const (
	ModeAll              Mode = "all"
	ModeSubset           Mode = "subset"
	ModePreviouslyFailed Mode = "previously_failed"
)

// Selection is the raw form state a run is built from. Numeric fields are
// kept as typed by the user; empty means "use the server default".
type Selection struct {
	Universe  int    `json:"universe"`
	DeviceUID string `json:"uid"`
	// Devices is the device list currently offered for Universe.
	Devices []string `json:"devices,omitempty"`

	WriteDelay          string `json:"write_delay"`
	DMXFrameRate        string `json:"dmx_frame_rate"`
	SlotCount           string `json:"slot_count"`
	SendDMXInBackground bool   `json:"send_dmx_in_bg"`

	Mode             Mode     `json:"mode"`
	Subset           []string `json:"subset,omitempty"`
	PreviouslyFailed []string `json:"previously_failed,omitempty"`
}

// Rejection explains why a run was not submitted.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return r.Reason
}

func reject(format string, args ...interface{}) *Rejection {
	return &Rejection{Reason: fmt.Sprintf(format, args...)}
}

// Validate checks sel and resolves it into a RunRequest. It never touches
// the network.
func Validate(sel Selection) (rdmtests.RunRequest, error) {
	if len(sel.Devices) == 0 {
		return rdmtests.RunRequest{}, reject("There are no devices patched to the selected universe!")
	}
	uid := sel.DeviceUID
	if uid == "" {
		uid = sel.Devices[0]
	} else if !contains(sel.Devices, uid) {
		return rdmtests.RunRequest{}, reject("Device %s is not patched to universe %d", uid, sel.Universe)
	}

	for _, f := range []struct {
		label, value string
	}{
		{"WRITE DELAY", sel.WriteDelay},
		{"DMX FRAME RATE", sel.DMXFrameRate},
		{"SLOT COUNT", sel.SlotCount},
	} {
		if _, ok := parseNumber(f.value); !ok {
			return rdmtests.RunRequest{}, reject("%s must be a number!", f.label)
		}
	}

	if slots, ok := parseNumber(sel.SlotCount); ok && strings.TrimSpace(sel.SlotCount) != "" {
		if slots < MinSlotCount || slots > MaxSlotCount {
			return rdmtests.RunRequest{}, reject("Invalid number of slots (expected: [%d-%d])", MinSlotCount, MaxSlotCount)
		}
	}

	filter, err := resolveFilter(sel)
	if err != nil {
		return rdmtests.RunRequest{}, err
	}

	req := rdmtests.RunRequest{
		Universe:     sel.Universe,
		UID:          uid,
		WriteDelay:   strings.TrimSpace(sel.WriteDelay),
		DMXFrameRate: "0",
		SlotCount:    rdmtests.DefaultSlotCount,
		TestFilter:   filter,
	}
	if sel.SendDMXInBackground {
		req.DMXFrameRate = strings.TrimSpace(sel.DMXFrameRate)
		if slots := strings.TrimSpace(sel.SlotCount); slots != "" {
			req.SlotCount = slots
		}
	}
	return req, nil
}

func resolveFilter(sel Selection) ([]string, error) {
	switch sel.Mode {
	case "", ModeAll:
		return append([]string(nil), rdmtests.FilterAll...), nil
	case ModeSubset:
		if len(sel.Subset) == 0 {
			return nil, reject("No tests were selected!")
		}
		return append([]string(nil), sel.Subset...), nil
	case ModePreviouslyFailed:
		if len(sel.PreviouslyFailed) == 0 {
			return nil, reject("Select failed tests to run again!")
		}
		return append([]string(nil), sel.PreviouslyFailed...), nil
	default:
		return nil, reject("Unknown test selection mode %q", sel.Mode)
	}
}

// parseNumber reports whether s is empty or a finite number.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
