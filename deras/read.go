package deras

import (
	"encoding/json"
	"regexp"
	"strconv"

	"github.com/tudihq/deras-agent/protocol"
)

// RSSI bounds enforced before storage. Values outside the range are
// clamped, never rejected.
const (
	RSSIMin     = -90
	RSSIMax     = -30
	RSSIDefault = -50
)

// Read is one observed tag detection event. Reads are immutable once
// created; the same TID may repeat across records since every physical
// detection is a separate record. Deduplication is a consumer concern
// (see SessionDedup).
type Read struct {
	EPC       string `json:"epc"`
	TID       string `json:"tid"`
	RSSI      int    `json:"rssi"` // dBm, clamped to [RSSIMin, RSSIMax]
	Antenna   string `json:"antenna"`
	Timestamp int64  `json:"timestamp"` // ingestion wall clock, millis
	Valid     bool   `json:"valid"`     // gateway's rfid_valid == "1"
}

var rssiIntPattern = regexp.MustCompile(`-?\d+`)

// ClampRSSI constrains v to the [RSSIMin, RSSIMax] range.
func ClampRSSI(v int) int {
	if v < RSSIMin {
		return RSSIMin
	}
	if v > RSSIMax {
		return RSSIMax
	}
	return v
}

// ParseRSSI extracts the leading signed integer from the gateway's
// "<signed-int>,<float>" RSSI field. The trailing float is a secondary
// metric the system does not use. Returns RSSIDefault when no integer
// is present.
func ParseRSSI(s string) int {
	match := rssiIntPattern.FindString(s)
	if match == "" {
		return RSSIDefault
	}
	v, err := strconv.Atoi(match)
	if err != nil {
		return RSSIDefault
	}
	return v
}

// Normalize parses a raw inbound gateway frame into a Read.
//
// It returns an ErrCodeParseFailed error for unparseable frames and an
// ErrCodeIgnoredEvent rejection for well-formed frames whose event is
// not a tag read; the caller still logs both. Reads with rfid_valid
// other than "1" are forwarded with Valid=false rather than dropped so
// consumers can decide whether to act on them. (A stricter gateway
// variant drops such reads at this layer; flag any change of policy to
// stakeholders before adopting it.)
//
// now is the ingestion timestamp in milliseconds; the gateway's own
// clock is never trusted. Normalize is side-effect-free.
func Normalize(raw []byte, now int64) (Read, error) {
	var frame protocol.TagReadFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Read{}, NewParseError("Normalize", err)
	}
	if frame.Event != protocol.EventScanResult {
		return Read{}, NewIgnoredEventError("Normalize", frame.Event)
	}

	antenna := frame.Ant
	if antenna == "" {
		antenna = "1"
	}

	return Read{
		EPC:       frame.Data,
		TID:       frame.DataTID,
		RSSI:      ClampRSSI(ParseRSSI(frame.RSSI)),
		Antenna:   antenna,
		Timestamp: now,
		Valid:     frame.RFIDValid == "1",
	}, nil
}
