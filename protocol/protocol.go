// Package protocol defines the DERAS gateway wire message shapes.
// This package is designed to be importable by external tools without
// pulling in agent dependencies.
package protocol

// Event names observed on the DERAS gateway protocol.
const (
	EventScanResult = "scan-rfid-result"
	EventScanOn     = "scan-rfid-on"
	EventScanOff    = "scan-rfid-off"
	EventBulkInsert = "db-storage-insert-rfid-list-bulk"

	// EventSystem and EventError are synthetic local events recorded in
	// the protocol log; they never travel on the wire.
	EventSystem     = "system"
	EventError      = "error"
	EventParseError = "parse-error"
)

// StatusOK is the gateway's conventional success status code.
const StatusOK = 1

// ResponseEvent returns the event name the gateway uses when answering
// the given command, e.g. "scan-rfid-off" -> "response-scan-rfid-off".
func ResponseEvent(command string) string {
	return "response-" + command
}

// Envelope is the minimal shape every inbound gateway frame shares.
// StatusCode is present only on command responses.
type Envelope struct {
	Event      string `json:"event"`
	StatusCode *int   `json:"statusCode,omitempty"`
}

// TagReadFrame is the inbound frame emitted for each tag detection.
type TagReadFrame struct {
	Event     string `json:"event"`
	Type      int    `json:"type"`
	Data      string `json:"data"`     // EPC memory content, hex
	DataTID   string `json:"data_tid"` // chip identifier, hex
	Ant       string `json:"ant"`      // antenna port identifier
	RSSI      string `json:"rssi"`     // "<signed-int>,<float>"
	RFIDValid string `json:"rfid_valid"`
}

// Command is the outbound command frame envelope. Command-specific
// fields ride in Value.
type Command struct {
	Event string `json:"event"`
	Value any    `json:"value,omitempty"`
}

// RFIDListItem is one record of a bulk registration upload.
type RFIDListItem struct {
	TID         string `json:"tid"`
	EPC         string `json:"epc"`
	Status      string `json:"status"`
	Category    string `json:"category"`
	Description string `json:"description"`
	NoSKU       string `json:"no_sku"`
	FlagAlarm   string `json:"flag_alarm"`
}
