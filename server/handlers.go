package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tudihq/deras-agent/buildinfo"
	"github.com/tudihq/deras-agent/deras"
	"github.com/tudihq/deras-agent/inventory"
	"github.com/tudihq/deras-agent/protocol"
	"github.com/tudihq/deras-agent/settings"
)

// handleHealthCheck provides a health check endpoint (GET /api/v1/health)
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   buildinfo.FullVersion(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleStatus reports the gateway connection state (GET /api/v1/status)
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Conn.Status())
}

// handleReads returns the buffered reads, newest first (GET /api/v1/reads)
func (s *Server) handleReads(w http.ResponseWriter, r *http.Request) {
	reads := s.config.Conn.Reads()
	if reads == nil {
		reads = []deras.Read{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reads": reads})
}

// handleLatestRead returns the most recent read (GET /api/v1/reads/latest)
func (s *Server) handleLatestRead(w http.ResponseWriter, r *http.Request) {
	latest := s.config.Conn.LatestRead()
	if latest == nil {
		writeError(w, http.StatusNotFound, "no reads yet")
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

// handleLogs returns the protocol log, newest first (GET /api/v1/logs)
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	logs := s.config.Conn.Logs()
	if logs == nil {
		logs = []deras.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

type connectRequest struct {
	URL  string `json:"url"`
	Mock bool   `json:"mock"`
}

// handleConnect opens a gateway session (POST /api/v1/connect). An
// empty URL falls back to the saved setting.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL == "" {
		req.URL = s.config.Settings.Load().URL
	}
	mode := deras.ModeLive
	if req.Mock {
		mode = deras.ModeMock
	}

	if err := s.config.Conn.Connect(req.URL, mode); err != nil {
		writeJSON(w, http.StatusBadGateway, s.config.Conn.Status())
		return
	}
	writeJSON(w, http.StatusOK, s.config.Conn.Status())
}

// handleDisconnect closes the gateway session (POST /api/v1/disconnect)
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.config.Conn.Disconnect()
	writeJSON(w, http.StatusOK, s.config.Conn.Status())
}

type commandRequest struct {
	Event string `json:"event"`
	Value any    `json:"value,omitempty"`
	Await bool   `json:"await,omitempty"`
}

// handleCommand transmits a raw gateway command (POST /api/v1/command).
// With await set, the call blocks for the gateway's response event and
// maps correlation failures onto HTTP statuses.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Event == "" {
		writeError(w, http.StatusBadRequest, "event is required")
		return
	}

	payload := map[string]any{"event": req.Event}
	if req.Value != nil {
		payload["value"] = req.Value
	}

	if !req.Await {
		if !s.config.Conn.SendMessage(payload) {
			writeError(w, http.StatusConflict, "not connected")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sent": true})
		return
	}

	entry, err := s.config.Conn.SendAndAwait(payload, protocol.ResponseEvent(req.Event), 0)
	if err != nil {
		s.writeCorrelationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true, "response": entry})
}

type registrationItem struct {
	SKU         string `json:"sku"`
	Description string `json:"description"`
	Category    string `json:"category"`
	EPC         string `json:"epc"`
	TID         string `json:"tid"`
	FlagAlarm   string `json:"flagAlarm,omitempty"`
}

type registrationRequest struct {
	Items []registrationItem `json:"items"`
}

// handleRegistration uploads scanned tags to the gateway database as a
// bulk insert and mirrors them into the local inventory on success
// (POST /api/v1/registration).
func (s *Server) handleRegistration(w http.ResponseWriter, r *http.Request) {
	var req registrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "no items to register")
		return
	}

	// A tag sitting in the antenna field gets scanned repeatedly; only
	// the first occurrence of each TID is uploaded.
	dedup := deras.NewSessionDedup()
	items := make([]registrationItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.TID != "" && dedup.Seen(item.TID) {
			continue
		}
		items = append(items, item)
	}

	list := make([]protocol.RFIDListItem, 0, len(items))
	for _, item := range items {
		list = append(list, protocol.RFIDListItem{
			TID:         item.TID,
			EPC:         item.EPC,
			Status:      "registered",
			Category:    item.Category,
			Description: item.Description,
			NoSKU:       item.SKU,
			FlagAlarm:   item.FlagAlarm,
		})
	}

	payload := map[string]any{
		"event": protocol.EventBulkInsert,
		"value": list,
	}
	batchID := uuid.NewString()
	entry, err := s.config.Conn.SendAndAwait(payload,
		protocol.ResponseEvent(protocol.EventBulkInsert), 0)
	if err != nil {
		s.logger.Printf("registration batch %s failed: %v", batchID, err)
		s.writeCorrelationError(w, err)
		return
	}
	s.logger.Printf("registration batch %s: %d item(s) uploaded", batchID, len(list))

	registered := make([]inventory.Item, 0, len(items))
	for _, item := range items {
		registered = append(registered, s.config.Inventory.Add(inventory.Item{
			SKU:         item.SKU,
			Description: item.Description,
			Category:    item.Category,
			EPC:         item.EPC,
			TID:         item.TID,
		}))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"batchId":    batchID,
		"registered": registered,
		"response":   entry,
	})
}

// writeCorrelationError maps command correlation failures onto HTTP
// statuses: no connection is a client-state conflict, a silent gateway
// is an upstream timeout, and a failure response is an upstream error.
func (s *Server) writeCorrelationError(w http.ResponseWriter, err error) {
	switch {
	case deras.IsNotConnected(err):
		writeError(w, http.StatusConflict, "not connected")
	case deras.IsTimeout(err):
		writeError(w, http.StatusGatewayTimeout, "no response from gateway")
	case deras.IsServerError(err):
		writeError(w, http.StatusBadGateway, "gateway reported failure")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleInventory lists items registered this session (GET /api/v1/inventory)
func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	items := s.config.Inventory.List()
	if items == nil {
		items = []inventory.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleSettings reads or replaces the persisted connection settings
// (GET and POST /api/v1/settings)
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.config.Settings.Load())
	case http.MethodPost:
		var cfg settings.Settings
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if cfg.URL == "" {
			cfg.URL = settings.DefaultURL
		}
		if err := s.config.Settings.Save(cfg); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
		writeJSON(w, http.StatusOK, s.config.Settings.Load())
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
