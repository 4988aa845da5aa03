package server

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tudihq/deras-agent/deras"
	"github.com/tudihq/deras-agent/inventory"
	"github.com/tudihq/deras-agent/settings"
)

func newTestServer(t *testing.T) (*Server, *deras.Conn) {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	conn := deras.New(deras.Options{Logger: quiet})
	t.Cleanup(conn.Close)

	store := settings.Open(filepath.Join(t.TempDir(), "agent.db"), quiet)
	t.Cleanup(func() { store.Close() })

	s := New(Config{
		Conn:        conn,
		Settings:    store,
		Inventory:   inventory.NewStore(),
		Port:        0,
		DisableMDNS: true,
		Logger:      quiet,
	})
	return s, conn
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response["status"] != "ok" {
		t.Errorf("status field = %v, want ok", response["status"])
	}
}

func TestStatusEndpointWhileDisconnected(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var status deras.StatusUpdate
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if status.Connected {
		t.Error("reported connected without a session")
	}
}

func TestReadsEndpointEmpty(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/v1/reads", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var response struct {
		Reads []deras.Read `json:"reads"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(response.Reads) != 0 {
		t.Errorf("reads = %v, want empty", response.Reads)
	}
}

func TestLatestReadNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/v1/reads/latest", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestCommandWhileDisconnected(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/v1/command", `{"event":"scan-rfid-on"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestCommandRejectsMissingEvent(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/v1/command", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRegistrationWhileDisconnected(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"items":[{"sku":"SKU-1","tid":"TID-1","epc":"EPC-1"}]}`
	w := doRequest(t, s, http.MethodPost, "/api/v1/registration", body)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	if s.config.Inventory.Len() != 0 {
		t.Error("failed registration still added inventory items")
	}
}

func TestRegistrationRejectsEmptyList(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/v1/registration", `{"items":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSettingsRoundtrip(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/v1/settings", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", w.Code)
	}
	var cfg settings.Settings
	if err := json.NewDecoder(w.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if cfg.URL != settings.DefaultURL {
		t.Errorf("default URL = %q", cfg.URL)
	}

	body := `{"url":"ws://10.0.0.7:3030","mockMode":true,"autoConnect":true}`
	w = doRequest(t, s, http.MethodPost, "/api/v1/settings", body)
	if w.Code != http.StatusOK {
		t.Fatalf("POST status = %d, want 200", w.Code)
	}

	w = doRequest(t, s, http.MethodGet, "/api/v1/settings", "")
	if err := json.NewDecoder(w.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	want := settings.Settings{URL: "ws://10.0.0.7:3030", MockMode: true, AutoConnect: true}
	if cfg != want {
		t.Errorf("settings = %+v, want %+v", cfg, want)
	}
}

func TestConnectMockModeEndToEnd(t *testing.T) {
	s, conn := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/v1/connect", `{"mock":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("connect status = %d, want 200", w.Code)
	}
	var status deras.StatusUpdate
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !status.Connected || status.Mode != "mock" {
		t.Errorf("status = %+v, want connected mock", status)
	}
	if !conn.IsConnected() {
		t.Error("underlying connection not active")
	}

	w = doRequest(t, s, http.MethodPost, "/api/v1/disconnect", "")
	if w.Code != http.StatusOK {
		t.Fatalf("disconnect status = %d, want 200", w.Code)
	}
	if conn.IsConnected() {
		t.Error("still connected after disconnect")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/v1/health", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodOptions, "/api/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != CORSAllowOrigin {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestLogsEndpointEmpty(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/v1/logs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var response struct {
		Logs []deras.LogEntry `json:"logs"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(response.Logs) != 0 {
		t.Errorf("logs = %v, want empty", response.Logs)
	}
}
