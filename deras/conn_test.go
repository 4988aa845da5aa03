package deras

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeSock is a scripted frame source standing in for the gateway
// socket. Frames queued with inject are delivered to the read loop;
// writes are recorded for assertions.
type fakeSock struct {
	mu     sync.Mutex
	in     chan []byte
	closed chan struct{}
	once   sync.Once
	writes [][]byte
}

func newFakeSock() *fakeSock {
	return &fakeSock{
		in:     make(chan []byte, 32),
		closed: make(chan struct{}),
	}
}

func (f *fakeSock) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.in:
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (f *fakeSock) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("use of closed network connection")
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeSock) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSock) inject(raw string) {
	f.in <- []byte(raw)
}

func (f *fakeSock) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeSock) lastWrite() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}

func newTestConn(t *testing.T, sock *fakeSock) *Conn {
	t.Helper()
	c := New(Options{
		Logger: log.New(io.Discard, "", 0),
		Dialer: func(url string) (FrameConn, error) { return sock, nil },
	})
	t.Cleanup(c.Close)
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func findLog(entries []LogEntry, event string) (LogEntry, bool) {
	for _, e := range entries {
		if e.Event == event {
			return e, true
		}
	}
	return LogEntry{}, false
}

func TestConnectRecordsSystemEntry(t *testing.T) {
	sock := newFakeSock()
	c := newTestConn(t, sock)

	if err := c.Connect("ws://gateway:3030", ModeLive); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if !c.IsConnected() {
		t.Fatal("not connected after Connect")
	}
	if c.LastError() != "" {
		t.Errorf("LastError = %q, want empty", c.LastError())
	}

	entry, found := findLog(c.Logs(), "system")
	if !found {
		t.Fatal("no system log entry after connect")
	}
	if entry.Direction != DirectionReceived || !entry.OK {
		t.Errorf("system entry = %+v, want received/ok", entry)
	}
}

func TestDialFailureSetsLastError(t *testing.T) {
	c := New(Options{
		Logger: log.New(io.Discard, "", 0),
		Dialer: func(url string) (FrameConn, error) {
			return nil, errors.New("connection refused")
		},
	})
	t.Cleanup(c.Close)

	err := c.Connect("ws://nowhere:1", ModeLive)
	if err == nil {
		t.Fatal("Connect() succeeded against failing dialer")
	}
	if GetErrorCode(err) != ErrCodeTransport {
		t.Errorf("error code = %d, want ErrCodeTransport", GetErrorCode(err))
	}
	if c.IsConnected() {
		t.Error("connected after dial failure")
	}
	if c.LastError() == "" {
		t.Error("LastError empty after dial failure")
	}
}

func TestInboundTagReadAccepted(t *testing.T) {
	sock := newFakeSock()
	c := newTestConn(t, sock)
	if err := c.Connect("ws://gateway:3030", ModeLive); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	sock.inject(`{"event":"scan-rfid-result","data":"EPC1","data_tid":"TID1","ant":"2","rssi":"-72,7.0","rfid_valid":"1"}`)
	waitFor(t, func() bool { return len(c.Reads()) == 1 })

	r := c.Reads()[0]
	if r.EPC != "EPC1" || r.TID != "TID1" || r.Antenna != "2" || r.RSSI != -72 || !r.Valid {
		t.Errorf("read = %+v", r)
	}
	latest := c.LatestRead()
	if latest == nil || latest.TID != "TID1" {
		t.Errorf("LatestRead() = %+v, want TID1", latest)
	}
	if _, found := findLog(c.Logs(), "scan-rfid-result"); !found {
		t.Error("tag read frame not mirrored into the protocol log")
	}
}

func TestInvalidReadForwardedTagged(t *testing.T) {
	sock := newFakeSock()
	c := newTestConn(t, sock)
	if err := c.Connect("ws://gateway:3030", ModeLive); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	sock.inject(`{"event":"scan-rfid-result","data":"E","data_tid":"T","ant":"1","rssi":"-60,1.0","rfid_valid":"0"}`)
	waitFor(t, func() bool { return len(c.Reads()) == 1 })

	if c.Reads()[0].Valid {
		t.Error("rfid_valid=0 read stored as valid")
	}
}

func TestParseErrorIsolation(t *testing.T) {
	sock := newFakeSock()
	c := newTestConn(t, sock)
	if err := c.Connect("ws://gateway:3030", ModeLive); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	before := len(c.Logs())

	sock.inject(`this is not json {{{`)
	waitFor(t, func() bool { return len(c.Logs()) == before+1 })

	entry := c.Logs()[0]
	if entry.Event != "parse-error" || entry.OK {
		t.Errorf("entry = %+v, want parse-error/!ok", entry)
	}
	if entry.Raw != `this is not json {{{` {
		t.Errorf("raw = %q, want original text preserved", entry.Raw)
	}
	if len(c.Reads()) != 0 {
		t.Error("read buffer changed by an unparseable frame")
	}
	if !c.IsConnected() {
		t.Error("parse error tore down the connection")
	}
}

func TestResponseFrameLoggedNotRead(t *testing.T) {
	sock := newFakeSock()
	c := newTestConn(t, sock)
	if err := c.Connect("ws://gateway:3030", ModeLive); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	sock.inject(`{"event":"response-scan-rfid-off","statusCode":1}`)
	waitFor(t, func() bool {
		_, found := findLog(c.Logs(), "response-scan-rfid-off")
		return found
	})

	entry, _ := findLog(c.Logs(), "response-scan-rfid-off")
	if entry.StatusCode == nil || *entry.StatusCode != 1 || !entry.OK {
		t.Errorf("entry = %+v, want statusCode 1 and ok", entry)
	}
	if len(c.Reads()) != 0 {
		t.Error("command response landed in the read buffer")
	}
}

func TestFailureStatusCodeDerivesNotOK(t *testing.T) {
	sock := newFakeSock()
	c := newTestConn(t, sock)
	if err := c.Connect("ws://gateway:3030", ModeLive); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	sock.inject(`{"event":"response-db-storage-insert-rfid-list-bulk","statusCode":0}`)
	waitFor(t, func() bool {
		_, found := findLog(c.Logs(), "response-db-storage-insert-rfid-list-bulk")
		return found
	})

	entry, _ := findLog(c.Logs(), "response-db-storage-insert-rfid-list-bulk")
	if entry.OK {
		t.Errorf("entry = %+v, want ok=false for statusCode 0", entry)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	c := New(Options{Logger: log.New(io.Discard, "", 0)})
	t.Cleanup(c.Close)

	if c.SendMessage(map[string]any{"event": "scan-rfid-on"}) {
		t.Fatal("SendMessage succeeded while disconnected")
	}
	if len(c.Logs()) != 0 {
		t.Error("send while disconnected produced a log entry")
	}
}

func TestSendMessage(t *testing.T) {
	sock := newFakeSock()
	c := newTestConn(t, sock)
	if err := c.Connect("ws://gateway:3030", ModeLive); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	if !c.SendMessage(map[string]any{"event": "scan-rfid-off"}) {
		t.Fatal("SendMessage returned false while connected")
	}

	entry := c.Logs()[0]
	if entry.Direction != DirectionSent || entry.Event != "scan-rfid-off" {
		t.Errorf("entry = %+v, want sent scan-rfid-off", entry)
	}

	var sent map[string]any
	if err := json.Unmarshal(sock.lastWrite(), &sent); err != nil {
		t.Fatalf("transmitted frame not json: %v", err)
	}
	if sent["event"] != "scan-rfid-off" {
		t.Errorf("transmitted event = %v", sent["event"])
	}
}

func TestSendMessageWithoutEventLogsUnknown(t *testing.T) {
	sock := newFakeSock()
	c := newTestConn(t, sock)
	if err := c.Connect("ws://gateway:3030", ModeLive); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	if !c.SendMessage(map[string]any{"value": 42}) {
		t.Fatal("SendMessage returned false while connected")
	}
	if entry := c.Logs()[0]; entry.Event != "unknown" {
		t.Errorf("entry event = %q, want unknown", entry.Event)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	sock := newFakeSock()
	c := newTestConn(t, sock)
	if err := c.Connect("ws://gateway:3030", ModeLive); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	c.Disconnect()
	c.Disconnect()

	if c.IsConnected() {
		t.Error("still connected after Disconnect")
	}
	if !sock.isClosed() {
		t.Error("socket not closed by Disconnect")
	}
	if c.LastError() != "" {
		t.Errorf("clean disconnect set LastError = %q", c.LastError())
	}
	entry, found := findLog(c.Logs(), "system")
	if !found || entry.OK {
		t.Errorf("disconnect system entry = %+v, want ok=false", entry)
	}
}

func TestAbnormalClosure(t *testing.T) {
	sock := newFakeSock()
	c := newTestConn(t, sock)
	if err := c.Connect("ws://gateway:3030", ModeLive); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	// Remote side drops the socket.
	sock.Close()
	waitFor(t, func() bool { return !c.IsConnected() })

	if c.LastError() == "" {
		t.Error("abnormal closure left LastError empty")
	}
	if _, found := findLog(c.Logs(), "error"); !found {
		t.Error("no error log entry after abnormal closure")
	}
	if _, found := findLog(c.Logs(), "system"); !found {
		t.Error("no close log entry after abnormal closure")
	}
}

func TestConnectReplacesExistingSession(t *testing.T) {
	sock1 := newFakeSock()
	sock2 := newFakeSock()
	socks := []*fakeSock{sock1, sock2}
	i := 0
	c := New(Options{
		Logger: log.New(io.Discard, "", 0),
		Dialer: func(url string) (FrameConn, error) {
			s := socks[i]
			i++
			return s, nil
		},
	})
	t.Cleanup(c.Close)

	if err := c.Connect("ws://gateway-a:3030", ModeLive); err != nil {
		t.Fatalf("first Connect() error: %v", err)
	}
	if err := c.Connect("ws://gateway-b:3030", ModeLive); err != nil {
		t.Fatalf("second Connect() error: %v", err)
	}

	if !sock1.isClosed() {
		t.Error("first socket left open after reconnect")
	}
	if !c.IsConnected() {
		t.Error("not connected after reconnect")
	}
	if c.URL() != "ws://gateway-b:3030" {
		t.Errorf("URL = %q", c.URL())
	}

	c.SendMessage(map[string]any{"event": "scan-rfid-on"})
	if sock2.lastWrite() == nil {
		t.Error("send did not reach the replacement socket")
	}
}

func TestLogIDsNotResetAcrossReconnects(t *testing.T) {
	sock1 := newFakeSock()
	sock2 := newFakeSock()
	socks := []*fakeSock{sock1, sock2}
	i := 0
	c := New(Options{
		Logger: log.New(io.Discard, "", 0),
		Dialer: func(url string) (FrameConn, error) {
			s := socks[i]
			i++
			return s, nil
		},
	})
	t.Cleanup(c.Close)

	if err := c.Connect("ws://gateway:3030", ModeLive); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	firstID := c.Logs()[0].ID
	c.Disconnect()
	if err := c.Connect("ws://gateway:3030", ModeLive); err != nil {
		t.Fatalf("reconnect error: %v", err)
	}
	if newest := c.Logs()[0].ID; newest <= firstID {
		t.Errorf("id %d after reconnect not greater than %d", newest, firstID)
	}
}
