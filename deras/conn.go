// Package deras implements the device connection layer for the DERAS
// RFID reader gateway: the WebSocket transport, frame normalization,
// bounded read/log buffers, the offline mock simulator, and the
// command/response correlator.
package deras

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tudihq/deras-agent/protocol"
)

// Mode selects the frame source for a connection session. Live and mock
// are mutually exclusive; the mode is fixed at connect time.
type Mode int

const (
	ModeLive Mode = iota
	ModeMock
)

func (m Mode) String() string {
	if m == ModeMock {
		return "mock"
	}
	return "live"
}

// Correlation and simulation defaults.
const (
	DefaultAwaitTimeout = 5 * time.Second
	// DefaultStaleWindow tolerates responses logged slightly before a
	// wait began due to async scheduling, while rejecting stale
	// responses from earlier, unrelated commands.
	DefaultStaleWindow  = 6 * time.Second
	DefaultMockInterval = 800 * time.Millisecond
)

// FrameConn is the subset of *websocket.Conn the connection uses.
// Tests and embedders substitute scripted implementations through
// Options.Dialer.
type FrameConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a frame connection to a gateway URL.
type Dialer func(url string) (FrameConn, error)

func gorillaDial(url string) (FrameConn, error) {
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// StatusUpdate is a snapshot of the connection state broadcast to
// consumers on every transition.
type StatusUpdate struct {
	Connected bool   `json:"connected"`
	LastError string `json:"lastError,omitempty"`
	Mode      string `json:"mode"`
	URL       string `json:"url"`
}

type waitResult struct {
	entry LogEntry
	err   error
}

type mockRun struct {
	ticker Ticker
	stop   chan struct{}
}

// Options configures a Conn. Zero values select the defaults.
type Options struct {
	LogCapacity  int
	ReadCapacity int
	Clock        Clock
	Dialer       Dialer
	Logger       *log.Logger
	AwaitTimeout time.Duration
	StaleWindow  time.Duration
	MockInterval time.Duration
}

// Conn owns one logical gateway connection: exactly one live socket or
// one mock simulator is active at a time. All mutations of the
// connection state and buffers funnel through Conn's mutex; consumers
// only read derived state and call the send primitives.
type Conn struct {
	logger       *log.Logger
	clock        Clock
	dial         Dialer
	awaitTimeout time.Duration
	staleWindow  time.Duration
	mockInterval time.Duration

	logs  *LogBuffer
	reads *ReadBuffer

	mu        sync.Mutex
	gen       int // connection generation; bumping it orphans old loops
	mode      Mode
	url       string
	connected bool
	lastError string
	sock      FrameConn
	mock      *mockRun
	latest    *Read
	waiters   map[string][]chan waitResult
	wg        sync.WaitGroup

	readCh   chan Read
	statusCh chan StatusUpdate
}

// New creates a disconnected Conn.
func New(opts Options) *Conn {
	c := &Conn{
		logger:       opts.Logger,
		clock:        opts.Clock,
		dial:         opts.Dialer,
		awaitTimeout: opts.AwaitTimeout,
		staleWindow:  opts.StaleWindow,
		mockInterval: opts.MockInterval,
		logs:         NewLogBuffer(opts.LogCapacity),
		reads:        NewReadBuffer(opts.ReadCapacity),
		waiters:      make(map[string][]chan waitResult),
		readCh:       make(chan Read, 16),
		statusCh:     make(chan StatusUpdate, 4),
	}
	if c.logger == nil {
		c.logger = log.New(os.Stderr, "[deras] ", log.LstdFlags)
	}
	if c.clock == nil {
		c.clock = NewRealClock()
	}
	if c.dial == nil {
		c.dial = gorillaDial
	}
	if c.awaitTimeout <= 0 {
		c.awaitTimeout = DefaultAwaitTimeout
	}
	if c.staleWindow <= 0 {
		c.staleWindow = DefaultStaleWindow
	}
	if c.mockInterval <= 0 {
		c.mockInterval = DefaultMockInterval
	}
	return c
}

// Connect establishes a session to url in the given mode. An existing
// session is torn down first so two frame sources never run
// concurrently. A dial failure leaves the connection disconnected with
// LastError set; it is not retried here, retry policy belongs to the
// caller.
func (c *Conn) Connect(url string, mode Mode) error {
	c.mu.Lock()
	c.closeCurrentLocked(true)
	c.mode = mode
	c.url = url

	if mode == ModeMock {
		c.startMockLocked()
		c.mu.Unlock()
		return nil
	}

	c.gen++
	gen := c.gen
	c.mu.Unlock()

	sock, err := c.dial(url)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		// A concurrent Connect or Disconnect superseded this attempt.
		if err == nil {
			sock.Close()
		}
		return NewNotConnectedError("Connect")
	}
	if err != nil {
		c.connected = false
		c.lastError = err.Error()
		c.broadcastStatusLocked()
		c.logger.Printf("dial %s failed: %v", url, err)
		return NewTransportError("Connect", err)
	}

	c.sock = sock
	c.connected = true
	c.lastError = ""
	c.appendReceivedLocked(protocol.EventSystem,
		`{"event":"system","message":"Connected to `+url+`"}`, nil, true)
	c.broadcastStatusLocked()
	c.logger.Printf("connected to %s", url)

	c.wg.Add(1)
	go c.readLoop(sock, gen)
	return nil
}

// Disconnect tears down the active socket or mock ticker and resolves
// any pending SendAndAwait calls with a not-connected error. Calling it
// twice is safe.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCurrentLocked(true)
}

// Close disconnects and waits for background loops to exit.
func (c *Conn) Close() {
	c.Disconnect()
	c.wg.Wait()
}

// closeCurrentLocked invalidates the running session. Callers hold c.mu.
func (c *Conn) closeCurrentLocked(logDisconnect bool) {
	c.gen++
	if c.mock != nil {
		close(c.mock.stop)
		c.mock = nil
	}
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
	if c.connected {
		c.connected = false
		if logDisconnect {
			c.appendReceivedLocked(protocol.EventSystem,
				`{"event":"system","message":"Disconnected"}`, nil, false)
		}
		c.broadcastStatusLocked()
		c.logger.Printf("disconnected")
	}
	c.cancelWaitersLocked()
}

// readLoop pumps frames from the socket until it fails or the session
// generation is superseded.
func (c *Conn) readLoop(sock FrameConn, gen int) {
	defer c.wg.Done()
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			c.handleSocketClosed(gen, err)
			return
		}
		c.handleFrame(gen, data)
	}
}

// handleSocketClosed records an abnormal closure. Clean closures bump
// the generation first, so the stale loop exits silently.
func (c *Conn) handleSocketClosed(gen int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.gen++
	c.sock = nil
	c.connected = false
	c.lastError = "websocket connection error"
	c.appendReceivedLocked(protocol.EventError,
		`{"event":"error","message":"websocket connection error"}`, nil, false)
	c.appendReceivedLocked(protocol.EventSystem,
		`{"event":"system","message":"Disconnected"}`, nil, false)
	c.cancelWaitersLocked()
	c.broadcastStatusLocked()
	c.logger.Printf("read loop terminated: %v", err)
}

// handleFrame parses one inbound frame, logs it, resolves matching
// correlation waits, and forwards tag reads to the read buffer. A
// malformed frame is logged and otherwise ignored; it never tears down
// the connection.
func (c *Conn) handleFrame(gen int, data []byte) {
	now := c.clock.Now().UnixMilli()

	var env protocol.Envelope
	parseErr := json.Unmarshal(data, &env)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}

	if parseErr != nil {
		c.appendReceivedLocked(protocol.EventParseError, string(data), nil, false)
		return
	}

	event := env.Event
	if event == "" {
		event = "unknown"
	}
	ok := env.StatusCode == nil || *env.StatusCode == protocol.StatusOK
	c.appendReceivedLocked(event, string(data), env.StatusCode, ok)

	if event != protocol.EventScanResult {
		return
	}
	r, err := Normalize(data, now)
	if err != nil {
		return
	}
	c.acceptReadLocked(r)
}

// acceptReadLocked stores an accepted read and notifies subscribers.
func (c *Conn) acceptReadLocked(r Read) {
	c.reads.Append(r)
	c.latest = &r
	select {
	case c.readCh <- r:
	default:
		// Subscriber is slow; buffered history still has the read.
	}
}

// appendReceivedLocked appends a received log entry and resolves any
// correlation waiters registered for its event.
func (c *Conn) appendReceivedLocked(event, raw string, statusCode *int, ok bool) {
	entry := c.logs.Append(LogEntry{
		Direction:  DirectionReceived,
		Timestamp:  c.clock.Now().UnixMilli(),
		Event:      event,
		Raw:        raw,
		StatusCode: statusCode,
		OK:         ok,
	})

	if chans, found := c.waiters[event]; found {
		delete(c.waiters, event)
		for _, ch := range chans {
			ch <- waitResult{entry: entry}
		}
	}
}

func (c *Conn) cancelWaitersLocked() {
	for event, chans := range c.waiters {
		for _, ch := range chans {
			ch <- waitResult{err: NewNotConnectedError("SendAndAwait")}
		}
		delete(c.waiters, event)
	}
}

func (c *Conn) broadcastStatusLocked() {
	select {
	case c.statusCh <- c.statusLocked():
	default:
	}
}

func (c *Conn) statusLocked() StatusUpdate {
	return StatusUpdate{
		Connected: c.connected,
		LastError: c.lastError,
		Mode:      c.mode.String(),
		URL:       c.url,
	}
}

// SendMessage serializes payload and transmits it. It returns false
// without logging when no socket is open; there is no send queue, so
// callers must check the connected state or surface the failure.
func (c *Conn) SendMessage(payload map[string]any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sock == nil || !c.connected {
		return false
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		c.logger.Printf("send: payload not serializable: %v", err)
		return false
	}
	if err := c.sock.WriteMessage(websocket.TextMessage, raw); err != nil {
		c.lastError = "websocket connection error"
		c.logger.Printf("send failed: %v", err)
		return false
	}

	event := "unknown"
	if ev, found := payload["event"].(string); found && ev != "" {
		event = ev
	}
	c.logs.Append(LogEntry{
		Direction: DirectionSent,
		Timestamp: c.clock.Now().UnixMilli(),
		Event:     event,
		Raw:       string(raw),
		OK:        true,
	})
	return true
}

// SendAndAwait sends a command and waits for the gateway's matching
// response event.
//
// A response already logged up to the stale window before the call is
// accepted, covering responses that raced ahead of the wait; anything
// older is ignored as belonging to a previous command. Resolution is
// driven by the frame handler, not by polling; the timer exists only
// for the timeout path. Results come back as values: a server failure
// is an ErrCodeServerError carrying the entry, a missed deadline is
// ErrCodeTimeout, and a send while disconnected resolves immediately
// with ErrCodeNotConnected. Disconnecting mid-wait cancels the wait.
func (c *Conn) SendAndAwait(payload map[string]any, responseEvent string, timeout time.Duration) (LogEntry, error) {
	if timeout <= 0 {
		timeout = c.awaitTimeout
	}
	start := c.clock.Now()

	if !c.SendMessage(payload) {
		return LogEntry{}, NewNotConnectedError("SendAndAwait")
	}

	since := start.Add(-c.staleWindow).UnixMilli()

	c.mu.Lock()
	if entry, found := c.logs.FindRecent(responseEvent, DirectionReceived, since); found {
		c.mu.Unlock()
		return evalResponse(entry)
	}
	ch := make(chan waitResult, 1)
	c.waiters[responseEvent] = append(c.waiters[responseEvent], ch)
	c.mu.Unlock()

	timer := c.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return LogEntry{}, res.err
		}
		return evalResponse(res.entry)
	case <-timer.C():
		c.removeWaiter(responseEvent, ch)
		// The waiter may have been resolved between the timer firing
		// and its removal; prefer the delivered result.
		select {
		case res := <-ch:
			if res.err != nil {
				return LogEntry{}, res.err
			}
			return evalResponse(res.entry)
		default:
		}
		return LogEntry{}, NewTimeoutError("SendAndAwait")
	}
}

func evalResponse(entry LogEntry) (LogEntry, error) {
	if entry.StatusCode != nil && *entry.StatusCode == protocol.StatusOK {
		return entry, nil
	}
	return entry, NewServerError("SendAndAwait", entry)
}

func (c *Conn) removeWaiter(event string, target chan waitResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chans := c.waiters[event]
	for i, ch := range chans {
		if ch == target {
			c.waiters[event] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(c.waiters[event]) == 0 {
		delete(c.waiters, event)
	}
}

// IsConnected reports whether a live socket or mock session is active.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// LastError returns the last transport-level failure message. It is
// cleared on a successful (re)connect.
func (c *Conn) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// URL returns the connection target of the current or last session.
func (c *Conn) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// Mode returns the mode of the current or last session.
func (c *Conn) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Status returns a snapshot of the connection state.
func (c *Conn) Status() StatusUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// LatestRead returns the most recently accepted read, or nil.
func (c *Conn) LatestRead() *Read {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return nil
	}
	r := *c.latest
	return &r
}

// Reads returns a newest-first copy of the read buffer.
func (c *Conn) Reads() []Read {
	return c.reads.Reads()
}

// Logs returns a newest-first copy of the protocol log.
func (c *Conn) Logs() []LogEntry {
	return c.logs.Entries()
}

// ReadEvents returns a channel delivering accepted reads as they
// arrive. Slow consumers miss events; the buffer is the history.
func (c *Conn) ReadEvents() <-chan Read {
	return c.readCh
}

// StatusUpdates returns a channel delivering connection state
// transitions.
func (c *Conn) StatusUpdates() <-chan StatusUpdate {
	return c.statusCh
}
