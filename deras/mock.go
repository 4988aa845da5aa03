package deras

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tudihq/deras-agent/protocol"
)

// The mock simulator stands in for the gateway during offline
// development. Each tick fabricates a fresh tag identity; it does not
// model a fixed tag population because its purpose is exercising UI
// flows, not inventory realism. Logging mirrors live mode exactly so
// consumer code paths are identical in both modes.

// startMockLocked transitions to connected and begins emitting
// synthetic reads on the clock's ticker. Callers hold c.mu.
func (c *Conn) startMockLocked() {
	c.gen++
	gen := c.gen
	c.connected = true
	c.lastError = ""
	c.appendReceivedLocked(protocol.EventSystem,
		`{"event":"system","message":"Mock mode enabled"}`, nil, true)
	c.broadcastStatusLocked()
	c.logger.Printf("mock mode enabled, tick interval %v", c.mockInterval)

	ticker := c.clock.NewTicker(c.mockInterval)
	stop := make(chan struct{})
	c.mock = &mockRun{ticker: ticker, stop: stop}

	c.wg.Add(1)
	go c.mockLoop(ticker, stop, gen)
}

func (c *Conn) mockLoop(ticker Ticker, stop chan struct{}, gen int) {
	defer c.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			c.mockTick(gen)
		}
	}
}

func (c *Conn) mockTick(gen int) {
	now := c.clock.Now()
	read, raw := newMockRead(now)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.acceptReadLocked(read)
	c.appendReceivedLocked(protocol.EventScanResult, raw, nil, true)
}

// newMockRead fabricates one synthetic detection at time now. The
// signal model is a slowly oscillating baseline with jitter,
// approximating a tag moving relative to the reader:
//
//	rssi = round(-65 + 15*sin(now/1s) + uniform(-5,+5))
//
// clamped to the storage range like every real read.
func newMockRead(now time.Time) (Read, string) {
	nowMs := now.UnixMilli()
	variation := 15*math.Sin(float64(nowMs)/1000) + (rand.Float64()-0.5)*10
	rssi := ClampRSSI(int(math.Round(-65 + variation)))

	tid := fmt.Sprintf("E280117020000%05d720B5B", rand.Intn(100000))
	epc := mockEPC()

	frame := protocol.TagReadFrame{
		Event:     protocol.EventScanResult,
		Type:      1,
		Data:      epc,
		DataTID:   tid,
		Ant:       "1",
		RSSI:      fmt.Sprintf("%d,7.0", rssi),
		RFIDValid: "1",
	}
	raw, _ := json.Marshal(frame)

	return Read{
		EPC:       epc,
		TID:       tid,
		RSSI:      rssi,
		Antenna:   "1",
		Timestamp: nowMs,
		Valid:     true,
	}, string(raw)
}

// mockEPC derives unique hex EPC material from a fresh UUID.
func mockEPC() string {
	u := uuid.New()
	return "MOCK" + strings.ToUpper(hex.EncodeToString(u[:8]))
}
