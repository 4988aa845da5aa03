// Package main provides the DERAS bridge agent: it maintains the
// WebSocket connection to a DERAS RFID reader gateway and exposes the
// normalized read stream to warehouse front-ends over HTTP, WebSocket,
// and mDNS discovery.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tudihq/deras-agent/buildinfo"
	"github.com/tudihq/deras-agent/deras"
	"github.com/tudihq/deras-agent/settings"
)

var (
	defaultPort = 18080

	portFlag       int
	dbPathFlag     string
	urlFlag        string
	mockFlag       bool
	connectNowFlag bool
	noMDNSFlag     bool
	versionFlag    bool
)

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return buildinfo.Name + ".db"
	}
	return filepath.Join(dir, buildinfo.DirName, buildinfo.Name+".db")
}

func main() {
	flag.IntVar(&portFlag, "port", defaultPort, "Port to listen on for the consumer API")
	flag.StringVar(&dbPathFlag, "db", defaultDBPath(), "Path to the settings database")
	flag.StringVar(&urlFlag, "url", "", "Gateway URL override (default: saved setting)")
	flag.BoolVar(&mockFlag, "mock", false, "Connect in mock mode")
	flag.BoolVar(&connectNowFlag, "connect", false, "Connect to the gateway on startup")
	flag.BoolVar(&noMDNSFlag, "no-mdns", false, "Disable mDNS service registration")
	flag.BoolVar(&versionFlag, "version", false, "Print version and exit")
	flag.Parse()

	if versionFlag {
		log.SetFlags(0)
		log.Printf("%s %s", buildinfo.Name, buildinfo.FullVersion())
		return
	}

	if dir := filepath.Dir(dbPathFlag); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Printf("Cannot create %s: %v", dir, err)
		}
	}

	store := settings.Open(dbPathFlag, nil)
	agent := NewAgent(store)
	agent.ServerPort = portFlag
	agent.DisableMDNS = noMDNSFlag

	log.Printf("Starting %s %s...", buildinfo.DisplayName, buildinfo.FullVersion())
	if err := agent.Start(); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	if connectNowFlag {
		url := urlFlag
		if url == "" {
			url = store.Load().URL
		}
		mode := deras.ModeLive
		if mockFlag {
			mode = deras.ModeMock
		}
		if err := agent.Conn.Connect(url, mode); err != nil {
			log.Printf("Initial connect failed: %v", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutdown signal received, stopping agent...")
	agent.Stop()
}
